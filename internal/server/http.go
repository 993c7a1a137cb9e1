// Package server exposes the CDP engine over HTTP: position reads, burn
// execution, closure quotes, liquidation validation and yield scans.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Angleito/nyxusd-sub000/internal/cdp"
	"github.com/Angleito/nyxusd-sub000/internal/engine"
	"github.com/Angleito/nyxusd-sub000/internal/liquidation"
	"github.com/Angleito/nyxusd-sub000/internal/observability"
	"github.com/Angleito/nyxusd-sub000/internal/persistence"
	"github.com/Angleito/nyxusd-sub000/internal/risk"
	"github.com/Angleito/nyxusd-sub000/internal/yield"
)

// PositionStore is the slice of the persistence layer the API needs.
type PositionStore interface {
	Get(ctx context.Context, id uuid.UUID) (persistence.StoredCDP, error)
	GetByOwner(ctx context.Context, owner string) ([]persistence.StoredCDP, error)
	Update(ctx context.Context, position cdp.CDP, expectedVersion int64) error
}

// PriceSource serves the latest fresh collateral price.
type PriceSource interface {
	Price(collateralType string, now time.Time) (cdp.Amount, bool)
}

// YieldScanner produces ranked yield opportunities.
type YieldScanner interface {
	TopYields(ctx context.Context) (yield.Result, error)
}

// BurnRecorder persists and publishes executed burns. A whole batch is
// recorded in one call so each result keeps its position in the batch.
type BurnRecorder interface {
	Record(ctx context.Context, results []engine.Result)
}

// Deps wires the API to the rest of the engine.
type Deps struct {
	Store    PositionStore
	Prices   PriceSource
	Yields   YieldScanner
	Recorder BurnRecorder

	EngineCtx  engine.Context // template: price and timestamps filled per request
	LiqParams  liquidation.Params
	Metrics    *observability.Metrics
	Health     *observability.HealthChecker
	Log        zerolog.Logger
	Now        func() time.Time
}

// Server is the HTTP API.
type Server struct {
	deps Deps
}

func New(deps Deps) *Server {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Server{deps: deps}
}

// Router builds the chi route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	if s.deps.Health != nil {
		r.Get("/healthz", s.deps.Health.LivenessHandler)
		r.Get("/readyz", s.deps.Health.ReadinessHandler)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Get("/cdps/{id}", s.handleGetCDP)
		r.Get("/owners/{owner}/cdps", s.handleGetOwnerCDPs)
		r.Get("/cdps/{id}/health", s.handleGetHealth)
		r.Get("/cdps/{id}/closure-quote", s.handleClosureQuote)
		r.Post("/cdps/{id}/burn", s.handleBurn)
		r.Post("/cdps/{id}/burn/estimate", s.handleEstimateMinBurn)
		r.Post("/cdps/{id}/liquidation/validate", s.handleValidateLiquidation)
		r.Get("/yields/top", s.handleTopYields)
	})

	return r
}

type cdpResponse struct {
	ID               string `json:"id"`
	Owner            string `json:"owner"`
	CollateralType   string `json:"collateral_type"`
	CollateralAmount string `json:"collateral_amount"`
	DebtAmount       string `json:"debt_amount"`
	AccruedFees      string `json:"accrued_fees"`
	State            string `json:"state"`
	HealthFactor     string `json:"health_factor,omitempty"`
	LiquidationPrice string `json:"liquidation_price,omitempty"`
	CreatedAtMs      int64  `json:"created_at_ms"`
	UpdatedAtMs      int64  `json:"updated_at_ms"`
	Version          int64  `json:"version"`
}

func toCDPResponse(stored persistence.StoredCDP) cdpResponse {
	c := stored.CDP
	resp := cdpResponse{
		ID:               c.ID.String(),
		Owner:            c.Owner,
		CollateralType:   c.CollateralType,
		CollateralAmount: c.CollateralAmount.String(),
		DebtAmount:       c.DebtAmount.String(),
		AccruedFees:      c.AccruedFees.String(),
		State:            c.State.Kind.String(),
		CreatedAtMs:      int64(c.CreatedAt),
		UpdatedAtMs:      int64(c.UpdatedAt),
		Version:          stored.Version,
	}
	switch c.State.Kind {
	case cdp.StateActive:
		resp.HealthFactor = c.State.HealthFactor.String()
	case cdp.StateLiquidating:
		resp.LiquidationPrice = c.State.LiquidationPrice.String()
	}
	return resp
}

func (s *Server) handleGetCDP(w http.ResponseWriter, r *http.Request) {
	stored, ok := s.loadCDP(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, r, http.StatusOK, toCDPResponse(stored))
}

func (s *Server) handleGetOwnerCDPs(w http.ResponseWriter, r *http.Request) {
	owner := chi.URLParam(r, "owner")
	list, err := s.deps.Store.GetByOwner(r.Context(), owner)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]cdpResponse, 0, len(list))
	for _, stored := range list {
		out = append(out, toCDPResponse(stored))
	}
	s.writeJSON(w, r, http.StatusOK, map[string]interface{}{"cdps": out})
}

func (s *Server) handleGetHealth(w http.ResponseWriter, r *http.Request) {
	stored, ok := s.loadCDP(w, r)
	if !ok {
		return
	}
	price, ok := s.currentPrice(w, r, stored.CDP.CollateralType)
	if !ok {
		return
	}

	totalDebt, err := stored.CDP.TotalDebt()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	hf, err := risk.HealthFactor(stored.CDP.CollateralAmount, price, totalDebt, stored.CDP.Config.LiquidationRatio)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	resp := map[string]interface{}{
		"cdp_id":        stored.CDP.ID.String(),
		"price":         price.String(),
		"total_debt":    totalDebt.String(),
		"health_factor": hf.String(),
	}
	if !totalDebt.IsZero() {
		ratio, err := risk.CollateralizationRatio(stored.CDP.CollateralAmount, price, totalDebt)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		resp["collateralization_bps"] = int64(ratio)
	}
	s.writeJSON(w, r, http.StatusOK, resp)
}

func (s *Server) handleClosureQuote(w http.ResponseWriter, r *http.Request) {
	stored, ok := s.loadCDP(w, r)
	if !ok {
		return
	}
	ectx, ok := s.engineContext(w, r, stored.CDP)
	if !ok {
		return
	}

	total, err := engine.FullClosureAmount(stored.CDP, ectx)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, map[string]string{
		"cdp_id":      stored.CDP.ID.String(),
		"burn_amount": total.String(),
	})
}

type burnRequest struct {
	Caller string `json:"caller"`
	Amount string `json:"amount"`

	// Amounts, when set, executes an atomic batch instead of Amount.
	Amounts []string `json:"amounts,omitempty"`
}

type burnResponse struct {
	FeesPaid       string      `json:"fees_paid"`
	PrincipalPaid  string      `json:"principal_paid"`
	RemainingDebt  string      `json:"remaining_debt"`
	PreviousHealth string      `json:"previous_health"`
	NewHealth      string      `json:"new_health"`
	Closed         bool        `json:"closed"`
	CDP            cdpResponse `json:"cdp"`
}

func (s *Server) handleBurn(w http.ResponseWriter, r *http.Request) {
	stored, ok := s.loadCDP(w, r)
	if !ok {
		return
	}

	var req burnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeStatus(w, r, http.StatusBadRequest, "malformed request body")
		return
	}

	ectx, ok := s.engineContext(w, r, stored.CDP)
	if !ok {
		return
	}

	var results []engine.Result
	if len(req.Amounts) > 0 {
		amounts := make([]cdp.Amount, 0, len(req.Amounts))
		for _, a := range req.Amounts {
			amount, err := cdp.NewAmountFromString(a)
			if err != nil {
				s.writeError(w, r, err)
				return
			}
			amounts = append(amounts, amount)
		}
		batch, err := engine.BurnBatch(stored.CDP, req.Caller, amounts, ectx)
		if err != nil {
			s.countBurnRejected(stored.CDP.CollateralType, err)
			s.writeError(w, r, err)
			return
		}
		results = batch
	} else {
		amount, err := cdp.NewAmountFromString(req.Amount)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		res, err := engine.Burn(stored.CDP, req.Caller, amount, ectx)
		if err != nil {
			s.countBurnRejected(stored.CDP.CollateralType, err)
			s.writeError(w, r, err)
			return
		}
		results = []engine.Result{res}
	}

	final := results[len(results)-1]
	if err := s.deps.Store.Update(r.Context(), final.CDP, stored.Version); err != nil {
		s.writeError(w, r, err)
		return
	}
	if s.deps.Recorder != nil {
		s.deps.Recorder.Record(r.Context(), results)
	}
	if s.deps.Metrics != nil {
		s.deps.Metrics.BurnsExecuted.WithLabelValues(final.CDP.CollateralType).Add(float64(len(results)))
		if final.Closed {
			s.deps.Metrics.PositionsClosed.WithLabelValues(final.CDP.CollateralType).Inc()
		}
	}

	s.writeJSON(w, r, http.StatusOK, burnResponse{
		FeesPaid:       sumFees(results),
		PrincipalPaid:  sumPrincipal(results),
		RemainingDebt:  final.RemainingDebt.String(),
		PreviousHealth: results[0].PreviousHealth.String(),
		NewHealth:      final.NewHealth.String(),
		Closed:         final.Closed,
		CDP:            toCDPResponse(persistence.StoredCDP{CDP: final.CDP, Version: stored.Version + 1}),
	})
}

type estimateRequest struct {
	TargetHealthWad string `json:"target_health_wad"`
}

func (s *Server) handleEstimateMinBurn(w http.ResponseWriter, r *http.Request) {
	stored, ok := s.loadCDP(w, r)
	if !ok {
		return
	}

	var req estimateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeStatus(w, r, http.StatusBadRequest, "malformed request body")
		return
	}
	target, parsed := new(big.Int).SetString(req.TargetHealthWad, 10)
	if !parsed {
		s.writeStatus(w, r, http.StatusBadRequest, "target_health_wad must be a base-10 integer")
		return
	}

	ectx, ok := s.engineContext(w, r, stored.CDP)
	if !ok {
		return
	}
	minBurn, err := engine.EstimateMinBurn(stored.CDP, ectx, target)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, map[string]string{
		"cdp_id":   stored.CDP.ID.String(),
		"min_burn": minBurn.String(),
	})
}

type validateLiquidationRequest struct {
	Liquidator        string `json:"liquidator"`
	LiquidatorBalance string `json:"liquidator_balance"`
	RepayAmount       string `json:"repay_amount"`
	LastLiquidationMs int64  `json:"last_liquidation_ms"`
}

func (s *Server) handleValidateLiquidation(w http.ResponseWriter, r *http.Request) {
	stored, ok := s.loadCDP(w, r)
	if !ok {
		return
	}

	var req validateLiquidationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeStatus(w, r, http.StatusBadRequest, "malformed request body")
		return
	}
	repay, err := cdp.NewAmountFromString(req.RepayAmount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	balance := cdp.ZeroAmount()
	if req.LiquidatorBalance != "" {
		balance, err = cdp.NewAmountFromString(req.LiquidatorBalance)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	price, ok := s.currentPrice(w, r, stored.CDP.CollateralType)
	if !ok {
		return
	}

	err = s.deps.LiqParams.Validate(liquidation.Request{
		Position:          stored.CDP,
		Price:             price,
		RepayAmount:       repay,
		Liquidator:        req.Liquidator,
		LiquidatorBalance: balance,
		LastLiquidationAt: cdp.Timestamp(req.LastLiquidationMs),
		Now:               cdp.TimestampFromTime(s.deps.Now()),
	})
	if err != nil {
		if s.deps.Metrics != nil {
			s.deps.Metrics.LiquidationsRejected.WithLabelValues(stored.CDP.CollateralType, errorCode(err)).Inc()
		}
		s.writeError(w, r, err)
		return
	}

	seizable, err := liquidation.SeizableCollateral(repay, price, stored.CDP.Config.LiquidationPenaltyBps)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if s.deps.Metrics != nil {
		s.deps.Metrics.LiquidationsValidated.WithLabelValues(stored.CDP.CollateralType).Inc()
	}
	s.writeJSON(w, r, http.StatusOK, map[string]interface{}{
		"valid":               true,
		"seizable_collateral": seizable.String(),
		"price":               price.String(),
	})
}

func (s *Server) handleTopYields(w http.ResponseWriter, r *http.Request) {
	if s.deps.Yields == nil {
		s.writeStatus(w, r, http.StatusNotImplemented, "yield scanner disabled")
		return
	}
	res, err := s.deps.Yields.TopYields(r.Context())
	if err != nil {
		s.writeStatus(w, r, http.StatusBadGateway, err.Error())
		return
	}
	s.writeJSON(w, r, http.StatusOK, res)
}

// --- helpers ---

func (s *Server) loadCDP(w http.ResponseWriter, r *http.Request) (persistence.StoredCDP, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.writeStatus(w, r, http.StatusBadRequest, "malformed cdp id")
		return persistence.StoredCDP{}, false
	}
	stored, err := s.deps.Store.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return persistence.StoredCDP{}, false
	}
	return stored, true
}

func (s *Server) currentPrice(w http.ResponseWriter, r *http.Request, collateralType string) (cdp.Amount, bool) {
	price, ok := s.deps.Prices.Price(collateralType, s.deps.Now())
	if !ok {
		s.writeStatus(w, r, http.StatusServiceUnavailable, "no fresh price for "+collateralType)
		return cdp.Amount{}, false
	}
	return price, true
}

// engineContext fills the per-request fields of the engine context template:
// the current price and the elapsed time since the position last accrued.
func (s *Server) engineContext(w http.ResponseWriter, r *http.Request, position cdp.CDP) (engine.Context, bool) {
	price, ok := s.currentPrice(w, r, position.CollateralType)
	if !ok {
		return engine.Context{}, false
	}

	now := s.deps.Now()
	elapsed := now.Unix() - position.UpdatedAt.Time().Unix()
	if elapsed < 0 {
		elapsed = 0
	}

	ectx := s.deps.EngineCtx
	ectx.Price = price
	ectx.FeeRateBps = position.Config.StabilityFeeBps
	ectx.ElapsedSeconds = elapsed
	ectx.Now = cdp.TimestampFromTime(now)
	return ectx, true
}

func (s *Server) countBurnRejected(collateralType string, err error) {
	if s.deps.Metrics != nil {
		s.deps.Metrics.BurnsRejected.WithLabelValues(collateralType, errorCode(err)).Inc()
	}
}

func sumFees(results []engine.Result) string {
	total := cdp.ZeroAmount()
	for _, res := range results {
		total, _ = total.Add(res.FeesPaid)
	}
	return total.String()
}

func sumPrincipal(results []engine.Result) string {
	total := cdp.ZeroAmount()
	for _, res := range results {
		total, _ = total.Add(res.PrincipalPaid)
	}
	return total.String()
}

func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
	if s.deps.Metrics != nil {
		s.deps.Metrics.APIRequests.WithLabelValues(r.URL.Path, http.StatusText(status)).Inc()
	}
}

func (s *Server) writeStatus(w http.ResponseWriter, r *http.Request, status int, msg string) {
	s.writeJSON(w, r, status, map[string]string{"error": msg})
}

// writeError maps engine errors to HTTP statuses. The typed payload travels
// as the code field so clients can switch without parsing messages.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, persistence.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, persistence.ErrVersionConflict):
		status = http.StatusConflict
	default:
		status = statusForEngineError(err)
	}
	s.writeJSON(w, r, status, map[string]string{
		"error": err.Error(),
		"code":  errorCode(err),
	})
	if status >= 500 {
		s.deps.Log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
}

func statusForEngineError(err error) int {
	var (
		unauth     *cdp.UnauthorizedError
		invalidLiq *cdp.InvalidLiquidatorError
		shutdown   *cdp.EmergencyShutdownError
		conflict   *cdp.InvalidStateTransitionError
		overflow   *cdp.OverflowError
		divZero    *cdp.DivisionByZeroError
	)
	switch {
	case errors.As(err, &unauth), errors.As(err, &invalidLiq):
		return http.StatusForbidden
	case errors.As(err, &shutdown):
		return http.StatusServiceUnavailable
	case errors.As(err, &conflict):
		return http.StatusConflict
	case errors.As(err, &overflow), errors.As(err, &divZero):
		return http.StatusInternalServerError
	}

	var (
		liquidated *cdp.AlreadyLiquidatedError
		closed     *cdp.AlreadyClosedError
		notLiq     *cdp.PositionNotLiquidatableError
		cooldown   *cdp.LiquidationCooldownError
	)
	if errors.As(err, &liquidated) || errors.As(err, &closed) ||
		errors.As(err, &notLiq) || errors.As(err, &cooldown) {
		return http.StatusConflict
	}

	// Remaining engine errors are caller mistakes.
	return http.StatusUnprocessableEntity
}

// errorCode returns a stable machine-readable code per error type.
func errorCode(err error) string {
	switch {
	case errors.Is(err, persistence.ErrNotFound):
		return "not_found"
	case errors.Is(err, persistence.ErrVersionConflict):
		return "version_conflict"
	}

	var (
		invalidAmount *cdp.InvalidAmountError
		negAmount     *cdp.NegativeAmountError
		negTime       *cdp.NegativeTimeError
		invalidRate   *cdp.InvalidRateError
		invalidRatio  *cdp.InvalidRatioError
		unauth        *cdp.UnauthorizedError
		liquidated    *cdp.AlreadyLiquidatedError
		closed        *cdp.AlreadyClosedError
		transition    *cdp.InvalidStateTransitionError
		exceedsDebt   *cdp.BurnExceedsDebtError
		exceedsMax    *cdp.ExceedsMaxLiquidationError
		tooSmall      *cdp.LiquidationTooSmallError
		notLiq        *cdp.PositionNotLiquidatableError
		invalidLiq    *cdp.InvalidLiquidatorError
		poorLiq       *cdp.LiquidatorInsufficientBalanceError
		cooldown      *cdp.LiquidationCooldownError
		unhealthy     *cdp.PositionUnhealthyError
		zeroDebt      *cdp.ZeroDebtPositionError
		overflow      *cdp.OverflowError
		divZero       *cdp.DivisionByZeroError
		shutdown      *cdp.EmergencyShutdownError
	)
	switch {
	case errors.As(err, &invalidAmount):
		return "invalid_amount"
	case errors.As(err, &negAmount):
		return "negative_amount"
	case errors.As(err, &negTime):
		return "negative_time"
	case errors.As(err, &invalidRate):
		return "invalid_rate"
	case errors.As(err, &invalidRatio):
		return "invalid_ratio"
	case errors.As(err, &unauth):
		return "unauthorized"
	case errors.As(err, &liquidated):
		return "already_liquidated"
	case errors.As(err, &closed):
		return "already_closed"
	case errors.As(err, &transition):
		return "invalid_state_transition"
	case errors.As(err, &exceedsDebt):
		return "burn_exceeds_debt"
	case errors.As(err, &exceedsMax):
		return "exceeds_max_liquidation"
	case errors.As(err, &tooSmall):
		return "liquidation_too_small"
	case errors.As(err, &notLiq):
		return "position_not_liquidatable"
	case errors.As(err, &invalidLiq):
		return "invalid_liquidator"
	case errors.As(err, &poorLiq):
		return "liquidator_insufficient_balance"
	case errors.As(err, &cooldown):
		return "liquidation_cooldown"
	case errors.As(err, &unhealthy):
		return "position_unhealthy"
	case errors.As(err, &zeroDebt):
		return "zero_debt_position"
	case errors.As(err, &overflow):
		return "overflow"
	case errors.As(err, &divZero):
		return "division_by_zero"
	case errors.As(err, &shutdown):
		return "emergency_shutdown"
	}
	return "internal"
}
