package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Angleito/nyxusd-sub000/internal/cdp"
	"github.com/Angleito/nyxusd-sub000/internal/engine"
	"github.com/Angleito/nyxusd-sub000/internal/liquidation"
	"github.com/Angleito/nyxusd-sub000/internal/observability"
	"github.com/Angleito/nyxusd-sub000/internal/persistence"
)

type fakeStore struct {
	positions map[uuid.UUID]persistence.StoredCDP
	updated   []cdp.CDP
	updateErr error
}

func (f *fakeStore) Get(_ context.Context, id uuid.UUID) (persistence.StoredCDP, error) {
	stored, ok := f.positions[id]
	if !ok {
		return persistence.StoredCDP{}, persistence.ErrNotFound
	}
	return stored, nil
}

func (f *fakeStore) GetByOwner(_ context.Context, owner string) ([]persistence.StoredCDP, error) {
	var out []persistence.StoredCDP
	for _, stored := range f.positions {
		if stored.CDP.Owner == owner {
			out = append(out, stored)
		}
	}
	return out, nil
}

func (f *fakeStore) Update(_ context.Context, position cdp.CDP, _ int64) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	f.updated = append(f.updated, position)
	return nil
}

type fakeRecorder struct {
	calls [][]engine.Result
}

func (f *fakeRecorder) Record(_ context.Context, results []engine.Result) {
	f.calls = append(f.calls, results)
}

type fakePrices map[string]cdp.Amount

func (f fakePrices) Price(collateralType string, _ time.Time) (cdp.Amount, bool) {
	price, ok := f[collateralType]
	return price, ok
}

var testNow = time.UnixMilli(1_700_000_000_000).UTC()

func testStoredCDP(t *testing.T) persistence.StoredCDP {
	t.Helper()
	return persistence.StoredCDP{
		CDP: cdp.CDP{
			ID:               uuid.MustParse("11111111-2222-3333-4444-555555555555"),
			Owner:            "alice",
			CollateralType:   "ETH",
			CollateralAmount: cdp.MustAmount("10000000000000000000000"), // 10000e18
			DebtAmount:       cdp.MustAmount("5000000000000000000000"),  // 5000e18
			AccruedFees:      cdp.ZeroAmount(),
			State:            cdp.ActiveState(cdp.InfiniteHealthFactor()),
			Config: cdp.Config{
				MinCollateralRatio:    15000,
				LiquidationRatio:      12500,
				StabilityFeeBps:       500,
				LiquidationPenaltyBps: 1300,
				MinDebt:               cdp.MustAmount("100000000000000000000"),
			},
			CreatedAt: cdp.TimestampFromTime(testNow.Add(-time.Hour)),
			UpdatedAt: cdp.TimestampFromTime(testNow),
		},
		Version: 3,
	}
}

func testServer(store *fakeStore, prices fakePrices) *Server {
	return New(Deps{
		Store:     store,
		Prices:    prices,
		LiqParams: liquidation.DefaultParams(),
		EngineCtx: engine.Context{AutoClose: true},
		Log:       zerolog.Nop(),
		Now:       func() time.Time { return testNow },
	})
}

func doJSON(t *testing.T, h http.Handler, method, path string, body interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var decoded map[string]interface{}
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &decoded); err != nil {
			t.Fatalf("decode response %q: %v", rec.Body.String(), err)
		}
	}
	return rec, decoded
}

func TestGetCDP(t *testing.T) {
	stored := testStoredCDP(t)
	store := &fakeStore{positions: map[uuid.UUID]persistence.StoredCDP{stored.CDP.ID: stored}}
	router := testServer(store, fakePrices{}).Router()

	rec, body := doJSON(t, router, http.MethodGet, "/v1/cdps/"+stored.CDP.ID.String(), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if body["owner"] != "alice" {
		t.Errorf("unexpected owner %v", body["owner"])
	}
	if body["debt_amount"] != "5000000000000000000000" {
		t.Errorf("unexpected debt %v", body["debt_amount"])
	}
	if body["state"] != "Active" {
		t.Errorf("unexpected state %v", body["state"])
	}
	if body["version"] != float64(3) {
		t.Errorf("unexpected version %v", body["version"])
	}
}

func TestGetCDPNotFound(t *testing.T) {
	router := testServer(&fakeStore{positions: map[uuid.UUID]persistence.StoredCDP{}}, fakePrices{}).Router()

	rec, body := doJSON(t, router, http.MethodGet, "/v1/cdps/"+uuid.NewString(), nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
	if body["code"] != "not_found" {
		t.Errorf("unexpected error code %v", body["code"])
	}
}

func TestGetCDPMalformedID(t *testing.T) {
	router := testServer(&fakeStore{}, fakePrices{}).Router()
	rec, _ := doJSON(t, router, http.MethodGet, "/v1/cdps/not-a-uuid", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestBurnPartialRepayment(t *testing.T) {
	stored := testStoredCDP(t)
	store := &fakeStore{positions: map[uuid.UUID]persistence.StoredCDP{stored.CDP.ID: stored}}
	prices := fakePrices{"ETH": cdp.MustAmount("2000000000000000000")} // 2e18
	router := testServer(store, prices).Router()

	rec, body := doJSON(t, router, http.MethodPost, "/v1/cdps/"+stored.CDP.ID.String()+"/burn",
		burnRequest{Caller: "alice", Amount: "1000000000000000000000"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	// No time elapsed, no fees to settle: the whole burn is principal.
	if body["fees_paid"] != "0" {
		t.Errorf("unexpected fees paid %v", body["fees_paid"])
	}
	if body["principal_paid"] != "1000000000000000000000" {
		t.Errorf("unexpected principal %v", body["principal_paid"])
	}
	if body["remaining_debt"] != "4000000000000000000000" {
		t.Errorf("unexpected remaining debt %v", body["remaining_debt"])
	}
	if body["closed"] != false {
		t.Errorf("partial burn must not close the position")
	}

	if len(store.updated) != 1 {
		t.Fatalf("expected 1 store update, got %d", len(store.updated))
	}
	if store.updated[0].DebtAmount.String() != "4000000000000000000000" {
		t.Errorf("persisted debt mismatch: %s", store.updated[0].DebtAmount)
	}
}

func TestBurnFullRepaymentCloses(t *testing.T) {
	stored := testStoredCDP(t)
	store := &fakeStore{positions: map[uuid.UUID]persistence.StoredCDP{stored.CDP.ID: stored}}
	prices := fakePrices{"ETH": cdp.MustAmount("2000000000000000000")}
	router := testServer(store, prices).Router()

	rec, body := doJSON(t, router, http.MethodPost, "/v1/cdps/"+stored.CDP.ID.String()+"/burn",
		burnRequest{Caller: "alice", Amount: "5000000000000000000000"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if body["closed"] != true {
		t.Errorf("full repayment must close the position")
	}
	if store.updated[0].State.Kind != cdp.StateClosed {
		t.Errorf("persisted state %s, expected Closed", store.updated[0].State.Kind)
	}
}

func TestBurnBatchEndpoint(t *testing.T) {
	stored := testStoredCDP(t)
	store := &fakeStore{positions: map[uuid.UUID]persistence.StoredCDP{stored.CDP.ID: stored}}
	prices := fakePrices{"ETH": cdp.MustAmount("2000000000000000000")}
	router := testServer(store, prices).Router()

	rec, body := doJSON(t, router, http.MethodPost, "/v1/cdps/"+stored.CDP.ID.String()+"/burn",
		burnRequest{Caller: "alice", Amounts: []string{
			"1000000000000000000000",
			"2000000000000000000000",
		}})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if body["principal_paid"] != "3000000000000000000000" {
		t.Errorf("batch principal mismatch: %v", body["principal_paid"])
	}
	if body["remaining_debt"] != "2000000000000000000000" {
		t.Errorf("batch remaining debt mismatch: %v", body["remaining_debt"])
	}
	// One atomic persistence write for the whole batch.
	if len(store.updated) != 1 {
		t.Errorf("expected 1 store update, got %d", len(store.updated))
	}
}

func TestBurnBatchRecordsEveryResultOnce(t *testing.T) {
	stored := testStoredCDP(t)
	store := &fakeStore{positions: map[uuid.UUID]persistence.StoredCDP{stored.CDP.ID: stored}}
	prices := fakePrices{"ETH": cdp.MustAmount("2000000000000000000")}
	recorder := &fakeRecorder{}
	srv := New(Deps{
		Store:     store,
		Prices:    prices,
		Recorder:  recorder,
		LiqParams: liquidation.DefaultParams(),
		EngineCtx: engine.Context{AutoClose: true},
		Log:       zerolog.Nop(),
		Now:       func() time.Time { return testNow },
	})
	router := srv.Router()

	rec, _ := doJSON(t, router, http.MethodPost, "/v1/cdps/"+stored.CDP.ID.String()+"/burn",
		burnRequest{Caller: "alice", Amounts: []string{
			"1000000000000000000000",
			"2000000000000000000000",
		}})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	// The recorder sees the whole batch in one call so downstream audit
	// rows can be numbered by batch position.
	if len(recorder.calls) != 1 {
		t.Fatalf("expected 1 recorder call, got %d", len(recorder.calls))
	}
	if len(recorder.calls[0]) != 2 {
		t.Fatalf("expected 2 results in the batch, got %d", len(recorder.calls[0]))
	}
	rows := persistence.RowsFromResults(recorder.calls[0])
	if rows[0].BurnIndex == rows[1].BurnIndex {
		t.Errorf("batch rows share burn index %d", rows[0].BurnIndex)
	}
}

func TestBurnRejectionsMapToStatusCodes(t *testing.T) {
	stored := testStoredCDP(t)
	prices := fakePrices{"ETH": cdp.MustAmount("2000000000000000000")}

	tests := []struct {
		name       string
		req        burnRequest
		wantStatus int
		wantCode   string
	}{
		{"unauthorized caller", burnRequest{Caller: "mallory", Amount: "1"}, http.StatusForbidden, "unauthorized"},
		{"exceeds debt", burnRequest{Caller: "alice", Amount: "9000000000000000000000"}, http.StatusUnprocessableEntity, "burn_exceeds_debt"},
		{"zero amount", burnRequest{Caller: "alice", Amount: "0"}, http.StatusUnprocessableEntity, "invalid_amount"},
		{"garbage amount", burnRequest{Caller: "alice", Amount: "pizza"}, http.StatusUnprocessableEntity, "invalid_amount"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &fakeStore{positions: map[uuid.UUID]persistence.StoredCDP{stored.CDP.ID: stored}}
			router := testServer(store, prices).Router()

			rec, body := doJSON(t, router, http.MethodPost, "/v1/cdps/"+stored.CDP.ID.String()+"/burn", tt.req)
			if rec.Code != tt.wantStatus {
				t.Errorf("expected %d, got %d: %s", tt.wantStatus, rec.Code, rec.Body.String())
			}
			if body["code"] != tt.wantCode {
				t.Errorf("expected code %q, got %v", tt.wantCode, body["code"])
			}
			if len(store.updated) != 0 {
				t.Errorf("rejected burn must not write to the store")
			}
		})
	}
}

func TestBurnVersionConflict(t *testing.T) {
	stored := testStoredCDP(t)
	store := &fakeStore{
		positions: map[uuid.UUID]persistence.StoredCDP{stored.CDP.ID: stored},
		updateErr: persistence.ErrVersionConflict,
	}
	prices := fakePrices{"ETH": cdp.MustAmount("2000000000000000000")}
	router := testServer(store, prices).Router()

	rec, body := doJSON(t, router, http.MethodPost, "/v1/cdps/"+stored.CDP.ID.String()+"/burn",
		burnRequest{Caller: "alice", Amount: "1000000000000000000000"})
	if rec.Code != http.StatusConflict {
		t.Errorf("expected 409, got %d", rec.Code)
	}
	if body["code"] != "version_conflict" {
		t.Errorf("unexpected code %v", body["code"])
	}
}

func TestBurnWithoutFreshPrice(t *testing.T) {
	stored := testStoredCDP(t)
	store := &fakeStore{positions: map[uuid.UUID]persistence.StoredCDP{stored.CDP.ID: stored}}
	router := testServer(store, fakePrices{}).Router()

	rec, _ := doJSON(t, router, http.MethodPost, "/v1/cdps/"+stored.CDP.ID.String()+"/burn",
		burnRequest{Caller: "alice", Amount: "1000000000000000000000"})
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 without a price, got %d", rec.Code)
	}
}

func TestClosureQuote(t *testing.T) {
	stored := testStoredCDP(t)
	store := &fakeStore{positions: map[uuid.UUID]persistence.StoredCDP{stored.CDP.ID: stored}}
	prices := fakePrices{"ETH": cdp.MustAmount("2000000000000000000")}
	router := testServer(store, prices).Router()

	rec, body := doJSON(t, router, http.MethodGet, "/v1/cdps/"+stored.CDP.ID.String()+"/closure-quote", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	// No elapsed time: the quote is exactly the outstanding principal.
	if body["burn_amount"] != "5000000000000000000000" {
		t.Errorf("unexpected quote %v", body["burn_amount"])
	}
}

func TestEstimateMinBurn(t *testing.T) {
	stored := testStoredCDP(t)
	store := &fakeStore{positions: map[uuid.UUID]persistence.StoredCDP{stored.CDP.ID: stored}}
	prices := fakePrices{"ETH": cdp.MustAmount("2000000000000000000")}
	router := testServer(store, prices).Router()

	// hf = 20000*10000 / (12500*5000) = 3.2, already above any sane target.
	rec, body := doJSON(t, router, http.MethodPost, "/v1/cdps/"+stored.CDP.ID.String()+"/burn/estimate",
		estimateRequest{TargetHealthWad: "1100000000000000000"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if body["min_burn"] != "0" {
		t.Errorf("healthy position needs no burn, got %v", body["min_burn"])
	}

	rec, _ = doJSON(t, router, http.MethodPost, "/v1/cdps/"+stored.CDP.ID.String()+"/burn/estimate",
		estimateRequest{TargetHealthWad: "not-a-number"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for malformed target, got %d", rec.Code)
	}
}

func TestGetHealth(t *testing.T) {
	stored := testStoredCDP(t)
	store := &fakeStore{positions: map[uuid.UUID]persistence.StoredCDP{stored.CDP.ID: stored}}
	prices := fakePrices{"ETH": cdp.MustAmount("2000000000000000000")}
	router := testServer(store, prices).Router()

	rec, body := doJSON(t, router, http.MethodGet, "/v1/cdps/"+stored.CDP.ID.String()+"/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if body["health_factor"] != "3.200000000000000000" {
		t.Errorf("unexpected health factor %v", body["health_factor"])
	}
	// value 20000, debt 5000: 400% collateralization.
	if body["collateralization_bps"] != float64(40000) {
		t.Errorf("unexpected ratio %v", body["collateralization_bps"])
	}
}

func liquidatableStoredCDP(t *testing.T) persistence.StoredCDP {
	t.Helper()
	stored := testStoredCDP(t)
	// value 120000 against debt 100000 at a 125% liquidation ratio.
	stored.CDP.CollateralAmount = cdp.MustAmount("120000000000000000000000")
	stored.CDP.DebtAmount = cdp.MustAmount("100000000000000000000000")
	return stored
}

func TestValidateLiquidation(t *testing.T) {
	stored := liquidatableStoredCDP(t)
	store := &fakeStore{positions: map[uuid.UUID]persistence.StoredCDP{stored.CDP.ID: stored}}
	prices := fakePrices{"ETH": cdp.MustAmount("1000000000000000000")} // 1e18
	router := testServer(store, prices).Router()

	rec, body := doJSON(t, router, http.MethodPost, "/v1/cdps/"+stored.CDP.ID.String()+"/liquidation/validate",
		validateLiquidationRequest{
			Liquidator:        "0x1234567890abcdef1234567890abcdef12345678",
			LiquidatorBalance: "10000000000000000000000",
			RepayAmount:       "10000000000000000000000",
		})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if body["valid"] != true {
		t.Errorf("expected valid liquidation")
	}
	// 10000 repaid with a 13% bonus at price 1: 11300 collateral seized.
	if body["seizable_collateral"] != "11300000000000000000000" {
		t.Errorf("unexpected seizable collateral %v", body["seizable_collateral"])
	}
}

func TestValidateLiquidationHealthyPosition(t *testing.T) {
	stored := testStoredCDP(t)
	store := &fakeStore{positions: map[uuid.UUID]persistence.StoredCDP{stored.CDP.ID: stored}}
	prices := fakePrices{"ETH": cdp.MustAmount("2000000000000000000")}
	router := testServer(store, prices).Router()

	rec, body := doJSON(t, router, http.MethodPost, "/v1/cdps/"+stored.CDP.ID.String()+"/liquidation/validate",
		validateLiquidationRequest{
			Liquidator:  "0x1234567890abcdef1234567890abcdef12345678",
			RepayAmount: "1000000000000000000000",
		})
	if rec.Code != http.StatusConflict {
		t.Errorf("expected 409 for a healthy position, got %d", rec.Code)
	}
	if body["code"] != "position_not_liquidatable" {
		t.Errorf("unexpected code %v", body["code"])
	}
}

func TestValidateLiquidationSelfLiquidation(t *testing.T) {
	stored := liquidatableStoredCDP(t)
	stored.CDP.Owner = "0x1234567890abcdef1234567890abcdef12345678"
	store := &fakeStore{positions: map[uuid.UUID]persistence.StoredCDP{stored.CDP.ID: stored}}
	prices := fakePrices{"ETH": cdp.MustAmount("1000000000000000000")}
	router := testServer(store, prices).Router()

	rec, body := doJSON(t, router, http.MethodPost, "/v1/cdps/"+stored.CDP.ID.String()+"/liquidation/validate",
		validateLiquidationRequest{
			Liquidator:  "0x1234567890abcdef1234567890abcdef12345678",
			RepayAmount: "10000000000000000000000",
		})
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403 for self-liquidation, got %d", rec.Code)
	}
	if body["code"] != "invalid_liquidator" {
		t.Errorf("unexpected code %v", body["code"])
	}
}

func TestHealthEndpoints(t *testing.T) {
	checker := observability.NewHealthChecker()
	srv := New(Deps{
		Store:  &fakeStore{},
		Prices: fakePrices{},
		Health: checker,
		Log:    zerolog.Nop(),
	})
	router := srv.Router()

	rec, _ := doJSON(t, router, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("liveness: expected 200, got %d", rec.Code)
	}

	rec, _ = doJSON(t, router, http.MethodGet, "/readyz", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("readiness before SetReady: expected 503, got %d", rec.Code)
	}

	checker.SetReady(true)
	rec, _ = doJSON(t, router, http.MethodGet, "/readyz", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("readiness after SetReady: expected 200, got %d", rec.Code)
	}
}
