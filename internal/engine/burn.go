// Package engine orchestrates debt repayment. A burn accrues outstanding
// fees, allocates the payment fees-first, recomputes position health and
// drives the lifecycle state machine, producing an immutable result.
package engine

import (
	"math/big"

	"github.com/Angleito/nyxusd-sub000/internal/cdp"
	"github.com/Angleito/nyxusd-sub000/internal/fees"
	"github.com/Angleito/nyxusd-sub000/internal/risk"
)

var (
	wad = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

	// liquidationThreshold (1.0) is the health factor at or below which a
	// position enters Liquidating; anything strictly above it is Active.
	liquidationThreshold = new(big.Int).Set(wad)
)

// Context carries the market and policy inputs for one burn.
type Context struct {
	// Price is the collateral price in debt-token terms.
	Price cdp.Amount

	// FeeRateBps is the annual stability fee applied over ElapsedSeconds.
	FeeRateBps int64

	// ElapsedSeconds since the position's fees were last accrued.
	ElapsedSeconds int64

	// MaxBurn caps a single burn; zero means uncapped.
	MaxBurn cdp.Amount

	// AutoClose closes the position when a burn clears the debt entirely.
	AutoClose bool

	// EmergencyShutdown rejects every mutating operation.
	EmergencyShutdown bool

	Now cdp.Timestamp
}

// Result is the immutable record of one executed burn.
type Result struct {
	CDP cdp.CDP

	FeesPaid      cdp.Amount
	PrincipalPaid cdp.Amount

	// RemainingDebt is principal plus unpaid fees after the burn.
	RemainingDebt cdp.Amount

	PreviousHealth cdp.HealthFactor
	NewHealth      cdp.HealthFactor

	Closed bool
}

// Burn repays debt on a position. Fees accrued up to now are settled before
// any principal: the payment covers outstanding fees first and only the
// remainder reduces principal.
func Burn(position cdp.CDP, caller string, burnAmount cdp.Amount, ctx Context) (Result, error) {
	if ctx.EmergencyShutdown {
		return Result{}, &cdp.EmergencyShutdownError{}
	}
	if caller != position.Owner {
		return Result{}, &cdp.UnauthorizedError{Owner: position.Owner, Caller: caller}
	}

	switch position.State.Kind {
	case cdp.StateLiquidated:
		return Result{}, &cdp.AlreadyLiquidatedError{ID: position.ID}
	case cdp.StateClosed:
		return Result{}, &cdp.AlreadyClosedError{ID: position.ID}
	}

	if burnAmount.IsZero() {
		return Result{}, &cdp.InvalidAmountError{Reason: "burn amount is zero", Value: burnAmount.String()}
	}
	if !ctx.MaxBurn.IsZero() && burnAmount.Cmp(ctx.MaxBurn) > 0 {
		return Result{}, &cdp.InvalidAmountError{Reason: "burn amount above per-transaction cap", Value: burnAmount.String()}
	}

	accrued, err := fees.AccruedFee(position.DebtAmount, ctx.FeeRateBps, ctx.ElapsedSeconds)
	if err != nil {
		return Result{}, err
	}
	totalFees, err := position.AccruedFees.Add(accrued)
	if err != nil {
		return Result{}, err
	}
	totalDebt, err := position.DebtAmount.Add(totalFees)
	if err != nil {
		return Result{}, err
	}

	if burnAmount.Cmp(totalDebt) > 0 {
		return Result{}, &cdp.BurnExceedsDebtError{Requested: burnAmount, TotalDebt: totalDebt}
	}

	feesPaid := burnAmount.Min(totalFees)
	principalPaid, err := burnAmount.Sub(feesPaid)
	if err != nil {
		return Result{}, err
	}
	remainingFees, err := totalFees.Sub(feesPaid)
	if err != nil {
		return Result{}, err
	}
	remainingPrincipal, err := position.DebtAmount.Sub(principalPaid)
	if err != nil {
		return Result{}, err
	}
	remainingDebt, err := remainingPrincipal.Add(remainingFees)
	if err != nil {
		return Result{}, err
	}

	// A partial burn may not strand dust below the position's debt floor.
	if !remainingDebt.IsZero() && remainingDebt.Cmp(position.Config.MinDebt) < 0 {
		return Result{}, &cdp.InvalidAmountError{
			Reason: "remaining debt below minimum, burn the full amount instead",
			Value:  remainingDebt.String(),
		}
	}

	prevHealth, err := risk.HealthFactor(position.CollateralAmount, ctx.Price, totalDebt, position.Config.LiquidationRatio)
	if err != nil {
		return Result{}, err
	}
	newHealth, err := risk.HealthFactor(position.CollateralAmount, ctx.Price, remainingDebt, position.Config.LiquidationRatio)
	if err != nil {
		return Result{}, err
	}

	nextState := nextBurnState(newHealth, remainingDebt, ctx)
	updated, err := position.WithUpdate(remainingPrincipal, remainingFees, nextState, ctx.Now)
	if err != nil {
		return Result{}, err
	}

	return Result{
		CDP:            updated,
		FeesPaid:       feesPaid,
		PrincipalPaid:  principalPaid,
		RemainingDebt:  remainingDebt,
		PreviousHealth: prevHealth,
		NewHealth:      newHealth,
		Closed:         nextState.Kind == cdp.StateClosed,
	}, nil
}

// nextBurnState picks the post-burn lifecycle state. Full repayment closes
// the position when auto-close is on. Otherwise a health factor strictly
// above the liquidation threshold makes (or keeps) the position Active; at
// or below it the position enters Liquidating with a zero liquidation price,
// to be assigned by the liquidation subsystem.
func nextBurnState(health cdp.HealthFactor, remainingDebt cdp.Amount, ctx Context) cdp.State {
	if remainingDebt.IsZero() && ctx.AutoClose {
		return cdp.ClosedState(ctx.Now)
	}
	if health.GreaterThan(liquidationThreshold) {
		return cdp.ActiveState(health)
	}
	return cdp.LiquidatingState(cdp.ZeroAmount())
}

// BurnBatch executes a sequence of burns atomically: the first failure
// aborts the batch and the input position is returned untouched. Fees accrue
// once, before the first burn.
func BurnBatch(position cdp.CDP, caller string, amounts []cdp.Amount, ctx Context) ([]Result, error) {
	if len(amounts) == 0 {
		return nil, &cdp.InvalidAmountError{Reason: "empty burn batch", Value: "0"}
	}

	results := make([]Result, 0, len(amounts))
	current := position
	stepCtx := ctx
	for _, amount := range amounts {
		res, err := Burn(current, caller, amount, stepCtx)
		if err != nil {
			return nil, err
		}
		results = append(results, res)
		current = res.CDP
		stepCtx.ElapsedSeconds = 0
	}
	return results, nil
}

// FullClosureAmount quotes the exact burn that clears the position: current
// principal plus all fees accrued through now.
func FullClosureAmount(position cdp.CDP, ctx Context) (cdp.Amount, error) {
	switch position.State.Kind {
	case cdp.StateLiquidated:
		return cdp.Amount{}, &cdp.AlreadyLiquidatedError{ID: position.ID}
	case cdp.StateClosed:
		return cdp.Amount{}, &cdp.AlreadyClosedError{ID: position.ID}
	}

	accrued, err := fees.AccruedFee(position.DebtAmount, ctx.FeeRateBps, ctx.ElapsedSeconds)
	if err != nil {
		return cdp.Amount{}, err
	}
	totalFees, err := position.AccruedFees.Add(accrued)
	if err != nil {
		return cdp.Amount{}, err
	}
	return position.DebtAmount.Add(totalFees)
}

// EstimateMinBurn computes the smallest burn that lifts the position's
// health factor to the WAD-scaled target. Zero means the position already
// meets the target.
func EstimateMinBurn(position cdp.CDP, ctx Context, targetHealthWad *big.Int) (cdp.Amount, error) {
	if targetHealthWad == nil || targetHealthWad.Sign() <= 0 {
		return cdp.Amount{}, &cdp.InvalidRatioError{Bps: 0}
	}

	totalDebt, err := FullClosureAmount(position, ctx)
	if err != nil {
		return cdp.Amount{}, err
	}
	if totalDebt.IsZero() {
		return cdp.ZeroAmount(), nil
	}

	value, err := risk.CollateralValue(position.CollateralAmount, ctx.Price)
	if err != nil {
		return cdp.Amount{}, err
	}

	// Largest debt the collateral supports at the target health factor:
	// maxDebt = value * 10000 * WAD / (liquidationRatio * target).
	maxDebt := value.BigInt()
	maxDebt.Mul(maxDebt, cdp.BasisPointsDenom.BigInt())
	maxDebt.Mul(maxDebt, wad)
	maxDebt.Quo(maxDebt, new(big.Int).Mul(position.Config.LiquidationRatio.BigInt(), targetHealthWad))

	if totalDebt.BigInt().Cmp(maxDebt) <= 0 {
		return cdp.ZeroAmount(), nil
	}
	maxDebtAmt, err := cdp.NewAmount(maxDebt)
	if err != nil {
		return cdp.Amount{}, err
	}
	return totalDebt.Sub(maxDebtAmt)
}
