package cdp

import (
	"fmt"

	"github.com/google/uuid"
)

// Every fallible operation in the engine returns one of the typed errors
// below instead of panicking. Each error carries the structured payload a
// caller needs to act on it; the shell layers map them to API responses.

// InvalidAmountError rejects a caller-supplied amount that is malformed or
// violates an operation bound.
type InvalidAmountError struct {
	Reason string
	Value  string
}

func (e *InvalidAmountError) Error() string {
	return fmt.Sprintf("invalid amount %s: %s", e.Value, e.Reason)
}

// NegativeAmountError rejects a quantity that would go below zero.
type NegativeAmountError struct {
	Value string
}

func (e *NegativeAmountError) Error() string {
	return fmt.Sprintf("amount must be non-negative, got %s", e.Value)
}

// NegativeTimeError rejects a negative elapsed duration or a timestamp that
// moves backwards.
type NegativeTimeError struct {
	Seconds int64
}

func (e *NegativeTimeError) Error() string {
	return fmt.Sprintf("elapsed time must be non-negative, got %ds", e.Seconds)
}

// InvalidRateError rejects a fee rate outside [0, MaxBps].
type InvalidRateError struct {
	RateBps int64
	MaxBps  int64
}

func (e *InvalidRateError) Error() string {
	return fmt.Sprintf("rate %d bps outside [0, %d]", e.RateBps, e.MaxBps)
}

// InvalidRatioError rejects a malformed basis-point ratio.
type InvalidRatioError struct {
	Bps int64
}

func (e *InvalidRatioError) Error() string {
	return fmt.Sprintf("invalid ratio: %d bps", e.Bps)
}

// UnauthorizedError rejects an operation attempted by a non-owner.
type UnauthorizedError struct {
	Owner  string
	Caller string
}

func (e *UnauthorizedError) Error() string {
	return fmt.Sprintf("caller %s is not owner %s", e.Caller, e.Owner)
}

// AlreadyLiquidatedError rejects mutation of a liquidated CDP.
type AlreadyLiquidatedError struct {
	ID uuid.UUID
}

func (e *AlreadyLiquidatedError) Error() string {
	return fmt.Sprintf("cdp %s already liquidated", e.ID)
}

// AlreadyClosedError rejects mutation of a closed CDP.
type AlreadyClosedError struct {
	ID uuid.UUID
}

func (e *AlreadyClosedError) Error() string {
	return fmt.Sprintf("cdp %s already closed", e.ID)
}

// InvalidStateTransitionError rejects an illegal state-machine edge.
type InvalidStateTransitionError struct {
	From StateKind
	To   StateKind
}

func (e *InvalidStateTransitionError) Error() string {
	return fmt.Sprintf("invalid state transition: %s -> %s", e.From, e.To)
}

// BurnExceedsDebtError rejects a repayment larger than the total debt
// (principal plus accrued fees).
type BurnExceedsDebtError struct {
	Requested Amount
	TotalDebt Amount
}

func (e *BurnExceedsDebtError) Error() string {
	return fmt.Sprintf("burn amount %s exceeds total debt %s", e.Requested, e.TotalDebt)
}

// ExceedsMaxLiquidationError rejects a liquidation above a system or
// per-transaction cap.
type ExceedsMaxLiquidationError struct {
	Requested Amount
	Max       Amount
}

func (e *ExceedsMaxLiquidationError) Error() string {
	return fmt.Sprintf("liquidation amount %s exceeds maximum %s", e.Requested, e.Max)
}

// LiquidationTooSmallError rejects a dust-sized liquidation.
type LiquidationTooSmallError struct {
	Requested Amount
	Min       Amount
}

func (e *LiquidationTooSmallError) Error() string {
	return fmt.Sprintf("liquidation amount %s below minimum %s", e.Requested, e.Min)
}

// DebtCeilingExceededError rejects debt growth beyond the configured ceiling.
type DebtCeilingExceededError struct {
	Debt    Amount
	Ceiling Amount
}

func (e *DebtCeilingExceededError) Error() string {
	return fmt.Sprintf("debt %s exceeds ceiling %s", e.Debt, e.Ceiling)
}

// InsufficientCollateralError rejects a mint or withdrawal that would drop
// the position below its minimum collateralization ratio.
type InsufficientCollateralError struct {
	Operation string
	Current   BasisPoints
	Minimum   BasisPoints
}

func (e *InsufficientCollateralError) Error() string {
	return fmt.Sprintf("insufficient collateral for %s: ratio %d bps below minimum %d bps",
		e.Operation, e.Current, e.Minimum)
}

// PositionNotLiquidatableError rejects liquidation of a healthy position.
type PositionNotLiquidatableError struct {
	CurrentRatio     BasisPoints
	LiquidationRatio BasisPoints
}

func (e *PositionNotLiquidatableError) Error() string {
	return fmt.Sprintf("position not liquidatable: ratio %d bps >= liquidation ratio %d bps",
		e.CurrentRatio, e.LiquidationRatio)
}

// InvalidLiquidatorError rejects a malformed liquidator address.
type InvalidLiquidatorError struct {
	Address string
	Reason  string
}

func (e *InvalidLiquidatorError) Error() string {
	return fmt.Sprintf("invalid liquidator %s: %s", e.Address, e.Reason)
}

// LiquidatorInsufficientBalanceError rejects a liquidator that cannot cover
// the minimum balance requirement.
type LiquidatorInsufficientBalanceError struct {
	Balance    Amount
	MinBalance Amount
}

func (e *LiquidatorInsufficientBalanceError) Error() string {
	return fmt.Sprintf("liquidator balance %s below minimum %s", e.Balance, e.MinBalance)
}

// LiquidationCooldownError rejects a liquidation inside the cooldown window,
// or one whose clock appears to have gone backwards.
type LiquidationCooldownError struct {
	LastAt     Timestamp
	Now        Timestamp
	CooldownMs int64
	ClockSkew  bool
}

func (e *LiquidationCooldownError) Error() string {
	if e.ClockSkew {
		return fmt.Sprintf("liquidation clock skew: now %d before last liquidation %d", e.Now, e.LastAt)
	}
	return fmt.Sprintf("liquidation cooldown: %dms since last, need %dms", int64(e.Now-e.LastAt), e.CooldownMs)
}

// PositionUnhealthyError reports a collateralization ratio below threshold.
type PositionUnhealthyError struct {
	Current BasisPoints
	Minimum BasisPoints
}

func (e *PositionUnhealthyError) Error() string {
	return fmt.Sprintf("position unhealthy: ratio %d bps below minimum %d bps", e.Current, e.Minimum)
}

// ZeroDebtPositionError reports a ratio computation on a zero-debt position,
// where the ratio is undefined. Callers must treat zero debt as maximally
// healthy before asking for a ratio.
type ZeroDebtPositionError struct{}

func (e *ZeroDebtPositionError) Error() string {
	return "collateralization ratio undefined for zero-debt position"
}

// OverflowError reports fixed-point arithmetic that exceeded its bound.
// This indicates a caller or configuration bug, never a user mistake.
type OverflowError struct {
	Operation string
}

func (e *OverflowError) Error() string {
	return fmt.Sprintf("arithmetic overflow in %s", e.Operation)
}

// DivisionByZeroError reports a zero denominator in fixed-point arithmetic.
type DivisionByZeroError struct {
	Operation string
}

func (e *DivisionByZeroError) Error() string {
	return fmt.Sprintf("division by zero in %s", e.Operation)
}

// EmergencyShutdownError rejects all mutating operations while the system
// is in emergency shutdown.
type EmergencyShutdownError struct{}

func (e *EmergencyShutdownError) Error() string {
	return "system is in emergency shutdown"
}
