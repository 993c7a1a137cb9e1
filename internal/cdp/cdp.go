package cdp

import (
	"fmt"

	"github.com/google/uuid"
)

// Config holds the immutable risk parameters attached to a CDP at creation.
type Config struct {
	// MinCollateralRatio is the minimum collateralization for mints and
	// collateral withdrawals, in basis points.
	MinCollateralRatio BasisPoints

	// LiquidationRatio is the collateralization below which the position
	// becomes eligible for liquidation, in basis points.
	LiquidationRatio BasisPoints

	// StabilityFeeBps is the annual stability fee rate in basis points.
	StabilityFeeBps int64

	// LiquidationPenaltyBps is the penalty applied on liquidation.
	LiquidationPenaltyBps BasisPoints

	// DebtCeiling caps total debt mintable against this CDP.
	DebtCeiling Amount

	// MinDebt is the dust floor for outstanding debt.
	MinDebt Amount
}

// Validate checks the config invariants.
func (c Config) Validate() error {
	if c.MinCollateralRatio < 0 {
		return &InvalidRatioError{Bps: int64(c.MinCollateralRatio)}
	}
	if c.LiquidationRatio <= 0 {
		return &InvalidRatioError{Bps: int64(c.LiquidationRatio)}
	}
	if c.MinCollateralRatio < c.LiquidationRatio {
		return &InvalidRatioError{Bps: int64(c.MinCollateralRatio)}
	}
	if c.StabilityFeeBps < 0 {
		return &InvalidRateError{RateBps: c.StabilityFeeBps, MaxBps: 0}
	}
	if c.LiquidationPenaltyBps < 0 {
		return &InvalidRatioError{Bps: int64(c.LiquidationPenaltyBps)}
	}
	return nil
}

// CDP is a collateralized debt position snapshot. Values are immutable:
// every operation consumes one CDP and produces a new one, so a caller
// holding a snapshot never observes concurrent mutation.
type CDP struct {
	ID               uuid.UUID
	Owner            string
	CollateralType   string
	CollateralAmount Amount
	DebtAmount       Amount
	AccruedFees      Amount
	State            State
	Config           Config
	CreatedAt        Timestamp
	UpdatedAt        Timestamp
}

// Validate checks the CDP invariants that must hold between operations.
func (c CDP) Validate() error {
	if c.ID == uuid.Nil {
		return &InvalidAmountError{Reason: "cdp id is nil", Value: "id"}
	}
	if c.Owner == "" {
		return &InvalidLiquidatorError{Address: "", Reason: "owner is empty"}
	}
	if c.UpdatedAt.Before(c.CreatedAt) {
		return &NegativeTimeError{Seconds: int64(c.UpdatedAt-c.CreatedAt) / 1000}
	}
	if c.State.Kind == StateClosed && !c.DebtAmount.IsZero() {
		return fmt.Errorf("closed cdp %s carries debt %s", c.ID, c.DebtAmount)
	}
	return c.Config.Validate()
}

// TotalDebt returns principal plus accrued fees.
func (c CDP) TotalDebt() (Amount, error) {
	return c.DebtAmount.Add(c.AccruedFees)
}

// WithUpdate returns a copy of the CDP with new debt, fees, state and
// timestamp. The state-machine edge and timestamp monotonicity are enforced
// here so no caller can produce an illegal snapshot.
func (c CDP) WithUpdate(debt, fees Amount, state State, at Timestamp) (CDP, error) {
	if !c.State.Kind.CanTransitionTo(state.Kind) {
		return CDP{}, &InvalidStateTransitionError{From: c.State.Kind, To: state.Kind}
	}
	if at.Before(c.UpdatedAt) {
		return CDP{}, &NegativeTimeError{Seconds: int64(at-c.UpdatedAt) / 1000}
	}
	next := c
	next.DebtAmount = debt
	next.AccruedFees = fees
	next.State = state
	next.UpdatedAt = at
	return next, nil
}
