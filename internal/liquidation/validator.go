// Package liquidation validates liquidation attempts against position
// health, amount bounds, liquidator eligibility and timing rules. It decides
// whether a liquidation may proceed; executing one is the engine's job.
package liquidation

import (
	"math/big"
	"regexp"

	"github.com/Angleito/nyxusd-sub000/internal/cdp"
	"github.com/Angleito/nyxusd-sub000/internal/risk"
)

// MaxBonusBps caps the liquidation bonus at 20%.
const MaxBonusBps cdp.BasisPoints = 2_000

var addressPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// Params are the system-wide liquidation limits.
type Params struct {
	// MinAmount is the dust floor for a single liquidation.
	MinAmount cdp.Amount

	// MaxAmount caps a single liquidation; zero means uncapped.
	MaxAmount cdp.Amount

	// CloseFactorBps caps the share of total debt one liquidation may
	// repay, in basis points.
	CloseFactorBps cdp.BasisPoints

	// CooldownMs is the minimum gap between liquidations of one position.
	CooldownMs int64

	// MinLiquidatorBalance is the balance a liquidator must hold.
	MinLiquidatorBalance cdp.Amount
}

// DefaultParams returns the production limits: 100-token dust floor, 50%
// close factor, one-minute cooldown.
func DefaultParams() Params {
	return Params{
		MinAmount:            cdp.MustAmount("100000000000000000000"),
		CloseFactorBps:       5_000,
		CooldownMs:           60_000,
		MinLiquidatorBalance: cdp.ZeroAmount(),
	}
}

// Request carries everything needed to validate one liquidation attempt.
type Request struct {
	Position          cdp.CDP
	Price             cdp.Amount
	RepayAmount       cdp.Amount
	Liquidator        string
	LiquidatorBalance cdp.Amount

	// LastLiquidationAt is zero when the position was never liquidated.
	LastLiquidationAt cdp.Timestamp
	Now               cdp.Timestamp
}

// IsLiquidatable reports whether the position's collateralization has fallen
// below its liquidation ratio. The comparison cross-multiplies instead of
// dividing, so it is exact at the boundary: a position sitting exactly at the
// ratio is not liquidatable. Zero-debt positions never are.
func IsLiquidatable(collateral, price, totalDebt cdp.Amount, liquidationRatio cdp.BasisPoints) (bool, error) {
	if liquidationRatio <= 0 {
		return false, &cdp.InvalidRatioError{Bps: int64(liquidationRatio)}
	}
	if totalDebt.IsZero() {
		return false, nil
	}
	value, err := risk.CollateralValue(collateral, price)
	if err != nil {
		return false, err
	}

	lhs := new(big.Int).Mul(value.BigInt(), cdp.BasisPointsDenom.BigInt())
	rhs := new(big.Int).Mul(liquidationRatio.BigInt(), totalDebt.BigInt())
	return lhs.Cmp(rhs) < 0, nil
}

// ValidateAmount checks a repay amount against the dust floor, the position's
// total debt, the close factor and the system cap.
func (p Params) ValidateAmount(requested, totalDebt cdp.Amount) error {
	if requested.IsZero() || requested.Cmp(p.MinAmount) < 0 {
		return &cdp.LiquidationTooSmallError{Requested: requested, Min: p.MinAmount}
	}
	if requested.Cmp(totalDebt) > 0 {
		return &cdp.BurnExceedsDebtError{Requested: requested, TotalDebt: totalDebt}
	}

	if p.CloseFactorBps > 0 {
		closeCap := totalDebt.BigInt()
		closeCap.Mul(closeCap, p.CloseFactorBps.BigInt())
		closeCap.Quo(closeCap, cdp.BasisPointsDenom.BigInt())
		capAmt, err := cdp.NewAmount(closeCap)
		if err != nil {
			return err
		}
		if requested.Cmp(capAmt) > 0 {
			return &cdp.ExceedsMaxLiquidationError{Requested: requested, Max: capAmt}
		}
	}
	if !p.MaxAmount.IsZero() && requested.Cmp(p.MaxAmount) > 0 {
		return &cdp.ExceedsMaxLiquidationError{Requested: requested, Max: p.MaxAmount}
	}
	return nil
}

// ValidateLiquidator checks the liquidator's address format, prohibits
// self-liquidation and enforces the minimum balance.
func (p Params) ValidateLiquidator(address, owner string, balance cdp.Amount) error {
	if !addressPattern.MatchString(address) {
		return &cdp.InvalidLiquidatorError{Address: address, Reason: "malformed address"}
	}
	if address == owner {
		return &cdp.InvalidLiquidatorError{Address: address, Reason: "owner cannot liquidate own position"}
	}
	if balance.Cmp(p.MinLiquidatorBalance) < 0 {
		return &cdp.LiquidatorInsufficientBalanceError{Balance: balance, MinBalance: p.MinLiquidatorBalance}
	}
	return nil
}

// ValidateTiming enforces the per-position cooldown. A clock that appears to
// have moved backwards is rejected explicitly rather than treated as an
// elapsed cooldown.
func (p Params) ValidateTiming(lastAt, now cdp.Timestamp) error {
	if lastAt == 0 || p.CooldownMs <= 0 {
		return nil
	}
	if now.Before(lastAt) {
		return &cdp.LiquidationCooldownError{LastAt: lastAt, Now: now, CooldownMs: p.CooldownMs, ClockSkew: true}
	}
	if int64(now-lastAt) < p.CooldownMs {
		return &cdp.LiquidationCooldownError{LastAt: lastAt, Now: now, CooldownMs: p.CooldownMs}
	}
	return nil
}

// Bonus applies a liquidation bonus to a collateral amount:
//
//	amount * (10000 + bonusBps) / 10000
//
// floored. The bonus is capped at MaxBonusBps.
func Bonus(amount cdp.Amount, bonusBps cdp.BasisPoints) (cdp.Amount, error) {
	if bonusBps < 0 || bonusBps > MaxBonusBps {
		return cdp.Amount{}, &cdp.InvalidRatioError{Bps: int64(bonusBps)}
	}
	v := amount.BigInt()
	v.Mul(v, big.NewInt(int64(cdp.BasisPointsDenom+bonusBps)))
	v.Quo(v, cdp.BasisPointsDenom.BigInt())
	return cdp.NewAmount(v)
}

// SeizableCollateral converts a repay amount into the collateral the
// liquidator receives, bonus included, at the given price.
func SeizableCollateral(repay, price cdp.Amount, bonusBps cdp.BasisPoints) (cdp.Amount, error) {
	if price.IsZero() {
		return cdp.Amount{}, &cdp.DivisionByZeroError{Operation: "seizable collateral"}
	}
	withBonus, err := Bonus(repay, bonusBps)
	if err != nil {
		return cdp.Amount{}, err
	}
	v := withBonus.BigInt()
	v.Mul(v, new(big.Int).Exp(big.NewInt(10), big.NewInt(cdp.NativeDecimals), nil))
	v.Quo(v, price.BigInt())
	return cdp.NewAmount(v)
}

// Validate runs the full pipeline on a liquidation request: lifecycle state,
// position health, repay amount, liquidator eligibility, then timing. The
// first failure wins.
func (p Params) Validate(req Request) error {
	pos := req.Position
	switch pos.State.Kind {
	case cdp.StateLiquidated:
		return &cdp.AlreadyLiquidatedError{ID: pos.ID}
	case cdp.StateClosed:
		return &cdp.AlreadyClosedError{ID: pos.ID}
	}

	totalDebt, err := pos.TotalDebt()
	if err != nil {
		return err
	}

	eligible, err := IsLiquidatable(pos.CollateralAmount, req.Price, totalDebt, pos.Config.LiquidationRatio)
	if err != nil {
		return err
	}
	if !eligible {
		ratio, err := risk.CollateralizationRatio(pos.CollateralAmount, req.Price, totalDebt)
		if err != nil {
			return err
		}
		return &cdp.PositionNotLiquidatableError{
			CurrentRatio:     ratio,
			LiquidationRatio: pos.Config.LiquidationRatio,
		}
	}

	if err := p.ValidateAmount(req.RepayAmount, totalDebt); err != nil {
		return err
	}
	if err := p.ValidateLiquidator(req.Liquidator, pos.Owner, req.LiquidatorBalance); err != nil {
		return err
	}
	return p.ValidateTiming(req.LastLiquidationAt, req.Now)
}
