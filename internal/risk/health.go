// Package risk computes position health: collateralization ratios and
// WAD-scaled health factors against a collateral price.
package risk

import (
	"math"
	"math/big"

	"github.com/Angleito/nyxusd-sub000/internal/cdp"
)

var (
	wad     = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	bpsUnit = big.NewInt(int64(cdp.BasisPointsDenom))
)

// CollateralValue prices collateral in debt-token terms. Both inputs are at
// native 18-decimal scale, so the product is rescaled by WAD.
func CollateralValue(collateral, price cdp.Amount) (cdp.Amount, error) {
	v := collateral.BigInt()
	v.Mul(v, price.BigInt())
	v.Quo(v, wad)
	a, err := cdp.NewAmount(v)
	if err != nil {
		return cdp.Amount{}, &cdp.OverflowError{Operation: "collateral value"}
	}
	return a, nil
}

// CollateralizationRatio returns collateralValue/totalDebt in basis points,
// floored. The ratio is undefined at zero debt; callers must treat zero-debt
// positions as maximally healthy instead. Ratios beyond the int64 range
// saturate rather than overflow.
func CollateralizationRatio(collateral, price, totalDebt cdp.Amount) (cdp.BasisPoints, error) {
	if totalDebt.IsZero() {
		return 0, &cdp.ZeroDebtPositionError{}
	}
	value, err := CollateralValue(collateral, price)
	if err != nil {
		return 0, err
	}

	ratio := value.BigInt()
	ratio.Mul(ratio, bpsUnit)
	ratio.Quo(ratio, totalDebt.BigInt())
	if !ratio.IsInt64() {
		return cdp.BasisPoints(math.MaxInt64), nil
	}
	return cdp.BasisPoints(ratio.Int64()), nil
}

// HealthFactor returns the WAD-scaled distance from liquidation:
//
//	hf = collateralValue * 10000 / (liquidationRatio * totalDebt)
//
// 1.0 is the liquidation boundary. Zero debt yields the infinite sentinel.
func HealthFactor(collateral, price, totalDebt cdp.Amount, liquidationRatio cdp.BasisPoints) (cdp.HealthFactor, error) {
	if liquidationRatio <= 0 {
		return cdp.HealthFactor{}, &cdp.InvalidRatioError{Bps: int64(liquidationRatio)}
	}
	if totalDebt.IsZero() {
		return cdp.InfiniteHealthFactor(), nil
	}
	value, err := CollateralValue(collateral, price)
	if err != nil {
		return cdp.HealthFactor{}, err
	}

	num := value.BigInt()
	num.Mul(num, bpsUnit)
	num.Mul(num, wad)

	den := new(big.Int).Mul(liquidationRatio.BigInt(), totalDebt.BigInt())
	num.Quo(num, den)

	return cdp.HealthFactorFromWad(num), nil
}

// CheckHealthy verifies a position meets a minimum collateralization ratio.
// Zero-debt positions always pass.
func CheckHealthy(collateral, price, totalDebt cdp.Amount, minimum cdp.BasisPoints) error {
	if totalDebt.IsZero() {
		return nil
	}
	ratio, err := CollateralizationRatio(collateral, price, totalDebt)
	if err != nil {
		return err
	}
	if ratio < minimum {
		return &cdp.PositionUnhealthyError{Current: ratio, Minimum: minimum}
	}
	return nil
}
