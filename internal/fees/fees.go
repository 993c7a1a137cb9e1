// Package fees computes stability fee and interest accrual for debt
// positions. All math is integer fixed-point; results are floored so the
// system never charges more than the exact accrual.
package fees

import (
	"math/big"

	"github.com/Angleito/nyxusd-sub000/internal/cdp"
)

const (
	// SecondsPerYear is the accrual year (365 days).
	SecondsPerYear = 31_536_000

	// MaxRateBps caps fee rates at 1000% annually.
	MaxRateBps = 100_000
)

var secondsPerYearBig = big.NewInt(SecondsPerYear)

// Frequency selects the compounding schedule for CompoundInterest.
type Frequency int

const (
	CompoundAnnually Frequency = iota
	CompoundQuarterly
	CompoundMonthly
	CompoundWeekly
	CompoundDaily
	CompoundContinuous
)

// PeriodsPerYear returns the number of compounding periods per year,
// zero for continuous compounding.
func (f Frequency) PeriodsPerYear() int64 {
	switch f {
	case CompoundAnnually:
		return 1
	case CompoundQuarterly:
		return 4
	case CompoundMonthly:
		return 12
	case CompoundWeekly:
		return 52
	case CompoundDaily:
		return 365
	default:
		return 0
	}
}

func (f Frequency) String() string {
	switch f {
	case CompoundAnnually:
		return "annually"
	case CompoundQuarterly:
		return "quarterly"
	case CompoundMonthly:
		return "monthly"
	case CompoundWeekly:
		return "weekly"
	case CompoundDaily:
		return "daily"
	case CompoundContinuous:
		return "continuous"
	default:
		return "unknown"
	}
}

func validateAccrualInputs(rateBps, elapsedSeconds int64) error {
	if elapsedSeconds < 0 {
		return &cdp.NegativeTimeError{Seconds: elapsedSeconds}
	}
	if rateBps < 0 || rateBps > MaxRateBps {
		return &cdp.InvalidRateError{RateBps: rateBps, MaxBps: MaxRateBps}
	}
	return nil
}

// AccruedFee computes the simple (non-compounding) stability fee on a debt
// over an elapsed window:
//
//	fee = debt * rateBps * elapsedSeconds / (10000 * SecondsPerYear)
//
// floored. Zero debt, zero rate or zero elapsed time accrue nothing.
func AccruedFee(debt cdp.Amount, rateBps, elapsedSeconds int64) (cdp.Amount, error) {
	if err := validateAccrualInputs(rateBps, elapsedSeconds); err != nil {
		return cdp.Amount{}, err
	}
	if debt.IsZero() || rateBps == 0 || elapsedSeconds == 0 {
		return cdp.ZeroAmount(), nil
	}

	num := debt.BigInt()
	num.Mul(num, big.NewInt(rateBps))
	num.Mul(num, big.NewInt(elapsedSeconds))

	den := new(big.Int).Mul(bpsUnit, secondsPerYearBig)
	num.Quo(num, den)

	return cdp.NewAmount(num)
}

// CompoundInterest computes the interest accrued on a principal when the
// rate compounds at the given frequency. Discrete frequencies compound once
// per whole elapsed period; partial periods accrue nothing. Continuous
// compounding grows the principal by e^(rate*t).
func CompoundInterest(principal cdp.Amount, rateBps, elapsedSeconds int64, freq Frequency) (cdp.Amount, error) {
	if err := validateAccrualInputs(rateBps, elapsedSeconds); err != nil {
		return cdp.Amount{}, err
	}
	if principal.IsZero() || rateBps == 0 || elapsedSeconds == 0 {
		return cdp.ZeroAmount(), nil
	}

	var factor *big.Int
	var err error
	if freq == CompoundContinuous {
		factor, err = continuousGrowthFactor(rateBps, elapsedSeconds)
	} else {
		factor, err = discreteGrowthFactor(rateBps, elapsedSeconds, freq)
	}
	if err != nil {
		return cdp.Amount{}, err
	}

	grown := principal.BigInt()
	grown.Mul(grown, factor)
	grown.Quo(grown, wad)

	grownAmt, err := cdp.NewAmount(grown)
	if err != nil {
		return cdp.Amount{}, &cdp.OverflowError{Operation: "compound interest"}
	}
	return grownAmt.Sub(principal)
}

// discreteGrowthFactor returns (1 + rate/n)^periods at WAD scale, where
// periods = floor(n * elapsed / SecondsPerYear).
func discreteGrowthFactor(rateBps, elapsedSeconds int64, freq Frequency) (*big.Int, error) {
	n := freq.PeriodsPerYear()
	if n <= 0 {
		return nil, &cdp.InvalidRateError{RateBps: rateBps, MaxBps: MaxRateBps}
	}

	periods := new(big.Int).Mul(big.NewInt(n), big.NewInt(elapsedSeconds))
	periods.Quo(periods, secondsPerYearBig)
	if periods.Sign() == 0 {
		return new(big.Int).Set(wad), nil
	}
	if !periods.IsUint64() {
		return nil, &cdp.OverflowError{Operation: "compound periods"}
	}

	ratePerPeriod := new(big.Int).Mul(big.NewInt(rateBps), wad)
	ratePerPeriod.Quo(ratePerPeriod, new(big.Int).Mul(bpsUnit, big.NewInt(n)))

	base := new(big.Int).Add(wad, ratePerPeriod)
	return powWad(base, periods.Uint64())
}

// continuousGrowthFactor returns e^(rate*t) at WAD scale.
func continuousGrowthFactor(rateBps, elapsedSeconds int64) (*big.Int, error) {
	x := new(big.Int).Mul(big.NewInt(rateBps), wad)
	x.Mul(x, big.NewInt(elapsedSeconds))
	x.Quo(x, new(big.Int).Mul(bpsUnit, secondsPerYearBig))
	return expWad(x)
}

// EffectiveAnnualRate converts a nominal annual rate into the effective rate
// realized after one year of compounding at the given frequency, in basis
// points, floored. Quarterly 1000 bps nominal yields 1038 bps effective.
func EffectiveAnnualRate(nominalRateBps int64, freq Frequency) (cdp.BasisPoints, error) {
	if nominalRateBps < 0 || nominalRateBps > MaxRateBps {
		return 0, &cdp.InvalidRateError{RateBps: nominalRateBps, MaxBps: MaxRateBps}
	}
	if nominalRateBps == 0 {
		return 0, nil
	}

	var factor *big.Int
	var err error
	if freq == CompoundContinuous {
		factor, err = continuousGrowthFactor(nominalRateBps, SecondsPerYear)
	} else {
		factor, err = discreteGrowthFactor(nominalRateBps, SecondsPerYear, freq)
	}
	if err != nil {
		return 0, err
	}

	factor.Sub(factor, wad)
	factor.Mul(factor, bpsUnit)
	factor.Quo(factor, wad)
	if !factor.IsInt64() {
		return 0, &cdp.OverflowError{Operation: "effective annual rate"}
	}
	return cdp.BasisPoints(factor.Int64()), nil
}

// AnnualizedYield converts a realized gain over an elapsed window into a
// simple annualized rate in basis points, floored. Requires a non-zero
// principal and a final value at or above it.
func AnnualizedYield(principal, final cdp.Amount, elapsedSeconds int64) (cdp.BasisPoints, error) {
	if elapsedSeconds <= 0 {
		return 0, &cdp.NegativeTimeError{Seconds: elapsedSeconds}
	}
	if principal.IsZero() {
		return 0, &cdp.DivisionByZeroError{Operation: "annualized yield"}
	}
	gain, err := final.Sub(principal)
	if err != nil {
		return 0, err
	}

	num := gain.BigInt()
	num.Mul(num, bpsUnit)
	num.Mul(num, secondsPerYearBig)
	num.Quo(num, principal.BigInt())
	num.Quo(num, big.NewInt(elapsedSeconds))

	if !num.IsInt64() {
		return 0, &cdp.OverflowError{Operation: "annualized yield"}
	}
	return cdp.BasisPoints(num.Int64()), nil
}
