package risk

import (
	"errors"
	"testing"

	"github.com/Angleito/nyxusd-sub000/internal/cdp"
)

var (
	wadOne = cdp.MustAmount("1000000000000000000")
)

func TestCollateralValue(t *testing.T) {
	// 10 ETH at 2000 per unit is worth 20000.
	collateral := cdp.MustAmount("10000000000000000000")
	price := cdp.MustAmount("2000000000000000000000")

	value, err := CollateralValue(collateral, price)
	if err != nil {
		t.Fatalf("CollateralValue: %v", err)
	}
	if value.String() != "20000000000000000000000" {
		t.Errorf("expected 20000e18, got %s", value)
	}
}

func TestCollateralizationRatio(t *testing.T) {
	// Value 12000 against debt 10000 is 120%.
	collateral := cdp.MustAmount("12000000000000000000000")
	debt := cdp.MustAmount("10000000000000000000000")

	ratio, err := CollateralizationRatio(collateral, wadOne, debt)
	if err != nil {
		t.Fatalf("CollateralizationRatio: %v", err)
	}
	if ratio != 12000 {
		t.Errorf("expected 12000 bps, got %d", ratio)
	}
}

func TestCollateralizationRatioZeroDebt(t *testing.T) {
	_, err := CollateralizationRatio(wadOne, wadOne, cdp.ZeroAmount())
	var zeroErr *cdp.ZeroDebtPositionError
	if !errors.As(err, &zeroErr) {
		t.Fatalf("expected ZeroDebtPositionError, got %v", err)
	}
}

func TestCollateralizationRatioFloors(t *testing.T) {
	// 9999.9...% floors to 9999 bps, never rounds up.
	collateral := cdp.MustAmount("2999999999999999999999")
	debt := cdp.MustAmount("3000000000000000000000")

	ratio, err := CollateralizationRatio(collateral, wadOne, debt)
	if err != nil {
		t.Fatalf("CollateralizationRatio: %v", err)
	}
	if ratio != 9999 {
		t.Errorf("expected 9999 bps, got %d", ratio)
	}
}

func TestHealthFactorBoundary(t *testing.T) {
	debt := cdp.MustAmount("10000000000000000000000")
	liqRatio := cdp.BasisPoints(12500)

	// Collateral value exactly at the liquidation ratio: hf == 1.0.
	atBoundary := cdp.MustAmount("12500000000000000000000")
	hf, err := HealthFactor(atBoundary, wadOne, debt, liqRatio)
	if err != nil {
		t.Fatalf("HealthFactor: %v", err)
	}
	if hf.Infinite() {
		t.Fatalf("expected finite health factor")
	}
	if hf.String() != "1.000000000000000000" {
		t.Errorf("expected 1.0 at boundary, got %s", hf)
	}

	// One basis point above the boundary.
	above := cdp.MustAmount("12501000000000000000000")
	hfAbove, err := HealthFactor(above, wadOne, debt, liqRatio)
	if err != nil {
		t.Fatalf("HealthFactor: %v", err)
	}
	if !hfAbove.GreaterThan(hf.Wad()) {
		t.Errorf("expected %s > %s", hfAbove, hf)
	}
}

func TestHealthFactorZeroDebtIsInfinite(t *testing.T) {
	hf, err := HealthFactor(wadOne, wadOne, cdp.ZeroAmount(), 12500)
	if err != nil {
		t.Fatalf("HealthFactor: %v", err)
	}
	if !hf.Infinite() {
		t.Errorf("zero debt must yield the infinite sentinel, got %s", hf)
	}
}

func TestHealthFactorRejectsZeroRatio(t *testing.T) {
	_, err := HealthFactor(wadOne, wadOne, wadOne, 0)
	var ratioErr *cdp.InvalidRatioError
	if !errors.As(err, &ratioErr) {
		t.Fatalf("expected InvalidRatioError, got %v", err)
	}
}

func TestCheckHealthy(t *testing.T) {
	debt := cdp.MustAmount("10000000000000000000000")

	// Ratio 160% against a 150% minimum.
	healthy := cdp.MustAmount("16000000000000000000000")
	if err := CheckHealthy(healthy, wadOne, debt, 15000); err != nil {
		t.Errorf("healthy position rejected: %v", err)
	}

	// Ratio 149.99% against a 150% minimum.
	unhealthy := cdp.MustAmount("14999000000000000000000")
	err := CheckHealthy(unhealthy, wadOne, debt, 15000)
	var unhealthyErr *cdp.PositionUnhealthyError
	if !errors.As(err, &unhealthyErr) {
		t.Fatalf("expected PositionUnhealthyError, got %v", err)
	}
	if unhealthyErr.Current != 14999 || unhealthyErr.Minimum != 15000 {
		t.Errorf("unexpected payload: %d/%d", unhealthyErr.Current, unhealthyErr.Minimum)
	}

	// Zero debt always passes.
	if err := CheckHealthy(cdp.ZeroAmount(), wadOne, cdp.ZeroAmount(), 15000); err != nil {
		t.Errorf("zero-debt position rejected: %v", err)
	}
}
