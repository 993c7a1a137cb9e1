package cdp

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestStateTransitions(t *testing.T) {
	tests := []struct {
		from  StateKind
		to    StateKind
		legal bool
	}{
		{StateActive, StateActive, true},
		{StateActive, StateLiquidating, true},
		{StateActive, StateClosed, true},
		{StateActive, StateLiquidated, false},
		{StateLiquidating, StateLiquidated, true},
		{StateLiquidating, StateActive, true},
		{StateLiquidating, StateClosed, true},
		{StateLiquidating, StateLiquidating, true},
		{StateLiquidated, StateActive, false},
		{StateLiquidated, StateLiquidated, false},
		{StateLiquidated, StateClosed, false},
		{StateClosed, StateActive, false},
		{StateClosed, StateClosed, false},
	}

	for _, tt := range tests {
		if got := tt.from.CanTransitionTo(tt.to); got != tt.legal {
			t.Errorf("%s -> %s: expected %v, got %v", tt.from, tt.to, tt.legal, got)
		}
	}
}

func TestTerminalStates(t *testing.T) {
	if StateActive.Terminal() || StateLiquidating.Terminal() {
		t.Errorf("active/liquidating must not be terminal")
	}
	if !StateLiquidated.Terminal() || !StateClosed.Terminal() {
		t.Errorf("liquidated/closed must be terminal")
	}
}

func TestHealthFactorInfinite(t *testing.T) {
	hf := InfiniteHealthFactor()
	if !hf.Infinite() {
		t.Fatalf("expected infinite sentinel")
	}
	huge := new(big.Int).Lsh(big.NewInt(1), 200)
	if !hf.GreaterThan(huge) {
		t.Errorf("infinite health factor must exceed every threshold")
	}
	if hf.String() != "inf" {
		t.Errorf("expected inf, got %s", hf)
	}
}

func TestHealthFactorComparison(t *testing.T) {
	oneOne := new(big.Int).Mul(big.NewInt(11), new(big.Int).Exp(big.NewInt(10), big.NewInt(17), nil))
	hf := HealthFactorFromWad(oneOne)

	one := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	if !hf.GreaterThan(one) {
		t.Errorf("1.1 should be greater than 1.0")
	}
	if hf.GreaterThan(oneOne) {
		t.Errorf("1.1 should not be greater than itself")
	}
	if got := hf.String(); got != "1.100000000000000000" {
		t.Errorf("expected 1.100000000000000000, got %s", got)
	}
}

func testCDP(t *testing.T) CDP {
	t.Helper()
	now := TimestampFromTime(time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC))
	return CDP{
		ID:               uuid.New(),
		Owner:            "0x1111111111111111111111111111111111111111",
		CollateralType:   "ETH",
		CollateralAmount: MustAmount("10000000000000000000"),
		DebtAmount:       MustAmount("5000000000000000000000"),
		AccruedFees:      ZeroAmount(),
		State:            ActiveState(InfiniteHealthFactor()),
		Config: Config{
			MinCollateralRatio:    15000,
			LiquidationRatio:      12500,
			StabilityFeeBps:       500,
			LiquidationPenaltyBps: 1300,
			DebtCeiling:           MustAmount("100000000000000000000000"),
			MinDebt:               MustAmount("100000000000000000000"),
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestCDPValidate(t *testing.T) {
	c := testCDP(t)
	if err := c.Validate(); err != nil {
		t.Fatalf("valid cdp rejected: %v", err)
	}

	closed := c
	closed.State = ClosedState(c.UpdatedAt)
	if err := closed.Validate(); err == nil {
		t.Errorf("closed cdp with debt must fail validation")
	}
	closed.DebtAmount = ZeroAmount()
	if err := closed.Validate(); err != nil {
		t.Errorf("closed cdp with zero debt rejected: %v", err)
	}
}

func TestCDPTotalDebt(t *testing.T) {
	c := testCDP(t)
	c.AccruedFees = MustAmount("250000000000000000000")
	total, err := c.TotalDebt()
	if err != nil {
		t.Fatalf("TotalDebt: %v", err)
	}
	if total.String() != "5250000000000000000000" {
		t.Errorf("expected 5250e18, got %s", total)
	}
}

func TestWithUpdateEnforcesTransitions(t *testing.T) {
	c := testCDP(t)

	_, err := c.WithUpdate(c.DebtAmount, c.AccruedFees, LiquidatedState(c.UpdatedAt), c.UpdatedAt)
	var trErr *InvalidStateTransitionError
	if !errors.As(err, &trErr) {
		t.Fatalf("Active -> Liquidated should be rejected, got %v", err)
	}
	if trErr.From != StateActive || trErr.To != StateLiquidated {
		t.Errorf("unexpected payload: %s -> %s", trErr.From, trErr.To)
	}

	next, err := c.WithUpdate(ZeroAmount(), ZeroAmount(), ClosedState(c.UpdatedAt), c.UpdatedAt)
	if err != nil {
		t.Fatalf("Active -> Closed: %v", err)
	}

	_, err = next.WithUpdate(ZeroAmount(), ZeroAmount(), ActiveState(InfiniteHealthFactor()), next.UpdatedAt)
	if !errors.As(err, &trErr) {
		t.Errorf("Closed must be terminal, got %v", err)
	}
}

func TestWithUpdateRejectsBackwardsClock(t *testing.T) {
	c := testCDP(t)
	earlier := c.UpdatedAt - 1000

	_, err := c.WithUpdate(c.DebtAmount, c.AccruedFees, c.State, earlier)
	var timeErr *NegativeTimeError
	if !errors.As(err, &timeErr) {
		t.Fatalf("expected NegativeTimeError, got %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := testCDP(t).Config
	if err := cfg.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	bad := cfg
	bad.MinCollateralRatio = 12000 // below liquidation ratio
	if err := bad.Validate(); err == nil {
		t.Errorf("min ratio below liquidation ratio must fail")
	}

	bad = cfg
	bad.LiquidationRatio = 0
	if err := bad.Validate(); err == nil {
		t.Errorf("zero liquidation ratio must fail")
	}

	bad = cfg
	bad.StabilityFeeBps = -1
	if err := bad.Validate(); err == nil {
		t.Errorf("negative fee rate must fail")
	}
}
