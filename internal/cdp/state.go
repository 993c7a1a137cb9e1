package cdp

import (
	"fmt"
	"math/big"
)

// healthFactorWad is the fixed-point scale of health factors (1.0 == 1e18).
var healthFactorWad = new(big.Int).Exp(big.NewInt(10), big.NewInt(NativeDecimals), nil)

// HealthFactor expresses a position's distance from liquidation at WAD
// (1e18) scale. 1.0 is the liquidation boundary. Zero-debt positions carry
// the infinite sentinel.
type HealthFactor struct {
	wad      *big.Int
	infinite bool
}

// InfiniteHealthFactor is the sentinel for zero-debt positions.
func InfiniteHealthFactor() HealthFactor {
	return HealthFactor{infinite: true}
}

// HealthFactorFromWad wraps a WAD-scaled value. The input is copied.
func HealthFactorFromWad(w *big.Int) HealthFactor {
	if w == nil {
		return HealthFactor{wad: new(big.Int)}
	}
	return HealthFactor{wad: new(big.Int).Set(w)}
}

// Infinite reports whether this is the zero-debt sentinel.
func (h HealthFactor) Infinite() bool {
	return h.infinite
}

// Wad returns a copy of the WAD-scaled value. Zero for the infinite sentinel;
// check Infinite first.
func (h HealthFactor) Wad() *big.Int {
	if h.wad == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(h.wad)
}

// GreaterThan reports h > threshold, where threshold is WAD-scaled.
// The infinite sentinel exceeds every threshold.
func (h HealthFactor) GreaterThan(threshold *big.Int) bool {
	if h.infinite {
		return true
	}
	if h.wad == nil {
		return false
	}
	return h.wad.Cmp(threshold) > 0
}

func (h HealthFactor) String() string {
	if h.infinite {
		return "inf"
	}
	w := h.Wad()
	quo, rem := new(big.Int).QuoRem(w, healthFactorWad, new(big.Int))
	return fmt.Sprintf("%s.%018s", quo, rem)
}

// StateKind discriminates the CDP lifecycle states.
type StateKind int32

const (
	StateActive StateKind = iota
	StateLiquidating
	StateLiquidated
	StateClosed
)

func (k StateKind) String() string {
	switch k {
	case StateActive:
		return "Active"
	case StateLiquidating:
		return "Liquidating"
	case StateLiquidated:
		return "Liquidated"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// CanTransitionTo validates state transitions. Same-kind edges on the
// non-terminal states are legal refreshes (a burn that keeps the CDP active
// still rewrites the stored health factor).
func (k StateKind) CanTransitionTo(next StateKind) bool {
	validTransitions := map[StateKind][]StateKind{
		StateActive: {
			StateActive,
			StateLiquidating,
			StateClosed,
		},
		StateLiquidating: {
			StateLiquidating,
			StateLiquidated,
			StateActive, // margin recovered
			StateClosed, // full repayment during liquidation
		},
	}

	allowed, ok := validTransitions[k]
	if !ok {
		return false
	}

	for _, allowedKind := range allowed {
		if next == allowedKind {
			return true
		}
	}

	return false
}

// Terminal reports whether no further financial operations apply.
func (k StateKind) Terminal() bool {
	return k == StateLiquidated || k == StateClosed
}

// State is the tagged lifecycle variant attached to a CDP. Exactly the
// payload fields for the current Kind are meaningful.
type State struct {
	Kind StateKind

	// HealthFactor is set for Active.
	HealthFactor HealthFactor

	// LiquidationPrice is set for Liquidating. Zero means the liquidation
	// subsystem has not priced the position yet.
	LiquidationPrice Amount

	// At is set for the terminal states Liquidated and Closed.
	At Timestamp
}

// ActiveState builds an Active state carrying the current health factor.
func ActiveState(hf HealthFactor) State {
	return State{Kind: StateActive, HealthFactor: hf}
}

// LiquidatingState builds a Liquidating state carrying the trigger price.
func LiquidatingState(liquidationPrice Amount) State {
	return State{Kind: StateLiquidating, LiquidationPrice: liquidationPrice}
}

// LiquidatedState builds the terminal Liquidated state.
func LiquidatedState(at Timestamp) State {
	return State{Kind: StateLiquidated, At: at}
}

// ClosedState builds the terminal Closed state.
func ClosedState(at Timestamp) State {
	return State{Kind: StateClosed, At: at}
}
