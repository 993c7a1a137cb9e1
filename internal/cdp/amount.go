package cdp

import (
	"fmt"
	"math/big"
	"time"
)

// NativeDecimals is the fixed-point scale of all token quantities.
// Amounts are integers at 18-decimal (wei-style) precision.
const NativeDecimals = 18

// maxAmountBits bounds every Amount to 256 bits. Arithmetic that would
// exceed this fails with Overflow instead of silently growing.
const maxAmountBits = 256

var amountZero = new(big.Int)

// Amount is a non-negative token quantity at native 18-decimal scale.
// The zero value is usable and equals zero.
type Amount struct {
	v *big.Int
}

// ZeroAmount returns the zero quantity.
func ZeroAmount() Amount {
	return Amount{}
}

// NewAmount validates and wraps a big integer as an Amount. The input is
// copied; nil is treated as zero.
func NewAmount(v *big.Int) (Amount, error) {
	if v == nil {
		return Amount{}, nil
	}
	if v.Sign() < 0 {
		return Amount{}, &NegativeAmountError{Value: v.String()}
	}
	if v.BitLen() > maxAmountBits {
		return Amount{}, &OverflowError{Operation: "amount"}
	}
	return Amount{v: new(big.Int).Set(v)}, nil
}

// NewAmountFromString parses a base-10 integer string into an Amount.
func NewAmountFromString(s string) (Amount, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return Amount{}, &InvalidAmountError{Reason: "not a base-10 integer", Value: s}
	}
	return NewAmount(v)
}

// MustAmount parses a base-10 integer string and panics on failure.
// Intended for constants and tests.
func MustAmount(s string) Amount {
	a, err := NewAmountFromString(s)
	if err != nil {
		panic(fmt.Sprintf("cdp: invalid amount constant %q: %v", s, err))
	}
	return a
}

// raw returns the underlying value without copying. Never mutate the result.
func (a Amount) raw() *big.Int {
	if a.v == nil {
		return amountZero
	}
	return a.v
}

// BigInt returns a copy of the underlying integer.
func (a Amount) BigInt() *big.Int {
	return new(big.Int).Set(a.raw())
}

// IsZero reports whether the amount is zero.
func (a Amount) IsZero() bool {
	return a.raw().Sign() == 0
}

// Cmp compares a and b, returning -1, 0 or +1.
func (a Amount) Cmp(b Amount) int {
	return a.raw().Cmp(b.raw())
}

// Add returns a+b, failing with Overflow if the sum exceeds the amount bound.
func (a Amount) Add(b Amount) (Amount, error) {
	sum := new(big.Int).Add(a.raw(), b.raw())
	if sum.BitLen() > maxAmountBits {
		return Amount{}, &OverflowError{Operation: "amount add"}
	}
	return Amount{v: sum}, nil
}

// Sub returns a-b, failing with NegativeAmount if b exceeds a.
func (a Amount) Sub(b Amount) (Amount, error) {
	if a.Cmp(b) < 0 {
		return Amount{}, &NegativeAmountError{
			Value: new(big.Int).Sub(a.raw(), b.raw()).String(),
		}
	}
	return Amount{v: new(big.Int).Sub(a.raw(), b.raw())}, nil
}

// Min returns the smaller of a and b.
func (a Amount) Min(b Amount) Amount {
	if a.Cmp(b) <= 0 {
		return a
	}
	return b
}

func (a Amount) String() string {
	return a.raw().String()
}

// BasisPoints is a ratio where 10000 = 100%.
type BasisPoints int64

// BasisPointsDenom is the basis-point denominator (100%).
const BasisPointsDenom BasisPoints = 10_000

// NewBasisPoints validates a basis-point ratio. Ratios above 100% are legal
// (a 125% liquidation ratio is 12500 bps); negative ratios are not.
func NewBasisPoints(v int64) (BasisPoints, error) {
	if v < 0 {
		return 0, &InvalidRatioError{Bps: v}
	}
	return BasisPoints(v), nil
}

// BigInt returns the ratio as a big integer for fixed-point arithmetic.
func (b BasisPoints) BigInt() *big.Int {
	return big.NewInt(int64(b))
}

// Timestamp is milliseconds since the Unix epoch. Timestamps on a CDP are
// monotonic non-decreasing across operations.
type Timestamp int64

// TimestampFromTime converts a time.Time to a Timestamp.
func TimestampFromTime(t time.Time) Timestamp {
	return Timestamp(t.UnixMilli())
}

// Time converts the timestamp back to a time.Time (UTC).
func (t Timestamp) Time() time.Time {
	return time.UnixMilli(int64(t)).UTC()
}

// Before reports whether t precedes o.
func (t Timestamp) Before(o Timestamp) bool {
	return t < o
}
