package fees

import (
	"math/big"

	"github.com/Angleito/nyxusd-sub000/internal/cdp"
)

// Fixed-point arithmetic at WAD (1e18) scale on big.Int. All operations
// round toward zero so accrued interest is never overstated.

var (
	wad     = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	bpsUnit = big.NewInt(int64(cdp.BasisPointsDenom))
)

// maxWadBits bounds intermediate fixed-point values. Exponentiation that
// would exceed it fails instead of allocating unbounded integers.
const maxWadBits = 512

// mulWad returns a*b/WAD, floored.
func mulWad(a, b *big.Int) (*big.Int, error) {
	p := new(big.Int).Mul(a, b)
	p.Quo(p, wad)
	if p.BitLen() > maxWadBits {
		return nil, &cdp.OverflowError{Operation: "mulWad"}
	}
	return p, nil
}

// powWad raises a WAD-scaled base to an integer exponent by squaring.
func powWad(base *big.Int, exp uint64) (*big.Int, error) {
	result := new(big.Int).Set(wad)
	b := new(big.Int).Set(base)
	var err error
	for exp > 0 {
		if exp&1 == 1 {
			result, err = mulWad(result, b)
			if err != nil {
				return nil, err
			}
		}
		exp >>= 1
		if exp > 0 {
			b, err = mulWad(b, b)
			if err != nil {
				return nil, err
			}
		}
	}
	return result, nil
}

// expWadTerms caps the Taylor expansion of expWad. At the maximum legal
// exponent the terms vanish well before this bound.
const expWadTerms = 64

// maxExpInput bounds the exponent of expWad to 50.0 (e^50 fits comfortably
// in maxWadBits; anything larger indicates a rate or elapsed-time bug).
var maxExpInput = new(big.Int).Mul(big.NewInt(50), wad)

// expWad computes e^x for WAD-scaled non-negative x via Taylor series,
// truncated once terms vanish.
func expWad(x *big.Int) (*big.Int, error) {
	if x.Sign() < 0 {
		return nil, &cdp.InvalidAmountError{Reason: "negative exponent", Value: x.String()}
	}
	if x.Cmp(maxExpInput) > 0 {
		return nil, &cdp.OverflowError{Operation: "expWad"}
	}

	sum := new(big.Int).Set(wad)
	term := new(big.Int).Set(wad)
	for i := int64(1); i <= expWadTerms; i++ {
		term.Mul(term, x)
		term.Quo(term, wad)
		term.Quo(term, big.NewInt(i))
		if term.Sign() == 0 {
			break
		}
		sum.Add(sum, term)
	}
	if sum.BitLen() > maxWadBits {
		return nil, &cdp.OverflowError{Operation: "expWad"}
	}
	return sum, nil
}
