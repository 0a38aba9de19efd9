// Package fixedpoint holds the scaled-integer arithmetic shared by the
// funding keeper and the mirror normalizers. All ledger quantities are
// fixed-point integers; nothing here ever touches floats.
package fixedpoint

import "math/big"

// RoundingMode selects how DivRound resolves a remainder.
type RoundingMode int

const (
	RoundHalfEven RoundingMode = iota // banker's rounding (default)
	RoundDown
	RoundUp
)

// WadScale is the ledger's 1e18 fixed-point scale for prices, sizes and
// rates.
var WadScale = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// DivRound divides num by den with the given rounding mode. den must be
// nonzero. The result is a fresh *big.Int; inputs are not mutated.
func DivRound(num, den *big.Int, mode RoundingMode) *big.Int {
	quo := new(big.Int)
	rem := new(big.Int)
	quo.QuoRem(num, den, rem)

	if rem.Sign() == 0 {
		return quo
	}

	switch mode {
	case RoundDown:
		return quo
	case RoundUp:
		return bump(quo, num, den)
	default: // RoundHalfEven
		twice := new(big.Int).Lsh(abs(rem), 1)
		cmp := twice.Cmp(abs(den))
		if cmp > 0 {
			return bump(quo, num, den)
		}
		if cmp == 0 && quo.Bit(0) == 1 {
			return bump(quo, num, den)
		}
		return quo
	}
}

// bump moves quo one step away from zero in the direction of the true
// quotient's sign.
func bump(quo, num, den *big.Int) *big.Int {
	if (num.Sign() < 0) != (den.Sign() < 0) {
		return quo.Sub(quo, big.NewInt(1))
	}
	return quo.Add(quo, big.NewInt(1))
}

func abs(v *big.Int) *big.Int {
	return new(big.Int).Abs(v)
}

// MulDiv computes a*b/den with banker's rounding, overflow-free.
func MulDiv(a, b, den *big.Int) *big.Int {
	return DivRound(new(big.Int).Mul(a, b), den, RoundHalfEven)
}

// Notional returns |size| * price / WadScale: the quote-denominated value
// of a position at the given mark price.
func Notional(size, price *big.Int) *big.Int {
	return MulDiv(new(big.Int).Abs(size), price, WadScale)
}
