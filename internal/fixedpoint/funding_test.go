package fixedpoint_test

import (
	"math/big"
	"testing"

	"PerpKeeper/internal/fixedpoint"
)

func wad(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), fixedpoint.WadScale)
}

func TestImbalanceBalancedBook(t *testing.T) {
	got := fixedpoint.Imbalance(wad(500), wad(500))
	if got.Sign() != 0 {
		t.Errorf("balanced book imbalance: got %s, want 0", got)
	}
}

func TestImbalanceZeroNotional(t *testing.T) {
	got := fixedpoint.Imbalance(new(big.Int), new(big.Int))
	if got.Sign() != 0 {
		t.Errorf("zero notional imbalance: got %s, want 0", got)
	}
}

func TestImbalanceOneSided(t *testing.T) {
	got := fixedpoint.Imbalance(wad(750), new(big.Int))
	if got.Cmp(fixedpoint.WadScale) != 0 {
		t.Errorf("all-long imbalance: got %s, want %s", got, fixedpoint.WadScale)
	}

	got = fixedpoint.Imbalance(new(big.Int), wad(750))
	want := new(big.Int).Neg(fixedpoint.WadScale)
	if got.Cmp(want) != 0 {
		t.Errorf("all-short imbalance: got %s, want %s", got, want)
	}
}

func TestImbalanceSkewedBook(t *testing.T) {
	// long 750, short 250: (750-250)/1000 = 0.5
	got := fixedpoint.Imbalance(wad(750), wad(250))
	want := new(big.Int).Rsh(fixedpoint.WadScale, 1)
	if got.Cmp(want) != 0 {
		t.Errorf("skewed imbalance: got %s, want %s", got, want)
	}
}

func TestPerSecondRateFullYear(t *testing.T) {
	// Fully one-sided book at 100% max annual rate: the per-second rate,
	// summed over a year, must reproduce the full imbalance.
	rate := fixedpoint.PerSecondRate(fixedpoint.WadScale, 10_000)
	annual := new(big.Int).Mul(rate, big.NewInt(fixedpoint.SecondsPerYear))

	diff := new(big.Int).Sub(annual, fixedpoint.WadScale)
	diff.Abs(diff)
	// Rounding may lose less than one secondsPerYear quantum.
	if diff.Cmp(big.NewInt(fixedpoint.SecondsPerYear)) > 0 {
		t.Errorf("annualized rate drifts: got %s, want ~%s", annual, fixedpoint.WadScale)
	}
}

func TestPerSecondRateSign(t *testing.T) {
	neg := fixedpoint.PerSecondRate(new(big.Int).Neg(fixedpoint.WadScale), 500)
	if neg.Sign() >= 0 {
		t.Errorf("short-heavy book must yield negative rate, got %s", neg)
	}
}

func TestDivRoundHalfEven(t *testing.T) {
	cases := []struct {
		num, den, want int64
	}{
		{5, 2, 2},   // 2.5 rounds to even 2
		{7, 2, 4},   // 3.5 rounds to even 4
		{9, 3, 3},   // exact
		{10, 4, 2},  // 2.5 -> 2
		{-5, 2, -2}, // -2.5 -> -2
	}
	for _, c := range cases {
		got := fixedpoint.DivRound(big.NewInt(c.num), big.NewInt(c.den), fixedpoint.RoundHalfEven)
		if got.Int64() != c.want {
			t.Errorf("DivRound(%d/%d): got %d, want %d", c.num, c.den, got.Int64(), c.want)
		}
	}
}

func TestNotional(t *testing.T) {
	// size -2.0, price 50_000: notional is 100_000 regardless of side.
	size := new(big.Int).Neg(wad(2))
	got := fixedpoint.Notional(size, wad(50_000))
	if got.Cmp(wad(100_000)) != 0 {
		t.Errorf("notional: got %s, want %s", got, wad(100_000))
	}
}
