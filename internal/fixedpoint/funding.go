package fixedpoint

import "math/big"

// SecondsPerYear is the funding-rate conversion base (365 days).
const SecondsPerYear = 365 * 24 * 60 * 60

// Imbalance returns (long − short) / (long + short) at WadScale: +1e18 when
// the book is all longs, −1e18 when all shorts, zero when balanced or when
// total notional is zero.
func Imbalance(longNotional, shortNotional *big.Int) *big.Int {
	total := new(big.Int).Add(longNotional, shortNotional)
	if total.Sign() == 0 {
		return new(big.Int)
	}
	diff := new(big.Int).Sub(longNotional, shortNotional)
	return MulDiv(diff, WadScale, total)
}

// PerSecondRate converts an imbalance (WadScale) into a per-second funding
// rate (WadScale), capped so that a fully one-sided book pays exactly
// maxAnnualRateBps basis points over a year.
//
//	rate/sec = imbalance * (maxAnnualBps / 10_000) / secondsPerYear
func PerSecondRate(imbalance *big.Int, maxAnnualRateBps int64) *big.Int {
	num := new(big.Int).Mul(imbalance, big.NewInt(maxAnnualRateBps))
	den := big.NewInt(10_000 * SecondsPerYear)
	return DivRound(num, den, RoundHalfEven)
}
