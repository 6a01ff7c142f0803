// Package copytrader mirrors a tracked account's trades onto a controlled
// account. The reconciliation engine turns an overlapping, newest-first
// activity feed plus a persisted cursor into at-most-one fill-or-kill order
// per observed fill; the runner owns scheduling, locking, and persistence.
package copytrader

// BetSize computes the notional USD to risk on a trade observed at the given
// price. The equity fraction interpolates linearly between minPct at price 0
// and maxPct at price 1, so long shots risk the small end of the range and
// near-certain outcomes the large end. Bets sizing below minUSD return 0
// (skip); anything at or above the floor is returned as-is, never below
// minUSD. Non-positive equity returns 0.
func BetSize(equity, price, minPct, maxPct, minUSD float64) float64 {
	if equity <= 0 {
		return 0
	}

	fraction := minPct/100 + price*(maxPct-minPct)/100
	bet := equity * fraction

	if bet < minUSD {
		return 0
	}
	return bet
}
