package copytrader

import "github.com/alanyoungcy/polymirror/internal/domain"

// tradeKind is the only actionable feed entry type. The activity feed also
// carries splits, merges, redeems, and reward payouts.
const tradeKind = "TRADE"

// NormalizeActivity filters a fetched activity page down to structurally
// valid trade events, preserving the feed's newest-first order. Dropped
// entries are invalid rather than failed: non-trade kinds, prices outside
// (0,1), empty asset or transaction identifiers.
func NormalizeActivity(events []domain.TradeEvent) []domain.TradeEvent {
	out := make([]domain.TradeEvent, 0, len(events))
	for _, ev := range events {
		if ev.Kind != tradeKind {
			continue
		}
		if ev.Price <= 0 || ev.Price >= 1 {
			continue
		}
		if ev.Asset == "" || ev.TransactionRef == "" {
			continue
		}
		if ev.Direction != domain.DirectionBuy && ev.Direction != domain.DirectionSell {
			continue
		}
		out = append(out, ev)
	}
	return out
}
