package domain

import (
	"fmt"
	"time"
)

// TradeDirection indicates whether an observed trade bought or sold the asset.
type TradeDirection string

const (
	DirectionBuy  TradeDirection = "buy"
	DirectionSell TradeDirection = "sell"
)

// TradeEvent is one entry of the tracked account's activity feed, already
// narrowed to the fields the copier consumes. The feed is served newest-first
// and successive pages overlap.
type TradeEvent struct {
	Kind           string // feed entry type, only "TRADE" is actionable
	Timestamp      int64  // unix seconds
	TransactionRef string // settlement transaction hash
	Asset          string // outcome token identifier
	Direction      TradeDirection
	Price          float64 // implied probability in (0,1)
	Size           float64 // notional USD the tracked account traded
	Title          string  // market question, display only
	Outcome        string  // outcome label, display only
}

// CopyKey returns the dedup identity of the event. One settlement transaction
// can carry several fills; the triple keeps distinct fills distinct while
// collapsing re-observations of the same fill across overlapping pages.
func (e TradeEvent) CopyKey() string {
	return CopyKey(e.TransactionRef, e.Asset, e.Direction)
}

// CopyKey builds the dedup identity for a (transaction, asset, direction)
// triple.
func CopyKey(txRef, asset string, dir TradeDirection) string {
	return fmt.Sprintf("%s:%s:%s", txRef, asset, dir)
}

// CopiedTrade records one successfully mirrored trade.
type CopiedTrade struct {
	ID         int64
	Key        string
	TxRef      string
	Asset      string
	Direction  TradeDirection
	Price      float64
	SourceSize float64 // notional the tracked account traded
	CopiedSize float64 // notional we submitted
	OrderID    string
	Title      string
	Outcome    string
	SourceTime time.Time // timestamp of the observed event
	CopiedAt   time.Time
}

// Position is a holding of the controlled account, as reported by the venue.
type Position struct {
	Asset      string
	Size       float64
	AvgPrice   float64
	CurPrice   float64
	Title      string
	Outcome    string
	Redeemable bool
}
