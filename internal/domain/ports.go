package domain

import "context"

// BalanceSource reports the controlled account's cash equity in USD.
type BalanceSource interface {
	GetBalance(ctx context.Context, address string) (float64, error)
}

// ActivitySource fetches the tracked account's recent trade activity,
// newest first. Successive pages overlap; the engine dedups by CopyKey.
type ActivitySource interface {
	GetActivity(ctx context.Context, address string, limit int) ([]TradeEvent, error)
}

// OrderReceipt is the venue's answer to a submitted replica order.
type OrderReceipt struct {
	Success  bool
	OrderID  string
	ErrorMsg string
}

// OrderExecutor submits fill-or-kill replica orders. Sells pass the observed
// price as the worst acceptable fill; buys leave limitPrice nil and fill at
// book. The executor does not retry.
type OrderExecutor interface {
	SubmitFillOrKill(ctx context.Context, asset string, dir TradeDirection, notionalUSD float64, limitPrice *float64) (OrderReceipt, error)
}

// PositionSource lists the controlled account's holdings, used by the
// one-shot redeem flow.
type PositionSource interface {
	GetPositions(ctx context.Context, address string) ([]Position, error)
}
