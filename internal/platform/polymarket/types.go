package polymarket

import (
	"strings"

	"github.com/alanyoungcy/polymirror/internal/domain"
)

// --------------------------------------------------------------------------
// Data API DTOs
// --------------------------------------------------------------------------

// APIActivity represents one entry of the Data API /activity feed.
type APIActivity struct {
	ProxyWallet     string  `json:"proxyWallet"`
	Timestamp       int64   `json:"timestamp"`
	ConditionID     string  `json:"conditionId"`
	Type            string  `json:"type"` // "TRADE", "SPLIT", "MERGE", "REDEEM", "REWARD"
	Size            float64 `json:"size"`
	USDCSize        float64 `json:"usdcSize"`
	TransactionHash string  `json:"transactionHash"`
	Price           float64 `json:"price"`
	Asset           string  `json:"asset"`
	Side            string  `json:"side"` // "BUY" or "SELL"
	Title           string  `json:"title"`
	Outcome         string  `json:"outcome"`
	Slug            string  `json:"slug"`
}

// ToDomainTradeEvent converts an activity entry into a domain.TradeEvent.
// Structural validity (kind, price range, identifiers) is the normalizer's
// concern, not the mapper's.
func (a *APIActivity) ToDomainTradeEvent() domain.TradeEvent {
	var dir domain.TradeDirection
	switch strings.ToUpper(a.Side) {
	case "BUY":
		dir = domain.DirectionBuy
	case "SELL":
		dir = domain.DirectionSell
	}

	return domain.TradeEvent{
		Kind:           a.Type,
		Timestamp:      a.Timestamp,
		TransactionRef: a.TransactionHash,
		Asset:          a.Asset,
		Direction:      dir,
		Price:          a.Price,
		Size:           a.USDCSize,
		Title:          a.Title,
		Outcome:        a.Outcome,
	}
}

// APIPosition represents one entry of the Data API /positions response.
type APIPosition struct {
	ProxyWallet string  `json:"proxyWallet"`
	Asset       string  `json:"asset"`
	ConditionID string  `json:"conditionId"`
	Size        float64 `json:"size"`
	AvgPrice    float64 `json:"avgPrice"`
	CurPrice    float64 `json:"curPrice"`
	Redeemable  bool    `json:"redeemable"`
	Title       string  `json:"title"`
	Outcome     string  `json:"outcome"`
}

// ToDomainPosition converts an API position into a domain.Position.
func (p *APIPosition) ToDomainPosition() domain.Position {
	return domain.Position{
		Asset:      p.Asset,
		Size:       p.Size,
		AvgPrice:   p.AvgPrice,
		CurPrice:   p.CurPrice,
		Title:      p.Title,
		Outcome:    p.Outcome,
		Redeemable: p.Redeemable,
	}
}

// --------------------------------------------------------------------------
// CLOB API DTOs
// --------------------------------------------------------------------------

// APIOrderResult is the response from placing an order via the CLOB API.
type APIOrderResult struct {
	Success     bool   `json:"success"`
	ErrorMsg    string `json:"errorMsg,omitempty"`
	OrderID     string `json:"orderID,omitempty"`
	Status      string `json:"status,omitempty"`
	TransactID  string `json:"transactID,omitempty"`
	ShouldRetry bool   `json:"shouldRetry,omitempty"`
}

// ToReceipt converts an APIOrderResult to a domain.OrderReceipt.
func (r *APIOrderResult) ToReceipt() domain.OrderReceipt {
	return domain.OrderReceipt{
		Success:  r.Success,
		OrderID:  r.OrderID,
		ErrorMsg: r.ErrorMsg,
	}
}

// APIPrice is the response of the CLOB /price endpoint.
type APIPrice struct {
	Price string `json:"price"`
}
