package copytrader

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/alanyoungcy/polymirror/internal/domain"
)

func TestNormalizeActivity(t *testing.T) {
	events := []domain.TradeEvent{
		{Kind: "TRADE", Timestamp: 500, TransactionRef: "0xa", Asset: "tok1", Direction: domain.DirectionBuy, Price: 0.6, Size: 20},
		{Kind: "REDEEM", Timestamp: 490, TransactionRef: "0xb", Asset: "tok2", Direction: domain.DirectionSell, Price: 0.5},
		{Kind: "TRADE", Timestamp: 480, TransactionRef: "0xc", Asset: "tok3", Direction: domain.DirectionBuy, Price: 0},
		{Kind: "TRADE", Timestamp: 470, TransactionRef: "0xd", Asset: "tok4", Direction: domain.DirectionSell, Price: 1.0},
		{Kind: "TRADE", Timestamp: 460, TransactionRef: "0xe", Asset: "", Direction: domain.DirectionBuy, Price: 0.4},
		{Kind: "TRADE", Timestamp: 450, TransactionRef: "", Asset: "tok5", Direction: domain.DirectionBuy, Price: 0.4},
		{Kind: "TRADE", Timestamp: 440, TransactionRef: "0xf", Asset: "tok6", Direction: "hold", Price: 0.4},
		{Kind: "TRADE", Timestamp: 430, TransactionRef: "0xg", Asset: "tok7", Direction: domain.DirectionSell, Price: 0.3, Size: 10},
	}

	got := NormalizeActivity(events)

	assert.Len(t, got, 2)
	assert.Equal(t, "0xa", got[0].TransactionRef)
	assert.Equal(t, "0xg", got[1].TransactionRef)
}

func TestNormalizeActivityPreservesFeedOrder(t *testing.T) {
	events := []domain.TradeEvent{
		{Kind: "TRADE", Timestamp: 300, TransactionRef: "0x1", Asset: "a", Direction: domain.DirectionBuy, Price: 0.5},
		{Kind: "TRADE", Timestamp: 200, TransactionRef: "0x2", Asset: "b", Direction: domain.DirectionSell, Price: 0.5},
		{Kind: "TRADE", Timestamp: 100, TransactionRef: "0x3", Asset: "c", Direction: domain.DirectionBuy, Price: 0.5},
	}

	got := NormalizeActivity(events)

	var ts []int64
	for _, ev := range got {
		ts = append(ts, ev.Timestamp)
	}
	assert.Equal(t, []int64{300, 200, 100}, ts)
}

func TestNormalizeActivityEmpty(t *testing.T) {
	assert.Empty(t, NormalizeActivity(nil))
}
