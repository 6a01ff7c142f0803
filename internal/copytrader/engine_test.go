package copytrader

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polymirror/internal/domain"
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

type fakeBalance struct {
	equity float64
	err    error
}

func (f *fakeBalance) GetBalance(ctx context.Context, address string) (float64, error) {
	return f.equity, f.err
}

type fakeActivity struct {
	events []domain.TradeEvent
	err    error
}

func (f *fakeActivity) GetActivity(ctx context.Context, address string, limit int) ([]domain.TradeEvent, error) {
	return f.events, f.err
}

type execCall struct {
	asset    string
	dir      domain.TradeDirection
	notional float64
	limit    *float64
}

type fakeExec struct {
	calls  []execCall
	reject map[string]string // asset -> rejection message
	fail   map[string]error  // asset -> transport error
	nextID int
}

func (f *fakeExec) SubmitFillOrKill(ctx context.Context, asset string, dir domain.TradeDirection, notionalUSD float64, limitPrice *float64) (domain.OrderReceipt, error) {
	f.calls = append(f.calls, execCall{asset: asset, dir: dir, notional: notionalUSD, limit: limitPrice})
	if err, ok := f.fail[asset]; ok {
		return domain.OrderReceipt{}, err
	}
	if msg, ok := f.reject[asset]; ok {
		return domain.OrderReceipt{Success: false, ErrorMsg: msg}, nil
	}
	f.nextID++
	return domain.OrderReceipt{Success: true, OrderID: "ord-" + string(rune('a'+f.nextID-1))}, nil
}

func (f *fakeExec) callsFor(asset string) int {
	n := 0
	for _, c := range f.calls {
		if c.asset == asset {
			n++
		}
	}
	return n
}

const testNow = int64(100000)

func testEngine(balance *fakeBalance, activity *fakeActivity, exec *fakeExec) *Engine {
	e := NewEngine(
		Pair{Source: "0xsource", Target: "0xtarget"},
		balance, activity, exec,
		discardLogger(),
	)
	e.now = func() time.Time { return time.Unix(testNow, 0) }
	return e
}

func testPolicy() domain.CopyPolicy {
	return domain.CopyPolicy{
		Enabled:         true,
		MinPercent:      5,
		MaxPercent:      10,
		MinBetUSD:       1,
		FirstRunWindow:  5 * time.Minute,
		KeyRetention:    24 * time.Hour,
		PageLimit:       50,
		LowBalanceFloor: 1,
	}
}

func trade(ts int64, tx, asset string, dir domain.TradeDirection, price float64) domain.TradeEvent {
	return domain.TradeEvent{
		Kind:           "TRADE",
		Timestamp:      ts,
		TransactionRef: tx,
		Asset:          asset,
		Direction:      dir,
		Price:          price,
		Size:           25,
	}
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestReconcileCopiesNewEvents(t *testing.T) {
	cursor := domain.NewCursorState()
	cursor.LastTimestamp = testNow - 600

	exec := &fakeExec{}
	eng := testEngine(
		&fakeBalance{equity: 1000},
		&fakeActivity{events: []domain.TradeEvent{
			trade(testNow-10, "0xa", "tok-buy", domain.DirectionBuy, 0.6),
			trade(testNow-20, "0xb", "tok-sell", domain.DirectionSell, 0.3),
		}},
		exec,
	)

	res, err := eng.Reconcile(context.Background(), testPolicy(), cursor)
	require.NoError(t, err)

	assert.Equal(t, 2, res.Copied)
	assert.Equal(t, 0, res.Failed)
	assert.Empty(t, res.Err)
	assert.Equal(t, testNow-10, res.LastTimestamp)
	assert.Len(t, res.CopiedTrades, 2)
	assert.Contains(t, res.CopiedKeys, domain.CopyKey("0xa", "tok-buy", domain.DirectionBuy))
	assert.Contains(t, res.CopiedKeys, domain.CopyKey("0xb", "tok-sell", domain.DirectionSell))

	require.Len(t, exec.calls, 2)
	// Buys fill at book, sells cap the fill at the observed price.
	assert.Nil(t, exec.calls[0].limit)
	require.NotNil(t, exec.calls[1].limit)
	assert.InDelta(t, 0.3, *exec.calls[1].limit, 1e-9)

	// equity 1000, price 0.6: fraction 0.05 + 0.6*0.05 = 0.08 -> $80.
	assert.InDelta(t, 80, exec.calls[0].notional, 1e-9)
}

func TestReconcileNoopReturnsInputCursor(t *testing.T) {
	cursor := domain.NewCursorState()
	cursor.LastTimestamp = testNow - 10
	cursor.CopiedKeys[domain.CopyKey("0xa", "tok", domain.DirectionBuy)] = testNow - 10

	exec := &fakeExec{}
	eng := testEngine(
		&fakeBalance{equity: 1000},
		&fakeActivity{events: []domain.TradeEvent{
			trade(testNow-10, "0xa", "tok", domain.DirectionBuy, 0.5),
			trade(testNow-30, "0xc", "tok2", domain.DirectionSell, 0.4),
		}},
		exec,
	)

	res, err := eng.Reconcile(context.Background(), testPolicy(), cursor)
	require.NoError(t, err)

	assert.Zero(t, res.Copied)
	assert.Zero(t, res.Failed)
	assert.Empty(t, exec.calls)
	assert.Equal(t, cursor.LastTimestamp, res.LastTimestamp)
	assert.Equal(t, cursor.CopiedKeys, res.CopiedKeys)
}

func TestReconcileExactlyOncePerKey(t *testing.T) {
	cursor := domain.NewCursorState()
	cursor.LastTimestamp = testNow - 600

	// The same fill re-observed within one overlapping page.
	page := []domain.TradeEvent{
		trade(testNow-10, "0xa", "tok", domain.DirectionBuy, 0.5),
		trade(testNow-10, "0xa", "tok", domain.DirectionBuy, 0.5),
	}

	exec := &fakeExec{}
	eng := testEngine(&fakeBalance{equity: 1000}, &fakeActivity{events: page}, exec)

	res, err := eng.Reconcile(context.Background(), testPolicy(), cursor)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Copied)
	assert.Equal(t, 1, exec.callsFor("tok"))

	// The next pass sees the same page again, now with the persisted cursor.
	next := cursor
	next.LastTimestamp = res.LastTimestamp
	next.CopiedKeys = res.CopiedKeys

	res2, err := eng.Reconcile(context.Background(), testPolicy(), next)
	require.NoError(t, err)
	assert.Zero(t, res2.Copied)
	assert.Equal(t, 1, exec.callsFor("tok"))
}

func TestReconcileSameTimestampDistinctFills(t *testing.T) {
	cursor := domain.NewCursorState()
	cursor.LastTimestamp = testNow - 600

	// One settlement transaction carrying two fills on different assets.
	page := []domain.TradeEvent{
		trade(testNow-10, "0xa", "tok1", domain.DirectionBuy, 0.5),
		trade(testNow-10, "0xa", "tok2", domain.DirectionBuy, 0.5),
	}

	exec := &fakeExec{}
	eng := testEngine(&fakeBalance{equity: 1000}, &fakeActivity{events: page}, exec)

	res, err := eng.Reconcile(context.Background(), testPolicy(), cursor)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Copied)
	assert.Equal(t, 1, exec.callsFor("tok1"))
	assert.Equal(t, 1, exec.callsFor("tok2"))
}

func TestReconcileFailureIsolation(t *testing.T) {
	cursor := domain.NewCursorState()
	cursor.LastTimestamp = testNow - 600

	page := []domain.TradeEvent{
		trade(testNow-10, "0xa", "tok-bad", domain.DirectionBuy, 0.5),
		trade(testNow-20, "0xb", "tok-good", domain.DirectionBuy, 0.5),
	}

	exec := &fakeExec{reject: map[string]string{"tok-bad": "not enough liquidity"}}
	eng := testEngine(&fakeBalance{equity: 1000}, &fakeActivity{events: page}, exec)

	res, err := eng.Reconcile(context.Background(), testPolicy(), cursor)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Copied)
	assert.Equal(t, 1, res.Failed)
	assert.Contains(t, res.Err, "not enough liquidity")

	// The failed event neither advances the cursor nor records its key.
	assert.Equal(t, testNow-20, res.LastTimestamp)
	assert.NotContains(t, res.CopiedKeys, domain.CopyKey("0xa", "tok-bad", domain.DirectionBuy))
	assert.Contains(t, res.CopiedKeys, domain.CopyKey("0xb", "tok-good", domain.DirectionBuy))

	// With the rejection gone, the same event is eligible on the next pass.
	exec.reject = nil
	next := cursor
	next.LastTimestamp = res.LastTimestamp
	next.CopiedKeys = res.CopiedKeys

	res2, err := eng.Reconcile(context.Background(), testPolicy(), next)
	require.NoError(t, err)
	assert.Equal(t, 1, res2.Copied)
	assert.Equal(t, testNow-10, res2.LastTimestamp)
	assert.Equal(t, 2, exec.callsFor("tok-bad"))
	assert.Equal(t, 1, exec.callsFor("tok-good"))
}

func TestReconcileFailureOlderThanSuccess(t *testing.T) {
	cursor := domain.NewCursorState()
	cursor.LastTimestamp = testNow - 600

	// Inverse ordering of the isolation case: the newer event succeeds and
	// the older one fails within the same pass.
	page := []domain.TradeEvent{
		trade(testNow-10, "0xa", "tok-good", domain.DirectionBuy, 0.5),
		trade(testNow-20, "0xb", "tok-bad", domain.DirectionBuy, 0.5),
	}

	exec := &fakeExec{reject: map[string]string{"tok-bad": "not enough liquidity"}}
	eng := testEngine(&fakeBalance{equity: 1000}, &fakeActivity{events: page}, exec)

	res, err := eng.Reconcile(context.Background(), testPolicy(), cursor)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Copied)
	assert.Equal(t, 1, res.Failed)

	// The cursor tracks the newest success, so the older failure falls
	// behind it.
	assert.Equal(t, testNow-10, res.LastTimestamp)

	// Even with the rejection cleared, the failed event sits behind the
	// cursor on the next pass and is skipped rather than retried.
	exec.reject = nil
	next := cursor
	next.LastTimestamp = res.LastTimestamp
	next.CopiedKeys = res.CopiedKeys

	res2, err := eng.Reconcile(context.Background(), testPolicy(), next)
	require.NoError(t, err)
	assert.Zero(t, res2.Copied)
	assert.Equal(t, 1, exec.callsFor("tok-bad"))
	assert.Equal(t, 1, exec.callsFor("tok-good"))
}

func TestReconcileAggregatesFailures(t *testing.T) {
	cursor := domain.NewCursorState()
	cursor.LastTimestamp = testNow - 600

	page := []domain.TradeEvent{
		trade(testNow-10, "0xa", "tok1", domain.DirectionBuy, 0.5),
		trade(testNow-20, "0xb", "tok2", domain.DirectionBuy, 0.5),
	}

	exec := &fakeExec{
		reject: map[string]string{"tok1": "rejected"},
		fail:   map[string]error{"tok2": errors.New("connection reset")},
	}
	eng := testEngine(&fakeBalance{equity: 1000}, &fakeActivity{events: page}, exec)

	res, err := eng.Reconcile(context.Background(), testPolicy(), cursor)
	require.NoError(t, err)

	assert.Equal(t, 2, res.Failed)
	assert.Contains(t, res.Err, "rejected")
	assert.Contains(t, res.Err, "connection reset")
	assert.Contains(t, res.Err, "; ")
	assert.Equal(t, cursor.LastTimestamp, res.LastTimestamp)
}

func TestReconcileFirstRunWindow(t *testing.T) {
	cursor := domain.NewCursorState()

	page := []domain.TradeEvent{
		trade(testNow-60, "0xa", "tok-recent", domain.DirectionBuy, 0.5),
		trade(testNow-3600, "0xb", "tok-old", domain.DirectionBuy, 0.5),
	}

	exec := &fakeExec{}
	eng := testEngine(&fakeBalance{equity: 1000}, &fakeActivity{events: page}, exec)

	res, err := eng.Reconcile(context.Background(), testPolicy(), cursor)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Copied)
	assert.Equal(t, 1, exec.callsFor("tok-recent"))
	assert.Zero(t, exec.callsFor("tok-old"))
	assert.NotContains(t, res.CopiedKeys, domain.CopyKey("0xb", "tok-old", domain.DirectionBuy))
	assert.Equal(t, testNow-60, res.LastTimestamp)
}

func TestReconcileWindowOnlyWhileCursorVirgin(t *testing.T) {
	cursor := domain.NewCursorState()
	cursor.LastTimestamp = 1

	// Well outside the first-run window, but the cursor has progress so the
	// window no longer applies.
	page := []domain.TradeEvent{
		trade(testNow-7200, "0xa", "tok-old", domain.DirectionBuy, 0.5),
	}

	exec := &fakeExec{}
	eng := testEngine(&fakeBalance{equity: 1000}, &fakeActivity{events: page}, exec)

	res, err := eng.Reconcile(context.Background(), testPolicy(), cursor)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Copied)
	assert.Equal(t, testNow-7200, res.LastTimestamp)
}

func TestReconcileResetRearmsFirstRun(t *testing.T) {
	// After a manual reset the cursor is virgin again, so history beyond the
	// window is filtered rather than replayed.
	cursor := domain.NewCursorState()

	page := []domain.TradeEvent{
		trade(testNow-30, "0xa", "tok1", domain.DirectionBuy, 0.5),
		trade(testNow-4000, "0xb", "tok2", domain.DirectionBuy, 0.5),
		trade(testNow-8000, "0xc", "tok3", domain.DirectionSell, 0.5),
	}

	exec := &fakeExec{}
	eng := testEngine(&fakeBalance{equity: 1000}, &fakeActivity{events: page}, exec)

	res, err := eng.Reconcile(context.Background(), testPolicy(), cursor)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Copied)
	assert.Len(t, res.CopiedKeys, 1)
}

func TestReconcileLowBalance(t *testing.T) {
	cursor := domain.NewCursorState()
	cursor.LastTimestamp = testNow - 600

	exec := &fakeExec{}
	eng := testEngine(
		&fakeBalance{equity: 0.40},
		&fakeActivity{events: []domain.TradeEvent{
			trade(testNow-10, "0xa", "tok", domain.DirectionBuy, 0.5),
		}},
		exec,
	)

	_, err := eng.Reconcile(context.Background(), testPolicy(), cursor)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrLowBalance)
	assert.Empty(t, exec.calls)
}

func TestReconcileFetchFaults(t *testing.T) {
	cursor := domain.NewCursorState()

	t.Run("balance", func(t *testing.T) {
		eng := testEngine(
			&fakeBalance{err: errors.New("snapshot timeout")},
			&fakeActivity{},
			&fakeExec{},
		)
		_, err := eng.Reconcile(context.Background(), testPolicy(), cursor)
		assert.ErrorContains(t, err, "fetch balance")
	})

	t.Run("activity", func(t *testing.T) {
		eng := testEngine(
			&fakeBalance{equity: 1000},
			&fakeActivity{err: errors.New("feed unavailable")},
			&fakeExec{},
		)
		_, err := eng.Reconcile(context.Background(), testPolicy(), cursor)
		assert.ErrorContains(t, err, "fetch activity")
	})
}

func TestReconcileBelowFloorDoesNotAdvance(t *testing.T) {
	cursor := domain.NewCursorState()
	cursor.LastTimestamp = testNow - 600

	// equity 10 at price 0.5 sizes to $0.75, below the $5 floor.
	policy := testPolicy()
	policy.MinBetUSD = 5
	policy.LowBalanceFloor = 1

	exec := &fakeExec{}
	eng := testEngine(
		&fakeBalance{equity: 10},
		&fakeActivity{events: []domain.TradeEvent{
			trade(testNow-10, "0xa", "tok", domain.DirectionBuy, 0.5),
		}},
		exec,
	)

	res, err := eng.Reconcile(context.Background(), policy, cursor)
	require.NoError(t, err)

	assert.Zero(t, res.Copied)
	assert.Empty(t, exec.calls)
	assert.Equal(t, cursor.LastTimestamp, res.LastTimestamp)
	assert.Empty(t, res.CopiedKeys)
}

func TestEvictKeys(t *testing.T) {
	keys := map[string]int64{
		"fresh":    testNow - 60,
		"boundary": testNow - 3600,
		"stale":    testNow - 90000,
	}

	got := evictKeys(keys, testNow, 24*time.Hour)

	assert.Contains(t, got, "fresh")
	assert.Contains(t, got, "boundary")
	assert.NotContains(t, got, "stale")
}

func TestEvictKeysZeroRetentionKeepsAll(t *testing.T) {
	keys := map[string]int64{"a": 1, "b": testNow}
	got := evictKeys(keys, testNow, 0)
	assert.Len(t, got, 2)
}
