package copytrader

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polymirror/internal/domain"
)

// ---------------------------------------------------------------------------
// Store fakes
// ---------------------------------------------------------------------------

type fakeCursorStore struct {
	cursor domain.CursorState
	puts   []domain.CursorState
	getErr error
}

func (f *fakeCursorStore) Get(ctx context.Context) (domain.CursorState, error) {
	if f.getErr != nil {
		return domain.CursorState{}, f.getErr
	}
	return f.cursor.Clone(), nil
}

func (f *fakeCursorStore) Put(ctx context.Context, c domain.CursorState) error {
	f.puts = append(f.puts, c)
	f.cursor = c
	return nil
}

func (f *fakeCursorStore) Reset(ctx context.Context) error {
	f.cursor = domain.NewCursorState()
	return nil
}

type fakePolicyStore struct {
	policy domain.CopyPolicy
}

func (f *fakePolicyStore) Get(ctx context.Context) (domain.CopyPolicy, error) {
	return f.policy, nil
}

func (f *fakePolicyStore) Update(ctx context.Context, patch domain.PolicyPatch) (domain.CopyPolicy, error) {
	f.policy = patch.Apply(f.policy)
	return f.policy, nil
}

type fakeTradeStore struct {
	appended []domain.CopiedTrade
}

func (f *fakeTradeStore) Append(ctx context.Context, trades []domain.CopiedTrade) error {
	f.appended = append(f.appended, trades...)
	return nil
}

func (f *fakeTradeStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.CopiedTrade, error) {
	return f.appended, nil
}

func (f *fakeTradeStore) Count(ctx context.Context) (int64, error) {
	return int64(len(f.appended)), nil
}

func (f *fakeTradeStore) ListBefore(ctx context.Context, before time.Time) ([]domain.CopiedTrade, error) {
	return nil, nil
}

func (f *fakeTradeStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	return 0, nil
}

type fakeAuditStore struct {
	events []string
}

func (f *fakeAuditStore) Log(ctx context.Context, event string, detail map[string]any) error {
	f.events = append(f.events, event)
	return nil
}

func (f *fakeAuditStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

type fakeLockManager struct {
	held     bool
	acquired int
	released int
}

func (f *fakeLockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	if f.held {
		return nil, domain.ErrLockHeld
	}
	f.acquired++
	f.held = true
	return func() {
		f.held = false
		f.released++
	}, nil
}

type fakeBus struct {
	frames  map[string][][]byte
	streams map[string][][]byte
}

func (f *fakeBus) Publish(ctx context.Context, channel string, payload []byte) error {
	if f.frames == nil {
		f.frames = make(map[string][][]byte)
	}
	f.frames[channel] = append(f.frames[channel], payload)
	return nil
}

func (f *fakeBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	return nil, nil
}

func (f *fakeBus) StreamAppend(ctx context.Context, stream string, payload []byte) error {
	if f.streams == nil {
		f.streams = make(map[string][][]byte)
	}
	f.streams[stream] = append(f.streams[stream], payload)
	return nil
}

func (f *fakeBus) StreamRead(ctx context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error) {
	var msgs []domain.StreamMessage
	for i, p := range f.streams[stream] {
		msgs = append(msgs, domain.StreamMessage{ID: string(rune('1' + i)), Payload: p})
	}
	return msgs, nil
}

type fakeEquityCache struct {
	equity float64
	ts     time.Time
}

func (f *fakeEquityCache) SetEquity(ctx context.Context, address string, equity float64, ts time.Time) error {
	f.equity = equity
	f.ts = ts
	return nil
}

func (f *fakeEquityCache) GetEquity(ctx context.Context, address string) (float64, time.Time, error) {
	if f.ts.IsZero() {
		return 0, time.Time{}, domain.ErrNotFound
	}
	return f.equity, f.ts, nil
}

type fakeNotifier struct {
	events []string
}

func (f *fakeNotifier) Notify(ctx context.Context, event, title, message string) error {
	f.events = append(f.events, event)
	return nil
}

// ---------------------------------------------------------------------------

type runnerFixture struct {
	runner  *Runner
	exec    *fakeExec
	cursors *fakeCursorStore
	policy  *fakePolicyStore
	trades  *fakeTradeStore
	audit   *fakeAuditStore
	locks   *fakeLockManager
	bus     *fakeBus
	equity  *fakeEquityCache
	notify  *fakeNotifier
}

func newRunnerFixture(balance *fakeBalance, activity *fakeActivity) *runnerFixture {
	f := &runnerFixture{
		exec:    &fakeExec{},
		cursors: &fakeCursorStore{cursor: domain.NewCursorState()},
		policy:  &fakePolicyStore{policy: testPolicy()},
		trades:  &fakeTradeStore{},
		audit:   &fakeAuditStore{},
		locks:   &fakeLockManager{},
		bus:     &fakeBus{},
		equity:  &fakeEquityCache{},
		notify:  &fakeNotifier{},
	}
	eng := testEngine(balance, activity, f.exec)
	f.runner = NewRunner(
		RunnerConfig{Interval: time.Minute, LockTTL: time.Minute},
		eng, f.cursors, f.policy, f.trades, f.audit, f.locks, f.bus, f.equity, f.notify,
		discardLogger(),
	)
	return f
}

func TestRunOncePersistsResult(t *testing.T) {
	f := newRunnerFixture(
		&fakeBalance{equity: 1000},
		&fakeActivity{events: []domain.TradeEvent{
			trade(testNow-30, "0xa", "tok", domain.DirectionBuy, 0.5),
		}},
	)
	f.cursors.cursor.LastTimestamp = testNow - 600

	res, err := f.runner.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Copied)

	require.Len(t, f.cursors.puts, 1)
	stored := f.cursors.puts[0]
	assert.Equal(t, testNow-30, stored.LastTimestamp)
	assert.Contains(t, stored.CopiedKeys, domain.CopyKey("0xa", "tok", domain.DirectionBuy))
	assert.False(t, stored.LastRunAt.IsZero())
	assert.False(t, stored.LastCopiedAt.IsZero())
	assert.Empty(t, stored.LastError)

	assert.Len(t, f.trades.appended, 1)
	assert.Contains(t, f.audit.events, "copier.run")
	assert.Len(t, f.bus.frames[ChannelRuns], 1)
	assert.Len(t, f.bus.frames[ChannelTrades], 1)
	assert.Len(t, f.bus.streams[ChannelRuns], 1)
	assert.Equal(t, float64(1000), f.equity.equity)
	assert.Contains(t, f.notify.events, "trade_copied")
	assert.Equal(t, 1, f.locks.released)
}

func TestRunOnceDisabledSkipsFetches(t *testing.T) {
	f := newRunnerFixture(
		&fakeBalance{err: assert.AnError}, // would fail the pass if reached
		&fakeActivity{err: assert.AnError},
	)
	f.policy.policy.Enabled = false

	_, err := f.runner.RunOnce(context.Background())
	assert.ErrorIs(t, err, domain.ErrDisabled)
	assert.Empty(t, f.cursors.puts)
	assert.Equal(t, 1, f.locks.released)
}

func TestRunOnceLockHeld(t *testing.T) {
	f := newRunnerFixture(&fakeBalance{equity: 1000}, &fakeActivity{})
	f.locks.held = true

	_, err := f.runner.RunOnce(context.Background())
	assert.ErrorIs(t, err, domain.ErrLockHeld)
	assert.Empty(t, f.cursors.puts)
}

func TestRunOnceFaultPersistsOnlyRunMetadata(t *testing.T) {
	f := newRunnerFixture(
		&fakeBalance{equity: 0.10}, // below the low-balance floor
		&fakeActivity{events: []domain.TradeEvent{
			trade(testNow-30, "0xa", "tok", domain.DirectionBuy, 0.5),
		}},
	)
	f.cursors.cursor.LastTimestamp = testNow - 600
	f.cursors.cursor.CopiedKeys["existing"] = testNow - 700

	_, err := f.runner.RunOnce(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrLowBalance)

	require.Len(t, f.cursors.puts, 1)
	stored := f.cursors.puts[0]
	assert.Equal(t, testNow-600, stored.LastTimestamp)
	assert.Equal(t, map[string]int64{"existing": testNow - 700}, stored.CopiedKeys)
	assert.False(t, stored.LastRunAt.IsZero())
	assert.True(t, stored.LastCopiedAt.IsZero())
	assert.Contains(t, stored.LastError, "below floor")

	assert.Contains(t, f.audit.events, "copier.run_fault")
	assert.Contains(t, f.notify.events, "low_balance")
	assert.Empty(t, f.trades.appended)
}

func TestRunOnceNotifiesFailures(t *testing.T) {
	f := newRunnerFixture(
		&fakeBalance{equity: 1000},
		&fakeActivity{events: []domain.TradeEvent{
			trade(testNow-30, "0xa", "tok-bad", domain.DirectionBuy, 0.5),
		}},
	)
	f.cursors.cursor.LastTimestamp = testNow - 600
	f.exec.reject = map[string]string{"tok-bad": "insufficient liquidity"}

	res, err := f.runner.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	assert.Contains(t, f.notify.events, "copy_failed")

	// The failed event stays eligible: key not recorded, timestamp unmoved.
	stored := f.cursors.cursor
	assert.Equal(t, testNow-600, stored.LastTimestamp)
	assert.Empty(t, stored.CopiedKeys)
	assert.Contains(t, stored.LastError, "insufficient liquidity")
}

func TestRunOnceSecondPassIsNoop(t *testing.T) {
	activity := &fakeActivity{events: []domain.TradeEvent{
		trade(testNow-30, "0xa", "tok", domain.DirectionBuy, 0.5),
	}}
	f := newRunnerFixture(&fakeBalance{equity: 1000}, activity)
	f.cursors.cursor.LastTimestamp = testNow - 600

	res1, err := f.runner.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, res1.Copied)

	res2, err := f.runner.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res2.Copied)
	assert.Equal(t, 1, f.exec.callsFor("tok"))
	assert.Equal(t, res1.LastTimestamp, res2.LastTimestamp)
}
