package service

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polymirror/internal/domain"
)

type fakePositions struct {
	positions []domain.Position
	err       error
}

func (f *fakePositions) GetPositions(ctx context.Context, address string) ([]domain.Position, error) {
	return f.positions, f.err
}

type execCall struct {
	asset    string
	dir      domain.TradeDirection
	notional float64
	limit    *float64
}

type fakeExecutor struct {
	calls  []execCall
	reject map[string]string
	fail   map[string]error
}

func (f *fakeExecutor) SubmitFillOrKill(ctx context.Context, asset string, dir domain.TradeDirection, notionalUSD float64, limitPrice *float64) (domain.OrderReceipt, error) {
	f.calls = append(f.calls, execCall{asset: asset, dir: dir, notional: notionalUSD, limit: limitPrice})
	if err, ok := f.fail[asset]; ok {
		return domain.OrderReceipt{}, err
	}
	if msg, ok := f.reject[asset]; ok {
		return domain.OrderReceipt{Success: false, ErrorMsg: msg}, nil
	}
	return domain.OrderReceipt{Success: true, OrderID: "ord-" + asset}, nil
}

type fakeAudit struct {
	events []string
}

func (f *fakeAudit) Log(ctx context.Context, event string, detail map[string]any) error {
	f.events = append(f.events, event)
	return nil
}

func (f *fakeAudit) List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRedeemAllSellsRedeemablePositions(t *testing.T) {
	positions := &fakePositions{positions: []domain.Position{
		{Asset: "tok-won", Size: 100, CurPrice: 1.0, Redeemable: true},
		{Asset: "tok-open", Size: 50, CurPrice: 0.6, Redeemable: false},
		{Asset: "tok-empty", Size: 0, CurPrice: 1.0, Redeemable: true},
		{Asset: "tok-lost", Size: 40, CurPrice: 0, Redeemable: true},
	}}
	exec := &fakeExecutor{}
	audit := &fakeAudit{}

	svc := NewRedeemService("0xwallet", positions, exec, audit, testLogger())
	summary, err := svc.RedeemAll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Eligible)
	assert.Equal(t, 1, summary.Redeemed)
	assert.Zero(t, summary.Failed)

	require.Len(t, exec.calls, 1)
	call := exec.calls[0]
	assert.Equal(t, "tok-won", call.asset)
	assert.Equal(t, domain.DirectionSell, call.dir)
	// A settled winner sells just below 1.0 so the order clears the CLOB's
	// price bounds.
	require.NotNil(t, call.limit)
	assert.Equal(t, maxRedeemPrice, *call.limit)
	assert.InDelta(t, 100*maxRedeemPrice, call.notional, 1e-9)

	assert.Contains(t, audit.events, "copier.redeem")
}

func TestRedeemAllKeepsSubSettlementLimit(t *testing.T) {
	positions := &fakePositions{positions: []domain.Position{
		{Asset: "tok-early", Size: 20, CurPrice: 0.95, Redeemable: true},
	}}
	exec := &fakeExecutor{}

	svc := NewRedeemService("0xwallet", positions, exec, &fakeAudit{}, testLogger())
	_, err := svc.RedeemAll(context.Background())
	require.NoError(t, err)

	require.Len(t, exec.calls, 1)
	require.NotNil(t, exec.calls[0].limit)
	assert.Equal(t, 0.95, *exec.calls[0].limit)
	assert.InDelta(t, 19.0, exec.calls[0].notional, 1e-9)
}

func TestRedeemAllCollectsFailures(t *testing.T) {
	positions := &fakePositions{positions: []domain.Position{
		{Asset: "tok-a", Size: 10, CurPrice: 1.0, Redeemable: true},
		{Asset: "tok-b", Size: 10, CurPrice: 1.0, Redeemable: true},
		{Asset: "tok-c", Size: 10, CurPrice: 1.0, Redeemable: true},
	}}
	exec := &fakeExecutor{
		reject: map[string]string{"tok-b": "no liquidity"},
		fail:   map[string]error{"tok-c": assert.AnError},
	}

	svc := NewRedeemService("0xwallet", positions, exec, &fakeAudit{}, testLogger())
	summary, err := svc.RedeemAll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, summary.Eligible)
	assert.Equal(t, 1, summary.Redeemed)
	assert.Equal(t, 2, summary.Failed)
	assert.Len(t, summary.Errors, 2)
}

func TestRedeemAllFetchFault(t *testing.T) {
	positions := &fakePositions{err: assert.AnError}
	svc := NewRedeemService("0xwallet", positions, &fakeExecutor{}, &fakeAudit{}, testLogger())

	_, err := svc.RedeemAll(context.Background())
	assert.Error(t, err)
}
