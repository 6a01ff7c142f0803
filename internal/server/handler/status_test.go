package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polymirror/internal/domain"
)

type fakeEquityCache struct {
	equity float64
	ts     time.Time
}

func (f *fakeEquityCache) SetEquity(ctx context.Context, address string, equity float64, ts time.Time) error {
	f.equity, f.ts = equity, ts
	return nil
}

func (f *fakeEquityCache) GetEquity(ctx context.Context, address string) (float64, time.Time, error) {
	if f.ts.IsZero() {
		return 0, time.Time{}, domain.ErrNotFound
	}
	return f.equity, f.ts, nil
}

func TestGetStatus(t *testing.T) {
	now := time.Date(2025, 8, 25, 12, 0, 0, 0, time.UTC)
	cursors := &fakeCursorStore{cursor: domain.CursorState{
		LastTimestamp: 1756100000,
		CopiedKeys:    map[string]int64{"a": 1, "b": 2},
		LastRunAt:     now,
		LastError:     "tok: no liquidity",
	}}
	policy := &fakePolicyStore{policy: domain.DefaultPolicy()}
	trades := &fakeTradeStore{trades: []domain.CopiedTrade{{ID: 1}, {ID: 2}, {ID: 3}}}
	equity := &fakeEquityCache{equity: 512.25, ts: now}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewStatusHandler("copy", "0xsource", "0xtarget", cursors, policy, trades, equity, logger)

	rec := httptest.NewRecorder()
	h.GetStatus(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp statusResponse
	decodeBody(t, rec, &resp)

	assert.Equal(t, "copy", resp.Mode)
	assert.False(t, resp.Enabled)
	assert.Equal(t, "0xsource", resp.SourceWallet)
	assert.Equal(t, int64(1756100000), resp.LastTimestamp)
	assert.Equal(t, 2, resp.TrackedKeys)
	assert.Equal(t, int64(3), resp.TotalCopied)
	assert.Equal(t, "tok: no liquidity", resp.LastError)
	assert.Equal(t, 512.25, resp.Equity)
	assert.NotEmpty(t, resp.LastRunAt)
}

func TestGetStatusWithoutEquityCache(t *testing.T) {
	cursors := &fakeCursorStore{cursor: domain.NewCursorState()}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewStatusHandler("once", "0xs", "0xt", cursors, &fakePolicyStore{policy: domain.DefaultPolicy()}, &fakeTradeStore{}, nil, logger)

	rec := httptest.NewRecorder()
	h.GetStatus(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp statusResponse
	decodeBody(t, rec, &resp)
	assert.Zero(t, resp.Equity)
	assert.Empty(t, resp.EquityAsOf)
}
