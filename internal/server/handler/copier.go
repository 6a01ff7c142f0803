package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/alanyoungcy/polymirror/internal/domain"
	"github.com/alanyoungcy/polymirror/internal/service"
)

// RunTrigger starts a single reconciliation pass on demand.
type RunTrigger interface {
	RunOnce(ctx context.Context) (domain.ReconcileResult, error)
}

// Redeemer sweeps redeemable positions.
type Redeemer interface {
	RedeemAll(ctx context.Context) (service.RedeemSummary, error)
}

// RunHistory reads persisted run summaries back out of the signal bus stream.
type RunHistory interface {
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error)
}

// CopierHandler serves the copier control endpoints: policy, manual trigger,
// cursor reset, the copy log, run history, and redeem.
type CopierHandler struct {
	policy   domain.PolicyStore
	cursors  domain.CursorStore
	trades   domain.CopyTradeStore
	trigger  RunTrigger
	redeemer Redeemer
	history  RunHistory
	runsChan string
	logger   *slog.Logger
}

// NewCopierHandler creates a CopierHandler. redeemer and history may be nil;
// the corresponding endpoints then return 503.
func NewCopierHandler(
	policy domain.PolicyStore,
	cursors domain.CursorStore,
	trades domain.CopyTradeStore,
	trigger RunTrigger,
	redeemer Redeemer,
	history RunHistory,
	runsChan string,
	logger *slog.Logger,
) *CopierHandler {
	return &CopierHandler{
		policy:   policy,
		cursors:  cursors,
		trades:   trades,
		trigger:  trigger,
		redeemer: redeemer,
		history:  history,
		runsChan: runsChan,
		logger:   logger,
	}
}

// policyResponse is the wire form of the policy; durations are seconds.
type policyResponse struct {
	Enabled            bool    `json:"enabled"`
	MinPercent         float64 `json:"min_percent"`
	MaxPercent         float64 `json:"max_percent"`
	MinBetUSD          float64 `json:"min_bet_usd"`
	FirstRunWindowSecs int64   `json:"first_run_window_secs"`
	KeyRetentionSecs   int64   `json:"key_retention_secs"`
	PageLimit          int     `json:"page_limit"`
	LowBalanceFloor    float64 `json:"low_balance_floor"`
	UpdatedAt          string  `json:"updated_at,omitempty"`
}

func toPolicyResponse(p domain.CopyPolicy) policyResponse {
	resp := policyResponse{
		Enabled:            p.Enabled,
		MinPercent:         p.MinPercent,
		MaxPercent:         p.MaxPercent,
		MinBetUSD:          p.MinBetUSD,
		FirstRunWindowSecs: int64(p.FirstRunWindow.Seconds()),
		KeyRetentionSecs:   int64(p.KeyRetention.Seconds()),
		PageLimit:          p.PageLimit,
		LowBalanceFloor:    p.LowBalanceFloor,
	}
	if !p.UpdatedAt.IsZero() {
		resp.UpdatedAt = p.UpdatedAt.UTC().Format(time.RFC3339)
	}
	return resp
}

// GetPolicy returns the active copy policy.
// GET /api/copier/policy
func (h *CopierHandler) GetPolicy(w http.ResponseWriter, r *http.Request) {
	p, err := h.policy.Get(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: get policy failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to read policy")
		return
	}
	writeJSON(w, http.StatusOK, toPolicyResponse(p))
}

// policyPatchRequest mirrors policyResponse with all fields optional.
type policyPatchRequest struct {
	Enabled            *bool    `json:"enabled"`
	MinPercent         *float64 `json:"min_percent"`
	MaxPercent         *float64 `json:"max_percent"`
	MinBetUSD          *float64 `json:"min_bet_usd"`
	FirstRunWindowSecs *int64   `json:"first_run_window_secs"`
	KeyRetentionSecs   *int64   `json:"key_retention_secs"`
	PageLimit          *int     `json:"page_limit"`
	LowBalanceFloor    *float64 `json:"low_balance_floor"`
}

func (req policyPatchRequest) toPatch() domain.PolicyPatch {
	patch := domain.PolicyPatch{
		Enabled:         req.Enabled,
		MinPercent:      req.MinPercent,
		MaxPercent:      req.MaxPercent,
		MinBetUSD:       req.MinBetUSD,
		PageLimit:       req.PageLimit,
		LowBalanceFloor: req.LowBalanceFloor,
	}
	if req.FirstRunWindowSecs != nil {
		d := time.Duration(*req.FirstRunWindowSecs) * time.Second
		patch.FirstRunWindow = &d
	}
	if req.KeyRetentionSecs != nil {
		d := time.Duration(*req.KeyRetentionSecs) * time.Second
		patch.KeyRetention = &d
	}
	return patch
}

func (req policyPatchRequest) validate() string {
	if req.MinPercent != nil && (*req.MinPercent < 0 || *req.MinPercent > 100) {
		return "min_percent must be in [0, 100]"
	}
	if req.MaxPercent != nil && (*req.MaxPercent < 0 || *req.MaxPercent > 100) {
		return "max_percent must be in [0, 100]"
	}
	if req.MinPercent != nil && req.MaxPercent != nil && *req.MinPercent > *req.MaxPercent {
		return "min_percent must not exceed max_percent"
	}
	if req.MinBetUSD != nil && *req.MinBetUSD < 0 {
		return "min_bet_usd must not be negative"
	}
	if req.FirstRunWindowSecs != nil && *req.FirstRunWindowSecs < 0 {
		return "first_run_window_secs must not be negative"
	}
	if req.KeyRetentionSecs != nil && *req.KeyRetentionSecs < 0 {
		return "key_retention_secs must not be negative"
	}
	if req.PageLimit != nil && (*req.PageLimit < 1 || *req.PageLimit > 500) {
		return "page_limit must be in [1, 500]"
	}
	if req.LowBalanceFloor != nil && *req.LowBalanceFloor < 0 {
		return "low_balance_floor must not be negative"
	}
	return ""
}

// UpdatePolicy applies a partial policy update and returns the merged policy.
// PUT /api/copier/policy
func (h *CopierHandler) UpdatePolicy(w http.ResponseWriter, r *http.Request) {
	var req policyPatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if msg := req.validate(); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	merged, err := h.policy.Update(r.Context(), req.toPatch())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: update policy failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to update policy")
		return
	}
	writeJSON(w, http.StatusOK, toPolicyResponse(merged))
}

// triggerResponse summarises a manually triggered pass.
type triggerResponse struct {
	Copied        int     `json:"copied"`
	Failed        int     `json:"failed"`
	Skipped       int     `json:"skipped"`
	LastTimestamp int64   `json:"last_timestamp"`
	Equity        float64 `json:"equity"`
	Error         string  `json:"error,omitempty"`
}

// Trigger runs a single reconciliation pass immediately.
// POST /api/copier/trigger
func (h *CopierHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	if h.trigger == nil {
		writeError(w, http.StatusServiceUnavailable, "copier is not running in this mode")
		return
	}
	res, err := h.trigger.RunOnce(r.Context())
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrLockHeld):
			writeError(w, http.StatusConflict, "a pass is already in flight")
		case errors.Is(err, domain.ErrDisabled):
			writeError(w, http.StatusConflict, "copier is disabled")
		case errors.Is(err, domain.ErrLowBalance):
			writeError(w, http.StatusUnprocessableEntity, err.Error())
		default:
			h.logger.ErrorContext(r.Context(), "handler: trigger failed",
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	writeJSON(w, http.StatusOK, triggerResponse{
		Copied:        res.Copied,
		Failed:        res.Failed,
		Skipped:       res.Skipped,
		LastTimestamp: res.LastTimestamp,
		Equity:        res.Equity,
		Error:         res.Err,
	})
}

// Reset clears the cursor so the next pass behaves like a first run.
// POST /api/copier/reset
func (h *CopierHandler) Reset(w http.ResponseWriter, r *http.Request) {
	if err := h.cursors.Reset(r.Context()); err != nil {
		h.logger.ErrorContext(r.Context(), "handler: reset cursor failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to reset cursor")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// copiedTradeResponse is the wire form of one copy log entry.
type copiedTradeResponse struct {
	ID         int64   `json:"id"`
	Key        string  `json:"key"`
	TxRef      string  `json:"tx_ref"`
	Asset      string  `json:"asset"`
	Direction  string  `json:"direction"`
	Price      float64 `json:"price"`
	SourceSize float64 `json:"source_size"`
	CopiedSize float64 `json:"copied_size"`
	OrderID    string  `json:"order_id,omitempty"`
	Title      string  `json:"title,omitempty"`
	Outcome    string  `json:"outcome,omitempty"`
	SourceTime string  `json:"source_time"`
	CopiedAt   string  `json:"copied_at"`
}

// listTradesResponse wraps the copy log listing.
type listTradesResponse struct {
	Trades []copiedTradeResponse `json:"trades"`
	Total  int64                 `json:"total"`
}

// ListTrades returns the copy log, newest first.
// GET /api/copier/trades?limit=&offset=&since=&until=
func (h *CopierHandler) ListTrades(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)

	trades, err := h.trades.List(r.Context(), opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list trades failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list trades")
		return
	}

	total, err := h.trades.Count(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: count trades failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to count trades")
		return
	}

	resp := listTradesResponse{Trades: make([]copiedTradeResponse, 0, len(trades)), Total: total}
	for _, t := range trades {
		resp.Trades = append(resp.Trades, copiedTradeResponse{
			ID:         t.ID,
			Key:        t.Key,
			TxRef:      t.TxRef,
			Asset:      t.Asset,
			Direction:  string(t.Direction),
			Price:      t.Price,
			SourceSize: t.SourceSize,
			CopiedSize: t.CopiedSize,
			OrderID:    t.OrderID,
			Title:      t.Title,
			Outcome:    t.Outcome,
			SourceTime: t.SourceTime.UTC().Format(time.RFC3339),
			CopiedAt:   t.CopiedAt.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// runEntry is one replayed run summary; payload is the frame the runner
// published, passed through verbatim.
type runEntry struct {
	ID      string          `json:"id"`
	Summary json.RawMessage `json:"summary"`
}

// ListRuns replays recent run summaries from the durable stream.
// GET /api/copier/runs?after=<stream id>&limit=
func (h *CopierHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeError(w, http.StatusServiceUnavailable, "run history unavailable")
		return
	}

	after := r.URL.Query().Get("after")
	if after == "" {
		after = "0"
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	msgs, err := h.history.StreamRead(r.Context(), h.runsChan, after, limit)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: read run history failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to read run history")
		return
	}

	runs := make([]runEntry, 0, len(msgs))
	for _, m := range msgs {
		runs = append(runs, runEntry{ID: m.ID, Summary: json.RawMessage(m.Payload)})
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

// Redeem sweeps redeemable positions and sells them at settlement value.
// POST /api/copier/redeem
func (h *CopierHandler) Redeem(w http.ResponseWriter, r *http.Request) {
	if h.redeemer == nil {
		writeError(w, http.StatusServiceUnavailable, "redeem unavailable")
		return
	}

	summary, err := h.redeemer.RedeemAll(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: redeem failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, summary)
}
