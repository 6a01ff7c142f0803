package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/polymirror/internal/domain"
)

// StatusHandler serves the copier status snapshot for the dashboard.
type StatusHandler struct {
	mode    string
	source  string
	target  string
	cursors domain.CursorStore
	policy  domain.PolicyStore
	trades  domain.CopyTradeStore
	equity  domain.EquityCache
	logger  *slog.Logger
}

// NewStatusHandler creates a StatusHandler. equity may be nil.
func NewStatusHandler(
	mode, source, target string,
	cursors domain.CursorStore,
	policy domain.PolicyStore,
	trades domain.CopyTradeStore,
	equity domain.EquityCache,
	logger *slog.Logger,
) *StatusHandler {
	return &StatusHandler{
		mode:    mode,
		source:  source,
		target:  target,
		cursors: cursors,
		policy:  policy,
		trades:  trades,
		equity:  equity,
		logger:  logger,
	}
}

// statusResponse is the wire form of the status snapshot.
type statusResponse struct {
	Mode          string  `json:"mode"`
	Enabled       bool    `json:"enabled"`
	SourceWallet  string  `json:"source_wallet"`
	TargetWallet  string  `json:"target_wallet"`
	LastTimestamp int64   `json:"last_timestamp"`
	TrackedKeys   int     `json:"tracked_keys"`
	LastRunAt     string  `json:"last_run_at,omitempty"`
	LastCopiedAt  string  `json:"last_copied_at,omitempty"`
	LastError     string  `json:"last_error,omitempty"`
	TotalCopied   int64   `json:"total_copied"`
	Equity        float64 `json:"equity,omitempty"`
	EquityAsOf    string  `json:"equity_as_of,omitempty"`
}

// GetStatus responds with the copier's current state: policy gate, cursor
// progress, copy log size, and the last cached equity observation.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	cursor, err := h.cursors.Get(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "handler: status cursor read failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to read cursor")
		return
	}

	policy, err := h.policy.Get(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "handler: status policy read failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to read policy")
		return
	}

	total, err := h.trades.Count(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "handler: status trade count failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to count trades")
		return
	}

	resp := statusResponse{
		Mode:          h.mode,
		Enabled:       policy.Enabled,
		SourceWallet:  h.source,
		TargetWallet:  h.target,
		LastTimestamp: cursor.LastTimestamp,
		TrackedKeys:   len(cursor.CopiedKeys),
		LastError:     cursor.LastError,
		TotalCopied:   total,
	}
	if !cursor.LastRunAt.IsZero() {
		resp.LastRunAt = cursor.LastRunAt.UTC().Format(time.RFC3339)
	}
	if !cursor.LastCopiedAt.IsZero() {
		resp.LastCopiedAt = cursor.LastCopiedAt.UTC().Format(time.RFC3339)
	}

	if h.equity != nil {
		equity, asOf, err := h.equity.GetEquity(ctx, h.target)
		if err == nil {
			resp.Equity = equity
			resp.EquityAsOf = asOf.UTC().Format(time.RFC3339)
		} else if !errors.Is(err, domain.ErrNotFound) {
			h.logger.WarnContext(ctx, "handler: equity cache read failed",
				slog.String("error", err.Error()),
			)
		}
	}

	writeJSON(w, http.StatusOK, resp)
}
