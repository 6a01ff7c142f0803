package copytrader

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/polymirror/internal/domain"
)

// Signal bus channels the runner publishes on.
const (
	ChannelRuns   = "copier.runs"
	ChannelTrades = "copier.trades"
)

// runLockKey serializes passes across processes. Held for the duration of a
// pass; overlapping triggers observe ErrLockHeld and skip.
const runLockKey = "copier:run"

// Notifier is the slice of the notification system the runner uses.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// RunnerConfig carries the runner's scheduling knobs.
type RunnerConfig struct {
	Interval time.Duration // polling interval for the copy loop
	LockTTL  time.Duration // run lock expiry, bounds a crashed pass
}

// Runner owns everything the engine deliberately does not: scheduling,
// single-flight locking, cursor persistence, the copy log, auditing, and
// operator-facing fan-out. A pass that faults before producing a result
// persists only run metadata, never keys or timestamps.
type Runner struct {
	cfg     RunnerConfig
	engine  *Engine
	cursors domain.CursorStore
	policy  domain.PolicyStore
	trades  domain.CopyTradeStore
	audit   domain.AuditStore
	locks   domain.LockManager
	bus     domain.SignalBus
	equity  domain.EquityCache
	notify  Notifier
	logger  *slog.Logger
}

// NewRunner wires a runner. bus, equity, and notify may be nil; audit may not.
func NewRunner(
	cfg RunnerConfig,
	engine *Engine,
	cursors domain.CursorStore,
	policy domain.PolicyStore,
	trades domain.CopyTradeStore,
	audit domain.AuditStore,
	locks domain.LockManager,
	bus domain.SignalBus,
	equity domain.EquityCache,
	notify Notifier,
	logger *slog.Logger,
) *Runner {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 2 * time.Minute
	}
	return &Runner{
		cfg:     cfg,
		engine:  engine,
		cursors: cursors,
		policy:  policy,
		trades:  trades,
		audit:   audit,
		locks:   locks,
		bus:     bus,
		equity:  equity,
		notify:  notify,
		logger:  logger.With(slog.String("component", "copy_runner")),
	}
}

// Run executes passes on the configured interval until ctx is cancelled. An
// individual pass failing (including losing the lock race) never stops the
// loop.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "copy loop starting",
		slog.Duration("interval", r.cfg.Interval),
	)

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		if _, err := r.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			r.logRunError(ctx, err)
		}

		select {
		case <-ctx.Done():
			r.logger.InfoContext(ctx, "copy loop stopping")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce executes a single reconciliation pass end to end: lock, read policy
// and cursor, reconcile, persist, log, fan out. Returns ErrLockHeld when
// another pass is in flight and ErrDisabled when the policy gate is off.
func (r *Runner) RunOnce(ctx context.Context) (domain.ReconcileResult, error) {
	unlock, err := r.locks.Acquire(ctx, runLockKey, r.cfg.LockTTL)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			return domain.ReconcileResult{}, domain.ErrLockHeld
		}
		return domain.ReconcileResult{}, fmt.Errorf("copytrader: acquire run lock: %w", err)
	}
	defer unlock()

	policy, err := r.policy.Get(ctx)
	if err != nil {
		return domain.ReconcileResult{}, fmt.Errorf("copytrader: read policy: %w", err)
	}
	if !policy.Enabled {
		return domain.ReconcileResult{}, domain.ErrDisabled
	}

	cursor, err := r.cursors.Get(ctx)
	if err != nil {
		return domain.ReconcileResult{}, fmt.Errorf("copytrader: read cursor: %w", err)
	}

	now := time.Now().UTC()
	res, runErr := r.engine.Reconcile(ctx, policy, cursor)
	if runErr != nil {
		// Whole-run fault: keys and timestamp from this pass are suspect, so
		// only run metadata is persisted.
		cursor.LastRunAt = now
		cursor.LastError = runErr.Error()
		if perr := r.cursors.Put(ctx, cursor); perr != nil {
			r.logger.ErrorContext(ctx, "persist cursor after fault failed",
				slog.String("error", perr.Error()),
			)
		}
		r.fanOutFault(ctx, runErr)
		return domain.ReconcileResult{}, runErr
	}

	next := cursor
	next.LastTimestamp = res.LastTimestamp
	next.CopiedKeys = res.CopiedKeys
	next.LastRunAt = now
	next.LastError = res.Err
	if res.Copied > 0 {
		next.LastCopiedAt = now
	}
	if err := r.cursors.Put(ctx, next); err != nil {
		return res, fmt.Errorf("copytrader: persist cursor: %w", err)
	}

	if len(res.CopiedTrades) > 0 {
		if err := r.trades.Append(ctx, res.CopiedTrades); err != nil {
			r.logger.ErrorContext(ctx, "append copy log failed",
				slog.String("error", err.Error()),
			)
		}
	}

	if err := r.audit.Log(ctx, "copier.run", map[string]any{
		"copied":         res.Copied,
		"failed":         res.Failed,
		"skipped":        res.Skipped,
		"last_timestamp": res.LastTimestamp,
		"equity":         res.Equity,
		"error":          res.Err,
	}); err != nil {
		r.logger.ErrorContext(ctx, "audit log failed",
			slog.String("error", err.Error()),
		)
	}

	if r.equity != nil {
		if err := r.equity.SetEquity(ctx, r.engine.pair.Target, res.Equity, now); err != nil {
			r.logger.DebugContext(ctx, "cache equity failed", slog.String("error", err.Error()))
		}
	}

	r.publish(ctx, res, now)
	r.notifyOutcome(ctx, res)

	r.logger.InfoContext(ctx, "pass complete",
		slog.Int("copied", res.Copied),
		slog.Int("failed", res.Failed),
		slog.Int("skipped", res.Skipped),
		slog.Int64("last_timestamp", res.LastTimestamp),
	)
	return res, nil
}

// runSummary is the JSON frame published after every clean pass.
type runSummary struct {
	Copied        int     `json:"copied"`
	Failed        int     `json:"failed"`
	Skipped       int     `json:"skipped"`
	LastTimestamp int64   `json:"last_timestamp"`
	Equity        float64 `json:"equity"`
	Error         string  `json:"error,omitempty"`
	At            string  `json:"at"`
}

func (r *Runner) publish(ctx context.Context, res domain.ReconcileResult, at time.Time) {
	if r.bus == nil {
		return
	}

	summary, err := json.Marshal(runSummary{
		Copied:        res.Copied,
		Failed:        res.Failed,
		Skipped:       res.Skipped,
		LastTimestamp: res.LastTimestamp,
		Equity:        res.Equity,
		Error:         res.Err,
		At:            at.Format(time.RFC3339),
	})
	if err == nil {
		if err := r.bus.Publish(ctx, ChannelRuns, summary); err != nil {
			r.logger.DebugContext(ctx, "publish run summary failed",
				slog.String("error", err.Error()),
			)
		}
		// Durable copy for run history replay over the API.
		if err := r.bus.StreamAppend(ctx, ChannelRuns, summary); err != nil {
			r.logger.DebugContext(ctx, "stream append run summary failed",
				slog.String("error", err.Error()),
			)
		}
	}

	for _, t := range res.CopiedTrades {
		frame, err := json.Marshal(t)
		if err != nil {
			continue
		}
		if err := r.bus.Publish(ctx, ChannelTrades, frame); err != nil {
			r.logger.DebugContext(ctx, "publish copied trade failed",
				slog.String("error", err.Error()),
			)
		}
	}
}

func (r *Runner) notifyOutcome(ctx context.Context, res domain.ReconcileResult) {
	if r.notify == nil {
		return
	}

	if res.Copied > 0 {
		msg := fmt.Sprintf("Copied %d trade(s), equity $%.2f", res.Copied, res.Equity)
		if err := r.notify.Notify(ctx, "trade_copied", "Trades copied", msg); err != nil {
			r.logger.DebugContext(ctx, "notify failed", slog.String("error", err.Error()))
		}
	}
	if res.Failed > 0 {
		msg := fmt.Sprintf("%d copy attempt(s) failed: %s", res.Failed, res.Err)
		if err := r.notify.Notify(ctx, "copy_failed", "Copy failures", msg); err != nil {
			r.logger.DebugContext(ctx, "notify failed", slog.String("error", err.Error()))
		}
	}
}

func (r *Runner) fanOutFault(ctx context.Context, runErr error) {
	if r.audit != nil {
		if err := r.audit.Log(ctx, "copier.run_fault", map[string]any{
			"error": runErr.Error(),
		}); err != nil {
			r.logger.ErrorContext(ctx, "audit log failed",
				slog.String("error", err.Error()),
			)
		}
	}
	if r.notify == nil {
		return
	}
	event, title := "error", "Copier run failed"
	if errors.Is(runErr, domain.ErrLowBalance) {
		event, title = "low_balance", "Copier balance low"
	}
	if err := r.notify.Notify(ctx, event, title, runErr.Error()); err != nil {
		r.logger.DebugContext(ctx, "notify failed", slog.String("error", err.Error()))
	}
}

func (r *Runner) logRunError(ctx context.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrDisabled):
		r.logger.DebugContext(ctx, "copier disabled, pass skipped")
	case errors.Is(err, domain.ErrLockHeld):
		r.logger.DebugContext(ctx, "pass already in flight, skipped")
	default:
		r.logger.ErrorContext(ctx, "pass failed", slog.String("error", err.Error()))
	}
}
