package copytrader

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alanyoungcy/polymirror/internal/domain"
)

// Pair names the tracked and controlled accounts for one engine instance.
// One engine mirrors exactly one pair; running several pairs means running
// several engines.
type Pair struct {
	Source string // address whose trades are observed
	Target string // address whose funds place the replicas
}

// Engine performs one reconciliation pass at a time. It is purely
// computational apart from the three external touch points (equity fetch,
// activity fetch, order submission) and never persists state; the caller owns
// the cursor.
type Engine struct {
	pair     Pair
	balance  domain.BalanceSource
	activity domain.ActivitySource
	exec     domain.OrderExecutor
	logger   *slog.Logger
	now      func() time.Time
}

// NewEngine creates an engine for the given pair.
func NewEngine(pair Pair, balance domain.BalanceSource, activity domain.ActivitySource, exec domain.OrderExecutor, logger *slog.Logger) *Engine {
	return &Engine{
		pair:     pair,
		balance:  balance,
		activity: activity,
		exec:     exec,
		logger:   logger.With(slog.String("component", "copy_engine")),
		now:      time.Now,
	}
}

// Reconcile runs a single pass: fetch equity and the freshest activity page,
// select the new, not-yet-copied, eligible events in feed order, submit one
// fill-or-kill order per event, and return the proposed next cursor state.
//
// A fetch failure or a low balance aborts the whole pass with an error and no
// proposed state; the caller must not persist anything from it. Per-event
// failures are isolated: they are counted, aggregated into Result.Err, and
// leave that event eligible for the next pass, without blocking later events.
func (e *Engine) Reconcile(ctx context.Context, policy domain.CopyPolicy, cursor domain.CursorState) (domain.ReconcileResult, error) {
	equity, err := e.balance.GetBalance(ctx, e.pair.Target)
	if err != nil {
		return domain.ReconcileResult{}, fmt.Errorf("copytrader: fetch balance: %w", err)
	}
	if equity < policy.LowBalanceFloor {
		return domain.ReconcileResult{}, fmt.Errorf("copytrader: equity %.2f below floor %.2f: %w",
			equity, policy.LowBalanceFloor, domain.ErrLowBalance)
	}

	page, err := e.activity.GetActivity(ctx, e.pair.Source, policy.PageLimit)
	if err != nil {
		return domain.ReconcileResult{}, fmt.Errorf("copytrader: fetch activity: %w", err)
	}

	events := NormalizeActivity(page)
	firstRun := cursor.FirstRun()
	next := cursor.Clone()
	now := e.now()

	res := domain.ReconcileResult{
		LastTimestamp: cursor.LastTimestamp,
		Equity:        equity,
	}
	var failures []string

	// Feed order is newest first; iteration preserves it so timestamp
	// advancement happens against one consistent pass.
	for _, ev := range events {
		if ev.Timestamp <= cursor.LastTimestamp {
			res.Skipped++
			continue
		}
		if firstRun && policy.FirstRunWindow > 0 {
			if now.Sub(time.Unix(ev.Timestamp, 0)) > policy.FirstRunWindow {
				res.Skipped++
				continue
			}
		}

		key := ev.CopyKey()
		if _, done := next.CopiedKeys[key]; done {
			res.Skipped++
			continue
		}

		bet := BetSize(equity, ev.Price, policy.MinPercent, policy.MaxPercent, policy.MinBetUSD)
		if bet < policy.MinBetUSD || bet <= 0 {
			res.Skipped++
			continue
		}

		// Sells cap the fill at the observed price; buys fill at book so a
		// fill-or-kill order is not killed by a tick of movement.
		var limit *float64
		if ev.Direction == domain.DirectionSell {
			p := ev.Price
			limit = &p
		}

		receipt, err := e.exec.SubmitFillOrKill(ctx, ev.Asset, ev.Direction, bet, limit)
		if err != nil {
			res.Failed++
			failures = append(failures, fmt.Sprintf("%s: %v", key, err))
			e.logger.WarnContext(ctx, "order submission failed",
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
			continue
		}
		if !receipt.Success {
			res.Failed++
			failures = append(failures, fmt.Sprintf("%s: %s", key, receipt.ErrorMsg))
			e.logger.WarnContext(ctx, "order rejected",
				slog.String("key", key),
				slog.String("reason", receipt.ErrorMsg),
			)
			continue
		}

		next.CopiedKeys[key] = ev.Timestamp
		// The cursor advances to the newest success in the pass. A failed
		// event with an older timestamp falls behind it and is not retried
		// on later passes; only failures newer than every success are.
		if ev.Timestamp > res.LastTimestamp {
			res.LastTimestamp = ev.Timestamp
		}
		res.Copied++
		res.CopiedTrades = append(res.CopiedTrades, domain.CopiedTrade{
			Key:        key,
			TxRef:      ev.TransactionRef,
			Asset:      ev.Asset,
			Direction:  ev.Direction,
			Price:      ev.Price,
			SourceSize: ev.Size,
			CopiedSize: bet,
			OrderID:    receipt.OrderID,
			Title:      ev.Title,
			Outcome:    ev.Outcome,
			SourceTime: time.Unix(ev.Timestamp, 0).UTC(),
			CopiedAt:   now.UTC(),
		})

		e.logger.InfoContext(ctx, "trade copied",
			slog.String("asset", ev.Asset),
			slog.String("direction", string(ev.Direction)),
			slog.Float64("price", ev.Price),
			slog.Float64("notional_usd", bet),
			slog.String("order_id", receipt.OrderID),
		)
	}

	res.CopiedKeys = evictKeys(next.CopiedKeys, res.LastTimestamp, policy.KeyRetention)
	res.Err = strings.Join(failures, "; ")

	return res, nil
}

// evictKeys drops keys whose originating event is older than the proposed
// lastTimestamp by more than the retention horizon. Anything that old is
// already excluded by the timestamp check, so the dedup memory stays bounded
// without weakening the exactly-once guarantee. A zero retention disables
// eviction.
func evictKeys(keys map[string]int64, lastTimestamp int64, retention time.Duration) map[string]int64 {
	if retention <= 0 {
		return keys
	}
	horizon := lastTimestamp - int64(retention.Seconds())
	for k, ts := range keys {
		if ts < horizon {
			delete(keys, k)
		}
	}
	return keys
}
