package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/polymirror/internal/domain"
)

// CopyTradeStore implements domain.CopyTradeStore using PostgreSQL.
type CopyTradeStore struct {
	pool *pgxpool.Pool
}

// NewCopyTradeStore creates a new CopyTradeStore backed by the given
// connection pool.
func NewCopyTradeStore(pool *pgxpool.Pool) *CopyTradeStore {
	return &CopyTradeStore{pool: pool}
}

var _ domain.CopyTradeStore = (*CopyTradeStore)(nil)

const copiedTradeCols = `id, key, tx_ref, asset, direction, price,
	source_size, copied_size, order_id, title, outcome, source_time, copied_at`

func scanCopiedTradeRows(rows pgx.Rows) ([]domain.CopiedTrade, error) {
	var trades []domain.CopiedTrade
	for rows.Next() {
		var t domain.CopiedTrade
		if err := rows.Scan(
			&t.ID, &t.Key, &t.TxRef, &t.Asset, &t.Direction, &t.Price,
			&t.SourceSize, &t.CopiedSize, &t.OrderID, &t.Title, &t.Outcome,
			&t.SourceTime, &t.CopiedAt,
		); err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// Append inserts copied trades using a pgx Batch. Re-appending the same key
// is silently skipped via ON CONFLICT DO NOTHING, which keeps the log
// idempotent should a run be replayed.
func (s *CopyTradeStore) Append(ctx context.Context, trades []domain.CopiedTrade) error {
	if len(trades) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	const query = `
		INSERT INTO copied_trades (
			key, tx_ref, asset, direction, price,
			source_size, copied_size, order_id, title, outcome,
			source_time, copied_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10,
			$11, $12
		) ON CONFLICT (key) DO NOTHING`

	for _, t := range trades {
		batch.Queue(query,
			t.Key, t.TxRef, t.Asset, string(t.Direction), t.Price,
			t.SourceSize, t.CopiedSize, t.OrderID, t.Title, t.Outcome,
			t.SourceTime.UTC(), t.CopiedAt.UTC(),
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := range trades {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: append copied trade %d: %w", i, err)
		}
	}
	return nil
}

// List returns copied trades, newest first, with pagination and optional
// time filtering.
func (s *CopyTradeStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.CopiedTrade, error) {
	query := `SELECT ` + copiedTradeCols + ` FROM copied_trades WHERE 1=1`
	args := []any{}
	argIdx := 1

	if opts.Since != nil {
		query += fmt.Sprintf(" AND copied_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND copied_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY copied_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list copied trades: %w", err)
	}
	defer rows.Close()

	trades, err := scanCopiedTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan copied trades: %w", err)
	}
	return trades, nil
}

// Count returns the total number of copied trades.
func (s *CopyTradeStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM copied_trades`).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count copied trades: %w", err)
	}
	return n, nil
}

// ListBefore returns all copied trades recorded strictly before the given
// time, oldest first (for archiving).
func (s *CopyTradeStore) ListBefore(ctx context.Context, before time.Time) ([]domain.CopiedTrade, error) {
	query := `SELECT ` + copiedTradeCols + ` FROM copied_trades WHERE copied_at < $1 ORDER BY copied_at ASC`
	rows, err := s.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list copied trades before: %w", err)
	}
	defer rows.Close()
	return scanCopiedTradeRows(rows)
}

// DeleteBefore deletes all copied trades recorded before the given time.
// Returns the number deleted.
func (s *CopyTradeStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM copied_trades WHERE copied_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete copied trades before: %w", err)
	}
	return tag.RowsAffected(), nil
}
