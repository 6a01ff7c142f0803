package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/polymirror/internal/domain"
)

// PolicyStore implements domain.PolicyStore using PostgreSQL. The policy is a
// single row; Update is merge-on-write under a row lock so concurrent partial
// updates never clobber each other's fields.
type PolicyStore struct {
	pool *pgxpool.Pool
}

// NewPolicyStore creates a new PolicyStore backed by the given connection pool.
func NewPolicyStore(pool *pgxpool.Pool) *PolicyStore {
	return &PolicyStore{pool: pool}
}

var _ domain.PolicyStore = (*PolicyStore)(nil)

const policySelect = `
	SELECT enabled, min_percent, max_percent, min_bet_usd,
	       first_run_window_secs, key_retention_secs, page_limit,
	       low_balance_floor, updated_at
	FROM copier_policy WHERE id = 1`

// Get returns the stored policy, or the default policy if none has been
// written yet.
func (s *PolicyStore) Get(ctx context.Context) (domain.CopyPolicy, error) {
	p, err := scanPolicy(s.pool.QueryRow(ctx, policySelect))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.DefaultPolicy(), nil
		}
		return domain.CopyPolicy{}, fmt.Errorf("postgres: get policy: %w", err)
	}
	return p, nil
}

// Update applies a partial patch and returns the merged policy. The merge
// happens inside a transaction with the row locked.
func (s *PolicyStore) Update(ctx context.Context, patch domain.PolicyPatch) (domain.CopyPolicy, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.CopyPolicy{}, fmt.Errorf("postgres: begin policy update: %w", err)
	}
	defer tx.Rollback(ctx)

	current, err := scanPolicy(tx.QueryRow(ctx, policySelect+" FOR UPDATE"))
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return domain.CopyPolicy{}, fmt.Errorf("postgres: read policy for update: %w", err)
		}
		current = domain.DefaultPolicy()
	}

	merged := patch.Apply(current)

	const upsert = `
		INSERT INTO copier_policy (id, enabled, min_percent, max_percent, min_bet_usd,
			first_run_window_secs, key_retention_secs, page_limit, low_balance_floor, updated_at)
		VALUES (1, $1, $2, $3, $4, $5, $6, $7, $8, NOW())
		ON CONFLICT (id) DO UPDATE SET
			enabled               = EXCLUDED.enabled,
			min_percent           = EXCLUDED.min_percent,
			max_percent           = EXCLUDED.max_percent,
			min_bet_usd           = EXCLUDED.min_bet_usd,
			first_run_window_secs = EXCLUDED.first_run_window_secs,
			key_retention_secs    = EXCLUDED.key_retention_secs,
			page_limit            = EXCLUDED.page_limit,
			low_balance_floor     = EXCLUDED.low_balance_floor,
			updated_at            = NOW()`

	_, err = tx.Exec(ctx, upsert,
		merged.Enabled, merged.MinPercent, merged.MaxPercent, merged.MinBetUSD,
		int64(merged.FirstRunWindow.Seconds()), int64(merged.KeyRetention.Seconds()),
		merged.PageLimit, merged.LowBalanceFloor,
	)
	if err != nil {
		return domain.CopyPolicy{}, fmt.Errorf("postgres: upsert policy: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.CopyPolicy{}, fmt.Errorf("postgres: commit policy update: %w", err)
	}

	merged.UpdatedAt = time.Now().UTC()
	return merged, nil
}

func scanPolicy(row pgx.Row) (domain.CopyPolicy, error) {
	var (
		p           domain.CopyPolicy
		windowSecs  int64
		retainSecs  int64
	)
	err := row.Scan(
		&p.Enabled, &p.MinPercent, &p.MaxPercent, &p.MinBetUSD,
		&windowSecs, &retainSecs, &p.PageLimit, &p.LowBalanceFloor, &p.UpdatedAt,
	)
	if err != nil {
		return domain.CopyPolicy{}, err
	}
	p.FirstRunWindow = time.Duration(windowSecs) * time.Second
	p.KeyRetention = time.Duration(retainSecs) * time.Second
	return p, nil
}
