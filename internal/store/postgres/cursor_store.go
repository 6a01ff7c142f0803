package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/polymirror/internal/domain"
)

// CursorStore implements domain.CursorStore using PostgreSQL. The cursor is
// a single row; writes are last-writer-wins, which is safe because the run
// lock serializes passes.
type CursorStore struct {
	pool *pgxpool.Pool
}

// NewCursorStore creates a new CursorStore backed by the given connection pool.
func NewCursorStore(pool *pgxpool.Pool) *CursorStore {
	return &CursorStore{pool: pool}
}

var _ domain.CursorStore = (*CursorStore)(nil)

// Get returns the persisted cursor, or a virgin cursor if none has been
// written yet.
func (s *CursorStore) Get(ctx context.Context) (domain.CursorState, error) {
	const query = `
		SELECT last_timestamp, copied_keys, last_run_at, last_copied_at, last_error
		FROM copier_cursor WHERE id = 1`

	var (
		c            domain.CursorState
		keysJSON     []byte
		lastRunAt    *time.Time
		lastCopiedAt *time.Time
	)

	err := s.pool.QueryRow(ctx, query).Scan(
		&c.LastTimestamp, &keysJSON, &lastRunAt, &lastCopiedAt, &c.LastError,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.NewCursorState(), nil
		}
		return domain.CursorState{}, fmt.Errorf("postgres: get cursor: %w", err)
	}

	c.CopiedKeys = make(map[string]int64)
	if len(keysJSON) > 0 {
		if err := json.Unmarshal(keysJSON, &c.CopiedKeys); err != nil {
			return domain.CursorState{}, fmt.Errorf("postgres: unmarshal copied keys: %w", err)
		}
	}
	if lastRunAt != nil {
		c.LastRunAt = *lastRunAt
	}
	if lastCopiedAt != nil {
		c.LastCopiedAt = *lastCopiedAt
	}
	return c, nil
}

// Put replaces the cursor row with the given snapshot.
func (s *CursorStore) Put(ctx context.Context, c domain.CursorState) error {
	keysJSON, err := json.Marshal(c.CopiedKeys)
	if err != nil {
		return fmt.Errorf("postgres: marshal copied keys: %w", err)
	}

	const query = `
		INSERT INTO copier_cursor (id, last_timestamp, copied_keys, last_run_at, last_copied_at, last_error, updated_at)
		VALUES (1, $1, $2, $3, $4, $5, NOW())
		ON CONFLICT (id) DO UPDATE SET
			last_timestamp = EXCLUDED.last_timestamp,
			copied_keys    = EXCLUDED.copied_keys,
			last_run_at    = EXCLUDED.last_run_at,
			last_copied_at = EXCLUDED.last_copied_at,
			last_error     = EXCLUDED.last_error,
			updated_at     = NOW()`

	_, err = s.pool.Exec(ctx, query,
		c.LastTimestamp, keysJSON, nullableTime(c.LastRunAt), nullableTime(c.LastCopiedAt), c.LastError,
	)
	if err != nil {
		return fmt.Errorf("postgres: put cursor: %w", err)
	}
	return nil
}

// Reset clears last_timestamp and copied_keys to their zero values, re-arming
// first-run behavior. Run metadata is preserved.
func (s *CursorStore) Reset(ctx context.Context) error {
	const query = `
		UPDATE copier_cursor
		SET last_timestamp = 0, copied_keys = '{}'::jsonb, last_error = '', updated_at = NOW()
		WHERE id = 1`

	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("postgres: reset cursor: %w", err)
	}
	return nil
}

// nullableTime maps the zero time to SQL NULL.
func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}
