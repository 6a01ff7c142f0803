package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// CursorStore persists the copier's progress marker. Write replaces the
// key/timestamp fields with the snapshot the engine returned and merges run
// metadata; Reset zeroes the cursor so the next pass behaves like a first run.
type CursorStore interface {
	Get(ctx context.Context) (CursorState, error)
	Put(ctx context.Context, c CursorState) error
	Reset(ctx context.Context) error
}

// PolicyStore persists the copy policy. Update applies a partial patch and
// returns the merged result.
type PolicyStore interface {
	Get(ctx context.Context) (CopyPolicy, error)
	Update(ctx context.Context, patch PolicyPatch) (CopyPolicy, error)
}

// CopyTradeStore is the append-only log of successfully mirrored trades.
// ListBefore and DeleteBefore support archival to cold storage so the log
// stays bounded.
type CopyTradeStore interface {
	Append(ctx context.Context, trades []CopiedTrade) error
	List(ctx context.Context, opts ListOpts) ([]CopiedTrade, error)
	Count(ctx context.Context) (int64, error)
	ListBefore(ctx context.Context, before time.Time) ([]CopiedTrade, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
