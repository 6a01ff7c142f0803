package domain

import "time"

// CursorState is the copier's durable progress marker. LastTimestamp only
// moves forward; CopiedKeys maps each copied dedup key to the timestamp of
// its originating event, which is what key eviction prunes on. The
// reconciliation engine receives a snapshot and returns a proposed
// replacement; it never persists state itself.
type CursorState struct {
	LastTimestamp int64            // unix seconds of the newest processed event
	CopiedKeys    map[string]int64 // CopyKey -> originating event timestamp
	LastRunAt     time.Time        // when a pass last completed (any outcome)
	LastCopiedAt  time.Time        // when a trade was last copied
	LastError     string           // error summary of the last pass, "" if clean
}

// NewCursorState returns a virgin cursor. A virgin cursor arms the first-run
// recency window: only events newer than the window get copied on the first
// pass.
func NewCursorState() CursorState {
	return CursorState{CopiedKeys: make(map[string]int64)}
}

// FirstRun reports whether the cursor has never recorded progress.
func (c CursorState) FirstRun() bool {
	return c.LastTimestamp == 0 && len(c.CopiedKeys) == 0
}

// Clone returns a deep copy so the engine can build a proposed next cursor
// without mutating the caller's snapshot.
func (c CursorState) Clone() CursorState {
	out := c
	out.CopiedKeys = make(map[string]int64, len(c.CopiedKeys))
	for k, ts := range c.CopiedKeys {
		out.CopiedKeys[k] = ts
	}
	return out
}

// ReconcileResult is the outcome of a single reconciliation pass. The caller
// persists LastTimestamp and CopiedKeys verbatim and merges its own run
// metadata on top.
type ReconcileResult struct {
	Copied        int
	Failed        int
	Skipped       int
	Err           string // semicolon-joined per-event failures, "" if clean
	LastTimestamp int64
	CopiedKeys    map[string]int64
	CopiedTrades  []CopiedTrade
	Equity        float64
}
