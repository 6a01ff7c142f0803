package domain

import "time"

// CopyPolicy controls whether and how observed trades are mirrored. Sizing
// interpolates the equity fraction between MinPercent and MaxPercent by the
// observed price, so long-shot entries risk less than near-certain ones.
type CopyPolicy struct {
	Enabled    bool
	MinPercent float64 // equity % risked at price 0
	MaxPercent float64 // equity % risked at price 1
	MinBetUSD  float64 // bets sizing below this are skipped, at or above are clamped up

	// FirstRunWindow bounds how far back a virgin cursor will copy. Events
	// older than the window are skipped without recording keys.
	FirstRunWindow time.Duration

	// KeyRetention bounds CopiedKeys growth: keys older than
	// lastTimestamp - KeyRetention are evicted from the proposed next cursor.
	KeyRetention time.Duration

	// PageLimit is how many feed entries each pass fetches.
	PageLimit int

	// LowBalanceFloor aborts a pass when equity falls below it.
	LowBalanceFloor float64

	UpdatedAt time.Time
}

// DefaultPolicy returns the copier's out-of-the-box policy.
func DefaultPolicy() CopyPolicy {
	return CopyPolicy{
		Enabled:         false,
		MinPercent:      0.5,
		MaxPercent:      5.0,
		MinBetUSD:       1.0,
		FirstRunWindow:  5 * time.Minute,
		KeyRetention:    24 * time.Hour,
		PageLimit:       50,
		LowBalanceFloor: 1.0,
	}
}

// PolicyPatch is a partial policy update; nil fields keep the stored value.
type PolicyPatch struct {
	Enabled         *bool
	MinPercent      *float64
	MaxPercent      *float64
	MinBetUSD       *float64
	FirstRunWindow  *time.Duration
	KeyRetention    *time.Duration
	PageLimit       *int
	LowBalanceFloor *float64
}

// Apply merges the patch onto p and returns the result.
func (patch PolicyPatch) Apply(p CopyPolicy) CopyPolicy {
	if patch.Enabled != nil {
		p.Enabled = *patch.Enabled
	}
	if patch.MinPercent != nil {
		p.MinPercent = *patch.MinPercent
	}
	if patch.MaxPercent != nil {
		p.MaxPercent = *patch.MaxPercent
	}
	if patch.MinBetUSD != nil {
		p.MinBetUSD = *patch.MinBetUSD
	}
	if patch.FirstRunWindow != nil {
		p.FirstRunWindow = *patch.FirstRunWindow
	}
	if patch.KeyRetention != nil {
		p.KeyRetention = *patch.KeyRetention
	}
	if patch.PageLimit != nil {
		p.PageLimit = *patch.PageLimit
	}
	if patch.LowBalanceFloor != nil {
		p.LowBalanceFloor = *patch.LowBalanceFloor
	}
	return p
}
