package domain

import (
	"context"
	"time"
)

// LockManager provides distributed locking. The copier holds the run lock for
// the duration of a pass so interval ticks and manual triggers never overlap.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage is a single entry read from a durable stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub fan-out of run summaries and copy events to the
// dashboard, plus a durable stream for run history replay.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// RateLimiter provides request throttling, keyed by caller identity.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string) error
}

// EquityCache holds the most recently observed account equity so status
// queries do not need a round trip to the accounting API.
type EquityCache interface {
	SetEquity(ctx context.Context, address string, equity float64, ts time.Time) error
	GetEquity(ctx context.Context, address string) (float64, time.Time, error)
}
