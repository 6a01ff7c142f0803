package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/alanyoungcy/polymirror/internal/domain"
	"github.com/redis/go-redis/v9"
)

// equityTTL bounds how long a cached equity snapshot is served. A stale value
// is worse than no value for dashboard display.
const equityTTL = 10 * time.Minute

// EquityCache implements domain.EquityCache using Redis hashes. Each wallet's
// equity is stored at key "equity:{address}" with fields "value" and "ts"
// (Unix nanosecond timestamp).
type EquityCache struct {
	rdb *redis.Client
}

// NewEquityCache creates an EquityCache backed by the given Client.
func NewEquityCache(c *Client) *EquityCache {
	return &EquityCache{rdb: c.Underlying()}
}

func equityKey(address string) string {
	return "equity:" + address
}

// SetEquity stores the latest observed equity for a wallet.
func (ec *EquityCache) SetEquity(ctx context.Context, address string, equity float64, ts time.Time) error {
	key := equityKey(address)
	fields := map[string]interface{}{
		"value": strconv.FormatFloat(equity, 'f', -1, 64),
		"ts":    strconv.FormatInt(ts.UnixNano(), 10),
	}

	pipe := ec.rdb.Pipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, equityTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set equity %s: %w", address, err)
	}
	return nil
}

// GetEquity retrieves the latest observed equity for a wallet. It returns
// domain.ErrNotFound when no snapshot is cached.
func (ec *EquityCache) GetEquity(ctx context.Context, address string) (float64, time.Time, error) {
	vals, err := ec.rdb.HGetAll(ctx, equityKey(address)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, time.Time{}, domain.ErrNotFound
		}
		return 0, time.Time{}, fmt.Errorf("redis: get equity %s: %w", address, err)
	}
	if len(vals) == 0 {
		return 0, time.Time{}, domain.ErrNotFound
	}

	valueStr, ok := vals["value"]
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	equity, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: parse equity %s: %w", address, err)
	}

	var ts time.Time
	if tsStr, ok := vals["ts"]; ok {
		if nanos, err := strconv.ParseInt(tsStr, 10, 64); err == nil {
			ts = time.Unix(0, nanos)
		}
	}

	return equity, ts, nil
}

// Compile-time interface check.
var _ domain.EquityCache = (*EquityCache)(nil)
