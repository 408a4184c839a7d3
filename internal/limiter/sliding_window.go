// Package limiter implements the sliding window counter against a
// shared Redis store. The whole check runs as a single Lua script so
// eviction, counting and the conditional insert are atomic per key.
package limiter

import (
	"context"
	_ "embed"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

//go:embed sliding_window.lua
var slidingWindowScript string

// Result is the outcome of a single admission check.
type Result struct {
	Allowed   bool
	Remaining int64
	ResetAt   time.Time
}

// Counter evaluates sliding window limits on Redis sorted sets.
type Counter struct {
	rdb    redis.UniversalClient
	script *redis.Script
	seq    atomic.Uint64
}

// NewCounter creates a Counter on top of the given Redis client.
func NewCounter(rdb redis.UniversalClient) (*Counter, error) {
	if rdb == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	return &Counter{
		rdb:    rdb,
		script: redis.NewScript(slidingWindowScript),
	}, nil
}

// Check decides whether one more request fits under maxRequests within
// the continuous window [now-windowMs, now] for the given key. On
// admission a marker scored at now is recorded and the key's TTL is
// refreshed to ceil(windowMs/1000) seconds so idle keys self-clean.
// On denial ResetAt is when the oldest in-window marker ages out.
func (c *Counter) Check(ctx context.Context, key string, maxRequests, windowMs int64, now time.Time) (Result, error) {
	nowMs := now.UnixMilli()
	ttlSec := (windowMs + 999) / 1000

	// Marker members carry a per-process sequence suffix so two
	// admissions in the same millisecond never collapse to one entry.
	member := strconv.FormatInt(nowMs, 10) + "-" + strconv.FormatUint(c.seq.Add(1), 10)

	res, err := c.script.Run(ctx, c.rdb, []string{key},
		nowMs, windowMs, maxRequests, member, ttlSec,
	).Result()
	if err != nil {
		return Result{}, fmt.Errorf("sliding window check for %q: %w", key, err)
	}

	arr, ok := res.([]interface{})
	if !ok || len(arr) != 3 {
		return Result{}, fmt.Errorf("sliding window check for %q: unexpected reply %v", key, res)
	}

	allowed, _ := arr[0].(int64)
	remaining, _ := arr[1].(int64)
	resetMs, _ := arr[2].(int64)

	return Result{
		Allowed:   allowed == 1,
		Remaining: remaining,
		ResetAt:   time.UnixMilli(resetMs),
	}, nil
}
