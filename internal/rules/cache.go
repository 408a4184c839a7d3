package rules

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultCacheTTL bounds how stale a cached rule set may get for
// clients that never trigger a mutation of their own.
const DefaultCacheTTL = 300 * time.Second

// ActiveRuleSource loads a tenant's active rules from authoritative
// storage. Implemented by the SQL store.
type ActiveRuleSource interface {
	ListActiveRules(ctx context.Context, tenantID string) ([]Rule, error)
}

// Cache is a read-through cache of active rule sets, keyed by tenant,
// held in Redis as JSON with a bounded TTL. The cache is a performance
// optimization only: any cache failure falls back to the authoritative
// source instead of failing the request.
type Cache struct {
	rdb    redis.UniversalClient
	source ActiveRuleSource
	ttl    time.Duration
	logger *zap.Logger
}

// NewCache creates a rule cache backed by rdb, loading misses from
// source. A non-positive ttl falls back to DefaultCacheTTL.
func NewCache(rdb redis.UniversalClient, source ActiveRuleSource, ttl time.Duration, logger *zap.Logger) *Cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{rdb: rdb, source: source, ttl: ttl, logger: logger}
}

func cacheKey(tenantID string) string {
	return "tenant:" + tenantID + ":limits"
}

// GetActiveRules returns the tenant's active rules, from cache when
// possible, falling through to the authoritative source otherwise.
func (c *Cache) GetActiveRules(ctx context.Context, tenantID string) ([]Rule, error) {
	raw, err := c.rdb.Get(ctx, cacheKey(tenantID)).Result()
	if err == nil {
		var cached []Rule
		if jsonErr := json.Unmarshal([]byte(raw), &cached); jsonErr == nil {
			return cached, nil
		}
		c.logger.Warn("discarding undecodable rule cache entry",
			zap.String("tenant_id", tenantID))
	} else if err != redis.Nil {
		c.logger.Warn("rule cache read failed, falling back to store",
			zap.String("tenant_id", tenantID), zap.Error(err))
	}

	loaded, err := c.source.ListActiveRules(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(loaded); err == nil {
		if err := c.rdb.Set(ctx, cacheKey(tenantID), data, c.ttl).Err(); err != nil {
			c.logger.Warn("rule cache populate failed",
				zap.String("tenant_id", tenantID), zap.Error(err))
		}
	}
	return loaded, nil
}

// Invalidate drops the tenant's cached rule set. Rule mutations call
// this synchronously before responding, so a read after a confirmed
// write never observes pre-mutation rules.
func (c *Cache) Invalidate(ctx context.Context, tenantID string) error {
	if err := c.rdb.Del(ctx, cacheKey(tenantID)).Err(); err != nil {
		return fmt.Errorf("invalidate rule cache for tenant %s: %w", tenantID, err)
	}
	return nil
}
