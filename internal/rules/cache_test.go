package rules

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	calls int
	rules []Rule
	err   error
}

func (f *fakeSource) ListActiveRules(ctx context.Context, tenantID string) ([]Rule, error) {
	f.calls++
	return f.rules, f.err
}

func newTestCache(t *testing.T, source ActiveRuleSource, ttl time.Duration) (*Cache, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewCache(client, source, ttl, nil), mr
}

func TestCache_ReadThrough(t *testing.T) {
	source := &fakeSource{rules: []Rule{{ID: "r1", TenantID: "t1", Kind: KindGlobal, MaxRequests: 10, WindowMs: 60_000, IsActive: true}}}
	cache, mr := newTestCache(t, source, 0)
	ctx := context.Background()

	got, err := cache.GetActiveRules(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "r1", got[0].ID)
	assert.Equal(t, 1, source.calls)
	assert.True(t, mr.Exists("tenant:t1:limits"))

	// Second read is served from the cache.
	got, err = cache.GetActiveRules(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 1, source.calls)
}

func TestCache_PopulatesWithTTL(t *testing.T) {
	source := &fakeSource{}
	cache, mr := newTestCache(t, source, 30*time.Second)

	_, err := cache.GetActiveRules(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, mr.TTL("tenant:t1:limits"))
}

func TestCache_InvalidateForcesReload(t *testing.T) {
	source := &fakeSource{rules: []Rule{{ID: "r1", TenantID: "t1", Kind: KindGlobal, MaxRequests: 10, WindowMs: 60_000, IsActive: true}}}
	cache, _ := newTestCache(t, source, 0)
	ctx := context.Background()

	_, err := cache.GetActiveRules(ctx, "t1")
	require.NoError(t, err)
	require.NoError(t, cache.Invalidate(ctx, "t1"))

	// The very next read observes the post-mutation rule set.
	source.rules = nil
	got, err := cache.GetActiveRules(ctx, "t1")
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Equal(t, 2, source.calls)
}

func TestCache_FallsBackWhenRedisDown(t *testing.T) {
	source := &fakeSource{rules: []Rule{{ID: "r1", TenantID: "t1", Kind: KindGlobal, MaxRequests: 10, WindowMs: 60_000, IsActive: true}}}
	cache, mr := newTestCache(t, source, 0)
	mr.Close()

	got, err := cache.GetActiveRules(context.Background(), "t1")
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Equal(t, 1, source.calls)
}

func TestCache_UndecodableEntryFallsBack(t *testing.T) {
	source := &fakeSource{rules: []Rule{{ID: "r1", TenantID: "t1", Kind: KindGlobal, MaxRequests: 10, WindowMs: 60_000, IsActive: true}}}
	cache, mr := newTestCache(t, source, 0)

	require.NoError(t, mr.Set("tenant:t1:limits", "{not json"))

	got, err := cache.GetActiveRules(context.Background(), "t1")
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Equal(t, 1, source.calls)
}

func TestCache_SourceErrorPropagates(t *testing.T) {
	source := &fakeSource{err: errors.New("db down")}
	cache, _ := newTestCache(t, source, 0)

	_, err := cache.GetActiveRules(context.Background(), "t1")
	assert.Error(t, err)
}
