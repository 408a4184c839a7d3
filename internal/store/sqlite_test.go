package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dwayneex/rate-limiter/internal/rules"
)

func newTestStore(t *testing.T) *SQLStore {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestTenantLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	created, err := s.CreateTenant(ctx, "Acme Corp", "main production tenant")
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.NotEmpty(t, created.APIKey)
	assert.True(t, created.IsActive)

	got, err := s.GetTenant(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Acme Corp", got.Name)

	byKey, err := s.GetTenantByAPIKey(ctx, created.APIKey)
	require.NoError(t, err)
	assert.Equal(t, created.ID, byKey.ID)

	inactive := false
	name := "Acme Ltd"
	updated, err := s.UpdateTenant(ctx, created.ID, TenantUpdate{Name: &name, IsActive: &inactive})
	require.NoError(t, err)
	assert.Equal(t, "Acme Ltd", updated.Name)
	assert.False(t, updated.IsActive)
	// Untouched fields survive a partial update.
	assert.Equal(t, "main production tenant", updated.Description)

	all, err := s.ListTenants(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	require.NoError(t, s.DeleteTenant(ctx, created.ID))
	_, err = s.GetTenant(ctx, created.ID)
	assert.ErrorIs(t, err, rules.ErrNotFound)
}

func TestTenantNotFound(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.GetTenant(ctx, "missing")
	assert.ErrorIs(t, err, rules.ErrNotFound)

	_, err = s.GetTenantByAPIKey(ctx, "missing")
	assert.ErrorIs(t, err, rules.ErrNotFound)

	assert.ErrorIs(t, s.DeleteTenant(ctx, "missing"), rules.ErrNotFound)
}

func TestRuleLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tenant, err := s.CreateTenant(ctx, "t", "")
	require.NoError(t, err)

	created, err := s.CreateRule(ctx, rules.Rule{
		TenantID:    tenant.ID,
		Kind:        rules.KindGlobal,
		MaxRequests: 100,
		WindowMs:    60_000,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.True(t, created.IsActive)

	maxReq := int64(50)
	updated, err := s.UpdateRule(ctx, created.ID, RuleUpdate{MaxRequests: &maxReq})
	require.NoError(t, err)
	assert.Equal(t, int64(50), updated.MaxRequests)
	assert.Equal(t, int64(60_000), updated.WindowMs)

	toggled, err := s.ToggleRule(ctx, created.ID, false)
	require.NoError(t, err)
	assert.False(t, toggled.IsActive)

	active, err := s.ListActiveRules(ctx, tenant.ID)
	require.NoError(t, err)
	assert.Empty(t, active)

	all, err := s.ListRulesByTenant(ctx, tenant.ID)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	deleted, err := s.DeleteRule(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, tenant.ID, deleted.TenantID)

	_, err = s.GetRule(ctx, created.ID)
	assert.ErrorIs(t, err, rules.ErrNotFound)
}

func TestUpdateRuleRejectsInvalidConfig(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tenant, err := s.CreateTenant(ctx, "t", "")
	require.NoError(t, err)

	created, err := s.CreateRule(ctx, rules.Rule{
		TenantID:    tenant.ID,
		Kind:        rules.KindGlobal,
		MaxRequests: 100,
		WindowMs:    60_000,
	})
	require.NoError(t, err)

	window := int64(500)
	_, err = s.UpdateRule(ctx, created.ID, RuleUpdate{WindowMs: &window})
	assert.ErrorIs(t, err, rules.ErrValidation)
}

func TestDeleteTenantCascades(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tenant, err := s.CreateTenant(ctx, "t", "")
	require.NoError(t, err)
	_, err = s.CreateRule(ctx, rules.Rule{
		TenantID:    tenant.ID,
		Kind:        rules.KindGlobal,
		MaxRequests: 1,
		WindowMs:    1000,
	})
	require.NoError(t, err)
	require.NoError(t, s.AppendRequestLog(ctx, tenant.ID, "/x", "", "", true, time.Now()))

	require.NoError(t, s.DeleteTenant(ctx, tenant.ID))

	left, err := s.ListRulesByTenant(ctx, tenant.ID)
	require.NoError(t, err)
	assert.Empty(t, left)

	logs, err := s.ListRecentLogs(ctx, tenant.ID, 10)
	require.NoError(t, err)
	assert.Empty(t, logs)
}

func TestRequestLogsAndStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tenant, err := s.CreateTenant(ctx, "t", "")
	require.NoError(t, err)

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.AppendRequestLog(ctx, tenant.ID, "/api/users", "10.0.0.1", "u1", true, base))
	require.NoError(t, s.AppendRequestLog(ctx, tenant.ID, "/api/users", "10.0.0.1", "u1", true, base.Add(time.Minute)))
	require.NoError(t, s.AppendRequestLog(ctx, tenant.ID, "/api/orders", "10.0.0.2", "u2", false, base.Add(2*time.Minute)))

	logs, err := s.ListRecentLogs(ctx, tenant.ID, 2)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	// Newest first.
	assert.Equal(t, "/api/orders", logs[0].APIRoute)
	assert.False(t, logs[0].IsAllowed)

	stats, err := s.Stats(ctx, tenant.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.Total)
	assert.Equal(t, int64(2), stats.Allowed)
	assert.Equal(t, int64(1), stats.Blocked)
	assert.InDelta(t, 33.33, stats.BlockRate, 0.01)

	since := base.Add(90 * time.Second)
	stats, err = s.Stats(ctx, tenant.ID, &since)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Total)
	assert.Equal(t, int64(1), stats.Blocked)
}
