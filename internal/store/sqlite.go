// Package store provides the authoritative SQL storage for tenants,
// rules and request logs. The evaluation path only reads from it on
// rule cache misses; all writes come through the administrative API.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/dwayneex/rate-limiter/internal/rules"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS tenants (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    api_key TEXT NOT NULL UNIQUE,
    is_active INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS rules (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
    kind TEXT NOT NULL,
    identifier TEXT NOT NULL DEFAULT '',
    max_requests INTEGER NOT NULL,
    window_ms INTEGER NOT NULL,
    is_active INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_rules_tenant ON rules(tenant_id);

CREATE TABLE IF NOT EXISTS request_logs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    tenant_id TEXT NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
    api_route TEXT NOT NULL DEFAULT '',
    ip_address TEXT NOT NULL DEFAULT '',
    user_id TEXT NOT NULL DEFAULT '',
    is_allowed INTEGER NOT NULL,
    timestamp TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_request_logs_tenant ON request_logs(tenant_id, timestamp);
`

// SQLStore is a SQLite-backed implementation of the authoritative
// tenant and rule storage.
type SQLStore struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and initializes the
// schema. Use ":memory:" for an in-process throwaway database.
func Open(path string) (*SQLStore, error) {
	db, err := sql.Open("sqlite3", "file:"+path+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite allows a single writer; serializing through one
	// connection avoids SQLITE_BUSY under concurrent mutations.
	db.SetMaxOpenConns(1)

	s := &SQLStore{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) initSchema() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("initialize schema: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// ---- Tenants ----

// CreateTenant inserts a new tenant with a generated id and API key.
func (s *SQLStore) CreateTenant(ctx context.Context, name, description string) (*rules.Tenant, error) {
	now := time.Now().UTC()
	t := &rules.Tenant{
		ID:          uuid.NewString(),
		Name:        name,
		Description: description,
		APIKey:      uuid.NewString(),
		IsActive:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tenants (id, name, description, api_key, is_active, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Name, t.Description, t.APIKey, t.IsActive, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("create tenant: %w", err)
	}
	return t, nil
}

// ListTenants returns all tenants, newest first.
func (s *SQLStore) ListTenants(ctx context.Context) ([]rules.Tenant, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, description, api_key, is_active, created_at, updated_at
		 FROM tenants ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	defer rows.Close()

	var out []rules.Tenant
	for rows.Next() {
		var t rules.Tenant
		if err := rows.Scan(&t.ID, &t.Name, &t.Description, &t.APIKey, &t.IsActive, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan tenant: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// GetTenant returns a tenant by id.
func (s *SQLStore) GetTenant(ctx context.Context, id string) (*rules.Tenant, error) {
	return s.getTenantWhere(ctx, "id = ?", id)
}

// GetTenantByAPIKey resolves the opaque credential presented on check
// requests to a tenant.
func (s *SQLStore) GetTenantByAPIKey(ctx context.Context, apiKey string) (*rules.Tenant, error) {
	return s.getTenantWhere(ctx, "api_key = ?", apiKey)
}

func (s *SQLStore) getTenantWhere(ctx context.Context, where string, arg any) (*rules.Tenant, error) {
	var t rules.Tenant
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, description, api_key, is_active, created_at, updated_at
		 FROM tenants WHERE `+where, arg).
		Scan(&t.ID, &t.Name, &t.Description, &t.APIKey, &t.IsActive, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("tenant: %w", rules.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get tenant: %w", err)
	}
	return &t, nil
}

// TenantUpdate carries the mutable tenant fields. Nil fields are left
// unchanged.
type TenantUpdate struct {
	Name        *string
	Description *string
	IsActive    *bool
}

// UpdateTenant applies the update and returns the stored tenant.
func (s *SQLStore) UpdateTenant(ctx context.Context, id string, upd TenantUpdate) (*rules.Tenant, error) {
	t, err := s.GetTenant(ctx, id)
	if err != nil {
		return nil, err
	}

	if upd.Name != nil {
		t.Name = *upd.Name
	}
	if upd.Description != nil {
		t.Description = *upd.Description
	}
	if upd.IsActive != nil {
		t.IsActive = *upd.IsActive
	}
	t.UpdatedAt = time.Now().UTC()

	_, err = s.db.ExecContext(ctx,
		`UPDATE tenants SET name = ?, description = ?, is_active = ?, updated_at = ? WHERE id = ?`,
		t.Name, t.Description, t.IsActive, t.UpdatedAt, t.ID)
	if err != nil {
		return nil, fmt.Errorf("update tenant: %w", err)
	}
	return t, nil
}

// DeleteTenant removes a tenant. Its rules and request logs cascade.
func (s *SQLStore) DeleteTenant(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tenants WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete tenant: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete tenant: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("tenant: %w", rules.ErrNotFound)
	}
	return nil
}

// ---- Rules ----

const ruleColumns = `id, tenant_id, kind, identifier, max_requests, window_ms, is_active, created_at, updated_at`

// CreateRule inserts a new rule with a generated id. The rule is
// expected to be validated at the administrative boundary first.
func (s *SQLStore) CreateRule(ctx context.Context, r rules.Rule) (*rules.Rule, error) {
	now := time.Now().UTC()
	r.ID = uuid.NewString()
	r.IsActive = true
	r.CreatedAt = now
	r.UpdatedAt = now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO rules (`+ruleColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.TenantID, string(r.Kind), r.Identifier, r.MaxRequests, r.WindowMs, r.IsActive, r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("create rule: %w", err)
	}
	return &r, nil
}

// GetRule returns a rule by id.
func (s *SQLStore) GetRule(ctx context.Context, id string) (*rules.Rule, error) {
	var r rules.Rule
	err := s.db.QueryRowContext(ctx,
		`SELECT `+ruleColumns+` FROM rules WHERE id = ?`, id).
		Scan(&r.ID, &r.TenantID, &r.Kind, &r.Identifier, &r.MaxRequests, &r.WindowMs, &r.IsActive, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("rule: %w", rules.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get rule: %w", err)
	}
	return &r, nil
}

// ListRulesByTenant returns every rule owned by the tenant, newest
// first, regardless of active state.
func (s *SQLStore) ListRulesByTenant(ctx context.Context, tenantID string) ([]rules.Rule, error) {
	return s.listRules(ctx,
		`SELECT `+ruleColumns+` FROM rules WHERE tenant_id = ? ORDER BY created_at DESC`, tenantID)
}

// ListActiveRules returns the tenant's active rules. This is the load
// path behind the rule cache.
func (s *SQLStore) ListActiveRules(ctx context.Context, tenantID string) ([]rules.Rule, error) {
	return s.listRules(ctx,
		`SELECT `+ruleColumns+` FROM rules WHERE tenant_id = ? AND is_active = 1 ORDER BY created_at`, tenantID)
}

func (s *SQLStore) listRules(ctx context.Context, query string, args ...any) ([]rules.Rule, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	defer rows.Close()

	var out []rules.Rule
	for rows.Next() {
		var r rules.Rule
		if err := rows.Scan(&r.ID, &r.TenantID, &r.Kind, &r.Identifier, &r.MaxRequests, &r.WindowMs, &r.IsActive, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// RuleUpdate carries the mutable rule fields. Nil fields are left
// unchanged.
type RuleUpdate struct {
	MaxRequests *int64
	WindowMs    *int64
	Identifier  *string
	IsActive    *bool
}

// UpdateRule applies the update and returns the stored rule.
func (s *SQLStore) UpdateRule(ctx context.Context, id string, upd RuleUpdate) (*rules.Rule, error) {
	r, err := s.GetRule(ctx, id)
	if err != nil {
		return nil, err
	}

	if upd.MaxRequests != nil {
		r.MaxRequests = *upd.MaxRequests
	}
	if upd.WindowMs != nil {
		r.WindowMs = *upd.WindowMs
	}
	if upd.Identifier != nil {
		r.Identifier = *upd.Identifier
	}
	if upd.IsActive != nil {
		r.IsActive = *upd.IsActive
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	r.UpdatedAt = time.Now().UTC()

	_, err = s.db.ExecContext(ctx,
		`UPDATE rules SET max_requests = ?, window_ms = ?, identifier = ?, is_active = ?, updated_at = ? WHERE id = ?`,
		r.MaxRequests, r.WindowMs, r.Identifier, r.IsActive, r.UpdatedAt, r.ID)
	if err != nil {
		return nil, fmt.Errorf("update rule: %w", err)
	}
	return r, nil
}

// ToggleRule flips a rule's active state and returns the stored rule.
func (s *SQLStore) ToggleRule(ctx context.Context, id string, isActive bool) (*rules.Rule, error) {
	return s.UpdateRule(ctx, id, RuleUpdate{IsActive: &isActive})
}

// DeleteRule removes a rule and returns it, so callers can invalidate
// the owning tenant's cache entry.
func (s *SQLStore) DeleteRule(ctx context.Context, id string) (*rules.Rule, error) {
	r, err := s.GetRule(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM rules WHERE id = ?`, id); err != nil {
		return nil, fmt.Errorf("delete rule: %w", err)
	}
	return r, nil
}

// ---- Request logs ----

// RequestLog is one immutable audit record for an evaluated request.
type RequestLog struct {
	ID        int64     `json:"id"`
	TenantID  string    `json:"tenantId"`
	APIRoute  string    `json:"apiRoute,omitempty"`
	IPAddress string    `json:"ipAddress,omitempty"`
	UserID    string    `json:"userId,omitempty"`
	IsAllowed bool      `json:"isAllowed"`
	Timestamp time.Time `json:"timestamp"`
}

// LogStats aggregates request log counts for reporting.
type LogStats struct {
	Total     int64   `json:"total"`
	Allowed   int64   `json:"allowed"`
	Blocked   int64   `json:"blocked"`
	BlockRate float64 `json:"blockRate"`
}

// AppendRequestLog records one evaluated request. Used only for
// reporting, never read on the evaluation path.
func (s *SQLStore) AppendRequestLog(ctx context.Context, tenantID, route, ip, userID string, allowed bool, ts time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO request_logs (tenant_id, api_route, ip_address, user_id, is_allowed, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		tenantID, route, ip, userID, allowed, ts.UTC())
	if err != nil {
		return fmt.Errorf("append request log: %w", err)
	}
	return nil
}

// ListRecentLogs returns the tenant's most recent request logs.
func (s *SQLStore) ListRecentLogs(ctx context.Context, tenantID string, limit int) ([]RequestLog, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, tenant_id, api_route, ip_address, user_id, is_allowed, timestamp
		 FROM request_logs WHERE tenant_id = ? ORDER BY timestamp DESC LIMIT ?`,
		tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("list request logs: %w", err)
	}
	defer rows.Close()

	var out []RequestLog
	for rows.Next() {
		var l RequestLog
		if err := rows.Scan(&l.ID, &l.TenantID, &l.APIRoute, &l.IPAddress, &l.UserID, &l.IsAllowed, &l.Timestamp); err != nil {
			return nil, fmt.Errorf("scan request log: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// Stats aggregates the tenant's request logs, optionally restricted to
// entries at or after since.
func (s *SQLStore) Stats(ctx context.Context, tenantID string, since *time.Time) (LogStats, error) {
	query := `SELECT COUNT(*), COALESCE(SUM(is_allowed), 0) FROM request_logs WHERE tenant_id = ?`
	args := []any{tenantID}
	if since != nil {
		query += ` AND timestamp >= ?`
		args = append(args, since.UTC())
	}

	var stats LogStats
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&stats.Total, &stats.Allowed); err != nil {
		return LogStats{}, fmt.Errorf("request log stats: %w", err)
	}
	stats.Blocked = stats.Total - stats.Allowed
	if stats.Total > 0 {
		stats.BlockRate = float64(stats.Blocked) / float64(stats.Total) * 100
	}
	return stats, nil
}
