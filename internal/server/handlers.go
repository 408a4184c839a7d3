package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/dwayneex/rate-limiter/internal/api"
	"github.com/dwayneex/rate-limiter/internal/evaluator"
	"github.com/dwayneex/rate-limiter/internal/rules"
	"github.com/dwayneex/rate-limiter/internal/store"
)

// handleCheck is the evaluation endpoint. The structured verdict is
// the contract; the status code (200 allowed, 429 denied) is a
// convenience mapping for HTTP callers.
func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	var req evaluator.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Credential == "" {
		s.respondError(w, http.StatusBadRequest, "credential is required")
		return
	}

	verdict := s.eval.Evaluate(r.Context(), req)

	status := http.StatusOK
	if !verdict.Allowed {
		status = http.StatusTooManyRequests
	}
	s.respondJSON(w, status, verdict)
}

// ---- Tenants ----

func (s *Server) handleCreateTenant(w http.ResponseWriter, r *http.Request) {
	var req api.CreateTenantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" {
		s.respondError(w, http.StatusBadRequest, "name is required")
		return
	}

	tenant, err := s.store.CreateTenant(r.Context(), req.Name, req.Description)
	if err != nil {
		s.internalError(w, "create tenant", err)
		return
	}
	s.respondJSON(w, http.StatusCreated, tenant)
}

func (s *Server) handleListTenants(w http.ResponseWriter, r *http.Request) {
	tenants, err := s.store.ListTenants(r.Context())
	if err != nil {
		s.internalError(w, "list tenants", err)
		return
	}
	if tenants == nil {
		tenants = []rules.Tenant{}
	}
	s.respondJSON(w, http.StatusOK, tenants)
}

func (s *Server) handleGetTenant(w http.ResponseWriter, r *http.Request) {
	tenant, err := s.store.GetTenant(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.storeError(w, "get tenant", err)
		return
	}
	s.respondJSON(w, http.StatusOK, tenant)
}

func (s *Server) handleUpdateTenant(w http.ResponseWriter, r *http.Request) {
	var req api.UpdateTenantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	tenant, err := s.store.UpdateTenant(r.Context(), chi.URLParam(r, "id"), store.TenantUpdate{
		Name:        req.Name,
		Description: req.Description,
		IsActive:    req.IsActive,
	})
	if err != nil {
		s.storeError(w, "update tenant", err)
		return
	}

	s.invalidate(r, tenant.ID)
	s.respondJSON(w, http.StatusOK, tenant)
}

func (s *Server) handleDeleteTenant(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.store.DeleteTenant(r.Context(), id); err != nil {
		s.storeError(w, "delete tenant", err)
		return
	}
	s.invalidate(r, id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTenantStats(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	tenant, err := s.store.GetTenant(r.Context(), id)
	if err != nil {
		s.storeError(w, "get tenant", err)
		return
	}

	stats, err := s.store.Stats(r.Context(), id, nil)
	if err != nil {
		s.internalError(w, "tenant stats", err)
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]any{
		"tenant": tenant,
		"stats":  stats,
	})
}

// ---- Rules ----

func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	var req api.CreateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	rule := rules.Rule{
		TenantID:    req.TenantID,
		Kind:        rules.Kind(req.Kind),
		Identifier:  req.Identifier,
		MaxRequests: req.MaxRequests,
		WindowMs:    req.WindowMs,
	}
	if err := rule.Validate(); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, err := s.store.GetTenant(r.Context(), rule.TenantID); err != nil {
		s.storeError(w, "get tenant", err)
		return
	}

	created, err := s.store.CreateRule(r.Context(), rule)
	if err != nil {
		s.internalError(w, "create rule", err)
		return
	}

	s.invalidate(r, created.TenantID)
	s.respondJSON(w, http.StatusCreated, created)
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	list, err := s.store.ListRulesByTenant(r.Context(), chi.URLParam(r, "tenantId"))
	if err != nil {
		s.internalError(w, "list rules", err)
		return
	}
	if list == nil {
		list = []rules.Rule{}
	}
	s.respondJSON(w, http.StatusOK, list)
}

func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	var req api.UpdateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	rule, err := s.store.UpdateRule(r.Context(), chi.URLParam(r, "id"), store.RuleUpdate{
		MaxRequests: req.MaxRequests,
		WindowMs:    req.WindowMs,
		Identifier:  req.Identifier,
		IsActive:    req.IsActive,
	})
	if err != nil {
		if errors.Is(err, rules.ErrValidation) {
			s.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.storeError(w, "update rule", err)
		return
	}

	s.invalidate(r, rule.TenantID)
	s.respondJSON(w, http.StatusOK, rule)
}

func (s *Server) handleToggleRule(w http.ResponseWriter, r *http.Request) {
	var req api.ToggleRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	rule, err := s.store.ToggleRule(r.Context(), chi.URLParam(r, "id"), req.IsActive)
	if err != nil {
		s.storeError(w, "toggle rule", err)
		return
	}

	s.invalidate(r, rule.TenantID)
	s.respondJSON(w, http.StatusOK, rule)
}

func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	rule, err := s.store.DeleteRule(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.storeError(w, "delete rule", err)
		return
	}
	s.invalidate(r, rule.TenantID)
	w.WriteHeader(http.StatusNoContent)
}

// ---- Reporting ----

func (s *Server) handleRecentLogs(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			s.respondError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	logs, err := s.store.ListRecentLogs(r.Context(), chi.URLParam(r, "tenantId"), limit)
	if err != nil {
		s.internalError(w, "list logs", err)
		return
	}
	if logs == nil {
		logs = []store.RequestLog{}
	}
	s.respondJSON(w, http.StatusOK, logs)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	var since *time.Time
	if v := r.URL.Query().Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid from timestamp, want RFC3339")
			return
		}
		since = &t
	}

	stats, err := s.store.Stats(r.Context(), chi.URLParam(r, "tenantId"), since)
	if err != nil {
		s.internalError(w, "stats", err)
		return
	}
	s.respondJSON(w, http.StatusOK, stats)
}

// ---- helpers ----

// invalidate drops the tenant's cached rule set before the mutation
// response is written. The mutation is already committed, so a cache
// store failure is logged rather than turned into a request error.
func (s *Server) invalidate(r *http.Request, tenantID string) {
	if err := s.cache.Invalidate(r.Context(), tenantID); err != nil {
		s.logger.Warn("rule cache invalidation failed",
			zap.String("tenant_id", tenantID), zap.Error(err))
	}
}

func (s *Server) storeError(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, rules.ErrNotFound) {
		s.respondError(w, http.StatusNotFound, "not found")
		return
	}
	s.internalError(w, op, err)
}

func (s *Server) internalError(w http.ResponseWriter, op string, err error) {
	s.logger.Error(op+" failed", zap.Error(err))
	s.respondError(w, http.StatusInternalServerError, "internal error")
}
