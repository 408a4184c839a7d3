// Package server exposes the evaluation endpoint and the
// administrative CRUD surface over HTTP.
package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/dwayneex/rate-limiter/internal/evaluator"
	"github.com/dwayneex/rate-limiter/internal/rules"
	"github.com/dwayneex/rate-limiter/internal/store"
)

// Server wires the HTTP surface to the core components.
type Server struct {
	store  *store.SQLStore
	cache  *rules.Cache
	eval   *evaluator.Evaluator
	logger *zap.Logger
	router chi.Router
}

// New builds the server and its routes.
func New(st *store.SQLStore, cache *rules.Cache, eval *evaluator.Evaluator, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		store:  st,
		cache:  cache,
		eval:   eval,
		logger: logger,
	}
	s.router = s.routes()
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/check", s.handleCheck)

		r.Route("/tenants", func(r chi.Router) {
			r.Post("/", s.handleCreateTenant)
			r.Get("/", s.handleListTenants)
			r.Get("/{id}", s.handleGetTenant)
			r.Put("/{id}", s.handleUpdateTenant)
			r.Delete("/{id}", s.handleDeleteTenant)
			r.Get("/{id}/stats", s.handleTenantStats)
		})

		r.Route("/rules", func(r chi.Router) {
			r.Post("/", s.handleCreateRule)
			r.Get("/tenant/{tenantId}", s.handleListRules)
			r.Put("/{id}", s.handleUpdateRule)
			r.Patch("/{id}/toggle", s.handleToggleRule)
			r.Delete("/{id}", s.handleDeleteRule)
		})

		r.Get("/logs/{tenantId}", s.handleRecentLogs)
		r.Get("/stats/{tenantId}", s.handleStats)
	})

	return r
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("writing response failed", zap.Error(err))
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, msg string) {
	s.respondJSON(w, status, errorResponse{Error: msg})
}
