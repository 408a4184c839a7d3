// Package evaluator orchestrates admission control: it resolves the
// caller's credential, loads the tenant's active rules and evaluates
// every applicable rule against the shared sliding window counters.
package evaluator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/dwayneex/rate-limiter/internal/limiter"
	"github.com/dwayneex/rate-limiter/internal/metrics"
	"github.com/dwayneex/rate-limiter/internal/rules"
)

// Request carries the credential and the optional dimensions of one
// inbound request. Empty strings mean the dimension is absent.
type Request struct {
	Credential string `json:"credential"`
	Route      string `json:"route,omitempty"`
	IP         string `json:"ip,omitempty"`
	UserID     string `json:"userId,omitempty"`
}

// RuleResult is the per-rule outcome collected for observability.
type RuleResult struct {
	Kind       rules.Kind `json:"kind"`
	Identifier string     `json:"identifier,omitempty"`
	Allowed    bool       `json:"allowed"`
	Remaining  int64      `json:"remaining"`
	ResetAt    time.Time  `json:"resetAt"`
}

// Verdict is the final admission decision plus supporting detail.
type Verdict struct {
	Allowed bool         `json:"allowed"`
	Reason  string       `json:"reason,omitempty"`
	Message string       `json:"message,omitempty"`
	Limits  []RuleResult `json:"limits,omitempty"`
}

// TenantDirectory resolves an opaque credential to a tenant.
type TenantDirectory interface {
	GetTenantByAPIKey(ctx context.Context, apiKey string) (*rules.Tenant, error)
}

// RuleSource supplies a tenant's active rules, normally the rule cache.
type RuleSource interface {
	GetActiveRules(ctx context.Context, tenantID string) ([]rules.Rule, error)
}

// CounterChecker is the sliding window counter contract.
type CounterChecker interface {
	Check(ctx context.Context, key string, maxRequests, windowMs int64, now time.Time) (limiter.Result, error)
}

// AuditSink receives one record per evaluated request, fire-and-forget.
type AuditSink interface {
	Append(rec AuditRecord)
}

// Config tunes evaluator behavior.
type Config struct {
	// FailOpen controls counter store outages: when true an
	// unreachable counter counts as a passed rule, when false the
	// request is denied. Applied uniformly to every rule check.
	FailOpen bool

	// CheckTimeout bounds each counter store round trip.
	CheckTimeout time.Duration
}

// Evaluator decides admission for inbound requests.
type Evaluator struct {
	tenants TenantDirectory
	rules   RuleSource
	counter CounterChecker
	audit   AuditSink
	cfg     Config
	logger  *zap.Logger
	now     func() time.Time
}

// New wires an Evaluator from its collaborators.
func New(tenants TenantDirectory, source RuleSource, counter CounterChecker, audit AuditSink, cfg Config, logger *zap.Logger) *Evaluator {
	if cfg.CheckTimeout <= 0 {
		cfg.CheckTimeout = 2 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Evaluator{
		tenants: tenants,
		rules:   source,
		counter: counter,
		audit:   audit,
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
	}
}

// Evaluate runs the multi-rule admission protocol. Every applicable
// rule must pass; the first denial short-circuits the rest. Rules are
// independent, so evaluation order never changes the outcome.
func (e *Evaluator) Evaluate(ctx context.Context, req Request) *Verdict {
	start := e.now()

	tenant, err := e.tenants.GetTenantByAPIKey(ctx, req.Credential)
	if err != nil && !errors.Is(err, rules.ErrNotFound) {
		e.logger.Error("tenant lookup failed", zap.Error(err))
	}
	if err != nil || tenant == nil || !tenant.IsActive {
		// Unresolvable tenants never produce auditable traffic.
		metrics.RejectedTotal.Inc()
		return &Verdict{Allowed: false, Reason: "invalid or inactive tenant"}
	}

	metrics.ChecksTotal.WithLabelValues(tenant.ID).Inc()
	defer func() {
		metrics.CheckLatency.WithLabelValues(tenant.ID).Observe(e.now().Sub(start).Seconds())
	}()

	active, err := e.rules.GetActiveRules(ctx, tenant.ID)
	if err != nil {
		// The cache already fell back to authoritative storage, so
		// this means rule storage itself is down. Same outage policy
		// as the counter store.
		e.logger.Error("loading active rules failed",
			zap.String("tenant_id", tenant.ID), zap.Error(err))
		metrics.ErrorsTotal.Inc()
		if e.cfg.FailOpen {
			return e.finish(tenant, req, &Verdict{Allowed: true, Message: "rule storage unavailable"})
		}
		return e.finish(tenant, req, &Verdict{Allowed: false, Reason: "rule storage unavailable"})
	}

	if len(active) == 0 {
		// Absence of configuration is not a failure.
		return e.finish(tenant, req, &Verdict{Allowed: true, Message: "no rate limits configured"})
	}

	results := make([]RuleResult, 0, len(active))
	for _, r := range active {
		dimension, applicable := dimensionFor(r, req)
		if !applicable {
			continue
		}

		key := limiter.BuildKey(tenant.ID, r.Kind, dimension)
		res, err := e.check(ctx, key, r)
		if err != nil {
			e.logger.Warn("counter store check failed",
				zap.String("tenant_id", tenant.ID),
				zap.String("key", key),
				zap.Error(err))
			metrics.ErrorsTotal.Inc()
			if e.cfg.FailOpen {
				continue
			}
			return e.finish(tenant, req, &Verdict{
				Allowed: false,
				Reason:  "rate limiter unavailable",
				Limits:  results,
			})
		}

		results = append(results, RuleResult{
			Kind:       r.Kind,
			Identifier: r.Identifier,
			Allowed:    res.Allowed,
			Remaining:  res.Remaining,
			ResetAt:    res.ResetAt,
		})

		if !res.Allowed {
			metrics.BlockedTotal.WithLabelValues(tenant.ID, string(r.Kind)).Inc()
			return e.finish(tenant, req, &Verdict{
				Allowed: false,
				Reason:  fmt.Sprintf("rate limit exceeded for %s", r.Kind),
				Limits:  results,
			})
		}
	}

	return e.finish(tenant, req, &Verdict{Allowed: true, Limits: results})
}

func (e *Evaluator) check(ctx context.Context, key string, r rules.Rule) (limiter.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.CheckTimeout)
	defer cancel()
	return e.counter.Check(ctx, key, r.MaxRequests, r.WindowMs, e.now())
}

// finish emits the audit record and verdict-level metrics. Audit
// failures are isolated inside the sink and never reach the caller.
func (e *Evaluator) finish(tenant *rules.Tenant, req Request, v *Verdict) *Verdict {
	if v.Allowed {
		metrics.AllowedTotal.WithLabelValues(tenant.ID).Inc()
	}
	e.audit.Append(AuditRecord{
		TenantID:  tenant.ID,
		Route:     req.Route,
		IP:        req.IP,
		UserID:    req.UserID,
		Allowed:   v.Allowed,
		Timestamp: e.now(),
	})
	return v
}

// dimensionFor decides whether a rule applies to the request and which
// dimension value it consumes. GLOBAL always applies, IP_ADDRESS and
// USER_ID apply to every distinct value of their dimension, and
// API_ROUTE applies only when the request route equals the rule's
// identifier exactly.
func dimensionFor(r rules.Rule, req Request) (string, bool) {
	switch r.Kind {
	case rules.KindGlobal:
		return "", true
	case rules.KindIPAddress:
		return req.IP, req.IP != ""
	case rules.KindUserID:
		return req.UserID, req.UserID != ""
	case rules.KindAPIRoute:
		return r.Identifier, req.Route != "" && req.Route == r.Identifier
	}
	return "", false
}
