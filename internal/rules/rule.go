// Package rules holds the tenant and rate limit rule domain model plus
// the read-through rule cache used by the evaluation path.
package rules

import (
	"errors"
	"fmt"
	"time"
)

// Kind selects which request dimension a rule consumes.
type Kind string

const (
	KindGlobal    Kind = "GLOBAL"
	KindIPAddress Kind = "IP_ADDRESS"
	KindAPIRoute  Kind = "API_ROUTE"
	KindUserID    Kind = "USER_ID"
)

// Valid reports whether k is one of the known rule kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindGlobal, KindIPAddress, KindAPIRoute, KindUserID:
		return true
	}
	return false
}

var (
	// ErrNotFound is returned when a tenant or rule does not exist.
	ErrNotFound = errors.New("not found")

	// ErrValidation is returned for malformed tenant or rule configuration.
	ErrValidation = errors.New("validation failed")
)

// Tenant is an isolated API consumer. IsActive gates all evaluation:
// an inactive tenant is rejected outright, independent of its rules.
type Tenant struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	APIKey      string    `json:"apiKey"`
	IsActive    bool      `json:"isActive"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Rule is one quota constraint owned by a tenant. Identifier is only
// meaningful for API_ROUTE rules, where it names the route the rule
// binds to.
type Rule struct {
	ID          string    `json:"id"`
	TenantID    string    `json:"tenantId"`
	Kind        Kind      `json:"kind"`
	Identifier  string    `json:"identifier,omitempty"`
	MaxRequests int64     `json:"maxRequests"`
	WindowMs    int64     `json:"windowMs"`
	IsActive    bool      `json:"isActive"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Validate checks the rule at the administrative boundary. The
// evaluation path assumes rules are well-formed and never re-checks.
func (r *Rule) Validate() error {
	if r.TenantID == "" {
		return fmt.Errorf("%w: tenantId is required", ErrValidation)
	}
	if !r.Kind.Valid() {
		return fmt.Errorf("%w: unknown rule kind %q", ErrValidation, r.Kind)
	}
	if r.Kind == KindAPIRoute && r.Identifier == "" {
		return fmt.Errorf("%w: API_ROUTE rules require an identifier", ErrValidation)
	}
	if r.MaxRequests < 1 {
		return fmt.Errorf("%w: maxRequests must be positive", ErrValidation)
	}
	if r.WindowMs < 1000 {
		return fmt.Errorf("%w: windowMs must be at least 1000", ErrValidation)
	}
	return nil
}
