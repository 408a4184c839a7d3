// Package api holds the wire-level request payloads of the
// administrative surface.
package api

type CreateTenantRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type UpdateTenantRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	IsActive    *bool   `json:"isActive"`
}
