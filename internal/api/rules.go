package api

type CreateRuleRequest struct {
	TenantID    string `json:"tenantId"`
	Kind        string `json:"kind"`
	Identifier  string `json:"identifier"`
	MaxRequests int64  `json:"maxRequests"`
	WindowMs    int64  `json:"windowMs"`
}

type UpdateRuleRequest struct {
	MaxRequests *int64  `json:"maxRequests"`
	WindowMs    *int64  `json:"windowMs"`
	Identifier  *string `json:"identifier"`
	IsActive    *bool   `json:"isActive"`
}

type ToggleRuleRequest struct {
	IsActive bool `json:"isActive"`
}
