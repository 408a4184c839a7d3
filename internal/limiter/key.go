package limiter

import (
	"fmt"

	"github.com/dwayneex/rate-limiter/internal/rules"
)

// BuildKey constructs the composite counter key for a tenant, rule kind
// and dimension value. GLOBAL rules share a single tenant-wide key and
// ignore the dimension.
func BuildKey(tenantID string, kind rules.Kind, dimension string) string {
	switch kind {
	case rules.KindIPAddress:
		return fmt.Sprintf("ratelimit:%s:ip:%s", tenantID, dimension)
	case rules.KindAPIRoute:
		return fmt.Sprintf("ratelimit:%s:api:%s", tenantID, dimension)
	case rules.KindUserID:
		return fmt.Sprintf("ratelimit:%s:user:%s", tenantID, dimension)
	default:
		return fmt.Sprintf("ratelimit:%s:global", tenantID)
	}
}
