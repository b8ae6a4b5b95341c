package middleware

import (
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"

	appErrors "github.com/noah-isme/credential-lifecycle-api/pkg/errors"
	"github.com/noah-isme/credential-lifecycle-api/pkg/response"
)

// ContextTenantKey is the gin context key storing the resolved tenant id.
const ContextTenantKey = "tenantID"

// TenantHeader carries the tenant for routes without a tenant path segment.
const TenantHeader = "X-Tenant-ID"

var tenantPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]{0,63}$`)

// Tenant resolves the tenant from the :tenantId path parameter, falling back to the X-Tenant-ID header.
func Tenant() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID := strings.TrimSpace(c.Param("tenantId"))
		if tenantID == "" {
			tenantID = strings.TrimSpace(c.GetHeader(TenantHeader))
		}
		if tenantID == "" {
			response.Error(c, appErrors.ErrTenantRequired)
			c.Abort()
			return
		}
		if !tenantPattern.MatchString(tenantID) {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid tenant id"))
			c.Abort()
			return
		}

		c.Set(ContextTenantKey, tenantID)
		c.Next()
	}
}

// TenantFromContext returns the tenant stored by Tenant, or an empty string.
func TenantFromContext(c *gin.Context) string {
	value, exists := c.Get(ContextTenantKey)
	if !exists {
		return ""
	}
	tenantID, _ := value.(string)
	return tenantID
}
