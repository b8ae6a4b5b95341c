package handler

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/credential-lifecycle-api/internal/middleware"
	appErrors "github.com/noah-isme/credential-lifecycle-api/pkg/errors"
)

func tenantFromContext(c *gin.Context) string {
	if tenantID := middleware.TenantFromContext(c); tenantID != "" {
		return tenantID
	}
	return strings.TrimSpace(c.Param("tenantId"))
}

// queryInt reads an optional integer query parameter, returning fallback when it is absent.
func queryInt(c *gin.Context, name string, fallback int) (int, error) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, appErrors.Clone(appErrors.ErrValidation, name+" must be an integer")
	}
	return value, nil
}

func metaWithCacheHit(c *gin.Context, hit bool) map[string]interface{} {
	middleware.SetCacheHit(c, hit)
	meta := middleware.ExtractMeta(c)
	if meta == nil {
		meta = map[string]interface{}{}
	}
	return meta
}
