package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func tenantRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/tenants/:tenantId/ping", Tenant(), func(c *gin.Context) {
		c.String(http.StatusOK, TenantFromContext(c))
	})
	router.GET("/ping", Tenant(), func(c *gin.Context) {
		c.String(http.StatusOK, TenantFromContext(c))
	})
	return router
}

func TestTenantFromPath(t *testing.T) {
	recorder := httptest.NewRecorder()
	tenantRouter().ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/tenants/acme-01/ping", nil))

	if recorder.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", recorder.Code)
	}
	if got := recorder.Body.String(); got != "acme-01" {
		t.Fatalf("unexpected tenant: %s", got)
	}
}

func TestTenantFromHeader(t *testing.T) {
	recorder := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(TenantHeader, "acme-02")
	tenantRouter().ServeHTTP(recorder, req)

	if got := recorder.Body.String(); got != "acme-02" {
		t.Fatalf("unexpected tenant: %s", got)
	}
}

func TestTenantMissingOrInvalid(t *testing.T) {
	recorder := httptest.NewRecorder()
	tenantRouter().ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/ping", nil))
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without tenant, got %d", recorder.Code)
	}

	recorder = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(TenantHeader, "../etc")
	tenantRouter().ServeHTTP(recorder, req)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid tenant, got %d", recorder.Code)
	}
}

func TestResponseMetaRecordsCacheHit(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var meta map[string]interface{}
	router := gin.New()
	router.Use(WithResponseMeta())
	router.GET("/", func(c *gin.Context) {
		SetCacheHit(c, true)
		meta = ExtractMeta(c)
		c.Status(http.StatusNoContent)
	})

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	if hit, _ := meta[cacheHitKey].(bool); !hit {
		t.Fatalf("expected cache hit to be recorded, got %v", meta)
	}
	if _, ok := meta[processingKey]; !ok {
		t.Fatalf("expected processing time in meta")
	}
}
