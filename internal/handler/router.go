package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/credential-lifecycle-api/internal/middleware"
)

// Handlers groups the HTTP handlers mounted by RegisterRoutes.
type Handlers struct {
	Credentials *CredentialHandler
	Workflows   *WorkflowHandler
	Lifecycle   *LifecycleHandler
	Documents   *DocumentHandler
	Metrics     *MetricsHandler
}

// RegisterRoutes mounts the API under prefix. Every tenant route resolves its tenant through middleware.Tenant.
func RegisterRoutes(r gin.IRouter, prefix string, h Handlers) {
	if h.Metrics != nil {
		r.GET("/health", h.Metrics.Health)
		r.GET("/metrics", h.Metrics.Prometheus)
	}

	api := r.Group(prefix)
	api.Use(middleware.WithResponseMeta())
	if h.Metrics != nil {
		api.GET("/metrics/snapshot", h.Metrics.Snapshot)
	}
	if h.Documents != nil {
		api.GET("/documents/:token", h.Documents.Download)
	}

	tenant := api.Group("/tenants/:tenantId")
	tenant.Use(middleware.Tenant())

	if h.Credentials != nil {
		creds := tenant.Group("/credentials")
		creds.GET("", h.Credentials.List)
		creds.GET("/expiring", h.Credentials.Expiring)
		creds.POST("/sync", h.Credentials.Sync)
		creds.GET("/:id", h.Credentials.Get)
		creds.GET("/:id/workflow", h.Credentials.Workflow)
		creds.GET("/:id/alerts", h.Credentials.Alerts)
		creds.POST("/:id/renewal", h.Credentials.Renew)
		creds.POST("/:id/documents", h.Credentials.PrepareDocuments)
		creds.POST("/:id/cancel", h.Credentials.Cancel)
	}

	if h.Workflows != nil {
		workflows := tenant.Group("/workflows")
		workflows.GET("", h.Workflows.List)
		workflows.GET("/:id", h.Workflows.Get)
		workflows.POST("/:id/advance", h.Workflows.Advance)
		workflows.POST("/:id/callbacks", h.Workflows.Callback)
	}

	if h.Lifecycle != nil {
		tenant.POST("/ticks", h.Lifecycle.Tick)
		tenant.GET("/predictions", h.Lifecycle.Predictions)
		tenant.GET("/compliance", h.Lifecycle.Compliance)
		tenant.GET("/alerts", h.Lifecycle.Alerts)
	}
}
