package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/credential-lifecycle-api/internal/models"
	"github.com/noah-isme/credential-lifecycle-api/internal/service"
	"github.com/noah-isme/credential-lifecycle-api/pkg/response"
)

type lifecycleQueryService interface {
	ComplianceDashboard(ctx context.Context, tenantID string) (*models.ComplianceDashboard, bool, error)
	ListAlerts(ctx context.Context, tenantID, credentialID string, limit int) ([]models.Alert, error)
}

// LifecycleHandler exposes tenant-wide operations: manual ticks, predictions, the compliance dashboard, and alerts.
type LifecycleHandler struct {
	query    lifecycleQueryService
	commands commandDispatcher
}

// NewLifecycleHandler constructs the handler.
func NewLifecycleHandler(query lifecycleQueryService, commands commandDispatcher) *LifecycleHandler {
	return &LifecycleHandler{query: query, commands: commands}
}

// Tick godoc
// @Summary Run a lifecycle tick for the tenant now
// @Tags Lifecycle
// @Produce json
// @Param tenantId path string true "Tenant ID"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /tenants/{tenantId}/ticks [post]
func (h *LifecycleHandler) Tick(c *gin.Context) {
	report, err := h.commands.Dispatch(c.Request.Context(), service.TrackLifecycle{TenantID: tenantFromContext(c)})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, report, nil)
}

// Predictions godoc
// @Summary Upcoming expirations and historical renewal success rate
// @Tags Lifecycle
// @Produce json
// @Param tenantId path string true "Tenant ID"
// @Param horizon query int false "Horizon in days (default 180)"
// @Success 200 {object} response.Envelope
// @Router /tenants/{tenantId}/predictions [get]
func (h *LifecycleHandler) Predictions(c *gin.Context) {
	horizon, err := queryInt(c, "horizon", 0)
	if err != nil {
		response.Error(c, err)
		return
	}
	prediction, err := h.commands.Dispatch(c.Request.Context(), service.PredictExpirations{TenantID: tenantFromContext(c), HorizonDays: horizon})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, prediction, nil)
}

// Compliance godoc
// @Summary Compliance dashboard for the tenant
// @Tags Lifecycle
// @Produce json
// @Param tenantId path string true "Tenant ID"
// @Success 200 {object} response.Envelope
// @Router /tenants/{tenantId}/compliance [get]
func (h *LifecycleHandler) Compliance(c *gin.Context) {
	start := time.Now()
	dashboard, cacheHit, err := h.query.ComplianceDashboard(c.Request.Context(), tenantFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	meta := metaWithCacheHit(c, cacheHit)
	meta["processingTimeMs"] = time.Since(start).Milliseconds()
	response.JSON(c, http.StatusOK, dashboard, nil, meta)
}

// Alerts godoc
// @Summary Newest alerts of the tenant
// @Tags Lifecycle
// @Produce json
// @Param tenantId path string true "Tenant ID"
// @Param limit query int false "Maximum alerts (default 100)"
// @Success 200 {object} response.Envelope
// @Router /tenants/{tenantId}/alerts [get]
func (h *LifecycleHandler) Alerts(c *gin.Context) {
	limit, err := queryInt(c, "limit", 0)
	if err != nil {
		response.Error(c, err)
		return
	}
	alerts, err := h.query.ListAlerts(c.Request.Context(), tenantFromContext(c), "", limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, alerts, nil)
}
