package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/credential-lifecycle-api/internal/dto"
	"github.com/noah-isme/credential-lifecycle-api/internal/models"
	"github.com/noah-isme/credential-lifecycle-api/internal/service"
	appErrors "github.com/noah-isme/credential-lifecycle-api/pkg/errors"
	"github.com/noah-isme/credential-lifecycle-api/pkg/response"
)

const defaultExpiringDays = 90

type credentialQueryService interface {
	GetCredential(ctx context.Context, tenantID, credentialID string) (*dto.CredentialDetailResponse, error)
	ListCredentials(ctx context.Context, tenantID string, query dto.CredentialListQuery) ([]models.CredentialView, *models.Pagination, error)
	ListExpiring(ctx context.Context, tenantID string, days int) ([]models.CredentialView, error)
	ExportExpiring(ctx context.Context, tenantID string, days int, format string) (*service.ExportFile, error)
	GetWorkflowForCredential(ctx context.Context, tenantID, credentialID string) (*models.WorkflowProgress, error)
	ListAlerts(ctx context.Context, tenantID, credentialID string, limit int) ([]models.Alert, error)
}

type credentialSyncService interface {
	Sync(ctx context.Context, tenantID string, req dto.SyncBatchRequest) (*dto.SyncResult, error)
	Cancel(ctx context.Context, tenantID, credentialID string) (*models.Credential, error)
}

type commandDispatcher interface {
	Dispatch(ctx context.Context, cmd service.Command) (interface{}, error)
}

// CredentialHandler exposes credential queries, registry sync, and per-credential commands.
type CredentialHandler struct {
	query    credentialQueryService
	sync     credentialSyncService
	commands commandDispatcher
}

// NewCredentialHandler constructs the handler.
func NewCredentialHandler(query credentialQueryService, sync credentialSyncService, commands commandDispatcher) *CredentialHandler {
	return &CredentialHandler{query: query, sync: sync, commands: commands}
}

// List godoc
// @Summary List credentials
// @Tags Credentials
// @Produce json
// @Param tenantId path string true "Tenant ID"
// @Param status query string false "Comma separated statuses"
// @Param holderId query string false "Holder ID"
// @Param type query string false "Credential type"
// @Param page query int false "Page"
// @Param pageSize query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /tenants/{tenantId}/credentials [get]
func (h *CredentialHandler) List(c *gin.Context) {
	var query dto.CredentialListQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid query parameters"))
		return
	}
	items, pagination, err := h.query.ListCredentials(c.Request.Context(), tenantFromContext(c), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, pagination)
}

// Get godoc
// @Summary Credential detail with classification and compliance issues
// @Tags Credentials
// @Produce json
// @Param tenantId path string true "Tenant ID"
// @Param id path string true "Credential ID"
// @Success 200 {object} response.Envelope
// @Router /tenants/{tenantId}/credentials/{id} [get]
func (h *CredentialHandler) Get(c *gin.Context) {
	detail, err := h.query.GetCredential(c.Request.Context(), tenantFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, detail, nil)
}

// Expiring godoc
// @Summary Tracked credentials expiring within a number of days
// @Tags Credentials
// @Produce json
// @Produce text/csv
// @Produce application/pdf
// @Param tenantId path string true "Tenant ID"
// @Param days query int false "Window in days (default 90)"
// @Param format query string false "json, csv or pdf"
// @Success 200 {object} response.Envelope
// @Router /tenants/{tenantId}/credentials/expiring [get]
func (h *CredentialHandler) Expiring(c *gin.Context) {
	days, err := queryInt(c, "days", defaultExpiringDays)
	if err != nil {
		response.Error(c, err)
		return
	}
	tenantID := tenantFromContext(c)
	format := strings.ToLower(strings.TrimSpace(c.Query("format")))
	if format == "" || format == "json" {
		items, err := h.query.ListExpiring(c.Request.Context(), tenantID, days)
		if err != nil {
			response.Error(c, err)
			return
		}
		response.JSON(c, http.StatusOK, items, nil)
		return
	}
	file, err := h.query.ExportExpiring(c.Request.Context(), tenantID, days, format)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, file.Filename, file.ContentType, file.Data)
}

// Sync godoc
// @Summary Upsert a batch of registry credential records
// @Tags Credentials
// @Accept json
// @Produce json
// @Param tenantId path string true "Tenant ID"
// @Param payload body dto.SyncBatchRequest true "Feed batch"
// @Success 200 {object} response.Envelope
// @Router /tenants/{tenantId}/credentials/sync [post]
func (h *CredentialHandler) Sync(c *gin.Context) {
	var req dto.SyncBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid sync payload"))
		return
	}
	result, err := h.sync.Sync(c.Request.Context(), tenantFromContext(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Cancel godoc
// @Summary Cancel a credential and stop its renewal
// @Tags Credentials
// @Produce json
// @Param tenantId path string true "Tenant ID"
// @Param id path string true "Credential ID"
// @Success 200 {object} response.Envelope
// @Router /tenants/{tenantId}/credentials/{id}/cancel [post]
func (h *CredentialHandler) Cancel(c *gin.Context) {
	cred, err := h.sync.Cancel(c.Request.Context(), tenantFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, cred, nil)
}

// Renew godoc
// @Summary Open a renewal workflow for a credential
// @Tags Credentials
// @Produce json
// @Param tenantId path string true "Tenant ID"
// @Param id path string true "Credential ID"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /tenants/{tenantId}/credentials/{id}/renewal [post]
func (h *CredentialHandler) Renew(c *gin.Context) {
	result, err := h.commands.Dispatch(c.Request.Context(), service.InitiateRenewal{TenantID: tenantFromContext(c), CredentialID: c.Param("id")})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, result)
}

// PrepareDocuments godoc
// @Summary Generate and verify the renewal document set for a credential
// @Tags Credentials
// @Produce json
// @Param tenantId path string true "Tenant ID"
// @Param id path string true "Credential ID"
// @Success 200 {object} response.Envelope
// @Router /tenants/{tenantId}/credentials/{id}/documents [post]
func (h *CredentialHandler) PrepareDocuments(c *gin.Context) {
	result, err := h.commands.Dispatch(c.Request.Context(), service.PrepareDocuments{TenantID: tenantFromContext(c), CredentialID: c.Param("id")})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Workflow godoc
// @Summary Current or most recent renewal workflow of a credential
// @Tags Credentials
// @Produce json
// @Param tenantId path string true "Tenant ID"
// @Param id path string true "Credential ID"
// @Success 200 {object} response.Envelope
// @Router /tenants/{tenantId}/credentials/{id}/workflow [get]
func (h *CredentialHandler) Workflow(c *gin.Context) {
	progress, err := h.query.GetWorkflowForCredential(c.Request.Context(), tenantFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, progress, nil)
}

// Alerts godoc
// @Summary Alerts raised for a credential
// @Tags Credentials
// @Produce json
// @Param tenantId path string true "Tenant ID"
// @Param id path string true "Credential ID"
// @Param limit query int false "Maximum alerts (default 100)"
// @Success 200 {object} response.Envelope
// @Router /tenants/{tenantId}/credentials/{id}/alerts [get]
func (h *CredentialHandler) Alerts(c *gin.Context) {
	limit, err := queryInt(c, "limit", 0)
	if err != nil {
		response.Error(c, err)
		return
	}
	alerts, err := h.query.ListAlerts(c.Request.Context(), tenantFromContext(c), c.Param("id"), limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, alerts, nil)
}
