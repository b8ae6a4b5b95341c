package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/credential-lifecycle-api/internal/dto"
	"github.com/noah-isme/credential-lifecycle-api/internal/models"
	"github.com/noah-isme/credential-lifecycle-api/internal/service"
	appErrors "github.com/noah-isme/credential-lifecycle-api/pkg/errors"
	"github.com/noah-isme/credential-lifecycle-api/pkg/response"
)

type workflowQueryService interface {
	GetWorkflow(ctx context.Context, tenantID, workflowID string) (*models.WorkflowProgress, error)
	ListWorkflows(ctx context.Context, tenantID string, query dto.WorkflowListQuery) ([]models.WorkflowProgress, *models.Pagination, error)
}

type stageCallbackRecorder interface {
	RecordStageCallback(ctx context.Context, tenantID, workflowID string, req dto.StageCallbackRequest) (*models.Workflow, error)
}

// WorkflowHandler exposes renewal workflow progress, manual advancement, and upstream stage callbacks.
type WorkflowHandler struct {
	query     workflowQueryService
	callbacks stageCallbackRecorder
	commands  commandDispatcher
}

// NewWorkflowHandler constructs the handler.
func NewWorkflowHandler(query workflowQueryService, callbacks stageCallbackRecorder, commands commandDispatcher) *WorkflowHandler {
	return &WorkflowHandler{query: query, callbacks: callbacks, commands: commands}
}

// List godoc
// @Summary List renewal workflows, most urgent first
// @Tags Workflows
// @Produce json
// @Param tenantId path string true "Tenant ID"
// @Param status query string false "open (default), completed, failed or all"
// @Param priority query string false "normal, high or urgent"
// @Param page query int false "Page"
// @Param pageSize query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /tenants/{tenantId}/workflows [get]
func (h *WorkflowHandler) List(c *gin.Context) {
	var query dto.WorkflowListQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid query parameters"))
		return
	}
	items, pagination, err := h.query.ListWorkflows(c.Request.Context(), tenantFromContext(c), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, pagination)
}

// Get godoc
// @Summary Workflow with progress counters
// @Tags Workflows
// @Produce json
// @Param tenantId path string true "Tenant ID"
// @Param id path string true "Workflow ID"
// @Success 200 {object} response.Envelope
// @Router /tenants/{tenantId}/workflows/{id} [get]
func (h *WorkflowHandler) Get(c *gin.Context) {
	progress, err := h.query.GetWorkflow(c.Request.Context(), tenantFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, progress, nil)
}

// Advance godoc
// @Summary Advance a workflow by one step
// @Tags Workflows
// @Produce json
// @Param tenantId path string true "Tenant ID"
// @Param id path string true "Workflow ID"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /tenants/{tenantId}/workflows/{id}/advance [post]
func (h *WorkflowHandler) Advance(c *gin.Context) {
	result, err := h.commands.Dispatch(c.Request.Context(), service.OrchestrateWorkflow{TenantID: tenantFromContext(c), WorkflowID: c.Param("id")})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Callback godoc
// @Summary Record an upstream status update for the current external stage
// @Tags Workflows
// @Accept json
// @Produce json
// @Param tenantId path string true "Tenant ID"
// @Param id path string true "Workflow ID"
// @Param payload body dto.StageCallbackRequest true "Stage callback"
// @Success 200 {object} response.Envelope
// @Failure 412 {object} response.Envelope
// @Router /tenants/{tenantId}/workflows/{id}/callbacks [post]
func (h *WorkflowHandler) Callback(c *gin.Context) {
	var req dto.StageCallbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid callback payload"))
		return
	}
	wf, err := h.callbacks.RecordStageCallback(c.Request.Context(), tenantFromContext(c), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, models.NewWorkflowProgress(*wf), nil)
}
