package dto

import (
	"time"

	"github.com/noah-isme/credential-lifecycle-api/internal/models"
)

// StageCallbackRequest is an upstream status update for an external stage.
type StageCallbackRequest struct {
	Stage         string     `json:"stage" validate:"required,stage"`
	Outcome       string     `json:"outcome" validate:"required,oneof=completed failed pending"`
	NewExpiryDate *time.Time `json:"newExpiryDate,omitempty"`
	Reference     string     `json:"reference,omitempty" validate:"max=128"`
	Message       string     `json:"message,omitempty" validate:"max=512"`
}

// WorkflowListQuery binds GET /workflows filters.
type WorkflowListQuery struct {
	Priority string `form:"priority"`
	Status   string `form:"status"`
	Page     int    `form:"page"`
	PageSize int    `form:"pageSize"`
}

// RenewalResponse is returned when a renewal workflow is opened.
type RenewalResponse struct {
	Workflow models.WorkflowProgress `json:"workflow"`
	Alert    *models.Alert           `json:"alert,omitempty"`
}
