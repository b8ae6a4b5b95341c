package dto

import (
	"time"

	"github.com/noah-isme/credential-lifecycle-api/internal/models"
)

// SyncCredentialRequest is one raw record pushed by the registry feed.
type SyncCredentialRequest struct {
	HolderID       string            `json:"holderId" validate:"required"`
	CredentialType string            `json:"credentialType" validate:"required,credential_type"`
	ExternalNumber string            `json:"externalNumber" validate:"required"`
	IssueDate      time.Time         `json:"issueDate" validate:"required"`
	ExpiryDate     time.Time         `json:"expiryDate" validate:"required,gtfield=IssueDate"`
	SponsorID      *string           `json:"sponsorId,omitempty"`
	Nationality    string            `json:"nationality" validate:"required,max=64"`
	Attributes     map[string]string `json:"attributes,omitempty"`
}

// SyncBatchRequest wraps a feed batch for POST /credentials/sync.
type SyncBatchRequest struct {
	Records []SyncCredentialRequest `json:"records" validate:"required,min=1,max=500,dive"`
}

// SyncResult reports how a batch was applied.
type SyncResult struct {
	Created int      `json:"created"`
	Updated int      `json:"updated"`
	Skipped int      `json:"skipped"`
	Errors  []string `json:"errors,omitempty"`
}

// CredentialListQuery binds GET /credentials filters.
type CredentialListQuery struct {
	Status   []string `form:"status"`
	HolderID string   `form:"holderId"`
	Type     string   `form:"type"`
	Page     int      `form:"page"`
	PageSize int      `form:"pageSize"`
}

// ExpiringQuery binds GET /credentials/expiring.
type ExpiringQuery struct {
	Days   int    `form:"days"`
	Format string `form:"format"`
}

// CredentialDetailResponse is returned by GET /credentials/{id}.
type CredentialDetailResponse struct {
	Credential       models.Credential        `json:"credential"`
	Classification   models.Classification    `json:"classification"`
	ComplianceIssues []models.ComplianceIssue `json:"complianceIssues"`
	Activity         []models.ActivityEntry   `json:"activity,omitempty"`
}
