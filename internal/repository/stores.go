package repository

import (
	"context"
	"time"

	"github.com/noah-isme/credential-lifecycle-api/internal/models"
)

// CredentialStore persists credentials. Implemented by CredentialRepository and MemoryStore.
type CredentialStore interface {
	UpsertCredential(ctx context.Context, cred *models.Credential) (bool, error)
	GetCredential(ctx context.Context, tenantID, id string) (*models.Credential, error)
	ListCredentials(ctx context.Context, tenantID string, filter models.CredentialFilter) ([]models.Credential, int, error)
	ListTenants(ctx context.Context) ([]string, error)
	MarkExpired(ctx context.Context, tenantID, id string, at time.Time) (bool, error)
	CancelCredential(ctx context.Context, tenantID, id string, at time.Time) (bool, error)
}

// WorkflowStore persists renewal workflows and their outcomes.
type WorkflowStore interface {
	OpenWorkflow(ctx context.Context, wf *models.Workflow) error
	GetWorkflow(ctx context.Context, tenantID, id string) (*models.Workflow, error)
	LatestWorkflow(ctx context.Context, tenantID, credentialID string) (*models.Workflow, error)
	ListWorkflows(ctx context.Context, tenantID string, filter models.WorkflowFilter) ([]models.Workflow, int, error)
	SaveWorkflow(ctx context.Context, wf *models.Workflow) error
	CloseWorkflow(ctx context.Context, wf *models.Workflow, outcome *models.RenewalOutcome) error
	WorkflowOutcomes(ctx context.Context, tenantID string) (int, int, error)
}

// ActivityStore holds the activity log and the alert outbox.
type ActivityStore interface {
	AppendActivity(ctx context.Context, entry *models.ActivityEntry) error
	ListActivity(ctx context.Context, tenantID, credentialID string, limit int) ([]models.ActivityEntry, error)
	InsertAlert(ctx context.Context, alert *models.Alert) (bool, error)
	MarkAlertDelivered(ctx context.Context, id string, at time.Time) error
	IncrementAlertAttempts(ctx context.Context, id string) error
	ListUndeliveredAlerts(ctx context.Context, after models.AlertCursor, limit int) ([]models.Alert, error)
	ListAlerts(ctx context.Context, tenantID, credentialID string, limit int) ([]models.Alert, error)
}

var (
	_ CredentialStore = (*CredentialRepository)(nil)
	_ WorkflowStore   = (*WorkflowRepository)(nil)
	_ ActivityStore   = (*ActivityRepository)(nil)
	_ CredentialStore = (*MemoryStore)(nil)
	_ WorkflowStore   = (*MemoryStore)(nil)
	_ ActivityStore   = (*MemoryStore)(nil)
)
