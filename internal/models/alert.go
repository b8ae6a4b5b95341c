package models

import "time"

// AlertKind enumerates escalation categories.
type AlertKind string

const (
	AlertKindCriticalExpiry  AlertKind = "critical_expiry"
	AlertKindRenewalRequired AlertKind = "renewal_required"
	AlertKindComplianceIssue AlertKind = "compliance_issue"
	AlertKindStageEscalation AlertKind = "stage_escalation"
)

// Severity grades compliance issues and alerts.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Alert is a write-once notification delivered at-least-once to the escalation sink.
type Alert struct {
	ID           string     `db:"id" json:"id"`
	TenantID     string     `db:"tenant_id" json:"tenantId"`
	Kind         AlertKind  `db:"kind" json:"kind"`
	CredentialID string     `db:"credential_id" json:"credentialId"`
	WorkflowID   *string    `db:"workflow_id" json:"workflowId,omitempty"`
	Severity     Severity   `db:"severity" json:"severity"`
	Payload      JSONMap    `db:"payload" json:"payload"`
	DedupeKey    string     `db:"dedupe_key" json:"dedupeKey"`
	EmittedAt    time.Time  `db:"emitted_at" json:"emittedAt"`
	DeliveredAt  *time.Time `db:"delivered_at" json:"deliveredAt,omitempty"`
	Attempts     int        `db:"attempts" json:"attempts"`
}

// AlertCursor positions an outbox scan after the last alert seen, ordered by (EmittedAt, ID).
// The zero value starts at the oldest alert.
type AlertCursor struct {
	EmittedAt time.Time
	ID        string
}

// Precedes reports whether alert sorts after the cursor position.
func (c AlertCursor) Precedes(alert Alert) bool {
	if !alert.EmittedAt.Equal(c.EmittedAt) {
		return alert.EmittedAt.After(c.EmittedAt)
	}
	return alert.ID > c.ID
}

// CursorAfter returns the cursor positioned on alert.
func CursorAfter(alert Alert) AlertCursor {
	return AlertCursor{EmittedAt: alert.EmittedAt, ID: alert.ID}
}

// ComplianceIssue is a single rule violation found during a scan. It is never persisted as mutable state.
type ComplianceIssue struct {
	CredentialID string    `json:"credentialId"`
	IssueCode    string    `json:"issueCode"`
	Severity     Severity  `json:"severity"`
	Message      string    `json:"message"`
	DetectedAt   time.Time `json:"detectedAt"`
}

// ActivityKind labels append-only activity log entries.
type ActivityKind string

const (
	ActivityLifecycleTracking   ActivityKind = "lifecycle_tracking"
	ActivityRenewalInitiation   ActivityKind = "renewal_initiation"
	ActivityDocumentPreparation ActivityKind = "document_preparation"
	ActivityStageTransition     ActivityKind = "stage_transition"
	ActivityAutoRemediation     ActivityKind = "auto_remediation"
	ActivityWorkflowClosed      ActivityKind = "workflow_closed"
	ActivityCredentialExpired   ActivityKind = "credential_expired"
	ActivityCredentialCancelled ActivityKind = "credential_cancelled"
	ActivityCredentialSynced    ActivityKind = "credential_synced"
	ActivityAlert               ActivityKind = "alert"
)

// ActivityEntry is one append-only activity log row.
type ActivityEntry struct {
	ID           string       `db:"id" json:"id"`
	TenantID     string       `db:"tenant_id" json:"tenantId"`
	Kind         ActivityKind `db:"kind" json:"kind"`
	CredentialID *string      `db:"credential_id" json:"credentialId,omitempty"`
	WorkflowID   *string      `db:"workflow_id" json:"workflowId,omitempty"`
	Details      JSONMap      `db:"details" json:"details"`
	CreatedAt    time.Time    `db:"created_at" json:"createdAt"`
}

// TickReport summarises one scheduler pass over a tenant population.
type TickReport struct {
	TenantID          string    `json:"tenantId"`
	StartedAt         time.Time `json:"startedAt"`
	FinishedAt        time.Time `json:"finishedAt"`
	Total             int       `json:"total"`
	Tracked           int       `json:"tracked"`
	ExpiringSoon      int       `json:"expiringSoon"`
	WorkflowsOpened   int       `json:"workflowsOpened"`
	WorkflowsAdvanced int       `json:"workflowsAdvanced"`
	AlertsEmitted     int       `json:"alertsEmitted"`
	ComplianceIssues  int       `json:"complianceIssues"`
	Expired           int       `json:"expired"`
	Failures          int       `json:"failures"`
	NextTickAt        time.Time `json:"nextTickAt"`
}
