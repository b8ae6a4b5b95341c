package models

import "time"

// CredentialView pairs a credential with its classification as of the query time.
type CredentialView struct {
	Credential
	Classification Classification `json:"classification"`
}

// WorkflowProgress decorates a workflow with derived progress counters.
type WorkflowProgress struct {
	Workflow         Workflow        `json:"workflow"`
	ProgressPercent  float64         `json:"progressPercent"`
	CompletedStages  int             `json:"completedStages"`
	Bottlenecks      []WorkflowStage `json:"bottlenecks"`
	AutoRemediations int             `json:"autoRemediations"`
	Escalations      int             `json:"escalations"`
}

// NewWorkflowProgress derives the progress counters for wf.
func NewWorkflowProgress(wf Workflow) WorkflowProgress {
	return WorkflowProgress{
		Workflow:         wf,
		ProgressPercent:  wf.Progress(),
		CompletedStages:  wf.CompletedStages(),
		Bottlenecks:      wf.Bottlenecks(),
		AutoRemediations: wf.TotalRemediations(),
		Escalations:      wf.Escalations(),
	}
}

// ExpirationPrediction summarises upcoming expirations for a tenant.
type ExpirationPrediction struct {
	TenantID              string           `json:"tenantId"`
	HorizonDays           int              `json:"horizonDays"`
	Within30Days          int              `json:"within30Days"`
	Within90Days          int              `json:"within90Days"`
	Within180Days         int              `json:"within180Days"`
	AtRisk                int              `json:"atRisk"`
	PendingRenewal        int              `json:"pendingRenewal"`
	HistoricalSuccessRate float64          `json:"historicalSuccessRate"`
	Upcoming              []CredentialView `json:"upcoming"`
	GeneratedAt           time.Time        `json:"generatedAt"`
}

// ComplianceDashboard aggregates the latest compliance scan for a tenant.
type ComplianceDashboard struct {
	TenantID         string           `json:"tenantId"`
	Total            int              `json:"total"`
	Compliant        int              `json:"compliant"`
	AtRisk           int              `json:"atRisk"`
	ComplianceScore  float64          `json:"complianceScore"`
	IssuesBySeverity map[Severity]int `json:"issuesBySeverity"`
	IssuesByCode     map[string]int   `json:"issuesByCode"`
	RiskBuckets      map[Bucket]int   `json:"riskBuckets"`
	OpenWorkflows    int              `json:"openWorkflows"`
	GeneratedAt      time.Time        `json:"generatedAt"`
}
