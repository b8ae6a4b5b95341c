package models

import (
	"database/sql/driver"
	"time"
)

// WorkflowStage is one ordered step of the renewal pipeline.
type WorkflowStage string

const (
	StageDocumentPreparation    WorkflowStage = "document_preparation"
	StageComplianceVerification WorkflowStage = "compliance_verification"
	StageApplicationSubmission  WorkflowStage = "application_submission"
	StageGovernmentProcessing   WorkflowStage = "government_processing"
	StageApprovalTracking       WorkflowStage = "approval_tracking"
	StageCollection             WorkflowStage = "collection"
)

// StagePipeline lists the renewal stages in execution order.
var StagePipeline = []WorkflowStage{
	StageDocumentPreparation,
	StageComplianceVerification,
	StageApplicationSubmission,
	StageGovernmentProcessing,
	StageApprovalTracking,
	StageCollection,
}

// Index returns the stage position in the pipeline or -1 when unknown.
func (s WorkflowStage) Index() int {
	for i, stage := range StagePipeline {
		if stage == s {
			return i
		}
	}
	return -1
}

// Valid reports whether the stage belongs to the pipeline.
func (s WorkflowStage) Valid() bool {
	return s.Index() >= 0
}

// Next returns the following stage. ok is false for the final stage.
func (s WorkflowStage) Next() (WorkflowStage, bool) {
	idx := s.Index()
	if idx < 0 || idx+1 >= len(StagePipeline) {
		return "", false
	}
	return StagePipeline[idx+1], true
}

// External reports whether completion is driven by an upstream status callback.
func (s WorkflowStage) External() bool {
	switch s {
	case StageApplicationSubmission, StageGovernmentProcessing, StageApprovalTracking, StageCollection:
		return true
	default:
		return false
	}
}

// StageStatus is the progress of a single stage.
type StageStatus string

const (
	StageStatusPending    StageStatus = "pending"
	StageStatusInProgress StageStatus = "in_progress"
	StageStatusCompleted  StageStatus = "completed"
	StageStatusFailed     StageStatus = "failed"
	StageStatusBlocked    StageStatus = "blocked"
)

// WorkflowStatus is the overall state of a renewal workflow.
type WorkflowStatus string

const (
	WorkflowStatusOpen      WorkflowStatus = "open"
	WorkflowStatusCompleted WorkflowStatus = "completed"
	WorkflowStatusFailed    WorkflowStatus = "failed"
)

// DocumentVerdict is the compliance verification result for a generated artifact.
type DocumentVerdict string

const (
	DocumentVerdictPassed  DocumentVerdict = "passed"
	DocumentVerdictFailed  DocumentVerdict = "failed"
	DocumentVerdictPending DocumentVerdict = "pending"
)

// PreparedDocument is one generated artifact and its verdict.
type PreparedDocument struct {
	Kind          string          `json:"kind"`
	Verdict       DocumentVerdict `json:"verdict"`
	ArtifactRef   string          `json:"artifactRef,omitempty"`
	DownloadToken string          `json:"downloadToken,omitempty"`
	Reason        string          `json:"reason,omitempty"`
	GeneratedAt   time.Time       `json:"generatedAt"`
}

// PreparedDocuments is persisted as JSONB.
type PreparedDocuments []PreparedDocument

// Value marshals prepared documents for persistence.
func (d PreparedDocuments) Value() (driver.Value, error) {
	if d == nil {
		d = PreparedDocuments{}
	}
	return jsonValue([]PreparedDocument(d), "prepared documents")
}

// Scan unmarshals prepared documents.
func (d *PreparedDocuments) Scan(value interface{}) error {
	decoded := []PreparedDocument{}
	if _, err := scanJSON(value, &decoded, "prepared documents"); err != nil {
		return err
	}
	*d = decoded
	return nil
}

// DocumentKinds is a JSONB-backed list of document kinds.
type DocumentKinds []string

// Value marshals document kinds for persistence.
func (k DocumentKinds) Value() (driver.Value, error) {
	if k == nil {
		k = DocumentKinds{}
	}
	return jsonValue([]string(k), "document kinds")
}

// Scan unmarshals document kinds.
func (k *DocumentKinds) Scan(value interface{}) error {
	decoded := []string{}
	if _, err := scanJSON(value, &decoded, "document kinds"); err != nil {
		return err
	}
	*k = decoded
	return nil
}

// StageState records the history of one pipeline stage.
type StageState struct {
	Stage        WorkflowStage `json:"stage"`
	Status       StageStatus   `json:"status"`
	StartedAt    *time.Time    `json:"startedAt,omitempty"`
	CompletedAt  *time.Time    `json:"completedAt,omitempty"`
	Blocks       int           `json:"blocks"`
	Remediations int           `json:"remediations"`
	Escalated    bool          `json:"escalated,omitempty"`
	BlockReason  string        `json:"blockReason,omitempty"`
}

// StageStates is persisted as JSONB.
type StageStates []StageState

// Value marshals stage history for persistence.
func (s StageStates) Value() (driver.Value, error) {
	if s == nil {
		s = StageStates{}
	}
	return jsonValue([]StageState(s), "stage states")
}

// Scan unmarshals stage history.
func (s *StageStates) Scan(value interface{}) error {
	decoded := []StageState{}
	if _, err := scanJSON(value, &decoded, "stage states"); err != nil {
		return err
	}
	*s = decoded
	return nil
}

// CallbackOutcome is the upstream-reported result for an external stage.
type CallbackOutcome string

const (
	CallbackOutcomeCompleted CallbackOutcome = "completed"
	CallbackOutcomeFailed    CallbackOutcome = "failed"
	CallbackOutcomePending   CallbackOutcome = "pending"
)

// StageCallback is an external status update recorded against a stage.
type StageCallback struct {
	Stage         WorkflowStage   `json:"stage"`
	Outcome       CallbackOutcome `json:"outcome"`
	NewExpiryDate *time.Time      `json:"newExpiryDate,omitempty"`
	Reference     string          `json:"reference,omitempty"`
	Message       string          `json:"message,omitempty"`
	ReceivedAt    time.Time       `json:"receivedAt"`
}

// StageCallbacks keys the latest callback by stage.
type StageCallbacks map[WorkflowStage]StageCallback

// Value marshals callbacks for persistence.
func (c StageCallbacks) Value() (driver.Value, error) {
	if c == nil {
		c = StageCallbacks{}
	}
	return jsonValue(map[WorkflowStage]StageCallback(c), "stage callbacks")
}

// Scan unmarshals callbacks.
func (c *StageCallbacks) Scan(value interface{}) error {
	decoded := map[WorkflowStage]StageCallback{}
	if _, err := scanJSON(value, &decoded, "stage callbacks"); err != nil {
		return err
	}
	*c = decoded
	return nil
}

// Workflow is one renewal process for a credential.
type Workflow struct {
	ID                  string            `db:"id" json:"id"`
	TenantID            string            `db:"tenant_id" json:"tenantId"`
	CredentialID        string            `db:"credential_id" json:"credentialId"`
	Stage               WorkflowStage     `db:"stage" json:"stage"`
	StageStatus         StageStatus       `db:"stage_status" json:"stageStatus"`
	Status              WorkflowStatus    `db:"status" json:"status"`
	Priority            Priority          `db:"priority" json:"priority"`
	DocumentsRequired   DocumentKinds     `db:"documents_required" json:"documentsRequired"`
	DocumentsPrepared   PreparedDocuments `db:"documents_prepared" json:"documentsPrepared"`
	Stages              StageStates       `db:"stages" json:"stages"`
	Callbacks           StageCallbacks    `db:"callbacks" json:"callbacks,omitempty"`
	ExpiryDateAtOpen    time.Time         `db:"expiry_date_at_open" json:"expiryDateAtOpen"`
	OpenedAt            time.Time         `db:"opened_at" json:"openedAt"`
	EstimatedCompletion time.Time         `db:"estimated_completion" json:"estimatedCompletion"`
	LastAdvancedAt      time.Time         `db:"last_advanced_at" json:"lastAdvancedAt"`
	ClosedAt            *time.Time        `db:"closed_at" json:"closedAt,omitempty"`
	ClosureReason       *string           `db:"closure_reason" json:"closureReason,omitempty"`
	Version             int               `db:"version" json:"version"`
}

// IsOpen reports whether the workflow is still running.
func (w *Workflow) IsOpen() bool {
	return w.Status == WorkflowStatusOpen
}

// State returns the recorded history for the stage, or nil if the stage is unknown.
func (w *Workflow) State(stage WorkflowStage) *StageState {
	for i := range w.Stages {
		if w.Stages[i].Stage == stage {
			return &w.Stages[i]
		}
	}
	return nil
}

// CompletedStages counts stages whose recorded status is completed.
func (w *Workflow) CompletedStages() int {
	count := 0
	for _, state := range w.Stages {
		if state.Status == StageStatusCompleted {
			count++
		}
	}
	return count
}

// RemainingStages counts stages that still need to complete.
func (w *Workflow) RemainingStages() int {
	return len(StagePipeline) - w.CompletedStages()
}

// Progress returns completion as a percentage of the pipeline.
func (w *Workflow) Progress() float64 {
	return float64(w.CompletedStages()) / float64(len(StagePipeline)) * 100
}

// TotalRemediations sums auto-remediation attempts over all stages.
func (w *Workflow) TotalRemediations() int {
	total := 0
	for _, state := range w.Stages {
		total += state.Remediations
	}
	return total
}

// Escalations counts stages that raised a terminal escalation.
func (w *Workflow) Escalations() int {
	count := 0
	for _, state := range w.Stages {
		if state.Escalated {
			count++
		}
	}
	return count
}

// Bottlenecks lists stages that have been observed blocked at least once.
func (w *Workflow) Bottlenecks() []WorkflowStage {
	stages := make([]WorkflowStage, 0)
	for _, state := range w.Stages {
		if state.Blocks > 0 {
			stages = append(stages, state.Stage)
		}
	}
	return stages
}

// NewStageStates builds the initial stage history with every stage pending.
func NewStageStates() StageStates {
	states := make(StageStates, 0, len(StagePipeline))
	for _, stage := range StagePipeline {
		states = append(states, StageState{Stage: stage, Status: StageStatusPending})
	}
	return states
}

// WorkflowFilter narrows workflow listings.
type WorkflowFilter struct {
	Status       WorkflowStatus
	Priority     Priority
	CredentialID string
	Limit        int
	Offset       int
}
