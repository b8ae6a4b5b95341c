package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/credential-lifecycle-api/internal/dto"
	"github.com/noah-isme/credential-lifecycle-api/internal/models"
	"github.com/noah-isme/credential-lifecycle-api/pkg/cache"
	appErrors "github.com/noah-isme/credential-lifecycle-api/pkg/errors"
	"github.com/noah-isme/credential-lifecycle-api/pkg/notify"
)

const advanceLockTTL = 10 * time.Minute

type credentialReader interface {
	GetCredential(ctx context.Context, tenantID, id string) (*models.Credential, error)
}

type workflowStore interface {
	OpenWorkflow(ctx context.Context, wf *models.Workflow) error
	GetWorkflow(ctx context.Context, tenantID, id string) (*models.Workflow, error)
	SaveWorkflow(ctx context.Context, wf *models.Workflow) error
	CloseWorkflow(ctx context.Context, wf *models.Workflow, outcome *models.RenewalOutcome) error
}

type activityLogger interface {
	AppendActivity(ctx context.Context, entry *models.ActivityEntry) error
}

type alertEmitter interface {
	Emit(ctx context.Context, alert *models.Alert) (bool, error)
}

type documentPreparer interface {
	Requirements(cred models.Credential) []string
	Prepare(ctx context.Context, tenantID string, cred models.Credential) (models.PreparationResult, error)
}

type complianceChecker interface {
	EvaluateAt(cred models.Credential, now time.Time) []models.ComplianceIssue
}

// GovernmentGateway asks the upstream registry to act on an external stage.
// Completion is reported later through stage callbacks.
type GovernmentGateway interface {
	RequestStage(ctx context.Context, cred models.Credential, wf models.Workflow, stage models.WorkflowStage) error
}

// NoopGateway accepts every request without contacting anyone.
type NoopGateway struct{}

// RequestStage implements GovernmentGateway.
func (NoopGateway) RequestStage(context.Context, models.Credential, models.Workflow, models.WorkflowStage) error {
	return nil
}

// NotifierGateway publishes stage requests on the event bus for the registry integration to pick up.
type NotifierGateway struct {
	notifier notify.Notifier
}

// NewNotifierGateway constructs a gateway publishing through notifier.
func NewNotifierGateway(notifier notify.Notifier) *NotifierGateway {
	return &NotifierGateway{notifier: notifier}
}

// RequestStage implements GovernmentGateway.
func (g *NotifierGateway) RequestStage(ctx context.Context, cred models.Credential, wf models.Workflow, stage models.WorkflowStage) error {
	attempt := 0
	if state := wf.State(stage); state != nil {
		attempt = state.Remediations
	}
	body, err := json.Marshal(map[string]interface{}{
		"workflowId":     wf.ID,
		"credentialId":   cred.ID,
		"holderId":       cred.HolderID,
		"credentialType": cred.Type,
		"externalNumber": cred.ExternalNumber,
		"stage":          stage,
		"priority":       wf.Priority,
		"attempt":        attempt,
	})
	if err != nil {
		return fmt.Errorf("marshal stage request: %w", err)
	}
	return g.notifier.Emit(ctx, notify.Event{
		ID:       uuid.NewString(),
		TenantID: cred.TenantID,
		Kind:     "stage_request",
		Key:      fmt.Sprintf("%s:%s:%d", wf.ID, stage, attempt),
		Body:     body,
	})
}

// EngineConfig tunes stage timing and the remediation budget.
type EngineConfig struct {
	StageDuration     time.Duration
	RemediationBudget int
	QualityThreshold  float64
	RenewalTerm       time.Duration
	ExternalTimeout   time.Duration
}

// RenewalWorkflowEngine drives renewal workflows through the ordered stage pipeline.
type RenewalWorkflowEngine struct {
	credentials credentialReader
	workflows   workflowStore
	activity    activityLogger
	alerts      alertEmitter
	documents   documentPreparer
	compliance  complianceChecker
	gateway     GovernmentGateway
	locker      cache.Locker
	metrics     *MetricsService
	cfg         EngineConfig
	validator   *validator.Validate
	logger      *zap.Logger
	now         func() time.Time
}

// NewRenewalWorkflowEngine wires the engine. A nil gateway accepts every request; a nil locker serialises in-process.
func NewRenewalWorkflowEngine(
	credentials credentialReader,
	workflows workflowStore,
	activity activityLogger,
	alerts alertEmitter,
	documents documentPreparer,
	compliance complianceChecker,
	gateway GovernmentGateway,
	locker cache.Locker,
	metrics *MetricsService,
	cfg EngineConfig,
	validate *validator.Validate,
	logger *zap.Logger,
) *RenewalWorkflowEngine {
	if gateway == nil {
		gateway = NoopGateway{}
	}
	if locker == nil {
		locker = cache.NewLocalLocker()
	}
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.StageDuration <= 0 {
		cfg.StageDuration = 72 * time.Hour
	}
	if cfg.RemediationBudget <= 0 {
		cfg.RemediationBudget = 1
	}
	if cfg.QualityThreshold <= 0 || cfg.QualityThreshold > 1 {
		cfg.QualityThreshold = 0.95
	}
	if cfg.RenewalTerm <= 0 {
		cfg.RenewalTerm = 365 * 24 * time.Hour
	}
	if cfg.ExternalTimeout <= 0 {
		cfg.ExternalTimeout = 30 * time.Second
	}
	registerLifecycleValidations(validate)
	return &RenewalWorkflowEngine{
		credentials: credentials,
		workflows:   workflows,
		activity:    activity,
		alerts:      alerts,
		documents:   documents,
		compliance:  compliance,
		gateway:     gateway,
		locker:      locker,
		metrics:     metrics,
		cfg:         cfg,
		validator:   validate,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Open starts a renewal workflow for an active credential. An existing open workflow is reported as ErrAlreadyOpen
// and must not be retried.
func (e *RenewalWorkflowEngine) Open(ctx context.Context, tenantID, credentialID string) (*models.Workflow, error) {
	if tenantID == "" {
		return nil, appErrors.ErrTenantRequired
	}
	cred, err := e.loadCredential(ctx, tenantID, credentialID)
	if err != nil {
		return nil, err
	}
	now := e.now()
	if cred.HasOpenWorkflow() {
		err := appErrors.Clone(appErrors.ErrAlreadyOpen, fmt.Sprintf("credential %s already has open workflow %s", cred.ID, *cred.OpenWorkflowID))
		e.logInvariant(err, tenantID, cred.ID, *cred.OpenWorkflowID)
		return nil, err
	}
	if cred.Status != models.CredentialStatusActive || cred.ExpiryDate.Before(now) {
		return nil, appErrors.Clone(appErrors.ErrNotRenewable, fmt.Sprintf("credential %s is %s and expires %s", cred.ID, cred.Status, cred.ExpiryDate.Format("2006-01-02")))
	}

	class := Classify(*cred, now)
	stages := models.NewStageStates()
	stages[0].Status = models.StageStatusInProgress
	stages[0].StartedAt = timePtr(now)
	wf := &models.Workflow{
		TenantID:            tenantID,
		CredentialID:        cred.ID,
		Stage:               models.StageDocumentPreparation,
		StageStatus:         models.StageStatusInProgress,
		Status:              models.WorkflowStatusOpen,
		Priority:            class.Priority,
		DocumentsRequired:   models.DocumentKinds(e.documents.Requirements(*cred)),
		DocumentsPrepared:   models.PreparedDocuments{},
		Stages:              stages,
		Callbacks:           models.StageCallbacks{},
		ExpiryDateAtOpen:    cred.ExpiryDate,
		OpenedAt:            now,
		EstimatedCompletion: now.Add(initialEstimate(class.Priority)),
		LastAdvancedAt:      now,
	}

	if err := e.workflows.OpenWorkflow(ctx, wf); err != nil {
		if errors.Is(err, appErrors.ErrAlreadyOpen) {
			e.logInvariant(err, tenantID, cred.ID, "")
		}
		return nil, e.storeError(err, "credential")
	}

	e.record(ctx, wf.TenantID, models.ActivityRenewalInitiation, cred.ID, wf.ID, models.JSONMap{
		"priority":            wf.Priority,
		"daysToExpiry":        class.DaysToExpiry,
		"bucket":              class.Bucket,
		"documentsRequired":   len(wf.DocumentsRequired),
		"estimatedCompletion": wf.EstimatedCompletion,
	})
	e.metrics.RecordWorkflowOpened(wf.Priority)
	e.logger.Sugar().Infow("renewal workflow opened", "tenant_id", tenantID, "credential_id", cred.ID, "workflow_id", wf.ID, "priority", wf.Priority)
	return wf, nil
}

// Advance attempts to complete the current stage of an open workflow. Concurrent advances of the same workflow
// fail with ErrConcurrentAdvance.
func (e *RenewalWorkflowEngine) Advance(ctx context.Context, tenantID, workflowID string) (*models.Workflow, error) {
	release, err := e.lockWorkflow(ctx, tenantID, workflowID)
	if err != nil {
		return nil, err
	}
	defer release()

	wf, err := e.workflows.GetWorkflow(ctx, tenantID, workflowID)
	if err != nil {
		return nil, e.storeError(err, "workflow")
	}
	return e.advanceLocked(ctx, wf)
}

// RecordStageCallback stores an upstream status update for the current external stage and advances the workflow.
func (e *RenewalWorkflowEngine) RecordStageCallback(ctx context.Context, tenantID, workflowID string, req dto.StageCallbackRequest) (*models.Workflow, error) {
	if err := e.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payload")
	}
	stage := models.WorkflowStage(req.Stage)
	if !stage.External() {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("stage %s does not accept upstream callbacks", stage))
	}

	release, err := e.lockWorkflow(ctx, tenantID, workflowID)
	if err != nil {
		return nil, err
	}
	defer release()

	wf, err := e.workflows.GetWorkflow(ctx, tenantID, workflowID)
	if err != nil {
		return nil, e.storeError(err, "workflow")
	}
	if !wf.IsOpen() {
		return nil, appErrors.Clone(appErrors.ErrWorkflowClosed, fmt.Sprintf("workflow %s is %s", wf.ID, wf.Status))
	}
	if wf.Stage != stage {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, fmt.Sprintf("workflow %s is at stage %s", wf.ID, wf.Stage))
	}
	cred, err := e.loadCredential(ctx, tenantID, wf.CredentialID)
	if err != nil {
		return nil, err
	}
	if !cred.Status.Tracked() {
		return nil, appErrors.Clone(appErrors.ErrNotRenewable, fmt.Sprintf("credential %s is %s", cred.ID, cred.Status))
	}
	if cred.ExpiryDate.Before(e.now()) {
		return nil, appErrors.Clone(appErrors.ErrNotRenewable, fmt.Sprintf("credential %s expired on %s", cred.ID, cred.ExpiryDate.Format("2006-01-02")))
	}
	if req.NewExpiryDate != nil && !req.NewExpiryDate.After(cred.ExpiryDate) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "newExpiryDate must be after the current expiry date")
	}

	if wf.Callbacks == nil {
		wf.Callbacks = models.StageCallbacks{}
	}
	wf.Callbacks[stage] = models.StageCallback{
		Stage:         stage,
		Outcome:       models.CallbackOutcome(req.Outcome),
		NewExpiryDate: req.NewExpiryDate,
		Reference:     req.Reference,
		Message:       req.Message,
		ReceivedAt:    e.now(),
	}
	e.record(ctx, tenantID, models.ActivityStageTransition, cred.ID, wf.ID, models.JSONMap{
		"stage":    stage,
		"callback": req.Outcome,
		"message":  req.Message,
	})
	return e.advanceLocked(ctx, wf)
}

func (e *RenewalWorkflowEngine) lockWorkflow(ctx context.Context, tenantID, workflowID string) (func(), error) {
	if tenantID == "" {
		return nil, appErrors.ErrTenantRequired
	}
	key := "workflow:" + tenantID + ":" + workflowID
	owner := uuid.NewString()
	acquired, err := e.locker.TryAcquire(ctx, key, owner, advanceLockTTL)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to lock workflow")
	}
	if !acquired {
		busy := appErrors.Clone(appErrors.ErrConcurrentAdvance, fmt.Sprintf("workflow %s is already being advanced", workflowID))
		e.logInvariant(busy, tenantID, "", workflowID)
		return nil, busy
	}
	return func() {
		if err := e.locker.Release(context.Background(), key, owner); err != nil {
			e.logger.Sugar().Warnw("failed to release workflow lock", "workflow_id", workflowID, "error", err)
		}
	}, nil
}

func (e *RenewalWorkflowEngine) advanceLocked(ctx context.Context, wf *models.Workflow) (*models.Workflow, error) {
	if !wf.IsOpen() {
		return wf, nil
	}
	cred, err := e.loadCredential(ctx, wf.TenantID, wf.CredentialID)
	if err != nil {
		return nil, err
	}
	now := e.now()
	if !cred.Status.Tracked() || cred.ExpiryDate.Before(now) {
		return wf, nil
	}

	wf.Priority = models.MaxPriority(wf.Priority, Classify(*cred, now).Priority)
	closed, err := e.runStage(ctx, cred, wf, now)
	if err != nil {
		return nil, err
	}
	if closed {
		return wf, nil
	}

	wf.EstimatedCompletion = now.Add(time.Duration(wf.RemainingStages()) * e.cfg.StageDuration)
	if err := e.workflows.SaveWorkflow(ctx, wf); err != nil {
		if errors.Is(err, appErrors.ErrStaleWorkflow) {
			e.logInvariant(err, wf.TenantID, wf.CredentialID, wf.ID)
		}
		return nil, e.storeError(err, "workflow")
	}
	return wf, nil
}

func (e *RenewalWorkflowEngine) runStage(ctx context.Context, cred *models.Credential, wf *models.Workflow, now time.Time) (bool, error) {
	state := wf.State(wf.Stage)
	if state == nil {
		return false, appErrors.Clone(appErrors.ErrInternal, fmt.Sprintf("workflow %s has no history for stage %s", wf.ID, wf.Stage))
	}
	switch {
	case wf.Stage == models.StageDocumentPreparation:
		return e.runDocumentPreparation(ctx, cred, wf, state, now)
	case wf.Stage == models.StageComplianceVerification:
		return e.runComplianceVerification(ctx, cred, wf, state, now)
	case wf.Stage.External():
		return e.runExternalStage(ctx, cred, wf, state, now)
	default:
		return false, appErrors.Clone(appErrors.ErrInternal, fmt.Sprintf("workflow %s is at unknown stage %s", wf.ID, wf.Stage))
	}
}

func (e *RenewalWorkflowEngine) runDocumentPreparation(ctx context.Context, cred *models.Credential, wf *models.Workflow, state *models.StageState, now time.Time) (bool, error) {
	result, err := e.documents.Prepare(ctx, wf.TenantID, *cred)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return false, ctxErr
		}
		return e.block(ctx, cred, wf, state, now, fmt.Sprintf("document preparation failed: %v", err))
	}

	wf.DocumentsRequired = models.DocumentKinds(result.DocumentsRequired)
	wf.DocumentsPrepared = models.PreparedDocuments(result.Documents)
	e.record(ctx, wf.TenantID, models.ActivityDocumentPreparation, cred.ID, wf.ID, models.JSONMap{
		"documentsGenerated": result.DocumentsGenerated,
		"documentsReady":     result.DocumentsReady,
		"documentsPending":   result.DocumentsPending,
		"qualityScore":       result.QualityScore,
	})

	if result.MeetsThreshold(e.cfg.QualityThreshold) {
		return e.completeStage(ctx, cred, wf, state, now, nil)
	}
	state.Status = models.StageStatusInProgress
	wf.StageStatus = models.StageStatusInProgress
	if e.overdue(wf, now) {
		return e.block(ctx, cred, wf, state, now, fmt.Sprintf("quality score %.1f%% below threshold", result.QualityScore*100))
	}
	return false, nil
}

func (e *RenewalWorkflowEngine) runComplianceVerification(ctx context.Context, cred *models.Credential, wf *models.Workflow, state *models.StageState, now time.Time) (bool, error) {
	blocking := BlockingIssues(e.compliance.EvaluateAt(*cred, now))
	if len(blocking) == 0 {
		return e.completeStage(ctx, cred, wf, state, now, nil)
	}

	codes := make([]string, 0, len(blocking))
	for _, issue := range blocking {
		codes = append(codes, issue.IssueCode)
	}
	reason := "compliance issues: " + strings.Join(codes, ", ")
	if e.overdue(wf, now) {
		return e.block(ctx, cred, wf, state, now, reason)
	}
	// Not counted against the remediation budget until the stage is overdue.
	state.Status = models.StageStatusBlocked
	state.BlockReason = reason
	wf.StageStatus = models.StageStatusBlocked
	return false, nil
}

func (e *RenewalWorkflowEngine) runExternalStage(ctx context.Context, cred *models.Credential, wf *models.Workflow, state *models.StageState, now time.Time) (bool, error) {
	if cb, ok := wf.Callbacks[wf.Stage]; ok {
		switch cb.Outcome {
		case models.CallbackOutcomeCompleted:
			return e.completeStage(ctx, cred, wf, state, now, &cb)
		case models.CallbackOutcomeFailed:
			delete(wf.Callbacks, wf.Stage)
			reason := "upstream reported failure"
			if cb.Message != "" {
				reason += ": " + cb.Message
			}
			return e.block(ctx, cred, wf, state, now, reason)
		}
	}
	if e.overdue(wf, now) {
		return e.block(ctx, cred, wf, state, now, fmt.Sprintf("no upstream completion within %s", e.cfg.StageDuration))
	}
	state.Status = models.StageStatusInProgress
	wf.StageStatus = models.StageStatusInProgress
	return false, nil
}

func (e *RenewalWorkflowEngine) overdue(wf *models.Workflow, now time.Time) bool {
	return now.Sub(wf.LastAdvancedAt) > e.cfg.StageDuration
}

// block records one blocked observation. Within budget it remediates; past budget it escalates and closes the workflow.
func (e *RenewalWorkflowEngine) block(ctx context.Context, cred *models.Credential, wf *models.Workflow, state *models.StageState, now time.Time, reason string) (bool, error) {
	state.Blocks++
	state.Status = models.StageStatusBlocked
	state.BlockReason = reason
	wf.StageStatus = models.StageStatusBlocked
	e.metrics.RecordStageOutcome(state.Stage, models.StageStatusBlocked)

	if state.Blocks > e.cfg.RemediationBudget {
		return e.escalate(ctx, cred, wf, state, now, reason)
	}

	state.Remediations++
	wf.LastAdvancedAt = now
	details := models.JSONMap{
		"stage":   state.Stage,
		"reason":  reason,
		"attempt": state.Remediations,
	}
	if err := e.remediate(ctx, cred, wf, state.Stage); err != nil {
		details["error"] = err.Error()
		e.logger.Sugar().Warnw("auto-remediation request failed", "tenant_id", wf.TenantID, "workflow_id", wf.ID, "stage", state.Stage, "error", err)
	}
	e.record(ctx, wf.TenantID, models.ActivityAutoRemediation, cred.ID, wf.ID, details)
	state.Status = models.StageStatusInProgress
	wf.StageStatus = models.StageStatusInProgress
	return false, nil
}

// remediate re-requests external stages upstream. Internal stages are re-run on the next advance.
func (e *RenewalWorkflowEngine) remediate(ctx context.Context, cred *models.Credential, wf *models.Workflow, stage models.WorkflowStage) error {
	if !stage.External() {
		return nil
	}
	return e.requestUpstream(ctx, cred, wf, stage)
}

func (e *RenewalWorkflowEngine) requestUpstream(ctx context.Context, cred *models.Credential, wf *models.Workflow, stage models.WorkflowStage) error {
	reqCtx, cancel := context.WithTimeout(ctx, e.cfg.ExternalTimeout)
	defer cancel()
	return e.gateway.RequestStage(reqCtx, *cred, *wf, stage)
}

func (e *RenewalWorkflowEngine) escalate(ctx context.Context, cred *models.Credential, wf *models.Workflow, state *models.StageState, now time.Time, reason string) (bool, error) {
	state.Escalated = true
	state.Status = models.StageStatusFailed
	wf.StageStatus = models.StageStatusFailed

	alert := NewEscalationAlert(*cred, *wf, state.Stage, reason, now)
	if _, err := e.alerts.Emit(ctx, alert); err != nil {
		return false, err
	}

	closure := fmt.Sprintf("stage %s escalated: %s", state.Stage, reason)
	wf.Status = models.WorkflowStatusFailed
	wf.ClosedAt = timePtr(now)
	wf.ClosureReason = &closure
	wf.LastAdvancedAt = now
	if err := e.workflows.CloseWorkflow(ctx, wf, nil); err != nil {
		return false, e.storeError(err, "workflow")
	}

	e.record(ctx, wf.TenantID, models.ActivityWorkflowClosed, cred.ID, wf.ID, models.JSONMap{
		"status": wf.Status,
		"stage":  state.Stage,
		"reason": reason,
		"stages": wf.Stages,
	})
	e.metrics.RecordWorkflowClosed(models.WorkflowStatusFailed)
	e.logger.Sugar().Warnw("renewal workflow escalated", "tenant_id", wf.TenantID, "credential_id", cred.ID, "workflow_id", wf.ID, "stage", state.Stage, "reason", reason)
	return true, nil
}

func (e *RenewalWorkflowEngine) completeStage(ctx context.Context, cred *models.Credential, wf *models.Workflow, state *models.StageState, now time.Time, cb *models.StageCallback) (bool, error) {
	state.Status = models.StageStatusCompleted
	state.CompletedAt = timePtr(now)
	state.BlockReason = ""
	e.metrics.RecordStageOutcome(state.Stage, models.StageStatusCompleted)

	next, ok := wf.Stage.Next()
	if !ok {
		return e.finalize(ctx, cred, wf, now, cb)
	}

	e.record(ctx, wf.TenantID, models.ActivityStageTransition, cred.ID, wf.ID, models.JSONMap{
		"from": wf.Stage,
		"to":   next,
	})
	wf.Stage = next
	wf.StageStatus = models.StageStatusInProgress
	wf.LastAdvancedAt = now
	nextState := wf.State(next)
	nextState.Status = models.StageStatusInProgress
	nextState.StartedAt = timePtr(now)

	if next.External() {
		if err := e.requestUpstream(ctx, cred, wf, next); err != nil {
			return e.block(ctx, cred, wf, nextState, now, fmt.Sprintf("upstream request failed: %v", err))
		}
	}
	return false, nil
}

func (e *RenewalWorkflowEngine) finalize(ctx context.Context, cred *models.Credential, wf *models.Workflow, now time.Time, cb *models.StageCallback) (bool, error) {
	outcome := &models.RenewalOutcome{NewExpiryDate: cred.ExpiryDate.Add(e.cfg.RenewalTerm)}
	if cb != nil {
		if cb.NewExpiryDate != nil {
			outcome.NewExpiryDate = *cb.NewExpiryDate
		}
		outcome.Reference = cb.Reference
	}

	closure := "renewed"
	wf.Status = models.WorkflowStatusCompleted
	wf.StageStatus = models.StageStatusCompleted
	wf.ClosedAt = timePtr(now)
	wf.ClosureReason = &closure
	wf.LastAdvancedAt = now
	wf.EstimatedCompletion = now
	if err := e.workflows.CloseWorkflow(ctx, wf, outcome); err != nil {
		return false, e.storeError(err, "workflow")
	}

	e.record(ctx, wf.TenantID, models.ActivityWorkflowClosed, cred.ID, wf.ID, models.JSONMap{
		"status":        wf.Status,
		"newExpiryDate": outcome.NewExpiryDate.Format("2006-01-02"),
		"reference":     outcome.Reference,
		"stages":        wf.Stages,
	})
	e.metrics.RecordWorkflowClosed(models.WorkflowStatusCompleted)
	e.logger.Sugar().Infow("renewal workflow completed", "tenant_id", wf.TenantID, "credential_id", cred.ID, "workflow_id", wf.ID, "new_expiry", outcome.NewExpiryDate)
	return true, nil
}

func (e *RenewalWorkflowEngine) loadCredential(ctx context.Context, tenantID, id string) (*models.Credential, error) {
	cred, err := e.credentials.GetCredential(ctx, tenantID, id)
	if err != nil {
		return nil, e.storeError(err, "credential")
	}
	return cred, nil
}

func (e *RenewalWorkflowEngine) record(ctx context.Context, tenantID string, kind models.ActivityKind, credentialID, workflowID string, details models.JSONMap) {
	entry := &models.ActivityEntry{
		TenantID:     tenantID,
		Kind:         kind,
		CredentialID: &credentialID,
		Details:      details,
		CreatedAt:    e.now(),
	}
	if workflowID != "" {
		entry.WorkflowID = &workflowID
	}
	if err := e.activity.AppendActivity(ctx, entry); err != nil {
		e.logger.Sugar().Warnw("failed to append activity", "tenant_id", tenantID, "kind", kind, "credential_id", credentialID, "error", err)
	}
}

func (e *RenewalWorkflowEngine) logInvariant(err error, tenantID, credentialID, workflowID string) {
	e.logger.Sugar().Errorw("workflow invariant violation", "tenant_id", tenantID, "credential_id", credentialID, "workflow_id", workflowID, "error", err)
}

func (e *RenewalWorkflowEngine) storeError(err error, resource string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return appErrors.Clone(appErrors.ErrNotFound, resource+" not found")
	}
	var appErr *appErrors.Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to persist "+resource)
}

func initialEstimate(priority models.Priority) time.Duration {
	switch priority {
	case models.PriorityUrgent:
		return 7 * 24 * time.Hour
	case models.PriorityHigh:
		return 14 * 24 * time.Hour
	default:
		return 21 * 24 * time.Hour
	}
}

func timePtr(t time.Time) *time.Time {
	return &t
}
