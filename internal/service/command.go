package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/credential-lifecycle-api/internal/dto"
	"github.com/noah-isme/credential-lifecycle-api/internal/models"
	appErrors "github.com/noah-isme/credential-lifecycle-api/pkg/errors"
)

type tickRunner interface {
	RunTick(ctx context.Context, tenantID string) (*models.TickReport, error)
}

type expirationPredictor interface {
	PredictExpirations(ctx context.Context, tenantID string, horizonDays int) (*models.ExpirationPrediction, bool, error)
}

// Command is one operator-triggered lifecycle operation. The set of commands is closed; each carries its own handler.
type Command interface {
	Name() string
	execute(ctx context.Context, d *CommandDispatcher) (interface{}, error)
}

// TrackLifecycle runs a scheduler tick for a tenant immediately.
type TrackLifecycle struct {
	TenantID string
}

// InitiateRenewal opens a renewal workflow for a credential.
type InitiateRenewal struct {
	TenantID     string
	CredentialID string
}

// PrepareDocuments runs the document pipeline for a credential without touching its workflow.
type PrepareDocuments struct {
	TenantID     string
	CredentialID string
}

// OrchestrateWorkflow advances a workflow by one step.
type OrchestrateWorkflow struct {
	TenantID   string
	WorkflowID string
}

// PredictExpirations summarises upcoming expirations.
type PredictExpirations struct {
	TenantID    string
	HorizonDays int
}

func (TrackLifecycle) Name() string      { return "track_lifecycle" }
func (InitiateRenewal) Name() string     { return "initiate_renewal" }
func (PrepareDocuments) Name() string    { return "prepare_documents" }
func (OrchestrateWorkflow) Name() string { return "orchestrate_workflow" }
func (PredictExpirations) Name() string  { return "predict_expirations" }

func (c TrackLifecycle) execute(ctx context.Context, d *CommandDispatcher) (interface{}, error) {
	return d.ticks.RunTick(ctx, c.TenantID)
}

func (c InitiateRenewal) execute(ctx context.Context, d *CommandDispatcher) (interface{}, error) {
	wf, err := d.engine.Open(ctx, c.TenantID, c.CredentialID)
	if err != nil {
		return nil, err
	}
	resp := &dto.RenewalResponse{Workflow: models.NewWorkflowProgress(*wf)}

	cred, err := d.credentials.GetCredential(ctx, c.TenantID, c.CredentialID)
	if err != nil {
		d.logger.Sugar().Warnw("renewal opened but credential reload failed", "tenant_id", c.TenantID, "credential_id", c.CredentialID, "error", err)
		return resp, nil
	}
	now := d.now()
	alert := NewExpiryAlert(*cred, *wf, Classify(*cred, now), now)
	if alert == nil {
		return resp, nil
	}
	emitted, err := d.alerts.Emit(ctx, alert)
	if err != nil {
		return nil, err
	}
	if emitted {
		resp.Alert = alert
	}
	return resp, nil
}

func (c PrepareDocuments) execute(ctx context.Context, d *CommandDispatcher) (interface{}, error) {
	cred, err := d.credentials.GetCredential(ctx, c.TenantID, c.CredentialID)
	if err != nil {
		return nil, notFoundOr(err, "credential")
	}
	result, err := d.documents.Prepare(ctx, c.TenantID, *cred)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to prepare documents")
	}
	credentialID := cred.ID
	entry := &models.ActivityEntry{
		TenantID:     c.TenantID,
		Kind:         models.ActivityDocumentPreparation,
		CredentialID: &credentialID,
		WorkflowID:   cred.OpenWorkflowID,
		Details: models.JSONMap{
			"documentsGenerated": result.DocumentsGenerated,
			"documentsReady":     result.DocumentsReady,
			"documentsPending":   result.DocumentsPending,
			"qualityScore":       result.QualityScore,
			"manual":             true,
		},
		CreatedAt: d.now(),
	}
	if err := d.activity.AppendActivity(ctx, entry); err != nil {
		d.logger.Sugar().Warnw("failed to log document preparation", "tenant_id", c.TenantID, "credential_id", cred.ID, "error", err)
	}
	return &result, nil
}

func (c OrchestrateWorkflow) execute(ctx context.Context, d *CommandDispatcher) (interface{}, error) {
	wf, err := d.engine.Advance(ctx, c.TenantID, c.WorkflowID)
	if err != nil {
		return nil, err
	}
	progress := models.NewWorkflowProgress(*wf)
	return &progress, nil
}

func (c PredictExpirations) execute(ctx context.Context, d *CommandDispatcher) (interface{}, error) {
	prediction, _, err := d.predictor.PredictExpirations(ctx, c.TenantID, c.HorizonDays)
	return prediction, err
}

// CommandDispatcherParams groups dispatcher dependencies.
type CommandDispatcherParams struct {
	Ticks       tickRunner
	Engine      renewalEngine
	Credentials credentialReader
	Documents   documentPreparer
	Alerts      alertEmitter
	Activity    activityLogger
	Predictor   expirationPredictor
	Logger      *zap.Logger
}

// CommandDispatcher runs commands against the lifecycle services.
type CommandDispatcher struct {
	ticks       tickRunner
	engine      renewalEngine
	credentials credentialReader
	documents   documentPreparer
	alerts      alertEmitter
	activity    activityLogger
	predictor   expirationPredictor
	logger      *zap.Logger
	now         func() time.Time
}

// NewCommandDispatcher constructs a dispatcher.
func NewCommandDispatcher(params CommandDispatcherParams) *CommandDispatcher {
	logger := params.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CommandDispatcher{
		ticks:       params.Ticks,
		engine:      params.Engine,
		credentials: params.Credentials,
		documents:   params.Documents,
		alerts:      params.Alerts,
		activity:    params.Activity,
		predictor:   params.Predictor,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Dispatch executes cmd and returns its typed result.
func (d *CommandDispatcher) Dispatch(ctx context.Context, cmd Command) (interface{}, error) {
	if cmd == nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "command is required")
	}
	start := time.Now()
	result, err := cmd.execute(ctx, d)
	if err != nil {
		d.logger.Sugar().Warnw("command failed", "command", cmd.Name(), "duration", time.Since(start), "error", err)
		return nil, err
	}
	d.logger.Sugar().Debugw("command executed", "command", cmd.Name(), "duration", time.Since(start))
	return result, nil
}
