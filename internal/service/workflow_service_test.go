package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/credential-lifecycle-api/internal/dto"
	"github.com/noah-isme/credential-lifecycle-api/internal/models"
	appErrors "github.com/noah-isme/credential-lifecycle-api/pkg/errors"
)

const stageDuration = 72 * time.Hour

func TestOpenWorkflowForCriticalCredential(t *testing.T) {
	f := newLifecycleFixture(t)
	cred := f.seed(t, "WP-1", 25)

	wf, err := f.engine.Open(context.Background(), testTenant, cred.ID)

	require.NoError(t, err)
	assert.Equal(t, models.PriorityUrgent, wf.Priority)
	assert.Equal(t, models.StageDocumentPreparation, wf.Stage)
	assert.Equal(t, models.StageStatusInProgress, wf.StageStatus)
	assert.Equal(t, fixtureNow.AddDate(0, 0, 7), wf.EstimatedCompletion)
	assert.Equal(t, cred.ExpiryDate, wf.ExpiryDateAtOpen)
	assert.Len(t, wf.DocumentsRequired, 7)
	require.Len(t, wf.Stages, len(models.StagePipeline))
	assert.Equal(t, models.StageStatusInProgress, wf.Stages[0].Status)
	assert.Equal(t, models.StageStatusPending, wf.Stages[1].Status)

	stored := f.credential(t, cred.ID)
	assert.Equal(t, models.CredentialStatusPendingRenewal, stored.Status)
	require.NotNil(t, stored.OpenWorkflowID)
	assert.Equal(t, wf.ID, *stored.OpenWorkflowID)
	assert.Len(t, f.store.ActivityByKind(testTenant, models.ActivityRenewalInitiation), 1)
}

func TestOpenEstimatesByPriority(t *testing.T) {
	f := newLifecycleFixture(t)
	high := f.seed(t, "WP-high", 45)
	normal := f.seed(t, "WP-normal", 80)

	wfHigh, err := f.engine.Open(context.Background(), testTenant, high.ID)
	require.NoError(t, err)
	wfNormal, err := f.engine.Open(context.Background(), testTenant, normal.ID)
	require.NoError(t, err)

	assert.Equal(t, models.PriorityHigh, wfHigh.Priority)
	assert.Equal(t, fixtureNow.AddDate(0, 0, 14), wfHigh.EstimatedCompletion)
	assert.Equal(t, models.PriorityNormal, wfNormal.Priority)
	assert.Equal(t, fixtureNow.AddDate(0, 0, 21), wfNormal.EstimatedCompletion)
}

func TestOpenRejectsSecondWorkflow(t *testing.T) {
	f := newLifecycleFixture(t)
	cred := f.seed(t, "WP-1", 25)
	_, err := f.engine.Open(context.Background(), testTenant, cred.ID)
	require.NoError(t, err)

	_, err = f.engine.Open(context.Background(), testTenant, cred.ID)

	assert.ErrorIs(t, err, appErrors.ErrAlreadyOpen)
	assert.True(t, appErrors.IsInvariantViolation(err))
}

func TestOpenIsAtomicUnderConcurrency(t *testing.T) {
	f := newLifecycleFixture(t)
	cred := f.seed(t, "WP-1", 25)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		opened    int
		duplicate int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.engine.Open(context.Background(), testTenant, cred.ID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				opened++
			case errors.Is(err, appErrors.ErrAlreadyOpen):
				duplicate++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, opened)
	assert.Equal(t, 15, duplicate)
	workflows, total, err := f.store.ListWorkflows(context.Background(), testTenant, models.WorkflowFilter{Status: models.WorkflowStatusOpen})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Len(t, workflows, 1)
}

func TestOpenRejectsExpiredAndMissingCredentials(t *testing.T) {
	f := newLifecycleFixture(t)
	lapsed := f.seed(t, "WP-lapsed", -1)
	cancelled := f.seed(t, "WP-cancelled", 40)
	_, err := f.store.CancelCredential(context.Background(), testTenant, cancelled.ID, fixtureNow)
	require.NoError(t, err)

	_, err = f.engine.Open(context.Background(), testTenant, lapsed.ID)
	assert.ErrorIs(t, err, appErrors.ErrNotRenewable)

	_, err = f.engine.Open(context.Background(), testTenant, cancelled.ID)
	assert.ErrorIs(t, err, appErrors.ErrNotRenewable)

	_, err = f.engine.Open(context.Background(), testTenant, "missing")
	assert.ErrorIs(t, err, appErrors.ErrNotFound)

	_, err = f.engine.Open(context.Background(), "", lapsed.ID)
	assert.ErrorIs(t, err, appErrors.ErrTenantRequired)
}

func TestAdvanceDocumentPreparationBelowThresholdStaysInProgress(t *testing.T) {
	f := newLifecycleFixture(t)
	f.engine.documents = NewDocumentPipeline(tenDocumentTable(), f.generator, f.verifier, nil, time.Second, zap.NewNop())
	f.generator.failKind("bank_statement", errors.New("registry timeout"))
	cred := f.seed(t, "WP-1", 25)
	wf, err := f.engine.Open(context.Background(), testTenant, cred.ID)
	require.NoError(t, err)

	advanced, err := f.engine.Advance(context.Background(), testTenant, wf.ID)

	require.NoError(t, err)
	assert.Equal(t, models.StageDocumentPreparation, advanced.Stage)
	assert.Equal(t, models.StageStatusInProgress, advanced.StageStatus)
	assert.Len(t, advanced.DocumentsPrepared, 10)
	assert.Equal(t, 0, advanced.State(models.StageDocumentPreparation).Blocks)
	entries := f.store.ActivityByKind(testTenant, models.ActivityDocumentPreparation)
	require.Len(t, entries, 1)
	assert.InDelta(t, 0.9, entries[0].Details["qualityScore"], 1e-9)
}

func TestAdvanceDocumentPreparationRemediatesThenEscalates(t *testing.T) {
	f := newLifecycleFixture(t)
	f.engine.documents = NewDocumentPipeline(tenDocumentTable(), f.generator, f.verifier, nil, time.Second, zap.NewNop())
	f.generator.failKind("bank_statement", errors.New("registry timeout"))
	cred := f.seed(t, "WP-1", 80)
	wf, err := f.engine.Open(context.Background(), testTenant, cred.ID)
	require.NoError(t, err)

	f.clock.Advance(stageDuration + time.Hour)
	remediated, err := f.engine.Advance(context.Background(), testTenant, wf.ID)
	require.NoError(t, err)
	state := remediated.State(models.StageDocumentPreparation)
	assert.Equal(t, 1, state.Blocks)
	assert.Equal(t, 1, state.Remediations)
	assert.Equal(t, models.StageStatusInProgress, state.Status)
	assert.Equal(t, f.clock.Now(), remediated.LastAdvancedAt)
	assert.Len(t, f.store.ActivityByKind(testTenant, models.ActivityAutoRemediation), 1)
	assert.Empty(t, f.alertsOfKind(models.AlertKindStageEscalation))

	f.clock.Advance(stageDuration + time.Hour)
	escalated, err := f.engine.Advance(context.Background(), testTenant, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusFailed, escalated.Status)
	assert.True(t, escalated.State(models.StageDocumentPreparation).Escalated)
	assert.Len(t, f.store.ActivityByKind(testTenant, models.ActivityAutoRemediation), 1)

	alerts := f.alertsOfKind(models.AlertKindStageEscalation)
	require.Len(t, alerts, 1)
	assert.Equal(t, models.SeverityCritical, alerts[0].Severity)
	assert.Equal(t, cred.ID, alerts[0].CredentialID)
	assert.Equal(t, models.StageDocumentPreparation, alerts[0].Payload["stage"])

	released := f.credential(t, cred.ID)
	assert.Equal(t, models.CredentialStatusActive, released.Status)
	assert.Nil(t, released.OpenWorkflowID)
}

func TestComplianceStageCompletesWithMediumIssuesOnly(t *testing.T) {
	f := newLifecycleFixture(t)
	cred := f.seed(t, "WP-1", 50, func(c *models.Credential) { c.SponsorID = nil })

	wf := f.openAt(t, cred, models.StageComplianceVerification)
	advanced, err := f.engine.Advance(context.Background(), testTenant, wf.ID)

	require.NoError(t, err)
	assert.Equal(t, models.StageApplicationSubmission, advanced.Stage)
	assert.Equal(t, models.StageStatusCompleted, advanced.State(models.StageComplianceVerification).Status)
	assert.Equal(t, 1, f.gateway.requests(models.StageApplicationSubmission))
}

func TestComplianceStageBlocksOnHighSeverityWithoutSpendingBudget(t *testing.T) {
	f := newLifecycleFixture(t)
	cred := f.seed(t, "WP-1", 25)
	wf := f.openAt(t, cred, models.StageComplianceVerification)

	blocked, err := f.engine.Advance(context.Background(), testTenant, wf.ID)
	require.NoError(t, err)
	state := blocked.State(models.StageComplianceVerification)
	assert.Equal(t, models.StageStatusBlocked, blocked.StageStatus)
	assert.Equal(t, models.StageStatusBlocked, state.Status)
	assert.Equal(t, 0, state.Blocks)
	assert.Contains(t, state.BlockReason, IssueVisaExpiringCritical)

	f.clock.Advance(stageDuration + time.Hour)
	remediated, err := f.engine.Advance(context.Background(), testTenant, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, remediated.State(models.StageComplianceVerification).Remediations)
	assert.True(t, remediated.IsOpen())

	f.clock.Advance(stageDuration + time.Hour)
	escalated, err := f.engine.Advance(context.Background(), testTenant, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusFailed, escalated.Status)
	assert.Len(t, f.alertsOfKind(models.AlertKindStageEscalation), 1)
}

func TestExternalStageWaitsForCallback(t *testing.T) {
	f := newLifecycleFixture(t)
	cred := f.seed(t, "WP-1", 50)
	wf := f.openAt(t, cred, models.StageGovernmentProcessing)

	f.clock.Advance(24 * time.Hour)
	waiting, err := f.engine.Advance(context.Background(), testTenant, wf.ID)

	require.NoError(t, err)
	assert.Equal(t, models.StageGovernmentProcessing, waiting.Stage)
	assert.Equal(t, models.StageStatusInProgress, waiting.StageStatus)
	assert.Equal(t, 0, waiting.State(models.StageGovernmentProcessing).Blocks)
	assert.Equal(t, waiting.Version, wf.Version+1)
}

func TestRenewalCompletesThroughCallbacks(t *testing.T) {
	f := newLifecycleFixture(t)
	cred := f.seed(t, "WP-1", 50)
	wf := f.openAt(t, cred, models.StageCollection)
	renewedUntil := cred.ExpiryDate.AddDate(2, 0, 0)

	req := callback(models.StageCollection, models.CallbackOutcomeCompleted)
	req.NewExpiryDate = &renewedUntil
	req.Reference = "REG-778"
	done, err := f.engine.RecordStageCallback(context.Background(), testTenant, wf.ID, req)

	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusCompleted, done.Status)
	assert.Equal(t, float64(100), done.Progress())
	require.NotNil(t, done.ClosedAt)

	renewed := f.credential(t, cred.ID)
	assert.Equal(t, models.CredentialStatusActive, renewed.Status)
	assert.True(t, renewed.ExpiryDate.Equal(renewedUntil))
	assert.Nil(t, renewed.OpenWorkflowID)

	stored := f.workflow(t, wf.ID)
	for i := 1; i < len(stored.Stages); i++ {
		if stored.Stages[i].Status == models.StageStatusCompleted {
			assert.Equal(t, models.StageStatusCompleted, stored.Stages[i-1].Status, "stage %s completed before %s", stored.Stages[i].Stage, stored.Stages[i-1].Stage)
		}
	}
	closed := f.store.ActivityByKind(testTenant, models.ActivityWorkflowClosed)
	require.Len(t, closed, 1)
	assert.Equal(t, "REG-778", closed[0].Details["reference"])
}

func TestRenewalWithoutNewExpiryExtendsByTerm(t *testing.T) {
	f := newLifecycleFixture(t)
	cred := f.seed(t, "WP-1", 50)
	wf := f.openAt(t, cred, models.StageCollection)

	_, err := f.engine.RecordStageCallback(context.Background(), testTenant, wf.ID, callback(models.StageCollection, models.CallbackOutcomeCompleted))

	require.NoError(t, err)
	renewed := f.credential(t, cred.ID)
	assert.True(t, renewed.ExpiryDate.Equal(cred.ExpiryDate.Add(365*24*time.Hour)))
}

func TestFailedCallbacksRemediateOnceThenEscalate(t *testing.T) {
	f := newLifecycleFixture(t)
	cred := f.seed(t, "WP-1", 50)
	wf := f.openAt(t, cred, models.StageApprovalTracking)
	require.Equal(t, 1, f.gateway.requests(models.StageApprovalTracking))

	req := callback(models.StageApprovalTracking, models.CallbackOutcomeFailed)
	req.Message = "missing signature"
	first, err := f.engine.RecordStageCallback(context.Background(), testTenant, wf.ID, req)
	require.NoError(t, err)
	assert.True(t, first.IsOpen())
	assert.Equal(t, 1, first.State(models.StageApprovalTracking).Remediations)
	assert.Equal(t, 2, f.gateway.requests(models.StageApprovalTracking))
	_, pending := first.Callbacks[models.StageApprovalTracking]
	assert.False(t, pending)

	second, err := f.engine.RecordStageCallback(context.Background(), testTenant, wf.ID, req)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusFailed, second.Status)
	assert.Equal(t, 2, f.gateway.requests(models.StageApprovalTracking))
	assert.Len(t, f.store.ActivityByKind(testTenant, models.ActivityAutoRemediation), 1)

	alerts := f.alertsOfKind(models.AlertKindStageEscalation)
	require.Len(t, alerts, 1)
	assert.Contains(t, alerts[0].Payload["reason"], "missing signature")
}

func TestGatewayFailureOnStageEntryCountsAsBlocked(t *testing.T) {
	f := newLifecycleFixture(t)
	cred := f.seed(t, "WP-1", 50)
	wf := f.openAt(t, cred, models.StageComplianceVerification)
	f.gateway.err = errors.New("registry unavailable")

	advanced, err := f.engine.Advance(context.Background(), testTenant, wf.ID)

	require.NoError(t, err)
	assert.Equal(t, models.StageApplicationSubmission, advanced.Stage)
	state := advanced.State(models.StageApplicationSubmission)
	assert.Equal(t, 1, state.Blocks)
	assert.Equal(t, 1, state.Remediations)
	assert.Equal(t, 2, f.gateway.requests(models.StageApplicationSubmission))
	remediations := f.store.ActivityByKind(testTenant, models.ActivityAutoRemediation)
	require.Len(t, remediations, 1)
	assert.Equal(t, "registry unavailable", remediations[0].Details["error"])
}

func TestRecordStageCallbackValidation(t *testing.T) {
	f := newLifecycleFixture(t)
	cred := f.seed(t, "WP-1", 50)
	wf := f.openAt(t, cred, models.StageGovernmentProcessing)
	ctx := context.Background()

	_, err := f.engine.RecordStageCallback(ctx, testTenant, wf.ID, callback(models.StageApprovalTracking, models.CallbackOutcomeCompleted))
	assert.ErrorIs(t, err, appErrors.ErrPreconditionFailed)

	_, err = f.engine.RecordStageCallback(ctx, testTenant, wf.ID, callback(models.StageComplianceVerification, models.CallbackOutcomeCompleted))
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	_, err = f.engine.RecordStageCallback(ctx, testTenant, wf.ID, dto.StageCallbackRequest{Stage: "government_processing", Outcome: "approved"})
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	_, err = f.engine.RecordStageCallback(ctx, testTenant, wf.ID, dto.StageCallbackRequest{Stage: "shipping", Outcome: "completed"})
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	past := cred.ExpiryDate.AddDate(0, 0, -1)
	req := callback(models.StageGovernmentProcessing, models.CallbackOutcomeCompleted)
	req.NewExpiryDate = &past
	_, err = f.engine.RecordStageCallback(ctx, testTenant, wf.ID, req)
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	_, err = f.engine.RecordStageCallback(ctx, testTenant, "missing", callback(models.StageGovernmentProcessing, models.CallbackOutcomeCompleted))
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
}

func TestRecordStageCallbackOnClosedWorkflow(t *testing.T) {
	f := newLifecycleFixture(t)
	cred := f.seed(t, "WP-1", 50)
	wf := f.openAt(t, cred, models.StageCollection)
	_, err := f.engine.RecordStageCallback(context.Background(), testTenant, wf.ID, callback(models.StageCollection, models.CallbackOutcomeCompleted))
	require.NoError(t, err)

	_, err = f.engine.RecordStageCallback(context.Background(), testTenant, wf.ID, callback(models.StageCollection, models.CallbackOutcomeCompleted))

	assert.ErrorIs(t, err, appErrors.ErrWorkflowClosed)
}

func TestAdvanceIsNoopForCancelledCredential(t *testing.T) {
	f := newLifecycleFixture(t)
	cred := f.seed(t, "WP-1", 50)
	wf := f.openAt(t, cred, models.StageGovernmentProcessing)
	_, err := f.store.CancelCredential(context.Background(), testTenant, cred.ID, fixtureNow)
	require.NoError(t, err)

	f.clock.Advance(10 * stageDuration)
	after, err := f.engine.Advance(context.Background(), testTenant, wf.ID)

	require.NoError(t, err)
	assert.Equal(t, wf.Version, after.Version)
	assert.Equal(t, wf.Stages, f.workflow(t, wf.ID).Stages)
	assert.Empty(t, f.alertsOfKind(models.AlertKindStageEscalation))
}

func TestAdvanceIsNoopAfterExpiry(t *testing.T) {
	f := newLifecycleFixture(t)
	cred := f.seed(t, "WP-1", 50)
	wf := f.openAt(t, cred, models.StageGovernmentProcessing)

	f.clock.Advance(51 * 24 * time.Hour)
	after, err := f.engine.Advance(context.Background(), testTenant, wf.ID)

	require.NoError(t, err)
	assert.Equal(t, wf.Version, after.Version)
	assert.Equal(t, models.StageGovernmentProcessing, f.workflow(t, wf.ID).Stage)
}

func TestAdvanceRejectsConcurrentAdvance(t *testing.T) {
	f := newLifecycleFixture(t)
	cred := f.seed(t, "WP-1", 50)
	wf, err := f.engine.Open(context.Background(), testTenant, cred.ID)
	require.NoError(t, err)
	acquired, err := f.engine.locker.TryAcquire(context.Background(), "workflow:"+testTenant+":"+wf.ID, "other-worker", time.Minute)
	require.NoError(t, err)
	require.True(t, acquired)

	_, err = f.engine.Advance(context.Background(), testTenant, wf.ID)

	assert.ErrorIs(t, err, appErrors.ErrConcurrentAdvance)
	assert.True(t, appErrors.IsInvariantViolation(err))
}

func TestAdvanceRaisesPriorityAsExpiryApproaches(t *testing.T) {
	f := newLifecycleFixture(t)
	cred := f.seed(t, "WP-1", 50)
	wf, err := f.engine.Open(context.Background(), testTenant, cred.ID)
	require.NoError(t, err)
	require.Equal(t, models.PriorityHigh, wf.Priority)

	f.clock.Advance(25 * 24 * time.Hour)
	advanced, err := f.engine.Advance(context.Background(), testTenant, wf.ID)

	require.NoError(t, err)
	assert.Equal(t, models.PriorityUrgent, advanced.Priority)
	assert.Equal(t, f.clock.Now().Add(5*stageDuration), advanced.EstimatedCompletion)
}

func TestRecordStageCallbackAfterExpiryBeforeTick(t *testing.T) {
	f := newLifecycleFixture(t)
	cred := f.seed(t, "WP-1", 50)
	wf := f.openAt(t, cred, models.StageCollection)
	f.clock.Advance(51 * 24 * time.Hour)
	require.Equal(t, models.CredentialStatusPendingRenewal, f.credential(t, cred.ID).Status)

	_, err := f.engine.RecordStageCallback(context.Background(), testTenant, wf.ID, callback(models.StageCollection, models.CallbackOutcomeCompleted))

	assert.ErrorIs(t, err, appErrors.ErrNotRenewable)
	stored := f.workflow(t, wf.ID)
	assert.True(t, stored.IsOpen())
	_, recorded := stored.Callbacks[models.StageCollection]
	assert.False(t, recorded)
	assert.Equal(t, wf.Version, stored.Version)
}
