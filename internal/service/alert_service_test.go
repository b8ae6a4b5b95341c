package service

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/credential-lifecycle-api/internal/models"
	"github.com/noah-isme/credential-lifecycle-api/internal/repository"
	appErrors "github.com/noah-isme/credential-lifecycle-api/pkg/errors"
)

func newAlertServiceForTest(t *testing.T, notifier *recordingNotifier) (*AlertService, *repository.MemoryStore) {
	t.Helper()
	store := repository.NewMemoryStore()
	svc := NewAlertService(store, notifier, NewMetricsService(), AlertQueueConfig{Workers: 2, MaxRetries: 3, RetryDelay: time.Millisecond}, zap.NewNop())
	t.Cleanup(svc.Stop)
	return svc, store
}

func sampleAlert(key string) *models.Alert {
	workflowID := "wf-1"
	return &models.Alert{
		TenantID:     testTenant,
		Kind:         models.AlertKindCriticalExpiry,
		CredentialID: "cred-1",
		WorkflowID:   &workflowID,
		Severity:     models.SeverityCritical,
		DedupeKey:    key,
		Payload:      models.JSONMap{"daysToExpiry": 12},
	}
}

func delivered(store *repository.MemoryStore) func() bool {
	return func() bool {
		pending, err := store.ListUndeliveredAlerts(context.Background(), models.AlertCursor{}, 10)
		return err == nil && len(pending) == 0
	}
}

func TestAlertEmitDeliversOncePerKey(t *testing.T) {
	notifier := &recordingNotifier{}
	svc, store := newAlertServiceForTest(t, notifier)
	svc.Start(context.Background())

	first, err := svc.Emit(context.Background(), sampleAlert("critical_expiry:wf-1"))
	require.NoError(t, err)
	second, err := svc.Emit(context.Background(), sampleAlert("critical_expiry:wf-1"))
	require.NoError(t, err)

	assert.True(t, first)
	assert.False(t, second)
	require.Eventually(t, delivered(store), time.Second, 5*time.Millisecond)

	events := notifier.delivered()
	require.Len(t, events, 1)
	assert.Equal(t, "critical_expiry", events[0].Kind)
	assert.Equal(t, "critical_expiry:wf-1", events[0].Key)
	var body models.Alert
	require.NoError(t, json.Unmarshal(events[0].Body, &body))
	assert.Equal(t, "cred-1", body.CredentialID)

	stored := store.AllAlerts(testTenant)
	require.Len(t, stored, 1)
	assert.NotNil(t, stored[0].DeliveredAt)
	assert.Len(t, store.ActivityByKind(testTenant, models.ActivityAlert), 1)
}

func TestAlertDeliveryRetriesFailedSink(t *testing.T) {
	notifier := &recordingNotifier{fails: 2}
	svc, store := newAlertServiceForTest(t, notifier)
	svc.Start(context.Background())

	_, err := svc.Emit(context.Background(), sampleAlert("critical_expiry:wf-2"))
	require.NoError(t, err)

	require.Eventually(t, delivered(store), time.Second, 5*time.Millisecond)
	assert.Len(t, notifier.delivered(), 1)
	stored := store.AllAlerts(testTenant)
	require.Len(t, stored, 1)
	assert.Equal(t, 3, stored[0].Attempts)
}

func TestRedeliverPendingAfterRestart(t *testing.T) {
	notifier := &recordingNotifier{}
	svc, store := newAlertServiceForTest(t, notifier)

	inserted, err := svc.Emit(context.Background(), sampleAlert("critical_expiry:wf-3"))
	require.NoError(t, err)
	require.True(t, inserted)
	assert.Empty(t, notifier.delivered())

	svc.Start(context.Background())
	count, err := svc.RedeliverPending(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, count)
	require.Eventually(t, delivered(store), time.Second, 5*time.Millisecond)
	assert.Len(t, notifier.delivered(), 1)
}

func TestAlertEmitRequiresDedupeKey(t *testing.T) {
	svc, _ := newAlertServiceForTest(t, &recordingNotifier{})

	_, err := svc.Emit(context.Background(), sampleAlert(""))

	assert.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestNewExpiryAlertByBucket(t *testing.T) {
	cred := models.Credential{ID: "cred-1", TenantID: testTenant, ExpiryDate: fixtureNow.AddDate(0, 0, 40)}
	wf := models.Workflow{ID: "wf-9", Priority: models.PriorityHigh}

	advance := NewExpiryAlert(cred, wf, Classify(cred, fixtureNow), fixtureNow)
	require.NotNil(t, advance)
	assert.Equal(t, models.AlertKindRenewalRequired, advance.Kind)
	assert.Equal(t, "renewal_required:wf-9", advance.DedupeKey)
	assert.Equal(t, 40, advance.Payload["daysToExpiry"])

	watch := models.Credential{ID: "cred-2", ExpiryDate: fixtureNow.AddDate(0, 0, 150)}
	assert.Nil(t, NewExpiryAlert(watch, wf, Classify(watch, fixtureNow), fixtureNow))
}

func TestNewEscalationAlertCarriesStageContext(t *testing.T) {
	cred := models.Credential{ID: "cred-1", TenantID: testTenant, HolderID: "holder-1", ExpiryDate: fixtureNow.AddDate(0, 0, 20)}
	wf := models.Workflow{ID: "wf-1", Priority: models.PriorityUrgent, Stages: models.NewStageStates()}
	wf.State(models.StageApprovalTracking).Blocks = 2

	alert := NewEscalationAlert(cred, wf, models.StageApprovalTracking, "no upstream completion", fixtureNow)

	assert.Equal(t, "stage_escalation:wf-1:approval_tracking", alert.DedupeKey)
	assert.Equal(t, models.SeverityCritical, alert.Severity)
	assert.Equal(t, 2, alert.Payload["blocks"])
	assert.Equal(t, 20, alert.Payload["daysToExpiry"])
	assert.Equal(t, "holder-1", alert.Payload["holderId"])
}

func TestExhaustedAlertIsDeliveredBySweepWithoutRestart(t *testing.T) {
	notifier := &recordingNotifier{fails: 3}
	store := repository.NewMemoryStore()
	svc := NewAlertService(store, notifier, NewMetricsService(), AlertQueueConfig{
		Workers:           1,
		MaxRetries:        1,
		RetryDelay:        time.Millisecond,
		RedeliverInterval: 20 * time.Millisecond,
	}, zap.NewNop())
	t.Cleanup(svc.Stop)
	svc.Start(context.Background())

	inserted, err := svc.Emit(context.Background(), sampleAlert("stage_escalation:wf-4:approval_tracking"))
	require.NoError(t, err)
	require.True(t, inserted)

	again, err := svc.Emit(context.Background(), sampleAlert("stage_escalation:wf-4:approval_tracking"))
	require.NoError(t, err)
	assert.False(t, again)

	require.Eventually(t, delivered(store), 2*time.Second, 5*time.Millisecond)
	assert.Len(t, notifier.delivered(), 1)
	stored := store.AllAlerts(testTenant)
	require.Len(t, stored, 1)
	assert.Equal(t, 4, stored[0].Attempts)
}

func TestRedeliverPendingPagesThroughOutbox(t *testing.T) {
	notifier := &recordingNotifier{}
	svc, store := newAlertServiceForTest(t, notifier)

	total := redeliveryPageSize + 7
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < total; i++ {
		alert := sampleAlert(fmt.Sprintf("compliance_issue:cred-%d", i))
		alert.EmittedAt = base.Add(time.Duration(i%3) * time.Second)
		_, err := svc.Emit(context.Background(), alert)
		require.NoError(t, err)
	}

	svc.Start(context.Background())
	count, err := svc.RedeliverPending(context.Background())

	require.NoError(t, err)
	assert.Equal(t, total, count)
	require.Eventually(t, delivered(store), 5*time.Second, 10*time.Millisecond)
	assert.Len(t, notifier.delivered(), total)
}
