package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/credential-lifecycle-api/internal/dto"
	"github.com/noah-isme/credential-lifecycle-api/internal/models"
	"github.com/noah-isme/credential-lifecycle-api/internal/repository"
	"github.com/noah-isme/credential-lifecycle-api/pkg/notify"
)

const testTenant = "tenant-a"

var fixtureNow = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

var (
	_ workflowStore            = (*repository.MemoryStore)(nil)
	_ schedulerCredentialStore = (*repository.MemoryStore)(nil)
	_ alertOutbox              = (*repository.MemoryStore)(nil)
	_ queryWorkflowStore       = (*repository.MemoryStore)(nil)
	_ activityReader           = (*repository.MemoryStore)(nil)
	_ syncCredentialStore      = (*repository.MemoryStore)(nil)
	_ renewalEngine            = (*RenewalWorkflowEngine)(nil)
	_ tickRunner               = (*LifecycleScheduler)(nil)
	_ expirationPredictor      = (*QueryService)(nil)
	_ documentPreparer         = (*DocumentPipeline)(nil)
	_ readModelCache           = (*CacheService)(nil)
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock(t time.Time) *testClock {
	return &testClock{now: t}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type stubGenerator struct {
	mu    sync.Mutex
	fail  map[string]error
	calls int
}

func (g *stubGenerator) Generate(_ context.Context, tenantID string, cred models.Credential, kind string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if err := g.fail[kind]; err != nil {
		return "", err
	}
	return tenantID + "/" + cred.ID + "/" + kind + ".pdf", nil
}

func (g *stubGenerator) failKind(kind string, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.fail == nil {
		g.fail = map[string]error{}
	}
	if err == nil {
		delete(g.fail, kind)
		return
	}
	g.fail[kind] = err
}

type stubVerifier struct {
	mu     sync.Mutex
	reject map[string]string
}

func (v *stubVerifier) Verify(_ context.Context, _ string, _ models.Credential, kind, _ string) (models.DocumentVerdict, string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if reason, ok := v.reject[kind]; ok {
		return models.DocumentVerdictFailed, reason, nil
	}
	return models.DocumentVerdictPassed, "", nil
}

type gatewayCall struct {
	WorkflowID string
	Stage      models.WorkflowStage
}

type recordingGateway struct {
	mu    sync.Mutex
	calls []gatewayCall
	err   error
}

func (g *recordingGateway) RequestStage(_ context.Context, _ models.Credential, wf models.Workflow, stage models.WorkflowStage) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, gatewayCall{WorkflowID: wf.ID, Stage: stage})
	return g.err
}

func (g *recordingGateway) requests(stage models.WorkflowStage) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	count := 0
	for _, call := range g.calls {
		if call.Stage == stage {
			count++
		}
	}
	return count
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.Event
	fails  int
}

func (n *recordingNotifier) Emit(_ context.Context, event notify.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fails > 0 {
		n.fails--
		return errors.New("sink unavailable")
	}
	n.events = append(n.events, event)
	return nil
}

func (n *recordingNotifier) Close() error { return nil }

func (n *recordingNotifier) delivered() []notify.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notify.Event(nil), n.events...)
}

type lifecycleFixture struct {
	clock     *testClock
	store     *repository.MemoryStore
	generator *stubGenerator
	verifier  *stubVerifier
	gateway   *recordingGateway
	alerts    *AlertService
	documents *DocumentPipeline
	engine    *RenewalWorkflowEngine
	scheduler *LifecycleScheduler
}

func newLifecycleFixture(t *testing.T) *lifecycleFixture {
	t.Helper()
	clock := newTestClock(fixtureNow)
	store := repository.NewMemoryStore()
	generator := &stubGenerator{}
	verifier := &stubVerifier{reject: map[string]string{}}
	gateway := &recordingGateway{}
	logger := zap.NewNop()

	alerts := NewAlertService(store, &recordingNotifier{}, nil, AlertQueueConfig{Workers: 1, MaxRetries: 1, RetryDelay: time.Millisecond}, logger)
	alerts.now = clock.Now

	documents := NewDocumentPipeline(DefaultRequirementTable(), generator, verifier, nil, time.Second, logger)
	documents.now = clock.Now

	compliance := NewComplianceEvaluator()
	engine := NewRenewalWorkflowEngine(store, store, store, alerts, documents, compliance, gateway, nil, nil, EngineConfig{
		StageDuration:     72 * time.Hour,
		RemediationBudget: 1,
		QualityThreshold:  0.95,
		RenewalTerm:       365 * 24 * time.Hour,
		ExternalTimeout:   time.Second,
	}, nil, logger)
	engine.now = clock.Now

	scheduler := NewLifecycleScheduler(store, store, engine, compliance, alerts, store, nil, nil, nil, SchedulerConfig{Interval: time.Hour, Workers: 4}, logger)
	scheduler.now = clock.Now

	return &lifecycleFixture{
		clock:     clock,
		store:     store,
		generator: generator,
		verifier:  verifier,
		gateway:   gateway,
		alerts:    alerts,
		documents: documents,
		engine:    engine,
		scheduler: scheduler,
	}
}

// seed stores an active credential expiring days from the fixture clock.
func (f *lifecycleFixture) seed(t *testing.T, number string, days int, mutate ...func(*models.Credential)) models.Credential {
	t.Helper()
	sponsor := "sponsor-1"
	now := f.clock.Now()
	cred := &models.Credential{
		TenantID:       testTenant,
		HolderID:       "holder-" + number,
		Type:           models.CredentialTypeWorkPermit,
		ExternalNumber: number,
		IssueDate:      now.AddDate(-1, 0, 0),
		ExpiryDate:     now.AddDate(0, 0, days),
		Status:         models.CredentialStatusActive,
		SponsorID:      &sponsor,
		Nationality:    "PH",
		Attributes:     models.Attributes{},
	}
	for _, fn := range mutate {
		fn(cred)
	}
	_, err := f.store.UpsertCredential(context.Background(), cred)
	require.NoError(t, err)
	return *cred
}

func (f *lifecycleFixture) credential(t *testing.T, id string) models.Credential {
	t.Helper()
	cred, err := f.store.GetCredential(context.Background(), testTenant, id)
	require.NoError(t, err)
	return *cred
}

func (f *lifecycleFixture) workflow(t *testing.T, id string) models.Workflow {
	t.Helper()
	wf, err := f.store.GetWorkflow(context.Background(), testTenant, id)
	require.NoError(t, err)
	return *wf
}

func (f *lifecycleFixture) alertsOfKind(kind models.AlertKind) []models.Alert {
	matched := make([]models.Alert, 0)
	for _, alert := range f.store.AllAlerts(testTenant) {
		if alert.Kind == kind {
			matched = append(matched, alert)
		}
	}
	return matched
}

// openAt starts a workflow and drives it to stage, completing each earlier stage.
func (f *lifecycleFixture) openAt(t *testing.T, cred models.Credential, stage models.WorkflowStage) models.Workflow {
	t.Helper()
	ctx := context.Background()
	wf, err := f.engine.Open(ctx, testTenant, cred.ID)
	require.NoError(t, err)
	for wf.Stage != stage {
		if wf.Stage.External() {
			_, err = f.engine.RecordStageCallback(ctx, testTenant, wf.ID, callback(wf.Stage, models.CallbackOutcomeCompleted))
		} else {
			_, err = f.engine.Advance(ctx, testTenant, wf.ID)
		}
		require.NoError(t, err)
		current := f.workflow(t, wf.ID)
		wf = &current
		require.True(t, wf.IsOpen(), "workflow closed before reaching %s", stage)
	}
	return *wf
}

func callback(stage models.WorkflowStage, outcome models.CallbackOutcome) dto.StageCallbackRequest {
	return dto.StageCallbackRequest{Stage: string(stage), Outcome: string(outcome)}
}
