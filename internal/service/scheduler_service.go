package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/credential-lifecycle-api/internal/models"
	"github.com/noah-isme/credential-lifecycle-api/pkg/cache"
	appErrors "github.com/noah-isme/credential-lifecycle-api/pkg/errors"
	"github.com/noah-isme/credential-lifecycle-api/pkg/logger"
)

const snapshotPageSize = 500

type schedulerCredentialStore interface {
	ListCredentials(ctx context.Context, tenantID string, filter models.CredentialFilter) ([]models.Credential, int, error)
	ListTenants(ctx context.Context) ([]string, error)
	MarkExpired(ctx context.Context, tenantID, id string, at time.Time) (bool, error)
}

type latestWorkflowReader interface {
	LatestWorkflow(ctx context.Context, tenantID, credentialID string) (*models.Workflow, error)
}

type renewalEngine interface {
	Open(ctx context.Context, tenantID, credentialID string) (*models.Workflow, error)
	Advance(ctx context.Context, tenantID, workflowID string) (*models.Workflow, error)
}

type tenantCacheInvalidator interface {
	InvalidateTenant(ctx context.Context, tenantID string)
}

// SchedulerConfig tunes the periodic driver.
type SchedulerConfig struct {
	Interval time.Duration
	LockTTL  time.Duration
	Workers  int
}

// LifecycleScheduler is the periodic driver keeping credential state consistent with the passage of time.
type LifecycleScheduler struct {
	credentials schedulerCredentialStore
	workflows   latestWorkflowReader
	engine      renewalEngine
	compliance  complianceChecker
	alerts      alertEmitter
	activity    activityLogger
	locker      cache.Locker
	cache       tenantCacheInvalidator
	metrics     *MetricsService
	cfg         SchedulerConfig
	logger      *zap.Logger
	now         func() time.Time
}

// NewLifecycleScheduler wires the scheduler. A nil locker gives in-process tenant exclusion.
func NewLifecycleScheduler(
	credentials schedulerCredentialStore,
	workflows latestWorkflowReader,
	engine renewalEngine,
	compliance complianceChecker,
	alerts alertEmitter,
	activity activityLogger,
	locker cache.Locker,
	cacheSvc tenantCacheInvalidator,
	metrics *MetricsService,
	cfg SchedulerConfig,
	log *zap.Logger,
) *LifecycleScheduler {
	if locker == nil {
		locker = cache.NewLocalLocker()
	}
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 4 * time.Hour
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 15 * time.Minute
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 8
	}
	return &LifecycleScheduler{
		credentials: credentials,
		workflows:   workflows,
		engine:      engine,
		compliance:  compliance,
		alerts:      alerts,
		activity:    activity,
		locker:      locker,
		cache:       cacheSvc,
		metrics:     metrics,
		cfg:         cfg,
		logger:      log,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Start runs a tick over every tenant on each interval until ctx is cancelled.
func (s *LifecycleScheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	go func() {
		defer ticker.Stop()
		s.RunAll(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.RunAll(ctx)
			}
		}
	}()
	s.logger.Sugar().Infow("lifecycle scheduler started", "interval", s.cfg.Interval, "workers", s.cfg.Workers)
}

// RunAll ticks every tenant owning tracked credentials, one tenant at a time.
func (s *LifecycleScheduler) RunAll(ctx context.Context) {
	tenants, err := s.credentials.ListTenants(ctx)
	if err != nil {
		s.logger.Sugar().Errorw("failed to list tenants for tick", "error", err)
		return
	}
	for _, tenantID := range tenants {
		if ctx.Err() != nil {
			return
		}
		if _, err := s.RunTick(ctx, tenantID); err != nil {
			s.logger.Sugar().Warnw("tenant tick skipped", "tenant_id", tenantID, "error", err)
		}
	}
}

// RunTick processes a tenant's tracked population once. At most one tick per tenant runs at a time.
func (s *LifecycleScheduler) RunTick(ctx context.Context, tenantID string) (*models.TickReport, error) {
	if tenantID == "" {
		return nil, appErrors.ErrTenantRequired
	}
	log := logger.ForTenant(s.logger, tenantID)

	key := "tick:" + tenantID
	owner := uuid.NewString()
	acquired, err := s.locker.TryAcquire(ctx, key, owner, s.cfg.LockTTL)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to acquire tenant tick lock")
	}
	if !acquired {
		return nil, appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("a tick is already running for tenant %s", tenantID))
	}
	defer func() {
		if err := s.locker.Release(context.Background(), key, owner); err != nil {
			log.Sugar().Warnw("failed to release tick lock", "error", err)
		}
	}()

	tickCtx, cancel := context.WithCancel(ctx)
	lost := make(chan struct{})
	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)
		if !s.keepLease(tickCtx, key, owner, log) {
			close(lost)
			cancel()
		}
	}()
	defer func() {
		cancel()
		<-heartbeatDone
	}()
	leaseLost := func() error {
		select {
		case <-lost:
			return appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("tick lock for tenant %s was lost", tenantID))
		default:
			return nil
		}
	}

	now := s.now()
	report := &models.TickReport{TenantID: tenantID, StartedAt: now}

	snapshot, total, err := s.snapshot(tickCtx, tenantID)
	if err != nil {
		if lostErr := leaseLost(); lostErr != nil {
			return nil, lostErr
		}
		return nil, err
	}
	report.Total = total
	report.Tracked = len(snapshot)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(tickCtx)
	g.SetLimit(s.cfg.Workers)
	for i := range snapshot {
		cred := snapshot[i]
		g.Go(func() error {
			delta, err := s.processCredential(gctx, cred, now)
			mu.Lock()
			defer mu.Unlock()
			mergeTick(report, delta)
			if err != nil {
				report.Failures++
				log.Sugar().Errorw("credential tick failed", "credential_id", cred.ID, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := leaseLost(); err != nil {
		return nil, err
	}

	report.FinishedAt = s.now()
	report.NextTickAt = now.Add(s.cfg.Interval)
	s.recordTick(ctx, report)
	if s.cache != nil {
		s.cache.InvalidateTenant(ctx, tenantID)
	}
	s.metrics.ObserveTick(*report)
	log.Sugar().Infow("lifecycle tick finished",
		"tracked", report.Tracked,
		"opened", report.WorkflowsOpened,
		"advanced", report.WorkflowsAdvanced,
		"alerts", report.AlertsEmitted,
		"expired", report.Expired,
		"failures", report.Failures,
	)
	return report, nil
}

// keepLease renews the tick lease every third of its TTL until ctx ends.
// It returns false as soon as the lease cannot be renewed.
func (s *LifecycleScheduler) keepLease(ctx context.Context, key, owner string, log *zap.Logger) bool {
	interval := s.cfg.LockTTL / 3
	if interval <= 0 {
		interval = time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return true
		case <-ticker.C:
			renewed, err := s.locker.Renew(ctx, key, owner, s.cfg.LockTTL)
			if ctx.Err() != nil {
				return true
			}
			if err != nil || !renewed {
				log.Sugar().Errorw("tick lock lost, aborting tick", "renewed", renewed, "error", err)
				return false
			}
		}
	}
}

// snapshot loads every tracked credential of the tenant before any of them is processed.
func (s *LifecycleScheduler) snapshot(ctx context.Context, tenantID string) ([]models.Credential, int, error) {
	_, total, err := s.credentials.ListCredentials(ctx, tenantID, models.CredentialFilter{Limit: 1})
	if err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count credentials")
	}

	filter := models.CredentialFilter{
		Statuses: []models.CredentialStatus{models.CredentialStatusActive, models.CredentialStatusPendingRenewal},
		Limit:    snapshotPageSize,
	}
	creds := make([]models.Credential, 0)
	for {
		page, matched, err := s.credentials.ListCredentials(ctx, tenantID, filter)
		if err != nil {
			return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load tracked credentials")
		}
		creds = append(creds, page...)
		filter.Offset += len(page)
		if len(page) < filter.Limit || filter.Offset >= matched {
			break
		}
	}
	return creds, total, nil
}

// processCredential applies expiry, opening, compliance alerts, and advancement to one credential, in that order.
func (s *LifecycleScheduler) processCredential(ctx context.Context, cred models.Credential, now time.Time) (models.TickReport, error) {
	var delta models.TickReport

	if cred.ExpiryDate.Before(now) {
		changed, err := s.credentials.MarkExpired(ctx, cred.TenantID, cred.ID, now)
		if err != nil {
			return delta, fmt.Errorf("mark expired: %w", err)
		}
		if changed {
			delta.Expired++
			s.record(ctx, cred, models.ActivityCredentialExpired, models.JSONMap{
				"expiryDate":     cred.ExpiryDate.Format("2006-01-02"),
				"openWorkflowId": cred.OpenWorkflowID,
			})
		}
		return delta, nil
	}

	class := Classify(cred, now)
	if class.Bucket.RequiresRenewal() {
		delta.ExpiringSoon++
	}
	if class.Bucket.RequiresRenewal() && !cred.HasOpenWorkflow() && cred.Status == models.CredentialStatusActive {
		wf, err := s.openRenewal(ctx, cred)
		if err != nil {
			return delta, err
		}
		if wf != nil {
			delta.WorkflowsOpened++
			id := wf.ID
			cred.OpenWorkflowID = &id
			emitted, err := s.alerts.Emit(ctx, NewExpiryAlert(cred, *wf, class, now))
			if err != nil {
				return delta, err
			}
			if emitted {
				delta.AlertsEmitted++
			}
		}
	}

	issues := s.compliance.EvaluateAt(cred, now)
	delta.ComplianceIssues += len(issues)
	for _, issue := range issues {
		emitted, err := s.alerts.Emit(ctx, NewComplianceAlert(cred, issue))
		if err != nil {
			return delta, err
		}
		if emitted {
			delta.AlertsEmitted++
		}
	}

	if cred.HasOpenWorkflow() {
		if _, err := s.engine.Advance(ctx, cred.TenantID, *cred.OpenWorkflowID); err != nil {
			if errors.Is(err, appErrors.ErrConcurrentAdvance) {
				return delta, nil
			}
			return delta, fmt.Errorf("advance workflow %s: %w", *cred.OpenWorkflowID, err)
		}
		delta.WorkflowsAdvanced++
	}
	return delta, nil
}

// openRenewal opens a workflow unless the latest one already failed for the current expiry date.
func (s *LifecycleScheduler) openRenewal(ctx context.Context, cred models.Credential) (*models.Workflow, error) {
	latest, err := s.workflows.LatestWorkflow(ctx, cred.TenantID, cred.ID)
	switch {
	case err == nil:
		if latest.Status == models.WorkflowStatusFailed && latest.ExpiryDateAtOpen.Equal(cred.ExpiryDate) {
			return nil, nil
		}
	case !errors.Is(err, sql.ErrNoRows):
		return nil, fmt.Errorf("load latest workflow: %w", err)
	}

	wf, err := s.engine.Open(ctx, cred.TenantID, cred.ID)
	if err != nil {
		return nil, fmt.Errorf("open workflow: %w", err)
	}
	return wf, nil
}

func (s *LifecycleScheduler) record(ctx context.Context, cred models.Credential, kind models.ActivityKind, details models.JSONMap) {
	credentialID := cred.ID
	entry := &models.ActivityEntry{
		TenantID:     cred.TenantID,
		Kind:         kind,
		CredentialID: &credentialID,
		WorkflowID:   cred.OpenWorkflowID,
		Details:      details,
		CreatedAt:    s.now(),
	}
	if err := s.activity.AppendActivity(ctx, entry); err != nil {
		s.logger.Sugar().Warnw("failed to append activity", "tenant_id", cred.TenantID, "kind", kind, "error", err)
	}
}

func (s *LifecycleScheduler) recordTick(ctx context.Context, report *models.TickReport) {
	entry := &models.ActivityEntry{
		TenantID: report.TenantID,
		Kind:     models.ActivityLifecycleTracking,
		Details: models.JSONMap{
			"total":             report.Total,
			"tracked":           report.Tracked,
			"expiringSoon":      report.ExpiringSoon,
			"workflowsOpened":   report.WorkflowsOpened,
			"workflowsAdvanced": report.WorkflowsAdvanced,
			"alertsEmitted":     report.AlertsEmitted,
			"complianceIssues":  report.ComplianceIssues,
			"expired":           report.Expired,
			"failures":          report.Failures,
			"nextTickAt":        report.NextTickAt,
		},
		CreatedAt: report.FinishedAt,
	}
	if err := s.activity.AppendActivity(ctx, entry); err != nil {
		s.logger.Sugar().Warnw("failed to record tick", "tenant_id", report.TenantID, "error", err)
	}
}

func mergeTick(report *models.TickReport, delta models.TickReport) {
	report.ExpiringSoon += delta.ExpiringSoon
	report.WorkflowsOpened += delta.WorkflowsOpened
	report.WorkflowsAdvanced += delta.WorkflowsAdvanced
	report.AlertsEmitted += delta.AlertsEmitted
	report.ComplianceIssues += delta.ComplianceIssues
	report.Expired += delta.Expired
}
