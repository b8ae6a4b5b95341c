package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/credential-lifecycle-api/internal/models"
	appErrors "github.com/noah-isme/credential-lifecycle-api/pkg/errors"
	"github.com/noah-isme/credential-lifecycle-api/pkg/jobs"
	"github.com/noah-isme/credential-lifecycle-api/pkg/notify"
)

const (
	alertJobType       = "alert_delivery"
	redeliveryPageSize = 500
)

type alertOutbox interface {
	InsertAlert(ctx context.Context, alert *models.Alert) (bool, error)
	AppendActivity(ctx context.Context, entry *models.ActivityEntry) error
	MarkAlertDelivered(ctx context.Context, id string, at time.Time) error
	IncrementAlertAttempts(ctx context.Context, id string) error
	ListUndeliveredAlerts(ctx context.Context, after models.AlertCursor, limit int) ([]models.Alert, error)
}

// AlertQueueConfig tunes alert delivery. RedeliverInterval is the period of the outbox sweep.
type AlertQueueConfig struct {
	Workers           int
	BufferSize        int
	MaxRetries        int
	RetryDelay        time.Duration
	RedeliverInterval time.Duration
}

// AlertService writes alerts to the outbox once per dedupe key and delivers them to the escalation sink at least once.
type AlertService struct {
	store    alertOutbox
	notifier notify.Notifier
	queue    *jobs.Queue
	metrics  *MetricsService
	logger   *zap.Logger
	now      func() time.Time

	redeliverEvery time.Duration
	mu             sync.Mutex
	inflight       map[string]struct{}
	stopSweep      context.CancelFunc
	sweepDone      chan struct{}
}

// NewAlertService constructs the service and its delivery queue.
func NewAlertService(store alertOutbox, notifier notify.Notifier, metrics *MetricsService, cfg AlertQueueConfig, logger *zap.Logger) *AlertService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if notifier == nil {
		notifier = notify.NewLogNotifier(logger)
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1024
	}
	if cfg.RedeliverInterval <= 0 {
		cfg.RedeliverInterval = time.Minute
	}
	svc := &AlertService{
		store:          store,
		notifier:       notifier,
		metrics:        metrics,
		logger:         logger,
		now:            func() time.Time { return time.Now().UTC() },
		redeliverEvery: cfg.RedeliverInterval,
		inflight:       make(map[string]struct{}),
	}
	svc.queue = jobs.NewQueue("alerts", svc.deliver, jobs.QueueConfig{
		Workers:     cfg.Workers,
		BufferSize:  cfg.BufferSize,
		MaxRetries:  cfg.MaxRetries,
		RetryDelay:  cfg.RetryDelay,
		OnExhausted: svc.onExhausted,
		Logger:      logger,
	})
	return svc
}

// Start launches delivery workers and the periodic outbox sweep.
func (s *AlertService) Start(ctx context.Context) {
	s.queue.Start(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopSweep != nil {
		return
	}
	sweepCtx, cancel := context.WithCancel(ctx)
	s.stopSweep = cancel
	s.sweepDone = make(chan struct{})
	go s.sweep(sweepCtx, s.sweepDone)
}

// Stop halts the sweep and drains workers. Undelivered alerts stay in the outbox for redelivery.
func (s *AlertService) Stop() {
	s.mu.Lock()
	cancel, done := s.stopSweep, s.sweepDone
	s.stopSweep = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
	s.queue.Stop()
}

func (s *AlertService) sweep(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.redeliverEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			queued, err := s.RedeliverPending(ctx)
			if err != nil {
				s.logger.Sugar().Warnw("alert outbox sweep failed", "error", err)
				continue
			}
			if queued > 0 {
				s.logger.Sugar().Infow("alerts requeued from outbox", "count", queued)
			}
		}
	}
}

// Emit records alert and schedules delivery. It reports false when an alert with the same dedupe key already exists.
func (s *AlertService) Emit(ctx context.Context, alert *models.Alert) (bool, error) {
	if alert.DedupeKey == "" {
		return false, appErrors.Clone(appErrors.ErrValidation, "alert dedupe key is required")
	}
	if alert.ID == "" {
		alert.ID = uuid.NewString()
	}
	if alert.EmittedAt.IsZero() {
		alert.EmittedAt = s.now()
	}
	if alert.Payload == nil {
		alert.Payload = models.JSONMap{}
	}

	inserted, err := s.store.InsertAlert(ctx, alert)
	if err != nil {
		return false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record alert")
	}
	if !inserted {
		return false, nil
	}
	s.metrics.RecordAlertEmitted(alert.Kind)

	credentialID := alert.CredentialID
	entry := &models.ActivityEntry{
		TenantID:     alert.TenantID,
		Kind:         models.ActivityAlert,
		CredentialID: &credentialID,
		WorkflowID:   alert.WorkflowID,
		Details: models.JSONMap{
			"alertId":  alert.ID,
			"kind":     alert.Kind,
			"severity": alert.Severity,
		},
		CreatedAt: alert.EmittedAt,
	}
	if err := s.store.AppendActivity(ctx, entry); err != nil {
		s.logger.Sugar().Warnw("failed to log alert activity", "alert_id", alert.ID, "error", err)
	}

	_, _ = s.enqueue(*alert)
	return true, nil
}

// RedeliverPending walks the whole outbox and queues every undelivered alert that is not already in flight.
// It stops early when the delivery queue is full; the rest waits for the next sweep.
func (s *AlertService) RedeliverPending(ctx context.Context) (int, error) {
	queued := 0
	cursor := models.AlertCursor{}
	for {
		page, err := s.store.ListUndeliveredAlerts(ctx, cursor, redeliveryPageSize)
		if err != nil {
			return queued, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list undelivered alerts")
		}
		for _, alert := range page {
			ok, err := s.enqueue(alert)
			if err != nil {
				return queued, nil
			}
			if ok {
				queued++
			}
		}
		if len(page) < redeliveryPageSize {
			return queued, nil
		}
		cursor = models.CursorAfter(page[len(page)-1])
	}
}

// enqueue hands alert to the delivery queue without blocking. It reports false when the alert is already in flight.
func (s *AlertService) enqueue(alert models.Alert) (bool, error) {
	s.mu.Lock()
	if _, busy := s.inflight[alert.ID]; busy {
		s.mu.Unlock()
		return false, nil
	}
	s.inflight[alert.ID] = struct{}{}
	s.mu.Unlock()

	job := jobs.Job{ID: alert.ID, Type: alertJobType, TenantID: alert.TenantID, Payload: alert}
	if err := s.queue.TryEnqueue(job); err != nil {
		s.settle(alert.ID)
		if errors.Is(err, jobs.ErrQueueFull) {
			s.logger.Sugar().Warnw("alert queue full, left for outbox sweep", "alert_id", alert.ID)
		} else {
			s.logger.Sugar().Warnw("alert left for redelivery", "alert_id", alert.ID, "error", err)
		}
		return false, err
	}
	return true, nil
}

func (s *AlertService) settle(alertID string) {
	s.mu.Lock()
	delete(s.inflight, alertID)
	s.mu.Unlock()
}

func (s *AlertService) deliver(ctx context.Context, job jobs.Job) error {
	alert, ok := job.Payload.(models.Alert)
	if !ok {
		return fmt.Errorf("unexpected alert payload %T", job.Payload)
	}
	body, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}
	event := notify.Event{
		ID:       alert.ID,
		TenantID: alert.TenantID,
		Kind:     string(alert.Kind),
		Key:      alert.DedupeKey,
		Body:     body,
	}
	if err := s.notifier.Emit(ctx, event); err != nil {
		s.metrics.RecordAlertDelivery(false)
		if incErr := s.store.IncrementAlertAttempts(ctx, alert.ID); incErr != nil {
			s.logger.Sugar().Warnw("failed to record alert attempt", "alert_id", alert.ID, "error", incErr)
		}
		return err
	}
	s.metrics.RecordAlertDelivery(true)
	if err := s.store.MarkAlertDelivered(ctx, alert.ID, s.now()); err != nil {
		s.logger.Sugar().Warnw("failed to mark alert delivered", "alert_id", alert.ID, "error", err)
	}
	s.settle(alert.ID)
	return nil
}

// onExhausted releases the alert back to the outbox; the next sweep retries it.
func (s *AlertService) onExhausted(job jobs.Job, err error) {
	s.settle(job.ID)
	s.logger.Sugar().Errorw("alert delivery exhausted retries", "alert_id", job.ID, "tenant_id", job.TenantID, "attempts", job.Attempt, "error", err)
}

// NewExpiryAlert builds the critical_expiry or renewal_required alert for a newly opened workflow.
// It returns nil when the bucket does not call for renewal.
func NewExpiryAlert(cred models.Credential, wf models.Workflow, class models.Classification, now time.Time) *models.Alert {
	var (
		kind     models.AlertKind
		severity models.Severity
	)
	switch class.Bucket {
	case models.BucketCritical:
		kind, severity = models.AlertKindCriticalExpiry, models.SeverityCritical
	case models.BucketAdvance:
		kind, severity = models.AlertKindRenewalRequired, models.SeverityMedium
	default:
		return nil
	}
	workflowID := wf.ID
	return &models.Alert{
		TenantID:     cred.TenantID,
		Kind:         kind,
		CredentialID: cred.ID,
		WorkflowID:   &workflowID,
		Severity:     severity,
		DedupeKey:    fmt.Sprintf("%s:%s", kind, wf.ID),
		EmittedAt:    now,
		Payload: models.JSONMap{
			"credentialId":   cred.ID,
			"holderId":       cred.HolderID,
			"credentialType": cred.Type,
			"externalNumber": cred.ExternalNumber,
			"expiryDate":     cred.ExpiryDate.Format("2006-01-02"),
			"daysToExpiry":   class.DaysToExpiry,
			"bucket":         class.Bucket,
			"priority":       wf.Priority,
			"workflowId":     wf.ID,
		},
	}
}

// NewComplianceAlert builds the compliance_issue alert for one issue.
func NewComplianceAlert(cred models.Credential, issue models.ComplianceIssue) *models.Alert {
	return &models.Alert{
		TenantID:     cred.TenantID,
		Kind:         models.AlertKindComplianceIssue,
		CredentialID: cred.ID,
		WorkflowID:   cred.OpenWorkflowID,
		Severity:     issue.Severity,
		DedupeKey:    fmt.Sprintf("%s:%s:%s:%s", models.AlertKindComplianceIssue, cred.ID, issue.IssueCode, cred.ExpiryDate.Format("2006-01-02")),
		EmittedAt:    issue.DetectedAt,
		Payload: models.JSONMap{
			"credentialId": cred.ID,
			"holderId":     cred.HolderID,
			"issueCode":    issue.IssueCode,
			"severity":     issue.Severity,
			"message":      issue.Message,
			"expiryDate":   cred.ExpiryDate.Format("2006-01-02"),
		},
	}
}

// NewEscalationAlert builds the terminal stage_escalation alert for a workflow stage.
func NewEscalationAlert(cred models.Credential, wf models.Workflow, stage models.WorkflowStage, reason string, now time.Time) *models.Alert {
	workflowID := wf.ID
	blocks := 0
	if state := wf.State(stage); state != nil {
		blocks = state.Blocks
	}
	return &models.Alert{
		TenantID:     cred.TenantID,
		Kind:         models.AlertKindStageEscalation,
		CredentialID: cred.ID,
		WorkflowID:   &workflowID,
		Severity:     models.SeverityCritical,
		DedupeKey:    fmt.Sprintf("%s:%s:%s", models.AlertKindStageEscalation, wf.ID, stage),
		EmittedAt:    now,
		Payload: models.JSONMap{
			"credentialId":   cred.ID,
			"holderId":       cred.HolderID,
			"workflowId":     wf.ID,
			"stage":          stage,
			"reason":         reason,
			"blocks":         blocks,
			"priority":       wf.Priority,
			"expiryDate":     cred.ExpiryDate.Format("2006-01-02"),
			"daysToExpiry":   DaysToExpiry(cred.ExpiryDate, now),
			"credentialType": cred.Type,
		},
	}
}
