package repository

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/credential-lifecycle-api/internal/models"
	appErrors "github.com/noah-isme/credential-lifecycle-api/pkg/errors"
)

// MemoryStore is a goroutine-safe, map-backed store with the same semantics as the
// Postgres repositories. It serves STORE_DRIVER=memory and service tests.
type MemoryStore struct {
	mu          sync.RWMutex
	credentials map[string]*models.Credential
	naturalKeys map[string]string
	workflows   map[string]*models.Workflow
	activity    []models.ActivityEntry
	alerts      []*models.Alert
	alertKeys   map[string]struct{}
	now         func() time.Time
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		credentials: make(map[string]*models.Credential),
		naturalKeys: make(map[string]string),
		workflows:   make(map[string]*models.Workflow),
		alertKeys:   make(map[string]struct{}),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func naturalKey(c *models.Credential) string {
	return c.TenantID + "|" + c.HolderID + "|" + string(c.Type) + "|" + c.ExternalNumber
}

// UpsertCredential inserts or refreshes a credential keyed by (tenant, holder, type, external number).
func (s *MemoryStore) UpsertCredential(_ context.Context, cred *models.Credential) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if id, ok := s.naturalKeys[naturalKey(cred)]; ok {
		existing := s.credentials[id]
		existing.IssueDate = cred.IssueDate
		existing.ExpiryDate = cred.ExpiryDate
		existing.SponsorID = copyString(cred.SponsorID)
		existing.Nationality = cred.Nationality
		existing.Attributes = copyAttributes(cred.Attributes)
		existing.UpdatedAt = now
		*cred = cloneCredential(existing)
		return false, nil
	}

	if cred.ID == "" {
		cred.ID = uuid.NewString()
	}
	if cred.Status == "" {
		cred.Status = models.CredentialStatusActive
	}
	if cred.CreatedAt.IsZero() {
		cred.CreatedAt = now
	}
	cred.UpdatedAt = now
	cred.OpenWorkflowID = nil
	stored := cloneCredential(cred)
	s.credentials[cred.ID] = &stored
	s.naturalKeys[naturalKey(cred)] = cred.ID
	return true, nil
}

// GetCredential returns a credential by id within a tenant.
func (s *MemoryStore) GetCredential(_ context.Context, tenantID, id string) (*models.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cred, ok := s.credentials[id]
	if !ok || cred.TenantID != tenantID {
		return nil, fmt.Errorf("get credential: %w", sql.ErrNoRows)
	}
	clone := cloneCredential(cred)
	return &clone, nil
}

// ListCredentials returns credentials ordered by expiry with the total matching count.
func (s *MemoryStore) ListCredentials(_ context.Context, tenantID string, filter models.CredentialFilter) ([]models.Credential, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	statuses := make(map[models.CredentialStatus]struct{}, len(filter.Statuses))
	for _, st := range filter.Statuses {
		statuses[st] = struct{}{}
	}

	matched := make([]models.Credential, 0)
	for _, cred := range s.credentials {
		if cred.TenantID != tenantID {
			continue
		}
		if len(statuses) > 0 {
			if _, ok := statuses[cred.Status]; !ok {
				continue
			}
		}
		if filter.HolderID != "" && cred.HolderID != filter.HolderID {
			continue
		}
		if filter.Type != "" && cred.Type != filter.Type {
			continue
		}
		if filter.ExpiresBefore != nil && cred.ExpiryDate.After(*filter.ExpiresBefore) {
			continue
		}
		matched = append(matched, cloneCredential(cred))
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].ExpiryDate.Equal(matched[j].ExpiryDate) {
			return matched[i].ExpiryDate.Before(matched[j].ExpiryDate)
		}
		return matched[i].ID < matched[j].ID
	})
	return paginate(matched, filter.Limit, filter.Offset), len(matched), nil
}

// ListTenants returns every tenant owning at least one tracked credential.
func (s *MemoryStore) ListTenants(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]struct{})
	tenants := make([]string, 0)
	for _, cred := range s.credentials {
		if !cred.Status.Tracked() {
			continue
		}
		if _, ok := seen[cred.TenantID]; ok {
			continue
		}
		seen[cred.TenantID] = struct{}{}
		tenants = append(tenants, cred.TenantID)
	}
	sort.Strings(tenants)
	return tenants, nil
}

// MarkExpired flips a tracked credential to expired.
func (s *MemoryStore) MarkExpired(_ context.Context, tenantID, id string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cred, ok := s.credentials[id]
	if !ok || cred.TenantID != tenantID || !cred.Status.Tracked() {
		return false, nil
	}
	cred.Status = models.CredentialStatusExpired
	cred.UpdatedAt = at
	return true, nil
}

// CancelCredential moves a credential to the terminal cancelled status.
func (s *MemoryStore) CancelCredential(_ context.Context, tenantID, id string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cred, ok := s.credentials[id]
	if !ok || cred.TenantID != tenantID || cred.Status == models.CredentialStatusCancelled {
		return false, nil
	}
	cred.Status = models.CredentialStatusCancelled
	cred.UpdatedAt = at
	return true, nil
}

// OpenWorkflow claims the credential and stores the workflow under one lock.
func (s *MemoryStore) OpenWorkflow(_ context.Context, wf *models.Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cred, ok := s.credentials[wf.CredentialID]
	if !ok || cred.TenantID != wf.TenantID {
		return fmt.Errorf("inspect credential: %w", sql.ErrNoRows)
	}
	if cred.HasOpenWorkflow() {
		return appErrors.Clone(appErrors.ErrAlreadyOpen, fmt.Sprintf("credential %s already has open workflow %s", wf.CredentialID, *cred.OpenWorkflowID))
	}
	if cred.Status != models.CredentialStatusActive {
		return appErrors.Clone(appErrors.ErrNotRenewable, fmt.Sprintf("credential %s is %s", wf.CredentialID, cred.Status))
	}

	if wf.ID == "" {
		wf.ID = uuid.NewString()
	}
	if wf.Version == 0 {
		wf.Version = 1
	}
	id := wf.ID
	cred.OpenWorkflowID = &id
	cred.Status = models.CredentialStatusPendingRenewal
	cred.UpdatedAt = wf.OpenedAt
	stored := cloneWorkflow(wf)
	s.workflows[wf.ID] = &stored
	return nil
}

// GetWorkflow returns a workflow by id within a tenant.
func (s *MemoryStore) GetWorkflow(_ context.Context, tenantID, id string) (*models.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wf, ok := s.workflows[id]
	if !ok || wf.TenantID != tenantID {
		return nil, fmt.Errorf("get workflow: %w", sql.ErrNoRows)
	}
	clone := cloneWorkflow(wf)
	return &clone, nil
}

// LatestWorkflow returns the most recently opened workflow for a credential.
func (s *MemoryStore) LatestWorkflow(_ context.Context, tenantID, credentialID string) (*models.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *models.Workflow
	for _, wf := range s.workflows {
		if wf.TenantID != tenantID || wf.CredentialID != credentialID {
			continue
		}
		if latest == nil || wf.OpenedAt.After(latest.OpenedAt) {
			latest = wf
		}
	}
	if latest == nil {
		return nil, fmt.Errorf("get latest workflow: %w", sql.ErrNoRows)
	}
	clone := cloneWorkflow(latest)
	return &clone, nil
}

// ListWorkflows returns workflows ordered most urgent first.
func (s *MemoryStore) ListWorkflows(_ context.Context, tenantID string, filter models.WorkflowFilter) ([]models.Workflow, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]models.Workflow, 0)
	for _, wf := range s.workflows {
		if wf.TenantID != tenantID {
			continue
		}
		if filter.Status != "" && wf.Status != filter.Status {
			continue
		}
		if filter.Priority != "" && wf.Priority != filter.Priority {
			continue
		}
		if filter.CredentialID != "" && wf.CredentialID != filter.CredentialID {
			continue
		}
		matched = append(matched, cloneWorkflow(wf))
	}
	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if a.Priority.Rank() != b.Priority.Rank() {
			return a.Priority.Rank() > b.Priority.Rank()
		}
		if !a.OpenedAt.Equal(b.OpenedAt) {
			return a.OpenedAt.Before(b.OpenedAt)
		}
		return a.ID < b.ID
	})
	return paginate(matched, filter.Limit, filter.Offset), len(matched), nil
}

// SaveWorkflow persists an open workflow when its version still matches.
func (s *MemoryStore) SaveWorkflow(_ context.Context, wf *models.Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.workflows[wf.ID]
	if !ok || current.TenantID != wf.TenantID || current.Version != wf.Version || !current.IsOpen() {
		return appErrors.Clone(appErrors.ErrStaleWorkflow, fmt.Sprintf("workflow %s changed concurrently", wf.ID))
	}
	wf.Version++
	stored := cloneWorkflow(wf)
	s.workflows[wf.ID] = &stored
	return nil
}

// CloseWorkflow finalises the workflow and releases its credential atomically.
func (s *MemoryStore) CloseWorkflow(_ context.Context, wf *models.Workflow, outcome *models.RenewalOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stale := appErrors.Clone(appErrors.ErrStaleWorkflow, fmt.Sprintf("workflow %s changed concurrently", wf.ID))
	current, ok := s.workflows[wf.ID]
	if !ok || current.TenantID != wf.TenantID || current.Version != wf.Version || !current.IsOpen() {
		return stale
	}
	cred, ok := s.credentials[wf.CredentialID]
	ownsCredential := ok && cred.OpenWorkflowID != nil && *cred.OpenWorkflowID == wf.ID

	closedAt := s.now()
	if wf.ClosedAt != nil {
		closedAt = *wf.ClosedAt
	}
	if outcome != nil {
		if !ownsCredential || cred.Status != models.CredentialStatusPendingRenewal {
			return stale
		}
		cred.Status = models.CredentialStatusActive
		cred.ExpiryDate = outcome.NewExpiryDate
		cred.OpenWorkflowID = nil
		cred.UpdatedAt = closedAt
	} else if ownsCredential {
		if cred.Status == models.CredentialStatusPendingRenewal {
			cred.Status = models.CredentialStatusActive
		}
		cred.OpenWorkflowID = nil
		cred.UpdatedAt = closedAt
	}

	wf.Version++
	stored := cloneWorkflow(wf)
	s.workflows[wf.ID] = &stored
	return nil
}

// WorkflowOutcomes counts closed workflows by terminal status for a tenant.
func (s *MemoryStore) WorkflowOutcomes(_ context.Context, tenantID string) (int, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	completed, failed := 0, 0
	for _, wf := range s.workflows {
		if wf.TenantID != tenantID {
			continue
		}
		switch wf.Status {
		case models.WorkflowStatusCompleted:
			completed++
		case models.WorkflowStatusFailed:
			failed++
		}
	}
	return completed, failed, nil
}

// AppendActivity writes one activity log entry.
func (s *MemoryStore) AppendActivity(_ context.Context, entry *models.ActivityEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now()
	}
	stored := *entry
	stored.Details = copyJSONMap(entry.Details)
	s.activity = append(s.activity, stored)
	return nil
}

// ListActivity returns the newest entries for a credential.
func (s *MemoryStore) ListActivity(_ context.Context, tenantID, credentialID string, limit int) ([]models.ActivityEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}
	entries := make([]models.ActivityEntry, 0)
	for i := len(s.activity) - 1; i >= 0 && len(entries) < limit; i-- {
		entry := s.activity[i]
		if entry.TenantID != tenantID || entry.CredentialID == nil || *entry.CredentialID != credentialID {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// ActivityByKind returns every entry of kind for a tenant in insertion order.
func (s *MemoryStore) ActivityByKind(tenantID string, kind models.ActivityKind) []models.ActivityEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]models.ActivityEntry, 0)
	for _, entry := range s.activity {
		if entry.TenantID == tenantID && entry.Kind == kind {
			entries = append(entries, entry)
		}
	}
	return entries
}

// InsertAlert stores the alert once per (tenant, dedupe key).
func (s *MemoryStore) InsertAlert(_ context.Context, alert *models.Alert) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := alert.TenantID + "|" + alert.DedupeKey
	if _, ok := s.alertKeys[key]; ok {
		return false, nil
	}
	if alert.ID == "" {
		alert.ID = uuid.NewString()
	}
	stored := *alert
	stored.Payload = copyJSONMap(alert.Payload)
	s.alerts = append(s.alerts, &stored)
	s.alertKeys[key] = struct{}{}
	return true, nil
}

// MarkAlertDelivered records a successful hand-off to the sink.
func (s *MemoryStore) MarkAlertDelivered(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, alert := range s.alerts {
		if alert.ID == id && alert.DeliveredAt == nil {
			delivered := at
			alert.DeliveredAt = &delivered
			alert.Attempts++
		}
	}
	return nil
}

// IncrementAlertAttempts records a failed delivery attempt.
func (s *MemoryStore) IncrementAlertAttempts(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, alert := range s.alerts {
		if alert.ID == id {
			alert.Attempts++
		}
	}
	return nil
}

// ListUndeliveredAlerts returns the oldest alerts still awaiting delivery that sort after the cursor.
func (s *MemoryStore) ListUndeliveredAlerts(_ context.Context, after models.AlertCursor, limit int) ([]models.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}
	alerts := make([]models.Alert, 0)
	for _, alert := range s.alerts {
		if alert.DeliveredAt == nil && after.Precedes(*alert) {
			alerts = append(alerts, *alert)
		}
	}
	sort.Slice(alerts, func(i, j int) bool {
		return models.CursorAfter(alerts[i]).Precedes(alerts[j])
	})
	if len(alerts) > limit {
		alerts = alerts[:limit]
	}
	return alerts, nil
}

// ListAlerts returns the newest alerts of a tenant. A non-empty credentialID narrows them to one credential.
func (s *MemoryStore) ListAlerts(_ context.Context, tenantID, credentialID string, limit int) ([]models.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}
	alerts := make([]models.Alert, 0)
	for i := len(s.alerts) - 1; i >= 0 && len(alerts) < limit; i-- {
		alert := s.alerts[i]
		if alert.TenantID == tenantID && (credentialID == "" || alert.CredentialID == credentialID) {
			alerts = append(alerts, *alert)
		}
	}
	return alerts, nil
}

// AllAlerts returns every stored alert for a tenant in emission order.
func (s *MemoryStore) AllAlerts(tenantID string) []models.Alert {
	s.mu.RLock()
	defer s.mu.RUnlock()

	alerts := make([]models.Alert, 0)
	for _, alert := range s.alerts {
		if alert.TenantID == tenantID {
			alerts = append(alerts, *alert)
		}
	}
	return alerts
}

func paginate[T any](items []T, limit, offset int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return []T{}
		}
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

func copyString(v *string) *string {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func copyAttributes(a models.Attributes) models.Attributes {
	if a == nil {
		return models.Attributes{}
	}
	c := make(models.Attributes, len(a))
	for k, v := range a {
		c[k] = v
	}
	return c
}

func copyJSONMap(m models.JSONMap) models.JSONMap {
	c := make(models.JSONMap, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}

func cloneCredential(c *models.Credential) models.Credential {
	clone := *c
	clone.SponsorID = copyString(c.SponsorID)
	clone.OpenWorkflowID = copyString(c.OpenWorkflowID)
	clone.Attributes = copyAttributes(c.Attributes)
	return clone
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

func cloneWorkflow(w *models.Workflow) models.Workflow {
	clone := *w
	clone.DocumentsRequired = append(models.DocumentKinds{}, w.DocumentsRequired...)
	clone.DocumentsPrepared = append(models.PreparedDocuments{}, w.DocumentsPrepared...)
	clone.Stages = make(models.StageStates, len(w.Stages))
	for i, st := range w.Stages {
		st.StartedAt = copyTime(st.StartedAt)
		st.CompletedAt = copyTime(st.CompletedAt)
		clone.Stages[i] = st
	}
	clone.Callbacks = make(models.StageCallbacks, len(w.Callbacks))
	for stage, cb := range w.Callbacks {
		cb.NewExpiryDate = copyTime(cb.NewExpiryDate)
		clone.Callbacks[stage] = cb
	}
	clone.ClosedAt = copyTime(w.ClosedAt)
	clone.ClosureReason = copyString(w.ClosureReason)
	return clone
}
