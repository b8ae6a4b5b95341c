package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/credential-lifecycle-api/internal/dto"
	"github.com/noah-isme/credential-lifecycle-api/internal/models"
	"github.com/noah-isme/credential-lifecycle-api/internal/repository"
	appErrors "github.com/noah-isme/credential-lifecycle-api/pkg/errors"
	"github.com/noah-isme/credential-lifecycle-api/pkg/export"
)

const (
	defaultPredictionHorizon = 180
	maxPredictionHorizon     = 730
	upcomingPreviewSize      = 20
	detailActivityLimit      = 50
)

type queryCredentialStore interface {
	GetCredential(ctx context.Context, tenantID, id string) (*models.Credential, error)
	ListCredentials(ctx context.Context, tenantID string, filter models.CredentialFilter) ([]models.Credential, int, error)
}

type queryWorkflowStore interface {
	GetWorkflow(ctx context.Context, tenantID, id string) (*models.Workflow, error)
	LatestWorkflow(ctx context.Context, tenantID, credentialID string) (*models.Workflow, error)
	ListWorkflows(ctx context.Context, tenantID string, filter models.WorkflowFilter) ([]models.Workflow, int, error)
	WorkflowOutcomes(ctx context.Context, tenantID string) (int, int, error)
}

type activityReader interface {
	ListActivity(ctx context.Context, tenantID, credentialID string, limit int) ([]models.ActivityEntry, error)
	ListAlerts(ctx context.Context, tenantID, credentialID string, limit int) ([]models.Alert, error)
}

type readModelCache interface {
	Get(ctx context.Context, key string, dest interface{}) bool
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration)
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset, title string) ([]byte, error)
}

// QueryServiceParams groups QueryService dependencies.
type QueryServiceParams struct {
	Credentials queryCredentialStore
	Workflows   queryWorkflowStore
	Activity    activityReader
	Compliance  complianceChecker
	Cache       readModelCache
	CacheTTL    time.Duration
	CSV         csvRenderer
	PDF         pdfRenderer
	Logger      *zap.Logger
}

// QueryService serves the read side: credential views, workflow progress, predictions, and the compliance dashboard.
type QueryService struct {
	credentials queryCredentialStore
	workflows   queryWorkflowStore
	activity    activityReader
	compliance  complianceChecker
	cache       readModelCache
	cacheTTL    time.Duration
	csv         csvRenderer
	pdf         pdfRenderer
	logger      *zap.Logger
	now         func() time.Time
}

// ExportFile is a rendered download.
type ExportFile struct {
	Filename    string
	ContentType string
	Data        []byte
}

// NewQueryService constructs a QueryService.
func NewQueryService(params QueryServiceParams) *QueryService {
	logger := params.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	csv := params.CSV
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	pdf := params.PDF
	if pdf == nil {
		pdf = export.NewPDFExporter("credential-lifecycle-api")
	}
	compliance := params.Compliance
	if compliance == nil {
		compliance = NewComplianceEvaluator()
	}
	return &QueryService{
		credentials: params.Credentials,
		workflows:   params.Workflows,
		activity:    params.Activity,
		compliance:  compliance,
		cache:       params.Cache,
		cacheTTL:    params.CacheTTL,
		csv:         csv,
		pdf:         pdf,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// GetCredential returns a credential with its classification, current compliance issues, and recent activity.
func (s *QueryService) GetCredential(ctx context.Context, tenantID, credentialID string) (*dto.CredentialDetailResponse, error) {
	if tenantID == "" {
		return nil, appErrors.ErrTenantRequired
	}
	cred, err := s.loadCredential(ctx, tenantID, credentialID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	activity, err := s.activity.ListActivity(ctx, tenantID, credentialID, detailActivityLimit)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load activity")
	}
	issues := []models.ComplianceIssue{}
	if cred.Status.Tracked() {
		issues = append(issues, s.compliance.EvaluateAt(*cred, now)...)
	}
	return &dto.CredentialDetailResponse{
		Credential:       *cred,
		Classification:   Classify(*cred, now),
		ComplianceIssues: issues,
		Activity:         activity,
	}, nil
}

// ListCredentials pages credentials ordered by expiry date.
func (s *QueryService) ListCredentials(ctx context.Context, tenantID string, query dto.CredentialListQuery) ([]models.CredentialView, *models.Pagination, error) {
	if tenantID == "" {
		return nil, nil, appErrors.ErrTenantRequired
	}
	page, size := normalisePage(query.Page, query.PageSize)
	filter := models.CredentialFilter{
		HolderID: strings.TrimSpace(query.HolderID),
		Type:     models.CredentialType(strings.TrimSpace(query.Type)),
		Limit:    size,
		Offset:   (page - 1) * size,
	}
	for _, raw := range query.Status {
		for _, part := range strings.Split(raw, ",") {
			status := models.CredentialStatus(strings.TrimSpace(part))
			switch status {
			case "":
				continue
			case models.CredentialStatusActive, models.CredentialStatusPendingRenewal, models.CredentialStatusExpired, models.CredentialStatusCancelled:
				filter.Statuses = append(filter.Statuses, status)
			default:
				return nil, nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown status %q", status))
			}
		}
	}

	creds, total, err := s.credentials.ListCredentials(ctx, tenantID, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list credentials")
	}
	return s.views(creds), &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// ListExpiring returns tracked credentials expiring within days, soonest first.
func (s *QueryService) ListExpiring(ctx context.Context, tenantID string, days int) ([]models.CredentialView, error) {
	if tenantID == "" {
		return nil, appErrors.ErrTenantRequired
	}
	if days <= 0 || days > maxPredictionHorizon {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("days must be between 1 and %d", maxPredictionHorizon))
	}
	creds, err := s.trackedExpiringBefore(ctx, tenantID, s.now().AddDate(0, 0, days))
	if err != nil {
		return nil, err
	}
	return s.views(creds), nil
}

// ExportExpiring renders ListExpiring as a CSV or PDF download.
func (s *QueryService) ExportExpiring(ctx context.Context, tenantID string, days int, format string) (*ExportFile, error) {
	views, err := s.ListExpiring(ctx, tenantID, days)
	if err != nil {
		return nil, err
	}
	dataset := export.Dataset{
		Headers: []string{"Credential ID", "Holder", "Type", "External Number", "Expiry Date", "Days To Expiry", "Bucket", "Priority", "Status"},
		Rows:    make([]map[string]string, 0, len(views)),
	}
	for _, view := range views {
		dataset.Rows = append(dataset.Rows, map[string]string{
			"Credential ID":   view.ID,
			"Holder":          view.HolderID,
			"Type":            string(view.Type),
			"External Number": view.ExternalNumber,
			"Expiry Date":     view.ExpiryDate.Format("2006-01-02"),
			"Days To Expiry":  strconv.Itoa(view.Classification.DaysToExpiry),
			"Bucket":          string(view.Classification.Bucket),
			"Priority":        string(view.Classification.Priority),
			"Status":          string(view.Status),
		})
	}

	stamp := s.now().Format("20060102")
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "csv":
		data, err := s.csv.Render(dataset)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render csv")
		}
		return &ExportFile{Filename: fmt.Sprintf("expiring-%dd-%s.csv", days, stamp), ContentType: "text/csv", Data: data}, nil
	case "pdf":
		title := fmt.Sprintf("Credentials expiring within %d days", days)
		data, err := s.pdf.Render(dataset, title)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render pdf")
		}
		return &ExportFile{Filename: fmt.Sprintf("expiring-%dd-%s.pdf", days, stamp), ContentType: "application/pdf", Data: data}, nil
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, "format must be csv or pdf")
	}
}

// GetWorkflow returns a workflow with its progress counters.
func (s *QueryService) GetWorkflow(ctx context.Context, tenantID, workflowID string) (*models.WorkflowProgress, error) {
	if tenantID == "" {
		return nil, appErrors.ErrTenantRequired
	}
	wf, err := s.workflows.GetWorkflow(ctx, tenantID, workflowID)
	if err != nil {
		return nil, notFoundOr(err, "workflow")
	}
	progress := models.NewWorkflowProgress(*wf)
	return &progress, nil
}

// GetWorkflowForCredential returns the open workflow of a credential, falling back to its most recent one.
func (s *QueryService) GetWorkflowForCredential(ctx context.Context, tenantID, credentialID string) (*models.WorkflowProgress, error) {
	if tenantID == "" {
		return nil, appErrors.ErrTenantRequired
	}
	cred, err := s.loadCredential(ctx, tenantID, credentialID)
	if err != nil {
		return nil, err
	}
	if cred.HasOpenWorkflow() {
		return s.GetWorkflow(ctx, tenantID, *cred.OpenWorkflowID)
	}
	wf, err := s.workflows.LatestWorkflow(ctx, tenantID, credentialID)
	if err != nil {
		return nil, notFoundOr(err, "workflow")
	}
	progress := models.NewWorkflowProgress(*wf)
	return &progress, nil
}

// ListWorkflows pages workflows, most urgent first. Status defaults to open; "all" disables the filter.
func (s *QueryService) ListWorkflows(ctx context.Context, tenantID string, query dto.WorkflowListQuery) ([]models.WorkflowProgress, *models.Pagination, error) {
	if tenantID == "" {
		return nil, nil, appErrors.ErrTenantRequired
	}
	page, size := normalisePage(query.Page, query.PageSize)
	filter := models.WorkflowFilter{Limit: size, Offset: (page - 1) * size}

	switch status := models.WorkflowStatus(strings.TrimSpace(query.Status)); status {
	case "":
		filter.Status = models.WorkflowStatusOpen
	case "all":
	case models.WorkflowStatusOpen, models.WorkflowStatusCompleted, models.WorkflowStatusFailed:
		filter.Status = status
	default:
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown workflow status %q", status))
	}
	if raw := strings.TrimSpace(query.Priority); raw != "" {
		priority := models.Priority(raw)
		if !priority.Valid() {
			return nil, nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown priority %q", raw))
		}
		filter.Priority = priority
	}

	workflows, total, err := s.workflows.ListWorkflows(ctx, tenantID, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list workflows")
	}
	items := make([]models.WorkflowProgress, 0, len(workflows))
	for _, wf := range workflows {
		items = append(items, models.NewWorkflowProgress(wf))
	}
	return items, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// PredictExpirations summarises upcoming expirations within horizonDays (default 180). The bool reports a cache hit.
func (s *QueryService) PredictExpirations(ctx context.Context, tenantID string, horizonDays int) (*models.ExpirationPrediction, bool, error) {
	if tenantID == "" {
		return nil, false, appErrors.ErrTenantRequired
	}
	if horizonDays == 0 {
		horizonDays = defaultPredictionHorizon
	}
	if horizonDays < 0 || horizonDays > maxPredictionHorizon {
		return nil, false, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("horizon must be between 1 and %d days", maxPredictionHorizon))
	}

	key := repository.CacheKey(tenantID, "predictions", strconv.Itoa(horizonDays))
	var cached models.ExpirationPrediction
	if s.cache != nil && s.cache.Get(ctx, key, &cached) {
		return &cached, true, nil
	}

	now := s.now()
	creds, err := s.trackedExpiringBefore(ctx, tenantID, now.AddDate(0, 0, horizonDays))
	if err != nil {
		return nil, false, err
	}
	completed, failed, err := s.workflows.WorkflowOutcomes(ctx, tenantID)
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load workflow outcomes")
	}

	prediction := &models.ExpirationPrediction{
		TenantID:    tenantID,
		HorizonDays: horizonDays,
		Upcoming:    make([]models.CredentialView, 0, upcomingPreviewSize),
		GeneratedAt: now,
	}
	for _, cred := range creds {
		class := Classify(cred, now)
		if class.DaysToExpiry <= criticalHorizonDays {
			prediction.Within30Days++
		}
		if class.DaysToExpiry <= advanceHorizonDays {
			prediction.Within90Days++
		}
		if class.DaysToExpiry <= watchHorizonDays {
			prediction.Within180Days++
		}
		if cred.Status == models.CredentialStatusPendingRenewal {
			prediction.PendingRenewal++
		} else if class.Bucket == models.BucketCritical {
			prediction.AtRisk++
		}
		if len(prediction.Upcoming) < upcomingPreviewSize {
			prediction.Upcoming = append(prediction.Upcoming, models.CredentialView{Credential: cred, Classification: class})
		}
	}
	if closed := completed + failed; closed > 0 {
		prediction.HistoricalSuccessRate = math.Round(float64(completed)/float64(closed)*1000) / 10
	}

	if s.cache != nil {
		s.cache.Set(ctx, key, prediction, s.cacheTTL)
	}
	return prediction, false, nil
}

// ComplianceDashboard evaluates every tracked credential of the tenant. The bool reports a cache hit.
func (s *QueryService) ComplianceDashboard(ctx context.Context, tenantID string) (*models.ComplianceDashboard, bool, error) {
	if tenantID == "" {
		return nil, false, appErrors.ErrTenantRequired
	}
	key := repository.CacheKey(tenantID, "compliance")
	var cached models.ComplianceDashboard
	if s.cache != nil && s.cache.Get(ctx, key, &cached) {
		return &cached, true, nil
	}

	now := s.now()
	creds, err := s.trackedExpiringBefore(ctx, tenantID, time.Time{})
	if err != nil {
		return nil, false, err
	}
	dashboard := &models.ComplianceDashboard{
		TenantID:         tenantID,
		Total:            len(creds),
		IssuesBySeverity: map[models.Severity]int{},
		IssuesByCode:     map[string]int{},
		RiskBuckets:      map[models.Bucket]int{},
		GeneratedAt:      now,
	}
	for _, cred := range creds {
		dashboard.RiskBuckets[Classify(cred, now).Bucket]++
		if cred.HasOpenWorkflow() {
			dashboard.OpenWorkflows++
		}
		issues := s.compliance.EvaluateAt(cred, now)
		if len(issues) == 0 {
			dashboard.Compliant++
			continue
		}
		if len(BlockingIssues(issues)) > 0 {
			dashboard.AtRisk++
		}
		for _, issue := range issues {
			dashboard.IssuesBySeverity[issue.Severity]++
			dashboard.IssuesByCode[issue.IssueCode]++
		}
	}
	dashboard.ComplianceScore = 100
	if dashboard.Total > 0 {
		dashboard.ComplianceScore = math.Round(float64(dashboard.Compliant)/float64(dashboard.Total)*1000) / 10
	}

	if s.cache != nil {
		s.cache.Set(ctx, key, dashboard, s.cacheTTL)
	}
	return dashboard, false, nil
}

// ListAlerts returns the newest alerts of a tenant, optionally for one credential.
func (s *QueryService) ListAlerts(ctx context.Context, tenantID, credentialID string, limit int) ([]models.Alert, error) {
	if tenantID == "" {
		return nil, appErrors.ErrTenantRequired
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	alerts, err := s.activity.ListAlerts(ctx, tenantID, credentialID, limit)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list alerts")
	}
	return alerts, nil
}

// trackedExpiringBefore pages through tracked credentials. A zero cutoff loads all of them.
func (s *QueryService) trackedExpiringBefore(ctx context.Context, tenantID string, cutoff time.Time) ([]models.Credential, error) {
	filter := models.CredentialFilter{
		Statuses: []models.CredentialStatus{models.CredentialStatusActive, models.CredentialStatusPendingRenewal},
		Limit:    snapshotPageSize,
	}
	if !cutoff.IsZero() {
		filter.ExpiresBefore = &cutoff
	}
	creds := make([]models.Credential, 0)
	for {
		page, matched, err := s.credentials.ListCredentials(ctx, tenantID, filter)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list credentials")
		}
		creds = append(creds, page...)
		filter.Offset += len(page)
		if len(page) < filter.Limit || filter.Offset >= matched {
			return creds, nil
		}
	}
}

func (s *QueryService) views(creds []models.Credential) []models.CredentialView {
	now := s.now()
	views := make([]models.CredentialView, 0, len(creds))
	for _, cred := range creds {
		views = append(views, models.CredentialView{Credential: cred, Classification: Classify(cred, now)})
	}
	return views
}

func (s *QueryService) loadCredential(ctx context.Context, tenantID, credentialID string) (*models.Credential, error) {
	cred, err := s.credentials.GetCredential(ctx, tenantID, credentialID)
	if err != nil {
		return nil, notFoundOr(err, "credential")
	}
	return cred, nil
}

func notFoundOr(err error, resource string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return appErrors.Clone(appErrors.ErrNotFound, resource+" not found")
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load "+resource)
}

func normalisePage(page, size int) (int, int) {
	if page <= 0 {
		page = 1
	}
	if size <= 0 {
		size = 50
	}
	if size > 500 {
		size = 500
	}
	return page, size
}
