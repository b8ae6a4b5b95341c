package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/credential-lifecycle-api/internal/dto"
	"github.com/noah-isme/credential-lifecycle-api/internal/middleware"
	"github.com/noah-isme/credential-lifecycle-api/internal/models"
	"github.com/noah-isme/credential-lifecycle-api/internal/service"
	appErrors "github.com/noah-isme/credential-lifecycle-api/pkg/errors"
)

type apiEnvelope struct {
	Data       json.RawMessage        `json:"data"`
	Error      *appErrors.Error       `json:"error"`
	Pagination *models.Pagination     `json:"pagination"`
	Meta       map[string]interface{} `json:"meta"`
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) apiEnvelope {
	t.Helper()
	var envelope apiEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope), rec.Body.String())
	return envelope
}

func tenantContext(rec *httptest.ResponseRecorder, method, target string, body []byte) *gin.Context {
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(method, target, bytes.NewReader(body))
	c.Request.Header.Set("Content-Type", "application/json")
	c.Params = gin.Params{{Key: "tenantId", Value: "tenant-a"}}
	c.Set(middleware.ContextTenantKey, "tenant-a")
	return c
}

type fakeCredentialQuery struct {
	detail       *dto.CredentialDetailResponse
	views        []models.CredentialView
	pagination   *models.Pagination
	file         *service.ExportFile
	progress     *models.WorkflowProgress
	alerts       []models.Alert
	err          error
	lastDays     int
	lastFormat   string
	lastQuery    dto.CredentialListQuery
	lastLimit    int
	lastTenantID string
}

func (f *fakeCredentialQuery) GetCredential(_ context.Context, tenantID, _ string) (*dto.CredentialDetailResponse, error) {
	f.lastTenantID = tenantID
	return f.detail, f.err
}

func (f *fakeCredentialQuery) ListCredentials(_ context.Context, tenantID string, query dto.CredentialListQuery) ([]models.CredentialView, *models.Pagination, error) {
	f.lastTenantID = tenantID
	f.lastQuery = query
	return f.views, f.pagination, f.err
}

func (f *fakeCredentialQuery) ListExpiring(_ context.Context, _ string, days int) ([]models.CredentialView, error) {
	f.lastDays = days
	return f.views, f.err
}

func (f *fakeCredentialQuery) ExportExpiring(_ context.Context, _ string, days int, format string) (*service.ExportFile, error) {
	f.lastDays = days
	f.lastFormat = format
	return f.file, f.err
}

func (f *fakeCredentialQuery) GetWorkflowForCredential(context.Context, string, string) (*models.WorkflowProgress, error) {
	return f.progress, f.err
}

func (f *fakeCredentialQuery) ListAlerts(_ context.Context, _ string, _ string, limit int) ([]models.Alert, error) {
	f.lastLimit = limit
	return f.alerts, f.err
}

type fakeSyncService struct {
	result   *dto.SyncResult
	canceled *models.Credential
	err      error
	lastReq  dto.SyncBatchRequest
}

func (f *fakeSyncService) Sync(_ context.Context, _ string, req dto.SyncBatchRequest) (*dto.SyncResult, error) {
	f.lastReq = req
	return f.result, f.err
}

func (f *fakeSyncService) Cancel(context.Context, string, string) (*models.Credential, error) {
	return f.canceled, f.err
}

type fakeDispatcher struct {
	result interface{}
	err    error
	last   service.Command
}

func (f *fakeDispatcher) Dispatch(_ context.Context, cmd service.Command) (interface{}, error) {
	f.last = cmd
	return f.result, f.err
}

func TestCredentialHandlerListBindsFilters(t *testing.T) {
	gin.SetMode(gin.TestMode)
	query := &fakeCredentialQuery{
		views:      []models.CredentialView{{Credential: models.Credential{ID: "cred-1"}}},
		pagination: &models.Pagination{Page: 2, PageSize: 10, TotalCount: 11},
	}
	handler := NewCredentialHandler(query, &fakeSyncService{}, &fakeDispatcher{})

	rec := httptest.NewRecorder()
	c := tenantContext(rec, http.MethodGet, "/credentials?status=active&page=2&pageSize=10", nil)
	handler.List(c)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "tenant-a", query.lastTenantID)
	assert.Equal(t, []string{"active"}, query.lastQuery.Status)
	assert.Equal(t, 2, query.lastQuery.Page)
	envelope := decodeEnvelope(t, rec)
	require.NotNil(t, envelope.Pagination)
	assert.Equal(t, 11, envelope.Pagination.TotalCount)
}

func TestCredentialHandlerGetNotFound(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewCredentialHandler(&fakeCredentialQuery{err: appErrors.Clone(appErrors.ErrNotFound, "credential not found")}, &fakeSyncService{}, &fakeDispatcher{})

	rec := httptest.NewRecorder()
	c := tenantContext(rec, http.MethodGet, "/credentials/missing", nil)
	c.Params = append(c.Params, gin.Param{Key: "id", Value: "missing"})
	handler.Get(c)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	envelope := decodeEnvelope(t, rec)
	require.NotNil(t, envelope.Error)
	assert.Equal(t, appErrors.ErrNotFound.Code, envelope.Error.Code)
}

func TestCredentialHandlerExpiringDefaultsToNinetyDays(t *testing.T) {
	gin.SetMode(gin.TestMode)
	query := &fakeCredentialQuery{views: []models.CredentialView{}}
	handler := NewCredentialHandler(query, &fakeSyncService{}, &fakeDispatcher{})

	rec := httptest.NewRecorder()
	handler.Expiring(tenantContext(rec, http.MethodGet, "/credentials/expiring", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 90, query.lastDays)
}

func TestCredentialHandlerExpiringExportsAttachment(t *testing.T) {
	gin.SetMode(gin.TestMode)
	query := &fakeCredentialQuery{file: &service.ExportFile{Filename: "expiring-30d.csv", ContentType: "text/csv", Data: []byte("id\n")}}
	handler := NewCredentialHandler(query, &fakeSyncService{}, &fakeDispatcher{})

	rec := httptest.NewRecorder()
	handler.Expiring(tenantContext(rec, http.MethodGet, "/credentials/expiring?days=30&format=CSV", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 30, query.lastDays)
	assert.Equal(t, "csv", query.lastFormat)
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "expiring-30d.csv")
}

func TestCredentialHandlerExpiringRejectsNonNumericDays(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewCredentialHandler(&fakeCredentialQuery{}, &fakeSyncService{}, &fakeDispatcher{})

	rec := httptest.NewRecorder()
	handler.Expiring(tenantContext(rec, http.MethodGet, "/credentials/expiring?days=soon", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCredentialHandlerSyncRejectsMalformedBody(t *testing.T) {
	gin.SetMode(gin.TestMode)
	sync := &fakeSyncService{}
	handler := NewCredentialHandler(&fakeCredentialQuery{}, sync, &fakeDispatcher{})

	rec := httptest.NewRecorder()
	handler.Sync(tenantContext(rec, http.MethodPost, "/credentials/sync", []byte(`{"records":`)))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, sync.lastReq.Records)
}

func TestCredentialHandlerSyncReturnsCounts(t *testing.T) {
	gin.SetMode(gin.TestMode)
	sync := &fakeSyncService{result: &dto.SyncResult{Created: 1, Skipped: 1, Errors: []string{"record 1: expiryDate is required"}}}
	handler := NewCredentialHandler(&fakeCredentialQuery{}, sync, &fakeDispatcher{})

	body := []byte(`{"records":[{"holderId":"h-1","credentialType":"visa","externalNumber":"V-1","issueDate":"2025-01-01T00:00:00Z","expiryDate":"2027-01-01T00:00:00Z","nationality":"PH"}]}`)
	rec := httptest.NewRecorder()
	handler.Sync(tenantContext(rec, http.MethodPost, "/credentials/sync", body))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, sync.lastReq.Records, 1)
	assert.Equal(t, "V-1", sync.lastReq.Records[0].ExternalNumber)
	var result dto.SyncResult
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &result))
	assert.Equal(t, 1, result.Created)
	assert.Equal(t, 1, result.Skipped)
}

func TestCredentialHandlerRenewDispatchesCommand(t *testing.T) {
	gin.SetMode(gin.TestMode)
	dispatcher := &fakeDispatcher{result: &dto.RenewalResponse{}}
	handler := NewCredentialHandler(&fakeCredentialQuery{}, &fakeSyncService{}, dispatcher)

	rec := httptest.NewRecorder()
	c := tenantContext(rec, http.MethodPost, "/credentials/cred-1/renewal", nil)
	c.Params = append(c.Params, gin.Param{Key: "id", Value: "cred-1"})
	handler.Renew(c)

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, service.InitiateRenewal{TenantID: "tenant-a", CredentialID: "cred-1"}, dispatcher.last)
}

func TestCredentialHandlerRenewConflict(t *testing.T) {
	gin.SetMode(gin.TestMode)
	dispatcher := &fakeDispatcher{err: appErrors.Clone(appErrors.ErrAlreadyOpen, "workflow already open")}
	handler := NewCredentialHandler(&fakeCredentialQuery{}, &fakeSyncService{}, dispatcher)

	rec := httptest.NewRecorder()
	c := tenantContext(rec, http.MethodPost, "/credentials/cred-1/renewal", nil)
	c.Params = append(c.Params, gin.Param{Key: "id", Value: "cred-1"})
	handler.Renew(c)

	assert.Equal(t, appErrors.ErrAlreadyOpen.Status, rec.Code)
}

func TestCredentialHandlerPrepareDocumentsDispatchesCommand(t *testing.T) {
	gin.SetMode(gin.TestMode)
	dispatcher := &fakeDispatcher{result: &models.PreparationResult{CredentialID: "cred-1", QualityScore: 1}}
	handler := NewCredentialHandler(&fakeCredentialQuery{}, &fakeSyncService{}, dispatcher)

	rec := httptest.NewRecorder()
	c := tenantContext(rec, http.MethodPost, "/credentials/cred-1/documents", nil)
	c.Params = append(c.Params, gin.Param{Key: "id", Value: "cred-1"})
	handler.PrepareDocuments(c)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, service.PrepareDocuments{TenantID: "tenant-a", CredentialID: "cred-1"}, dispatcher.last)
}

func TestCredentialHandlerAlertsPassesLimit(t *testing.T) {
	gin.SetMode(gin.TestMode)
	query := &fakeCredentialQuery{alerts: []models.Alert{{ID: "alert-1"}}}
	handler := NewCredentialHandler(query, &fakeSyncService{}, &fakeDispatcher{})

	rec := httptest.NewRecorder()
	c := tenantContext(rec, http.MethodGet, "/credentials/cred-1/alerts?limit=5", nil)
	c.Params = append(c.Params, gin.Param{Key: "id", Value: "cred-1"})
	handler.Alerts(c)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, query.lastLimit)
}
