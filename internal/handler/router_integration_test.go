package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/credential-lifecycle-api/internal/dto"
	"github.com/noah-isme/credential-lifecycle-api/internal/models"
	"github.com/noah-isme/credential-lifecycle-api/internal/repository"
	"github.com/noah-isme/credential-lifecycle-api/internal/service"
	"github.com/noah-isme/credential-lifecycle-api/pkg/notify"
	"github.com/noah-isme/credential-lifecycle-api/pkg/storage"
)

const integrationTenant = "acme-logistics"

func newIntegrationRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zap.NewNop()
	store := repository.NewMemoryStore()

	files, err := storage.NewLocalStorage(t.TempDir(), 0)
	require.NoError(t, err)
	signer := storage.NewSignedURLSigner("integration-secret", time.Hour)

	metrics := service.NewMetricsService()
	alerts := service.NewAlertService(store, notify.NewLogNotifier(logger), metrics, service.AlertQueueConfig{Workers: 1, MaxRetries: 1, RetryDelay: time.Millisecond}, logger)
	alerts.Start(context.Background())
	t.Cleanup(alerts.Stop)

	documents := service.NewDocumentPipeline(service.DefaultRequirementTable(), service.NewPDFDocumentGenerator(nil, files), service.NewArtifactVerifier(files), signer, 5*time.Second, logger)
	compliance := service.NewComplianceEvaluator()
	engine := service.NewRenewalWorkflowEngine(store, store, store, alerts, documents, compliance, nil, nil, metrics, service.EngineConfig{}, nil, logger)
	scheduler := service.NewLifecycleScheduler(store, store, engine, compliance, alerts, store, nil, nil, metrics, service.SchedulerConfig{Workers: 2}, logger)
	query := service.NewQueryService(service.QueryServiceParams{Credentials: store, Workflows: store, Activity: store, Compliance: compliance, Logger: logger})
	sync := service.NewSyncService(store, store, nil, nil, logger)
	dispatcher := service.NewCommandDispatcher(service.CommandDispatcherParams{
		Ticks:       scheduler,
		Engine:      engine,
		Credentials: store,
		Documents:   documents,
		Alerts:      alerts,
		Activity:    store,
		Predictor:   query,
		Logger:      logger,
	})

	r := gin.New()
	RegisterRoutes(r, "/api/v1", Handlers{
		Credentials: NewCredentialHandler(query, sync, dispatcher),
		Workflows:   NewWorkflowHandler(query, engine, dispatcher),
		Lifecycle:   NewLifecycleHandler(query, dispatcher),
		Documents:   NewDocumentHandler(service.NewArtifactDownloads(signer, files)),
		Metrics:     NewMetricsHandler(metrics),
	})
	return r
}

func doRequest(t *testing.T, r http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		require.NoError(t, err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func tenantPath(format string, args ...interface{}) string {
	return "/api/v1/tenants/" + integrationTenant + fmt.Sprintf(format, args...)
}

func syncPayload(records ...map[string]interface{}) map[string]interface{} {
	return map[string]interface{}{"records": records}
}

func syncRecordIn(number string, days int) map[string]interface{} {
	now := time.Now().UTC()
	return map[string]interface{}{
		"holderId":       "holder-" + number,
		"credentialType": string(models.CredentialTypeWorkPermit),
		"externalNumber": number,
		"issueDate":      now.AddDate(-1, 0, 0).Format(time.RFC3339),
		"expiryDate":     now.AddDate(0, 0, days).Format(time.RFC3339),
		"sponsorId":      "sponsor-1",
		"nationality":    "PH",
	}
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder, dest interface{}) apiEnvelope {
	t.Helper()
	envelope := decodeEnvelope(t, rec)
	require.NoError(t, json.Unmarshal(envelope.Data, dest), rec.Body.String())
	return envelope
}

func TestRouterRenewalLifecycleFlow(t *testing.T) {
	r := newIntegrationRouter(t)

	rec := doRequest(t, r, http.MethodPost, tenantPath("/credentials/sync"), syncPayload(syncRecordIn("WP-100", 20), syncRecordIn("WP-200", 200)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var synced dto.SyncResult
	decodeData(t, rec, &synced)
	assert.Equal(t, 2, synced.Created)

	rec = doRequest(t, r, http.MethodGet, tenantPath("/credentials"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var views []models.CredentialView
	envelope := decodeData(t, rec, &views)
	require.Len(t, views, 2)
	require.NotNil(t, envelope.Pagination)
	assert.Equal(t, 2, envelope.Pagination.TotalCount)

	rec = doRequest(t, r, http.MethodGet, tenantPath("/credentials/expiring?days=30"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var expiring []models.CredentialView
	decodeData(t, rec, &expiring)
	require.Len(t, expiring, 1)
	urgent := expiring[0]
	assert.Equal(t, "WP-100", urgent.ExternalNumber)

	rec = doRequest(t, r, http.MethodGet, tenantPath("/credentials/expiring?days=30&format=csv"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), ".csv")
	assert.Contains(t, rec.Body.String(), "WP-100")

	rec = doRequest(t, r, http.MethodPost, tenantPath("/ticks"), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var report models.TickReport
	decodeData(t, rec, &report)
	assert.Equal(t, 1, report.WorkflowsOpened)

	rec = doRequest(t, r, http.MethodGet, tenantPath("/credentials/%s/workflow", urgent.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var progress models.WorkflowProgress
	decodeData(t, rec, &progress)
	assert.Equal(t, urgent.ID, progress.Workflow.CredentialID)
	assert.Equal(t, models.PriorityUrgent, progress.Workflow.Priority)

	rec = doRequest(t, r, http.MethodGet, tenantPath("/workflows"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var open []models.WorkflowProgress
	decodeData(t, rec, &open)
	require.Len(t, open, 1)
	assert.Equal(t, progress.Workflow.ID, open[0].Workflow.ID)

	rec = doRequest(t, r, http.MethodGet, tenantPath("/workflows/%s", progress.Workflow.ID), nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, r, http.MethodPost, tenantPath("/workflows/%s/callbacks", progress.Workflow.ID), map[string]interface{}{"stage": "not_a_stage", "outcome": "completed"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, r, http.MethodGet, tenantPath("/credentials/%s/alerts", urgent.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var alerts []models.Alert
	decodeData(t, rec, &alerts)
	require.NotEmpty(t, alerts)
	kinds := make([]models.AlertKind, 0, len(alerts))
	for _, alert := range alerts {
		kinds = append(kinds, alert.Kind)
	}
	assert.Contains(t, kinds, models.AlertKindCriticalExpiry)

	rec = doRequest(t, r, http.MethodGet, tenantPath("/predictions?horizon=30"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var prediction models.ExpirationPrediction
	decodeData(t, rec, &prediction)
	assert.Equal(t, 1, prediction.Within30Days)

	rec = doRequest(t, r, http.MethodGet, tenantPath("/compliance"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var dashboard models.ComplianceDashboard
	envelope = decodeData(t, rec, &dashboard)
	assert.Equal(t, 2, dashboard.Total)
	assert.Equal(t, false, envelope.Meta["cacheHit"])
}

func TestRouterRenewalConflictAndCancel(t *testing.T) {
	r := newIntegrationRouter(t)

	rec := doRequest(t, r, http.MethodPost, tenantPath("/credentials/sync"), syncPayload(syncRecordIn("WP-300", 120)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = doRequest(t, r, http.MethodGet, tenantPath("/credentials"), nil)
	var views []models.CredentialView
	decodeData(t, rec, &views)
	require.Len(t, views, 1)
	credID := views[0].ID

	rec = doRequest(t, r, http.MethodPost, tenantPath("/credentials/%s/renewal", credID), nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var renewal dto.RenewalResponse
	decodeData(t, rec, &renewal)
	assert.Equal(t, models.WorkflowStatusOpen, renewal.Workflow.Workflow.Status)

	rec = doRequest(t, r, http.MethodPost, tenantPath("/credentials/%s/renewal", credID), nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doRequest(t, r, http.MethodPost, tenantPath("/credentials/%s/cancel", credID), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var cancelled models.Credential
	decodeData(t, rec, &cancelled)
	assert.Equal(t, models.CredentialStatusCancelled, cancelled.Status)

	rec = doRequest(t, r, http.MethodPost, tenantPath("/workflows/%s/advance", renewal.Workflow.Workflow.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var frozen models.WorkflowProgress
	decodeData(t, rec, &frozen)
	assert.Equal(t, renewal.Workflow.Workflow.Stage, frozen.Workflow.Stage)
	assert.Zero(t, frozen.CompletedStages)
}

func TestRouterPreparedDocumentsAreDownloadable(t *testing.T) {
	r := newIntegrationRouter(t)

	rec := doRequest(t, r, http.MethodPost, tenantPath("/credentials/sync"), syncPayload(syncRecordIn("WP-400", 45)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = doRequest(t, r, http.MethodGet, tenantPath("/credentials"), nil)
	var views []models.CredentialView
	decodeData(t, rec, &views)
	require.Len(t, views, 1)

	rec = doRequest(t, r, http.MethodPost, tenantPath("/credentials/%s/documents", views[0].ID), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var prepared models.PreparationResult
	decodeData(t, rec, &prepared)
	require.NotEmpty(t, prepared.Documents)
	token := prepared.Documents[0].DownloadToken
	require.NotEmpty(t, token)

	rec = doRequest(t, r, http.MethodGet, "/api/v1/documents/"+token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.True(t, strings.HasPrefix(rec.Body.String(), "%PDF"))

	rec = doRequest(t, r, http.MethodGet, "/api/v1/documents/"+token+"x", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRouterTenantValidationAndHealth(t *testing.T) {
	r := newIntegrationRouter(t)

	rec := doRequest(t, r, http.MethodGet, "/api/v1/tenants/bad%20tenant/credentials", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, r, http.MethodGet, tenantPath("/credentials/unknown"), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doRequest(t, r, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, r, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
