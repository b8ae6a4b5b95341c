package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/credential-lifecycle-api/internal/models"
)

const alertColumns = `id, tenant_id, kind, credential_id, workflow_id, severity, payload, dedupe_key, emitted_at, delivered_at, attempts`

// ActivityRepository persists the append-only activity log and the alert outbox.
type ActivityRepository struct {
	db *sqlx.DB
}

// NewActivityRepository constructs the repository.
func NewActivityRepository(db *sqlx.DB) *ActivityRepository {
	return &ActivityRepository{db: db}
}

// AppendActivity writes one activity log entry.
func (r *ActivityRepository) AppendActivity(ctx context.Context, entry *models.ActivityEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO activity_log (id, tenant_id, kind, credential_id, workflow_id, details, created_at)
VALUES (:id, :tenant_id, :kind, :credential_id, :workflow_id, :details, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, entry); err != nil {
		return fmt.Errorf("append activity: %w", err)
	}
	return nil
}

// ListActivity returns the newest entries for a credential.
func (r *ActivityRepository) ListActivity(ctx context.Context, tenantID, credentialID string, limit int) ([]models.ActivityEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	const query = `SELECT id, tenant_id, kind, credential_id, workflow_id, details, created_at
FROM activity_log WHERE tenant_id = $1 AND credential_id = $2 ORDER BY created_at DESC LIMIT $3`
	var entries []models.ActivityEntry
	if err := r.db.SelectContext(ctx, &entries, query, tenantID, credentialID, limit); err != nil {
		return nil, fmt.Errorf("list activity: %w", err)
	}
	return entries, nil
}

// InsertAlert stores the alert once per (tenant, dedupe key). It reports whether a row was written.
func (r *ActivityRepository) InsertAlert(ctx context.Context, alert *models.Alert) (bool, error) {
	if alert.ID == "" {
		alert.ID = uuid.NewString()
	}
	const query = `INSERT INTO alerts (` + alertColumns + `)
VALUES (:id, :tenant_id, :kind, :credential_id, :workflow_id, :severity, :payload, :dedupe_key, :emitted_at, :delivered_at, :attempts)
ON CONFLICT (tenant_id, dedupe_key) DO NOTHING`
	res, err := r.db.NamedExecContext(ctx, query, alert)
	if err != nil {
		return false, fmt.Errorf("insert alert: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert alert rows: %w", err)
	}
	return affected == 1, nil
}

// MarkAlertDelivered records a successful hand-off to the sink.
func (r *ActivityRepository) MarkAlertDelivered(ctx context.Context, id string, at time.Time) error {
	const query = `UPDATE alerts SET delivered_at = $1, attempts = attempts + 1 WHERE id = $2 AND delivered_at IS NULL`
	if _, err := r.db.ExecContext(ctx, query, at, id); err != nil {
		return fmt.Errorf("mark alert delivered: %w", err)
	}
	return nil
}

// IncrementAlertAttempts records a failed delivery attempt.
func (r *ActivityRepository) IncrementAlertAttempts(ctx context.Context, id string) error {
	const query = `UPDATE alerts SET attempts = attempts + 1 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("increment alert attempts: %w", err)
	}
	return nil
}

// ListUndeliveredAlerts returns the oldest alerts still awaiting delivery that sort after the cursor.
func (r *ActivityRepository) ListUndeliveredAlerts(ctx context.Context, after models.AlertCursor, limit int) ([]models.Alert, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + alertColumns + ` FROM alerts WHERE delivered_at IS NULL AND (emitted_at, id) > ($1, $2)
ORDER BY emitted_at ASC, id ASC LIMIT $3`
	var alerts []models.Alert
	if err := r.db.SelectContext(ctx, &alerts, query, after.EmittedAt, after.ID, limit); err != nil {
		return nil, fmt.Errorf("list undelivered alerts: %w", err)
	}
	return alerts, nil
}

// ListAlerts returns the newest alerts of a tenant. A non-empty credentialID narrows them to one credential.
func (r *ActivityRepository) ListAlerts(ctx context.Context, tenantID, credentialID string, limit int) ([]models.Alert, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + alertColumns + ` FROM alerts WHERE tenant_id = $1 AND ($2 = '' OR credential_id = $2) ORDER BY emitted_at DESC LIMIT $3`
	var alerts []models.Alert
	if err := r.db.SelectContext(ctx, &alerts, query, tenantID, credentialID, limit); err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	return alerts, nil
}
