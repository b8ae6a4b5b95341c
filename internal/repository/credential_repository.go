package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/credential-lifecycle-api/internal/models"
)

const credentialColumns = `id, tenant_id, holder_id, credential_type, external_number, issue_date, expiry_date, status, sponsor_id, nationality, attributes, open_workflow_id, created_at, updated_at`

// CredentialRepository persists credential records.
type CredentialRepository struct {
	db *sqlx.DB
}

// NewCredentialRepository constructs the repository.
func NewCredentialRepository(db *sqlx.DB) *CredentialRepository {
	return &CredentialRepository{db: db}
}

type upsertResult struct {
	ID             string                  `db:"id"`
	Status         models.CredentialStatus `db:"status"`
	OpenWorkflowID *string                 `db:"open_workflow_id"`
	CreatedAt      time.Time               `db:"created_at"`
	Inserted       bool                    `db:"inserted"`
}

// UpsertCredential inserts or refreshes a credential keyed by (tenant, holder, type, external number).
// Lifecycle fields (status, open workflow) are never overwritten by a refresh.
func (r *CredentialRepository) UpsertCredential(ctx context.Context, cred *models.Credential) (bool, error) {
	if cred.ID == "" {
		cred.ID = uuid.NewString()
	}
	if cred.Status == "" {
		cred.Status = models.CredentialStatusActive
	}
	now := time.Now().UTC()
	if cred.CreatedAt.IsZero() {
		cred.CreatedAt = now
	}
	cred.UpdatedAt = now

	const query = `INSERT INTO credentials (id, tenant_id, holder_id, credential_type, external_number, issue_date, expiry_date, status, sponsor_id, nationality, attributes, created_at, updated_at)
VALUES (:id, :tenant_id, :holder_id, :credential_type, :external_number, :issue_date, :expiry_date, :status, :sponsor_id, :nationality, :attributes, :created_at, :updated_at)
ON CONFLICT (tenant_id, holder_id, credential_type, external_number) DO UPDATE SET
issue_date = EXCLUDED.issue_date, expiry_date = EXCLUDED.expiry_date, sponsor_id = EXCLUDED.sponsor_id,
nationality = EXCLUDED.nationality, attributes = EXCLUDED.attributes, updated_at = EXCLUDED.updated_at
RETURNING id, status, open_workflow_id, created_at, (xmax = 0) AS inserted`

	rows, err := r.db.NamedQueryContext(ctx, query, cred)
	if err != nil {
		return false, fmt.Errorf("upsert credential: %w", err)
	}
	defer rows.Close()

	var result upsertResult
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return false, fmt.Errorf("upsert credential: %w", err)
		}
		return false, fmt.Errorf("upsert credential: no row returned")
	}
	if err := rows.StructScan(&result); err != nil {
		return false, fmt.Errorf("scan upserted credential: %w", err)
	}
	cred.ID = result.ID
	cred.Status = result.Status
	cred.OpenWorkflowID = result.OpenWorkflowID
	cred.CreatedAt = result.CreatedAt
	return result.Inserted, nil
}

// GetCredential returns a credential by id within a tenant.
func (r *CredentialRepository) GetCredential(ctx context.Context, tenantID, id string) (*models.Credential, error) {
	query := `SELECT ` + credentialColumns + ` FROM credentials WHERE tenant_id = $1 AND id = $2`
	var cred models.Credential
	if err := r.db.GetContext(ctx, &cred, query, tenantID, id); err != nil {
		return nil, fmt.Errorf("get credential: %w", err)
	}
	return &cred, nil
}

// ListCredentials returns credentials ordered by expiry with the total matching count.
func (r *CredentialRepository) ListCredentials(ctx context.Context, tenantID string, filter models.CredentialFilter) ([]models.Credential, int, error) {
	where := []string{"tenant_id = $1"}
	args := []interface{}{tenantID}
	argPos := 2

	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, status := range filter.Statuses {
			placeholders[i] = fmt.Sprintf("$%d", argPos)
			args = append(args, status)
			argPos++
		}
		where = append(where, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ", ")))
	}
	if filter.HolderID != "" {
		where = append(where, fmt.Sprintf("holder_id = $%d", argPos))
		args = append(args, filter.HolderID)
		argPos++
	}
	if filter.Type != "" {
		where = append(where, fmt.Sprintf("credential_type = $%d", argPos))
		args = append(args, filter.Type)
		argPos++
	}
	if filter.ExpiresBefore != nil {
		where = append(where, fmt.Sprintf("expiry_date <= $%d", argPos))
		args = append(args, *filter.ExpiresBefore)
		argPos++
	}

	clause := strings.Join(where, " AND ")
	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM credentials WHERE "+clause, args...); err != nil {
		return nil, 0, fmt.Errorf("count credentials: %w", err)
	}

	query := "SELECT " + credentialColumns + " FROM credentials WHERE " + clause + " ORDER BY expiry_date ASC, id ASC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", argPos, argPos+1)
		args = append(args, filter.Limit, filter.Offset)
	}

	var creds []models.Credential
	if err := r.db.SelectContext(ctx, &creds, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list credentials: %w", err)
	}
	return creds, total, nil
}

// ListTenants returns every tenant owning at least one tracked credential.
func (r *CredentialRepository) ListTenants(ctx context.Context) ([]string, error) {
	const query = `SELECT DISTINCT tenant_id FROM credentials WHERE status IN ('active', 'pending_renewal') ORDER BY tenant_id`
	var tenants []string
	if err := r.db.SelectContext(ctx, &tenants, query); err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	return tenants, nil
}

// MarkExpired flips a tracked credential to expired. It reports false when nothing changed.
func (r *CredentialRepository) MarkExpired(ctx context.Context, tenantID, id string, at time.Time) (bool, error) {
	const query = `UPDATE credentials SET status = 'expired', updated_at = $1
WHERE tenant_id = $2 AND id = $3 AND status IN ('active', 'pending_renewal')`
	return r.execAffected(ctx, "mark credential expired", query, at, tenantID, id)
}

// CancelCredential moves a credential to the terminal cancelled status.
func (r *CredentialRepository) CancelCredential(ctx context.Context, tenantID, id string, at time.Time) (bool, error) {
	const query = `UPDATE credentials SET status = 'cancelled', updated_at = $1
WHERE tenant_id = $2 AND id = $3 AND status <> 'cancelled'`
	return r.execAffected(ctx, "cancel credential", query, at, tenantID, id)
}

func (r *CredentialRepository) execAffected(ctx context.Context, op, query string, args ...interface{}) (bool, error) {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s rows: %w", op, err)
	}
	return affected > 0, nil
}
