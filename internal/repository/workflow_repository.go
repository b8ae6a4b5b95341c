package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/credential-lifecycle-api/internal/models"
	appErrors "github.com/noah-isme/credential-lifecycle-api/pkg/errors"
)

const workflowColumns = `id, tenant_id, credential_id, stage, stage_status, status, priority, documents_required, documents_prepared, stages, callbacks, expiry_date_at_open, opened_at, estimated_completion, last_advanced_at, closed_at, closure_reason, version`

const uniqueViolation = "23505"

// WorkflowRepository persists renewal workflows and guards the one-open-workflow invariant.
type WorkflowRepository struct {
	db *sqlx.DB
}

// NewWorkflowRepository constructs the repository.
func NewWorkflowRepository(db *sqlx.DB) *WorkflowRepository {
	return &WorkflowRepository{db: db}
}

// OpenWorkflow atomically claims the credential and inserts the workflow.
// The claim is a compare-and-set on credentials.open_workflow_id, backed by a partial unique index.
func (r *WorkflowRepository) OpenWorkflow(ctx context.Context, wf *models.Workflow) (err error) {
	if wf.ID == "" {
		wf.ID = uuid.NewString()
	}
	if wf.Version == 0 {
		wf.Version = 1
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin open workflow: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	const claim = `UPDATE credentials SET status = 'pending_renewal', open_workflow_id = $1, updated_at = $2
WHERE tenant_id = $3 AND id = $4 AND status = 'active' AND open_workflow_id IS NULL`
	res, err := tx.ExecContext(ctx, claim, wf.ID, wf.OpenedAt, wf.TenantID, wf.CredentialID)
	if err != nil {
		return fmt.Errorf("claim credential: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("claim credential rows: %w", err)
	}
	if affected == 0 {
		return r.claimFailure(ctx, tx, wf)
	}

	const insert = `INSERT INTO renewal_workflows (` + workflowColumns + `)
VALUES (:id, :tenant_id, :credential_id, :stage, :stage_status, :status, :priority, :documents_required, :documents_prepared, :stages, :callbacks, :expiry_date_at_open, :opened_at, :estimated_completion, :last_advanced_at, :closed_at, :closure_reason, :version)`
	if _, err = tx.NamedExecContext(ctx, insert, wf); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
			return appErrors.Clone(appErrors.ErrAlreadyOpen, fmt.Sprintf("credential %s already has an open renewal workflow", wf.CredentialID))
		}
		return fmt.Errorf("insert workflow: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit open workflow: %w", err)
	}
	return nil
}

func (r *WorkflowRepository) claimFailure(ctx context.Context, tx *sqlx.Tx, wf *models.Workflow) error {
	var current struct {
		Status         models.CredentialStatus `db:"status"`
		OpenWorkflowID *string                 `db:"open_workflow_id"`
	}
	const query = `SELECT status, open_workflow_id FROM credentials WHERE tenant_id = $1 AND id = $2`
	if err := tx.GetContext(ctx, &current, query, wf.TenantID, wf.CredentialID); err != nil {
		return fmt.Errorf("inspect credential: %w", err)
	}
	if current.OpenWorkflowID != nil {
		return appErrors.Clone(appErrors.ErrAlreadyOpen, fmt.Sprintf("credential %s already has open workflow %s", wf.CredentialID, *current.OpenWorkflowID))
	}
	return appErrors.Clone(appErrors.ErrNotRenewable, fmt.Sprintf("credential %s is %s", wf.CredentialID, current.Status))
}

// GetWorkflow returns a workflow by id within a tenant.
func (r *WorkflowRepository) GetWorkflow(ctx context.Context, tenantID, id string) (*models.Workflow, error) {
	query := `SELECT ` + workflowColumns + ` FROM renewal_workflows WHERE tenant_id = $1 AND id = $2`
	var wf models.Workflow
	if err := r.db.GetContext(ctx, &wf, query, tenantID, id); err != nil {
		return nil, fmt.Errorf("get workflow: %w", err)
	}
	return &wf, nil
}

// LatestWorkflow returns the most recently opened workflow for a credential.
func (r *WorkflowRepository) LatestWorkflow(ctx context.Context, tenantID, credentialID string) (*models.Workflow, error) {
	query := `SELECT ` + workflowColumns + ` FROM renewal_workflows WHERE tenant_id = $1 AND credential_id = $2 ORDER BY opened_at DESC LIMIT 1`
	var wf models.Workflow
	if err := r.db.GetContext(ctx, &wf, query, tenantID, credentialID); err != nil {
		return nil, fmt.Errorf("get latest workflow: %w", err)
	}
	return &wf, nil
}

// ListWorkflows returns workflows ordered most urgent first.
func (r *WorkflowRepository) ListWorkflows(ctx context.Context, tenantID string, filter models.WorkflowFilter) ([]models.Workflow, int, error) {
	where := []string{"tenant_id = $1"}
	args := []interface{}{tenantID}
	argPos := 2

	if filter.Status != "" {
		where = append(where, fmt.Sprintf("status = $%d", argPos))
		args = append(args, filter.Status)
		argPos++
	}
	if filter.Priority != "" {
		where = append(where, fmt.Sprintf("priority = $%d", argPos))
		args = append(args, filter.Priority)
		argPos++
	}
	if filter.CredentialID != "" {
		where = append(where, fmt.Sprintf("credential_id = $%d", argPos))
		args = append(args, filter.CredentialID)
		argPos++
	}

	clause := strings.Join(where, " AND ")
	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM renewal_workflows WHERE "+clause, args...); err != nil {
		return nil, 0, fmt.Errorf("count workflows: %w", err)
	}

	query := "SELECT " + workflowColumns + " FROM renewal_workflows WHERE " + clause +
		" ORDER BY CASE priority WHEN 'urgent' THEN 0 WHEN 'high' THEN 1 ELSE 2 END, opened_at ASC, id ASC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", argPos, argPos+1)
		args = append(args, filter.Limit, filter.Offset)
	}

	var workflows []models.Workflow
	if err := r.db.SelectContext(ctx, &workflows, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list workflows: %w", err)
	}
	return workflows, total, nil
}

// SaveWorkflow persists the mutable state of an open workflow using optimistic versioning.
func (r *WorkflowRepository) SaveWorkflow(ctx context.Context, wf *models.Workflow) error {
	const query = `UPDATE renewal_workflows SET stage = :stage, stage_status = :stage_status, priority = :priority,
documents_required = :documents_required, documents_prepared = :documents_prepared, stages = :stages, callbacks = :callbacks,
estimated_completion = :estimated_completion, last_advanced_at = :last_advanced_at, version = version + 1
WHERE tenant_id = :tenant_id AND id = :id AND version = :version AND status = 'open'`
	res, err := r.db.NamedExecContext(ctx, query, wf)
	if err != nil {
		return fmt.Errorf("save workflow: %w", err)
	}
	if err := requireOneRow(res, wf.ID); err != nil {
		return err
	}
	wf.Version++
	return nil
}

// CloseWorkflow finalises the workflow and releases its credential in one transaction.
// A non-nil outcome marks a completed renewal and extends the credential expiry.
func (r *WorkflowRepository) CloseWorkflow(ctx context.Context, wf *models.Workflow, outcome *models.RenewalOutcome) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin close workflow: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	const closeQuery = `UPDATE renewal_workflows SET stage = :stage, stage_status = :stage_status, status = :status, priority = :priority,
documents_prepared = :documents_prepared, stages = :stages, callbacks = :callbacks, estimated_completion = :estimated_completion,
last_advanced_at = :last_advanced_at, closed_at = :closed_at, closure_reason = :closure_reason, version = version + 1
WHERE tenant_id = :tenant_id AND id = :id AND version = :version AND status = 'open'`
	res, err := tx.NamedExecContext(ctx, closeQuery, wf)
	if err != nil {
		return fmt.Errorf("close workflow: %w", err)
	}
	if err = requireOneRow(res, wf.ID); err != nil {
		return err
	}

	closedAt := time.Now().UTC()
	if wf.ClosedAt != nil {
		closedAt = *wf.ClosedAt
	}
	if outcome != nil {
		const renew = `UPDATE credentials SET status = 'active', expiry_date = $1, open_workflow_id = NULL, updated_at = $2
WHERE tenant_id = $3 AND id = $4 AND open_workflow_id = $5 AND status = 'pending_renewal'`
		res, err = tx.ExecContext(ctx, renew, outcome.NewExpiryDate, closedAt, wf.TenantID, wf.CredentialID, wf.ID)
		if err != nil {
			return fmt.Errorf("renew credential: %w", err)
		}
		if err = requireOneRow(res, wf.ID); err != nil {
			return err
		}
	} else {
		const release = `UPDATE credentials SET status = CASE WHEN status = 'pending_renewal' THEN 'active' ELSE status END,
open_workflow_id = NULL, updated_at = $1
WHERE tenant_id = $2 AND id = $3 AND open_workflow_id = $4`
		if _, err = tx.ExecContext(ctx, release, closedAt, wf.TenantID, wf.CredentialID, wf.ID); err != nil {
			return fmt.Errorf("release credential: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit close workflow: %w", err)
	}
	wf.Version++
	return nil
}

// WorkflowOutcomes counts closed workflows by terminal status for a tenant.
func (r *WorkflowRepository) WorkflowOutcomes(ctx context.Context, tenantID string) (completed int, failed int, err error) {
	const query = `SELECT status, COUNT(*) AS total FROM renewal_workflows WHERE tenant_id = $1 AND status IN ('completed', 'failed') GROUP BY status`
	var rows []struct {
		Status models.WorkflowStatus `db:"status"`
		Total  int                   `db:"total"`
	}
	if err := r.db.SelectContext(ctx, &rows, query, tenantID); err != nil {
		return 0, 0, fmt.Errorf("count workflow outcomes: %w", err)
	}
	for _, row := range rows {
		switch row.Status {
		case models.WorkflowStatusCompleted:
			completed = row.Total
		case models.WorkflowStatusFailed:
			failed = row.Total
		}
	}
	return completed, failed, nil
}

func requireOneRow(res sql.Result, workflowID string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("workflow rows: %w", err)
	}
	if affected == 0 {
		return appErrors.Clone(appErrors.ErrStaleWorkflow, fmt.Sprintf("workflow %s changed concurrently", workflowID))
	}
	return nil
}
