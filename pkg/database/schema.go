package database

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// schemaSQL is the complete schema for the credential lifecycle store.
const schemaSQL = `
CREATE TABLE IF NOT EXISTS credentials (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	holder_id TEXT NOT NULL,
	credential_type TEXT NOT NULL,
	external_number TEXT NOT NULL,
	issue_date TIMESTAMPTZ NOT NULL,
	expiry_date TIMESTAMPTZ NOT NULL,
	status TEXT NOT NULL CHECK (status IN ('active', 'pending_renewal', 'expired', 'cancelled')),
	sponsor_id TEXT,
	nationality TEXT NOT NULL DEFAULT '',
	attributes JSONB NOT NULL DEFAULT '{}'::jsonb,
	open_workflow_id TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE (tenant_id, holder_id, credential_type, external_number)
);

CREATE INDEX IF NOT EXISTS idx_credentials_tenant_expiry ON credentials (tenant_id, expiry_date);
CREATE INDEX IF NOT EXISTS idx_credentials_tenant_status ON credentials (tenant_id, status);

CREATE TABLE IF NOT EXISTS renewal_workflows (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	credential_id TEXT NOT NULL REFERENCES credentials (id),
	stage TEXT NOT NULL,
	stage_status TEXT NOT NULL,
	status TEXT NOT NULL CHECK (status IN ('open', 'completed', 'failed')),
	priority TEXT NOT NULL,
	documents_required JSONB NOT NULL DEFAULT '[]'::jsonb,
	documents_prepared JSONB NOT NULL DEFAULT '[]'::jsonb,
	stages JSONB NOT NULL DEFAULT '[]'::jsonb,
	callbacks JSONB NOT NULL DEFAULT '{}'::jsonb,
	expiry_date_at_open TIMESTAMPTZ NOT NULL,
	opened_at TIMESTAMPTZ NOT NULL,
	estimated_completion TIMESTAMPTZ NOT NULL,
	last_advanced_at TIMESTAMPTZ NOT NULL,
	closed_at TIMESTAMPTZ,
	closure_reason TEXT,
	version INTEGER NOT NULL DEFAULT 1
);

CREATE UNIQUE INDEX IF NOT EXISTS uq_renewal_workflows_open_credential
	ON renewal_workflows (credential_id) WHERE status = 'open';
CREATE INDEX IF NOT EXISTS idx_renewal_workflows_tenant_status ON renewal_workflows (tenant_id, status, priority);

CREATE TABLE IF NOT EXISTS activity_log (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	kind TEXT NOT NULL,
	credential_id TEXT,
	workflow_id TEXT,
	details JSONB NOT NULL DEFAULT '{}'::jsonb,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_activity_log_credential ON activity_log (tenant_id, credential_id, created_at DESC);

CREATE TABLE IF NOT EXISTS alerts (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	kind TEXT NOT NULL,
	credential_id TEXT NOT NULL,
	workflow_id TEXT,
	severity TEXT NOT NULL,
	payload JSONB NOT NULL DEFAULT '{}'::jsonb,
	dedupe_key TEXT NOT NULL,
	emitted_at TIMESTAMPTZ NOT NULL,
	delivered_at TIMESTAMPTZ,
	attempts INTEGER NOT NULL DEFAULT 0,
	UNIQUE (tenant_id, dedupe_key)
);

CREATE INDEX IF NOT EXISTS idx_alerts_undelivered ON alerts (emitted_at) WHERE delivered_at IS NULL;
`

// EnsureSchema creates the lifecycle tables and indexes when they are missing.
func EnsureSchema(ctx context.Context, db *sqlx.DB) error {
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
