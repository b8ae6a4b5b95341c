package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/credential-lifecycle-api/internal/dto"
	"github.com/noah-isme/credential-lifecycle-api/internal/models"
	appErrors "github.com/noah-isme/credential-lifecycle-api/pkg/errors"
)

type syncCredentialStore interface {
	UpsertCredential(ctx context.Context, cred *models.Credential) (bool, error)
	GetCredential(ctx context.Context, tenantID, id string) (*models.Credential, error)
	CancelCredential(ctx context.Context, tenantID, id string, at time.Time) (bool, error)
}

// SyncService applies registry feed records to the credential store.
type SyncService struct {
	store     syncCredentialStore
	activity  activityLogger
	cache     tenantCacheInvalidator
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// NewSyncService constructs the service and registers its validation tags.
func NewSyncService(store syncCredentialStore, activity activityLogger, cacheSvc tenantCacheInvalidator, validate *validator.Validate, logger *zap.Logger) *SyncService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	registerLifecycleValidations(validate)
	return &SyncService{
		store:     store,
		activity:  activity,
		cache:     cacheSvc,
		validator: validate,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Sync upserts a batch keyed by (holder, type, external number). Invalid records are skipped and reported.
func (s *SyncService) Sync(ctx context.Context, tenantID string, req dto.SyncBatchRequest) (*dto.SyncResult, error) {
	if tenantID == "" {
		return nil, appErrors.ErrTenantRequired
	}
	if len(req.Records) == 0 || len(req.Records) > 500 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "records must contain between 1 and 500 entries")
	}

	result := &dto.SyncResult{}
	for i, record := range req.Records {
		if err := s.validator.Struct(record); err != nil {
			result.Skipped++
			result.Errors = append(result.Errors, fmt.Sprintf("record %d: %v", i, err))
			continue
		}
		cred := toCredential(tenantID, record)
		created, err := s.store.UpsertCredential(ctx, cred)
		if err != nil {
			return result, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to upsert credential")
		}
		if created {
			result.Created++
		} else {
			result.Updated++
		}
		credentialID := cred.ID
		entry := &models.ActivityEntry{
			TenantID:     tenantID,
			Kind:         models.ActivityCredentialSynced,
			CredentialID: &credentialID,
			Details: models.JSONMap{
				"created":        created,
				"externalNumber": cred.ExternalNumber,
				"expiryDate":     cred.ExpiryDate.Format("2006-01-02"),
			},
			CreatedAt: s.now(),
		}
		if err := s.activity.AppendActivity(ctx, entry); err != nil {
			s.logger.Sugar().Warnw("failed to log sync activity", "tenant_id", tenantID, "credential_id", cred.ID, "error", err)
		}
	}

	if result.Created+result.Updated > 0 && s.cache != nil {
		s.cache.InvalidateTenant(ctx, tenantID)
	}
	s.logger.Sugar().Infow("credential batch synced", "tenant_id", tenantID, "created", result.Created, "updated", result.Updated, "skipped", result.Skipped)
	return result, nil
}

// Cancel moves a credential to the terminal cancelled status. Its workflow, if any, stops advancing.
func (s *SyncService) Cancel(ctx context.Context, tenantID, credentialID string) (*models.Credential, error) {
	if tenantID == "" {
		return nil, appErrors.ErrTenantRequired
	}
	now := s.now()
	changed, err := s.store.CancelCredential(ctx, tenantID, credentialID, now)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to cancel credential")
	}
	cred, err := s.store.GetCredential(ctx, tenantID, credentialID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "credential not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load credential")
	}
	if !changed {
		return cred, nil
	}

	id := cred.ID
	entry := &models.ActivityEntry{
		TenantID:     tenantID,
		Kind:         models.ActivityCredentialCancelled,
		CredentialID: &id,
		WorkflowID:   cred.OpenWorkflowID,
		Details:      models.JSONMap{"cancelledAt": now},
		CreatedAt:    now,
	}
	if err := s.activity.AppendActivity(ctx, entry); err != nil {
		s.logger.Sugar().Warnw("failed to log cancellation", "tenant_id", tenantID, "credential_id", id, "error", err)
	}
	if s.cache != nil {
		s.cache.InvalidateTenant(ctx, tenantID)
	}
	return cred, nil
}

func toCredential(tenantID string, record dto.SyncCredentialRequest) *models.Credential {
	var sponsor *string
	if record.SponsorID != nil && strings.TrimSpace(*record.SponsorID) != "" {
		trimmed := strings.TrimSpace(*record.SponsorID)
		sponsor = &trimmed
	}
	attributes := models.Attributes{}
	for k, v := range record.Attributes {
		attributes[k] = v
	}
	return &models.Credential{
		TenantID:       tenantID,
		HolderID:       strings.TrimSpace(record.HolderID),
		Type:           models.CredentialType(record.CredentialType),
		ExternalNumber: strings.TrimSpace(record.ExternalNumber),
		IssueDate:      record.IssueDate.UTC(),
		ExpiryDate:     record.ExpiryDate.UTC(),
		Status:         models.CredentialStatusActive,
		SponsorID:      sponsor,
		Nationality:    strings.ToUpper(strings.TrimSpace(record.Nationality)),
		Attributes:     attributes,
	}
}
