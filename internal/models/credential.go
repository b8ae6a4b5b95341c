package models

import (
	"database/sql/driver"
	"strings"
	"time"
)

// CredentialType identifies the issuer-granted permission kind. The set is open.
type CredentialType string

const (
	CredentialTypeWorkPermit          CredentialType = "work_permit"
	CredentialTypeDependentPermit     CredentialType = "dependent_permit"
	CredentialTypeProfessionalLicense CredentialType = "professional_license"
	CredentialTypeResidencyPermit     CredentialType = "residency_permit"
)

// CredentialStatus captures the tracked lifecycle state of a credential.
type CredentialStatus string

const (
	CredentialStatusActive         CredentialStatus = "active"
	CredentialStatusPendingRenewal CredentialStatus = "pending_renewal"
	CredentialStatusExpired        CredentialStatus = "expired"
	CredentialStatusCancelled      CredentialStatus = "cancelled"
)

// Tracked reports whether the scheduler still evaluates credentials in this status.
func (s CredentialStatus) Tracked() bool {
	return s == CredentialStatusActive || s == CredentialStatusPendingRenewal
}

// Credential is a time-bound permission record held by an employee.
type Credential struct {
	ID             string           `db:"id" json:"id"`
	TenantID       string           `db:"tenant_id" json:"tenantId"`
	HolderID       string           `db:"holder_id" json:"holderId"`
	Type           CredentialType   `db:"credential_type" json:"credentialType"`
	ExternalNumber string           `db:"external_number" json:"externalNumber"`
	IssueDate      time.Time        `db:"issue_date" json:"issueDate"`
	ExpiryDate     time.Time        `db:"expiry_date" json:"expiryDate"`
	Status         CredentialStatus `db:"status" json:"status"`
	SponsorID      *string          `db:"sponsor_id" json:"sponsorId,omitempty"`
	Nationality    string           `db:"nationality" json:"nationality"`
	Attributes     Attributes       `db:"attributes" json:"attributes"`
	OpenWorkflowID *string          `db:"open_workflow_id" json:"openWorkflowId,omitempty"`
	CreatedAt      time.Time        `db:"created_at" json:"createdAt"`
	UpdatedAt      time.Time        `db:"updated_at" json:"updatedAt"`
}

// HasSponsor reports whether a non-blank sponsor reference is present.
func (c *Credential) HasSponsor() bool {
	return c.SponsorID != nil && strings.TrimSpace(*c.SponsorID) != ""
}

// HasOpenWorkflow reports whether a renewal workflow currently references the credential.
func (c *Credential) HasOpenWorkflow() bool {
	return c.OpenWorkflowID != nil && *c.OpenWorkflowID != ""
}

// Attributes carries issuer-specific key/value context persisted as JSONB.
type Attributes map[string]string

// Value marshals attributes for persistence.
func (a Attributes) Value() (driver.Value, error) {
	if a == nil {
		a = Attributes{}
	}
	return jsonValue(map[string]string(a), "credential attributes")
}

// Scan unmarshals JSON payloads into attributes.
func (a *Attributes) Scan(value interface{}) error {
	decoded := map[string]string{}
	if _, err := scanJSON(value, &decoded, "credential attributes"); err != nil {
		return err
	}
	*a = decoded
	return nil
}

// CredentialFilter narrows credential listings.
type CredentialFilter struct {
	Statuses      []CredentialStatus
	HolderID      string
	Type          CredentialType
	ExpiresBefore *time.Time
	Limit         int
	Offset        int
}

// RenewalOutcome describes how a completed renewal updates its credential.
type RenewalOutcome struct {
	NewExpiryDate time.Time
	Reference     string
}
