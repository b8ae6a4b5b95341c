package service

import (
	"fmt"
	"time"

	"github.com/noah-isme/credential-lifecycle-api/internal/models"
)

const (
	IssueVisaExpiringCritical = "visa_expiring_critical"
	IssueMissingSponsorInfo   = "missing_sponsor_info"
)

// ComplianceRule inspects one credential and reports at most one issue.
type ComplianceRule interface {
	Code() string
	Check(cred models.Credential, now time.Time) (models.ComplianceIssue, bool)
}

type expiringCriticalRule struct{}

func (expiringCriticalRule) Code() string { return IssueVisaExpiringCritical }

func (r expiringCriticalRule) Check(cred models.Credential, now time.Time) (models.ComplianceIssue, bool) {
	days := DaysToExpiry(cred.ExpiryDate, now)
	if days > criticalHorizonDays {
		return models.ComplianceIssue{}, false
	}
	return models.ComplianceIssue{
		CredentialID: cred.ID,
		IssueCode:    r.Code(),
		Severity:     models.SeverityHigh,
		Message:      fmt.Sprintf("credential expires in %d days", days),
		DetectedAt:   now,
	}, true
}

type missingSponsorRule struct{}

func (missingSponsorRule) Code() string { return IssueMissingSponsorInfo }

func (r missingSponsorRule) Check(cred models.Credential, now time.Time) (models.ComplianceIssue, bool) {
	if cred.HasSponsor() {
		return models.ComplianceIssue{}, false
	}
	return models.ComplianceIssue{
		CredentialID: cred.ID,
		IssueCode:    r.Code(),
		Severity:     models.SeverityMedium,
		Message:      "sponsor reference is missing",
		DetectedAt:   now,
	}, true
}

// DefaultComplianceRules returns the built-in rule set.
func DefaultComplianceRules() []ComplianceRule {
	return []ComplianceRule{expiringCriticalRule{}, missingSponsorRule{}}
}

// ComplianceEvaluator runs every rule against a credential and returns the union of issues.
type ComplianceEvaluator struct {
	rules []ComplianceRule
	now   func() time.Time
}

// NewComplianceEvaluator builds an evaluator. No rules means the default set.
func NewComplianceEvaluator(rules ...ComplianceRule) *ComplianceEvaluator {
	if len(rules) == 0 {
		rules = DefaultComplianceRules()
	}
	return &ComplianceEvaluator{rules: rules, now: func() time.Time { return time.Now().UTC() }}
}

// Evaluate checks cred against the current system time.
func (e *ComplianceEvaluator) Evaluate(cred models.Credential) []models.ComplianceIssue {
	return e.EvaluateAt(cred, e.now())
}

// EvaluateAt checks cred as of now.
func (e *ComplianceEvaluator) EvaluateAt(cred models.Credential, now time.Time) []models.ComplianceIssue {
	issues := make([]models.ComplianceIssue, 0)
	for _, rule := range e.rules {
		if issue, found := rule.Check(cred, now); found {
			issues = append(issues, issue)
		}
	}
	return issues
}

// BlockingIssues filters the issues that prevent compliance verification from completing.
func BlockingIssues(issues []models.ComplianceIssue) []models.ComplianceIssue {
	blocking := make([]models.ComplianceIssue, 0)
	for _, issue := range issues {
		if issue.Severity == models.SeverityHigh || issue.Severity == models.SeverityCritical {
			blocking = append(blocking, issue)
		}
	}
	return blocking
}
