package models

// PreparationResult reports one document pipeline run for a credential.
type PreparationResult struct {
	CredentialID       string             `json:"credentialId"`
	DocumentsRequired  []string           `json:"documentsRequired"`
	DocumentsGenerated int                `json:"documentsGenerated"`
	DocumentsReady     int                `json:"documentsReady"`
	DocumentsPending   int                `json:"documentsPending"`
	QualityScore       float64            `json:"qualityScore"`
	Documents          []PreparedDocument `json:"documents"`
}

// MeetsThreshold reports whether the quality score reaches threshold.
func (r PreparationResult) MeetsThreshold(threshold float64) bool {
	return r.QualityScore >= threshold
}
