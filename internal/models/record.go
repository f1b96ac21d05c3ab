package models

// ValidatedReason is the single terminal string explaining a publish result
type ValidatedReason string

const (
	ReasonComplete                 ValidatedReason = "complete"
	ReasonIdentityMismatch         ValidatedReason = "identity_mismatch"
	ReasonAnchorMajorConflict      ValidatedReason = "anchor_major_conflict"
	ReasonCompletenessBelowTarget  ValidatedReason = "completeness_below_target"
	ReasonConfidenceBelowTarget    ValidatedReason = "confidence_below_target"
	ReasonCriticalFieldsBelowTarget ValidatedReason = "critical_fields_below_target"
)

// Quality summarizes record-level validation state
type Quality struct {
	Validated            bool     `json:"validated"`
	Confidence           float64  `json:"confidence"`
	CompletenessRequired float64  `json:"completeness_required"`
	CoverageOverall      float64  `json:"coverage_overall"`
	Notes                []string `json:"notes"`
}

// SourceSummary aggregates per-run source statistics
type SourceSummary struct {
	Planned         int `json:"planned"`
	Fetched         int `json:"fetched"`
	IdentityMatched int `json:"identity_matched"`
	EvidenceUsed    int `json:"evidence_used"`
	Failed          int `json:"failed"`
}

// NormalizedRecord is the final published artifact for one product
type NormalizedRecord struct {
	ID            string            `json:"id"`
	Brand         string            `json:"brand"`
	Model         string            `json:"model"`
	BaseModel     string            `json:"base_model"`
	Variant       string            `json:"variant,omitempty"`
	Category      string            `json:"category"`
	SKU           string            `json:"sku,omitempty"`
	Quality       Quality           `json:"quality"`
	Fields        map[string]string `json:"fields"`
	SourceSummary SourceSummary     `json:"sourceSummary"`
}
