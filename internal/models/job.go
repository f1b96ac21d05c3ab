package models

// IdentityLock is the brand/model/variant triple supplied in the job.
// The pipeline refuses to mutate these fields.
type IdentityLock struct {
	Brand   string `json:"brand" validate:"required"`
	Model   string `json:"model" validate:"required"`
	Variant string `json:"variant,omitempty"`
	SKU     string `json:"sku,omitempty"`
}

// Requirements tunes per-job quality targets
type Requirements struct {
	RequiredFields     []string `json:"requiredFields,omitempty"`
	TargetCompleteness float64  `json:"targetCompleteness,omitempty"`
	TargetConfidence   float64  `json:"targetConfidence,omitempty"`
}

// Job is the structured extraction request for one product
type Job struct {
	ProductID    string            `json:"productId" validate:"required"`
	Category     string            `json:"category" validate:"required"`
	IdentityLock IdentityLock      `json:"identityLock" validate:"required"`
	Anchors      map[string]string `json:"anchors,omitempty"` // field -> pre-known value
	Requirements *Requirements     `json:"requirements,omitempty"`
}

// LockedFields returns the set of identity- and anchor-locked field keys.
// Candidates targeting these fields are never accepted from extraction.
func (j *Job) LockedFields() map[string]bool {
	locked := map[string]bool{
		"brand": true,
		"model": true,
	}
	if j.IdentityLock.Variant != "" {
		locked["variant"] = true
	}
	if j.IdentityLock.SKU != "" {
		locked["sku"] = true
	}
	for field := range j.Anchors {
		locked[field] = true
	}
	return locked
}
