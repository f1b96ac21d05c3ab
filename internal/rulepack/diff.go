package rulepack

import (
	"github.com/ternarybob/specforge/internal/models"
)

// DiffClassification grades a pending compile's impact
type DiffClassification string

const (
	DiffSafe               DiffClassification = "safe"
	DiffPotentiallyBreaking DiffClassification = "potentially_breaking"
	DiffBreaking           DiffClassification = "breaking"
)

// RulesDiffResult reports a rules-diff invocation
type RulesDiffResult struct {
	Envelope       models.Envelope    `json:"envelope"`
	Category       string             `json:"category"`
	Classification DiffClassification `json:"classification"`
	Added          []string           `json:"added"`
	Removed        []string           `json:"removed"`
	Modified       []string           `json:"modified"`
}

// RulesDiff runs a dry-run compile and classifies the report: breaking
// iff any artifact was removed, potentially_breaking iff any changed,
// else safe.
func (c *Compiler) RulesDiff(category string) (*RulesDiffResult, error) {
	compileResult, err := c.Compile(category, true)
	if err != nil {
		return &RulesDiffResult{
			Envelope: compileResult.Envelope,
			Category: compileResult.Category,
		}, err
	}

	classification := DiffSafe
	if len(compileResult.Modified) > 0 {
		classification = DiffPotentiallyBreaking
	}
	if len(compileResult.Removed) > 0 {
		classification = DiffBreaking
	}

	return &RulesDiffResult{
		Envelope:       compileResult.Envelope,
		Category:       compileResult.Category,
		Classification: classification,
		Added:          compileResult.Added,
		Removed:        compileResult.Removed,
		Modified:       compileResult.Modified,
	}, nil
}
