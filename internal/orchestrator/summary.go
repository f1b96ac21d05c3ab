package orchestrator

import (
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/specforge/internal/consensus"
	"github.com/ternarybob/specforge/internal/gates"
	"github.com/ternarybob/specforge/internal/models"
)

// RoundSummary is the per-round convergence snapshot. It doubles as the
// run summary artifact when the loop stops.
type RoundSummary struct {
	Round                         int                                `json:"round"`
	Validated                     bool                               `json:"validated"`
	ValidatedReason               models.ValidatedReason             `json:"validated_reason"`
	ValidationReasons             []string                           `json:"validation_reasons,omitempty"`
	Confidence                    float64                            `json:"confidence"`
	CompletenessRequired          float64                            `json:"completeness_required"`
	MissingRequiredFields         []string                           `json:"missing_required_fields"`
	CriticalFieldsBelowPassTarget []string                           `json:"critical_fields_below_pass_target"`
	SourcesIdentityMatched        int                                `json:"sources_identity_matched"`
	SourcesFetched                int                                `json:"sources_fetched"`
	NewURLsSeen                   int                                `json:"new_urls_seen"`
	NewFieldsFilled               int                                `json:"new_fields_filled"`
	Contradictions                []string                           `json:"contradictions,omitempty"`
	AnchorConflicts               []gates.AnchorConflict             `json:"anchor_conflicts,omitempty"`
	Provenance                    map[string]models.FieldProvenance  `json:"provenance"`
	FieldOrder                    []string                           `json:"field_order"`
	FieldReasoning                map[string]string                  `json:"field_reasoning,omitempty"`
	IdentityContext               gates.IdentityResult               `json:"identity_context"`
	NewValuesProposed             []consensus.NewValueProposal       `json:"new_values_proposed,omitempty"`
	TargetedFields                []string                           `json:"targeted_fields,omitempty"`
	EscalatedFields               []string                           `json:"escalated_fields,omitempty"`
	Events                        []string                           `json:"events,omitempty"`
	Notes                         []string                           `json:"notes,omitempty"`
}

// ValidateSummary checks the summary against its own contract and
// returns warnings. Validation never blocks publishing; a malformed
// summary is a bug to surface, not a reason to drop a run.
func ValidateSummary(summary *RoundSummary, logger arbor.ILogger) []string {
	var warnings []string
	warn := func(format string, args ...interface{}) {
		warnings = append(warnings, fmt.Sprintf(format, args...))
	}

	if summary.Provenance == nil {
		warn("summary has no provenance map")
	}
	if len(summary.FieldOrder) == 0 {
		warn("summary has empty field_order")
	}
	for _, field := range summary.FieldOrder {
		if _, ok := summary.Provenance[field]; !ok {
			warn("field_order names %q but provenance has no entry", field)
		}
	}
	if summary.Confidence < 0 || summary.Confidence > 1 {
		warn("confidence %.3f outside [0,1]", summary.Confidence)
	}
	if summary.Validated && summary.ValidatedReason != models.ReasonComplete {
		warn("validated summary carries reason %q", summary.ValidatedReason)
	}
	if !summary.Validated && summary.ValidatedReason == models.ReasonComplete {
		warn("unvalidated summary carries reason complete")
	}
	for _, field := range summary.MissingRequiredFields {
		if provenance, ok := summary.Provenance[field]; ok && provenance.Value != models.UnknownValue && provenance.Value != "" {
			warn("field %q listed missing but has value %q", field, provenance.Value)
		}
	}

	for _, warning := range warnings {
		logger.Warn().Int("round", summary.Round).Msg("Summary contract: " + warning)
	}
	return warnings
}
