package gates

import (
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/specforge/internal/category"
	"github.com/ternarybob/specforge/internal/consensus"
	"github.com/ternarybob/specforge/internal/models"
	"github.com/ternarybob/specforge/internal/rulepack"
)

// ModelAmbiguityAlert is attached to records aborted by the identity gate
const ModelAmbiguityAlert = "MODEL_AMBIGUITY_ALERT"

// Input carries everything the gate stack evaluates
type Input struct {
	Pack               *rulepack.Pack
	Config             *category.Config
	Job                *models.Job
	Consensus          *consensus.Result
	Identity           IdentityResult
	TargetCompleteness float64
	TargetConfidence   float64
}

// Outcome is the ordered gate stack verdict
type Outcome struct {
	Validated            bool                   `json:"validated"`
	Reason               models.ValidatedReason `json:"validated_reason"`
	Reasons              []string               `json:"validation_reasons"`
	Notes                []string               `json:"notes,omitempty"`
	FieldsWithheld       bool                   `json:"fields_withheld"`
	CompletenessRequired float64                `json:"completeness_required"`
	Confidence           float64                `json:"confidence"`
	AnchorConflicts      []AnchorConflict       `json:"anchor_conflicts,omitempty"`
	Contradictions       []string               `json:"contradictions,omitempty"`
}

// Evaluate runs the gate stack in order. The first failing gate supplies
// the single terminal reason; validation_reasons records every failure.
func Evaluate(input Input, logger arbor.ILogger) *Outcome {
	outcome := &Outcome{
		CompletenessRequired: requiredCompleteness(input.Pack, input.Consensus),
		Confidence:           aggregateConfidence(input.Pack, input.Consensus),
		Contradictions:       input.Consensus.Contradictions,
	}

	fail := func(reason models.ValidatedReason, detail string) {
		if outcome.Reason == "" {
			outcome.Reason = reason
		}
		outcome.Reasons = append(outcome.Reasons, detail)
	}

	// 1. Identity gate. Failure withholds every spec field.
	if input.Identity.Certainty < PublishCertaintyThreshold {
		fail(models.ReasonIdentityMismatch,
			fmt.Sprintf("identity certainty %.3f below %.2f", input.Identity.Certainty, PublishCertaintyThreshold))
		outcome.Notes = append(outcome.Notes, ModelAmbiguityAlert)
		outcome.FieldsWithheld = true
	}

	// 2. Anchor gate. Only remaining MAJOR conflicts fail.
	outcome.AnchorConflicts = EvaluateAnchors(input.Config, input.Job.Anchors, input.Consensus.Fields)
	if HasMajor(outcome.AnchorConflicts) {
		for _, conflict := range outcome.AnchorConflicts {
			if conflict.Severity == AnchorMajor {
				fail(models.ReasonAnchorMajorConflict,
					fmt.Sprintf("anchor conflict on %s: expected %q, got %q", conflict.Field, conflict.Expected, conflict.Actual))
			}
		}
	}

	// 3. Constraint gate. flag_for_review contradictions surface but
	// never fail the stack; reject_candidate rules already ran at
	// consensus.

	// 4. Completeness gate
	if outcome.CompletenessRequired < input.TargetCompleteness {
		fail(models.ReasonCompletenessBelowTarget,
			fmt.Sprintf("required completeness %.2f below target %.2f", outcome.CompletenessRequired, input.TargetCompleteness))
	}

	// 5. Confidence gate
	if outcome.Confidence < input.TargetConfidence {
		fail(models.ReasonConfidenceBelowTarget,
			fmt.Sprintf("confidence %.2f below target %.2f", outcome.Confidence, input.TargetConfidence))
	}

	// 6. Critical-fields gate
	if len(input.Consensus.CriticalBelowPassTarget) > 0 {
		fail(models.ReasonCriticalFieldsBelowTarget,
			fmt.Sprintf("%d critical fields below pass target", len(input.Consensus.CriticalBelowPassTarget)))
	}

	if outcome.Reason == "" {
		outcome.Validated = true
		outcome.Reason = models.ReasonComplete
	}

	logger.Debug().
		Bool("validated", outcome.Validated).
		Str("reason", string(outcome.Reason)).
		Float64("completeness", outcome.CompletenessRequired).
		Float64("confidence", outcome.Confidence).
		Msg("Gate stack evaluated")

	return outcome
}

// requiredCompleteness is covered(requiredFields) / |requiredFields|
func requiredCompleteness(pack *rulepack.Pack, result *consensus.Result) float64 {
	required := pack.RequiredFields()
	if len(required) == 0 {
		return 1.0
	}
	covered := 0
	for _, field := range required {
		if provenance, ok := result.Fields[field]; ok && provenance.Value != models.UnknownValue && provenance.Value != "" {
			covered++
		}
	}
	return float64(covered) / float64(len(required))
}

// aggregateConfidence averages per-field confidence over required
// fields; unknown values contribute zero
func aggregateConfidence(pack *rulepack.Pack, result *consensus.Result) float64 {
	required := pack.RequiredFields()
	if len(required) == 0 {
		return 0
	}
	sum := 0.0
	for _, field := range required {
		if provenance, ok := result.Fields[field]; ok && provenance.Value != models.UnknownValue {
			sum += provenance.Confidence
		}
	}
	return sum / float64(len(required))
}

// MissingRequired lists required fields still unknown, in field order
func MissingRequired(pack *rulepack.Pack, result *consensus.Result) []string {
	var out []string
	for _, field := range pack.RequiredFields() {
		provenance, ok := result.Fields[field]
		if !ok || provenance.Value == models.UnknownValue || provenance.Value == "" {
			out = append(out, field)
		}
	}
	return out
}
