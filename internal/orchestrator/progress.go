package orchestrator

import (
	"fmt"

	"github.com/ternarybob/specforge/internal/common"
	"github.com/ternarybob/specforge/internal/gates"
	"github.com/ternarybob/specforge/internal/models"
)

// Stop reasons, in evaluation order
const (
	StopComplete           = "complete"
	StopBudgetExhausted    = "budget_exhausted"
	StopMaxRounds          = "max_rounds_reached"
	StopIdentityStuck      = "identity_gate_stuck"
	StopRepeatedLowQuality = "repeated_low_quality"
	StopSearchExhausted    = "required_search_exhausted_no_new_urls_or_fields"
)

// identityStuckDelta is the minimum certainty improvement that counts as
// identity progress
const identityStuckDelta = 0.05

// lowQualityConfidence marks a round as low quality even when some
// sources matched identity
const lowQualityConfidence = 0.2

// convergence tracks cross-round state the stop rules depend on
type convergence struct {
	noProgressRounds    int
	lowQualityRounds    int
	identityStuckRounds int
	lastIdentity        float64
	retryOverrideFired  bool
}

// observe folds one finished round into the convergence counters
func (c *convergence) observe(prev, cur *RoundSummary) {
	if hasProgress(prev, cur) {
		c.noProgressRounds = 0
	} else {
		c.noProgressRounds++
	}

	if cur.SourcesIdentityMatched == 0 || cur.Confidence < lowQualityConfidence {
		c.lowQualityRounds++
	} else {
		c.lowQualityRounds = 0
	}

	certainty := cur.IdentityContext.Certainty
	if certainty < gates.PublishCertaintyThreshold && certainty-c.lastIdentity < identityStuckDelta {
		c.identityStuckRounds++
	} else {
		c.identityStuckRounds = 0
	}
	c.lastIdentity = certainty
}

// hasProgress reports whether the round moved the record forward: a
// validation flip, fewer missing required fields, fewer critical
// shortfalls, fewer contradictions, or a real confidence gain.
func hasProgress(prev, cur *RoundSummary) bool {
	if prev == nil {
		return true
	}
	if cur.Validated && !prev.Validated {
		return true
	}
	if len(cur.MissingRequiredFields) < len(prev.MissingRequiredFields) {
		return true
	}
	if len(cur.CriticalFieldsBelowPassTarget) < len(prev.CriticalFieldsBelowPassTarget) {
		return true
	}
	if len(cur.Contradictions) < len(prev.Contradictions) {
		return true
	}
	if cur.Confidence-prev.Confidence > 0.01 {
		return true
	}
	return false
}

// evaluateStop applies the ordered stop rules after a round. The empty
// reason means the loop continues.
func evaluateStop(runtime common.RuntimeConfig, cur *RoundSummary, state *convergence, llmExhausted bool) string {
	if cur.Validated && len(cur.MissingRequiredFields) == 0 && len(cur.CriticalFieldsBelowPassTarget) == 0 {
		return StopComplete
	}
	if llmExhausted && cur.Round >= 1 && len(cur.MissingRequiredFields) > 0 {
		return StopBudgetExhausted
	}
	if cur.Round+1 >= runtime.MaxRounds {
		return StopMaxRounds
	}
	if cur.IdentityContext.Certainty < gates.PublishCertaintyThreshold && state.identityStuckRounds >= runtime.NoProgressRounds {
		return StopIdentityStuck
	}
	if state.noProgressRounds >= runtime.NoProgressRounds {
		return fmt.Sprintf("no_progress_%d_rounds", runtime.NoProgressRounds)
	}
	if state.lowQualityRounds >= runtime.MaxLowQualityRounds {
		return StopRepeatedLowQuality
	}
	if cur.Round >= 1 && cur.NewURLsSeen == 0 && cur.NewFieldsFilled == 0 && len(cur.MissingRequiredFields) > 0 {
		return StopSearchExhausted
	}
	return ""
}

// retryOverride grants one extra round when a stop would abandon
// expected-availability required fields that search simply has not
// reached yet. It fires at most once per run.
func (c *convergence) retryOverride(reason string, cur *RoundSummary) bool {
	if c.retryOverrideFired || reason == "" || reason == StopComplete || reason == StopBudgetExhausted || reason == StopMaxRounds {
		return false
	}
	for _, field := range cur.MissingRequiredFields {
		provenance, ok := cur.Provenance[field]
		if ok && provenance.UnknownReason == models.UnknownReasonNotFoundAfterSearch {
			c.retryOverrideFired = true
			return true
		}
	}
	return false
}
