package rulepack

import (
	"sort"

	"github.com/ternarybob/specforge/internal/models"
)

// curatedRule is a category-specific rule emitted only when every
// triggering key is present in the compiled field set
type curatedRule struct {
	requires []string
	rule     models.CrossValidationRule
}

var curatedRules = []curatedRule{
	{
		requires: []string{"connectivity", "battery_life"},
		rule: models.CrossValidationRule{
			RuleID:        "wireless_requires_battery",
			Type:          "requires",
			TriggerField:  "connectivity",
			RequiresField: "battery_life",
			OnFail:        models.ActionFlagForReview,
			Note:          "wireless products without a battery figure need review",
		},
	},
	{
		requires: []string{"sensor", "dpi"},
		rule: models.CrossValidationRule{
			RuleID:        "sensor_dpi_consistency",
			Type:          "consistency",
			TriggerFields: []string{"sensor", "dpi"},
			OnFail:        models.ActionFlagForReview,
			Note:          "reported dpi must be achievable by the named sensor",
		},
	},
	{
		requires: []string{"length", "width", "height"},
		rule: models.CrossValidationRule{
			RuleID:        "dimensions_triplet_complete",
			Type:          "consistency",
			TriggerFields: []string{"length", "width", "height"},
			OnFail:        models.ActionFlagForReview,
			Note:          "partial dimension triplets suggest a mis-scraped table",
		},
	},
}

// BuildCrossValidation derives the cross-validation rule set: one range
// rule per field contract plus curated rules whose trigger keys all
// exist. Rules de-duplicate by rule_id.
func BuildCrossValidation(rules []models.FieldRule) *models.CrossValidationRules {
	present := make(map[string]bool, len(rules))
	for _, rule := range rules {
		present[rule.FieldKey] = true
	}

	byID := make(map[string]models.CrossValidationRule)

	for _, rule := range rules {
		if rule.Contract == nil || rule.Contract.Range == nil {
			continue
		}
		id := "range_" + rule.FieldKey
		byID[id] = models.CrossValidationRule{
			RuleID:       id,
			Type:         "range",
			TriggerField: rule.FieldKey,
			Min:          rule.Contract.Range.Min,
			Max:          rule.Contract.Range.Max,
			OnFail:       models.ActionRejectCandidate,
		}
	}

	for _, curated := range curatedRules {
		allPresent := true
		for _, key := range curated.requires {
			if !present[key] {
				allPresent = false
				break
			}
		}
		if allPresent {
			byID[curated.rule.RuleID] = curated.rule
		}
	}

	out := &models.CrossValidationRules{Rules: make([]models.CrossValidationRule, 0, len(byID))}
	ids := make([]string, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		out.Rules = append(out.Rules, byID[id])
	}
	return out
}
