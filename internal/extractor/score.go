package extractor

import (
	"strconv"
	"strings"

	"github.com/ternarybob/specforge/internal/models"
)

// Scoring weights per candidate:
//   score = 10·methodPriority + keyPathAffinity + numericAffinity + plausibilityBoost
const (
	keyPathExactBonus   = 4.0
	keyPathPartialBonus = 2.0
	numericMatchBonus   = 2.0
	numericMismatch     = -4.0
	plausibleBonus      = 2.0
	implausiblePenalty  = -6.0
)

// Score computes the ranking score used when reducing candidates to a
// per-source field map. Pure function of the candidate and its rule.
func (e *Extractor) Score(candidate models.Candidate) float64 {
	score := 10.0 * float64(models.MethodPriority(candidate.Method))
	rule, hasRule := e.pack.Rules.Fields[candidate.Field]

	score += keyPathAffinity(candidate.Field, candidate.KeyPath)
	if hasRule {
		score += numericAffinity(rule, candidate.Value)
		score += plausibilityBoost(rule, candidate.Value)
	}
	return score
}

// keyPathAffinity rewards key paths whose tail names the field
func keyPathAffinity(field, keyPath string) float64 {
	if keyPath == "" {
		return 0
	}
	normalized := models.NormalizeFieldKey(lastPathSegment(keyPath))
	switch {
	case normalized == field:
		return keyPathExactBonus
	case strings.Contains(normalized, field) || strings.Contains(field, normalized):
		return keyPathPartialBonus
	}
	return 0
}

func lastPathSegment(keyPath string) string {
	// Strip prefix ("url:" or "blob:") then take the last dotted segment
	if idx := strings.LastIndex(keyPath, ":"); idx >= 0 {
		keyPath = keyPath[idx+1:]
	}
	if idx := strings.LastIndex(keyPath, "."); idx >= 0 {
		keyPath = keyPath[idx+1:]
	}
	if idx := strings.Index(keyPath, "["); idx >= 0 {
		keyPath = keyPath[:idx]
	}
	return keyPath
}

// numericAffinity checks value shape against the rule's data type
func numericAffinity(rule models.FieldRule, value string) float64 {
	if rule.DataType != models.DataTypeNumber {
		return 0
	}
	if _, ok := parseLooseNumber(value); ok {
		return numericMatchBonus
	}
	return numericMismatch
}

// plausibilityBoost applies the rule's range contract to numeric values
func plausibilityBoost(rule models.FieldRule, value string) float64 {
	if rule.Contract == nil || rule.Contract.Range == nil {
		return 0
	}
	numeric, ok := parseLooseNumber(value)
	if !ok {
		return 0
	}
	r := rule.Contract.Range
	if r.Min != nil && numeric < *r.Min {
		return implausiblePenalty
	}
	if r.Max != nil && numeric > *r.Max {
		return implausiblePenalty
	}
	return plausibleBonus
}

// parseLooseNumber extracts a float from values like "63", "63 g",
// "25,600", "100-25600" (first number wins)
func parseLooseNumber(value string) (float64, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	start := -1
	end := len(value)
	for i, r := range value {
		isNumeric := (r >= '0' && r <= '9') || r == '.' || r == ','
		if start < 0 {
			if isNumeric {
				start = i
			}
			continue
		}
		if !isNumeric {
			end = i
			break
		}
	}
	if start < 0 {
		return 0, false
	}
	numeric, err := strconv.ParseFloat(strings.ReplaceAll(value[start:end], ",", ""), 64)
	if err != nil {
		return 0, false
	}
	return numeric, true
}
