package gates

import (
	"math"
	"strconv"
	"strings"

	"github.com/ternarybob/specforge/internal/category"
	"github.com/ternarybob/specforge/internal/models"
)

// AnchorSeverity classifies how far an extracted value strays from a
// pre-known anchor
type AnchorSeverity string

const (
	AnchorMinor AnchorSeverity = "minor"
	AnchorMajor AnchorSeverity = "major"
)

// AnchorConflict is one field whose accepted value disagrees with its
// anchor
type AnchorConflict struct {
	Field    string         `json:"field"`
	Severity AnchorSeverity `json:"severity"`
	Expected string         `json:"expected"`
	Actual   string         `json:"actual"`
	Diff     float64        `json:"diff,omitempty"`
}

// EvaluateAnchors compares accepted field values against the job's
// anchors using the category's per-field comparison policy. Unknown
// values produce no conflict.
func EvaluateAnchors(cfg *category.Config, anchors map[string]string, fields map[string]models.FieldProvenance) []AnchorConflict {
	var conflicts []AnchorConflict
	for field, expected := range anchors {
		if expected == "" {
			continue
		}
		provenance, ok := fields[field]
		if !ok || provenance.Value == models.UnknownValue || provenance.Value == "" {
			continue
		}
		policy := cfg.AnchorPolicyFor(field)
		if conflict, conflicted := compareAnchor(policy, field, expected, provenance.Value); conflicted {
			conflicts = append(conflicts, conflict)
		}
	}
	return conflicts
}

// HasMajor reports whether any conflict in the list is major
func HasMajor(conflicts []AnchorConflict) bool {
	for _, conflict := range conflicts {
		if conflict.Severity == AnchorMajor {
			return true
		}
	}
	return false
}

func compareAnchor(policy category.AnchorPolicy, field, expected, actual string) (AnchorConflict, bool) {
	conflict := AnchorConflict{Field: field, Expected: expected, Actual: actual}

	switch policy.Compare {
	case "numeric":
		expectedNum, okE := firstNumber(expected)
		actualNum, okA := firstNumber(actual)
		if !okE || !okA {
			return exactCompare(conflict, expected, actual)
		}
		diff := math.Abs(actualNum - expectedNum)
		if diff == 0 {
			return conflict, false
		}
		conflict.Diff = diff
		conflict.Severity = AnchorMinor
		if diff > policy.MajorThreshold {
			conflict.Severity = AnchorMajor
		}
		return conflict, true

	case "list_max":
		expectedMax, okE := listMax(expected)
		actualMax, okA := listMax(actual)
		if !okE || !okA {
			return exactCompare(conflict, expected, actual)
		}
		if expectedMax == actualMax {
			return conflict, false
		}
		conflict.Diff = math.Abs(actualMax - expectedMax)
		conflict.Severity = AnchorMajor
		return conflict, true

	default: // exact
		return exactCompare(conflict, expected, actual)
	}
}

func exactCompare(conflict AnchorConflict, expected, actual string) (AnchorConflict, bool) {
	if squashCompare(expected) == squashCompare(actual) {
		return conflict, false
	}
	conflict.Severity = AnchorMajor
	return conflict, true
}

func squashCompare(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// firstNumber extracts the leading number from values like "63 g"
func firstNumber(value string) (float64, bool) {
	return parseLooseNumber(value)
}

// listMax returns the largest number found across list members, so
// "100-25600" and "up to 25,600 DPI" compare by their maxima
func listMax(value string) (float64, bool) {
	found := false
	best := 0.0
	// Comma stays out of the separator set so "25,600" survives intact
	for _, token := range strings.FieldsFunc(value, func(r rune) bool {
		return r == '/' || r == '|' || r == ';' || r == '-' || r == ' '
	}) {
		if numeric, ok := parseLooseNumber(token); ok {
			if !found || numeric > best {
				best = numeric
				found = true
			}
		}
	}
	return best, found
}

// parseLooseNumber extracts the first number from a string, tolerating
// units and thousands separators
func parseLooseNumber(value string) (float64, bool) {
	value = strings.TrimSpace(value)
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
