package consensus

import (
	"strconv"
	"strings"

	"github.com/ternarybob/specforge/internal/models"
)

// NormalizeValue reduces a raw candidate value to the comparison form
// used for grouping. Equal normalized forms are treated as the same
// proposed value.
func NormalizeValue(rule models.FieldRule, raw string) string {
	value := strings.TrimSpace(raw)
	if value == "" {
		return ""
	}

	switch rule.DataType {
	case models.DataTypeNumber:
		if numeric, ok := parseLooseNumber(value); ok {
			if postProcess(rule) == "round_int" {
				return strconv.FormatInt(int64(numeric+0.5), 10)
			}
			return strconv.FormatFloat(numeric, 'f', -1, 64)
		}
		return strings.ToLower(value)
	case models.DataTypeBoolean:
		switch strings.ToLower(value) {
		case "yes", "true", "supported", "1":
			return "true"
		case "no", "false", "unsupported", "0":
			return "false"
		}
		return strings.ToLower(value)
	case models.DataTypeURL:
		return strings.TrimRight(strings.ToLower(value), "/")
	default:
		normalized := strings.ToLower(value)
		normalized = strings.Join(strings.Fields(normalized), " ")
		if postProcess(rule) == "lowercase" {
			return normalized
		}
		return normalized
	}
}

func postProcess(rule models.FieldRule) string {
	if rule.Parse == nil {
		return ""
	}
	return rule.Parse.PostProcess
}

// SplitListValue breaks a list-shaped raw value into member tokens
func SplitListValue(raw string) []string {
	parts := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == ';' || r == '/' || r == '|'
	})
	var out []string
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// parseLooseNumber extracts the first number from values like "63 g",
// "25,600", "100-25600"
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
