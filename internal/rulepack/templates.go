package rulepack

import (
	"github.com/ternarybob/specforge/internal/models"
)

// templateLibrary is the built-in named pattern library. Workbook rows
// reference entries by name via parse.template.
var templateLibrary = map[string][]models.ParsePattern{
	"weight_grams": {
		{Regex: `(?i)(\d+(?:\.\d+)?)\s*g(?:rams?)?\b`, Group: 1, Unit: "g"},
		{Regex: `(?i)weight[:\s]+(\d+(?:\.\d+)?)`, Group: 1, Unit: "g"},
		{Regex: `(?i)(\d+(?:\.\d+)?)\s*oz\b`, Group: 1, Unit: "g", Convert: 28.3495},
	},
	"dpi_range": {
		{Regex: `(?i)(\d{2,3}(?:,\d{3})*)\s*[-–]\s*(\d{1,3}(?:,\d{3})+)\s*dpi`, Group: 0},
		{Regex: `(?i)up to\s+(\d{1,3}(?:,\d{3})+)\s*dpi`, Group: 1},
		{Regex: `(?i)(\d{3,6})\s*dpi`, Group: 1},
	},
	"hertz": {
		{Regex: `(?i)(\d{3,5})\s*hz`, Group: 1, Unit: "hz"},
		{Regex: `(?i)polling\s*rate[:\s]+(\d{3,5})`, Group: 1, Unit: "hz"},
	},
	"millimeters": {
		{Regex: `(?i)(\d+(?:\.\d+)?)\s*mm\b`, Group: 1, Unit: "mm"},
		{Regex: `(?i)(\d+(?:\.\d+)?)\s*cm\b`, Group: 1, Unit: "mm", Convert: 10},
		{Regex: `(?i)(\d+(?:\.\d+)?)\s*(?:in|inch(?:es)?)\b`, Group: 1, Unit: "mm", Convert: 25.4},
	},
	"battery_hours": {
		{Regex: `(?i)(\d+(?:\.\d+)?)\s*h(?:ou)?rs?\b`, Group: 1, Unit: "h"},
		{Regex: `(?i)battery(?:\s+life)?[:\s]+(?:up to\s+)?(\d+)`, Group: 1, Unit: "h"},
	},
	"milliamp_hours": {
		{Regex: `(?i)(\d{2,5})\s*mah`, Group: 1, Unit: "mah"},
	},
	"boolean_feature": {
		{Regex: `(?i)\b(yes|no|true|false|supported|unsupported)\b`, Group: 1},
	},
	"price_usd": {
		{Regex: `(?i)\$\s*(\d+(?:\.\d{2})?)`, Group: 1, Unit: "usd"},
		{Regex: `(?i)(\d+(?:\.\d{2})?)\s*usd`, Group: 1, Unit: "usd"},
	},
}

// singleRegexFallback returns a generic labelled-value pattern for a
// field, used when neither the rule nor the library defines patterns
func singleRegexFallback(rule models.FieldRule) []models.ParsePattern {
	label := rule.FieldKey
	pattern := `(?i)` + regexEscapeLoose(label) + `\s*[:=]\s*([^\n<,;]{1,80})`
	return []models.ParsePattern{{Regex: pattern, Group: 1}}
}

// regexEscapeLoose escapes a field key into a label pattern that also
// matches spaces and hyphens where the key has underscores
func regexEscapeLoose(key string) string {
	out := make([]rune, 0, len(key)*2)
	for _, r := range key {
		switch r {
		case '_':
			out = append(out, []rune(`[\s_-]+`)...)
		case '.', '+', '*', '?', '(', ')', '[', ']', '{', '}', '^', '$', '|', '\\':
			out = append(out, '\\', r)
		default:
			out = append(out, r)
		}
	}
	return string(out)
}

// BuildParseTemplates compiles each field's pattern set: explicit rule
// patterns, then the named library template, then single-regex fallbacks.
// Duplicate regexes are dropped first-wins.
func BuildParseTemplates(rules []models.FieldRule) *models.ParseTemplates {
	out := &models.ParseTemplates{Templates: make(map[string]models.TemplateEntry, len(rules))}

	for _, rule := range rules {
		var patterns []models.ParsePattern
		unit := ""

		if rule.Parse != nil {
			patterns = append(patterns, rule.Parse.Patterns...)
			unit = rule.Parse.Unit
			if library, ok := templateLibrary[rule.Parse.Template]; ok {
				patterns = append(patterns, library...)
			}
		}
		if len(patterns) == 0 {
			patterns = singleRegexFallback(rule)
		}
		if unit == "" {
			unit = rule.Unit
		}

		seen := make(map[string]bool, len(patterns))
		deduped := make([]models.ParsePattern, 0, len(patterns))
		for _, p := range patterns {
			if p.Regex == "" || seen[p.Regex] {
				continue
			}
			if p.Group <= 0 {
				p.Group = 1
			}
			seen[p.Regex] = true
			deduped = append(deduped, p)
		}

		out.Templates[rule.FieldKey] = models.TemplateEntry{
			Field:    rule.FieldKey,
			Patterns: deduped,
			Unit:     unit,
		}
	}

	return out
}
