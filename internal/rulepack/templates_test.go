package rulepack

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/specforge/internal/models"
)

func TestBuildParseTemplatesLibraryMerge(t *testing.T) {
	rules := []models.FieldRule{
		{
			FieldKey: "weight",
			Unit:     "g",
			Parse: &models.ParseSpec{
				Template: "weight_grams",
				Patterns: []models.ParsePattern{{Regex: `(\d+) grammes`, Group: 1}},
			},
		},
	}
	out := BuildParseTemplates(rules)

	entry := out.Templates["weight"]
	require.NotEmpty(t, entry.Patterns)
	// Explicit rule pattern comes first, library patterns follow
	assert.Equal(t, `(\d+) grammes`, entry.Patterns[0].Regex)
	assert.Greater(t, len(entry.Patterns), 1, "library template should contribute patterns")
	assert.Equal(t, "g", entry.Unit)
}

func TestBuildParseTemplatesFallback(t *testing.T) {
	rules := []models.FieldRule{{FieldKey: "polling_rate"}}
	out := BuildParseTemplates(rules)

	entry := out.Templates["polling_rate"]
	require.Len(t, entry.Patterns, 1)

	re, err := regexp.Compile(entry.Patterns[0].Regex)
	require.NoError(t, err)

	// The loose label pattern matches underscore, space, and hyphen forms
	for _, line := range []string{
		"polling_rate: 8000",
		"Polling Rate: 8000",
		"polling-rate = 8000",
	} {
		match := re.FindStringSubmatch(line)
		require.NotNil(t, match, "pattern should match %q", line)
		assert.Equal(t, "8000", match[1])
	}
}

func TestBuildParseTemplatesDedupesPatterns(t *testing.T) {
	rules := []models.FieldRule{
		{
			FieldKey: "height",
			Parse: &models.ParseSpec{
				Patterns: []models.ParsePattern{
					{Regex: `(\d+)\s*mm`, Group: 1},
					{Regex: `(\d+)\s*mm`, Group: 2}, // duplicate regex, dropped
				},
			},
		},
	}
	out := BuildParseTemplates(rules)

	entry := out.Templates["height"]
	require.Len(t, entry.Patterns, 1)
	assert.Equal(t, 1, entry.Patterns[0].Group, "first occurrence wins")
}

func TestTemplateLibraryPatternsCompileAndConvert(t *testing.T) {
	for name, patterns := range templateLibrary {
		for _, pattern := range patterns {
			_, err := regexp.Compile(pattern.Regex)
			assert.NoError(t, err, "library template %s has invalid regex %q", name, pattern.Regex)
		}
	}

	// The oz conversion pattern should capture the numeric part
	var ozPattern *models.ParsePattern
	for i, p := range templateLibrary["weight_grams"] {
		if p.Convert > 28 && p.Convert < 29 {
			ozPattern = &templateLibrary["weight_grams"][i]
		}
	}
	require.NotNil(t, ozPattern)
	re := regexp.MustCompile(ozPattern.Regex)
	match := re.FindStringSubmatch("Weight: 2.1 oz")
	require.NotNil(t, match)
	assert.Equal(t, "2.1", match[ozPattern.Group])
}
