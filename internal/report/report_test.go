package report

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/specforge/internal/common"
	"github.com/ternarybob/specforge/internal/models"
	"github.com/ternarybob/specforge/internal/orchestrator"
)

func sampleResult() *orchestrator.RunResult {
	return &orchestrator.RunResult{
		Job: &models.Job{
			ProductID: "p-1",
			Category:  "gaming-mice",
			IdentityLock: models.IdentityLock{
				Brand: "Logitech",
				Model: "PRO X SUPERLIGHT",
			},
		},
		StopReason: "complete",
		Rounds:     2,
		Summary: &orchestrator.RoundSummary{
			Round:                1,
			Validated:            true,
			ValidatedReason:      models.ReasonComplete,
			Confidence:           0.91,
			CompletenessRequired: 1.0,
			FieldOrder:           []string{"brand", "weight", "sensor"},
			Provenance: map[string]models.FieldProvenance{
				"brand": {
					Value: "Logitech", ApprovedConfirmations: 2, PassTarget: 2, Confidence: 1.0,
					Traffic: &models.TrafficLight{Color: models.TrafficGreen},
				},
				"weight": {
					Value: "63", ApprovedConfirmations: 1, PassTarget: 1, Confidence: 0.82,
					Traffic: &models.TrafficLight{Color: models.TrafficYellow},
				},
				"sensor": {
					Value: models.UnknownValue, UnknownReason: "not_found_after_search",
				},
			},
			MissingRequiredFields: []string{"sensor"},
			Events:                []string{"expected_field_retry_override"},
		},
		Summaries: []*orchestrator.RoundSummary{
			{Round: 0, SourcesFetched: 2, SourcesIdentityMatched: 1, NewURLsSeen: 2, Confidence: 0.4},
			{Round: 1, SourcesFetched: 3, SourcesIdentityMatched: 2, NewURLsSeen: 1, NewFieldsFilled: 1, Confidence: 0.91},
		},
		Record: &models.NormalizedRecord{ID: "p-1"},
	}
}

func TestBuildSummaryMarkdown(t *testing.T) {
	markdown := BuildSummaryMarkdown(sampleResult())

	assert.True(t, strings.HasPrefix(markdown, "# Logitech PRO X SUPERLIGHT"))
	assert.Contains(t, markdown, "| true | complete | 0.91 | 1.00 | 2 | complete |")
	assert.Contains(t, markdown, "| brand | Logitech | green | 2/2 | 1.00 |")
	assert.Contains(t, markdown, "unk (not_found_after_search)")
	assert.Contains(t, markdown, "## Missing required fields")
	assert.Contains(t, markdown, "- sensor")
	assert.Contains(t, markdown, "## Rounds")
	assert.Contains(t, markdown, "- expected_field_retry_override")
}

func TestBuildSummaryMarkdownEscapesTableCells(t *testing.T) {
	result := sampleResult()
	provenance := result.Summary.Provenance["weight"]
	provenance.Value = "63 | 64"
	result.Summary.Provenance["weight"] = provenance

	markdown := BuildSummaryMarkdown(result)
	assert.Contains(t, markdown, `63 \| 64`)
}

func TestMarkdownToPDF(t *testing.T) {
	exporter := NewExporter(common.GetLogger())

	data, err := exporter.MarkdownToPDF(BuildSummaryMarkdown(sampleResult()))
	require.NoError(t, err)
	require.NotEmpty(t, data)
	assert.Equal(t, "%PDF", string(data[:4]))
}
