package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/specforge/internal/common"
	"github.com/ternarybob/specforge/internal/interfaces"
	"github.com/ternarybob/specforge/internal/models"
)

func TestParseExtractionReplyBareJSON(t *testing.T) {
	result, err := ParseExtractionReply(`{
		"candidates": [
			{"field": "weight", "value": "63", "quote": "Weight: 63 g"},
			{"field": "sensor", "value": "HERO 25K", "quote": "HERO 25K sensor", "key_path": "specs.sensor"}
		],
		"conflicts": ["weight differs between table and footnote"],
		"notes": ["spec table covers the wireless variant"]
	}`)
	require.NoError(t, err)
	require.Len(t, result.Candidates, 2)
	assert.Equal(t, "weight", result.Candidates[0].Field)
	assert.Equal(t, models.MethodLLMExtract, result.Candidates[0].Method)
	assert.Equal(t, "specs.sensor", result.Candidates[1].KeyPath)
	assert.Len(t, result.Conflicts, 1)
	assert.Len(t, result.Notes, 1)
}

func TestParseExtractionReplyMarkdownFenced(t *testing.T) {
	result, err := ParseExtractionReply("```json\n" +
		`{"candidates": [{"field": "brand", "value": "Logitech", "quote": "by Logitech"}]}` +
		"\n```")
	require.NoError(t, err)
	require.Len(t, result.Candidates, 1)
	assert.Equal(t, "Logitech", result.Candidates[0].Value)
}

func TestParseExtractionReplySurroundingProse(t *testing.T) {
	result, err := ParseExtractionReply(
		`Here is the extraction: {"candidates": [{"field": "dpi", "value": "25600", "quote": "up to 25,600 DPI"}]} Let me know if you need more.`)
	require.NoError(t, err)
	require.Len(t, result.Candidates, 1)
	assert.Equal(t, "25600", result.Candidates[0].Value)
}

func TestParseExtractionReplyBracesInsideStrings(t *testing.T) {
	result, err := ParseExtractionReply(
		`{"candidates": [{"field": "notes", "value": "uses {braces}", "quote": "config {braces} here"}]}`)
	require.NoError(t, err)
	require.Len(t, result.Candidates, 1)
}

func TestParseExtractionReplyDropsUnquotedCandidates(t *testing.T) {
	result, err := ParseExtractionReply(`{"candidates": [
		{"field": "weight", "value": "63", "quote": "Weight: 63 g"},
		{"field": "sensor", "value": "HERO 25K", "quote": ""},
		{"field": "", "value": "x", "quote": "x"}
	]}`)
	require.NoError(t, err)
	require.Len(t, result.Candidates, 1, "candidates without a verbatim quote are dropped")
	assert.Equal(t, "weight", result.Candidates[0].Field)
}

func TestParseExtractionReplyNoJSON(t *testing.T) {
	_, err := ParseExtractionReply("I could not find any specifications on this page.")
	assert.Error(t, err)
}

func TestOfflineServiceReplaysScript(t *testing.T) {
	scripted := &interfaces.LLMResult{
		Candidates: []models.Candidate{{Field: "weight", Value: "63", Method: models.MethodLLMExtract}},
	}
	service := NewOfflineService(common.GetLogger(), scripted)

	first, err := service.Extract(context.Background(), &interfaces.LLMRequest{ModelTier: interfaces.TierFast})
	require.NoError(t, err)
	assert.Len(t, first.Candidates, 1)

	second, err := service.Extract(context.Background(), &interfaces.LLMRequest{ModelTier: interfaces.TierDeep})
	require.NoError(t, err)
	assert.Empty(t, second.Candidates, "exhausted script returns empty results")

	assert.Equal(t, 2, service.CallCount())
	assert.Equal(t, interfaces.TierDeep, service.Requests[1].ModelTier)
}

func TestFactoryOfflineMode(t *testing.T) {
	service, err := NewService(context.Background(), &common.LLMConfig{Offline: true}, common.GetLogger())
	require.NoError(t, err)
	_, ok := service.(*OfflineService)
	assert.True(t, ok)
}

func TestRetryBackoffUsesAPIDelay(t *testing.T) {
	config := NewDefaultRetryConfig()

	assert.Equal(t, config.InitialBackoff, config.CalculateBackoff(0, 0))

	withDelay := config.CalculateBackoff(0, 45*1e9)
	assert.Equal(t, int64(50*1e9), int64(withDelay), "API delay plus five second buffer")

	capped := config.CalculateBackoff(10, 0)
	assert.Equal(t, config.MaxBackoff, capped)
}

func TestIsRateLimitError(t *testing.T) {
	assert.False(t, IsRateLimitError(nil))
	assert.True(t, IsRateLimitError(errString("Error 429, Message: quota exceeded")))
	assert.True(t, IsRateLimitError(errString("RESOURCE_EXHAUSTED")))
	assert.False(t, IsRateLimitError(errString("connection refused")))
}

type errString string

func (e errString) Error() string { return string(e) }
