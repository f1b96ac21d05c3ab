package evidence

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/specforge/internal/common"
	"github.com/ternarybob/specforge/internal/interfaces"
	"github.com/ternarybob/specforge/internal/llm"
	"github.com/ternarybob/specforge/internal/models"
	"github.com/ternarybob/specforge/internal/rulepack"
)

func floatPtr(v float64) *float64 { return &v }

func testRulePack() *rulepack.Pack {
	fields := map[string]models.FieldRule{
		"brand": {FieldKey: "brand", DisplayName: "Brand", DataType: models.DataTypeString,
			RequiredLevel: models.RequiredLevelCritical, EvidenceRequired: true, MinEvidenceRefs: 2},
		"weight": {FieldKey: "weight", DisplayName: "Weight", DataType: models.DataTypeNumber, Unit: "g",
			RequiredLevel: models.RequiredLevelRequired,
			Contract:      &models.Contract{Range: &models.RangeContract{Min: floatPtr(20), Max: floatPtr(250)}}},
		"connection_type": {FieldKey: "connection_type", DisplayName: "Connection", DataType: models.DataTypeEnum,
			RequiredLevel: models.RequiredLevelOptional},
		"sensor": {FieldKey: "sensor", DisplayName: "Sensor", DataType: models.DataTypeString,
			RequiredLevel: models.RequiredLevelExpected, AIMaxCalls: 1},
		"rgb_zones": {FieldKey: "rgb_zones", DisplayName: "RGB Zones", DataType: models.DataTypeNumber,
			RequiredLevel: models.RequiredLevelOptional, AIMode: "disabled"},
	}
	return &rulepack.Pack{
		Category: "gaming_mice",
		Rules: &rulepack.FieldRulesDoc{
			Category:   "gaming_mice",
			FieldOrder: []string{"brand", "weight", "connection_type", "sensor", "rgb_zones"},
			Fields:     fields,
		},
		KnownValues: &models.KnownValues{Enums: map[string]models.EnumValues{
			"connection_type": {Policy: "closed", Values: []string{"wired", "wireless", "dual"}},
		}},
		CrossRules: &models.CrossValidationRules{Rules: []models.CrossValidationRule{
			{RuleID: "weight_range", Type: "range", TriggerField: "weight",
				Min: floatPtr(20), Max: floatPtr(250), OnFail: models.ActionRejectCandidate},
		}},
	}
}

func testJob() *models.Job {
	return &models.Job{
		ProductID: "p1",
		Category:  "gaming_mice",
		IdentityLock: models.IdentityLock{
			Brand: "Logitech",
			Model: "PRO X SUPERLIGHT",
		},
	}
}

func testPages() []SourcedPage {
	return []SourcedPage{
		{
			Source: models.Source{URL: "https://logitechg.com/specs", Host: "logitechg.com", Tier: models.TierManufacturer},
			Page:   &models.PageData{HTML: "<html><body><h1>PRO X SUPERLIGHT</h1><p>Weight: 63 g</p></body></html>"},
		},
		{
			Source: models.Source{URL: "https://logitechg.com/support", Host: "logitechg.com", Tier: models.TierManufacturer},
			Page:   &models.PageData{HTML: "<html><body><p>Support page</p></body></html>"},
		},
		{
			Source: models.Source{URL: "https://rtings.com/review", Host: "rtings.com", Tier: models.TierLab},
			Page:   &models.PageData{HTML: "<html><body><p>Measured weight 62.8 g</p></body></html>"},
		},
	}
}

func TestBuildIncludesContractSlices(t *testing.T) {
	builder := NewBuilder(testRulePack(), common.GetLogger())
	pack := builder.Build(testJob(), []string{"weight", "connection_type"}, testPages(), nil)

	require.Len(t, pack.Fields, 2)

	weight := pack.Fields[0]
	assert.Equal(t, "weight", weight.Field)
	assert.Equal(t, models.DataTypeNumber, weight.DataType)
	assert.Equal(t, "g", weight.Unit)
	require.NotNil(t, weight.Range)
	assert.Equal(t, 20.0, *weight.Range.Min)
	require.Len(t, weight.Constraints, 1, "high-stakes fields carry full constraint slices")
	assert.Equal(t, "weight_range", weight.Constraints[0].RuleID)

	conn := pack.Fields[1]
	assert.Equal(t, []string{"wired", "wireless", "dual"}, conn.EnumOptions)
	assert.Empty(t, conn.Constraints, "low-stakes fields omit constraint slices")
}

func TestBuildSnippetsAreMarkdownAcrossDistinctHosts(t *testing.T) {
	builder := NewBuilder(testRulePack(), common.GetLogger())
	pack := builder.Build(testJob(), []string{"weight"}, testPages(), nil)

	require.Len(t, pack.Snippets, 2, "one snippet per host")
	hosts := []string{pack.Snippets[0].Host, pack.Snippets[1].Host}
	assert.Equal(t, []string{"logitechg.com", "rtings.com"}, hosts, "manufacturer tier first")

	for _, snippet := range pack.Snippets {
		assert.NotContains(t, snippet.Markdown, "<body", "raw HTML never enters a pack")
		assert.NotContains(t, snippet.Markdown, "<p>")
	}
	assert.Contains(t, pack.Snippets[0].Markdown, "Weight: 63 g")
}

func TestBuildLowStakesOmitsSnippets(t *testing.T) {
	builder := NewBuilder(testRulePack(), common.GetLogger())
	pack := builder.Build(testJob(), []string{"connection_type"}, testPages(), nil)
	assert.Empty(t, pack.Snippets, "snippets are sent only for high-stakes fields")
	assert.Empty(t, pack.State)
}

func TestBuildStateSliceWhenRepairing(t *testing.T) {
	builder := NewBuilder(testRulePack(), common.GetLogger())
	state := map[string]models.FieldProvenance{
		"weight": {
			Value:      "63",
			Confidence: 0.62,
			Evidence:   []models.EvidenceRow{{Tier: models.TierManufacturer, Method: models.MethodDOM}},
		},
		"sensor": {Value: models.UnknownValue},
	}
	pack := builder.Build(testJob(), []string{"weight", "sensor"}, testPages(), state)

	require.Contains(t, pack.State, "weight")
	assert.Equal(t, "63", pack.State["weight"].Value)
	assert.Equal(t, 1, pack.State["weight"].EvidenceCount)
	assert.NotContains(t, pack.State, "sensor", "unk values are not repair state")
}

func TestBudgetFilterAndExhaustion(t *testing.T) {
	budget := NewBudget(testRulePack(), 3, 10)

	// rgb_zones is ai_mode disabled, sensor has ai_max_calls 1
	allowed, excluded, events := budget.FilterTargets([]string{"weight", "sensor", "rgb_zones"})
	assert.Equal(t, []string{"weight", "sensor"}, allowed)
	assert.Equal(t, []string{"rgb_zones"}, excluded)
	assert.Equal(t, []string{"ai_budget_exhausted:rgb_zones"}, events)

	require.True(t, budget.Consume(allowed))
	assert.Equal(t, 0, budget.Remaining("sensor"))
	assert.Equal(t, 2, budget.Remaining("weight"))

	_, excluded, events = budget.FilterTargets([]string{"weight", "sensor", "rgb_zones"})
	assert.Equal(t, []string{"sensor", "rgb_zones"}, excluded)
	assert.Equal(t, []string{"ai_budget_exhausted:sensor"}, events, "exhaustion is reported once per field")
}

func TestBudgetRunCap(t *testing.T) {
	budget := NewBudget(testRulePack(), 5, 1)
	require.True(t, budget.Consume([]string{"weight"}))
	assert.False(t, budget.Consume([]string{"weight"}))

	allowed, excluded, _ := budget.FilterTargets([]string{"weight"})
	assert.Empty(t, allowed)
	assert.Equal(t, []string{"weight"}, excluded, "run cap excludes everything")
}

func TestBuildRequestTierSelection(t *testing.T) {
	fast, err := BuildRequest(&Pack{Category: "gaming_mice"})
	require.NoError(t, err)
	assert.Equal(t, interfaces.TierFast, fast.ModelTier)

	deep, err := BuildRequest(&Pack{Category: "gaming_mice", Snippets: []Snippet{{Host: "a"}}})
	require.NoError(t, err)
	assert.Equal(t, interfaces.TierDeep, deep.ModelTier)
	require.Len(t, deep.Messages, 2)
	assert.Equal(t, "system", deep.Messages[0].Role)
	assert.True(t, strings.Contains(deep.Messages[1].Content, `"category": "gaming_mice"`))
}

func TestRunnerExtractWithOfflineProvider(t *testing.T) {
	scripted := &interfaces.LLMResult{
		Candidates: []models.Candidate{
			{Field: "weight", Value: "63", Method: models.MethodLLMExtract, Quote: "Weight: 63 g"},
		},
	}
	service := llm.NewOfflineService(common.GetLogger(), scripted)
	rules := testRulePack()
	runner := NewRunner(service, NewBuilder(rules, common.GetLogger()), NewBudget(rules, 3, 10), common.GetLogger())

	result, events, err := runner.Extract(context.Background(), testJob(), []string{"weight", "rgb_zones"}, testPages(), nil)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Len(t, result.Candidates, 1)
	assert.Equal(t, []string{"ai_budget_exhausted:rgb_zones"}, events)
	assert.Equal(t, 1, service.CallCount())
	assert.Equal(t, interfaces.TierDeep, service.Requests[0].ModelTier, "weight is high stakes, snippets force deep tier")
}

func TestRunnerExtractNothingCallable(t *testing.T) {
	service := llm.NewOfflineService(common.GetLogger())
	rules := testRulePack()
	runner := NewRunner(service, NewBuilder(rules, common.GetLogger()), NewBudget(rules, 3, 10), common.GetLogger())

	result, events, err := runner.Extract(context.Background(), testJob(), []string{"rgb_zones"}, nil, nil)
	require.NoError(t, err)
	assert.Nil(t, result)
	assert.Len(t, events, 1)
	assert.Equal(t, 0, service.CallCount())
}
