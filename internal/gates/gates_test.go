package gates

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/specforge/internal/category"
	"github.com/ternarybob/specforge/internal/common"
	"github.com/ternarybob/specforge/internal/consensus"
	"github.com/ternarybob/specforge/internal/models"
	"github.com/ternarybob/specforge/internal/rulepack"
)

func testPack() *rulepack.Pack {
	fields := map[string]models.FieldRule{
		"brand":  {FieldKey: "brand", DataType: models.DataTypeString, RequiredLevel: models.RequiredLevelCritical},
		"model":  {FieldKey: "model", DataType: models.DataTypeString, RequiredLevel: models.RequiredLevelCritical},
		"weight": {FieldKey: "weight", DataType: models.DataTypeNumber, RequiredLevel: models.RequiredLevelRequired},
		"sensor": {FieldKey: "sensor", DataType: models.DataTypeString, RequiredLevel: models.RequiredLevelOptional},
	}
	return &rulepack.Pack{
		Category: "gaming_mice",
		Rules: &rulepack.FieldRulesDoc{
			Category:   "gaming_mice",
			FieldOrder: []string{"brand", "model", "weight", "sensor"},
			Fields:     fields,
		},
	}
}

func testConfig() *category.Config {
	return &category.Config{
		Category: "gaming_mice",
		Anchors: map[string]category.AnchorPolicy{
			"weight":       {Compare: "numeric", MinorThreshold: 2, MajorThreshold: 2, Unit: "g"},
			"dpi":          {Compare: "list_max"},
			"polling_rate": {Compare: "list_max"},
			"sensor":       {Compare: "exact"},
		},
	}
}

func goodConsensus() *consensus.Result {
	return &consensus.Result{
		Fields: map[string]models.FieldProvenance{
			"brand":  {Value: "Logitech", Confidence: 0.95, MeetsPassTarget: true},
			"model":  {Value: "PRO X SUPERLIGHT", Confidence: 0.95, MeetsPassTarget: true},
			"weight": {Value: "63", Confidence: 0.9, MeetsPassTarget: true},
			"sensor": {Value: "HERO 25K", Confidence: 0.8, MeetsPassTarget: true},
		},
	}
}

func baseInput(result *consensus.Result) Input {
	return Input{
		Pack:               testPack(),
		Config:             testConfig(),
		Job:                &models.Job{Category: "gaming_mice", IdentityLock: models.IdentityLock{Brand: "Logitech", Model: "PRO X SUPERLIGHT"}},
		Consensus:          result,
		Identity:           IdentityResult{Certainty: 1.0},
		TargetCompleteness: 0.9,
		TargetConfidence:   0.75,
	}
}

func TestGateStackPasses(t *testing.T) {
	outcome := Evaluate(baseInput(goodConsensus()), common.GetLogger())

	assert.True(t, outcome.Validated)
	assert.Equal(t, models.ReasonComplete, outcome.Reason)
	assert.Empty(t, outcome.Reasons)
	assert.False(t, outcome.FieldsWithheld)
	assert.InDelta(t, 1.0, outcome.CompletenessRequired, 1e-9)
}

func TestIdentityGateFailureWithholdsFields(t *testing.T) {
	input := baseInput(goodConsensus())
	input.Identity = IdentityResult{Certainty: 0.7}
	outcome := Evaluate(input, common.GetLogger())

	assert.False(t, outcome.Validated)
	assert.Equal(t, models.ReasonIdentityMismatch, outcome.Reason)
	assert.Contains(t, outcome.Notes, ModelAmbiguityAlert)
	assert.True(t, outcome.FieldsWithheld)
}

func TestAnchorGateMajorConflict(t *testing.T) {
	input := baseInput(goodConsensus())
	input.Job.Anchors = map[string]string{"weight": "80"}
	outcome := Evaluate(input, common.GetLogger())

	assert.False(t, outcome.Validated)
	assert.Equal(t, models.ReasonAnchorMajorConflict, outcome.Reason)
	require.Len(t, outcome.AnchorConflicts, 1)
	assert.Equal(t, AnchorMajor, outcome.AnchorConflicts[0].Severity)
}

func TestAnchorGateMinorConflictPasses(t *testing.T) {
	input := baseInput(goodConsensus())
	input.Job.Anchors = map[string]string{"weight": "64"}
	outcome := Evaluate(input, common.GetLogger())

	assert.True(t, outcome.Validated, "a 1 g difference is a minor conflict")
	require.Len(t, outcome.AnchorConflicts, 1)
	assert.Equal(t, AnchorMinor, outcome.AnchorConflicts[0].Severity)
}

func TestCompletenessGate(t *testing.T) {
	result := goodConsensus()
	entry := result.Fields["weight"]
	entry.Value = models.UnknownValue
	entry.Confidence = 0
	result.Fields["weight"] = entry

	outcome := Evaluate(baseInput(result), common.GetLogger())
	assert.False(t, outcome.Validated)
	assert.Equal(t, models.ReasonCompletenessBelowTarget, outcome.Reason)
	assert.InDelta(t, 2.0/3.0, outcome.CompletenessRequired, 1e-9)
}

func TestCriticalGateAndReasonOrdering(t *testing.T) {
	result := goodConsensus()
	result.CriticalBelowPassTarget = []string{"brand"}

	// Critical failure alone
	outcome := Evaluate(baseInput(result), common.GetLogger())
	assert.Equal(t, models.ReasonCriticalFieldsBelowTarget, outcome.Reason)

	// With an identity failure too, identity supplies the terminal reason
	// but both failures are enumerated
	input := baseInput(result)
	input.Identity = IdentityResult{Certainty: 0.5}
	outcome = Evaluate(input, common.GetLogger())
	assert.Equal(t, models.ReasonIdentityMismatch, outcome.Reason)
	assert.GreaterOrEqual(t, len(outcome.Reasons), 2)
}

func TestConfidenceGate(t *testing.T) {
	result := goodConsensus()
	for key, entry := range result.Fields {
		entry.Confidence = 0.3
		result.Fields[key] = entry
	}
	outcome := Evaluate(baseInput(result), common.GetLogger())
	assert.Equal(t, models.ReasonConfidenceBelowTarget, outcome.Reason)
}

func TestEvaluateIdentityFullMatch(t *testing.T) {
	lock := models.IdentityLock{Brand: "Logitech", Model: "PRO X SUPERLIGHT"}
	evidence := []IdentityEvidence{
		{
			Source: models.Source{URL: "https://logitechg.com/p", ApprovedDomain: true},
			Page: &models.PageData{
				Title:    "Logitech G PRO X SUPERLIGHT Wireless Gaming Mouse",
				FinalURL: "https://logitechg.com/pro-x-superlight",
				HTML:     "<html>specs</html>",
			},
		},
	}
	result := EvaluateIdentity(lock, evidence)
	assert.True(t, result.BrandMatched)
	assert.True(t, result.ModelMatched, "hyphenated URL matches the spaced model phrase")
	assert.Equal(t, 1, result.MatchedSources)
	assert.InDelta(t, 1.0, result.Certainty, 1e-9)
}

func TestEvaluateIdentityIgnoresUnapprovedSources(t *testing.T) {
	lock := models.IdentityLock{Brand: "Logitech", Model: "PRO X SUPERLIGHT"}
	evidence := []IdentityEvidence{
		{
			Source: models.Source{URL: "https://randomblog.example.com"},
			Page:   &models.PageData{Title: "Logitech PRO X SUPERLIGHT review"},
		},
	}
	result := EvaluateIdentity(lock, evidence)
	assert.Equal(t, 0, result.MatchedSources)
	assert.Equal(t, 0.0, result.Certainty)
}

func TestEvaluateIdentityRejectsSuccessorProduct(t *testing.T) {
	// Pages describing the "Superlight 2" successor contain every lock
	// component of the original as a substring; the variant must not
	// match when its occurrence is glued to a successor digit
	lock := models.IdentityLock{Brand: "Logitech", Model: "G Pro X", Variant: "Superlight"}
	evidence := []IdentityEvidence{
		{
			Source: models.Source{URL: "https://logitechg.com/p2", ApprovedDomain: true},
			Page: &models.PageData{
				Title:    "Logitech G Pro X Superlight 2",
				FinalURL: "https://logitechg.com/pro-x-superlight-2",
				HTML:     "<html>G Pro X Superlight 2 specs</html>",
			},
		},
		{
			Source: models.Source{URL: "https://rtings.com/superlight-2", ApprovedDomain: true},
			Page:   &models.PageData{Title: "Logitech G Pro X Superlight 2 Review"},
		},
	}
	result := EvaluateIdentity(lock, evidence)
	assert.Zero(t, result.VariantTokens, "successor pages must not satisfy the variant")
	assert.Less(t, result.Certainty, PublishCertaintyThreshold,
		"certainty on successor-only evidence stays below the publish bar")
}

func TestEvaluateIdentityVariantTokenCoverage(t *testing.T) {
	lock := models.IdentityLock{Brand: "Razer", Model: "Viper V2", Variant: "Pro Black"}
	evidence := []IdentityEvidence{
		{
			Source: models.Source{URL: "https://razer.com/viper", ApprovedDomain: true},
			Page:   &models.PageData{Title: "Razer Viper V2 Pro", HTML: "<html></html>"},
		},
	}
	result := EvaluateIdentity(lock, evidence)
	assert.InDelta(t, 0.5, result.VariantTokens, 1e-9, "one of two variant tokens found")
	// 0.35·1 + 0.40·1 + 0.10·0.5 over total weight 0.85
	assert.InDelta(t, 0.8/0.85, result.Certainty, 1e-9)
}

func TestAnchorListMaxCompare(t *testing.T) {
	cfg := testConfig()
	fields := map[string]models.FieldProvenance{
		"dpi": {Value: "100-25600"},
	}
	conflicts := EvaluateAnchors(cfg, map[string]string{"dpi": "25600"}, fields)
	assert.Empty(t, conflicts, "list max equal to anchor")

	fields["dpi"] = models.FieldProvenance{Value: "100-16000"}
	conflicts = EvaluateAnchors(cfg, map[string]string{"dpi": "25600"}, fields)
	require.Len(t, conflicts, 1)
	assert.Equal(t, AnchorMajor, conflicts[0].Severity)
}

func TestAnchorExactCompare(t *testing.T) {
	cfg := testConfig()
	fields := map[string]models.FieldProvenance{
		"sensor": {Value: "HERO  25K"},
	}
	assert.Empty(t, EvaluateAnchors(cfg, map[string]string{"sensor": "hero 25k"}, fields),
		"case and whitespace insensitive")

	fields["sensor"] = models.FieldProvenance{Value: "PAW3395"}
	conflicts := EvaluateAnchors(cfg, map[string]string{"sensor": "hero 25k"}, fields)
	require.Len(t, conflicts, 1)
	assert.Equal(t, AnchorMajor, conflicts[0].Severity)
}

func TestAnchorUnknownValueNoConflict(t *testing.T) {
	cfg := testConfig()
	fields := map[string]models.FieldProvenance{
		"weight": {Value: models.UnknownValue},
	}
	assert.Empty(t, EvaluateAnchors(cfg, map[string]string{"weight": "63"}, fields))
}

func TestMissingRequired(t *testing.T) {
	result := goodConsensus()
	entry := result.Fields["weight"]
	entry.Value = models.UnknownValue
	result.Fields["weight"] = entry

	missing := MissingRequired(testPack(), result)
	assert.Equal(t, []string{"weight"}, missing)
}
