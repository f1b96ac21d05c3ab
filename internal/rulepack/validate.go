package rulepack

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/specforge/internal/models"
)

// ValidateResult reports one validate invocation
type ValidateResult struct {
	Envelope models.Envelope `json:"envelope"`
	Category string          `json:"category"`
}

// Validate checks a compiled pack: required files exist, every field has
// complete metadata, key migrations are well-formed, artifacts decode
// into their schemas, and manifest hashes match recomputation. Component
// DB emptiness is a warning, not an error.
func Validate(helperRoot, category string, logger arbor.ILogger) *ValidateResult {
	category = NormalizeCategory(category)
	result := &ValidateResult{
		Envelope: models.SuccessEnvelope(),
		Category: category,
	}
	finalDir := filepath.Join(CategoryDir(helperRoot, category), DirGenerated)
	check := validator.New()

	required := []string{
		models.ArtifactFieldRules,
		models.ArtifactUICatalog,
		models.ArtifactKnownValues,
		models.ArtifactParseTemplates,
		models.ArtifactCrossValidation,
		models.ArtifactFieldGroups,
		models.ArtifactKeyMigrations,
		models.ArtifactManifest,
	}
	for _, name := range required {
		if _, err := os.Stat(filepath.Join(finalDir, name)); err != nil {
			result.Envelope.AddError(fmt.Sprintf("required artifact missing: %s", name))
		}
	}
	if !result.Envelope.OK {
		return result
	}

	// Field rules: every field must carry complete metadata
	var rulesDoc FieldRulesDoc
	if err := readJSON(filepath.Join(finalDir, models.ArtifactFieldRules), &rulesDoc); err != nil {
		result.Envelope.AddError(fmt.Sprintf("schema_validation_failed: %s: %v", models.ArtifactFieldRules, err))
		return result
	}
	for key, rule := range rulesDoc.Fields {
		if err := check.Struct(&rule); err != nil {
			result.Envelope.AddError(fmt.Sprintf("schema_validation_failed: field %s: %v", key, err))
		}
	}

	// Every ranged field must have a matching range cross-validation rule
	var crossRules models.CrossValidationRules
	if err := readJSON(filepath.Join(finalDir, models.ArtifactCrossValidation), &crossRules); err != nil {
		result.Envelope.AddError(fmt.Sprintf("schema_validation_failed: %s: %v", models.ArtifactCrossValidation, err))
	} else {
		rangeRules := map[string]models.CrossValidationRule{}
		for _, rule := range crossRules.Rules {
			if err := check.Struct(&rule); err != nil {
				result.Envelope.AddError(fmt.Sprintf("schema_validation_failed: rule %s: %v", rule.RuleID, err))
			}
			if rule.Type == "range" {
				rangeRules[rule.TriggerField] = rule
			}
		}
		for key, rule := range rulesDoc.Fields {
			if rule.Contract != nil && rule.Contract.Range != nil {
				rangeRule, ok := rangeRules[key]
				if !ok {
					result.Envelope.AddError(fmt.Sprintf("field %s has a range contract but no range cross-validation rule", key))
					continue
				}
				if !rangeEqual(rule.Contract.Range, &models.RangeContract{Min: rangeRule.Min, Max: rangeRule.Max}) {
					result.Envelope.AddError(fmt.Sprintf("field %s range rule bounds do not match contract", key))
				}
			}
		}
	}

	// Key migrations rows must be well-formed
	var keyMigrations models.KeyMigrations
	if err := readJSON(filepath.Join(finalDir, models.ArtifactKeyMigrations), &keyMigrations); err != nil {
		result.Envelope.AddError(fmt.Sprintf("schema_validation_failed: %s: %v", models.ArtifactKeyMigrations, err))
	} else {
		if err := check.Struct(&keyMigrations); err != nil {
			result.Envelope.AddError(fmt.Sprintf("schema_validation_failed: key migrations: %v", err))
		}
		for i, migration := range keyMigrations.Migrations {
			if err := check.Struct(&migration); err != nil {
				result.Envelope.AddError(fmt.Sprintf("schema_validation_failed: migration %d: %v", i, err))
			}
		}
	}

	// Remaining artifacts decode strictly into their schemas
	var uiCatalog models.UIFieldCatalog
	if err := readJSON(filepath.Join(finalDir, models.ArtifactUICatalog), &uiCatalog); err != nil {
		result.Envelope.AddError(fmt.Sprintf("schema_validation_failed: %s: %v", models.ArtifactUICatalog, err))
	}
	var knownValues models.KnownValues
	if err := readJSON(filepath.Join(finalDir, models.ArtifactKnownValues), &knownValues); err != nil {
		result.Envelope.AddError(fmt.Sprintf("schema_validation_failed: %s: %v", models.ArtifactKnownValues, err))
	}
	var templates models.ParseTemplates
	if err := readJSON(filepath.Join(finalDir, models.ArtifactParseTemplates), &templates); err != nil {
		result.Envelope.AddError(fmt.Sprintf("schema_validation_failed: %s: %v", models.ArtifactParseTemplates, err))
	}
	var groups models.FieldGroups
	if err := readJSON(filepath.Join(finalDir, models.ArtifactFieldGroups), &groups); err != nil {
		result.Envelope.AddError(fmt.Sprintf("schema_validation_failed: %s: %v", models.ArtifactFieldGroups, err))
	}

	// Component DB: empty is a warning only
	componentDir := filepath.Join(finalDir, DirComponentDB)
	if entries, err := os.ReadDir(componentDir); err != nil || len(entries) == 0 {
		result.Envelope.AddWarning("component_db is empty")
	}

	// Manifest hashes must match recomputation
	var manifest models.Manifest
	if err := readJSON(filepath.Join(finalDir, models.ArtifactManifest), &manifest); err != nil {
		result.Envelope.AddError(fmt.Sprintf("schema_validation_failed: %s: %v", models.ArtifactManifest, err))
		return result
	}
	for _, msg := range VerifyManifest(&manifest, finalDir) {
		result.Envelope.AddError(msg)
	}

	if result.Envelope.OK {
		logger.Info().Str("category", category).Msg("Rule pack validated")
	} else {
		logger.Warn().
			Str("category", category).
			Int("errors", len(result.Envelope.Errors)).
			Msg("Rule pack validation failed")
	}

	return result
}

func readJSON(path string, target interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, target)
}
