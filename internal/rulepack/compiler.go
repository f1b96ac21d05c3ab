package rulepack

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/specforge/internal/common"
	"github.com/ternarybob/specforge/internal/models"
)

// FieldRulesDoc is the compiled field_rules.json artifact
type FieldRulesDoc struct {
	Category    string                      `json:"category"`
	FieldOrder  []string                    `json:"field_order"`
	Fields      map[string]models.FieldRule `json:"fields"`
	GeneratedAt string                      `json:"generated_at,omitempty"`
}

// CompileResult reports one compile invocation
type CompileResult struct {
	Envelope      models.Envelope `json:"envelope"`
	Category      string          `json:"category"`
	OutputDir     string          `json:"output_dir"`
	DryRun        bool            `json:"dry_run"`
	Added         []string        `json:"added,omitempty"`
	Removed       []string        `json:"removed,omitempty"`
	Modified      []string        `json:"modified,omitempty"`
	ArtifactCount int             `json:"artifact_count"`
	Version       string          `json:"version"`
}

// Compiler deterministically converts category source inputs into an
// immutable rule pack under <helper>/<category>/_generated/
type Compiler struct {
	helperRoot string
	logger     arbor.ILogger
	validate   *validator.Validate
}

// NewCompiler creates a rule-pack compiler rooted at helperRoot
func NewCompiler(helperRoot string, logger arbor.ILogger) *Compiler {
	return &Compiler{
		helperRoot: helperRoot,
		logger:     logger,
		validate:   validator.New(),
	}
}

// Compile builds the rule pack for a category. In dry-run the artifacts
// are staged into a temp root and diffed against the existing pack,
// ignoring volatile keys, without writing.
func (c *Compiler) Compile(category string, dryRun bool) (*CompileResult, error) {
	category = NormalizeCategory(category)
	result := &CompileResult{
		Envelope: models.SuccessEnvelope(),
		Category: category,
		DryRun:   dryRun,
	}

	workbook, err := LoadWorkbook(c.helperRoot, category)
	if err != nil {
		result.Envelope.AddError(err.Error())
		return result, err
	}

	if _, bootstrapped, err := EnsureWorkbookMap(c.helperRoot, category, c.logger); err != nil {
		result.Envelope.AddError(err.Error())
		return result, err
	} else if bootstrapped {
		result.Envelope.AddWarning("workbook_map_missing: default workbook map bootstrapped")
	}

	seed, err := LoadSeedKnownValues(c.helperRoot, category)
	if err != nil {
		result.Envelope.AddError(err.Error())
		return result, err
	}

	// Normalize field rules in workbook order; duplicate keys collapse
	// first-wins so re-parses are stable.
	fieldOrder := make([]string, 0, len(workbook.Fields))
	fields := make(map[string]models.FieldRule, len(workbook.Fields))
	ruleList := make([]models.FieldRule, 0, len(workbook.Fields))
	for _, wf := range workbook.Fields {
		rule := normalizeRule(wf)
		if rule.FieldKey == "" {
			continue
		}
		if _, exists := fields[rule.FieldKey]; exists {
			result.Envelope.AddWarning(fmt.Sprintf("duplicate field key %q ignored", rule.FieldKey))
			continue
		}
		if err := c.validate.Struct(&rule); err != nil {
			result.Envelope.AddError(fmt.Sprintf("field %s failed validation: %v", rule.FieldKey, err))
			return result, fmt.Errorf("missing_or_invalid: field %s: %w", rule.FieldKey, err)
		}
		fields[rule.FieldKey] = rule
		fieldOrder = append(fieldOrder, rule.FieldKey)
		ruleList = append(ruleList, rule)
	}

	generatedAt := time.Now().UTC().Format(time.RFC3339)
	rulesDoc := &FieldRulesDoc{
		Category:    category,
		FieldOrder:  fieldOrder,
		Fields:      fields,
		GeneratedAt: generatedAt,
	}

	knownValues := mergeKnownValues(seed, ruleList, workbook)
	parseTemplates := BuildParseTemplates(ruleList)
	crossRules := BuildCrossValidation(ruleList)
	fieldGroups := BuildFieldGroups(ruleList, nil)
	uiCatalog := BuildUICatalog(workbook, ruleList)

	// Key migrations compare against the previously generated pack
	finalDir := filepath.Join(CategoryDir(c.helperRoot, category), DirGenerated)
	previous := loadPreviousRules(finalDir)
	previousMigrations := loadPreviousMigrations(finalDir)
	keyMigrations := BuildKeyMigrations(previous, rulesDoc, previousMigrations, workbook.Renames)
	result.Version = keyMigrations.Version

	artifacts := map[string]interface{}{
		models.ArtifactFieldRules:      rulesDoc,
		models.ArtifactUICatalog:       uiCatalog,
		models.ArtifactKnownValues:     knownValues,
		models.ArtifactParseTemplates:  parseTemplates,
		models.ArtifactCrossValidation: crossRules,
		models.ArtifactFieldGroups:     fieldGroups,
		models.ArtifactKeyMigrations:   keyMigrations,
	}

	// Component DB passes through from _source, normalized per file
	componentFiles, err := c.stageComponentDB(category)
	if err != nil {
		result.Envelope.AddError(err.Error())
		return result, err
	}
	for path, doc := range componentFiles {
		artifacts[path] = doc
	}

	encoded := make(map[string][]byte, len(artifacts))
	for path, doc := range artifacts {
		data, err := common.CanonicalJSONBytes(toPlain(doc))
		if err != nil {
			result.Envelope.AddError(fmt.Sprintf("failed to encode %s: %v", path, err))
			return result, err
		}
		encoded[path] = data
	}
	result.ArtifactCount = len(encoded)

	if dryRun {
		added, removed, modified := diffAgainstExisting(finalDir, encoded)
		result.Added = added
		result.Removed = removed
		result.Modified = modified
		c.logger.Info().
			Str("category", category).
			Int("added", len(added)).
			Int("removed", len(removed)).
			Int("modified", len(modified)).
			Msg("Dry-run compile complete")
		return result, nil
	}

	if err := writeArtifacts(finalDir, encoded); err != nil {
		result.Envelope.AddError(err.Error())
		return result, err
	}

	// Manifest is written last, after every other artifact is flushed
	manifest, err := BuildManifest(category, finalDir)
	if err != nil {
		result.Envelope.AddError(err.Error())
		return result, err
	}
	manifestBytes, err := common.CanonicalJSONBytes(toPlain(manifest))
	if err != nil {
		result.Envelope.AddError(err.Error())
		return result, err
	}
	if err := os.WriteFile(filepath.Join(finalDir, models.ArtifactManifest), manifestBytes, 0644); err != nil {
		result.Envelope.AddError(err.Error())
		return result, fmt.Errorf("failed to write manifest: %w", err)
	}

	result.OutputDir = finalDir
	c.logger.Info().
		Str("category", category).
		Int("fields", len(fieldOrder)).
		Int("artifacts", result.ArtifactCount).
		Str("version", result.Version).
		Msg("Rule pack compiled")

	return result, nil
}

// normalizeRule converts a raw workbook row into a complete FieldRule,
// filling every metadata slot with a deterministic default when absent
func normalizeRule(wf WorkbookField) models.FieldRule {
	key := models.NormalizeFieldKey(wf.Name)

	rule := models.FieldRule{
		FieldKey:             key,
		DisplayName:          wf.DisplayName,
		Group:                strings.ToLower(strings.TrimSpace(wf.Group)),
		DataType:             models.DataType(defaultString(wf.DataType, string(models.DataTypeString))),
		OutputShape:          models.OutputShape(defaultString(wf.OutputShape, string(models.OutputShapeScalar))),
		RequiredLevel:        models.RequiredLevel(defaultString(wf.RequiredLevel, string(models.RequiredLevelOptional))),
		Availability:         models.Availability(defaultString(wf.Availability, string(models.AvailabilitySometimes))),
		Difficulty:           models.Difficulty(defaultString(wf.Difficulty, string(models.DifficultyMedium))),
		Effort:               wf.Effort,
		MinEvidenceRefs:      wf.MinEvidenceRefs,
		UnknownReasonDefault: defaultString(wf.UnknownReasonDefault, "not_found_after_search"),
		Description:          wf.Description,
		Unit:                 wf.Unit,
		AIMode:               wf.AIMode,
		AIMaxCalls:           wf.AIMaxCalls,
		EnumPolicy:           wf.EnumPolicy,
	}
	if rule.DisplayName == "" {
		rule.DisplayName = titleFromKey(key)
	}
	if rule.Group == "" {
		rule.Group = "general"
	}
	if rule.Effort < 1 {
		rule.Effort = 3
	}
	if rule.Effort > 10 {
		rule.Effort = 10
	}
	if wf.EvidenceRequired != nil {
		rule.EvidenceRequired = *wf.EvidenceRequired
	} else {
		// Required and critical fields demand evidence by default
		rule.EvidenceRequired = rule.IsRequired()
	}
	if rule.MinEvidenceRefs <= 0 {
		if rule.IsCritical() {
			rule.MinEvidenceRefs = 2
		} else {
			rule.MinEvidenceRefs = 1
		}
	}

	if wf.RangeMin != nil || wf.RangeMax != nil {
		rule.Contract = &models.Contract{
			Range: &models.RangeContract{Min: wf.RangeMin, Max: wf.RangeMax},
		}
	}

	parse := buildParseSpec(wf)
	if parse != nil {
		rule.Parse = parse
	}

	if len(wf.QueryTerms) > 0 || len(wf.PreferredContentTypes) > 0 || len(wf.DomainHints) > 0 {
		rule.SearchHints = &models.SearchHints{
			QueryTerms:            wf.QueryTerms,
			PreferredContentTypes: wf.PreferredContentTypes,
			DomainHints:           wf.DomainHints,
		}
	}

	return rule
}

// buildParseSpec coerces the workbook parse columns into a ParseSpec.
// String patterns become {regex, group:1}; objects pass through.
func buildParseSpec(wf WorkbookField) *models.ParseSpec {
	if wf.ParseTemplate == "" && len(wf.ParsePatterns) == 0 &&
		len(wf.ContextKeywords) == 0 && len(wf.NegativeKeywords) == 0 && wf.PostProcess == "" {
		return nil
	}

	spec := &models.ParseSpec{
		Template:         wf.ParseTemplate,
		ContextKeywords:  wf.ContextKeywords,
		NegativeKeywords: wf.NegativeKeywords,
		Unit:             wf.Unit,
		PostProcess:      wf.PostProcess,
	}
	for _, raw := range wf.ParsePatterns {
		if pattern, ok := coercePattern(raw); ok {
			spec.Patterns = append(spec.Patterns, pattern)
		}
	}
	return spec
}

// coercePattern accepts "regex" strings and {regex,group,...} objects
func coercePattern(raw json.RawMessage) (models.ParsePattern, bool) {
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		if strings.TrimSpace(asString) == "" {
			return models.ParsePattern{}, false
		}
		return models.ParsePattern{Regex: asString, Group: 1}, true
	}
	var asObject models.ParsePattern
	if err := json.Unmarshal(raw, &asObject); err != nil || asObject.Regex == "" {
		return models.ParsePattern{}, false
	}
	if asObject.Group <= 0 {
		asObject.Group = 1
	}
	return asObject, true
}

// BuildUICatalog derives the display catalog from workbook order
func BuildUICatalog(workbook *WorkbookDoc, rules []models.FieldRule) *models.UIFieldCatalog {
	sections := make(map[string]string, len(workbook.Fields))
	for _, wf := range workbook.Fields {
		sections[models.NormalizeFieldKey(wf.Name)] = wf.UISection
	}

	catalog := &models.UIFieldCatalog{Fields: make([]models.UICatalogEntry, 0, len(rules))}
	for i, rule := range rules {
		catalog.Fields = append(catalog.Fields, models.UICatalogEntry{
			FieldKey:    rule.FieldKey,
			DisplayName: rule.DisplayName,
			Group:       rule.Group,
			Section:     sections[rule.FieldKey],
			Order:       i,
			Editable:    rule.RequiredLevel == models.RequiredLevelEditorial,
		})
	}
	return catalog
}

// stageComponentDB normalizes _source/component_db/*.json for the pack
func (c *Compiler) stageComponentDB(category string) (map[string]interface{}, error) {
	sourceDir := filepath.Join(CategoryDir(c.helperRoot, category), DirSource, DirComponentDB)
	entries, err := os.ReadDir(sourceDir)
	if os.IsNotExist(err) {
		return map[string]interface{}{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read component db dir: %w", err)
	}

	out := make(map[string]interface{})
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(sourceDir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read component db file %s: %w", entry.Name(), err)
		}
		var components []models.ComponentEntry
		if err := json.Unmarshal(data, &components); err != nil {
			return nil, fmt.Errorf("missing_or_invalid: component db %s: %w", entry.Name(), err)
		}
		sort.Slice(components, func(i, j int) bool {
			if components[i].CanonicalName != components[j].CanonicalName {
				return components[i].CanonicalName < components[j].CanonicalName
			}
			return components[i].Maker < components[j].Maker
		})
		out[filepath.Join(DirComponentDB, entry.Name())] = components
	}
	return out, nil
}

// writeArtifacts writes every encoded artifact, creating directories
func writeArtifacts(finalDir string, encoded map[string][]byte) error {
	for path, data := range encoded {
		target := filepath.Join(finalDir, path)
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return fmt.Errorf("failed to create artifact dir: %w", err)
		}
		if err := os.WriteFile(target, data, 0644); err != nil {
			return fmt.Errorf("failed to write %s: %w", path, err)
		}
	}
	return nil
}

// diffAgainstExisting compares staged artifacts with the on-disk pack,
// ignoring volatile keys
func diffAgainstExisting(finalDir string, encoded map[string][]byte) (added, removed, modified []string) {
	existing := map[string]string{}
	_ = filepath.Walk(finalDir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() || !strings.HasSuffix(path, ".json") {
			return nil
		}
		rel, relErr := filepath.Rel(finalDir, path)
		if relErr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if rel == models.ArtifactManifest {
			return nil
		}
		data, readErr := os.ReadFile(path)
		if readErr != nil {
			return nil
		}
		existing[rel] = common.HashSemanticJSON(data)
		return nil
	})

	for path, data := range encoded {
		slashPath := filepath.ToSlash(path)
		oldHash, ok := existing[slashPath]
		if !ok {
			added = append(added, slashPath)
			continue
		}
		if common.HashSemanticJSON(data) != oldHash {
			modified = append(modified, slashPath)
		}
		delete(existing, slashPath)
	}
	for path := range existing {
		removed = append(removed, path)
	}

	sort.Strings(added)
	sort.Strings(removed)
	sort.Strings(modified)
	return added, removed, modified
}

// loadPreviousRules reads the last compiled field rules, nil when absent
func loadPreviousRules(finalDir string) *FieldRulesDoc {
	data, err := os.ReadFile(filepath.Join(finalDir, models.ArtifactFieldRules))
	if err != nil {
		return nil
	}
	var doc FieldRulesDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil
	}
	return &doc
}

// loadPreviousMigrations reads the last key migrations, nil when absent
func loadPreviousMigrations(finalDir string) *models.KeyMigrations {
	data, err := os.ReadFile(filepath.Join(finalDir, models.ArtifactKeyMigrations))
	if err != nil {
		return nil
	}
	var doc models.KeyMigrations
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil
	}
	return &doc
}

func defaultString(value, fallback string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" {
		return fallback
	}
	return value
}

// titleFromKey turns "polling_rate" into "Polling Rate"
func titleFromKey(key string) string {
	parts := strings.Split(key, "_")
	for i, part := range parts {
		if part == "" {
			continue
		}
		parts[i] = strings.ToUpper(part[:1]) + part[1:]
	}
	return strings.Join(parts, " ")
}
