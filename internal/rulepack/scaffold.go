package rulepack

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/specforge/internal/common"
	"github.com/ternarybob/specforge/internal/models"
)

// InitResult reports what init-category created
type InitResult struct {
	Envelope models.Envelope `json:"envelope"`
	Category string          `json:"category"`
	Created  []string        `json:"created"`
}

// InitCategory scaffolds the helper-root layout for a new category:
// the source, control-plane, override, and suggestion directories, a
// starter workbook with the identity fields, and the default workbook
// map. Existing files are left alone and reported as warnings.
func InitCategory(helperRoot, category string, logger arbor.ILogger) *InitResult {
	category = NormalizeCategory(category)
	result := &InitResult{Envelope: models.SuccessEnvelope(), Category: category}
	categoryDir := CategoryDir(helperRoot, category)

	for _, dir := range []string{
		filepath.Join(categoryDir, DirSource),
		filepath.Join(categoryDir, DirControlPlane),
		filepath.Join(categoryDir, DirGenerated),
		filepath.Join(categoryDir, DirOverrides, DirComponentOverrides),
		filepath.Join(categoryDir, DirSuggestions),
	} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			result.Envelope.AddError(fmt.Sprintf("failed to create %s: %v", dir, err))
			return result
		}
	}

	workbookPath := filepath.Join(categoryDir, DirSource, FileWorkbookFields)
	if _, err := os.Stat(workbookPath); err == nil {
		result.Envelope.AddWarning(fmt.Sprintf("workbook already exists: %s", workbookPath))
	} else {
		if err := writeCanonical(workbookPath, starterWorkbook(category)); err != nil {
			result.Envelope.AddError(err.Error())
			return result
		}
		result.Created = append(result.Created, workbookPath)
	}

	seedPath := filepath.Join(categoryDir, DirSource, FileSeedKnown)
	if _, err := os.Stat(seedPath); os.IsNotExist(err) {
		if err := writeCanonical(seedPath, &models.KnownValues{Enums: map[string]models.EnumValues{}}); err != nil {
			result.Envelope.AddError(err.Error())
			return result
		}
		result.Created = append(result.Created, seedPath)
	}

	if _, bootstrapped, err := EnsureWorkbookMap(helperRoot, category, logger); err != nil {
		result.Envelope.AddError(err.Error())
		return result
	} else if bootstrapped {
		result.Created = append(result.Created, filepath.Join(categoryDir, DirControlPlane, FileWorkbookMap))
	}

	logger.Info().
		Str("category", category).
		Int("created", len(result.Created)).
		Msg("Category scaffolding complete")
	return result
}

// starterWorkbook seeds a new category with the identity fields so the
// first compile produces a loadable pack
func starterWorkbook(category string) *WorkbookDoc {
	return &WorkbookDoc{
		Category: category,
		Fields: []WorkbookField{
			{Name: "brand", RequiredLevel: string(models.RequiredLevelCritical), Group: "identity"},
			{Name: "model", RequiredLevel: string(models.RequiredLevelCritical), Group: "identity"},
			{Name: "variant", RequiredLevel: string(models.RequiredLevelOptional), Group: "identity"},
			{Name: "sku", RequiredLevel: string(models.RequiredLevelOptional), Group: "identity"},
		},
	}
}

func writeCanonical(path string, value interface{}) error {
	encoded, err := common.CanonicalJSONBytes(toPlain(value))
	if err != nil {
		return fmt.Errorf("failed to encode %s: %v", path, err)
	}
	if err := os.WriteFile(path, encoded, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %v", path, err)
	}
	return nil
}

// FieldListing is one list-fields row
type FieldListing struct {
	FieldKey      string               `json:"field_key"`
	DisplayName   string               `json:"display_name"`
	Group         string               `json:"group"`
	DataType      models.DataType      `json:"data_type"`
	RequiredLevel models.RequiredLevel `json:"required_level"`
	Availability  models.Availability  `json:"availability"`
	Effort        int                  `json:"effort"`
}

// ListFields returns every field of a pack in workbook order
func ListFields(pack *Pack) []FieldListing {
	out := make([]FieldListing, 0, len(pack.Rules.FieldOrder))
	for _, key := range pack.Rules.FieldOrder {
		rule, ok := pack.Rules.Fields[key]
		if !ok {
			continue
		}
		out = append(out, FieldListing{
			FieldKey:      rule.FieldKey,
			DisplayName:   rule.DisplayName,
			Group:         rule.Group,
			DataType:      rule.DataType,
			RequiredLevel: rule.RequiredLevel,
			Availability:  rule.Availability,
			Effort:        rule.Effort,
		})
	}
	return out
}

// FieldReportResult is the full policy view of one field
type FieldReportResult struct {
	Envelope    models.Envelope  `json:"envelope"`
	Category    string           `json:"category"`
	Rule        models.FieldRule `json:"rule"`
	KnownValues []string         `json:"known_values,omitempty"`
	EnumPolicy  string           `json:"enum_policy,omitempty"`
	GroupPeers  []string         `json:"group_peers,omitempty"`
	LegacyKeys  []string         `json:"legacy_keys,omitempty"`
}

// FieldReport assembles everything the pack knows about one field:
// the rule, its known values, group peers, and any legacy keys that
// migrate onto it
func FieldReport(pack *Pack, field string) *FieldReportResult {
	result := &FieldReportResult{
		Envelope: models.SuccessEnvelope(),
		Category: pack.Category,
	}

	rule, ok := pack.Rule(field)
	if !ok {
		result.Envelope.AddError(fmt.Sprintf("unknown field: %s", field))
		return result
	}
	result.Rule = rule

	if pack.KnownValues != nil {
		if enum, ok := pack.KnownValues.Enums[rule.FieldKey]; ok {
			result.KnownValues = enum.Values
			result.EnumPolicy = enum.Policy
		}
	}

	if pack.FieldGroups != nil && rule.Group != "" {
		for _, peer := range pack.FieldGroups.Groups[rule.Group] {
			if peer != rule.FieldKey {
				result.GroupPeers = append(result.GroupPeers, peer)
			}
		}
	}

	if pack.KeyMigrations != nil {
		for legacy, current := range pack.KeyMigrations.KeyMap {
			if current == rule.FieldKey {
				result.LegacyKeys = append(result.LegacyKeys, legacy)
			}
		}
		sort.Strings(result.LegacyKeys)
	}

	return result
}
