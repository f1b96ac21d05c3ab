package rulepack

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/specforge/internal/common"
	"github.com/ternarybob/specforge/internal/models"
)

// Helper-root layout per category
const (
	DirSource       = "_source"
	DirControlPlane = "_control_plane"
	DirGenerated    = "_generated"
	DirOverrides    = "_overrides"
	DirSuggestions  = "_suggestions"
	DirComponentDB  = "component_db"

	FileWorkbookFields = "workbook_fields.json"
	FileSeedKnown      = "seed_known_values.json"
	FileWorkbookMap    = "workbook_map.json"
)

// WorkbookField is one raw field row as emitted by the external workbook
// parser. Every slot is optional; the compiler fills deterministic
// defaults for anything absent.
type WorkbookField struct {
	Name                 string    `json:"name"`
	DisplayName          string    `json:"display_name,omitempty"`
	Group                string    `json:"group,omitempty"`
	DataType             string    `json:"data_type,omitempty"`
	OutputShape          string    `json:"output_shape,omitempty"`
	RequiredLevel        string    `json:"required_level,omitempty"`
	Availability         string    `json:"availability,omitempty"`
	Difficulty           string    `json:"difficulty,omitempty"`
	Effort               int       `json:"effort,omitempty"`
	EvidenceRequired     *bool     `json:"evidence_required,omitempty"`
	MinEvidenceRefs      int       `json:"min_evidence_refs,omitempty"`
	UnknownReasonDefault string    `json:"unknown_reason_default,omitempty"`
	Description          string    `json:"description,omitempty"`
	Unit                 string    `json:"unit,omitempty"`
	RangeMin             *float64  `json:"range_min,omitempty"`
	RangeMax             *float64  `json:"range_max,omitempty"`
	ParseTemplate        string    `json:"parse_template,omitempty"`
	ParsePatterns        []json.RawMessage `json:"parse_patterns,omitempty"` // strings or {regex,group,unit,convert} objects
	ContextKeywords      []string  `json:"context_keywords,omitempty"`
	NegativeKeywords     []string  `json:"negative_keywords,omitempty"`
	PostProcess          string    `json:"post_process,omitempty"`
	AIMode               string    `json:"ai_mode,omitempty"`
	AIMaxCalls           int       `json:"ai_max_calls,omitempty"`
	QueryTerms           []string  `json:"query_terms,omitempty"`
	PreferredContentTypes []string `json:"preferred_content_types,omitempty"`
	DomainHints          []string  `json:"domain_hints,omitempty"`
	EnumPolicy           string    `json:"enum_policy,omitempty"`
	EnumValues           []string  `json:"enum_values,omitempty"`
	UISection            string    `json:"ui_section,omitempty"`
}

// WorkbookDoc is the external parser's full output for one category
type WorkbookDoc struct {
	Category string          `json:"category"`
	Fields   []WorkbookField `json:"fields"`
	Renames  map[string]string `json:"renames,omitempty"` // old field key -> new field key
}

// WorkbookMap describes sheet roles for the external parser. The runtime
// only needs it to exist; a missing map is bootstrapped with defaults and
// surfaced as a workbook_map_missing warning.
type WorkbookMap struct {
	FieldsSheet   string `json:"fields_sheet"`
	EnumsSheet    string `json:"enums_sheet,omitempty"`
	HeaderRow     int    `json:"header_row"`
	ValueColStart string `json:"value_col_start,omitempty"`
	// value_col_end intentionally left blank by default: the parser
	// auto-detects the last populated column.
	ValueColEnd string `json:"value_col_end,omitempty"`
}

// defaultWorkbookMap is the bootstrap map written when none exists
func defaultWorkbookMap() *WorkbookMap {
	return &WorkbookMap{
		FieldsSheet: "Fields",
		EnumsSheet:  "Enums",
		HeaderRow:   1,
	}
}

// CategoryDir returns <helperRoot>/<category>
func CategoryDir(helperRoot, category string) string {
	return filepath.Join(helperRoot, NormalizeCategory(category))
}

// NormalizeCategory lowercases and key-normalizes a category token
func NormalizeCategory(category string) string {
	return models.NormalizeFieldKey(category)
}

// LoadWorkbook reads the workbook parser output for a category.
// A missing or unparseable file is a missing_or_invalid compile abort.
func LoadWorkbook(helperRoot, category string) (*WorkbookDoc, error) {
	path := filepath.Join(CategoryDir(helperRoot, category), DirSource, FileWorkbookFields)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("missing_or_invalid: failed to read %s: %w", path, err)
	}

	var doc WorkbookDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("missing_or_invalid: failed to parse %s: %w", path, err)
	}
	if len(doc.Fields) == 0 {
		return nil, fmt.Errorf("missing_or_invalid: %s defines no fields", path)
	}
	if doc.Category == "" {
		doc.Category = NormalizeCategory(category)
	}

	return &doc, nil
}

// EnsureWorkbookMap loads the control-plane workbook map, bootstrapping a
// default when missing. Returns the map and whether a bootstrap happened.
func EnsureWorkbookMap(helperRoot, category string, logger arbor.ILogger) (*WorkbookMap, bool, error) {
	dir := filepath.Join(CategoryDir(helperRoot, category), DirControlPlane)
	path := filepath.Join(dir, FileWorkbookMap)

	data, err := os.ReadFile(path)
	if err == nil {
		var m WorkbookMap
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, false, fmt.Errorf("missing_or_invalid: failed to parse %s: %w", path, err)
		}
		return &m, false, nil
	}
	if !os.IsNotExist(err) {
		return nil, false, fmt.Errorf("failed to read %s: %w", path, err)
	}

	// Bootstrap the default map
	m := defaultWorkbookMap()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, false, fmt.Errorf("failed to create control plane dir: %w", err)
	}
	encoded, err := common.CanonicalJSONBytes(toPlain(m))
	if err != nil {
		return nil, false, err
	}
	if err := os.WriteFile(path, encoded, 0644); err != nil {
		return nil, false, fmt.Errorf("failed to bootstrap workbook map: %w", err)
	}

	logger.Warn().
		Str("category", category).
		Str("path", path).
		Msg("workbook_map_missing: bootstrapped default workbook map")

	return m, true, nil
}

// LoadSeedKnownValues reads optional seed enum values from _source.
// Accepts both the tagged {enums:{...}} form and the legacy
// {fields:{key:[values]}} form.
func LoadSeedKnownValues(helperRoot, category string) (*models.KnownValues, error) {
	path := filepath.Join(CategoryDir(helperRoot, category), DirSource, FileSeedKnown)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &models.KnownValues{Enums: map[string]models.EnumValues{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return NormalizeKnownValues(data)
}

// toPlain round-trips a struct through JSON into generic form for
// canonical serialization
func toPlain(value interface{}) interface{} {
	data, err := json.Marshal(value)
	if err != nil {
		return value
	}
	var out interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return value
	}
	return out
}
