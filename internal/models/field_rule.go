package models

import (
	"regexp"
	"strings"
)

// DataType enumerates field value types
type DataType string

const (
	DataTypeString  DataType = "string"
	DataTypeNumber  DataType = "number"
	DataTypeURL     DataType = "url"
	DataTypeBoolean DataType = "boolean"
	DataTypeEnum    DataType = "enum"
)

// OutputShape enumerates field value shapes
type OutputShape string

const (
	OutputShapeScalar OutputShape = "scalar"
	OutputShapeList   OutputShape = "list"
)

// RequiredLevel enumerates how strongly a field is demanded
type RequiredLevel string

const (
	RequiredLevelRequired  RequiredLevel = "required"
	RequiredLevelExpected  RequiredLevel = "expected"
	RequiredLevelCritical  RequiredLevel = "critical"
	RequiredLevelEditorial RequiredLevel = "editorial"
	RequiredLevelCommerce  RequiredLevel = "commerce"
	RequiredLevelOptional  RequiredLevel = "optional"
)

// Availability enumerates how often a field appears in the wild
type Availability string

const (
	AvailabilityExpected      Availability = "expected"
	AvailabilityEditorialOnly Availability = "editorial_only"
	AvailabilitySometimes     Availability = "sometimes"
	AvailabilityRare          Availability = "rare"
)

// Difficulty enumerates extraction difficulty
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// RangeContract bounds plausible numeric values for a field
type RangeContract struct {
	Min *float64 `json:"min,omitempty"`
	Max *float64 `json:"max,omitempty"`
}

// Contract holds per-field value constraints
type Contract struct {
	Range *RangeContract `json:"range,omitempty"`
}

// ParsePattern is one extraction pattern: a regex with a capture group and
// optional unit conversion applied to the captured text
type ParsePattern struct {
	Regex   string  `json:"regex" validate:"required"`
	Group   int     `json:"group"`
	Unit    string  `json:"unit,omitempty"`
	Convert float64 `json:"convert,omitempty"` // Multiplier applied to numeric captures, 0 = none
}

// ParseSpec configures deterministic extraction for a field
type ParseSpec struct {
	Template         string         `json:"template,omitempty"` // Name in the template library
	Patterns         []ParsePattern `json:"patterns,omitempty"`
	ContextKeywords  []string       `json:"context_keywords,omitempty"`
	NegativeKeywords []string       `json:"negative_keywords,omitempty"`
	Unit             string         `json:"unit,omitempty"`
	PostProcess      string         `json:"post_process,omitempty"` // e.g. "round_int", "lowercase"
}

// SearchHints steer query planning for a field
type SearchHints struct {
	QueryTerms            []string `json:"query_terms,omitempty"`
	PreferredContentTypes []string `json:"preferred_content_types,omitempty"`
	DomainHints           []string `json:"domain_hints,omitempty"`
}

// FieldRule is the per-category, per-field extraction and validation policy
type FieldRule struct {
	FieldKey             string        `json:"field_key" validate:"required"`
	DisplayName          string        `json:"display_name" validate:"required"`
	Group                string        `json:"group"`
	DataType             DataType      `json:"data_type" validate:"required,oneof=string number url boolean enum"`
	OutputShape          OutputShape   `json:"output_shape" validate:"required,oneof=scalar list"`
	RequiredLevel        RequiredLevel `json:"required_level" validate:"required,oneof=required expected critical editorial commerce optional"`
	Availability         Availability  `json:"availability" validate:"required,oneof=expected editorial_only sometimes rare"`
	Difficulty           Difficulty    `json:"difficulty" validate:"required,oneof=easy medium hard"`
	Effort               int           `json:"effort" validate:"min=1,max=10"`
	EvidenceRequired     bool          `json:"evidence_required"`
	MinEvidenceRefs      int           `json:"min_evidence_refs"`
	UnknownReasonDefault string        `json:"unknown_reason_default"`
	Description          string        `json:"description,omitempty"`
	Unit                 string        `json:"unit,omitempty"`
	Contract             *Contract     `json:"contract,omitempty"`
	Parse                *ParseSpec    `json:"parse,omitempty"`
	AIMode               string        `json:"ai_mode,omitempty"` // "", "allowed", "preferred", "disabled"
	AIMaxCalls           int           `json:"ai_max_calls,omitempty"`
	SearchHints          *SearchHints  `json:"search_hints,omitempty"`
	EnumPolicy           string        `json:"enum_policy,omitempty"` // "open" or "closed", enum fields only
}

var fieldKeyScrubber = regexp.MustCompile(`[^a-z0-9]+`)

// NormalizeFieldKey lowercases, replaces non-alphanumeric runs with a
// single underscore, and trims leading/trailing underscores
func NormalizeFieldKey(raw string) string {
	key := strings.ToLower(strings.TrimSpace(raw))
	key = fieldKeyScrubber.ReplaceAllString(key, "_")
	return strings.Trim(key, "_")
}

// IsIdentityField reports whether a field key belongs to the identity lock
func IsIdentityField(fieldKey string) bool {
	switch fieldKey {
	case "brand", "model", "base_model", "variant", "sku":
		return true
	}
	return false
}

// IsCritical reports whether the rule raises the pass target
func (r *FieldRule) IsCritical() bool {
	return r.RequiredLevel == RequiredLevelCritical
}

// IsRequired reports whether the field blocks completeness when unknown
func (r *FieldRule) IsRequired() bool {
	return r.RequiredLevel == RequiredLevelRequired || r.RequiredLevel == RequiredLevelCritical
}

// AICallBudget returns the per-field AI budget, falling back to the
// supplied default when the rule does not set one
func (r *FieldRule) AICallBudget(defaultCalls int) int {
	if r.AIMaxCalls > 0 {
		return r.AIMaxCalls
	}
	return defaultCalls
}
