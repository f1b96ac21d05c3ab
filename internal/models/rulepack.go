package models

// Rule-pack artifact file names under <helper>/<category>/_generated/
const (
	ArtifactFieldRules      = "field_rules.json"
	ArtifactUICatalog       = "ui_field_catalog.json"
	ArtifactKnownValues     = "known_values.json"
	ArtifactParseTemplates  = "parse_templates.json"
	ArtifactCrossValidation = "cross_validation_rules.json"
	ArtifactFieldGroups     = "field_groups.json"
	ArtifactKeyMigrations   = "key_migrations.json"
	ArtifactManifest        = "manifest.json"
)

// ManifestEntry is one hashed artifact row
type ManifestEntry struct {
	Path   string `json:"path"`
	SHA256 string `json:"sha256"`
	Bytes  int    `json:"bytes"`
}

// Manifest is the hashed inventory of a compiled rule pack
type Manifest struct {
	Category      string          `json:"category"`
	Algorithm     string          `json:"algorithm"` // Always "sha256"
	ArtifactCount int             `json:"artifact_count"`
	Entries       []ManifestEntry `json:"entries"`
	GeneratedAt   string          `json:"generated_at,omitempty"` // Volatile, excluded from hashing
}

// MigrationType enumerates key migration kinds
type MigrationType string

const (
	MigrationRename    MigrationType = "rename"
	MigrationMerge     MigrationType = "merge"
	MigrationSplit     MigrationType = "split"
	MigrationDeprecate MigrationType = "deprecate"
)

// Migration is one schema change between rule-pack versions
type Migration struct {
	Type    MigrationType `json:"type" validate:"required,oneof=rename merge split deprecate"`
	From    string        `json:"from,omitempty"`
	FromSet []string      `json:"from_set,omitempty"` // merge sources
	To      string        `json:"to,omitempty"`
	ToSet   []string      `json:"to_set,omitempty"` // split targets
	Note    string        `json:"note,omitempty"`
}

// KeyMigrations records schema evolution between compiled versions
type KeyMigrations struct {
	Version         string            `json:"version" validate:"required"`
	PreviousVersion string            `json:"previous_version"`
	Bump            string            `json:"bump" validate:"required,oneof=major minor patch"`
	Summary         string            `json:"summary"`
	Migrations      []Migration       `json:"migrations"`
	KeyMap          map[string]string `json:"key_map"` // old key -> current key
}

// TemplateEntry is the compiled pattern set for one field
type TemplateEntry struct {
	Field    string         `json:"field"`
	Patterns []ParsePattern `json:"patterns"`
	Unit     string         `json:"unit,omitempty"`
}

// ParseTemplates maps field keys to their compiled pattern sets
type ParseTemplates struct {
	Templates map[string]TemplateEntry `json:"templates"`
}

// CrossValidationAction enumerates what a fired rule does
type CrossValidationAction string

const (
	ActionRejectCandidate CrossValidationAction = "reject_candidate"
	ActionFlagForReview   CrossValidationAction = "flag_for_review"
)

// CrossValidationRule validates a value against bounds or related fields
type CrossValidationRule struct {
	RuleID        string                `json:"rule_id" validate:"required"`
	Type          string                `json:"type" validate:"required"` // "range", "requires", "consistency"
	TriggerField  string                `json:"trigger_field"`
	TriggerFields []string              `json:"trigger_fields,omitempty"`
	Min           *float64              `json:"min,omitempty"`
	Max           *float64              `json:"max,omitempty"`
	RequiresField string                `json:"requires_field,omitempty"`
	OnFail        CrossValidationAction `json:"on_fail" validate:"required,oneof=reject_candidate flag_for_review"`
	Note          string                `json:"note,omitempty"`
}

// CrossValidationRules is the compiled rule list
type CrossValidationRules struct {
	Rules []CrossValidationRule `json:"rules"`
}

// FieldGroups maps group keys to sorted field key lists
type FieldGroups struct {
	Groups map[string][]string `json:"groups"`
}

// EnumValues is the tagged, normalized known-values form for one field
type EnumValues struct {
	Policy string   `json:"policy"` // "open" or "closed"
	Values []string `json:"values"`
}

// KnownValues is the normalized known-values artifact.
// Loaders accept both {enums:{...}} and the legacy {fields:{key:[...]}}
// shape and normalize to this tagged form; the polymorphism never leaks
// past the loader.
type KnownValues struct {
	Enums map[string]EnumValues `json:"enums"`
}

// UICatalogEntry drives field display ordering and grouping
type UICatalogEntry struct {
	FieldKey    string `json:"field_key"`
	DisplayName string `json:"display_name"`
	Group       string `json:"group"`
	Section     string `json:"section,omitempty"`
	Order       int    `json:"order"`
	Editable    bool   `json:"editable"`
}

// UIFieldCatalog is the compiled display catalog
type UIFieldCatalog struct {
	Fields []UICatalogEntry `json:"fields"`
}

// ComponentEntry is one known hardware/part entity in a component DB
type ComponentEntry struct {
	CanonicalName string                 `json:"canonical_name" validate:"required"`
	Maker         string                 `json:"maker"`
	ComponentType string                 `json:"component_type" validate:"required"`
	Aliases       []string               `json:"aliases,omitempty"`
	Links         []string               `json:"links,omitempty"`
	Properties    map[string]interface{} `json:"properties,omitempty"`
	Token         string                 `json:"token,omitempty"` // Assigned at index time
}

// ComponentOverride patches or replaces a component DB entry at load time
type ComponentOverride struct {
	ComponentType string                 `json:"component_type" validate:"required"`
	Name          string                 `json:"name" validate:"required"`
	Properties    map[string]interface{} `json:"properties,omitempty"`
	// Replace fields: when set, identity fields are wholly replaced
	CanonicalName string   `json:"canonical_name,omitempty"`
	Maker         string   `json:"maker,omitempty"`
	Aliases       []string `json:"aliases,omitempty"`
	Links         []string `json:"links,omitempty"`
}
