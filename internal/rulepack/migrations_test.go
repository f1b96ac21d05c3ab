package rulepack

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/specforge/internal/models"
)

func rulesDocOf(keys ...string) *FieldRulesDoc {
	doc := &FieldRulesDoc{
		Fields:     map[string]models.FieldRule{},
		FieldOrder: keys,
	}
	for _, key := range keys {
		doc.Fields[key] = models.FieldRule{
			FieldKey:    key,
			DataType:    models.DataTypeString,
			OutputShape: models.OutputShapeScalar,
		}
	}
	return doc
}

func TestBuildKeyMigrationsFirstCompile(t *testing.T) {
	out := BuildKeyMigrations(nil, rulesDocOf("brand", "model"), nil, nil)
	assert.Equal(t, "1.0.0", out.Version)
	assert.Equal(t, "minor", out.Bump)
	assert.Empty(t, out.PreviousVersion)
}

func TestBuildKeyMigrationsBumps(t *testing.T) {
	previous := rulesDocOf("brand", "model", "weight")
	previousMigrations := &models.KeyMigrations{Version: "1.2.3", KeyMap: map[string]string{}}

	tests := []struct {
		name        string
		current     *FieldRulesDoc
		wantBump    string
		wantVersion string
	}{
		{"no change", rulesDocOf("brand", "model", "weight"), "patch", "1.2.4"},
		{"field added", rulesDocOf("brand", "model", "weight", "sensor"), "minor", "1.3.0"},
		{"field removed", rulesDocOf("brand", "model"), "major", "2.0.0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := BuildKeyMigrations(previous, tt.current, previousMigrations, nil)
			assert.Equal(t, tt.wantBump, out.Bump)
			assert.Equal(t, tt.wantVersion, out.Version)
			assert.Equal(t, "1.2.3", out.PreviousVersion)
		})
	}
}

func TestBuildKeyMigrationsTypeChangeIsMajor(t *testing.T) {
	previous := rulesDocOf("weight")
	current := rulesDocOf("weight")
	rule := current.Fields["weight"]
	rule.DataType = models.DataTypeNumber
	current.Fields["weight"] = rule

	out := BuildKeyMigrations(previous, current, &models.KeyMigrations{Version: "1.0.0"}, nil)
	assert.Equal(t, "major", out.Bump)
	assert.Equal(t, "2.0.0", out.Version)
}

func TestBuildKeyMigrationsRenameNotCountedAsRemoval(t *testing.T) {
	previous := rulesDocOf("weight_g", "brand")
	current := rulesDocOf("weight_grams", "brand")

	out := BuildKeyMigrations(previous, current, &models.KeyMigrations{Version: "1.0.0"},
		map[string]string{"weight_g": "weight_grams"})

	// A declared rename must not trigger the major bump removal would
	assert.Equal(t, "minor", out.Bump)
	assert.Equal(t, "weight_grams", out.KeyMap["weight_g"])

	require.NotEmpty(t, out.Migrations)
	assert.Equal(t, models.MigrationRename, out.Migrations[0].Type)
	assert.Equal(t, "weight_g", out.Migrations[0].From)
}

func TestBuildKeyMigrationsCarriesForwardKeyMap(t *testing.T) {
	previous := rulesDocOf("weight_grams")
	previousMigrations := &models.KeyMigrations{
		Version: "1.1.0",
		KeyMap:  map[string]string{"weight_g": "weight_grams"},
	}
	out := BuildKeyMigrations(previous, rulesDocOf("weight_grams"), previousMigrations, nil)
	assert.Equal(t, "weight_grams", out.KeyMap["weight_g"])
}

func TestApplyKeyMigrations(t *testing.T) {
	migrations := &models.KeyMigrations{
		KeyMap: map[string]string{
			"weight_g": "weight_grams",
			"conn":     "connection_type",
		},
	}
	record := map[string]string{
		"weight_g": "59",
		"conn":     "wireless",
		"brand":    "Logitech",
	}

	out := ApplyKeyMigrations(record, migrations)
	assert.Equal(t, "59", out["weight_grams"])
	assert.Equal(t, "wireless", out["connection_type"])
	assert.Equal(t, "Logitech", out["brand"])
	assert.NotContains(t, out, "weight_g")

	// Idempotent: applying the mapped record again changes nothing
	again := ApplyKeyMigrations(out, migrations)
	assert.Equal(t, out, again)
}

func TestApplyKeyMigrationsCycleGuard(t *testing.T) {
	migrations := &models.KeyMigrations{
		KeyMap: map[string]string{"a": "b", "b": "a"},
	}
	out := ApplyKeyMigrations(map[string]string{"a": "1"}, migrations)
	// The chain must terminate; the value survives under one of the keys
	assert.Len(t, out, 1)
}

func TestApplyKeyMigrationsDoesNotClobberCanonicalKey(t *testing.T) {
	migrations := &models.KeyMigrations{
		KeyMap: map[string]string{"weight_g": "weight_grams"},
	}
	record := map[string]string{
		"weight_g":     "59",
		"weight_grams": "60",
	}
	out := ApplyKeyMigrations(record, migrations)
	// The already-canonical key keeps its value
	assert.Equal(t, "60", out["weight_grams"])
	assert.Len(t, out, 1)
}

func TestBumpSemverMalformedResets(t *testing.T) {
	assert.Equal(t, "1.0.0", bumpSemver("garbage", "minor"))
	assert.Equal(t, "1.0.0", bumpSemver("1.x.0", "patch"))
}
