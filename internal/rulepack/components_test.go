package rulepack

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/specforge/internal/models"
)

func TestComponentTokenFormat(t *testing.T) {
	entry := models.ComponentEntry{CanonicalName: "HERO 25K", Maker: "Logitech"}
	assert.Equal(t, "hero_25k::logitech", ComponentToken(entry))
}

func TestIndexComponentsCollisionSuffix(t *testing.T) {
	entries := []models.ComponentEntry{
		{CanonicalName: "PAW3395", Maker: "PixArt", ComponentType: "sensor"},
		{CanonicalName: "PAW3395", Maker: "PixArt", ComponentType: "sensor"},
	}
	index := indexComponents(entries, nil)

	_, ok := index.Components["paw3395::pixart"]
	assert.True(t, ok)
	_, ok = index.Components["paw3395::pixart#2"]
	assert.True(t, ok, "colliding token should get a load-order suffix")
}

func TestComponentResolveAliases(t *testing.T) {
	entries := []models.ComponentEntry{
		{
			CanonicalName: "PAW3395",
			Maker:         "PixArt",
			ComponentType: "sensor",
			Aliases:       []string{"PAW-3395", "pixart 3395"},
		},
	}
	index := indexComponents(entries, nil)

	tests := []struct {
		mention string
		wantOK  bool
	}{
		{"paw3395", true},
		{"PAW 3395", true},      // whitespace/punctuation insensitive
		{"pixart paw3395", true}, // maker-prefixed form
		{"pixart 3395", true},
		{"unknown sensor", false},
	}
	for _, tt := range tests {
		t.Run(tt.mention, func(t *testing.T) {
			token, ok := index.Resolve(tt.mention)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, "paw3395::pixart", token)
			}
		})
	}
}

func TestComponentAliasFirstWinsWithAmbiguityTable(t *testing.T) {
	entries := []models.ComponentEntry{
		{CanonicalName: "Focus Pro", Maker: "Razer", ComponentType: "sensor", Aliases: []string{"focus"}},
		{CanonicalName: "Focus X", Maker: "Razer", ComponentType: "sensor", Aliases: []string{"focus"}},
	}
	index := indexComponents(entries, nil)

	token, ok := index.Resolve("focus")
	require.True(t, ok)
	assert.Equal(t, "focus_pro::razer", token, "first claimant wins")

	claimants := index.AmbiguousFor("focus")
	assert.ElementsMatch(t, []string{"focus_pro::razer", "focus_x::razer"}, claimants)
	assert.Nil(t, index.AmbiguousFor("focus pro"))
}

func TestBuildComponentIndexWithOverrides(t *testing.T) {
	root := t.TempDir()
	category := "gaming_mice"

	baseDir := filepath.Join(root, category, DirGenerated, DirComponentDB)
	require.NoError(t, os.MkdirAll(baseDir, 0755))
	base := []models.ComponentEntry{
		{CanonicalName: "HERO 25K", Maker: "Logitech", ComponentType: "sensor"},
	}
	writeJSONFile(t, filepath.Join(baseDir, "sensors.json"), base)

	overrideDir := filepath.Join(root, category, DirOverrides, DirComponentOverrides)
	require.NoError(t, os.MkdirAll(overrideDir, 0755))
	override := ComponentOverrideDoc{
		Mode: "merge",
		Components: []models.ComponentEntry{
			{CanonicalName: "HERO 2", Maker: "Logitech", ComponentType: "sensor"},
		},
		Aliases: map[string][]string{
			"hero_25k::logitech": {"hero25k sensor"},
		},
	}
	writeJSONFile(t, filepath.Join(overrideDir, "extra.json"), override)

	index, err := BuildComponentIndex(root, category)
	require.NoError(t, err)

	_, ok := index.Components["hero_25k::logitech"]
	assert.True(t, ok)
	_, ok = index.Components["hero_2::logitech"]
	assert.True(t, ok, "merge override should add entries")

	token, ok := index.Resolve("hero25k sensor")
	require.True(t, ok, "override aliases should be indexed")
	assert.Equal(t, "hero_25k::logitech", token)
}

func TestBuildComponentIndexReplaceOverride(t *testing.T) {
	root := t.TempDir()
	category := "gaming_mice"

	baseDir := filepath.Join(root, category, DirGenerated, DirComponentDB)
	require.NoError(t, os.MkdirAll(baseDir, 0755))
	writeJSONFile(t, filepath.Join(baseDir, "sensors.json"), []models.ComponentEntry{
		{CanonicalName: "Old Sensor", Maker: "Acme", ComponentType: "sensor"},
	})

	overrideDir := filepath.Join(root, category, DirOverrides, DirComponentOverrides)
	require.NoError(t, os.MkdirAll(overrideDir, 0755))
	writeJSONFile(t, filepath.Join(overrideDir, "replace.json"), ComponentOverrideDoc{
		Mode: "replace",
		Components: []models.ComponentEntry{
			{CanonicalName: "New Sensor", Maker: "Acme", ComponentType: "sensor"},
		},
	})

	index, err := BuildComponentIndex(root, category)
	require.NoError(t, err)

	_, ok := index.Components["old_sensor::acme"]
	assert.False(t, ok, "replace override should drop base entries")
	_, ok = index.Components["new_sensor::acme"]
	assert.True(t, ok)
}

func writeJSONFile(t *testing.T, path string, value interface{}) {
	t.Helper()
	data, err := json.Marshal(value)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0644))
}
