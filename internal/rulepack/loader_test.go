package rulepack

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/specforge/internal/common"
)

func compiledRoot(t *testing.T) string {
	t.Helper()
	root := scaffoldCategory(t, "gaming_mice", testWorkbook())
	compiler := NewCompiler(root, common.GetLogger())
	_, err := compiler.Compile("gaming_mice", false)
	require.NoError(t, err)
	return root
}

func TestLoaderReturnsCachedPack(t *testing.T) {
	root := compiledRoot(t)
	loader := NewLoader()

	first, err := loader.Load(root, "gaming_mice")
	require.NoError(t, err)
	second, err := loader.Load(root, "gaming_mice")
	require.NoError(t, err)

	// Within the probe interval the exact same pack pointer comes back
	assert.Same(t, first, second)
	assert.Equal(t, "gaming_mice", first.Category)
	assert.Equal(t, "1.0.0", first.Version)
}

func TestLoaderInvalidateCache(t *testing.T) {
	root := compiledRoot(t)
	loader := NewLoader()

	first, err := loader.Load(root, "gaming_mice")
	require.NoError(t, err)

	evicted := loader.InvalidateCache("gaming_mice")
	assert.Equal(t, 1, evicted)

	second, err := loader.Load(root, "gaming_mice")
	require.NoError(t, err)
	assert.NotSame(t, first, second, "eviction should force a fresh load")
	assert.Equal(t, first.Version, second.Version)

	// Non-matching substring evicts nothing
	assert.Equal(t, 0, loader.InvalidateCache("keyboards"))
}

func TestLoaderMissingPack(t *testing.T) {
	loader := NewLoader()
	_, err := loader.Load(t.TempDir(), "gaming_mice")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing_or_invalid")
}

func TestPackRuleFollowsKeyMigrations(t *testing.T) {
	root := compiledRoot(t)
	loader := NewLoader()
	pack, err := loader.Load(root, "gaming_mice")
	require.NoError(t, err)

	// Inject a key map as a later compile would produce
	pack.KeyMigrations.KeyMap = map[string]string{"weight_g": "weight"}

	rule, ok := pack.Rule("weight_g")
	require.True(t, ok, "legacy key should resolve through the key map")
	assert.Equal(t, "weight", rule.FieldKey)
}

func TestPackRequiredAndCriticalFields(t *testing.T) {
	root := compiledRoot(t)
	pack, err := NewLoader().Load(root, "gaming_mice")
	require.NoError(t, err)

	assert.Equal(t, []string{"brand", "model", "weight"}, pack.RequiredFields())
	assert.Equal(t, []string{"brand", "model"}, pack.CriticalFields())
}
