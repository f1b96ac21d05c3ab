package badger

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/specforge/internal/common"
	"github.com/ternarybob/specforge/internal/interfaces"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	config := &common.BadgerConfig{Path: filepath.Join(t.TempDir(), "badger")}
	manager, err := NewManager(common.GetLogger(), config)
	require.NoError(t, err)
	t.Cleanup(func() { manager.Close() })
	return manager
}

func TestKVStorageRoundTrip(t *testing.T) {
	ctx := context.Background()
	kv := newTestManager(t).KeyValueStorage()

	require.NoError(t, kv.Set(ctx, "Bing-API-Key", "secret", "search credential"))

	value, err := kv.Get(ctx, "bing-api-key")
	require.NoError(t, err)
	assert.Equal(t, "secret", value, "keys are case-insensitive")

	_, err = kv.Get(ctx, "missing")
	assert.ErrorIs(t, err, interfaces.ErrKeyNotFound)
}

func TestKVStoragePreservesCreatedAt(t *testing.T) {
	ctx := context.Background()
	manager := newTestManager(t)
	kv := manager.kv

	require.NoError(t, kv.Set(ctx, "setting", "one", ""))

	var first interfaces.KeyValuePair
	require.NoError(t, manager.db.Store().Get("setting", &first))

	require.NoError(t, kv.Set(ctx, "setting", "two", ""))

	var second interfaces.KeyValuePair
	require.NoError(t, manager.db.Store().Get("setting", &second))
	assert.Equal(t, "two", second.Value)
	assert.Equal(t, first.CreatedAt, second.CreatedAt)
	assert.True(t, second.UpdatedAt.After(first.UpdatedAt) || second.UpdatedAt.Equal(first.UpdatedAt))
}

func TestKVStorageDelete(t *testing.T) {
	ctx := context.Background()
	kv := newTestManager(t).KeyValueStorage()

	require.NoError(t, kv.Set(ctx, "temp", "x", ""))
	require.NoError(t, kv.Delete(ctx, "TEMP"))

	_, err := kv.Get(ctx, "temp")
	assert.ErrorIs(t, err, interfaces.ErrKeyNotFound)

	assert.ErrorIs(t, kv.Delete(ctx, "temp"), interfaces.ErrKeyNotFound)
}

func TestKVStorageRejectsEmptyKey(t *testing.T) {
	ctx := context.Background()
	kv := newTestManager(t).KeyValueStorage()

	assert.Error(t, kv.Set(ctx, "  ", "x", ""))
	_, err := kv.Get(ctx, "")
	assert.Error(t, err)
}

func TestLearningURLYieldIncrements(t *testing.T) {
	ctx := context.Background()
	manager := newTestManager(t)
	learning := manager.LearningStorage()

	url := "https://logitechg.com/pro-x-superlight"
	require.NoError(t, learning.RecordURLYield(ctx, url, "weight", "gaming-mice"))
	require.NoError(t, learning.RecordURLYield(ctx, url, "weight", "gaming-mice"))

	var entry interfaces.URLMemoryEntry
	require.NoError(t, manager.db.Store().Get(url, &entry))
	assert.Equal(t, 2, entry.RunsSeen)
	assert.Equal(t, "weight", entry.Field)
	assert.Equal(t, "gaming-mice", entry.Category)
}

func TestDomainFieldScore(t *testing.T) {
	ctx := context.Background()
	learning := newTestManager(t).LearningStorage()

	// Unseen domains score zero without erroring
	score, err := learning.DomainFieldScore(ctx, "unknown.com", "weight")
	require.NoError(t, err)
	assert.Zero(t, score)

	require.NoError(t, learning.RecordDomainFieldSeen(ctx, "rtings.com", "weight"))
	require.NoError(t, learning.RecordDomainFieldSeen(ctx, "rtings.com", "weight"))
	require.NoError(t, learning.RecordDomainFieldSeen(ctx, "rtings.com", "weight"))
	require.NoError(t, learning.RecordDomainFieldUsed(ctx, "rtings.com", "weight"))
	require.NoError(t, learning.RecordDomainFieldUsed(ctx, "rtings.com", "weight"))

	score, err = learning.DomainFieldScore(ctx, "RTINGS.com", "weight")
	require.NoError(t, err)
	assert.InDelta(t, 2.0/3.0, score, 0.001)

	// Scores are keyed per field
	score, err = learning.DomainFieldScore(ctx, "rtings.com", "sensor")
	require.NoError(t, err)
	assert.Zero(t, score)
}

func TestTopAnchorPhrases(t *testing.T) {
	ctx := context.Background()
	learning := newTestManager(t).LearningStorage()

	for i := 0; i < 3; i++ {
		require.NoError(t, learning.RecordAnchorPhrase(ctx, "weight", "gaming-mice", "Weight"))
	}
	require.NoError(t, learning.RecordAnchorPhrase(ctx, "weight", "gaming-mice", "Mass"))
	require.NoError(t, learning.RecordAnchorPhrase(ctx, "weight", "keyboards", "Weight"))

	phrases, err := learning.TopAnchorPhrases(ctx, "weight", "gaming-mice", 10)
	require.NoError(t, err)
	require.Len(t, phrases, 2)
	assert.Equal(t, "weight", phrases[0].Phrase)
	assert.Equal(t, 3, phrases[0].Count)
	assert.Equal(t, "mass", phrases[1].Phrase)

	limited, err := learning.TopAnchorPhrases(ctx, "weight", "gaming-mice", 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "weight", limited[0].Phrase)
}

func TestRecordComponentAlias(t *testing.T) {
	ctx := context.Background()
	manager := newTestManager(t)
	learning := manager.LearningStorage()

	require.NoError(t, learning.RecordComponentAlias(ctx, "sensor", "HERO 25K"))
	require.NoError(t, learning.RecordComponentAlias(ctx, "sensor", "hero 25k"))

	var alias interfaces.ComponentAlias
	require.NoError(t, manager.db.Store().Get("sensor|hero 25k", &alias))
	assert.Equal(t, 2, alias.Count)
	assert.Equal(t, "sensor", alias.ComponentType)
}

func TestRunGCOnFreshStore(t *testing.T) {
	manager := newTestManager(t)
	// A freshly opened store has nothing to reclaim; that is not an error
	assert.NoError(t, manager.RunGC())
}
