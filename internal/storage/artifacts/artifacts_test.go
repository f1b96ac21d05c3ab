package artifacts

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/specforge/internal/common"
	"github.com/ternarybob/specforge/internal/interfaces"
	"github.com/ternarybob/specforge/internal/models"
	"github.com/ternarybob/specforge/internal/orchestrator"
)

func newTestStore(t *testing.T) (*LocalStore, string) {
	t.Helper()
	root := t.TempDir()
	store, err := NewLocalStore(root, common.GetLogger())
	require.NoError(t, err)
	return store, root
}

func TestLocalStorePutGet(t *testing.T) {
	ctx := context.Background()
	store, root := newTestStore(t)

	require.NoError(t, store.Put(ctx, "final/mice/record.json", []byte(`{"ok":true}`)))

	data, err := store.Get(ctx, "final/mice/record.json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(data))

	_, err = os.Stat(filepath.Join(root, "final", "mice", "record.json"))
	assert.NoError(t, err)

	_, err = store.Get(ctx, "final/mice/missing.json")
	assert.ErrorIs(t, err, interfaces.ErrKeyNotFound)
}

func TestLocalStoreAppendLine(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	require.NoError(t, store.AppendLine(ctx, "runs/evidence.jsonl", []byte(`{"n":1}`)))
	require.NoError(t, store.AppendLine(ctx, "runs/evidence.jsonl", []byte(`{"n":2}`+"\n")))

	data, err := store.Get(ctx, "runs/evidence.jsonl")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	assert.Equal(t, []string{`{"n":1}`, `{"n":2}`}, lines)
}

func TestLocalStoreRejectsEscapingKeys(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	assert.Error(t, store.Put(ctx, "../outside.json", []byte("x")))
	assert.Error(t, store.Put(ctx, "", []byte("x")))
}

func TestSlug(t *testing.T) {
	assert.Equal(t, "pro-x-superlight", Slug("PRO X SUPERLIGHT"))
	assert.Equal(t, "logitech-g", Slug("  Logitech/G  "))
	assert.Equal(t, "unknown", Slug("***"))
}

func TestPersistRunLayout(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)
	writer := NewRunWriter(store, common.GetLogger())

	result := &orchestrator.RunResult{
		Job: &models.Job{
			ProductID: "p-1",
			Category:  "gaming-mice",
			IdentityLock: models.IdentityLock{
				Brand: "Logitech",
				Model: "PRO X SUPERLIGHT",
			},
		},
		StopReason: "complete",
		Rounds:     1,
		Summary: &orchestrator.RoundSummary{
			Round:      0,
			Validated:  true,
			FieldOrder: []string{"brand", "model", "weight"},
			Provenance: map[string]models.FieldProvenance{},
		},
		Summaries: []*orchestrator.RoundSummary{{Round: 0}},
		Record: &models.NormalizedRecord{
			ID:       "p-1",
			Brand:    "Logitech",
			Model:    "PRO X SUPERLIGHT",
			Category: "gaming-mice",
			Quality:  models.Quality{Validated: true, Confidence: 0.97},
			Fields: map[string]string{
				"brand":  "Logitech",
				"model":  "PRO X SUPERLIGHT",
				"weight": "63",
			},
		},
	}

	require.NoError(t, writer.PersistRun(ctx, "run-1", result))

	prefix := "final/gaming-mice/logitech/pro-x-superlight/runs/run-1"
	for _, key := range []string{"normalized.json", "provenance.json", "summary.json", "rounds.jsonl"} {
		_, err := store.Get(ctx, prefix+"/"+key)
		assert.NoError(t, err, key)
	}

	sheet, err := store.Get(ctx, "final/gaming-mice/specsheet.tsv")
	require.NoError(t, err)
	row := strings.TrimSpace(string(sheet))
	cells := strings.Split(row, "\t")
	require.Len(t, cells, 9)
	assert.Equal(t, "p-1", cells[0])
	assert.Equal(t, "run-1", cells[1])
	assert.Equal(t, "true", cells[4])
	assert.Equal(t, "0.970", cells[5])
	assert.Equal(t, "63", cells[8])

	header, err := store.Get(ctx, "final/gaming-mice/specsheet.columns.tsv")
	require.NoError(t, err)
	assert.Equal(t, "product_id\trun_id\tbrand\tmodel\tvalidated\tconfidence\tbrand\tmodel\tweight",
		strings.TrimSpace(string(header)))
}

func TestPersistRunAppendsSheetRows(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)
	writer := NewRunWriter(store, common.GetLogger())

	base := &orchestrator.RunResult{
		Job: &models.Job{
			ProductID:    "p-1",
			Category:     "gaming-mice",
			IdentityLock: models.IdentityLock{Brand: "Logitech", Model: "G502"},
		},
		Record: &models.NormalizedRecord{ID: "p-1", Brand: "Logitech", Model: "G502"},
	}

	require.NoError(t, writer.PersistRun(ctx, "run-1", base))
	require.NoError(t, writer.PersistRun(ctx, "run-2", base))

	sheet, err := store.Get(ctx, "final/gaming-mice/specsheet.tsv")
	require.NoError(t, err)
	assert.Len(t, strings.Split(strings.TrimSpace(string(sheet)), "\n"), 2)
}
