package app

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/specforge/internal/category"
	"github.com/ternarybob/specforge/internal/common"
	"github.com/ternarybob/specforge/internal/models"
	"github.com/ternarybob/specforge/internal/orchestrator"
	"github.com/ternarybob/specforge/internal/rulepack"
)

func testConfig(t *testing.T) *common.Config {
	t.Helper()
	root := t.TempDir()
	return &common.Config{
		Environment: "development",
		Helper: common.HelperConfig{
			Root:           filepath.Join(root, "helper"),
			CategoriesRoot: filepath.Join(root, "categories"),
			ArtifactsRoot:  filepath.Join(root, "artifacts"),
		},
		Storage: common.StorageConfig{
			Badger:    common.BadgerConfig{Path: filepath.Join(root, "badger")},
			SQLite:    common.SQLiteConfig{Path: filepath.Join(root, "specforge.db")},
			QueuePath: filepath.Join(root, "queue.json"),
		},
		Logging: common.LoggingConfig{Level: "error", Output: []string{"stdout"}},
		Fetcher: common.FetcherConfig{DryRun: true, RequestTimeout: 5 * time.Second},
		Search:  common.SearchConfig{Provider: "none"},
		LLM:     common.LLMConfig{Offline: true, MaxCallsPerRun: 5, DefaultFieldCalls: 2},
		Runtime: common.RuntimeConfig{
			Mode:                common.ModeBalanced,
			MaxRounds:           3,
			MaxRunSeconds:       30,
			NoProgressRounds:    2,
			MaxLowQualityRounds: 3,
			TargetCompleteness:  0.9,
			TargetConfidence:    0.75,
			URLCapFastPass:      4,
			URLCapDiscovery:     8,
			QueueBaseBackoff:    time.Minute,
			QueueMaxAttempts:    2,
			SweepSchedule:       "@every 5m",
			AutomationJobTTL:    time.Hour,
		},
	}
}

func scaffoldCategory(t *testing.T, config *common.Config) {
	t.Helper()
	logger := common.GetLogger()

	initResult := rulepack.InitCategory(config.Helper.Root, "gaming_mice", logger)
	require.True(t, initResult.Envelope.OK, "init: %v", initResult.Envelope.Errors)

	workbook := rulepack.WorkbookDoc{
		Category: "gaming_mice",
		Fields: []rulepack.WorkbookField{
			{Name: "brand", RequiredLevel: "critical", Group: "identity"},
			{Name: "model", RequiredLevel: "critical", Group: "identity"},
			{Name: "weight", RequiredLevel: "required", DataType: "number", Unit: "g"},
		},
	}
	data, err := json.Marshal(workbook)
	require.NoError(t, err)
	workbookPath := filepath.Join(config.Helper.Root, "gaming_mice", rulepack.DirSource, rulepack.FileWorkbookFields)
	require.NoError(t, os.WriteFile(workbookPath, data, 0644))

	compiler := rulepack.NewCompiler(config.Helper.Root, logger)
	compileResult, err := compiler.Compile("gaming_mice", false)
	require.NoError(t, err)
	require.True(t, compileResult.Envelope.OK, "compile: %v", compileResult.Envelope.Errors)

	categoryDir := filepath.Join(config.Helper.CategoriesRoot, "gaming_mice")
	require.NoError(t, os.MkdirAll(categoryDir, 0755))
	write := func(name string, value interface{}) {
		encoded, err := json.Marshal(value)
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(filepath.Join(categoryDir, name), encoded, 0644))
	}
	write(category.FileSchema, category.Schema{
		Category:       "gaming_mice",
		RequiredFields: []string{"brand", "model", "weight"},
		CriticalFields: []string{"brand", "model"},
	})
	write(category.FileSources, category.SourceRegistry{
		Approved: category.ApprovedHosts{
			Manufacturer: []string{"logitechg.com"},
			Lab:          []string{"rtings.com"},
		},
	})
}

func newTestApp(t *testing.T) *App {
	t.Helper()
	config := testConfig(t)
	scaffoldCategory(t, config)

	a, err := New(context.Background(), config, common.GetLogger())
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func TestSaveAndLoadJob(t *testing.T) {
	ctx := context.Background()
	a := newTestApp(t)

	job := &models.Job{
		ProductID:    "p-1",
		Category:     "gaming_mice",
		IdentityLock: models.IdentityLock{Brand: "Logitech", Model: "PRO X SUPERLIGHT"},
	}
	require.NoError(t, a.SaveJob(ctx, job))

	loaded, err := a.LoadJob(ctx, JobKey("gaming_mice", "p-1"))
	require.NoError(t, err)
	assert.Equal(t, job.IdentityLock, loaded.IdentityLock)
}

func TestRunJobPersistsArtifacts(t *testing.T) {
	ctx := context.Background()
	a := newTestApp(t)

	job := &models.Job{
		ProductID:    "p-1",
		Category:     "gaming_mice",
		IdentityLock: models.IdentityLock{Brand: "Logitech", Model: "PRO X SUPERLIGHT"},
	}

	// Dry-run fetcher serves no pages, so every seed 404s and identity
	// never establishes
	result, err := a.RunJob(ctx, job)
	require.NoError(t, err)
	assert.Equal(t, orchestrator.StopIdentityStuck, result.StopReason)
	require.NotNil(t, result.Record)

	runDirs, err := filepath.Glob(filepath.Join(
		a.Config.Helper.ArtifactsRoot, "final", "gaming-mice", "logitech", "pro-x-superlight", "runs", "*"))
	require.NoError(t, err)
	require.Len(t, runDirs, 1)

	for _, name := range []string{"normalized.json", "summary.json", "summary.md"} {
		_, err := os.Stat(filepath.Join(runDirs[0], name))
		assert.NoError(t, err, name)
	}
}

func TestProcessQueueOnce(t *testing.T) {
	ctx := context.Background()
	a := newTestApp(t)

	empty, err := a.ProcessQueueOnce(ctx)
	require.NoError(t, err)
	assert.False(t, empty, "empty queue runs nothing")

	job := &models.Job{
		ProductID:    "p-1",
		Category:     "gaming_mice",
		IdentityLock: models.IdentityLock{Brand: "Logitech", Model: "PRO X SUPERLIGHT"},
	}
	require.NoError(t, a.SaveJob(ctx, job))
	require.NoError(t, a.Queue.Add(models.QueueProduct{
		ProductID: "p-1",
		Category:  "gaming_mice",
		S3Key:     JobKey("gaming_mice", "p-1"),
		Status:    models.ProductPending,
	}))

	ran, err := a.ProcessQueueOnce(ctx)
	require.NoError(t, err)
	assert.True(t, ran)

	products, err := a.Queue.List()
	require.NoError(t, err)
	require.Len(t, products, 1)
	// Identity never establishes against the empty dry-run fetcher, so
	// the product lands in needs_manual rather than retrying forever
	assert.Equal(t, models.ProductNeedsManual, products[0].Status)
}

func TestRunUntilCompleteDrainsQueue(t *testing.T) {
	ctx := context.Background()
	a := newTestApp(t)

	for _, id := range []string{"p-1", "p-2"} {
		job := &models.Job{
			ProductID:    id,
			Category:     "gaming_mice",
			IdentityLock: models.IdentityLock{Brand: "Logitech", Model: "G502"},
		}
		require.NoError(t, a.SaveJob(ctx, job))
		require.NoError(t, a.Queue.Add(models.QueueProduct{
			ProductID: id,
			Category:  "gaming_mice",
			S3Key:     JobKey("gaming_mice", id),
			Status:    models.ProductPending,
		}))
	}

	processed, err := a.RunUntilComplete(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, processed)
}

func TestAutomationCompileHandler(t *testing.T) {
	ctx := context.Background()
	a := newTestApp(t)

	payload := `{"category":"gaming_mice"}`
	_, created, err := a.Automation.Enqueue(ctx, JobTypeCompileCategory, "compile:gaming_mice", payload)
	require.NoError(t, err)
	require.True(t, created)

	processed, err := a.Worker.ProcessNext(ctx)
	require.NoError(t, err)
	assert.True(t, processed)
}
