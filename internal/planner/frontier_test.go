package planner

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
)

func testCategoryConfig(t *testing.T) *category.Config {
	t.Helper()
	root := t.TempDir()
	dir := filepath.Join(root, "gaming_mice")
	require.NoError(t, os.MkdirAll(dir, 0755))

	write := func(name string, value interface{}) {
		data, err := json.Marshal(value)
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), data, 0644))
	}
	write(category.FileSchema, category.Schema{})
	write(category.FileSources, category.SourceRegistry{
		Approved: category.ApprovedHosts{
			Manufacturer: []string{"logitechg.com"},
			Lab:          []string{"rtings.com"},
			Retailer:     []string{"amazon.com"},
		},
		Denylist: []string{"spam.example.com"},
	})

	cfg, err := category.Load(root, "gaming_mice")
	require.NoError(t, err)
	return cfg
}

func TestFrontierOrderingPolicy(t *testing.T) {
	cfg := testCategoryConfig(t)
	frontier := NewFrontier(cfg, nil, common.GetLogger())
	ctx := context.Background()

	// Enqueued worst-first; ordering must come from policy, not insertion
	require.True(t, frontier.Enqueue(ctx, "https://random-blog.net/review", ""))
	require.True(t, frontier.Enqueue(ctx, "https://amazon.com/dp/B08XYZ", ""))
	require.True(t, frontier.Enqueue(ctx, "https://rtings.com/mouse/reviews/logitech", ""))
	require.True(t, frontier.Enqueue(ctx, "https://logitechg.com/products/pro-x-superlight/specs.html", ""))

	now := time.Now()
	var order []models.SourceRole
	for {
		source, ok := frontier.Next(now)
		if !ok {
			break
		}
		order = append(order, source.Role)
	}
	assert.Equal(t, []models.SourceRole{
		models.RoleManufacturer,
		models.RoleLab,
		models.RoleRetailer,
		models.RoleOther,
	}, order)
}

func TestFrontierDedupeByCanonicalURL(t *testing.T) {
	cfg := testCategoryConfig(t)
	frontier := NewFrontier(cfg, nil, common.GetLogger())
	ctx := context.Background()

	assert.True(t, frontier.Enqueue(ctx, "https://logitechg.com/specs?utm_source=x", ""))
	// Same canonical URL: tracking param stripped, trailing slash removed
	assert.False(t, frontier.Enqueue(ctx, "https://logitechg.com/specs/", ""))
	assert.Equal(t, 1, frontier.Pending())
}

func TestFrontierDropsDeniedHosts(t *testing.T) {
	cfg := testCategoryConfig(t)
	frontier := NewFrontier(cfg, nil, common.GetLogger())

	assert.False(t, frontier.Enqueue(context.Background(), "https://spam.example.com/page", ""))
	assert.Equal(t, 0, frontier.Pending())
}

func TestFrontierTiesBreakByInsertionOrder(t *testing.T) {
	cfg := testCategoryConfig(t)
	frontier := NewFrontier(cfg, nil, common.GetLogger())
	ctx := context.Background()

	require.True(t, frontier.Enqueue(ctx, "https://blog-one.net/a", ""))
	require.True(t, frontier.Enqueue(ctx, "https://blog-two.net/a", ""))

	now := time.Now()
	first, ok := frontier.Next(now)
	require.True(t, ok)
	second, ok := frontier.Next(now)
	require.True(t, ok)
	assert.Equal(t, "blog-one.net", first.Host)
	assert.Equal(t, "blog-two.net", second.Host)
}

func TestFrontierRespectsHostBackoff(t *testing.T) {
	cfg := testCategoryConfig(t)
	frontier := NewFrontier(cfg, nil, common.GetLogger())
	ctx := context.Background()
	now := time.Now()

	require.True(t, frontier.Enqueue(ctx, "https://logitechg.com/specs", ""))
	require.True(t, frontier.Enqueue(ctx, "https://rtings.com/review", ""))

	frontier.RecordOutcome("logitechg.com", models.OutcomeRateLimited, now)

	// Rate-limited host skipped even though it outranks the lab
	source, ok := frontier.Next(now)
	require.True(t, ok)
	assert.Equal(t, "rtings.com", source.Host)

	// After the backoff window the host is eligible again
	source, ok = frontier.Next(now.Add(16 * time.Minute))
	require.True(t, ok)
	assert.Equal(t, "logitechg.com", source.Host)
}

func TestFrontierBlockHostDropsQueued(t *testing.T) {
	cfg := testCategoryConfig(t)
	frontier := NewFrontier(cfg, nil, common.GetLogger())
	ctx := context.Background()

	require.True(t, frontier.Enqueue(ctx, "https://logitechg.com/a", ""))
	require.True(t, frontier.Enqueue(ctx, "https://logitechg.com/b", ""))
	require.True(t, frontier.Enqueue(ctx, "https://rtings.com/c", ""))

	frontier.BlockHost("logitechg.com", "brand_mismatch")
	assert.Equal(t, 1, frontier.Pending())

	source, ok := frontier.Next(time.Now())
	require.True(t, ok)
	assert.Equal(t, "rtings.com", source.Host)
	_, ok = frontier.Next(time.Now())
	assert.False(t, ok)
}

func TestHostBudgetBackoffOnlyMovesForward(t *testing.T) {
	budget := NewHostBudget("example.com")
	now := time.Now()

	budget.RecordOutcome(models.OutcomeNetworkTimeout, now)
	sixHours := budget.NextRetryTS
	assert.True(t, sixHours.After(now.Add(5*time.Hour)))

	// A later rate-limit (15 min) must not pull the retry time backward
	budget.RecordOutcome(models.OutcomeRateLimited, now.Add(time.Minute))
	assert.Equal(t, sixHours, budget.NextRetryTS)
}

func TestHostBudgetStates(t *testing.T) {
	now := time.Now()

	budget := NewHostBudget("example.com")
	assert.Equal(t, HostOpen, budget.State(now))

	budget.RecordOutcome(models.OutcomeOK, now)
	assert.Equal(t, HostActive, budget.State(now))

	budget.RecordOutcome(models.OutcomeBadContent, now)
	budget.RecordOutcome(models.OutcomeBadContent, now)
	budget.RecordOutcome(models.OutcomeBadContent, now)
	assert.Equal(t, HostDegraded, budget.State(now))

	budget.RecordOutcome(models.OutcomeRateLimited, now)
	assert.Equal(t, HostBackoff, budget.State(now))

	budget.BlockForRun()
	assert.Equal(t, HostBlocked, budget.State(now))
	assert.False(t, budget.Fetchable(now))
}

func TestHostBudgetScoreCapAndEvidenceGain(t *testing.T) {
	budget := NewHostBudget("example.com")
	now := time.Now()
	for i := 0; i < 100; i++ {
		budget.RecordOutcome(models.OutcomeOK, now)
		budget.RecordEvidenceUsed()
	}
	assert.InDelta(t, scoreCap, budget.Score, 1e-9)
	assert.Equal(t, 100, budget.EvidenceUsed)
}
