package automation

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/specforge/internal/common"
	"github.com/ternarybob/specforge/internal/interfaces"
	"github.com/ternarybob/specforge/internal/models"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "automation.db"), common.GetLogger())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestEnqueueDeduplicates(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	first, created, err := store.Enqueue(ctx, "recompile", "recompile:gaming_mice", `{"category":"gaming_mice"}`)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, models.AutomationQueued, first.Status)

	second, created, err := store.Enqueue(ctx, "recompile", "recompile:gaming_mice", `{"category":"gaming_mice"}`)
	require.NoError(t, err)
	assert.False(t, created, "same dedupe key returns the existing row")
	assert.Equal(t, first.ID, second.ID)
}

func TestTransitionsAndAuditTrail(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	job, _, err := store.Enqueue(ctx, "recompile", "k1", "")
	require.NoError(t, err)

	// queued -> done skips running
	err = store.Transition(ctx, job.ID, models.AutomationDone, "")
	assert.ErrorIs(t, err, interfaces.ErrInvalidTransition)

	require.NoError(t, store.Transition(ctx, job.ID, models.AutomationRunning, "claimed"))
	require.NoError(t, store.Transition(ctx, job.ID, models.AutomationFailed, "boom"))
	require.NoError(t, store.Transition(ctx, job.ID, models.AutomationQueued, "retry"))

	trail, err := store.AuditTrail(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, trail, 3)
	assert.Equal(t, models.AutomationQueued, trail[0].FromStatus)
	assert.Equal(t, models.AutomationRunning, trail[0].ToStatus)
	assert.Equal(t, "boom", trail[1].Note)
	assert.Equal(t, models.AutomationQueued, trail[2].ToStatus)

	err = store.Transition(ctx, "missing", models.AutomationRunning, "")
	assert.ErrorIs(t, err, interfaces.ErrProductNotFound)
}

func TestClaimTakesOldestQueued(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	older, _, err := store.Enqueue(ctx, "recompile", "k1", "")
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	_, _, err = store.Enqueue(ctx, "recompile", "k2", "")
	require.NoError(t, err)

	claimed, ok, err := store.Claim(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, older.ID, claimed.ID)
	assert.Equal(t, models.AutomationRunning, claimed.Status)

	_, ok, err = store.Claim(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	_, ok, err = store.Claim(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "queue drained")
}

func TestExpireStale(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	job, _, err := store.Enqueue(ctx, "recompile", "k1", "")
	require.NoError(t, err)

	expired, err := store.ExpireStale(ctx, time.Hour)
	require.NoError(t, err)
	assert.Zero(t, expired, "fresh jobs stay queued")

	expired, err = store.ExpireStale(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, expired)

	got, err := store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AutomationFailed, got.Status)

	trail, err := store.AuditTrail(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, trail, 1)
	assert.Equal(t, "ttl_expired", trail[0].Note)
}

func TestWorkerRunsHandlers(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	handled := 0
	worker := NewWorker(store, map[string]Handler{
		"recompile": func(_ context.Context, job *models.AutomationJob) error {
			handled++
			return nil
		},
	}, 3, time.Minute, common.GetLogger())

	job, _, err := store.Enqueue(ctx, "recompile", "k1", "")
	require.NoError(t, err)

	processed, err := worker.ProcessNext(ctx)
	require.NoError(t, err)
	assert.True(t, processed)
	assert.Equal(t, 1, handled)

	got, err := store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AutomationDone, got.Status)

	processed, err = worker.ProcessNext(ctx)
	require.NoError(t, err)
	assert.False(t, processed)
}

func TestWorkerMissingHandlerFailsJob(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	job, _, err := store.Enqueue(ctx, "mystery", "k1", "")
	require.NoError(t, err)

	worker := NewWorker(store, map[string]Handler{}, 3, time.Minute, common.GetLogger())
	processed, err := worker.ProcessNext(ctx)
	assert.True(t, processed)
	assert.True(t, errors.Is(err, interfaces.ErrJobHandlerMissing))

	got, err := store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AutomationFailed, got.Status)
}

func TestWorkerDomainBackoffAndBlocking(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	worker := NewWorker(store, map[string]Handler{
		"fetch": func(_ context.Context, job *models.AutomationJob) error {
			return errors.New("connection refused")
		},
	}, 2, time.Minute, common.GetLogger())

	payload := `{"domain":"flaky.example.com"}`
	first, _, err := store.Enqueue(ctx, "fetch", "k1", payload)
	require.NoError(t, err)
	second, _, err := store.Enqueue(ctx, "fetch", "k2", payload)
	require.NoError(t, err)
	third, _, err := store.Enqueue(ctx, "fetch", "k3", payload)
	require.NoError(t, err)

	// First failure starts the backoff window
	_, err = worker.ProcessNext(ctx)
	require.NoError(t, err)
	got, err := store.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AutomationFailed, got.Status)
	assert.False(t, worker.DomainBlocked("flaky.example.com"))

	// Second job hits the backoff window and is parked, not executed
	_, err = worker.ProcessNext(ctx)
	require.NoError(t, err)
	trail, err := store.AuditTrail(ctx, second.ID)
	require.NoError(t, err)
	assert.Contains(t, trail[len(trail)-1].Note, "domain_backoff")

	// Requeue the parked job once the domain window is treated as over
	worker.domains["flaky.example.com"].backoffUntil = time.Now().Add(-time.Second)
	requeued, err := worker.RequeueParked(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, requeued)

	// Second real failure reaches the cap and blocks the domain
	_, err = worker.ProcessNext(ctx)
	require.NoError(t, err)
	assert.True(t, worker.DomainBlocked("flaky.example.com"))

	// Remaining jobs for the domain fail immediately
	_, err = worker.ProcessNext(ctx)
	require.NoError(t, err)
	got, err = store.Get(ctx, third.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AutomationFailed, got.Status)
	trail, err = store.AuditTrail(ctx, third.ID)
	require.NoError(t, err)
	assert.Contains(t, trail[len(trail)-1].Note, "domain_blocked")
}
