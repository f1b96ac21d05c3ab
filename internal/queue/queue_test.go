package queue

import (
	"context"
	"errors"
	"fmt"
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
	return NewStore(filepath.Join(t.TempDir(), "gaming_mice", "queue.json"), common.GetLogger())
}

func TestStoreLoadMissingFileIsEmpty(t *testing.T) {
	store := testStore(t)
	doc, err := store.Load()
	require.NoError(t, err)
	assert.Empty(t, doc.Products)
}

func TestSelectNextPrefersHighestPriority(t *testing.T) {
	store := testStore(t)
	require.NoError(t, store.Add(models.QueueProduct{ProductID: "low", Category: "gaming_mice", Priority: 1}))
	require.NoError(t, store.Add(models.QueueProduct{ProductID: "high", Category: "gaming_mice", Priority: 9}))
	require.NoError(t, store.Add(models.QueueProduct{ProductID: "mid", Category: "gaming_mice", Priority: 5}))

	claimed, ok, err := store.SelectNext(time.Now())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "high", claimed.ProductID)
	assert.Equal(t, models.ProductRunning, claimed.Status)

	// The claimed product stays running; the next claim takes the next
	// highest priority
	claimed, ok, err = store.SelectNext(time.Now())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "mid", claimed.ProductID)
}

func TestSelectNextSkipsBackoff(t *testing.T) {
	store := testStore(t)
	future := time.Now().Add(time.Hour)
	require.NoError(t, store.Add(models.QueueProduct{ProductID: "cooling", Priority: 9, NextRetryAt: &future}))
	require.NoError(t, store.Add(models.QueueProduct{ProductID: "ready", Priority: 1}))

	claimed, ok, err := store.SelectNext(time.Now())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "ready", claimed.ProductID)

	// Past the backoff window the cooled product is runnable again
	_, ok, err = store.SelectNext(time.Now().Add(2 * time.Hour))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRecordFailureBacksOffExponentially(t *testing.T) {
	store := testStore(t)
	require.NoError(t, store.Add(models.QueueProduct{ProductID: "p1"}))
	_, ok, err := store.SelectNext(time.Now())
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, store.RecordFailure("p1", 5*time.Minute, 3, "retry_fetch"))
	doc, err := store.Load()
	require.NoError(t, err)
	product := doc.Products[0]
	assert.Equal(t, models.ProductPending, product.Status)
	assert.Equal(t, 1, product.RetryCount)
	require.NotNil(t, product.NextRetryAt)
	assert.WithinDuration(t, time.Now().Add(5*time.Minute), *product.NextRetryAt, 10*time.Second)
	assert.Equal(t, "retry_fetch", product.NextActionHint)

	// Second failure doubles the delay
	_, _, err = store.SelectNext(time.Now().Add(6 * time.Minute))
	require.NoError(t, err)
	require.NoError(t, store.RecordFailure("p1", 5*time.Minute, 3, "retry_fetch"))
	doc, err = store.Load()
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(10*time.Minute), *doc.Products[0].NextRetryAt, 10*time.Second)
}

func TestRecordFailureExhaustsAttempts(t *testing.T) {
	store := testStore(t)
	require.NoError(t, store.Add(models.QueueProduct{ProductID: "p1", RetryCount: 2}))

	require.NoError(t, store.RecordFailure("p1", time.Minute, 3, ""))
	doc, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, models.ProductFailed, doc.Products[0].Status)
	assert.Nil(t, doc.Products[0].NextRetryAt)
}

func TestCompleteEnforcesTransitions(t *testing.T) {
	store := testStore(t)
	require.NoError(t, store.Add(models.QueueProduct{ProductID: "p1"}))

	// pending -> complete is not a legal move
	err := store.Complete("p1", models.ProductComplete)
	assert.ErrorIs(t, err, interfaces.ErrInvalidTransition)

	_, _, err = store.SelectNext(time.Now())
	require.NoError(t, err)
	require.NoError(t, store.Complete("p1", models.ProductComplete))

	err = store.Complete("missing", models.ProductComplete)
	assert.ErrorIs(t, err, interfaces.ErrProductNotFound)
}

func TestBatchLifecycle(t *testing.T) {
	var ran []string
	runner := func(_ context.Context, _ string, productID string) error {
		ran = append(ran, productID)
		return nil
	}
	manager := NewBatchManager(runner, common.GetLogger())
	batch := manager.Create("gaming_mice", []string{"a", "b"}, 1)
	assert.Equal(t, BatchPending, batch.Status)

	// RunNext on a pending batch is refused
	_, err := manager.RunNext(context.Background(), batch.ID)
	assert.ErrorIs(t, err, interfaces.ErrInvalidTransition)

	require.NoError(t, manager.Start(batch.ID))
	done, err := manager.RunNext(context.Background(), batch.ID)
	require.NoError(t, err)
	assert.False(t, done)

	require.NoError(t, manager.Pause(batch.ID))
	_, err = manager.RunNext(context.Background(), batch.ID)
	assert.ErrorIs(t, err, interfaces.ErrInvalidTransition)
	require.NoError(t, manager.Resume(batch.ID))

	done, err = manager.RunNext(context.Background(), batch.ID)
	require.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, []string{"a", "b"}, ran)

	state, err := manager.Get(batch.ID)
	require.NoError(t, err)
	assert.Equal(t, BatchCompleted, state.Status)

	// Completed is terminal
	assert.ErrorIs(t, manager.Cancel(batch.ID), interfaces.ErrInvalidTransition)
}

func TestBatchRetriesThenSkips(t *testing.T) {
	failures := map[string]int{}
	runner := func(_ context.Context, _ string, productID string) error {
		if productID == "flaky" {
			failures[productID]++
			return fmt.Errorf("fetch exploded (attempt %d)", failures[productID])
		}
		return nil
	}
	manager := NewBatchManager(runner, common.GetLogger())
	batch := manager.Create("gaming_mice", []string{"flaky", "steady"}, 1)
	require.NoError(t, manager.Start(batch.ID))

	for {
		done, err := manager.RunNext(context.Background(), batch.ID)
		require.NoError(t, err)
		if done {
			break
		}
	}

	state, err := manager.Get(batch.ID)
	require.NoError(t, err)
	assert.Equal(t, BatchCompleted, state.Status)
	assert.Equal(t, 2, failures["flaky"], "one retry after the first failure")

	byID := map[string]BatchProduct{}
	for _, product := range state.Products {
		byID[product.ProductID] = product
	}
	assert.Equal(t, BatchProductSkipped, byID["flaky"].Status)
	assert.Contains(t, byID["flaky"].LastError, "fetch exploded")
	assert.Equal(t, BatchProductDone, byID["steady"].Status)
}

func TestBatchCancel(t *testing.T) {
	manager := NewBatchManager(func(context.Context, string, string) error { return nil }, common.GetLogger())
	batch := manager.Create("gaming_mice", []string{"a"}, 0)
	require.NoError(t, manager.Cancel(batch.ID))

	state, err := manager.Get(batch.ID)
	require.NoError(t, err)
	assert.Equal(t, BatchCancelled, state.Status)

	_, err = manager.Get("nope")
	assert.True(t, errors.Is(err, interfaces.ErrProductNotFound))
}
