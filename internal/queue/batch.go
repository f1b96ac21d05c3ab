package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/specforge/internal/interfaces"
)

// BatchStatus is the lifecycle state of a batch run
type BatchStatus string

const (
	BatchPending   BatchStatus = "pending"
	BatchRunning   BatchStatus = "running"
	BatchPaused    BatchStatus = "paused"
	BatchCompleted BatchStatus = "completed"
	BatchCancelled BatchStatus = "cancelled"
)

var allowedBatchTransitions = map[BatchStatus][]BatchStatus{
	BatchPending: {BatchRunning, BatchCancelled},
	BatchRunning: {BatchPaused, BatchCompleted, BatchCancelled},
	BatchPaused:  {BatchRunning, BatchCancelled},
}

// BatchProductStatus is the state of one product inside a batch
type BatchProductStatus string

const (
	BatchProductPending BatchProductStatus = "pending"
	BatchProductRunning BatchProductStatus = "running"
	BatchProductDone    BatchProductStatus = "done"
	BatchProductFailed  BatchProductStatus = "failed"
	BatchProductSkipped BatchProductStatus = "skipped"
)

// BatchProduct is one product row in a batch
type BatchProduct struct {
	ProductID string             `json:"productId"`
	Status    BatchProductStatus `json:"status"`
	Attempts  int                `json:"attempts"`
	LastError string             `json:"last_error,omitempty"`
}

// Batch is a user-created set of products run as one unit
type Batch struct {
	ID         string         `json:"id"`
	Category   string         `json:"category"`
	Status     BatchStatus    `json:"status"`
	Products   []BatchProduct `json:"products"`
	MaxRetries int            `json:"max_retries"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// ProductRunner executes one product end to end; the batch manager only
// observes success or failure
type ProductRunner func(ctx context.Context, category, productID string) error

// BatchManager owns in-memory batch state and drives products through
// the injected runner one at a time
type BatchManager struct {
	mu      sync.Mutex
	batches map[string]*Batch
	runner  ProductRunner
	logger  arbor.ILogger
}

// NewBatchManager creates a manager around a product runner
func NewBatchManager(runner ProductRunner, logger arbor.ILogger) *BatchManager {
	return &BatchManager{
		batches: map[string]*Batch{},
		runner:  runner,
		logger:  logger,
	}
}

// Create registers a new pending batch over the given product IDs
func (m *BatchManager) Create(category string, productIDs []string, maxRetries int) *Batch {
	m.mu.Lock()
	defer m.mu.Unlock()

	products := make([]BatchProduct, 0, len(productIDs))
	for _, id := range productIDs {
		products = append(products, BatchProduct{ProductID: id, Status: BatchProductPending})
	}
	now := time.Now().UTC()
	batch := &Batch{
		ID:         uuid.NewString(),
		Category:   category,
		Status:     BatchPending,
		Products:   products,
		MaxRetries: maxRetries,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	m.batches[batch.ID] = batch
	m.logger.Info().Str("batch", batch.ID).Int("products", len(products)).Msg("Batch created")
	return batch
}

// Get returns a copy of the batch state
func (m *BatchManager) Get(batchID string) (*Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	batch, ok := m.batches[batchID]
	if !ok {
		return nil, fmt.Errorf("%w: batch %s", interfaces.ErrProductNotFound, batchID)
	}
	snapshot := *batch
	snapshot.Products = append([]BatchProduct(nil), batch.Products...)
	return &snapshot, nil
}

// Start moves a pending batch to running
func (m *BatchManager) Start(batchID string) error {
	return m.transition(batchID, BatchRunning)
}

// Pause suspends a running batch; RunNext refuses paused batches
func (m *BatchManager) Pause(batchID string) error {
	return m.transition(batchID, BatchPaused)
}

// Resume continues a paused batch
func (m *BatchManager) Resume(batchID string) error {
	return m.transition(batchID, BatchRunning)
}

// Cancel terminates a batch in any non-terminal state
func (m *BatchManager) Cancel(batchID string) error {
	return m.transition(batchID, BatchCancelled)
}

func (m *BatchManager) transition(batchID string, to BatchStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	batch, ok := m.batches[batchID]
	if !ok {
		return fmt.Errorf("%w: batch %s", interfaces.ErrProductNotFound, batchID)
	}
	if !batchCanTransition(batch.Status, to) {
		return fmt.Errorf("%w: batch %s -> %s", interfaces.ErrInvalidTransition, batch.Status, to)
	}
	batch.Status = to
	batch.UpdatedAt = time.Now().UTC()
	m.logger.Info().Str("batch", batchID).Str("status", string(to)).Msg("Batch state changed")
	return nil
}

// RunNext executes the next runnable product of a running batch. It
// returns true when the batch has no further work; an exhausted batch
// is moved to completed.
func (m *BatchManager) RunNext(ctx context.Context, batchID string) (bool, error) {
	m.mu.Lock()
	batch, ok := m.batches[batchID]
	if !ok {
		m.mu.Unlock()
		return false, fmt.Errorf("%w: batch %s", interfaces.ErrProductNotFound, batchID)
	}
	if batch.Status != BatchRunning {
		m.mu.Unlock()
		return false, fmt.Errorf("%w: batch is %s, not running", interfaces.ErrInvalidTransition, batch.Status)
	}

	index := m.nextRunnable(batch)
	if index < 0 {
		batch.Status = BatchCompleted
		batch.UpdatedAt = time.Now().UTC()
		m.mu.Unlock()
		m.logger.Info().Str("batch", batchID).Msg("Batch completed")
		return true, nil
	}

	product := &batch.Products[index]
	product.Status = BatchProductRunning
	product.Attempts++
	category := batch.Category
	productID := product.ProductID
	m.mu.Unlock()

	err := m.runner(ctx, category, productID)

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		product.Status = BatchProductFailed
		product.LastError = err.Error()
		if product.Attempts > batch.MaxRetries {
			product.Status = BatchProductSkipped
			m.logger.Warn().Str("batch", batchID).Str("product", productID).Int("attempts", product.Attempts).Msg("Batch product skipped after retries")
		}
	} else {
		product.Status = BatchProductDone
		product.LastError = ""
	}
	batch.UpdatedAt = time.Now().UTC()

	if m.nextRunnable(batch) < 0 {
		// The batch may have been paused or cancelled while the runner
		// was executing; only a running batch self-completes
		if batch.Status == BatchRunning {
			batch.Status = BatchCompleted
			m.logger.Info().Str("batch", batchID).Msg("Batch completed")
		}
		return true, nil
	}
	return false, nil
}

// nextRunnable finds the first pending product, or the first failed one
// with retries left
func (m *BatchManager) nextRunnable(batch *Batch) int {
	for index, product := range batch.Products {
		if product.Status == BatchProductPending {
			return index
		}
	}
	for index, product := range batch.Products {
		if product.Status == BatchProductFailed && product.Attempts <= batch.MaxRetries {
			return index
		}
	}
	return -1
}

func batchCanTransition(from, to BatchStatus) bool {
	for _, allowed := range allowedBatchTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}
