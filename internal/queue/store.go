package queue

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/specforge/internal/interfaces"
	"github.com/ternarybob/specforge/internal/models"
)

// Document is the on-disk queue snapshot for one category. It is kept
// as plain JSON so operators can inspect and hand-edit it.
type Document struct {
	Category  string                `json:"category"`
	UpdatedAt time.Time             `json:"updated_at"`
	Products  []models.QueueProduct `json:"products"`
}

// Store persists a category queue document with atomic writes
type Store struct {
	path   string
	mu     sync.Mutex
	logger arbor.ILogger
}

// NewStore creates a store backed by the given JSON file path
func NewStore(path string, logger arbor.ILogger) *Store {
	return &Store{path: path, logger: logger}
}

// Load reads the queue document; a missing file yields an empty queue
func (s *Store) Load() (*Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

func (s *Store) load() (*Document, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return &Document{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading queue document: %w", err)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing queue document %s: %w", s.path, err)
	}
	return &doc, nil
}

// save writes the document through a temp file and rename so a crash
// mid-write never corrupts the queue
func (s *Store) save(doc *Document) error {
	doc.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding queue document: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("creating queue directory: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("writing queue document: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replacing queue document: %w", err)
	}
	return nil
}

// Add inserts a product or updates the existing row with the same ID
func (s *Store) Add(product models.QueueProduct) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return err
	}
	if doc.Category == "" {
		doc.Category = product.Category
	}
	product.UpdatedAt = time.Now().UTC()
	if product.Status == "" {
		product.Status = models.ProductPending
	}

	replaced := false
	for index, existing := range doc.Products {
		if existing.ProductID == product.ProductID {
			doc.Products[index] = product
			replaced = true
			break
		}
	}
	if !replaced {
		doc.Products = append(doc.Products, product)
	}
	return s.save(doc)
}

// SelectNext claims the highest-priority pending product not waiting out
// a retry backoff and marks it running. The bool is false when nothing
// is runnable.
func (s *Store) SelectNext(now time.Time) (*models.QueueProduct, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return nil, false, err
	}

	best := -1
	for index, product := range doc.Products {
		if product.Status != models.ProductPending || product.InBackoff(now) {
			continue
		}
		if best < 0 || product.Priority > doc.Products[best].Priority {
			best = index
		}
	}
	if best < 0 {
		return nil, false, nil
	}

	doc.Products[best].Status = models.ProductRunning
	doc.Products[best].UpdatedAt = now.UTC()
	if err := s.save(doc); err != nil {
		return nil, false, err
	}
	claimed := doc.Products[best]
	s.logger.Info().Str("product", claimed.ProductID).Int("priority", claimed.Priority).Msg("Queue product claimed")
	return &claimed, true, nil
}

// Complete marks a running product with its terminal outcome status
func (s *Store) Complete(productID string, status models.ProductStatus) error {
	return s.update(productID, func(product *models.QueueProduct) error {
		if !models.CanTransition(product.Status, status) {
			return fmt.Errorf("%w: %s -> %s", interfaces.ErrInvalidTransition, product.Status, status)
		}
		product.Status = status
		product.NextRetryAt = nil
		return nil
	})
}

// RecordFailure bumps the retry counter and either schedules the next
// attempt with exponential backoff or fails the product permanently
func (s *Store) RecordFailure(productID string, baseBackoff time.Duration, maxAttempts int, hint string) error {
	return s.update(productID, func(product *models.QueueProduct) error {
		product.RetryCount++
		product.NextActionHint = hint
		if product.MaxAttempts > 0 {
			maxAttempts = product.MaxAttempts
		}
		if maxAttempts > 0 && product.RetryCount >= maxAttempts {
			product.Status = models.ProductFailed
			product.NextRetryAt = nil
			s.logger.Warn().Str("product", productID).Int("retries", product.RetryCount).Msg("Queue product failed permanently")
			return nil
		}
		delay := baseBackoff
		for i := 1; i < product.RetryCount; i++ {
			delay *= 2
		}
		next := time.Now().UTC().Add(delay)
		product.Status = models.ProductPending
		product.NextRetryAt = &next
		return nil
	})
}

// List returns products sorted by priority descending then product ID
func (s *Store) List() ([]models.QueueProduct, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	out := append([]models.QueueProduct(nil), doc.Products...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].ProductID < out[j].ProductID
	})
	return out, nil
}

func (s *Store) update(productID string, apply func(*models.QueueProduct) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return err
	}
	for index := range doc.Products {
		if doc.Products[index].ProductID != productID {
			continue
		}
		if err := apply(&doc.Products[index]); err != nil {
			return err
		}
		doc.Products[index].UpdatedAt = time.Now().UTC()
		return s.save(doc)
	}
	return fmt.Errorf("%w: %s", interfaces.ErrProductNotFound, productID)
}
