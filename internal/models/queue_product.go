package models

import (
	"time"
)

// ProductStatus is the queue state of one product
type ProductStatus string

const (
	ProductPending     ProductStatus = "pending"
	ProductRunning     ProductStatus = "running"
	ProductComplete    ProductStatus = "complete"
	ProductFailed      ProductStatus = "failed"
	ProductNeedsManual ProductStatus = "needs_manual"
	ProductExhausted   ProductStatus = "exhausted"
)

// allowedProductTransitions is the closed transition set for queue products
var allowedProductTransitions = map[ProductStatus][]ProductStatus{
	ProductPending: {ProductRunning},
	ProductRunning: {ProductComplete, ProductFailed, ProductNeedsManual, ProductExhausted, ProductPending},
	ProductFailed:  {ProductPending, ProductRunning},
}

// CanTransition reports whether a product status change is allowed
func CanTransition(from, to ProductStatus) bool {
	for _, allowed := range allowedProductTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// QueueProduct is one product's row in a category queue document
type QueueProduct struct {
	ProductID      string        `json:"productId"`
	Category       string        `json:"category"`
	S3Key          string        `json:"s3key,omitempty"` // Object-store key of the job input JSON
	Status         ProductStatus `json:"status"`
	Priority       int           `json:"priority"`
	RetryCount     int           `json:"retry_count"`
	MaxAttempts    int           `json:"max_attempts"`
	NextRetryAt    *time.Time    `json:"next_retry_at,omitempty"`
	NextActionHint string        `json:"next_action_hint,omitempty"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// InBackoff reports whether the product is still waiting out a retry delay
func (p *QueueProduct) InBackoff(now time.Time) bool {
	return p.NextRetryAt != nil && now.Before(*p.NextRetryAt)
}
