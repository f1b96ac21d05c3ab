package interfaces

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors shared across storage implementations
var (
	ErrKeyNotFound       = errors.New("key not found")
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrProductNotFound   = errors.New("product not found")
	ErrJobHandlerMissing = errors.New("worker handler missing")
)

// KeyValuePair is a stored key/value row (API keys, settings)
type KeyValuePair struct {
	Key         string    `json:"key"`
	Value       string    `json:"value"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// KeyValueStorage provides case-insensitive key/value access
type KeyValueStorage interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value, description string) error
	Delete(ctx context.Context, key string) error
}

// URLMemoryEntry records that a URL yielded a field for a category
type URLMemoryEntry struct {
	URL      string `json:"url" badgerhold:"key"`
	Field    string `json:"field"`
	Category string `json:"category"`
	RunsSeen int    `json:"runs_seen"`
}

// DomainFieldYield counts how often a domain provided vs confirmed a field
type DomainFieldYield struct {
	Key       string `json:"key" badgerhold:"key"` // domain|field
	Domain    string `json:"domain"`
	Field     string `json:"field"`
	SeenCount int    `json:"seen_count"`
	UsedCount int    `json:"used_count"`
}

// FieldAnchorPhrase counts label phrases observed near a field's value
type FieldAnchorPhrase struct {
	Key      string `json:"key" badgerhold:"key"` // field|category|phrase
	Field    string `json:"field"`
	Category string `json:"category"`
	Phrase   string `json:"phrase"`
	Count    int    `json:"count"`
}

// ComponentAlias counts alias spellings observed for a component type
type ComponentAlias struct {
	Key           string `json:"key" badgerhold:"key"` // componentType|alias
	ComponentType string `json:"component_type"`
	Alias         string `json:"alias"`
	Count         int    `json:"count"`
}

// LearningStorage persists append-only feedback signals with upsert
// semantics. All writes increment counters, never overwrite history.
type LearningStorage interface {
	RecordURLYield(ctx context.Context, url, field, category string) error
	RecordDomainFieldSeen(ctx context.Context, domain, field string) error
	RecordDomainFieldUsed(ctx context.Context, domain, field string) error
	DomainFieldScore(ctx context.Context, domain, field string) (float64, error)
	RecordAnchorPhrase(ctx context.Context, field, category, phrase string) error
	TopAnchorPhrases(ctx context.Context, field, category string, limit int) ([]FieldAnchorPhrase, error)
	RecordComponentAlias(ctx context.Context, componentType, alias string) error
}

// StorageManager aggregates the storage backends
type StorageManager interface {
	KeyValueStorage() KeyValueStorage
	LearningStorage() LearningStorage
	RunGC() error
	Close() error
}

// ArtifactStore writes run artifacts under an object-store prefix.
// The local implementation is a filesystem adapter; the production
// backend is delegated.
type ArtifactStore interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	AppendLine(ctx context.Context, key string, line []byte) error
}
