package badger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/specforge/internal/interfaces"
	"github.com/timshannon/badgerhold/v4"
)

// KVStorage implements key/value storage backed by BadgerDB
type KVStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

var _ interfaces.KeyValueStorage = (*KVStorage)(nil)

// NewKVStorage creates a new key/value storage service
func NewKVStorage(db *BadgerDB, logger arbor.ILogger) *KVStorage {
	return &KVStorage{db: db, logger: logger}
}

func normalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

// Get retrieves a value by key (case-insensitive)
func (s *KVStorage) Get(ctx context.Context, key string) (string, error) {
	normalized := normalizeKey(key)
	if normalized == "" {
		return "", fmt.Errorf("key cannot be empty")
	}

	var pair interfaces.KeyValuePair
	err := s.db.Store().Get(normalized, &pair)
	if err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return "", interfaces.ErrKeyNotFound
		}
		return "", fmt.Errorf("failed to get key %s: %w", normalized, err)
	}
	return pair.Value, nil
}

// Set stores a key/value pair, preserving CreatedAt on update
func (s *KVStorage) Set(ctx context.Context, key, value, description string) error {
	normalized := normalizeKey(key)
	if normalized == "" {
		return fmt.Errorf("key cannot be empty")
	}

	now := time.Now()
	pair := interfaces.KeyValuePair{
		Key:         normalized,
		Value:       value,
		Description: description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	var existing interfaces.KeyValuePair
	if err := s.db.Store().Get(normalized, &existing); err == nil {
		pair.CreatedAt = existing.CreatedAt
	}

	if err := s.db.Store().Upsert(normalized, pair); err != nil {
		return fmt.Errorf("failed to set key %s: %w", normalized, err)
	}
	s.logger.Debug().Str("key", normalized).Msg("Key/value pair stored")
	return nil
}

// Delete removes a key/value pair
func (s *KVStorage) Delete(ctx context.Context, key string) error {
	normalized := normalizeKey(key)
	if normalized == "" {
		return fmt.Errorf("key cannot be empty")
	}

	err := s.db.Store().Delete(normalized, interfaces.KeyValuePair{})
	if err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return interfaces.ErrKeyNotFound
		}
		return fmt.Errorf("failed to delete key %s: %w", normalized, err)
	}
	return nil
}
