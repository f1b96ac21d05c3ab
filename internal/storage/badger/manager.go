package badger

import (
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/specforge/internal/common"
	"github.com/ternarybob/specforge/internal/interfaces"
)

// Manager aggregates the Badger-backed storage services
type Manager struct {
	db       *BadgerDB
	kv       *KVStorage
	learning *LearningStorage
	logger   arbor.ILogger
}

var _ interfaces.StorageManager = (*Manager)(nil)

// NewManager opens the database and wires up the storage services
func NewManager(logger arbor.ILogger, config *common.BadgerConfig) (*Manager, error) {
	db, err := NewBadgerDB(logger, config)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize badger database: %w", err)
	}

	return &Manager{
		db:       db,
		kv:       NewKVStorage(db, logger),
		learning: NewLearningStorage(db, logger),
		logger:   logger,
	}, nil
}

// KeyValueStorage returns the key/value store
func (m *Manager) KeyValueStorage() interfaces.KeyValueStorage {
	return m.kv
}

// LearningStorage returns the learning store
func (m *Manager) LearningStorage() interfaces.LearningStorage {
	return m.learning
}

// RunGC runs a value-log garbage collection pass
func (m *Manager) RunGC() error {
	return m.db.RunGC()
}

// Close shuts the underlying database
func (m *Manager) Close() error {
	return m.db.Close()
}
