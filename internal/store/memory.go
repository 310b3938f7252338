package store

import (
	"context"
	"sync"

	"driftsync/internal/models"
)

// MemoryStore holds the pending set in process memory. Used in tests and as
// the failover fallback when the primary store is unreachable.
type MemoryStore struct {
	mu  sync.RWMutex
	ops []models.PendingOperation
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Load(_ context.Context) ([]models.PendingOperation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.ops == nil {
		return nil, nil
	}
	return append([]models.PendingOperation(nil), m.ops...), nil
}

func (m *MemoryStore) Save(_ context.Context, ops []models.PendingOperation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops = append([]models.PendingOperation(nil), ops...)
	return nil
}

func (m *MemoryStore) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops = nil
	return nil
}

func (m *MemoryStore) Close() error {
	return nil
}
