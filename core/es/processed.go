package es

import (
	"context"
	"sync"
	"time"
)

type (
	// ProcessedRecord is one entry of the idempotency ledger: projector P
	// has fully handled event E. The (projector, event) pair is unique,
	// which turns at-least-once delivery into at-most-once effect.
	ProcessedRecord struct {
		ProjectorName string
		EventID       string
		TenantID      string
		ProcessedAt   time.Time
	}

	// ProcessedStore persists the ledger. Mark must be idempotent: marking
	// an already-marked pair is not an error.
	ProcessedStore interface {
		Seen(ctx context.Context, projectorName, eventID string) (bool, error)
		Mark(ctx context.Context, rec ProcessedRecord) error
	}
)

// === In-Memory ProcessedStore ===

type MemoryProcessedStore struct {
	mu   sync.RWMutex
	seen map[string]ProcessedRecord
}

func NewMemoryProcessedStore() *MemoryProcessedStore {
	return &MemoryProcessedStore{seen: map[string]ProcessedRecord{}}
}

func (m *MemoryProcessedStore) key(projectorName, eventID string) string {
	return projectorName + "/" + eventID
}

func (m *MemoryProcessedStore) Seen(_ context.Context, projectorName, eventID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.seen[m.key(projectorName, eventID)]
	return ok, nil
}

func (m *MemoryProcessedStore) Mark(_ context.Context, rec ProcessedRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := m.key(rec.ProjectorName, rec.EventID)
	if _, ok := m.seen[k]; ok {
		return nil
	}
	m.seen[k] = rec
	return nil
}

var _ ProcessedStore = (*MemoryProcessedStore)(nil)
