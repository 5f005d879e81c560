package cache

import (
	"context"
	"sync"
	"time"
)

type entry struct {
	status  string
	expires time.Time
}

// MemoryStore is an in-process IdempotencyStore for single-instance
// deployments and tests.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]entry
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]entry), now: time.Now}
}

func (m *MemoryStore) get(transactionID string) (entry, bool) {
	e, ok := m.entries[transactionID]
	if ok && m.now().After(e.expires) {
		delete(m.entries, transactionID)
		return entry{}, false
	}
	return e, ok
}

func (m *MemoryStore) CheckOrSetInProgress(ctx context.Context, transactionID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.get(transactionID); ok {
		if e.status == StatusCompleted {
			return true, nil
		}
		return true, ErrInProgress
	}
	m.entries[transactionID] = entry{status: StatusInProgress, expires: m.now().Add(InProgressExpiry)}
	return false, nil
}

func (m *MemoryStore) SetCompleted(ctx context.Context, transactionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[transactionID] = entry{status: StatusCompleted, expires: m.now().Add(CompletedExpiry)}
	return nil
}

func (m *MemoryStore) CheckCompleted(ctx context.Context, transactionID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.get(transactionID)
	return ok && e.status == StatusCompleted, nil
}

func (m *MemoryStore) Release(ctx context.Context, transactionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.get(transactionID); ok && e.status == StatusInProgress {
		delete(m.entries, transactionID)
	}
	return nil
}
