package history

import (
	"context"
	"sync"
	"time"
)

// MemoryStore implements Store in memory.
type MemoryStore struct {
	mu      sync.RWMutex
	entries []*Entry
	nextID  int64
}

// NewMemoryStore creates an in-memory history store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{nextID: 1}
}

func (m *MemoryStore) Record(_ context.Context, e *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.ID = m.nextID
	m.nextID++
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	cp := *e
	m.entries = append(m.entries, &cp)
	return nil
}

func (m *MemoryStore) List(_ context.Context, address string, q Query) ([]*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	limit := q.fetch()
	var out []*Entry
	// entries are in insertion order, so walk backwards for newest first
	for i := len(m.entries) - 1; i >= 0 && len(out) < limit; i-- {
		if m.entries[i].Address == address && q.included(m.entries[i]) {
			cp := *m.entries[i]
			out = append(out, &cp)
		}
	}
	return out, nil
}
