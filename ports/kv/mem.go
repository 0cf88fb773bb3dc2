package kv

import (
	"context"
	"fmt"
	"slices"
	"sync"
)

// MemStore is a Store kept in process memory. Revisions increase across
// all keys, as they do in a JetStream bucket.
type MemStore struct {
	mu   sync.RWMutex
	rev  uint64
	data map[string]Entry
}

func NewMemStore() *MemStore {
	return &MemStore{data: map[string]Entry{}}
}

func (m *MemStore) Get(_ context.Context, key string) (Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.data[key]
	if !ok {
		return Entry{}, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	entry.Value = slices.Clone(entry.Value)
	return entry, nil
}

func (m *MemStore) Put(_ context.Context, key string, value []byte, revision uint64) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if current := m.data[key].Revision; current != revision {
		return 0, fmt.Errorf("%w: %s at revision %d, expected %d", ErrConflict, key, current, revision)
	}
	m.rev++
	m.data[key] = Entry{Value: slices.Clone(value), Revision: m.rev}
	return m.rev, nil
}

var _ Store = (*MemStore)(nil)
