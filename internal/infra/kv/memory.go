package kv

import (
	"context"
	"sync"
)

// MemoryStore keeps values in a map.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

func (m *MemoryStore) Read(_ context.Context, ns string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.data[ns]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (m *MemoryStore) Write(_ context.Context, ns string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[ns] = append([]byte(nil), value...)
	return nil
}

func (m *MemoryStore) Remove(_ context.Context, ns string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, ns)
	return nil
}

func (m *MemoryStore) Update(_ context.Context, ns string, fn UpdateFunc) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.data[ns]
	next, err := fn(append([]byte(nil), cur...), ok)
	if err != nil {
		return err
	}
	if next == nil {
		delete(m.data, ns)
		return nil
	}
	m.data[ns] = append([]byte(nil), next...)
	return nil
}
