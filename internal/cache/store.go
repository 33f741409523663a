package cache

import (
	"context"
	"errors"
	"sync"
)

// ErrQuotaExceeded is returned by a Store whose byte budget is exhausted.
// The cache recovers from it by eviction; it is never surfaced to callers.
var ErrQuotaExceeded = errors.New("cache: store quota exceeded")

// Store is the persistent key/value collaborator behind the conditional
// cache. It is injected, never a singleton, so tests run against the
// in-memory implementation. Each key is independent: no cross-key
// transactions exist or are needed.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Remove(ctx context.Context, key string) error
	Keys(ctx context.Context) ([]string, error)
}

// MemoryStore is a budget-aware in-memory Store. The default when no
// database is configured, and the fake used by tests.
type MemoryStore struct {
	mu     sync.Mutex
	budget int
	data   map[string][]byte
}

// NewMemoryStore builds a MemoryStore. A non-positive budget means
// unlimited.
func NewMemoryStore(budget int) *MemoryStore {
	return &MemoryStore{budget: budget, data: make(map[string][]byte)}
}

func (m *MemoryStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.data[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (m *MemoryStore) Set(ctx context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.budget > 0 {
		size := len(value)
		for k, v := range m.data {
			if k == key {
				continue
			}
			size += len(v)
		}
		if size > m.budget {
			return ErrQuotaExceeded
		}
	}
	m.data[key] = append([]byte(nil), value...)
	return nil
}

func (m *MemoryStore) Remove(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *MemoryStore) Keys(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		keys = append(keys, k)
	}
	return keys, nil
}

var _ Store = (*MemoryStore)(nil)
