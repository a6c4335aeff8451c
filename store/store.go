package store

import (
	"context"
	"errors"
	"sync"
)

// ErrNotFound is returned by Get when no value is stored under the key.
var ErrNotFound = errors.New("store: key not found")

// Store is a minimal key-value persistence collaborator. Keys are
// slash-separated paths such as "daily_log/2025-01-31".
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
}

// Memory is an in-memory Store for tests and local runs.
type Memory struct {
	mu   sync.RWMutex
	data map[string][]byte
	err  error
}

func NewMemory() *Memory {
	return &Memory{data: map[string][]byte{}}
}

// NewMemoryWithError returns a Memory whose every call fails with err.
func NewMemoryWithError(err error) *Memory {
	return &Memory{data: map[string][]byte{}, err: err}
}

func (m *Memory) Get(ctx context.Context, key string) ([]byte, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (m *Memory) Set(ctx context.Context, key string, value []byte) error {
	if m.err != nil {
		return m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.data[key] = append([]byte(nil), value...)
	return nil
}

// Keys returns the stored keys in no particular order.
func (m *Memory) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		keys = append(keys, k)
	}
	return keys
}
