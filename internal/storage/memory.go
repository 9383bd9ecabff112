package storage

import (
	"context"
	"fmt"
	"sync"
)

// MemoryKV is the in-process driver. It backs tests and acts as the fallback
// when no durable driver is configured.
type MemoryKV struct {
	mu       sync.RWMutex
	data     map[string][]byte
	maxBytes int64
}

// NewMemoryKV creates an in-memory store. maxBytes <= 0 disables the budget.
func NewMemoryKV(maxBytes int64) *MemoryKV {
	return &MemoryKV{
		data:     make(map[string][]byte),
		maxBytes: maxBytes,
	}
}

// Get returns a copy of the stored value.
func (m *MemoryKV) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.data[key]
	if !ok {
		return nil, fmt.Errorf("get %q: %w", key, ErrKeyNotFound)
	}
	return append([]byte(nil), v...), nil
}

// Set stores a copy of value under key.
func (m *MemoryKV) Set(ctx context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.maxBytes > 0 {
		next := m.usageLocked() - int64(len(m.data[key])) + int64(len(value))
		if next > m.maxBytes {
			return fmt.Errorf("set %q (%d bytes, budget %d): %w", key, next, m.maxBytes, ErrQuotaExceeded)
		}
	}
	m.data[key] = append([]byte(nil), value...)
	return nil
}

// Delete removes key. Absent keys are ignored.
func (m *MemoryKV) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.data, key)
	return nil
}

// Keys lists stored keys.
func (m *MemoryKV) Keys(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		keys = append(keys, k)
	}
	return keys, nil
}

// Close is a no-op for the memory driver.
func (m *MemoryKV) Close() error { return nil }

// UsedBytes reports the current total value size.
func (m *MemoryKV) UsedBytes() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.usageLocked()
}

func (m *MemoryKV) usageLocked() int64 {
	var n int64
	for _, v := range m.data {
		n += int64(len(v))
	}
	return n
}
