package ttlstore

import (
	"context"
	"sync"
	"time"
)

type memoryEntry[V any] struct {
	value     V
	expiresAt time.Time // zero means never
}

// Memory is an in-process Store. Expired entries are hidden on read and removed
// by Sweep.
type Memory[V any] struct {
	mu      sync.Mutex
	entries map[string]memoryEntry[V]
	ttl     time.Duration
	now     func() time.Time
}

var (
	_ Store[string] = (*Memory[string])(nil)
	_ Sweeper       = (*Memory[string])(nil)
)

// NewMemory creates an in-memory store. A zero ttl keeps entries until deleted.
func NewMemory[V any](ttl time.Duration, opts ...Option) *Memory[V] {
	o := buildOptions(opts)
	return &Memory[V]{
		entries: make(map[string]memoryEntry[V]),
		ttl:     ttl,
		now:     o.now,
	}
}

func (m *Memory[V]) expired(e memoryEntry[V], now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

func (m *Memory[V]) Set(_ context.Context, key string, value V) error {
	e := memoryEntry[V]{value: value}
	if m.ttl > 0 {
		e.expiresAt = m.now().Add(m.ttl)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = e
	return nil
}

func (m *Memory[V]) Get(_ context.Context, key string) (V, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok || m.expired(e, m.now()) {
		var zero V
		return zero, false, nil
	}
	return e.value, true, nil
}

func (m *Memory[V]) Delete(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		return false, nil
	}
	delete(m.entries, key)
	return !m.expired(e, m.now()), nil
}

func (m *Memory[V]) Take(_ context.Context, key string) (V, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var zero V
	e, ok := m.entries[key]
	if !ok {
		return zero, false, nil
	}
	delete(m.entries, key)
	if m.expired(e, m.now()) {
		return zero, false, nil
	}
	return e.value, true, nil
}

// Sweep removes every expired entry and returns how many were removed
func (m *Memory[V]) Sweep(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	var removed int64
	for key, e := range m.entries {
		if m.expired(e, now) {
			delete(m.entries, key)
			removed++
		}
	}
	return removed, nil
}

// Len returns the number of entries held, including expired ones not yet swept
func (m *Memory[V]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
