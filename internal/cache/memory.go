package cache

import (
	"context"
	"sync"
	"time"
)

type memEntry struct {
	entry   Entry
	expires time.Time
}

// Memory is a thread-safe in-process cache.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]memEntry
	now     func() time.Time
}

// NewMemory creates an empty in-memory cache.
func NewMemory() *Memory {
	return &Memory{
		entries: make(map[string]memEntry),
		now:     time.Now,
	}
}

// Get implements Cache.
func (m *Memory) Get(_ context.Context, key string) (Entry, bool, error) {
	m.mu.RLock()
	me, ok := m.entries[key]
	m.mu.RUnlock()

	if !ok || !m.now().Before(me.expires) {
		return Entry{}, false, nil
	}
	return copyEntry(me.entry), true, nil
}

// Set implements Cache.
func (m *Memory) Set(_ context.Context, key string, e Entry, ttl time.Duration) error {
	me := memEntry{entry: copyEntry(e), expires: m.now().Add(ttl)}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = me
	return nil
}

// Prune drops expired entries and returns how many were removed.
func (m *Memory) Prune() int {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for k, me := range m.entries {
		if !now.Before(me.expires) {
			delete(m.entries, k)
			n++
		}
	}
	return n
}

// InvalidateTenant implements Invalidator.
func (m *Memory) InvalidateTenant(_ context.Context, tenantID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for k := range m.entries {
		if tenantOwns(k, tenantID) {
			delete(m.entries, k)
			n++
		}
	}
	return n, nil
}

// Len returns the number of stored entries, expired or not.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Close is a no-op for the in-memory cache (satisfies the Cache interface).
func (m *Memory) Close() error {
	return nil
}

func copyEntry(e Entry) Entry {
	return Entry{Payload: append([]byte(nil), e.Payload...), StoredAt: e.StoredAt}
}
