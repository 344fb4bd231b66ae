package kvstore

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-process Store for tests and single-node deployments.
// All operations take the store mutex, which makes ListPop an exclusive
// hand-off and Update a read-modify-write unit by construction.
type MemoryStore struct {
	mu    sync.Mutex
	keys  map[string]memEntry
	lists map[string][][]byte
	clock func() time.Time
}

type memEntry struct {
	value     []byte
	expiresAt time.Time // zero means no expiry
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		keys:  make(map[string]memEntry),
		lists: make(map[string][][]byte),
		clock: time.Now,
	}
}

// SetClock replaces the time source. Test hook for TTL expiry.
func (m *MemoryStore) SetClock(clock func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clock = clock
}

func (m *MemoryStore) ListPush(_ context.Context, list string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(value))
	copy(cp, value)
	m.lists[list] = append(m.lists[list], cp)
	return nil
}

func (m *MemoryStore) ListPop(_ context.Context, list string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := m.lists[list]
	if len(entries) == 0 {
		return nil, ErrEmpty
	}
	head := entries[0]
	m.lists[list] = entries[1:]
	return head, nil
}

func (m *MemoryStore) ListLen(_ context.Context, list string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.lists[list]), nil
}

func (m *MemoryStore) ListRange(_ context.Context, list string, limit int) ([][]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := m.lists[list]
	if limit <= 0 || limit > len(entries) {
		limit = len(entries)
	}
	// Newest first.
	out := make([][]byte, 0, limit)
	for i := len(entries) - 1; i >= len(entries)-limit; i-- {
		cp := make([]byte, len(entries[i]))
		copy(cp, entries[i])
		out = append(out, cp)
	}
	return out, nil
}

func (m *MemoryStore) ListClear(_ context.Context, list string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.lists, list)
	return nil
}

func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.liveEntry(key)
	if !ok {
		return nil, ErrNotFound
	}
	cp := make([]byte, len(entry.value))
	copy(cp, entry.value)
	return cp, nil
}

func (m *MemoryStore) SetEx(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(value))
	copy(cp, value)
	entry := memEntry{value: cp}
	if ttl > 0 {
		entry.expiresAt = m.clock().Add(ttl)
	}
	m.keys[key] = entry
	return nil
}

func (m *MemoryStore) Update(_ context.Context, key string, ttl time.Duration, mutate func([]byte) ([]byte, error)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.liveEntry(key)
	if !ok {
		return ErrNotFound
	}
	next, err := mutate(entry.value)
	if err != nil {
		return err
	}
	updated := memEntry{value: next}
	if ttl > 0 {
		updated.expiresAt = m.clock().Add(ttl)
	}
	m.keys[key] = updated
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, key)
	return nil
}

func (m *MemoryStore) Keys(_ context.Context, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for key := range m.keys {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if _, ok := m.liveEntry(key); ok {
			out = append(out, key)
		}
	}
	return out, nil
}

// SweepExpired removes expired keys. The memory store has no native expiry,
// so the janitor calls this periodically to bound memory.
func (m *MemoryStore) SweepExpired(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock()
	var reclaimed int
	for key, entry := range m.keys {
		if !entry.expiresAt.IsZero() && !entry.expiresAt.After(now) {
			delete(m.keys, key)
			reclaimed++
		}
	}
	return reclaimed, nil
}

func (m *MemoryStore) Close() error {
	return nil
}

// liveEntry returns the entry for key if present and unexpired.
// Caller must hold the mutex. Expired entries are dropped lazily here so
// reads never observe a stale record between sweeps.
func (m *MemoryStore) liveEntry(key string) (memEntry, bool) {
	entry, ok := m.keys[key]
	if !ok {
		return memEntry{}, false
	}
	if !entry.expiresAt.IsZero() && !entry.expiresAt.After(m.clock()) {
		delete(m.keys, key)
		return memEntry{}, false
	}
	return entry, true
}
