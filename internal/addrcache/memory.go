package addrcache

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	ep      Endpoint
	expires time.Time
}

// MemoryCache is an in-process Cache. It is the default when no redis is
// configured and is what tests use.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[int64]memoryEntry
	ttl     time.Duration
	now     func() time.Time
}

// NewMemoryCache creates a cache whose entries expire after ttl; ttl 0 keeps
// them forever.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{
		entries: make(map[int64]memoryEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (m *MemoryCache) Get(_ context.Context, siteID int64) (Endpoint, error) {
	m.mu.RLock()
	e, ok := m.entries[siteID]
	m.mu.RUnlock()
	if !ok {
		return Endpoint{}, ErrNotFound
	}
	if !e.expires.IsZero() && !m.now().Before(e.expires) {
		m.mu.Lock()
		delete(m.entries, siteID)
		m.mu.Unlock()
		return Endpoint{}, ErrNotFound
	}
	return e.ep, nil
}

func (m *MemoryCache) Set(_ context.Context, siteID int64, ep Endpoint) error {
	e := memoryEntry{ep: ep}
	if m.ttl > 0 {
		e.expires = m.now().Add(m.ttl)
	}
	m.mu.Lock()
	m.entries[siteID] = e
	m.mu.Unlock()
	return nil
}

func (m *MemoryCache) Delete(_ context.Context, siteID int64) error {
	m.mu.Lock()
	delete(m.entries, siteID)
	m.mu.Unlock()
	return nil
}

func (m *MemoryCache) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

func (m *MemoryCache) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[int64]memoryEntry)
	return nil
}
