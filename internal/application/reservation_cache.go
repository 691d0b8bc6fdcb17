package application

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// reservationCache stores recently fetched reservation lists per view key.
// Every entry carries a version bumped by each store and each local patch, so
// a fetch that started before a patch cannot silently erase it. Expired
// entries stay until evicted as least recently used.
type reservationCache struct {
	mu      sync.Mutex
	now     func() time.Time
	ttl     time.Duration
	entries *lru.Cache[string, *reservationCacheEntry]
}

type reservationCacheEntry struct {
	items       []Reservation
	fetchedAt   time.Time
	expiresAt   time.Time
	version     uint64
	provisional bool
}

type cacheSnapshot struct {
	items       []Reservation
	fetchedAt   time.Time
	provisional bool
}

func newReservationCache(ttl time.Duration, maxEntries int, now func() time.Time) *reservationCache {
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	if maxEntries <= 0 {
		maxEntries = 32
	}
	if now == nil {
		now = time.Now
	}
	// New only fails for a non-positive size.
	entries, _ := lru.New[string, *reservationCacheEntry](maxEntries)
	return &reservationCache{
		now:     now,
		ttl:     ttl,
		entries: entries,
	}
}

// Get returns the snapshot stored under key and whether it is still within its TTL.
func (c *reservationCache) Get(key string) (snapshot cacheSnapshot, fresh bool, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries.Get(key)
	if !ok {
		return cacheSnapshot{}, false, false
	}
	snapshot = cacheSnapshot{
		items:       cloneReservations(entry.items),
		fetchedAt:   entry.fetchedAt,
		provisional: entry.provisional,
	}
	return snapshot, c.now().Before(entry.expiresAt), true
}

// Version returns the current version of key, zero when absent.
func (c *reservationCache) Version(key string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if entry, ok := c.entries.Peek(key); ok {
		return entry.version
	}
	return 0
}

// Store saves items fetched from the server. It refuses when the entry changed
// since basedOn was read; the entry is then expired so the next read refetches.
func (c *reservationCache) Store(key string, items []Reservation, fetchedAt time.Time, basedOn uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.entries.Peek(key); ok && entry.version != basedOn {
		entry.expiresAt = time.Time{}
		return false
	}

	version := basedOn + 1
	c.entries.Add(key, &reservationCacheEntry{
		items:     cloneReservations(items),
		fetchedAt: fetchedAt,
		expiresAt: fetchedAt.Add(c.ttl),
		version:   version,
	})
	return true
}

// Patch applies fn to every entry whose key satisfies match and marks the
// touched entries provisional. It returns the number of patched entries.
func (c *reservationCache) Patch(match func(key string) bool, fn func([]Reservation) ([]Reservation, bool)) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	patched := 0
	for _, key := range c.entries.Keys() {
		entry, ok := c.entries.Peek(key)
		if !ok || !match(key) {
			continue
		}
		items, changed := fn(cloneReservations(entry.items))
		if !changed {
			continue
		}
		entry.items = items
		entry.version++
		entry.provisional = true
		patched++
	}
	return patched
}

// Invalidate expires every entry whose key satisfies match. The snapshots are
// kept so a failed refetch can still fall back to them.
func (c *reservationCache) Invalidate(match func(key string) bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, key := range c.entries.Keys() {
		if entry, ok := c.entries.Peek(key); ok && match(key) {
			entry.expiresAt = time.Time{}
		}
	}
}

// Find returns the first cached reservation with id, searching every entry.
func (c *reservationCache) Find(id string) (Reservation, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, entry := range c.entries.Values() {
		for _, item := range entry.items {
			if item.ID == id {
				return item, true
			}
		}
	}
	return Reservation{}, false
}

// Reset drops every entry.
func (c *reservationCache) Reset() {
	c.mu.Lock()
	c.entries.Purge()
	c.mu.Unlock()
}

func cloneReservations(items []Reservation) []Reservation {
	if len(items) == 0 {
		return nil
	}
	out := make([]Reservation, len(items))
	copy(out, items)
	return out
}
