// Package uploadcache deduplicates provider uploads by content digest.
package uploadcache

import (
	"sync"
	"time"
)

// DefaultTTL matches the provider's documented file retention window.
const DefaultTTL = 30 * 24 * time.Hour

type entry struct {
	handle    string
	createdAt time.Time
	expiresAt time.Time
}

// Stats is a read-only snapshot of cache contents.
type Stats struct {
	Count        int `json:"count"`
	ValidCount   int `json:"valid_count"`
	ExpiredCount int `json:"expired_count"`
}

// Cache maps content digests to remote attachment handles. Entries expire
// after a fixed TTL and expired entries are treated as absent. The cache is
// shared across concurrent turns; all operations are internally synchronized.
type Cache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]entry
	now     func() time.Time
}

func New(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		ttl:     ttl,
		entries: make(map[string]entry),
		now:     time.Now,
	}
}

// Lookup returns the handle cached for digest, if a live entry exists. An
// expired entry is evicted and reported as absent.
func (c *Cache) Lookup(digest string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[digest]
	if !ok {
		return "", false
	}
	if c.now().After(e.expiresAt) {
		delete(c.entries, digest)
		return "", false
	}
	return e.handle, true
}

// Store records a handle for digest. If a live entry already exists the
// existing entry wins: a concurrent caller may already hold its handle, so a
// second writer must not clobber it.
func (c *Cache) Store(digest, handle string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[digest]; ok && !c.now().After(e.expiresAt) {
		return
	}
	created := c.now()
	c.entries[digest] = entry{
		handle:    handle,
		createdAt: created,
		expiresAt: created.Add(c.ttl),
	}
}

// SweepExpired removes every entry past its expiration and returns how many
// were removed.
func (c *Cache) SweepExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	removed := 0
	for digest, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, digest)
			removed++
		}
	}
	return removed
}

// Clear drops all entries.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]entry)
}

func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	stats := Stats{Count: len(c.entries)}
	for _, e := range c.entries {
		if now.After(e.expiresAt) {
			stats.ExpiredCount++
		} else {
			stats.ValidCount++
		}
	}
	return stats
}
