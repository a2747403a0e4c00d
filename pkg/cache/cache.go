// Package cache remembers recent classification outcomes per post.
package cache

import (
	"crypto/sha256"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eventwire/eventwire/pkg/models"
)

const (
	DefaultPositiveTTL = 5 * time.Hour
	DefaultNegativeTTL = 10 * time.Minute

	// fallbackKeyRunes bounds the text hashed when a post has no URL.
	fallbackKeyRunes = 100
)

// Cache is an in-memory outcome cache with separate retention windows for
// positive and negative outcomes. It is safe for concurrent use.
type Cache struct {
	mu          sync.Mutex
	entries     map[string]models.CacheEntry
	positiveTTL time.Duration
	negativeTTL time.Duration
	now         func() time.Time
	hits        atomic.Int64
	misses      atomic.Int64
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// New creates a Cache. Non-positive TTLs fall back to the defaults.
func New(positiveTTL, negativeTTL time.Duration, opts ...Option) *Cache {
	if positiveTTL <= 0 {
		positiveTTL = DefaultPositiveTTL
	}
	if negativeTTL <= 0 {
		negativeTTL = DefaultNegativeTTL
	}
	c := &Cache{
		entries:     make(map[string]models.CacheEntry),
		positiveTTL: positiveTTL,
		negativeTTL: negativeTTL,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Key returns the cache key for a post: its URL, or a hash of the leading
// text when the URL is empty.
func Key(item models.ContentItem) string {
	if item.URL != "" {
		return item.URL
	}
	r := []rune(item.Text)
	if len(r) > fallbackKeyRunes {
		r = r[:fallbackKeyRunes]
	}
	return fmt.Sprintf("text:%x", sha256.Sum256([]byte(string(r))))
}

// IsCached reports whether key holds a live entry. An expired entry is
// removed.
func (c *Cache) IsCached(key string) bool {
	_, ok := c.Get(key)
	return ok
}

// Get returns the cached outcome for key. An expired entry is removed and
// reported as missing.
func (c *Cache) Get(key string) (outcome bool, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, found := c.entries[key]
	if found && c.expired(e, c.now()) {
		delete(c.entries, key)
		found = false
	}
	if !found {
		c.misses.Add(1)
		return false, false
	}
	c.hits.Add(1)
	return e.Outcome, true
}

// Put stores outcome for key, replacing any previous entry, then sweeps
// expired entries.
func (c *Cache) Put(key string, outcome bool) {
	c.mu.Lock()
	c.entries[key] = models.CacheEntry{Outcome: outcome, ObservedAt: c.now()}
	c.mu.Unlock()
	c.Sweep()
}

// Sweep removes every expired entry and returns how many were removed.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for k, e := range c.entries {
		if c.expired(e, now) {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}

// Clear removes entries. If expiredOnly is true, only expired entries go.
func (c *Cache) Clear(expiredOnly bool) int {
	if expiredOnly {
		return c.Sweep()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.entries)
	clear(c.entries)
	return n
}

// Len returns the number of stored entries, including expired ones not yet
// swept.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns cache statistics.
func (c *Cache) Stats() models.CacheStats {
	c.mu.Lock()
	var pos, neg int64
	for _, e := range c.entries {
		if e.Outcome {
			pos++
		} else {
			neg++
		}
	}
	c.mu.Unlock()

	return models.CacheStats{
		Entries:  pos + neg,
		Positive: pos,
		Negative: neg,
		Hits:     c.hits.Load(),
		Misses:   c.misses.Load(),
	}
}

func (c *Cache) expired(e models.CacheEntry, now time.Time) bool {
	ttl := c.negativeTTL
	if e.Outcome {
		ttl = c.positiveTTL
	}
	return now.Sub(e.ObservedAt) > ttl
}
