// Package credcache keeps recently decrypted token payloads so that routine
// message traffic does not serialize behind the identity service round trip.
package credcache

import (
	"sync"
	"time"

	"clipstream/presence/internal/identity"
)

// Option customises cache construction.
type Option func(*Cache)

// WithClock overrides the cache time source; primarily used in tests.
func WithClock(clock func() time.Time) Option {
	return func(c *Cache) {
		if clock != nil {
			c.now = clock
		}
	}
}

type entry struct {
	ident    identity.Identity
	storedAt time.Time
}

// Cache maps opaque tokens to decrypted identities for a bounded time.
// Expired entries are purged as a side effect of Lookup and Store rather than
// by a background sweep, so cleanup cost rides on traffic.
type Cache struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]entry
}

// New constructs a cache whose entries expire after ttl.
func New(ttl time.Duration, opts ...Option) *Cache {
	cache := &Cache{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]entry),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(cache)
		}
	}
	return cache
}

// Lookup returns the cached identity for token if present and not expired.
func (c *Cache) Lookup(token string) (identity.Identity, bool) {
	if c == nil || token == "" {
		return identity.Identity{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.purgeLocked(c.now())
	cached, ok := c.entries[token]
	if !ok {
		return identity.Identity{}, false
	}
	return cached.ident, true
}

// Store inserts or overwrites the cache entry for token with the current timestamp.
func (c *Cache) Store(token string, ident identity.Identity) {
	if c == nil || token == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	c.purgeLocked(now)
	c.entries[token] = entry{ident: ident, storedAt: now}
}

// Len reports the number of live entries after purging expired ones.
func (c *Cache) Len() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.purgeLocked(c.now())
	return len(c.entries)
}

func (c *Cache) purgeLocked(now time.Time) {
	if c.ttl <= 0 {
		return
	}
	cutoff := now.Add(-c.ttl)
	for token, cached := range c.entries {
		if cached.storedAt.Before(cutoff) {
			delete(c.entries, token)
		}
	}
}
