/*
cache.go - Notification idempotency cache

PURPOSE:
  Suppresses duplicate notifications triggered by retries, concurrent
  requests or double form submission within one process.

SEMANTICS:
  Reserve(key) on a fresh key records reservedAt = now and returns false
  (caller proceeds). While now - reservedAt < TTL the same key returns
  true (caller skips render and send). After the TTL the key counts as
  fresh again.

  The key is exactly (template, recipient[, discriminator]). Personalisation
  content is not part of it: two different notifications with the same
  template to the same recipient inside the window are also suppressed.

EVICTION:
  Lazy on access for the reserved key, plus Sweep for everything else
  (run periodically by Sweeper).

CONCURRENCY:
  Check-and-reserve is one critical section under a single mutex. Nothing
  blocks on I/O while holding it.
*/
package notify

import (
	"sync"
	"time"
)

// DefaultTTL is the suppression window for repeated dispatches.
const DefaultTTL = 2000 * time.Millisecond

// Key identifies a notification for deduplication.
type Key struct {
	Template      string
	Recipient     string
	Discriminator string // optional, narrows the key
}

type Cache struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[Key]time.Time // reservedAt
}

type CacheOption func(*Cache)

// WithCacheClock overrides time.Now (tests).
func WithCacheClock(now func() time.Time) CacheOption {
	return func(c *Cache) { c.now = now }
}

// NewCache creates a cache; ttl <= 0 uses DefaultTTL.
func NewCache(ttl time.Duration, opts ...CacheOption) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &Cache{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[Key]time.Time),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Reserve reports whether key is already reserved; if not, it reserves it.
func (c *Cache) Reserve(key Key) (alreadyReserved bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if reservedAt, ok := c.entries[key]; ok {
		if now.Sub(reservedAt) < c.ttl {
			return true
		}
		delete(c.entries, key)
	}
	c.entries[key] = now
	return false
}

// Sweep evicts expired reservations and returns how many were removed.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for key, reservedAt := range c.entries {
		if now.Sub(reservedAt) >= c.ttl {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of entries, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) TTL() time.Duration { return c.ttl }
