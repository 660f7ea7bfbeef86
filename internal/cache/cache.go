// Package cache holds the TTL caches the manager fills after successful
// provider calls.
package cache

import (
	"sync"
	"time"
)

// DefaultMaxSize is the size at which Set sweeps expired entries.
const DefaultMaxSize = 1000

// entry stores one cached value with its expiry. Entries are replaced on
// refresh, never mutated.
type entry[V any] struct {
	value     V
	createdAt time.Time
	expiresAt time.Time
}

// Stats is a point-in-time view of a cache.
type Stats struct {
	Name    string        `json:"name"`
	Size    int           `json:"size"`
	Hits    uint64        `json:"hits"`
	Misses  uint64        `json:"misses"`
	HitRate float64       `json:"hit_rate"`
	TTL     time.Duration `json:"ttl"`
}

// StatsSource is anything that can report cache stats.
type StatsSource interface {
	Stats() Stats
}

// Option configures a Cache.
type Option func(*options)

type options struct {
	maxSize int
	now     func() time.Time
}

// WithMaxSize sets the sweep threshold. Values <= 0 keep the default.
func WithMaxSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxSize = n
		}
	}
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// Cache is a key/value store with per-entry expiry. Expired entries are
// never returned: Get drops them lazily and counts a miss. The only
// eviction is the expiry sweep run by Set once the cache reaches its max
// size.
type Cache[V any] struct {
	name    string
	ttl     time.Duration
	maxSize int
	now     func() time.Time

	mu     sync.Mutex
	items  map[string]entry[V]
	hits   uint64
	misses uint64
}

// New returns an empty cache with the given default TTL.
func New[V any](name string, ttl time.Duration, opts ...Option) *Cache[V] {
	o := options{maxSize: DefaultMaxSize, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return &Cache[V]{
		name:    name,
		ttl:     ttl,
		maxSize: o.maxSize,
		now:     o.now,
		items:   make(map[string]entry[V]),
	}
}

func (c *Cache[V]) Name() string { return c.name }

func (c *Cache[V]) TTL() time.Duration { return c.ttl }

// Get returns the value for key if present and unexpired.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.getLocked(key, c.now())
}

func (c *Cache[V]) getLocked(key string, now time.Time) (V, bool) {
	var zero V
	e, ok := c.items[key]
	if !ok {
		c.misses++
		return zero, false
	}
	if now.After(e.expiresAt) {
		delete(c.items, key)
		c.misses++
		return zero, false
	}
	c.hits++
	return e.value, true
}

// Set stores value under key with the default TTL.
func (c *Cache[V]) Set(key string, value V) {
	c.SetWithTTL(key, value, 0)
}

// SetWithTTL stores value under key. ttl <= 0 means the cache default.
func (c *Cache[V]) SetWithTTL(key string, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	if len(c.items) >= c.maxSize {
		c.sweepLocked(now)
	}
	c.items[key] = c.newEntry(value, ttl, now)
}

// GetMulti returns the hits among keys. Each absent or expired key
// counts as a miss.
func (c *Cache[V]) GetMulti(keys []string) map[string]V {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	out := make(map[string]V, len(keys))
	for _, k := range keys {
		if v, ok := c.getLocked(k, now); ok {
			out[k] = v
		}
	}
	return out
}

// SetMulti stores every item with the same ttl (<= 0 means the default).
func (c *Cache[V]) SetMulti(items map[string]V, ttl time.Duration) {
	if len(items) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	if len(c.items) >= c.maxSize {
		c.sweepLocked(now)
	}
	for k, v := range items {
		c.items[k] = c.newEntry(v, ttl, now)
	}
}

// Invalidate removes key. It reports whether anything was removed.
func (c *Cache[V]) Invalidate(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.items[key]
	delete(c.items, key)
	return ok
}

// Clear drops every entry and resets the hit/miss counters.
func (c *Cache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]entry[V])
	c.hits, c.misses = 0, 0
}

// Sweep evicts all expired entries and returns how many were removed.
func (c *Cache[V]) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sweepLocked(c.now())
}

func (c *Cache[V]) sweepLocked(now time.Time) int {
	n := 0
	for k, e := range c.items {
		if now.After(e.expiresAt) {
			delete(c.items, k)
			n++
		}
	}
	return n
}

func (c *Cache[V]) newEntry(value V, ttl time.Duration, now time.Time) entry[V] {
	if ttl <= 0 {
		ttl = c.ttl
	}
	return entry[V]{value: value, createdAt: now, expiresAt: now.Add(ttl)}
}

// Stats reports size and hit accounting. HitRate is a percentage.
func (c *Cache[V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Name:    c.name,
		Size:    len(c.items),
		Hits:    c.hits,
		Misses:  c.misses,
		HitRate: HitRate(c.hits, c.misses),
		TTL:     c.ttl,
	}
}

// HitRate returns hits/(hits+misses) as a percentage, 0 with no lookups.
func HitRate(hits, misses uint64) float64 {
	total := hits + misses
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total) * 100
}
