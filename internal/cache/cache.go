// Package cache implements the bounded, TTL-backed calculation cache with
// single-flight miss coalescing and fingerprint-based invalidation
// (component H of the analytic core).
package cache

import (
	"container/list"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Stats is a point-in-time snapshot of the cache's counters.
type Stats struct {
	Size        int
	MaxSize     int
	Hits        int64
	Misses      int64
	HitRate     float64
	Evictions   int64
	TimeSavedMs int64
	Expired     int64
}

// Tag identifies an entry for predicate-based invalidation by kind, symbol,
// and interval, plus arbitrary caller-supplied tags.
type Tag struct {
	Kind     string
	Symbol   string
	Interval string
	Extra    string
}

type entry struct {
	key        string
	value      interface{}
	tag        Tag
	expiresAt  time.Time
	costMs     int64
	listElem   *list.Element
}

// Config holds the cache's bounded-size and default-TTL tunables.
type Config struct {
	MaxSize int
	TTL     time.Duration
}

// DefaultConfig returns the stock sizing (2000 entries, 300s soft TTL).
func DefaultConfig() Config {
	return Config{MaxSize: 2000, TTL: 300 * time.Second}
}

// Cache is a bounded, approximately-LRU, TTL-expiring cache safe for
// concurrent use by many workers, with single-flight coalescing of
// concurrent misses for the same key.
type Cache struct {
	cfg Config

	mu      sync.Mutex
	items   map[string]*entry
	lru     *list.List // front = most recently used
	group   singleflight.Group

	hits, misses, evictions, expired int64
	timeSavedMs                      int64
}

// New constructs a Cache from cfg.
func New(cfg Config) *Cache {
	return &Cache{
		cfg:   cfg,
		items: make(map[string]*entry),
		lru:   list.New(),
	}
}

// Get implements get(key) -> value | miss.
func (c *Cache) Get(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.items[key]
	if !ok {
		c.misses++
		return nil, false
	}
	if !e.expiresAt.IsZero() && time.Now().After(e.expiresAt) {
		c.removeLocked(e)
		c.misses++
		c.expired++
		return nil, false
	}
	c.lru.MoveToFront(e.listElem)
	c.hits++
	c.timeSavedMs += e.costMs
	return e.value, true
}

// Set implements set(key, value, ttl, cost_ms). ttl <= 0 falls back to the
// cache's default TTL.
func (c *Cache) Set(key string, value interface{}, tag Tag, ttl time.Duration, costMs int64) {
	if ttl <= 0 {
		ttl = c.cfg.TTL
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.items[key]; ok {
		c.removeLocked(existing)
	}

	e := &entry{key: key, value: value, tag: tag, expiresAt: time.Now().Add(ttl), costMs: costMs}
	e.listElem = c.lru.PushFront(e)
	c.items[key] = e

	for len(c.items) > c.cfg.MaxSize {
		c.evictOldestLocked()
	}
}

// GetOrCompute coalesces concurrent misses for the same key: the first
// caller invokes compute and stores the result; later callers for the same
// key await the in-flight computation instead of recomputing.
func (c *Cache) GetOrCompute(key string, tag Tag, ttl time.Duration, compute func() (interface{}, int64, error)) (interface{}, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}
	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		if v, ok := c.Get(key); ok {
			return v, nil
		}
		value, costMs, err := compute()
		if err != nil {
			return nil, err
		}
		c.Set(key, value, tag, ttl, costMs)
		return value, nil
	})
	return v, err
}

// Invalidate removes every entry for which predicate(tag) is true. Used by
// the bar store's onWrite hook: registering new bars for (symbol, interval)
// invalidates all entries tagged with that pair.
func (c *Cache) Invalidate(predicate func(Tag) bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	var removed int
	for _, e := range c.items {
		if predicate(e.tag) {
			c.removeLocked(e)
			removed++
		}
	}
	return removed
}

// InvalidateSymbolInterval is the common case: invalidate all entries tagged
// with the given (symbol, interval) pair, regardless of kind.
func (c *Cache) InvalidateSymbolInterval(symbol, interval string) int {
	return c.Invalidate(func(t Tag) bool { return t.Symbol == symbol && t.Interval == interval })
}

func (c *Cache) removeLocked(e *entry) {
	delete(c.items, e.key)
	c.lru.Remove(e.listElem)
}

func (c *Cache) evictOldestLocked() {
	oldest := c.lru.Back()
	if oldest == nil {
		return
	}
	e := oldest.Value.(*entry)
	c.removeLocked(e)
	c.evictions++
}

// Stats implements stats() -> {size, max_size, hits, misses, hit_rate,
// evictions, time_saved_ms, expired}.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := c.hits + c.misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(c.hits) / float64(total)
	}
	return Stats{
		Size: len(c.items), MaxSize: c.cfg.MaxSize,
		Hits: c.hits, Misses: c.misses, HitRate: hitRate,
		Evictions: c.evictions, TimeSavedMs: c.timeSavedMs, Expired: c.expired,
	}
}
