// ABOUTME: Thread-safe TTL cache with LRU eviction for ServiceNow lookups.
// ABOUTME: Used to avoid refetching knowledge articles on repeated tool calls.

package cache

import (
	"container/list"
	"sync"
	"time"
)

// entry stores the value, its write time, and its list element.
type entry[V any] struct {
	key       string
	value     V
	timestamp time.Time
	element   *list.Element
}

// Cache is a size-limited, TTL-based cache. Reads refresh recency so the
// least recently used entry is evicted first when full.
type Cache[V any] struct {
	mu      sync.Mutex
	items   map[string]*entry[V]
	order   *list.List // keys, least recently used at front
	ttl     time.Duration
	maxSize int
	now     func() time.Time
	done    chan struct{}
	closed  bool

	hits   uint64
	misses uint64
}

// Stats is a point-in-time snapshot of cache counters.
type Stats struct {
	Entries int
	Hits    uint64
	Misses  uint64
}

// New creates a cache with the given TTL and maximum size.
// A background goroutine periodically removes expired entries.
func New[V any](ttl time.Duration, maxSize int) *Cache[V] {
	c := newCache[V](ttl, maxSize, time.Now)
	go c.cleanup()
	return c
}

func newCache[V any](ttl time.Duration, maxSize int, now func() time.Time) *Cache[V] {
	if maxSize <= 0 {
		maxSize = 1
	}
	return &Cache[V]{
		items:   make(map[string]*entry[V]),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     now,
		done:    make(chan struct{}),
	}
}

// Get returns the value for key if present and not expired.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	e, ok := c.items[key]
	if !ok {
		c.misses++
		return zero, false
	}
	if c.now().Sub(e.timestamp) >= c.ttl {
		c.removeLocked(e)
		c.misses++
		return zero, false
	}

	c.order.MoveToBack(e.element)
	c.hits++
	return e.value, true
}

// Set stores value under key. If the cache is at capacity, the least
// recently used entry is evicted to make room.
func (c *Cache[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()

	if e, exists := c.items[key]; exists {
		e.value = value
		e.timestamp = now
		c.order.MoveToBack(e.element)
		return
	}

	if len(c.items) >= c.maxSize {
		c.evictOldest()
	}

	e := &entry[V]{key: key, value: value, timestamp: now}
	e.element = c.order.PushBack(e)
	c.items[key] = e
}

// Delete removes key if present.
func (c *Cache[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.items[key]; ok {
		c.removeLocked(e)
	}
}

// Len returns the number of stored entries, expired or not.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Stats returns hit/miss counters.
func (c *Cache[V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{Entries: len(c.items), Hits: c.hits, Misses: c.misses}
}

// removeLocked must be called with mu held.
func (c *Cache[V]) removeLocked(e *entry[V]) {
	c.order.Remove(e.element)
	delete(c.items, e.key)
}

// evictOldest removes the least recently used entry. Must be called with mu held.
func (c *Cache[V]) evictOldest() {
	front := c.order.Front()
	if front == nil {
		return
	}
	e, _ := front.Value.(*entry[V])
	c.removeLocked(e)
}

// cleanup runs in a background goroutine, periodically removing expired entries.
func (c *Cache[V]) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.runCleanup()
		case <-c.done:
			return
		}
	}
}

// runCleanup removes all expired entries from the cache.
func (c *Cache[V]) runCleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for _, e := range c.items {
		if now.Sub(e.timestamp) >= c.ttl {
			c.removeLocked(e)
		}
	}
}

// Close stops the background cleanup goroutine. It is safe to call multiple times.
func (c *Cache[V]) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
