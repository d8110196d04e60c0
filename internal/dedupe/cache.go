// ABOUTME: Thread-safe TTL cache mapping idempotency keys to stored results
// ABOUTME: Oldest entries are evicted first once the size limit is reached

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

// cacheEntry stores the value, its timestamp and list element for a cached key.
type cacheEntry[V any] struct {
	value     V
	pending   bool // reserved, value not stored yet
	timestamp time.Time
	element   *list.Element
}

// Cache is a thread-safe, TTL-based, size-limited map from keys to values.
// A doubly-linked list keeps insertion order for O(1) eviction.
type Cache[V any] struct {
	mu      sync.RWMutex
	seen    map[string]*cacheEntry[V]
	order   *list.List // keys, oldest at front
	ttl     time.Duration
	maxSize int
	now     func() time.Time
	done    chan struct{}
	closed  bool
}

// New creates a cache with the given TTL and maximum size.
// A background goroutine periodically removes expired entries.
func New[V any](ttl time.Duration, maxSize int) *Cache[V] {
	c := &Cache[V]{
		seen:    make(map[string]*cacheEntry[V]),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	go c.cleanup()
	return c
}

// Get returns the value stored under key if it has not expired.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var zero V
	entry, ok := c.seen[key]
	if !ok || entry.pending || c.now().Sub(entry.timestamp) >= c.ttl {
		return zero, false
	}
	return entry.value, true
}

// Reserve atomically claims key for a caller about to produce its value.
// It returns true if the key was free (or expired) and is now reserved.
// Otherwise it returns the stored value, or the zero value while another
// caller's reservation is still pending. A single check-then-act step
// prevents TOCTOU races between concurrent callers with the same key.
func (c *Cache[V]) Reserve(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	now := c.now()
	if entry, ok := c.seen[key]; ok {
		if now.Sub(entry.timestamp) < c.ttl {
			return entry.value, false
		}
		c.order.Remove(entry.element)
		delete(c.seen, key)
	}

	c.insertLocked(key, zero, true, now)
	return zero, true
}

// Release drops a pending reservation so the key can be claimed again.
// Stored values are left alone.
func (c *Cache[V]) Release(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.seen[key]; ok && entry.pending {
		c.order.Remove(entry.element)
		delete(c.seen, key)
	}
}

// Put stores value under key, refreshing the timestamp of an existing entry.
// If the cache is at capacity, the oldest entry is evicted to make room.
func (c *Cache[V]) Put(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if entry, exists := c.seen[key]; exists {
		entry.value = value
		entry.pending = false
		entry.timestamp = now
		c.order.MoveToBack(entry.element)
		return
	}
	c.insertLocked(key, value, false, now)
}

// insertLocked adds a new entry, evicting the oldest at capacity. Must be called with mu held.
func (c *Cache[V]) insertLocked(key string, value V, pending bool, now time.Time) {
	if len(c.seen) >= c.maxSize {
		c.evictOldest()
	}

	elem := c.order.PushBack(key)
	c.seen[key] = &cacheEntry[V]{value: value, pending: pending, timestamp: now, element: elem}
}

// Len returns the number of entries, expired or not.
func (c *Cache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.seen)
}

// evictOldest removes the oldest entry. Must be called with mu held.
func (c *Cache[V]) evictOldest() {
	front := c.order.Front()
	if front == nil {
		return
	}

	key, _ := front.Value.(string)
	c.order.Remove(front)
	delete(c.seen, key)
}

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

// runCleanup removes all expired entries.
func (c *Cache[V]) runCleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for key, entry := range c.seen {
		if now.Sub(entry.timestamp) >= c.ttl {
			c.order.Remove(entry.element)
			delete(c.seen, key)
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
