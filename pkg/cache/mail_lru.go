// Package cache provides bounded in-memory and Redis-backed byte caches.
package cache

import (
	"container/list"
	"context"
	"strings"
	"sync"
	"time"
)

const defaultCapacity = 512

// LRU is a fixed-capacity cache with per-entry TTL.
// When full, the least recently used entry is evicted.
type LRU struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	order    *list.List // front = most recently used
	items    map[string]*list.Element
	now      func() time.Time

	hits   int64
	misses int64
}

type lruEntry struct {
	key       string
	value     []byte
	expiresAt time.Time
}

// Stats is a point-in-time snapshot of cache counters.
type Stats struct {
	Items    int     `json:"items"`
	Capacity int     `json:"capacity"`
	Hits     int64   `json:"hits"`
	Misses   int64   `json:"misses"`
	HitRate  float64 `json:"hit_rate"`
}

// NewLRU creates an LRU holding at most capacity entries.
// defaultTTL applies when Set is called with a non-positive ttl.
func NewLRU(capacity int, defaultTTL time.Duration) *LRU {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	if defaultTTL <= 0 {
		defaultTTL = 5 * time.Minute
	}
	return &LRU{
		capacity: capacity,
		ttl:      defaultTTL,
		order:    list.New(),
		items:    make(map[string]*list.Element, capacity),
		now:      time.Now,
	}
}

// Get returns the value for key if present and not expired.
func (c *LRU) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry := c.lookup(key, c.now()); entry != nil {
		return entry.value, true, nil
	}
	return nil, false, nil
}

// GetWithTTL is Get plus the entry's remaining lifetime.
func (c *LRU) GetWithTTL(_ context.Context, key string) ([]byte, time.Duration, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	entry := c.lookup(key, now)
	if entry == nil {
		return nil, 0, false, nil
	}
	return entry.value, entry.expiresAt.Sub(now), true, nil
}

// lookup returns the entry for key if it is live at now, updating recency
// and counters. c.mu must be held.
func (c *LRU) lookup(key string, now time.Time) *lruEntry {
	el, ok := c.items[key]
	if !ok {
		c.misses++
		return nil
	}
	entry := el.Value.(*lruEntry)
	if !now.Before(entry.expiresAt) {
		c.removeElement(el)
		c.misses++
		return nil
	}

	c.order.MoveToFront(el)
	c.hits++
	return entry
}

// Set stores value under key for ttl.
func (c *LRU) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.ttl
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	expiresAt := c.now().Add(ttl)
	if el, ok := c.items[key]; ok {
		entry := el.Value.(*lruEntry)
		entry.value = value
		entry.expiresAt = expiresAt
		c.order.MoveToFront(el)
		return nil
	}

	for c.order.Len() >= c.capacity {
		c.removeElement(c.order.Back())
	}

	c.items[key] = c.order.PushFront(&lruEntry{key: key, value: value, expiresAt: expiresAt})
	return nil
}

// Delete removes key.
func (c *LRU) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		c.removeElement(el)
	}
	return nil
}

// DeletePrefix removes every key starting with prefix. An empty prefix clears the cache.
func (c *LRU) DeletePrefix(_ context.Context, prefix string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, el := range c.items {
		if strings.HasPrefix(key, prefix) {
			c.removeElement(el)
		}
	}
	return nil
}

// Len returns the number of stored entries, expired ones included.
func (c *LRU) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Stats returns cache statistics
func (c *LRU) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	hitRate := float64(0)
	if total := c.hits + c.misses; total > 0 {
		hitRate = float64(c.hits) / float64(total)
	}
	return Stats{
		Items:    c.order.Len(),
		Capacity: c.capacity,
		Hits:     c.hits,
		Misses:   c.misses,
		HitRate:  hitRate,
	}
}

func (c *LRU) removeElement(el *list.Element) {
	c.order.Remove(el)
	delete(c.items, el.Value.(*lruEntry).key)
}
