// Package cache provides the shared LRU+TTL response cache used by the LLM
// gateway (C2) and the metadata extractor (C4). Both components cache
// expensive upstream calls keyed by a fingerprint of their own request
// shape; this package owns eviction and expiry, callers own the key schema
// (SPEC_FULL.md §10).
package cache

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// entry wraps a cached value with the time it was stored, so expiry can be
// checked lazily on read without a background sweep.
type entry[V any] struct {
	value    V
	storedAt time.Time
}

// Cache is a thread-safe, bounded LRU cache with per-entry TTL expiration.
// Eviction and TTL checks happen under the same lock (§10): the stored
// value is returned by reference on hits, so callers must treat it as
// immutable.
type Cache[K comparable, V any] struct {
	mu  sync.Mutex
	ttl time.Duration
	lru *lru.Cache[K, entry[V]]
}

// New creates a Cache bounded at size entries, each valid for ttl after
// insertion. A zero or negative ttl disables expiration (entries live
// until evicted by capacity).
func New[K comparable, V any](size int, ttl time.Duration) (*Cache[K, V], error) {
	l, err := lru.New[K, entry[V]](size)
	if err != nil {
		return nil, err
	}
	return &Cache[K, V]{ttl: ttl, lru: l}, nil
}

// Get returns the cached value for key and how long ago it was stored, or
// ok=false if absent or expired. An expired entry is evicted on lookup.
func (c *Cache[K, V]) Get(key K) (value V, age time.Duration, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, found := c.lru.Get(key)
	if !found {
		return value, 0, false
	}
	age = time.Since(e.storedAt)
	if c.ttl > 0 && age > c.ttl {
		c.lru.Remove(key)
		return value, 0, false
	}
	return e.value, age, true
}

// Put stores value under key, evicting the least-recently-used entry if
// the cache is at capacity.
func (c *Cache[K, V]) Put(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Add(key, entry[V]{value: value, storedAt: time.Now()})
}

// Len returns the number of entries currently stored, including any not
// yet lazily expired.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Purge removes every entry.
func (c *Cache[K, V]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Purge()
}
