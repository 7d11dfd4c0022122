// Package cache is a small in-process TTL cache for values that are cheap
// to rebuild but pointless to rebuild on every request.
package cache

import (
	"sync"
	"time"
)

type Cache[V any] struct {
	mu         sync.Mutex
	ttl        time.Duration
	maxEntries int
	m          map[string]entry[V]
	now        func() time.Time
}

type entry[V any] struct {
	val V
	exp time.Time
}

// New returns a cache whose entries live for ttl. When maxEntries is
// reached, expired entries are evicted first and then everything.
func New[V any](ttl time.Duration, maxEntries int) *Cache[V] {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	if maxEntries <= 0 {
		maxEntries = 1024
	}
	return &Cache[V]{
		ttl:        ttl,
		maxEntries: maxEntries,
		m:          make(map[string]entry[V]),
		now:        time.Now,
	}
}

func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.m[key]
	if !ok {
		var zero V
		return zero, false
	}
	if !c.now().Before(e.exp) {
		delete(c.m, key)
		var zero V
		return zero, false
	}
	return e.val, true
}

func (c *Cache[V]) Set(key string, val V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if _, exists := c.m[key]; !exists && len(c.m) >= c.maxEntries {
		c.evict(now)
	}
	c.m[key] = entry[V]{val: val, exp: now.Add(c.ttl)}
}

// GetOrCreate returns the cached value for key, building and storing it on
// a miss. Build errors are not cached.
func (c *Cache[V]) GetOrCreate(key string, build func() (V, error)) (V, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}
	v, err := build()
	if err != nil {
		return v, err
	}
	c.Set(key, v)
	return v, nil
}

func (c *Cache[V]) Delete(key string) {
	c.mu.Lock()
	delete(c.m, key)
	c.mu.Unlock()
}

func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.m)
}

func (c *Cache[V]) evict(now time.Time) {
	for k, e := range c.m {
		if !now.Before(e.exp) {
			delete(c.m, k)
		}
	}
	if len(c.m) >= c.maxEntries {
		c.m = make(map[string]entry[V])
	}
}
