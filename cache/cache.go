// Package cache provides an in-memory LRU prompt cache with per-entry TTL,
// plus canonical request fingerprinting.
package cache

import (
	"container/list"
	"sync"
	"time"

	"github.com/ahleung/storylens/model"
)

const (
	// DefaultCapacity bounds the number of cached responses.
	DefaultCapacity = 100
	// DefaultTTL bounds how long a cached response stays valid.
	DefaultTTL = 5 * time.Minute
)

type entry struct {
	key      string
	resp     model.AnalysisResponse
	storedAt time.Time
}

// PromptCache caches analysis responses keyed by request fingerprint.
// Safe for concurrent use.
type PromptCache struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	now      func() time.Time
	order    *list.List // front = most recently used
	items    map[string]*list.Element
	hits     uint64
	misses   uint64
}

// Option configures a PromptCache.
type Option func(*PromptCache)

// WithCapacity overrides the entry capacity.
func WithCapacity(n int) Option {
	return func(c *PromptCache) {
		if n > 0 {
			c.capacity = n
		}
	}
}

// WithTTL overrides the entry lifetime.
func WithTTL(d time.Duration) Option {
	return func(c *PromptCache) {
		if d > 0 {
			c.ttl = d
		}
	}
}

// WithClock injects a time source for tests.
func WithClock(now func() time.Time) Option {
	return func(c *PromptCache) { c.now = now }
}

// New creates a prompt cache with defaults applied.
func New(opts ...Option) *PromptCache {
	c := &PromptCache{
		capacity: DefaultCapacity,
		ttl:      DefaultTTL,
		now:      time.Now,
		order:    list.New(),
		items:    make(map[string]*list.Element),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the cached response for key. Expired entries count as misses
// and are evicted on access; hits are promoted to most-recently-used.
func (c *PromptCache) Get(key string) (model.AnalysisResponse, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		c.misses++
		return model.AnalysisResponse{}, false
	}
	e := el.Value.(*entry)
	if c.now().Sub(e.storedAt) > c.ttl {
		c.order.Remove(el)
		delete(c.items, key)
		c.misses++
		return model.AnalysisResponse{}, false
	}
	c.order.MoveToFront(el)
	c.hits++
	return e.resp, true
}

// Set stores a response under key, refreshing the TTL on overwrite, then
// evicts least-recently-used entries while over capacity.
func (c *PromptCache) Set(key string, resp model.AnalysisResponse) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		e := el.Value.(*entry)
		e.resp = resp
		e.storedAt = c.now()
		c.order.MoveToFront(el)
		return
	}

	el := c.order.PushFront(&entry{key: key, resp: resp, storedAt: c.now()})
	c.items[key] = el

	for c.order.Len() > c.capacity {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*entry).key)
	}
}

// Len returns the current entry count, expired entries included until touched.
func (c *PromptCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// HitRate returns hits/(hits+misses), or 0 before any lookup.
func (c *PromptCache) HitRate() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := c.hits + c.misses
	if total == 0 {
		return 0
	}
	return float64(c.hits) / float64(total)
}
