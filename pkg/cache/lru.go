package cache

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

type entry[V any] struct {
	value   V
	expires time.Time // zero means no expiry
}

// Option configures an LRU.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock overrides time.Now for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// LRU is a thread-safe, size-bounded cache whose entries may also expire.
// When full, the least recently used entry is evicted.
type LRU[K comparable, V any] struct {
	mu  sync.Mutex
	lru *simplelru.LRU[K, entry[V]]
	ttl time.Duration
	now func() time.Time
}

// New creates an LRU holding at most capacity entries, each living for ttl
// (0 disables expiry). It panics if capacity is not positive.
func New[K comparable, V any](capacity int, ttl time.Duration, opts ...Option) *LRU[K, V] {
	if capacity <= 0 {
		panic("cache: capacity must be positive")
	}
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	l, err := simplelru.NewLRU[K, entry[V]](capacity, nil)
	if err != nil {
		panic("cache: " + err.Error())
	}
	return &LRU[K, V]{lru: l, ttl: ttl, now: o.now}
}

// Get returns the cached value and marks it recently used. Expired entries are dropped.
func (c *LRU[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	e, ok := c.lru.Get(key)
	if !ok {
		return zero, false
	}
	if !e.expires.IsZero() && !c.now().Before(e.expires) {
		c.lru.Remove(key)
		return zero, false
	}
	return e.value, true
}

// Put stores value under key, resetting its expiry.
func (c *LRU[K, V]) Put(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := entry[V]{value: value}
	if c.ttl > 0 {
		e.expires = c.now().Add(c.ttl)
	}
	c.lru.Add(key, e)
}

// Remove deletes key and reports whether it was present.
func (c *LRU[K, V]) Remove(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Remove(key)
}

// Len counts stored entries, including expired ones not yet dropped.
func (c *LRU[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Purge removes everything.
func (c *LRU[K, V]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Purge()
}
