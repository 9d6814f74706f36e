package cache_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/dmitrymomot/paygate/pkg/cache"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestLRU(t *testing.T) {
	t.Parallel()

	t.Run("evicts least recently used", func(t *testing.T) {
		t.Parallel()
		c := cache.New[string, int](2, 0)
		c.Put("a", 1)
		c.Put("b", 2)
		_, _ = c.Get("a")
		c.Put("c", 3)

		_, ok := c.Get("b")
		assert.False(t, ok)
		v, ok := c.Get("a")
		assert.True(t, ok)
		assert.Equal(t, 1, v)
		assert.Equal(t, 2, c.Len())
	})

	t.Run("entries expire", func(t *testing.T) {
		t.Parallel()
		clk := &clock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
		c := cache.New[string, string](10, time.Minute, cache.WithClock(clk.Now))
		c.Put("k", "v")

		clk.Advance(59 * time.Second)
		_, ok := c.Get("k")
		assert.True(t, ok)

		clk.Advance(time.Second)
		_, ok = c.Get("k")
		assert.False(t, ok)
		assert.Zero(t, c.Len())
	})

	t.Run("remove and purge", func(t *testing.T) {
		t.Parallel()
		c := cache.New[int, int](4, 0)
		c.Put(1, 1)
		c.Put(2, 2)
		assert.True(t, c.Remove(1))
		assert.False(t, c.Remove(1))
		c.Purge()
		assert.Zero(t, c.Len())
	})

	t.Run("overwrite keeps one entry", func(t *testing.T) {
		t.Parallel()
		c := cache.New[string, int](2, 0)
		c.Put("a", 1)
		c.Put("a", 2)
		v, _ := c.Get("a")
		assert.Equal(t, 2, v)
		assert.Equal(t, 1, c.Len())
	})

	assert.Panics(t, func() { cache.New[string, int](0, 0) })
}
