package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(ttl time.Duration) (*Cache, *time.Time) {
	c := New(ttl)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	return c, &now
}

func TestCacheSetGet(t *testing.T) {
	c, _ := newTestCache(time.Minute)

	c.Set("entity:light.kitchen", "# Kitchen\non")

	v, ok := c.Get("entity:light.kitchen")
	require.True(t, ok)
	assert.Equal(t, "# Kitchen\non", v)
}

func TestCacheMiss(t *testing.T) {
	c, _ := newTestCache(time.Minute)

	_, ok := c.Get("nope")
	assert.False(t, ok)
}

func TestCacheExpiry(t *testing.T) {
	c, now := newTestCache(time.Minute)

	c.Set("k", "v")
	*now = now.Add(2 * time.Minute)

	_, ok := c.Get("k")
	assert.False(t, ok)
}

func TestCacheInvalidateExact(t *testing.T) {
	c, _ := newTestCache(time.Minute)

	c.Set("entity:light.a", "a")
	c.Set("entity:light.b", "b")

	assert.Equal(t, 1, c.Invalidate("entity:light.a"))
	assert.Equal(t, 0, c.Invalidate("entity:light.a"))

	_, ok := c.Get("entity:light.b")
	assert.True(t, ok)
}

func TestCacheInvalidatePrefix(t *testing.T) {
	c, _ := newTestCache(time.Minute)

	c.Set("entity:light.a", "a")
	c.Set("entity:light.b", "b")
	c.Set(CollectionKey, "all")

	assert.Equal(t, 2, c.Invalidate("entity:*"))
	assert.Equal(t, 1, c.Len())
}

func TestCacheKeys(t *testing.T) {
	assert.Equal(t, "entity:light.kitchen", EntityKey("light.kitchen"))
	assert.Equal(t, "entities:all", CollectionKey)
}

func TestCacheDefaultTTL(t *testing.T) {
	c := New(0)
	assert.Equal(t, DefaultTTL, c.ttl)
}
