package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rc.Close() })
	return NewCache("teaser:status", rc), mr
}

func TestStoreAndGet(t *testing.T) {
	c, mr := testCache(t)
	ctx := context.Background()

	require.NoError(t, c.Store(ctx, "abc", 30, `{"status":"queued"}`))

	val, err := c.Get(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, `{"status":"queued"}`, val)

	// Keys are namespaced so unrelated consumers do not collide.
	assert.True(t, mr.Exists("teaser:status:abc"))
}

func TestGetMissingKey(t *testing.T) {
	c, _ := testCache(t)

	_, err := c.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, redis.Nil)
}

func TestStoreExpires(t *testing.T) {
	c, mr := testCache(t)
	ctx := context.Background()

	require.NoError(t, c.Store(ctx, "abc", 3, "v"))

	mr.FastForward(4 * time.Second)

	_, err := c.Get(ctx, "abc")
	assert.ErrorIs(t, err, redis.Nil)
}

func TestRemove(t *testing.T) {
	c, _ := testCache(t)
	ctx := context.Background()

	require.NoError(t, c.Store(ctx, "abc", 30, "v"))
	require.NoError(t, c.Remove(ctx, "abc"))

	_, err := c.Get(ctx, "abc")
	assert.ErrorIs(t, err, redis.Nil)
}

func TestFlushOnlyClearsNamespace(t *testing.T) {
	c, mr := testCache(t)
	ctx := context.Background()

	require.NoError(t, c.Store(ctx, "a", 30, "1"))
	require.NoError(t, c.Store(ctx, "b", 30, "2"))
	require.NoError(t, mr.Set("other:key", "keep"))

	require.NoError(t, c.Flush(ctx))

	assert.False(t, mr.Exists("teaser:status:a"))
	assert.False(t, mr.Exists("teaser:status:b"))
	assert.True(t, mr.Exists("other:key"))
}
