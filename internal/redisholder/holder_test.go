package redisholder

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient(t *testing.T) redis.UniversalClient {
	t.Helper()
	mr := miniredis.RunT(t)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func TestHolderGet(t *testing.T) {
	cl := testClient(t)
	h := NewHolder(cl)

	got := h.Get()
	require.NotNil(t, got)
	assert.NoError(t, got.Ping(context.Background()).Err())
}

func TestHolderSwapReturnsOldClient(t *testing.T) {
	first := testClient(t)
	second := testClient(t)

	h := NewHolder(first)
	old := h.swap(second)

	assert.Equal(t, first, old)
	assert.Equal(t, second, h.Get())
	_ = old.Close()
}

func TestHolderClose(t *testing.T) {
	h := NewHolder(testClient(t))
	require.NoError(t, h.Close())

	// The swapped-in client is still usable after closing the old one.
	cl := testClient(t)
	old := h.swap(cl)
	_ = old
	assert.NoError(t, h.Get().Ping(context.Background()).Err())
}
