package cachestore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryCacheGetMissReturnsErrNotFound(t *testing.T) {
	c := NewMemoryCache()
	_, err := c.Get(context.Background(), "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryCacheSetThenGetRoundTrips(t *testing.T) {
	c := NewMemoryCache()
	require.NoError(t, c.Set(context.Background(), "k", []byte("v"), Permanent))

	v, err := c.Get(context.Background(), "k")
	require.NoError(t, err)
	require.Equal(t, []byte("v"), v)
	require.False(t, c.HasExpiry("k"))
}

func TestMemoryCacheExpiresAfterTTL(t *testing.T) {
	c := NewMemoryCache()
	require.NoError(t, c.Set(context.Background(), "k", []byte("v"), 10*time.Millisecond))
	require.True(t, c.HasExpiry("k"))

	time.Sleep(30 * time.Millisecond)
	_, err := c.Get(context.Background(), "k")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryCacheSetIfAbsentOnlySucceedsOnce(t *testing.T) {
	c := NewMemoryCache()
	acquired, err := c.SetIfAbsent(context.Background(), "lock:a", []byte("1"), time.Second)
	require.NoError(t, err)
	require.True(t, acquired)

	acquired, err = c.SetIfAbsent(context.Background(), "lock:a", []byte("2"), time.Second)
	require.NoError(t, err)
	require.False(t, acquired)
}

func TestMemoryCacheDeleteMatchingGlob(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "eth_call:0x1", []byte("a"), Permanent))
	require.NoError(t, c.Set(ctx, "eth_call:0x2", []byte("b"), Permanent))
	require.NoError(t, c.Set(ctx, "eth_blockNumber:", []byte("c"), Permanent))

	require.NoError(t, c.DeleteMatching(ctx, "eth_call:*"))

	_, err := c.Get(ctx, "eth_call:0x1")
	require.ErrorIs(t, err, ErrNotFound)
	_, err = c.Get(ctx, "eth_call:0x2")
	require.ErrorIs(t, err, ErrNotFound)

	v, err := c.Get(ctx, "eth_blockNumber:")
	require.NoError(t, err)
	require.Equal(t, []byte("c"), v)
}

func TestMemoryCacheMultiGetOmitsAbsentKeys(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "a", []byte("1"), Permanent))

	out, err := c.MultiGet(ctx, []string{"a", "b"})
	require.NoError(t, err)
	require.Equal(t, map[string][]byte{"a": []byte("1")}, out)
}

func TestMemoryCacheFlushAllClearsEverything(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "a", []byte("1"), Permanent))
	require.NoError(t, c.FlushAll(ctx))

	_, err := c.Get(ctx, "a")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryCacheCloseStopsTimersWithoutPanicking(t *testing.T) {
	c := NewMemoryCache()
	require.NoError(t, c.Set(context.Background(), "k", []byte("v"), time.Second))
	require.NoError(t, c.Close())
}
