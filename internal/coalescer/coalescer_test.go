package coalescer

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGetOrFetchCoalescesConcurrentCallers(t *testing.T) {
	c := New(DefaultOptions())

	var upstreamHits int64
	producer := func(ctx context.Context) (interface{}, error) {
		atomic.AddInt64(&upstreamHits, 1)
		time.Sleep(50 * time.Millisecond)
		return "0x16433f9", nil
	}

	const n = 10
	results := make(chan interface{}, n)
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			val, _, err := c.GetOrFetch(context.Background(), "eth_blockNumber:[]", producer)
			results <- val
			errs <- err
		}()
	}

	for i := 0; i < n; i++ {
		require.NoError(t, <-errs)
		require.Equal(t, "0x16433f9", <-results)
	}

	require.EqualValues(t, 1, atomic.LoadInt64(&upstreamHits))
	require.EqualValues(t, n-1, c.Stats().CoalescedTotal)
}

func TestGetOrFetchPropagatesErrorToAllSubscribers(t *testing.T) {
	c := New(DefaultOptions())
	boom := errors.New("boom")

	producer := func(ctx context.Context) (interface{}, error) {
		time.Sleep(20 * time.Millisecond)
		return nil, boom
	}

	const n = 5
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			_, _, err := c.GetOrFetch(context.Background(), "fp", producer)
			errs <- err
		}()
	}
	for i := 0; i < n; i++ {
		require.ErrorIs(t, <-errs, boom)
	}
}

func TestGetOrFetchTimesOut(t *testing.T) {
	c := New(Options{Enabled: true, Timeout: 10 * time.Millisecond})

	_, _, err := c.GetOrFetch(context.Background(), "fp", func(ctx context.Context) (interface{}, error) {
		time.Sleep(100 * time.Millisecond)
		return "too-late", nil
	})
	require.ErrorIs(t, err, ErrTimeout)
}

func TestGetOrFetchDisabledBypassesMap(t *testing.T) {
	c := New(Options{Enabled: false})

	var hits int64
	for i := 0; i < 3; i++ {
		val, _, err := c.GetOrFetch(context.Background(), "fp", func(ctx context.Context) (interface{}, error) {
			atomic.AddInt64(&hits, 1)
			return "v", nil
		})
		require.NoError(t, err)
		require.Equal(t, "v", val)
	}
	require.EqualValues(t, 3, hits)
}

func TestClearDoesNotAffectInFlightWaiters(t *testing.T) {
	c := New(DefaultOptions())
	release := make(chan struct{})

	done := make(chan error, 1)
	go func() {
		_, _, err := c.GetOrFetch(context.Background(), "fp", func(ctx context.Context) (interface{}, error) {
			<-release
			return "v", nil
		})
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	c.Clear()
	close(release)

	require.NoError(t, <-done)
}
