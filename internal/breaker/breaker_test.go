package breaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func TestBreakerTripsAfterConsecutiveFailures(t *testing.T) {
	b := New(Options{
		Enabled:          true,
		FailureThreshold: 3,
		SuccessThreshold: 1,
		Timeout:          time.Second,
		ResetTimeout:      time.Minute,
	}, nil)

	for i := 0; i < 3; i++ {
		err := b.Execute(context.Background(), func(context.Context) error { return errBoom })
		require.ErrorIs(t, err, errBoom)
	}

	require.Equal(t, Open, b.State())

	err := b.Execute(context.Background(), func(context.Context) error { return nil })
	require.ErrorIs(t, err, ErrOpen)
}

func TestBreakerHalfOpenClosesAfterSuccesses(t *testing.T) {
	b := New(Options{
		Enabled:          true,
		FailureThreshold: 1,
		SuccessThreshold: 2,
		Timeout:          time.Second,
		ResetTimeout:      10 * time.Millisecond,
	}, nil)

	err := b.Execute(context.Background(), func(context.Context) error { return errBoom })
	require.ErrorIs(t, err, errBoom)
	require.Equal(t, Open, b.State())

	time.Sleep(20 * time.Millisecond)

	err = b.Execute(context.Background(), func(context.Context) error { return nil })
	require.NoError(t, err)
	require.Equal(t, HalfOpen, b.State())

	err = b.Execute(context.Background(), func(context.Context) error { return nil })
	require.NoError(t, err)
	require.Equal(t, Closed, b.State())
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b := New(Options{
		Enabled:          true,
		FailureThreshold: 1,
		SuccessThreshold: 2,
		Timeout:          time.Second,
		ResetTimeout:      10 * time.Millisecond,
	}, nil)

	_ = b.Execute(context.Background(), func(context.Context) error { return errBoom })
	require.Equal(t, Open, b.State())

	time.Sleep(20 * time.Millisecond)

	err := b.Execute(context.Background(), func(context.Context) error { return errBoom })
	require.ErrorIs(t, err, errBoom)
	require.Equal(t, Open, b.State())
}

func TestBreakerCallTimeoutCountsAsFailure(t *testing.T) {
	b := New(Options{
		Enabled:          true,
		FailureThreshold: 1,
		SuccessThreshold: 1,
		Timeout:          5 * time.Millisecond,
		ResetTimeout:      time.Minute,
	}, nil)

	err := b.Execute(context.Background(), func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	require.ErrorIs(t, err, ErrTimeout)
	require.Equal(t, Open, b.State())
}

func TestBreakerManualTripResetAttemptReset(t *testing.T) {
	b := New(DefaultOptions(), nil)
	require.Equal(t, Closed, b.State())

	b.Trip()
	require.Equal(t, Open, b.State())

	b.Reset()
	require.Equal(t, Closed, b.State())

	b.Trip()
	b.AttemptReset()
	require.Equal(t, HalfOpen, b.State())
}

func TestBreakerVolumeThresholdTripsOnErrorPercentage(t *testing.T) {
	b := New(Options{
		Enabled:          true,
		FailureThreshold:      100, // avoid tripping on consecutive-failure path
		SuccessThreshold:      1,
		Timeout:               time.Second,
		ResetTimeout:           time.Minute,
		VolumeThreshold:       4,
		ErrorThresholdPercent: 50,
		WindowSize:            time.Minute,
	}, nil)

	_ = b.Execute(context.Background(), func(context.Context) error { return nil })
	_ = b.Execute(context.Background(), func(context.Context) error { return errBoom })
	_ = b.Execute(context.Background(), func(context.Context) error { return nil })
	require.Equal(t, Closed, b.State())

	err := b.Execute(context.Background(), func(context.Context) error { return errBoom })
	require.ErrorIs(t, err, errBoom)
	require.Equal(t, Open, b.State())
}

func TestBreakerHookFiresOnTransitions(t *testing.T) {
	transitions := make(chan [2]State, 8)
	b := New(Options{
		Enabled:          true,
		FailureThreshold: 1,
		SuccessThreshold: 1,
		Timeout:          time.Second,
		ResetTimeout:      time.Minute,
	}, func(from, to State) {
		transitions <- [2]State{from, to}
	})

	_ = b.Execute(context.Background(), func(context.Context) error { return errBoom })

	select {
	case tr := <-transitions:
		require.Equal(t, Closed, tr[0])
		require.Equal(t, Open, tr[1])
	case <-time.After(time.Second):
		t.Fatal("expected a state transition hook notification")
	}
}
