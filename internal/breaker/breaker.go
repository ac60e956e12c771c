// Package breaker implements a three-state circuit breaker guarding
// upstream calls: CLOSED, OPEN, and HALF_OPEN, with consecutive-failure
// and rolling error-percentage trip conditions, state-transition
// notification via a callback hook, and manual Trip/Reset/AttemptReset
// operations.
package breaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State is one of the three breaker states.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "CLOSED"
	case Open:
		return "OPEN"
	case HalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// ErrOpen is the distinguished breaker-open error. The pipeline catches
// it to decide between serving a stale cache entry and mapping it to a
// -32603 response; it is never returned to the client as-is.
var ErrOpen = errors.New("breaker: circuit open")

// ErrTimeout is returned when an admitted call exceeds its per-call
// timeout; a timeout counts as a failure.
var ErrTimeout = errors.New("breaker: call timed out")

// Options configures threshold and timing behaviour, named after the
// CIRCUIT_* environment variables that populate it.
type Options struct {
	Enabled                bool          // false makes Execute a direct passthrough, never tripping
	FailureThreshold       int           // consecutive failures to trip from CLOSED
	SuccessThreshold       int           // consecutive half-open successes to close
	Timeout                time.Duration // per-call timeout
	ResetTimeout           time.Duration // OPEN duration before HALF_OPEN is attempted
	VolumeThreshold        int           // min samples in window before % tripping applies
	ErrorThresholdPercent  float64       // 0-100
	WindowSize             time.Duration // rolling window for % tripping
}

// DefaultOptions matches defaults.
func DefaultOptions() Options {
	return Options{
		Enabled:               true,
		FailureThreshold:      5,
		SuccessThreshold:      2,
		Timeout:               10 * time.Second,
		ResetTimeout:          60 * time.Second,
		VolumeThreshold:       10,
		ErrorThresholdPercent: 50,
		WindowSize:            60 * time.Second,
	}
}

// sample is one rolling-window entry.
type sample struct {
	at      time.Time
	success bool
}

// Hook is called on every state transition — a plain callback lets
// callers fan out to both logging and metrics without running a
// dedicated goroutine per breaker.
type Hook func(from, to State)

// Breaker is a single logical owner of its state; all reads of state
// and the rolling window are serialised against transitions by mu.
type Breaker struct {
	opts Options
	hook Hook

	mu               sync.Mutex
	state            State
	consecutiveFails int
	halfOpenSuccess  int
	nextAttempt      time.Time
	window           []sample
}

// New constructs a Breaker in the CLOSED state.
func New(opts Options, hook Hook) *Breaker {
	if hook == nil {
		hook = func(State, State) {}
	}
	return &Breaker{
		opts:  opts,
		hook:  hook,
		state: Closed,
	}
}

// State returns a snapshot of the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Execute runs fn if the breaker admits the call, enforcing the per-call
// timeout. It returns ErrOpen without invoking fn when the breaker is
// open and the reset timeout has not yet elapsed.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if !b.opts.Enabled {
		return fn(ctx)
	}
	if !b.admit() {
		return ErrOpen
	}

	err := b.callWithTimeout(ctx, fn)
	b.recordResult(err == nil)
	return err
}

// admit performs the lazy OPEN -> HALF_OPEN transition on arrival and
// decides whether this call may proceed.
func (b *Breaker) admit() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed, HalfOpen:
		return true
	case Open:
		if !b.nextAttempt.IsZero() && time.Now().After(b.nextAttempt) {
			b.transitionLocked(HalfOpen)
			return true
		}
		return false
	default:
		return true
	}
}

func (b *Breaker) callWithTimeout(ctx context.Context, fn func(ctx context.Context) error) error {
	if b.opts.Timeout <= 0 {
		return fn(ctx)
	}

	callCtx, cancel := context.WithTimeout(ctx, b.opts.Timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- fn(callCtx)
	}()

	select {
	case err := <-done:
		return err
	case <-callCtx.Done():
		return ErrTimeout
	}
}

func (b *Breaker) recordResult(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.pushSampleLocked(success)

	switch b.state {
	case Closed:
		if success {
			b.consecutiveFails = 0
			return
		}
		b.consecutiveFails++
		if b.consecutiveFails >= b.opts.FailureThreshold || b.volumeTrippedLocked() {
			b.tripLocked()
		}

	case HalfOpen:
		if !success {
			b.tripLocked()
			return
		}
		b.halfOpenSuccess++
		if b.halfOpenSuccess >= b.opts.SuccessThreshold {
			b.transitionLocked(Closed)
		}

	case Open:
		// A result arriving while OPEN (e.g. a stray completion from a
		// call admitted just before a trip) does not affect state.
	}
}

func (b *Breaker) pushSampleLocked(success bool) {
	now := time.Now()
	b.window = append(b.window, sample{at: now, success: success})
	if b.opts.WindowSize <= 0 {
		return
	}
	cutoff := now.Add(-b.opts.WindowSize)
	i := 0
	for ; i < len(b.window); i++ {
		if b.window[i].at.After(cutoff) {
			break
		}
	}
	b.window = b.window[i:]
}

func (b *Breaker) volumeTrippedLocked() bool {
	if b.opts.VolumeThreshold <= 0 || len(b.window) < b.opts.VolumeThreshold {
		return false
	}
	failures := 0
	for _, s := range b.window {
		if !s.success {
			failures++
		}
	}
	pct := float64(failures) / float64(len(b.window)) * 100
	return pct >= b.opts.ErrorThresholdPercent
}

// tripLocked forces a transition to OPEN with a fresh nextAttempt.
func (b *Breaker) tripLocked() {
	b.nextAttempt = time.Now().Add(b.opts.ResetTimeout)
	b.transitionLocked(Open)
}

// transitionLocked moves to `to`, resetting the counters that state owns
// and firing the hook outside the lock.
func (b *Breaker) transitionLocked(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	switch to {
	case Closed:
		b.consecutiveFails = 0
		b.halfOpenSuccess = 0
	case Open:
		b.halfOpenSuccess = 0
	case HalfOpen:
		b.halfOpenSuccess = 0
	}

	hook := b.hook
	go hook(from, to)
}

// Trip forces an immediate transition to OPEN (manual operation).
func (b *Breaker) Trip() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tripLocked()
}

// Reset forces an immediate transition to CLOSED (manual operation).
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.window = nil
	b.transitionLocked(Closed)
}

// AttemptReset forces the lazy OPEN -> HALF_OPEN transition immediately,
// ignoring nextAttempt (manual operation).
func (b *Breaker) AttemptReset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == Open {
		b.transitionLocked(HalfOpen)
	}
}

// NextAttempt reports when an OPEN breaker becomes eligible for
// HALF_OPEN, for the /health endpoint.
func (b *Breaker) NextAttempt() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.nextAttempt
}
