// Package lock implements a best-effort distributed lock built on
// Store.SetIfAbsent: a "<value>-<acquisition timestamp>" lock value
// with a retry-with-backoff acquire loop. It targets a single shared
// store's atomic SETNX rather than a Redlock-style quorum across
// independent Redis nodes.
package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/powerloom/ethereum-rpc-cache-proxy/internal/cachestore"
)

// Options configures the lock.
type Options struct {
	Enabled       bool
	TTL           time.Duration
	RetryAttempts int
	RetryDelay    time.Duration // base delay for the exponential backoff
}

// DefaultOptions matches defaults.
func DefaultOptions() Options {
	return Options{
		Enabled:       true,
		TTL:           5 * time.Second,
		RetryAttempts: 10,
		RetryDelay:    50 * time.Millisecond,
	}
}

// Lock is the distributed lock component. One Lock instance is shared
// by the whole process; it tracks every key it currently holds for
// crash-time cleanup.
type Lock struct {
	store     cachestore.Store
	opts      Options
	processID string
	log       zerolog.Logger

	// disabled automatically when the store has no cross-instance
	// coordination to offer.
	disabled bool

	heldMu sync.Mutex
	held   map[string]struct{}
}

// New constructs a Lock bound to store. The lock is automatically
// disabled when store.Kind() == "memory".
func New(store cachestore.Store, opts Options, log zerolog.Logger) *Lock {
	return &Lock{
		store:     store,
		opts:      opts,
		processID: uuid.NewString(),
		log:       log,
		disabled:  !opts.Enabled || store.Kind() == "memory",
		held:      make(map[string]struct{}),
	}
}

func lockKey(fp string) string { return "lock:" + fp }

// TryAcquire makes a single attempt to acquire the lock for fp.
func (l *Lock) TryAcquire(ctx context.Context, fp string, ttl time.Duration) (bool, error) {
	if l.disabled {
		return true, nil
	}
	if ttl <= 0 {
		ttl = l.opts.TTL
	}

	value := fmt.Sprintf("%s-%d", l.processID, time.Now().UnixNano())
	key := lockKey(fp)

	acquired, err := l.store.SetIfAbsent(ctx, key, []byte(value), ttl)
	if err != nil {
		return false, err
	}
	if acquired {
		l.heldMu.Lock()
		l.held[key] = struct{}{}
		l.heldMu.Unlock()
	}
	return acquired, nil
}

// Acquire retries TryAcquire up to RetryAttempts times with an
// exponential min(baseDelay*2^n, 1s) backoff between attempts.
func (l *Lock) Acquire(ctx context.Context, fp string, ttl time.Duration) (bool, error) {
	if l.disabled {
		return true, nil
	}

	backoff, err := newExponential(l.opts.RetryDelay, time.Second, 2)
	if err != nil {
		return false, err
	}

	attempts := l.opts.RetryAttempts
	if attempts <= 0 {
		attempts = 1
	}

	for i := 0; i < attempts; i++ {
		acquired, err := l.TryAcquire(ctx, fp, ttl)
		if err != nil {
			return false, err
		}
		if acquired {
			return true, nil
		}

		if i == attempts-1 {
			break
		}
		timer := time.NewTimer(backoff.next())
		select {
		case <-ctx.Done():
			timer.Stop()
			return false, ctx.Err()
		case <-timer.C:
		}
	}
	return false, nil
}

// Release deletes the lock key unconditionally. It is always safe to
// call even if Acquire never succeeded or the lock is disabled.
func (l *Lock) Release(ctx context.Context, fp string) {
	if l.disabled {
		return
	}
	key := lockKey(fp)

	l.heldMu.Lock()
	delete(l.held, key)
	l.heldMu.Unlock()

	if err := l.store.Delete(ctx, key); err != nil {
		l.log.Warn().Err(err).Str("key", key).Msg("lock: release failed, ignored")
	}
}

// Enabled reports whether this lock performs real cross-instance
// coordination (false for the in-process backend).
func (l *Lock) Enabled() bool { return !l.disabled }

// ReleaseAllHeld is the crash-time cleanup hook.
func (l *Lock) ReleaseAllHeld(ctx context.Context) {
	l.heldMu.Lock()
	keys := make([]string, 0, len(l.held))
	for k := range l.held {
		keys = append(keys, k)
	}
	l.held = make(map[string]struct{})
	l.heldMu.Unlock()

	for _, key := range keys {
		if err := l.store.Delete(ctx, key); err != nil {
			l.log.Warn().Err(err).Str("key", key).Msg("lock: crash-time release failed, ignored")
		}
	}
}

// HeldCount reports how many locks this process currently believes it
// holds, for /health.
func (l *Lock) HeldCount() int {
	l.heldMu.Lock()
	defer l.heldMu.Unlock()
	return len(l.held)
}
