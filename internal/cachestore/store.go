// Package cachestore implements a uniform cache-store contract:
// get/set/setIfAbsent/delete/deleteMatching/multiGet/multiSet/flushAll,
// backed by either an in-process map or Redis.
//
// Both backends return identical observable behaviour modulo durability.
// Both store the []byte payload they are handed (the in-process backend
// keeps a copy, Redis keeps the bytes as a string value) — callers
// serialise/deserialise consistently by always going through this
// interface with []byte payloads they control the encoding of.
package cachestore

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get when a key is absent. It is a sentinel,
// not a failure: callers treat it as a cache miss, never as an error to
// surface to clients.
var ErrNotFound = errors.New("cachestore: key not found")

// Permanent is passed as ttl to Set/SetIfAbsent to mean "no expiry".
const Permanent time.Duration = 0

// Store is the backend-agnostic contract every cache operation in the
// proxy is expressed against. Redis and in-process implementations must
// both satisfy it.
type Store interface {
	// Get returns ErrNotFound when the key is absent. A backend error is
	// logged by the implementation and also returned as ErrNotFound — a
	// failing read degrades to a miss, never a distinguishable error
	// surfaced to the caller.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key. ttl == Permanent means no expiry.
	// Backend errors are swallowed (best-effort write).
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// SetIfAbsent atomically stores value under key only if key is
	// currently absent, with the given TTL. It is the primitive the
	// distributed lock is built on.
	SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (acquired bool, err error)

	// Delete removes a single key. Best-effort.
	Delete(ctx context.Context, key string) error

	// DeleteMatching removes every key matching a glob pattern using
	// `* ? \` wildcard semantics.
	DeleteMatching(ctx context.Context, pattern string) error

	// MultiGet looks up several keys at once. Absent keys are simply
	// omitted from the result map — callers check for presence, not for
	// a per-key error.
	MultiGet(ctx context.Context, keys []string) (map[string][]byte, error)

	// MultiSet stores several key/value pairs with a shared TTL.
	MultiSet(ctx context.Context, values map[string][]byte, ttl time.Duration) error

	// FlushAll clears every key the store holds.
	FlushAll(ctx context.Context) error

	// Kind identifies the backend for the /health and /cache/stats
	// endpoints ("memory" or "redis").
	Kind() string

	// Close releases backend resources (network connections, expiry
	// timers). Safe to call more than once.
	Close() error
}

// Unconditional releases a lock key regardless of its current value.
func Unconditional(ctx context.Context, s Store, key string) error {
	return s.Delete(ctx, key)
}
