package cachestore

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"time"
)

// entry is a stored value plus its optional absolute expiry. A zero
// expiresAt means permanent: a positive ttl sets an expiry, while a ttl
// of zero or less (cachestore.Permanent) stores the value with none.
// Whether to cache at all is decided by the caller, not here.
type entry struct {
	value     []byte
	expiresAt time.Time // zero == permanent
	timer     *time.Timer
}

func (e *entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// MemoryCache is the in-process default backend: a general TTL-aware
// key-value store. A per-entry time.AfterFunc is used instead of a
// sweep loop so expired keys disappear promptly without a background
// goroutine scanning the whole map; each timer fires once, deletes its
// own entry, and holds no other reference back to the store.
type MemoryCache struct {
	mu     sync.Mutex
	lookup map[string]*entry
	closed bool
}

// NewMemoryCache constructs an empty in-process store.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		lookup: make(map[string]*entry),
	}
}

func (c *MemoryCache) Kind() string { return "memory" }

func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.lookup[key]
	if !ok || e.expired(time.Now()) {
		return nil, ErrNotFound
	}
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, nil
}

func (c *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setLocked(key, value, ttl)
	return nil
}

func (c *MemoryCache) setLocked(key string, value []byte, ttl time.Duration) {
	if old, ok := c.lookup[key]; ok && old.timer != nil {
		old.timer.Stop()
	}

	v := make([]byte, len(value))
	copy(v, value)

	e := &entry{value: v}
	if ttl > 0 {
		e.expiresAt = time.Now().Add(ttl)
		if !c.closed {
			e.timer = time.AfterFunc(ttl, func() {
				c.mu.Lock()
				defer c.mu.Unlock()
				if cur, ok := c.lookup[key]; ok && cur == e {
					delete(c.lookup, key)
				}
			})
		}
	}
	c.lookup[key] = e
}

func (c *MemoryCache) SetIfAbsent(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.lookup[key]; ok && !e.expired(time.Now()) {
		return false, nil
	}
	c.setLocked(key, value, ttl)
	return true, nil
}

func (c *MemoryCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.lookup[key]; ok {
		if e.timer != nil {
			e.timer.Stop()
		}
		delete(c.lookup, key)
	}
	return nil
}

// DeleteMatching compiles the `* ? \` glob into a regexp and scans the
// map.
func (c *MemoryCache) DeleteMatching(_ context.Context, pattern string) error {
	re, err := globToRegexp(pattern)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for key, e := range c.lookup {
		if re.MatchString(key) {
			if e.timer != nil {
				e.timer.Stop()
			}
			delete(c.lookup, key)
		}
	}
	return nil
}

func (c *MemoryCache) MultiGet(ctx context.Context, keys []string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(keys))
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	for _, key := range keys {
		if e, ok := c.lookup[key]; ok && !e.expired(now) {
			v := make([]byte, len(e.value))
			copy(v, e.value)
			out[key] = v
		}
	}
	return out, nil
}

func (c *MemoryCache) MultiSet(_ context.Context, values map[string][]byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, value := range values {
		c.setLocked(key, value, ttl)
	}
	return nil
}

func (c *MemoryCache) FlushAll(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.lookup {
		if e.timer != nil {
			e.timer.Stop()
		}
	}
	c.lookup = make(map[string]*entry)
	return nil
}

// Close stops every pending expiry timer so the process can exit
// cleanly without waiting on them.
func (c *MemoryCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	for _, e := range c.lookup {
		if e.timer != nil {
			e.timer.Stop()
		}
	}
	return nil
}

// HasExpiry reports whether key currently carries a non-permanent TTL,
// for tests asserting on permanent-history caching.
func (c *MemoryCache) HasExpiry(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.lookup[key]
	if !ok {
		return false
	}
	return !e.expiresAt.IsZero()
}

// globToRegexp translates `*`, `?`, and `\`-escaped literals into an
// anchored regexp.
func globToRegexp(pattern string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteByte('^')
	runes := []rune(pattern)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch r {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		case '\\':
			if i+1 < len(runes) {
				i++
				b.WriteString(regexp.QuoteMeta(string(runes[i])))
			}
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteByte('$')
	return regexp.Compile(b.String())
}
