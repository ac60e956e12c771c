package cachestore

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisCache is the shared-store backend: a general key-value store
// built on go-redis/v9, giving multiple proxy instances a common view
// of cached entries and distributed-lock keys.
type RedisCache struct {
	client *redis.Client
	log    zerolog.Logger
}

// NewRedisCache dials a single Redis node at addr. Connectivity is not
// verified here — callers (cachestore.Resolve via dialRedis, for both
// "redis" and "auto" selection) ping before committing to this backend.
func NewRedisCache(addr, password string, db int, log zerolog.Logger) *RedisCache {
	return &RedisCache{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
		log: log,
	}
}

// Ping verifies the connection is live, used by the "auto" backend
// selector to decide whether to fall back to memory.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Kind() string { return "redis" }

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("cachestore: redis get failed, treating as miss")
		return nil, ErrNotFound
	}
	return val, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("cachestore: redis set failed, ignored")
	}
	return nil
}

// SetIfAbsent is the lock primitive: Redis SET ... NX is already atomic,
// so this maps directly onto it without needing a Lua script.
func (c *RedisCache) SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	ok, err := c.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("cachestore: redis setnx failed")
		return false, nil
	}
	return ok, nil
}

func (c *RedisCache) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, key).Err(); err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("cachestore: redis delete failed, ignored")
	}
	return nil
}

// DeleteMatching uses SCAN+DEL rather than KEYS so a large keyspace
// doesn't block the Redis event loop; redis glob syntax already matches
// `* ? \` wildcard set, so the pattern is passed through
// unmodified.
func (c *RedisCache) DeleteMatching(ctx context.Context, pattern string) error {
	iter := c.client.Scan(ctx, 0, pattern, 100).Iterator()
	var batch []string
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) >= 500 {
			if err := c.client.Del(ctx, batch...).Err(); err != nil {
				c.log.Warn().Err(err).Msg("cachestore: redis scan-delete batch failed, ignored")
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		c.log.Warn().Err(err).Str("pattern", pattern).Msg("cachestore: redis scan failed, ignored")
		return nil
	}
	if len(batch) > 0 {
		if err := c.client.Del(ctx, batch...).Err(); err != nil {
			c.log.Warn().Err(err).Msg("cachestore: redis scan-delete batch failed, ignored")
		}
	}
	return nil
}

func (c *RedisCache) MultiGet(ctx context.Context, keys []string) (map[string][]byte, error) {
	if len(keys) == 0 {
		return map[string][]byte{}, nil
	}

	pipe := c.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(keys))
	for i, key := range keys {
		cmds[i] = pipe.Get(ctx, key)
	}
	_, err := pipe.Exec(ctx)
	if err != nil && err != redis.Nil {
		c.log.Warn().Err(err).Msg("cachestore: redis multiget pipeline failed, treating as partial miss")
	}

	out := make(map[string][]byte, len(keys))
	for i, cmd := range cmds {
		b, err := cmd.Bytes()
		if err == nil {
			out[keys[i]] = b
		}
	}
	return out, nil
}

func (c *RedisCache) MultiSet(ctx context.Context, values map[string][]byte, ttl time.Duration) error {
	if len(values) == 0 {
		return nil
	}
	pipe := c.client.Pipeline()
	for key, value := range values {
		pipe.Set(ctx, key, value, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		c.log.Warn().Err(err).Msg("cachestore: redis multiset pipeline failed, ignored")
	}
	return nil
}

func (c *RedisCache) FlushAll(ctx context.Context) error {
	if err := c.client.FlushDB(ctx).Err(); err != nil {
		c.log.Warn().Err(err).Msg("cachestore: redis flushall failed, ignored")
	}
	return nil
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
