package cachestore

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Resolve selects a backend: "auto" tries the remote store first and
// falls back to memory on connection failure; "redis" and "memory" are
// explicit choices.
func Resolve(ctx context.Context, cacheType, redisURL string, log zerolog.Logger) (Store, error) {
	switch cacheType {
	case "memory":
		return NewMemoryCache(), nil

	case "redis":
		store, err := dialRedis(ctx, redisURL, log)
		if err != nil {
			return nil, err
		}
		return store, nil

	case "auto", "":
		if redisURL == "" || redisURL == "memory" {
			return NewMemoryCache(), nil
		}
		store, err := dialRedis(ctx, redisURL, log)
		if err != nil {
			log.Warn().Err(err).Msg("cachestore: redis unavailable, falling back to in-process memory backend")
			return NewMemoryCache(), nil
		}
		return store, nil

	default:
		log.Warn().Str("cacheType", cacheType).Msg("cachestore: unrecognised CACHE_TYPE, defaulting to memory")
		return NewMemoryCache(), nil
	}
}

func dialRedis(ctx context.Context, redisURL string, log zerolog.Logger) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	store := NewRedisCache(opts.Addr, opts.Password, opts.DB, log)

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := store.Ping(pingCtx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}
