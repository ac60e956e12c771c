// Package config loads the proxy's environment configuration into a
// typed struct using caarlos0/env's tag-driven parser: two dozen knobs
// spread across seven components make hand-rolled os.Getenv parsing
// error-prone, and struct tags keep each variable's name and default
// next to its field.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// raw mirrors every environment variable by name. Durations are
// parsed as plain integers (seconds or milliseconds, depending on the
// field) and converted to time.Duration by Load — env.Parse's native
// duration support expects a unit suffix that these bare-integer
// variables don't use.
type raw struct {
	Port string `env:"PORT" envDefault:"3000"`
	Host string `env:"HOST" envDefault:"0.0.0.0"`

	UpstreamRPCURL       string `env:"UPSTREAM_RPC_URL"`
	RPCFallbackEnabled   bool   `env:"RPC_FALLBACK_ENABLED" envDefault:"true"`
	RPCMaxRetriesPerURL  int    `env:"RPC_MAX_RETRIES_PER_URL" envDefault:"2"`

	RedisURL         string `env:"REDIS_URL"`
	CacheType        string `env:"CACHE_TYPE" envDefault:"auto"`
	PermanentHeight  uint64 `env:"PERMANENT_CACHE_HEIGHT" envDefault:"15537393"`
	LatestBlockTTL   int    `env:"LATEST_BLOCK_TTL" envDefault:"2"`
	RecentBlockTTL   int    `env:"RECENT_BLOCK_TTL" envDefault:"60"`
	EthCallTTL       int    `env:"ETH_CALL_TTL" envDefault:"300"`

	CoalescingEnabled bool `env:"COALESCING_ENABLED" envDefault:"true"`
	CoalescingTimeout int  `env:"COALESCING_TIMEOUT" envDefault:"30000"`

	DistributedLockEnabled bool `env:"DISTRIBUTED_LOCK_ENABLED" envDefault:"true"`
	LockTTL                int  `env:"LOCK_TTL" envDefault:"5000"`
	LockRetryAttempts      int  `env:"LOCK_RETRY_ATTEMPTS" envDefault:"10"`
	LockRetryDelay         int  `env:"LOCK_RETRY_DELAY" envDefault:"50"`

	CircuitBreakerEnabled    bool    `env:"CIRCUIT_BREAKER_ENABLED" envDefault:"true"`
	CircuitFailureThreshold  int     `env:"CIRCUIT_FAILURE_THRESHOLD" envDefault:"5"`
	CircuitSuccessThreshold  int     `env:"CIRCUIT_SUCCESS_THRESHOLD" envDefault:"2"`
	CircuitTimeout           int     `env:"CIRCUIT_TIMEOUT" envDefault:"10000"`
	CircuitResetTimeout      int     `env:"CIRCUIT_RESET_TIMEOUT" envDefault:"60000"`
	CircuitVolumeThreshold   int     `env:"CIRCUIT_VOLUME_THRESHOLD" envDefault:"10"`
	CircuitErrorPercentage   float64 `env:"CIRCUIT_ERROR_PERCENTAGE" envDefault:"50"`

	StaleWhileRevalidate bool `env:"STALE_WHILE_REVALIDATE" envDefault:"false"`
	StaleTTL             int  `env:"STALE_TTL" envDefault:"300"`
	NegativeCaching      bool `env:"NEGATIVE_CACHING" envDefault:"false"`
	NegativeTTL          int  `env:"NEGATIVE_TTL" envDefault:"60"`
}

// Config is the validated, unit-converted configuration every component
// constructor receives explicitly.
type Config struct {
	Port string
	Host string

	UpstreamURLs        []string
	RPCFallbackEnabled  bool
	RPCMaxRetriesPerURL int

	RedisURL        string
	CacheType       string
	PermanentHeight uint64
	LatestBlockTTL  time.Duration
	RecentBlockTTL  time.Duration
	EthCallTTL      time.Duration

	CoalescingEnabled bool
	CoalescingTimeout time.Duration

	DistributedLockEnabled bool
	LockTTL                time.Duration
	LockRetryAttempts      int
	LockRetryDelay         time.Duration

	CircuitBreakerEnabled   bool
	CircuitFailureThreshold int
	CircuitSuccessThreshold int
	CircuitTimeout          time.Duration
	CircuitResetTimeout     time.Duration
	CircuitVolumeThreshold  int
	CircuitErrorPercentage  float64

	StaleWhileRevalidate bool
	StaleTTL             time.Duration
	NegativeCaching      bool
	NegativeTTL          time.Duration
}

// Load parses the process environment into a Config.
func Load() (*Config, error) {
	var r raw
	if err := env.Parse(&r); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if r.UpstreamRPCURL == "" {
		return nil, fmt.Errorf("config: UPSTREAM_RPC_URL is required")
	}

	cfg := &Config{
		Port:                    r.Port,
		Host:                    r.Host,
		UpstreamURLs:            splitURLs(r.UpstreamRPCURL),
		RPCFallbackEnabled:      r.RPCFallbackEnabled,
		RPCMaxRetriesPerURL:     r.RPCMaxRetriesPerURL,
		RedisURL:                r.RedisURL,
		CacheType:               r.CacheType,
		PermanentHeight:         r.PermanentHeight,
		LatestBlockTTL:          time.Duration(r.LatestBlockTTL) * time.Second,
		RecentBlockTTL:          time.Duration(r.RecentBlockTTL) * time.Second,
		EthCallTTL:              time.Duration(r.EthCallTTL) * time.Second,
		CoalescingEnabled:       r.CoalescingEnabled,
		CoalescingTimeout:       time.Duration(r.CoalescingTimeout) * time.Millisecond,
		DistributedLockEnabled:  r.DistributedLockEnabled,
		LockTTL:                 time.Duration(r.LockTTL) * time.Millisecond,
		LockRetryAttempts:       r.LockRetryAttempts,
		LockRetryDelay:          time.Duration(r.LockRetryDelay) * time.Millisecond,
		CircuitBreakerEnabled:   r.CircuitBreakerEnabled,
		CircuitFailureThreshold: r.CircuitFailureThreshold,
		CircuitSuccessThreshold: r.CircuitSuccessThreshold,
		CircuitTimeout:          time.Duration(r.CircuitTimeout) * time.Millisecond,
		CircuitResetTimeout:     time.Duration(r.CircuitResetTimeout) * time.Millisecond,
		CircuitVolumeThreshold:  r.CircuitVolumeThreshold,
		CircuitErrorPercentage:  r.CircuitErrorPercentage,
		StaleWhileRevalidate:    r.StaleWhileRevalidate,
		StaleTTL:                time.Duration(r.StaleTTL) * time.Second,
		NegativeCaching:         r.NegativeCaching,
		NegativeTTL:             time.Duration(r.NegativeTTL) * time.Second,
	}

	if !r.RPCFallbackEnabled && len(cfg.UpstreamURLs) > 1 {
		cfg.UpstreamURLs = cfg.UpstreamURLs[:1]
	}

	return cfg, nil
}

// splitURLs parses UPSTREAM_RPC_URL, which accepts either a single URL
// or a comma-separated list.
func splitURLs(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// PermanentHeightString renders the configured cut-off for the /health
// config echo, matching the string-keyed shape other fields use there.
func (c *Config) PermanentHeightString() string {
	return strconv.FormatUint(c.PermanentHeight, 10)
}
