// Package methodpolicy classifies an Ethereum JSON-RPC method into a
// cache category and computes its TTL. Classification is a pure
// function of (method, params): two calls with the same method and
// params always resolve to the same category and TTL.
package methodpolicy

import (
	"time"

	jsoniter "github.com/json-iterator/go"
)

// Category groups methods that share a TTL rule.
type Category string

const (
	CategoryImmutable    Category = "immutable"
	CategoryBlocks       Category = "blocks"
	CategoryAccountState Category = "account_state"
	CategoryGas          Category = "gas"
	CategoryLogs         Category = "logs"
	CategoryNetwork      Category = "network"
	CategoryContractCall Category = "contract_call"
	CategoryMining       Category = "mining"
	CategoryProofs       Category = "proofs"
	CategoryNeverCache   Category = "never_cache"
	CategoryUnknown      Category = "unknown"
)

// TTL is a "fresh" TTL for the positive entry, and a "stale" TTL for
// its paired sibling when stale-while-revalidate is enabled.
type TTL struct {
	Fresh     time.Duration
	Stale     time.Duration
	Permanent bool
}

// Cacheable reports whether Fresh should ever be written to the store.
// A zero, non-permanent TTL means "do-not-cache".
func (t TTL) Cacheable() bool {
	return t.Permanent || t.Fresh > 0
}

// Config carries every TTL knob, each named after an environment
// variable, passed in explicitly rather than read from globals.
type Config struct {
	PermanentHeight uint64
	LatestBlockTTL  time.Duration
	RecentBlockTTL  time.Duration
	EthCallTTL      time.Duration
	StaleTTL        time.Duration
}

// DefaultConfig returns the proxy's documented default TTL knobs.
func DefaultConfig() Config {
	return Config{
		PermanentHeight: 15537393,
		LatestBlockTTL:  2 * time.Second,
		RecentBlockTTL:  60 * time.Second,
		EthCallTTL:      300 * time.Second,
		StaleTTL:        300 * time.Second,
	}
}

// Policy implements the CachePolicy contract: Resolve(method, params) TTL.
type Policy struct {
	cfg Config
}

// NewPolicy constructs a Policy bound to cfg.
func NewPolicy(cfg Config) *Policy {
	return &Policy{cfg: cfg}
}

// Classify is the entry point the resolution pipeline calls: it returns
// the method's Category and its TTL for the given params.
func (p *Policy) Classify(method string, params jsoniter.RawMessage) (Category, TTL) {
	cat := classifyMethod(method)
	ttl := p.ttlFor(cat, method, params)
	return cat, ttl
}

// Resolve implements the CachePolicy interface shape: Fresh TTL plus a
// Stale TTL taken from configuration, since the stale sibling TTL is a
// single global knob (STALE_TTL) rather than per-method.
func (p *Policy) Resolve(method string, params jsoniter.RawMessage) TTL {
	_, ttl := p.Classify(method, params)
	if ttl.Cacheable() && ttl.Stale == 0 {
		ttl.Stale = p.cfg.StaleTTL
	}
	return ttl
}
