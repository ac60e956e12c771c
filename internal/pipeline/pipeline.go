// Package pipeline implements the request-resolution pipeline that
// orchestrates every other component: method policy, coalescer,
// distributed lock, circuit breaker, upstream failover client, and the
// cache store's fresh/stale/negative namespaces.
package pipeline

import (
	"context"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog"

	"github.com/powerloom/ethereum-rpc-cache-proxy/internal/breaker"
	"github.com/powerloom/ethereum-rpc-cache-proxy/internal/cachestore"
	"github.com/powerloom/ethereum-rpc-cache-proxy/internal/coalescer"
	"github.com/powerloom/ethereum-rpc-cache-proxy/internal/jsonrpc"
	"github.com/powerloom/ethereum-rpc-cache-proxy/internal/lock"
	"github.com/powerloom/ethereum-rpc-cache-proxy/internal/methodpolicy"
	"github.com/powerloom/ethereum-rpc-cache-proxy/internal/metrics"
	"github.com/powerloom/ethereum-rpc-cache-proxy/internal/upstream"
)

// Options configures the advanced knobs that live outside the
// sub-components' own Options structs.
type Options struct {
	StaleWhileRevalidate bool
	NegativeCaching      bool
	NegativeTTL          time.Duration

	// LockRecheckSleep is how long to sleep after a failed lock
	// acquisition before re-reading the cache and proceeding unlocked.
	LockRecheckSleep time.Duration
}

// DefaultOptions matches advanced-knob defaults.
func DefaultOptions() Options {
	return Options{
		StaleWhileRevalidate: false,
		NegativeCaching:      false,
		NegativeTTL:          60 * time.Second,
		LockRecheckSleep:     100 * time.Millisecond,
	}
}

// Pipeline owns every sub-component and is instantiated once at
// startup. HTTP handlers reach it via closure.
type Pipeline struct {
	store    cachestore.Store
	policy   *methodpolicy.Policy
	breaker  *breaker.Breaker
	coalescer *coalescer.Coalescer
	lock     *lock.Lock
	upstream *upstream.Client
	metrics  *metrics.Metrics
	opts     Options
	log      zerolog.Logger
}

// New constructs a Pipeline bound to its sub-components.
func New(
	store cachestore.Store,
	policy *methodpolicy.Policy,
	br *breaker.Breaker,
	co *coalescer.Coalescer,
	lk *lock.Lock,
	up *upstream.Client,
	mt *metrics.Metrics,
	opts Options,
	log zerolog.Logger,
) *Pipeline {
	return &Pipeline{
		store:     store,
		policy:    policy,
		breaker:   br,
		coalescer: co,
		lock:      lk,
		upstream:  up,
		metrics:   mt,
		opts:      opts,
		log:       log,
	}
}

// Handle resolves a single JSON-RPC request, never returning an error
// itself — every failure is mapped to a well-formed JSON-RPC error
// response.
func (p *Pipeline) Handle(ctx context.Context, req *jsonrpc.Request) *jsonrpc.Response {
	// 1. Protocol gate.
	if req.JSONRPC != jsonrpc.Version {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrCodeInvalidRequest, "Invalid Request", nil)
	}

	// 2. Classify.
	ttl := p.policy.Resolve(req.Method, req.Params)
	if !ttl.Cacheable() {
		result, err := p.callUpstreamThroughBreaker(ctx, req.Method, req.Params)
		if err != nil {
			p.metrics.RecordRequest(req.Method, "bypass")
			return p.mapError(req.ID, err)
		}
		p.metrics.RecordRequest(req.Method, "bypass")
		return jsonrpc.NewResultResponse(req.ID, result, false, "bypass")
	}

	// 3. Fingerprint.
	fp, err := jsonrpc.Fingerprint(req.Method, req.Params)
	if err != nil {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrCodeInvalidRequest, "Invalid Request", err.Error())
	}

	// 4. Negative check.
	if p.opts.NegativeCaching {
		if resp := p.checkNegative(ctx, req.ID, fp); resp != nil {
			p.metrics.RecordNegativeHit()
			p.metrics.RecordRequest(req.Method, "negative")
			return resp
		}
	}

	// 5. Positive check.
	if value, status, ok := p.getWithOptionalStale(ctx, fp); ok {
		if status == "stale" {
			p.scheduleBackgroundRefresh(fp, req.Method, req.Params, ttl)
		}
		p.metrics.RecordRequest(req.Method, status)
		return jsonrpc.NewResultResponse(req.ID, value, true, status)
	}

	// 6-7. Coalesce, fetch, return.
	valAny, coalesced, err := p.coalescer.GetOrFetch(ctx, fp, func(ctx context.Context) (interface{}, error) {
		return p.produce(ctx, fp, req.Method, req.Params, ttl)
	})
	if coalesced {
		p.metrics.RecordCoalesced()
	}
	if err != nil {
		// 8. Error path: a breaker-open signal tries a stale sibling
		// first when stale-while-revalidate is enabled.
		if err == breaker.ErrOpen && p.opts.StaleWhileRevalidate {
			if value, ok := p.getStaleSibling(ctx, fp); ok {
				p.metrics.RecordRequest(req.Method, "stale")
				return jsonrpc.NewResultResponse(req.ID, value, true, "stale")
			}
		}
		if p.opts.NegativeCaching {
			p.writeNegative(ctx, fp, err)
		}
		p.metrics.RecordRequest(req.Method, "miss")
		return p.mapError(req.ID, err)
	}

	result, _ := valAny.(jsoniter.RawMessage)
	p.metrics.RecordRequest(req.Method, "miss")
	return jsonrpc.NewResultResponse(req.ID, result, false, "miss")
}

// HandleBody decodes a raw HTTP body (single or batch), dispatches
// every element concurrently while preserving order, and re-encodes
// the matching shape.
func (p *Pipeline) HandleBody(ctx context.Context, body []byte) ([]byte, error) {
	reqs, isBatch, err := jsonrpc.DecodeBody(body)
	if err != nil {
		if rpcErr, ok := err.(*jsonrpc.Error); ok {
			return jsonrpc.EncodeBody([]*jsonrpc.Response{jsonrpc.NewErrorResponse(nil, rpcErr.Code, rpcErr.Message, nil)}, isBatch)
		}
		return jsonrpc.EncodeBody([]*jsonrpc.Response{jsonrpc.NewErrorResponse(nil, jsonrpc.ErrCodeInvalidRequest, "Invalid Request", err.Error())}, isBatch)
	}

	resps := make([]*jsonrpc.Response, len(reqs))
	done := make(chan struct{}, len(reqs))
	for i := range reqs {
		i := i
		go func() {
			defer func() { done <- struct{}{} }()
			resps[i] = p.Handle(ctx, &reqs[i])
		}()
	}
	for range reqs {
		<-done
	}

	return jsonrpc.EncodeBody(resps, isBatch)
}

// callUpstreamThroughBreaker wraps a single upstream.Client.Call inside
// the circuit breaker.
func (p *Pipeline) callUpstreamThroughBreaker(ctx context.Context, method string, params jsoniter.RawMessage) (jsoniter.RawMessage, error) {
	var result jsoniter.RawMessage
	err := p.breaker.Execute(ctx, func(ctx context.Context) error {
		r, callErr := p.upstream.Call(ctx, method, params)
		if callErr != nil {
			p.metrics.RecordUpstreamError()
			return callErr
		}
		result = r
		return nil
	})
	if err != nil {
		if err == breaker.ErrOpen {
			p.metrics.RecordBreakerRejection()
		}
		return nil, err
	}
	return result, nil
}

// produce is the coalescer's producer function: it acquires the
// distributed lock, re-checks the cache, calls upstream through the
// breaker, and writes the result back through.
func (p *Pipeline) produce(ctx context.Context, fp, method string, params jsoniter.RawMessage, ttl methodpolicy.TTL) (interface{}, error) {
	acquired := true
	if p.lock.Enabled() {
		var err error
		acquired, err = p.lock.Acquire(ctx, fp, 0)
		if err != nil {
			p.log.Warn().Err(err).Str("fp", fp).Msg("pipeline: lock acquire errored, proceeding unlocked")
			acquired = false
		}
		if !acquired {
			p.metrics.RecordLockContention()
			time.Sleep(p.opts.LockRecheckSleep)
			if value, ok := p.getFresh(ctx, fp); ok {
				return value, nil
			}
			// proceed unlocked rather than block the request further.
		} else {
			defer p.lock.Release(ctx, fp)
			// Re-read the cache — another instance may have filled it
			// while we were acquiring.
			if value, ok := p.getFresh(ctx, fp); ok {
				return value, nil
			}
		}
	}

	result, err := p.callUpstreamThroughBreaker(ctx, method, params)
	if err != nil {
		return nil, err
	}

	p.writePositive(ctx, fp, result, ttl)

	return result, nil
}

func (p *Pipeline) getFresh(ctx context.Context, fp string) (jsoniter.RawMessage, bool) {
	value, err := p.store.Get(ctx, fp)
	if err != nil {
		return nil, false
	}
	return jsoniter.RawMessage(value), true
}

// getWithOptionalStale implements the fresh/stale split: a fresh hit
// always wins; a stale sibling is only consulted when
// stale-while-revalidate is enabled.
func (p *Pipeline) getWithOptionalStale(ctx context.Context, fp string) (jsoniter.RawMessage, string, bool) {
	if value, ok := p.getFresh(ctx, fp); ok {
		return value, "hit", true
	}
	if !p.opts.StaleWhileRevalidate {
		return nil, "", false
	}
	if value, ok := p.getStaleSibling(ctx, fp); ok {
		return value, "stale", true
	}
	return nil, "", false
}

func (p *Pipeline) getStaleSibling(ctx context.Context, fp string) (jsoniter.RawMessage, bool) {
	value, err := p.store.Get(ctx, staleKey(fp))
	if err != nil {
		return nil, false
	}
	return jsoniter.RawMessage(value), true
}

func (p *Pipeline) writePositive(ctx context.Context, fp string, result jsoniter.RawMessage, ttl methodpolicy.TTL) {
	freshTTL := ttl.Fresh
	if ttl.Permanent {
		freshTTL = cachestore.Permanent
	}
	if err := p.store.Set(ctx, fp, []byte(result), freshTTL); err != nil {
		p.log.Warn().Err(err).Str("fp", fp).Msg("pipeline: positive cache write failed, ignored")
	}
	if p.opts.StaleWhileRevalidate && ttl.Stale > 0 {
		if err := p.store.Set(ctx, staleKey(fp), []byte(result), ttl.Stale); err != nil {
			p.log.Warn().Err(err).Str("fp", fp).Msg("pipeline: stale cache write failed, ignored")
		}
	}
}

// scheduleBackgroundRefresh fires a detached, best-effort refresh after
// a stale hit. Its lifecycle is independent of the originating
// request.
func (p *Pipeline) scheduleBackgroundRefresh(fp, method string, params jsoniter.RawMessage, ttl methodpolicy.TTL) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if _, _, err := p.coalescer.GetOrFetch(ctx, fp, func(ctx context.Context) (interface{}, error) {
			return p.produce(ctx, fp, method, params, ttl)
		}); err != nil {
			p.log.Debug().Err(err).Str("fp", fp).Msg("pipeline: background refresh failed, ignored")
		}
	}()
}

func (p *Pipeline) checkNegative(ctx context.Context, id jsoniter.RawMessage, fp string) *jsonrpc.Response {
	raw, err := p.store.Get(ctx, negativeKey(fp))
	if err != nil {
		return nil
	}
	var entry negativeEntry
	if err := jsonrpc.Unmarshal(raw, &entry); err != nil {
		return nil
	}
	return jsonrpc.NewErrorResponse(id, entry.Code, entry.Message, map[string]interface{}{
		"cached":    true,
		"timestamp": entry.Timestamp,
	})
}

// negativeEntry is the wire shape persisted at negative:<fp>.
type negativeEntry struct {
	Code      int    `json:"code"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

func (p *Pipeline) writeNegative(ctx context.Context, fp string, cause error) {
	entry := negativeEntry{
		Code:      jsonrpc.ErrCodeInternal,
		Message:   "Internal error",
		Timestamp: time.Now().Unix(),
	}
	if rpcErr, ok := cause.(*jsonrpc.Error); ok {
		entry.Message = rpcErr.Message
	} else {
		entry.Message = cause.Error()
	}

	raw, err := jsonrpc.Marshal(entry)
	if err != nil {
		return
	}
	if err := p.store.Set(ctx, negativeKey(fp), raw, p.opts.NegativeTTL); err != nil {
		p.log.Warn().Err(err).Str("fp", fp).Msg("pipeline: negative cache write failed, ignored")
	}
}

// mapError is the tail of the error path: every remaining error
// becomes -32603 with the original message preserved in data.
func (p *Pipeline) mapError(id jsoniter.RawMessage, err error) *jsonrpc.Response {
	return jsonrpc.NewErrorResponse(id, jsonrpc.ErrCodeInternal, "Internal error", err.Error())
}

func staleKey(fp string) string    { return "stale:" + fp }
func negativeKey(fp string) string { return "negative:" + fp }
