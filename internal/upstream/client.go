// Package upstream implements a multi-URL failover JSON-RPC client
// with per-URL health bookkeeping: consecutive-failure tracking and a
// passive recheck timer decide which URLs are eligible candidates.
package upstream

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"

	"github.com/powerloom/ethereum-rpc-cache-proxy/internal/jsonrpc"
)

// Options configures the client.
type Options struct {
	MaxRetriesPerURL int
	RequestTimeout   time.Duration
	RecheckDelay     time.Duration
}

// DefaultOptions matches defaults.
func DefaultOptions() Options {
	return Options{
		MaxRetriesPerURL: 2,
		RequestTimeout:   10 * time.Second,
		RecheckDelay:     defaultRecheckDelay,
	}
}

// Client fails over across one or more upstream URLs, tracking health
// per URL.
type Client struct {
	urls       []string
	health     map[string]*Health
	httpClient *http.Client
	opts       Options
	log        zerolog.Logger

	// OnAttempt, if set, is called after every per-URL attempt (including
	// retries) with its outcome. Lets callers feed a per-upstream duration
	// histogram without this package importing the metrics package
	// directly.
	OnAttempt func(url string, duration time.Duration, err error)
}

// New constructs a Client. urls must be non-empty, in priority order.
func New(urls []string, opts Options, log zerolog.Logger) *Client {
	health := make(map[string]*Health, len(urls))
	for _, u := range urls {
		health[u] = NewHealth(u, opts.RecheckDelay)
	}
	return &Client{
		urls:   urls,
		health: health,
		httpClient: &http.Client{
			Timeout: opts.RequestTimeout,
		},
		opts: opts,
		log:  log,
	}
}

// Call performs a single JSON-RPC call, failing over across URLs in
// configured priority order.
func (c *Client) Call(ctx context.Context, method string, params jsoniterRaw) (jsoniterRaw, error) {
	candidates := c.orderedCandidates()

	var agg *multierror.Error
	for i, url := range candidates {
		h := c.health[url]
		if !h.IsHealthy() && i != len(candidates)-1 {
			// Skip unhealthy URLs, but never skip the last candidate:
			// an all-unhealthy set must still attempt a call rather
			// than fail purely on stale health flags.
			continue
		}

		result, err := c.callURLWithRetry(ctx, url, method, params)
		if err == nil {
			h.RecordSuccess()
			if i > 0 {
				c.log.Info().Str("url", SanitizeURL(url)).Str("method", method).Msg("upstream: served by fallback URL")
			}
			return result, nil
		}

		h.RecordFailure(err)
		agg = multierror.Append(agg, fmt.Errorf("%s: %w", SanitizeURL(url), err))
	}

	if agg == nil {
		return nil, fmt.Errorf("all endpoints failed: no upstream URLs configured")
	}
	return nil, fmt.Errorf("all endpoints failed: %w", agg)
}

// orderedCandidates returns URLs in configured order. Upstream health
// re-ordering is intentionally not performed — order is part of the
// operator's configured priority.
func (c *Client) orderedCandidates() []string {
	return c.urls
}

// callURLWithRetry attempts a single URL up to MaxRetriesPerURL times,
// retrying only transient network errors.
func (c *Client) callURLWithRetry(ctx context.Context, url, method string, params jsoniterRaw) (jsoniterRaw, error) {
	maxRetries := c.opts.MaxRetriesPerURL
	if maxRetries <= 0 {
		maxRetries = 1
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		start := time.Now()
		result, err := c.doCall(ctx, url, method, params)
		if c.OnAttempt != nil {
			c.OnAttempt(url, time.Since(start), err)
		}
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !retryableSameURL(err) {
			return nil, err
		}
	}
	return nil, lastErr
}

func (c *Client) doCall(ctx context.Context, url, method string, params jsoniterRaw) (jsoniterRaw, error) {
	id := []byte("1")
	reqBody, err := jsonrpc.Marshal(&jsonrpc.Request{
		JSONRPC: jsonrpc.Version,
		Method:  method,
		Params:  params,
		ID:      id,
	})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, 10<<20))
	if err != nil {
		return nil, err
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return nil, &HTTPStatusError{StatusCode: httpResp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var resp jsonrpc.Response
	if err := jsonrpc.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if resp.Error != nil {
		return nil, resp.Error
	}
	return resp.Result, nil
}

// Snapshots returns the current health of every configured URL, in
// configured order, for the /health endpoint.
func (c *Client) Snapshots() []Snapshot {
	out := make([]Snapshot, 0, len(c.urls))
	for _, u := range c.urls {
		out = append(out, c.health[u].Snapshot())
	}
	return out
}

// Close stops every URL's passive-recheck timer.
func (c *Client) Close() {
	for _, h := range c.health {
		h.Stop()
	}
}

// jsoniterRaw keeps this package from needing a direct json-iterator
// import purely for the type name; as a plain []byte alias it is
// assignable to and from the jsoniter.RawMessage fields of the jsonrpc
// wire types.
type jsoniterRaw = []byte
