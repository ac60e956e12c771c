package pipeline

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/powerloom/ethereum-rpc-cache-proxy/internal/breaker"
	"github.com/powerloom/ethereum-rpc-cache-proxy/internal/cachestore"
	"github.com/powerloom/ethereum-rpc-cache-proxy/internal/coalescer"
	"github.com/powerloom/ethereum-rpc-cache-proxy/internal/jsonrpc"
	"github.com/powerloom/ethereum-rpc-cache-proxy/internal/lock"
	"github.com/powerloom/ethereum-rpc-cache-proxy/internal/methodpolicy"
	"github.com/powerloom/ethereum-rpc-cache-proxy/internal/metrics"
	"github.com/powerloom/ethereum-rpc-cache-proxy/internal/upstream"

	"github.com/prometheus/client_golang/prometheus"
)

func newTestPipeline(t *testing.T, urls []string, opts Options) (*Pipeline, *cachestore.MemoryCache) {
	store := cachestore.NewMemoryCache()
	policy := methodpolicy.NewPolicy(methodpolicy.DefaultConfig())
	br := breaker.New(breaker.DefaultOptions(), nil)
	co := coalescer.New(coalescer.DefaultOptions())
	lk := lock.New(store, lock.Options{Enabled: true, TTL: 5 * time.Second, RetryAttempts: 3, RetryDelay: 10 * time.Millisecond}, zerolog.Nop())
	up := upstream.New(urls, upstream.DefaultOptions(), zerolog.Nop())
	mt := metrics.New(prometheus.NewRegistry())

	p := New(store, policy, br, co, lk, up, mt, opts, zerolog.Nop())
	return p, store
}

func jsonHandler(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}
}

func reqFor(method, params string) *jsonrpc.Request {
	return &jsonrpc.Request{
		JSONRPC: jsonrpc.Version,
		Method:  method,
		Params:  []byte(params),
		ID:      []byte("1"),
	}
}

func TestHandleCoalescesConcurrentMisses(t *testing.T) {
	var hits int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&hits, 1)
		time.Sleep(50 * time.Millisecond)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":"0x16433f9"}`))
	}))
	defer srv.Close()

	p, _ := newTestPipeline(t, []string{srv.URL}, DefaultOptions())

	const n = 10
	results := make(chan *jsonrpc.Response, n)
	for i := 0; i < n; i++ {
		go func() {
			results <- p.Handle(context.Background(), reqFor("eth_blockNumber", "[]"))
		}()
	}
	for i := 0; i < n; i++ {
		resp := <-results
		require.Nil(t, resp.Error)
		require.JSONEq(t, `"0x16433f9"`, string(resp.Result))
		require.False(t, *resp.Cached)
	}
	require.EqualValues(t, 1, atomic.LoadInt64(&hits))
}

func TestHandleServesFreshCacheHitWithoutCallingUpstream(t *testing.T) {
	var hits int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&hits, 1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":"0x1"}`))
	}))
	defer srv.Close()

	p, _ := newTestPipeline(t, []string{srv.URL}, DefaultOptions())

	first := p.Handle(context.Background(), reqFor("eth_blockNumber", "[]"))
	require.False(t, *first.Cached)

	second := p.Handle(context.Background(), reqFor("eth_blockNumber", "[]"))
	require.True(t, *second.Cached)
	require.Equal(t, "hit", second.CacheStatus)
	require.JSONEq(t, `"0x1"`, string(second.Result))

	require.EqualValues(t, 1, atomic.LoadInt64(&hits))
}

func TestHandleStoresPermanentEntryForHistoricalBlock(t *testing.T) {
	srv := httptest.NewServer(jsonHandler(`{"jsonrpc":"2.0","id":1,"result":{"number":"0x1","hash":"0xabc"}}`))
	defer srv.Close()

	p, store := newTestPipeline(t, []string{srv.URL}, DefaultOptions())

	resp := p.Handle(context.Background(), reqFor("eth_getBlockByNumber", `["0x1",false]`))
	require.Nil(t, resp.Error)

	fp, err := jsonrpc.Fingerprint("eth_getBlockByNumber", []byte(`["0x1",false]`))
	require.NoError(t, err)
	require.False(t, store.HasExpiry(fp))
}

func TestHandleFailsOverToWorkingURL(t *testing.T) {
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer broken.Close()
	working := httptest.NewServer(jsonHandler(`{"jsonrpc":"2.0","id":1,"result":"0xabc"}`))
	defer working.Close()

	p, _ := newTestPipeline(t, []string{broken.URL, working.URL}, DefaultOptions())

	resp := p.Handle(context.Background(), reqFor("eth_blockNumber", "[]"))
	require.Nil(t, resp.Error)
	require.JSONEq(t, `"0xabc"`, string(resp.Result))
}

func TestHandleBodyDispatchesBatchPreservingOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req jsonrpc.Request
		_ = jsonrpc.Unmarshal(readAll(r), &req)
		w.Header().Set("Content-Type", "application/json")
		switch req.Method {
		case "eth_blockNumber":
			_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":"0x123456"}`))
		case "eth_getBlockByNumber":
			_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{"number":"0x1"}}`))
		}
	}))
	defer srv.Close()

	p, _ := newTestPipeline(t, []string{srv.URL}, DefaultOptions())

	body := []byte(`[{"jsonrpc":"2.0","id":1,"method":"eth_blockNumber","params":[]},` +
		`{"jsonrpc":"2.0","id":2,"method":"eth_getBlockByNumber","params":["0x1",false]}]`)

	out, err := p.HandleBody(context.Background(), body)
	require.NoError(t, err)

	var resps []jsonrpc.Response
	require.NoError(t, jsonrpc.Unmarshal(out, &resps))
	require.Len(t, resps, 2)
	require.JSONEq(t, `"0x123456"`, string(resps[0].Result))
	require.Contains(t, string(resps[1].Result), `"number":"0x1"`)
}

func TestHandleRejectsWrongProtocolVersion(t *testing.T) {
	p, _ := newTestPipeline(t, []string{"http://unused.invalid"}, DefaultOptions())
	resp := p.Handle(context.Background(), &jsonrpc.Request{JSONRPC: "1.0", Method: "eth_blockNumber", ID: []byte("1")})
	require.NotNil(t, resp.Error)
	require.Equal(t, jsonrpc.ErrCodeInvalidRequest, resp.Error.Code)
}

func TestHandleServesStaleEntryAndRefreshesInBackground(t *testing.T) {
	var hits int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt64(&hits, 1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(fmt.Sprintf(`{"jsonrpc":"2.0","id":1,"result":"0x%d"}`, n)))
	}))
	defer srv.Close()

	opts := DefaultOptions()
	opts.StaleWhileRevalidate = true
	p, store := newTestPipeline(t, []string{srv.URL}, opts)

	fp, err := jsonrpc.Fingerprint("eth_gasPrice", nil)
	require.NoError(t, err)
	require.NoError(t, store.Set(context.Background(), staleKey(fp), []byte(`"0x0"`), time.Minute))

	resp := p.Handle(context.Background(), reqFor("eth_gasPrice", "[]"))
	require.True(t, *resp.Cached)
	require.Equal(t, "stale", resp.CacheStatus)
	require.JSONEq(t, `"0x0"`, string(resp.Result))

	require.Eventually(t, func() bool {
		return atomic.LoadInt64(&hits) >= 1
	}, time.Second, 5*time.Millisecond)
}

func TestHandleColdMissWritesStaleSiblingWhenRevalidateEnabled(t *testing.T) {
	srv := httptest.NewServer(jsonHandler(`{"jsonrpc":"2.0","id":1,"result":"0x9"}`))
	defer srv.Close()

	opts := DefaultOptions()
	opts.StaleWhileRevalidate = true
	p, store := newTestPipeline(t, []string{srv.URL}, opts)

	resp := p.Handle(context.Background(), reqFor("eth_gasPrice", "[]"))
	require.Nil(t, resp.Error)
	require.False(t, *resp.Cached)
	require.Equal(t, "miss", resp.CacheStatus)

	fp, err := jsonrpc.Fingerprint("eth_gasPrice", []byte("[]"))
	require.NoError(t, err)

	stale, err := store.Get(context.Background(), staleKey(fp))
	require.NoError(t, err)
	require.JSONEq(t, `"0x9"`, string(stale))
}

func readAll(r *http.Request) []byte {
	buf, _ := io.ReadAll(r.Body)
	return buf
}
