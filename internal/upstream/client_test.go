package upstream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func jsonHandler(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}
}

func TestCallSucceedsOnFirstURL(t *testing.T) {
	srv := httptest.NewServer(jsonHandler(`{"jsonrpc":"2.0","id":1,"result":"0x16433f9"}`))
	defer srv.Close()

	c := New([]string{srv.URL}, DefaultOptions(), zerolog.Nop())
	result, err := c.Call(context.Background(), "eth_blockNumber", nil)
	require.NoError(t, err)
	require.JSONEq(t, `"0x16433f9"`, string(result))
}

func TestCallFailsOverToWorkingURL(t *testing.T) {
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer broken.Close()

	working := httptest.NewServer(jsonHandler(`{"jsonrpc":"2.0","id":1,"result":"0xabc"}`))
	defer working.Close()

	c := New([]string{broken.URL, working.URL}, DefaultOptions(), zerolog.Nop())
	result, err := c.Call(context.Background(), "eth_blockNumber", nil)
	require.NoError(t, err)
	require.JSONEq(t, `"0xabc"`, string(result))

	snaps := c.Snapshots()
	require.Len(t, snaps, 2)
	require.EqualValues(t, 1, snaps[0].FailureCount)
	require.EqualValues(t, 1, snaps[1].SuccessCount)
}

func TestCallExhaustsAllURLs(t *testing.T) {
	broken1 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer broken1.Close()
	broken2 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer broken2.Close()

	c := New([]string{broken1.URL, broken2.URL}, Options{MaxRetriesPerURL: 1, RequestTimeout: time.Second}, zerolog.Nop())
	_, err := c.Call(context.Background(), "eth_blockNumber", nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "all endpoints failed")
}

func TestCallSurfacesRPCError(t *testing.T) {
	srv := httptest.NewServer(jsonHandler(`{"jsonrpc":"2.0","id":1,"error":{"code":-32000,"message":"execution reverted"}}`))
	defer srv.Close()

	c := New([]string{srv.URL}, DefaultOptions(), zerolog.Nop())
	_, err := c.Call(context.Background(), "eth_call", nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "execution reverted")
}

func TestSanitizeURLRedactsAPIKey(t *testing.T) {
	got := SanitizeURL("https://mainnet.infura.io/v3/abcdefghijklmnopqrstuvwxyz123456")
	require.Equal(t, "https://mainnet.infura.io/[API_KEY]", got)
}
