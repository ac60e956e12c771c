package upstream

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/powerloom/ethereum-rpc-cache-proxy/internal/jsonrpc"
)

// HTTPStatusError represents a non-2xx HTTP response from an upstream:
// one of the four error classes below.
type HTTPStatusError struct {
	StatusCode int
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return "upstream: http status " + http.StatusText(e.StatusCode)
}

// classification drives the retry-same-URL-or-move-on decision: RPC
// and HTTP errors never retry the same URL, transient network errors
// do, and permanent network errors move straight to the next
// candidate.
type classification int

const (
	classUnknown classification = iota
	classRPCError                // explicit error body from upstream
	classHTTPError                // non-2xx
	classNetworkTransient         // timeout / connection-aborted / socket-timeout: retry same URL
	classNetworkPermanent         // connection-refused / DNS-not-found: move to next URL
)

func classify(err error) classification {
	if err == nil {
		return classUnknown
	}

	var rpcErr *jsonrpc.Error
	if errors.As(err, &rpcErr) {
		return classRPCError
	}

	var httpErr *HTTPStatusError
	if errors.As(err, &httpErr) {
		return classHTTPError
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return classNetworkTransient
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return classNetworkTransient
		}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "timed out"), strings.Contains(msg, "i/o timeout"):
		return classNetworkTransient
	case strings.Contains(msg, "connection reset"), strings.Contains(msg, "aborted"), strings.Contains(msg, "broken pipe"):
		return classNetworkTransient
	case strings.Contains(msg, "connection refused"):
		return classNetworkPermanent
	case strings.Contains(msg, "no such host"), strings.Contains(msg, "dns"), strings.Contains(msg, "lookup"):
		return classNetworkPermanent
	default:
		return classUnknown
	}
}

// retryableSameURL reports whether the same URL should be retried for
// this error: transient network errors only.
func retryableSameURL(err error) bool {
	return classify(err) == classNetworkTransient
}
