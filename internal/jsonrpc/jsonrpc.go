// Package jsonrpc defines the wire types for the Ethereum JSON-RPC dialect
// the proxy speaks to clients and upstream nodes, plus the canonical
// parameter stringification used to derive cache fingerprints.
package jsonrpc

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"
)

// json is configured to match encoding/json's defaults (map key order is
// not meaningful for our canonicalisation — we sort keys ourselves).
var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Version is the only JSON-RPC version the proxy accepts from clients.
const Version = "2.0"

// ErrCodeInvalidRequest etc. are the JSON-RPC 2.0 standard error codes the
// proxy itself is allowed to emit. -32601 is reserved: the proxy never
// returns it directly, upstream method-not-found errors surface as
// -32603 with the upstream message preserved in data.
const (
	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInternal       = -32603
)

// Request is a single JSON-RPC call as received from a client or sent to
// an upstream node.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  jsoniter.RawMessage `json:"params,omitempty"`
	ID      jsoniter.RawMessage `json:"id,omitempty"`
}

// Error is the JSON-RPC 2.0 error object.
type Error struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// Response is a single JSON-RPC reply. Cached marks whether the result
// was served entirely from cache without triggering an upstream fetch;
// it is only meaningful on success responses.
type Response struct {
	JSONRPC string              `json:"jsonrpc"`
	Result  jsoniter.RawMessage `json:"result,omitempty"`
	Error   *Error              `json:"error,omitempty"`
	ID      jsoniter.RawMessage `json:"id,omitempty"`
	Cached  *bool               `json:"cached,omitempty"`
	// CacheStatus is a finer-grained sibling of Cached: "hit", "stale",
	// "miss", or "bypass" (method classified never-cacheable).
	CacheStatus string `json:"cacheStatus,omitempty"`
}

// NewErrorResponse builds a well-formed error Response, the only shape the
// pipeline ever hands back to the HTTP layer on failure.
func NewErrorResponse(id jsoniter.RawMessage, code int, message string, data interface{}) *Response {
	return &Response{
		JSONRPC: Version,
		ID:      id,
		Error: &Error{
			Code:    code,
			Message: message,
			Data:    data,
		},
	}
}

// NewResultResponse builds a success Response carrying the cached
// marker.
func NewResultResponse(id jsoniter.RawMessage, result jsoniter.RawMessage, cached bool, cacheStatus string) *Response {
	c := cached
	return &Response{
		JSONRPC:     Version,
		ID:          id,
		Result:      result,
		Cached:      &c,
		CacheStatus: cacheStatus,
	}
}

// Marshal/Unmarshal wrap the configured codec so the rest of the proxy
// never imports json-iterator directly.
func Marshal(v interface{}) ([]byte, error)   { return json.Marshal(v) }
func Unmarshal(data []byte, v interface{}) error { return json.Unmarshal(data, v) }
