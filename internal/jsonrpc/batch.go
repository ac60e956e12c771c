package jsonrpc

import "bytes"

// DecodeBody sniffs whether the raw HTTP body is a single JSON-RPC
// request object or a batch array.
func DecodeBody(body []byte) (reqs []Request, isBatch bool, err error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, false, &Error{Code: ErrCodeInvalidRequest, Message: "empty request body"}
	}

	if trimmed[0] == '[' {
		if err := Unmarshal(trimmed, &reqs); err != nil {
			return nil, true, err
		}
		return reqs, true, nil
	}

	var single Request
	if err := Unmarshal(trimmed, &single); err != nil {
		return nil, false, err
	}
	return []Request{single}, false, nil
}

// EncodeBody mirrors the shape of the request: a single response object
// for a single request, an array for a batch.
func EncodeBody(resps []*Response, isBatch bool) ([]byte, error) {
	if !isBatch {
		if len(resps) != 1 {
			return nil, &Error{Code: ErrCodeInternal, Message: "expected exactly one response for a non-batch request"}
		}
		return Marshal(resps[0])
	}
	return Marshal(resps)
}
