package jsonrpc

import (
	"bytes"
	"sort"

	jsoniter "github.com/json-iterator/go"
)

// canonicalConfig decodes numbers as json.Number so re-encoding never
// reformats "0x10" vs "16" or loses trailing zeros; fingerprinting
// needs numbers and hex strings kept byte-verbatim.
var canonicalConfig = jsoniter.Config{
	UseNumber: true,
}.Froze()

// Fingerprint computes the deterministic method+canonical(params) string
// that collapses requests sharing a cache entry.
func Fingerprint(method string, params jsoniter.RawMessage) (string, error) {
	canon, err := CanonicalParams(params)
	if err != nil {
		return "", err
	}
	return method + ":" + canon, nil
}

// CanonicalParams renders params (possibly empty/nil) into the canonical
// compact JSON form: array order preserved, object keys sorted
// lexicographically, scalars untouched.
func CanonicalParams(params jsoniter.RawMessage) (string, error) {
	if len(params) == 0 {
		return "[]", nil
	}

	var v interface{}
	if err := canonicalConfig.Unmarshal(params, &v); err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := writeCanonical(&buf, v); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func writeCanonical(buf *bytes.Buffer, v interface{}) error {
	switch t := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := canonicalConfig.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(kb)
			buf.WriteByte(':')
			if err := writeCanonical(buf, t[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
		return nil

	case []interface{}:
		buf.WriteByte('[')
		for i, e := range t {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, e); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil

	default:
		// scalars: string, json.Number, bool, nil — marshal verbatim.
		b, err := canonicalConfig.Marshal(t)
		if err != nil {
			return err
		}
		buf.Write(b)
		return nil
	}
}
