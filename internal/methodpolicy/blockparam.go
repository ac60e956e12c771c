package methodpolicy

import (
	"strconv"
	"strings"
)

// blockTag is the decoded shape of a block parameter: either a named
// tag ("latest", "pending", "earliest", ...) or a concrete height.
type blockTag struct {
	tag       string // "" when isNumeric is true
	height    uint64
	isNumeric bool
}

// parseBlockParam tolerantly decodes a raw block parameter value as it
// would appear after JSON decoding: a string that is a decimal number,
// a "0x..." hex number, or a named tag.
func parseBlockParam(v interface{}) (blockTag, bool) {
	s, ok := v.(string)
	if !ok {
		return blockTag{}, false
	}

	switch s {
	case "latest", "pending", "earliest", "safe", "finalized":
		return blockTag{tag: s}, true
	}

	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		n, err := strconv.ParseUint(s[2:], 16, 64)
		if err != nil {
			return blockTag{}, false
		}
		return blockTag{height: n, isNumeric: true}, true
	}

	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return blockTag{}, false
	}
	return blockTag{height: n, isNumeric: true}, true
}

// isHistoricalPermanent reports whether a numeric block height is at or
// below the permanent-height cutoff.
func (b blockTag) isHistoricalPermanent(permanentHeight uint64) bool {
	return b.isNumeric && b.height <= permanentHeight
}
