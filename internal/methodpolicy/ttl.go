package methodpolicy

import (
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
)

func (p *Policy) ttlFor(cat Category, method string, params jsoniter.RawMessage) TTL {
	switch cat {
	case CategoryImmutable:
		return TTL{Permanent: true}

	case CategoryBlocks:
		return p.blocksTTL(method, params)

	case CategoryAccountState:
		return p.accountStateTTL(method, params)

	case CategoryGas:
		return p.gasTTL(method, params)

	case CategoryLogs:
		return p.logsTTL(params)

	case CategoryNetwork:
		return p.networkTTL(method)

	case CategoryContractCall:
		return p.contractCallTTL(method, params)

	case CategoryMining:
		return TTL{Fresh: 10 * time.Second}

	case CategoryProofs:
		return p.proofsTTL(params)

	case CategoryNeverCache:
		return TTL{Fresh: 0}

	default: // CategoryUnknown
		return TTL{Fresh: 10 * time.Second}
	}
}

// decodeParams best-effort unmarshals a JSON-RPC params array; callers
// tolerate a decode failure by falling back to the permissive branch of
// their TTL rule.
func decodeParams(params jsoniter.RawMessage) []interface{} {
	if len(params) == 0 {
		return nil
	}
	var out []interface{}
	if err := jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(params, &out); err != nil {
		return nil
	}
	return out
}

func paramAt(params []interface{}, i int) (interface{}, bool) {
	if i < 0 || i >= len(params) {
		return nil, false
	}
	return params[i], true
}

func (p *Policy) blocksTTL(method string, rawParams jsoniter.RawMessage) TTL {
	if method == "eth_blockNumber" {
		return TTL{Fresh: p.cfg.LatestBlockTTL}
	}

	// *ByHash variants pin an immutable block reference.
	if strings.Contains(method, "ByHash") {
		return TTL{Permanent: true}
	}

	params := decodeParams(rawParams)
	v, ok := paramAt(params, 0)
	if !ok {
		return TTL{Fresh: p.cfg.RecentBlockTTL}
	}

	bt, ok := parseBlockParam(v)
	if !ok {
		return TTL{Fresh: p.cfg.RecentBlockTTL}
	}

	if !bt.isNumeric {
		switch bt.tag {
		case "latest":
			return TTL{Fresh: p.cfg.LatestBlockTTL}
		case "pending":
			return TTL{Fresh: 1 * time.Second}
		case "earliest":
			return TTL{Fresh: 1 * time.Hour}
		default: // safe, finalized
			return TTL{Fresh: p.cfg.RecentBlockTTL}
		}
	}

	if bt.isHistoricalPermanent(p.cfg.PermanentHeight) {
		return TTL{Permanent: true}
	}
	return TTL{Fresh: p.cfg.RecentBlockTTL}
}

func (p *Policy) accountStateTTL(method string, rawParams jsoniter.RawMessage) TTL {
	if method == "eth_getCode" {
		return TTL{Fresh: 300 * time.Second}
	}

	// getBalance/getTransactionCount: block param is params[1].
	// getStorageAt: block param is params[2].
	idx := 1
	if method == "eth_getStorageAt" {
		idx = 2
	}

	params := decodeParams(rawParams)
	v, ok := paramAt(params, idx)
	if !ok {
		return TTL{Fresh: 15 * time.Second}
	}

	bt, ok := parseBlockParam(v)
	if !ok {
		return TTL{Fresh: 15 * time.Second}
	}

	if bt.isNumeric {
		if bt.isHistoricalPermanent(p.cfg.PermanentHeight) {
			return TTL{Permanent: true}
		}
		return TTL{Fresh: 300 * time.Second}
	}
	return TTL{Fresh: 15 * time.Second}
}

func (p *Policy) gasTTL(method string, rawParams jsoniter.RawMessage) TTL {
	if method != "eth_feeHistory" {
		return TTL{Fresh: 5 * time.Second}
	}

	// feeHistory(blockCount, newestBlock, rewardPercentiles): params[1]
	// is the reference block.
	params := decodeParams(rawParams)
	v, ok := paramAt(params, 1)
	if !ok {
		return TTL{Fresh: 5 * time.Second}
	}
	bt, ok := parseBlockParam(v)
	if !ok {
		return TTL{Fresh: 5 * time.Second}
	}
	if bt.isNumeric {
		return TTL{Fresh: 1 * time.Hour}
	}
	return TTL{Fresh: 5 * time.Second}
}

func (p *Policy) logsTTL(rawParams jsoniter.RawMessage) TTL {
	params := decodeParams(rawParams)
	v, ok := paramAt(params, 0)
	if !ok {
		return TTL{Fresh: 10 * time.Second}
	}
	filter, ok := v.(map[string]interface{})
	if !ok {
		return TTL{Fresh: 10 * time.Second}
	}

	from, fromOK := parseBlockParam(filter["fromBlock"])
	to, toOK := parseBlockParam(filter["toBlock"])

	if fromOK && toOK && from.isNumeric && to.isNumeric {
		if to.isHistoricalPermanent(p.cfg.PermanentHeight) {
			return TTL{Permanent: true}
		}
		return TTL{Fresh: 300 * time.Second}
	}
	return TTL{Fresh: 10 * time.Second}
}

func (p *Policy) networkTTL(method string) TTL {
	switch method {
	case "eth_chainId", "net_version":
		return TTL{Fresh: 1 * time.Hour}
	case "eth_syncing":
		return TTL{Fresh: 30 * time.Second}
	default:
		return TTL{Fresh: 300 * time.Second}
	}
}

func (p *Policy) contractCallTTL(method string, rawParams jsoniter.RawMessage) TTL {
	if method == "eth_createAccessList" {
		return TTL{Fresh: 60 * time.Second}
	}

	// eth_call(callObject, blockTag): params[1] is the reference block.
	params := decodeParams(rawParams)
	v, ok := paramAt(params, 1)
	if !ok {
		return TTL{Fresh: p.cfg.EthCallTTL}
	}
	bt, ok := parseBlockParam(v)
	if !ok {
		return TTL{Fresh: p.cfg.EthCallTTL}
	}
	if bt.isNumeric {
		if bt.isHistoricalPermanent(p.cfg.PermanentHeight) {
			return TTL{Permanent: true}
		}
		return TTL{Fresh: 300 * time.Second}
	}
	return TTL{Fresh: p.cfg.EthCallTTL}
}

func (p *Policy) proofsTTL(rawParams jsoniter.RawMessage) TTL {
	// eth_getProof(address, storageKeys, blockTag): params[2].
	params := decodeParams(rawParams)
	v, ok := paramAt(params, 2)
	if !ok {
		return TTL{Fresh: 60 * time.Second}
	}
	bt, ok := parseBlockParam(v)
	if !ok {
		return TTL{Fresh: 60 * time.Second}
	}
	if bt.isNumeric && bt.isHistoricalPermanent(p.cfg.PermanentHeight) {
		return TTL{Permanent: true}
	}
	return TTL{Fresh: 60 * time.Second}
}
