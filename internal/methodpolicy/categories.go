package methodpolicy

// methodCategories is the static classification table. Method names
// are matched verbatim — callers pass whatever the client sent, which
// is whatever a go-ethereum style node would expect (e.g.
// "eth_blockNumber", "net_version").
var methodCategories = map[string]Category{
	// Immutable
	"eth_getTransactionByHash":            CategoryImmutable,
	"eth_getTransactionReceipt":           CategoryImmutable,
	"eth_getBlockByHash":                  CategoryImmutable,
	"eth_getTransactionByBlockHashAndIndex":   CategoryImmutable,
	"eth_getTransactionByBlockNumberAndIndex": CategoryImmutable,
	"eth_getUncleByBlockHashAndIndex":      CategoryImmutable,
	"eth_getUncleByBlockNumberAndIndex":    CategoryImmutable,

	// Blocks
	"eth_blockNumber":                  CategoryBlocks,
	"eth_getBlockByNumber":              CategoryBlocks,
	"eth_getBlockTransactionCountByHash":   CategoryBlocks,
	"eth_getBlockTransactionCountByNumber": CategoryBlocks,
	"eth_getUncleCountByBlockHash":      CategoryBlocks,
	"eth_getUncleCountByBlockNumber":    CategoryBlocks,

	// Account state
	"eth_getBalance":       CategoryAccountState,
	"eth_getTransactionCount": CategoryAccountState,
	"eth_getStorageAt":     CategoryAccountState,
	"eth_getCode":          CategoryAccountState,

	// Gas
	"eth_gasPrice":             CategoryGas,
	"eth_estimateGas":          CategoryGas,
	"eth_maxPriorityFeePerGas": CategoryGas,
	"eth_feeHistory":           CategoryGas,

	// Logs
	"eth_getLogs":       CategoryLogs,
	"eth_getFilterLogs": CategoryLogs,

	// Network
	"eth_chainId":          CategoryNetwork,
	"net_version":          CategoryNetwork,
	"net_listening":        CategoryNetwork,
	"net_peerCount":        CategoryNetwork,
	"web3_clientVersion":   CategoryNetwork,
	"eth_protocolVersion":  CategoryNetwork,
	"eth_syncing":          CategoryNetwork,

	// Contract call
	"eth_call":           CategoryContractCall,
	"eth_createAccessList": CategoryContractCall,

	// Mining
	"eth_mining":   CategoryMining,
	"eth_hashrate": CategoryMining,
	"eth_getWork":  CategoryMining,

	// Proofs
	"eth_getProof": CategoryProofs,

	// Never-cache: signing, sending, filter management, submission, txpool.
	"eth_sign":                      CategoryNeverCache,
	"eth_signTransaction":           CategoryNeverCache,
	"eth_sendTransaction":           CategoryNeverCache,
	"eth_sendRawTransaction":        CategoryNeverCache,
	"eth_newFilter":                 CategoryNeverCache,
	"eth_newBlockFilter":            CategoryNeverCache,
	"eth_newPendingTransactionFilter": CategoryNeverCache,
	"eth_uninstallFilter":           CategoryNeverCache,
	"eth_getFilterChanges":          CategoryNeverCache,
	"eth_submitWork":                CategoryNeverCache,
	"eth_submitHashrate":            CategoryNeverCache,
	"txpool_content":                CategoryNeverCache,
	"txpool_status":                 CategoryNeverCache,
	"txpool_inspect":                CategoryNeverCache,
	"personal_sign":                 CategoryNeverCache,
	"personal_sendTransaction":      CategoryNeverCache,
}

// classifyMethod returns CategoryUnknown for anything the table does not
// list, which ttlFor in ttl.go then maps to a permissive 10s default TTL.
func classifyMethod(method string) Category {
	if cat, ok := methodCategories[method]; ok {
		return cat
	}
	return CategoryUnknown
}
