package realtime

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/evmindex/realtime-sync-core/internal/config"
	"github.com/evmindex/realtime-sync-core/pkg/chaintypes"
)

// logToDomain converts an RPC log into the persisted shape. logId is derived
// deterministically from (blockHash, logIndex) so re-ingesting the same
// block is an idempotent upsert-by-ignore; logSortKey orders logs globally
// by (blockNumber, logIndex) for GetLogs' ascending scan.
func logToDomain(l types.Log, blockTimestamp uint64) chaintypes.Log {
	topics := make([]*common.Hash, 4)
	for i := 0; i < len(l.Topics) && i < 4; i++ {
		h := l.Topics[i]
		topics[i] = &h
	}

	ts := blockTimestamp
	return chaintypes.Log{
		LogID:            fmt.Sprintf("%s-%d", l.BlockHash.Hex(), l.Index),
		LogSortKey:       l.BlockNumber*1_000_000 + uint64(l.Index),
		Address:          l.Address,
		Data:             l.Data,
		Topic0:           topics[0],
		Topic1:           topics[1],
		Topic2:           topics[2],
		Topic3:           topics[3],
		BlockHash:        l.BlockHash,
		BlockNumber:      l.BlockNumber,
		BlockTimestamp:   &ts,
		LogIndex:         l.Index,
		TransactionHash:  l.TxHash,
		TransactionIndex: l.TxIndex,
		Removed:          l.Removed,
	}
}

// transactionsForLogs returns the subset of all referenced by at least one
// log in logs, preserving all's original order.
func transactionsForLogs(all []chaintypes.Transaction, logs []chaintypes.Log) []chaintypes.Transaction {
	wanted := make(map[common.Hash]bool, len(logs))
	for _, l := range logs {
		wanted[l.TransactionHash] = true
	}

	matched := make([]chaintypes.Transaction, 0, len(logs))
	for _, t := range all {
		if wanted[t.Hash] {
			matched = append(matched, t)
		}
	}
	return matched
}

// filterSpecs extracts the bare address/topic patterns the Bloom Pre-Filter
// and Log Filter operate on, discarding the cached-interval bookkeeping key.
func filterSpecs(filters []config.LogFilterConfig) []config.FilterSpec {
	specs := make([]config.FilterSpec, len(filters))
	for i, f := range filters {
		specs[i] = f.Filter
	}
	return specs
}
