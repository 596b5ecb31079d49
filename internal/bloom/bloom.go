// Package bloom implements the Bloom Pre-Filter: a pure, false-positive-only
// pre-screen over a block's logs-bloom that lets the realtime sync service
// skip an eth_getLogs round trip for blocks that certainly contain no
// matching event.
package bloom

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/evmindex/realtime-sync-core/internal/config"
)

// MightMatch reports whether logsBloom might contain a log matching any of
// filters. A filter matches the pre-screen if the bloom contains its address
// AND, for every non-empty topic position, at least one of the allowed
// values at that position. False positives are allowed; false negatives are
// not, so an empty Topics[i] is treated as "any" and never excludes a match.
func MightMatch(logsBloom types.Bloom, filters []config.FilterSpec) bool {
	for _, f := range filters {
		if matchesFilter(logsBloom, f) {
			return true
		}
	}
	return false
}

func matchesFilter(logsBloom types.Bloom, f config.FilterSpec) bool {
	if !logsBloom.Test(f.Address.Bytes()) {
		return false
	}

	for _, topicValues := range f.Topics {
		if len(topicValues) == 0 {
			continue
		}
		if !anyTopicInBloom(logsBloom, topicValues) {
			return false
		}
	}

	return true
}

func anyTopicInBloom(logsBloom types.Bloom, topics []common.Hash) bool {
	for _, t := range topics {
		if logsBloom.Test(t.Bytes()) {
			return true
		}
	}
	return false
}
