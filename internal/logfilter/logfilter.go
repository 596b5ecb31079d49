// Package logfilter implements the Log Filter: a pure function that matches
// raw logs against a set of address/topic filter specs, run after the Bloom
// Pre-Filter has decided a block is worth fetching logs for.
package logfilter

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/evmindex/realtime-sync-core/internal/config"
	"github.com/evmindex/realtime-sync-core/pkg/chaintypes"
)

// Filter returns the subset of logs matching any of filters, preserving
// input order (downstream relies on canonical log ordering within a block).
func Filter(logs []chaintypes.Log, filters []config.FilterSpec) []chaintypes.Log {
	matched := make([]chaintypes.Log, 0, len(logs))
	for _, l := range logs {
		if matchesAny(l, filters) {
			matched = append(matched, l)
		}
	}
	return matched
}

func matchesAny(l chaintypes.Log, filters []config.FilterSpec) bool {
	for _, f := range filters {
		if matches(l, f) {
			return true
		}
	}
	return false
}

func matches(l chaintypes.Log, f config.FilterSpec) bool {
	if l.Address != f.Address {
		return false
	}

	topics := l.Topics()
	for i, allowed := range f.Topics {
		if len(allowed) == 0 {
			continue
		}
		if !topicAllowed(topics[i], allowed) {
			return false
		}
	}

	return true
}

func topicAllowed(topic *common.Hash, allowed []common.Hash) bool {
	if topic == nil {
		return false
	}
	for _, a := range allowed {
		if *topic == a {
			return true
		}
	}
	return false
}
