package store

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// bigIntText renders a required big.Int column, defaulting to "0" when nil
// (legacy transactions carry no gasPrice-style optional value here).
func bigIntText(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// nullableBigIntText renders an optional big.Int column as SQL NULL rather
// than "0", so pre-EIP-1559 fields round-trip correctly.
func nullableBigIntText(v *big.Int) interface{} {
	if v == nil {
		return nil
	}
	return v.String()
}

func nullableHashText(h *common.Hash) interface{} {
	if h == nil {
		return nil
	}
	return h.Hex()
}

func nullableUint64(v *uint64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}
