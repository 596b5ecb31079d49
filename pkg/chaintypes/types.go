// Package chaintypes defines the data model persisted by the event store and
// manipulated by the realtime sync service: light and full blocks,
// transactions, logs, cached intervals, and contract-call memo entries.
package chaintypes

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// LightBlock is the minimal block shape the local in-memory chain state
// retains for its unfinalized suffix.
type LightBlock struct {
	Hash       common.Hash `meddler:"hash,hash"`
	Number     uint64      `meddler:"number"`
	ParentHash common.Hash `meddler:"parentHash,hash"`
	Timestamp  uint64      `meddler:"timestamp"`
	LogsBloom  types.Bloom `meddler:"-"`
}

// Block is the full persisted row: a light block plus the header fields and
// transaction list downstream handlers need. Logsbloom/transactions are
// populated from the RPC response at Extend/Fill time.
type Block struct {
	Hash              common.Hash    `meddler:"hash,hash"`
	Number            uint64         `meddler:"number"`
	ParentHash        common.Hash    `meddler:"parentHash,hash"`
	Timestamp         uint64         `meddler:"timestamp"`
	GasLimit          *big.Int       `meddler:"gasLimit,bigint"`
	GasUsed           *big.Int       `meddler:"gasUsed,bigint"`
	BaseFeePerGas     *big.Int       `meddler:"baseFeePerGas,bigint"`
	Miner             common.Address `meddler:"miner,address"`
	ExtraData         []byte         `meddler:"extraData"`
	Size              uint64         `meddler:"size"`
	StateRoot         common.Hash    `meddler:"stateRoot,hash"`
	TransactionsRoot  common.Hash    `meddler:"transactionsRoot,hash"`
	ReceiptsRoot      common.Hash    `meddler:"receiptsRoot,hash"`
	LogsBloomHex      string         `meddler:"logsBloom"`
	TotalDifficulty   *big.Int       `meddler:"totalDifficulty,bigint"`
	ChainID           uint64         `meddler:"chainId"`

	Transactions []Transaction `meddler:"-"`
}

// LogsBloom decodes the persisted hex logs-bloom back into a types.Bloom.
func (b Block) LogsBloom() types.Bloom {
	return types.BytesToBloom(common.FromHex(b.LogsBloomHex))
}

// Light returns the LightBlock projection of a full block.
func (b Block) Light() LightBlock {
	return LightBlock{
		Hash:       b.Hash,
		Number:     b.Number,
		ParentHash: b.ParentHash,
		Timestamp:  b.Timestamp,
		LogsBloom:  b.LogsBloom(),
	}
}

// FromGethBlock converts a go-ethereum block (as returned by the RPC client)
// into the persisted Block shape, tagging every row with chainID.
func FromGethBlock(gb *types.Block, chainID uint64) Block {
	header := gb.Header()

	b := Block{
		Hash:             gb.Hash(),
		Number:           gb.NumberU64(),
		ParentHash:       header.ParentHash,
		Timestamp:        header.Time,
		GasLimit:         new(big.Int).SetUint64(header.GasLimit),
		GasUsed:          new(big.Int).SetUint64(header.GasUsed),
		Miner:            header.Coinbase,
		ExtraData:        header.Extra,
		Size:             gb.Size(),
		StateRoot:        header.Root,
		TransactionsRoot: header.TxHash,
		ReceiptsRoot:     header.ReceiptHash,
		LogsBloomHex:     common.Bytes2Hex(header.Bloom.Bytes()),
		ChainID:          chainID,
	}

	if header.BaseFee != nil {
		b.BaseFeePerGas = new(big.Int).Set(header.BaseFee)
	}
	if header.Difficulty != nil {
		b.TotalDifficulty = new(big.Int).Set(header.Difficulty)
	}

	b.Transactions = make([]Transaction, len(gb.Transactions()))
	for i, tx := range gb.Transactions() {
		b.Transactions[i] = fromGethTransaction(tx, gb.Hash(), gb.NumberU64(), uint(i), chainID)
	}

	return b
}

func fromGethTransaction(tx *types.Transaction, blockHash common.Hash, blockNumber uint64, txIndex uint, chainID uint64) Transaction {
	signer := types.LatestSignerForChainID(tx.ChainId())
	from, err := types.Sender(signer, tx)
	if err != nil {
		from = common.Address{}
	}

	t := Transaction{
		Hash:             tx.Hash(),
		Nonce:            tx.Nonce(),
		From:             from,
		To:               tx.To(),
		Value:            tx.Value(),
		Input:            tx.Data(),
		Gas:              tx.Gas(),
		BlockHash:        blockHash,
		BlockNumber:      blockNumber,
		TransactionIndex: txIndex,
		ChainID:          chainID,
	}

	if tx.GasFeeCap() != nil && tx.Type() != types.LegacyTxType {
		t.MaxFeePerGas = tx.GasFeeCap()
		t.MaxPriorityFeePerGas = tx.GasTipCap()
	} else {
		t.GasPrice = tx.GasPrice()
	}

	return t
}

// Transaction is persisted only when referenced by a matched log.
type Transaction struct {
	Hash                 common.Hash     `meddler:"hash,hash"`
	Nonce                uint64          `meddler:"nonce"`
	From                 common.Address  `meddler:"from,address"`
	To                   *common.Address `meddler:"to,address"`
	Value                *big.Int        `meddler:"value,bigint"`
	Input                []byte          `meddler:"input"`
	Gas                  uint64          `meddler:"gas"`
	GasPrice             *big.Int        `meddler:"gasPrice,bigint"`
	MaxFeePerGas         *big.Int        `meddler:"maxFeePerGas,bigint"`
	MaxPriorityFeePerGas *big.Int        `meddler:"maxPriorityFeePerGas,bigint"`
	BlockHash            common.Hash     `meddler:"blockHash,hash"`
	BlockNumber          uint64          `meddler:"blockNumber"`
	TransactionIndex     uint            `meddler:"transactionIndex"`
	ChainID              uint64          `meddler:"chainId"`
}

// Log is a single matched event. Primary key is LogID, which callers derive
// deterministically from (blockHash, logIndex) so re-ingesting the same
// block is an idempotent upsert-by-ignore.
type Log struct {
	LogID            string         `meddler:"logId,pk"`
	LogSortKey       uint64         `meddler:"logSortKey"`
	Address          common.Address `meddler:"address,address"`
	Data             []byte         `meddler:"data"`
	Topic0           *common.Hash   `meddler:"topic0,hash"`
	Topic1           *common.Hash   `meddler:"topic1,hash"`
	Topic2           *common.Hash   `meddler:"topic2,hash"`
	Topic3           *common.Hash   `meddler:"topic3,hash"`
	BlockHash        common.Hash    `meddler:"blockHash,hash"`
	BlockNumber      uint64         `meddler:"blockNumber"`
	BlockTimestamp   *uint64        `meddler:"blockTimestamp"`
	LogIndex         uint           `meddler:"logIndex"`
	TransactionHash  common.Hash    `meddler:"transactionHash,hash"`
	TransactionIndex uint           `meddler:"transactionIndex"`
	Removed          bool           `meddler:"removed"`
}

// Topics returns the log's four topic slots in position order, with nil for
// an absent topic, for the Log Filter's position-wise topic matching.
func (l Log) Topics() []*common.Hash {
	return []*common.Hash{l.Topic0, l.Topic1, l.Topic2, l.Topic3}
}

// CachedInterval represents a contiguous, fully-indexed block range for one
// contract/log-filter key.
type CachedInterval struct {
	ID                int64  `meddler:"id,pk"`
	LogFilterKey      string `meddler:"logFilterKey"`
	StartBlock        uint64 `meddler:"startBlock"`
	EndBlock          uint64 `meddler:"endBlock"`
	EndBlockTimestamp uint64 `meddler:"endBlockTimestamp"`
}

// OverlapsOrAdjacent reports whether a and b satisfy the merge condition:
// max(a.start,b.start) <= min(a.end,b.end)+1.
func (a CachedInterval) OverlapsOrAdjacent(b CachedInterval) bool {
	lo := a.StartBlock
	if b.StartBlock > lo {
		lo = b.StartBlock
	}
	hi := a.EndBlock
	if b.EndBlock < hi {
		hi = b.EndBlock
	}
	return lo <= hi+1
}

// ContractCall is an opaque memoization entry for read-only contract calls
// performed by handlers. The realtime sync core never writes these itself,
// but the event store must support them.
type ContractCall struct {
	Key    string `meddler:"key,pk"`
	Result []byte `meddler:"result"`
}
