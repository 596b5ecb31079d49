// Package store implements the Event Store: durable SQLite-backed storage
// for blocks, transactions, logs, per-log-filter cached intervals, and
// contract-call memo entries, with transactional interval-merge writes.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/russross/meddler"

	"github.com/evmindex/realtime-sync-core/internal/db"
	"github.com/evmindex/realtime-sync-core/internal/logger"
	"github.com/evmindex/realtime-sync-core/internal/metrics"
	"github.com/evmindex/realtime-sync-core/pkg/chaintypes"
)

// Store is the SQLite-backed Event Store.
type Store struct {
	db          *sql.DB
	log         *logger.Logger
	maintenance db.Maintenance
}

// New creates a Store over an already-migrated database handle.
func New(database *sql.DB, log *logger.Logger, maintenance db.Maintenance) *Store {
	if maintenance == nil {
		maintenance = &db.NoOpMaintenance{}
	}
	return &Store{
		db:          database,
		log:         log.WithComponent("store"),
		maintenance: maintenance,
	}
}

// InsertRealtimeBlock persists a full block, its referenced transactions,
// and the logs matched against it. Primary-key conflicts on all three are
// ignored. blockTimestamp is backfilled on any pre-existing log rows that
// share this block's hash.
func (s *Store) InsertRealtimeBlock(
	ctx context.Context,
	block chaintypes.Block,
	transactions []chaintypes.Transaction,
	logs []chaintypes.Log,
) error {
	unlock := s.maintenance.AcquireOperationLock()
	defer unlock()

	start := time.Now()
	defer func() { metrics.StoreOperationDuration("insertRealtimeBlock", time.Since(start)) }()
	metrics.StoreOperationInc("insertRealtimeBlock")

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			s.log.Errorf("failed to rollback transaction: %v", err)
		}
	}()

	if err := s.insertBlockTx(tx, block); err != nil {
		metrics.StoreErrorInc("insertRealtimeBlock")
		return err
	}

	for _, t := range transactions {
		if err := s.insertTransactionTx(tx, t); err != nil {
			metrics.StoreErrorInc("insertRealtimeBlock")
			return err
		}
	}

	for _, l := range logs {
		if err := s.insertLogTx(tx, l); err != nil {
			metrics.StoreErrorInc("insertRealtimeBlock")
			return err
		}
	}

	if err := s.backfillLogTimestampsTx(tx, block.Hash, block.Timestamp); err != nil {
		metrics.StoreErrorInc("insertRealtimeBlock")
		return err
	}

	if err := tx.Commit(); err != nil {
		metrics.StoreErrorInc("insertRealtimeBlock")
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

func (s *Store) insertBlockTx(tx *sql.Tx, b chaintypes.Block) error {
	const query = `
		INSERT OR IGNORE INTO blocks (
			hash, number, timestamp, gasLimit, gasUsed, baseFeePerGas, miner,
			extraData, size, parentHash, stateRoot, transactionsRoot,
			receiptsRoot, logsBloom, totalDifficulty, chainId
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := tx.Exec(query,
		b.Hash.Hex(), b.Number, b.Timestamp, bigIntText(b.GasLimit), bigIntText(b.GasUsed),
		nullableBigIntText(b.BaseFeePerGas), b.Miner.Hex(), b.ExtraData, b.Size, b.ParentHash.Hex(),
		b.StateRoot.Hex(), b.TransactionsRoot.Hex(), b.ReceiptsRoot.Hex(), b.LogsBloomHex,
		nullableBigIntText(b.TotalDifficulty), b.ChainID,
	)
	if err != nil {
		return fmt.Errorf("failed to insert block %s: %w", b.Hash.Hex(), err)
	}
	return nil
}

func (s *Store) insertTransactionTx(tx *sql.Tx, t chaintypes.Transaction) error {
	const query = `
		INSERT OR IGNORE INTO transactions (
			hash, nonce, "from", "to", value, input, gas, gasPrice,
			maxFeePerGas, maxPriorityFeePerGas, blockHash, blockNumber,
			transactionIndex, chainId
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	var to interface{}
	if t.To != nil {
		to = t.To.Hex()
	}

	_, err := tx.Exec(query,
		t.Hash.Hex(), t.Nonce, t.From.Hex(), to, bigIntText(t.Value), t.Input, t.Gas,
		nullableBigIntText(t.GasPrice), nullableBigIntText(t.MaxFeePerGas),
		nullableBigIntText(t.MaxPriorityFeePerGas), t.BlockHash.Hex(), t.BlockNumber,
		t.TransactionIndex, t.ChainID,
	)
	if err != nil {
		return fmt.Errorf("failed to insert transaction %s: %w", t.Hash.Hex(), err)
	}
	return nil
}

func (s *Store) insertLogTx(tx *sql.Tx, l chaintypes.Log) error {
	const query = `
		INSERT OR IGNORE INTO logs (
			logId, logSortKey, address, data, topic0, topic1, topic2, topic3,
			blockHash, blockNumber, blockTimestamp, logIndex, transactionHash,
			transactionIndex, removed
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := tx.Exec(query,
		l.LogID, l.LogSortKey, l.Address.Hex(), l.Data,
		nullableHashText(l.Topic0), nullableHashText(l.Topic1),
		nullableHashText(l.Topic2), nullableHashText(l.Topic3),
		l.BlockHash.Hex(), l.BlockNumber, nullableUint64(l.BlockTimestamp), l.LogIndex,
		l.TransactionHash.Hex(), l.TransactionIndex, l.Removed,
	)
	if err != nil {
		return fmt.Errorf("failed to insert log %s: %w", l.LogID, err)
	}
	return nil
}

func (s *Store) backfillLogTimestampsTx(tx *sql.Tx, blockHash common.Hash, timestamp uint64) error {
	_, err := tx.Exec(
		`UPDATE logs SET blockTimestamp = ? WHERE blockHash = ? AND blockTimestamp IS NULL`,
		timestamp, blockHash.Hex(),
	)
	if err != nil {
		return fmt.Errorf("failed to backfill log timestamps for block %s: %w", blockHash.Hex(), err)
	}
	return nil
}

// DeleteRealtimeData deletes all logs, transactions, and blocks with
// blockNumber >= fromBlockNumber. CachedInterval rows are untouched.
func (s *Store) DeleteRealtimeData(ctx context.Context, fromBlockNumber uint64) error {
	unlock := s.maintenance.AcquireOperationLock()
	defer unlock()

	metrics.StoreOperationInc("deleteRealtimeData")

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			s.log.Errorf("failed to rollback transaction: %v", err)
		}
	}()

	for _, table := range []string{"logs", "transactions", "blocks"} {
		if _, err := tx.Exec(fmt.Sprintf(`DELETE FROM %s WHERE blockNumber >= ?`, table), fromBlockNumber); err != nil {
			metrics.StoreErrorInc("deleteRealtimeData")
			return fmt.Errorf("failed to delete from %s: %w", table, err)
		}
	}

	if err := tx.Commit(); err != nil {
		metrics.StoreErrorInc("deleteRealtimeData")
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// InsertLogFilterCachedRanges applies the interval-merge write (see
// mergeIntervalsTx) for every key in logFilterKeys, in a single transaction.
// Idempotent when the same range is reapplied.
func (s *Store) InsertLogFilterCachedRanges(
	ctx context.Context,
	logFilterKeys []string,
	startBlock, endBlock, endBlockTimestamp uint64,
) error {
	unlock := s.maintenance.AcquireOperationLock()
	defer unlock()

	metrics.StoreOperationInc("insertLogFilterCachedRanges")

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			s.log.Errorf("failed to rollback transaction: %v", err)
		}
	}()

	for _, key := range logFilterKeys {
		newInterval := chaintypes.CachedInterval{
			LogFilterKey:      key,
			StartBlock:        startBlock,
			EndBlock:          endBlock,
			EndBlockTimestamp: endBlockTimestamp,
		}
		if err := s.mergeIntervalsTx(tx, key, newInterval); err != nil {
			metrics.StoreErrorInc("insertLogFilterCachedRanges")
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		metrics.StoreErrorInc("insertLogFilterCachedRanges")
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// mergeIntervalsTx performs the interval-merge algorithm for one key:
// read all existing intervals, delete them, compute the merged set, and
// reinsert it. A merged endpoint's timestamp must be sourced from exactly
// one contributing interval; failure to do so is an invariant violation.
func (s *Store) mergeIntervalsTx(tx *sql.Tx, logFilterKey string, newInterval chaintypes.CachedInterval) error {
	var existing []*chaintypes.CachedInterval
	if err := meddler.QueryAll(tx, &existing,
		`SELECT * FROM cachedIntervals WHERE logFilterKey = ? ORDER BY startBlock ASC`, logFilterKey); err != nil {
		return fmt.Errorf("failed to query cached intervals for %s: %w", logFilterKey, err)
	}

	if _, err := tx.Exec(`DELETE FROM cachedIntervals WHERE logFilterKey = ?`, logFilterKey); err != nil {
		return fmt.Errorf("failed to clear cached intervals for %s: %w", logFilterKey, err)
	}

	all := make([]chaintypes.CachedInterval, 0, len(existing)+1)
	for _, iv := range existing {
		all = append(all, *iv)
	}
	all = append(all, newInterval)

	merged, err := mergeIntervals(all)
	if err != nil {
		return err
	}

	for _, iv := range merged {
		iv.LogFilterKey = logFilterKey
		if err := meddler.Insert(tx, "cachedIntervals", &iv); err != nil {
			return fmt.Errorf("failed to insert merged interval for %s: %w", logFilterKey, err)
		}
	}

	return nil
}

// mergeIntervals sorts intervals by startBlock and merges overlapping or
// adjacent ones in a single left-to-right pass, which is sufficient because
// every already-stored interval is pairwise non-overlapping/non-adjacent
// before the new one is added.
func mergeIntervals(intervals []chaintypes.CachedInterval) ([]chaintypes.CachedInterval, error) {
	sorted := make([]chaintypes.CachedInterval, len(intervals))
	copy(sorted, intervals)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].StartBlock < sorted[j].StartBlock })

	merged := make([]chaintypes.CachedInterval, 0, len(sorted))
	for _, iv := range sorted {
		if len(merged) == 0 || !merged[len(merged)-1].OverlapsOrAdjacent(iv) {
			merged = append(merged, iv)
			continue
		}

		combined, err := mergeTwo(merged[len(merged)-1], iv)
		if err != nil {
			return nil, err
		}
		merged[len(merged)-1] = combined
	}

	return merged, nil
}

func mergeTwo(a, b chaintypes.CachedInterval) (chaintypes.CachedInterval, error) {
	start := a.StartBlock
	if b.StartBlock < start {
		start = b.StartBlock
	}
	end := a.EndBlock
	if b.EndBlock > end {
		end = b.EndBlock
	}

	var (
		timestamp uint64
		found     bool
	)
	if a.EndBlock == end {
		timestamp = a.EndBlockTimestamp
		found = true
	}
	if !found && b.EndBlock == end {
		timestamp = b.EndBlockTimestamp
		found = true
	}
	if !found {
		return chaintypes.CachedInterval{}, newInvariantViolation(
			"merged interval [%d,%d] has no contributing endpoint timestamp", start, end)
	}

	return chaintypes.CachedInterval{StartBlock: start, EndBlock: end, EndBlockTimestamp: timestamp}, nil
}

// GetCachedIntervals returns the stored intervals for a log filter key,
// ordered by startBlock.
func (s *Store) GetCachedIntervals(ctx context.Context, logFilterKey string) ([]chaintypes.CachedInterval, error) {
	metrics.StoreOperationInc("getCachedIntervals")

	var intervals []*chaintypes.CachedInterval
	if err := meddler.QueryAll(s.db, &intervals,
		`SELECT * FROM cachedIntervals WHERE logFilterKey = ? ORDER BY startBlock ASC`, logFilterKey); err != nil {
		metrics.StoreErrorInc("getCachedIntervals")
		return nil, fmt.Errorf("failed to query cached intervals: %w", err)
	}

	result := make([]chaintypes.CachedInterval, len(intervals))
	for i, iv := range intervals {
		result[i] = *iv
	}
	return result, nil
}

// GetBlock returns the persisted block with the given hash.
func (s *Store) GetBlock(ctx context.Context, hash common.Hash) (*chaintypes.Block, error) {
	metrics.StoreOperationInc("getBlock")

	var b chaintypes.Block
	err := meddler.QueryRow(s.db, &b, `SELECT * FROM blocks WHERE hash = ?`, hash.Hex())
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		metrics.StoreErrorInc("getBlock")
		return nil, fmt.Errorf("failed to query block %s: %w", hash.Hex(), err)
	}
	return &b, nil
}

// GetTransaction returns the persisted transaction with the given hash.
func (s *Store) GetTransaction(ctx context.Context, hash common.Hash) (*chaintypes.Transaction, error) {
	metrics.StoreOperationInc("getTransaction")

	var t chaintypes.Transaction
	err := meddler.QueryRow(s.db, &t, `SELECT * FROM transactions WHERE hash = ?`, hash.Hex())
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		metrics.StoreErrorInc("getTransaction")
		return nil, fmt.Errorf("failed to query transaction %s: %w", hash.Hex(), err)
	}
	return &t, nil
}

// LogQuery selects logs for one contract address within a block-timestamp
// window, optionally restricted to a set of topic0 event signature hashes.
type LogQuery struct {
	Address            common.Address
	FromBlockTimestamp uint64 // exclusive
	ToBlockTimestamp   uint64 // inclusive
	EventSigHashes     []common.Hash
}

// GetLogs returns logs matching q, ordered by logSortKey ascending.
func (s *Store) GetLogs(ctx context.Context, q LogQuery) ([]chaintypes.Log, error) {
	metrics.StoreOperationInc("getLogs")

	query := `
		SELECT * FROM logs
		WHERE address = ? AND blockTimestamp > ? AND blockTimestamp <= ?
	`
	args := []interface{}{q.Address.Hex(), q.FromBlockTimestamp, q.ToBlockTimestamp}

	if len(q.EventSigHashes) > 0 {
		query += " AND topic0 IN (" + placeholders(len(q.EventSigHashes)) + ")"
		for _, h := range q.EventSigHashes {
			args = append(args, h.Hex())
		}
	}

	query += " ORDER BY logSortKey ASC"

	var logs []*chaintypes.Log
	if err := meddler.QueryAll(s.db, &logs, query, args...); err != nil {
		metrics.StoreErrorInc("getLogs")
		return nil, fmt.Errorf("failed to query logs: %w", err)
	}

	result := make([]chaintypes.Log, len(logs))
	for i, l := range logs {
		result[i] = *l
	}
	return result, nil
}

// UpsertContractCall stores or replaces the memoized result for key.
func (s *Store) UpsertContractCall(ctx context.Context, call chaintypes.ContractCall) error {
	metrics.StoreOperationInc("upsertContractCall")

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO contractCalls (key, result) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET result = excluded.result`,
		call.Key, call.Result,
	)
	if err != nil {
		metrics.StoreErrorInc("upsertContractCall")
		return fmt.Errorf("failed to upsert contract call %s: %w", call.Key, err)
	}
	return nil
}

// GetContractCall returns the memoized result for key, or nil if absent.
func (s *Store) GetContractCall(ctx context.Context, key string) (*chaintypes.ContractCall, error) {
	metrics.StoreOperationInc("getContractCall")

	var c chaintypes.ContractCall
	err := meddler.QueryRow(s.db, &c, `SELECT * FROM contractCalls WHERE key = ?`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		metrics.StoreErrorInc("getContractCall")
		return nil, fmt.Errorf("failed to query contract call %s: %w", key, err)
	}
	return &c, nil
}

func placeholders(n int) string {
	s := ""
	for i := 0; i < n; i++ {
		if i > 0 {
			s += ","
		}
		s += "?"
	}
	return s
}
