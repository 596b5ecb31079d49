package store

import (
	"context"
	"math/big"
	"os"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/evmindex/realtime-sync-core/internal/config"
	internaldb "github.com/evmindex/realtime-sync-core/internal/db"
	"github.com/evmindex/realtime-sync-core/internal/logger"
	storemigrations "github.com/evmindex/realtime-sync-core/internal/store/migrations"
	"github.com/evmindex/realtime-sync-core/pkg/chaintypes"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "store_test_*.db")
	require.NoError(t, err)
	tmpFile.Close()
	dbPath := tmpFile.Name()

	t.Cleanup(func() { os.Remove(dbPath) })

	dbConfig := config.DatabaseConfig{Path: dbPath}
	dbConfig.ApplyDefaults()

	sqlDB, err := internaldb.NewSQLiteDBFromConfig(dbConfig)
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, internaldb.RunMigrationsDB(logger.NewNopLogger(), sqlDB, storemigrations.Migrations()))

	return New(sqlDB, logger.NewNopLogger(), nil)
}

func testBlock(hash, parentHash common.Hash, number, timestamp uint64) chaintypes.Block {
	return chaintypes.Block{
		Hash:             hash,
		Number:           number,
		ParentHash:       parentHash,
		Timestamp:        timestamp,
		GasLimit:         big.NewInt(30_000_000),
		GasUsed:          big.NewInt(21_000),
		Miner:            common.HexToAddress("0xaaaa"),
		StateRoot:        common.HexToHash("0x01"),
		TransactionsRoot: common.HexToHash("0x02"),
		ReceiptsRoot:     common.HexToHash("0x03"),
		LogsBloomHex:     "0x",
		ChainID:          1,
	}
}

func TestInsertRealtimeBlock_RoundTrips(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	hash := common.HexToHash("0xb1")
	parent := common.HexToHash("0xb0")
	block := testBlock(hash, parent, 101, 1_700_000_000)

	txHash := common.HexToHash("0xt1")
	transactions := []chaintypes.Transaction{{
		Hash:        txHash,
		From:        common.HexToAddress("0xf1"),
		Value:       big.NewInt(0),
		Gas:         21000,
		GasPrice:    big.NewInt(1_000_000_000),
		BlockHash:   hash,
		BlockNumber: 101,
		ChainID:     1,
	}}

	topic0 := common.HexToHash("0xtopic0")
	logs := []chaintypes.Log{{
		LogID:           "101-0",
		LogSortKey:      1010,
		Address:         common.HexToAddress("0xc1"),
		Topic0:          &topic0,
		BlockHash:       hash,
		BlockNumber:     101,
		TransactionHash: txHash,
	}}

	require.NoError(t, s.InsertRealtimeBlock(ctx, block, transactions, logs))

	gotBlock, err := s.GetBlock(ctx, hash)
	require.NoError(t, err)
	require.NotNil(t, gotBlock)
	require.Equal(t, block.Number, gotBlock.Number)
	require.Equal(t, block.Hash, gotBlock.Hash)
	require.Equal(t, block.ParentHash, gotBlock.ParentHash)
	require.Equal(t, 0, block.GasLimit.Cmp(gotBlock.GasLimit))

	gotTx, err := s.GetTransaction(ctx, txHash)
	require.NoError(t, err)
	require.NotNil(t, gotTx)
	require.Equal(t, transactions[0].From, gotTx.From)
	require.Nil(t, gotTx.To)

	gotLogs, err := s.GetLogs(ctx, LogQuery{
		Address:            logs[0].Address,
		FromBlockTimestamp: 0,
		ToBlockTimestamp:   block.Timestamp,
	})
	require.NoError(t, err)
	require.Len(t, gotLogs, 1)
	require.Equal(t, "101-0", gotLogs[0].LogID)
	require.NotNil(t, gotLogs[0].BlockTimestamp)
	require.Equal(t, block.Timestamp, *gotLogs[0].BlockTimestamp)
}

func TestInsertRealtimeBlock_IgnoresPrimaryKeyConflict(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	hash := common.HexToHash("0xb2")
	block := testBlock(hash, common.HexToHash("0xb1"), 102, 1)

	require.NoError(t, s.InsertRealtimeBlock(ctx, block, nil, nil))
	require.NoError(t, s.InsertRealtimeBlock(ctx, block, nil, nil))

	got, err := s.GetBlock(ctx, hash)
	require.NoError(t, err)
	require.NotNil(t, got)
}

func TestDeleteRealtimeData_RemovesFromBlockNumberOnward(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	b100 := testBlock(common.HexToHash("0x100"), common.HexToHash("0x99"), 100, 1)
	b101 := testBlock(common.HexToHash("0x101"), common.HexToHash("0x100"), 101, 2)

	require.NoError(t, s.InsertRealtimeBlock(ctx, b100, nil, nil))
	require.NoError(t, s.InsertRealtimeBlock(ctx, b101, nil, nil))

	require.NoError(t, s.DeleteRealtimeData(ctx, 101))

	got, err := s.GetBlock(ctx, b100.Hash)
	require.NoError(t, err)
	require.NotNil(t, got)

	got, err = s.GetBlock(ctx, b101.Hash)
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestInsertLogFilterCachedRanges_MergesOverlapping(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	key := "contract-c"

	require.NoError(t, s.InsertLogFilterCachedRanges(ctx, []string{key}, 10, 20, 2000))
	require.NoError(t, s.InsertLogFilterCachedRanges(ctx, []string{key}, 30, 40, 4000))

	intervals, err := s.GetCachedIntervals(ctx, key)
	require.NoError(t, err)
	require.Len(t, intervals, 2)

	require.NoError(t, s.InsertLogFilterCachedRanges(ctx, []string{key}, 20, 35, 3500))

	intervals, err = s.GetCachedIntervals(ctx, key)
	require.NoError(t, err)
	require.Len(t, intervals, 1)
	require.Equal(t, uint64(10), intervals[0].StartBlock)
	require.Equal(t, uint64(40), intervals[0].EndBlock)
	require.Equal(t, uint64(4000), intervals[0].EndBlockTimestamp)

	require.NoError(t, s.InsertLogFilterCachedRanges(ctx, []string{key}, 41, 50, 5000))

	intervals, err = s.GetCachedIntervals(ctx, key)
	require.NoError(t, err)
	require.Len(t, intervals, 1)
	require.Equal(t, uint64(10), intervals[0].StartBlock)
	require.Equal(t, uint64(50), intervals[0].EndBlock)
	require.Equal(t, uint64(5000), intervals[0].EndBlockTimestamp)
}

func TestInsertLogFilterCachedRanges_IsIdempotent(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	key := "contract-idempotent"

	require.NoError(t, s.InsertLogFilterCachedRanges(ctx, []string{key}, 10, 20, 2000))
	require.NoError(t, s.InsertLogFilterCachedRanges(ctx, []string{key}, 10, 20, 2000))

	intervals, err := s.GetCachedIntervals(ctx, key)
	require.NoError(t, err)
	require.Len(t, intervals, 1)
	require.Equal(t, uint64(10), intervals[0].StartBlock)
	require.Equal(t, uint64(20), intervals[0].EndBlock)
}

func TestInsertLogFilterCachedRanges_OrderIndependent(t *testing.T) {
	ctx := context.Background()

	s1 := setupTestStore(t)
	require.NoError(t, s1.InsertLogFilterCachedRanges(ctx, []string{"k"}, 10, 20, 2000))
	require.NoError(t, s1.InsertLogFilterCachedRanges(ctx, []string{"k"}, 15, 25, 2500))
	a, err := s1.GetCachedIntervals(ctx, "k")
	require.NoError(t, err)

	s2 := setupTestStore(t)
	require.NoError(t, s2.InsertLogFilterCachedRanges(ctx, []string{"k"}, 15, 25, 2500))
	require.NoError(t, s2.InsertLogFilterCachedRanges(ctx, []string{"k"}, 10, 20, 2000))
	b, err := s2.GetCachedIntervals(ctx, "k")
	require.NoError(t, err)

	require.Equal(t, a, b)
}

func TestContractCall_UpsertAndGet(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertContractCall(ctx, chaintypes.ContractCall{Key: "call-1", Result: []byte("first")}))

	got, err := s.GetContractCall(ctx, "call-1")
	require.NoError(t, err)
	require.Equal(t, []byte("first"), got.Result)

	require.NoError(t, s.UpsertContractCall(ctx, chaintypes.ContractCall{Key: "call-1", Result: []byte("second")}))

	got, err = s.GetContractCall(ctx, "call-1")
	require.NoError(t, err)
	require.Equal(t, []byte("second"), got.Result)
}

func TestGetContractCall_MissingReturnsNil(t *testing.T) {
	s := setupTestStore(t)
	got, err := s.GetContractCall(context.Background(), "does-not-exist")
	require.NoError(t, err)
	require.Nil(t, got)
}
