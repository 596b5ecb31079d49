package realtime

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// fakeEthClient is a hand-rolled stand-in for rpc.EthClient: there is no
// mock generation in this module, so tests wire up a map-backed fake the
// way the teacher's own fetcher tests construct in-memory RPC doubles.
type fakeEthClient struct {
	mu sync.Mutex

	latest   *types.Block
	byNumber map[uint64]*types.Block
	byHash   map[common.Hash]*types.Block
	logs     map[common.Hash][]types.Log
}

func newFakeEthClient() *fakeEthClient {
	return &fakeEthClient{
		byNumber: map[uint64]*types.Block{},
		byHash:   map[common.Hash]*types.Block{},
		logs:     map[common.Hash][]types.Log{},
	}
}

func (f *fakeEthClient) Close() {}

func (f *fakeEthClient) GetBlockByNumber(ctx context.Context, tag string, withTxns bool) (*types.Block, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if tag == "latest" {
		if f.latest == nil {
			return nil, fmt.Errorf("fakeEthClient: latest block not set")
		}
		return f.latest, nil
	}

	n, err := strconv.ParseUint(tag, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("fakeEthClient: unsupported tag %q", tag)
	}
	b, ok := f.byNumber[n]
	if !ok {
		return nil, fmt.Errorf("fakeEthClient: no block at number %d", n)
	}
	return b, nil
}

func (f *fakeEthClient) GetBlockByHash(ctx context.Context, hash common.Hash, withTxns bool) (*types.Block, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	b, ok := f.byHash[hash]
	if !ok {
		return nil, fmt.Errorf("fakeEthClient: no block with hash %s", hash.Hex())
	}
	return b, nil
}

func (f *fakeEthClient) GetLogsByBlockHash(ctx context.Context, hash common.Hash) ([]types.Log, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.logs[hash], nil
}

// addBlock registers b under both its number and its real (computed) hash.
func (f *fakeEthClient) addBlock(b *types.Block) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byNumber[b.NumberU64()] = b
	f.byHash[b.Hash()] = b
}

func (f *fakeEthClient) addBlockAtHash(hash common.Hash, b *types.Block) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byHash[hash] = b
}

func (f *fakeEthClient) setLatest(b *types.Block) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.latest = b
}

func (f *fakeEthClient) setLogs(blockHash common.Hash, logs []types.Log) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logs[blockHash] = logs
}
