package rpc

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/evmindex/realtime-sync-core/internal/config"
)

// EthClient is the subset of Client the realtime sync service depends on,
// so tests can substitute a hand-rolled fake.
type EthClient interface {
	Close()
	GetBlockByNumber(ctx context.Context, tag string, withTxns bool) (*types.Block, error)
	GetBlockByHash(ctx context.Context, hash common.Hash, withTxns bool) (*types.Block, error)
	GetLogsByBlockHash(ctx context.Context, hash common.Hash) ([]types.Log, error)
}

// Client wraps the Ethereum RPC client with convenience methods for indexing.
// It implements EthClient.
type Client struct {
	eth         *ethclient.Client
	retryConfig *config.RetryConfig
}

// NewClient creates a new RPC client connected to the given endpoint.
func NewClient(ctx context.Context, endpoint string, retryConfig *config.RetryConfig) (*Client, error) {
	rpcClient, err := rpc.DialContext(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	return &Client{
		eth:         ethclient.NewClient(rpcClient),
		retryConfig: retryConfig,
	}, nil
}

// Close closes the RPC client connection.
func (c *Client) Close() {
	c.eth.Close()
}

// GetLogs retrieves logs matching the given filter query.
func (c *Client) GetLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error) {
	start := time.Now()
	RPCMethodInc("eth_getLogs")
	defer func() {
		RPCMethodDuration("eth_getLogs", time.Since(start))
	}()

	var logs []types.Log
	err := retryWithBackoff(ctx, c.retryConfig, "eth_getLogs", func() error {
		var fetchErr error
		logs, fetchErr = c.eth.FilterLogs(ctx, query)
		return fetchErr
	})

	if err != nil {
		RPCMethodError("eth_getLogs", "error")
		return nil, err
	}

	return logs, nil
}

// blockNumberTag resolves a tag string ("latest", "finalized", "safe", or a
// decimal block number) to the *big.Int argument ethclient expects.
func blockNumberTag(tag string) (*big.Int, error) {
	switch tag {
	case "", "latest":
		return nil, nil
	case "finalized":
		return big.NewInt(int64(rpc.FinalizedBlockNumber)), nil
	case "safe":
		return big.NewInt(int64(rpc.SafeBlockNumber)), nil
	default:
		n, ok := new(big.Int).SetString(tag, 10)
		if !ok {
			return nil, fmt.Errorf("invalid block tag %q", tag)
		}
		return n, nil
	}
}

// GetBlockByNumber retrieves a full block (optionally with transaction
// bodies) for the given tag ("latest", "finalized", "safe", or a decimal
// block number).
func (c *Client) GetBlockByNumber(ctx context.Context, tag string, withTxns bool) (*types.Block, error) {
	start := time.Now()
	RPCMethodInc("eth_getBlockByNumber")
	defer func() {
		RPCMethodDuration("eth_getBlockByNumber", time.Since(start))
	}()

	num, err := blockNumberTag(tag)
	if err != nil {
		return nil, err
	}

	var block *types.Block
	err = retryWithBackoff(ctx, c.retryConfig, "eth_getBlockByNumber", func() error {
		var fetchErr error
		if withTxns {
			block, fetchErr = c.eth.BlockByNumber(ctx, num)
		} else {
			var header *types.Header
			header, fetchErr = c.eth.HeaderByNumber(ctx, num)
			if fetchErr == nil {
				block = types.NewBlockWithHeader(header)
			}
		}
		return fetchErr
	})

	if err != nil {
		RPCMethodError("eth_getBlockByNumber", "error")
		return nil, err
	}

	return block, nil
}

// GetBlockByHash retrieves a full block (optionally with transaction bodies)
// by block hash.
func (c *Client) GetBlockByHash(ctx context.Context, hash common.Hash, withTxns bool) (*types.Block, error) {
	start := time.Now()
	RPCMethodInc("eth_getBlockByHash")
	defer func() {
		RPCMethodDuration("eth_getBlockByHash", time.Since(start))
	}()

	var block *types.Block
	err := retryWithBackoff(ctx, c.retryConfig, "eth_getBlockByHash", func() error {
		var fetchErr error
		if withTxns {
			block, fetchErr = c.eth.BlockByHash(ctx, hash)
		} else {
			var header *types.Header
			header, fetchErr = c.eth.HeaderByHash(ctx, hash)
			if fetchErr == nil {
				block = types.NewBlockWithHeader(header)
			}
		}
		return fetchErr
	})

	if err != nil {
		RPCMethodError("eth_getBlockByHash", "error")
		return nil, err
	}

	return block, nil
}

// GetLogsByBlockHash retrieves all logs in a single block, addressed by hash
// so the result is pinned to one specific fork even if that block is later
// reorged out.
func (c *Client) GetLogsByBlockHash(ctx context.Context, hash common.Hash) ([]types.Log, error) {
	return c.GetLogs(ctx, ethereum.FilterQuery{BlockHash: &hash})
}
