// Package realtime implements the Realtime Sync Service: the state machine
// that classifies newly observed blocks against an in-memory unfinalized
// chain suffix, decides whether to extend, gap-fill, or reconcile a reorg
// against it, and advances a syncer-derived finality checkpoint independent
// of whatever the RPC endpoint itself reports as finalized or safe.
package realtime

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/evmindex/realtime-sync-core/internal/bloom"
	"github.com/evmindex/realtime-sync-core/internal/config"
	"github.com/evmindex/realtime-sync-core/internal/logfilter"
	"github.com/evmindex/realtime-sync-core/internal/logger"
	"github.com/evmindex/realtime-sync-core/internal/metrics"
	"github.com/evmindex/realtime-sync-core/internal/queue"
	"github.com/evmindex/realtime-sync-core/internal/rpc"
	"github.com/evmindex/realtime-sync-core/internal/store"
	"github.com/evmindex/realtime-sync-core/pkg/chaintypes"
)

// gapFillConcurrency bounds how many getBlockByNumber calls a single Fill
// run may have in flight at once.
const gapFillConcurrency = 10

// Service drives the realtime sync state machine for one network
// connection. Setup must be called once, then Start; Kill stops it.
type Service struct {
	log   *logger.Logger
	rpc   rpc.EthClient
	store *store.Store
	queue *queue.Queue

	network config.NetworkConfig
	filters []config.LogFilterConfig

	events chan Event

	chain                *localChain
	finalizedBlockNumber uint64

	pollCancel context.CancelFunc
	pollWg     sync.WaitGroup
}

// NewService constructs a Service. The returned service does nothing until
// Setup and Start are called.
func NewService(
	network config.NetworkConfig,
	filters []config.LogFilterConfig,
	rpcClient rpc.EthClient,
	eventStore *store.Store,
	log *logger.Logger,
) *Service {
	return &Service{
		log:     log.WithComponent("realtime"),
		rpc:     rpcClient,
		store:   eventStore,
		queue:   queue.New(log),
		network: network,
		filters: filters,
		events:  make(chan Event, 64),
	}
}

// Events returns the channel every emitted Event is published on. The
// channel is buffered, not unbounded; a slow consumer causes events to be
// dropped with a warning rather than blocking the worker.
func (s *Service) Events() <-chan Event {
	return s.events
}

// Setup fetches the current chain head and derives the initial finality
// checkpoint, enqueuing the head itself as the first task. It must be
// called exactly once, before Start.
func (s *Service) Setup(ctx context.Context) (latestBlockNumber, finalizedBlockNumber uint64, err error) {
	latest, err := s.rpc.GetBlockByNumber(ctx, "latest", true)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to fetch latest block: %w", err)
	}

	block := chaintypes.FromGethBlock(latest, s.network.ChainID)

	if block.Number > s.network.FinalityBlockCount {
		s.finalizedBlockNumber = block.Number - s.network.FinalityBlockCount
	} else {
		s.finalizedBlockNumber = 0
	}

	s.queue.AddTask(queue.Task{BlockNumber: block.Number, Run: s.taskFor(block)})

	metrics.LatestBlockNumberSet(s.networkLabel(), block.Number)
	metrics.FinalizedBlockNumberSet(s.networkLabel(), s.finalizedBlockNumber)

	return block.Number, s.finalizedBlockNumber, nil
}

// Start seeds the local chain at the finalized floor, launches the task
// queue worker, and begins polling for new heads. If every configured log
// filter's endBlock already lies at or behind finalizedBlockNumber, Start
// logs a warning and returns without polling (configuration exhaustion).
func (s *Service) Start(ctx context.Context) error {
	if s.filtersExhausted() {
		s.log.Warnf("all log filters exhausted at or before finalized block %d, exiting without polling", s.finalizedBlockNumber)
		return nil
	}

	seedGeth, err := s.rpc.GetBlockByNumber(ctx, strconv.FormatUint(s.finalizedBlockNumber, 10), false)
	if err != nil {
		return fmt.Errorf("failed to fetch finalized seed block %d: %w", s.finalizedBlockNumber, err)
	}
	seed := chaintypes.FromGethBlock(seedGeth, s.network.ChainID)
	s.chain = newLocalChain(seed.Light())

	s.queue.OnError(func(task queue.Task, err error) {
		s.emit(ErrorEvent{Err: err})
	})

	pollCtx, cancel := context.WithCancel(ctx)
	s.pollCancel = cancel

	s.queue.Start(pollCtx)

	s.pollWg.Add(1)
	go s.pollLoop(pollCtx)

	return nil
}

// Kill stops polling, then pauses and clears the task queue. An in-flight
// task is allowed to finish; it is not preempted.
func (s *Service) Kill() {
	if s.pollCancel != nil {
		s.pollCancel()
	}
	s.pollWg.Wait()
	s.queue.Pause()
	s.queue.Clear()
	s.queue.Stop()
}

// networkLabel is the metrics label identifying this service's network,
// keyed by chain ID to match the teacher's chainId-tagging convention.
func (s *Service) networkLabel() string {
	return strconv.FormatUint(s.network.ChainID, 10)
}

func (s *Service) filtersExhausted() bool {
	for _, f := range s.filters {
		if f.Filter.EndBlock == nil || *f.Filter.EndBlock > s.finalizedBlockNumber {
			return false
		}
	}
	return true
}

func (s *Service) pollLoop(ctx context.Context) {
	defer s.pollWg.Done()

	ticker := time.NewTicker(s.network.PollingInterval.Duration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			latest, err := s.rpc.GetBlockByNumber(ctx, "latest", true)
			if err != nil {
				s.emit(ErrorEvent{Err: fmt.Errorf("failed to poll latest block: %w", err)})
				continue
			}
			block := chaintypes.FromGethBlock(latest, s.network.ChainID)
			s.queue.AddTask(queue.Task{BlockNumber: block.Number, Run: s.taskFor(block)})
		}
	}
}

func (s *Service) taskFor(b chaintypes.Block) func(context.Context) error {
	return func(ctx context.Context) error {
		return s.processBlock(ctx, b)
	}
}

// processBlock classifies a dequeued block against the local chain head and
// dispatches to the matching case. The queue's single-worker guarantee
// means the head observed here is stable for the whole call.
func (s *Service) processBlock(ctx context.Context, b chaintypes.Block) error {
	head := s.chain.head()

	switch {
	case s.chain.containsHash(b.Hash):
		metrics.BlocksProcessedInc(s.networkLabel(), "duplicate")
		return nil // Case 1: duplicate

	case b.Number == head.Number+1 && b.ParentHash == head.Hash:
		metrics.BlocksProcessedInc(s.networkLabel(), "new_head")
		return s.extend(ctx, b) // Case 2: new head

	case b.Number > head.Number+1:
		metrics.BlocksProcessedInc(s.networkLabel(), "gap")
		return s.fill(ctx, head, b) // Case 3: gap

	default:
		metrics.BlocksProcessedInc(s.networkLabel(), "reorg")
		return s.reconcile(ctx, b) // Case 4: reorg
	}
}

// extend runs the Bloom Pre-Filter and, on a possible match, the Log
// Filter, persisting only blocks that end up with at least one matched log.
// The block is always appended to the local chain and always emits a
// realtimeCheckpoint, whether or not anything was written to the store.
func (s *Service) extend(ctx context.Context, b chaintypes.Block) error {
	specs := filterSpecs(s.filters)

	if bloom.MightMatch(b.LogsBloom(), specs) {
		rawLogs, err := s.rpc.GetLogsByBlockHash(ctx, b.Hash)
		if err != nil {
			return fmt.Errorf("failed to fetch logs for block %d: %w", b.Number, err)
		}

		logs := make([]chaintypes.Log, len(rawLogs))
		for i, l := range rawLogs {
			logs[i] = logToDomain(l, b.Timestamp)
		}

		matched := logfilter.Filter(logs, specs)
		if len(matched) > 0 {
			txs := transactionsForLogs(b.Transactions, matched)
			if err := s.store.InsertRealtimeBlock(ctx, b, txs, matched); err != nil {
				return fmt.Errorf("failed to insert block %d: %w", b.Number, err)
			}
		}
	}

	s.chain.append(b.Light())
	metrics.LatestBlockNumberSet(s.networkLabel(), b.Number)
	s.emit(RealtimeCheckpoint{Timestamp: b.Timestamp})

	if b.Number > s.finalizedBlockNumber+2*s.network.FinalityBlockCount {
		return s.advanceFinality(ctx)
	}

	return nil
}

// advanceFinality moves the finality floor forward by exactly one
// finalityBlockCount step, flushing a cached interval covering the newly
// finalized range for every configured log filter and pruning the local
// chain down to the new floor.
func (s *Service) advanceFinality(ctx context.Context) error {
	targetNumber := s.finalizedBlockNumber + s.network.FinalityBlockCount

	f, ok := s.chain.findByNumber(targetNumber)
	if !ok {
		return &store.ErrInvariantViolation{
			Reason: fmt.Sprintf("finality advance target block %d not found in local chain", targetNumber),
		}
	}

	keys := make([]string, len(s.filters))
	for i, lf := range s.filters {
		keys[i] = lf.Key
	}

	if err := s.store.InsertLogFilterCachedRanges(ctx, keys, s.finalizedBlockNumber+1, f.Number, f.Timestamp); err != nil {
		return fmt.Errorf("failed to insert cached ranges during finality advance: %w", err)
	}

	s.chain.pruneBefore(f.Number)
	s.finalizedBlockNumber = f.Number
	metrics.FinalizedBlockNumberSet(s.networkLabel(), f.Number)
	metrics.FinalityAdvanceInc(s.networkLabel())
	s.emit(FinalityCheckpoint{Timestamp: f.Timestamp})

	return nil
}

// fill fetches every block between the local head and b, up to
// gapFillConcurrency at a time, then re-enqueues all of them (including b
// itself, already in hand) so the queue drains them in ascending order.
func (s *Service) fill(ctx context.Context, head chaintypes.LightBlock, b chaintypes.Block) error {
	missing := make([]uint64, 0, b.Number-head.Number-1)
	for n := head.Number + 1; n < b.Number; n++ {
		missing = append(missing, n)
	}

	fetched := make([]chaintypes.Block, len(missing))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(gapFillConcurrency)

	for i, n := range missing {
		i, n := i, n
		g.Go(func() error {
			gb, err := s.rpc.GetBlockByNumber(gctx, strconv.FormatUint(n, 10), true)
			if err != nil {
				return fmt.Errorf("failed to fetch block %d during gap fill: %w", n, err)
			}
			fetched[i] = chaintypes.FromGethBlock(gb, s.network.ChainID)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	for _, block := range fetched {
		block := block
		s.queue.AddTask(queue.Task{BlockNumber: block.Number, Run: s.taskFor(block)})
	}
	s.queue.AddTask(queue.Task{BlockNumber: b.Number, Run: s.taskFor(b)})

	return nil
}

// reconcile walks B's ancestry backward via getBlockByHash until it finds a
// parent already present in the local chain (a shallow reorg) or reaches
// the finalized floor without finding one (a deep reorg, left for a higher
// layer to resync).
func (s *Service) reconcile(ctx context.Context, b chaintypes.Block) error {
	canonicalChain := []chaintypes.Block{b}
	cursor := b.Light()
	depth := uint64(0)

	for cursor.Number > s.finalizedBlockNumber {
		if ancestor, ok := s.chain.findByHash(cursor.ParentHash); ok {
			s.chain.truncateToHash(ancestor.Hash)

			if err := s.store.DeleteRealtimeData(ctx, ancestor.Number+1); err != nil {
				return fmt.Errorf("failed to delete realtime data from block %d: %w", ancestor.Number+1, err)
			}

			s.queue.Clear()
			for _, block := range canonicalChain {
				block := block
				s.queue.AddTask(queue.Task{BlockNumber: block.Number, Run: s.taskFor(block)})
			}

			if err := s.fetchLatestAndEnqueue(ctx); err != nil {
				return err
			}

			metrics.ReorgDetectedInc(s.networkLabel(), "shallow")
			metrics.ReorgDepthLog(s.networkLabel(), int(depth))
			s.emit(ShallowReorg{CommonAncestorTimestamp: ancestor.Timestamp})
			return nil
		}

		parentGeth, err := s.rpc.GetBlockByHash(ctx, cursor.ParentHash, true)
		if err != nil {
			return fmt.Errorf("failed to fetch parent block %s during reorg reconciliation: %w", cursor.ParentHash.Hex(), err)
		}
		parent := chaintypes.FromGethBlock(parentGeth, s.network.ChainID)

		canonicalChain = append([]chaintypes.Block{parent}, canonicalChain...)
		cursor = parent.Light()
		depth++
	}

	metrics.ReorgDetectedInc(s.networkLabel(), "deep")
	metrics.ReorgDepthLog(s.networkLabel(), int(depth))
	s.emit(DeepReorg{DetectedAtBlockNumber: b.Number, MinimumDepth: depth})
	return nil
}

// fetchLatestAndEnqueue issues one extra latest-block fetch after a
// reconciled reorg, so the caught-up chain doesn't sit idle until the next
// poll tick.
func (s *Service) fetchLatestAndEnqueue(ctx context.Context) error {
	latest, err := s.rpc.GetBlockByNumber(ctx, "latest", true)
	if err != nil {
		return fmt.Errorf("failed to fetch latest block after reorg: %w", err)
	}
	block := chaintypes.FromGethBlock(latest, s.network.ChainID)
	s.queue.AddTask(queue.Task{BlockNumber: block.Number, Run: s.taskFor(block)})
	return nil
}

func (s *Service) emit(e Event) {
	select {
	case s.events <- e:
	default:
		s.log.Warnf("event channel full, dropping %T", e)
	}
}
