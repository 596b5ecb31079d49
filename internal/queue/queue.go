// Package queue drains block-sync tasks in block-number order through a
// single worker, so that a burst of newly discovered blocks (a head jump,
// a gap fill, a reorg replay) is always processed lowest-number-first
// regardless of discovery order.
package queue

import (
	"context"
	"math"
	"sync"

	"github.com/ethereum/go-ethereum/common/prque"

	"github.com/evmindex/realtime-sync-core/internal/logger"
	"github.com/evmindex/realtime-sync-core/internal/metrics"
)

// Task is a unit of work keyed by the block number it concerns. Lower
// block numbers are always drained before higher ones.
type Task struct {
	BlockNumber uint64
	Run         func(ctx context.Context) error
}

// Queue drains Tasks in ascending block-number order on a single background
// goroutine, so the realtime sync service never processes two blocks
// concurrently and never processes them out of order.
type Queue struct {
	log *logger.Logger

	mu      sync.Mutex
	pq      *prque.Prque[int64, Task]
	idle    bool
	paused  bool
	started bool

	wake chan struct{}

	workerCtx    context.Context
	workerCancel context.CancelFunc
	workerWg     sync.WaitGroup

	onIdle  func()
	onError func(task Task, err error)
}

// New creates a Queue. log is tagged with the "queue" component.
func New(log *logger.Logger) *Queue {
	return &Queue{
		log:  log.WithComponent("queue"),
		pq:   prque.New[int64, Task](nil),
		idle: true,
		wake: make(chan struct{}, 1),
	}
}

// OnIdle registers a callback invoked whenever the queue transitions from
// non-empty to empty. Only one callback may be registered at a time.
func (q *Queue) OnIdle(fn func()) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.onIdle = fn
}

// OnError registers a callback invoked whenever a task's Run returns an
// error. The worker continues draining subsequent tasks regardless.
func (q *Queue) OnError(fn func(task Task, err error)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.onError = fn
}

// Start launches the background worker. Calling Start twice is a no-op.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	if q.started {
		q.mu.Unlock()
		return
	}
	q.started = true
	q.workerCtx, q.workerCancel = context.WithCancel(ctx)
	q.mu.Unlock()

	q.workerWg.Add(1)
	go q.run()
}

// Stop cancels the background worker and waits for it to exit.
func (q *Queue) Stop() {
	q.mu.Lock()
	cancel := q.workerCancel
	q.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	q.workerWg.Wait()
}

// Pause prevents the worker from popping new tasks. Tasks already running
// are allowed to finish. Pausing is one-way: the queue is meant to be
// cleared and stopped afterward, not resumed.
func (q *Queue) Pause() {
	q.mu.Lock()
	q.paused = true
	q.mu.Unlock()
}

// AddTask enqueues t. Priority is MAX - blockNumber, so the worker (which
// pops the highest-priority entry) always drains the lowest pending block
// number first.
func (q *Queue) AddTask(t Task) {
	q.mu.Lock()
	q.pq.Push(t, math.MaxInt64-int64(t.BlockNumber))
	q.idle = false
	size := q.pq.Size()
	q.mu.Unlock()

	metrics.QueueDepthSet(size)
	q.notify()
}

// Clear discards all pending tasks without running them. Used when a reorg
// whose common ancestor was found invalidates everything queued for the
// abandoned fork, and on shutdown.
func (q *Queue) Clear() {
	q.mu.Lock()
	q.pq.Reset()
	q.idle = true
	q.mu.Unlock()

	metrics.QueueDepthSet(0)
}

// Size returns the number of tasks currently pending.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pq.Size()
}

func (q *Queue) notify() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Queue) run() {
	defer q.workerWg.Done()

	for {
		task, ok := q.popNext()
		if !ok {
			select {
			case <-q.workerCtx.Done():
				return
			case <-q.wake:
				continue
			}
		}

		if err := task.Run(q.workerCtx); err != nil {
			metrics.QueueTaskProcessedInc("error")
			q.log.Errorf("task for block %d failed: %v", task.BlockNumber, err)
			q.mu.Lock()
			onError := q.onError
			q.mu.Unlock()
			if onError != nil {
				onError(task, err)
			}
			continue
		}

		metrics.QueueTaskProcessedInc("ok")
	}
}

func (q *Queue) popNext() (Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.paused || q.pq.Empty() {
		return Task{}, false
	}

	task, _ := q.pq.Pop()
	metrics.QueueDepthSet(q.pq.Size())

	if q.pq.Empty() {
		q.idle = true
		onIdle := q.onIdle
		if onIdle != nil {
			go onIdle()
		}
	}

	return task, true
}
