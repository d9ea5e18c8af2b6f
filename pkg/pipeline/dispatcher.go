package pipeline

import (
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Dispatcher states. Running accepts and processes; Draining rejects new
// events but finishes the backlog; Stopped is terminal.
const (
	stateRunning int32 = iota
	stateDraining
	stateStopped
)

// depthSampleInterval is how often queue-depth gauges are refreshed.
const depthSampleInterval = time.Second

// ShardedDispatcher routes each event to a fixed worker derived from its
// ClientID and returns without waiting for downstream work.
//
// Each shard owns one FIFO queue drained by exactly one dedicated worker
// goroutine. Because a ClientID always maps to the same shard, events for
// one client are serialized by construction - no locks on the critical
// path. Distinct ClientIDs that share a shard simply share its worker,
// which costs parallelism for that pair but never correctness.
//
// Sizing: workers must satisfy workers * (1/service_time) >= arrival_rate.
// For 1,000 events/s at ~10ms per event the floor is 10; run ~20 to absorb
// GC pauses and burst arrival. The dispatcher does not auto-tune.
type ShardedDispatcher struct {
	next   Consumer
	queues []*shardQueue
	obs    Observer
	logger zerolog.Logger

	state     atomic.Int32
	wg        sync.WaitGroup // shard workers
	samplerWG sync.WaitGroup
	done      chan struct{}
	closeOnce sync.Once
}

// NewShardedDispatcher starts one worker per shard. queueBound == 0 means
// unbounded queues; a positive bound pairs with the given overflow policy.
func NewShardedDispatcher(next Consumer, workers int, queueBound int, policy OverflowPolicy, obs Observer, logger zerolog.Logger) *ShardedDispatcher {
	d := &ShardedDispatcher{
		next:   next,
		queues: make([]*shardQueue, workers),
		obs:    obs,
		logger: logger.With().Str("stage", "dispatcher").Logger(),
		done:   make(chan struct{}),
	}

	for i := range d.queues {
		d.queues[i] = newShardQueue(queueBound, policy)
		d.wg.Add(1)
		go d.worker(i)
	}

	d.samplerWG.Add(1)
	go d.sampleDepths()

	d.logger.Info().
		Int("workers", workers).
		Int("queue_bound", queueBound).
		Msg("Dispatcher started")

	return d
}

// Accept enqueues the event to the shard owning its ClientID and returns
// immediately. Fails with ErrShutdown after Close, or ErrQueueFull when a
// bounded queue overflows under the drop-newest policy.
func (d *ShardedDispatcher) Accept(e *Event) error {
	if d.state.Load() != stateRunning {
		return ErrShutdown
	}

	shard := d.shardIndex(e.ClientID)
	q := d.queues[shard]

	if err := q.push(e); err != nil {
		if err == ErrQueueFull {
			d.obs.TaskDropped()
		}
		return err
	}

	d.obs.TaskSubmitted()
	return nil
}

// shardIndex maps a ClientID to its fixed shard. Negative ids are folded
// so the result stays in range; the mapping never changes for the lifetime
// of the dispatcher.
func (d *ShardedDispatcher) shardIndex(clientID int64) int {
	idx := clientID % int64(len(d.queues))
	if idx < 0 {
		idx += int64(len(d.queues))
	}
	return int(idx)
}

// worker drains one shard's queue in FIFO order, invoking the downstream
// chain synchronously per event. It exits only when the queue is closed
// and empty.
func (d *ShardedDispatcher) worker(shard int) {
	defer d.wg.Done()

	q := d.queues[shard]
	for {
		e, ok := q.pop()
		if !ok {
			d.logger.Debug().Int("shard", shard).Msg("Worker drained, exiting")
			return
		}
		d.dispatch(shard, e)
		d.obs.TaskCompleted()
	}
}

// dispatch runs one event through the rest of the chain. Downstream errors
// and panics affect only this event: they are reported and the worker
// moves on to the next task.
func (d *ShardedDispatcher) dispatch(shard int, e *Event) {
	defer func() {
		if r := recover(); r != nil {
			d.obs.DownstreamFailure(shard)
			d.logger.Error().
				Int("shard", shard).
				Int64("client_id", e.ClientID).
				Stringer("event_id", e.ID).
				Interface("panic_value", r).
				Str("stack_trace", string(debug.Stack())).
				Msg("Downstream panic recovered - event discarded, worker continues")
		}
	}()

	if err := d.next.Accept(e); err != nil {
		d.obs.DownstreamFailure(shard)
		d.logger.Error().
			Err(&DownstreamError{Shard: shard, ClientID: e.ClientID, Err: err}).
			Stringer("event_id", e.ID).
			Msg("Downstream error - event discarded")
	}
}

// sampleDepths refreshes per-shard and mean queue-depth gauges until Close.
// A steadily growing mean is the operator signal to raise the worker count.
func (d *ShardedDispatcher) sampleDepths() {
	defer d.samplerWG.Done()

	ticker := time.NewTicker(depthSampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			var total int
			for i, q := range d.queues {
				depth := q.len()
				total += depth
				d.obs.QueueDepth(i, depth)
			}
			d.obs.QueueDepthMean(float64(total) / float64(len(d.queues)))
		case <-d.done:
			return
		}
	}
}

// QueueDepths returns a snapshot of every shard's current backlog.
func (d *ShardedDispatcher) QueueDepths() []int {
	depths := make([]int, len(d.queues))
	for i, q := range d.queues {
		depths[i] = q.len()
	}
	return depths
}

// Close stops accepting new events, drains every shard's remaining queue
// to completion, and joins all workers. Blocks until the drain finishes.
// Safe to call more than once.
func (d *ShardedDispatcher) Close() {
	d.closeOnce.Do(func() {
		d.state.Store(stateDraining)
		for _, q := range d.queues {
			q.close()
		}
		d.wg.Wait()
		d.state.Store(stateStopped)

		close(d.done)
		d.samplerWG.Wait()

		d.logger.Info().Msg("Dispatcher stopped")
	})
}
