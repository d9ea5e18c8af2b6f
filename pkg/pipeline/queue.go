package pipeline

import (
	"sync"

	"github.com/gammazero/deque"
)

// OverflowPolicy selects what a bounded shard queue does when full.
// Both policies preserve per-client FIFO order: block delays the producer,
// drop-newest rejects the incoming event before it is ever ordered.
type OverflowPolicy string

const (
	// OverflowBlock blocks the producer until the worker makes room.
	OverflowBlock OverflowPolicy = "block"

	// OverflowDropNewest rejects the incoming event with ErrQueueFull.
	OverflowDropNewest OverflowPolicy = "drop_newest"
)

// shardQueue is the multi-producer/single-consumer FIFO behind one shard
// worker. Unbounded by default (bound == 0); optionally bounded with an
// explicit overflow policy.
//
// A mutex + condvar around a growable ring keeps the queue unbounded
// without producers ever blocking on capacity, which a plain buffered
// channel cannot do.
type shardQueue struct {
	mu       sync.Mutex
	notEmpty sync.Cond
	notFull  sync.Cond
	items    deque.Deque[*Event]
	bound    int // 0 = unbounded
	policy   OverflowPolicy
	draining bool
}

func newShardQueue(bound int, policy OverflowPolicy) *shardQueue {
	q := &shardQueue{bound: bound, policy: policy}
	q.notEmpty.L = &q.mu
	q.notFull.L = &q.mu
	return q
}

// push enqueues an event. Returns ErrShutdown once the queue is draining,
// or ErrQueueFull when bounded with drop-newest and at capacity.
func (q *shardQueue) push(e *Event) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.draining {
		return ErrShutdown
	}

	if q.bound > 0 && q.items.Len() >= q.bound {
		if q.policy == OverflowDropNewest {
			return ErrQueueFull
		}
		for q.items.Len() >= q.bound && !q.draining {
			q.notFull.Wait()
		}
		if q.draining {
			return ErrShutdown
		}
	}

	q.items.PushBack(e)
	q.notEmpty.Signal()
	return nil
}

// pop blocks until an event is available or the queue is drained empty.
// The second return is false only when the queue is closed AND empty:
// draining still hands out remaining events in FIFO order.
func (q *shardQueue) pop() (*Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.items.Len() == 0 && !q.draining {
		q.notEmpty.Wait()
	}
	if q.items.Len() == 0 {
		return nil, false
	}

	e := q.items.PopFront()
	q.notFull.Signal()
	return e, true
}

// close flips the queue to draining: pushes fail, pops run dry.
func (q *shardQueue) close() {
	q.mu.Lock()
	q.draining = true
	q.mu.Unlock()
	q.notEmpty.Broadcast()
	q.notFull.Broadcast()
}

func (q *shardQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}
