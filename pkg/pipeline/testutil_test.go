package pipeline

import (
	"sync"
	"sync/atomic"
	"time"
)

// recordingObserver counts observer signals for assertions.
type recordingObserver struct {
	latencySamples atomic.Int64
	duplicates     atomic.Int64
	submitted      atomic.Int64
	completed      atomic.Int64
	dropped        atomic.Int64
	downstream     atomic.Int64
	violations     atomic.Int64

	mu        sync.Mutex
	cacheSize int
}

func (o *recordingObserver) ObserveLatency(time.Duration) { o.latencySamples.Add(1) }
func (o *recordingObserver) DuplicateDropped()            { o.duplicates.Add(1) }

func (o *recordingObserver) DedupCacheSize(n int) {
	o.mu.Lock()
	o.cacheSize = n
	o.mu.Unlock()
}

func (o *recordingObserver) lastCacheSize() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cacheSize
}

func (o *recordingObserver) QueueDepth(int, int)    {}
func (o *recordingObserver) QueueDepthMean(float64) {}
func (o *recordingObserver) TaskSubmitted()         { o.submitted.Add(1) }
func (o *recordingObserver) TaskCompleted()         { o.completed.Add(1) }
func (o *recordingObserver) TaskDropped()           { o.dropped.Add(1) }
func (o *recordingObserver) DownstreamFailure(int)  { o.downstream.Add(1) }
func (o *recordingObserver) GuardViolation(int64)   { o.violations.Add(1) }

// collectingConsumer records every event it receives, optionally applying
// per-event service time or failures.
type collectingConsumer struct {
	mu     sync.Mutex
	events []*Event

	serviceTime time.Duration
	failEvery   int // fail the Nth, 2Nth, ... calls when > 0
	calls       atomic.Int64
	failErr     error
}

func (c *collectingConsumer) Accept(e *Event) error {
	if c.serviceTime > 0 {
		time.Sleep(c.serviceTime)
	}
	n := c.calls.Add(1)
	if c.failEvery > 0 && n%int64(c.failEvery) == 0 {
		return c.failErr
	}
	c.mu.Lock()
	c.events = append(c.events, e)
	c.mu.Unlock()
	return nil
}

func (c *collectingConsumer) snapshot() []*Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Event, len(c.events))
	copy(out, c.events)
	return out
}

func (c *collectingConsumer) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

// waitFor polls cond until it returns true or the deadline passes.
func waitFor(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(2 * time.Millisecond)
	}
	return cond()
}
