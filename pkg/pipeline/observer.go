package pipeline

import "time"

// Observer receives the pipeline's observability signals.
//
// The core deliberately does not depend on a metrics backend; callers plug
// in an implementation (the repo ships a Prometheus one in
// internal/metrics). All methods are called from hot paths and must be
// cheap and safe for concurrent use.
type Observer interface {
	// ObserveLatency is sampled at the START of terminal processing with
	// now - event.CreatedAt.
	ObserveLatency(d time.Duration)

	// DuplicateDropped is called once per event dropped by the dedup filter.
	DuplicateDropped()

	// DedupCacheSize reports the current number of live entries in the
	// seen-UUID table. Called on insert and after each reaper sweep.
	DedupCacheSize(n int)

	// QueueDepth reports one shard's current queue depth.
	QueueDepth(shard int, depth int)

	// QueueDepthMean reports the mean depth across all shards.
	QueueDepthMean(mean float64)

	// TaskSubmitted / TaskCompleted / TaskDropped count dispatcher work.
	// TaskDropped only fires for bounded queues with drop-newest overflow.
	TaskSubmitted()
	TaskCompleted()
	TaskDropped()

	// DownstreamFailure is called when the terminal consumer returns an
	// error or panics. The worker continues with the next task.
	DownstreamFailure(shard int)

	// GuardViolation is called when the concurrency guard observes
	// overlapping processing for one ClientID.
	GuardViolation(clientID int64)
}

// NopObserver discards all signals. It is the default when no observer is
// configured and the zero-cost baseline for benchmarks.
type NopObserver struct{}

func (NopObserver) ObserveLatency(time.Duration) {}
func (NopObserver) DuplicateDropped()            {}
func (NopObserver) DedupCacheSize(int)           {}
func (NopObserver) QueueDepth(int, int)          {}
func (NopObserver) QueueDepthMean(float64)       {}
func (NopObserver) TaskSubmitted()               {}
func (NopObserver) TaskCompleted()               {}
func (NopObserver) TaskDropped()                 {}
func (NopObserver) DownstreamFailure(int)        {}
func (NopObserver) GuardViolation(int64)         {}
