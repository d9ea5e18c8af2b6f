package pipeline

import (
	"errors"
	"fmt"
)

// Sentinel errors surfaced to producers.
var (
	// ErrShutdown is returned by Accept after Close has been called.
	// The producer is expected to stop submitting.
	ErrShutdown = errors.New("pipeline: shut down")

	// ErrQueueFull is returned when a bounded shard queue is full and the
	// overflow policy is OverflowDropNewest. The event was not enqueued.
	ErrQueueFull = errors.New("pipeline: shard queue full")
)

// DownstreamError wraps a failure from the terminal consumer. It is never
// returned to the producer - once an event is enqueued, failures are
// handled inside the owning worker - but it is passed to the observer and
// logged with the shard that saw it.
type DownstreamError struct {
	Shard    int
	ClientID int64
	Err      error
}

func (e *DownstreamError) Error() string {
	return fmt.Sprintf("downstream error on shard %d (client %d): %v", e.Shard, e.ClientID, e.Err)
}

func (e *DownstreamError) Unwrap() error { return e.Err }
