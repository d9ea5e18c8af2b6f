// Package pipeline implements the core event-dispatch chain of the odin
// stream processor: a deduplication filter, a sharded ordered dispatcher,
// and an optional concurrency guard, composed around a user-supplied
// terminal consumer.
//
// Guarantees:
//   - events sharing a ClientID are delivered sequentially, in submission
//     order, each client pinned to one worker goroutine;
//   - events whose ID repeats within the dedup window are dropped;
//   - a terminal-consumer failure affects only that one event;
//   - Close drains every shard queue before returning.
//
// The package owns no metrics backend and no transport: producers push
// events into Pipeline.Accept (see pkg/source for adapters) and
// observability flows through the Observer hooks.
package pipeline
