package pipeline

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// DefaultDedupWindow is the deduplication window applied when the config
// leaves it zero.
const DefaultDedupWindow = 10 * time.Second

// Config holds pipeline construction parameters.
type Config struct {
	// Workers is the shard/worker count. Required, no default: the
	// operator must size it so Workers * (1/service_time) exceeds the
	// arrival rate (e.g. >= 10 for 1,000 events/s at 10ms, ~20 in
	// practice).
	Workers int

	// DedupWindow is the sliding interval inside which a repeated event ID
	// is dropped. Defaults to DefaultDedupWindow.
	DedupWindow time.Duration

	// GuardEnabled inserts the ConcurrencyGuard between the dispatcher and
	// the terminal consumer. Off by default in production wiring.
	GuardEnabled bool

	// GuardPolicy applies when GuardEnabled. Defaults to GuardSkip.
	GuardPolicy GuardPolicy

	// QueueBound caps each shard queue. 0 (the default) means unbounded.
	QueueBound int

	// OverflowPolicy applies when QueueBound > 0. Defaults to
	// OverflowBlock.
	OverflowPolicy OverflowPolicy
}

func (c *Config) validate() error {
	if c.Workers < 1 {
		return fmt.Errorf("pipeline: Workers must be >= 1, got %d", c.Workers)
	}
	if c.DedupWindow < 0 {
		return fmt.Errorf("pipeline: DedupWindow must be positive, got %v", c.DedupWindow)
	}
	if c.QueueBound < 0 {
		return fmt.Errorf("pipeline: QueueBound must be >= 0, got %d", c.QueueBound)
	}
	if c.QueueBound > 0 {
		switch c.OverflowPolicy {
		case "", OverflowBlock, OverflowDropNewest:
		default:
			return fmt.Errorf("pipeline: unknown overflow policy %q", c.OverflowPolicy)
		}
	}
	switch c.GuardPolicy {
	case "", GuardSkip, GuardWait:
	default:
		return fmt.Errorf("pipeline: unknown guard policy %q", c.GuardPolicy)
	}
	return nil
}

// Pipeline is the assembled chain: dedup filter -> sharded dispatcher ->
// optional concurrency guard -> terminal consumer. Accept on the Pipeline
// is the single entry point producers are wired to.
type Pipeline struct {
	head       Consumer
	dedup      *DeduplicationFilter
	dispatcher *ShardedDispatcher
	logger     zerolog.Logger
	closed     atomic.Bool
}

// New assembles a pipeline around the supplied terminal consumer.
//
// The chain is built outside-in: terminal first, then each decorating
// stage. obs may be nil, in which case all signals are discarded.
func New(cfg Config, terminal Processor, logger zerolog.Logger, obs Observer) (*Pipeline, error) {
	if terminal == nil {
		return nil, fmt.Errorf("pipeline: terminal consumer is required")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if obs == nil {
		obs = NopObserver{}
	}
	if cfg.DedupWindow == 0 {
		cfg.DedupWindow = DefaultDedupWindow
	}
	if cfg.QueueBound > 0 && cfg.OverflowPolicy == "" {
		cfg.OverflowPolicy = OverflowBlock
	}

	var tail Consumer = &terminalStage{terminal: terminal, obs: obs}
	if cfg.GuardEnabled {
		tail = NewConcurrencyGuard(tail, cfg.GuardPolicy, obs, logger)
	}

	dispatcher := NewShardedDispatcher(tail, cfg.Workers, cfg.QueueBound, cfg.OverflowPolicy, obs, logger)
	dedup := NewDeduplicationFilter(dispatcher, cfg.DedupWindow, obs, logger)

	logger.Info().
		Int("workers", cfg.Workers).
		Dur("dedup_window", cfg.DedupWindow).
		Bool("guard_enabled", cfg.GuardEnabled).
		Int("queue_bound", cfg.QueueBound).
		Msg("Pipeline assembled")

	return &Pipeline{
		head:       dedup,
		dedup:      dedup,
		dispatcher: dispatcher,
		logger:     logger,
	}, nil
}

// Accept feeds one event into the head of the chain. Called from producer
// goroutines; returns quickly - downstream work happens on shard workers.
// Fails with ErrShutdown after Close.
func (p *Pipeline) Accept(e *Event) error {
	if p.closed.Load() {
		return ErrShutdown
	}
	return p.head.Accept(e)
}

// DedupCacheSize exposes the current seen-ID table size, for health
// reporting.
func (p *Pipeline) DedupCacheSize() int { return p.dedup.Size() }

// QueueDepths exposes a snapshot of per-shard backlogs, for health
// reporting.
func (p *Pipeline) QueueDepths() []int { return p.dispatcher.QueueDepths() }

// Close stops accepting new events, drains every shard queue to
// completion, joins all workers, and stops the dedup reaper. Blocks until
// the drain finishes. Idempotent.
func (p *Pipeline) Close() {
	if !p.closed.CompareAndSwap(false, true) {
		return
	}
	p.logger.Info().Msg("Pipeline closing, draining shard queues")
	p.dispatcher.Close()
	p.dedup.Close()
	p.logger.Info().Msg("Pipeline closed")
}

// terminalStage adapts the user-supplied Processor to the stage contract
// and samples end-to-end latency at the start of processing.
type terminalStage struct {
	terminal Processor
	obs      Observer
}

func (t *terminalStage) Accept(e *Event) error {
	t.obs.ObserveLatency(time.Since(e.CreatedAt))
	_, err := t.terminal.Process(e)
	return err
}
