package pipeline

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// GuardPolicy selects how the concurrency guard treats a contended client.
type GuardPolicy string

const (
	// GuardSkip reports the violation and drops the event. This is the
	// default: with the dispatcher upstream, contention is impossible, so
	// any hit is a wiring bug and the event's ordering is already suspect.
	GuardSkip GuardPolicy = "skip"

	// GuardWait reports the violation, then waits up to guardWaitTimeout
	// for the lock and proceeds if it is acquired in time.
	GuardWait GuardPolicy = "wait"
)

// guardWaitTimeout caps the bounded-wait policy.
const guardWaitTimeout = time.Second

// ConcurrencyGuard asserts that processing for one ClientID never overlaps.
//
// It is an oracle, not a correctness mechanism: the dispatcher upstream
// already serializes each client onto one worker, so the per-client lock
// here should never be contended. A contended acquire means the pipeline
// is miswired (or the guard is being used without the dispatcher) and is
// reported through the observer and the log.
//
// Locks are created lazily on first sighting of a ClientID and retained
// for the pipeline lifetime. Each lock is a one-slot semaphore so the
// acquire can be attempted without blocking; the lock is released only
// when acquisition actually succeeded.
type ConcurrencyGuard struct {
	next   Consumer
	policy GuardPolicy
	obs    Observer
	logger zerolog.Logger
	locks  sync.Map // int64 -> *clientLock
}

type clientLock struct {
	sem chan struct{}
}

// NewConcurrencyGuard wraps next with per-client overlap detection.
func NewConcurrencyGuard(next Consumer, policy GuardPolicy, obs Observer, logger zerolog.Logger) *ConcurrencyGuard {
	if policy == "" {
		policy = GuardSkip
	}
	return &ConcurrencyGuard{
		next:   next,
		policy: policy,
		obs:    obs,
		logger: logger.With().Str("stage", "guard").Logger(),
	}
}

// Accept acquires the event's client lock, forwards, and releases. A
// contended lock is a detected violation: reported, then either skipped or
// waited for per the configured policy. Never returns an error for a
// violation - the event is discarded, the pipeline stays up.
func (g *ConcurrencyGuard) Accept(e *Event) error {
	l := g.lockFor(e.ClientID)

	select {
	case l.sem <- struct{}{}:
		defer func() { <-l.sem }()
		return g.next.Accept(e)
	default:
	}

	// Another goroutine is inside the terminal consumer for this client.
	g.obs.GuardViolation(e.ClientID)
	g.logger.Error().
		Int64("client_id", e.ClientID).
		Stringer("event_id", e.ID).
		Str("policy", string(g.policy)).
		Msg("Concurrent processing detected for client")

	if g.policy != GuardWait {
		return nil
	}

	timer := time.NewTimer(guardWaitTimeout)
	defer timer.Stop()

	select {
	case l.sem <- struct{}{}:
		defer func() { <-l.sem }()
		return g.next.Accept(e)
	case <-timer.C:
		g.logger.Error().
			Int64("client_id", e.ClientID).
			Stringer("event_id", e.ID).
			Dur("waited", guardWaitTimeout).
			Msg("Client lock not released within wait budget - event discarded")
		return nil
	}
}

// lockFor returns the client's lock, creating it atomically on first use.
func (g *ConcurrencyGuard) lockFor(clientID int64) *clientLock {
	if v, ok := g.locks.Load(clientID); ok {
		return v.(*clientLock)
	}
	v, _ := g.locks.LoadOrStore(clientID, &clientLock{sem: make(chan struct{}, 1)})
	return v.(*clientLock)
}
