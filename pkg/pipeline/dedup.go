package pipeline

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// dedupShardCount is the number of independent partitions of the seen-UUID
// table. Event IDs are random, so the low bits of the first byte spread
// inserts evenly. Must be a power of two.
const dedupShardCount = 16

// reapInterval is how often the background reaper sweeps expired entries.
// At 1,000 events/s and a 10s window the table holds ~10,000 entries, so a
// 1s sweep keeps the overshoot under ~10%.
const reapInterval = time.Second

// DeduplicationFilter drops events whose ID was seen within the configured
// window and forwards the rest downstream synchronously, in the caller's
// goroutine.
//
// Design:
//   - Sharded hash table: each shard is a mutex + map[uuid.UUID]time.Time.
//     Sharding keeps producer goroutines from serializing on one lock.
//   - A single reaper goroutine sweeps all shards every reapInterval and
//     deletes entries older than the window. The table is bounded by the
//     TTL, not by insertion count.
//   - Insert-if-absent is atomic per ID: when two duplicates race, exactly
//     one wins. An entry's lifetime is measured from its insertion and is
//     never refreshed by later lookups (sliding-expiry semantics).
//
// Expiry is measured against arrival time at this stage, not
// Event.CreatedAt.
type DeduplicationFilter struct {
	next   Consumer
	window time.Duration
	obs    Observer
	logger zerolog.Logger

	shards [dedupShardCount]dedupShard
	size   atomic.Int64 // live entries across all shards

	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

type dedupShard struct {
	mu   sync.Mutex
	seen map[uuid.UUID]time.Time
}

// NewDeduplicationFilter creates the filter and starts its reaper.
// Call Close to stop the reaper when the pipeline shuts down.
func NewDeduplicationFilter(next Consumer, window time.Duration, obs Observer, logger zerolog.Logger) *DeduplicationFilter {
	f := &DeduplicationFilter{
		next:   next,
		window: window,
		obs:    obs,
		logger: logger.With().Str("stage", "dedup").Logger(),
		done:   make(chan struct{}),
	}
	for i := range f.shards {
		f.shards[i].seen = make(map[uuid.UUID]time.Time)
	}

	f.wg.Add(1)
	go f.reapLoop()

	return f
}

// Accept records the event's ID and forwards the event, or drops it if the
// ID was recorded within the window. Duplicates are not errors: Accept
// returns nil and the drop is visible through the observer.
func (f *DeduplicationFilter) Accept(e *Event) error {
	if !f.putIfAbsent(e.ID, time.Now()) {
		f.obs.DuplicateDropped()
		f.logger.Debug().
			Stringer("event_id", e.ID).
			Int64("client_id", e.ClientID).
			Msg("Duplicate dropped")
		return nil
	}
	f.obs.DedupCacheSize(int(f.size.Load()))
	return f.next.Accept(e)
}

// putIfAbsent returns true if the ID was inserted (not present, or present
// but expired). An expired entry is overwritten with the new arrival time.
func (f *DeduplicationFilter) putIfAbsent(id uuid.UUID, now time.Time) bool {
	s := &f.shards[id[0]&(dedupShardCount-1)]

	s.mu.Lock()
	defer s.mu.Unlock()

	if inserted, ok := s.seen[id]; ok {
		if now.Sub(inserted) <= f.window {
			return false
		}
		// Expired entry: treat as new. Overwrite, size unchanged.
		s.seen[id] = now
		return true
	}

	s.seen[id] = now
	f.size.Add(1)
	return true
}

// Size returns the current number of live entries in the table.
func (f *DeduplicationFilter) Size() int {
	return int(f.size.Load())
}

// reapLoop sweeps expired entries until Close.
func (f *DeduplicationFilter) reapLoop() {
	defer f.wg.Done()

	ticker := time.NewTicker(reapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			f.reap(time.Now())
		case <-f.done:
			return
		}
	}
}

// reap removes entries older than the window. Each shard is locked briefly
// on its own so producers are never blocked behind a full-table sweep.
func (f *DeduplicationFilter) reap(now time.Time) {
	var removed int64

	for i := range f.shards {
		s := &f.shards[i]
		s.mu.Lock()
		for id, inserted := range s.seen {
			if now.Sub(inserted) > f.window {
				delete(s.seen, id)
				removed++
			}
		}
		s.mu.Unlock()
	}

	if removed > 0 {
		f.size.Add(-removed)
	}
	f.obs.DedupCacheSize(int(f.size.Load()))
}

// Close stops the reaper. Accept remains usable afterwards (entries simply
// stop expiring); the owning Pipeline gates late submissions itself.
func (f *DeduplicationFilter) Close() {
	f.closeOnce.Do(func() {
		close(f.done)
		f.wg.Wait()
	})
}
