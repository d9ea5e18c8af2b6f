package pipeline

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDedup(t *testing.T, next Consumer, window time.Duration, obs Observer) *DeduplicationFilter {
	t.Helper()
	if obs == nil {
		obs = NopObserver{}
	}
	f := NewDeduplicationFilter(next, window, obs, zerolog.Nop())
	t.Cleanup(f.Close)
	return f
}

func TestDedupForwardsFirstOccurrence(t *testing.T) {
	sink := &collectingConsumer{}
	f := newTestDedup(t, sink, time.Second, nil)

	e := NewEvent(1)
	require.NoError(t, f.Accept(e))

	got := sink.snapshot()
	require.Len(t, got, 1)
	assert.Equal(t, e.ID, got[0].ID)
}

func TestDedupDropsDuplicateWithinWindow(t *testing.T) {
	sink := &collectingConsumer{}
	obs := &recordingObserver{}
	f := newTestDedup(t, sink, time.Second, obs)

	e := NewEvent(1)
	require.NoError(t, f.Accept(e))

	dup := *e
	require.NoError(t, f.Accept(&dup), "duplicate drop is silent, not an error")

	assert.Equal(t, 1, sink.len())
	assert.Equal(t, int64(1), obs.duplicates.Load())
}

func TestDedupReadmitsAfterWindow(t *testing.T) {
	sink := &collectingConsumer{}
	obs := &recordingObserver{}
	f := newTestDedup(t, sink, 30*time.Millisecond, obs)

	e := NewEvent(1)
	require.NoError(t, f.Accept(e))

	time.Sleep(50 * time.Millisecond)

	dup := *e
	require.NoError(t, f.Accept(&dup))

	assert.Equal(t, 2, sink.len(), "an expired ID must be treated as new")
	assert.Equal(t, int64(0), obs.duplicates.Load())
}

func TestDedupExpiryDoesNotRefreshOnLookup(t *testing.T) {
	sink := &collectingConsumer{}
	f := newTestDedup(t, sink, 150*time.Millisecond, nil)

	e := NewEvent(1)
	require.NoError(t, f.Accept(e))

	// Duplicate lookups inside the window must not extend the entry's
	// lifetime: expiry counts from the original insertion.
	for i := 0; i < 3; i++ {
		time.Sleep(25 * time.Millisecond)
		dup := *e
		require.NoError(t, f.Accept(&dup))
	}
	assert.Equal(t, 1, sink.len())

	time.Sleep(100 * time.Millisecond) // past the original insertion + window

	dup := *e
	require.NoError(t, f.Accept(&dup))
	assert.Equal(t, 2, sink.len())
}

func TestDedupConcurrentDuplicatesFirstWins(t *testing.T) {
	sink := &collectingConsumer{}
	obs := &recordingObserver{}
	f := newTestDedup(t, sink, time.Second, obs)

	e := NewEvent(1)

	const producers = 32
	var start, done sync.WaitGroup
	start.Add(1)
	done.Add(producers)
	for i := 0; i < producers; i++ {
		go func() {
			defer done.Done()
			start.Wait()
			dup := *e
			_ = f.Accept(&dup)
		}()
	}
	start.Done()
	done.Wait()

	assert.Equal(t, 1, sink.len(), "exactly one of the racing duplicates may pass")
	assert.Equal(t, int64(producers-1), obs.duplicates.Load())
}

func TestDedupReaperBoundsTable(t *testing.T) {
	sink := &collectingConsumer{}
	f := newTestDedup(t, sink, 20*time.Millisecond, nil)

	for i := 0; i < 500; i++ {
		require.NoError(t, f.Accept(NewEvent(int64(i))))
	}
	require.Equal(t, 500, f.Size())

	// The reaper runs every second; all entries are long expired by then.
	ok := waitFor(3*time.Second, func() bool { return f.Size() == 0 })
	assert.True(t, ok, "reaper should remove expired entries, size=%d", f.Size())
}

func TestDedupDistinctIDsNeverCollide(t *testing.T) {
	sink := &collectingConsumer{}
	f := newTestDedup(t, sink, time.Second, nil)

	const n = 1000
	for i := 0; i < n; i++ {
		require.NoError(t, f.Accept(NewEvent(1)))
	}
	assert.Equal(t, n, sink.len())
}

func TestDedupShardSpread(t *testing.T) {
	// Sanity check on the shard function: random UUIDs should land on
	// every shard eventually.
	hit := make(map[byte]bool)
	for i := 0; i < 4096; i++ {
		id := uuid.New()
		hit[id[0]&(dedupShardCount-1)] = true
	}
	assert.Len(t, hit, dedupShardCount)
}
