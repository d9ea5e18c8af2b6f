package pipeline

import (
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGuardPassesThroughUncontended(t *testing.T) {
	sink := &collectingConsumer{}
	obs := &recordingObserver{}
	g := NewConcurrencyGuard(sink, GuardSkip, obs, zerolog.Nop())

	for i := 0; i < 100; i++ {
		require.NoError(t, g.Accept(NewEvent(int64(i%5))))
	}

	assert.Equal(t, 100, sink.len())
	assert.Zero(t, obs.violations.Load())
}

func TestGuardSkipDropsContendedEvent(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	slow := ConsumerFunc(func(e *Event) error {
		close(entered)
		<-release
		return nil
	})

	obs := &recordingObserver{}
	g := NewConcurrencyGuard(slow, GuardSkip, obs, zerolog.Nop())

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = g.Accept(NewEvent(1))
	}()
	<-entered

	// Second event for the same client while the first is in flight: this
	// is exactly the wiring bug the guard exists to catch.
	err := g.Accept(NewEvent(1))
	require.NoError(t, err, "violations are reported, not returned")
	assert.Equal(t, int64(1), obs.violations.Load())

	close(release)
	wg.Wait()
}

func TestGuardDistinctClientsDoNotContend(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	slow := ConsumerFunc(func(e *Event) error {
		if e.ClientID == 1 {
			once.Do(func() { close(entered) })
			<-release
		}
		return nil
	})

	obs := &recordingObserver{}
	g := NewConcurrencyGuard(slow, GuardSkip, obs, zerolog.Nop())

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = g.Accept(NewEvent(1))
	}()
	<-entered

	require.NoError(t, g.Accept(NewEvent(2)))
	assert.Zero(t, obs.violations.Load(), "distinct clients must not contend")

	close(release)
	wg.Wait()
}

func TestGuardWaitProceedsOnceReleased(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var calls sync.Map
	var once sync.Once
	slow := ConsumerFunc(func(e *Event) error {
		calls.Store(e.ID, true)
		once.Do(func() {
			close(entered)
			<-release
		})
		return nil
	})

	obs := &recordingObserver{}
	g := NewConcurrencyGuard(slow, GuardWait, obs, zerolog.Nop())

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = g.Accept(NewEvent(1))
	}()
	<-entered

	// Release the first holder shortly after the second acquire starts
	// waiting; the waiter should then proceed.
	go func() {
		time.Sleep(50 * time.Millisecond)
		close(release)
	}()

	second := NewEvent(1)
	require.NoError(t, g.Accept(second))
	wg.Wait()

	assert.Equal(t, int64(1), obs.violations.Load(), "the overlap is still reported")
	_, processed := calls.Load(second.ID)
	assert.True(t, processed, "waited event should be processed after the lock frees")
}

func TestGuardLockReusedPerClient(t *testing.T) {
	g := NewConcurrencyGuard(&collectingConsumer{}, GuardSkip, NopObserver{}, zerolog.Nop())

	l1 := g.lockFor(7)
	l2 := g.lockFor(7)
	assert.Same(t, l1, l2, "lock table must return the same lock per client")
	assert.NotSame(t, l1, g.lockFor(8))
}

func TestGuardConcurrentLazyCreation(t *testing.T) {
	g := NewConcurrencyGuard(&collectingConsumer{}, GuardSkip, NopObserver{}, zerolog.Nop())

	const goroutines = 32
	locks := make([]*clientLock, goroutines)
	var start, done sync.WaitGroup
	start.Add(1)
	done.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func(i int) {
			defer done.Done()
			start.Wait()
			locks[i] = g.lockFor(99)
		}(i)
	}
	start.Done()
	done.Wait()

	for i := 1; i < goroutines; i++ {
		assert.Same(t, locks[0], locks[i])
	}
}
