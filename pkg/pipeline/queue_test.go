package pipeline

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShardQueueFIFO(t *testing.T) {
	q := newShardQueue(0, "")

	events := make([]*Event, 100)
	for i := range events {
		events[i] = NewEvent(1)
		require.NoError(t, q.push(events[i]))
	}

	for i := range events {
		e, ok := q.pop()
		require.True(t, ok)
		assert.Equal(t, events[i].ID, e.ID, "position %d out of order", i)
	}
}

func TestShardQueueUnboundedNeverBlocks(t *testing.T) {
	q := newShardQueue(0, "")
	for i := 0; i < 10000; i++ {
		require.NoError(t, q.push(NewEvent(1)))
	}
	assert.Equal(t, 10000, q.len())
}

func TestShardQueueDropNewestWhenFull(t *testing.T) {
	q := newShardQueue(2, OverflowDropNewest)

	require.NoError(t, q.push(NewEvent(1)))
	require.NoError(t, q.push(NewEvent(1)))

	err := q.push(NewEvent(1))
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.Equal(t, 2, q.len(), "rejected event must not be enqueued")
}

func TestShardQueueBlockWaitsForRoom(t *testing.T) {
	q := newShardQueue(1, OverflowBlock)
	require.NoError(t, q.push(NewEvent(1)))

	pushed := make(chan error, 1)
	go func() {
		pushed <- q.push(NewEvent(1))
	}()

	select {
	case <-pushed:
		t.Fatal("push should block while the queue is full")
	case <-time.After(30 * time.Millisecond):
	}

	_, ok := q.pop()
	require.True(t, ok)

	select {
	case err := <-pushed:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("push should complete once the worker made room")
	}
}

func TestShardQueueCloseDrainsRemaining(t *testing.T) {
	q := newShardQueue(0, "")
	for i := 0; i < 5; i++ {
		require.NoError(t, q.push(NewEvent(1)))
	}

	q.close()

	assert.ErrorIs(t, q.push(NewEvent(1)), ErrShutdown)

	// Remaining events still come out in order before the queue runs dry.
	for i := 0; i < 5; i++ {
		_, ok := q.pop()
		require.True(t, ok, "event %d should survive close", i)
	}
	_, ok := q.pop()
	assert.False(t, ok)
}

func TestShardQueueCloseWakesBlockedProducer(t *testing.T) {
	q := newShardQueue(1, OverflowBlock)
	require.NoError(t, q.push(NewEvent(1)))

	var wg sync.WaitGroup
	wg.Add(1)
	errCh := make(chan error, 1)
	go func() {
		defer wg.Done()
		errCh <- q.push(NewEvent(1))
	}()

	time.Sleep(20 * time.Millisecond)
	q.close()
	wg.Wait()

	assert.ErrorIs(t, <-errCh, ErrShutdown)
}

func TestShardQueuePopWaitsForPush(t *testing.T) {
	q := newShardQueue(0, "")

	got := make(chan *Event, 1)
	go func() {
		e, ok := q.pop()
		if ok {
			got <- e
		}
	}()

	time.Sleep(20 * time.Millisecond)
	e := NewEvent(7)
	require.NoError(t, q.push(e))

	select {
	case popped := <-got:
		assert.Equal(t, e.ID, popped.ID)
	case <-time.After(time.Second):
		t.Fatal("pop did not wake on push")
	}
}
