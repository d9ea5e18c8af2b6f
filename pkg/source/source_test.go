package source

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adred-codev/odin-pipeline/pkg/pipeline"
)

func TestDecodeEventRoundTrip(t *testing.T) {
	want := &pipeline.Event{
		ID:        uuid.New(),
		ClientID:  1234,
		CreatedAt: time.Now().UTC().Truncate(time.Millisecond),
	}
	data, err := json.Marshal(want)
	require.NoError(t, err)

	got, err := decodeEvent(data)
	require.NoError(t, err)
	assert.Equal(t, want.ID, got.ID)
	assert.Equal(t, want.ClientID, got.ClientID)
	assert.True(t, want.CreatedAt.Equal(got.CreatedAt))
}

func TestDecodeEventRejectsGarbage(t *testing.T) {
	_, err := decodeEvent([]byte("not json"))
	assert.Error(t, err)
}

func TestDecodeEventRejectsMissingID(t *testing.T) {
	_, err := decodeEvent([]byte(`{"client_id":7,"created_at":"2026-08-25T12:00:00Z"}`))
	assert.Error(t, err, "dedup keys on the ID, so an event without one is unusable")
}

func TestDecodeEventRejectsMalformedID(t *testing.T) {
	_, err := decodeEvent([]byte(`{"id":"nope","client_id":7}`))
	assert.Error(t, err)
}

func TestSyntheticSourceFeedsPipeline(t *testing.T) {
	received := make(chan *pipeline.Event, 256)
	head := pipeline.ConsumerFunc(func(e *pipeline.Event) error {
		received <- e
		return nil
	})

	src := NewSyntheticSource(SyntheticConfig{Rate: 500, Clients: 10}, head, testLogger())
	require.NoError(t, src.Start())
	defer src.Stop()

	deadline := time.After(2 * time.Second)
	for i := 0; i < 20; i++ {
		select {
		case e := <-received:
			assert.NotEqual(t, uuid.Nil, e.ID)
			assert.GreaterOrEqual(t, e.ClientID, int64(0))
			assert.Less(t, e.ClientID, int64(10))
		case <-deadline:
			t.Fatalf("only received %d events before deadline", i)
		}
	}
}

func TestSyntheticSourceEmitsDuplicates(t *testing.T) {
	seen := make(map[uuid.UUID]int)
	done := make(chan struct{})
	var total int
	head := pipeline.ConsumerFunc(func(e *pipeline.Event) error {
		select {
		case <-done:
			return nil
		default:
		}
		seen[e.ID]++
		total++
		if total == 200 {
			close(done)
		}
		return nil
	})

	src := NewSyntheticSource(SyntheticConfig{Rate: 2000, Clients: 5, DuplicateRatio: 0.5}, head, testLogger())
	require.NoError(t, src.Start())
	defer src.Stop()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("generator too slow")
	}

	var dups int
	for _, n := range seen {
		if n > 1 {
			dups++
		}
	}
	assert.Greater(t, dups, 0, "expected some repeated IDs at 50% duplicate ratio")
}
