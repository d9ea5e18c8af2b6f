package pipeline

import (
	"time"

	"github.com/google/uuid"
)

// Event is the unit of work flowing through the pipeline.
//
// Events are immutable once produced: stages pass the same pointer down the
// chain and never modify the fields. Duplicate occurrences of the same
// logical event carry the same ID by definition; the deduplication stage
// keys on it.
//
// ClientID is the routing and ordering key. All events sharing a ClientID
// are processed strictly sequentially, in the order the producer submitted
// them. Events with distinct ClientIDs may be processed in parallel.
type Event struct {
	// ID uniquely identifies this event occurrence.
	ID uuid.UUID `json:"id"`

	// ClientID is the aggregate key. Cardinality is large; a handful of
	// events per second per id is the typical shape.
	ClientID int64 `json:"client_id"`

	// CreatedAt is stamped by the producer. It is the reference point for
	// end-to-end latency measurement. Dedup expiry does NOT use it - that
	// is measured from arrival at the filter.
	CreatedAt time.Time `json:"created_at"`
}

// NewEvent creates an event with a fresh random ID, stamped now.
// Intended for producers and tests; consumed events come off the wire.
func NewEvent(clientID int64) *Event {
	return &Event{
		ID:        uuid.New(),
		ClientID:  clientID,
		CreatedAt: time.Now(),
	}
}
