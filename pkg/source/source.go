// Package source adapts push-based event producers to the pipeline's entry
// point. Each adapter decodes the shared JSON event envelope and forwards
// survivors to a pipeline.Consumer (normally *pipeline.Pipeline).
//
// Adapters never propagate pipeline errors upstream: ErrShutdown means the
// pipeline is draining and the source should stop; anything else is logged
// and counted against that one event.
package source

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/adred-codev/odin-pipeline/pkg/pipeline"
)

// decodeEvent parses the wire envelope into an Event. Rejects payloads
// missing an ID, since dedup keys on it.
func decodeEvent(data []byte) (*pipeline.Event, error) {
	var e pipeline.Event
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("malformed event payload: %w", err)
	}
	if e.ID == uuid.Nil {
		return nil, fmt.Errorf("event payload missing id")
	}
	return &e, nil
}
