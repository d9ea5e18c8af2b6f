package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/adred-codev/odin-pipeline/pkg/pipeline"
)

// logSink is the default terminal consumer: optionally simulates per-event
// service time, then debug-logs the event. Useful for load testing the
// pipeline itself without real downstream work.
type logSink struct {
	logger      zerolog.Logger
	serviceTime time.Duration
}

func (s *logSink) Process(e *pipeline.Event) (*pipeline.Event, error) {
	if s.serviceTime > 0 {
		time.Sleep(s.serviceTime)
	}
	s.logger.Debug().
		Stringer("event_id", e.ID).
		Int64("client_id", e.ClientID).
		Dur("age", time.Since(e.CreatedAt)).
		Msg("Event processed")
	return e, nil
}

// natsSink republishes processed events to a NATS subject, simulating a
// downstream handoff. Publish failures surface as downstream errors and
// discard only the affected event.
type natsSink struct {
	conn        *nats.Conn
	subject     string
	serviceTime time.Duration
}

func newNATSSink(url, subject string, serviceTime time.Duration) (*natsSink, error) {
	conn, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect sink to NATS: %w", err)
	}
	return &natsSink{conn: conn, subject: subject, serviceTime: serviceTime}, nil
}

func (s *natsSink) Process(e *pipeline.Event) (*pipeline.Event, error) {
	if s.serviceTime > 0 {
		time.Sleep(s.serviceTime)
	}
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := s.conn.Publish(s.subject, data); err != nil {
		return nil, fmt.Errorf("failed to publish processed event: %w", err)
	}
	return e, nil
}

func (s *natsSink) Close() {
	s.conn.Close()
}
