package source

import (
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/adred-codev/odin-pipeline/internal/metrics"
	"github.com/adred-codev/odin-pipeline/pkg/pipeline"
)

const sourceNameNATS = "nats"

// NATSSource subscribes to a subject and pushes every decoded event into
// the pipeline head from the NATS delivery goroutine. This is the thin
// push adapter: the head's Accept is non-blocking with respect to
// downstream work, so the subscription callback stays fast.
type NATSSource struct {
	conn    *nats.Conn
	sub     *nats.Subscription
	subject string
	head    pipeline.Consumer
	logger  zerolog.Logger
}

// NATSConfig holds connection parameters.
type NATSConfig struct {
	URL     string
	Subject string
}

// NewNATSSource connects to NATS. Subscription starts on Start.
func NewNATSSource(cfg NATSConfig, head pipeline.Consumer, logger zerolog.Logger) (*NATSSource, error) {
	s := &NATSSource{
		head:   head,
		logger: logger.With().Str("component", "nats_source").Logger(),
	}

	conn, err := nats.Connect(cfg.URL,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.ConnectHandler(func(c *nats.Conn) {
			s.logger.Info().Str("url", c.ConnectedUrl()).Msg("Connected to NATS")
		}),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			s.logger.Warn().Err(err).Msg("Disconnected from NATS")
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			s.logger.Info().Str("url", c.ConnectedUrl()).Msg("Reconnected to NATS")
		}),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			s.logger.Error().Err(err).Msg("NATS error")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	s.conn = conn
	s.subject = cfg.Subject
	return s, nil
}

// Start subscribes and begins feeding the pipeline.
func (s *NATSSource) Start() error {
	sub, err := s.conn.Subscribe(s.subject, s.handleMessage)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %q: %w", s.subject, err)
	}
	s.sub = sub
	s.logger.Info().Str("subject", s.subject).Msg("NATS source started")
	return nil
}

func (s *NATSSource) handleMessage(msg *nats.Msg) {
	metrics.IncSourceEvents(sourceNameNATS)

	e, err := decodeEvent(msg.Data)
	if err != nil {
		metrics.IncSourceDecodeFailures(sourceNameNATS)
		s.logger.Warn().Err(err).Str("subject", msg.Subject).Msg("Dropping undecodable message")
		return
	}

	if err := s.head.Accept(e); err != nil {
		metrics.IncSourceRejected(sourceNameNATS)
		if errors.Is(err, pipeline.ErrShutdown) {
			s.logger.Warn().Msg("Pipeline shut down, event rejected")
			return
		}
		s.logger.Error().Err(err).
			Stringer("event_id", e.ID).
			Int64("client_id", e.ClientID).
			Msg("Pipeline rejected event")
	}
}

// Stop unsubscribes (letting in-flight callbacks finish) and closes the
// connection. Call before Pipeline.Close so the drain sees no new events.
func (s *NATSSource) Stop() {
	if s.sub != nil {
		if err := s.sub.Drain(); err != nil {
			s.logger.Warn().Err(err).Msg("Subscription drain failed")
		}
	}
	s.conn.Close()
	s.logger.Info().Msg("NATS source stopped")
}
