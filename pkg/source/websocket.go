package source

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/rs/zerolog"

	"github.com/adred-codev/odin-pipeline/internal/metrics"
	"github.com/adred-codev/odin-pipeline/pkg/pipeline"
)

const sourceNameWebSocket = "websocket"

// WebSocketSource dials a push feed and forwards every data frame into the
// pipeline head. The feed is treated as fire-and-forget: there is no
// subscription protocol, the server pushes event envelopes as soon as the
// socket is up.
//
// Disconnects are retried forever with exponential backoff; the backoff
// resets after each successful dial.
type WebSocketSource struct {
	url    string
	head   pipeline.Consumer
	logger zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu   sync.Mutex
	conn net.Conn
}

// NewWebSocketSource prepares the source. Dialing starts on Start.
func NewWebSocketSource(feedURL string, head pipeline.Consumer, logger zerolog.Logger) *WebSocketSource {
	ctx, cancel := context.WithCancel(context.Background())
	return &WebSocketSource{
		url:    feedURL,
		head:   head,
		logger: logger.With().Str("component", "websocket_source").Logger(),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start launches the dial/read loop.
func (s *WebSocketSource) Start() error {
	s.wg.Add(1)
	go s.run()
	s.logger.Info().Str("url", s.url).Msg("WebSocket source started")
	return nil
}

// Stop tears down the connection and waits for the read loop to exit.
func (s *WebSocketSource) Stop() {
	s.cancel()
	s.mu.Lock()
	if s.conn != nil {
		s.conn.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
	s.logger.Info().Msg("WebSocket source stopped")
}

func (s *WebSocketSource) run() {
	defer s.wg.Done()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0 // retry forever

	for {
		if s.ctx.Err() != nil {
			return
		}

		conn, _, _, err := ws.DefaultDialer.Dial(s.ctx, s.url)
		if err != nil {
			wait := b.NextBackOff()
			s.logger.Warn().Err(err).Dur("retry_in", wait).Msg("Feed dial failed")
			select {
			case <-time.After(wait):
				continue
			case <-s.ctx.Done():
				return
			}
		}

		b.Reset()
		s.mu.Lock()
		s.conn = conn
		s.mu.Unlock()
		s.logger.Info().Str("url", s.url).Msg("Feed connected")

		if stopped := s.readLoop(conn); stopped {
			return
		}
	}
}

// readLoop pumps frames until the connection drops or Stop is called.
// Returns true when the source should exit rather than redial.
func (s *WebSocketSource) readLoop(conn net.Conn) bool {
	defer conn.Close()

	for {
		data, op, err := wsutil.ReadServerData(conn)
		if err != nil {
			if s.ctx.Err() != nil {
				return true
			}
			s.logger.Warn().Err(err).Msg("Feed read failed, reconnecting")
			return false
		}
		if op != ws.OpText && op != ws.OpBinary {
			continue
		}

		metrics.IncSourceEvents(sourceNameWebSocket)

		e, decodeErr := decodeEvent(data)
		if decodeErr != nil {
			metrics.IncSourceDecodeFailures(sourceNameWebSocket)
			s.logger.Warn().Err(decodeErr).Msg("Dropping undecodable frame")
			continue
		}

		if acceptErr := s.head.Accept(e); acceptErr != nil {
			metrics.IncSourceRejected(sourceNameWebSocket)
			if errors.Is(acceptErr, pipeline.ErrShutdown) {
				s.logger.Warn().Msg("Pipeline shut down, stopping feed")
				return true
			}
			s.logger.Error().Err(acceptErr).
				Stringer("event_id", e.ID).
				Int64("client_id", e.ClientID).
				Msg("Pipeline rejected event")
		}
	}
}
