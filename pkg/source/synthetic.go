package source

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/adred-codev/odin-pipeline/internal/metrics"
	"github.com/adred-codev/odin-pipeline/pkg/pipeline"
)

const sourceNameSynthetic = "synthetic"

// SyntheticSource generates events locally at a fixed rate, for load tests
// and for running the service without any broker. Client ids are drawn
// uniformly from [0, Clients); an optional fraction of submissions reuses
// the previous event's ID to exercise deduplication.
type SyntheticSource struct {
	cfg    SyntheticConfig
	head   pipeline.Consumer
	logger zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// SyntheticConfig holds generator parameters.
type SyntheticConfig struct {
	Rate           int     // events per second
	Clients        int     // distinct client id count
	DuplicateRatio float64 // 0..1 fraction of events re-submitted with a seen ID
}

// NewSyntheticSource prepares the generator. Emission starts on Start.
func NewSyntheticSource(cfg SyntheticConfig, head pipeline.Consumer, logger zerolog.Logger) *SyntheticSource {
	ctx, cancel := context.WithCancel(context.Background())
	return &SyntheticSource{
		cfg:    cfg,
		head:   head,
		logger: logger.With().Str("component", "synthetic_source").Logger(),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start launches the generator goroutine.
func (s *SyntheticSource) Start() error {
	s.wg.Add(1)
	go s.run()
	s.logger.Info().
		Int("rate", s.cfg.Rate).
		Int("clients", s.cfg.Clients).
		Float64("duplicate_ratio", s.cfg.DuplicateRatio).
		Msg("Synthetic source started")
	return nil
}

// Stop halts generation and waits for the goroutine.
func (s *SyntheticSource) Stop() {
	s.cancel()
	s.wg.Wait()
	s.logger.Info().Msg("Synthetic source stopped")
}

func (s *SyntheticSource) run() {
	defer s.wg.Done()

	limiter := rate.NewLimiter(rate.Limit(s.cfg.Rate), s.cfg.Rate/10+1)
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	var last *pipeline.Event

	for {
		if err := limiter.Wait(s.ctx); err != nil {
			return
		}

		var e *pipeline.Event
		if last != nil && s.cfg.DuplicateRatio > 0 && rng.Float64() < s.cfg.DuplicateRatio {
			// Re-submit the previous occurrence: same ID, same client.
			dup := *last
			e = &dup
		} else {
			e = pipeline.NewEvent(int64(rng.Intn(s.cfg.Clients)))
			last = e
		}

		metrics.IncSourceEvents(sourceNameSynthetic)

		if err := s.head.Accept(e); err != nil {
			metrics.IncSourceRejected(sourceNameSynthetic)
			if errors.Is(err, pipeline.ErrShutdown) {
				s.logger.Warn().Msg("Pipeline shut down, stopping generator")
				return
			}
			s.logger.Error().Err(err).
				Stringer("event_id", e.ID).
				Int64("client_id", e.ClientID).
				Msg("Pipeline rejected event")
		}
	}
}
