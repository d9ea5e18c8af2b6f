package metrics

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// HealthSource is the slice of pipeline state the health endpoint reports.
type HealthSource interface {
	DedupCacheSize() int
	QueueDepths() []int
}

// Server is the ops HTTP surface: /metrics for Prometheus, /healthz for
// humans and load balancers.
type Server struct {
	httpServer *http.Server
	pipeline   HealthSource
	logger     zerolog.Logger
	startedAt  time.Time
}

type healthResponse struct {
	Status         string  `json:"status"`
	UptimeSeconds  float64 `json:"uptime_seconds"`
	DedupCacheSize int     `json:"dedup_cache_size"`
	QueueDepths    []int   `json:"queue_depths"`
	QueueDepthMean float64 `json:"queue_depth_mean"`
}

// NewServer builds the ops server. Call Start to begin serving.
func NewServer(addr string, pipeline HealthSource, logger zerolog.Logger) *Server {
	s := &Server{
		pipeline:  pipeline,
		logger:    logger.With().Str("component", "ops").Logger(),
		startedAt: time.Now(),
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", s.handleHealth)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return s
}

// Start serves in a background goroutine until Stop.
func (s *Server) Start() {
	go func() {
		s.logger.Info().Str("addr", s.httpServer.Addr).Msg("Ops server listening")
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Ops server failed")
		}
	}()
}

// Stop shuts the ops server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	depths := s.pipeline.QueueDepths()
	var total int
	for _, d := range depths {
		total += d
	}
	var mean float64
	if len(depths) > 0 {
		mean = float64(total) / float64(len(depths))
	}

	resp := healthResponse{
		Status:         "ok",
		UptimeSeconds:  time.Since(s.startedAt).Seconds(),
		DedupCacheSize: s.pipeline.DedupCacheSize(),
		QueueDepths:    depths,
		QueueDepthMean: mean,
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode health response")
	}
}
