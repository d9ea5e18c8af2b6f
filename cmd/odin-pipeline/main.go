package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	_ "go.uber.org/automaxprocs"

	"github.com/adred-codev/odin-pipeline/internal/config"
	"github.com/adred-codev/odin-pipeline/internal/logging"
	"github.com/adred-codev/odin-pipeline/internal/metrics"
	"github.com/adred-codev/odin-pipeline/internal/monitoring"
	"github.com/adred-codev/odin-pipeline/pkg/pipeline"
	"github.com/adred-codev/odin-pipeline/pkg/source"
)

// eventSource is what main needs from any of the source adapters.
type eventSource interface {
	Start() error
	Stop()
}

func main() {
	var (
		debug = flag.Bool("debug", false, "enable debug logging (overrides LOG_LEVEL)")
	)
	flag.Parse()

	// Bootstrap logger so config loading has somewhere to talk.
	bootLogger := logging.New(logging.Config{Level: "info", Format: "json"})

	cfg, err := config.Load(&bootLogger)
	if err != nil {
		bootLogger.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if *debug {
		cfg.LogLevel = "debug"
	}

	logger := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	cfg.LogConfig(logger)
	logger.Info().Int("gomaxprocs", runtime.GOMAXPROCS(0)).Msg("Runtime configured")

	// Terminal consumer.
	var terminal pipeline.Processor
	var sinkCloser func()
	switch cfg.Sink {
	case config.SinkNATS:
		sink, sinkErr := newNATSSink(cfg.NATSURL, cfg.SinkSubject, cfg.ServiceTime)
		if sinkErr != nil {
			logger.Fatal().Err(sinkErr).Msg("Failed to create NATS sink")
		}
		terminal = sink
		sinkCloser = sink.Close
	default:
		terminal = &logSink{logger: logger, serviceTime: cfg.ServiceTime}
	}

	// Core pipeline: dedup -> sharded dispatcher -> terminal.
	p, err := pipeline.New(pipeline.Config{
		Workers:        cfg.Workers,
		DedupWindow:    cfg.DedupWindow,
		GuardEnabled:   cfg.GuardEnabled,
		GuardPolicy:    pipeline.GuardPolicy(cfg.GuardPolicy),
		QueueBound:     cfg.QueueBound,
		OverflowPolicy: pipeline.OverflowPolicy(cfg.OverflowPolicy),
	}, terminal, logger, metrics.Observer{})
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to assemble pipeline")
	}

	// Ops surface and system monitor.
	ops := metrics.NewServer(cfg.OpsAddr, p, logger)
	ops.Start()

	monitor := monitoring.NewSystemMonitor(logger)
	monitor.Start(cfg.MetricsInterval)

	// Event source, wired to the pipeline head.
	src, err := buildSource(cfg, p, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create event source")
	}
	if err := src.Start(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start event source")
	}

	logger.Info().Msg("odin-pipeline running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info().Str("signal", sig.String()).Msg("Shutting down")

	// Shutdown order matters: stop the producer first so the drain sees no
	// new events, then drain the pipeline, then tear down the rest.
	src.Stop()
	p.Close()
	if sinkCloser != nil {
		sinkCloser()
	}
	monitor.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := ops.Stop(ctx); err != nil {
		logger.Warn().Err(err).Msg("Ops server shutdown failed")
	}

	logger.Info().Msg("Shutdown complete")
}

func buildSource(cfg *config.Config, head pipeline.Consumer, logger zerolog.Logger) (eventSource, error) {
	switch cfg.Source {
	case config.SourceKafka:
		return source.NewKafkaSource(source.KafkaConfig{
			Brokers:       cfg.KafkaBrokerList(),
			ConsumerGroup: cfg.KafkaGroup,
			Topics:        cfg.KafkaTopicList(),
		}, head, logger)
	case config.SourceWebSocket:
		return source.NewWebSocketSource(cfg.FeedURL, head, logger), nil
	case config.SourceSynthetic:
		return source.NewSyntheticSource(source.SyntheticConfig{
			Rate:    cfg.SyntheticRate,
			Clients: cfg.SyntheticClients,
		}, head, logger), nil
	default:
		return source.NewNATSSource(source.NATSConfig{
			URL:     cfg.NATSURL,
			Subject: cfg.NATSSubject,
		}, head, logger)
	}
}
