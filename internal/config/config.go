package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Event source kinds.
const (
	SourceNATS      = "nats"
	SourceKafka     = "kafka"
	SourceWebSocket = "websocket"
	SourceSynthetic = "synthetic"
)

// Terminal sink kinds.
const (
	SinkLog  = "log"
	SinkNATS = "nats"
)

// Config holds all service configuration.
// Tags:
//
//	env: Environment variable name
//	envDefault: Default value if not set
type Config struct {
	// Event source
	Source       string `env:"PIPE_SOURCE" envDefault:"nats"`
	NATSURL      string `env:"NATS_URL" envDefault:"nats://localhost:4222"`
	NATSSubject  string `env:"NATS_SUBJECT" envDefault:"odin.events"`
	KafkaBrokers string `env:"KAFKA_BROKERS" envDefault:"localhost:19092"`
	KafkaGroup   string `env:"KAFKA_CONSUMER_GROUP" envDefault:"odin-pipeline-group"`
	KafkaTopics  string `env:"KAFKA_TOPICS" envDefault:"odin.events"`
	FeedURL      string `env:"FEED_URL" envDefault:"ws://localhost:3002/feed"`

	// Synthetic source (load testing)
	SyntheticRate    int `env:"PIPE_SYNTHETIC_RATE" envDefault:"1000"` // events/sec
	SyntheticClients int `env:"PIPE_SYNTHETIC_CLIENTS" envDefault:"100"`

	// Pipeline sizing
	//
	// Workers must satisfy workers * (1/service_time) >= arrival_rate.
	// The nominal workload (1,000 events/s at ~10ms each) needs at least
	// 10; the default of 20 leaves headroom for GC and bursts.
	Workers        int           `env:"PIPE_WORKERS" envDefault:"20"`
	DedupWindow    time.Duration `env:"PIPE_DEDUP_WINDOW" envDefault:"10s"`
	GuardEnabled   bool          `env:"PIPE_GUARD_ENABLED" envDefault:"false"`
	GuardPolicy    string        `env:"PIPE_GUARD_POLICY" envDefault:"skip"`
	QueueBound     int           `env:"PIPE_QUEUE_BOUND" envDefault:"0"` // 0 = unbounded
	OverflowPolicy string        `env:"PIPE_OVERFLOW_POLICY" envDefault:"block"`

	// Terminal sink
	Sink        string        `env:"PIPE_SINK" envDefault:"log"`
	SinkSubject string        `env:"PIPE_SINK_SUBJECT" envDefault:"odin.events.processed"`
	ServiceTime time.Duration `env:"PIPE_SERVICE_TIME" envDefault:"0"` // simulated per-event work (load testing)

	// Ops surface
	OpsAddr         string        `env:"PIPE_OPS_ADDR" envDefault:":9100"`
	MetricsInterval time.Duration `env:"METRICS_INTERVAL" envDefault:"15s"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// Environment
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
}

// Load reads configuration from a .env file and environment variables.
// Priority: ENV vars > .env file > defaults.
func Load(logger *zerolog.Logger) (*Config, error) {
	// .env is a development convenience; in production the environment is
	// set directly, so a missing file is not an error.
	if err := godotenv.Load(); err != nil {
		if logger != nil {
			logger.Info().Msg("No .env file found (using environment variables only)")
		}
	} else if logger != nil {
		logger.Info().Msg("Loaded configuration from .env file")
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks configuration for errors.
func (c *Config) Validate() error {
	validSources := map[string]bool{SourceNATS: true, SourceKafka: true, SourceWebSocket: true, SourceSynthetic: true}
	if !validSources[c.Source] {
		return fmt.Errorf("PIPE_SOURCE must be one of: nats, kafka, websocket, synthetic (got: %s)", c.Source)
	}

	if c.Workers < 1 {
		return fmt.Errorf("PIPE_WORKERS must be >= 1, got %d", c.Workers)
	}
	if c.DedupWindow <= 0 {
		return fmt.Errorf("PIPE_DEDUP_WINDOW must be positive, got %v", c.DedupWindow)
	}
	if c.QueueBound < 0 {
		return fmt.Errorf("PIPE_QUEUE_BOUND must be >= 0, got %d", c.QueueBound)
	}
	if c.OverflowPolicy != "block" && c.OverflowPolicy != "drop_newest" {
		return fmt.Errorf("PIPE_OVERFLOW_POLICY must be one of: block, drop_newest (got: %s)", c.OverflowPolicy)
	}
	if c.GuardPolicy != "skip" && c.GuardPolicy != "wait" {
		return fmt.Errorf("PIPE_GUARD_POLICY must be one of: skip, wait (got: %s)", c.GuardPolicy)
	}

	switch c.Source {
	case SourceKafka:
		if len(c.KafkaBrokerList()) == 0 {
			return fmt.Errorf("KAFKA_BROKERS is required when PIPE_SOURCE=kafka")
		}
		if len(c.KafkaTopicList()) == 0 {
			return fmt.Errorf("KAFKA_TOPICS is required when PIPE_SOURCE=kafka")
		}
	case SourceNATS:
		if c.NATSURL == "" || c.NATSSubject == "" {
			return fmt.Errorf("NATS_URL and NATS_SUBJECT are required when PIPE_SOURCE=nats")
		}
	case SourceWebSocket:
		if c.FeedURL == "" {
			return fmt.Errorf("FEED_URL is required when PIPE_SOURCE=websocket")
		}
	case SourceSynthetic:
		if c.SyntheticRate < 1 {
			return fmt.Errorf("PIPE_SYNTHETIC_RATE must be >= 1, got %d", c.SyntheticRate)
		}
		if c.SyntheticClients < 1 {
			return fmt.Errorf("PIPE_SYNTHETIC_CLIENTS must be >= 1, got %d", c.SyntheticClients)
		}
	}

	if c.Sink != SinkLog && c.Sink != SinkNATS {
		return fmt.Errorf("PIPE_SINK must be one of: log, nats (got: %s)", c.Sink)
	}
	if c.ServiceTime < 0 {
		return fmt.Errorf("PIPE_SERVICE_TIME must be >= 0, got %v", c.ServiceTime)
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("LOG_LEVEL must be one of: debug, info, warn, error (got: %s)", c.LogLevel)
	}
	if c.LogFormat != "json" && c.LogFormat != "pretty" {
		return fmt.Errorf("LOG_FORMAT must be one of: json, pretty (got: %s)", c.LogFormat)
	}

	return nil
}

// KafkaBrokerList splits the comma-separated broker string.
func (c *Config) KafkaBrokerList() []string { return splitCSV(c.KafkaBrokers) }

// KafkaTopicList splits the comma-separated topic string.
func (c *Config) KafkaTopicList() []string { return splitCSV(c.KafkaTopics) }

func splitCSV(s string) []string {
	result := []string{}
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

// LogConfig logs the effective configuration at startup.
func (c *Config) LogConfig(logger zerolog.Logger) {
	logger.Info().
		Str("environment", c.Environment).
		Str("source", c.Source).
		Str("nats_url", c.NATSURL).
		Str("nats_subject", c.NATSSubject).
		Str("kafka_brokers", c.KafkaBrokers).
		Str("kafka_group", c.KafkaGroup).
		Str("feed_url", c.FeedURL).
		Int("workers", c.Workers).
		Dur("dedup_window", c.DedupWindow).
		Bool("guard_enabled", c.GuardEnabled).
		Str("guard_policy", c.GuardPolicy).
		Int("queue_bound", c.QueueBound).
		Str("overflow_policy", c.OverflowPolicy).
		Str("sink", c.Sink).
		Str("ops_addr", c.OpsAddr).
		Dur("metrics_interval", c.MetricsInterval).
		Str("log_level", c.LogLevel).
		Str("log_format", c.LogFormat).
		Msg("Configuration loaded")
}
