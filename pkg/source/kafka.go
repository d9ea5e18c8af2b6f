package source

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/adred-codev/odin-pipeline/internal/metrics"
	"github.com/adred-codev/odin-pipeline/pkg/pipeline"
)

const sourceNameKafka = "kafka"

// KafkaSource consumes event payloads from Kafka/Redpanda and pushes them
// into the pipeline head from its poll loop.
type KafkaSource struct {
	client *kgo.Client
	head   pipeline.Consumer
	logger zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// KafkaConfig holds consumer configuration.
type KafkaConfig struct {
	Brokers       []string
	ConsumerGroup string
	Topics        []string
}

// NewKafkaSource creates the consumer. Consumption starts on Start.
func NewKafkaSource(cfg KafkaConfig, head pipeline.Consumer, logger zerolog.Logger) (*KafkaSource, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("at least one broker is required")
	}
	if cfg.ConsumerGroup == "" {
		return nil, fmt.Errorf("consumer group is required")
	}
	if len(cfg.Topics) == 0 {
		return nil, fmt.Errorf("at least one topic is required")
	}

	log := logger.With().Str("component", "kafka_source").Logger()

	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumerGroup(cfg.ConsumerGroup),
		kgo.ConsumeTopics(cfg.Topics...),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtEnd()),
		kgo.FetchMaxWait(500*time.Millisecond),
		kgo.SessionTimeout(30*time.Second),
		kgo.OnPartitionsAssigned(func(_ context.Context, _ *kgo.Client, assigned map[string][]int32) {
			log.Info().Interface("partitions", assigned).Msg("Partitions assigned")
		}),
		kgo.OnPartitionsRevoked(func(_ context.Context, _ *kgo.Client, revoked map[string][]int32) {
			log.Info().Interface("partitions", revoked).Msg("Partitions revoked")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka client: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &KafkaSource{
		client: client,
		head:   head,
		logger: log,
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// Start launches the poll loop.
func (s *KafkaSource) Start() error {
	s.wg.Add(1)
	go s.consumeLoop()
	s.logger.Info().Msg("Kafka source started")
	return nil
}

// Stop cancels the poll loop, waits for it, and closes the client.
func (s *KafkaSource) Stop() {
	s.cancel()
	s.wg.Wait()
	s.client.Close()
	s.logger.Info().Msg("Kafka source stopped")
}

func (s *KafkaSource) consumeLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		fetches := s.client.PollFetches(s.ctx)
		if fetches.IsClientClosed() {
			return
		}

		if errs := fetches.Errors(); len(errs) > 0 {
			for _, fetchErr := range errs {
				if errors.Is(fetchErr.Err, context.Canceled) {
					return
				}
				s.logger.Error().
					Err(fetchErr.Err).
					Str("topic", fetchErr.Topic).
					Int32("partition", fetchErr.Partition).
					Msg("Fetch error")
			}
		}

		fetches.EachRecord(func(record *kgo.Record) {
			s.processRecord(record)
		})
	}
}

func (s *KafkaSource) processRecord(record *kgo.Record) {
	metrics.IncSourceEvents(sourceNameKafka)

	e, err := decodeEvent(record.Value)
	if err != nil {
		metrics.IncSourceDecodeFailures(sourceNameKafka)
		s.logger.Warn().Err(err).
			Str("topic", record.Topic).
			Int32("partition", record.Partition).
			Msg("Dropping undecodable record")
		return
	}

	if err := s.head.Accept(e); err != nil {
		metrics.IncSourceRejected(sourceNameKafka)
		if errors.Is(err, pipeline.ErrShutdown) {
			s.logger.Warn().Msg("Pipeline shut down, stopping consumption")
			s.cancel()
			return
		}
		s.logger.Error().Err(err).
			Stringer("event_id", e.ID).
			Int64("client_id", e.ClientID).
			Msg("Pipeline rejected event")
	}
}
