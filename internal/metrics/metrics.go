package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus metrics for the event pipeline.
// Scraped via the ops server's /metrics endpoint.
var (
	// End-to-end latency, sampled at the start of terminal processing.
	eventLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "pipeline_event_latency_seconds",
		Help:    "Time from event creation to the start of terminal processing",
		Buckets: []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	})

	// Deduplication
	dedupDuplicates = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pipeline_dedup_duplicates_total",
		Help: "Events dropped because their ID repeated within the dedup window",
	})

	dedupCacheSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pipeline_dedup_cache_size",
		Help: "Entries currently held in the seen-ID table",
	})

	// Dispatcher
	queueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pipeline_queue_depth",
		Help: "Pending events per shard queue",
	}, []string{"shard"})

	queueDepthMean = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pipeline_queue_depth_mean",
		Help: "Mean pending events across all shard queues",
	})

	tasksSubmitted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pipeline_tasks_submitted_total",
		Help: "Events enqueued to shard workers",
	})

	tasksCompleted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pipeline_tasks_completed_total",
		Help: "Events fully processed by shard workers",
	})

	tasksDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pipeline_tasks_dropped_total",
		Help: "Events rejected by a full bounded shard queue",
	})

	downstreamErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_downstream_errors_total",
		Help: "Terminal-consumer failures by shard",
	}, []string{"shard"})

	// Concurrency guard
	guardViolations = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pipeline_guard_violations_total",
		Help: "Overlapping same-client processing detected by the guard",
	})

	// Sources
	sourceEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_source_events_total",
		Help: "Events received from the upstream source",
	}, []string{"source"})

	sourceDecodeFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_source_decode_failures_total",
		Help: "Source payloads that failed to decode",
	}, []string{"source"})

	sourceRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_source_rejected_total",
		Help: "Events the pipeline refused to accept (shutdown, queue full)",
	}, []string{"source"})

	// System
	memoryUsageBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pipeline_memory_bytes",
		Help: "Current heap usage in bytes",
	})

	cpuUsagePercent = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pipeline_cpu_usage_percent",
		Help: "Process CPU usage percentage",
	})

	goroutinesActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pipeline_goroutines_active",
		Help: "Current number of goroutines",
	})
)

func init() {
	prometheus.MustRegister(eventLatency)

	prometheus.MustRegister(dedupDuplicates)
	prometheus.MustRegister(dedupCacheSize)

	prometheus.MustRegister(queueDepth)
	prometheus.MustRegister(queueDepthMean)
	prometheus.MustRegister(tasksSubmitted)
	prometheus.MustRegister(tasksCompleted)
	prometheus.MustRegister(tasksDropped)
	prometheus.MustRegister(downstreamErrors)

	prometheus.MustRegister(guardViolations)

	prometheus.MustRegister(sourceEvents)
	prometheus.MustRegister(sourceDecodeFailures)
	prometheus.MustRegister(sourceRejected)

	prometheus.MustRegister(memoryUsageBytes)
	prometheus.MustRegister(cpuUsagePercent)
	prometheus.MustRegister(goroutinesActive)
}

// Observer feeds pipeline observability hooks into Prometheus. It is
// stateless; a single value can be shared across the whole process.
type Observer struct{}

func (Observer) ObserveLatency(d time.Duration) { eventLatency.Observe(d.Seconds()) }
func (Observer) DuplicateDropped()              { dedupDuplicates.Inc() }
func (Observer) DedupCacheSize(n int)           { dedupCacheSize.Set(float64(n)) }

func (Observer) QueueDepth(shard, depth int) {
	queueDepth.WithLabelValues(strconv.Itoa(shard)).Set(float64(depth))
}
func (Observer) QueueDepthMean(mean float64) { queueDepthMean.Set(mean) }
func (Observer) TaskSubmitted()              { tasksSubmitted.Inc() }
func (Observer) TaskCompleted()              { tasksCompleted.Inc() }
func (Observer) TaskDropped()                { tasksDropped.Inc() }

func (Observer) DownstreamFailure(shard int) {
	downstreamErrors.WithLabelValues(strconv.Itoa(shard)).Inc()
}

func (Observer) GuardViolation(int64) { guardViolations.Inc() }

// Source-side helpers, called by the pkg/source adapters.

// IncSourceEvents counts one event received from the named source.
func IncSourceEvents(source string) { sourceEvents.WithLabelValues(source).Inc() }

// IncSourceDecodeFailures counts one undecodable source payload.
func IncSourceDecodeFailures(source string) { sourceDecodeFailures.WithLabelValues(source).Inc() }

// IncSourceRejected counts one event the pipeline refused to accept.
func IncSourceRejected(source string) { sourceRejected.WithLabelValues(source).Inc() }

// System-side helpers, called by the system monitor.

// SetMemoryUsage updates the heap usage gauge.
func SetMemoryUsage(bytes uint64) { memoryUsageBytes.Set(float64(bytes)) }

// SetCPUUsage updates the CPU usage gauge.
func SetCPUUsage(percent float64) { cpuUsagePercent.Set(percent) }

// SetGoroutines updates the goroutine count gauge.
func SetGoroutines(n int) { goroutinesActive.Set(float64(n)) }
