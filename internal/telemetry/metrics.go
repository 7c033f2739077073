// Package telemetry provides Prometheus metrics and OpenTelemetry tracing for the ingestion services.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/healthdash-io/healthdash/internal/ingestion"
)

const (
	// MetricsNamespace is the namespace for all healthdash metrics.
	MetricsNamespace = "healthdash"

	// IngestSubsystem is the subsystem for ingestion core metrics.
	IngestSubsystem = "ingest"

	// ConsumerSubsystem is the subsystem for Kafka consumer metrics.
	ConsumerSubsystem = "consumer"
)

// Metrics holds all Prometheus metrics for ingestion and implements ingestion.Recorder.
type Metrics struct {
	// Ingest metrics
	IngestsTotal      *prometheus.CounterVec
	IngestDuration    *prometheus.HistogramVec
	RowsWritten       *prometheus.CounterVec
	RowsSuperseded    *prometheus.CounterVec
	DimensionsCreated prometheus.Counter

	// Consumer metrics
	MessagesTotal     *prometheus.CounterVec
	DeadLettersTotal  prometheus.Counter
	MessageLagSeconds prometheus.Histogram

	gatherer prometheus.Gatherer
}

var _ ingestion.Recorder = (*Metrics)(nil)

// NewMetrics creates and registers all metrics on reg.
// A nil reg registers on a fresh private registry that also carries the Go and process collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{}

	if reg == nil {
		private := prometheus.NewRegistry()
		private.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)

		reg = private
	}

	if g, ok := reg.(prometheus.Gatherer); ok {
		m.gatherer = g
	}

	factory := promauto.With(reg)

	m.initIngestMetrics(factory)
	m.initConsumerMetrics(factory)

	return m
}

func (m *Metrics) initIngestMetrics(factory promauto.Factory) {
	m.IngestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Subsystem: IngestSubsystem,
			Name:      "payloads_total",
			Help:      "Total number of ingested payloads by metric group, last completed stage and outcome",
		},
		[]string{"metric_group", "stage", "outcome"},
	)

	m.IngestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: MetricsNamespace,
			Subsystem: IngestSubsystem,
			Name:      "duration_seconds",
			Help:      "Duration of ingest calls",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"metric_group", "outcome"},
	)

	m.RowsWritten = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Subsystem: IngestSubsystem,
			Name:      "rows_written_total",
			Help:      "Total number of fact rows inserted by table",
		},
		[]string{"table"},
	)

	m.RowsSuperseded = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Subsystem: IngestSubsystem,
			Name:      "rows_superseded_total",
			Help:      "Total number of stale fact rows deleted by table",
		},
		[]string{"table"},
	)

	m.DimensionsCreated = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Subsystem: IngestSubsystem,
			Name:      "dimensions_created_total",
			Help:      "Total number of reference rows created by get-or-create",
		},
	)
}

func (m *Metrics) initConsumerMetrics(factory promauto.Factory) {
	m.MessagesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Subsystem: ConsumerSubsystem,
			Name:      "messages_total",
			Help:      "Total number of consumed messages by outcome",
		},
		[]string{"outcome"},
	)

	m.DeadLettersTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Subsystem: ConsumerSubsystem,
			Name:      "dead_letters_total",
			Help:      "Total number of messages forwarded to the dead-letter topic",
		},
	)

	m.MessageLagSeconds = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: MetricsNamespace,
			Subsystem: ConsumerSubsystem,
			Name:      "message_lag_seconds",
			Help:      "Time between a message being produced and being ingested",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
		},
	)
}

// RecordIngest records the outcome of one ingest call.
func (m *Metrics) RecordIngest(metricGroup string, stage ingestion.Stage, outcome string, duration time.Duration) {
	if metricGroup == "" {
		metricGroup = "unknown"
	}

	m.IngestsTotal.WithLabelValues(metricGroup, string(stage), outcome).Inc()
	m.IngestDuration.WithLabelValues(metricGroup, outcome).Observe(duration.Seconds())
}

// RecordRows records inserted fact rows.
func (m *Metrics) RecordRows(table string, n int64) {
	if n > 0 {
		m.RowsWritten.WithLabelValues(table).Add(float64(n))
	}
}

// RecordSuperseded records deleted stale fact rows.
func (m *Metrics) RecordSuperseded(table string, n int64) {
	if n > 0 {
		m.RowsSuperseded.WithLabelValues(table).Add(float64(n))
	}
}

// RecordDimensionsCreated records newly created reference rows.
func (m *Metrics) RecordDimensionsCreated(n int) {
	if n > 0 {
		m.DimensionsCreated.Add(float64(n))
	}
}

// RecordMessage records one consumed message.
func (m *Metrics) RecordMessage(outcome string, produced time.Time) {
	m.MessagesTotal.WithLabelValues(outcome).Inc()

	if !produced.IsZero() {
		m.MessageLagSeconds.Observe(time.Since(produced).Seconds())
	}
}

// RecordDeadLetter records a message forwarded to the dead-letter topic.
func (m *Metrics) RecordDeadLetter() {
	m.DeadLettersTotal.Inc()
}

// Handler returns an HTTP handler exposing the metrics.
// Metrics registered on an external Registerer that is not a Gatherer are served from the default gatherer.
func (m *Metrics) Handler() http.Handler {
	if m.gatherer == nil {
		return promhttp.Handler()
	}

	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
