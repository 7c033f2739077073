// Package consumer feeds payload messages from a Kafka topic into the ingestion core.
//
// Each message is one payload. Messages carrying a "filename" header are routed
// through Ingester.IngestFile so the filename keyword picks the ingest path; the
// rest go to Ingester.Ingest. Offsets are committed after a message is ingested or
// dead-lettered. A lost datastore stops the consumer without committing, so the
// message is redelivered to the group once the process restarts.
package consumer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/healthdash-io/healthdash/internal/ingestion"
)

// TracerName is the OpenTelemetry instrumentation name of the consumer.
const TracerName = "github.com/healthdash-io/healthdash/internal/consumer"

const maxErrorHeaderLen = 1024

type (
	// Reader fetches messages and commits their offsets. *kafka.Reader implements it.
	Reader interface {
		FetchMessage(ctx context.Context) (kafka.Message, error)
		CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	}

	// Writer publishes messages. *kafka.Writer implements it.
	Writer interface {
		WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	}

	// Ingester is the part of *ingestion.Ingester the consumer drives.
	Ingester interface {
		Ingest(ctx context.Context, payload map[string]any) (*ingestion.Result, error)
		IngestFile(ctx context.Context, name string, r io.Reader) (*ingestion.Result, error)
	}

	// Recorder receives consumer measurements. *telemetry.Metrics implements it.
	Recorder interface {
		RecordMessage(outcome string, produced time.Time)
		RecordDeadLetter()
	}

	// Consumer reads payload messages and ingests them one at a time.
	Consumer struct {
		reader     Reader
		ingester   Ingester
		deadLetter Writer
		limiter    *rate.Limiter
		logger     *slog.Logger
		recorder   Recorder
		tracer     trace.Tracer
		propagator propagation.TextMapPropagator
	}

	// Option configures optional Consumer behavior.
	Option func(*Consumer)
)

type nopRecorder struct{}

func (nopRecorder) RecordMessage(string, time.Time) {}
func (nopRecorder) RecordDeadLetter()               {}

// WithDeadLetterWriter forwards rejected payloads to w. Without it they are logged and dropped.
func WithDeadLetterWriter(w Writer) Option {
	return func(c *Consumer) {
		c.deadLetter = w
	}
}

// WithRateLimit throttles ingestion to perSecond messages. A non-positive rate disables throttling.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(c *Consumer) {
		if perSecond <= 0 {
			c.limiter = nil

			return
		}

		if burst <= 0 {
			burst = 1
		}

		c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Consumer) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(c *Consumer) {
		if r != nil {
			c.recorder = r
		}
	}
}

// WithTracer sets the tracer. The default is the global OpenTelemetry tracer.
func WithTracer(t trace.Tracer) Option {
	return func(c *Consumer) {
		if t != nil {
			c.tracer = t
		}
	}
}

// WithPropagator sets the propagator used to read trace context from message headers.
func WithPropagator(p propagation.TextMapPropagator) Option {
	return func(c *Consumer) {
		if p != nil {
			c.propagator = p
		}
	}
}

// New creates a consumer reading from reader and ingesting into ingester.
func New(reader Reader, ingester Ingester, opts ...Option) *Consumer {
	c := &Consumer{
		reader:     reader,
		ingester:   ingester,
		logger:     slog.Default(),
		recorder:   nopRecorder{},
		tracer:     otel.Tracer(TracerName),
		propagator: otel.GetTextMapPropagator(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Run consumes messages until ctx is done, returning nil on cancellation.
// It returns an error when fetching or committing fails, when the datastore is lost
// or when a rejected message cannot be dead-lettered.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info("Consumer started")

	for {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return c.stop(ctx, fmt.Errorf("rate limiter: %w", err))
			}
		}

		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			return c.stop(ctx, fmt.Errorf("failed to fetch message: %w", err))
		}

		if err := c.Handle(ctx, msg); err != nil {
			return c.stop(ctx, err)
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			return c.stop(ctx, fmt.Errorf("failed to commit %s: %w", position(msg), err))
		}
	}
}

func (c *Consumer) stop(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		c.logger.Info("Consumer stopped")

		return nil
	}

	c.logger.Error("Consumer failed", slog.String("error", err.Error()))

	return err
}

// Handle ingests one message. Rejected payloads are dead-lettered and Handle returns nil,
// so the caller may commit the message. A non-nil error means the message must not be committed.
func (c *Consumer) Handle(ctx context.Context, msg kafka.Message) error {
	ctx = c.propagator.Extract(ctx, headerCarrier{headers: &msg.Headers})

	ctx, span := c.tracer.Start(ctx, "consume",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.destination.name", msg.Topic),
			attribute.Int("messaging.kafka.partition", msg.Partition),
			attribute.Int64("messaging.kafka.offset", msg.Offset),
		))
	defer span.End()

	result, err := c.ingest(ctx, msg)

	kind := ingestion.ErrorKind(err)
	c.recorder.RecordMessage(kind, msg.Time)

	if err == nil {
		c.logger.Debug("Message ingested",
			slog.String("position", position(msg)),
			slog.String("run_id", result.RunID.String()),
			slog.Int64("rows_written", result.RowsWritten))

		return nil
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, kind)

	if retryable(err) {
		return fmt.Errorf("%s: %w", position(msg), err)
	}

	return c.reject(ctx, msg, err)
}

func (c *Consumer) ingest(ctx context.Context, msg kafka.Message) (*ingestion.Result, error) {
	if name := header(msg, HeaderFilename); name != "" {
		return c.ingester.IngestFile(ctx, name, bytes.NewReader(msg.Value))
	}

	payload, err := ingestion.ParseJSON(bytes.NewReader(msg.Value))
	if err != nil {
		return nil, err
	}

	return c.ingester.Ingest(ctx, payload)
}

func (c *Consumer) reject(ctx context.Context, msg kafka.Message, cause error) error {
	kind := ingestion.ErrorKind(cause)

	if c.deadLetter == nil {
		c.logger.Warn("Dropping rejected message",
			slog.String("position", position(msg)),
			slog.String("error_kind", kind),
			slog.String("error", cause.Error()))

		return nil
	}

	headers := make([]kafka.Header, 0, len(msg.Headers)+4)
	for _, h := range msg.Headers {
		if h.Key != HeaderErrorKind && h.Key != HeaderError {
			headers = append(headers, h)
		}
	}

	reason := cause.Error()
	if len(reason) > maxErrorHeaderLen {
		reason = reason[:maxErrorHeaderLen]
	}

	headers = append(headers,
		kafka.Header{Key: HeaderErrorKind, Value: []byte(kind)},
		kafka.Header{Key: HeaderError, Value: []byte(reason)},
		kafka.Header{Key: HeaderSourceTopic, Value: []byte(msg.Topic)},
		kafka.Header{Key: HeaderSourceOffset, Value: []byte(strconv.FormatInt(msg.Offset, 10))},
	)

	c.propagator.Inject(ctx, headerCarrier{headers: &headers})

	err := c.deadLetter.WriteMessages(ctx, kafka.Message{
		Key:     msg.Key,
		Value:   msg.Value,
		Headers: headers,
	})
	if err != nil {
		return fmt.Errorf("failed to dead-letter %s: %w", position(msg), err)
	}

	c.recorder.RecordDeadLetter()

	c.logger.Warn("Message dead-lettered",
		slog.String("position", position(msg)),
		slog.String("error_kind", kind),
		slog.String("error", cause.Error()))

	return nil
}

// retryable reports whether err is a transport or datastore failure rather than a payload rejection.
func retryable(err error) bool {
	return errors.Is(err, ingestion.ErrStoreUnavailable) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

func position(msg kafka.Message) string {
	return fmt.Sprintf("%s/%d@%d", msg.Topic, msg.Partition, msg.Offset)
}
