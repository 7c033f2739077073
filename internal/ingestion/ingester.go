package ingestion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/healthdash-io/healthdash/internal/canonicalization"
	"github.com/healthdash-io/healthdash/internal/config"
	"github.com/healthdash-io/healthdash/internal/taxonomy"
)

// TracerName is the OpenTelemetry instrumentation name of the ingestion core.
const TracerName = "github.com/healthdash-io/healthdash/internal/ingestion"

// Fact table names, used in errors, logs and metrics.
const (
	TableCoreHeadline   = "core_headline"
	TableCoreTimeSeries = "core_timeseries"
	TableAPITimeSeries  = "api_timeseries"
)

var (
	// ErrInvalidBatchSize is returned by New when the write batch size is not positive.
	ErrInvalidBatchSize = errors.New("batch size must be greater than 0")

	// ErrMetricGroupPath is returned by IngestFile when the payload's metric group
	// selects a different path than the filename keyword.
	ErrMetricGroupPath = errors.New("metric group does not match the file's ingest path")
)

// Stage is a step of the ingest state machine.
type Stage string

// Ingest stages in execution order. A failed call reports the last stage it completed.
const (
	StageParsed             Stage = "PARSED"
	StageValidated          Stage = "VALIDATED"
	StageDimensionsResolved Stage = "DIMENSIONS_RESOLVED"
	StageStalePurged        Stage = "STALE_PURGED"
	StageRowsWritten        Stage = "ROWS_WRITTEN"
	StageDone               Stage = "DONE"
)

// Result describes one ingest call. It is returned alongside errors too, holding
// whatever the call completed before failing.
type Result struct {
	RunID       uuid.UUID
	Fingerprint string
	MetricGroup string
	Headline    bool
	Stage       Stage
	Dimensions  *ResolvedDimensions

	// Items is the number of body items left after null filtering.
	Items          int
	RowsSuperseded int64
	RowsWritten    int64
	APIRowsWritten int64
	Duration       time.Duration
}

// Recorder receives ingest measurements. internal/telemetry provides a Prometheus implementation.
type Recorder interface {
	RecordIngest(metricGroup string, stage Stage, outcome string, duration time.Duration)
	RecordRows(table string, n int64)
	RecordSuperseded(table string, n int64)
	RecordDimensionsCreated(n int)
}

type nopRecorder struct{}

func (nopRecorder) RecordIngest(string, Stage, string, time.Duration) {}
func (nopRecorder) RecordRows(string, int64)                          {}
func (nopRecorder) RecordSuperseded(string, int64)                    {}
func (nopRecorder) RecordDimensionsCreated(int)                       {}

type (
	// Ingester validates payloads and writes them to the injected stores.
	//
	// An Ingester holds no per-call state and may be shared between goroutines as
	// long as its stores are safe for concurrent use.
	Ingester struct {
		registry    *Registry
		resolver    *Resolver
		logger      *slog.Logger
		recorder    Recorder
		tracer      trace.Tracer
		taxonomy    *taxonomy.Taxonomy
		batchSize   int
		authEnabled bool
		dedupe      bool
		now         func() time.Time
	}

	// Option configures optional Ingester behavior.
	Option func(*Ingester)

	// BatchResult is the outcome of one payload of IngestBatch.
	BatchResult struct {
		Result *Result
		Err    error
	}
)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(i *Ingester) {
		if logger != nil {
			i.logger = logger
		}
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(i *Ingester) {
		if r != nil {
			i.recorder = r
		}
	}
}

// WithTracer sets the tracer. The default is the global OpenTelemetry tracer.
func WithTracer(t trace.Tracer) Option {
	return func(i *Ingester) {
		if t != nil {
			i.tracer = t
		}
	}
}

// WithBatchSize sets the number of fact rows per insert (default 100).
func WithBatchSize(n int) Option {
	return func(i *Ingester) {
		i.batchSize = n
	}
}

// WithAuthEnabled accepts is_public=false items when enabled.
func WithAuthEnabled(enabled bool) Option {
	return func(i *Ingester) {
		i.authEnabled = enabled
	}
}

// WithTaxonomy replaces the embedded theme/topic taxonomy.
func WithTaxonomy(t *taxonomy.Taxonomy) Option {
	return func(i *Ingester) {
		if t != nil {
			i.taxonomy = t
		}
	}
}

// WithClock sets the clock used to time ingest calls.
func WithClock(now func() time.Time) Option {
	return func(i *Ingester) {
		if now != nil {
			i.now = now
		}
	}
}

// WithDedupe toggles same-date collapsing of time series items (on by default).
func WithDedupe(enabled bool) Option {
	return func(i *Ingester) {
		i.dedupe = enabled
	}
}

// New creates an Ingester over registry.
//
// Returns ErrIncompleteRegistry when a store is missing and ErrInvalidBatchSize
// when WithBatchSize was given a non-positive value.
func New(registry *Registry, opts ...Option) (*Ingester, error) {
	if err := registry.Validate(); err != nil {
		return nil, err
	}

	i := &Ingester{
		registry: registry,
		logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
		})),
		recorder:  nopRecorder{},
		tracer:    otel.Tracer(TracerName),
		taxonomy:  taxonomy.Default(),
		batchSize: DefaultBatchSize,
		dedupe:    true,
		now:       time.Now,
	}

	for _, opt := range opts {
		opt(i)
	}

	if i.batchSize <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidBatchSize, i.batchSize)
	}

	i.resolver = NewResolver(registry, i.logger, WithResolverTaxonomy(i.taxonomy))

	return i, nil
}

// Resolver returns the dimension resolver used by the ingester.
func (i *Ingester) Resolver() *Resolver {
	return i.resolver
}

// Ingest validates payload, resolves its dimensions, deletes the rows it supersedes
// and writes its fact rows.
//
// Headline payloads write core_headline; time series payloads write core_timeseries
// then api_timeseries. Reference rows created before a failure are kept.
func (i *Ingester) Ingest(ctx context.Context, payload map[string]any) (*Result, error) {
	return i.ingest(ctx, payload, nil)
}

// IngestFile ingests a JSON file whose name carries a metric group keyword
// ("headline", "cases", "deaths", "healthcare", "testing" or "vaccinations").
//
// The keyword picks the headline or time series path; the payload's metric_group
// must agree with it.
func (i *Ingester) IngestFile(ctx context.Context, name string, r io.Reader) (*Result, error) {
	keyword, ok := taxonomy.MetricGroupFromFilename(name)
	if !ok {
		i.recorder.RecordIngest("", StageParsed, ErrorKind(ErrUnrecognisedFile), 0)

		return nil, fmt.Errorf("%w: %q carries no metric group keyword", ErrUnrecognisedFile, name)
	}

	payload, err := ParseJSON(r)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}

	if group, err := metricGroupOf(payload); err == nil && group.IsHeadline() != keyword.IsHeadline() {
		return nil, invalidField("metric_group", group.String(),
			fmt.Errorf("%w: file %q is a %s file", ErrMetricGroupPath, name, keyword))
	}

	return i.Ingest(ctx, payload)
}

// IngestBatch ingests payloads in order, sharing dimension resolution across them
// so each distinct reference value is looked up once.
//
// Payload failures are reported per result and do not stop the batch. The batch
// stops early, returning the results so far and an error, when ctx is done or the
// datastore connection is lost.
func (i *Ingester) IngestBatch(ctx context.Context, payloads []map[string]any) ([]BatchResult, error) {
	results := make([]BatchResult, 0, len(payloads))
	batch := i.resolver.NewBatch()

	for n, payload := range payloads {
		if err := ctx.Err(); err != nil {
			return results, fmt.Errorf("batch stopped before payload %d: %w", n, err)
		}

		result, err := i.ingest(ctx, payload, batch)
		results = append(results, BatchResult{Result: result, Err: err})

		if err != nil && errors.Is(err, ErrStoreUnavailable) {
			return results, fmt.Errorf("batch stopped at payload %d: %w", n, err)
		}
	}

	i.logger.Info("Ingested batch",
		slog.Int("payloads", len(payloads)),
		slog.Int("store_calls", batch.StoreCalls()))

	return results, nil
}

func (i *Ingester) ingest(ctx context.Context, payload map[string]any, batch *BatchResolver) (*Result, error) {
	start := i.now()
	result := &Result{RunID: uuid.New(), Stage: StageParsed}

	ctx, span := i.tracer.Start(ctx, "ingest",
		trace.WithAttributes(attribute.String("ingest.run_id", result.RunID.String())))
	defer span.End()

	err := i.run(ctx, payload, batch, result)

	result.Duration = i.now().Sub(start)
	i.recorder.RecordIngest(result.MetricGroup, result.Stage, ErrorKind(err), result.Duration)

	span.SetAttributes(
		attribute.String("ingest.metric_group", result.MetricGroup),
		attribute.String("ingest.stage", string(result.Stage)),
		attribute.Int64("ingest.rows_written", result.RowsWritten),
	)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, ErrorKind(err))

		i.logger.Warn("Ingest failed",
			slog.String("run_id", result.RunID.String()),
			slog.String("metric_group", result.MetricGroup),
			slog.String("stage", string(result.Stage)),
			slog.String("error_kind", ErrorKind(err)),
			slog.String("error", err.Error()))

		return result, err
	}

	i.logger.Info("Ingested payload",
		slog.String("run_id", result.RunID.String()),
		slog.String("fingerprint", result.Fingerprint),
		slog.String("metric_group", result.MetricGroup),
		slog.Int("items", result.Items),
		slog.Int64("rows_superseded", result.RowsSuperseded),
		slog.Int64("rows_written", result.RowsWritten),
		slog.Int64("api_rows_written", result.APIRowsWritten),
		slog.Duration("duration", result.Duration))

	return result, nil
}

func (i *Ingester) run(ctx context.Context, payload map[string]any, batch *BatchResolver, result *Result) error {
	var record Record

	err := i.stage(ctx, "validate", func(context.Context) error {
		var err error

		record, err = BuildRecord(payload, BuildOptions{Taxonomy: i.taxonomy, AuthEnabled: i.authEnabled})

		return err
	})
	if err != nil {
		return err
	}

	base := record.Base()
	result.Stage = StageValidated
	result.MetricGroup = base.MetricGroup.String()
	result.Headline = record.IsHeadline()
	result.Items = record.Len()

	if ts, ok := record.(*TimeSeriesRecord); ok && i.dedupe {
		ts.TimeSeries = DedupeTimeSeries(ts.TimeSeries)
	}

	var dims *ResolvedDimensions

	err = i.stage(ctx, "resolve", func(ctx context.Context) error {
		var err error

		if batch != nil {
			dims, err = batch.Resolve(ctx, record)
		} else {
			dims, err = i.resolver.Resolve(ctx, record)
		}

		return err
	})
	if err != nil {
		return err
	}

	result.Stage = StageDimensionsResolved
	result.Dimensions = dims
	result.Fingerprint = fingerprint(base, dims)
	i.recorder.RecordDimensionsCreated(dims.Created)

	switch rec := record.(type) {
	case *HeadlineRecord:
		err = i.writeHeadline(ctx, rec, dims, result)
	case *TimeSeriesRecord:
		err = i.writeTimeSeries(ctx, rec, dims, result)
	}

	if err != nil {
		return err
	}

	result.Stage = StageDone

	return nil
}

func (i *Ingester) writeHeadline(ctx context.Context, record *HeadlineRecord, dims *ResolvedDimensions, result *Result) error {
	key := HeadlineKeyFor(record, dims)

	err := i.stage(ctx, "purge", func(ctx context.Context) error {
		n, err := clearStale(ctx, i.registry.Headlines, TableCoreHeadline, key, record.Partitions())
		result.RowsSuperseded += n
		i.recorder.RecordSuperseded(TableCoreHeadline, n)

		return err
	})
	if err != nil {
		return err
	}

	result.Stage = StageStalePurged

	err = i.stage(ctx, "write", func(ctx context.Context) error {
		n, err := writeRows(ctx, i.registry.Headlines, TableCoreHeadline, BuildHeadlineRows(record, dims), i.batchSize)
		result.RowsWritten += n
		i.recorder.RecordRows(TableCoreHeadline, n)

		return err
	})
	if err != nil {
		return err
	}

	result.Stage = StageRowsWritten

	return nil
}

func (i *Ingester) writeTimeSeries(ctx context.Context, record *TimeSeriesRecord, dims *ResolvedDimensions, result *Result) error {
	coreKey := CoreTimeSeriesKeyFor(record, dims)
	apiKey := APITimeSeriesKeyFor(record, dims)
	partitions := record.Partitions()

	err := i.stage(ctx, "purge", func(ctx context.Context) error {
		n, err := clearStale(ctx, i.registry.TimeSeries, TableCoreTimeSeries, coreKey, partitions)
		result.RowsSuperseded += n
		i.recorder.RecordSuperseded(TableCoreTimeSeries, n)

		if err != nil {
			return err
		}

		n, err = clearStale(ctx, i.registry.APITimeSeries, TableAPITimeSeries, apiKey, partitions)
		result.RowsSuperseded += n
		i.recorder.RecordSuperseded(TableAPITimeSeries, n)

		return err
	})
	if err != nil {
		return err
	}

	result.Stage = StageStalePurged
	core, api := BuildTimeSeriesRows(record, dims)

	err = i.stage(ctx, "write", func(ctx context.Context) error {
		n, err := writeRows(ctx, i.registry.TimeSeries, TableCoreTimeSeries, core, i.batchSize)
		result.RowsWritten += n
		i.recorder.RecordRows(TableCoreTimeSeries, n)

		if err != nil {
			return err
		}

		n, err = writeRows(ctx, i.registry.APITimeSeries, TableAPITimeSeries, api, i.batchSize)
		result.APIRowsWritten += n
		i.recorder.RecordRows(TableAPITimeSeries, n)

		return err
	})
	if err != nil {
		return err
	}

	result.Stage = StageRowsWritten

	return nil
}

// stage runs fn inside a child span named "ingest.<name>".
func (i *Ingester) stage(ctx context.Context, name string, fn func(context.Context) error) error {
	ctx, span := i.tracer.Start(ctx, "ingest."+name)
	defer span.End()

	if err := fn(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, ErrorKind(err))

		return err
	}

	return nil
}

func fingerprint(base *BaseRecord, dims *ResolvedDimensions) string {
	return canonicalization.GenerateBatchFingerprint(
		dims.MetricGroup,
		dims.Topic,
		dims.Metric,
		dims.Geography,
		dims.GeographyType,
		dims.GeographyCode,
		dims.Stratum,
		base.Sex.String(),
		dims.Age,
		base.RefreshDate.UTC().Format(time.RFC3339Nano),
	)
}
