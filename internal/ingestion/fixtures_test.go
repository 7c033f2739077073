package ingestion_test

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/healthdash-io/healthdash/internal/ingestion"
	"github.com/healthdash-io/healthdash/internal/storage"
)

var errStoreDown = errors.New("store down")

// header returns the top-level fields shared by every test payload.
func header(metricGroup, metric string) map[string]any {
	return map[string]any{
		"parent_theme":   "infectious_disease",
		"child_theme":    "respiratory",
		"topic":          "COVID-19",
		"metric_group":   metricGroup,
		"metric":         metric,
		"geography_type": "Nation",
		"geography":      "England",
		"geography_code": "E92000001",
		"age":            "all",
		"sex":            "all",
		"stratum":        "default",
		"refresh_date":   "2023-11-20",
	}
}

func headlinePayload(item map[string]any) map[string]any {
	payload := header("headline", "COVID-19_headline_cases_7DayTotals")
	payload["data"] = []any{item}

	return payload
}

func headlineItem() map[string]any {
	return map[string]any{
		"period_start": "2023-10-01",
		"period_end":   "2023-10-07",
		"metric_value": 123,
		"embargo":      "2023-11-20 12:00:00",
		"is_public":    true,
	}
}

func timeSeriesPayload(items ...map[string]any) map[string]any {
	payload := header("cases", "COVID-19_cases_casesByDay")
	payload["metric_frequency"] = "weekly"

	series := make([]any, len(items))
	for i, item := range items {
		series[i] = item
	}

	payload["time_series"] = series

	return payload
}

func timeSeriesItem(date string, epiweek int, value any) map[string]any {
	return map[string]any{
		"epiweek":                   epiweek,
		"date":                      date,
		"embargo":                   nil,
		"metric_value":              value,
		"in_reporting_delay_period": false,
		"is_public":                 true,
	}
}

// with returns a copy of m with the given fields replaced.
func with(m map[string]any, kv ...any) map[string]any {
	out := maps.Clone(m)

	for i := 0; i+1 < len(kv); i += 2 {
		out[kv[i].(string)] = kv[i+1] //nolint:forcetypeassert // test helper keys are strings
	}

	return out
}

func newIngester(t *testing.T, registry *ingestion.Registry, opts ...ingestion.Option) *ingestion.Ingester {
	t.Helper()

	opts = append([]ingestion.Option{ingestion.WithLogger(slog.New(slog.DiscardHandler))}, opts...)

	ing, err := ingestion.New(registry, opts...)
	require.NoError(t, err)

	return ing
}

func newMemoryIngester(t *testing.T, opts ...ingestion.Option) (*ingestion.Ingester, *storage.MemoryStore) {
	t.Helper()

	store := storage.NewMemoryStore()

	return newIngester(t, store.Registry(), opts...), store
}

func utc(year int, month time.Month, day, hour int) time.Time {
	return time.Date(year, month, day, hour, 0, 0, 0, time.UTC)
}

// countingDimensionStore counts GetOrCreate calls and can fail a number of them.
type countingDimensionStore struct {
	ingestion.DimensionStore

	mu       sync.Mutex
	calls    int
	failures []error
}

func (c *countingDimensionStore) GetOrCreate(ctx context.Context, key ingestion.NaturalKey) (int64, bool, error) {
	c.mu.Lock()
	c.calls++

	var err error
	if len(c.failures) > 0 {
		err, c.failures = c.failures[0], c.failures[1:]
	}
	c.mu.Unlock()

	if err != nil {
		return 0, false, err
	}

	return c.DimensionStore.GetOrCreate(ctx, key)
}

func (c *countingDimensionStore) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.calls
}

// failingFactStore fails DeleteSuperseded or BulkInsert with err.
type failingFactStore[R, K any] struct {
	ingestion.FactStore[R, K]

	deleteErr error
	insertErr error
	inserts   int
}

func (f *failingFactStore[R, K]) DeleteSuperseded(ctx context.Context, key K, isPublic bool) (int64, error) {
	if f.deleteErr != nil {
		return 0, f.deleteErr
	}

	return f.FactStore.DeleteSuperseded(ctx, key, isPublic)
}

func (f *failingFactStore[R, K]) BulkInsert(ctx context.Context, rows []R, batchSize int) (int64, error) {
	f.inserts++

	if f.insertErr != nil {
		return 0, f.insertErr
	}

	return f.FactStore.BulkInsert(ctx, rows, batchSize)
}

// capturingRecorder records every measurement it receives.
type capturingRecorder struct {
	mu         sync.Mutex
	outcomes   []string
	stages     []ingestion.Stage
	rows       map[string]int64
	superseded map[string]int64
	created    int
}

func newCapturingRecorder() *capturingRecorder {
	return &capturingRecorder{rows: map[string]int64{}, superseded: map[string]int64{}}
}

func (c *capturingRecorder) RecordIngest(_ string, stage ingestion.Stage, outcome string, _ time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stages = append(c.stages, stage)
	c.outcomes = append(c.outcomes, outcome)
}

func (c *capturingRecorder) RecordRows(table string, n int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.rows[table] += n
}

func (c *capturingRecorder) RecordSuperseded(table string, n int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.superseded[table] += n
}

func (c *capturingRecorder) RecordDimensionsCreated(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.created += n
}
