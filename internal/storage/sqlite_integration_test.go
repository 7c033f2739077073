//nolint:testpackage
package storage

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/healthdash-io/healthdash/internal/ingestion"
)

func setupSQLite(t *testing.T) *Connection {
	t.Helper()

	conn, err := NewConnection(NewConfig(KindSQLite, ":memory:"))
	require.NoError(t, err)

	t.Cleanup(func() { _ = conn.Close() })

	require.NoError(t, EnsureSchema(context.Background(), conn))

	return conn
}

func newSQLiteIngester(t *testing.T, conn *Connection, opts ...ingestion.Option) *ingestion.Ingester {
	t.Helper()

	registry, err := NewSQLRegistry(conn)
	require.NoError(t, err)

	opts = append([]ingestion.Option{ingestion.WithLogger(slog.New(slog.DiscardHandler))}, opts...)

	ing, err := ingestion.New(registry, opts...)
	require.NoError(t, err)

	return ing
}

func casesPayload(refresh string, items ...map[string]any) map[string]any {
	series := make([]any, len(items))
	for i, item := range items {
		series[i] = item
	}

	return map[string]any{
		"parent_theme":     "infectious_disease",
		"child_theme":      "respiratory",
		"topic":            "COVID-19",
		"metric_group":     "cases",
		"metric":           "COVID-19_cases_casesByDay",
		"geography_type":   "Nation",
		"geography":        "England",
		"geography_code":   "E92000001",
		"age":              "all",
		"sex":              "all",
		"stratum":          "default",
		"refresh_date":     refresh,
		"metric_frequency": "weekly",
		"time_series":      series,
	}
}

func casesItem(date string, epiweek int, value string, isPublic bool) map[string]any {
	return map[string]any{
		"epiweek":                   epiweek,
		"date":                      date,
		"embargo":                   nil,
		"metric_value":              value,
		"in_reporting_delay_period": false,
		"is_public":                 isPublic,
	}
}

func countRows(t *testing.T, conn *Connection, query string, args ...any) int {
	t.Helper()

	var n int
	require.NoError(t, conn.QueryRowContext(context.Background(), query, args...).Scan(&n))

	return n
}

func TestSQLite_EnsureSchemaIsIdempotent(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	conn := setupSQLite(t)

	require.NoError(t, EnsureSchema(context.Background(), conn))
	assert.Equal(t, 0, countRows(t, conn, "SELECT COUNT(*) FROM api_timeseries"))
}

func TestSQLite_TimeSeriesSupersession(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	conn := setupSQLite(t)
	ing := newSQLiteIngester(t, conn)

	first, err := ing.Ingest(ctx, casesPayload("2023-11-13",
		casesItem("2023-07-31", 31, "10", true),
		casesItem("2023-08-07", 32, "11", true),
	))
	require.NoError(t, err)
	assert.Equal(t, int64(2), first.RowsWritten)
	assert.Equal(t, int64(2), first.APIRowsWritten)
	assert.Equal(t, ingestion.StageDone, first.Stage)

	second, err := ing.Ingest(ctx, casesPayload("2023-11-20",
		casesItem("2023-07-31", 31, "12", true),
		casesItem("2023-08-07", 32, "13", true),
		casesItem("2023-08-14", 33, "14", true),
	))
	require.NoError(t, err)
	assert.Equal(t, int64(4), second.RowsSuperseded, "two core and two API rows")
	assert.Equal(t, int64(3), second.RowsWritten)

	assert.Equal(t, 3, countRows(t, conn, "SELECT COUNT(*) FROM core_timeseries"))
	assert.Equal(t, 3, countRows(t, conn, "SELECT COUNT(*) FROM api_timeseries"))
	assert.Equal(t, 0, countRows(t, conn, "SELECT COUNT(*) FROM core_timeseries WHERE refresh_date < ?",
		time.Date(2023, 11, 20, 0, 0, 0, 0, time.UTC).Format(sqliteTimeLayout)))

	var value string
	require.NoError(t, conn.QueryRowContext(ctx,
		"SELECT metric_value FROM api_timeseries WHERE date = ?",
		time.Date(2023, 7, 31, 0, 0, 0, 0, time.UTC).Format(sqliteTimeLayout)).Scan(&value))
	assert.Equal(t, "12", value)

	// Each reference value is stored once.
	for _, table := range []string{"theme", "sub_theme", "topic", "geography_type", "geography", "metric_group", "metric", "stratum", "age"} {
		assert.Equal(t, 1, countRows(t, conn, "SELECT COUNT(*) FROM "+table), table)
	}
}

func TestSQLite_ReplayIsNoop(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	conn := setupSQLite(t)
	ing := newSQLiteIngester(t, conn)

	payload := casesPayload("2023-11-20",
		casesItem("2023-07-31", 31, "12", true),
		casesItem("2023-08-07", 32, "13", true),
	)

	_, err := ing.Ingest(ctx, payload)
	require.NoError(t, err)

	replay, err := ing.Ingest(ctx, payload)
	require.NoError(t, err)
	assert.Equal(t, int64(0), replay.RowsSuperseded)
	assert.Equal(t, int64(0), replay.RowsWritten)
	assert.Equal(t, int64(0), replay.APIRowsWritten)
	assert.Equal(t, 0, replay.Dimensions.Created)

	assert.Equal(t, 2, countRows(t, conn, "SELECT COUNT(*) FROM core_timeseries"))
}

func TestSQLite_PrivateRefreshKeepsPublicRows(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	conn := setupSQLite(t)
	ing := newSQLiteIngester(t, conn, ingestion.WithAuthEnabled(true))

	_, err := ing.Ingest(ctx, casesPayload("2023-11-13",
		casesItem("2023-07-31", 31, "10", true),
		casesItem("2023-07-31", 31, "10", false),
	))
	require.NoError(t, err)

	result, err := ing.Ingest(ctx, casesPayload("2023-11-20",
		casesItem("2023-07-31", 31, "20", false),
	))
	require.NoError(t, err)
	assert.Equal(t, int64(2), result.RowsSuperseded, "only the private core and API rows")

	assert.Equal(t, 1, countRows(t, conn, "SELECT COUNT(*) FROM core_timeseries WHERE is_public = 1"))
	assert.Equal(t, 1, countRows(t, conn, "SELECT COUNT(*) FROM core_timeseries WHERE is_public = 0"))
	assert.Equal(t, 1, countRows(t, conn, "SELECT COUNT(*) FROM api_timeseries WHERE is_public = 0 AND metric_value = '20'"))
}

func TestSQLite_HeadlineSupersession(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	conn := setupSQLite(t)
	ing := newSQLiteIngester(t, conn)

	headline := func(refresh, value string) map[string]any {
		payload := casesPayload(refresh)
		delete(payload, "time_series")
		delete(payload, "metric_frequency")
		payload["metric_group"] = "headline"
		payload["metric"] = "COVID-19_headline_cases_7DayTotals"
		payload["data"] = []any{map[string]any{
			"period_start":     "2023-11-06 00:00:00",
			"period_end":       "2023-11-12 00:00:00",
			"metric_value":     value,
			"embargo":          nil,
			"upper_confidence": nil,
			"lower_confidence": nil,
			"is_public":        true,
		}}

		return payload
	}

	_, err := ing.Ingest(ctx, headline("2023-11-13", "100"))
	require.NoError(t, err)

	result, err := ing.Ingest(ctx, headline("2023-11-20", "120"))
	require.NoError(t, err)
	assert.True(t, result.Headline)
	assert.Equal(t, int64(1), result.RowsSuperseded)
	assert.Equal(t, int64(1), result.RowsWritten)

	var value string
	require.NoError(t, conn.QueryRowContext(ctx, "SELECT metric_value FROM core_headline").Scan(&value))
	assert.Equal(t, "120", value)
}

func TestSQLite_UnknownReferenceID(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	conn := setupSQLite(t)
	ing := newSQLiteIngester(t, conn)

	payload := casesPayload("2023-11-20", casesItem("2023-07-31", 31, "12", true))
	payload["stratum"] = 42

	_, err := ing.Ingest(context.Background(), payload)
	require.ErrorIs(t, err, ingestion.ErrDimensionResolution)
	require.ErrorIs(t, err, ingestion.ErrNotFound)
	assert.Equal(t, 0, countRows(t, conn, "SELECT COUNT(*) FROM core_timeseries"))
}

func TestSQLite_BulkInsertChunkIsAtomic(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	conn := setupSQLite(t)

	// Creates reference rows with id 1 in every dimension table.
	_, err := newSQLiteIngester(t, conn).Ingest(ctx, casesPayload("2023-11-13", casesItem("2023-07-31", 31, "10", true)))
	require.NoError(t, err)

	refresh := time.Date(2023, 11, 20, 0, 0, 0, 0, time.UTC)
	rows := []ingestion.CoreTimeSeries{
		timeSeriesRow(refresh, time.Date(2023, 7, 31, 0, 0, 0, 0, time.UTC), true),
		timeSeriesRow(refresh, time.Date(2023, 8, 7, 0, 0, 0, 0, time.UTC), true),
		timeSeriesRow(refresh, time.Date(2023, 8, 14, 0, 0, 0, 0, time.UTC), true),
		timeSeriesRow(refresh, time.Date(2023, 8, 21, 0, 0, 0, 0, time.UTC), true),
	}
	rows[3].Sex = "x"

	inserted, err := newTimeSeriesStore(conn).BulkInsert(ctx, rows, 2)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "batch at row 2")
	assert.Equal(t, int64(2), inserted)

	// The failing chunk leaves none of its rows behind; the chunk before it stays.
	assert.Equal(t, 2, countRows(t, conn, "SELECT COUNT(*) FROM core_timeseries WHERE refresh_date = ?",
		refresh.Format(sqliteTimeLayout)))
	assert.Equal(t, 0, countRows(t, conn, "SELECT COUNT(*) FROM core_timeseries WHERE date = ?",
		time.Date(2023, 8, 14, 0, 0, 0, 0, time.UTC).Format(sqliteTimeLayout)))
}
