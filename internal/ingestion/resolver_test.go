package ingestion_test

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/healthdash-io/healthdash/internal/ingestion"
	"github.com/healthdash-io/healthdash/internal/storage"
	"github.com/healthdash-io/healthdash/internal/validation"
)

func buildRecord(t *testing.T, payload map[string]any) ingestion.Record {
	t.Helper()

	record, err := ingestion.BuildRecord(payload, ingestion.BuildOptions{AuthEnabled: true})
	require.NoError(t, err)

	return record
}

func TestResolver_Idempotent(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	ctx := context.Background()
	store := storage.NewMemoryStore()
	resolver := ingestion.NewResolver(store.Registry(), slog.New(slog.DiscardHandler))
	record := buildRecord(t, headlinePayload(headlineItem()))

	first, err := resolver.Resolve(ctx, record)
	require.NoError(t, err)
	assert.Equal(t, 9, first.Created)

	second, err := resolver.Resolve(ctx, record)
	require.NoError(t, err)
	assert.Zero(t, second.Created)
	assert.Equal(t, first.Keys(), second.Keys())
	assert.Equal(t, first.ThemeID, second.ThemeID)
	assert.Equal(t, 9, store.DimensionCount())
}

func TestResolver_NaturalKeyParents(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	ctx := context.Background()
	store := storage.NewMemoryStore()
	resolver := ingestion.NewResolver(store.Registry(), nil)

	dims, err := resolver.Resolve(ctx, buildRecord(t, headlinePayload(headlineItem())))
	require.NoError(t, err)

	metrics := store.DimensionRows(ingestion.DimensionMetric)
	require.Len(t, metrics, 1)
	assert.Equal(t, ingestion.NaturalKey{
		Name:     "COVID-19_headline_cases_7DayTotals",
		ParentID: dims.MetricGroupID,
		TopicID:  dims.TopicID,
	}, metrics[0])

	geographies := store.DimensionRows(ingestion.DimensionGeography)
	require.Len(t, geographies, 1)
	assert.Equal(t, ingestion.NaturalKey{Name: "England", Code: "E92000001", ParentID: dims.GeographyTypeID}, geographies[0])

	assert.Equal(t, "Nation", dims.GeographyType)
	assert.Equal(t, "E92000001", dims.GeographyCode)

	// A second metric group under the same topic shares every ancestor.
	cases, err := resolver.Resolve(ctx, buildRecord(t, timeSeriesPayload(timeSeriesItem("2023-07-31", 31, 10))))
	require.NoError(t, err)
	assert.Equal(t, dims.TopicID, cases.TopicID)
	assert.NotEqual(t, dims.MetricGroupID, cases.MetricGroupID)
	assert.Equal(t, 2, cases.Created, "metric group and metric")
}

func TestResolver_IDReferences(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	ctx := context.Background()
	store := storage.NewMemoryStore()
	resolver := ingestion.NewResolver(store.Registry(), nil)

	dims, err := resolver.Resolve(ctx, buildRecord(t, headlinePayload(headlineItem())))
	require.NoError(t, err)

	byID := with(headlinePayload(headlineItem()), "geography", dims.GeographyID, "stratum", dims.StratumID)

	again, err := resolver.Resolve(ctx, buildRecord(t, byID))
	require.NoError(t, err)
	assert.Equal(t, dims.Keys(), again.Keys())
	assert.Equal(t, "England", again.Geography, "names are read back for id references")
	assert.Equal(t, "default", again.Stratum)

	missing := with(headlinePayload(headlineItem()), "age", 999)

	_, err = resolver.Resolve(ctx, buildRecord(t, missing))
	require.ErrorIs(t, err, ingestion.ErrDimensionResolution)
	require.ErrorIs(t, err, ingestion.ErrNotFound)

	var storeErr *ingestion.StoreError
	require.ErrorAs(t, err, &storeErr)
	assert.Equal(t, "find age #999", storeErr.Op)
}

func TestResolver_IDReferencesFollowTaxonomy(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	ctx := context.Background()
	store := storage.NewMemoryStore()
	resolver := ingestion.NewResolver(store.Registry(), nil)

	dims, err := resolver.Resolve(ctx, buildRecord(t, headlinePayload(headlineItem())))
	require.NoError(t, err)

	cases, err := resolver.Resolve(ctx, buildRecord(t, timeSeriesPayload(timeSeriesItem("2023-07-31", 31, 10))))
	require.NoError(t, err)

	t.Run("topic under a sub-theme id", func(t *testing.T) {
		payload := with(headlinePayload(headlineItem()), "child_theme", dims.SubThemeID, "topic", "NotARealTopic")

		_, err := resolver.Resolve(ctx, buildRecord(t, payload))
		require.ErrorIs(t, err, ingestion.ErrValidation)
		require.ErrorIs(t, err, validation.ErrInvalidTopic)

		var fieldErr *ingestion.FieldError
		require.ErrorAs(t, err, &fieldErr)
		assert.Equal(t, "topic", fieldErr.Field)
		assert.Equal(t, "NotARealTopic", fieldErr.Value)

		assert.Len(t, store.DimensionRows(ingestion.DimensionTopic), 1, "the unknown topic is not created")
	})

	t.Run("metric id from another metric group", func(t *testing.T) {
		payload := with(headlinePayload(headlineItem()), "metric", cases.MetricID)

		_, err := resolver.Resolve(ctx, buildRecord(t, payload))
		require.ErrorIs(t, err, ingestion.ErrValidation)

		var fieldErr *ingestion.FieldError
		require.ErrorAs(t, err, &fieldErr)
		assert.Equal(t, "metric", fieldErr.Field)
	})

	t.Run("geography id under another geography type", func(t *testing.T) {
		payload := with(headlinePayload(headlineItem()), "geography_type", "Region", "geography", dims.GeographyID)

		_, err := resolver.Resolve(ctx, buildRecord(t, payload))
		require.ErrorIs(t, err, ingestion.ErrValidation)
		require.ErrorIs(t, err, ingestion.ErrReferenceParentMismatch)

		var fieldErr *ingestion.FieldError
		require.ErrorAs(t, err, &fieldErr)
		assert.Equal(t, "geography", fieldErr.Field)
	})

	t.Run("geography id with another code", func(t *testing.T) {
		wales := with(headlinePayload(headlineItem()), "geography", "Wales", "geography_code", "W92000004")

		walesDims, err := resolver.Resolve(ctx, buildRecord(t, wales))
		require.NoError(t, err)

		payload := with(headlinePayload(headlineItem()), "geography", walesDims.GeographyID)

		_, err = resolver.Resolve(ctx, buildRecord(t, payload))
		require.ErrorIs(t, err, ingestion.ErrValidation)

		var fieldErr *ingestion.FieldError
		require.ErrorAs(t, err, &fieldErr)
		assert.Equal(t, "geography_code", fieldErr.Field)
		assert.Equal(t, "E92000001", fieldErr.Value)
	})

	t.Run("consistent id references resolve", func(t *testing.T) {
		payload := with(headlinePayload(headlineItem()), "topic", dims.TopicID, "metric", dims.MetricID)

		again, err := resolver.Resolve(ctx, buildRecord(t, payload))
		require.NoError(t, err)
		assert.Equal(t, dims.Keys(), again.Keys())
		assert.Equal(t, "COVID-19", again.Topic)
	})
}

func TestResolver_BatchMatchesSingle(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	ctx := context.Background()

	records := []ingestion.Record{
		buildRecord(t, headlinePayload(headlineItem())),
		buildRecord(t, timeSeriesPayload(timeSeriesItem("2023-07-31", 31, 10))),
		buildRecord(t, with(timeSeriesPayload(timeSeriesItem("2023-07-31", 31, 10)), "age", "00-04")),
		buildRecord(t, with(headlinePayload(headlineItem()), "sex", "male")),
	}

	single := ingestion.NewResolver(storage.NewMemoryStore().Registry(), nil)

	want := make([]*ingestion.ResolvedDimensions, len(records))
	for i, record := range records {
		dims, err := single.Resolve(ctx, record)
		require.NoError(t, err)

		want[i] = dims
	}

	batchRegistry := storage.NewMemoryStore().Registry()
	themes := &countingDimensionStore{DimensionStore: batchRegistry.Themes}
	batchRegistry.Themes = themes

	batched := ingestion.NewResolver(batchRegistry, nil)

	got, err := batched.ResolveBatch(ctx, records)
	require.NoError(t, err)
	require.Len(t, got, len(records))

	for i := range records {
		assert.Equal(t, want[i].Keys(), got[i].Keys(), "record %d", i)
		assert.Equal(t, want[i].Metric, got[i].Metric)
		assert.Equal(t, want[i].Age, got[i].Age)
	}

	assert.Equal(t, 1, themes.Calls())

	batch := batched.NewBatch()
	for _, record := range records {
		_, err := batch.Resolve(ctx, record)
		require.NoError(t, err)
	}

	// Nine dimensions for the first record, then only the new metric group, metric and age.
	assert.Equal(t, 12, batch.StoreCalls())
}

func TestResolver_BatchStopsAtFailure(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	registry := storage.NewMemoryStore().Registry()
	resolver := ingestion.NewResolver(registry, nil)

	records := []ingestion.Record{
		buildRecord(t, headlinePayload(headlineItem())),
		buildRecord(t, with(headlinePayload(headlineItem()), "metric", 404)),
		buildRecord(t, timeSeriesPayload(timeSeriesItem("2023-07-31", 31, 10))),
	}

	got, err := resolver.ResolveBatch(context.Background(), records)
	require.ErrorIs(t, err, ingestion.ErrDimensionResolution)
	assert.Contains(t, err.Error(), "record 1")
	assert.Len(t, got, 1)
}

func TestResolver_CancelledContext(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	resolver := ingestion.NewResolver(storage.NewMemoryStore().Registry(), nil)

	_, err := resolver.Resolve(ctx, buildRecord(t, headlinePayload(headlineItem())))
	require.ErrorIs(t, err, context.Canceled)
	require.ErrorIs(t, err, ingestion.ErrDimensionResolution)
}
