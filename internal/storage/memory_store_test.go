package storage

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/healthdash-io/healthdash/internal/ingestion"
	"github.com/healthdash-io/healthdash/internal/taxonomy"
)

func TestMemoryStore_GetOrCreateIsIdempotent(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	ctx := context.Background()
	registry := NewMemoryStore().Registry()

	id, created, err := registry.Themes.GetOrCreate(ctx, ingestion.NaturalKey{Name: "infectious_disease"})
	require.NoError(t, err)
	assert.True(t, created)

	again, created, err := registry.Themes.GetOrCreate(ctx, ingestion.NaturalKey{Name: "infectious_disease"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, id, again)

	other, created, err := registry.Themes.GetOrCreate(ctx, ingestion.NaturalKey{Name: "extreme_event"})
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, id, other)
}

func TestMemoryStore_NaturalKeyIncludesParent(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	ctx := context.Background()
	registry := NewMemoryStore().Registry()

	first, _, err := registry.SubThemes.GetOrCreate(ctx, ingestion.NaturalKey{Name: "respiratory", ParentID: 1})
	require.NoError(t, err)

	second, created, err := registry.SubThemes.GetOrCreate(ctx, ingestion.NaturalKey{Name: "respiratory", ParentID: 2})
	require.NoError(t, err)
	assert.True(t, created, "same name under another parent is a different row")
	assert.NotEqual(t, first, second)
}

func TestMemoryStore_ConcurrentGetOrCreate(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	ctx := context.Background()
	store := NewMemoryStore()
	registry := store.Registry()

	const workers = 16

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		ids     = make(map[int64]int)
		creates int
	)

	for range workers {
		wg.Add(1)

		go func() {
			defer wg.Done()

			id, created, err := registry.Ages.GetOrCreate(ctx, ingestion.NaturalKey{Name: "00-04"})
			assert.NoError(t, err)

			mu.Lock()
			defer mu.Unlock()

			ids[id]++

			if created {
				creates++
			}
		}()
	}

	wg.Wait()

	assert.Len(t, ids, 1)
	assert.Equal(t, 1, creates)
	assert.Len(t, store.DimensionRows(ingestion.DimensionAge), 1)
}

func TestMemoryStore_FindByID(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	ctx := context.Background()
	registry := NewMemoryStore().Registry()

	key := ingestion.NaturalKey{Name: "England", Code: "E92000001", ParentID: 4}

	id, _, err := registry.Geographies.GetOrCreate(ctx, key)
	require.NoError(t, err)

	found, err := registry.Geographies.FindByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, key, found)

	_, err = registry.Geographies.FindByID(ctx, id+100)
	require.ErrorIs(t, err, ingestion.ErrNotFound)
}

func TestMemoryStore_BulkInsertIgnoresDuplicates(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	ctx := context.Background()
	store := NewMemoryStore()
	registry := store.Registry()

	refresh := time.Date(2023, 11, 20, 0, 0, 0, 0, time.UTC)
	rows := []ingestion.CoreTimeSeries{
		timeSeriesRow(refresh, time.Date(2023, 7, 31, 0, 0, 0, 0, time.UTC), true),
		timeSeriesRow(refresh, time.Date(2023, 8, 7, 0, 0, 0, 0, time.UTC), true),
		timeSeriesRow(refresh, time.Date(2023, 8, 14, 0, 0, 0, 0, time.UTC), true),
	}

	n, err := registry.TimeSeries.BulkInsert(ctx, rows, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	n, err = registry.TimeSeries.BulkInsert(ctx, rows, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n, "replayed rows conflict and are ignored")
	assert.Len(t, store.TimeSeries(), 3)

	_, err = registry.TimeSeries.BulkInsert(ctx, rows, 0)
	require.ErrorIs(t, err, ingestion.ErrInvalidBatchSize)
}

func TestMemoryStore_DeleteSupersededRespectsPartitionAndRefresh(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	ctx := context.Background()
	store := NewMemoryStore()
	registry := store.Registry()

	older := time.Date(2023, 11, 13, 0, 0, 0, 0, time.UTC)
	newer := time.Date(2023, 11, 20, 0, 0, 0, 0, time.UTC)
	date := time.Date(2023, 7, 31, 0, 0, 0, 0, time.UTC)

	rows := []ingestion.APITimeSeries{
		apiRow(timeSeriesRow(older, date, true)),
		apiRow(timeSeriesRow(older, date, false)),
		apiRow(timeSeriesRow(newer, date, true)),
	}

	_, err := registry.APITimeSeries.BulkInsert(ctx, rows, 100)
	require.NoError(t, err)

	key := ingestion.APITimeSeriesKey{
		Theme: "infectious_disease", SubTheme: "respiratory", Topic: "COVID-19",
		Metric: "COVID-19_cases_casesByDay", Geography: "England", GeographyType: "Nation",
		GeographyCode: "E92000001", Stratum: "default", Sex: taxonomy.SexAll, Age: "all",
		RefreshedBefore: newer,
	}

	deleted, err := registry.APITimeSeries.DeleteSuperseded(ctx, key, true)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted, "only the older public row is superseded")

	remaining := store.APITimeSeries()
	require.Len(t, remaining, 2)

	for _, row := range remaining {
		if row.IsPublic {
			assert.Equal(t, newer, row.RefreshDate)
		} else {
			assert.Equal(t, older, row.RefreshDate, "private history survives a public refresh")
		}
	}

	// The deleted row's unique key is free again.
	n, err := registry.APITimeSeries.BulkInsert(ctx, rows[:1], 100)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func timeSeriesRow(refresh, date time.Time, isPublic bool) ingestion.CoreTimeSeries {
	return ingestion.CoreTimeSeries{
		MetricID:        1,
		GeographyID:     1,
		StratumID:       1,
		AgeID:           1,
		Sex:             taxonomy.SexAll,
		RefreshDate:     refresh,
		MetricFrequency: taxonomy.FrequencyWeekly,
		Date:            date,
		Epiweek:         31,
		Year:            date.Year(),
		Month:           int(date.Month()),
		MetricValue:     decimal.RequireFromString("42"),
		IsPublic:        isPublic,
	}
}

func apiRow(core ingestion.CoreTimeSeries) ingestion.APITimeSeries {
	return ingestion.APITimeSeries{
		CoreTimeSeries: core,
		Theme:          "infectious_disease",
		SubTheme:       "respiratory",
		Topic:          "COVID-19",
		MetricGroup:    "cases",
		Metric:         "COVID-19_cases_casesByDay",
		GeographyType:  "Nation",
		Geography:      "England",
		GeographyCode:  "E92000001",
		Age:            "all",
		Stratum:        "default",
	}
}
