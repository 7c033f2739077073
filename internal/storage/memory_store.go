package storage

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/healthdash-io/healthdash/internal/ingestion"
)

// MemoryStore provides thread-safe in-memory storage for every reference and fact
// table. It enforces the same natural-key and fact-row uniqueness as the SQL schema.
type MemoryStore struct {
	// dims holds one table per reference dimension
	dims map[ingestion.Dimension]*memoryDimension

	headlines     *memoryFactTable[ingestion.CoreHeadline, ingestion.HeadlineKey]
	timeSeries    *memoryFactTable[ingestion.CoreTimeSeries, ingestion.CoreTimeSeriesKey]
	apiTimeSeries *memoryFactTable[ingestion.APITimeSeries, ingestion.APITimeSeriesKey]

	// mutex protects concurrent access to all tables
	mutex sync.RWMutex
}

type memoryDimension struct {
	// byKey maps natural keys to ids for get-or-create
	byKey map[ingestion.NaturalKey]int64
	// byID maps ids to natural keys for id lookups
	byID   map[int64]ingestion.NaturalKey
	nextID int64
}

type memoryFactTable[R, K any] struct {
	rows []R
	// seen holds the unique key of every stored row
	seen      map[string]struct{}
	uniqueKey func(R) string
	// supersedes reports whether row is replaced by a batch with key in partition isPublic
	supersedes func(row R, key K, isPublic bool) bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{
		dims: make(map[ingestion.Dimension]*memoryDimension),
	}

	for _, d := range ingestion.Dimensions() {
		s.dims[d] = &memoryDimension{
			byKey: make(map[ingestion.NaturalKey]int64),
			byID:  make(map[int64]ingestion.NaturalKey),
		}
	}

	s.headlines = &memoryFactTable[ingestion.CoreHeadline, ingestion.HeadlineKey]{
		seen:       make(map[string]struct{}),
		uniqueKey:  headlineUniqueKey,
		supersedes: s.headlineSuperseded,
	}
	s.timeSeries = &memoryFactTable[ingestion.CoreTimeSeries, ingestion.CoreTimeSeriesKey]{
		seen:       make(map[string]struct{}),
		uniqueKey:  timeSeriesUniqueKey,
		supersedes: s.timeSeriesSuperseded,
	}
	s.apiTimeSeries = &memoryFactTable[ingestion.APITimeSeries, ingestion.APITimeSeriesKey]{
		seen:       make(map[string]struct{}),
		uniqueKey:  apiTimeSeriesUniqueKey,
		supersedes: apiTimeSeriesSuperseded,
	}

	return s
}

// Registry returns the store registry backed by this in-memory store.
func (s *MemoryStore) Registry() *ingestion.Registry {
	dim := func(d ingestion.Dimension) ingestion.DimensionStore {
		return &memoryDimensionStore{store: s, dim: d}
	}

	return &ingestion.Registry{
		Themes:         dim(ingestion.DimensionTheme),
		SubThemes:      dim(ingestion.DimensionSubTheme),
		Topics:         dim(ingestion.DimensionTopic),
		GeographyTypes: dim(ingestion.DimensionGeographyType),
		Geographies:    dim(ingestion.DimensionGeography),
		MetricGroups:   dim(ingestion.DimensionMetricGroup),
		Metrics:        dim(ingestion.DimensionMetric),
		Strata:         dim(ingestion.DimensionStratum),
		Ages:           dim(ingestion.DimensionAge),
		Headlines:      &memoryFactStore[ingestion.CoreHeadline, ingestion.HeadlineKey]{store: s, table: s.headlines},
		TimeSeries:     &memoryFactStore[ingestion.CoreTimeSeries, ingestion.CoreTimeSeriesKey]{store: s, table: s.timeSeries},
		APITimeSeries:  &memoryFactStore[ingestion.APITimeSeries, ingestion.APITimeSeriesKey]{store: s, table: s.apiTimeSeries},
	}
}

// DimensionRows returns a copy of the natural keys stored for d, ordered by id.
func (s *MemoryStore) DimensionRows(d ingestion.Dimension) []ingestion.NaturalKey {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	table := s.dims[d]
	ids := make([]int64, 0, len(table.byID))

	for id := range table.byID {
		ids = append(ids, id)
	}

	slices.Sort(ids)

	keys := make([]ingestion.NaturalKey, len(ids))
	for i, id := range ids {
		keys[i] = table.byID[id]
	}

	return keys
}

// DimensionCount returns the number of rows stored for every dimension.
func (s *MemoryStore) DimensionCount() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	total := 0
	for _, table := range s.dims {
		total += len(table.byID)
	}

	return total
}

// Headlines returns a copy of the stored core headline rows.
func (s *MemoryStore) Headlines() []ingestion.CoreHeadline {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	return slices.Clone(s.headlines.rows)
}

// TimeSeries returns a copy of the stored core time series rows.
func (s *MemoryStore) TimeSeries() []ingestion.CoreTimeSeries {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	return slices.Clone(s.timeSeries.rows)
}

// APITimeSeries returns a copy of the stored API time series rows.
func (s *MemoryStore) APITimeSeries() []ingestion.APITimeSeries {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	return slices.Clone(s.apiTimeSeries.rows)
}

type memoryDimensionStore struct {
	store *MemoryStore
	dim   ingestion.Dimension
}

func (m *memoryDimensionStore) GetOrCreate(ctx context.Context, key ingestion.NaturalKey) (int64, bool, error) {
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}

	m.store.mutex.Lock()
	defer m.store.mutex.Unlock()

	table := m.store.dims[m.dim]

	if id, exists := table.byKey[key]; exists {
		return id, false, nil
	}

	table.nextID++
	table.byKey[key] = table.nextID
	table.byID[table.nextID] = key

	return table.nextID, true, nil
}

func (m *memoryDimensionStore) FindByID(ctx context.Context, id int64) (ingestion.NaturalKey, error) {
	if err := ctx.Err(); err != nil {
		return ingestion.NaturalKey{}, err
	}

	m.store.mutex.RLock()
	defer m.store.mutex.RUnlock()

	key, exists := m.store.dims[m.dim].byID[id]
	if !exists {
		return ingestion.NaturalKey{}, fmt.Errorf("%w: %s #%d", ingestion.ErrNotFound, m.dim, id)
	}

	return key, nil
}

type memoryFactStore[R, K any] struct {
	store *MemoryStore
	table *memoryFactTable[R, K]
}

func (m *memoryFactStore[R, K]) DeleteSuperseded(ctx context.Context, key K, isPublic bool) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	m.store.mutex.Lock()
	defer m.store.mutex.Unlock()

	kept := m.table.rows[:0]

	var deleted int64

	for _, row := range m.table.rows {
		if m.table.supersedes(row, key, isPublic) {
			delete(m.table.seen, m.table.uniqueKey(row))

			deleted++

			continue
		}

		kept = append(kept, row)
	}

	m.table.rows = kept

	return deleted, nil
}

func (m *memoryFactStore[R, K]) BulkInsert(ctx context.Context, rows []R, batchSize int) (int64, error) {
	if batchSize <= 0 {
		return 0, fmt.Errorf("%w: got %d", ingestion.ErrInvalidBatchSize, batchSize)
	}

	var inserted int64

	for chunk := range slices.Chunk(rows, batchSize) {
		if err := ctx.Err(); err != nil {
			return inserted, err
		}

		inserted += m.insertChunk(chunk)
	}

	return inserted, nil
}

func (m *memoryFactStore[R, K]) insertChunk(chunk []R) int64 {
	m.store.mutex.Lock()
	defer m.store.mutex.Unlock()

	var inserted int64

	for _, row := range chunk {
		key := m.table.uniqueKey(row)
		if _, exists := m.table.seen[key]; exists {
			continue
		}

		m.table.seen[key] = struct{}{}
		m.table.rows = append(m.table.rows, row)
		inserted++
	}

	return inserted
}

// name returns the stored name of a dimension row. Callers hold the mutex.
func (s *MemoryStore) name(d ingestion.Dimension, id int64) ingestion.NaturalKey {
	return s.dims[d].byID[id]
}

func (s *MemoryStore) headlineSuperseded(row ingestion.CoreHeadline, key ingestion.HeadlineKey, isPublic bool) bool {
	if row.IsPublic != isPublic || !row.RefreshDate.Before(key.RefreshedBefore) || row.Sex != key.Sex {
		return false
	}

	metric := s.name(ingestion.DimensionMetric, row.MetricID)

	return metric.Name == key.Metric &&
		s.name(ingestion.DimensionTopic, metric.TopicID).Name == key.Topic &&
		s.geographyMatches(row.GeographyID, key.Geography, key.GeographyCode, key.GeographyType) &&
		s.name(ingestion.DimensionStratum, row.StratumID).Name == key.Stratum &&
		s.name(ingestion.DimensionAge, row.AgeID).Name == key.Age
}

func (s *MemoryStore) timeSeriesSuperseded(row ingestion.CoreTimeSeries, key ingestion.CoreTimeSeriesKey, isPublic bool) bool {
	if row.IsPublic != isPublic || !row.RefreshDate.Before(key.RefreshedBefore) || row.Sex != key.Sex {
		return false
	}

	return s.name(ingestion.DimensionMetric, row.MetricID).Name == key.Metric &&
		s.geographyMatches(row.GeographyID, key.Geography, key.GeographyCode, key.GeographyType) &&
		s.name(ingestion.DimensionStratum, row.StratumID).Name == key.Stratum &&
		s.name(ingestion.DimensionAge, row.AgeID).Name == key.Age
}

func (s *MemoryStore) geographyMatches(id int64, name, code, geographyType string) bool {
	geography := s.name(ingestion.DimensionGeography, id)

	return geography.Name == name &&
		geography.Code == code &&
		s.name(ingestion.DimensionGeographyType, geography.ParentID).Name == geographyType
}

func apiTimeSeriesSuperseded(row ingestion.APITimeSeries, key ingestion.APITimeSeriesKey, isPublic bool) bool {
	return row.IsPublic == isPublic &&
		row.RefreshDate.Before(key.RefreshedBefore) &&
		row.Theme == key.Theme &&
		row.SubTheme == key.SubTheme &&
		row.Topic == key.Topic &&
		row.Metric == key.Metric &&
		row.Geography == key.Geography &&
		row.GeographyType == key.GeographyType &&
		row.GeographyCode == key.GeographyCode &&
		row.Stratum == key.Stratum &&
		row.Sex == key.Sex &&
		row.Age == key.Age
}

func headlineUniqueKey(r ingestion.CoreHeadline) string {
	return fmt.Sprint(r.MetricID, r.GeographyID, r.StratumID, r.AgeID, r.Sex, r.IsPublic,
		utcKey(r.PeriodStart), utcKey(r.PeriodEnd), utcKey(r.RefreshDate))
}

func timeSeriesUniqueKey(r ingestion.CoreTimeSeries) string {
	return fmt.Sprint(r.MetricID, r.GeographyID, r.StratumID, r.AgeID, r.Sex, r.IsPublic,
		utcKey(r.Date), utcKey(r.RefreshDate))
}

func apiTimeSeriesUniqueKey(r ingestion.APITimeSeries) string {
	return fmt.Sprint(r.Metric, "|", r.Topic, "|", r.GeographyType, "|", r.Geography, "|", r.GeographyCode, "|",
		r.Stratum, "|", r.Age, "|", r.Sex, r.IsPublic, utcKey(r.Date), utcKey(r.RefreshDate))
}

func utcKey(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
