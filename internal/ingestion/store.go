// Package ingestion turns vendor headline and time-series payloads into fact rows.
//
// This package defines the store interfaces the core needs, following the Dependency
// Inversion Principle. Concrete implementations (PostgreSQL, SQLite, in-memory) live
// in the internal/storage package and are injected through a Registry.
package ingestion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/healthdash-io/healthdash/internal/taxonomy"
)

var (
	// ErrNotFound is returned by DimensionStore.FindByID when no row has the id.
	ErrNotFound = errors.New("record not found")

	// ErrConcurrentInsert is returned by DimensionStore.GetOrCreate when an insert lost a
	// uniqueness race and the winning row is not visible yet. The resolver retries it.
	ErrConcurrentInsert = errors.New("concurrent insert of the same natural key")

	// ErrStoreUnavailable marks errors caused by a lost datastore connection.
	// Batch ingestion stops at the first such error.
	ErrStoreUnavailable = errors.New("datastore unavailable")

	// ErrIncompleteRegistry is returned when a Registry is missing a store.
	ErrIncompleteRegistry = errors.New("store registry is incomplete")
)

// Dimension names a reference table.
type Dimension string

// Reference dimensions, in resolution order.
const (
	DimensionTheme         Dimension = "theme"
	DimensionSubTheme      Dimension = "sub_theme"
	DimensionTopic         Dimension = "topic"
	DimensionGeographyType Dimension = "geography_type"
	DimensionGeography     Dimension = "geography"
	DimensionMetricGroup   Dimension = "metric_group"
	DimensionMetric        Dimension = "metric"
	DimensionStratum       Dimension = "stratum"
	DimensionAge           Dimension = "age"
)

// Dimensions lists every reference dimension in resolution order.
func Dimensions() []Dimension {
	return []Dimension{
		DimensionTheme, DimensionSubTheme, DimensionTopic,
		DimensionGeographyType, DimensionGeography,
		DimensionMetricGroup, DimensionMetric,
		DimensionStratum, DimensionAge,
	}
}

// NaturalKey is the unique key of a reference row. Fields a dimension does not use
// stay at their zero value:
//
//	theme, geography_type, stratum, age:  Name
//	sub_theme:     Name, ParentID = theme id
//	topic:         Name, ParentID = sub_theme id
//	metric_group:  Name, ParentID = topic id
//	metric:        Name, ParentID = metric_group id, TopicID = topic id
//	geography:     Name, Code, ParentID = geography_type id
type NaturalKey struct {
	Name     string
	Code     string
	ParentID int64
	TopicID  int64
}

type (
	// DimensionStore is the get-or-create contract for one reference table.
	//
	// Implementations must enforce natural-key uniqueness so that GetOrCreate is
	// idempotent: the second call with the same key returns the first call's id
	// with created=false.
	DimensionStore interface {
		// GetOrCreate returns the id of the row with key, inserting it when absent.
		GetOrCreate(ctx context.Context, key NaturalKey) (id int64, created bool, err error)

		// FindByID returns the natural key of an existing row, or ErrNotFound.
		FindByID(ctx context.Context, id int64) (NaturalKey, error)
	}

	// FactStore is the write contract for one fact table.
	//
	// R is the row type and K the supersession key type.
	FactStore[R, K any] interface {
		// DeleteSuperseded removes rows matching key within one visibility partition
		// and returns how many were removed. Implementations in this repository delete
		// only rows whose refresh_date is older than the key's RefreshedBefore, so a
		// replay of the same refresh deletes nothing. It is called once per partition
		// present in the body, so a body with no writable items supersedes nothing.
		DeleteSuperseded(ctx context.Context, key K, isPublic bool) (int64, error)

		// BulkInsert writes rows in batches of batchSize, ignoring duplicate-key
		// conflicts. It stops at the first failing batch and returns the number of
		// rows inserted before the failure.
		BulkInsert(ctx context.Context, rows []R, batchSize int) (int64, error)
	}

	// HeadlineStore is the fact store for CoreHeadline rows.
	HeadlineStore = FactStore[CoreHeadline, HeadlineKey]

	// TimeSeriesStore is the fact store for CoreTimeSeries rows.
	TimeSeriesStore = FactStore[CoreTimeSeries, CoreTimeSeriesKey]

	// APITimeSeriesStore is the fact store for APITimeSeries rows.
	APITimeSeriesStore = FactStore[APITimeSeries, APITimeSeriesKey]
)

// Registry holds the injected stores for every dimension and fact table.
type Registry struct {
	Themes         DimensionStore
	SubThemes      DimensionStore
	Topics         DimensionStore
	GeographyTypes DimensionStore
	Geographies    DimensionStore
	MetricGroups   DimensionStore
	Metrics        DimensionStore
	Strata         DimensionStore
	Ages           DimensionStore

	Headlines     HeadlineStore
	TimeSeries    TimeSeriesStore
	APITimeSeries APITimeSeriesStore
}

// Validate checks that every store is set.
func (r *Registry) Validate() error {
	if r == nil {
		return fmt.Errorf("%w: registry is nil", ErrIncompleteRegistry)
	}

	for _, d := range Dimensions() {
		if r.Dimension(d) == nil {
			return fmt.Errorf("%w: no store for %s", ErrIncompleteRegistry, d)
		}
	}

	switch {
	case r.Headlines == nil:
		return fmt.Errorf("%w: no headline store", ErrIncompleteRegistry)
	case r.TimeSeries == nil:
		return fmt.Errorf("%w: no core time series store", ErrIncompleteRegistry)
	case r.APITimeSeries == nil:
		return fmt.Errorf("%w: no API time series store", ErrIncompleteRegistry)
	}

	return nil
}

// Dimension returns the store for d, or nil for an unknown dimension.
func (r *Registry) Dimension(d Dimension) DimensionStore {
	switch d {
	case DimensionTheme:
		return r.Themes
	case DimensionSubTheme:
		return r.SubThemes
	case DimensionTopic:
		return r.Topics
	case DimensionGeographyType:
		return r.GeographyTypes
	case DimensionGeography:
		return r.Geographies
	case DimensionMetricGroup:
		return r.MetricGroups
	case DimensionMetric:
		return r.Metrics
	case DimensionStratum:
		return r.Strata
	case DimensionAge:
		return r.Ages
	default:
		return nil
	}
}

type (
	// HeadlineKey identifies the headline rows a new headline batch supersedes.
	HeadlineKey struct {
		Topic           string
		Metric          string
		Geography       string
		GeographyType   string
		GeographyCode   string
		Stratum         string
		Sex             taxonomy.Sex
		Age             string
		RefreshedBefore time.Time
	}

	// CoreTimeSeriesKey identifies the core time series rows a new batch supersedes.
	CoreTimeSeriesKey struct {
		Metric          string
		Geography       string
		GeographyType   string
		GeographyCode   string
		Stratum         string
		Sex             taxonomy.Sex
		Age             string
		RefreshedBefore time.Time
	}

	// APITimeSeriesKey identifies the API time series rows a new batch supersedes.
	APITimeSeriesKey struct {
		Theme           string
		SubTheme        string
		Topic           string
		Metric          string
		Geography       string
		GeographyType   string
		GeographyCode   string
		Stratum         string
		Sex             taxonomy.Sex
		Age             string
		RefreshedBefore time.Time
	}
)
