package ingestion

import (
	"context"
	"fmt"
)

// HeadlineKeyFor returns the supersession key of a resolved headline record.
func HeadlineKeyFor(record *HeadlineRecord, dims *ResolvedDimensions) HeadlineKey {
	return HeadlineKey{
		Topic:           dims.Topic,
		Metric:          dims.Metric,
		Geography:       dims.Geography,
		GeographyType:   dims.GeographyType,
		GeographyCode:   dims.GeographyCode,
		Stratum:         dims.Stratum,
		Sex:             record.Sex,
		Age:             dims.Age,
		RefreshedBefore: record.RefreshDate.UTC(),
	}
}

// CoreTimeSeriesKeyFor returns the core time series supersession key of a resolved record.
func CoreTimeSeriesKeyFor(record *TimeSeriesRecord, dims *ResolvedDimensions) CoreTimeSeriesKey {
	return CoreTimeSeriesKey{
		Metric:          dims.Metric,
		Geography:       dims.Geography,
		GeographyType:   dims.GeographyType,
		GeographyCode:   dims.GeographyCode,
		Stratum:         dims.Stratum,
		Sex:             record.Sex,
		Age:             dims.Age,
		RefreshedBefore: record.RefreshDate.UTC(),
	}
}

// APITimeSeriesKeyFor returns the API time series supersession key of a resolved record.
func APITimeSeriesKeyFor(record *TimeSeriesRecord, dims *ResolvedDimensions) APITimeSeriesKey {
	return APITimeSeriesKey{
		Theme:           dims.Theme,
		SubTheme:        dims.SubTheme,
		Topic:           dims.Topic,
		Metric:          dims.Metric,
		Geography:       dims.Geography,
		GeographyType:   dims.GeographyType,
		GeographyCode:   dims.GeographyCode,
		Stratum:         dims.Stratum,
		Sex:             record.Sex,
		Age:             dims.Age,
		RefreshedBefore: record.RefreshDate.UTC(),
	}
}

// clearStale deletes superseded rows once per visibility partition. Partitions
// are handled independently so a public refresh never touches private rows.
func clearStale[R, K any](
	ctx context.Context,
	store FactStore[R, K],
	table string,
	key K,
	partitions []bool,
) (int64, error) {
	var total int64

	for _, isPublic := range partitions {
		n, err := store.DeleteSuperseded(ctx, key, isPublic)
		if err != nil {
			return total, &StoreError{
				Kind: ErrWrite,
				Op:   fmt.Sprintf("delete superseded %s rows (is_public=%t)", table, isPublic),
				Err:  err,
			}
		}

		total += n
	}

	return total, nil
}
