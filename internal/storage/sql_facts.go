package storage

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/shopspring/decimal"

	"github.com/healthdash-io/healthdash/internal/ingestion"
)

var (
	headlineColumns = []string{ //nolint:gochecknoglobals
		"metric_id", "geography_id", "stratum_id", "age_id", "sex",
		"refresh_date", "embargo", "period_start", "period_end",
		"metric_value", "upper_confidence", "lower_confidence", "is_public",
	}

	timeSeriesColumns = []string{ //nolint:gochecknoglobals
		"metric_id", "geography_id", "stratum_id", "age_id", "sex",
		"refresh_date", "embargo", "metric_frequency", "date", "epiweek", "year", "month",
		"metric_value", "in_reporting_delay_period", "force_write", "is_public",
	}

	apiTimeSeriesColumns = []string{ //nolint:gochecknoglobals
		"theme", "sub_theme", "topic", "metric_group", "metric",
		"geography_type", "geography", "geography_code", "age", "stratum", "sex",
		"refresh_date", "embargo", "metric_frequency", "date", "epiweek", "year", "month",
		"metric_value", "in_reporting_delay_period", "force_write", "is_public",
	}
)

// sqlFactStore implements ingestion.FactStore for one fact table.
//
// DeleteSuperseded removes rows matching the key within one is_public partition whose
// refresh_date is older than the key's RefreshedBefore. Replaying a refresh therefore
// deletes nothing and its inserts are ignored as duplicates.
type sqlFactStore[R, K any] struct {
	conn    *Connection
	table   string
	columns []string
	// values returns the column values of row in columns order
	values func(c *Connection, row R) []any
	// matches returns the key predicate, excluding is_public and refresh_date
	matches func(key K) squirrel.Sqlizer
	// refreshedBefore returns the refresh cut-off carried by key
	refreshedBefore func(key K) time.Time
}

func (s *sqlFactStore[R, K]) DeleteSuperseded(ctx context.Context, key K, isPublic bool) (int64, error) {
	query, args, err := s.conn.builder().
		Delete(s.table).
		Where(s.matches(key)).
		Where(squirrel.Eq{"is_public": isPublic}).
		Where(squirrel.Lt{"refresh_date": s.conn.timeValue(s.refreshedBefore(key))}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("failed to build %s delete: %w", s.table, err)
	}

	res, err := s.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, wrapStoreErr(err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, wrapStoreErr(err)
	}

	return n, nil
}

// BulkInsert writes each chunk as one multi-row INSERT, so a chunk is stored whole
// or not at all. Chunks before a failing one stay committed.
func (s *sqlFactStore[R, K]) BulkInsert(ctx context.Context, rows []R, batchSize int) (int64, error) {
	if batchSize <= 0 {
		return 0, fmt.Errorf("%w: got %d", ingestion.ErrInvalidBatchSize, batchSize)
	}

	var (
		inserted int64
		offset   int
	)

	for chunk := range slices.Chunk(rows, batchSize) {
		insert := s.conn.builder().Insert(s.table).Columns(s.columns...)
		for _, row := range chunk {
			insert = insert.Values(s.values(s.conn, row)...)
		}

		query, args, err := insert.Suffix("ON CONFLICT DO NOTHING").ToSql()
		if err != nil {
			return inserted, fmt.Errorf("failed to build %s insert: %w", s.table, err)
		}

		res, err := s.conn.ExecContext(ctx, query, args...)
		if err != nil {
			return inserted, fmt.Errorf("batch at row %d: %w", offset, wrapStoreErr(err))
		}

		n, err := res.RowsAffected()
		if err != nil {
			return inserted, wrapStoreErr(err)
		}

		inserted += n
		offset += len(chunk)
	}

	return inserted, nil
}

func newHeadlineStore(conn *Connection) ingestion.HeadlineStore {
	return &sqlFactStore[ingestion.CoreHeadline, ingestion.HeadlineKey]{
		conn:    conn,
		table:   ingestion.TableCoreHeadline,
		columns: headlineColumns,
		values: func(c *Connection, r ingestion.CoreHeadline) []any {
			return []any{
				r.MetricID, r.GeographyID, r.StratumID, r.AgeID, string(r.Sex),
				c.timeValue(r.RefreshDate), c.nullableTime(r.Embargo),
				c.timeValue(r.PeriodStart), c.timeValue(r.PeriodEnd),
				r.MetricValue.String(), nullableDecimal(r.UpperConfidence), nullableDecimal(r.LowerConfidence),
				r.IsPublic,
			}
		},
		matches: func(k ingestion.HeadlineKey) squirrel.Sqlizer {
			return squirrel.And{
				squirrel.Expr(
					"metric_id IN (SELECT m.id FROM metric m JOIN topic t ON t.id = m.topic_id WHERE m.name = ? AND t.name = ?)",
					k.Metric, k.Topic),
				geographyMatches(k.Geography, k.GeographyCode, k.GeographyType),
				squirrel.Expr("stratum_id IN (SELECT id FROM stratum WHERE name = ?)", k.Stratum),
				squirrel.Expr("age_id IN (SELECT id FROM age WHERE name = ?)", k.Age),
				squirrel.Eq{"sex": string(k.Sex)},
			}
		},
		refreshedBefore: func(k ingestion.HeadlineKey) time.Time { return k.RefreshedBefore },
	}
}

func newTimeSeriesStore(conn *Connection) ingestion.TimeSeriesStore {
	return &sqlFactStore[ingestion.CoreTimeSeries, ingestion.CoreTimeSeriesKey]{
		conn:    conn,
		table:   ingestion.TableCoreTimeSeries,
		columns: timeSeriesColumns,
		values:  timeSeriesValues,
		matches: func(k ingestion.CoreTimeSeriesKey) squirrel.Sqlizer {
			return squirrel.And{
				squirrel.Expr("metric_id IN (SELECT id FROM metric WHERE name = ?)", k.Metric),
				geographyMatches(k.Geography, k.GeographyCode, k.GeographyType),
				squirrel.Expr("stratum_id IN (SELECT id FROM stratum WHERE name = ?)", k.Stratum),
				squirrel.Expr("age_id IN (SELECT id FROM age WHERE name = ?)", k.Age),
				squirrel.Eq{"sex": string(k.Sex)},
			}
		},
		refreshedBefore: func(k ingestion.CoreTimeSeriesKey) time.Time { return k.RefreshedBefore },
	}
}

func newAPITimeSeriesStore(conn *Connection) ingestion.APITimeSeriesStore {
	return &sqlFactStore[ingestion.APITimeSeries, ingestion.APITimeSeriesKey]{
		conn:    conn,
		table:   ingestion.TableAPITimeSeries,
		columns: apiTimeSeriesColumns,
		values: func(c *Connection, r ingestion.APITimeSeries) []any {
			names := []any{
				r.Theme, r.SubTheme, r.Topic, r.MetricGroup, r.Metric,
				r.GeographyType, r.Geography, r.GeographyCode, r.Age, r.Stratum,
			}

			// Drop the four id columns that lead the core values.
			return append(names, timeSeriesValues(c, r.CoreTimeSeries)[4:]...)
		},
		matches: func(k ingestion.APITimeSeriesKey) squirrel.Sqlizer {
			return squirrel.Eq{
				"theme":          k.Theme,
				"sub_theme":      k.SubTheme,
				"topic":          k.Topic,
				"metric":         k.Metric,
				"geography":      k.Geography,
				"geography_type": k.GeographyType,
				"geography_code": k.GeographyCode,
				"stratum":        k.Stratum,
				"sex":            string(k.Sex),
				"age":            k.Age,
			}
		},
		refreshedBefore: func(k ingestion.APITimeSeriesKey) time.Time { return k.RefreshedBefore },
	}
}

func timeSeriesValues(c *Connection, r ingestion.CoreTimeSeries) []any {
	return []any{
		r.MetricID, r.GeographyID, r.StratumID, r.AgeID, string(r.Sex),
		c.timeValue(r.RefreshDate), c.nullableTime(r.Embargo),
		string(r.MetricFrequency), c.timeValue(r.Date), r.Epiweek, r.Year, r.Month,
		r.MetricValue.String(), r.InReportingDelayPeriod, r.ForceWrite, r.IsPublic,
	}
}

func geographyMatches(name, code, geographyType string) squirrel.Sqlizer {
	return squirrel.Expr(
		"geography_id IN (SELECT g.id FROM geography g JOIN geography_type gt ON gt.id = g.geography_type_id "+
			"WHERE g.name = ? AND g.geography_code = ? AND gt.name = ?)",
		name, code, geographyType)
}

func nullableDecimal(d *decimal.Decimal) any {
	if d == nil {
		return nil
	}

	return d.String()
}
