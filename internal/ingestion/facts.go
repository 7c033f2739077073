package ingestion

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/healthdash-io/healthdash/internal/taxonomy"
)

type (
	// CoreHeadline is a row of the core headline fact table.
	CoreHeadline struct {
		MetricID        int64
		GeographyID     int64
		StratumID       int64
		AgeID           int64
		Sex             taxonomy.Sex
		RefreshDate     time.Time
		Embargo         *time.Time
		PeriodStart     time.Time
		PeriodEnd       time.Time
		MetricValue     decimal.Decimal
		UpperConfidence *decimal.Decimal
		LowerConfidence *decimal.Decimal
		IsPublic        bool
	}

	// CoreTimeSeries is a row of the core time series fact table.
	CoreTimeSeries struct {
		MetricID               int64
		GeographyID            int64
		StratumID              int64
		AgeID                  int64
		Sex                    taxonomy.Sex
		RefreshDate            time.Time
		Embargo                *time.Time
		MetricFrequency        taxonomy.MetricFrequency
		Date                   time.Time
		Epiweek                int
		Year                   int
		Month                  int
		MetricValue            decimal.Decimal
		InReportingDelayPeriod bool
		ForceWrite             bool
		IsPublic               bool
	}

	// APITimeSeries is the denormalised time series row served to the public API.
	// It repeats the core scalars and carries dimension names instead of ids.
	APITimeSeries struct {
		CoreTimeSeries

		Theme         string
		SubTheme      string
		Topic         string
		MetricGroup   string
		Metric        string
		GeographyType string
		Geography     string
		GeographyCode string
		Age           string
		Stratum       string
	}
)

// BuildHeadlineRows turns a headline record into CoreHeadline rows.
func BuildHeadlineRows(record *HeadlineRecord, dims *ResolvedDimensions) []CoreHeadline {
	rows := make([]CoreHeadline, 0, len(record.Data))

	for _, item := range record.Data {
		rows = append(rows, CoreHeadline{
			MetricID:        dims.MetricID,
			GeographyID:     dims.GeographyID,
			StratumID:       dims.StratumID,
			AgeID:           dims.AgeID,
			Sex:             record.Sex,
			RefreshDate:     record.RefreshDate.UTC(),
			Embargo:         utcPtr(item.Embargo),
			PeriodStart:     item.PeriodStart.UTC(),
			PeriodEnd:       item.PeriodEnd.UTC(),
			MetricValue:     item.MetricValue,
			UpperConfidence: item.UpperConfidence,
			LowerConfidence: item.LowerConfidence,
			IsPublic:        item.IsPublic,
		})
	}

	return rows
}

// BuildTimeSeriesRows turns a time series record into its core and API rows, in
// body order. Year and month come from the item date.
func BuildTimeSeriesRows(record *TimeSeriesRecord, dims *ResolvedDimensions) ([]CoreTimeSeries, []APITimeSeries) {
	core := make([]CoreTimeSeries, 0, len(record.TimeSeries))
	api := make([]APITimeSeries, 0, len(record.TimeSeries))

	for _, item := range record.TimeSeries {
		date := item.Date.UTC()

		row := CoreTimeSeries{
			MetricID:               dims.MetricID,
			GeographyID:            dims.GeographyID,
			StratumID:              dims.StratumID,
			AgeID:                  dims.AgeID,
			Sex:                    record.Sex,
			RefreshDate:            record.RefreshDate.UTC(),
			Embargo:                utcPtr(item.Embargo),
			MetricFrequency:        record.MetricFrequency,
			Date:                   date,
			Epiweek:                item.Epiweek,
			Year:                   date.Year(),
			Month:                  int(date.Month()),
			MetricValue:            item.MetricValue,
			InReportingDelayPeriod: item.InReportingDelayPeriod,
			ForceWrite:             item.ForceWrite,
			IsPublic:               item.IsPublic,
		}

		core = append(core, row)
		api = append(api, APITimeSeries{
			CoreTimeSeries: row,
			Theme:          dims.Theme,
			SubTheme:       dims.SubTheme,
			Topic:          dims.Topic,
			MetricGroup:    dims.MetricGroup,
			Metric:         dims.Metric,
			GeographyType:  dims.GeographyType,
			Geography:      dims.Geography,
			GeographyCode:  dims.GeographyCode,
			Age:            dims.Age,
			Stratum:        dims.Stratum,
		})
	}

	return core, api
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}

	u := t.UTC()

	return &u
}
