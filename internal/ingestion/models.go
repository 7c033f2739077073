package ingestion

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/healthdash-io/healthdash/internal/taxonomy"
)

// RefValue is a reference field that arrives either as a name or as the id of an
// existing reference row. Pipelines that resolve ids upstream send integers.
type RefValue struct {
	Name string
	ID   int64
}

// Ref returns a name reference.
func Ref(name string) RefValue {
	return RefValue{Name: name}
}

// RefID returns an id reference.
func RefID(id int64) RefValue {
	return RefValue{ID: id}
}

// IsID reports whether the reference carries a pre-resolved id.
func (r RefValue) IsID() bool {
	return r.ID > 0
}

// IsZero reports whether the reference carries neither a name nor an id.
func (r RefValue) IsZero() bool {
	return r.Name == "" && r.ID == 0
}

func (r RefValue) String() string {
	if r.IsID() {
		return "#" + strconv.FormatInt(r.ID, 10)
	}

	return r.Name
}

// UnmarshalJSON accepts a JSON string (name) or a positive integer (id).
// null leaves the reference empty.
func (r *RefValue) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)

	if bytes.Equal(data, []byte("null")) {
		return nil
	}

	if len(data) > 0 && data[0] == '"' {
		var name string
		if err := json.Unmarshal(data, &name); err != nil {
			return err
		}

		*r = RefValue{Name: name}

		return nil
	}

	var id int64
	if err := json.Unmarshal(data, &id); err != nil || id <= 0 {
		return fmt.Errorf("expected a name or a positive integer id, got %s", data)
	}

	*r = RefValue{ID: id}

	return nil
}

// MarshalJSON writes ids as integers and names as strings.
func (r RefValue) MarshalJSON() ([]byte, error) {
	if r.IsID() {
		return []byte(strconv.FormatInt(r.ID, 10)), nil
	}

	return json.Marshal(r.Name)
}

type (
	// IncomingHeader is the permissive form of the top-level payload fields.
	IncomingHeader struct {
		ParentTheme     RefValue `json:"parent_theme"`
		ChildTheme      RefValue `json:"child_theme"`
		Topic           RefValue `json:"topic"`
		MetricGroup     string   `json:"metric_group"`
		Metric          RefValue `json:"metric"`
		GeographyType   RefValue `json:"geography_type"`
		Geography       RefValue `json:"geography"`
		GeographyCode   string   `json:"geography_code"`
		Age             RefValue `json:"age"`
		Sex             string   `json:"sex"`
		Stratum         RefValue `json:"stratum"`
		RefreshDate     string   `json:"refresh_date"`
		MetricFrequency string   `json:"metric_frequency"`
	}

	// IncomingHeadlineItem is the permissive form of one headline body item.
	// Pointer fields distinguish "absent" from a zero value.
	IncomingHeadlineItem struct {
		PeriodStart     *string          `json:"period_start"`
		PeriodEnd       string           `json:"period_end"       validate:"required"`
		MetricValue     *decimal.Decimal `json:"metric_value"`
		Embargo         *string          `json:"embargo"`
		UpperConfidence *decimal.Decimal `json:"upper_confidence"`
		LowerConfidence *decimal.Decimal `json:"lower_confidence"`
		IsPublic        *bool            `json:"is_public"`
	}

	// IncomingTimeSeriesItem is the permissive form of one time series body item.
	IncomingTimeSeriesItem struct {
		Epiweek                *int             `json:"epiweek"                   validate:"required,min=1,max=53"`
		Date                   string           `json:"date"                      validate:"required"`
		Embargo                *string          `json:"embargo"`
		MetricValue            *decimal.Decimal `json:"metric_value"`
		InReportingDelayPeriod *bool            `json:"in_reporting_delay_period"`
		ForceWrite             *bool            `json:"force_write"`
		IsPublic               *bool            `json:"is_public"`
	}
)

// BaseRecord holds the validated header shared by headline and time series records.
// Name references have passed every name-based rule; id references are checked
// for existence by the resolver.
type BaseRecord struct {
	ParentTheme   RefValue
	ChildTheme    RefValue
	Topic         RefValue
	MetricGroup   taxonomy.MetricGroup
	Metric        RefValue
	GeographyType RefValue
	Geography     RefValue
	GeographyCode string
	Age           RefValue
	Sex           taxonomy.Sex
	Stratum       RefValue
	RefreshDate   time.Time
}

type (
	// HeadlineItem is one validated headline observation. Times are UTC.
	HeadlineItem struct {
		PeriodStart     time.Time
		PeriodEnd       time.Time
		MetricValue     decimal.Decimal
		Embargo         *time.Time
		UpperConfidence *decimal.Decimal
		LowerConfidence *decimal.Decimal
		IsPublic        bool
	}

	// HeadlineRecord is a validated headline payload.
	HeadlineRecord struct {
		BaseRecord
		Data []HeadlineItem
	}

	// TimeSeriesItem is one validated time series observation. Times are UTC.
	TimeSeriesItem struct {
		Epiweek                int
		Date                   time.Time
		Embargo                *time.Time
		MetricValue            decimal.Decimal
		InReportingDelayPeriod bool
		ForceWrite             bool
		IsPublic               bool
	}

	// TimeSeriesRecord is a validated time series payload.
	TimeSeriesRecord struct {
		BaseRecord
		MetricFrequency taxonomy.MetricFrequency
		TimeSeries      []TimeSeriesItem
	}
)

// Record is a validated payload: *HeadlineRecord or *TimeSeriesRecord.
type Record interface {
	Base() *BaseRecord
	IsHeadline() bool
	// Len is the number of body items left after null filtering.
	Len() int
	// Partitions returns the distinct is_public values of the body, true first.
	Partitions() []bool
}

// Base returns the shared header.
func (r *HeadlineRecord) Base() *BaseRecord { return &r.BaseRecord }

// IsHeadline is true for headline records.
func (r *HeadlineRecord) IsHeadline() bool { return true }

// Len returns the number of body items.
func (r *HeadlineRecord) Len() int { return len(r.Data) }

// Partitions returns the visibility partitions present in the body.
func (r *HeadlineRecord) Partitions() []bool {
	flags := make([]bool, len(r.Data))
	for i, item := range r.Data {
		flags[i] = item.IsPublic
	}

	return partitions(flags)
}

// Base returns the shared header.
func (r *TimeSeriesRecord) Base() *BaseRecord { return &r.BaseRecord }

// IsHeadline is false for time series records.
func (r *TimeSeriesRecord) IsHeadline() bool { return false }

// Len returns the number of body items.
func (r *TimeSeriesRecord) Len() int { return len(r.TimeSeries) }

// Partitions returns the visibility partitions present in the body.
func (r *TimeSeriesRecord) Partitions() []bool {
	flags := make([]bool, len(r.TimeSeries))
	for i, item := range r.TimeSeries {
		flags[i] = item.IsPublic
	}

	return partitions(flags)
}

func partitions(flags []bool) []bool {
	var hasPublic, hasPrivate bool

	for _, f := range flags {
		if f {
			hasPublic = true
		} else {
			hasPrivate = true
		}
	}

	out := make([]bool, 0, 2)
	if hasPublic {
		out = append(out, true)
	}

	if hasPrivate {
		out = append(out, false)
	}

	return out
}
