package ingestion

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/healthdash-io/healthdash/internal/taxonomy"
	"github.com/healthdash-io/healthdash/internal/validation"
)

const (
	headlineBodyField   = "data"
	timeSeriesBodyField = "time_series"
)

// requiredHeaderFields lists the top-level fields every payload must carry, in the
// order they are checked.
var requiredHeaderFields = []string{ //nolint:gochecknoglobals
	"parent_theme",
	"child_theme",
	"topic",
	"metric_group",
	"metric",
	"geography_type",
	"geography",
	"geography_code",
	"age",
	"sex",
	"stratum",
	"refresh_date",
}

// BuildOptions controls payload building.
type BuildOptions struct {
	// Taxonomy is the theme/topic allow-list. Nil means taxonomy.Default().
	Taxonomy *taxonomy.Taxonomy

	// AuthEnabled permits is_public=false items.
	AuthEnabled bool
}

// ParseJSON decodes a payload object. Numbers are kept as json.Number so metric
// values reach decimal.Decimal without float rounding.
func ParseJSON(r io.Reader) (map[string]any, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	var payload map[string]any
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: malformed JSON payload: %w", ErrValidation, err)
	}

	if payload == nil {
		return nil, fmt.Errorf("%w: payload must be a JSON object", ErrValidation)
	}

	return payload, nil
}

// BuildRecord validates a parsed payload and returns a *HeadlineRecord when
// metric_group is "headline", or a *TimeSeriesRecord for any other metric group.
//
// Errors are *FieldError values matching ErrMissingField, ErrInvalidBody,
// ErrValidation or ErrNonPublicDataSentToPublicIngestion.
func BuildRecord(payload map[string]any, opts BuildOptions) (Record, error) {
	tax := opts.Taxonomy
	if tax == nil {
		tax = taxonomy.Default()
	}

	group, err := metricGroupOf(payload)
	if err != nil {
		return nil, err
	}

	required := requiredHeaderFields
	if !group.IsHeadline() {
		required = append(required[:len(required):len(required)], "metric_frequency")
	}

	for _, field := range required {
		if value, ok := payload[field]; !ok || value == nil {
			return nil, missingField(field)
		}
	}

	header, err := decodeHeader(payload)
	if err != nil {
		return nil, err
	}

	if group.IsHeadline() {
		return buildHeadline(payload, header, group, tax, opts.AuthEnabled)
	}

	return buildTimeSeries(payload, header, group, tax, opts.AuthEnabled)
}

func metricGroupOf(payload map[string]any) (taxonomy.MetricGroup, error) {
	raw, ok := payload["metric_group"]
	if !ok || raw == nil {
		return "", missingField("metric_group")
	}

	name, ok := raw.(string)
	if !ok {
		return "", invalidField("metric_group", raw, validation.ErrInvalidMetricGroup)
	}

	group, err := validation.ParseMetricGroup(name)
	if err != nil {
		return "", invalidField("metric_group", name, err)
	}

	return group, nil
}

func buildHeadline(
	payload map[string]any,
	header *IncomingHeader,
	group taxonomy.MetricGroup,
	tax *taxonomy.Taxonomy,
	authEnabled bool,
) (*HeadlineRecord, error) {
	items, err := bodyItems(payload, headlineBodyField)
	if err != nil {
		return nil, err
	}

	if len(items) != 1 {
		return nil, &FieldError{
			Kind:  ErrInvalidBody,
			Field: headlineBodyField,
			Value: len(items),
			Err:   errors.New("headline payloads carry exactly one data item"),
		}
	}

	base, err := header.toBase(group, tax)
	if err != nil {
		return nil, err
	}

	record := &HeadlineRecord{BaseRecord: base, Data: []HeadlineItem{}}

	for _, it := range withMetricValue(items, headlineBodyField) {
		incoming, err := decodeHeadlineItem(it.raw, it.prefix)
		if err != nil {
			return nil, err
		}

		item, err := incoming.toItem(it.prefix, authEnabled)
		if err != nil {
			return nil, err
		}

		record.Data = append(record.Data, item)
	}

	return record, nil
}

func buildTimeSeries(
	payload map[string]any,
	header *IncomingHeader,
	group taxonomy.MetricGroup,
	tax *taxonomy.Taxonomy,
	authEnabled bool,
) (*TimeSeriesRecord, error) {
	items, err := bodyItems(payload, timeSeriesBodyField)
	if err != nil {
		return nil, err
	}

	base, err := header.toBase(group, tax)
	if err != nil {
		return nil, err
	}

	frequency, err := validation.ParseMetricFrequency(header.MetricFrequency)
	if err != nil {
		return nil, invalidField("metric_frequency", header.MetricFrequency, err)
	}

	record := &TimeSeriesRecord{
		BaseRecord:      base,
		MetricFrequency: frequency,
		TimeSeries:      []TimeSeriesItem{},
	}

	kept := withMetricValue(items, timeSeriesBodyField)

	for _, it := range kept {
		incoming, err := decodeTimeSeriesItem(it.raw, it.prefix)
		if err != nil {
			return nil, err
		}

		item, err := incoming.toItem(it.prefix, authEnabled)
		if err != nil {
			return nil, err
		}

		record.TimeSeries = append(record.TimeSeries, item)
	}

	flags := make([]bool, len(record.TimeSeries))
	for i, item := range record.TimeSeries {
		flags[i] = item.InReportingDelayPeriod
	}

	if idx, err := validation.ValidateDelayPeriods(flags); err != nil {
		return nil, invalidField(kept[idx].prefix+"in_reporting_delay_period", false, err)
	}

	return record, nil
}

// bodyItems returns the body array under field. Absent is a missing field; null,
// a non-array or a non-object element is an invalid body.
func bodyItems(payload map[string]any, field string) ([]map[string]any, error) {
	raw, ok := payload[field]
	if !ok {
		return nil, missingField(field)
	}

	if raw == nil {
		return nil, &FieldError{Kind: ErrInvalidBody, Field: field, Err: errors.New("body must not be null")}
	}

	list, ok := raw.([]any)
	if !ok {
		return nil, &FieldError{Kind: ErrInvalidBody, Field: field, Value: raw, Err: errors.New("body must be an array")}
	}

	items := make([]map[string]any, len(list))

	for i, elem := range list {
		obj, ok := elem.(map[string]any)
		if !ok {
			return nil, &FieldError{
				Kind:  ErrInvalidBody,
				Field: field + "[" + strconv.Itoa(i) + "]",
				Value: elem,
				Err:   errors.New("body item must be an object"),
			}
		}

		items[i] = obj
	}

	return items, nil
}

type bodyItem struct {
	raw    map[string]any
	prefix string
}

// withMetricValue drops items whose metric_value is null or absent. Prefixes keep
// the index the item had in the payload.
func withMetricValue(items []map[string]any, field string) []bodyItem {
	kept := make([]bodyItem, 0, len(items))

	for i, raw := range items {
		if value, ok := raw["metric_value"]; !ok || value == nil {
			continue
		}

		kept = append(kept, bodyItem{raw: raw, prefix: itemPrefix(field, i)})
	}

	return kept
}

func itemPrefix(field string, index int) string {
	return field + "[" + strconv.Itoa(index) + "]."
}
