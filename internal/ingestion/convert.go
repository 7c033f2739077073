package ingestion

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/healthdash-io/healthdash/internal/taxonomy"
	"github.com/healthdash-io/healthdash/internal/validation"
)

var itemValidator = newItemValidator()

func newItemValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	// Report JSON field names so error paths match the payload.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}

		return name
	})

	return v
}

// fieldTarget pairs a payload key with the value it decodes into.
type fieldTarget struct {
	name string
	dst  any
}

// decodeFields decodes each named field of raw into its target. Absent fields keep
// their zero value; a type mismatch becomes a ValidationError on prefix+name.
func decodeFields(raw map[string]any, prefix string, targets []fieldTarget) error {
	for _, t := range targets {
		value, ok := raw[t.name]
		if !ok {
			continue
		}

		data, err := json.Marshal(value)
		if err != nil {
			return invalidField(prefix+t.name, value, err)
		}

		if err := json.Unmarshal(data, t.dst); err != nil {
			return invalidField(prefix+t.name, value, err)
		}
	}

	return nil
}

// checkStruct runs the struct tag rules. "required" failures are missing fields;
// every other tag is a validation failure.
// requireKeys reports the first field absent from raw. An explicit null counts as present.
func requireKeys(raw map[string]any, prefix string, fields ...string) error {
	for _, field := range fields {
		if _, ok := raw[field]; !ok {
			return missingField(prefix + field)
		}
	}

	return nil
}

func checkStruct(item any, prefix string) error {
	err := itemValidator.Struct(item)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return invalidField(strings.TrimSuffix(prefix, "."), nil, err)
	}

	fe := fieldErrs[0]
	path := prefix + fe.Field()

	if fe.Tag() == "required" {
		return missingField(path)
	}

	return invalidField(path, fe.Value(), fmt.Errorf("failed %q rule (%s)", fe.Tag(), fe.Param()))
}

func decodeHeader(raw map[string]any) (*IncomingHeader, error) {
	h := &IncomingHeader{}

	err := decodeFields(raw, "", []fieldTarget{
		{"parent_theme", &h.ParentTheme},
		{"child_theme", &h.ChildTheme},
		{"topic", &h.Topic},
		{"metric_group", &h.MetricGroup},
		{"metric", &h.Metric},
		{"geography_type", &h.GeographyType},
		{"geography", &h.Geography},
		{"geography_code", &h.GeographyCode},
		{"age", &h.Age},
		{"sex", &h.Sex},
		{"stratum", &h.Stratum},
		{"refresh_date", &h.RefreshDate},
		{"metric_frequency", &h.MetricFrequency},
	})
	if err != nil {
		return nil, err
	}

	return h, nil
}

// toBase converts the header to its validated form, running the header rules in
// field order. Rules that need the name of an id reference run in the resolver
// once the referenced row is loaded.
func (h *IncomingHeader) toBase(group taxonomy.MetricGroup, tax *taxonomy.Taxonomy) (BaseRecord, error) {
	refs := []struct {
		field string
		ref   RefValue
	}{
		{"parent_theme", h.ParentTheme},
		{"child_theme", h.ChildTheme},
		{"topic", h.Topic},
		{"metric", h.Metric},
		{"geography_type", h.GeographyType},
		{"geography", h.Geography},
		{"age", h.Age},
		{"stratum", h.Stratum},
	}
	for _, r := range refs {
		if r.ref.IsZero() {
			return BaseRecord{}, missingField(r.field)
		}
	}

	base := BaseRecord{
		ParentTheme:   h.ParentTheme,
		ChildTheme:    h.ChildTheme,
		Topic:         h.Topic,
		MetricGroup:   group,
		Metric:        h.Metric,
		GeographyType: h.GeographyType,
		Geography:     h.Geography,
		GeographyCode: h.GeographyCode,
		Age:           h.Age,
		Sex:           taxonomy.SexFromName(h.Sex),
		Stratum:       h.Stratum,
	}

	if !h.ParentTheme.IsID() {
		if err := validation.ValidateParentTheme(tax, h.ParentTheme.Name); err != nil {
			return BaseRecord{}, invalidField("parent_theme", h.ParentTheme.Name, err)
		}
	}

	if !h.ParentTheme.IsID() && !h.ChildTheme.IsID() {
		if err := validation.ValidateChildTheme(tax, h.ParentTheme.Name, h.ChildTheme.Name); err != nil {
			return BaseRecord{}, invalidField("child_theme", h.ChildTheme.Name, err)
		}
	}

	if !h.ChildTheme.IsID() && !h.Topic.IsID() {
		if err := validation.ValidateTopic(tax, h.ChildTheme.Name, h.Topic.Name); err != nil {
			return BaseRecord{}, invalidField("topic", h.Topic.Name, err)
		}
	}

	if !h.Metric.IsID() {
		topic := ""
		if !h.Topic.IsID() {
			topic = h.Topic.Name
		}

		if err := validation.ValidateMetric(tax, topic, group, h.Metric.Name); err != nil {
			return BaseRecord{}, invalidField("metric", h.Metric.Name, err)
		}
	}

	if err := h.validateGeography(&base); err != nil {
		return BaseRecord{}, err
	}

	if !h.Age.IsID() {
		if err := validation.ValidateAge(h.Age.Name); err != nil {
			return BaseRecord{}, invalidField("age", h.Age.Name, err)
		}
	}

	if strings.TrimSpace(h.RefreshDate) == "" {
		return BaseRecord{}, missingField("refresh_date")
	}

	refresh, err := validation.ParseUTC(h.RefreshDate)
	if err != nil {
		return BaseRecord{}, invalidField("refresh_date", h.RefreshDate, err)
	}

	base.RefreshDate = refresh

	return base, nil
}

// validateGeography checks geography_type, geography_code and the retired-code list,
// storing the canonical geography type name on base.
func (h *IncomingHeader) validateGeography(base *BaseRecord) error {
	if h.GeographyCode == "" {
		return missingField("geography_code")
	}

	if h.GeographyType.IsID() {
		return h.validateNotDeprecated()
	}

	geographyType, err := validation.ParseGeographyType(h.GeographyType.Name)
	if err != nil {
		return invalidField("geography_type", h.GeographyType.Name, err)
	}

	base.GeographyType = Ref(geographyType.String())

	if !h.Geography.IsID() {
		err := validation.ValidateGeographyCode(geographyType, h.GeographyCode, h.Geography.Name)
		if err != nil {
			return invalidField("geography_code", h.GeographyCode, err)
		}
	}

	return h.validateNotDeprecated()
}

func (h *IncomingHeader) validateNotDeprecated() error {
	if err := validation.ValidateNotDeprecated(h.GeographyCode); err != nil {
		return invalidField("geography_code", h.GeographyCode, err)
	}

	return nil
}

func decodeHeadlineItem(raw map[string]any, prefix string) (*IncomingHeadlineItem, error) {
	item := &IncomingHeadlineItem{}

	err := decodeFields(raw, prefix, []fieldTarget{
		{"period_start", &item.PeriodStart},
		{"period_end", &item.PeriodEnd},
		{"metric_value", &item.MetricValue},
		{"embargo", &item.Embargo},
		{"upper_confidence", &item.UpperConfidence},
		{"lower_confidence", &item.LowerConfidence},
		{"is_public", &item.IsPublic},
	})
	if err != nil {
		return nil, err
	}

	if err := checkStruct(item, prefix); err != nil {
		return nil, err
	}

	if err := requireKeys(raw, prefix, "embargo"); err != nil {
		return nil, err
	}

	return item, nil
}

// toItem converts a headline body item. prefix is the item path, e.g. "data[0].".
func (in *IncomingHeadlineItem) toItem(prefix string, authEnabled bool) (HeadlineItem, error) {
	if in.PeriodStart == nil {
		return HeadlineItem{}, invalidField(prefix+"period_start", nil, validation.ErrMissingPeriodStart)
	}

	start, err := validation.ParseUTC(*in.PeriodStart)
	if err != nil {
		return HeadlineItem{}, invalidField(prefix+"period_start", *in.PeriodStart, err)
	}

	end, err := validation.ParseUTC(in.PeriodEnd)
	if err != nil {
		return HeadlineItem{}, invalidField(prefix+"period_end", in.PeriodEnd, err)
	}

	if err := validation.ValidatePeriod(&start, end); err != nil {
		return HeadlineItem{}, invalidField(prefix+"period_end", in.PeriodEnd, err)
	}

	embargo, err := parseOptionalTime(prefix+"embargo", in.Embargo)
	if err != nil {
		return HeadlineItem{}, err
	}

	value := *in.MetricValue

	if err := validation.ValidateConfidenceInterval(value, in.LowerConfidence, in.UpperConfidence); err != nil {
		field := "metric_value"

		switch {
		case in.UpperConfidence == nil:
			field = "upper_confidence"
		case in.LowerConfidence == nil:
			field = "lower_confidence"
		}

		return HeadlineItem{}, invalidField(prefix+field, value.String(), err)
	}

	isPublic := boolOr(in.IsPublic, true)
	if err := checkPublicGate(prefix, isPublic, authEnabled); err != nil {
		return HeadlineItem{}, err
	}

	return HeadlineItem{
		PeriodStart:     start,
		PeriodEnd:       end,
		MetricValue:     value,
		Embargo:         embargo,
		UpperConfidence: in.UpperConfidence,
		LowerConfidence: in.LowerConfidence,
		IsPublic:        isPublic,
	}, nil
}

func decodeTimeSeriesItem(raw map[string]any, prefix string) (*IncomingTimeSeriesItem, error) {
	item := &IncomingTimeSeriesItem{}

	err := decodeFields(raw, prefix, []fieldTarget{
		{"epiweek", &item.Epiweek},
		{"date", &item.Date},
		{"embargo", &item.Embargo},
		{"metric_value", &item.MetricValue},
		{"in_reporting_delay_period", &item.InReportingDelayPeriod},
		{"force_write", &item.ForceWrite},
		{"is_public", &item.IsPublic},
	})
	if err != nil {
		return nil, err
	}

	if err := checkStruct(item, prefix); err != nil {
		return nil, err
	}

	if err := requireKeys(raw, prefix, "embargo"); err != nil {
		return nil, err
	}

	return item, nil
}

// toItem converts a time series body item. prefix is the item path, e.g. "time_series[3].".
func (in *IncomingTimeSeriesItem) toItem(prefix string, authEnabled bool) (TimeSeriesItem, error) {
	date, err := validation.ParseDate(in.Date)
	if err != nil {
		return TimeSeriesItem{}, invalidField(prefix+"date", in.Date, err)
	}

	embargo, err := parseOptionalTime(prefix+"embargo", in.Embargo)
	if err != nil {
		return TimeSeriesItem{}, err
	}

	isPublic := boolOr(in.IsPublic, true)
	if err := checkPublicGate(prefix, isPublic, authEnabled); err != nil {
		return TimeSeriesItem{}, err
	}

	return TimeSeriesItem{
		Epiweek:                *in.Epiweek,
		Date:                   date,
		Embargo:                embargo,
		MetricValue:            *in.MetricValue,
		InReportingDelayPeriod: boolOr(in.InReportingDelayPeriod, false),
		ForceWrite:             boolOr(in.ForceWrite, false),
		IsPublic:               isPublic,
	}, nil
}

func parseOptionalTime(field string, value *string) (*time.Time, error) {
	if value == nil || strings.TrimSpace(*value) == "" {
		return nil, nil //nolint:nilnil // absent optional timestamp
	}

	t, err := validation.ParseUTC(*value)
	if err != nil {
		return nil, invalidField(field, *value, err)
	}

	return &t, nil
}

func checkPublicGate(prefix string, isPublic, authEnabled bool) error {
	if isPublic || authEnabled {
		return nil
	}

	return &FieldError{Kind: ErrNonPublicDataSentToPublicIngestion, Field: prefix + "is_public", Value: false}
}

func boolOr(v *bool, fallback bool) bool {
	if v == nil {
		return fallback
	}

	return *v
}
