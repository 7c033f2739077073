// Package validation provides the field-level rules applied to inbound payloads.
//
// Every function is pure: it inspects its arguments and returns nil or an error
// wrapping one of the sentinels below. Callers attach the field path.
package validation

import "errors"

// Sentinel errors for field validation failures.
var (
	ErrInvalidAge                     = errors.New("invalid age")
	ErrInvalidGeographyType           = errors.New("invalid geography_type")
	ErrInvalidGeographyCode           = errors.New("invalid geography_code")
	ErrDeprecatedGeography            = errors.New("geography_code has been retired")
	ErrInvalidMetricGroup             = errors.New("invalid metric_group")
	ErrMetricGroupMismatch            = errors.New("metric does not contain metric_group")
	ErrMetricNotAllowed               = errors.New("metric is not allowed for topic")
	ErrInvalidParentTheme             = errors.New("invalid parent_theme")
	ErrInvalidChildTheme              = errors.New("child_theme is not allowed for parent_theme")
	ErrInvalidTopic                   = errors.New("topic is not allowed for child_theme")
	ErrMissingPeriodStart             = errors.New("period_start is required")
	ErrPeriodEndBeforeStart           = errors.New("period_end is before period_start")
	ErrIncompleteConfidenceInterval   = errors.New("upper_confidence and lower_confidence must be provided together")
	ErrValueOutsideConfidenceInterval = errors.New("metric_value is outside the confidence interval")
	ErrInvalidDate                    = errors.New("invalid date")
	ErrInvalidMetricFrequency         = errors.New("invalid metric_frequency")
	ErrLeadingDelayPeriod             = errors.New("in_reporting_delay_period values must form a trailing run")
)
