package validation

import (
	"fmt"
	"strings"
	"time"
)

const dateOnly = "2006-01-02"

// Layouts carrying an explicit offset; parsed values are converted to UTC.
var awareLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05.999999999Z07:00",
}

// Layouts without an offset; parsed values are taken to be UTC.
var naiveLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
}

// ParseUTC parses an ISO date or timestamp and returns it in UTC.
//
//   - "2023-10-01" → 2023-10-01T00:00:00Z
//   - "2023-11-20 12:00:00" → 2023-11-20T12:00:00Z (naive values are UTC)
//   - "2023-11-20T12:00:00+01:00" → 2023-11-20T11:00:00Z
func ParseUTC(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("%w: empty value", ErrInvalidDate)
	}

	if t, err := time.ParseInLocation(dateOnly, value, time.UTC); err == nil {
		return t, nil
	}

	for _, layout := range awareLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}

	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, value, time.UTC); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, value)
}

// ParseDate parses a date (or a timestamp, truncated to its UTC day) as midnight UTC.
func ParseDate(value string) (time.Time, error) {
	t, err := ParseUTC(value)
	if err != nil {
		return time.Time{}, err
	}

	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
}

// ValidatePeriod requires a period_start no later than period_end. Equal dates are valid.
func ValidatePeriod(start *time.Time, end time.Time) error {
	if start == nil {
		return ErrMissingPeriodStart
	}

	if end.Before(*start) {
		return fmt.Errorf("%w: %s < %s", ErrPeriodEndBeforeStart,
			end.Format(time.RFC3339), start.Format(time.RFC3339))
	}

	return nil
}
