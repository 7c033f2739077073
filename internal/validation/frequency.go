package validation

import (
	"fmt"

	"github.com/healthdash-io/healthdash/internal/taxonomy"
)

// ParseMetricFrequency maps a full frequency name to its single-letter code.
func ParseMetricFrequency(name string) (taxonomy.MetricFrequency, error) {
	f, ok := taxonomy.MetricFrequencyFromName(name)
	if !ok {
		return "", fmt.Errorf("%w: %q (valid: Daily, Weekly, Fortnightly, Monthly, Quarterly, Annual)",
			ErrInvalidMetricFrequency, name)
	}

	return f, nil
}
