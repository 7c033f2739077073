package validation

import (
	"fmt"
	"strings"

	"github.com/healthdash-io/healthdash/internal/taxonomy"
)

// ParseMetricGroup resolves a metric_group name to its variant.
func ParseMetricGroup(name string) (taxonomy.MetricGroup, error) {
	g, ok := taxonomy.MetricGroupFromName(name)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidMetricGroup, name)
	}

	return g, nil
}

// ValidateMetric checks that metric contains the metric group name and, when the
// taxonomy carries an allow-list for topic, that metric is on it.
//
// Example: "COVID-19_cases_casesByDay" is valid for group "cases" and invalid for "deaths".
func ValidateMetric(tax *taxonomy.Taxonomy, topic string, group taxonomy.MetricGroup, metric string) error {
	if !strings.Contains(metric, string(group)) {
		return fmt.Errorf("%w: %q does not contain %q", ErrMetricGroupMismatch, metric, group)
	}

	if tax != nil && !tax.AllowsMetric(topic, metric) {
		return fmt.Errorf("%w: %q for topic %q", ErrMetricNotAllowed, metric, topic)
	}

	return nil
}
