package taxonomy

import (
	"strings"

	"github.com/healthdash-io/healthdash/internal/canonicalization"
)

// MetricGroup is one of the six metric group kinds. The headline group selects the
// headline ingestion path; every other group is a time series.
type MetricGroup string

// Metric groups, in filename keyword precedence order.
const (
	MetricGroupHeadline     MetricGroup = "headline"
	MetricGroupCases        MetricGroup = "cases"
	MetricGroupDeaths       MetricGroup = "deaths"
	MetricGroupHealthcare   MetricGroup = "healthcare"
	MetricGroupTesting      MetricGroup = "testing"
	MetricGroupVaccinations MetricGroup = "vaccinations"
)

var metricGroups = []MetricGroup{
	MetricGroupHeadline,
	MetricGroupCases,
	MetricGroupDeaths,
	MetricGroupHealthcare,
	MetricGroupTesting,
	MetricGroupVaccinations,
}

// MetricGroups returns every metric group, headline first.
func MetricGroups() []MetricGroup {
	out := make([]MetricGroup, len(metricGroups))
	copy(out, metricGroups)

	return out
}

// MetricGroupFromName looks up a metric group by name.
func MetricGroupFromName(name string) (MetricGroup, bool) {
	key := canonicalization.NormalizeLookupKey(name)
	for _, g := range metricGroups {
		if string(g) == key {
			return g, true
		}
	}

	return "", false
}

// MetricGroupFromFilename returns the first metric group whose name occurs in
// filename. The headline keyword is checked before the time-series keywords.
//
// Example:
//
//	MetricGroupFromFilename("COVID-19_headline_cases_7DayChange.json") // MetricGroupHeadline, true
func MetricGroupFromFilename(filename string) (MetricGroup, bool) {
	lower := strings.ToLower(filename)
	for _, g := range metricGroups {
		if strings.Contains(lower, string(g)) {
			return g, true
		}
	}

	return "", false
}

// IsHeadline reports whether the group selects the headline path.
func (g MetricGroup) IsHeadline() bool {
	return g == MetricGroupHeadline
}

// String returns the group name.
func (g MetricGroup) String() string {
	return string(g)
}
