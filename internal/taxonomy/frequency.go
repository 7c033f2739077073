package taxonomy

import "strings"

// MetricFrequency is the single-letter code stored for a time series frequency.
type MetricFrequency string

// Frequency codes.
const (
	FrequencyDaily       MetricFrequency = "D"
	FrequencyWeekly      MetricFrequency = "W"
	FrequencyFortnightly MetricFrequency = "F"
	FrequencyMonthly     MetricFrequency = "M"
	FrequencyQuarterly   MetricFrequency = "Q"
	FrequencyAnnual      MetricFrequency = "A"
)

var frequencyByName = map[string]MetricFrequency{
	"daily":       FrequencyDaily,
	"weekly":      FrequencyWeekly,
	"fortnightly": FrequencyFortnightly,
	"monthly":     FrequencyMonthly,
	"quarterly":   FrequencyQuarterly,
	"annual":      FrequencyAnnual,
}

// MetricFrequencyFromName maps a full frequency name ("Weekly", "weekly") to its code.
func MetricFrequencyFromName(name string) (MetricFrequency, bool) {
	f, ok := frequencyByName[strings.ToLower(strings.TrimSpace(name))]

	return f, ok
}

// String returns the code.
func (f MetricFrequency) String() string {
	return string(f)
}
