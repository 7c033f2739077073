package validation

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/healthdash-io/healthdash/internal/taxonomy"
)

func TestValidateAge(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	tests := []struct {
		age     string
		wantErr bool
	}{
		{"all", false},
		{"00-04", false},
		{"05-14", false},
		{"65-84", false},
		{"85+", false},
		{"00+", false},
		{"0-4", true},
		{"04-00", true},
		{"05-05", true},
		{"5-14", true},
		{"05-1a", true},
		{"85++", true},
		{"8+", true},
		{"ALL", true},
		{"", true},
		{"05_14", true},
	}

	for _, tt := range tests {
		t.Run(tt.age, func(t *testing.T) {
			err := ValidateAge(tt.age)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateAge(%q) error = %v, wantErr %v", tt.age, err, tt.wantErr)
			}

			if err != nil && !errors.Is(err, ErrInvalidAge) {
				t.Errorf("ValidateAge(%q) error = %v, want ErrInvalidAge", tt.age, err)
			}
		})
	}
}

func TestValidateGeographyCode(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	tests := []struct {
		name          string
		geographyType taxonomy.GeographyType
		code          string
		geography     string
		wantErr       bool
	}{
		{"england", taxonomy.GeographyNation, "E92000001", "England", false},
		{"scotland", taxonomy.GeographyNation, "S92000003", "Scotland", false},
		{"wales", taxonomy.GeographyNation, "W92000004", "Wales", false},
		{"northern ireland", taxonomy.GeographyNation, "N92000002", "Northern Ireland", false},
		{"nation name mismatch", taxonomy.GeographyNation, "E92000001", "Wales", true},
		{"nation bad prefix", taxonomy.GeographyNation, "E12000001", "England", true},
		{"ltla E07", taxonomy.GeographyLowerTierLocalAuthority, "E07000223", "Adur", false},
		{"ltla rejects E10", taxonomy.GeographyLowerTierLocalAuthority, "E10000017", "Lancashire", true},
		{"utla E10", taxonomy.GeographyUpperTierLocalAuthority, "E10000017", "Lancashire", false},
		{"utla E06", taxonomy.GeographyUpperTierLocalAuthority, "E06000001", "Hartlepool", false},
		{"utla rejects E12", taxonomy.GeographyUpperTierLocalAuthority, "E12000001", "North East", true},
		{"nhs region", taxonomy.GeographyNHSRegion, "E40000003", "London", false},
		{"nhs region bad", taxonomy.GeographyNHSRegion, "E45000001", "London", true},
		{"ukhsa region", taxonomy.GeographyUKHSARegion, "E45000010", "London", false},
		{"government office region", taxonomy.GeographyGovernmentOfficeRegion, "E12000007", "London", false},
		{"region", taxonomy.GeographyRegion, "E12000001", "North East", false},
		{"region bad", taxonomy.GeographyRegion, "E40000003", "London", true},
		{"nhs trust 3", taxonomy.GeographyNHSTrust, "RQ3", "Birmingham Women's", false},
		{"nhs trust 5", taxonomy.GeographyNHSTrust, "RXQ01", "Buckinghamshire", false},
		{"nhs trust 4", taxonomy.GeographyNHSTrust, "RXQ0", "Buckinghamshire", true},
		{"nhs trust symbol", taxonomy.GeographyNHSTrust, "R-Q", "x", true},
		{"icb", taxonomy.GeographyIntegratedCareBoard, "QE1", "Lancashire and South Cumbria", false},
		{"icb digit first", taxonomy.GeographyIntegratedCareBoard, "1E1", "x", true},
		{"icb too long", taxonomy.GeographyIntegratedCareBoard, "QE12", "x", true},
		{"sub-icb 3", taxonomy.GeographySubIntegratedCareBoard, "00L", "Northumberland", false},
		{"sub-icb 5", taxonomy.GeographySubIntegratedCareBoard, "A3A8R", "x", false},
		{"sub-icb 3 letter first", taxonomy.GeographySubIntegratedCareBoard, "L00", "x", true},
		{"sub-icb 5 digit first", taxonomy.GeographySubIntegratedCareBoard, "13A8R", "x", true},
		{"super region", taxonomy.GeographyUKHSASuperRegion, "X25001", "North", false},
		{"super region two digits", taxonomy.GeographyUKHSASuperRegion, "X250012", "North", true},
		{"super region wrong stem", taxonomy.GeographyUKHSASuperRegion, "X26001", "North", true},
		{"united kingdom", taxonomy.GeographyUnitedKingdom, "K02000001", "United Kingdom", false},
		{"united kingdom bad name", taxonomy.GeographyUnitedKingdom, "K02000001", "UK", true},
		{"united kingdom bad code", taxonomy.GeographyUnitedKingdom, "K03000001", "United Kingdom", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateGeographyCode(tt.geographyType, tt.code, tt.geography)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateGeographyCode(%s, %q, %q) error = %v, wantErr %v",
					tt.geographyType, tt.code, tt.geography, err, tt.wantErr)
			}

			if err != nil && !errors.Is(err, ErrInvalidGeographyCode) {
				t.Errorf("error = %v, want ErrInvalidGeographyCode", err)
			}
		})
	}
}

func TestParseGeographyType(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	g, err := ParseGeographyType("nhs trust")
	require.NoError(t, err)
	assert.Equal(t, taxonomy.GeographyNHSTrust, g)

	_, err = ParseGeographyType("Ward")
	assert.ErrorIs(t, err, ErrInvalidGeographyType)
}

func TestValidateNotDeprecated(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	assert.ErrorIs(t, ValidateNotDeprecated("E07000005"), ErrDeprecatedGeography)
	assert.NoError(t, ValidateNotDeprecated("E06000060"))
}

func TestValidateMetric(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	restricted, err := taxonomy.Parse([]byte(`
parent_themes:
  - name: infectious_disease
    child_themes:
      - name: respiratory
        topics: [COVID-19]
metrics:
  COVID-19: [COVID-19_cases_casesByDay]
`))
	require.NoError(t, err)

	tests := []struct {
		name    string
		tax     *taxonomy.Taxonomy
		group   taxonomy.MetricGroup
		metric  string
		wantErr error
	}{
		{"contains group", taxonomy.Default(), taxonomy.MetricGroupCases, "COVID-19_cases_casesByDay", nil},
		{"group mismatch", taxonomy.Default(), taxonomy.MetricGroupDeaths, "COVID-19_cases_casesByDay", ErrMetricGroupMismatch},
		{"headline metric", taxonomy.Default(), taxonomy.MetricGroupHeadline, "COVID-19_headline_ONSdeaths_7DayChange", nil},
		{"allow-list accepts", restricted, taxonomy.MetricGroupCases, "COVID-19_cases_casesByDay", nil},
		{"allow-list rejects", restricted, taxonomy.MetricGroupCases, "COVID-19_cases_rateRollingMean", ErrMetricNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateMetric(tt.tax, "COVID-19", tt.group, tt.metric)
			if tt.wantErr == nil {
				assert.NoError(t, err)

				return
			}

			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestThemeValidators(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	tax := taxonomy.Default()

	assert.NoError(t, ValidateParentTheme(tax, "infectious_disease"))
	assert.ErrorIs(t, ValidateParentTheme(tax, "infectious"), ErrInvalidParentTheme)
	assert.NoError(t, ValidateChildTheme(tax, "infectious_disease", "respiratory"))
	assert.ErrorIs(t, ValidateChildTheme(tax, "extreme_event", "respiratory"), ErrInvalidChildTheme)
	assert.NoError(t, ValidateTopic(tax, "respiratory", "COVID-19"))
	assert.ErrorIs(t, ValidateTopic(tax, "respiratory", "Measles"), ErrInvalidTopic)
}

func TestParseUTC(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	tests := []struct {
		input string
		want  time.Time
	}{
		{"2023-10-01", time.Date(2023, 10, 1, 0, 0, 0, 0, time.UTC)},
		{"2023-11-20 12:00:00", time.Date(2023, 11, 20, 12, 0, 0, 0, time.UTC)},
		{"2023-11-20T12:00:00", time.Date(2023, 11, 20, 12, 0, 0, 0, time.UTC)},
		{"2023-11-20T12:00:00Z", time.Date(2023, 11, 20, 12, 0, 0, 0, time.UTC)},
		{"2023-11-20T12:00:00+01:00", time.Date(2023, 11, 20, 11, 0, 0, 0, time.UTC)},
		{"2023-11-20 12:00:00-05:00", time.Date(2023, 11, 20, 17, 0, 0, 0, time.UTC)},
		{"2023-11-20T12:00:00.250", time.Date(2023, 11, 20, 12, 0, 0, 250_000_000, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseUTC(tt.input)
			require.NoError(t, err)
			assert.True(t, got.Equal(tt.want), "got %s, want %s", got, tt.want)

			_, offset := got.Zone()
			assert.Zero(t, offset)
			assert.Equal(t, time.UTC, got.Location())
		})
	}

	for _, bad := range []string{"", "yesterday", "2023-13-01", "01/10/2023"} {
		_, err := ParseUTC(bad)
		assert.ErrorIs(t, err, ErrInvalidDate, bad)
	}
}

func TestParseDate(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	got, err := ParseDate("2023-07-31T18:30:00")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2023, 7, 31, 0, 0, 0, 0, time.UTC), got)
}

func TestValidatePeriod(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	start := time.Date(2023, 10, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2023, 10, 7, 0, 0, 0, 0, time.UTC)

	assert.NoError(t, ValidatePeriod(&start, end))
	assert.NoError(t, ValidatePeriod(&start, start), "equal dates are valid")
	assert.ErrorIs(t, ValidatePeriod(&end, start), ErrPeriodEndBeforeStart)
	assert.ErrorIs(t, ValidatePeriod(nil, end), ErrMissingPeriodStart)
}

func TestValidateConfidenceInterval(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	d := func(s string) *decimal.Decimal {
		v := decimal.RequireFromString(s)

		return &v
	}

	value := decimal.RequireFromString("12.5")

	tests := []struct {
		name    string
		lower   *decimal.Decimal
		upper   *decimal.Decimal
		wantErr error
	}{
		{"no bounds", nil, nil, nil},
		{"inside", d("10"), d("15"), nil},
		{"on lower edge", d("12.5"), d("15"), nil},
		{"on upper edge", d("10"), d("12.5"), nil},
		{"only upper", nil, d("15"), ErrIncompleteConfidenceInterval},
		{"only lower", d("10"), nil, ErrIncompleteConfidenceInterval},
		{"below lower", d("13"), d("15"), ErrValueOutsideConfidenceInterval},
		{"above upper", d("10"), d("12.4"), ErrValueOutsideConfidenceInterval},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateConfidenceInterval(value, tt.lower, tt.upper)
			if tt.wantErr == nil {
				assert.NoError(t, err)

				return
			}

			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestParseMetricFrequency(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	f, err := ParseMetricFrequency("weekly")
	require.NoError(t, err)
	assert.Equal(t, taxonomy.FrequencyWeekly, f)

	_, err = ParseMetricFrequency("W")
	assert.ErrorIs(t, err, ErrInvalidMetricFrequency)
}

func TestValidateDelayPeriods(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	tests := []struct {
		name      string
		flags     []bool
		wantIndex int
	}{
		{"empty", nil, -1},
		{"all false", []bool{false, false, false}, -1},
		{"trailing run", []bool{false, false, true, true}, -1},
		{"single trailing", []bool{false, true}, -1},
		{"all true", []bool{true, true}, -1},
		{"leading true", []bool{true, false, false}, 1},
		{"gap in run", []bool{false, true, false, true}, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			idx, err := ValidateDelayPeriods(tt.flags)
			assert.Equal(t, tt.wantIndex, idx)

			if tt.wantIndex < 0 {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrLeadingDelayPeriod)
			}
		})
	}
}
