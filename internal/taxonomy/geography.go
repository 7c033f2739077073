package taxonomy

import "github.com/healthdash-io/healthdash/internal/canonicalization"

// GeographyType is one of the closed set of geography classifications.
type GeographyType string

// Geography types accepted by ingestion.
const (
	GeographyUnitedKingdom           GeographyType = "United Kingdom"
	GeographyNation                  GeographyType = "Nation"
	GeographyRegion                  GeographyType = "Region"
	GeographyGovernmentOfficeRegion  GeographyType = "Government Office Region"
	GeographyUKHSARegion             GeographyType = "UKHSA Region"
	GeographyUKHSASuperRegion        GeographyType = "UKHSA Super-Region"
	GeographyNHSRegion               GeographyType = "NHS Region"
	GeographyNHSTrust                GeographyType = "NHS Trust"
	GeographyIntegratedCareBoard     GeographyType = "Integrated Care Board"
	GeographySubIntegratedCareBoard  GeographyType = "Sub-Integrated Care Board"
	GeographyUpperTierLocalAuthority GeographyType = "Upper Tier Local Authority"
	GeographyLowerTierLocalAuthority GeographyType = "Lower Tier Local Authority"
)

// UnitedKingdomCode is the synthetic geography code used for the whole of the UK.
const UnitedKingdomCode = "K02000001"

// UnitedKingdomName is the only geography name accepted with UnitedKingdomCode.
const UnitedKingdomName = "United Kingdom"

var geographyTypes = []GeographyType{
	GeographyUnitedKingdom,
	GeographyNation,
	GeographyRegion,
	GeographyGovernmentOfficeRegion,
	GeographyUKHSARegion,
	GeographyUKHSASuperRegion,
	GeographyNHSRegion,
	GeographyNHSTrust,
	GeographyIntegratedCareBoard,
	GeographySubIntegratedCareBoard,
	GeographyUpperTierLocalAuthority,
	GeographyLowerTierLocalAuthority,
}

var geographyTypeByKey = func() map[string]GeographyType {
	m := make(map[string]GeographyType, len(geographyTypes))
	for _, g := range geographyTypes {
		m[canonicalization.NormalizeLookupKey(string(g))] = g
	}

	return m
}()

// GeographyTypes returns every geography type in declaration order.
func GeographyTypes() []GeographyType {
	out := make([]GeographyType, len(geographyTypes))
	copy(out, geographyTypes)

	return out
}

// GeographyTypeFromName looks up a geography type by name.
//
// Examples:
//   - GeographyTypeFromName("nation") → GeographyNation, true
//   - GeographyTypeFromName("ukhsa super_region") → GeographyUKHSASuperRegion, true
//   - GeographyTypeFromName("County") → "", false
func GeographyTypeFromName(name string) (GeographyType, bool) {
	g, ok := geographyTypeByKey[canonicalization.NormalizeLookupKey(name)]

	return g, ok
}

// String returns the canonical name.
func (g GeographyType) String() string {
	return string(g)
}

// deprecatedGeographyCodes lists local authority codes retired by boundary
// reorganisations. Data keyed on them must be re-issued under the successor code.
var deprecatedGeographyCodes = map[string]string{
	// Buckinghamshire unitary, April 2020.
	"E07000004": "Aylesbury Vale",
	"E07000005": "Chiltern",
	"E07000006": "South Bucks",
	"E07000007": "Wycombe",
	"E10000002": "Buckinghamshire",
	// Bournemouth, Christchurch and Poole / Dorset, April 2019.
	"E06000028": "Bournemouth",
	"E06000029": "Poole",
	"E07000048": "Christchurch",
	"E10000009": "Dorset",
	// North and West Northamptonshire, April 2021.
	"E07000150": "Corby",
	"E07000151": "Daventry",
	"E07000152": "East Northamptonshire",
	"E07000153": "Kettering",
	"E07000154": "Northampton",
	"E07000155": "South Northamptonshire",
	"E07000156": "Wellingborough",
	"E10000021": "Northamptonshire",
	// Somerset West and Taunton, April 2019.
	"E07000190": "Taunton Deane",
	"E07000191": "West Somerset",
}

// IsDeprecatedGeographyCode reports whether code belongs to a retired geography.
func IsDeprecatedGeographyCode(code string) bool {
	_, ok := deprecatedGeographyCodes[code]

	return ok
}
