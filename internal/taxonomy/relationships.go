package taxonomy

import (
	"errors"
	"fmt"
)

// ErrUnknownGeography is returned when no upstream mapping exists for a geography.
var ErrUnknownGeography = errors.New("no upstream mapping for geography")

// Nation names.
const (
	NationEngland         = "England"
	NationScotland        = "Scotland"
	NationWales           = "Wales"
	NationNorthernIreland = "Northern Ireland"
)

// Geography is a named geography with its code and type.
type Geography struct {
	Type GeographyType
	Name string
	Code string
}

var nationCodes = map[string]string{
	NationEngland:         "E92000001",
	NationScotland:        "S92000003",
	NationWales:           "W92000004",
	NationNorthernIreland: "N92000002",
}

var regionCodes = map[string]string{
	"North East":               "E12000001",
	"North West":               "E12000002",
	"Yorkshire and The Humber": "E12000003",
	"East Midlands":            "E12000004",
	"West Midlands":            "E12000005",
	"East of England":          "E12000006",
	"London":                   "E12000007",
	"South East":               "E12000008",
	"South West":               "E12000009",
}

// Every region in regionCodes sits in England.
var regionNations = func() map[string]string {
	m := make(map[string]string, len(regionCodes))
	for region := range regionCodes {
		m[region] = NationEngland
	}

	return m
}()

var utlaRegions = map[string]string{
	"E06000001": "North East",
	"E06000047": "North East",
	"E08000021": "North East",
	"E08000024": "North East",
	"E06000049": "North West",
	"E08000003": "North West",
	"E08000012": "North West",
	"E10000017": "North West",
	"E06000014": "Yorkshire and The Humber",
	"E08000019": "Yorkshire and The Humber",
	"E08000032": "Yorkshire and The Humber",
	"E08000035": "Yorkshire and The Humber",
	"E06000016": "East Midlands",
	"E06000018": "East Midlands",
	"E10000007": "East Midlands",
	"E10000018": "East Midlands",
	"E06000019": "West Midlands",
	"E08000025": "West Midlands",
	"E08000026": "West Midlands",
	"E10000028": "West Midlands",
	"E10000003": "East of England",
	"E10000012": "East of England",
	"E10000015": "East of England",
	"E10000020": "East of England",
	"E09000001": "London",
	"E09000007": "London",
	"E09000028": "London",
	"E09000033": "London",
	"E06000043": "South East",
	"E06000045": "South East",
	"E10000016": "South East",
	"E10000030": "South East",
	"E06000022": "South West",
	"E06000023": "South West",
	"E06000052": "South West",
	"E10000008": "South West",
}

// NationCode returns the geography code of a nation.
func NationCode(nation string) (string, bool) {
	code, ok := nationCodes[nation]

	return code, ok
}

// NationForCodePrefix returns the nation whose code starts with the first three
// characters of code, e.g. "E92" → England.
func NationForCodePrefix(code string) (string, bool) {
	const prefixLen = 3
	if len(code) < prefixLen {
		return "", false
	}

	for nation, nationCode := range nationCodes {
		if nationCode[:prefixLen] == code[:prefixLen] {
			return nation, true
		}
	}

	return "", false
}

// RegionCode returns the E12 code of a region.
func RegionCode(region string) (string, bool) {
	code, ok := regionCodes[region]

	return code, ok
}

// RegionForUTLA returns the region an upper tier local authority belongs to.
func RegionForUTLA(code string) (string, bool) {
	region, ok := utlaRegions[code]

	return region, ok
}

// NationForRegion returns the nation a region belongs to.
func NationForRegion(region string) (string, bool) {
	nation, ok := regionNations[region]

	return nation, ok
}

// Upstream returns the chain of parent geographies above the given one, nearest
// first, ending with the United Kingdom. The chain is used for relationship lookups
// only; fact rows never reference it.
//
// Example:
//
//	Upstream(GeographyUpperTierLocalAuthority, "E09000007")
//	// [{Region London E12000007} {Nation England E92000001} {United Kingdom United Kingdom K02000001}]
func Upstream(geographyType GeographyType, code string) ([]Geography, error) {
	uk := Geography{Type: GeographyUnitedKingdom, Name: UnitedKingdomName, Code: UnitedKingdomCode}

	switch geographyType {
	case GeographyUnitedKingdom:
		return []Geography{}, nil
	case GeographyNation:
		if _, ok := NationForCodePrefix(code); !ok {
			return nil, fmt.Errorf("%w: %s %s", ErrUnknownGeography, geographyType, code)
		}

		return []Geography{uk}, nil
	case GeographyRegion, GeographyGovernmentOfficeRegion:
		region, ok := regionForCode(code)
		if !ok {
			return nil, fmt.Errorf("%w: %s %s", ErrUnknownGeography, geographyType, code)
		}

		return append(nationChain(region), uk), nil
	case GeographyUpperTierLocalAuthority:
		region, ok := RegionForUTLA(code)
		if !ok {
			return nil, fmt.Errorf("%w: %s %s", ErrUnknownGeography, geographyType, code)
		}

		chain := []Geography{{Type: GeographyRegion, Name: region, Code: regionCodes[region]}}
		chain = append(chain, nationChain(region)...)

		return append(chain, uk), nil
	default:
		return nil, fmt.Errorf("%w: %s %s", ErrUnknownGeography, geographyType, code)
	}
}

func nationChain(region string) []Geography {
	nation := regionNations[region]

	return []Geography{{Type: GeographyNation, Name: nation, Code: nationCodes[nation]}}
}

func regionForCode(code string) (string, bool) {
	for region, regionCode := range regionCodes {
		if regionCode == code {
			return region, true
		}
	}

	return "", false
}
