package validation

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/healthdash-io/healthdash/internal/taxonomy"
)

var superRegionPattern = regexp.MustCompile(`^X2500\d$`)

// codePrefixes lists accepted geography_code prefixes for the prefix-checked types.
var codePrefixes = map[taxonomy.GeographyType][]string{
	taxonomy.GeographyNation:                  {"E92", "S92", "W92", "N92"},
	taxonomy.GeographyLowerTierLocalAuthority: {"E06", "E07", "E08", "E09"},
	taxonomy.GeographyUpperTierLocalAuthority: {"E06", "E07", "E08", "E09", "E10"},
	taxonomy.GeographyNHSRegion:               {"E40"},
	taxonomy.GeographyUKHSARegion:             {"E45"},
	taxonomy.GeographyGovernmentOfficeRegion:  {"E12"},
	taxonomy.GeographyRegion:                  {"E12"},
}

// ParseGeographyType resolves a geography_type name to its variant.
func ParseGeographyType(name string) (taxonomy.GeographyType, error) {
	g, ok := taxonomy.GeographyTypeFromName(name)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidGeographyType, name)
	}

	return g, nil
}

// ValidateGeographyCode checks code (and, for nations and the UK, name) against
// the format required by geographyType.
func ValidateGeographyCode(geographyType taxonomy.GeographyType, code, name string) error {
	switch geographyType {
	case taxonomy.GeographyNation:
		if err := requirePrefix(geographyType, code); err != nil {
			return err
		}

		nation, _ := taxonomy.NationForCodePrefix(code)
		if nation != name {
			return fmt.Errorf("%w: %q is a %s code but geography is %q", ErrInvalidGeographyCode, code, nation, name)
		}

		return nil
	case taxonomy.GeographyNHSTrust:
		if (len(code) == 3 || len(code) == 5) && isAlphanumeric(code) {
			return nil
		}

		return invalidCode(geographyType, code, "3 or 5 alphanumeric characters")
	case taxonomy.GeographyIntegratedCareBoard:
		if len(code) == 3 && isLetter(code[0]) && isAlphanumeric(code[1:]) {
			return nil
		}

		return invalidCode(geographyType, code, "3 characters starting with a letter")
	case taxonomy.GeographySubIntegratedCareBoard:
		switch {
		case len(code) == 3 && isDigit(code[0]) && isAlphanumeric(code[1:]):
			return nil
		case len(code) == 5 && isLetter(code[0]) && isAlphanumeric(code[1:]):
			return nil
		}

		return invalidCode(geographyType, code, "3 characters starting with a digit or 5 starting with a letter")
	case taxonomy.GeographyUKHSASuperRegion:
		if superRegionPattern.MatchString(code) {
			return nil
		}

		return invalidCode(geographyType, code, "X2500 followed by one digit")
	case taxonomy.GeographyUnitedKingdom:
		if code == taxonomy.UnitedKingdomCode && name == taxonomy.UnitedKingdomName {
			return nil
		}

		return fmt.Errorf("%w: United Kingdom requires code %s and name %q, got %q / %q",
			ErrInvalidGeographyCode, taxonomy.UnitedKingdomCode, taxonomy.UnitedKingdomName, code, name)
	default:
		return requirePrefix(geographyType, code)
	}
}

// ValidateNotDeprecated rejects geography codes retired by boundary changes.
func ValidateNotDeprecated(code string) error {
	if taxonomy.IsDeprecatedGeographyCode(code) {
		return fmt.Errorf("%w: %q", ErrDeprecatedGeography, code)
	}

	return nil
}

func requirePrefix(geographyType taxonomy.GeographyType, code string) error {
	prefixes, ok := codePrefixes[geographyType]
	if !ok {
		return fmt.Errorf("%w: %q", ErrInvalidGeographyType, geographyType)
	}

	for _, p := range prefixes {
		if strings.HasPrefix(code, p) {
			return nil
		}
	}

	return invalidCode(geographyType, code, "prefix in "+strings.Join(prefixes, ", "))
}

func invalidCode(geographyType taxonomy.GeographyType, code, want string) error {
	return fmt.Errorf("%w: %q for %s (expected %s)", ErrInvalidGeographyCode, code, geographyType, want)
}

func isLetter(c byte) bool {
	return (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z')
}

func isAlphanumeric(s string) bool {
	for i := 0; i < len(s); i++ {
		if !isLetter(s[i]) && !isDigit(s[i]) {
			return false
		}
	}

	return true
}
