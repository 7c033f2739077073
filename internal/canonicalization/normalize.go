// Package canonicalization provides name normalization for taxonomy lookups and dimension keys.
package canonicalization

import (
	"fmt"
	"strings"
)

const keySeparator = "\x1f"

// NormalizeLookupKey folds a taxonomy name into the form used for allow-list lookups.
//
// Normalization rules:
//  1. Surrounding whitespace is removed
//  2. Case is folded to lower case
//  3. '-' and '_' are treated as equivalent (both become '_')
//
// Vendors send the same theme in several spellings ("infectious_disease",
// "Infectious-Disease"). Lookups must treat them as one key while the stored
// dimension name keeps the spelling the vendor sent.
//
// Examples:
//   - NormalizeLookupKey("Infectious-Disease") → "infectious_disease"
//   - NormalizeLookupKey(" COVID-19 ") → "covid_19"
//   - NormalizeLookupKey("respiratory") → "respiratory"
func NormalizeLookupKey(name string) string {
	folded := strings.ToLower(strings.TrimSpace(name))

	return strings.ReplaceAll(folded, "-", "_")
}

// NormalizeValue converts a natural-key part to a canonical string form suitable
// for in-memory cache keys (e.g. "England" or "42").
//
// Callers must not assume a particular underlying type for key parts; this helper
// keeps lookup caches consistent regardless of whether an id or a name was given.
func NormalizeValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case int64:
		return fmt.Sprintf("%d", t)
	case int:
		return fmt.Sprintf("%d", t)
	case []byte:
		return strings.TrimSpace(string(t))
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

// DimensionCacheKey joins a dimension kind and its natural-key parts into one key.
//
// The separator is the ASCII unit separator so names containing spaces, commas or
// dashes never collide ("NHS Region" + "x" vs "NHS" + "Region x").
//
// Example:
//
//	DimensionCacheKey("geography", "England", "E92000001", int64(3))
//	// "geography\x1fEngland\x1fE92000001\x1f3"
func DimensionCacheKey(kind string, parts ...any) string {
	var b strings.Builder

	b.WriteString(kind)

	for _, p := range parts {
		b.WriteString(keySeparator)
		b.WriteString(NormalizeValue(p))
	}

	return b.String()
}
