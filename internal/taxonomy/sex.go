package taxonomy

import "strings"

// Sex is the stored sex code: m, f or all.
type Sex string

// Sex codes.
const (
	SexMale   Sex = "m"
	SexFemale Sex = "f"
	SexAll    Sex = "all"
)

// SexFromName maps an input value to its stored code. Unknown values map to SexAll.
func SexFromName(name string) Sex {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "m", "male":
		return SexMale
	case "f", "female":
		return SexFemale
	default:
		return SexAll
	}
}

// String returns the code.
func (s Sex) String() string {
	return string(s)
}
