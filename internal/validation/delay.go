package validation

import "fmt"

// ValidateDelayPeriods checks that the true values in flags, if any, form a
// contiguous run ending at the last element. Empty, all-false and all-true
// sequences are valid.
//
// On failure the returned index is the first false that follows a true.
func ValidateDelayPeriods(flags []bool) (int, error) {
	seenTrue := false

	for i, inDelay := range flags {
		if inDelay {
			seenTrue = true

			continue
		}

		if seenTrue {
			return i, fmt.Errorf("%w: item %d is outside the delay period after an item inside it",
				ErrLeadingDelayPeriod, i)
		}
	}

	return -1, nil
}
