package validation

import (
	"fmt"
	"strconv"
)

const (
	ageAll          = "all"
	ageBandLen      = 5 // "00-04"
	ageOpenEndedLen = 3 // "90+"
)

// ValidateAge checks an age label against the three accepted forms:
//   - "all"
//   - a band "DD-DD" of two-digit numbers with the lower bound first, e.g. "00-04"
//   - an open-ended band "DD+", e.g. "90+"
func ValidateAge(age string) error {
	if age == ageAll {
		return nil
	}

	switch len(age) {
	case ageBandLen:
		if age[2] != '-' || !isTwoDigits(age[:2]) || !isTwoDigits(age[3:]) {
			break
		}

		lower, _ := strconv.Atoi(age[:2])
		upper, _ := strconv.Atoi(age[3:])

		if lower < upper {
			return nil
		}

		return fmt.Errorf("%w: %q lower bound must be below upper bound", ErrInvalidAge, age)
	case ageOpenEndedLen:
		if age[2] == '+' && isTwoDigits(age[:2]) {
			return nil
		}
	}

	return fmt.Errorf("%w: %q (expected \"all\", \"DD-DD\" or \"DD+\")", ErrInvalidAge, age)
}

func isTwoDigits(s string) bool {
	return len(s) == 2 && isDigit(s[0]) && isDigit(s[1])
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}
