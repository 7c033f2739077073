package validation

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// ValidateConfidenceInterval requires both bounds when either is given, and
// lower <= value <= upper when both are.
func ValidateConfidenceInterval(value decimal.Decimal, lower, upper *decimal.Decimal) error {
	if lower == nil && upper == nil {
		return nil
	}

	if lower == nil || upper == nil {
		return ErrIncompleteConfidenceInterval
	}

	if value.LessThan(*lower) || value.GreaterThan(*upper) {
		return fmt.Errorf("%w: %s not in [%s, %s]", ErrValueOutsideConfidenceInterval,
			value.String(), lower.String(), upper.String())
	}

	return nil
}
