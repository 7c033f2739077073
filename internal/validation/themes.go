package validation

import (
	"fmt"

	"github.com/healthdash-io/healthdash/internal/taxonomy"
)

// ValidateParentTheme checks parent against the taxonomy's parent themes.
func ValidateParentTheme(tax *taxonomy.Taxonomy, parent string) error {
	if !tax.HasParentTheme(parent) {
		return fmt.Errorf("%w: %q", ErrInvalidParentTheme, parent)
	}

	return nil
}

// ValidateChildTheme checks child against the child themes of an already validated parent.
func ValidateChildTheme(tax *taxonomy.Taxonomy, parent, child string) error {
	if !tax.HasChildTheme(parent, child) {
		return fmt.Errorf("%w: %q under %q", ErrInvalidChildTheme, child, parent)
	}

	return nil
}

// ValidateTopic checks topic against the topics of an already validated child theme.
func ValidateTopic(tax *taxonomy.Taxonomy, child, topic string) error {
	if !tax.HasTopic(child, topic) {
		return fmt.Errorf("%w: %q under %q", ErrInvalidTopic, topic, child)
	}

	return nil
}
