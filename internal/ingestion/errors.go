package ingestion

import (
	"errors"
	"fmt"
)

// Error kinds surfaced by the ingestion core. Every error returned by Ingest,
// IngestFile and IngestBatch matches exactly one of them with errors.Is.
var (
	// ErrMissingField is returned when a required top-level or body field is absent.
	ErrMissingField = errors.New("missing required field")

	// ErrInvalidBody is returned when the body array is null, not an array, or
	// (headline only) does not hold exactly one item.
	ErrInvalidBody = errors.New("invalid body")

	// ErrValidation is returned when a field fails a validation rule.
	ErrValidation = errors.New("validation failed")

	// ErrNonPublicDataSentToPublicIngestion is returned for is_public=false rows while auth is disabled.
	ErrNonPublicDataSentToPublicIngestion = errors.New("non-public data sent to public ingestion")

	// ErrUnrecognisedFile is returned when a filename carries no metric group keyword.
	ErrUnrecognisedFile = errors.New("unrecognised file")

	// ErrDimensionResolution is returned when a reference row could not be found or created.
	ErrDimensionResolution = errors.New("dimension resolution failed")

	// ErrWrite is returned when deleting superseded rows or inserting fact rows fails.
	ErrWrite = errors.New("fact write failed")
)

// FieldError describes a payload problem tied to one field.
//
// Field is the JSON path of the offending field, e.g. "age" or "time_series[2].date".
// Value is the value received (nil when the field was absent).
//
// FieldError matches its Kind and its underlying rule with errors.Is:
//
//	errors.Is(err, ingestion.ErrValidation)    // true
//	errors.Is(err, validation.ErrInvalidAge)   // true
type FieldError struct {
	Kind  error
	Field string
	Value any
	Err   error
}

func (e *FieldError) Error() string {
	msg := fmt.Sprintf("%v: %s", e.Kind, e.Field)

	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}

	if e.Value != nil {
		msg += fmt.Sprintf(" (got %v)", e.Value)
	}

	return msg
}

// Unwrap exposes both the error kind and the rule that failed.
func (e *FieldError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}

	return []error{e.Kind, e.Err}
}

// StoreError carries a datastore failure with the operation that caused it.
type StoreError struct {
	Kind error
	Op   string
	Err  error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%v: %s: %v", e.Kind, e.Op, e.Err)
}

// Unwrap exposes both the error kind and the datastore cause.
func (e *StoreError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

func missingField(field string) error {
	return &FieldError{Kind: ErrMissingField, Field: field}
}

func invalidField(field string, value any, err error) error {
	return &FieldError{Kind: ErrValidation, Field: field, Value: value, Err: err}
}

// ErrorKind returns a short label for err's kind, for metrics and logs.
// It returns "ok" for nil and "internal" for errors outside the ingestion kinds.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrMissingField):
		return "missing_field"
	case errors.Is(err, ErrInvalidBody):
		return "invalid_body"
	case errors.Is(err, ErrNonPublicDataSentToPublicIngestion):
		return "non_public_data"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrUnrecognisedFile):
		return "unrecognised_file"
	case errors.Is(err, ErrDimensionResolution):
		return "dimension_resolution"
	case errors.Is(err, ErrWrite):
		return "write"
	default:
		return "internal"
	}
}
