package sidx

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedInput is returned when the input ends before every declared
	// field and reference has been read.
	ErrMalformedInput = errors.New("sidx: malformed input")

	// ErrInvalidTimescale is returned for a zero timescale.
	ErrInvalidTimescale = errors.New("sidx: timescale must be non-zero")

	// ErrFieldOverflow is returned when a value does not fit its encoded width.
	ErrFieldOverflow = errors.New("sidx: field overflow")

	// ErrInvalidVersion is returned for a version other than 0 or 1.
	ErrInvalidVersion = errors.New("sidx: unsupported version")
)

// FieldError describes a value that exceeds its bit budget.
type FieldError struct {
	// Field is the wire name of the offending field.
	Field string

	// Index is the reference index, or -1 for box-level fields.
	Index int

	Value uint64
	Bits  uint
}

func (e *FieldError) Error() string {
	if e.Index >= 0 {
		return fmt.Sprintf("sidx: field overflow: references[%d].%s=%d exceeds %d bits", e.Index, e.Field, e.Value, e.Bits)
	}
	return fmt.Sprintf("sidx: field overflow: %s=%d exceeds %d bits", e.Field, e.Value, e.Bits)
}

func (e *FieldError) Unwrap() error {
	return ErrFieldOverflow
}

// malformed wraps a read failure so that it matches both ErrMalformedInput
// and the underlying I/O error.
func malformed(what string, err error) error {
	return fmt.Errorf("%w: reading %s: %w", ErrMalformedInput, what, err)
}
