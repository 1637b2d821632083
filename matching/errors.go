package matching

import (
	"errors"
	"fmt"
)

// ErrInvalidInput is returned, wrapped in an *InputError, when a record lacks a
// field the scorer needs.
var ErrInvalidInput = errors.New("invalid input")

// InputError names the offending field so callers can decide whether to skip
// a candidate or abort.
type InputError struct {
	Field  string
	Reason string
}

func (e *InputError) Error() string {
	return fmt.Sprintf("invalid input: %s: %s", e.Field, e.Reason)
}

func (e *InputError) Unwrap() error {
	return ErrInvalidInput
}

func invalid(field, reason string) error {
	return &InputError{Field: field, Reason: reason}
}
