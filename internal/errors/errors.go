// Package errors defines the sentinel errors shared by the stores, the
// time-series connectors and the event writer, together with small helpers
// for wrapping and classification.
package errors

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates a missing record on read, get or update.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates a duplicate create for an existing id.
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidArgument indicates a bad table name, an unknown update
	// attribute or an unsupported store-type value.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrSchema indicates a query compiled against an undeclared table.
	ErrSchema = errors.New("schema error")

	// ErrQueryFailure carries a backend query diagnostic verbatim.
	ErrQueryFailure = errors.New("query failure")

	// ErrWriteFailure carries a backend write diagnostic verbatim.
	ErrWriteFailure = errors.New("write failure")

	// ErrMalformedEvent indicates a stream record that is not a
	// key/value mapping. Terminal for that event, never retried here.
	ErrMalformedEvent = errors.New("malformed event")

	// ErrIncompleteEvent indicates a stream record missing one or more
	// declared event fields. Terminal for that event.
	ErrIncompleteEvent = errors.New("incomplete event")
)

// Is is a convenience wrapper for errors.Is.
var Is = errors.Is

// As is a convenience wrapper for errors.As.
var As = errors.As

// IsNotFound reports whether err is a not-found error.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsAlreadyExists reports whether err is an already-exists error.
func IsAlreadyExists(err error) bool { return errors.Is(err, ErrAlreadyExists) }

// IsRejection reports whether err is a terminal per-event input error.
func IsRejection(err error) bool {
	return errors.Is(err, ErrMalformedEvent) || errors.Is(err, ErrIncompleteEvent)
}

// Join is a convenience wrapper for errors.Join.
var Join = errors.Join

// Wrap adds context to err, preserving the sentinel for errors.Is.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf adds formatted context to err.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// NewNotFound builds a not-found error naming the entity.
func NewNotFound(entity, id string) error {
	return fmt.Errorf("%s %q: %w", entity, id, ErrNotFound)
}

// NewAlreadyExists builds an already-exists error naming the entity.
func NewAlreadyExists(entity, id string) error {
	return fmt.Errorf("%s %q: %w", entity, id, ErrAlreadyExists)
}

// NewInvalidArgument builds an invalid-argument error for a field value,
// listing the accepted set.
func NewInvalidArgument(field string, value any, valid string) error {
	return fmt.Errorf("invalid %s %q (valid: %s): %w", field, value, valid, ErrInvalidArgument)
}

// NewQueryFailure wraps a backend query error, keeping its text verbatim.
func NewQueryFailure(table string, err error) error {
	return fmt.Errorf("query on %s failed: %v: %w", table, err, ErrQueryFailure)
}

// NewWriteFailure wraps a backend write error, keeping its text verbatim.
func NewWriteFailure(table string, err error) error {
	return fmt.Errorf("write to %s failed: %v: %w", table, err, ErrWriteFailure)
}
