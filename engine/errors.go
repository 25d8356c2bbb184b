/*
errors.go - Centralized error types for the reimbursement engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  The engine raises errors only for invalid input and, when the strict
  rate policy is selected, for missing rate table entries. Everything else
  (zero eligible months, zero consumption) is a normal, zero-valued result.

ERROR CATEGORIES:
  1. Input errors - missing field, negative quantity, unparseable date
  2. Rate errors  - lookup miss under MissFailClosed
  3. Store errors - calculation record not found

USAGE:
  result, err := calc.Calculate(input, now)
  var inErr *engine.InputError
  if errors.As(err, &inErr) {
      // inErr.Field names the offending field
  }

SEE ALSO:
  - calculator.go: Raises these errors
  - api/handlers.go: Maps them to HTTP status codes
*/
package engine

import (
	"errors"
	"fmt"
	"time"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidInput is returned when a required field is missing, a
	// quantity is negative, or a date cannot be parsed. No partial
	// computation happens.
	ErrInvalidInput = errors.New("invalid input")

	// ErrRateLookupMiss is returned only under MissFailClosed, when the
	// correction window touches a month absent from the rate table.
	ErrRateLookupMiss = errors.New("rate lookup miss")

	// ErrCalculationNotFound is returned by stores for unknown record IDs.
	ErrCalculationNotFound = errors.New("calculation not found")

	// ErrInvalidParameters is returned when regulatory parameters are unusable.
	ErrInvalidParameters = errors.New("invalid regulatory parameters")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InputError names the field that failed validation.
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

// RateMissError identifies the month that had no rate entry.
type RateMissError struct {
	Year  int
	Month time.Month
}

func (e *RateMissError) Error() string {
	return fmt.Sprintf("rate lookup miss: no entry for %04d-%02d", e.Year, int(e.Month))
}

func (e *RateMissError) Unwrap() error {
	return ErrRateLookupMiss
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidInput)
}

// IsRateMiss returns true if a strict rate lookup failed.
func IsRateMiss(err error) bool {
	return errors.Is(err, ErrRateLookupMiss)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrCalculationNotFound)
}
