/*
errors.go - Error types for the case-status ledger

ERROR CATEGORIES:
  1. Validation errors - bad status token, malformed id, illegal lifecycle event
  2. Not-found errors - unknown case, status never held by the case
  3. Internal errors - unexpected store/transaction failures

  The HTTP layer maps these with errors.Is / errors.As:
    ErrValidation -> 400, ErrNotFound -> 404, ErrDuplicateReference -> 409,
    anything else -> 500.

SEE ALSO:
  - api/handlers.go: HTTP status mapping
*/
package appeal

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation marks caller-correctable input problems.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidStatus is returned for a token outside the enumerated set.
	ErrInvalidStatus = errors.New("invalid appeal status")

	// ErrNotFound marks any missing resource.
	ErrNotFound = errors.New("not found")

	// ErrCaseNotFound is returned when the referenced case doesn't exist.
	ErrCaseNotFound = fmt.Errorf("appeal %w", ErrNotFound)

	// ErrStatusNotFound is returned when a case never held the requested status.
	ErrStatusNotFound = fmt.Errorf("appeal status %w", ErrNotFound)

	// ErrDuplicateReference is returned when a case reference is already taken.
	ErrDuplicateReference = errors.New("duplicate appeal reference")

	// ErrInternal marks unexpected store or transaction failures.
	ErrInternal = errors.New("internal error")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError describes a rejected input.
type ValidationError struct {
	Field   string
	Message string
	Err     error // optional, more specific sentinel
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrValidation, e.Err}
	}
	return []error{ErrValidation}
}

// NotFoundError carries the human-readable message shown to callers.
type NotFoundError struct {
	Message string
	Err     error // ErrCaseNotFound or ErrStatusNotFound
}

func (e *NotFoundError) Error() string { return e.Message }

func (e *NotFoundError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrNotFound
}

// InternalError wraps an unexpected failure with the operation it broke.
type InternalError struct {
	Op  string
	Err error
}

func (e *InternalError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *InternalError) Unwrap() []error {
	return []error{ErrInternal, e.Err}
}

func caseNotFound(id CaseID) error {
	return &NotFoundError{
		Message: fmt.Sprintf("Appeal %d not found", id),
		Err:     ErrCaseNotFound,
	}
}

func statusNotFound(id CaseID, status Status) error {
	return &NotFoundError{
		Message: fmt.Sprintf("Appeal status %s not found for appeal %d", status, id),
		Err:     ErrStatusNotFound,
	}
}

// asDomainError leaves domain errors untouched and wraps anything else as
// an InternalError for op.
func asDomainError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrValidation) || errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrDuplicateReference) || errors.Is(err, ErrInternal) {
		return err
	}
	return &InternalError{Op: op, Err: err}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
