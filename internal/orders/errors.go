package orders

import (
	"errors"
	"strings"
)

var (
	// ErrValidation is the kind of every *ValidationError.
	ErrValidation = errors.New("orders: validation failed")
	// ErrNotFound indicates an unknown order line.
	ErrNotFound = errors.New("orders: order line not found")
	// ErrOrderNotFound indicates an unknown DO number.
	ErrOrderNotFound = errors.New("orders: order not found")
	// ErrAllocationConflict indicates the DO number was taken by a concurrent submission.
	ErrAllocationConflict = errors.New("orders: do number already allocated")
	// ErrUpload indicates the attachment could not be stored.
	ErrUpload = errors.New("orders: attachment upload failed")
	// ErrDuplicateSubmission indicates a replayed idempotency key.
	ErrDuplicateSubmission = errors.New("orders: submission already processed")
	// ErrConcurrentUpdate indicates a line kept changing underneath a lifecycle update.
	ErrConcurrentUpdate = errors.New("orders: order line changed concurrently")
	// ErrPersistence hides store failures from callers.
	ErrPersistence = errors.New("orders: persistence failed")
)

// ValidationError lists every rule a request broke.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return ErrValidation.Error() + ": " + strings.Join(e.Problems, "; ")
}

// Unwrap lets errors.Is match ErrValidation.
func (e *ValidationError) Unwrap() error { return ErrValidation }

func newValidationError(problems ...string) error {
	return &ValidationError{Problems: problems}
}
