package expense

import (
	"errors"
	"fmt"

	"github.com/zombor/expense-intake/internal/scanning"
)

var (
	// ErrDuplicateReceipt means an entry with the same bill number already exists
	ErrDuplicateReceipt = errors.New("duplicate receipt")
	// ErrMissingReason means a rejection was requested without a reason
	ErrMissingReason = errors.New("a reason is required to reject an expense")
	// ErrNotFound means no entry or aggregate matched the reference
	ErrNotFound = errors.New("not found")
	// ErrInvalidTransition means the entry is not Pending or the target status is not a decision
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrPersistence wraps store write failures
	ErrPersistence = errors.New("persistence failure")

	ErrUnsupportedContentType = scanning.ErrUnsupportedContentType
)

// ValidationError reports the submission field and constraint that failed
type ValidationError struct {
	Field      string
	Constraint string
	Err        error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Constraint)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func invalid(field, constraint string) *ValidationError {
	return &ValidationError{Field: field, Constraint: constraint}
}
