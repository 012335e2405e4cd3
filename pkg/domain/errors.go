package domain

import (
	"errors"
	"fmt"
)

// Expected business outcomes. These are returned as values, surfaced to the
// caller verbatim for user display, and must never be auto-retried.
var (
	ErrNotFound = errors.New("not found")

	// ErrAlreadyAssigned means another worker holds the claim. The guarded
	// write lost, which is an ordinary rejection, not a transient error.
	ErrAlreadyAssigned = errors.New("this file is already assigned to another worker")

	ErrInvalidTransition = errors.New("order is not in a valid state for this operation")

	ErrIneligible = errors.New("you are not eligible for this file")
)

// ExternalError wraps a failure from a collaborator (object store, payment
// gateway, notification bus). Object-store and payment failures abort the
// enclosing operation; notification failures are logged and swallowed.
type ExternalError struct {
	Collaborator string
	Err          error
}

func (e *ExternalError) Error() string {
	return fmt.Sprintf("%s: %v", e.Collaborator, e.Err)
}

func (e *ExternalError) Unwrap() error { return e.Err }

// Externalf wraps err as an ExternalError for the named collaborator.
func Externalf(collaborator string, err error) error {
	if err == nil {
		return nil
	}
	return &ExternalError{Collaborator: collaborator, Err: err}
}

// IsExternal reports whether err originated from a collaborator and is
// therefore retryable by the caller.
func IsExternal(err error) bool {
	var ee *ExternalError
	return errors.As(err, &ee)
}
