package txn

import (
	"errors"
	"fmt"
)

// ValidationError reports malformed arguments detected before any network
// access.
type ValidationError struct {
	// Field names the offending argument.
	Field string
	// Message describes the problem.
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "relsdk: invalid argument: " + e.Message
	}
	return fmt.Sprintf("relsdk: invalid %s: %s", e.Field, e.Message)
}

func invalid(field, msg string) error {
	return &ValidationError{Field: field, Message: msg}
}

// IsValidation reports whether err wraps a *ValidationError.
func IsValidation(err error) bool {
	var verr *ValidationError
	return errors.As(err, &verr)
}
