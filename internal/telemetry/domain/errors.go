package telemetry

import (
	"errors"
	"fmt"
)

// ErrRecordNotFound is returned when no raw record exists.
var ErrRecordNotFound = errors.New("telemetry: record not found")

// ValidationError reports a payload missing a required field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("telemetry: invalid %s", e.Field)
	}
	return fmt.Sprintf("telemetry: invalid %s: %s", e.Field, e.Reason)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
