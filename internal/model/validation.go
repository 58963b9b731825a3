package model

import (
	"errors"
	"fmt"
)

// ValidationError is returned when an entity violates a configuration rule.
// It is a caller error and is never coerced into a valid value.
type ValidationError struct {
	Entity  string
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s %s", e.Entity, e.Field, e.Message)
}

// IsValidationError reports whether err is or wraps a *ValidationError.
func IsValidationError(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

func invalid(entity, field, msg string) error {
	return &ValidationError{Entity: entity, Field: field, Message: msg}
}
