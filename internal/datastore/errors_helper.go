// Package datastore provides error handling helpers for database operations
package datastore

import (
	"fmt"

	"github.com/philipwilson/trees/internal/errors"
)

// Sentinel errors
var (
	ErrRecordNotFound = errors.NewStd("record not found")
	ErrGroupNotFound  = errors.NewStd("group not found")
	ErrInvalidInput   = errors.NewStd("invalid input")
	ErrNotOpen        = errors.NewStd("database connection is not initialized")
)

// dbError creates a categorized database error with context pairs
func dbError(err error, operation, priority string, context ...any) error {
	builder := errors.New(err).
		Component("datastore").
		Category(errors.CategoryDatabase).
		Context("operation", operation)

	if priority != "" {
		builder = builder.Priority(priority)
	}

	for i := 0; i < len(context)-1; i += 2 {
		if key, ok := context[i].(string); ok {
			builder = builder.Context(key, context[i+1])
		}
	}

	return builder.Build()
}

// notFoundError wraps a sentinel so both errors.Is and IsNotFound match
func notFoundError(sentinel error, kind, id string) error {
	return errors.New(fmt.Errorf("%w: %s", sentinel, id)).
		Component("datastore").
		Category(errors.CategoryNotFound).
		Context(kind+"_id", id).
		Build()
}

// validationError creates a validation error
func validationError(message, field string, value any) error {
	return errors.New(fmt.Errorf("%w: %s", ErrInvalidInput, message)).
		Component("datastore").
		Category(errors.CategoryValidation).
		Context("field", field).
		Context("value", fmt.Sprintf("%v", value)).
		Build()
}
