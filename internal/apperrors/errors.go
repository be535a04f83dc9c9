// Package apperrors provides structured application errors with HTTP status mapping.
package apperrors

import (
	"errors"
	"fmt"
)

// Sentinel errors for classification via errors.Is().
var (
	ErrValidation        = errors.New("validation error")
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrUnavailable       = errors.New("service unavailable")
	ErrNotImplemented    = errors.New("not implemented")
	ErrInternal          = errors.New("internal error")
)

// Error provides structured error with context.
type Error struct {
	Sentinel error  // Wrapped sentinel for errors.Is() classification
	Message  string // Human-readable message
	Field    string // For validation errors (e.g., "text_prompt", "meta.locale")
	Resource string // For not found/conflict (e.g., "job")
	Op       string // Operation that failed (e.g., "gemini.generateContent")
	Cause    error  // Underlying error
}

// Error returns the human-readable error message.
func (e *Error) Error() string {
	return e.Message
}

// Unwrap returns the sentinel for errors.Is() classification, plus the cause when set.
func (e *Error) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Sentinel}
	}
	return []error{e.Sentinel, e.Cause}
}

// Validation creates a validation error for a specific field.
func Validation(field, message string) error {
	return &Error{
		Sentinel: ErrValidation,
		Message:  message,
		Field:    field,
	}
}

// NotFound creates a not found error for a resource.
func NotFound(resource, id string) error {
	return &Error{
		Sentinel: ErrNotFound,
		Message:  fmt.Sprintf("%s %s not found", resource, id),
		Resource: resource,
	}
}

// Conflict creates a conflict error for a resource.
func Conflict(resource, id, reason string) error {
	return &Error{
		Sentinel: ErrConflict,
		Message:  reason,
		Resource: resource,
	}
}

// InvalidTransition reports a status change the job state machine does not allow.
func InvalidTransition(resource, id, from, to string) error {
	return &Error{
		Sentinel: ErrInvalidTransition,
		Message:  fmt.Sprintf("%s %s cannot move from %s to %s", resource, id, from, to),
		Resource: resource,
	}
}

// Unavailable reports that a dependency cannot take work right now.
func Unavailable(op string, cause error) error {
	return &Error{
		Sentinel: ErrUnavailable,
		Message:  fmt.Sprintf("%s: %v", op, cause),
		Op:       op,
		Cause:    cause,
	}
}

// NotImplemented reports a recognised but unsupported feature.
func NotImplemented(field, message string) error {
	return &Error{
		Sentinel: ErrNotImplemented,
		Message:  message,
		Field:    field,
	}
}

// Internal creates an internal error wrapping an underlying cause.
func Internal(op string, cause error) error {
	return &Error{
		Sentinel: ErrInternal,
		Message:  fmt.Sprintf("%s: %v", op, cause),
		Op:       op,
		Cause:    cause,
	}
}
