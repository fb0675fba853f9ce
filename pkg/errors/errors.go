package errors

import (
	"errors"
	"fmt"
)

// ErrorType defines different categories of errors
type ErrorType string

const (
	ErrorTypeValidation        ErrorType = "VALIDATION"
	ErrorTypeNotAuthenticated  ErrorType = "NOT_AUTHENTICATED"
	ErrorTypeRemoteWriteFailed ErrorType = "REMOTE_WRITE_FAILED"
	ErrorTypeRemoteReadFailed  ErrorType = "REMOTE_READ_FAILED"
	ErrorTypeUnavailable       ErrorType = "UNAVAILABLE"
	ErrorTypeInternal          ErrorType = "INTERNAL"
)

// AppError is the custom error type for the application
type AppError struct {
	Type    ErrorType
	Message string
	Err     error
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap allows errors.Is and errors.As to work
func (e *AppError) Unwrap() error {
	return e.Err
}

// Constructor functions for different error types

// NewValidation creates a validation error
func NewValidation(message string) error {
	return &AppError{
		Type:    ErrorTypeValidation,
		Message: message,
	}
}

// NewNotAuthenticated reports that no owner identifier could be resolved.
func NewNotAuthenticated(message string) error {
	return &AppError{
		Type:    ErrorTypeNotAuthenticated,
		Message: message,
	}
}

// NewRemoteWriteFailed wraps a rejected insert or a transport error on write.
func NewRemoteWriteFailed(message string, err error) error {
	return &AppError{
		Type:    ErrorTypeRemoteWriteFailed,
		Message: message,
		Err:     err,
	}
}

// NewRemoteReadFailed wraps a failed fetch from the remote store.
func NewRemoteReadFailed(message string, err error) error {
	return &AppError{
		Type:    ErrorTypeRemoteReadFailed,
		Message: message,
		Err:     err,
	}
}

// NewUnavailable reports a remote store that is refusing calls, e.g. an open breaker.
func NewUnavailable(message string, err error) error {
	return &AppError{
		Type:    ErrorTypeUnavailable,
		Message: message,
		Err:     err,
	}
}

// NewInternal creates an internal error
func NewInternal(message string, err error) error {
	return &AppError{
		Type:    ErrorTypeInternal,
		Message: message,
		Err:     err,
	}
}

// Wrap wraps an error with additional context
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}

	// If it's already an AppError, preserve the type
	var appErr *AppError
	if errors.As(err, &appErr) {
		return &AppError{
			Type:    appErr.Type,
			Message: fmt.Sprintf("%s: %s", message, appErr.Message),
			Err:     appErr.Err,
		}
	}

	// Otherwise, create an internal error
	return &AppError{
		Type:    ErrorTypeInternal,
		Message: message,
		Err:     err,
	}
}

// TypeOf returns the ErrorType of the outermost AppError in the chain,
// or the empty string when err carries none.
func TypeOf(err error) ErrorType {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type
	}
	return ""
}

// Type checking functions

// IsValidation checks if an error is a validation error
func IsValidation(err error) bool {
	return TypeOf(err) == ErrorTypeValidation
}

// IsNotAuthenticated checks if an error is an authentication error
func IsNotAuthenticated(err error) bool {
	return TypeOf(err) == ErrorTypeNotAuthenticated
}

// IsRemoteWriteFailed checks if an error is a failed remote write
func IsRemoteWriteFailed(err error) bool {
	return TypeOf(err) == ErrorTypeRemoteWriteFailed
}

// IsRemoteReadFailed checks if an error is a failed remote read
func IsRemoteReadFailed(err error) bool {
	return TypeOf(err) == ErrorTypeRemoteReadFailed
}

// IsUnavailable checks if an error is an unavailability error
func IsUnavailable(err error) bool {
	return TypeOf(err) == ErrorTypeUnavailable
}

// IsInternal checks if an error is an internal error
func IsInternal(err error) bool {
	return TypeOf(err) == ErrorTypeInternal
}
