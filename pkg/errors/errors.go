// Package errors defines the application error taxonomy shared by every
// layer of the sigilmem backend. Callers branch on error category through
// the Is* helpers rather than matching message strings.
package errors

import (
	"errors"
	"fmt"
)

// ErrorType defines different categories of errors
type ErrorType string

const (
	ErrorTypeValidation        ErrorType = "VALIDATION"
	ErrorTypeNotFound          ErrorType = "NOT_FOUND"
	ErrorTypeConflict          ErrorType = "CONFLICT"
	ErrorTypeLinkCapacity      ErrorType = "LINK_CAPACITY"
	ErrorTypeCircuitOpen       ErrorType = "CIRCUIT_OPEN"
	ErrorTypeRateLimited       ErrorType = "RATE_LIMITED"
	ErrorTypeQuotaExceeded     ErrorType = "QUOTA_EXCEEDED"
	ErrorTypeTimeout           ErrorType = "TIMEOUT"
	ErrorTypeInsecureTransport ErrorType = "INSECURE_TRANSPORT"
	ErrorTypeMissingSecret     ErrorType = "MISSING_SECRET"
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
	return &AppError{Type: ErrorTypeValidation, Message: message}
}

// NewNotFound creates a not found error
func NewNotFound(message string) error {
	return &AppError{Type: ErrorTypeNotFound, Message: message}
}

// NewConflict creates a conflict error
func NewConflict(message string) error {
	return &AppError{Type: ErrorTypeConflict, Message: message}
}

// NewLinkCapacity creates an error for a spiral at its outgoing link cap
func NewLinkCapacity(message string) error {
	return &AppError{Type: ErrorTypeLinkCapacity, Message: message}
}

// NewCircuitOpen creates a fast-fail error for an open circuit breaker
func NewCircuitOpen(message string) error {
	return &AppError{Type: ErrorTypeCircuitOpen, Message: message}
}

// NewRateLimited creates a rate limit rejection error
func NewRateLimited(message string) error {
	return &AppError{Type: ErrorTypeRateLimited, Message: message}
}

// NewQuotaExceeded creates a quota rejection error
func NewQuotaExceeded(message string) error {
	return &AppError{Type: ErrorTypeQuotaExceeded, Message: message}
}

// NewTimeout creates a timeout error for a wrapped storage or external call
func NewTimeout(message string) error {
	return &AppError{Type: ErrorTypeTimeout, Message: message}
}

// NewInsecureTransport creates a fatal configuration error for a networked
// backend reached over an unencrypted endpoint
func NewInsecureTransport(message string) error {
	return &AppError{Type: ErrorTypeInsecureTransport, Message: message}
}

// NewMissingSecret creates a fatal startup error for a signer without a secret
func NewMissingSecret(message string) error {
	return &AppError{Type: ErrorTypeMissingSecret, Message: message}
}

// NewInternal creates an internal error
func NewInternal(message string, err error) error {
	return &AppError{Type: ErrorTypeInternal, Message: message, Err: err}
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
	return &AppError{Type: ErrorTypeInternal, Message: message, Err: err}
}

// Type checking functions

func isType(err error, t ErrorType) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Type == t
}

// IsValidation checks if an error is a validation error
func IsValidation(err error) bool { return isType(err, ErrorTypeValidation) }

// IsNotFound checks if an error is a not found error
func IsNotFound(err error) bool { return isType(err, ErrorTypeNotFound) }

// IsConflict checks if an error is a conflict error
func IsConflict(err error) bool { return isType(err, ErrorTypeConflict) }

// IsLinkCapacity checks if an error is a link capacity rejection
func IsLinkCapacity(err error) bool { return isType(err, ErrorTypeLinkCapacity) }

// IsCircuitOpen checks if an error is an open circuit rejection
func IsCircuitOpen(err error) bool { return isType(err, ErrorTypeCircuitOpen) }

// IsRateLimited checks if an error is a rate limit rejection
func IsRateLimited(err error) bool { return isType(err, ErrorTypeRateLimited) }

// IsQuotaExceeded checks if an error is a quota rejection
func IsQuotaExceeded(err error) bool { return isType(err, ErrorTypeQuotaExceeded) }

// IsTimeout checks if an error is a timeout error
func IsTimeout(err error) bool { return isType(err, ErrorTypeTimeout) }

// IsInsecureTransport checks if an error is an insecure transport rejection
func IsInsecureTransport(err error) bool { return isType(err, ErrorTypeInsecureTransport) }

// IsMissingSecret checks if an error is a missing signing secret error
func IsMissingSecret(err error) bool { return isType(err, ErrorTypeMissingSecret) }

// IsInternal checks if an error is an internal error
func IsInternal(err error) bool { return isType(err, ErrorTypeInternal) }
