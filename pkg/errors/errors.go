package errors

import (
	"errors"
	"fmt"
)

// ErrorType represents different types of errors that can occur
type ErrorType string

const (
	ErrorTypeNetwork     ErrorType = "network"
	ErrorTypeTimeout     ErrorType = "timeout"
	ErrorTypeRateLimit   ErrorType = "rate_limit"
	ErrorTypeNotFound    ErrorType = "not_found"
	ErrorTypeDownload    ErrorType = "download"
	ErrorTypeAuth        ErrorType = "auth"
	ErrorTypeParsing     ErrorType = "parsing"
	ErrorTypeServerError ErrorType = "server_error"
	ErrorTypeValidation  ErrorType = "validation"
	ErrorTypeUnknown     ErrorType = "unknown"
)

// Error represents a GitHub API or archive download error with type information
type Error struct {
	Type       ErrorType
	Message    string
	Code       int
	Username   string
	Repository string
	// Retryable marks download errors that may succeed on another attempt.
	// Other types derive retryability from Type alone.
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	subject := e.Username
	if e.Repository != "" {
		subject = e.Username + "/" + e.Repository
	}
	if subject != "" {
		return fmt.Sprintf("%s error (code %d) for %s: %s", e.Type, e.Code, subject, e.Message)
	}
	return fmt.Sprintf("%s error (code %d): %s", e.Type, e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an error of the given type
func New(errorType ErrorType, code int, message string) *Error {
	return &Error{Type: errorType, Code: code, Message: message}
}

// Wrap creates an error of the given type around a cause
func Wrap(errorType ErrorType, code int, err error, message string) *Error {
	return &Error{Type: errorType, Code: code, Message: message, Err: err}
}

// WithUser sets the username the error refers to
func (e *Error) WithUser(username string) *Error {
	e.Username = username
	return e
}

// WithRepository sets the owner and repository the error refers to
func (e *Error) WithRepository(owner, name string) *Error {
	e.Username = owner
	e.Repository = name
	return e
}

// TypeOf returns the ErrorType of err, or ErrorTypeUnknown for untyped errors
func TypeOf(err error) ErrorType {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Type
	}
	return ErrorTypeUnknown
}

// IsType reports whether err carries the given ErrorType
func IsType(err error, errorType ErrorType) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.Type == errorType
}

// IsRetryable checks if an error type should be retried
func IsRetryable(errorType ErrorType) bool {
	switch errorType {
	case ErrorTypeNetwork, ErrorTypeTimeout, ErrorTypeServerError:
		return true
	case ErrorTypeAuth, ErrorTypeNotFound, ErrorTypeParsing, ErrorTypeRateLimit, ErrorTypeValidation:
		return false
	default:
		return false
	}
}

// ShouldRetry reports whether err is worth another attempt
func ShouldRetry(err error) bool {
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		return false
	}
	if apiErr.Type == ErrorTypeDownload {
		return apiErr.Retryable
	}
	return IsRetryable(apiErr.Type)
}

// TypeForStatus classifies an HTTP status code
func TypeForStatus(statusCode int) ErrorType {
	switch {
	case statusCode == 401:
		return ErrorTypeAuth
	case statusCode == 404:
		return ErrorTypeNotFound
	case statusCode == 429:
		return ErrorTypeRateLimit
	case statusCode >= 500:
		return ErrorTypeServerError
	default:
		return ErrorTypeUnknown
	}
}
