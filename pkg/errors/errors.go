// Package errors provides the structured error system for ArrayStore with error
// codes, categories, and context.
package errors

import (
	stderr "errors"
	"fmt"
	"strings"
	"time"
)

// ErrorCode represents a structured error code for ArrayStore operations.
type ErrorCode string

// Error code constants organized by category.
const (
	// Format resolution errors
	ErrCodeUnrecognizedFormat ErrorCode = "UNRECOGNIZED_FORMAT"
	ErrCodeUnsupportedFormat  ErrorCode = "UNSUPPORTED_FORMAT"
	ErrCodeFlagContradiction  ErrorCode = "FLAG_CONTRADICTION"

	// Handle lifecycle errors
	ErrCodeInvalidHandle ErrorCode = "INVALID_HANDLE"

	// Type coercion errors
	ErrCodeIncompatibleType ErrorCode = "INCOMPATIBLE_TYPE"
	ErrCodeValueRange       ErrorCode = "VALUE_RANGE"

	// Argument and state errors
	ErrCodeInvalidArgument ErrorCode = "INVALID_ARGUMENT"
	ErrCodeReadOnly        ErrorCode = "READ_ONLY"
	ErrCodeNameNotFound    ErrorCode = "NAME_NOT_FOUND"
	ErrCodeNameExists      ErrorCode = "NAME_EXISTS"

	// Backend errors
	ErrCodeBackendFailure ErrorCode = "BACKEND_FAILURE"
	ErrCodeStorageRead    ErrorCode = "STORAGE_READ"
	ErrCodeStorageWrite   ErrorCode = "STORAGE_WRITE"

	// Connection errors (remote backends)
	ErrCodeConnectionFailed  ErrorCode = "CONNECTION_FAILED"
	ErrCodeConnectionTimeout ErrorCode = "CONNECTION_TIMEOUT"
	ErrCodeNetworkError      ErrorCode = "NETWORK_ERROR"

	// Configuration errors
	ErrCodeInvalidConfig    ErrorCode = "INVALID_CONFIG"
	ErrCodeConfigLoad       ErrorCode = "CONFIG_LOAD"
	ErrCodeConfigValidation ErrorCode = "CONFIG_VALIDATION"

	// Internal errors
	ErrCodeInternalError ErrorCode = "INTERNAL_ERROR"
)

// ErrorCategory represents the general category of an error.
type ErrorCategory string

const (
	CategoryFormat        ErrorCategory = "format"
	CategoryHandle        ErrorCategory = "handle"
	CategoryType          ErrorCategory = "type"
	CategoryArgument      ErrorCategory = "argument"
	CategoryBackend       ErrorCategory = "backend"
	CategoryConnection    ErrorCategory = "connection"
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryInternal      ErrorCategory = "internal"
)

// StoreError represents a structured error with context and metadata.
type StoreError struct {
	Code     ErrorCode     `json:"code"`
	Category ErrorCategory `json:"category"`
	Message  string        `json:"message"`

	// Contextual information
	Context   map[string]string `json:"context,omitempty"`
	Cause     error             `json:"-"`
	Timestamp time.Time         `json:"timestamp"`

	// Operational metadata
	Component string `json:"component,omitempty"`
	Operation string `json:"operation,omitempty"`

	// Error handling hints
	Retryable bool `json:"retryable"`
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	if e.Component != "" {
		if e.Operation != "" {
			return fmt.Sprintf("[%s:%s] %s: %s", e.Component, e.Operation, e.Code, e.Message)
		}
		return fmt.Sprintf("[%s] %s: %s", e.Component, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause error for error wrapping compatibility.
func (e *StoreError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target error (for errors.Is compatibility).
func (e *StoreError) Is(target error) bool {
	if storeErr, ok := target.(*StoreError); ok {
		return e.Code == storeErr.Code
	}
	return false
}

// String returns a detailed string representation for logging.
func (e *StoreError) String() string {
	var parts []string

	parts = append(parts, fmt.Sprintf("Code=%s", e.Code))
	parts = append(parts, fmt.Sprintf("Category=%s", e.Category))
	parts = append(parts, fmt.Sprintf("Message=%q", e.Message))

	if e.Component != "" {
		parts = append(parts, fmt.Sprintf("Component=%s", e.Component))
	}
	if e.Operation != "" {
		parts = append(parts, fmt.Sprintf("Operation=%s", e.Operation))
	}
	if e.Retryable {
		parts = append(parts, "Retryable=true")
	}
	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("Cause=%q", e.Cause.Error()))
	}

	return fmt.Sprintf("StoreError{%s}", strings.Join(parts, ", "))
}

// NewError creates a new ArrayStore error with default values.
func NewError(code ErrorCode, message string) *StoreError {
	return &StoreError{
		Code:      code,
		Category:  GetCategory(code),
		Message:   message,
		Timestamp: time.Now(),
		Retryable: IsRetryableByDefault(code),
	}
}

// Newf creates a new ArrayStore error with a formatted message.
func Newf(code ErrorCode, format string, args ...interface{}) *StoreError {
	return NewError(code, fmt.Sprintf(format, args...))
}

// GetCategory determines the category based on the error code.
func GetCategory(code ErrorCode) ErrorCategory {
	switch code {
	case ErrCodeUnrecognizedFormat, ErrCodeUnsupportedFormat, ErrCodeFlagContradiction:
		return CategoryFormat
	case ErrCodeInvalidHandle:
		return CategoryHandle
	case ErrCodeIncompatibleType, ErrCodeValueRange:
		return CategoryType
	case ErrCodeInvalidArgument, ErrCodeReadOnly, ErrCodeNameNotFound, ErrCodeNameExists:
		return CategoryArgument
	case ErrCodeBackendFailure, ErrCodeStorageRead, ErrCodeStorageWrite:
		return CategoryBackend
	case ErrCodeConnectionFailed, ErrCodeConnectionTimeout, ErrCodeNetworkError:
		return CategoryConnection
	case ErrCodeInvalidConfig, ErrCodeConfigLoad, ErrCodeConfigValidation:
		return CategoryConfiguration
	default:
		return CategoryInternal
	}
}

// IsRetryableByDefault determines if an error is retryable by default.
func IsRetryableByDefault(code ErrorCode) bool {
	retryableCodes := map[ErrorCode]bool{
		ErrCodeConnectionFailed:  true,
		ErrCodeConnectionTimeout: true,
		ErrCodeNetworkError:      true,
	}
	return retryableCodes[code]
}

// WithContext adds contextual information to an error.
func (e *StoreError) WithContext(key, value string) *StoreError {
	if e.Context == nil {
		e.Context = make(map[string]string)
	}
	e.Context[key] = value
	return e
}

// WithComponent sets the component for an error.
func (e *StoreError) WithComponent(component string) *StoreError {
	e.Component = component
	return e
}

// WithOperation sets the operation for an error.
func (e *StoreError) WithOperation(operation string) *StoreError {
	e.Operation = operation
	return e
}

// WithCause sets the underlying cause.
func (e *StoreError) WithCause(cause error) *StoreError {
	e.Cause = cause
	return e
}

// CodeOf extracts the ArrayStore error code from err, walking the wrap chain.
// Errors that did not originate in this package report ErrCodeInternalError.
func CodeOf(err error) ErrorCode {
	var storeErr *StoreError
	if stderr.As(err, &storeErr) {
		return storeErr.Code
	}
	return ErrCodeInternalError
}

// IsCode reports whether err carries the given error code anywhere in its chain.
func IsCode(err error, code ErrorCode) bool {
	var storeErr *StoreError
	if stderr.As(err, &storeErr) {
		return storeErr.Code == code
	}
	return false
}

// WrapBackend wraps an opaque backend failure without reinterpreting it. A
// status that is already coded passes through unchanged; anything else becomes
// a BACKEND_FAILURE with the original status preserved verbatim as the cause.
func WrapBackend(component, operation string, cause error) error {
	if cause == nil {
		return nil
	}
	var storeErr *StoreError
	if stderr.As(cause, &storeErr) {
		return cause
	}
	return NewError(ErrCodeBackendFailure, cause.Error()).
		WithComponent(component).
		WithOperation(operation).
		WithCause(cause)
}
