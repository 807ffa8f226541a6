// Package errors provides structured error handling for reconboard.
// It defines error codes and a coded error type so that callers can tell
// transport failures, malformed payloads and input validation apart.
package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents different types of errors that can occur.
type ErrorCode string

const (
	// General errors.
	CodeUnknown       ErrorCode = "UNKNOWN"
	CodeValidation    ErrorCode = "VALIDATION"
	CodeConfiguration ErrorCode = "CONFIGURATION"
	CodeCanceled      ErrorCode = "CANCELED"

	// API boundary errors.
	CodeNetwork           ErrorCode = "NETWORK"
	CodeMalformedResponse ErrorCode = "MALFORMED_RESPONSE"
	CodeAPIStatus         ErrorCode = "API_STATUS"

	// Local state errors.
	CodeConflict ErrorCode = "CONFLICT"
	CodeNotFound ErrorCode = "NOT_FOUND"
)

// ClientError is an error raised by the dashboard client or its API boundary.
type ClientError struct {
	Code      ErrorCode
	Message   string
	Operation string
	Cause     error
	Context   map[string]interface{}
}

// Error implements the error interface.
func (e *ClientError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if e.Operation != "" {
		msg = fmt.Sprintf("[%s] %s (operation: %s)", e.Code, e.Message, e.Operation)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying error for error unwrapping.
func (e *ClientError) Unwrap() error {
	return e.Cause
}

// WithContext adds context information to the error.
func (e *ClientError) WithContext(key string, value interface{}) *ClientError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithOperation records the operation that failed.
func (e *ClientError) WithOperation(op string) *ClientError {
	e.Operation = op
	return e
}

// New creates a new client error with the specified code and message.
func New(code ErrorCode, message string) *ClientError {
	return &ClientError{
		Code:    code,
		Message: message,
		Context: make(map[string]interface{}),
	}
}

// Wrap wraps an existing error as a client error.
func Wrap(code ErrorCode, message string, err error) *ClientError {
	return &ClientError{
		Code:    code,
		Message: message,
		Cause:   err,
		Context: make(map[string]interface{}),
	}
}

// IsCode reports whether any error in err's chain carries the given code.
func IsCode(err error, code ErrorCode) bool {
	return GetCode(err) == code
}

// GetCode extracts the error code from an error chain if it has one.
func GetCode(err error) ErrorCode {
	var ce *ClientError
	if stderrors.As(err, &ce) {
		return ce.Code
	}
	return CodeUnknown
}

// IsValidation reports whether err is a user-input validation failure.
func IsValidation(err error) bool {
	return IsCode(err, CodeValidation)
}

// IsNetwork reports whether err is a transport failure.
func IsNetwork(err error) bool {
	return IsCode(err, CodeNetwork)
}

// IsMalformed reports whether err is a response that failed decoding or schema checks.
func IsMalformed(err error) bool {
	return IsCode(err, CodeMalformedResponse)
}

// Common error creation functions

// ErrValidation creates an error for rejected user input.
func ErrValidation(field, message string) *ClientError {
	return New(CodeValidation, message).WithContext("field", field)
}

// ErrNetwork creates an error for a failed round trip.
func ErrNetwork(operation string, err error) *ClientError {
	return Wrap(CodeNetwork, "request failed", err).WithOperation(operation)
}

// ErrMalformed creates an error for a response body that did not decode.
func ErrMalformed(entity string, err error) *ClientError {
	return Wrap(CodeMalformedResponse, "malformed "+entity+" response", err).
		WithContext("entity", entity)
}

// ErrConfigInvalid creates an error for invalid configuration.
func ErrConfigInvalid(field string, value interface{}) *ClientError {
	return New(CodeConfiguration, "invalid configuration value").
		WithContext("field", field).
		WithContext("value", value)
}
