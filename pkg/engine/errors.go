package engine

import (
	"errors"
	"fmt"
)

// ErrorClass represents the classification of an engine failure.
type ErrorClass string

const (
	// ErrorClassTransient indicates a failure that may succeed if the run is retried.
	// Examples: engine killed by a timeout, engine exited abnormally.
	ErrorClassTransient ErrorClass = "transient"

	// ErrorClassPermanent indicates a non-recoverable failure.
	// Examples: engine binary missing, engine reported an error.
	ErrorClassPermanent ErrorClass = "permanent"

	// ErrorClassProtocol indicates the engine broke the wire protocol.
	ErrorClassProtocol ErrorClass = "protocol"
)

// EngineError represents a classified engine failure with context.
// nolint:revive // EngineError is intentionally named to distinguish from standard errors
type EngineError struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Operation is the operation being performed when the error occurred.
	Operation string `json:"operation,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	msg := e.Message
	if e.Operation != "" {
		msg = fmt.Sprintf("%s (operation=%s)", msg, e.Operation)
	}
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %s", e.Class, msg, e.Err.Error())
	}
	return fmt.Sprintf("[%s] %s", e.Class, msg)
}

// Unwrap returns the underlying error for error chain inspection.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// Is implements error equality checking for errors.Is.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// NewTransientError creates a new transient error.
func NewTransientError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassTransient,
		Message: message,
		Err:     err,
	}
}

// NewPermanentError creates a new permanent error.
func NewPermanentError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassPermanent,
		Message: message,
		Err:     err,
	}
}

// NewProtocolError creates a new protocol error.
func NewProtocolError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassProtocol,
		Message: message,
		Err:     err,
		Code:    ErrCodeProtocol,
	}
}

// WithOperation adds operation context to an error.
func (e *EngineError) WithOperation(operation string) *EngineError {
	e.Operation = operation
	return e
}

// WithCode adds an error code to an error.
func (e *EngineError) WithCode(code string) *EngineError {
	e.Code = code
	return e
}

// WithDetail adds a detail field to the error context.
func (e *EngineError) WithDetail(key string, value interface{}) *EngineError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// IsTransient returns true if the error is classified as transient.
func IsTransient(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassTransient
	}
	return false
}

// IsPermanent returns true if the error is classified as permanent.
func IsPermanent(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassPermanent
	}
	return false
}

// IsProtocol returns true if the error is a wire protocol violation.
func IsProtocol(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassProtocol
	}
	return false
}

// CodeOf returns the error code of an EngineError in the chain, or ErrCodeInternal.
func CodeOf(err error) string {
	var e *EngineError
	if errors.As(err, &e) && e.Code != "" {
		return e.Code
	}
	return ErrCodeInternal
}

// Common error codes.
const (
	ErrCodeConfig         = "CONFIG_ERROR"
	ErrCodeSpawnFailed    = "SPAWN_FAILED"
	ErrCodeProtocol       = "PROTOCOL_ERROR"
	ErrCodeNoResult       = "NO_RESULT"
	ErrCodeEngineReported = "ENGINE_REPORTED"
	ErrCodeEngineExited   = "ENGINE_EXITED"
	ErrCodeTimeout        = "TIMEOUT"
	ErrCodePanic          = "PANIC"
	ErrCodeInternal       = "INTERNAL_ERROR"
)
