// SPDX-License-Identifier: Apache-2.0
// Package errors provides typed error handling with rich context for the
// workspace orchestration core.
package errors

import (
	"encoding/json"
	"fmt"
)

// ErrorCode classifies workspace errors for monitoring and recovery policy.
type ErrorCode string

const (
	// CodeInternal indicates an internal system error.
	CodeInternal ErrorCode = "INTERNAL_ERROR"

	// CodeInvalidInput indicates a capability I/O schema mismatch or other
	// validation failure.
	CodeInvalidInput ErrorCode = "INVALID_INPUT"

	// CodeNotFound indicates an unknown capability or provider.
	CodeNotFound ErrorCode = "NOT_FOUND"

	// CodeTransientService indicates a retryable network/provider fault.
	CodeTransientService ErrorCode = "TRANSIENT_SERVICE"

	// CodeExternalService indicates a non-retryable external service fault.
	CodeExternalService ErrorCode = "EXTERNAL_SERVICE"

	// CodeFatalConfig indicates bad setup detected before any run starts.
	CodeFatalConfig ErrorCode = "FATAL_CONFIG"

	// CodeExecDenied indicates an executor allow-list violation.
	CodeExecDenied ErrorCode = "EXEC_DENIED"

	// CodeExecTimeout indicates an executor wall-clock timeout.
	CodeExecTimeout ErrorCode = "EXEC_TIMEOUT"

	// CodePlanningFailed indicates repeated invalid proposals or an
	// exhausted budget without a usable answer.
	CodePlanningFailed ErrorCode = "PLANNING_FAILED"

	// CodeLLMError indicates a reasoning provider error.
	CodeLLMError ErrorCode = "LLM_ERROR"

	// CodeTimeout indicates an operation exceeded its time limit.
	CodeTimeout ErrorCode = "TIMEOUT"
)

// WorkspaceError is a typed error with context for observability.
// It implements the error interface and can be unwrapped with errors.As().
type WorkspaceError struct {
	Code        ErrorCode
	Message     string
	Err         error
	Context     map[string]interface{}
	Recoverable bool
	StatusCode  int
}

// Error implements the error interface.
func (e *WorkspaceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap implements errors.Unwrap for error chain traversal.
func (e *WorkspaceError) Unwrap() error {
	return e.Err
}

// MarshalJSON implements json.Marshaler for structured logging.
func (e *WorkspaceError) MarshalJSON() ([]byte, error) {
	type Alias WorkspaceError
	return json.Marshal(&struct {
		Message     string `json:"message"`
		Code        string `json:"code"`
		Err         string `json:"error,omitempty"`
		Recoverable bool   `json:"recoverable"`
		*Alias
	}{
		Message:     e.Error(),
		Code:        string(e.Code),
		Err:         fmt.Sprintf("%v", e.Err),
		Recoverable: e.Recoverable,
		Alias:       (*Alias)(e),
	})
}

// New creates a new WorkspaceError with the given code, message, and cause.
func New(code ErrorCode, msg string, cause error) *WorkspaceError {
	return &WorkspaceError{
		Code:        code,
		Message:     msg,
		Err:         cause,
		Context:     make(map[string]interface{}),
		Recoverable: recoverableDefault(code),
		StatusCode:  codeToStatusCode(code),
	}
}

// WithContext adds a key-value pair to the error context.
// Returns the error for method chaining.
func (e *WorkspaceError) WithContext(key string, value interface{}) *WorkspaceError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithRecoverable sets whether the error can be recovered from.
// Returns the error for method chaining.
func (e *WorkspaceError) WithRecoverable(recoverable bool) *WorkspaceError {
	e.Recoverable = recoverable
	return e
}

// WithStatusCode overrides the provider status carried for diagnostics.
func (e *WorkspaceError) WithStatusCode(status int) *WorkspaceError {
	e.StatusCode = status
	return e
}

// AsWorkspaceError attempts to convert an error to a WorkspaceError.
// Returns the error as WorkspaceError if it is one, or wraps it otherwise.
func AsWorkspaceError(err error) *WorkspaceError {
	if err == nil {
		return nil
	}
	if we, ok := err.(*WorkspaceError); ok {
		return we
	}
	return New(CodeInternal, "wrapped error", err)
}

// CodeOf returns the error code of err, or CodeInternal for untyped errors.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	if we, ok := err.(*WorkspaceError); ok {
		return we.Code
	}
	return CodeInternal
}

// IsRecoverable reports whether err may be retried or fed back to planning.
func IsRecoverable(err error) bool {
	if err == nil {
		return false
	}
	if we, ok := err.(*WorkspaceError); ok {
		return we.Recoverable
	}
	return false
}

// recoverableDefault encodes the propagation policy per code. Transient
// faults and validation failures are recoverable; configuration and
// authorization faults are not.
func recoverableDefault(code ErrorCode) bool {
	switch code {
	case CodeTransientService, CodeInvalidInput, CodeExecDenied, CodeExecTimeout, CodeTimeout:
		return true
	default:
		return false
	}
}

// codeToStatusCode maps error codes to HTTP-ish status codes for envelopes.
func codeToStatusCode(code ErrorCode) int {
	switch code {
	case CodeNotFound:
		return 404
	case CodeInvalidInput:
		return 400
	case CodeTimeout, CodeExecTimeout:
		return 408
	case CodeExecDenied:
		return 403
	case CodeTransientService:
		return 503
	default:
		return 500
	}
}
