package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error represents a typed domain error with HTTP awareness.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status"`
	Err     error  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches typed errors by code so clones and wraps still compare equal.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) || e == nil || t == nil {
		return false
	}
	return e.Code == t.Code
}

// New creates a new Error instance.
func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// Wrap attaches context to an existing error.
func Wrap(err error, code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message, Err: err}
}

// Predefined errors for common scenarios.
var (
	ErrNotFound           = New("NOT_FOUND", http.StatusNotFound, "resource not found")
	ErrForbidden          = New("FORBIDDEN", http.StatusForbidden, "forbidden")
	ErrConflict           = New("CONFLICT", http.StatusConflict, "conflict")
	ErrPreconditionFailed = New("PRECONDITION_FAILED", http.StatusPreconditionFailed, "precondition failed")
	ErrValidation         = New("VALIDATION_ERROR", http.StatusBadRequest, "validation failed")
	ErrInternal           = New("INTERNAL_ERROR", http.StatusInternalServerError, "internal server error")
	ErrTenantRequired     = New("TENANT_REQUIRED", http.StatusBadRequest, "tenant id is required")
	ErrCacheMiss          = New("CACHE_MISS", http.StatusNotFound, "cache miss")

	// ErrAlreadyOpen signals a caller bug: a renewal workflow already references the credential.
	ErrAlreadyOpen = New("WORKFLOW_ALREADY_OPEN", http.StatusConflict, "an open renewal workflow already references this credential")
	// ErrConcurrentAdvance is returned when the same workflow is advanced twice at once.
	ErrConcurrentAdvance = New("WORKFLOW_BUSY", http.StatusConflict, "workflow is already being advanced")
	// ErrStaleWorkflow is returned when a workflow write lost a version race.
	ErrStaleWorkflow  = New("WORKFLOW_STALE", http.StatusConflict, "workflow was modified concurrently")
	ErrNotRenewable   = New("CREDENTIAL_NOT_RENEWABLE", http.StatusConflict, "credential is not eligible for renewal")
	ErrWorkflowClosed = New("WORKFLOW_CLOSED", http.StatusConflict, "workflow is closed")
)

// IsInvariantViolation reports whether err is a caller/logic defect that must not be retried.
func IsInvariantViolation(err error) bool {
	return errors.Is(err, ErrAlreadyOpen) || errors.Is(err, ErrConcurrentAdvance) || errors.Is(err, ErrStaleWorkflow)
}

// FromError normalises any error into an *Error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, ErrInternal.Code, ErrInternal.Status, ErrInternal.Message)
}

// Clone returns a copy of the error allowing for message overrides.
func Clone(err *Error, message string) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	if message != "" {
		clone.Message = message
	}
	return &clone
}
