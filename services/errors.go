// Package services defines the shared error taxonomy for the routing
// pipeline. Every code is fail-closed: an ambiguous, invalid or
// unauthorized condition blocks the call rather than defaulting to a
// permissive path.
package services

import (
	"errors"
	"fmt"
)

// ErrorCode classifies terminal routing errors.
type ErrorCode string

const (
	CodeUnknownRunType       ErrorCode = "UNKNOWN_RUN_TYPE"
	CodeHardControlForbidden ErrorCode = "DETERMINISTIC_HARD_CONTROL_FORBIDDEN"
	CodeInvalidForcedModel   ErrorCode = "INVALID_FORCED_MODEL"
	CodeInvalidForcedClass   ErrorCode = "INVALID_FORCED_ROUTE_CLASS"
	CodeBudgetExceeded       ErrorCode = "BUDGET_EXCEEDED"
	CodeAllModelsFailed      ErrorCode = "ALL_MODELS_FAILED"
	CodeInternal             ErrorCode = "INTERNAL"
)

// RoutingError is a structured routing failure. Retryable is true only for
// ALL_MODELS_FAILED: the caller may retry the whole call later; every other
// code indicates a caller or operator mistake, or an exhausted budget
// period.
type RoutingError struct {
	Code      ErrorCode
	Message   string
	Retryable bool
	Err       error
	Details   map[string]interface{}
}

// Error implements the error interface.
func (e *RoutingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap implements errors.Unwrap.
func (e *RoutingError) Unwrap() error {
	return e.Err
}

// Is matches on the error code.
func (e *RoutingError) Is(target error) bool {
	t, ok := target.(*RoutingError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithDetail attaches a key/value pair to the error.
func (e *RoutingError) WithDetail(key string, value interface{}) *RoutingError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// NewRoutingError creates a new routing error.
func NewRoutingError(code ErrorCode, message string, err error) *RoutingError {
	return &RoutingError{
		Code:      code,
		Message:   message,
		Retryable: code == CodeAllModelsFailed,
		Err:       err,
	}
}

// Sentinel errors for the routing taxonomy.
var (
	ErrUnknownRunType       = NewRoutingError(CodeUnknownRunType, "run type has no route mapping", nil)
	ErrHardControlForbidden = NewRoutingError(CodeHardControlForbidden, "LLM use is forbidden for the hard-control tier", nil)
	ErrInvalidForcedModel   = NewRoutingError(CodeInvalidForcedModel, "forced model is not in the manifest", nil)
	ErrInvalidForcedClass   = NewRoutingError(CodeInvalidForcedClass, "forced route class is not recognized", nil)
	ErrBudgetExceeded       = NewRoutingError(CodeBudgetExceeded, "budget cap would be exceeded", nil)
	ErrAllModelsFailed      = NewRoutingError(CodeAllModelsFailed, "every candidate model failed", nil)
)

// CodeOf returns the ErrorCode of a routing error, or CodeInternal when the
// error is not a RoutingError.
func CodeOf(err error) ErrorCode {
	var re *RoutingError
	if errors.As(err, &re) {
		return re.Code
	}
	return CodeInternal
}

// IsRetryable reports whether the caller may retry the whole call later.
func IsRetryable(err error) bool {
	var re *RoutingError
	if errors.As(err, &re) {
		return re.Retryable
	}
	return false
}

// IsBudgetError reports whether the error is a budget denial.
func IsBudgetError(err error) bool {
	return CodeOf(err) == CodeBudgetExceeded
}

// IsPolicyError reports whether the error is a policy or configuration
// mistake (never a transient condition).
func IsPolicyError(err error) bool {
	switch CodeOf(err) {
	case CodeUnknownRunType, CodeHardControlForbidden, CodeInvalidForcedModel, CodeInvalidForcedClass:
		return true
	}
	return false
}
