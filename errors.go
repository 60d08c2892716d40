package htnscale

import (
	"errors"
	"fmt"
)

// Error codes for specific failure types
const (
	ErrCodeGuardFailed        = "GUARD_FAILED"
	ErrCodeNoMethodApplicable = "NO_METHOD_APPLICABLE"
	ErrCodeTaskSequenceFailed = "TASK_SEQUENCE_FAILED"
	ErrCodeValidation         = "VALIDATION_ERROR"
	ErrCodeTaskNotFound       = "TASK_NOT_FOUND"
	ErrCodeDomainLoad         = "DOMAIN_LOAD_ERROR"
	ErrCodeCache              = "CACHE_ERROR"
	ErrCodeInternal           = "INTERNAL_ERROR"
)

// ErrNoPlan is the uniform failure returned by FindPlan. The decomposition
// failure kinds (guard, method selection, task sequence) are collapsed to
// this sentinel at the public boundary; the detail is reported through the
// TraceSink side channel only.
var ErrNoPlan = errors.New("htnscale: no plan found")

// PlanError is a custom error type for htnscale specific errors.
type PlanError struct {
	Code    string // A machine-readable error code (e.g., ErrCodeGuardFailed)
	Task    string // The task being evaluated when the error occurred
	Message string // A human-readable message
	Cause   error  // The underlying error, if any
}

// Error implements the error interface.
func (e *PlanError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Task, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Task, e.Code, e.Message)
}

// Unwrap returns the underlying cause of the error, allowing for error chaining.
func (e *PlanError) Unwrap() error {
	return e.Cause
}

// NewError creates a new PlanError.
func NewError(code, task, message string, cause error) *PlanError {
	return &PlanError{
		Code:    code,
		Task:    task,
		Message: message,
		Cause:   cause,
	}
}

// Specific error constructors

func NewGuardFailedError(task string) *PlanError {
	return NewError(ErrCodeGuardFailed, task, "precondition does not hold", nil)
}

func NewNoMethodApplicableError(task string) *PlanError {
	return NewError(ErrCodeNoMethodApplicable, task, "no method alternative produced a plan", nil)
}

func NewTaskSequenceFailedError(task, step string, cause error) *PlanError {
	return NewError(ErrCodeTaskSequenceFailed, task, fmt.Sprintf("sequence step '%s' failed", step), cause)
}

func NewValidationError(task, message string, cause error) *PlanError {
	return NewError(ErrCodeValidation, task, message, cause)
}

func NewTaskNotFoundError(task string) *PlanError {
	return NewError(ErrCodeTaskNotFound, task, fmt.Sprintf("task '%s' not declared in domain", task), nil)
}

func NewDomainLoadError(message string, cause error) *PlanError {
	return NewError(ErrCodeDomainLoad, "", message, cause)
}

func NewInternalError(task, message string, cause error) *PlanError {
	return NewError(ErrCodeInternal, task, message, cause)
}

// IsPlanningFailure reports whether err is one of the decomposition failure
// kinds that FindPlan collapses to ErrNoPlan.
func IsPlanningFailure(err error) bool {
	var pe *PlanError
	if !errors.As(err, &pe) {
		return false
	}
	switch pe.Code {
	case ErrCodeGuardFailed, ErrCodeNoMethodApplicable, ErrCodeTaskSequenceFailed:
		return true
	}
	return false
}
