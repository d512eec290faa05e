package sfnlocal

import (
	"errors"
	"fmt"
)

// Error names defined by the States Language, plus the local-engine additions.
const (
	// ErrStatesAll acts as a wildcard that matches any error name
	ErrStatesAll = "States.ALL"

	// ErrStatesTaskFailed matches any task failure that is not a timeout
	ErrStatesTaskFailed = "States.TaskFailed"

	ErrStatesTimeout                = "States.Timeout"
	ErrStatesNoChoiceMatched        = "States.NoChoiceMatched"
	ErrStatesIntrinsicFailure       = "States.IntrinsicFailure"
	ErrStatesParameterPathFailure   = "States.ParameterPathFailure"
	ErrStatesResultPathMatchFailure = "States.ResultPathMatchFailure"
	ErrStatesBranchFailed           = "States.BranchFailed"
	ErrStatesItemReaderFailed       = "States.ItemReaderFailed"
	ErrStatesQueryEvaluationError   = "States.QueryEvaluationError"
	ErrStatesRuntime                = "States.Runtime"

	// ErrMockNoMatch is raised when a conditional mock has no matching rule
	// and no default. Not part of the hosted service's taxonomy, but it is
	// retryable and catchable like any other task failure.
	ErrMockNoMatch = "MockEngine.NoMatchingRule"

	// ErrMockSequenceExhausted is raised when a stateful mock runs out of
	// responses.
	ErrMockSequenceExhausted = "MockEngine.SequenceExhausted"
)

// StatesError is a structured error carrying a States Language error name and
// a human-readable cause. It supports Go's error wrapping patterns.
type StatesError struct {
	Name    string `json:"error"`
	Cause   string `json:"cause"`
	Wrapped error  `json:"-"`

	// Fatal marks definition and runtime errors that are never eligible for
	// Retry/Catch handling.
	Fatal bool `json:"-"`
}

// Error implements the error interface
func (e *StatesError) Error() string {
	if e.Cause == "" {
		return e.Name
	}
	return fmt.Sprintf("%s: %s", e.Name, e.Cause)
}

// Unwrap implements the error unwrapping interface for errors.Is and errors.As
func (e *StatesError) Unwrap() error {
	return e.Wrapped
}

// ToErrorOutput converts a StatesError to the payload shape handed to Catch
// handlers and recorded as a failed state's output.
func (e *StatesError) ToErrorOutput() map[string]any {
	return map[string]any{
		"Error": e.Name,
		"Cause": e.Cause,
	}
}

// NewStatesError creates a StatesError with the given error name and cause.
func NewStatesError(name, cause string) *StatesError {
	return &StatesError{Name: name, Cause: cause}
}

// NewStatesErrorf creates a StatesError with a formatted cause.
func NewStatesErrorf(name, format string, args ...any) *StatesError {
	return &StatesError{Name: name, Cause: fmt.Sprintf(format, args...)}
}

// NewFatalError creates a StatesError that is never retried or caught. Used
// for definition errors (missing state, malformed transform) and for runtime
// limits such as the step budget.
func NewFatalError(name, cause string) *StatesError {
	return &StatesError{Name: name, Cause: cause, Fatal: true}
}

// ClassifyError coerces a regular error into a StatesError. Errors that are
// already a StatesError pass through; anything else becomes States.TaskFailed.
func ClassifyError(err error) *StatesError {
	var statesErr *StatesError
	if errors.As(err, &statesErr) {
		return statesErr
	}
	return &StatesError{
		Name:    ErrStatesTaskFailed,
		Cause:   err.Error(),
		Wrapped: err,
	}
}

// MatchesErrorName reports whether an error matches a name pattern from a
// Retry or Catch policy. States.ALL matches everything non-fatal and
// States.TaskFailed matches any task failure that is not a timeout.
func MatchesErrorName(err error, name string) bool {
	sErr := ClassifyError(err)
	if sErr.Fatal {
		return false
	}
	switch name {
	case ErrStatesAll:
		return true
	case ErrStatesTaskFailed:
		return sErr.Name != ErrStatesTimeout
	default:
		return sErr.Name == name
	}
}

// matchErrorNames reports whether err matches any name in a policy's
// ErrorEquals list.
func matchErrorNames(err error, names []string) bool {
	for _, name := range names {
		if MatchesErrorName(err, name) {
			return true
		}
	}
	return false
}

// IsDefinitionError reports whether the error is a non-recoverable definition
// or runtime error.
func IsDefinitionError(err error) bool {
	var statesErr *StatesError
	if errors.As(err, &statesErr) {
		return statesErr.Fatal
	}
	return false
}
