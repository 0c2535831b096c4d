// Package errors provides the structured error type used by the engine's outer layers
// (configuration loading, runtime assembly and tooling).
//
// ContextualError records which component and operation failed, with optional
// details and a process exit code for command-line tools. It unwraps to its
// cause, so errors.Is and errors.As see through it.
//
//	err := errors.New("config", "BuildStateStore", someErr).
//		WithDetails(map[string]any{"type": "redis"}).
//		WithExitCode(3)
package errors

import (
	stderrors "errors"
	"fmt"
)

// ContextualError is a structured error type that provides consistent context
// about where and why an error occurred.
type ContextualError struct {
	// Component identifies the module that produced the error (e.g. "config", "inspect-state").
	Component string

	// Operation describes what was being done when the error occurred.
	Operation string

	// ExitCode is the status a command should exit with; 0 means unset.
	ExitCode int

	// Details holds optional structured metadata about the error.
	Details map[string]any

	// Cause is the underlying error, if any.
	Cause error
}

// New creates a ContextualError with the given component, operation, and cause.
func New(component, operation string, cause error) *ContextualError {
	return &ContextualError{
		Component: component,
		Operation: operation,
		Cause:     cause,
	}
}

// Error returns a human-readable representation of the error.
func (e *ContextualError) Error() string {
	base := fmt.Sprintf("[%s] %s", e.Component, e.Operation)

	if e.ExitCode != 0 {
		base += fmt.Sprintf(" (exit %d)", e.ExitCode)
	}

	if e.Cause != nil {
		base += ": " + e.Cause.Error()
	}

	return base
}

// Unwrap returns the underlying cause, enabling use with errors.Is and errors.As.
func (e *ContextualError) Unwrap() error {
	return e.Cause
}

// WithExitCode sets ExitCode and returns e.
func (e *ContextualError) WithExitCode(code int) *ContextualError {
	e.ExitCode = code
	return e
}

// WithDetails sets Details and returns e.
func (e *ContextualError) WithDetails(details map[string]any) *ContextualError {
	e.Details = details
	return e
}

// ExitCode returns the exit code of the outermost ContextualError in err's
// chain that sets one, or 1.
func ExitCode(err error) int {
	for err != nil {
		var ce *ContextualError
		if !stderrors.As(err, &ce) {
			break
		}
		if ce.ExitCode != 0 {
			return ce.ExitCode
		}
		err = ce.Cause
	}
	return 1
}
