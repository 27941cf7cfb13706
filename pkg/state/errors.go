package state

import (
	"errors"
	"fmt"
)

// ErrorCode classifies a step-level compilation failure.
type ErrorCode string

const (
	// CodeMalformedStep: the step carries no parameters, or a parameter has the wrong shape.
	CodeMalformedStep ErrorCode = "MALFORMED_STEP"

	// CodeUnsupportedKind: the module subtype is not in its handler family's allow-list.
	CodeUnsupportedKind ErrorCode = "UNSUPPORTED_KIND"

	// CodeMissingRequiredField: the identifying attribute is absent after the parameter scan.
	CodeMissingRequiredField ErrorCode = "MISSING_REQUIRED_FIELD"

	// CodeUnknownModule: the module string is not in the dispatch table.
	CodeUnknownModule ErrorCode = "UNKNOWN_MODULE"
)

// Sentinels for errors.Is matching on the code alone.
var (
	ErrMalformedStep        = &StepError{Code: CodeMalformedStep}
	ErrUnsupportedKind      = &StepError{Code: CodeUnsupportedKind}
	ErrMissingRequiredField = &StepError{Code: CodeMissingRequiredField}
	ErrUnknownModule        = &StepError{Code: CodeUnknownModule}
)

// Compiler defects. These fail the whole compilation.
var (
	ErrTagCollision   = errors.New("tag collision")
	ErrRequisiteCycle = errors.New("requisite cycle")
)

// StepError is a step-local, non-fatal compilation failure.
type StepError struct {
	Code ErrorCode `json:"code"`

	Module    string `json:"module,omitempty"`
	Component string `json:"component,omitempty"`
	StateID   StepID `json:"stateid,omitempty"`

	Message string `json:"message"`
}

// NewStepError creates a step error with a formatted message.
func NewStepError(code ErrorCode, format string, args ...any) *StepError {
	return &StepError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Error implements the error interface.
func (e *StepError) Error() string {
	if e.Component != "" || e.StateID != "" {
		return fmt.Sprintf("[%s] %s (module=%s, component=%s, stateid=%s)",
			e.Code, e.Message, e.Module, e.Component, e.StateID)
	}
	if e.Module != "" {
		return fmt.Sprintf("[%s] %s (module=%s)", e.Code, e.Message, e.Module)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Is matches any StepError with the same code.
func (e *StepError) Is(target error) bool {
	t, ok := target.(*StepError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithStep attaches the step location to the error.
func (e *StepError) WithStep(module, component string, id StepID) *StepError {
	e.Module = module
	e.Component = component
	e.StateID = id
	return e
}

// AsStepError extracts a *StepError from an error chain.
func AsStepError(err error) (*StepError, bool) {
	var se *StepError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}
