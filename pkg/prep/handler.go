package prep

import (
	"github.com/openfroyo/stateprep/pkg/state"
)

// Request is one step routed to a handler.
type Request struct {
	Module      Module
	Step        state.Step
	ComponentID string
}

// StepID returns the step id in its string form.
func (r Request) StepID() string {
	return string(r.Step.StateID)
}

// Tag builds a tag scoped to the step's own module.
func (r Request) Tag(name, condition string) string {
	return r.ScopedTag(r.Module.String(), name, condition)
}

// ScopedTag builds a tag for a helper record owned by another module.
func (r Request) ScopedTag(module, name, condition string) string {
	return MakeTag(module, r.ComponentID, r.StepID(), name, condition)
}

func (r Request) params() params {
	return params(r.Step.Parameters)
}

// Handler lowers one step into records.
//
// A handler returns either records or a *state.StepError. Records a handler
// synthesizes for its own step come before the step's main record. An empty
// result without error means the step is accepted but emits nothing.
type Handler interface {
	Handle(req Request) ([]state.Record, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(req Request) ([]state.Record, error)

// Handle calls f(req).
func (f HandlerFunc) Handle(req Request) ([]state.Record, error) {
	return f(req)
}

// validate runs the checks every family shares before its own handler.
func validate(req Request, kinds map[Family][]string) error {
	if req.Step.Parameters == nil {
		return state.NewStepError(state.CodeMalformedStep, "step has no parameters")
	}

	family, kind := req.Module.Family(), req.Module.Kind()
	for _, allowed := range kinds[family] {
		if allowed == kind {
			return nil
		}
	}
	return state.NewStepError(state.CodeUnsupportedKind,
		"%s is not a supported %s type", kind, family)
}

func missing(field string) error {
	return state.NewStepError(state.CodeMissingRequiredField,
		"required parameter %q is missing", field)
}

func single(r state.Record) []state.Record {
	return []state.Record{r}
}
