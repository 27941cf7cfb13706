// Package prep compiles preparation documents into ordered target-state records.
//
// # Overview
//
// The compiler walks a state.Document component by component. Every step is
// dispatched through a closed Module table to the Handler of its family
// (package, repository, file, scm, service, sys). A handler validates the step
// and returns zero, one or many records; helper records it synthesizes (a package
// manager prerequisite, the script file of a command, the ownership pass over a
// checkout) come first and are linked with requisite edges.
//
//	c := prep.New(prep.WithLogger(logger))
//	result, err := c.Compile(ctx, doc)
//	if err != nil {
//	    // tag collision or requisite cycle: the document cannot be applied
//	}
//	for _, skipped := range result.Skipped {
//	    // malformed steps were logged and left out
//	}
//
// # Ordering
//
// Records are emitted in ascending StepID order inside a component and in
// document order across components. Steps that fail validation contribute
// nothing; the remaining steps are unaffected.
//
// # Tags
//
// MakeTag builds every record tag from (module, component, step, name,
// condition). Handlers choose name and condition so that a step emitting several
// records never produces the same tag twice.
//
// # Concurrency
//
// A Compiler holds only read-only tables and may be shared between goroutines.
package prep
