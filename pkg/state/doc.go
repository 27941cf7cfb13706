// Package state defines the data model shared by the stateprep compiler.
//
// # Input
//
// A Document is an ordered list of Components. Each Component holds the Steps an
// upstream controller declared for it; a Step names a module (for example
// "package.pip.package"), its position (StepID) and a free-form parameter map.
//
// # Output
//
// The compiler lowers Steps into Records. A Record is one unit of desired state
// understood by the downstream state runner:
//
//	{"_web_1_sys_cmd_/usr/bin/setup_run": {"cmd": ["run", {"name": "/usr/bin/setup"}]}}
//
// Requisites between records are rendered inside the attribute map as
// "require" and "require_in" lists, the same way the runner's own state files do.
//
// # Errors
//
// Step-level failures are reported as *StepError values carrying one of the
// codes below. They never abort a compilation:
//
//   - MALFORMED_STEP: the step has no parameters or a parameter has the wrong shape
//   - UNSUPPORTED_KIND: the module subtype is not accepted by its handler family
//   - MISSING_REQUIRED_FIELD: the identifying attribute is absent
//   - UNKNOWN_MODULE: the module string is not in the dispatch table
//
// ErrTagCollision and ErrRequisiteCycle are compiler defects and fail the whole
// compilation.
package state
