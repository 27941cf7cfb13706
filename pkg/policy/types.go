package policy

import (
	"time"

	"github.com/openfroyo/stateprep/pkg/state"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is for findings that should be reviewed.
	SeverityWarning Severity = "warning"

	// SeverityError is for findings that fail an enforced compilation.
	SeverityError Severity = "error"

	// SeverityCritical is for findings that must be addressed immediately.
	SeverityCritical Severity = "critical"
)

// Blocking reports whether the severity fails an enforced compilation.
func (s Severity) Blocking() bool {
	return s == SeverityError || s == SeverityCritical
}

// Policy represents a policy rule with its Rego code.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code. Its deny set is evaluated once per record.
	Rego string `json:"rego"`

	// Severity is the default severity for violations.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Tags are labels for organizing policies.
	Tags []string `json:"tags,omitempty"`

	// Metadata contains additional policy metadata.
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Violation is one deny result for one record.
type Violation struct {
	// Policy is the name of the policy that was violated.
	Policy string `json:"policy"`

	// Tag is the tag of the offending record.
	Tag string `json:"tag,omitempty"`

	// Message is a human-readable violation message.
	Message string `json:"message"`

	// Severity is the violation severity level.
	Severity Severity `json:"severity"`
}

// Result is the outcome of evaluating all enabled policies over a record list.
type Result struct {
	// Allowed is false when any violation has a blocking severity.
	Allowed bool `json:"allowed"`

	// Violations are ordered by policy name, then record order.
	Violations []Violation `json:"violations,omitempty"`

	// Warnings lists policies that failed to evaluate.
	Warnings []string `json:"warnings,omitempty"`

	// EvaluatedPolicies lists the names of policies that were evaluated.
	EvaluatedPolicies []string `json:"evaluated_policies"`

	// EvaluatedAt is when the evaluation finished.
	EvaluatedAt time.Time `json:"evaluated_at"`

	// Duration is how long the evaluation took.
	Duration time.Duration `json:"duration"`
}

// CountBySeverity returns the number of violations per severity.
func (r *Result) CountBySeverity() map[Severity]int {
	counts := make(map[Severity]int)
	for _, v := range r.Violations {
		counts[v.Severity]++
	}
	return counts
}

// Input is the document a policy sees as input.
type Input struct {
	// Record is the record being evaluated.
	Record RecordInput `json:"record"`

	// Context describes the compilation.
	Context *Context `json:"context"`
}

// RecordInput is the policy view of a state.Record.
type RecordInput struct {
	Tag        string           `json:"tag"`
	Kind       string           `json:"kind"`
	Condition  string           `json:"condition"`
	Attributes map[string]any   `json:"attributes"`
	Requisites []RequisiteInput `json:"requisites"`
}

// RequisiteInput is the policy view of a state.Requisite.
type RequisiteInput struct {
	Relation string `json:"relation"`
	Kind     string `json:"kind"`
	Target   string `json:"target"`
}

// Context provides compilation details to policies.
type Context struct {
	// Environment is the environment (e.g., "production", "staging").
	Environment string `json:"environment,omitempty"`

	// Document is the path of the compiled document.
	Document string `json:"document,omitempty"`

	// Index is the position of the record in the compiled output.
	Index int `json:"index"`

	// Total is the number of compiled records.
	Total int `json:"total"`
}

// NewRecordInput converts a record for evaluation.
func NewRecordInput(r state.Record) RecordInput {
	in := RecordInput{
		Tag:        r.Tag,
		Kind:       r.Kind,
		Condition:  r.Condition,
		Attributes: r.Attributes,
		Requisites: make([]RequisiteInput, 0, len(r.Requisites)),
	}
	if in.Attributes == nil {
		in.Attributes = map[string]any{}
	}
	for _, req := range r.Requisites {
		in.Requisites = append(in.Requisites, RequisiteInput{
			Relation: req.Relation,
			Kind:     req.Kind,
			Target:   req.Target,
		})
	}
	return in
}

// PolicyBundle represents a collection of related policies.
type PolicyBundle struct {
	// Name is the unique name of the bundle.
	Name string `json:"name"`

	// Version is the bundle version.
	Version string `json:"version"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Policies are the policies in this bundle.
	Policies []Policy `json:"policies"`
}
