package state

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Document is the root input of a compilation.
type Document struct {
	// Components are kept in the order they appear in the input.
	Components []Component `json:"components" validate:"dive"`
}

// Component returns the component with the given id.
func (d *Document) Component(id string) (Component, bool) {
	for _, c := range d.Components {
		if c.ID == id {
			return c, true
		}
	}
	return Component{}, false
}

// StepCount returns the number of steps across all components.
func (d *Document) StepCount() int {
	n := 0
	for _, c := range d.Components {
		n += len(c.Steps)
	}
	return n
}

// Component is a named group of steps, roughly one recipe.
type Component struct {
	// ID is the unique component identifier (the key in the input document).
	ID string `json:"id" validate:"required"`

	// Steps are in author-declared order. Execution order comes from StateID.
	Steps []Step `json:"state" validate:"dive"`
}

// Step is one declared desired-state action.
type Step struct {
	// Module is the dotted module kind, e.g. "package.pip.package".
	Module string `json:"module" yaml:"module"`

	// StateID is the intended position of the step inside its component.
	StateID StepID `json:"stateid" yaml:"stateid"`

	// Parameters holds the step attributes. Nil means the "parameter" key was absent.
	Parameters map[string]any `json:"parameter,omitempty" yaml:"parameter,omitempty"`
}

// StepID is a step position. The input may carry it as an integer or a string.
type StepID string

// UnmarshalJSON accepts both JSON numbers and strings.
func (s *StepID) UnmarshalJSON(data []byte) error {
	var n json.Number
	if err := json.Unmarshal(data, &n); err == nil {
		*s = StepID(n.String())
		return nil
	}
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return fmt.Errorf("stateid must be a number or a string: %w", err)
	}
	*s = StepID(str)
	return nil
}

// UnmarshalYAML accepts any scalar node.
func (s *StepID) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: stateid must be a scalar", node.Line)
	}
	*s = StepID(node.Value)
	return nil
}

// Int returns the numeric value of the id and whether it is numeric.
func (s StepID) Int() (int, bool) {
	n, err := strconv.Atoi(string(s))
	if err != nil {
		return 0, false
	}
	return n, true
}

// Less orders numeric ids numerically before non-numeric ids, which sort lexically.
func (s StepID) Less(other StepID) bool {
	a, aNum := s.Int()
	b, bNum := other.Int()
	switch {
	case aNum && bNum:
		return a < b
	case aNum != bNum:
		return aNum
	default:
		return s < other
	}
}

// Requisite relations understood by the state runner.
const (
	// RelationRequire: the referencing record applies only after the referenced one.
	RelationRequire = "require"

	// RelationRequireIn: the referenced record applies only after the referencing one.
	RelationRequireIn = "require_in"
)

// Requisite is a directed dependency edge between two records.
type Requisite struct {
	Relation string `json:"relation"`
	Kind     string `json:"kind"`
	// Target is either the tag or the name of the referenced record.
	Target string `json:"target"`
}

// Require builds a require edge.
func Require(kind, target string) Requisite {
	return Requisite{Relation: RelationRequire, Kind: kind, Target: target}
}

// RequireIn builds a require_in edge.
func RequireIn(kind, target string) Requisite {
	return Requisite{Relation: RelationRequireIn, Kind: kind, Target: target}
}

// Record is one compiled unit of target state.
type Record struct {
	Tag        string         `json:"tag"`
	Kind       string         `json:"kind"`
	Condition  string         `json:"condition"`
	Attributes map[string]any `json:"attributes"`
	Requisites []Requisite    `json:"requisites,omitempty"`

	// Shared marks synthesized prerequisite records that several steps may
	// depend on. An identical shared record is emitted only once per document.
	Shared bool `json:"-"`
}

// Name returns the "name" attribute, or the tag when there is none.
func (r Record) Name() string {
	if name, ok := r.Attributes["name"].(string); ok && name != "" {
		return name
	}
	return r.Tag
}

// Render returns the runner representation of the record:
//
//	{tag: {kind: [condition, attributes]}}
func (r Record) Render() map[string]any {
	attrs := make(map[string]any, len(r.Attributes)+2)
	for k, v := range r.Attributes {
		attrs[k] = v
	}
	for _, rel := range []string{RelationRequire, RelationRequireIn} {
		var edges []any
		for _, req := range r.Requisites {
			if req.Relation == rel {
				edges = append(edges, map[string]any{req.Kind: req.Target})
			}
		}
		if len(edges) > 0 {
			attrs[rel] = edges
		}
	}
	return map[string]any{
		r.Tag: map[string]any{
			r.Kind: []any{r.Condition, attrs},
		},
	}
}

// Equal reports whether two records render identically.
func (r Record) Equal(other Record) bool {
	a, errA := json.Marshal(r.Render())
	b, errB := json.Marshal(other.Render())
	return errA == nil && errB == nil && string(a) == string(b)
}

// SortedKeys returns the keys of m in ascending order.
func SortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
