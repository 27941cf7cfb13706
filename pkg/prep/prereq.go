package prep

import (
	"github.com/openfroyo/stateprep/pkg/state"
)

// CapabilityPkg is the capability domain of package-manager prerequisites.
const CapabilityPkg = "pkg"

// prereqModule is the pseudo module used to tag prerequisite records.
const prereqModule = "base." + CapabilityPkg

// PrereqTable maps (capability, kind) to the system package providing it.
// A PrereqTable is never mutated after construction.
type PrereqTable struct {
	entries map[string]map[string]string
}

// DefaultPrereqTable returns the built-in prerequisite mapping.
func DefaultPrereqTable() PrereqTable {
	return NewPrereqTable(map[string]map[string]string{
		CapabilityPkg: {
			"npm":  "npm",
			"pecl": "php-pear",
			"pip":  "python-pip",
		},
	})
}

// NewPrereqTable copies entries into a new table.
func NewPrereqTable(entries map[string]map[string]string) PrereqTable {
	copied := make(map[string]map[string]string, len(entries))
	for capability, kinds := range entries {
		inner := make(map[string]string, len(kinds))
		for kind, pkg := range kinds {
			inner[kind] = pkg
		}
		copied[capability] = inner
	}
	return PrereqTable{entries: copied}
}

// Merge returns a table with overrides applied on top of t.
func (t PrereqTable) Merge(overrides map[string]map[string]string) PrereqTable {
	merged := make(map[string]map[string]string, len(t.entries))
	for capability, kinds := range t.entries {
		merged[capability] = kinds
	}
	for capability, kinds := range overrides {
		inner := make(map[string]string)
		for kind, pkg := range merged[capability] {
			inner[kind] = pkg
		}
		for kind, pkg := range kinds {
			inner[kind] = pkg
		}
		merged[capability] = inner
	}
	return NewPrereqTable(merged)
}

// Lookup returns the package providing kind under capability.
func (t PrereqTable) Lookup(capability, kind string) (string, bool) {
	pkg, ok := t.entries[capability][kind]
	return pkg, ok && pkg != ""
}

// Resolve returns the installed-condition record of the prerequisite package,
// or false when kind needs no prerequisite. Linking it to the dependent record
// and ordering it first is up to the caller.
func (t PrereqTable) Resolve(capability, kind string) (state.Record, bool) {
	name, ok := t.Lookup(capability, kind)
	if !ok {
		return state.Record{}, false
	}

	condition := "installed"
	return state.Record{
		Tag:        MakeTag(prereqModule, "", "", name, condition),
		Kind:       capability,
		Condition:  condition,
		Attributes: map[string]any{"name": name},
		Shared:     true,
	}, true
}
