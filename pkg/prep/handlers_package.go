package prep

import (
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/openfroyo/stateprep/pkg/state"
)

// Package conditions. Pinned packages are installed at their version, the rest
// are kept at the latest available version.
const (
	ConditionInstalled = "installed"
	ConditionLatest    = "latest"
)

// packageHandler lowers package installs for every package manager.
type packageHandler struct {
	prereqs PrereqTable
}

func (h *packageHandler) Handle(req Request) ([]state.Record, error) {
	p := req.params()

	raw, ok := p.get("name")
	if !ok {
		return nil, missing("name")
	}
	pinned, unpinned, err := splitPackages(raw)
	if err != nil {
		return nil, err
	}
	if len(pinned)+len(unpinned) == 0 {
		return nil, missing("name")
	}

	shared := attributes{}
	for _, key := range p.keys() {
		switch key {
		case "name":
		case "verify_gpg":
			shared[key] = truthy(p[key])
		default:
			shared[key] = p[key]
		}
	}

	kind := packageKind(req.Module)

	var records []state.Record
	var requires []state.Requisite
	if prereq, ok := h.prereqs.Resolve(CapabilityPkg, req.Module.Kind()); ok {
		records = append(records, prereq)
		requires = append(requires, state.Require(prereq.Kind, prereq.Tag))
	}

	groups := []struct {
		condition string
		pkgs      []any
	}{
		{ConditionInstalled, pinned},
		{ConditionLatest, unpinned},
	}
	for _, g := range groups {
		if len(g.pkgs) == 0 {
			continue
		}
		attrs := shared.copy()
		attrs["pkgs"] = g.pkgs
		records = append(records, state.Record{
			Tag:        req.Tag("pkgs", g.condition),
			Kind:       kind,
			Condition:  g.condition,
			Attributes: attrs,
			Requisites: append([]state.Requisite(nil), requires...),
		})
	}

	return records, nil
}

// packageKind returns the runner module managing packages of m.
func packageKind(m Module) string {
	switch m.Kind() {
	case "pkg", "zypper":
		return "pkg"
	default:
		return m.Kind()
	}
}

// splitPackages partitions a name parameter into pinned {name: version}
// entries and unpinned names, each sorted by package name. The parameter may
// be a mapping of name to optional version, a list of names or a single name.
func splitPackages(raw any) (pinned, unpinned []any, err error) {
	versions := map[string]string{}

	switch v := raw.(type) {
	case map[string]any:
		for name, version := range v {
			if name == "" {
				continue
			}
			if empty(version) {
				versions[name] = ""
				continue
			}
			s, ok := scalarString(version)
			if !ok {
				return nil, nil, state.NewStepError(state.CodeMalformedStep,
					"version of package %q must be a scalar", name)
			}
			versions[name] = s
		}
	case []any:
		for _, item := range v {
			name, ok := scalarString(item)
			if !ok {
				return nil, nil, state.NewStepError(state.CodeMalformedStep,
					"package list entries must be names, got %T", item)
			}
			if name != "" {
				versions[name] = ""
			}
		}
	default:
		name, ok := scalarString(v)
		if !ok {
			return nil, nil, state.NewStepError(state.CodeMalformedStep,
				"parameter %q must be a mapping, a list or a name", "name")
		}
		versions[name] = ""
	}

	names := make([]string, 0, len(versions))
	for name := range versions {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if version := versions[name]; version != "" {
			pinned = append(pinned, map[string]any{name: version})
		} else {
			unpinned = append(unpinned, name)
		}
	}
	return pinned, unpinned, nil
}

// repositoryHandler lowers package repositories into source list files.
type repositoryHandler struct {
	logger zerolog.Logger
}

// repositoryFiles holds the directory and extension of each file-backed
// repository type.
var repositoryFiles = map[string]struct {
	dir string
	ext string
}{
	"apt": {"/etc/apt/sources.list.d/", ".list"},
	"yum": {"/etc/yum.repos.d/", ".repo"},
}

func (h *repositoryHandler) Handle(req Request) ([]state.Record, error) {
	p := req.params()

	name, ok, err := p.str("name")
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, missing("name")
	}

	layout, ok := repositoryFiles[req.Module.Kind()]
	if !ok {
		h.logger.Warn().
			Str("module", req.Module.String()).
			Str("component", req.ComponentID).
			Str("stateid", req.StepID()).
			Msg("Repository type has no target state, step emits nothing")
		return nil, nil
	}

	filename := name
	if !strings.HasSuffix(filename, layout.ext) {
		filename += layout.ext
	}
	path := layout.dir + filename

	attrs := attributes{
		"name":  path,
		"user":  "root",
		"group": "root",
		"mode":  "644",
	}
	content, ok, err := p.str("content")
	if err != nil {
		return nil, err
	}
	attrs.setIf("contents", content, ok)

	return single(state.Record{
		Tag:        req.ScopedTag("path.file", path, ConditionManaged),
		Kind:       "file",
		Condition:  ConditionManaged,
		Attributes: attrs,
	}), nil
}
