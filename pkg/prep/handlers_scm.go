package prep

import (
	"strings"

	"github.com/openfroyo/stateprep/pkg/state"
)

// scmHandler lowers source-control checkouts, preceded by an ownership pass
// over the checkout directory when one is requested.
type scmHandler struct{}

func (scmHandler) Handle(req Request) ([]state.Record, error) {
	p := req.params()
	kind := req.Module.Kind()

	repo, ok, err := p.str("repo")
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, missing("repo")
	}
	// The repo parameter reads "<label>-<location>"; the location names the checkout.
	segments := strings.Split(repo, "-")
	if len(segments) < 2 || strings.TrimSpace(segments[1]) == "" {
		return nil, state.NewStepError(state.CodeMissingRequiredField,
			"parameter %q has no repository location: %q", "repo", repo)
	}
	name := strings.TrimSpace(segments[1])

	attrs := attributes{"name": name}
	dir := attributes{}

	for _, key := range []string{"branch", "version", "revision"} {
		if v, ok := p.get(key); ok && (key == "revision" || kind == "git") {
			attrs["rev"] = v
		}
	}

	for _, key := range p.keys() {
		v := p[key]
		switch key {
		case "repo", "branch", "version", "revision":
		case "path":
			attrs["target"] = v
		case "user":
			attrs["user"] = v
			dir["user"] = v
		case "group", "mode":
			dir[key] = v
		case "force":
			attrs["force_checkout"] = truthy(v)
		case "ssh-key":
			if kind == "git" {
				attrs["identity"] = v
			}
		case "username", "password":
			if kind == "svn" {
				attrs[key] = v
			}
		}
	}

	checkout := state.Record{
		Tag:        req.Tag(name, ConditionLatest),
		Kind:       kind,
		Condition:  ConditionLatest,
		Attributes: attrs,
	}

	target, hasTarget := attrs["target"]
	if !hasTarget || len(dir) == 0 {
		return single(checkout), nil
	}

	recurse := make([]any, 0, len(dir))
	for _, key := range state.SortedKeys(dir) {
		recurse = append(recurse, key)
	}
	targetName, _ := scalarString(target)
	dir["recurse"] = recurse
	dir["name"] = target

	ownership := state.Record{
		Tag:        req.ScopedTag("path.dir", targetName, "directory"),
		Kind:       "file",
		Condition:  "directory",
		Attributes: dir,
	}
	checkout.Requisites = []state.Requisite{state.RequireIn(ownership.Kind, ownership.Tag)}

	return []state.Record{ownership, checkout}, nil
}
