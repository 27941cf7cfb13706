package prep

import (
	"github.com/openfroyo/stateprep/pkg/state"
)

// ConditionManaged is the condition of a file with managed contents.
const ConditionManaged = "managed"

// pathHandler lowers files, directories and symlinks. Parameters it does not
// rename are passed through to the runner unchanged.
type pathHandler struct{}

func (pathHandler) Handle(req Request) ([]state.Record, error) {
	p := req.params()

	path, ok, err := p.str("path")
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, missing("path")
	}

	kind := req.Module.Kind()
	attrs := attributes{}
	for _, key := range p.keys() {
		switch {
		case key == "path":
			attrs["name"] = path
		case key == "source" && kind == "symlink":
			attrs["target"] = p[key]
		default:
			attrs[key] = p[key]
		}
	}

	condition := kind
	if kind == "file" {
		condition = ConditionManaged
	}

	return single(state.Record{
		Tag:        req.Tag(path, condition),
		Kind:       "file",
		Condition:  condition,
		Attributes: attrs,
	}), nil
}
