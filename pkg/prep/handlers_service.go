package prep

import (
	"github.com/openfroyo/stateprep/pkg/state"
)

// ConditionRunning is the condition of every managed service.
const ConditionRunning = "running"

// serviceHandler lowers long-running services.
type serviceHandler struct{}

func (serviceHandler) Handle(req Request) ([]state.Record, error) {
	p := req.params()

	name, ok, err := p.str("name")
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, missing("name")
	}

	kind := "service"
	if req.Module.Kind() == "supervisord" {
		kind = "supervisord"
	}

	attrs := attributes{"name": name}
	if v, ok := p.get("username"); ok && kind == "supervisord" {
		attrs["user"] = v
	}
	attrs.rename(p, "config", "conf_file")
	if v, ok := p.get("watch"); ok {
		if watch, isList := v.([]any); isList {
			attrs["watch"] = watch
		}
	}

	return single(state.Record{
		Tag:        req.Tag(name, ConditionRunning),
		Kind:       kind,
		Condition:  ConditionRunning,
		Attributes: attrs,
	}), nil
}
