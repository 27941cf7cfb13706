package prep

import (
	"github.com/rs/zerolog"

	"github.com/openfroyo/stateprep/pkg/state"
)

// System conditions.
const (
	ConditionRun     = "run"
	ConditionPresent = "present"
	ConditionMounted = "mounted"
)

// hostsFile is the path managed by sys.hosts.
const hostsFile = "/etc/hosts"

// sysHandler lowers the system family: commands, cron jobs, accounts, host
// naming, mounts and ssh keys.
type sysHandler struct {
	logger zerolog.Logger
}

func (h *sysHandler) Handle(req Request) ([]state.Record, error) {
	switch req.Module {
	case ModuleSysCmd, ModuleSysScript:
		return h.command(req)
	case ModuleSysCron:
		return h.cron(req)
	case ModuleSysUser:
		return h.user(req)
	case ModuleSysGroup:
		return h.group(req)
	case ModuleSysHostname:
		return h.hostname(req)
	case ModuleSysHosts:
		return h.hosts(req)
	case ModuleSysMount:
		return h.mount(req)
	case ModuleSSHAuth, ModuleSSHKnownHost:
		return h.sshKey(req)
	case ModuleSysNTP, ModuleSysSELinux:
		h.logger.Debug().
			Str("module", req.Module.String()).
			Str("component", req.ComponentID).
			Str("stateid", req.StepID()).
			Msg("Step validated, module has no target state")
		return nil, nil
	default:
		return nil, state.NewStepError(state.CodeUnknownModule,
			"module %s is not a system module", req.Module)
	}
}

// named builds the single record shared by most system modules: one
// identifying parameter renamed to "name" plus a set of renamed extras.
func named(req Request, kind, condition, idParam string, fields map[string]string) ([]state.Record, error) {
	p := req.params()

	name, ok, err := p.str(idParam)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, missing(idParam)
	}

	attrs := attributes{"name": name}
	for from, to := range fields {
		attrs.rename(p, from, to)
	}

	return single(state.Record{
		Tag:        req.Tag(name, condition),
		Kind:       kind,
		Condition:  condition,
		Attributes: attrs,
	}), nil
}

func (h *sysHandler) command(req Request) ([]state.Record, error) {
	p := req.params()

	idParam := "name"
	if _, ok := p.get(idParam); !ok {
		idParam = "cmd"
	}
	cmd, ok, err := p.str(idParam)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, missing("name")
	}

	attrs := attributes{"name": cmd}
	attrs.rename(p, "bin", "shell")
	for _, key := range []string{"cwd", "user", "group", "env", "timeout"} {
		attrs.rename(p, key, key)
	}

	var records []state.Record
	if content, ok, err := p.str("content"); err != nil {
		return nil, err
	} else if ok {
		script := attributes{
			"name":     cmd,
			"contents": content,
			"mode":     "0755",
		}
		attrs.copyTo(script, "user", "group")
		records = append(records, state.Record{
			Tag:        req.ScopedTag("path.file", cmd, ConditionManaged),
			Kind:       "file",
			Condition:  ConditionManaged,
			Attributes: script,
		})
	}

	var requires []state.Requisite
	if len(records) > 0 {
		requires = []state.Requisite{state.Require("file", cmd)}
	}

	args, ok, err := p.str("args")
	if err != nil {
		return nil, err
	}
	if ok {
		attrs["name"] = cmd + " " + args
	}

	return append(records, state.Record{
		Tag:        req.Tag(cmd, ConditionRun),
		Kind:       "cmd",
		Condition:  ConditionRun,
		Attributes: attrs,
		Requisites: requires,
	}), nil
}

func (h *sysHandler) cron(req Request) ([]state.Record, error) {
	return named(req, "cron", ConditionPresent, "cmd", map[string]string{
		"minute":       "minute",
		"hour":         "hour",
		"month":        "month",
		"day of month": "daymonth",
		"day of week":  "dayweek",
		"username":     "user",
	})
}

func (h *sysHandler) user(req Request) ([]state.Record, error) {
	return named(req, "user", ConditionPresent, "username", map[string]string{
		"password": "password",
		"fullname": "fullname",
		"uid":      "uid",
		"gid":      "gid",
		"shell":    "shell",
		"home":     "home",
		"groups":   "groups",
	})
}

func (h *sysHandler) group(req Request) ([]state.Record, error) {
	records, err := named(req, "group", ConditionPresent, "groupname", map[string]string{
		"gid": "gid",
	})
	if err != nil {
		return nil, err
	}
	if v, ok := req.params().get("system group"); ok {
		records[0].Attributes["system"] = truthy(v)
	}
	return records, nil
}

// hostname emits a host record tagged by the hostname itself.
func (h *sysHandler) hostname(req Request) ([]state.Record, error) {
	p := req.params()

	host, ok, err := p.str("hostname")
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, missing("hostname")
	}

	attrs := attributes{"name": host}
	attrs.rename(p, "ip", "ip")

	return single(state.Record{
		Tag:        host,
		Kind:       "host",
		Condition:  ConditionPresent,
		Attributes: attrs,
	}), nil
}

func (h *sysHandler) hosts(req Request) ([]state.Record, error) {
	content, ok, err := req.params().str("content")
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, missing("content")
	}

	return single(state.Record{
		Tag:       req.ScopedTag("path.file", hostsFile, ConditionManaged),
		Kind:      "file",
		Condition: ConditionManaged,
		Attributes: attributes{
			"name":     hostsFile,
			"user":     "root",
			"group":    "root",
			"mode":     "0644",
			"contents": content,
		},
	}), nil
}

func (h *sysHandler) mount(req Request) ([]state.Record, error) {
	records, err := named(req, "mount", ConditionMounted, "path", map[string]string{
		"dev":        "device",
		"filesystem": "fstype",
		"args":       "opts",
	})
	if err != nil {
		return nil, err
	}

	p := req.params()
	for from, to := range map[string]string{"dump": "dump", "passno": "pass_num"} {
		v, ok := p.get(from)
		if !ok {
			continue
		}
		n, err := integer(from, v)
		if err != nil {
			return nil, err
		}
		records[0].Attributes[to] = n
	}
	return records, nil
}
