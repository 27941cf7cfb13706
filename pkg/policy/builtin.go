package policy

// GetBuiltinPolicies returns all built-in policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		pinnedPackagesPolicy(),
		systemFileOwnershipPolicy(),
		fileModePolicy(),
		commandShellPolicy(),
	}
}

// pinnedPackagesPolicy flags packages installed at whatever version is latest.
func pinnedPackagesPolicy() Policy {
	return Policy{
		Name:        "pinned-packages",
		Description: "Flags package records that install unpinned (latest) versions",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"packages", "reproducibility"},
		Rego: `package stateprep.policies.packages

import rego.v1

package_kinds := {"pkg", "gem", "npm", "pecl", "pip"}

deny contains violation if {
	record := input.record
	record.kind in package_kinds
	record.condition == "latest"

	violation := {
		"message": sprintf("%s packages %v are not pinned to a version", [record.kind, record.attributes.pkgs]),
		"severity": "warning",
		"tag": record.tag,
	}
}`,
	}
}

// systemFileOwnershipPolicy requires files under /etc to be owned by root.
func systemFileOwnershipPolicy() Policy {
	return Policy{
		Name:        "system-file-ownership",
		Description: "Requires files and directories under /etc to be owned by root",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"files", "security"},
		Rego: `package stateprep.policies.ownership

import rego.v1

system_file(record) if {
	record.kind == "file"
	startswith(record.attributes.name, "/etc/")
}

deny contains violation if {
	record := input.record
	system_file(record)
	some field in ["user", "group"]
	owner := record.attributes[field]
	owner != "root"

	violation := {
		"message": sprintf("system file %s has %s %v, expected root", [record.attributes.name, field, owner]),
		"severity": "error",
		"tag": record.tag,
	}
}`,
	}
}

// fileModePolicy forbids world-writable files and directories.
func fileModePolicy() Policy {
	return Policy{
		Name:        "world-writable",
		Description: "Forbids world-writable file modes",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"files", "security"},
		Rego: `package stateprep.policies.modes

import rego.v1

deny contains violation if {
	record := input.record
	record.kind == "file"
	mode := sprintf("%v", [record.attributes.mode])
	regex.match("[2367]$", mode)

	violation := {
		"message": sprintf("%s has world-writable mode %s", [record.attributes.name, mode]),
		"severity": "error",
		"tag": record.tag,
	}
}`,
	}
}

// commandShellPolicy notes commands that pick their own interpreter.
func commandShellPolicy() Policy {
	return Policy{
		Name:        "command-shell",
		Description: "Reports commands run through a non-default shell",
		Severity:    SeverityInfo,
		Enabled:     true,
		Tags:        []string{"commands"},
		Rego: `package stateprep.policies.commands

import rego.v1

deny contains violation if {
	record := input.record
	record.kind == "cmd"
	shell := record.attributes.shell
	not shell in {"/bin/sh", "/bin/bash"}

	violation := {
		"message": sprintf("command %s runs through %s", [record.attributes.name, shell]),
		"severity": "info",
		"tag": record.tag,
	}
}`,
	}
}
