// Package policy evaluates Open Policy Agent (Rego) policies over compiled
// records.
//
// Each enabled policy is a Rego module whose deny set is queried once per
// record. The input document is:
//
//	{
//	  "record":  {"tag": ..., "kind": ..., "condition": ..., "attributes": {...}, "requisites": [...]},
//	  "context": {"environment": ..., "document": ..., "index": 0, "total": 12}
//	}
//
// A deny entry is either a string or an object with message, severity, and
// tag keys. Violations of severity error or critical make the Result
// disallowed; the CLI fails the compilation on them when enforcement is on.
//
// # Built-in Policies
//
//   - pinned-packages: package records installed at the latest version (warning)
//   - system-file-ownership: files under /etc not owned by root (error)
//   - world-writable: file modes writable by everyone (error)
//   - command-shell: commands run through a non-default shell (info)
//
// # Custom Policies
//
// Policies are loaded from .rego files, JSON policy definitions, or JSON
// bundles, and from directories containing any of them:
//
//	package site.policies.services
//
//	import rego.v1
//
//	deny contains violation if {
//	    record := input.record
//	    record.kind == "service"
//	    not record.attributes.watch
//	    violation := {
//	        "message": sprintf("service %s restarts on no file change", [record.attributes.name]),
//	        "severity": "warning",
//	        "tag": record.tag,
//	    }
//	}
//
// ReloadPolicies re-reads every loaded path; compile --watch calls it when a
// policy file changes.
package policy
