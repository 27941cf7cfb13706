// Package config loads preparation documents and CLI settings.
//
// # Documents
//
// A preparation document is JSON or YAML with a top-level "component" mapping:
//
//	component:
//	  web:
//	    state:
//	      - stateid: 1
//	        module: package.pip.package
//	        parameter:
//	          name: {flask: "2.0.1", gunicorn: ""}
//
// LoadDocument keeps components in the order they are written, which a plain
// map decode would lose. Numbers are normalized to int64 or float64 so JSON
// and YAML inputs produce identical steps. Before decoding, the raw tree is
// unified with the embedded CUE #Document schema; schema violations are
// returned as ValidationErrors with their paths.
//
// # Settings
//
// Settings is the optional YAML file passed with --config. Defaults are
// applied first, the file is overlaid and the result is checked with
// go-playground/validator struct tags.
//
// # Watching
//
// Watcher wraps fsnotify and calls back, debounced, when a watched document
// or policy file changes. It drives "stateprep compile --watch".
package config
