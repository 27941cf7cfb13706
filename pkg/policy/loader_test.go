package policy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

const denyNothing = "package %s\n\nimport rego.v1\n\ndeny contains msg if {\n\tfalse\n\tmsg := \"never\"\n}\n"

func writePolicyFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}
}

func TestLoadFromFile_Rego(t *testing.T) {
	loader := NewLoader(zerolog.Nop())

	policyFile := filepath.Join(t.TempDir(), "no-latest.rego")
	regoContent := `# Forbids unpinned packages
package site.packages

import rego.v1

deny contains msg if {
	input.record.condition == "latest"
	msg := "unpinned"
}`
	writePolicyFile(t, policyFile, regoContent)

	loaded, err := loader.loadFromFile(context.Background(), policyFile)
	if err != nil {
		t.Fatalf("Failed to load policy: %v", err)
	}
	if len(loaded) != 1 {
		t.Fatalf("Expected 1 policy, got %d", len(loaded))
	}

	policy := loaded[0]
	if policy.Name != "no-latest" {
		t.Errorf("Expected name 'no-latest', got '%s'", policy.Name)
	}
	if policy.Description != "Forbids unpinned packages" {
		t.Errorf("Unexpected description '%s'", policy.Description)
	}
	if policy.Rego != regoContent {
		t.Error("Rego content doesn't match")
	}
	if !policy.Enabled {
		t.Error("Policy should be enabled by default")
	}
	if policy.Severity != SeverityWarning {
		t.Errorf("Expected default severity warning, got %s", policy.Severity)
	}
	if policy.Metadata["source"] != policyFile {
		t.Errorf("Expected source metadata %s, got %v", policyFile, policy.Metadata["source"])
	}
}

func TestLoadFromFile_JSON(t *testing.T) {
	loader := NewLoader(zerolog.Nop())

	policyFile := filepath.Join(t.TempDir(), "policy.json")
	writePolicyFile(t, policyFile, `{
  "name": "json-policy",
  "description": "A test policy",
  "rego": "package json.policy\n\nimport rego.v1\n\ndeny contains msg if { false; msg := \"x\" }",
  "severity": "error"
}`)

	loaded, err := loader.loadFromFile(context.Background(), policyFile)
	if err != nil {
		t.Fatalf("Failed to load policy: %v", err)
	}
	if len(loaded) != 1 {
		t.Fatalf("Expected 1 policy, got %d", len(loaded))
	}

	policy := loaded[0]
	if policy.Name != "json-policy" {
		t.Errorf("Expected name 'json-policy', got '%s'", policy.Name)
	}
	if policy.Severity != SeverityError {
		t.Errorf("Expected severity 'error', got '%s'", policy.Severity)
	}
	if !policy.Enabled {
		t.Error("A JSON policy without an enabled field should be enabled")
	}
}

func TestLoadFromFile_JSONDisabled(t *testing.T) {
	loader := NewLoader(zerolog.Nop())

	policyFile := filepath.Join(t.TempDir(), "off.json")
	writePolicyFile(t, policyFile, `{"name": "off", "rego": "package off", "enabled": false}`)

	loaded, err := loader.loadFromFile(context.Background(), policyFile)
	if err != nil {
		t.Fatalf("Failed to load policy: %v", err)
	}
	if loaded[0].Enabled {
		t.Error("Explicitly disabled policy should stay disabled")
	}
}

func TestLoadFromFile_JSONWithoutName(t *testing.T) {
	loader := NewLoader(zerolog.Nop())

	policyFile := filepath.Join(t.TempDir(), "anon.json")
	writePolicyFile(t, policyFile, `{"rego": "package anon"}`)

	if _, err := loader.loadFromFile(context.Background(), policyFile); err == nil {
		t.Error("Expected error for policy without a name")
	}
}

func TestLoadFromDirectory(t *testing.T) {
	loader := NewLoader(zerolog.Nop())
	tmpDir := t.TempDir()

	for _, name := range []string{"policy1", "policy2", "policy3"} {
		writePolicyFile(t, filepath.Join(tmpDir, name+".rego"), sprintfPolicy(name))
	}
	writePolicyFile(t, filepath.Join(tmpDir, "README.md"), "# Test")

	loaded, err := loader.loadFromDirectory(context.Background(), tmpDir)
	if err != nil {
		t.Fatalf("Failed to load directory: %v", err)
	}
	if len(loaded) != 3 {
		t.Errorf("Expected 3 policies, got %d", len(loaded))
	}
}

func TestLoadFromDirectory_RecursiveWithBundle(t *testing.T) {
	loader := NewLoader(zerolog.Nop())
	tmpDir := t.TempDir()

	subDir := filepath.Join(tmpDir, "subdir")
	if err := os.Mkdir(subDir, 0755); err != nil {
		t.Fatalf("Failed to create subdirectory: %v", err)
	}

	writePolicyFile(t, filepath.Join(tmpDir, "policy1.rego"), sprintfPolicy("p1"))
	writePolicyFile(t, filepath.Join(subDir, "bundle.json"), `{
  "name": "site",
  "version": "1.0.0",
  "policies": [
    {"name": "b1", "rego": "package b1"},
    {"name": "b2", "rego": "package b2", "severity": "error"}
  ]
}`)
	// Broken files are skipped with a warning.
	writePolicyFile(t, filepath.Join(subDir, "broken.json"), "not json")

	loaded, err := loader.loadFromDirectory(context.Background(), tmpDir)
	if err != nil {
		t.Fatalf("Failed to load directory: %v", err)
	}
	if len(loaded) != 3 {
		t.Errorf("Expected 3 policies (one file plus a two-policy bundle), got %d", len(loaded))
	}
}

func TestLoadFromPaths(t *testing.T) {
	loader := NewLoader(zerolog.Nop())
	tmpDir := t.TempDir()

	dir1 := filepath.Join(tmpDir, "dir1")
	if err := os.Mkdir(dir1, 0755); err != nil {
		t.Fatalf("Failed to create directory: %v", err)
	}
	writePolicyFile(t, filepath.Join(dir1, "policy1.rego"), sprintfPolicy("p1"))

	file1 := filepath.Join(tmpDir, "policy2.rego")
	writePolicyFile(t, file1, sprintfPolicy("p2"))

	loaded, err := loader.LoadFromPaths(context.Background(), []string{dir1, file1})
	if err != nil {
		t.Fatalf("Failed to load paths: %v", err)
	}
	if len(loaded) != 2 {
		t.Errorf("Expected 2 policies, got %d", len(loaded))
	}
}

func TestLoadBundle(t *testing.T) {
	loader := NewLoader(zerolog.Nop())

	bundleFile := filepath.Join(t.TempDir(), "bundle.json")
	writePolicyFile(t, bundleFile, `{
  "name": "test-bundle",
  "version": "1.0.0",
  "description": "Test policy bundle",
  "policies": [
    {"name": "policy1", "rego": "package p1", "severity": "error"},
    {"name": "policy2", "rego": "package p2", "enabled": false}
  ]
}`)

	loaded, err := loader.LoadBundle(context.Background(), bundleFile)
	if err != nil {
		t.Fatalf("Failed to load bundle: %v", err)
	}

	if loaded.Name != "test-bundle" {
		t.Errorf("Expected bundle name 'test-bundle', got '%s'", loaded.Name)
	}
	if loaded.Version != "1.0.0" {
		t.Errorf("Expected version '1.0.0', got '%s'", loaded.Version)
	}
	if len(loaded.Policies) != 2 {
		t.Fatalf("Expected 2 policies, got %d", len(loaded.Policies))
	}
	if !loaded.Policies[0].Enabled || loaded.Policies[1].Enabled {
		t.Error("Bundle policies should default to enabled unless disabled explicitly")
	}
	if loaded.Policies[1].Severity != SeverityWarning {
		t.Errorf("Expected default severity warning, got %s", loaded.Policies[1].Severity)
	}
}

func TestExtractDescription(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		expected string
	}{
		{
			name: "single line comment",
			content: `# This is a test policy
package test`,
			expected: "This is a test policy",
		},
		{
			name: "multi line comments",
			content: `# This is a test policy
# that spans multiple lines
package test`,
			expected: "This is a test policy that spans multiple lines",
		},
		{
			name: "no comments",
			content: `package test
deny contains msg if { false }`,
			expected: "",
		},
		{
			name: "comments with empty lines",
			content: `# First line
#
# Second line
package test`,
			expected: "First line Second line",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := extractDescription(tt.content)
			if result != tt.expected {
				t.Errorf("Expected description '%s', got '%s'", tt.expected, result)
			}
		})
	}
}

func TestClearCache(t *testing.T) {
	loader := NewLoader(zerolog.Nop())

	policyFile := filepath.Join(t.TempDir(), "test.rego")
	writePolicyFile(t, policyFile, sprintfPolicy("test"))

	if _, err := loader.loadFromFile(context.Background(), policyFile); err != nil {
		t.Fatalf("Failed to load policy: %v", err)
	}
	if len(loader.cache) != 1 {
		t.Errorf("Expected 1 cache entry, got %d", len(loader.cache))
	}

	loader.ClearCache()

	if len(loader.cache) != 0 {
		t.Errorf("Expected 0 cache entries after clear, got %d", len(loader.cache))
	}
}

func TestLoadFromFile_UnsupportedType(t *testing.T) {
	loader := NewLoader(zerolog.Nop())

	policyFile := filepath.Join(t.TempDir(), "test.txt")
	writePolicyFile(t, policyFile, "not a policy")

	if _, err := loader.loadFromFile(context.Background(), policyFile); err == nil {
		t.Error("Expected error for unsupported file type")
	}
}

func TestLoadFromFile_InvalidJSON(t *testing.T) {
	loader := NewLoader(zerolog.Nop())

	policyFile := filepath.Join(t.TempDir(), "test.json")
	writePolicyFile(t, policyFile, "invalid json")

	if _, err := loader.loadFromFile(context.Background(), policyFile); err == nil {
		t.Error("Expected error for invalid JSON")
	}
}

func TestLoadFromPath_NonExistent(t *testing.T) {
	loader := NewLoader(zerolog.Nop())

	if _, err := loader.loadFromPath(context.Background(), "/nonexistent/path"); err == nil {
		t.Error("Expected error for non-existent path")
	}
}

func sprintfPolicy(pkg string) string {
	return fmt.Sprintf(denyNothing, pkg)
}
