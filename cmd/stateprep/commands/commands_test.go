package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/stateprep/pkg/stores"
)

// execute runs the root command with args and returns its stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	buf := &bytes.Buffer{}
	cmd := newRootCommand("test", "none", "today")
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)

	err := cmd.ExecuteContext(context.Background())
	return buf.String(), err
}

func openHistory(t *testing.T, path string) *stores.SQLiteStore {
	t.Helper()

	store, err := stores.Open(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestCompileCommand_JSONToStdout(t *testing.T) {
	out, err := execute(t, "compile", filepath.Join("testdata", "site.yaml"))
	require.NoError(t, err)

	var records []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &records))
	require.Len(t, records, 1, "unknown module step is skipped")

	for tag, body := range records[0] {
		assert.Contains(t, tag, "nginx")
		assert.Contains(t, body, "service")
	}
}

func TestCompileCommand_BadStepsDoNotStopOtherComponents(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "history.db")

	out, err := execute(t, "compile", filepath.Join("testdata", "mixed.yaml"), "--record", "--store", dbPath)
	require.NoError(t, err)

	var records []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &records))
	require.Len(t, records, 1)
	assert.Contains(t, out, "alice")

	store := openHistory(t, dbPath)
	ctx := context.Background()

	c, err := store.LatestCompilation(ctx, filepath.Join("testdata", "mixed.yaml"))
	require.NoError(t, err)

	skipped, err := store.ListSkippedSteps(ctx, c.ID)
	require.NoError(t, err)

	codes := make([]string, 0, len(skipped))
	for _, s := range skipped {
		assert.Equal(t, "db", s.Component)
		codes = append(codes, s.Code)
	}
	assert.ElementsMatch(t, []string{"MALFORMED_STEP", "UNKNOWN_MODULE", "MALFORMED_STEP"}, codes)
}

func TestCompileCommand_WritesArtifacts(t *testing.T) {
	dir := t.TempDir()
	outFile := filepath.Join(dir, "site.sls")
	dotFile := filepath.Join(dir, "site.dot")
	runnerFile := filepath.Join(dir, "runner.json")
	metricsFile := filepath.Join(dir, "stateprep.prom")

	stdout, err := execute(t, "compile", filepath.Join("testdata", "site.yaml"),
		"--format", "sls",
		"--out", outFile,
		"--dot", dotFile,
		"--runner-opts", runnerFile,
		"--metrics-file", metricsFile,
	)
	require.NoError(t, err)
	assert.Empty(t, stdout)

	data, err := os.ReadFile(outFile)
	require.NoError(t, err)
	var records []map[string]any
	require.NoError(t, yaml.Unmarshal(data, &records))
	assert.Len(t, records, 1)

	dot, err := os.ReadFile(dotFile)
	require.NoError(t, err)
	assert.Contains(t, string(dot), "digraph")

	runner, err := os.ReadFile(runnerFile)
	require.NoError(t, err)
	var opts map[string]any
	require.NoError(t, json.Unmarshal(runner, &opts))
	assert.Equal(t, "local", opts["file_client"])
	assert.Equal(t, false, opts["state_auto_order"])
	assert.Equal(t, false, opts["failhard"])

	metrics, err := os.ReadFile(metricsFile)
	require.NoError(t, err)
	assert.Contains(t, string(metrics), `stateprep_compilations_total{status="succeeded"} 1`)
	assert.Contains(t, string(metrics), `stateprep_steps_skipped_total{code="UNKNOWN_MODULE"} 1`)
}

func TestCompileCommand_RecordsHistory(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "history.db")

	_, err := execute(t, "compile", filepath.Join("testdata", "site.yaml"), "--record", "--store", dbPath)
	require.NoError(t, err)

	store := openHistory(t, dbPath)
	ctx := context.Background()

	compilations, err := store.ListCompilations(ctx, stores.ListOptions{})
	require.NoError(t, err)
	require.Len(t, compilations, 1)

	c := compilations[0]
	assert.Equal(t, stores.CompilationSucceeded, c.Status)
	assert.Equal(t, 1, c.Components)
	assert.Equal(t, 2, c.Steps)
	assert.Equal(t, 1, c.Records)
	assert.Equal(t, 1, c.Skipped)
	require.NotNil(t, c.Output)
	assert.Contains(t, *c.Output, "nginx")

	skipped, err := store.ListSkippedSteps(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, skipped, 1)
	assert.Equal(t, "UNKNOWN_MODULE", skipped[0].Code)
	assert.Equal(t, "made.up", skipped[0].Module)

	out, err := execute(t, "history", "list", "--store", dbPath)
	require.NoError(t, err)
	assert.Contains(t, out, c.ID)
	assert.Contains(t, out, "succeeded")

	out, err = execute(t, "history", "show", c.ID, "--json", "--store", dbPath)
	require.NoError(t, err)
	var detail map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &detail))
	assert.Equal(t, "succeeded", detail["status"])
	assert.Len(t, detail["skipped_steps"], 1)

	out, err = execute(t, "history", "show", c.ID, "--output", "--store", dbPath)
	require.NoError(t, err)
	assert.Equal(t, *c.Output, out)
}

func TestCompileCommand_EnforcedPolicyRejects(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "history.db")

	out, err := execute(t, "compile", filepath.Join("testdata", "writable.yaml"),
		"--enforce", "--record", "--store", dbPath)
	require.ErrorIs(t, err, ErrPolicyRejected)
	assert.Empty(t, out, "rejected compilations write no output")

	store := openHistory(t, dbPath)
	ctx := context.Background()

	c, err := store.LatestCompilation(ctx, filepath.Join("testdata", "writable.yaml"))
	require.NoError(t, err)
	assert.Equal(t, stores.CompilationRejected, c.Status)
	assert.Nil(t, c.Output)
	require.NotNil(t, c.Error)

	violations, err := store.ListPolicyViolations(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, violations, 1)
	assert.Equal(t, "world-writable", violations[0].Policy)
	assert.Equal(t, "error", violations[0].Severity)
}

func TestCompileCommand_PolicyNotEnforced(t *testing.T) {
	out, err := execute(t, "compile", filepath.Join("testdata", "writable.yaml"))
	require.NoError(t, err)
	assert.Contains(t, out, "/srv/shared")
}

func TestCompileCommand_InvalidDocument(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "history.db")

	_, err := execute(t, "compile", filepath.Join("testdata", "invalid.json"), "--record", "--store", dbPath)
	require.Error(t, err)

	store := openHistory(t, dbPath)
	c, err := store.LatestCompilation(context.Background(), filepath.Join("testdata", "invalid.json"))
	require.NoError(t, err)
	assert.Equal(t, stores.CompilationFailed, c.Status)
	require.NotNil(t, c.Error)
}

func TestCompileCommand_UnknownFormat(t *testing.T) {
	_, err := execute(t, "compile", filepath.Join("testdata", "site.yaml"), "--format", "toml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported output format")
}

func TestValidateCommand(t *testing.T) {
	out, err := execute(t, "validate", filepath.Join("testdata", "site.yaml"))
	require.NoError(t, err)
	assert.Contains(t, out, "✓")
	assert.Contains(t, out, "1 record(s), 1 skipped")
	assert.Contains(t, out, "skipped web/2 UNKNOWN_MODULE")

	out, err = execute(t, "validate", "--strict", filepath.Join("testdata", "site.yaml"))
	require.Error(t, err)
	assert.Contains(t, out, "✗")
}

func TestValidateCommand_SchemaErrors(t *testing.T) {
	out, err := execute(t, "validate",
		filepath.Join("testdata", "site.yaml"),
		filepath.Join("testdata", "invalid.json"),
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 2 document(s)")
	assert.Contains(t, out, "invalid.json")
}

func TestModulesCommand(t *testing.T) {
	out, err := execute(t, "modules", "--family", "file", "--json")
	require.NoError(t, err)

	var infos []moduleInfo
	require.NoError(t, json.Unmarshal([]byte(out), &infos))
	require.Len(t, infos, 3)
	for _, info := range infos {
		assert.Equal(t, "file", info.Family)
	}

	out, err = execute(t, "modules")
	require.NoError(t, err)
	assert.Contains(t, out, "package.pip.package")
	assert.Contains(t, out, "system.ssh.known.host")
}

func TestHistoryPruneCommand(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "history.db")

	_, err := execute(t, "compile", filepath.Join("testdata", "site.yaml"), "--record", "--store", dbPath)
	require.NoError(t, err)

	out, err := execute(t, "history", "prune", "--older-than", "1h", "--store", dbPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Pruned 0 compilation(s)")

	_, err = execute(t, "history", "show", "missing", "--store", dbPath)
	require.ErrorIs(t, err, stores.ErrNotFound)
}
