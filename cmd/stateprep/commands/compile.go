package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/openfroyo/stateprep/pkg/config"
	"github.com/openfroyo/stateprep/pkg/policy"
	"github.com/openfroyo/stateprep/pkg/prep"
	"github.com/openfroyo/stateprep/pkg/state"
	"github.com/openfroyo/stateprep/pkg/stores"
	"github.com/openfroyo/stateprep/pkg/telemetry"
)

// ErrPolicyRejected is returned when enforced policies block a compilation.
var ErrPolicyRejected = errors.New("rejected by policy")

// compileOptions holds flags for the compile command.
type compileOptions struct {
	*rootOptions

	format      string
	out         string
	dot         string
	runnerOpts  string
	metricsFile string
	policies    []string
	enforce     bool
	record      bool
	storePath   string
	watch       bool
}

func newCompileCommand(rootOpts *rootOptions) *cobra.Command {
	opts := &compileOptions{rootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compile <document>",
		Short: "Compile a document into target-state records",
		Long: `Compile a JSON or YAML document into an ordered list of target-state records.

The compiler:
  - Validates the document against the built-in schema
  - Lowers every step through its module handler
  - Injects prerequisite records and requisites
  - Skips malformed steps without aborting the component
  - Checks requisite edges for dangling targets and cycles
  - Runs record policies and optionally enforces them`,
		Example: `  # Compile to stdout as JSON
  stateprep compile site.yaml

  # Write SLS output and the requisite graph
  stateprep compile site.yaml --format sls --out site.sls --dot site.dot

  # Enforce policies and record the compilation
  stateprep compile site.yaml --policy ./policies --enforce --record

  # Recompile whenever the document or a policy changes
  stateprep compile site.yaml --out site.json --watch`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(cmd, opts, args[0])
		},
	}

	cmd.Flags().StringVarP(&opts.format, "format", "f", "", "output format: json, yaml or sls (default from settings)")
	cmd.Flags().StringVarP(&opts.out, "out", "o", "", "output file (default stdout)")
	cmd.Flags().StringVar(&opts.dot, "dot", "", "write the requisite graph in DOT format")
	cmd.Flags().StringVar(&opts.runnerOpts, "runner-opts", "", "write the state runner options as JSON")
	cmd.Flags().StringVar(&opts.metricsFile, "metrics-file", "", "write metrics in Prometheus text format")
	cmd.Flags().StringSliceVar(&opts.policies, "policy", nil, "policy file or directory (repeatable)")
	cmd.Flags().BoolVar(&opts.enforce, "enforce", false, "fail on blocking policy violations")
	cmd.Flags().BoolVar(&opts.record, "record", false, "record the compilation in the history database")
	cmd.Flags().StringVar(&opts.storePath, "store", "", "history database path (default from settings)")
	cmd.Flags().BoolVarP(&opts.watch, "watch", "w", false, "recompile when the document or policies change")

	return cmd
}

func runCompile(cmd *cobra.Command, opts *compileOptions, path string) error {
	ctx := cmd.Context()

	sess, err := newSession(opts.rootOptions)
	if err != nil {
		return err
	}
	defer sess.close()

	runner, err := newCompileRunner(ctx, sess, opts, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer runner.close()

	if opts.watch {
		return runner.watch(ctx, path)
	}
	return runner.compileOnce(ctx, path)
}

// compileRunner compiles one document with a fixed set of collaborators.
type compileRunner struct {
	opts     *compileOptions
	session  *session
	logger   zerolog.Logger
	loader   *config.Loader
	compiler *prep.Compiler
	policies *policy.Engine
	store    *stores.SQLiteStore
	format   state.Format
	enforce  bool
	stdout   io.Writer

	mu sync.Mutex
}

// compileOutput is what a successful compilation produced.
type compileOutput struct {
	result  *prep.Result
	policy  *policy.Result
	encoded []byte
}

func newCompileRunner(ctx context.Context, sess *session, opts *compileOptions, stdout io.Writer) (*compileRunner, error) {
	name := opts.format
	if name == "" {
		name = sess.settings.Output.Format
	}
	format, err := state.ParseFormat(name)
	if err != nil {
		return nil, err
	}

	r := &compileRunner{
		opts:     opts,
		session:  sess,
		logger:   sess.logger.With().Str("component", "compile").Logger(),
		loader:   config.NewLoader(sess.logger),
		compiler: sess.compiler(),
		format:   format,
		enforce:  opts.enforce || sess.settings.Policy.Enforce,
		stdout:   stdout,
	}

	r.policies, err = sess.policyEngine(ctx, opts.policies)
	if err != nil {
		return nil, err
	}

	if opts.record || sess.settings.Store.Enabled {
		r.store, err = sess.openStore(ctx, opts.storePath)
		if err != nil {
			return nil, err
		}
	}

	return r, nil
}

func (r *compileRunner) close() {
	if r.store != nil {
		if err := r.store.Close(); err != nil {
			r.logger.Warn().Err(err).Msg("Failed to close history")
		}
	}
}

// compileOnce compiles path, writes the requested artifacts and records the
// outcome in metrics and history.
func (r *compileRunner) compileOnce(ctx context.Context, path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	timer := telemetry.NewTimer()
	tel := r.session.telemetry

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read document %s: %w", path, err)
	}

	entry := stores.NewCompilation(path, data)
	entry.Format = string(r.format)

	ctx, span := tel.Tracer.StartCompileSpan(ctx, entry.ID, path)
	defer span.End()

	out, compileErr := r.compile(ctx, path)
	if compileErr == nil && r.enforce && !out.policy.Allowed {
		compileErr = fmt.Errorf("%s: %w", path, ErrPolicyRejected)
	}
	if compileErr == nil {
		compileErr = r.writeArtifacts(out)
	}
	entry.Duration = timer.Duration()

	summary := telemetry.CompilationSummary{
		CompilationID: entry.ID,
		Document:      path,
		Duration:      entry.Duration,
	}

	var skipped []stores.SkippedStep
	var violations []stores.PolicyViolation
	if out != nil {
		entry.Components = out.result.Components
		entry.Steps = out.result.Steps
		entry.Records = len(out.result.Records)
		entry.Skipped = len(out.result.Skipped)
		entry.Warnings = append(entry.Warnings, out.result.Warnings...)
		entry.Warnings = append(entry.Warnings, out.policy.Warnings...)

		summary.RecordsByKind = recordsByKind(out.result.Records)
		for _, s := range out.result.Skipped {
			summary.SkippedCodes = append(summary.SkippedCodes, string(s.Err.Code))
			skipped = append(skipped, stores.SkippedStep{
				Component: s.Component,
				StateID:   string(s.StateID),
				Module:    s.Module,
				Code:      string(s.Err.Code),
				Message:   s.Err.Message,
			})
		}
		for _, v := range out.policy.Violations {
			tel.Metrics.RecordPolicyViolation(string(v.Severity))
			violations = append(violations, stores.PolicyViolation{
				Policy:   v.Policy,
				Tag:      v.Tag,
				Severity: string(v.Severity),
				Message:  v.Message,
			})
			r.logger.Warn().
				Str("policy", v.Policy).
				Str("tag", v.Tag).
				Str("severity", string(v.Severity)).
				Msg(v.Message)
		}
	}

	switch {
	case errors.Is(compileErr, ErrPolicyRejected):
		entry.Status = stores.CompilationRejected
		summary.Status = telemetry.StatusRejected
	case compileErr != nil:
		entry.Status = stores.CompilationFailed
		summary.Status = telemetry.StatusFailed
		telemetry.RecordError(span, compileErr)
	default:
		entry.Status = stores.CompilationSucceeded
		summary.Status = telemetry.StatusSucceeded
		output := string(out.encoded)
		entry.Output = &output
		telemetry.RecordSuccess(span)
	}
	if compileErr != nil {
		msg := compileErr.Error()
		entry.Error = &msg
	}

	tel.RecordCompilation(summary)

	if r.store != nil {
		if err := r.store.RecordCompilation(ctx, entry, skipped, violations); err != nil {
			r.logger.Error().Err(err).Str("compilation_id", entry.ID).Msg("Failed to record compilation")
		}
	}
	if r.opts.metricsFile != "" {
		if err := tel.Metrics.WriteTextfile(r.opts.metricsFile); err != nil {
			r.logger.Error().Err(err).Str("path", r.opts.metricsFile).Msg("Failed to write metrics")
		}
	}

	return compileErr
}

// compile loads, compiles and checks a document.
func (r *compileRunner) compile(ctx context.Context, path string) (*compileOutput, error) {
	doc, err := r.loader.Load(ctx, path)
	if err != nil {
		return nil, err
	}

	result, err := r.compiler.Compile(ctx, doc)
	if err != nil {
		return nil, fmt.Errorf("failed to compile %s: %w", path, err)
	}

	out := &compileOutput{result: result, policy: &policy.Result{Allowed: true}}

	if r.policies != nil {
		pctx, span := r.session.telemetry.Tracer.StartPolicySpan(ctx, len(r.policies.ListPolicies()))
		out.policy, err = r.policies.Evaluate(pctx, path, result.Records)
		if err != nil {
			telemetry.RecordError(span, err)
			span.End()
			return nil, fmt.Errorf("failed to evaluate policies: %w", err)
		}
		telemetry.RecordSuccess(span)
		span.End()
	}

	var buf bytes.Buffer
	if err := state.Encode(&buf, result.Records, r.format); err != nil {
		return nil, err
	}
	out.encoded = buf.Bytes()

	return out, nil
}

// writeArtifacts writes the records and the optional graph and runner options.
func (r *compileRunner) writeArtifacts(out *compileOutput) error {
	if r.opts.out == "" {
		if _, err := r.stdout.Write(out.encoded); err != nil {
			return fmt.Errorf("failed to write output: %w", err)
		}
	} else if err := writeFile(r.opts.out, out.encoded); err != nil {
		return err
	}

	if r.opts.dot != "" {
		if err := writeFile(r.opts.dot, []byte(out.result.Graph.ToDOT())); err != nil {
			return err
		}
	}

	if r.opts.runnerOpts != "" {
		data, err := json.MarshalIndent(r.session.settings.Runner, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode runner options: %w", err)
		}
		if err := writeFile(r.opts.runnerOpts, append(data, '\n')); err != nil {
			return err
		}
	}

	return nil
}

// watch compiles path and recompiles on every change to it or to the
// policy files until ctx is done.
func (r *compileRunner) watch(ctx context.Context, path string) error {
	tel := r.session.telemetry

	if err := tel.Metrics.StartMetricsServer(ctx, r.logger); err != nil {
		return err
	}

	if err := r.compileOnce(ctx, path); err != nil {
		r.logger.Error().Err(err).Str("document", path).Msg("Compilation failed")
	}

	paths := []string{path}
	paths = append(paths, r.session.settings.Policy.Paths...)
	paths = append(paths, r.opts.policies...)

	watcher := config.NewWatcher(r.logger, config.DefaultDebounce)
	defer watcher.Close()

	document, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", path, err)
	}

	err = watcher.Watch(ctx, paths, func(ctx context.Context, changed string) {
		tel.Metrics.RecordReload()

		if changed != document && r.policies != nil {
			if err := r.policies.ReloadPolicies(ctx); err != nil {
				r.logger.Error().Err(err).Str("path", changed).Msg("Failed to reload policies")
				return
			}
		}

		r.logger.Info().Str("changed", changed).Msg("Recompiling")
		if err := r.compileOnce(ctx, path); err != nil {
			r.logger.Error().Err(err).Str("document", path).Msg("Compilation failed")
		}
	})
	if err != nil {
		return err
	}

	<-ctx.Done()
	return nil
}

func recordsByKind(records []state.Record) map[string]int {
	counts := make(map[string]int)
	for _, r := range records {
		counts[r.Kind]++
	}
	return counts
}

func writeFile(path string, data []byte) error {
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
