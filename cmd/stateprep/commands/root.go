package commands

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/openfroyo/stateprep/pkg/config"
	"github.com/openfroyo/stateprep/pkg/telemetry"
)

// rootOptions holds the global flags and the settings loaded from them.
type rootOptions struct {
	configPath string
	verbose    bool
	version    string

	settings *config.Settings
}

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	opts := &rootOptions{version: version}

	rootCmd := &cobra.Command{
		Use:   "stateprep",
		Short: "stateprep - desired-state compiler",
		Long: `stateprep compiles a document of per-component steps (packages, files,
services, users, checkouts, scheduled jobs) into the ordered list of
target-state records a Salt-style state runner applies.

Features:
  - JSON and YAML input, validated against a CUE schema
  - Deterministic tags and prerequisite injection
  - Per-step failure isolation
  - Policy checks over compiled records (OPA/rego)
  - Compilation history in SQLite
  - Watch mode with Prometheus metrics`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.load()
		},
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "settings file path")
	rootCmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "enable verbose output")

	rootCmd.AddCommand(newCompileCommand(opts))
	rootCmd.AddCommand(newValidateCommand(opts))
	rootCmd.AddCommand(newModulesCommand(opts))
	rootCmd.AddCommand(newHistoryCommand(opts))

	return rootCmd
}

// load reads the settings file and applies the log level. LOG_LEVEL wins
// over the settings file, --verbose wins over both.
func (o *rootOptions) load() error {
	settings, err := config.LoadSettings(o.configPath)
	if err != nil {
		return err
	}
	if o.version != "" {
		settings.Telemetry.ServiceVersion = o.version
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		settings.Telemetry.Logging.Level = strings.ToLower(level)
	}
	if o.verbose {
		settings.Telemetry.Logging.Level = "debug"
	}
	zerolog.SetGlobalLevel(telemetry.ParseLevel(settings.Telemetry.Logging.Level))

	o.settings = settings
	return nil
}
