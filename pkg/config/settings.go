package config

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/stateprep/pkg/prep"
	"github.com/openfroyo/stateprep/pkg/telemetry"
)

// Settings is the CLI settings file.
type Settings struct {
	// Telemetry configures logging, tracing, and metrics.
	Telemetry telemetry.Config `yaml:"telemetry"`

	// Output controls how compiled records are written.
	Output OutputSettings `yaml:"output"`

	// Store configures the compilation history database.
	Store StoreSettings `yaml:"store"`

	// Policy configures checks run over compiled records.
	Policy PolicySettings `yaml:"policy"`

	// Prerequisites overrides entries of the prerequisite table,
	// keyed by capability and then record kind.
	Prerequisites map[string]map[string]string `yaml:"prerequisites" validate:"dive,keys,required,endkeys,required"`

	// AllowedKinds replaces the subtype allow-list of a module family.
	AllowedKinds map[string][]string `yaml:"allowed_kinds" validate:"dive,keys,oneof=package repository file scm service sys,endkeys,required"`

	// Runner holds the options passed to the downstream state runner.
	Runner RunnerOptions `yaml:"runner"`
}

// OutputSettings controls output encoding.
type OutputSettings struct {
	// Format is json or yaml.
	Format string `yaml:"format" validate:"oneof=json yaml sls yml"`
}

// StoreSettings configures compilation history.
type StoreSettings struct {
	// Enabled records each compilation in the history database.
	Enabled bool `yaml:"enabled"`

	// Path is the SQLite database file.
	Path string `yaml:"path" validate:"required_if=Enabled true"`
}

// PolicySettings configures record policies.
type PolicySettings struct {
	// Paths are .rego files, JSON policy bundles, or directories of either.
	Paths []string `yaml:"paths"`

	// Builtins enables the built-in policies.
	Builtins bool `yaml:"builtins"`

	// Enforce fails the compilation on error-severity violations.
	Enforce bool `yaml:"enforce"`
}

// RunnerOptions are the options a Salt-style runner is started with to apply
// the compiled records locally.
type RunnerOptions struct {
	FileClient       string              `yaml:"file_client" json:"file_client" validate:"required"`
	Renderer         string              `yaml:"renderer" json:"renderer" validate:"required"`
	FailHard         bool                `yaml:"failhard" json:"failhard"`
	StateTop         string              `yaml:"state_top" json:"state_top"`
	FileRoots        map[string][]string `yaml:"file_roots" json:"file_roots"`
	StateAutoOrder   bool                `yaml:"state_auto_order" json:"state_auto_order"`
	ExtensionModules string              `yaml:"extension_modules" json:"extension_modules"`
	CacheDir         string              `yaml:"cachedir" json:"cachedir"`
	Test             bool                `yaml:"test" json:"test"`
}

// DefaultRunnerOptions returns the options the runner is normally started with.
func DefaultRunnerOptions() RunnerOptions {
	return RunnerOptions{
		FileClient:       "local",
		Renderer:         "yaml_jinja",
		FailHard:         false,
		StateTop:         "salt://top.sls",
		FileRoots:        map[string][]string{"base": {"/srv/salt"}},
		StateAutoOrder:   false,
		ExtensionModules: "/var/cache/salt/minion/extmods",
		CacheDir:         "/code/OpsAgent/cache",
		Test:             false,
	}
}

// DefaultSettings returns the settings used when no settings file is given.
func DefaultSettings() *Settings {
	return &Settings{
		Telemetry: *telemetry.DefaultConfig(),
		Output:    OutputSettings{Format: "json"},
		Store:     StoreSettings{Path: "stateprep.db"},
		Policy:    PolicySettings{Builtins: true},
		Runner:    DefaultRunnerOptions(),
	}
}

// LoadSettings reads a YAML settings file over the defaults. An empty path
// returns the defaults.
func LoadSettings(path string) (*Settings, error) {
	settings := DefaultSettings()
	if path == "" {
		return settings, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read settings %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, settings); err != nil {
		return nil, fmt.Errorf("failed to parse settings %s: %w", path, err)
	}
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings %s: %w", path, err)
	}

	return settings, nil
}

// Validate checks struct constraints and the telemetry section.
func (s *Settings) Validate() error {
	if err := validator.New().Struct(s); err != nil {
		return err
	}
	return s.Telemetry.Validate()
}

// CompilerOptions turns the prerequisite and allow-list overrides into
// compiler options.
func (s *Settings) CompilerOptions() []prep.Option {
	var opts []prep.Option
	if len(s.Prerequisites) > 0 {
		opts = append(opts, prep.WithPrereqTable(prep.DefaultPrereqTable().Merge(s.Prerequisites)))
	}
	for family, kinds := range s.AllowedKinds {
		opts = append(opts, prep.WithAllowedKinds(prep.Family(family), kinds...))
	}
	return opts
}
