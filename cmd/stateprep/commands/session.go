package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/stateprep/pkg/config"
	"github.com/openfroyo/stateprep/pkg/policy"
	"github.com/openfroyo/stateprep/pkg/prep"
	"github.com/openfroyo/stateprep/pkg/stores"
	"github.com/openfroyo/stateprep/pkg/telemetry"
)

// session is the telemetry and collaborators one command invocation uses.
type session struct {
	settings  *config.Settings
	telemetry *telemetry.Telemetry
	logger    zerolog.Logger
}

func newSession(opts *rootOptions) (*session, error) {
	tel, err := telemetry.NewTelemetry(&opts.settings.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	return &session{
		settings:  opts.settings,
		telemetry: tel,
		logger:    tel.Logger.Zerolog(),
	}, nil
}

// close flushes pending spans.
func (s *session) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.telemetry.Shutdown(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to shut down telemetry")
	}
}

func (s *session) compiler() *prep.Compiler {
	opts := []prep.Option{
		prep.WithLogger(s.logger),
		prep.WithTracer(s.telemetry.Tracer),
	}
	return prep.New(append(opts, s.settings.CompilerOptions()...)...)
}

// policyEngine returns nil when no policy is configured.
func (s *session) policyEngine(ctx context.Context, extra []string) (*policy.Engine, error) {
	cfg := s.settings.Policy
	paths := append(append([]string(nil), cfg.Paths...), extra...)
	if !cfg.Builtins && len(paths) == 0 {
		return nil, nil
	}

	opts := []policy.EngineOption{policy.WithEnvironment(s.settings.Telemetry.Environment)}
	if !cfg.Builtins {
		opts = append(opts, policy.WithoutBuiltins())
	}

	engine, err := policy.NewEngine(s.logger, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create policy engine: %w", err)
	}
	if len(paths) > 0 {
		if err := engine.LoadPolicies(ctx, paths); err != nil {
			return nil, fmt.Errorf("failed to load policies: %w", err)
		}
	}
	return engine, nil
}

// openStore opens the history database at path, or at the configured path
// when path is empty.
func (s *session) openStore(ctx context.Context, path string) (*stores.SQLiteStore, error) {
	if path == "" {
		path = s.settings.Store.Path
	}
	store, err := stores.Open(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history %s: %w", path, err)
	}
	return store, nil
}
