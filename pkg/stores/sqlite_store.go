package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db  *sql.DB
	cfg Config
}

var _ Store = (*SQLiteStore)(nil)

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	// Set defaults
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 4
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 2
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}
	// Every connection to :memory: opens a separate database.
	if cfg.Path == ":memory:" {
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
		cfg.ConnMaxLifetime = 0
	}

	return &SQLiteStore{cfg: cfg}, nil
}

// Init opens the database connection with foreign keys and WAL enabled.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_txlock=immediate", s.cfg.Path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// Open creates, initializes, and migrates a store at path.
func Open(ctx context.Context, path string) (*SQLiteStore, error) {
	store, err := NewSQLiteStore(Config{Path: path})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

// RecordCompilation stores a compilation with its skipped steps and policy
// violations in one transaction.
func (s *SQLiteStore) RecordCompilation(ctx context.Context, c *Compilation, skipped []SkippedStep, violations []PolicyViolation) error {
	warnings, err := json.Marshal(nonNil(c.Warnings))
	if err != nil {
		return fmt.Errorf("failed to encode warnings: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO compilations (
			id, document, document_hash, status, format,
			components, steps, records, skipped, warnings,
			output, error, duration_ms, started_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		c.ID,
		c.Document,
		c.DocumentHash,
		c.Status,
		c.Format,
		c.Components,
		c.Steps,
		c.Records,
		c.Skipped,
		string(warnings),
		c.Output,
		c.Error,
		c.Duration.Milliseconds(),
		c.StartedAt,
		c.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create compilation: %w", err)
	}

	for i := range skipped {
		step := &skipped[i]
		result, err := tx.ExecContext(ctx, `
			INSERT INTO skipped_steps (compilation_id, component, stateid, module, code, message)
			VALUES (?, ?, ?, ?, ?, ?)
		`, c.ID, step.Component, step.StateID, step.Module, step.Code, step.Message)
		if err != nil {
			return fmt.Errorf("failed to record skipped step: %w", err)
		}
		step.CompilationID = c.ID
		step.ID, _ = result.LastInsertId()
	}

	for i := range violations {
		v := &violations[i]
		result, err := tx.ExecContext(ctx, `
			INSERT INTO policy_violations (compilation_id, policy, tag, severity, message)
			VALUES (?, ?, ?, ?, ?)
		`, c.ID, v.Policy, v.Tag, v.Severity, v.Message)
		if err != nil {
			return fmt.Errorf("failed to record policy violation: %w", err)
		}
		v.CompilationID = c.ID
		v.ID, _ = result.LastInsertId()
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit compilation: %w", err)
	}
	return nil
}

const compilationColumns = `
	id, document, document_hash, status, format,
	components, steps, records, skipped, warnings,
	output, error, duration_ms, started_at, created_at
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCompilation(row rowScanner) (*Compilation, error) {
	c := &Compilation{}
	var warnings string
	var durationMS int64
	err := row.Scan(
		&c.ID,
		&c.Document,
		&c.DocumentHash,
		&c.Status,
		&c.Format,
		&c.Components,
		&c.Steps,
		&c.Records,
		&c.Skipped,
		&warnings,
		&c.Output,
		&c.Error,
		&durationMS,
		&c.StartedAt,
		&c.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(warnings), &c.Warnings); err != nil {
		return nil, fmt.Errorf("failed to decode warnings of %s: %w", c.ID, err)
	}
	c.Duration = time.Duration(durationMS) * time.Millisecond
	return c, nil
}

// GetCompilation retrieves a compilation by ID
func (s *SQLiteStore) GetCompilation(ctx context.Context, id string) (*Compilation, error) {
	query := `SELECT ` + compilationColumns + ` FROM compilations WHERE id = ?`

	c, err := scanCompilation(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("compilation %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get compilation: %w", err)
	}

	return c, nil
}

// LatestCompilation returns the most recent compilation of a document
func (s *SQLiteStore) LatestCompilation(ctx context.Context, document string) (*Compilation, error) {
	query := `SELECT ` + compilationColumns + ` FROM compilations
		WHERE document = ?
		ORDER BY started_at DESC
		LIMIT 1`

	c, err := scanCompilation(s.db.QueryRowContext(ctx, query, document))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("compilation of %s: %w", document, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest compilation: %w", err)
	}

	return c, nil
}

// ListCompilations lists compilations, newest first
func (s *SQLiteStore) ListCompilations(ctx context.Context, opts ListOptions) ([]*Compilation, error) {
	if opts.Limit <= 0 {
		opts.Limit = 50
	}

	var document, status *string
	if opts.Document != "" {
		document = &opts.Document
	}
	if opts.Status != "" {
		st := string(opts.Status)
		status = &st
	}

	query := `SELECT ` + compilationColumns + ` FROM compilations
		WHERE (? IS NULL OR document = ?)
		  AND (? IS NULL OR status = ?)
		ORDER BY started_at DESC
		LIMIT ? OFFSET ?`

	rows, err := s.db.QueryContext(ctx, query, document, document, status, status, opts.Limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list compilations: %w", err)
	}
	defer rows.Close()

	compilations := []*Compilation{}
	for rows.Next() {
		c, err := scanCompilation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan compilation: %w", err)
		}
		compilations = append(compilations, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating compilations: %w", err)
	}

	return compilations, nil
}

// DeleteCompilation deletes a compilation and its details
func (s *SQLiteStore) DeleteCompilation(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM compilations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete compilation: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("compilation %s: %w", id, ErrNotFound)
	}

	return nil
}

// PruneCompilations deletes compilations started before the given time
func (s *SQLiteStore) PruneCompilations(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM compilations WHERE started_at < ?`, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune compilations: %w", err)
	}

	return result.RowsAffected()
}

// ListSkippedSteps lists the skipped steps of a compilation in insertion order
func (s *SQLiteStore) ListSkippedSteps(ctx context.Context, compilationID string) ([]*SkippedStep, error) {
	query := `
		SELECT id, compilation_id, component, stateid, module, code, message
		FROM skipped_steps
		WHERE compilation_id = ?
		ORDER BY id
	`

	rows, err := s.db.QueryContext(ctx, query, compilationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list skipped steps: %w", err)
	}
	defer rows.Close()

	steps := []*SkippedStep{}
	for rows.Next() {
		step := &SkippedStep{}
		err := rows.Scan(
			&step.ID,
			&step.CompilationID,
			&step.Component,
			&step.StateID,
			&step.Module,
			&step.Code,
			&step.Message,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan skipped step: %w", err)
		}
		steps = append(steps, step)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating skipped steps: %w", err)
	}

	return steps, nil
}

// ListPolicyViolations lists the policy violations of a compilation
func (s *SQLiteStore) ListPolicyViolations(ctx context.Context, compilationID string) ([]*PolicyViolation, error) {
	query := `
		SELECT id, compilation_id, policy, tag, severity, message
		FROM policy_violations
		WHERE compilation_id = ?
		ORDER BY id
	`

	rows, err := s.db.QueryContext(ctx, query, compilationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list policy violations: %w", err)
	}
	defer rows.Close()

	violations := []*PolicyViolation{}
	for rows.Next() {
		v := &PolicyViolation{}
		err := rows.Scan(
			&v.ID,
			&v.CompilationID,
			&v.Policy,
			&v.Tag,
			&v.Severity,
			&v.Message,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan policy violation: %w", err)
		}
		violations = append(violations, v)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating policy violations: %w", err)
	}

	return violations, nil
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
