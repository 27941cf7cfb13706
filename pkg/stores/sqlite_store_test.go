package stores

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

// setupTestStore creates a migrated SQLite store in a temporary directory
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := Open(context.Background(), filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	return store
}

func strPtr(s string) *string { return &s }

func testCompilation(document string, status CompilationStatus, startedAt time.Time) *Compilation {
	c := NewCompilation(document, []byte(document))
	c.Status = status
	c.Format = "json"
	c.Components = 2
	c.Steps = 6
	c.Records = 8
	c.Skipped = 1
	c.Warnings = []string{"requisite target missing"}
	c.Output = strPtr(`[{"_a": {"pkg": ["installed", {"name": "npm"}]}}]`)
	c.Duration = 12 * time.Millisecond
	c.StartedAt = startedAt
	c.CreatedAt = startedAt
	return c
}

// TestStoreLifecycle tests database initialization and closure
func TestStoreLifecycle(t *testing.T) {
	store, err := NewSQLiteStore(Config{
		Path: ":memory:",
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}

	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}

	// A second migration is a no-op
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("second migration failed: %v", err)
	}

	if err := store.HealthCheck(ctx); err != nil {
		t.Fatalf("health check failed: %v", err)
	}

	if err := store.Close(); err != nil {
		t.Fatalf("failed to close store: %v", err)
	}
}

func TestNewSQLiteStore_RequiresPath(t *testing.T) {
	if _, err := NewSQLiteStore(Config{}); err == nil {
		t.Fatal("expected error for empty path")
	}
}

// TestStoreMigrations tests database migrations
func TestStoreMigrations(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	tables := []string{"compilations", "skipped_steps", "policy_violations"}
	for _, table := range tables {
		query := "SELECT COUNT(*) FROM " + table
		var count int
		if err := store.db.QueryRowContext(ctx, query).Scan(&count); err != nil {
			t.Errorf("table %s does not exist or is not accessible: %v", table, err)
		}
	}
}

// TestCompilationRoundTrip stores a compilation with details and reads it back
func TestCompilationRoundTrip(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	c := testCompilation("site.yaml", CompilationSucceeded, started)

	skipped := []SkippedStep{
		{Component: "web", StateID: "3", Module: "path.file", Code: "MISSING_REQUIRED_FIELD", Message: `required parameter "path" is missing`},
	}
	violations := []PolicyViolation{
		{Policy: "pinned-packages", Tag: "_web_1_package_pip_package_pkgs_latest", Severity: "warning", Message: "pip packages are not pinned"},
		{Policy: "world-writable", Tag: "_web_4_path_dir_/srv_directory", Severity: "error", Message: "/srv has world-writable mode 0777"},
	}

	if err := store.RecordCompilation(ctx, c, skipped, violations); err != nil {
		t.Fatalf("failed to record compilation: %v", err)
	}
	if skipped[0].ID == 0 || skipped[0].CompilationID != c.ID {
		t.Errorf("skipped step ids not filled in: %+v", skipped[0])
	}

	got, err := store.GetCompilation(ctx, c.ID)
	if err != nil {
		t.Fatalf("failed to get compilation: %v", err)
	}

	if got.Document != "site.yaml" || got.Status != CompilationSucceeded {
		t.Errorf("unexpected compilation: %+v", got)
	}
	if got.DocumentHash != HashDocument([]byte("site.yaml")) {
		t.Errorf("document hash mismatch: %s", got.DocumentHash)
	}
	if got.Components != 2 || got.Steps != 6 || got.Records != 8 || got.Skipped != 1 {
		t.Errorf("unexpected counters: %+v", got)
	}
	if len(got.Warnings) != 1 || got.Warnings[0] != "requisite target missing" {
		t.Errorf("unexpected warnings: %v", got.Warnings)
	}
	if got.Output == nil || *got.Output != *c.Output {
		t.Errorf("output mismatch: %v", got.Output)
	}
	if got.Error != nil {
		t.Errorf("expected no error, got %q", *got.Error)
	}
	if got.Duration != 12*time.Millisecond {
		t.Errorf("expected 12ms, got %s", got.Duration)
	}
	if !got.StartedAt.Equal(started) {
		t.Errorf("expected started_at %s, got %s", started, got.StartedAt)
	}

	gotSkipped, err := store.ListSkippedSteps(ctx, c.ID)
	if err != nil {
		t.Fatalf("failed to list skipped steps: %v", err)
	}
	if len(gotSkipped) != 1 || gotSkipped[0].Code != "MISSING_REQUIRED_FIELD" || gotSkipped[0].StateID != "3" {
		t.Errorf("unexpected skipped steps: %+v", gotSkipped)
	}

	gotViolations, err := store.ListPolicyViolations(ctx, c.ID)
	if err != nil {
		t.Fatalf("failed to list violations: %v", err)
	}
	if len(gotViolations) != 2 || gotViolations[0].Policy != "pinned-packages" || gotViolations[1].Severity != "error" {
		t.Errorf("unexpected violations: %+v", gotViolations)
	}
}

func TestRecordCompilation_Failed(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	c := NewCompilation("broken.json", []byte("{}"))
	c.Status = CompilationFailed
	c.Format = "json"
	c.Error = strPtr("tag collision")

	if err := store.RecordCompilation(ctx, c, nil, nil); err != nil {
		t.Fatalf("failed to record compilation: %v", err)
	}

	got, err := store.GetCompilation(ctx, c.ID)
	if err != nil {
		t.Fatalf("failed to get compilation: %v", err)
	}
	if got.Error == nil || *got.Error != "tag collision" {
		t.Errorf("expected error to round-trip, got %v", got.Error)
	}
	if got.Output != nil {
		t.Errorf("expected no output, got %q", *got.Output)
	}
	if len(got.Warnings) != 0 {
		t.Errorf("expected no warnings, got %v", got.Warnings)
	}
}

func TestRecordCompilation_DuplicateIDRollsBack(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	c := testCompilation("site.yaml", CompilationSucceeded, time.Now().UTC())
	if err := store.RecordCompilation(ctx, c, nil, nil); err != nil {
		t.Fatalf("failed to record compilation: %v", err)
	}

	err := store.RecordCompilation(ctx, c, []SkippedStep{{Component: "x", StateID: "1", Module: "m", Code: "c", Message: "m"}}, nil)
	if err == nil {
		t.Fatal("expected duplicate id to fail")
	}

	steps, err := store.ListSkippedSteps(ctx, c.ID)
	if err != nil {
		t.Fatalf("failed to list skipped steps: %v", err)
	}
	if len(steps) != 0 {
		t.Errorf("failed insert should not leave skipped steps, got %d", len(steps))
	}
}

func TestGetCompilation_NotFound(t *testing.T) {
	store := setupTestStore(t)

	_, err := store.GetCompilation(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListCompilations(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	entries := []*Compilation{
		testCompilation("site.yaml", CompilationSucceeded, base),
		testCompilation("site.yaml", CompilationRejected, base.Add(time.Minute)),
		testCompilation("db.json", CompilationSucceeded, base.Add(2*time.Minute)),
		testCompilation("site.yaml", CompilationSucceeded, base.Add(3*time.Minute)),
	}
	for _, c := range entries {
		if err := store.RecordCompilation(ctx, c, nil, nil); err != nil {
			t.Fatalf("failed to record compilation: %v", err)
		}
	}

	tests := []struct {
		name string
		opts ListOptions
		want []string
	}{
		{"all newest first", ListOptions{}, []string{entries[3].ID, entries[2].ID, entries[1].ID, entries[0].ID}},
		{"by document", ListOptions{Document: "site.yaml"}, []string{entries[3].ID, entries[1].ID, entries[0].ID}},
		{"by status", ListOptions{Status: CompilationRejected}, []string{entries[1].ID}},
		{"paginated", ListOptions{Limit: 2, Offset: 1}, []string{entries[2].ID, entries[1].ID}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := store.ListCompilations(ctx, tt.opts)
			if err != nil {
				t.Fatalf("failed to list compilations: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("expected %d compilations, got %d", len(tt.want), len(got))
			}
			for i := range got {
				if got[i].ID != tt.want[i] {
					t.Errorf("position %d: expected %s, got %s", i, tt.want[i], got[i].ID)
				}
			}
		})
	}

	latest, err := store.LatestCompilation(ctx, "site.yaml")
	if err != nil {
		t.Fatalf("failed to get latest compilation: %v", err)
	}
	if latest.ID != entries[3].ID {
		t.Errorf("expected latest %s, got %s", entries[3].ID, latest.ID)
	}

	if _, err := store.LatestCompilation(ctx, "other.yaml"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown document, got %v", err)
	}
}

func TestDeleteCompilation_Cascades(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	c := testCompilation("site.yaml", CompilationSucceeded, time.Now().UTC())
	err := store.RecordCompilation(ctx, c,
		[]SkippedStep{{Component: "web", StateID: "1", Module: "sys.ntp", Code: "MALFORMED_STEP", Message: "no parameters"}},
		[]PolicyViolation{{Policy: "p", Tag: "_t", Severity: "info", Message: "m"}},
	)
	if err != nil {
		t.Fatalf("failed to record compilation: %v", err)
	}

	if err := store.DeleteCompilation(ctx, c.ID); err != nil {
		t.Fatalf("failed to delete compilation: %v", err)
	}

	for _, table := range []string{"skipped_steps", "policy_violations"} {
		var count int
		if err := store.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&count); err != nil {
			t.Fatalf("failed to count %s: %v", table, err)
		}
		if count != 0 {
			t.Errorf("expected %s to be emptied by cascade, got %d rows", table, count)
		}
	}

	if err := store.DeleteCompilation(ctx, c.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound deleting twice, got %v", err)
	}
}

func TestPruneCompilations(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	old := testCompilation("site.yaml", CompilationSucceeded, base)
	recent := testCompilation("site.yaml", CompilationSucceeded, base.Add(48*time.Hour))
	for _, c := range []*Compilation{old, recent} {
		if err := store.RecordCompilation(ctx, c, nil, nil); err != nil {
			t.Fatalf("failed to record compilation: %v", err)
		}
	}

	pruned, err := store.PruneCompilations(ctx, base.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("failed to prune: %v", err)
	}
	if pruned != 1 {
		t.Errorf("expected 1 pruned compilation, got %d", pruned)
	}

	if _, err := store.GetCompilation(ctx, old.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("old compilation should be gone, got %v", err)
	}
	if _, err := store.GetCompilation(ctx, recent.ID); err != nil {
		t.Errorf("recent compilation should remain: %v", err)
	}
}

func TestHashDocument(t *testing.T) {
	a := HashDocument([]byte("component: {}"))
	b := HashDocument([]byte("component: {}"))
	c := HashDocument([]byte("component: {web: {}}"))

	if a != b {
		t.Error("hash should be deterministic")
	}
	if a == c {
		t.Error("different documents should hash differently")
	}
	if len(a) != 64 {
		t.Errorf("expected 64 hex characters, got %d", len(a))
	}
}
