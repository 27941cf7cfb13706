package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcher_FileChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "site.yaml")
	require.NoError(t, os.WriteFile(path, []byte("component: {}\n"), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan string, 4)
	w := NewWatcher(zerolog.Nop(), 20*time.Millisecond)
	require.NoError(t, w.Watch(ctx, []string{path}, func(_ context.Context, changed string) {
		changes <- changed
	}))
	defer w.Close()

	// A burst of writes settles into one callback.
	for i := 0; i < 3; i++ {
		require.NoError(t, os.WriteFile(path, []byte("component: {web: {state: []}}\n"), 0o644))
	}

	select {
	case changed := <-changes:
		abs, err := filepath.Abs(path)
		require.NoError(t, err)
		assert.Equal(t, abs, changed)
	case <-time.After(5 * time.Second):
		t.Fatal("no change reported")
	}

	select {
	case extra := <-changes:
		t.Fatalf("unexpected second callback for %s", extra)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestWatcher_IgnoresUnrelatedFiles(t *testing.T) {
	dir := t.TempDir()
	policies := filepath.Join(dir, "policies")
	require.NoError(t, os.Mkdir(policies, 0o755))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan string, 4)
	w := NewWatcher(zerolog.Nop(), 20*time.Millisecond)
	require.NoError(t, w.Watch(ctx, []string{policies}, func(_ context.Context, changed string) {
		changes <- changed
	}))
	defer w.Close()

	require.NoError(t, os.WriteFile(filepath.Join(policies, "notes.txt"), []byte("x"), 0o644))
	select {
	case changed := <-changes:
		t.Fatalf("unexpected callback for %s", changed)
	case <-time.After(200 * time.Millisecond):
	}

	require.NoError(t, os.WriteFile(filepath.Join(policies, "deny.rego"), []byte("package x"), 0o644))
	select {
	case changed := <-changes:
		assert.Equal(t, "deny.rego", filepath.Base(changed))
	case <-time.After(5 * time.Second):
		t.Fatal("no change reported")
	}
}

func TestWatcher_MissingPath(t *testing.T) {
	w := NewWatcher(zerolog.Nop(), 0)
	err := w.Watch(context.Background(), []string{filepath.Join(t.TempDir(), "absent")}, func(context.Context, string) {})
	assert.Error(t, err)
	assert.NoError(t, w.Close())
}
