package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// DefaultDebounce is how long the watcher waits for writes to settle.
const DefaultDebounce = 500 * time.Millisecond

// watchedExtensions are the file types that trigger a reload inside a
// watched directory.
var watchedExtensions = map[string]bool{
	".json": true,
	".yaml": true,
	".yml":  true,
	".sls":  true,
	".rego": true,
}

// Watcher triggers a callback when documents, settings, or policies change.
type Watcher struct {
	logger   zerolog.Logger
	debounce time.Duration

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	files   map[string]bool
	dirs    map[string]bool
	timer   *time.Timer
}

// NewWatcher creates a watcher. A non-positive debounce uses DefaultDebounce.
func NewWatcher(logger zerolog.Logger, debounce time.Duration) *Watcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{
		logger:   logger.With().Str("component", "watcher").Logger(),
		debounce: debounce,
		files:    make(map[string]bool),
		dirs:     make(map[string]bool),
	}
}

// Watch starts watching paths and calls onChange with the last changed file
// once events have settled. It returns after the watch is established; the
// watch stops when ctx is done.
func (w *Watcher) Watch(ctx context.Context, paths []string, onChange func(ctx context.Context, changed string)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	w.mu.Lock()
	w.watcher = watcher
	w.mu.Unlock()

	for _, path := range paths {
		if err := w.add(path); err != nil {
			_ = w.Close()
			return err
		}
	}

	go w.processEvents(ctx, watcher, onChange)

	w.logger.Info().
		Int("paths", len(paths)).
		Msg("Started watching")

	return nil
}

// add watches a directory tree, or the parent directory of a file so that
// editors replacing the file are noticed.
func (w *Watcher) add(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", path, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}

	if !info.IsDir() {
		w.files[abs] = true
		return w.watcher.Add(filepath.Dir(abs))
	}

	return filepath.WalkDir(abs, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			w.dirs[p] = true
			return w.watcher.Add(p)
		}
		return nil
	})
}

// relevant reports whether an event for name should trigger a reload.
func (w *Watcher) relevant(name string) bool {
	if w.files[name] {
		return true
	}
	return w.dirs[filepath.Dir(name)] && watchedExtensions[filepath.Ext(name)]
}

// processEvents debounces file system events into onChange calls.
func (w *Watcher) processEvents(ctx context.Context, watcher *fsnotify.Watcher, onChange func(ctx context.Context, changed string)) {
	for {
		select {
		case <-ctx.Done():
			_ = w.Close()
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if !w.relevant(event.Name) {
				continue
			}

			w.logger.Debug().
				Str("file", event.Name).
				Str("op", event.Op.String()).
				Msg("File changed")

			changed := event.Name
			w.mu.Lock()
			if w.timer != nil {
				w.timer.Stop()
			}
			w.timer = time.AfterFunc(w.debounce, func() {
				if ctx.Err() != nil {
					return
				}
				onChange(ctx, changed)
			})
			w.mu.Unlock()

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("Watcher error")
		}
	}
}

// Close stops watching for file changes.
func (w *Watcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	if w.watcher == nil {
		return nil
	}
	err := w.watcher.Close()
	w.watcher = nil
	return err
}
