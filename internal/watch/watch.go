// Package watch reports batches of changes to Go source files.
package watch

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/alecthomas/errors"
	"github.com/fsnotify/fsnotify"
)

// Options for [Watch].
type Options struct {
	// Debounce is how long events must settle for before a batch is reported.
	Debounce time.Duration
	// Ignore are file base names that never trigger a batch, such as generated files.
	Ignore []string
}

// Watch the directory trees rooted at dirs, calling fn with the sorted, de-duplicated, paths of the .go files
// changed in each batch.
//
// Watch blocks until ctx is cancelled, returning nil, or fn returns an error.
func Watch(ctx context.Context, logger *slog.Logger, dirs []string, options Options, fn func(ctx context.Context, changed []string) error) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()
	for _, dir := range dirs {
		if err := addRecursive(watcher, dir); err != nil {
			return err
		}
	}
	logger.Debug("Watching for changes", "dirs", dirs)

	pending := map[string]bool{}
	timer := time.NewTimer(options.Debounce)
	timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Create) && isDir(event.Name) {
				if err := addRecursive(watcher, event.Name); err != nil {
					logger.Warn("Failed to watch new directory", "dir", event.Name, "error", err)
				}
				continue
			}
			if !relevant(event.Name, options.Ignore) || event.Op == fsnotify.Chmod {
				continue
			}
			pending[event.Name] = true
			timer.Reset(options.Debounce)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("Watch error", "error", err)

		case <-timer.C:
			changed := make([]string, 0, len(pending))
			for path := range pending {
				changed = append(changed, path)
			}
			slices.Sort(changed)
			clear(pending)
			logger.Debug("Files changed", "count", len(changed))
			if err := fn(ctx, changed); err != nil {
				return err
			}
		}
	}
}

func relevant(path string, ignore []string) bool {
	base := filepath.Base(path)
	return strings.HasSuffix(base, ".go") && !slices.Contains(ignore, base)
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func addRecursive(watcher *fsnotify.Watcher, root string) error {
	return errors.WithStack(filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && (strings.HasPrefix(d.Name(), ".") || strings.HasPrefix(d.Name(), "_") || d.Name() == "testdata" || d.Name() == "vendor") {
			return filepath.SkipDir
		}
		if err := watcher.Add(path); err != nil {
			return errors.Errorf("failed to watch %s: %w", path, err)
		}
		return nil
	}))
}
