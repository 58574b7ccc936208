package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alecthomas/assert/v2"
	"github.com/alecthomas/errors"

	"github.com/alecthomas/bindgraph/internal/logging/loggingtest"
)

func TestWatch(t *testing.T) {
	dir := t.TempDir()
	assert.NoError(t, os.MkdirAll(filepath.Join(dir, "pkg"), 0750))

	ctx, cancel := context.WithTimeout(t.Context(), time.Second*10)
	defer cancel()
	batches := make(chan []string, 10)
	errs := make(chan error, 1)
	go func() {
		errs <- Watch(ctx, loggingtest.NewForTesting(), []string{dir}, Options{Debounce: time.Millisecond * 100, Ignore: []string{"bindgraph_gen.go"}},
			func(ctx context.Context, changed []string) error {
				batches <- changed
				return nil
			})
	}()
	// Give the watcher time to register.
	time.Sleep(time.Millisecond * 200)

	write := func(name string) {
		assert.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("package main\n"), 0600))
	}
	write("README.md")
	write("bindgraph_gen.go")
	write("main.go")
	write("pkg/pkg.go")
	write("main.go")

	select {
	case changed := <-batches:
		assert.Equal(t, []string{filepath.Join(dir, "main.go"), filepath.Join(dir, "pkg", "pkg.go")}, changed)
	case <-ctx.Done():
		t.Fatal("timed out waiting for changes")
	}
	cancel()
	assert.NoError(t, <-errs)
}

func TestWatchStopsOnError(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithTimeout(t.Context(), time.Second*10)
	defer cancel()
	failed := errors.New("failed")
	errs := make(chan error, 1)
	go func() {
		errs <- Watch(ctx, loggingtest.NewForTesting(), []string{dir}, Options{Debounce: time.Millisecond * 50},
			func(ctx context.Context, changed []string) error { return failed })
	}()
	time.Sleep(time.Millisecond * 200)
	assert.NoError(t, os.WriteFile(filepath.Join(dir, "main.go"), []byte("package main\n"), 0600))
	select {
	case err := <-errs:
		assert.IsError(t, err, failed)
	case <-ctx.Done():
		t.Fatal("timed out waiting for error")
	}
}

func TestRelevant(t *testing.T) {
	assert.True(t, relevant("/src/main.go", nil))
	assert.False(t, relevant("/src/main.go~", nil))
	assert.False(t, relevant("/src/bindgraph_gen.go", []string{"bindgraph_gen.go"}))
}
