package flock

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/alecthomas/assert/v2"
)

func TestFlock(t *testing.T) {
	ctx := t.Context()
	dir := t.TempDir()
	lockfile := filepath.Join(dir, "lock")
	release, err := Acquire(ctx, lockfile, 0)
	assert.NoError(t, err)

	_, err = Acquire(ctx, lockfile, 0)
	assert.IsError(t, err, ErrLocked)

	err = release()
	assert.NoError(t, err)

	releaseb, err := Acquire(ctx, lockfile, 0)
	assert.NoError(t, err)
	err = releaseb()
	assert.NoError(t, err)
}

func TestFlockWaitsForRelease(t *testing.T) {
	lockfile := filepath.Join(t.TempDir(), "lock")
	release, err := Acquire(t.Context(), lockfile, 0)
	assert.NoError(t, err)
	go func() {
		time.Sleep(time.Millisecond * 50)
		_ = release()
	}()
	releaseb, err := Acquire(t.Context(), lockfile, time.Second*5)
	assert.NoError(t, err)
	assert.NoError(t, releaseb())
}
