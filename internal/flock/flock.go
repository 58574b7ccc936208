// Package flock provides advisory file locks.
package flock

import (
	"context"
	"os"
	"time"

	"github.com/alecthomas/errors"
	"github.com/jpillora/backoff"
	"golang.org/x/sys/unix"
)

// ErrLocked is returned when the lock is held by another process after the timeout.
var ErrLocked = errors.New("lock is held")

// Acquire an exclusive lock on path, creating the file if necessary.
//
// Acquisition is retried until timeout expires. A zero timeout makes a single attempt. The returned function
// releases the lock.
func Acquire(ctx context.Context, path string, timeout time.Duration) (release func() error, err error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	retry := backoff.Backoff{Min: time.Millisecond * 10, Max: time.Second, Jitter: true}
	for {
		release, err := tryLock(path)
		if err == nil {
			return release, nil
		}
		if !errors.Is(err, ErrLocked) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, errors.Errorf("%s: %w", path, ErrLocked)
		case <-time.After(retry.Duration()):
		}
	}
}

func tryLock(path string) (func() error, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0600) //nolint:gosec
	if err != nil {
		return nil, errors.Errorf("failed to open lock file: %w", err)
	}
	err = unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
	if err != nil {
		_ = f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, errors.WithStack(ErrLocked)
		}
		return nil, errors.Errorf("failed to lock %s: %w", path, err)
	}
	return func() error {
		err := unix.Flock(int(f.Fd()), unix.LOCK_UN)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		return errors.WithStack(err)
	}, nil
}
