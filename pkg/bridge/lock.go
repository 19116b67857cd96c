package bridge

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"
)

// LockTimeout bounds how long [Filesystem.Update] waits for the file lock.
const LockTimeout = 5 * time.Second

const (
	lockSuffix        = ".lock"
	lockRetryInterval = 10 * time.Millisecond
)

var errLockTimeout = errors.New("lock timeout")

type fileLock struct {
	file *os.File
}

// lockPath returns the hidden sibling lock file for abs.
func lockPath(abs string) string {
	return filepath.Join(filepath.Dir(abs), "."+filepath.Base(abs)+lockSuffix)
}

// acquireLock takes an exclusive flock on abs's lock file, retrying until the
// timeout or ctx is done.
func acquireLock(ctx context.Context, abs string, timeout time.Duration) (*fileLock, error) {
	err := os.MkdirAll(filepath.Dir(abs), dirPerms)
	if err != nil {
		return nil, err
	}

	file, err := os.OpenFile(lockPath(abs), os.O_CREATE|os.O_RDWR, filePerms) //nolint:gosec // path is validated by caller
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	deadline := time.Now().Add(timeout)

	for {
		flockErr := unix.Flock(int(file.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		if flockErr == nil {
			return &fileLock{file: file}, nil
		}

		if time.Now().After(deadline) {
			_ = file.Close()

			return nil, fmt.Errorf("%w: %s", errLockTimeout, abs)
		}

		select {
		case <-ctx.Done():
			_ = file.Close()

			return nil, ctx.Err()
		case <-time.After(lockRetryInterval):
		}
	}
}

func (l *fileLock) release() {
	if l.file != nil {
		_ = unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
		_ = l.file.Close()
	}
}
