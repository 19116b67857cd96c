package bridge

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/natefinch/atomic"
)

const (
	dirPerms  = 0o755
	filePerms = 0o644
)

// Filesystem is a [Bridge] over a directory on the local filesystem.
//
// Writes are atomic (temp file + rename). [Filesystem.Update] additionally
// holds an flock on a hidden sibling lock file, so concurrent processes
// updating the same artifact serialize.
type Filesystem struct {
	root        string
	lockTimeout time.Duration
}

var (
	_ Bridge  = (*Filesystem)(nil)
	_ Updater = (*Filesystem)(nil)
)

// NewFilesystem returns a bridge rooted at dir. The directory is created on
// first write.
func NewFilesystem(dir string) (*Filesystem, error) {
	if dir == "" {
		return nil, fmt.Errorf("%w: root directory is empty", ErrInvalidPath)
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}

	return &Filesystem{root: abs, lockTimeout: LockTimeout}, nil
}

// Root returns the absolute root directory.
func (f *Filesystem) Root() string { return f.root }

// SupportsBuilding reports true: files written here are the durable copy.
func (*Filesystem) SupportsBuilding() bool { return true }

// SupportsSeeding reports true.
func (*Filesystem) SupportsSeeding() bool { return true }

func (f *Filesystem) abs(p string) (string, string, error) {
	clean, err := CleanPath(p)
	if err != nil {
		return "", "", err
	}

	return clean, filepath.Join(f.root, filepath.FromSlash(clean)), nil
}

// Get reads the file at p.
func (f *Filesystem) Get(ctx context.Context, p string) ([]byte, error) {
	err := ctx.Err()
	if err != nil {
		return nil, err
	}

	clean, abs, err := f.abs(p)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(abs) //nolint:gosec // path is validated
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", clean, ErrNotFound)
	}

	if err != nil {
		return nil, fmt.Errorf("read %s: %w", clean, err)
	}

	return data, nil
}

// Put atomically replaces the file at p, creating parent directories.
func (f *Filesystem) Put(ctx context.Context, p string, data []byte) error {
	err := ctx.Err()
	if err != nil {
		return err
	}

	clean, abs, err := f.abs(p)
	if err != nil {
		return err
	}

	err = writeAtomic(abs, data)
	if err != nil {
		return fmt.Errorf("write %s: %w", clean, err)
	}

	return nil
}

// PutConfig is [Filesystem.Put].
func (f *Filesystem) PutConfig(ctx context.Context, p string, data []byte) error {
	return f.Put(ctx, p, data)
}

// Delete removes the file at p.
func (f *Filesystem) Delete(ctx context.Context, p string) error {
	err := ctx.Err()
	if err != nil {
		return err
	}

	clean, abs, err := f.abs(p)
	if err != nil {
		return err
	}

	err = os.Remove(abs)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", clean, err)
	}

	return nil
}

// Glob lists files below prefix. A missing directory yields no paths.
func (f *Filesystem) Glob(ctx context.Context, prefix string) ([]string, error) {
	dir, err := cleanPrefix(prefix)
	if err != nil {
		return nil, err
	}

	start := filepath.Join(f.root, filepath.FromSlash(dir))

	var paths []string

	err = filepath.WalkDir(start, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if p == start && errors.Is(walkErr, fs.ErrNotExist) {
				return filepath.SkipDir
			}

			return walkErr
		}

		err := ctx.Err()
		if err != nil {
			return err
		}

		if d.IsDir() || isLockFile(p) {
			return nil
		}

		rel, err := filepath.Rel(f.root, p)
		if err != nil {
			return err
		}

		paths = append(paths, filepath.ToSlash(rel))

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("glob %q: %w", prefix, err)
	}

	slices.Sort(paths)

	return paths, nil
}

// Update performs an exclusive read-modify-write of the file at p.
func (f *Filesystem) Update(ctx context.Context, p string, fn UpdateFunc) error {
	clean, abs, err := f.abs(p)
	if err != nil {
		return err
	}

	lock, err := acquireLock(ctx, abs, f.lockTimeout)
	if err != nil {
		return fmt.Errorf("lock %s: %w", clean, err)
	}

	defer lock.release()

	current, err := os.ReadFile(abs) //nolint:gosec // path is validated
	exists := err == nil

	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("read %s: %w", clean, err)
	}

	next, err := fn(current, exists)
	if err != nil {
		return err
	}

	if next == nil {
		return nil
	}

	err = writeAtomic(abs, next)
	if err != nil {
		return fmt.Errorf("write %s: %w", clean, err)
	}

	return nil
}

func writeAtomic(abs string, data []byte) error {
	err := os.MkdirAll(filepath.Dir(abs), dirPerms)
	if err != nil {
		return err
	}

	return atomic.WriteFile(abs, bytes.NewReader(data))
}
