package bridge

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
)

// Billy is a [Bridge] over a go-billy filesystem. Updates are serialized with
// an in-process mutex, so a Billy bridge must not be shared across processes.
//
// Paths are passed to the filesystem rooted at "/" so that in-memory and
// chrooted OS filesystems resolve them the same way.
type Billy struct {
	fs billy.Filesystem
	mu sync.Mutex
}

var (
	_ Bridge  = (*Billy)(nil)
	_ Updater = (*Billy)(nil)
)

// NewBilly wraps fsys.
func NewBilly(fsys billy.Filesystem) *Billy {
	return &Billy{fs: fsys}
}

// NewMemory returns a bridge backed by an empty in-memory filesystem.
func NewMemory() *Billy {
	return NewBilly(memfs.New())
}

// SupportsBuilding reports true: writes land in the wrapped filesystem.
func (*Billy) SupportsBuilding() bool { return true }

// SupportsSeeding reports true.
func (*Billy) SupportsSeeding() bool { return true }

// Get reads the file at p. A missing file yields [ErrNotFound].
func (b *Billy) Get(ctx context.Context, p string) ([]byte, error) {
	err := ctx.Err()
	if err != nil {
		return nil, err
	}

	clean, err := CleanPath(p)
	if err != nil {
		return nil, err
	}

	data, err := util.ReadFile(b.fs, rooted(clean))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", clean, ErrNotFound)
	}

	if err != nil {
		return nil, fmt.Errorf("read %s: %w", clean, err)
	}

	return data, nil
}

// Put replaces the file at p, creating parent directories.
func (b *Billy) Put(ctx context.Context, p string, data []byte) error {
	err := ctx.Err()
	if err != nil {
		return err
	}

	clean, err := CleanPath(p)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	return b.write(clean, data)
}

// PutConfig is [Billy.Put].
func (b *Billy) PutConfig(ctx context.Context, p string, data []byte) error {
	return b.Put(ctx, p, data)
}

// Delete removes the file at p. A missing file is not an error.
func (b *Billy) Delete(ctx context.Context, p string) error {
	err := ctx.Err()
	if err != nil {
		return err
	}

	clean, err := CleanPath(p)
	if err != nil {
		return err
	}

	err = b.fs.Remove(rooted(clean))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", clean, err)
	}

	return nil
}

// Glob lists files below prefix, sorted, skipping lock files. A missing
// directory yields no paths.
func (b *Billy) Glob(ctx context.Context, prefix string) ([]string, error) {
	dir, err := cleanPrefix(prefix)
	if err != nil {
		return nil, err
	}

	root := rooted(dir)

	var paths []string

	err = util.Walk(b.fs, root, func(p string, info fs.FileInfo, walkErr error) error {
		if walkErr != nil {
			if p == root && errors.Is(walkErr, os.ErrNotExist) {
				return filepath.SkipDir
			}

			return walkErr
		}

		err := ctx.Err()
		if err != nil {
			return err
		}

		if info.IsDir() || isLockFile(p) {
			return nil
		}

		paths = append(paths, strings.TrimPrefix(path.Clean(filepath.ToSlash(p)), "/"))

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("glob %q: %w", prefix, err)
	}

	slices.Sort(paths)

	return paths, nil
}

// Update performs a read-modify-write under the bridge mutex.
func (b *Billy) Update(ctx context.Context, p string, fn UpdateFunc) error {
	err := ctx.Err()
	if err != nil {
		return err
	}

	clean, err := CleanPath(p)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	current, err := util.ReadFile(b.fs, rooted(clean))
	exists := err == nil

	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("read %s: %w", clean, err)
	}

	next, err := fn(current, exists)
	if err != nil {
		return err
	}

	if next == nil {
		return nil
	}

	return b.write(clean, next)
}

func (b *Billy) write(clean string, data []byte) error {
	name := rooted(clean)

	err := b.fs.MkdirAll(path.Dir(name), dirPerms)
	if err != nil {
		return fmt.Errorf("mkdir %s: %w", path.Dir(clean), err)
	}

	err = util.WriteFile(b.fs, name, data, filePerms)
	if err != nil {
		return fmt.Errorf("write %s: %w", clean, err)
	}

	return nil
}

func rooted(clean string) string {
	return "/" + clean
}
