// Package bridge defines durable raw storage for documents and two
// implementations: [Filesystem] on the OS and [Billy] on any go-billy
// filesystem (including in-memory).
//
// The bridge is the source of truth. Paths are slash-separated and relative to
// the bridge root.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
)

var (
	// ErrNotFound is returned by Get when no file exists at a path.
	ErrNotFound = errors.New("not found")

	// ErrInvalidPath is returned for empty, absolute or escaping paths.
	ErrInvalidPath = errors.New("invalid path")
)

// Bridge stores raw document bytes by path.
type Bridge interface {
	Get(ctx context.Context, path string) ([]byte, error)
	Put(ctx context.Context, path string, data []byte) error
	// PutConfig writes a generated configuration artifact.
	PutConfig(ctx context.Context, path string, data []byte) error
	// Delete removes a file. Deleting a missing file is not an error.
	Delete(ctx context.Context, path string) error
	// Glob lists every file under the directory prefix, sorted. An empty
	// prefix lists the whole tree.
	Glob(ctx context.Context, prefix string) ([]string, error)

	// SupportsBuilding reports whether writes through this bridge are durable.
	SupportsBuilding() bool
	SupportsSeeding() bool
}

// UpdateFunc receives the current contents of a file and returns the new
// contents. Returning nil data skips the write.
type UpdateFunc func(current []byte, exists bool) ([]byte, error)

// Updater is implemented by bridges that can perform an exclusive
// read-modify-write on a single file.
type Updater interface {
	Update(ctx context.Context, path string, fn UpdateFunc) error
}

// CleanPath validates a bridge path and returns it in canonical form.
func CleanPath(p string) (string, error) {
	if p == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidPath)
	}

	p = strings.ReplaceAll(p, "\\", "/")

	if strings.HasPrefix(p, "/") {
		return "", fmt.Errorf("%w: absolute path %q", ErrInvalidPath, p)
	}

	clean := path.Clean(p)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("%w: %q escapes root", ErrInvalidPath, p)
	}

	return clean, nil
}

// cleanPrefix normalizes a Glob prefix. The empty prefix is the root.
func cleanPrefix(prefix string) (string, error) {
	prefix = strings.Trim(strings.ReplaceAll(prefix, "\\", "/"), "/")
	if prefix == "" || prefix == "." {
		return "", nil
	}

	return CleanPath(prefix)
}

// isLockFile reports whether name is a lock file created by [Filesystem.Update].
func isLockFile(name string) bool {
	base := path.Base(name)

	return strings.HasPrefix(base, ".") && strings.HasSuffix(base, lockSuffix)
}
