package contentdb

import (
	"errors"
	"fmt"
	"strings"

	"github.com/calvinalkan/contentdb/pkg/schema"
	"github.com/calvinalkan/contentdb/pkg/store"
)

var (
	// ErrConfiguration marks misconfiguration: reserved paths used as
	// documents, paths outside every collection, invalid schemas, too many
	// indexes, or a store that needs indexing but cannot be seeded. Never
	// worth retrying.
	ErrConfiguration = errors.New("configuration error")

	// ErrNotFound is returned when a document, collection or index
	// definition set does not exist. Raw files missing from the bridge are
	// reported with it as well.
	ErrNotFound = store.ErrNotFound

	// ErrAmbiguousTemplate is returned when a write to a union collection
	// does not name a known template.
	ErrAmbiguousTemplate = schema.ErrAmbiguousTemplate

	// ErrInvalidQuery is returned for malformed query options.
	ErrInvalidQuery = store.ErrInvalidQuery
)

// Error is the uniform error type returned by all public Database APIs.
//
// The underlying error message appears first, followed by document context:
//
//	posts/a.md: not found (doc_path=posts/a.md collection=posts)
//
// Use [errors.As] to extract structured fields and [errors.Is] to check for
// sentinel errors.
type Error struct {
	// Path is the document path, relative to the bridge root.
	Path string

	// Collection is the owning collection, when known.
	Collection string

	// Err is the underlying cause.
	Err error
}

// Error formats as "<cause> (doc_path=X collection=Y)". Context carried by an
// *Error deeper in the chain is printed once, by the outermost one.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}

	cause := ""
	if e.Err != nil {
		cause = e.Err.Error()
	}

	inner := &Error{}
	if errors.As(e.Err, &inner) {
		if ctx := inner.context(); ctx != "" {
			cause = strings.TrimSpace(strings.Replace(cause, ctx, "", 1))
		}
	}

	ctx := e.context()

	switch {
	case ctx == "":
		return cause
	case cause == "":
		return ctx
	default:
		return cause + " " + ctx
	}
}

func (e *Error) context() string {
	var parts []string

	if e.Path != "" {
		parts = append(parts, "doc_path="+e.Path)
	}

	if e.Collection != "" {
		parts = append(parts, "collection="+e.Collection)
	}

	if len(parts) == 0 {
		return ""
	}

	return "(" + strings.Join(parts, " ") + ")"
}

// Unwrap returns the underlying error for use with [errors.Is] and [errors.As].
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}

	return e.Err
}

// withContext attaches document context at API boundaries and returns *Error.
// An *Error already in the chain keeps its fields; the ones it lacks are taken
// from path and collection. The whole chain stays the cause, so prefixes added
// while the error travelled up are kept.
func withContext(err error, path, collection string) error {
	if err == nil {
		return nil
	}

	existing := &Error{}
	if errors.As(err, &existing) {
		if existing.Path != "" {
			path = existing.Path
		}

		if existing.Collection != "" {
			collection = existing.Collection
		}
	}

	return &Error{Path: path, Collection: collection, Err: err}
}

// configErrorf wraps a formatted message with [ErrConfiguration].
func configErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}

// IndexScanError aggregates the per-document failures of a bulk index run
// made with [Config.ContinueOnError].
//
//	var scanErr *contentdb.IndexScanError
//	if errors.As(err, &scanErr) {
//	    for _, issue := range scanErr.Issues {
//	        log.Printf("path=%s: %v", issue.Path, issue.Err)
//	    }
//	}
type IndexScanError struct {
	Issues []*Error
}

func (e *IndexScanError) Error() string {
	if len(e.Issues) == 1 {
		return "index: 1 issue: " + e.Issues[0].Error()
	}

	return fmt.Sprintf("index: %d issues", len(e.Issues))
}

// Unwrap exposes every issue to [errors.Is] and [errors.As].
func (e *IndexScanError) Unwrap() []error {
	errs := make([]error, len(e.Issues))
	for i, issue := range e.Issues {
		errs[i] = issue
	}

	return errs
}
