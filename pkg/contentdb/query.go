package contentdb

import (
	"context"
	"fmt"

	"github.com/calvinalkan/contentdb/pkg/store"
)

// QueryOptions select a page of a collection.
//
// First/After page forward, Last/Before page backward; mixing the two
// directions is rejected. With neither First nor Last the page holds
// [DefaultPageSize] edges. Cursors are the opaque values returned in
// [Connection] edges and page info.
type QueryOptions struct {
	Collection  string
	FilterChain []store.Filter
	// Sort names an index: a field name, a declared compound index, or
	// empty for path order.
	Sort   string
	First  int
	Last   int
	After  string
	Before string
}

// Edge is one query result.
type Edge struct {
	Node   Document
	Cursor string
}

// Connection is a page of query results in ascending index order.
type Connection struct {
	Edges    []Edge
	PageInfo store.PageInfo
}

// HydrateFunc resolves a result path into a document.
type HydrateFunc func(ctx context.Context, p string) (Document, error)

// Query returns a page of documents from a collection's index. Each hit is
// resolved through hydrate, or through [Database.Get] when hydrate is nil.
func (db *Database) Query(ctx context.Context, opts QueryOptions, hydrate HydrateFunc) (Connection, error) {
	err := opts.validate()
	if err != nil {
		return Connection{}, withContext(err, "", opts.Collection)
	}

	if hydrate == nil {
		hydrate = db.Get
	}

	defs, err := db.collectionIndexDefinitions(ctx, opts.Collection)
	if err != nil {
		return Connection{}, withContext(err, "", opts.Collection)
	}

	q := store.QueryOptions{
		Collection:       opts.Collection,
		FilterChain:      opts.FilterChain,
		Sort:             opts.Sort,
		Limit:            DefaultPageSize,
		IndexDefinitions: defs,
	}

	switch {
	case opts.First > 0:
		q.Limit = opts.First
	case opts.Last > 0:
		q.Limit = opts.Last
		q.Reverse = true
	case opts.Before != "":
		q.Reverse = true
	}

	if opts.After != "" {
		q.GT, err = store.DecodeCursor(opts.After)
		if err != nil {
			return Connection{}, withContext(fmt.Errorf("after: %w", err), "", opts.Collection)
		}
	}

	if opts.Before != "" {
		q.LT, err = store.DecodeCursor(opts.Before)
		if err != nil {
			return Connection{}, withContext(fmt.Errorf("before: %w", err), "", opts.Collection)
		}
	}

	res, err := db.store.Query(ctx, q)
	if err != nil {
		return Connection{}, withContext(err, "", opts.Collection)
	}

	conn := Connection{
		Edges:    make([]Edge, 0, len(res.Edges)),
		PageInfo: res.PageInfo,
	}

	for _, e := range res.Edges {
		node, err := hydrate(ctx, e.Path)
		if err != nil {
			return Connection{}, withContext(err, e.Path, opts.Collection)
		}

		conn.Edges = append(conn.Edges, Edge{Node: node, Cursor: store.EncodeCursor(e.Cursor)})
	}

	if res.PageInfo.StartCursor != "" {
		conn.PageInfo.StartCursor = store.EncodeCursor(res.PageInfo.StartCursor)
	}

	if res.PageInfo.EndCursor != "" {
		conn.PageInfo.EndCursor = store.EncodeCursor(res.PageInfo.EndCursor)
	}

	return conn, nil
}

func (o QueryOptions) validate() error {
	switch {
	case o.Collection == "":
		return fmt.Errorf("%w: collection is required", ErrInvalidQuery)
	case o.First < 0 || o.Last < 0:
		return fmt.Errorf("%w: first and last must not be negative", ErrInvalidQuery)
	case o.First > 0 && o.Last > 0:
		return fmt.Errorf("%w: first and last are mutually exclusive", ErrInvalidQuery)
	case o.First > 0 && o.Before != "", o.Last > 0 && o.After != "":
		return fmt.Errorf("%w: first/after and last/before are mutually exclusive", ErrInvalidQuery)
	}

	return nil
}
