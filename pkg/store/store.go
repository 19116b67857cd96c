// Package store defines the contract between the content database and an
// indexed storage engine, plus the pieces every engine shares: index key
// derivation, filter evaluation and the cursor codec.
//
// A Store holds the derived, queryable copy of each document. It is never the
// source of truth; everything in it can be rebuilt from the raw files.
package store

import (
	"context"
	"errors"

	"github.com/calvinalkan/contentdb/pkg/schema"
)

// DefaultSortKey names the implicit index ordering documents by path.
const DefaultSortKey = "__filepath__"

// DefaultNumericLPad is the width numeric index values are left-padded to.
const DefaultNumericLPad = 4

// DefaultNumericFill is the fill character for numeric index values.
const DefaultNumericFill = "0"

var (
	// ErrNotFound is returned when no record exists at a path.
	ErrNotFound = errors.New("not found")

	// ErrUnknownIndex is returned when a query names a sort index that is not
	// part of the supplied definitions.
	ErrUnknownIndex = errors.New("unknown index")

	// ErrInvalidQuery is returned for malformed query options.
	ErrInvalidQuery = errors.New("invalid query")
)

// Payload is the store-facing form of a document: a field map holding JSON
// values, with a markdown body hoisted to its reserved key.
type Payload = map[string]any

// Pad left-pads rendered index values so lexical order matches numeric order.
type Pad struct {
	FillString string `json:"fillString"`
	MaxLength  int    `json:"maxLength"`
}

// IndexField is one component of an index key.
type IndexField struct {
	Name string           `json:"name"`
	Type schema.FieldType `json:"type"`
	Pad  *Pad             `json:"pad,omitempty"`
}

// IndexDefinition is an ordered list of fields. An empty list orders by path.
type IndexDefinition struct {
	Fields []IndexField `json:"fields"`
}

// IndexDefinitions maps index name to definition for one collection.
type IndexDefinitions map[string]IndexDefinition

// PutOptions accompany a write so the engine can maintain secondary indexes.
type PutOptions struct {
	Collection       string
	IndexDefinitions IndexDefinitions
	// KeepTemplateKey persists the "_template" discriminator. When false the
	// key is dropped from the stored payload.
	KeepTemplateKey bool
}

// DeleteOptions accompany a delete so derived index entries are removed.
type DeleteOptions struct {
	Collection       string
	IndexDefinitions IndexDefinitions
}

// QueryOptions selects a page of documents from one collection.
//
// GT and LT are raw index keys (decoded cursors), both exclusive. Reverse
// walks the index from the high end; results are still returned ascending.
type QueryOptions struct {
	Collection       string
	FilterChain      []Filter
	Sort             string
	Limit            int
	GT               string
	LT               string
	Reverse          bool
	IndexDefinitions IndexDefinitions
}

// Edge is one query hit. Cursor is the raw index key of the hit.
type Edge struct {
	Path   string
	Cursor string
}

// PageInfo describes the position of a page within the full result set.
type PageInfo struct {
	HasPreviousPage bool
	HasNextPage     bool
	StartCursor     string
	EndCursor       string
}

// QueryResult is a page of edges in ascending key order.
type QueryResult struct {
	Edges    []Edge
	PageInfo PageInfo
}

// Store is an indexed storage engine keyed by document path.
type Store interface {
	Get(ctx context.Context, path string) (Payload, error)
	Put(ctx context.Context, path string, payload Payload, opts PutOptions) error
	Delete(ctx context.Context, path string, opts DeleteOptions) error
	Query(ctx context.Context, opts QueryOptions) (QueryResult, error)
	Seed(ctx context.Context, path string, payload Payload, opts PutOptions) error
	Clear(ctx context.Context) error

	// SupportsSeeding reports whether the engine accepts bulk writes derived
	// from raw files.
	SupportsSeeding() bool
	// SupportsIndexing reports whether the engine needs index definitions to
	// answer queries.
	SupportsIndexing() bool
}

// SortIndex resolves the definition a query orders by.
func (o QueryOptions) SortIndex() (string, IndexDefinition, error) {
	name := o.Sort
	if name == "" {
		name = DefaultSortKey
	}

	def, ok := o.IndexDefinitions[name]
	if !ok {
		if name == DefaultSortKey {
			return name, IndexDefinition{}, nil
		}

		return "", IndexDefinition{}, ErrUnknownIndex
	}

	return name, def, nil
}
