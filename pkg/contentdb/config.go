package contentdb

import (
	"errors"
	"path"
	"strings"

	"github.com/rs/zerolog"

	"github.com/calvinalkan/contentdb/pkg/bridge"
	"github.com/calvinalkan/contentdb/pkg/store"
)

// DefaultGeneratedDir holds the generated configuration artifacts.
const DefaultGeneratedDir = ".tina/__generated__"

// DefaultMaxIndexesPerCollection caps the field and declared indexes of one
// collection. The default path index does not count.
const DefaultMaxIndexesPerCollection = 20

// DefaultPageSize is used when a query sets neither First nor Last.
const DefaultPageSize = 10

// Config configures a [Database].
//
// Bridge and Store are required. Everything else has a usable zero value.
type Config struct {
	// Bridge holds the raw files. It is the source of truth.
	Bridge bridge.Bridge

	// Store holds the derived index. Everything in it can be rebuilt from
	// the bridge with [Database.IndexContent].
	Store store.Store

	// Logger receives structured events. The zero value discards them.
	Logger zerolog.Logger

	// GeneratedDir is the bridge directory holding the compiled schema,
	// GraphQL schema and lookup map. Defaults to [DefaultGeneratedDir].
	GeneratedDir string

	// NumericPad controls how number fields are padded in index keys so that
	// lexical order matches numeric order. Defaults to fill "0", width 4.
	NumericPad store.Pad

	// MaxIndexesPerCollection defaults to [DefaultMaxIndexesPerCollection].
	// Exceeding it is a configuration error, never a silent truncation.
	MaxIndexesPerCollection int

	// ContinueOnError makes bulk indexing record per-document failures and
	// carry on, returning them together as [*IndexScanError]. By default the
	// first failure aborts the run.
	ContinueOnError bool
}

func (c Config) withDefaults() (Config, error) {
	if c.Bridge == nil {
		return c, errors.New("contentdb: Bridge is required")
	}

	if c.Store == nil {
		return c, errors.New("contentdb: Store is required")
	}

	if c.GeneratedDir == "" {
		c.GeneratedDir = DefaultGeneratedDir
	}

	c.GeneratedDir = strings.Trim(path.Clean("/"+strings.ReplaceAll(c.GeneratedDir, "\\", "/")), "/")

	if c.NumericPad.FillString == "" {
		c.NumericPad.FillString = store.DefaultNumericFill
	}

	if c.NumericPad.MaxLength <= 0 {
		c.NumericPad.MaxLength = store.DefaultNumericLPad
	}

	if c.MaxIndexesPerCollection <= 0 {
		c.MaxIndexesPerCollection = DefaultMaxIndexesPerCollection
	}

	return c, nil
}
