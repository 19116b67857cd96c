package contentdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"slices"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/calvinalkan/contentdb/pkg/bridge"
	"github.com/calvinalkan/contentdb/pkg/schema"
	"github.com/calvinalkan/contentdb/pkg/store"
)

// Names of the generated configuration artifacts. Each is stored as
// <GeneratedDir>/<name>.json in both the bridge and the store.
const (
	artifactSchema  = "_schema"
	artifactGraphQL = "_graphql"
	artifactLookup  = "_lookup"
)

var systemArtifacts = []string{artifactSchema, artifactGraphQL, artifactLookup}

// Database composes a [bridge.Bridge] and a [store.Store] into a schema-aware
// content database.
//
// The bridge holds the durable raw files; the store holds a derived index.
// Writes go to both as two independent steps with no transaction spanning
// them. A crash in between leaves them out of sync until the next
// [Database.IndexContent] or [Database.IndexContentByPaths].
//
// The compiled schema, per-collection index definitions and lookup map are
// loaded lazily on first use and cached for the lifetime of the Database.
// Concurrent first loads share one in-flight computation.
//
// A Database is safe for concurrent use.
type Database struct {
	bridge bridge.Bridge
	store  store.Store
	logger zerolog.Logger
	cfg    Config

	loads singleflight.Group

	mu        sync.RWMutex
	schema    *schema.Schema
	indexDefs map[string]store.IndexDefinitions
	lookup    map[string]LookupEntry
}

// New validates cfg and returns a Database. Nothing is read until first use.
func New(cfg Config) (*Database, error) {
	cfg, err := cfg.withDefaults()
	if err != nil {
		return nil, err
	}

	return &Database{
		bridge: cfg.Bridge,
		store:  cfg.Store,
		logger: cfg.Logger.With().Str("component", "contentdb").Logger(),
		cfg:    cfg,
	}, nil
}

// Bridge returns the raw file storage.
func (db *Database) Bridge() bridge.Bridge { return db.bridge }

// Store returns the index storage.
func (db *Database) Store() store.Store { return db.store }

// InvalidateCaches drops the cached schema, index definitions and lookup map.
// The next access reloads them from the store.
func (db *Database) InvalidateCaches() {
	db.mu.Lock()
	db.schema = nil
	db.indexDefs = nil
	db.lookup = nil
	db.mu.Unlock()

	db.loads.Forget("schema")
	db.loads.Forget("indexDefs")
	db.loads.Forget("lookup")
}

// artifactPath returns the bridge/store path of a generated artifact.
func (db *Database) artifactPath(name string) string {
	return path.Join(db.cfg.GeneratedDir, name+".json")
}

// isSystemPath reports whether p names a generated artifact rather than a
// document, either by bare name or by its full path.
func (db *Database) isSystemPath(p string) bool {
	for _, name := range systemArtifacts {
		if p == name || p == db.artifactPath(name) {
			return true
		}
	}

	return false
}

// isGenerated reports whether p lives in the generated artifacts directory.
func (db *Database) isGenerated(p string) bool {
	return p == db.cfg.GeneratedDir || strings.HasPrefix(p, db.cfg.GeneratedDir+"/")
}

// Schema returns the compiled content schema, loading it from the store on
// first use.
func (db *Database) Schema(ctx context.Context) (*schema.Schema, error) {
	db.mu.RLock()
	cached := db.schema
	db.mu.RUnlock()

	if cached != nil {
		return cached, nil
	}

	v, err, _ := db.loads.Do("schema", func() (any, error) {
		raw, err := db.RawSchema(ctx)
		if err != nil {
			return nil, err
		}

		compiled, err := schema.Compile(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
		}

		db.mu.Lock()
		db.schema = compiled
		db.mu.Unlock()

		db.logger.Debug().Int("collections", len(raw.Collections)).Msg("schema loaded")

		return compiled, nil
	})
	if err != nil {
		return nil, err
	}

	return v.(*schema.Schema), nil //nolint:forcetypeassert // set above
}

// IndexDefinitions returns the index definitions of every collection, keyed by
// collection name. Computed once from the schema and cached.
func (db *Database) IndexDefinitions(ctx context.Context) (map[string]store.IndexDefinitions, error) {
	db.mu.RLock()
	cached := db.indexDefs
	db.mu.RUnlock()

	if cached != nil {
		return cached, nil
	}

	v, err, _ := db.loads.Do("indexDefs", func() (any, error) {
		sch, err := db.Schema(ctx)
		if err != nil {
			return nil, err
		}

		defs, err := compileIndexDefinitions(sch, db.cfg.NumericPad, db.cfg.MaxIndexesPerCollection)
		if err != nil {
			return nil, err
		}

		db.mu.Lock()
		db.indexDefs = defs
		db.mu.Unlock()

		return defs, nil
	})
	if err != nil {
		return nil, err
	}

	return v.(map[string]store.IndexDefinitions), nil //nolint:forcetypeassert // set above
}

// collectionIndexDefinitions returns the definitions of one collection.
func (db *Database) collectionIndexDefinitions(ctx context.Context, collection string) (store.IndexDefinitions, error) {
	all, err := db.IndexDefinitions(ctx)
	if err != nil {
		return nil, err
	}

	defs, ok := all[collection]
	if !ok {
		return nil, fmt.Errorf("no index definitions for collection %q: %w", collection, ErrNotFound)
	}

	return defs, nil
}

// RawSchema returns the content schema artifact as stored in the index.
func (db *Database) RawSchema(ctx context.Context) (schema.Raw, error) {
	var raw schema.Raw

	err := db.storeArtifact(ctx, artifactSchema, &raw)
	if err != nil {
		return schema.Raw{}, err
	}

	return raw, nil
}

// GraphQLSchema returns the compiled GraphQL schema document from the store.
func (db *Database) GraphQLSchema(ctx context.Context) (map[string]any, error) {
	var doc map[string]any

	err := db.storeArtifact(ctx, artifactGraphQL, &doc)
	if err != nil {
		return nil, err
	}

	return doc, nil
}

// GraphQLSchemaFromBridge reads the GraphQL schema document straight from the
// bridge, bypassing the index.
func (db *Database) GraphQLSchemaFromBridge(ctx context.Context) (map[string]any, error) {
	var doc map[string]any

	err := db.bridgeArtifact(ctx, artifactGraphQL, &doc)
	if err != nil {
		return nil, err
	}

	return doc, nil
}

// storeArtifact decodes a generated artifact held in the store into v.
func (db *Database) storeArtifact(ctx context.Context, name string, v any) error {
	p := db.artifactPath(name)

	payload, err := db.store.Get(ctx, p)
	if err != nil {
		return withContext(fmt.Errorf("load %s: %w", name, err), p, "")
	}

	return withContext(convert(payload, v), p, "")
}

// bridgeArtifact decodes a generated artifact held in the bridge into v.
func (db *Database) bridgeArtifact(ctx context.Context, name string, v any) error {
	p := db.artifactPath(name)

	data, err := db.readBridge(ctx, p)
	if err != nil {
		return withContext(err, p, "")
	}

	err = json.Unmarshal(data, v)
	if err != nil {
		return withContext(fmt.Errorf("decode %s: %w", name, err), p, "")
	}

	return nil
}

// readBridge reads a raw file, reporting a missing file as [ErrNotFound].
func (db *Database) readBridge(ctx context.Context, p string) ([]byte, error) {
	data, err := db.bridge.Get(ctx, p)
	if errors.Is(err, bridge.ErrNotFound) {
		return nil, fmt.Errorf("bridge: %s: %w", p, ErrNotFound)
	}

	if err != nil {
		return nil, fmt.Errorf("bridge: %w", err)
	}

	return data, nil
}

// convert re-decodes a JSON-compatible value into v.
func convert(from, v any) error {
	data, err := json.Marshal(from)
	if err != nil {
		return err
	}

	return json.Unmarshal(data, v)
}

// toPayload converts a JSON-encodable value into a store payload.
func toPayload(v any) (store.Payload, error) {
	var payload store.Payload

	err := convert(v, &payload)
	if err != nil {
		return nil, err
	}

	if payload == nil {
		payload = store.Payload{}
	}

	return payload, nil
}

// compileIndexDefinitions derives every collection's index definitions: the
// default path index, one index per indexable top-level field, and each
// declared compound index. Declared indexes replace a field index of the same
// name.
func compileIndexDefinitions(sch *schema.Schema, pad store.Pad, maxIndexes int) (map[string]store.IndexDefinitions, error) {
	out := make(map[string]store.IndexDefinitions)

	for _, c := range sch.Collections() {
		defs := store.IndexDefinitions{store.DefaultSortKey: {}}

		for _, f := range indexableFields(c) {
			defs[f.Name] = store.IndexDefinition{Fields: []store.IndexField{{
				Name: f.Name,
				Type: f.Type,
				Pad:  store.NumericPad(f.Type, pad.FillString, pad.MaxLength),
			}}}
		}

		for _, idx := range c.Indexes {
			fields := make([]store.IndexField, 0, len(idx.Fields))

			for _, ref := range idx.Fields {
				t, ok := c.FieldType(ref.Name)
				if !ok {
					return nil, configErrorf("collection %q index %q references unknown field %q", c.Name, idx.Name, ref.Name)
				}

				fields = append(fields, store.IndexField{
					Name: ref.Name,
					Type: t,
					Pad:  store.NumericPad(t, pad.FillString, pad.MaxLength),
				})
			}

			defs[idx.Name] = store.IndexDefinition{Fields: fields}
		}

		if n := countIndexes(defs); n > maxIndexes {
			return nil, configErrorf(
				"a maximum of %d indexes are allowed per collection, collection %q has %d; add 'indexed: false' to exclude a field from indexing",
				maxIndexes, c.Name, n)
		}

		out[c.Name] = defs
	}

	return out, nil
}

// indexableFields returns the top-level fields that get their own index. For
// union collections fields of every template are considered; the first
// declaration of a name wins.
func indexableFields(c *schema.Collection) []schema.Field {
	var fields []schema.Field

	candidates := slices.Clone(c.Fields)
	for _, t := range c.Templates {
		candidates = append(candidates, t.Fields...)
	}

	seen := make(map[string]struct{}, len(candidates))

	for _, f := range candidates {
		if _, dup := seen[f.Name]; dup {
			continue
		}

		seen[f.Name] = struct{}{}

		if f.IsIndexed() {
			fields = append(fields, f)
		}
	}

	return fields
}

// countIndexes counts the indexes subject to the per-collection cap. The
// default path index is always present and not counted.
func countIndexes(defs store.IndexDefinitions) int {
	if _, ok := defs[store.DefaultSortKey]; ok {
		return len(defs) - 1
	}

	return len(defs)
}
