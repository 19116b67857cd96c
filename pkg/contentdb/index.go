package contentdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"time"

	"github.com/calvinalkan/contentdb/pkg/schema"
	"github.com/calvinalkan/contentdb/pkg/store"
	"github.com/calvinalkan/contentdb/pkg/transcode"
)

// Artifacts are the compiled configuration a full reindex installs.
type Artifacts struct {
	// GraphQLSchema is the compiled GraphQL schema document. It is carried
	// as opaque JSON.
	GraphQLSchema map[string]any

	// Schema is the content schema.
	Schema schema.Raw
}

// PutConfigFiles writes the GraphQL and content schema artifacts to the
// bridge. It does nothing when the bridge does not support building.
func (db *Database) PutConfigFiles(ctx context.Context, a Artifacts) error {
	if !db.bridge.SupportsBuilding() {
		return nil
	}

	for _, item := range []struct {
		name string
		v    any
	}{
		{artifactGraphQL, graphQLDocument(a.GraphQLSchema)},
		{artifactSchema, a.Schema},
	} {
		p := db.artifactPath(item.name)

		data, err := json.Marshal(item.v)
		if err != nil {
			return withContext(fmt.Errorf("encode %s: %w", item.name, err), p, "")
		}

		err = db.bridge.PutConfig(ctx, p, data)
		if err != nil {
			return withContext(fmt.Errorf("bridge: %w", err), p, "")
		}
	}

	return nil
}

// LoadArtifacts reads the GraphQL and content schema artifacts from the
// bridge, as written by [Database.PutConfigFiles].
func (db *Database) LoadArtifacts(ctx context.Context) (Artifacts, error) {
	var a Artifacts

	graphQL, err := db.GraphQLSchemaFromBridge(ctx)
	if err != nil {
		return Artifacts{}, err
	}

	err = db.bridgeArtifact(ctx, artifactSchema, &a.Schema)
	if err != nil {
		return Artifacts{}, err
	}

	a.GraphQLSchema = graphQL

	return a, nil
}

// IndexContent rebuilds the store from scratch: it clears the store, seeds
// the GraphQL schema, the content schema and the lookup map read from the
// bridge, then indexes every document of every collection from the bridge.
//
// Stores that cannot be seeded are left alone, unless they require indexing,
// which is a configuration error. The schema is compiled before anything is
// cleared, so an invalid schema leaves the store untouched.
func (db *Database) IndexContent(ctx context.Context, a Artifacts) error {
	if !db.store.SupportsSeeding() {
		if db.store.SupportsIndexing() {
			return withContext(configErrorf("schema must be indexed with the provided store"), "", "")
		}

		return nil
	}

	sch, err := schema.Compile(a.Schema)
	if err != nil {
		return withContext(fmt.Errorf("%w: %w", ErrConfiguration, err), db.artifactPath(artifactSchema), "")
	}

	_, err = compileIndexDefinitions(sch, db.cfg.NumericPad, db.cfg.MaxIndexesPerCollection)
	if err != nil {
		return withContext(err, db.artifactPath(artifactSchema), "")
	}

	lookup := db.readLookup(ctx)

	schemaPayload, err := toPayload(a.Schema)
	if err != nil {
		return withContext(fmt.Errorf("encode schema: %w", err), db.artifactPath(artifactSchema), "")
	}

	err = db.store.Clear(ctx)
	if err != nil {
		return withContext(fmt.Errorf("store: clear: %w", err), "", "")
	}

	for _, item := range []struct {
		name    string
		payload store.Payload
	}{
		{artifactGraphQL, store.Payload(graphQLDocument(a.GraphQLSchema))},
		{artifactSchema, schemaPayload},
		{artifactLookup, lookup},
	} {
		p := db.artifactPath(item.name)

		err = db.store.Seed(ctx, p, item.payload, store.PutOptions{})
		if err != nil {
			return withContext(fmt.Errorf("store: seed: %w", err), p, "")
		}
	}

	db.InvalidateCaches()

	return db.indexAllContent(ctx)
}

// readLookup reads the lookup map from the bridge. A missing or malformed
// map is treated as empty.
func (db *Database) readLookup(ctx context.Context) store.Payload {
	p := db.artifactPath(artifactLookup)

	data, err := db.readBridge(ctx, p)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			db.logger.Warn().Err(err).Str("path", p).Msg("lookup map unreadable, starting empty")
		}

		return store.Payload{}
	}

	lookup := store.Payload{}

	err = json.Unmarshal(data, &lookup)
	if err != nil || lookup == nil {
		db.logger.Warn().Str("path", p).Msg("lookup map malformed, starting empty")

		return store.Payload{}
	}

	return lookup
}

func (db *Database) indexAllContent(ctx context.Context) error {
	start := time.Now()

	sch, err := db.Schema(ctx)
	if err != nil {
		return withContext(err, "", "")
	}

	db.logger.Info().Int("collections", len(sch.Collections())).Msg("reindex started")

	run := newIndexRun(db)

	for _, c := range sch.Collections() {
		paths, err := db.bridge.Glob(ctx, c.Path)
		if err != nil {
			return withContext(fmt.Errorf("bridge: glob: %w", err), c.Path, c.Name)
		}

		paths = db.collectionFiles(c, paths)

		err = run.index(ctx, c, paths)
		if err != nil {
			return err
		}
	}

	return run.finish("reindex finished", start)
}

// collectionFiles drops paths the collection cannot hold: generated
// artifacts, and files whose extension does not match the collection format.
func (db *Database) collectionFiles(c *schema.Collection, paths []string) []string {
	out := paths[:0:0]

	for _, p := range paths {
		if db.isGenerated(p) || db.isSystemPath(p) {
			continue
		}

		format, err := transcode.FormatOf(p)
		if err != nil || format.Extension() != c.Format.Extension() {
			continue
		}

		out = append(out, p)
	}

	return out
}

// IndexContentByPaths re-indexes the given documents from the bridge. Paths
// are grouped by owning collection; paths no collection owns are indexed last
// with no index definitions.
func (db *Database) IndexContentByPaths(ctx context.Context, paths []string) error {
	start := time.Now()

	groups, err := db.groupByCollection(ctx, paths)
	if err != nil {
		return err
	}

	run := newIndexRun(db)

	for _, g := range groups {
		err = run.index(ctx, g.collection, g.paths)
		if err != nil {
			return err
		}
	}

	return run.finish("index by paths finished", start)
}

// DeleteContentByPaths removes the given documents from the store, grouped
// like [Database.IndexContentByPaths]. The bridge is not touched.
func (db *Database) DeleteContentByPaths(ctx context.Context, paths []string) error {
	start := time.Now()

	groups, err := db.groupByCollection(ctx, paths)
	if err != nil {
		return err
	}

	run := newIndexRun(db)

	for _, g := range groups {
		err = run.remove(ctx, g.collection, g.paths)
		if err != nil {
			return err
		}
	}

	return run.finish("delete by paths finished", start)
}

type pathGroup struct {
	collection *schema.Collection // nil for paths no collection owns
	paths      []string
}

// groupByCollection groups paths by owning collection in order of first
// appearance. The group of unowned paths always comes last.
func (db *Database) groupByCollection(ctx context.Context, paths []string) ([]pathGroup, error) {
	sch, err := db.Schema(ctx)
	if err != nil {
		return nil, withContext(err, "", "")
	}

	var (
		groups  []pathGroup
		byName  = map[string]int{}
		unowned []string
	)

	for _, p := range paths {
		c, ok := sch.CollectionForPath(p)
		if !ok {
			unowned = append(unowned, p)

			continue
		}

		i, seen := byName[c.Name]
		if !seen {
			i = len(groups)
			byName[c.Name] = i
			groups = append(groups, pathGroup{collection: c})
		}

		groups[i].paths = append(groups[i].paths, p)
	}

	return append(groups, pathGroup{paths: unowned}), nil
}

// indexRun applies per-document work sequentially and either stops at the
// first failure or collects failures, depending on Config.ContinueOnError.
type indexRun struct {
	db     *Database
	done   int
	issues []*Error
}

func newIndexRun(db *Database) *indexRun {
	return &indexRun{db: db}
}

func (r *indexRun) options(ctx context.Context, c *schema.Collection) (store.PutOptions, error) {
	if c == nil {
		return store.PutOptions{}, nil
	}

	defs, err := r.db.collectionIndexDefinitions(ctx, c.Name)
	if err != nil {
		return store.PutOptions{}, withContext(err, c.Path, c.Name)
	}

	if n := countIndexes(defs); n > r.db.cfg.MaxIndexesPerCollection {
		return store.PutOptions{}, withContext(configErrorf(
			"a maximum of %d indexes are allowed per collection, collection %q has %d",
			r.db.cfg.MaxIndexesPerCollection, c.Name, n), c.Path, c.Name)
	}

	return store.PutOptions{Collection: c.Name, IndexDefinitions: defs, KeepTemplateKey: c.IsUnion()}, nil
}

func (r *indexRun) index(ctx context.Context, c *schema.Collection, paths []string) error {
	if len(paths) == 0 {
		return nil
	}

	opts, err := r.options(ctx, c)
	if err != nil {
		return err
	}

	for _, p := range paths {
		err = ctx.Err()
		if err != nil {
			return err
		}

		err = r.record(p, opts.Collection, r.db.indexDocument(ctx, p, opts))
		if err != nil {
			return err
		}
	}

	return nil
}

func (r *indexRun) remove(ctx context.Context, c *schema.Collection, paths []string) error {
	if len(paths) == 0 {
		return nil
	}

	opts, err := r.options(ctx, c)
	if err != nil {
		return err
	}

	del := store.DeleteOptions{Collection: opts.Collection, IndexDefinitions: opts.IndexDefinitions}

	for _, p := range paths {
		err = ctx.Err()
		if err != nil {
			return err
		}

		err = r.db.store.Delete(ctx, p, del)
		if err != nil {
			err = fmt.Errorf("store: %w", err)
		}

		err = r.record(p, opts.Collection, err)
		if err != nil {
			return err
		}
	}

	return nil
}

// record returns err with context in fail-fast mode. With ContinueOnError it
// keeps the failure and returns nil.
func (r *indexRun) record(p, collection string, err error) error {
	if err == nil {
		r.done++

		return nil
	}

	var issue *Error

	_ = errors.As(withContext(err, p, collection), &issue)

	if !r.db.cfg.ContinueOnError {
		return issue
	}

	r.db.logger.Warn().Err(issue.Err).Str("path", p).Str("collection", collection).Msg("document skipped")
	r.issues = append(r.issues, issue)

	return nil
}

func (r *indexRun) finish(msg string, start time.Time) error {
	r.db.logger.Info().
		Int("documents", r.done).
		Int("issues", len(r.issues)).
		Dur("took", time.Since(start)).
		Msg(msg)

	if len(r.issues) > 0 {
		return &IndexScanError{Issues: r.issues}
	}

	return nil
}

// indexDocument reads p from the bridge, parses it and seeds the store.
func (db *Database) indexDocument(ctx context.Context, p string, opts store.PutOptions) error {
	format, err := transcode.FormatOf(p)
	if err != nil {
		return err
	}

	raw, err := db.readBridge(ctx, p)
	if err != nil {
		return err
	}

	payload, err := transcode.Parse(raw, format)
	if err != nil {
		return fmt.Errorf("parse %s: %w", path.Base(p), err)
	}

	err = db.store.Seed(ctx, p, payload, opts)
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}

	return nil
}

func graphQLDocument(doc map[string]any) map[string]any {
	if doc == nil {
		return map[string]any{}
	}

	return doc
}
