package contentdb

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"path"

	"github.com/calvinalkan/contentdb/pkg/bridge"
	"github.com/calvinalkan/contentdb/pkg/schema"
	"github.com/calvinalkan/contentdb/pkg/store"
	"github.com/calvinalkan/contentdb/pkg/transcode"
)

// Read-time metadata keys attached by [Database.Get].
const (
	KeyCollection      = "_collection"
	KeyTemplate        = schema.TemplateKey
	KeyRelativePath    = "_relativePath"
	KeyKeepTemplateKey = "_keepTemplateKey"
	KeyID              = "_id"
)

// Document is a document's field map as seen by callers: declared fields by
// name, plus the read-time metadata keys on documents returned by Get.
type Document = map[string]any

// File is the result of [Database.StringifyFile].
type File struct {
	// Raw is the on-disk form of the document.
	Raw []byte
	// Payload is the store form, with the body field hoisted.
	Payload store.Payload
	// KeepTemplateKey is set for union collections.
	KeepTemplateKey bool
	// Collection owns the document.
	Collection *schema.Collection
}

// Get returns the document at p from the index, enriched with its collection,
// template, relative path and id.
//
// Returns [ErrConfiguration] for reserved artifact paths and [ErrNotFound] when
// the store has no record for p.
func (db *Database) Get(ctx context.Context, p string) (Document, error) {
	if db.isSystemPath(p) {
		return nil, withContext(configErrorf("unexpected get for config file %s", p), p, "")
	}

	sch, err := db.Schema(ctx)
	if err != nil {
		return nil, withContext(err, p, "")
	}

	payload, err := db.store.Get(ctx, p)
	if err != nil {
		return nil, withContext(fmt.Errorf("unable to find record: %w", err), p, "")
	}

	c, ok := sch.CollectionForPath(p)
	if !ok {
		return nil, withContext(configErrorf("no collection owns %s", p), p, "")
	}

	templateName, _ := payload[KeyTemplate].(string)

	tmpl, err := c.Template(templateName)
	if err != nil {
		return nil, withContext(err, p, c.Name)
	}

	var doc Document

	if body, ok := tmpl.BodyField(); ok && isMarkdownPath(p) {
		doc = transcode.Unhoist(payload, body.Name)
	} else {
		doc = maps.Clone(payload)
	}

	doc[KeyCollection] = c.Name
	doc[KeyKeepTemplateKey] = c.IsUnion()
	doc[KeyTemplate] = tmpl.Name
	doc[KeyRelativePath] = c.RelativePath(p)
	doc[KeyID] = p

	return doc, nil
}

// DocumentExists reports whether Get would succeed for p.
func (db *Database) DocumentExists(ctx context.Context, p string) bool {
	_, err := db.Get(ctx, p)

	return err == nil
}

// Put writes the document at p: the stringified file to the bridge when it
// supports building, and the payload with its collection's index definitions
// to the store when it supports seeding.
//
// For union collections data must carry a known "_template".
func (db *Database) Put(ctx context.Context, p string, data Document) error {
	if db.isSystemPath(p) {
		return withContext(configErrorf("unexpected put for config file %s", p), p, "")
	}

	return db.write(ctx, p, data)
}

// AddPendingDocument writes a document that is not yet known to exist. It
// behaves like [Database.Put].
func (db *Database) AddPendingDocument(ctx context.Context, p string, data Document) error {
	if db.isSystemPath(p) {
		return withContext(configErrorf("unexpected put for config file %s", p), p, "")
	}

	return db.write(ctx, p, data)
}

func (db *Database) write(ctx context.Context, p string, data Document) error {
	clean, err := bridge.CleanPath(p)
	if err != nil {
		return withContext(fmt.Errorf("%w: %w", ErrConfiguration, err), p, "")
	}

	file, err := db.StringifyFile(ctx, clean, data)
	if err != nil {
		return err
	}

	c := file.Collection

	defs, err := db.collectionIndexDefinitions(ctx, c.Name)
	if err != nil {
		return withContext(err, clean, c.Name)
	}

	if db.bridge.SupportsBuilding() {
		err = db.bridge.Put(ctx, clean, file.Raw)
		if err != nil {
			return withContext(fmt.Errorf("bridge: %w", err), clean, c.Name)
		}
	}

	if db.store.SupportsSeeding() {
		err = db.store.Put(ctx, clean, file.Payload, store.PutOptions{
			Collection:       c.Name,
			IndexDefinitions: defs,
			KeepTemplateKey:  file.KeepTemplateKey,
		})
		if err != nil {
			return withContext(fmt.Errorf("store: %w", err), clean, c.Name)
		}
	}

	db.logger.Debug().Str("path", clean).Str("collection", c.Name).Msg("put")

	return nil
}

// StringifyFile transcodes data into its on-disk and store forms without
// writing anything.
//
// Read-time metadata keys are dropped; "_template" is kept for union
// collections, where it selects the template and must name a declared one.
// For markdown documents whose template declares a body field, that field is
// hoisted into the body.
func (db *Database) StringifyFile(ctx context.Context, p string, data Document) (File, error) {
	if db.isSystemPath(p) {
		return File{}, withContext(configErrorf("unexpected stringify for config file %s", p), p, "")
	}

	sch, err := db.Schema(ctx)
	if err != nil {
		return File{}, withContext(err, p, "")
	}

	c, ok := sch.CollectionForPath(p)
	if !ok {
		return File{}, withContext(configErrorf("no collection owns %s", p), p, "")
	}

	format, err := transcode.FormatOf(p)
	if err != nil {
		return File{}, withContext(fmt.Errorf("%w: %w", ErrConfiguration, err), p, c.Name)
	}

	// Reindexing only picks up files with the collection's extension.
	if format.Extension() != c.Format.Extension() {
		return File{}, withContext(configErrorf("collection %q holds %s files, not %s",
			c.Name, c.Format.Extension(), path.Ext(p)), p, c.Name)
	}

	keep := c.IsUnion()

	templateName := ""
	if keep {
		templateName, _ = data[KeyTemplate].(string)
	}

	tmpl, err := c.Template(templateName)
	if err != nil {
		return File{}, withContext(err, p, c.Name)
	}

	fields := make(Document, len(data))

	for k, v := range data {
		switch k {
		case KeyCollection, KeyRelativePath, KeyKeepTemplateKey, KeyID:
			continue
		case KeyTemplate:
			if !keep {
				continue
			}
		}

		fields[k] = v
	}

	payload := store.Payload(fields)
	if body, ok := tmpl.BodyField(); ok && format.IsMarkdown() {
		payload = transcode.Hoist(fields, body.Name)
	}

	raw, err := transcode.Stringify(payload, format, keep)
	if err != nil {
		return File{}, withContext(err, p, c.Name)
	}

	return File{Raw: raw, Payload: payload, KeepTemplateKey: keep, Collection: c}, nil
}

// Flush round-trips the document at p through Get and StringifyFile and
// returns the canonical file contents.
func (db *Database) Flush(ctx context.Context, p string) (string, error) {
	doc, err := db.Get(ctx, p)
	if err != nil {
		return "", err
	}

	file, err := db.StringifyFile(ctx, p, doc)
	if err != nil {
		return "", err
	}

	return string(file.Raw), nil
}

// Delete removes the document at p from the store, using the current index
// definitions so every derived entry goes with it, then from the bridge.
func (db *Database) Delete(ctx context.Context, p string) error {
	if db.isSystemPath(p) {
		return withContext(configErrorf("unexpected delete for config file %s", p), p, "")
	}

	sch, err := db.Schema(ctx)
	if err != nil {
		return withContext(err, p, "")
	}

	var opts store.DeleteOptions

	if c, ok := sch.CollectionForPath(p); ok {
		defs, err := db.collectionIndexDefinitions(ctx, c.Name)
		if err != nil {
			return withContext(err, p, c.Name)
		}

		opts = store.DeleteOptions{Collection: c.Name, IndexDefinitions: defs}
	}

	err = db.store.Delete(ctx, p, opts)
	if err != nil {
		return withContext(fmt.Errorf("store: %w", err), p, opts.Collection)
	}

	if db.bridge.SupportsBuilding() {
		err = db.bridge.Delete(ctx, p)
		if err != nil && !errors.Is(err, bridge.ErrNotFound) {
			return withContext(fmt.Errorf("bridge: %w", err), p, opts.Collection)
		}
	}

	db.logger.Debug().Str("path", p).Str("collection", opts.Collection).Msg("delete")

	return nil
}

func isMarkdownPath(p string) bool {
	format, err := transcode.FormatOf(p)

	return err == nil && format.IsMarkdown()
}
