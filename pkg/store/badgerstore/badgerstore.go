// Package badgerstore implements [store.Store] on BadgerDB.
//
// Key layout:
//
//	d\x00<path>                          -> JSON payload
//	r\x00<path>                          -> JSON list of index entry keys owned by path
//	i\x00<collection>\x00<index>\x00<key> -> path
//
// Every document written with a collection gets an entry in the default
// (path-ordered) index plus one entry per index definition it has values for.
// The reverse record lets Put and Delete remove exactly the entries a previous
// write created, even when index definitions changed in between.
package badgerstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"

	"github.com/calvinalkan/contentdb/pkg/schema"
	"github.com/calvinalkan/contentdb/pkg/store"
)

const sep = "\x00"

var (
	prefixDoc     = []byte("d" + sep)
	prefixReverse = []byte("r" + sep)
	prefixIndex   = []byte("i" + sep)
)

// Config configures [Open].
type Config struct {
	// Dir holds the database files. Ignored when InMemory is set.
	Dir string

	// InMemory keeps everything in memory. Used by tests and throwaway indexes.
	InMemory bool

	// SyncWrites fsyncs every commit.
	SyncWrites bool

	Logger zerolog.Logger
}

// Store is a [store.Store] backed by BadgerDB.
type Store struct {
	db     *badger.DB
	logger zerolog.Logger
}

var _ store.Store = (*Store)(nil)

// Open opens or creates a Badger database.
func Open(cfg Config) (*Store, error) {
	if cfg.Dir == "" && !cfg.InMemory {
		return nil, errors.New("badgerstore: Dir is required unless InMemory is set")
	}

	logger := cfg.Logger.With().Str("component", "badgerstore").Logger()

	opts := badger.DefaultOptions(cfg.Dir).
		WithInMemory(cfg.InMemory).
		WithSyncWrites(cfg.SyncWrites).
		WithLogger(badgerLogger{logger: logger}).
		WithLoggingLevel(badger.WARNING)

	if cfg.InMemory {
		opts = opts.WithDir("").WithValueDir("")
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badgerstore: open: %w", err)
	}

	logger.Debug().Str("dir", cfg.Dir).Bool("in_memory", cfg.InMemory).Msg("store opened")

	return &Store{db: db, logger: logger}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SupportsSeeding reports true: documents can be bulk loaded from raw files.
func (*Store) SupportsSeeding() bool { return true }

// SupportsIndexing reports true: queries need index definitions.
func (*Store) SupportsIndexing() bool { return true }

// Get returns the payload stored at path.
func (s *Store) Get(ctx context.Context, path string) (store.Payload, error) {
	err := ctx.Err()
	if err != nil {
		return nil, err
	}

	var payload store.Payload

	err = s.db.View(func(txn *badger.Txn) error {
		var getErr error

		payload, getErr = getPayload(txn, path)

		return getErr
	})
	if err != nil {
		return nil, err
	}

	return payload, nil
}

// Put writes payload and rebuilds its index entries.
func (s *Store) Put(ctx context.Context, path string, payload store.Payload, opts store.PutOptions) error {
	err := ctx.Err()
	if err != nil {
		return err
	}

	stored := payload
	if !opts.KeepTemplateKey {
		if _, ok := payload[schema.TemplateKey]; ok {
			stored = make(store.Payload, len(payload))
			for k, v := range payload {
				if k != schema.TemplateKey {
					stored[k] = v
				}
			}
		}
	}

	data, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("badgerstore: encode %s: %w", path, err)
	}

	entries := indexEntries(opts.Collection, opts.IndexDefinitions, path, stored)

	err = s.db.Update(func(txn *badger.Txn) error {
		err := dropIndexEntries(txn, path, nil)
		if err != nil {
			return err
		}

		err = txn.Set(docKey(path), data)
		if err != nil {
			return err
		}

		return setIndexEntries(txn, path, entries)
	})
	if err != nil {
		return fmt.Errorf("badgerstore: put %s: %w", path, err)
	}

	s.logger.Debug().Str("path", path).Str("collection", opts.Collection).Int("index_entries", len(entries)).Msg("put")

	return nil
}

// Seed is [Store.Put]; Badger has no separate bulk path.
func (s *Store) Seed(ctx context.Context, path string, payload store.Payload, opts store.PutOptions) error {
	return s.Put(ctx, path, payload, opts)
}

// Delete removes the payload at path along with its index entries. Entries are
// derived from the stored payload under the supplied definitions and from the
// reverse record. Deleting a missing path is not an error.
func (s *Store) Delete(ctx context.Context, path string, opts store.DeleteOptions) error {
	err := ctx.Err()
	if err != nil {
		return err
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		current, err := getPayload(txn, path)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}

		var derived [][]byte
		if current != nil {
			derived = indexEntries(opts.Collection, opts.IndexDefinitions, path, current)
		}

		err = dropIndexEntries(txn, path, derived)
		if err != nil {
			return err
		}

		return txn.Delete(docKey(path))
	})
	if err != nil {
		return fmt.Errorf("badgerstore: delete %s: %w", path, err)
	}

	s.logger.Debug().Str("path", path).Str("collection", opts.Collection).Msg("delete")

	return nil
}

// Clear drops every key.
func (s *Store) Clear(ctx context.Context) error {
	err := ctx.Err()
	if err != nil {
		return err
	}

	err = s.db.DropAll()
	if err != nil {
		return fmt.Errorf("badgerstore: clear: %w", err)
	}

	s.logger.Debug().Msg("cleared")

	return nil
}

func docKey(path string) []byte {
	return append(slices.Clone(prefixDoc), path...)
}

func reverseKey(path string) []byte {
	return append(slices.Clone(prefixReverse), path...)
}

func indexPrefix(collection, index string) []byte {
	k := slices.Clone(prefixIndex)
	k = append(k, collection...)
	k = append(k, sep...)
	k = append(k, index...)
	k = append(k, sep...)

	return k
}

func getPayload(txn *badger.Txn, path string) (store.Payload, error) {
	item, err := txn.Get(docKey(path))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%s: %w", path, store.ErrNotFound)
	}

	if err != nil {
		return nil, err
	}

	var payload store.Payload

	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &payload)
	})
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}

	if payload == nil {
		payload = store.Payload{}
	}

	return payload, nil
}

// indexEntries computes the index entry keys for a document. Documents written
// without a collection are not indexed.
func indexEntries(collection string, defs store.IndexDefinitions, path string, payload store.Payload) [][]byte {
	if collection == "" {
		return nil
	}

	entries := [][]byte{append(indexPrefix(collection, store.DefaultSortKey), path...)}

	names := make([]string, 0, len(defs))
	for name := range defs {
		if name != store.DefaultSortKey {
			names = append(names, name)
		}
	}

	slices.Sort(names)

	for _, name := range names {
		key, ok := defs[name].Key(path, payload)
		if !ok {
			continue
		}

		entries = append(entries, append(indexPrefix(collection, name), key...))
	}

	return entries
}

func setIndexEntries(txn *badger.Txn, path string, entries [][]byte) error {
	if len(entries) == 0 {
		return nil
	}

	for _, e := range entries {
		err := txn.Set(e, []byte(path))
		if err != nil {
			return err
		}
	}

	owned := make([]string, len(entries))
	for i, e := range entries {
		owned[i] = string(e)
	}

	data, err := json.Marshal(owned)
	if err != nil {
		return err
	}

	return txn.Set(reverseKey(path), data)
}

// dropIndexEntries deletes the entries recorded for path plus extra.
func dropIndexEntries(txn *badger.Txn, path string, extra [][]byte) error {
	keys := extra

	item, err := txn.Get(reverseKey(path))

	switch {
	case errors.Is(err, badger.ErrKeyNotFound):
	case err != nil:
		return err
	default:
		var owned []string

		err = item.Value(func(val []byte) error {
			return json.Unmarshal(val, &owned)
		})
		if err != nil {
			return fmt.Errorf("decode reverse record %s: %w", path, err)
		}

		for _, k := range owned {
			keys = append(keys, []byte(k))
		}

		err = txn.Delete(reverseKey(path))
		if err != nil {
			return err
		}
	}

	for _, k := range keys {
		err := txn.Delete(k)
		if err != nil {
			return err
		}
	}

	return nil
}

// badgerLogger routes Badger's internal logging through zerolog.
type badgerLogger struct {
	logger zerolog.Logger
}

func (l badgerLogger) Errorf(format string, args ...any) {
	l.logger.Error().Msgf(trimNewline(format), args...)
}

func (l badgerLogger) Warningf(format string, args ...any) {
	l.logger.Warn().Msgf(trimNewline(format), args...)
}

func (l badgerLogger) Infof(format string, args ...any) {
	l.logger.Info().Msgf(trimNewline(format), args...)
}

func (l badgerLogger) Debugf(format string, args ...any) {
	l.logger.Debug().Msgf(trimNewline(format), args...)
}

func trimNewline(s string) string {
	if len(s) > 0 && s[len(s)-1] == '\n' {
		return s[:len(s)-1]
	}

	return s
}
