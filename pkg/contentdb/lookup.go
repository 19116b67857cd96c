package contentdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/calvinalkan/contentdb/pkg/bridge"
	"github.com/calvinalkan/contentdb/pkg/store"
)

// ResolveType tells the resolver layer how to resolve a GraphQL type.
type ResolveType string

// Known resolve types.
const (
	ResolveNodeDocument                ResolveType = "nodeDocument"
	ResolveGlobalDocument              ResolveType = "globalDocument"
	ResolveCollectionDocument          ResolveType = "collectionDocument"
	ResolveMultiCollectionDocument     ResolveType = "multiCollectionDocument"
	ResolveMultiCollectionDocumentList ResolveType = "multiCollectionDocumentList"
	ResolveCollectionDocumentList      ResolveType = "collectionDocumentList"
	ResolveUnionData                   ResolveType = "unionData"
)

// LookupEntry is one record of the lookup map, keyed by Type.
//
// Which of the remaining fields are meaningful depends on ResolveType; see
// [LookupEntry.Validate].
type LookupEntry struct {
	Type           string            `json:"type"`
	ResolveType    ResolveType       `json:"resolveType"`
	Collection     string            `json:"collection,omitempty"`
	Collections    []string          `json:"collections,omitempty"`
	CreateDocument string            `json:"createDocument,omitempty"`
	UpdateDocument string            `json:"updateDocument,omitempty"`
	TypeMap        map[string]string `json:"typeMap,omitempty"`
}

// Validate checks that the entry carries what its resolve type needs.
func (e *LookupEntry) Validate() error {
	if e.Type == "" {
		return errors.New("lookup entry: type is required")
	}

	switch e.ResolveType {
	case ResolveNodeDocument:
		return nil
	case ResolveGlobalDocument, ResolveCollectionDocument, ResolveCollectionDocumentList:
		if e.Collection == "" {
			return fmt.Errorf("lookup entry %q: %s needs a collection", e.Type, e.ResolveType)
		}
	case ResolveMultiCollectionDocument:
		if e.CreateDocument == "" || e.UpdateDocument == "" {
			return fmt.Errorf("lookup entry %q: %s needs createDocument and updateDocument", e.Type, e.ResolveType)
		}
	case ResolveMultiCollectionDocumentList:
		if len(e.Collections) == 0 {
			return fmt.Errorf("lookup entry %q: %s needs collections", e.Type, e.ResolveType)
		}
	case ResolveUnionData:
		if len(e.TypeMap) == 0 {
			return fmt.Errorf("lookup entry %q: %s needs a typeMap", e.Type, e.ResolveType)
		}
	default:
		return fmt.Errorf("lookup entry %q: unknown resolve type %q", e.Type, e.ResolveType)
	}

	return nil
}

// AddToLookupMap upserts entry into the lookup map held by the bridge. Other
// entries are kept as they are; an existing entry of the same type is
// replaced whole. A missing or unreadable map is treated as empty.
//
// Bridges implementing [bridge.Updater] perform the read-modify-write under an
// exclusive lock. Others fall back to a plain read then write, where
// concurrent upserts can lose updates.
//
// When the store can be seeded, the merged map is seeded as well and the
// cached lookup map is dropped, so [Database.GetLookup] sees the change.
func (db *Database) AddToLookupMap(ctx context.Context, entry LookupEntry) error {
	p := db.artifactPath(artifactLookup)

	err := entry.Validate()
	if err != nil {
		return withContext(fmt.Errorf("%w: %w", ErrConfiguration, err), p, "")
	}

	var merged []byte

	merge := func(current []byte, _ bool) ([]byte, error) {
		out, err := mergeLookup(current, entry)
		if err != nil {
			return nil, err
		}

		merged = out

		return out, nil
	}

	if updater, ok := db.bridge.(bridge.Updater); ok {
		err = updater.Update(ctx, p, merge)
	} else {
		err = db.updateLookupUnlocked(ctx, p, merge)
	}

	if err != nil {
		return withContext(fmt.Errorf("lookup: %w", err), p, "")
	}

	if db.store.SupportsSeeding() {
		payload := store.Payload{}

		err = json.Unmarshal(merged, &payload)
		if err != nil {
			return withContext(fmt.Errorf("lookup: %w", err), p, "")
		}

		err = db.store.Seed(ctx, p, payload, store.PutOptions{})
		if err != nil {
			return withContext(fmt.Errorf("store: %w", err), p, "")
		}
	}

	db.dropLookup()

	db.logger.Debug().Str("type", entry.Type).Str("resolve_type", string(entry.ResolveType)).Msg("lookup upsert")

	return nil
}

func (db *Database) updateLookupUnlocked(ctx context.Context, p string, fn bridge.UpdateFunc) error {
	current, err := db.bridge.Get(ctx, p)
	exists := err == nil

	if err != nil && !errors.Is(err, bridge.ErrNotFound) {
		return err
	}

	next, err := fn(current, exists)
	if err != nil {
		return err
	}

	return db.bridge.PutConfig(ctx, p, next)
}

// mergeLookup overlays entry onto the encoded map in current. Entries are
// kept as raw JSON so ones this package does not understand survive intact.
func mergeLookup(current []byte, entry LookupEntry) ([]byte, error) {
	existing := map[string]json.RawMessage{}

	if len(current) > 0 {
		err := json.Unmarshal(current, &existing)
		if err != nil || existing == nil {
			existing = map[string]json.RawMessage{}
		}
	}

	encoded, err := json.Marshal(entry)
	if err != nil {
		return nil, err
	}

	existing[entry.Type] = encoded

	return json.Marshal(existing)
}

// GetLookup returns the lookup entry for returnType. The whole map is read
// from the store on first use and cached; a missing map is treated as empty.
//
// Returns [ErrNotFound] when the map has no entry for returnType.
func (db *Database) GetLookup(ctx context.Context, returnType string) (LookupEntry, error) {
	lookup, err := db.lookupMap(ctx)
	if err != nil {
		return LookupEntry{}, err
	}

	entry, ok := lookup[returnType]
	if !ok {
		return LookupEntry{}, withContext(
			fmt.Errorf("lookup type %q: %w", returnType, ErrNotFound), db.artifactPath(artifactLookup), "")
	}

	return entry, nil
}

func (db *Database) lookupMap(ctx context.Context) (map[string]LookupEntry, error) {
	db.mu.RLock()
	cached := db.lookup
	db.mu.RUnlock()

	if cached != nil {
		return cached, nil
	}

	v, err, _ := db.loads.Do("lookup", func() (any, error) {
		lookup := map[string]LookupEntry{}

		err := db.storeArtifact(ctx, artifactLookup, &lookup)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return nil, err
		}

		if lookup == nil {
			lookup = map[string]LookupEntry{}
		}

		db.mu.Lock()
		db.lookup = lookup
		db.mu.Unlock()

		return lookup, nil
	})
	if err != nil {
		return nil, err
	}

	return v.(map[string]LookupEntry), nil //nolint:forcetypeassert // set above
}

func (db *Database) dropLookup() {
	db.mu.Lock()
	db.lookup = nil
	db.mu.Unlock()

	db.loads.Forget("lookup")
}
