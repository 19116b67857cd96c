package badgerstore

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/dgraph-io/badger/v4"

	"github.com/calvinalkan/contentdb/pkg/store"
)

// Query walks one index of a collection and returns a page of matching paths.
//
// Forward queries start just above GT and stop at LT; reverse queries start
// just below LT and stop at GT. A Limit of zero or less returns every match.
// Page info looks past the page in both directions, ignoring the bounds.
func (s *Store) Query(ctx context.Context, opts store.QueryOptions) (store.QueryResult, error) {
	err := ctx.Err()
	if err != nil {
		return store.QueryResult{}, err
	}

	if opts.Collection == "" {
		return store.QueryResult{}, fmt.Errorf("%w: collection is required", store.ErrInvalidQuery)
	}

	name, _, err := opts.SortIndex()
	if err != nil {
		return store.QueryResult{}, fmt.Errorf("badgerstore: sort %q: %w", opts.Sort, err)
	}

	matcher, err := store.NewMatcher(opts.FilterChain)
	if err != nil {
		return store.QueryResult{}, err
	}

	var result store.QueryResult

	err = s.db.View(func(txn *badger.Txn) error {
		sc := scanner{txn: txn, prefix: indexPrefix(opts.Collection, name), matcher: matcher}

		hits, err := sc.page(opts)
		if err != nil {
			return err
		}

		info, err := sc.pageInfo(opts, hits)
		if err != nil {
			return err
		}

		result.PageInfo = info
		result.Edges = make([]store.Edge, len(hits))

		for i, h := range hits {
			result.Edges[i] = store.Edge{Path: h.path, Cursor: h.key}
		}

		return nil
	})
	if err != nil {
		return store.QueryResult{}, fmt.Errorf("badgerstore: query %s: %w", opts.Collection, err)
	}

	s.logger.Debug().
		Str("collection", opts.Collection).
		Str("sort", name).
		Int("edges", len(result.Edges)).
		Msg("query")

	return result, nil
}

type hit struct {
	key  string
	path string
}

type scanner struct {
	txn     *badger.Txn
	prefix  []byte
	matcher *store.Matcher
}

// page collects up to opts.Limit hits in ascending order.
func (sc scanner) page(opts store.QueryOptions) ([]hit, error) {
	var hits []hit

	start := opts.GT
	if opts.Reverse {
		start = opts.LT
	}

	err := sc.walk(start, opts.Reverse, false, func(h hit) bool {
		if !opts.Reverse && opts.LT != "" && h.key >= opts.LT {
			return false
		}

		if opts.Reverse && opts.GT != "" && h.key <= opts.GT {
			return false
		}

		hits = append(hits, h)

		return opts.Limit <= 0 || len(hits) < opts.Limit
	})
	if err != nil {
		return nil, err
	}

	if opts.Reverse {
		slices.Reverse(hits)
	}

	return hits, nil
}

func (sc scanner) pageInfo(opts store.QueryOptions, hits []hit) (store.PageInfo, error) {
	var (
		info store.PageInfo
		err  error
	)

	switch {
	case len(hits) > 0:
		info.StartCursor = hits[0].key
		info.EndCursor = hits[len(hits)-1].key

		info.HasPreviousPage, err = sc.exists(info.StartCursor, true, false)
		if err != nil {
			return info, err
		}

		info.HasNextPage, err = sc.exists(info.EndCursor, false, false)
		if err != nil {
			return info, err
		}
	default:
		if opts.GT != "" {
			info.HasPreviousPage, err = sc.exists(opts.GT, true, true)
			if err != nil {
				return info, err
			}
		}

		if opts.LT != "" {
			info.HasNextPage, err = sc.exists(opts.LT, false, true)
			if err != nil {
				return info, err
			}
		}
	}

	return info, nil
}

// exists reports whether a matching entry lies beyond key in the given direction.
func (sc scanner) exists(key string, reverse, inclusive bool) (bool, error) {
	found := false

	err := sc.walk(key, reverse, inclusive, func(hit) bool {
		found = true

		return false
	})

	return found, err
}

// walk visits matching entries starting at start, ascending or descending,
// until visit returns false. An empty start means the respective end of the
// index. When inclusive is false an entry equal to start is skipped.
func (sc scanner) walk(start string, reverse, inclusive bool, visit func(hit) bool) error {
	iopts := badger.DefaultIteratorOptions
	iopts.Prefix = sc.prefix
	iopts.Reverse = reverse

	it := sc.txn.NewIterator(iopts)
	defer it.Close()

	seek := append(slices.Clone(sc.prefix), start...)
	if reverse && start == "" {
		// 0xff never occurs in UTF-8, so this sorts after every key.
		seek = append(seek, 0xff)
	}

	for it.Seek(seek); it.ValidForPrefix(sc.prefix); it.Next() {
		item := it.Item()
		key := string(item.Key()[len(sc.prefix):])

		if !inclusive && start != "" && key == start {
			continue
		}

		val, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}

		h := hit{key: key, path: string(val)}

		ok, err := sc.matches(h.path)
		if err != nil {
			return err
		}

		if !ok {
			continue
		}

		if !visit(h) {
			return nil
		}
	}

	return nil
}

func (sc scanner) matches(path string) (bool, error) {
	if sc.matcher.Empty() {
		return true, nil
	}

	payload, err := getPayload(sc.txn, path)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}

	if err != nil {
		return false, err
	}

	return sc.matcher.Match(payload), nil
}
