package contentdb_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/contentdb/pkg/bridge"
	"github.com/calvinalkan/contentdb/pkg/contentdb"
	"github.com/calvinalkan/contentdb/pkg/schema"
	"github.com/calvinalkan/contentdb/pkg/store"
	"github.com/calvinalkan/contentdb/pkg/store/badgerstore"
)

const lookupPath = ".tina/__generated__/_lookup.json"

func postsSchema() schema.Raw {
	return schema.Raw{Collections: []schema.Collection{
		{
			Name:   "posts",
			Path:   "posts",
			Format: schema.FormatMarkdown,
			Fields: []schema.Field{
				{Name: "title", Type: schema.TypeString},
				{Name: "rating", Type: schema.TypeNumber},
				{Name: "body", Type: schema.TypeRichText, IsBody: true},
			},
			Indexes: []schema.IndexDecl{{
				Name:   "rating-title",
				Fields: []schema.IndexFieldRef{{Name: "rating"}, {Name: "title"}},
			}},
		},
		{
			Name:   "drafts",
			Path:   "posts-drafts",
			Format: schema.FormatMarkdown,
			Fields: []schema.Field{{Name: "title", Type: schema.TypeString}},
		},
		{
			Name:   "pages",
			Path:   "pages",
			Format: schema.FormatMarkdown,
			Templates: []schema.Template{
				{Name: "hero", Fields: []schema.Field{{Name: "headline", Type: schema.TypeString}}},
				{Name: "feature", Fields: []schema.Field{{Name: "items", Type: schema.TypeString, List: true}}},
			},
		},
		{
			Name:   "authors",
			Path:   "authors",
			Format: schema.FormatJSON,
			Fields: []schema.Field{{Name: "name", Type: schema.TypeString}},
		},
	}}
}

type fixture struct {
	db     *contentdb.Database
	bridge *bridge.Billy
	store  *badgerstore.Store
}

func open(t *testing.T, configure ...func(*contentdb.Config)) fixture {
	t.Helper()

	s, err := badgerstore.Open(badgerstore.Config{InMemory: true, Logger: zerolog.Nop()})
	require.NoError(t, err)

	t.Cleanup(func() { _ = s.Close() })

	b := bridge.NewMemory()

	cfg := contentdb.Config{Bridge: b, Store: s}
	for _, fn := range configure {
		fn(&cfg)
	}

	db, err := contentdb.New(cfg)
	require.NoError(t, err)

	return fixture{db: db, bridge: b, store: s}
}

func artifacts(raw schema.Raw) contentdb.Artifacts {
	return contentdb.Artifacts{GraphQLSchema: map[string]any{"kind": "Document"}, Schema: raw}
}

// install writes the artifacts to the bridge and reindexes.
func (f fixture) install(t *testing.T, raw schema.Raw) {
	t.Helper()

	a := artifacts(raw)

	require.NoError(t, f.db.PutConfigFiles(t.Context(), a))
	require.NoError(t, f.db.IndexContent(t.Context(), a))
}

func (f fixture) writeFile(t *testing.T, p, content string) {
	t.Helper()

	require.NoError(t, f.bridge.Put(t.Context(), p, []byte(content)))
}

func (f fixture) readFile(t *testing.T, p string) string {
	t.Helper()

	data, err := f.bridge.Get(t.Context(), p)
	require.NoError(t, err)

	return string(data)
}

func nodePaths(conn contentdb.Connection) []string {
	out := make([]string, len(conn.Edges))
	for i, e := range conn.Edges {
		out[i], _ = e.Node["_id"].(string)
	}

	return out
}

func Test_New_Returns_Error_When_Bridge_Or_Store_Missing(t *testing.T) {
	t.Parallel()

	_, err := contentdb.New(contentdb.Config{Store: nil, Bridge: bridge.NewMemory()})
	require.Error(t, err)

	_, err = contentdb.New(contentdb.Config{})
	require.Error(t, err)
}

func Test_Put_Then_Get_Returns_Document_With_Metadata_When_Markdown_With_Body(t *testing.T) {
	t.Parallel()

	f := open(t)
	f.install(t, postsSchema())
	ctx := t.Context()

	err := f.db.Put(ctx, "posts/hello.md", contentdb.Document{"title": "Hi", "body": "World"})
	require.NoError(t, err)

	got, err := f.db.Get(ctx, "posts/hello.md")
	require.NoError(t, err)

	want := contentdb.Document{
		"title":            "Hi",
		"body":             "World",
		"_collection":      "posts",
		"_template":        "posts",
		"_relativePath":    "hello.md",
		"_keepTemplateKey": false,
		"_id":              "posts/hello.md",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("document mismatch (-want +got):\n%s", diff)
	}

	require.Equal(t, "---\ntitle: Hi\n---\nWorld", f.readFile(t, "posts/hello.md"))
	require.True(t, f.db.DocumentExists(ctx, "posts/hello.md"))
}

func Test_Get_Returns_ErrNotFound_When_Document_Deleted(t *testing.T) {
	t.Parallel()

	f := open(t)
	f.install(t, postsSchema())
	ctx := t.Context()

	require.NoError(t, f.db.Put(ctx, "posts/hello.md", contentdb.Document{"title": "Hi", "body": "World"}))
	require.NoError(t, f.db.Delete(ctx, "posts/hello.md"))

	_, err := f.db.Get(ctx, "posts/hello.md")
	require.ErrorIs(t, err, contentdb.ErrNotFound)

	var dbErr *contentdb.Error
	require.ErrorAs(t, err, &dbErr)
	require.Equal(t, "posts/hello.md", dbErr.Path)

	_, err = f.bridge.Get(ctx, "posts/hello.md")
	require.ErrorIs(t, err, bridge.ErrNotFound)

	require.False(t, f.db.DocumentExists(ctx, "posts/hello.md"))
}

func Test_Delete_Removes_Index_Entries_So_Queries_No_Longer_See_Document(t *testing.T) {
	t.Parallel()

	f := open(t)
	f.install(t, postsSchema())
	ctx := t.Context()

	require.NoError(t, f.db.Put(ctx, "posts/a.md", contentdb.Document{"title": "A", "rating": 1}))
	require.NoError(t, f.db.Put(ctx, "posts/b.md", contentdb.Document{"title": "B", "rating": 2}))
	require.NoError(t, f.db.Delete(ctx, "posts/a.md"))

	for _, sort := range []string{"", "title", "rating", "rating-title"} {
		conn, err := f.db.Query(ctx, contentdb.QueryOptions{Collection: "posts", Sort: sort}, nil)
		require.NoError(t, err, sort)
		require.Equal(t, []string{"posts/b.md"}, nodePaths(conn), sort)
	}
}

func Test_Put_Resolves_Collection_Segment_Aware_When_Prefixes_Share_Leading_Text(t *testing.T) {
	t.Parallel()

	f := open(t)
	f.install(t, postsSchema())
	ctx := t.Context()

	require.NoError(t, f.db.Put(ctx, "posts-drafts/x.md", contentdb.Document{"title": "Draft"}))
	require.NoError(t, f.db.Put(ctx, "posts/x.md", contentdb.Document{"title": "Post"}))

	draft, err := f.db.Get(ctx, "posts-drafts/x.md")
	require.NoError(t, err)
	require.Equal(t, "drafts", draft["_collection"])

	post, err := f.db.Get(ctx, "posts/x.md")
	require.NoError(t, err)
	require.Equal(t, "posts", post["_collection"])

	conn, err := f.db.Query(ctx, contentdb.QueryOptions{Collection: "posts"}, nil)
	require.NoError(t, err)
	require.Equal(t, []string{"posts/x.md"}, nodePaths(conn))
}

func Test_Put_Returns_ErrConfiguration_When_Path_Is_Reserved_Or_Unowned(t *testing.T) {
	t.Parallel()

	f := open(t)
	f.install(t, postsSchema())
	ctx := t.Context()

	for _, p := range []string{"_lookup", "_schema", ".tina/__generated__/_graphql.json", "elsewhere/x.md"} {
		err := f.db.Put(ctx, p, contentdb.Document{"title": "x"})
		require.ErrorIs(t, err, contentdb.ErrConfiguration, p)
	}

	_, err := f.db.Get(ctx, ".tina/__generated__/_schema.json")
	require.ErrorIs(t, err, contentdb.ErrConfiguration)

	err = f.db.Delete(ctx, "_lookup")
	require.ErrorIs(t, err, contentdb.ErrConfiguration)
}

func Test_Put_Returns_ErrConfiguration_When_Extension_Does_Not_Match_Collection_Format(t *testing.T) {
	t.Parallel()

	f := open(t)
	f.install(t, postsSchema())
	ctx := t.Context()

	for _, p := range []string{"posts/a.mdx", "posts/a.json", "authors/ann.md"} {
		err := f.db.Put(ctx, p, contentdb.Document{"title": "A", "name": "Ann"})
		require.ErrorIs(t, err, contentdb.ErrConfiguration, p)

		_, err = f.bridge.Get(ctx, p)
		require.ErrorIs(t, err, bridge.ErrNotFound, "nothing written for %s", p)
		require.False(t, f.db.DocumentExists(ctx, p), p)
	}

	require.NoError(t, f.db.Put(ctx, "posts/a.md", contentdb.Document{"title": "A"}))
	require.NoError(t, f.db.IndexContent(ctx, artifacts(postsSchema())))
	require.True(t, f.db.DocumentExists(ctx, "posts/a.md"), "accepted write survives a reindex")
}

func Test_Get_Returns_Same_Document_Before_And_After_Reindex_When_Put_Without_Body(t *testing.T) {
	t.Parallel()

	f := open(t)
	f.install(t, postsSchema())
	ctx := t.Context()

	require.NoError(t, f.db.Put(ctx, "posts/nobody.md", contentdb.Document{"title": "Quiet"}))

	before, err := f.db.Get(ctx, "posts/nobody.md")
	require.NoError(t, err)
	require.Equal(t, "", before["body"])

	require.NoError(t, f.db.IndexContent(ctx, artifacts(postsSchema())))

	after, err := f.db.Get(ctx, "posts/nobody.md")
	require.NoError(t, err)

	if diff := cmp.Diff(before, after); diff != "" {
		t.Fatalf("document changed by reindex (-before +after):\n%s", diff)
	}
}

func Test_Put_Returns_ErrAmbiguousTemplate_When_Union_Write_Lacks_Template(t *testing.T) {
	t.Parallel()

	f := open(t)
	f.install(t, postsSchema())
	ctx := t.Context()

	err := f.db.Put(ctx, "pages/home.md", contentdb.Document{"headline": "Welcome"})
	require.ErrorIs(t, err, contentdb.ErrAmbiguousTemplate)

	err = f.db.Put(ctx, "pages/home.md", contentdb.Document{"_template": "nope", "headline": "Welcome"})
	require.ErrorIs(t, err, contentdb.ErrAmbiguousTemplate)

	_, err = f.bridge.Get(ctx, "pages/home.md")
	require.ErrorIs(t, err, bridge.ErrNotFound, "nothing is written on failure")
}

func Test_Put_Keeps_Template_Key_When_Collection_Is_Union(t *testing.T) {
	t.Parallel()

	f := open(t)
	f.install(t, postsSchema())
	ctx := t.Context()

	require.NoError(t, f.db.Put(ctx, "pages/home.md", contentdb.Document{"_template": "hero", "headline": "Welcome"}))

	require.Equal(t, "---\n_template: hero\nheadline: Welcome\n---\n", f.readFile(t, "pages/home.md"))

	got, err := f.db.Get(ctx, "pages/home.md")
	require.NoError(t, err)
	require.Equal(t, "hero", got["_template"])
	require.Equal(t, true, got["_keepTemplateKey"])
	require.Equal(t, "Welcome", got["headline"])
}

func Test_Put_Writes_Json_Document_When_Collection_Format_Is_Json(t *testing.T) {
	t.Parallel()

	f := open(t)
	f.install(t, postsSchema())
	ctx := t.Context()

	require.NoError(t, f.db.Put(ctx, "authors/ann.json", contentdb.Document{"name": "Ann", "_id": "ignored"}))

	var onDisk map[string]any
	require.NoError(t, json.Unmarshal([]byte(f.readFile(t, "authors/ann.json")), &onDisk))
	require.Equal(t, map[string]any{"name": "Ann"}, onDisk)

	got, err := f.db.Get(ctx, "authors/ann.json")
	require.NoError(t, err)
	require.Equal(t, "Ann", got["name"])
	require.Equal(t, "ann.json", got["_relativePath"])
}

func Test_Flush_Returns_Canonical_File_When_Document_Indexed(t *testing.T) {
	t.Parallel()

	f := open(t)
	f.install(t, postsSchema())
	ctx := t.Context()

	require.NoError(t, f.db.Put(ctx, "posts/hello.md", contentdb.Document{"title": "Hi", "body": "World"}))

	got, err := f.db.Flush(ctx, "posts/hello.md")
	require.NoError(t, err)
	require.Equal(t, f.readFile(t, "posts/hello.md"), got)
}

func Test_IndexDefinitions_Enforces_Cap_When_Collection_Has_Too_Many_Fields(t *testing.T) {
	t.Parallel()

	withFields := func(n int) schema.Raw {
		fields := make([]schema.Field, n)
		for i := range fields {
			fields[i] = schema.Field{Name: fmt.Sprintf("f%02d", i), Type: schema.TypeString}
		}

		return schema.Raw{Collections: []schema.Collection{{Name: "wide", Path: "wide", Fields: fields}}}
	}

	ok := open(t)
	ok.install(t, withFields(20))

	defs, err := ok.db.IndexDefinitions(t.Context())
	require.NoError(t, err)
	require.Len(t, defs["wide"], 21, "twenty field indexes plus the path index")

	tooMany := open(t)
	err = tooMany.db.IndexContent(t.Context(), artifacts(withFields(21)))
	require.ErrorIs(t, err, contentdb.ErrConfiguration)
	require.Contains(t, err.Error(), "indexed: false")
}

func Test_IndexDefinitions_Skips_Objects_And_Opt_Outs_And_Pads_Numbers(t *testing.T) {
	t.Parallel()

	off := false
	raw := schema.Raw{Collections: []schema.Collection{{
		Name: "posts",
		Path: "posts",
		Fields: []schema.Field{
			{Name: "title", Type: schema.TypeString},
			{Name: "secret", Type: schema.TypeString, Indexed: &off},
			{Name: "meta", Type: schema.TypeObject},
			{Name: "rating", Type: schema.TypeNumber},
		},
	}}}

	f := open(t, func(c *contentdb.Config) { c.NumericPad = store.Pad{FillString: " ", MaxLength: 6} })
	f.install(t, raw)

	defs, err := f.db.IndexDefinitions(t.Context())
	require.NoError(t, err)

	want := store.IndexDefinitions{
		store.DefaultSortKey: {},
		"title":              {Fields: []store.IndexField{{Name: "title", Type: schema.TypeString}}},
		"rating": {Fields: []store.IndexField{{
			Name: "rating",
			Type: schema.TypeNumber,
			Pad:  &store.Pad{FillString: " ", MaxLength: 6},
		}}},
	}
	if diff := cmp.Diff(want, defs["posts"]); diff != "" {
		t.Fatalf("index definitions mismatch (-want +got):\n%s", diff)
	}
}

func Test_IndexContent_Returns_Error_When_Compound_Index_Names_Unknown_Field(t *testing.T) {
	t.Parallel()

	raw := schema.Raw{Collections: []schema.Collection{{
		Name:    "posts",
		Path:    "posts",
		Fields:  []schema.Field{{Name: "title", Type: schema.TypeString}},
		Indexes: []schema.IndexDecl{{Name: "bad", Fields: []schema.IndexFieldRef{{Name: "missing"}}}},
	}}}

	f := open(t)

	err := f.db.IndexContent(t.Context(), artifacts(raw))
	require.ErrorIs(t, err, contentdb.ErrConfiguration)
}

func Test_Query_Returns_Default_Page_Size_When_First_And_Last_Unset(t *testing.T) {
	t.Parallel()

	f := open(t)
	f.install(t, postsSchema())
	ctx := t.Context()

	for i := range 12 {
		require.NoError(t, f.db.Put(ctx, fmt.Sprintf("posts/%02d.md", i), contentdb.Document{"title": fmt.Sprint(i)}))
	}

	conn, err := f.db.Query(ctx, contentdb.QueryOptions{Collection: "posts"}, nil)
	require.NoError(t, err)
	require.Len(t, conn.Edges, contentdb.DefaultPageSize)
	require.True(t, conn.PageInfo.HasNextPage)
	require.False(t, conn.PageInfo.HasPreviousPage)
}

func Test_Query_Returns_Only_Later_Edges_When_After_Cursor_Given(t *testing.T) {
	t.Parallel()

	f := open(t)
	f.install(t, postsSchema())
	ctx := t.Context()

	for i := range 5 {
		require.NoError(t, f.db.Put(ctx, fmt.Sprintf("posts/%d.md", i), contentdb.Document{"title": fmt.Sprint(i)}))
	}

	first, err := f.db.Query(ctx, contentdb.QueryOptions{Collection: "posts", First: 2}, nil)
	require.NoError(t, err)
	require.Equal(t, []string{"posts/0.md", "posts/1.md"}, nodePaths(first))
	require.Equal(t, first.Edges[1].Cursor, first.PageInfo.EndCursor)

	raw, err := store.DecodeCursor(first.PageInfo.EndCursor)
	require.NoError(t, err)
	require.Equal(t, "posts/1.md", raw)

	next, err := f.db.Query(ctx, contentdb.QueryOptions{Collection: "posts", First: 2, After: first.PageInfo.EndCursor}, nil)
	require.NoError(t, err)
	require.Equal(t, []string{"posts/2.md", "posts/3.md"}, nodePaths(next))
	require.True(t, next.PageInfo.HasPreviousPage)
	require.True(t, next.PageInfo.HasNextPage)

	back, err := f.db.Query(ctx, contentdb.QueryOptions{Collection: "posts", Last: 1, Before: next.PageInfo.StartCursor}, nil)
	require.NoError(t, err)
	require.Equal(t, []string{"posts/1.md"}, nodePaths(back))
}

func Test_Query_Sorts_Numerically_And_Filters_When_Sort_And_Filter_Given(t *testing.T) {
	t.Parallel()

	f := open(t)
	f.install(t, postsSchema())
	ctx := t.Context()

	for i, rating := range []int{10, 2, 33, 2} {
		doc := contentdb.Document{"title": fmt.Sprintf("t%d", i), "rating": rating}
		require.NoError(t, f.db.Put(ctx, fmt.Sprintf("posts/%d.md", i), doc))
	}

	conn, err := f.db.Query(ctx, contentdb.QueryOptions{Collection: "posts", Sort: "rating"}, nil)
	require.NoError(t, err)
	require.Equal(t, []string{"posts/1.md", "posts/3.md", "posts/0.md", "posts/2.md"}, nodePaths(conn))

	conn, err = f.db.Query(ctx, contentdb.QueryOptions{
		Collection: "posts",
		Sort:       "rating-title",
		FilterChain: []store.Filter{{
			PathExpression: "rating",
			Type:           schema.TypeNumber,
			LeftOperator:   store.OpGt,
			LeftOperand:    2,
			RightOperator:  store.OpLte,
			RightOperand:   33,
		}},
	}, nil)
	require.NoError(t, err)
	require.Equal(t, []string{"posts/0.md", "posts/2.md"}, nodePaths(conn))
}

func Test_Query_Uses_Hydrate_Func_When_Given(t *testing.T) {
	t.Parallel()

	f := open(t)
	f.install(t, postsSchema())
	ctx := t.Context()

	require.NoError(t, f.db.Put(ctx, "posts/a.md", contentdb.Document{"title": "A"}))

	var seen []string

	conn, err := f.db.Query(ctx, contentdb.QueryOptions{Collection: "posts"}, func(_ context.Context, p string) (contentdb.Document, error) {
		seen = append(seen, p)

		return contentdb.Document{"_id": p, "stub": true}, nil
	})
	require.NoError(t, err)
	require.Equal(t, []string{"posts/a.md"}, seen)
	require.Equal(t, true, conn.Edges[0].Node["stub"])
}

func Test_Query_Returns_Error_When_Options_Invalid(t *testing.T) {
	t.Parallel()

	f := open(t)
	f.install(t, postsSchema())
	ctx := t.Context()

	_, err := f.db.Query(ctx, contentdb.QueryOptions{Collection: "posts", First: 1, Last: 1}, nil)
	require.ErrorIs(t, err, contentdb.ErrInvalidQuery)

	_, err = f.db.Query(ctx, contentdb.QueryOptions{Collection: "posts", First: -1}, nil)
	require.ErrorIs(t, err, contentdb.ErrInvalidQuery)

	_, err = f.db.Query(ctx, contentdb.QueryOptions{Collection: "posts", After: "%%%"}, nil)
	require.ErrorIs(t, err, store.ErrInvalidCursor)

	_, err = f.db.Query(ctx, contentdb.QueryOptions{Collection: "nope"}, nil)
	require.ErrorIs(t, err, contentdb.ErrNotFound)

	_, err = f.db.Query(ctx, contentdb.QueryOptions{Collection: "posts", Sort: "nope"}, nil)
	require.ErrorIs(t, err, store.ErrUnknownIndex)
}

func Test_IndexContent_Is_Idempotent_When_Bridge_Unchanged(t *testing.T) {
	t.Parallel()

	f := open(t)
	f.writeFile(t, "posts/a.md", "---\ntitle: A\nrating: 3\n---\nAlpha")
	f.writeFile(t, "posts/b.md", "---\ntitle: B\nrating: 1\n---\nBeta")
	f.writeFile(t, "posts/notes.txt", "ignored: wrong extension")
	f.writeFile(t, "authors/ann.json", `{"name":"Ann"}`)
	f.install(t, postsSchema())
	ctx := t.Context()

	snapshot := func() []contentdb.Connection {
		var out []contentdb.Connection

		for _, q := range []contentdb.QueryOptions{
			{Collection: "posts"},
			{Collection: "posts", Sort: "rating"},
			{Collection: "authors"},
		} {
			conn, err := f.db.Query(ctx, q, nil)
			require.NoError(t, err)

			out = append(out, conn)
		}

		return out
	}

	before := snapshot()
	require.Equal(t, []string{"posts/b.md", "posts/a.md"}, nodePaths(before[1]))

	require.NoError(t, f.db.IndexContent(ctx, artifacts(postsSchema())))

	if diff := cmp.Diff(before, snapshot()); diff != "" {
		t.Fatalf("reindex changed query results (-before +after):\n%s", diff)
	}

	got, err := f.db.Get(ctx, "posts/a.md")
	require.NoError(t, err)
	require.Equal(t, "Alpha", got["body"])
}

func Test_IndexContent_Replaces_Stale_Store_Content(t *testing.T) {
	t.Parallel()

	f := open(t)
	f.install(t, postsSchema())
	ctx := t.Context()

	require.NoError(t, f.db.Put(ctx, "posts/a.md", contentdb.Document{"title": "A"}))
	require.NoError(t, f.bridge.Delete(ctx, "posts/a.md"))

	require.NoError(t, f.db.IndexContent(ctx, artifacts(postsSchema())))

	_, err := f.db.Get(ctx, "posts/a.md")
	require.ErrorIs(t, err, contentdb.ErrNotFound)
}

func Test_IndexContent_Picks_Up_New_Schema_When_Reindexed(t *testing.T) {
	t.Parallel()

	f := open(t)
	f.install(t, postsSchema())
	ctx := t.Context()

	_, err := f.db.Query(ctx, contentdb.QueryOptions{Collection: "notes"}, nil)
	require.ErrorIs(t, err, contentdb.ErrNotFound)

	raw := postsSchema()
	raw.Collections = append(raw.Collections, schema.Collection{Name: "notes", Path: "notes"})

	f.writeFile(t, "notes/n.md", "---\n---\nNote")
	require.NoError(t, f.db.IndexContent(ctx, artifacts(raw)))

	conn, err := f.db.Query(ctx, contentdb.QueryOptions{Collection: "notes"}, nil)
	require.NoError(t, err)
	require.Equal(t, []string{"notes/n.md"}, nodePaths(conn))
}

func Test_IndexContent_Fails_Fast_With_Path_When_Document_Unparsable(t *testing.T) {
	t.Parallel()

	f := open(t)
	f.writeFile(t, "posts/bad.md", "---\ntitle: never closed\n")
	f.writeFile(t, "posts/good.md", "---\ntitle: Good\n---\n")

	err := f.db.IndexContent(t.Context(), artifacts(postsSchema()))
	require.Error(t, err)

	var dbErr *contentdb.Error
	require.ErrorAs(t, err, &dbErr)
	require.Equal(t, "posts/bad.md", dbErr.Path)
	require.Equal(t, "posts", dbErr.Collection)
}

func Test_IndexContent_Collects_Issues_When_ContinueOnError(t *testing.T) {
	t.Parallel()

	f := open(t, func(c *contentdb.Config) { c.ContinueOnError = true })
	f.writeFile(t, "posts/bad.md", "---\ntitle: never closed\n")
	f.writeFile(t, "posts/good.md", "---\ntitle: Good\n---\n")
	ctx := t.Context()

	err := f.db.IndexContent(ctx, artifacts(postsSchema()))

	var scanErr *contentdb.IndexScanError
	require.ErrorAs(t, err, &scanErr)
	require.Len(t, scanErr.Issues, 1)
	require.Equal(t, "posts/bad.md", scanErr.Issues[0].Path)

	got, err := f.db.Get(ctx, "posts/good.md")
	require.NoError(t, err)
	require.Equal(t, "Good", got["title"])
}

type capabilityStore struct {
	store.Store

	seeding  bool
	indexing bool
}

func (s capabilityStore) SupportsSeeding() bool  { return s.seeding }
func (s capabilityStore) SupportsIndexing() bool { return s.indexing }

func Test_IndexContent_Respects_Store_Capabilities(t *testing.T) {
	t.Parallel()

	base := open(t)

	needsIndex, err := contentdb.New(contentdb.Config{
		Bridge: base.bridge,
		Store:  capabilityStore{Store: base.store, indexing: true},
	})
	require.NoError(t, err)

	err = needsIndex.IndexContent(t.Context(), artifacts(postsSchema()))
	require.ErrorIs(t, err, contentdb.ErrConfiguration)

	passive, err := contentdb.New(contentdb.Config{
		Bridge: base.bridge,
		Store:  capabilityStore{Store: base.store},
	})
	require.NoError(t, err)
	require.NoError(t, passive.IndexContent(t.Context(), artifacts(postsSchema())))

	_, err = base.store.Get(t.Context(), ".tina/__generated__/_schema.json")
	require.ErrorIs(t, err, store.ErrNotFound, "nothing seeded")
}

type readOnlyBridge struct {
	bridge.Bridge
}

func (readOnlyBridge) SupportsBuilding() bool { return false }

func Test_Put_Skips_Bridge_When_Bridge_Does_Not_Support_Building(t *testing.T) {
	t.Parallel()

	base := open(t)
	base.install(t, postsSchema())
	ctx := t.Context()

	db, err := contentdb.New(contentdb.Config{Bridge: readOnlyBridge{base.bridge}, Store: base.store})
	require.NoError(t, err)

	require.NoError(t, db.Put(ctx, "posts/a.md", contentdb.Document{"title": "A"}))

	_, err = base.bridge.Get(ctx, "posts/a.md")
	require.ErrorIs(t, err, bridge.ErrNotFound)

	got, err := db.Get(ctx, "posts/a.md")
	require.NoError(t, err)
	require.Equal(t, "A", got["title"])
}

type failingBridge struct {
	bridge.Bridge
	err error
}

func (b failingBridge) Put(context.Context, string, []byte) error { return b.err }

func Test_Put_Keeps_Wrap_Prefix_When_Bridge_Error_Already_Carries_Context(t *testing.T) {
	t.Parallel()

	base := open(t)
	base.install(t, postsSchema())

	cause := &contentdb.Error{Path: "posts/a.md", Err: errors.New("disk full")}

	db, err := contentdb.New(contentdb.Config{Bridge: failingBridge{Bridge: base.bridge, err: cause}, Store: base.store})
	require.NoError(t, err)

	err = db.Put(t.Context(), "posts/a.md", contentdb.Document{"title": "A"})
	require.Error(t, err)
	require.Equal(t, "bridge: disk full (doc_path=posts/a.md collection=posts)", err.Error())

	var dbErr *contentdb.Error
	require.ErrorAs(t, err, &dbErr)
	require.Equal(t, "posts/a.md", dbErr.Path)
	require.Equal(t, "posts", dbErr.Collection)
	require.Empty(t, cause.Collection, "inner error left untouched")
}

func Test_IndexContentByPaths_Indexes_Owned_And_Unowned_Paths(t *testing.T) {
	t.Parallel()

	f := open(t)
	f.install(t, postsSchema())
	ctx := t.Context()

	f.writeFile(t, "posts/new.md", "---\ntitle: New\n---\nFresh")
	f.writeFile(t, "misc/loose.json", `{"k":"v"}`)
	f.writeFile(t, "authors/bob.json", `{"name":"Bob"}`)

	err := f.db.IndexContentByPaths(ctx, []string{"misc/loose.json", "posts/new.md", "authors/bob.json"})
	require.NoError(t, err)

	got, err := f.db.Get(ctx, "posts/new.md")
	require.NoError(t, err)
	require.Equal(t, "Fresh", got["body"])

	loose, err := f.store.Get(ctx, "misc/loose.json")
	require.NoError(t, err)
	require.Equal(t, store.Payload{"k": "v"}, loose)

	conn, err := f.db.Query(ctx, contentdb.QueryOptions{Collection: "authors", Sort: "name"}, nil)
	require.NoError(t, err)
	require.Equal(t, []string{"authors/bob.json"}, nodePaths(conn))
}

func Test_IndexContentByPaths_Returns_ErrNotFound_When_File_Missing(t *testing.T) {
	t.Parallel()

	f := open(t)
	f.install(t, postsSchema())

	err := f.db.IndexContentByPaths(t.Context(), []string{"posts/ghost.md"})
	require.ErrorIs(t, err, contentdb.ErrNotFound)
}

func Test_DeleteContentByPaths_Removes_From_Store_Only(t *testing.T) {
	t.Parallel()

	f := open(t)
	f.install(t, postsSchema())
	ctx := t.Context()

	require.NoError(t, f.db.Put(ctx, "posts/a.md", contentdb.Document{"title": "A"}))
	require.NoError(t, f.db.Put(ctx, "posts/b.md", contentdb.Document{"title": "B"}))

	require.NoError(t, f.db.DeleteContentByPaths(ctx, []string{"posts/a.md", "misc/none.json"}))

	conn, err := f.db.Query(ctx, contentdb.QueryOptions{Collection: "posts", Sort: "title"}, nil)
	require.NoError(t, err)
	require.Equal(t, []string{"posts/b.md"}, nodePaths(conn))

	require.Equal(t, "---\ntitle: A\n---\n", f.readFile(t, "posts/a.md"))
}

func Test_AddToLookupMap_Upserts_Entries_By_Type(t *testing.T) {
	t.Parallel()

	f := open(t)
	f.install(t, postsSchema())
	ctx := t.Context()

	f.writeFile(t, lookupPath, `{"Legacy":{"type":"Legacy","resolveType":"nodeDocument","extra":1}}`)

	post := contentdb.LookupEntry{Type: "Post", ResolveType: contentdb.ResolveCollectionDocument, Collection: "posts"}
	author := contentdb.LookupEntry{Type: "Author", ResolveType: contentdb.ResolveCollectionDocument, Collection: "authors"}

	require.NoError(t, f.db.AddToLookupMap(ctx, post))
	require.NoError(t, f.db.AddToLookupMap(ctx, author))

	got, err := f.db.GetLookup(ctx, "Post")
	require.NoError(t, err)
	require.Equal(t, post, got)

	post.Collection = "articles"
	require.NoError(t, f.db.AddToLookupMap(ctx, post))

	got, err = f.db.GetLookup(ctx, "Post")
	require.NoError(t, err)
	require.Equal(t, "articles", got.Collection)

	got, err = f.db.GetLookup(ctx, "Author")
	require.NoError(t, err)
	require.Equal(t, author, got)

	var onDisk map[string]map[string]any
	require.NoError(t, json.Unmarshal([]byte(f.readFile(t, lookupPath)), &onDisk))
	require.Len(t, onDisk, 3)
	require.InDelta(t, 1.0, onDisk["Legacy"]["extra"], 0)

	_, err = f.db.GetLookup(ctx, "Missing")
	require.ErrorIs(t, err, contentdb.ErrNotFound)
}

func Test_AddToLookupMap_Starts_Empty_When_Map_Malformed(t *testing.T) {
	t.Parallel()

	f := open(t)
	f.install(t, postsSchema())
	ctx := t.Context()

	f.writeFile(t, lookupPath, "not json")

	entry := contentdb.LookupEntry{Type: "Node", ResolveType: contentdb.ResolveNodeDocument}
	require.NoError(t, f.db.AddToLookupMap(ctx, entry))

	var onDisk map[string]any
	require.NoError(t, json.Unmarshal([]byte(f.readFile(t, lookupPath)), &onDisk))
	require.Len(t, onDisk, 1)
}

func Test_LookupEntry_Validate_Rejects_Missing_Variant_Fields(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		entry contentdb.LookupEntry
		ok    bool
	}{
		{"node", contentdb.LookupEntry{Type: "Node", ResolveType: contentdb.ResolveNodeDocument}, true},
		{"missing type", contentdb.LookupEntry{ResolveType: contentdb.ResolveNodeDocument}, false},
		{"global without collection", contentdb.LookupEntry{Type: "G", ResolveType: contentdb.ResolveGlobalDocument}, false},
		{"list", contentdb.LookupEntry{Type: "L", ResolveType: contentdb.ResolveCollectionDocumentList, Collection: "posts"}, true},
		{"multi without verbs", contentdb.LookupEntry{Type: "M", ResolveType: contentdb.ResolveMultiCollectionDocument}, false},
		{"multi", contentdb.LookupEntry{
			Type: "M", ResolveType: contentdb.ResolveMultiCollectionDocument,
			CreateDocument: "create", UpdateDocument: "update",
		}, true},
		{"multi list", contentdb.LookupEntry{
			Type: "ML", ResolveType: contentdb.ResolveMultiCollectionDocumentList, Collections: []string{"a", "b"},
		}, true},
		{"union without map", contentdb.LookupEntry{Type: "U", ResolveType: contentdb.ResolveUnionData}, false},
		{"unknown", contentdb.LookupEntry{Type: "X", ResolveType: "bogus"}, false},
	}

	for _, tc := range cases {
		err := tc.entry.Validate()
		if tc.ok {
			require.NoError(t, err, tc.name)
		} else {
			require.Error(t, err, tc.name)
		}
	}
}

func Test_GraphQLSchema_Reads_From_Store_And_Bridge(t *testing.T) {
	t.Parallel()

	f := open(t)
	f.install(t, postsSchema())
	ctx := t.Context()

	fromStore, err := f.db.GraphQLSchema(ctx)
	require.NoError(t, err)
	require.Equal(t, map[string]any{"kind": "Document"}, fromStore)

	fromBridge, err := f.db.GraphQLSchemaFromBridge(ctx)
	require.NoError(t, err)
	require.Equal(t, fromStore, fromBridge)

	loaded, err := f.db.LoadArtifacts(ctx)
	require.NoError(t, err)
	require.Len(t, loaded.Schema.Collections, len(postsSchema().Collections))
}

func Test_Schema_Returns_ErrNotFound_When_Never_Indexed(t *testing.T) {
	t.Parallel()

	f := open(t)

	_, err := f.db.Schema(t.Context())
	require.ErrorIs(t, err, contentdb.ErrNotFound)

	_, err = f.db.Get(t.Context(), "posts/a.md")
	require.ErrorIs(t, err, contentdb.ErrNotFound)
}

func Test_AddPendingDocument_Writes_Like_Put_When_Document_New(t *testing.T) {
	t.Parallel()

	f := open(t)
	f.install(t, postsSchema())
	ctx := t.Context()

	require.NoError(t, f.db.AddPendingDocument(ctx, "authors/ada.json", contentdb.Document{"name": "Ada"}))

	got, err := f.db.Get(ctx, "authors/ada.json")
	require.NoError(t, err)
	require.Equal(t, "Ada", got["name"])

	err = f.db.AddPendingDocument(ctx, "_schema", contentdb.Document{})
	require.ErrorIs(t, err, contentdb.ErrConfiguration)
}

func Test_RawSchema_Reflects_New_Schema_When_Reindexed_After_InvalidateCaches(t *testing.T) {
	t.Parallel()

	f := open(t)
	f.install(t, postsSchema())
	ctx := t.Context()

	raw, err := f.db.RawSchema(ctx)
	require.NoError(t, err)
	require.Len(t, raw.Collections, 4)

	_, err = f.db.Schema(ctx)
	require.NoError(t, err)

	smaller := postsSchema()
	smaller.Collections = smaller.Collections[:1]

	require.NoError(t, f.store.Seed(ctx, ".tina/__generated__/_schema.json",
		store.Payload{"collections": []any{map[string]any{"name": "posts", "path": "posts", "format": "md"}}},
		store.PutOptions{}))

	sch, err := f.db.Schema(ctx)
	require.NoError(t, err)
	require.Len(t, sch.Collections(), 4, "schema stays cached until invalidated")

	f.db.InvalidateCaches()

	sch, err = f.db.Schema(ctx)
	require.NoError(t, err)
	require.Len(t, sch.Collections(), len(smaller.Collections))
}
