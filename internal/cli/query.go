package cli

import (
	"context"
	"encoding/json"
	"fmt"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/contentdb/pkg/contentdb"
	"github.com/calvinalkan/contentdb/pkg/store"
)

// QueryCmd returns the query command.
func QueryCmd(a *app) *Command {
	fs := flag.NewFlagSet("query", flag.ContinueOnError)
	sortBy := fs.String("sort", "", "index to order by (field or declared index name)")
	first := fs.Int("first", 0, "page forward, at most `N` documents")
	last := fs.Int("last", 0, "page backward, at most `N` documents")
	after := fs.String("after", "", "start after `cursor`")
	before := fs.String("before", "", "end before `cursor`")
	filter := fs.String("filter", "", "JSON array of filters")
	full := fs.Bool("json", false, "print full documents as JSON")

	return &Command{
		Flags: fs,
		Usage: "query <collection> [flags]",
		Short: "List a page of a collection",
		Long: "List a page of documents from a collection index, one \"<cursor> <path>\" per line,\n" +
			"followed by page info. Without --first or --last a page holds 10 documents.\n\n" +
			"Filters look like:\n" +
			`  [{"pathExpression":"rating","type":"number","operator":"gte","operand":3}]`,
		Args: []string{"collection"},
		Exec: func(ctx context.Context, o *IO, args []string) error {
			opts := contentdb.QueryOptions{
				Collection: args[0],
				Sort:       *sortBy,
				First:      *first,
				Last:       *last,
				After:      *after,
				Before:     *before,
			}

			if *filter != "" {
				err := json.Unmarshal([]byte(*filter), &opts.FilterChain)
				if err != nil {
					return fmt.Errorf("--filter: %w", err)
				}
			}

			db, err := a.database()
			if err != nil {
				return err
			}

			conn, err := db.Query(ctx, opts, nil)
			if err != nil {
				return err
			}

			if *full {
				return printJSON(o, conn)
			}

			for _, e := range conn.Edges {
				o.Println(e.Cursor, e.Node[contentdb.KeyID])
			}

			printPageInfo(o, conn.PageInfo)

			return nil
		},
	}
}

func printPageInfo(o *IO, info store.PageInfo) {
	o.Printf("# has_previous=%t has_next=%t\n", info.HasPreviousPage, info.HasNextPage)

	if info.StartCursor != "" {
		o.Println("# start=" + info.StartCursor)
		o.Println("# end=" + info.EndCursor)
	}
}
