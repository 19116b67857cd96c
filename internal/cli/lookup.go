package cli

import (
	"context"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/contentdb/pkg/contentdb"
)

// LookupCmd returns the lookup command.
func LookupCmd(a *app) *Command {
	return &Command{
		Flags: flag.NewFlagSet("lookup", flag.ContinueOnError),
		Usage: "lookup <type>",
		Short: "Print a lookup map entry",
		Args:  []string{"type"},
		Exec: func(ctx context.Context, o *IO, args []string) error {
			db, err := a.database()
			if err != nil {
				return err
			}

			entry, err := db.GetLookup(ctx, args[0])
			if err != nil {
				return err
			}

			return printJSON(o, entry)
		},
	}
}

// LookupAddCmd returns the lookup-add command.
func LookupAddCmd(a *app) *Command {
	fs := flag.NewFlagSet("lookup-add", flag.ContinueOnError)
	data := fs.String("data", "", "entry as a JSON object (default: read stdin)")

	return &Command{
		Flags: fs,
		Usage: "lookup-add [--data JSON]",
		Short: "Add or replace a lookup map entry",
		Long: "Upsert an entry into the lookup map, keyed by its \"type\". Example:\n" +
			`  {"type":"Post","resolveType":"collectionDocument","collection":"posts"}`,
		Exec: func(ctx context.Context, o *IO, _ []string) error {
			var entry contentdb.LookupEntry

			err := readJSON(o, *data, &entry)
			if err != nil {
				return err
			}

			db, err := a.database()
			if err != nil {
				return err
			}

			err = db.AddToLookupMap(ctx, entry)
			if err != nil {
				return err
			}

			o.Println(entry.Type)

			return nil
		},
	}
}
