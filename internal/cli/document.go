package cli

import (
	"context"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/contentdb/pkg/contentdb"
)

// GetCmd returns the get command.
func GetCmd(a *app) *Command {
	return &Command{
		Flags: flag.NewFlagSet("get", flag.ContinueOnError),
		Usage: "get <path>",
		Short: "Print a document as JSON",
		Long:  "Print the indexed document at <path>, with its collection, template and id.",
		Args:  []string{"path"},
		Exec: func(ctx context.Context, o *IO, args []string) error {
			db, err := a.database()
			if err != nil {
				return err
			}

			doc, err := db.Get(ctx, args[0])
			if err != nil {
				return err
			}

			return printJSON(o, doc)
		},
	}
}

// PutCmd returns the put command.
func PutCmd(a *app) *Command {
	fs := flag.NewFlagSet("put", flag.ContinueOnError)
	data := fs.String("data", "", "document as a JSON object (default: read stdin)")

	return &Command{
		Flags: fs,
		Usage: "put <path> [--data JSON]",
		Short: "Write a document",
		Long: "Write the document at <path> to the content dir and the index.\n" +
			"Documents in union collections must set \"_template\".",
		Args: []string{"path"},
		Exec: func(ctx context.Context, o *IO, args []string) error {
			var doc contentdb.Document

			err := readJSON(o, *data, &doc)
			if err != nil {
				return err
			}

			db, err := a.database()
			if err != nil {
				return err
			}

			err = db.Put(ctx, args[0], doc)
			if err != nil {
				return err
			}

			o.Println(args[0])

			return nil
		},
	}
}

// RmCmd returns the rm command.
func RmCmd(a *app) *Command {
	return &Command{
		Flags: flag.NewFlagSet("rm", flag.ContinueOnError),
		Usage: "rm <path>",
		Short: "Delete a document",
		Long:  "Delete the document at <path> from the index and the content dir.",
		Args:  []string{"path"},
		Exec: func(ctx context.Context, o *IO, args []string) error {
			db, err := a.database()
			if err != nil {
				return err
			}

			err = db.Delete(ctx, args[0])
			if err != nil {
				return err
			}

			o.Println(args[0])

			return nil
		},
	}
}

// FlushCmd returns the flush command.
func FlushCmd(a *app) *Command {
	return &Command{
		Flags: flag.NewFlagSet("flush", flag.ContinueOnError),
		Usage: "flush <path>",
		Short: "Print the canonical file for a document",
		Long:  "Round-trip the indexed document at <path> and print the file it would be written as.",
		Args:  []string{"path"},
		Exec: func(ctx context.Context, o *IO, args []string) error {
			db, err := a.database()
			if err != nil {
				return err
			}

			raw, err := db.Flush(ctx, args[0])
			if err != nil {
				return err
			}

			o.Printf("%s", raw)

			return nil
		},
	}
}
