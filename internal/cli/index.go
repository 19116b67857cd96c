package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/contentdb/pkg/contentdb"
)

// PutConfigCmd returns the put-config command.
func PutConfigCmd(a *app) *Command {
	fs := flag.NewFlagSet("put-config", flag.ContinueOnError)
	schemaFile := fs.String("schema", "", "content schema JSON `file` (required)")
	graphQLFile := fs.String("graphql", "", "compiled GraphQL schema JSON `file`")

	return &Command{
		Flags: fs,
		Usage: "put-config --schema <file> [flags]",
		Short: "Install schema artifacts into the content dir",
		Long: "Write the content schema (and optionally the compiled GraphQL schema) into the\n" +
			"generated config directory, where reindex reads them from.",
		Exec: func(ctx context.Context, o *IO, _ []string) error {
			if *schemaFile == "" {
				return fmt.Errorf("%w: --schema", ErrArgsRequired)
			}

			var arts contentdb.Artifacts

			err := readJSONFile(a.cfg.EffectiveCwd, *schemaFile, &arts.Schema)
			if err != nil {
				return err
			}

			if *graphQLFile != "" {
				err = readJSONFile(a.cfg.EffectiveCwd, *graphQLFile, &arts.GraphQLSchema)
				if err != nil {
					return err
				}
			}

			db, err := a.database()
			if err != nil {
				return err
			}

			err = db.PutConfigFiles(ctx, arts)
			if err != nil {
				return err
			}

			o.Println("installed", len(arts.Schema.Collections), "collections")

			return nil
		},
	}
}

func readJSONFile(workDir, name string, v any) error {
	if !filepath.IsAbs(name) {
		name = filepath.Join(workDir, name)
	}

	data, err := os.ReadFile(name)
	if err != nil {
		return err
	}

	err = json.Unmarshal(data, v)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}

	return nil
}

// ReindexCmd returns the reindex command.
func ReindexCmd(a *app) *Command {
	return &Command{
		Flags: flag.NewFlagSet("reindex", flag.ContinueOnError),
		Usage: "reindex",
		Short: "Rebuild the index from the content dir",
		Long: "Clear the index, load the schema artifacts from the generated config directory\n" +
			"and index every document of every collection.",
		Exec: func(ctx context.Context, o *IO, _ []string) error {
			db, err := a.database()
			if err != nil {
				return err
			}

			arts, err := db.LoadArtifacts(ctx)
			if err != nil {
				return err
			}

			err = warnScanIssues(o, db.IndexContent(ctx, arts))
			if err != nil {
				return err
			}

			o.Println("reindexed", len(arts.Schema.Collections), "collections")

			return nil
		},
	}
}

// IndexCmd returns the index command.
func IndexCmd(a *app) *Command {
	return &Command{
		Flags:    flag.NewFlagSet("index", flag.ContinueOnError),
		Usage:    "index <path>...",
		Short:    "Re-index changed documents",
		Args:     []string{"path"},
		Variadic: true,
		Exec: func(ctx context.Context, o *IO, args []string) error {
			db, err := a.database()
			if err != nil {
				return err
			}

			err = warnScanIssues(o, db.IndexContentByPaths(ctx, args))
			if err != nil {
				return err
			}

			o.Println("indexed", len(args), "paths")

			return nil
		},
	}
}

// UnindexCmd returns the unindex command.
func UnindexCmd(a *app) *Command {
	return &Command{
		Flags:    flag.NewFlagSet("unindex", flag.ContinueOnError),
		Usage:    "unindex <path>...",
		Short:    "Drop documents from the index, keeping files",
		Args:     []string{"path"},
		Variadic: true,
		Exec: func(ctx context.Context, o *IO, args []string) error {
			db, err := a.database()
			if err != nil {
				return err
			}

			err = warnScanIssues(o, db.DeleteContentByPaths(ctx, args))
			if err != nil {
				return err
			}

			o.Println("unindexed", len(args), "paths")

			return nil
		},
	}
}

// warnScanIssues turns collected per-document failures into warnings and
// returns any other error unchanged.
func warnScanIssues(o *IO, err error) error {
	var scanErr *contentdb.IndexScanError
	if !errors.As(err, &scanErr) {
		return err
	}

	for _, issue := range scanErr.Issues {
		o.Warn(issue.Path+": "+issue.Err.Error(), "fix the file and run index "+issue.Path)
	}

	return nil
}
