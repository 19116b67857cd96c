package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"github.com/calvinalkan/contentdb/internal/config"
	"github.com/calvinalkan/contentdb/pkg/bridge"
	"github.com/calvinalkan/contentdb/pkg/contentdb"
	"github.com/calvinalkan/contentdb/pkg/store"
	"github.com/calvinalkan/contentdb/pkg/store/badgerstore"
)

// app holds what commands share within one process: the resolved config and
// a database opened on first use. The index directory is locked while open,
// so the shell reuses one database for every line.
type app struct {
	cfg    config.Config
	in     io.Reader
	logger zerolog.Logger

	db    *contentdb.Database
	store *badgerstore.Store
}

func newApp(cfg config.Config, in io.Reader, errOut io.Writer) *app {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: errOut, NoColor: true}).
		Level(cfg.Level()).
		With().
		Timestamp().
		Logger()

	return &app{cfg: cfg, in: in, logger: logger}
}

// database opens the bridge, store and database on first call.
func (a *app) database() (*contentdb.Database, error) {
	if a.db != nil {
		return a.db, nil
	}

	err := os.MkdirAll(a.cfg.ContentDirAbs, 0o755)
	if err != nil {
		return nil, fmt.Errorf("content dir: %w", err)
	}

	b, err := bridge.NewFilesystem(a.cfg.ContentDirAbs)
	if err != nil {
		return nil, err
	}

	s, err := badgerstore.Open(badgerstore.Config{Dir: a.cfg.IndexDirAbs, Logger: a.logger})
	if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}

	db, err := contentdb.New(contentdb.Config{
		Bridge:          b,
		Store:           s,
		Logger:          a.logger,
		GeneratedDir:    a.cfg.GeneratedDir,
		NumericPad:      store.Pad{FillString: store.DefaultNumericFill, MaxLength: a.cfg.NumericPadWidth},
		ContinueOnError: a.cfg.KeepGoing(),
	})
	if err != nil {
		_ = s.Close()

		return nil, err
	}

	a.db, a.store = db, s

	return db, nil
}

func (a *app) close() {
	if a.store != nil {
		err := a.store.Close()
		if err != nil {
			a.logger.Error().Err(err).Msg("close index")
		}
	}

	a.db, a.store = nil, nil
}

// readJSON decodes the --data value, or the command input when data is
// empty, into v.
func readJSON(o *IO, data string, v any) error {
	var src io.Reader

	switch {
	case data != "":
		src = strings.NewReader(data)
	case o.In() != nil:
		src = o.In()
	default:
		return ErrNoInput
	}

	err := json.NewDecoder(src).Decode(v)
	if err != nil {
		return fmt.Errorf("invalid JSON input: %w", err)
	}

	return nil
}

func printJSON(o *IO, v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	o.Println(string(out))

	return nil
}
