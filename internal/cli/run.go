// Package cli implements the contentdb command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/calvinalkan/contentdb/internal/config"
)

const (
	consumedNone = 0
	consumedOne  = 1
	consumedTwo  = 2
	helpFlag     = "--help"
)

var (
	ErrUnknownFlag     = errors.New("unknown flag")
	ErrFlagRequiresArg = errors.New("flag requires an argument")
	ErrUnknownCommand  = errors.New("unknown command")
	ErrNoInput         = errors.New("no input: pass --data or pipe JSON on stdin")
	ErrArgsRequired    = errors.New("missing argument")
)

// Run is the main entry point. Returns exit code.
//
// A signal on sigCh cancels the running command; sigCh may be nil.
func Run(in io.Reader, out io.Writer, errOut io.Writer, args []string, env map[string]string, sigCh <-chan os.Signal) int {
	if len(args) < 2 {
		printUsage(out, nil)

		return 0
	}

	flags, err := parseGlobalFlags(args[1:])
	if err != nil {
		fprintln(errOut, "error:", err)

		return 1
	}

	if len(flags.remaining) == 0 || flags.remaining[0] == "-h" || flags.remaining[0] == helpFlag {
		printUsage(out, nil)

		return 0
	}

	cfg, err := config.Load(config.Input{
		WorkDirOverride:    flags.workDir,
		ConfigPath:         flags.configPath,
		ContentDirOverride: flags.contentDir,
		IndexDirOverride:   flags.indexDir,
		LogLevelOverride:   flags.logLevel,
		Env:                env,
	})
	if err != nil {
		fprintln(errOut, "error:", err)

		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if sigCh != nil {
		go func() {
			select {
			case <-sigCh:
				cancel()
			case <-ctx.Done():
			}
		}()
	}

	a := newApp(cfg, in, errOut)
	defer a.close()

	return a.dispatch(ctx, NewIO(in, out, errOut), flags.remaining)
}

// dispatch runs one command line against the app.
func (a *app) dispatch(ctx context.Context, o *IO, argv []string) int {
	name := argv[0]

	for _, cmd := range a.commands() {
		if cmd.Name() == name {
			return cmd.Run(ctx, o, argv[1:])
		}
	}

	o.ErrPrintln("error:", fmt.Errorf("%w: %s", ErrUnknownCommand, name))
	printUsage(o.errOut, a.commands())

	return 1
}

// commands returns a fresh command set. Flag sets keep parsed values, so a
// set is never reused across invocations.
func (a *app) commands() []*Command {
	return []*Command{
		PutConfigCmd(a),
		ReindexCmd(a),
		IndexCmd(a),
		UnindexCmd(a),
		GetCmd(a),
		PutCmd(a),
		RmCmd(a),
		FlushCmd(a),
		QueryCmd(a),
		LookupCmd(a),
		LookupAddCmd(a),
		PrintConfigCmd(&a.cfg),
		ShellCmd(a),
	}
}

type globalFlags struct {
	workDir    string
	configPath string
	contentDir string
	indexDir   string
	logLevel   string
	remaining  []string
}

func parseGlobalFlags(args []string) (globalFlags, error) {
	var flags globalFlags

	idx := 0
	for idx < len(args) {
		consumed, err := parseFlag(args, idx, &flags)
		if err != nil {
			return globalFlags{}, err
		}

		if consumed == 0 {
			// Not a flag, this is the command
			flags.remaining = args[idx:]

			break
		}

		idx += consumed
	}

	return flags, nil
}

// parseFlag tries to parse a flag at args[idx]. Returns number of args
// consumed (0 if not a flag).
func parseFlag(args []string, idx int, flags *globalFlags) (int, error) {
	arg := args[idx]

	if arg == "-h" || arg == helpFlag {
		flags.remaining = []string{helpFlag}

		return len(args) - idx, nil
	}

	if after, ok := strings.CutPrefix(arg, "-C"); ok && after != "" {
		flags.workDir = after

		return consumedOne, nil
	}

	for _, f := range []struct {
		short, long string
		dst         *string
	}{
		{"-C", "--cwd", &flags.workDir},
		{"-c", "--config", &flags.configPath},
		{"", "--content-dir", &flags.contentDir},
		{"", "--index-dir", &flags.indexDir},
		{"", "--log-level", &flags.logLevel},
	} {
		if (f.short != "" && arg == f.short) || arg == f.long {
			if idx+1 >= len(args) {
				return consumedNone, fmt.Errorf("%w: %s", ErrFlagRequiresArg, arg)
			}

			*f.dst = args[idx+1]

			return consumedTwo, nil
		}

		if after, ok := strings.CutPrefix(arg, f.long+"="); ok {
			*f.dst = after

			return consumedOne, nil
		}
	}

	if strings.HasPrefix(arg, "-") && arg != "-" {
		return consumedNone, fmt.Errorf("%w: %s", ErrUnknownFlag, arg)
	}

	return consumedNone, nil
}

func fprintln(w io.Writer, a ...any) {
	_, _ = fmt.Fprintln(w, a...)
}

func printUsage(w io.Writer, cmds []*Command) {
	if cmds == nil {
		cmds = (&app{}).commands()
	}

	fprintln(w, `contentdb - schema-aware content database

Usage: contentdb [options] <command> [args]

Options:
  -C, --cwd <dir>          Run as if started in <dir>
  -c, --config <file>      Use specified config file
  --content-dir <dir>      Directory holding the content files
  --index-dir <dir>        Directory holding the index
  --log-level <level>      debug, info, warn or error

Commands:`)

	for _, cmd := range cmds {
		fprintln(w, cmd.HelpLine())
	}
}
