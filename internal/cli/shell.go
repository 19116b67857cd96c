package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"
	flag "github.com/spf13/pflag"
)

var ErrUnterminatedQuote = errors.New("unterminated quote")

// prompter reads one shell line at a time.
type prompter interface {
	Prompt(prompt string) (string, error)
	AppendHistory(line string)
}

// scanPrompter reads lines from a non-terminal input. It never echoes a
// prompt, so piped scripts produce only command output.
type scanPrompter struct {
	sc *bufio.Scanner
}

func (p *scanPrompter) Prompt(string) (string, error) {
	if !p.sc.Scan() {
		err := p.sc.Err()
		if err == nil {
			err = io.EOF
		}

		return "", err
	}

	return p.sc.Text(), nil
}

func (*scanPrompter) AppendHistory(string) {}

// ShellCmd returns the shell command.
func ShellCmd(a *app) *Command {
	fs := flag.NewFlagSet("shell", flag.ContinueOnError)
	history := fs.String("history", "", "history `file` (default: ~/.contentdb_history)")

	return &Command{
		Flags: fs,
		Usage: "shell [flags]",
		Short: "Run commands interactively against one open index",
		Long: "Read commands line by line and run them against the same open index.\n" +
			"Quote arguments containing spaces, e.g. put posts/a.md --data '{\"title\":\"A\"}'.\n" +
			"Type 'help' for commands, 'exit' to leave.",
		Exec: func(ctx context.Context, o *IO, _ []string) error {
			if o.In() == nil {
				return ErrNoInput
			}

			sh := &shell{app: a, out: o.out, errOut: o.errOut}

			if f, ok := o.In().(*os.File); ok && f == os.Stdin && liner.TerminalSupported() {
				return sh.runTerminal(ctx, historyPath(*history))
			}

			sh.prompt = &scanPrompter{sc: bufio.NewScanner(o.In())}

			return sh.loop(ctx)
		},
	}
}

func historyPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	return filepath.Join(home, ".contentdb_history")
}

type shell struct {
	app    *app
	prompt prompter
	out    io.Writer
	errOut io.Writer
}

func (s *shell) runTerminal(ctx context.Context, history string) error {
	state := liner.NewLiner()
	defer state.Close()

	state.SetCtrlCAborts(true)
	state.SetCompleter(s.complete)

	if history != "" {
		if f, err := os.Open(history); err == nil {
			_, _ = state.ReadHistory(f)
			_ = f.Close()
		}
	}

	fprintln(s.out, "contentdb shell. Type 'help' for commands.")

	s.prompt = state

	err := s.loop(ctx)

	if history != "" {
		if f, createErr := os.Create(history); createErr == nil {
			_, _ = state.WriteHistory(f)
			_ = f.Close()
		}
	}

	return err
}

func (s *shell) loop(ctx context.Context) error {
	for ctx.Err() == nil {
		line, err := s.prompt.Prompt("contentdb> ")
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, liner.ErrPromptAborted) {
				return nil
			}

			return fmt.Errorf("reading input: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		s.prompt.AppendHistory(line)

		argv, err := splitLine(line)
		if err != nil {
			fprintln(s.errOut, "error:", err)

			continue
		}

		switch argv[0] {
		case "exit", "quit":
			return nil
		case "help", "?":
			for _, cmd := range s.app.commands() {
				if cmd.Name() != "shell" {
					fprintln(s.out, cmd.HelpLine())
				}
			}

			continue
		case "shell":
			fprintln(s.errOut, "error: already in a shell")

			continue
		}

		// Commands inside the shell read input only from --data.
		s.app.dispatch(ctx, NewIO(nil, s.out, s.errOut), argv)
	}

	return ctx.Err()
}

func (s *shell) complete(line string) []string {
	var out []string

	for _, cmd := range s.app.commands() {
		if strings.HasPrefix(cmd.Name(), line) {
			out = append(out, cmd.Name())
		}
	}

	for _, builtin := range []string{"help", "exit", "quit"} {
		if strings.HasPrefix(builtin, line) {
			out = append(out, builtin)
		}
	}

	return out
}

// splitLine splits a shell line into words. Single-quoted text is literal;
// elsewhere a backslash escapes the next character.
func splitLine(line string) ([]string, error) {
	var (
		words   []string
		cur     strings.Builder
		inWord  bool
		quote   rune
		escaped bool
	)

	for _, r := range line {
		switch {
		case escaped:
			cur.WriteRune(r)

			escaped = false
		case quote == '\'':
			if r == '\'' {
				quote = 0
			} else {
				cur.WriteRune(r)
			}
		case quote == '"':
			switch r {
			case '"':
				quote = 0
			case '\\':
				escaped = true
			default:
				cur.WriteRune(r)
			}
		case r == '\\':
			escaped, inWord = true, true
		case r == '\'' || r == '"':
			quote, inWord = r, true
		case r == ' ' || r == '\t':
			if inWord {
				words = append(words, cur.String())
				cur.Reset()

				inWord = false
			}
		default:
			cur.WriteRune(r)

			inWord = true
		}
	}

	if quote != 0 || escaped {
		return nil, ErrUnterminatedQuote
	}

	if inWord {
		words = append(words, cur.String())
	}

	return words, nil
}
