package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	flag "github.com/spf13/pflag"
)

var ErrUnexpectedArg = errors.New("unexpected argument")

// Command is one contentdb subcommand. The same value serves the command line
// and the shell, so Exec must not keep state between runs.
type Command struct {
	// Flags holds the command's own flags. Its name is ignored; Usage names
	// the command.
	Flags *flag.FlagSet

	// Usage follows "contentdb" in help output and starts with the command
	// name, e.g. "get <path>".
	Usage string

	// Short is the summary shown in the command listing.
	Short string

	// Long is printed by --help, falling back to Short.
	Long string

	// Args names the required positional arguments. Run rejects a call that
	// leaves one out, so Exec may index args up to len(Args) directly.
	Args []string

	// Variadic accepts any number of positional arguments past Args.
	// Otherwise extra arguments are rejected.
	Variadic bool

	Exec func(ctx context.Context, o *IO, args []string) error
}

// Name is the first word of Usage.
func (c *Command) Name() string {
	name, _, _ := strings.Cut(c.Usage, " ")

	return name
}

// HelpLine is the command's row in the command listing.
func (c *Command) HelpLine() string {
	return fmt.Sprintf("  %-34s %s", c.Usage, c.Short)
}

// PrintHelp writes usage, description and flag defaults to o's stdout.
func (c *Command) PrintHelp(o *IO) {
	o.Println("Usage: contentdb", c.Usage)
	o.Println()

	if c.Long != "" {
		o.Println(c.Long)
	} else {
		o.Println(c.Short)
	}

	if c.Flags == nil || !c.Flags.HasFlags() {
		return
	}

	var defaults strings.Builder

	c.Flags.SetOutput(&defaults)
	c.Flags.PrintDefaults()

	o.Println()
	o.Println("Flags:")
	o.Printf("%s", defaults.String())
}

// Run parses args, checks the positional arguments and calls Exec. It prints
// errors itself and returns the exit code, which is 1 when anything failed or
// the run left warnings.
func (c *Command) Run(ctx context.Context, o *IO, args []string) int {
	c.Flags.SetOutput(&strings.Builder{})

	err := c.Flags.Parse(args)
	if errors.Is(err, flag.ErrHelp) {
		c.PrintHelp(o)

		return 0
	}

	if err != nil {
		o.ErrPrintln("error:", err)
		o.ErrPrintln()
		c.PrintHelp(o)

		return 1
	}

	err = c.checkArgs(c.Flags.Args())
	if err != nil {
		o.ErrPrintln("error:", err)
		o.ErrPrintln("usage: contentdb", c.Usage)

		return 1
	}

	err = c.Exec(ctx, o, c.Flags.Args())
	if err != nil {
		o.ErrPrintln("error:", err)

		return 1
	}

	return o.Finish()
}

func (c *Command) checkArgs(args []string) error {
	if len(args) < len(c.Args) {
		return fmt.Errorf("%w: %s", ErrArgsRequired, c.Args[len(args)])
	}

	if !c.Variadic && len(args) > len(c.Args) {
		return fmt.Errorf("%w: %s", ErrUnexpectedArg, args[len(c.Args)])
	}

	return nil
}
