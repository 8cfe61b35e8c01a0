package commands

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"weeklet/internal/app"
	"weeklet/internal/config"
	"weeklet/internal/exitcode"
	"weeklet/internal/popup"
)

func init() {
	Register(&PopupCmd{})
}

// PopupCmd implements the popup command.
type PopupCmd struct {
	day string
}

func (c *PopupCmd) Name() string      { return "popup" }
func (c *PopupCmd) Aliases() []string { return []string{"ui"} }
func (c *PopupCmd) Synopsis() string  { return "Open the interactive week view" }
func (c *PopupCmd) Usage() string     { return "weeklet popup [--day <day>]" }
func (c *PopupCmd) NeedsStore() bool  { return true }

func (c *PopupCmd) RegisterFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.day, "day", "", "")
	fs.StringVar(&c.day, "d", "", "")
}

func (c *PopupCmd) Run(ctx context.Context, cfg *config.Config, a *app.App, args []string, out, errOut io.Writer) int {
	day, err := resolveDay(c.day, a.Today())
	if err != nil {
		fmt.Fprintf(errOut, "error: %v\n", err)
		return exitcode.UserError
	}

	if err := popup.Run(ctx, a, day, os.Stdin, out); err != nil {
		fmt.Fprintf(errOut, "error: %v\n", err)
		return exitcode.UserError
	}
	return exitcode.Success
}
