package commands

import (
	"context"
	"flag"
	"fmt"
	"io"

	"weeklet/internal/app"
	"weeklet/internal/config"
	"weeklet/internal/exitcode"
)

func init() {
	Register(&HelpCmd{})
}

// HelpCmd implements the help command.
type HelpCmd struct{}

func (c *HelpCmd) Name() string      { return "help" }
func (c *HelpCmd) Aliases() []string { return nil }
func (c *HelpCmd) Synopsis() string  { return "Print usage" }
func (c *HelpCmd) Usage() string     { return "weeklet help" }
func (c *HelpCmd) NeedsStore() bool  { return false }

func (c *HelpCmd) RegisterFlags(fs *flag.FlagSet) {}

func (c *HelpCmd) Run(ctx context.Context, cfg *config.Config, a *app.App, args []string, out, errOut io.Writer) int {
	fmt.Fprint(out, helpText)
	return exitcode.Success
}

const helpText = `Usage:
  weeklet                                            List this week's tasks
  weeklet list [common flags] [--day <day>]          List the week containing a day
  weeklet add [common flags] [--day <day>] [--priority low|medium|high] <title...>
  weeklet done [common flags] [--day <day>] <ref...> Toggle completion
  weeklet rm [common flags] [--day <day>] <ref...>
  weeklet settings [common flags] [<name>=<value> ...]
  weeklet export [common flags] [--day <day>] [--format json|yaml]
  weeklet watch [common flags] [--for <duration>]
  weeklet popup [common flags] [--day <day>]
  weeklet login [common flags]
  weeklet logout [common flags]
  weeklet help
  weeklet version

Days are YYYY-MM-DD, today, tomorrow or yesterday.
A task reference is a number from the listing of --day (default today),
or a day letter a-g of the week followed by a number, e.g. c2.

Settings:
  startOfWeek=Mon|Sun  rolloverDefault=true|false  compactMode=true|false

Common flags:
  --config <dir>   Override config directory
  --quiet          Suppress informational output
  --debug          Print debug logs to stderr
`
