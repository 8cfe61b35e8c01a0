package commands

import (
	"context"
	"flag"
	"fmt"
	"io"

	"weeklet/internal/app"
	"weeklet/internal/config"
	"weeklet/internal/exitcode"
	"weeklet/internal/output"
)

func init() {
	Register(&ListCmd{})
}

// ListCmd implements the list command.
// Handles both `weeklet` (no args) and `weeklet list --day <day>`.
type ListCmd struct {
	day string
}

// SetDay sets the day whose week is listed (for testing).
func (c *ListCmd) SetDay(day string) {
	c.day = day
}

func (c *ListCmd) Name() string      { return "list" }
func (c *ListCmd) Aliases() []string { return []string{"ls", "week"} }
func (c *ListCmd) Synopsis() string  { return "List the tasks of a week" }
func (c *ListCmd) Usage() string     { return "weeklet list [--day <day>]" }
func (c *ListCmd) NeedsStore() bool  { return true }

func (c *ListCmd) RegisterFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.day, "day", "", "")
	fs.StringVar(&c.day, "d", "", "")
}

func (c *ListCmd) Run(ctx context.Context, cfg *config.Config, a *app.App, args []string, out, errOut io.Writer) int {
	if len(args) > 0 {
		fmt.Fprintf(errOut, "error: unexpected argument: %s\n", args[0])
		return exitcode.UserError
	}

	today := a.Today()
	base, err := resolveDay(c.day, today)
	if err != nil {
		fmt.Fprintf(errOut, "error: %v\n", err)
		return exitcode.UserError
	}

	week, err := loadWeek(ctx, a.Service(), base)
	if err != nil {
		fmt.Fprintf(errOut, "error: backend error: %v\n", err)
		return exitcode.BackendError
	}

	hasAnyTasks := false
	for _, tasks := range week.tasks {
		if len(tasks) > 0 {
			hasAnyTasks = true
			break
		}
	}
	if !hasAnyTasks {
		if !cfg.Quiet {
			fmt.Fprintln(out, "no tasks found")
		}
		return exitcode.Success
	}

	output.FormatWeekLabel(out, week.days)
	for i, day := range week.days {
		// Compact mode drops empty days and blank lines.
		if week.settings.CompactMode {
			if len(week.tasks[i]) == 0 {
				continue
			}
		} else {
			fmt.Fprintln(out)
		}
		output.FormatDayHeader(out, dayLetter(i), day, today)
		for n, task := range week.tasks[i] {
			output.FormatTaskIndented(out, n+1, task)
		}
	}
	return exitcode.Success
}
