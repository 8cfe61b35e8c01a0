package commands

import (
	"context"
	"flag"
	"fmt"
	"io"

	"weeklet/internal/app"
	"weeklet/internal/config"
	"weeklet/internal/datekey"
	"weeklet/internal/exitcode"
	"weeklet/internal/output"
)

func init() {
	Register(&ExportCmd{})
}

// ExportCmd implements the export command.
type ExportCmd struct {
	day    string
	format string
}

// SetDay sets the day whose week is exported (for testing).
func (c *ExportCmd) SetDay(day string) {
	c.day = day
}

// SetFormat sets the output format (for testing).
func (c *ExportCmd) SetFormat(format string) {
	c.format = format
}

func (c *ExportCmd) Name() string      { return "export" }
func (c *ExportCmd) Aliases() []string { return nil }
func (c *ExportCmd) Synopsis() string  { return "Print a week as JSON or YAML" }
func (c *ExportCmd) Usage() string     { return "weeklet export [--day <day>] [--format json|yaml]" }
func (c *ExportCmd) NeedsStore() bool  { return true }

func (c *ExportCmd) RegisterFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.day, "day", "", "")
	fs.StringVar(&c.day, "d", "", "")
	fs.StringVar(&c.format, "format", output.FormatJSON, "")
	fs.StringVar(&c.format, "f", output.FormatJSON, "")
}

func (c *ExportCmd) Run(ctx context.Context, cfg *config.Config, a *app.App, args []string, out, errOut io.Writer) int {
	format := c.format
	if format == "" {
		format = output.FormatJSON
	}
	if format != output.FormatJSON && format != output.FormatYAML {
		fmt.Fprintf(errOut, "error: unknown format: %s (want json or yaml)\n", format)
		return exitcode.UserError
	}

	base, err := resolveDay(c.day, a.Today())
	if err != nil {
		fmt.Fprintf(errOut, "error: %v\n", err)
		return exitcode.UserError
	}

	week, err := loadWeek(ctx, a.Service(), base)
	if err != nil {
		fmt.Fprintf(errOut, "error: backend error: %v\n", err)
		return exitcode.BackendError
	}

	doc := output.WeekExport{
		Week:     datekey.WeekLabel(week.days),
		Settings: week.settings,
		Days:     make([]output.DayExport, len(week.days)),
	}
	for i, day := range week.days {
		doc.Days[i] = output.DayExport{Day: day, Tasks: week.tasks[i]}
	}

	if err := output.WriteExport(out, format, doc); err != nil {
		fmt.Fprintf(errOut, "error: %v\n", err)
		return exitcode.UserError
	}
	return exitcode.Success
}
