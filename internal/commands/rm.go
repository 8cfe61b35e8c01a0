package commands

import (
	"context"
	"flag"
	"io"

	"weeklet/internal/app"
	"weeklet/internal/config"
	"weeklet/internal/optimistic"
)

func init() {
	Register(&RmCmd{})
}

// RmCmd implements the rm command.
type RmCmd struct {
	day string
}

// SetDay sets the day numbers refer to (for testing).
func (c *RmCmd) SetDay(day string) {
	c.day = day
}

func (c *RmCmd) Name() string      { return "rm" }
func (c *RmCmd) Aliases() []string { return []string{"delete"} }
func (c *RmCmd) Synopsis() string  { return "Delete a task" }
func (c *RmCmd) Usage() string     { return "weeklet rm [--day <day>] <ref...>" }
func (c *RmCmd) NeedsStore() bool  { return true }

func (c *RmCmd) RegisterFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.day, "day", "", "")
	fs.StringVar(&c.day, "d", "", "")
}

func (c *RmCmd) Run(ctx context.Context, cfg *config.Config, a *app.App, args []string, out, errOut io.Writer) int {
	return runMutation(ctx, cfg, a, c.day, args, out, errOut,
		func(ctrl *optimistic.Controller, t taskTarget) (*optimistic.Op, error) {
			return ctrl.DeleteTask(ctx, t.day, t.task.ID)
		})
}
