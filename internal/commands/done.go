package commands

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"

	"weeklet/internal/app"
	"weeklet/internal/config"
	"weeklet/internal/exitcode"
	"weeklet/internal/optimistic"
)

func init() {
	Register(&DoneCmd{})
}

// DoneCmd implements the done command. It toggles completion, so running
// it twice on the same task reopens it.
type DoneCmd struct {
	day string
}

// SetDay sets the day numbers refer to (for testing).
func (c *DoneCmd) SetDay(day string) {
	c.day = day
}

func (c *DoneCmd) Name() string      { return "done" }
func (c *DoneCmd) Aliases() []string { return []string{"toggle"} }
func (c *DoneCmd) Synopsis() string  { return "Toggle task completion" }
func (c *DoneCmd) Usage() string     { return "weeklet done [--day <day>] <ref...>" }
func (c *DoneCmd) NeedsStore() bool  { return true }

func (c *DoneCmd) RegisterFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.day, "day", "", "")
	fs.StringVar(&c.day, "d", "", "")
}

func (c *DoneCmd) Run(ctx context.Context, cfg *config.Config, a *app.App, args []string, out, errOut io.Writer) int {
	return runMutation(ctx, cfg, a, c.day, args, out, errOut,
		func(ctrl *optimistic.Controller, t taskTarget) (*optimistic.Op, error) {
			return ctrl.ToggleTask(ctx, t.day, t.task.ID)
		})
}

// runMutation is the shared implementation of done and rm: it resolves
// every reference first, applies fn to each distinct task and waits for
// the writes.
func runMutation(
	ctx context.Context,
	cfg *config.Config,
	a *app.App,
	dayFlag string,
	args []string,
	out, errOut io.Writer,
	fn func(*optimistic.Controller, taskTarget) (*optimistic.Op, error),
) int {
	refs, err := ParseTaskRefs(args)
	if err != nil {
		if errors.Is(err, ErrTaskRefRequired) {
			fmt.Fprintln(errOut, "error: task reference required")
		} else {
			fmt.Fprintf(errOut, "error: %v\n", err)
		}
		return exitcode.UserError
	}

	for _, ref := range refs {
		if dayFlag != "" && ref.HasLetter {
			fmt.Fprintln(errOut, "error: cannot use both --day and day letter")
			return exitcode.UserError
		}
	}

	base, err := resolveDay(dayFlag, a.Today())
	if err != nil {
		fmt.Fprintf(errOut, "error: %v\n", err)
		return exitcode.UserError
	}

	targets, err := resolveTasks(ctx, a.Service(), base, refs)
	if err != nil {
		if errors.Is(err, errTaskOutOfRange) {
			fmt.Fprintf(errOut, "error: %v\n", err)
			return exitcode.UserError
		}
		fmt.Fprintf(errOut, "error: backend error: %v\n", err)
		return exitcode.BackendError
	}

	ctrl := a.NewController(nil)
	seen := make(map[string]bool, len(targets))
	var ops []waiter
	for _, t := range targets {
		if seen[t.task.ID] {
			continue
		}
		seen[t.task.ID] = true

		op, err := fn(ctrl, t)
		if err != nil {
			fmt.Fprintf(errOut, "error: %v\n", err)
			return exitcode.UserError
		}
		ops = append(ops, op)
	}

	if err := waitPersisted(ctx, a, ops...); err != nil {
		return reportStoreError(errOut, err)
	}

	if !cfg.Quiet {
		fmt.Fprintln(out, "ok")
	}
	return exitcode.Success
}
