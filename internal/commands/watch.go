package commands

import (
	"context"
	"flag"
	"fmt"
	"io"
	"sync"
	"time"

	"weeklet/internal/app"
	"weeklet/internal/config"
	"weeklet/internal/exitcode"
	"weeklet/internal/kv"
	"weeklet/internal/notify"
	"weeklet/internal/output"
)

func init() {
	Register(&WatchCmd{})
}

// WatchCmd implements the watch command.
type WatchCmd struct {
	duration time.Duration
}

// SetDuration stops the watch after d (for testing). Zero watches until
// the context is cancelled.
func (c *WatchCmd) SetDuration(d time.Duration) {
	c.duration = d
}

func (c *WatchCmd) Name() string      { return "watch" }
func (c *WatchCmd) Aliases() []string { return nil }
func (c *WatchCmd) Synopsis() string  { return "Print changes made on other devices" }
func (c *WatchCmd) Usage() string     { return "weeklet watch [--for <duration>]" }
func (c *WatchCmd) NeedsStore() bool  { return true }

func (c *WatchCmd) RegisterFlags(fs *flag.FlagSet) {
	fs.DurationVar(&c.duration, "for", 0, "")
}

func (c *WatchCmd) Run(ctx context.Context, cfg *config.Config, a *app.App, args []string, out, errOut io.Writer) int {
	if c.duration < 0 {
		fmt.Fprintf(errOut, "error: invalid duration: %s\n", c.duration)
		return exitcode.UserError
	}
	if c.duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.duration)
		defer cancel()
	}

	var (
		mu      sync.Mutex
		stopped bool
	)
	sub := a.Service().Subscribe(notify.ListenerFunc(func(keys []string, changes map[string]kv.ValueChange) {
		mu.Lock()
		defer mu.Unlock()
		if stopped {
			return
		}
		for _, key := range keys {
			output.FormatChange(out, key, changes[key])
		}
	}))

	if !cfg.Quiet {
		fmt.Fprintln(errOut, "watching for changes (Ctrl-C to stop)")
	}
	<-ctx.Done()
	sub.Cancel()

	mu.Lock()
	stopped = true
	mu.Unlock()
	return exitcode.Success
}
