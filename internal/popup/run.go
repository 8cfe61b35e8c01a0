package popup

import (
	"context"
	"errors"
	"io"
	"sync/atomic"

	tea "github.com/charmbracelet/bubbletea"

	"weeklet/internal/app"
	"weeklet/internal/service"
)

// Run shows the popup on in/out and blocks until the user quits or ctx is
// cancelled. Changes from other devices are shown as they arrive.
func Run(ctx context.Context, a *app.App, day string, in io.Reader, out io.Writer) error {
	var prog atomic.Pointer[tea.Program]

	// Renders can happen inside Update, so they must not block on the
	// program's message loop.
	ctrl := a.NewController(func(day string, _ []service.Task) {
		if p := prog.Load(); p != nil {
			go p.Send(RenderMsg{Day: day})
		}
	})

	m := New(Options{
		Context:    ctx,
		Controller: ctrl,
		Service:    a.Service(),
		Day:        day,
		Today:      a.Today(),
	})
	p := tea.NewProgram(m,
		tea.WithContext(ctx),
		tea.WithInput(in),
		tea.WithOutput(out),
		tea.WithAltScreen(),
	)
	prog.Store(p)

	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
