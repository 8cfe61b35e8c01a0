package popup_test

import (
	"context"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"weeklet/internal/app"
	"weeklet/internal/config"
	"weeklet/internal/kv"
	"weeklet/internal/logging"
	"weeklet/internal/popup"
	"weeklet/internal/service"
	"weeklet/internal/testutil"
)

const wednesday = "2024-01-03"

var created = time.Date(2024, 1, 3, 8, 0, 0, 0, time.UTC)

type fixture struct {
	primary *testutil.FakeBackend
	model   tea.Model
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	primary := testutil.NewFakeBackend(kv.AreaSync)
	primary.Put("tasks_"+wednesday, []service.Task{
		{ID: "t1", Title: "Water plants", CreatedAt: created},
		{ID: "t2", Title: "Pay rent", Priority: service.PriorityHigh, CreatedAt: created.Add(time.Minute)},
	})

	cfg := config.Defaults(t.TempDir())
	cfg.Backend = config.BackendMemory
	cfg.DebounceMS = 5

	a, err := app.New(ctx, cfg,
		app.WithLogger(logging.Discard()),
		app.WithBackends(primary, kv.NewMemoryBackend(kv.AreaLocal)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(ctx) })

	m := popup.New(popup.Options{
		Context:    ctx,
		Controller: a.NewController(nil),
		Service:    a.Service(),
		Day:        wednesday,
		Today:      wednesday,
	})
	f := &fixture{primary: primary, model: m}
	f.run(m.Init())
	return f
}

// run feeds the result of cmd back into the model.
func (f *fixture) run(cmd tea.Cmd) {
	if cmd == nil {
		return
	}
	f.model, _ = f.model.Update(cmd())
}

func (f *fixture) press(keys string) tea.Cmd {
	var cmd tea.Cmd
	f.model, cmd = f.model.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(keys)})
	return cmd
}

func (f *fixture) selected() (string, []service.Task) {
	return f.model.(popup.Model).Selected()
}

func TestInitShowsSelectedDay(t *testing.T) {
	f := newFixture(t)

	day, tasks := f.selected()
	assert.Equal(t, wednesday, day)
	require.Len(t, tasks, 2)

	view := f.model.View()
	assert.Contains(t, view, "Week of Jan 1-7, 2024")
	assert.Contains(t, view, "Wed 3")
	assert.Contains(t, view, "Water plants")
	assert.Contains(t, view, "Pay rent")
}

func TestToggleIsVisibleBeforeWrite(t *testing.T) {
	f := newFixture(t)

	cmd := f.press("x")
	require.NotNil(t, cmd)

	_, tasks := f.selected()
	require.Len(t, tasks, 2)
	assert.Equal(t, "t2", tasks[0].ID, "completed task moves below open tasks")
	assert.True(t, tasks[1].Done)

	f.run(cmd)
	assert.Empty(t, f.model.(popup.Model).Status())
	assert.Len(t, f.primary.SetCalls(), 1)
}

func TestFailedWriteRevertsAndShowsStatus(t *testing.T) {
	f := newFixture(t)
	f.primary.SetErr = testutil.ErrInjected

	f.run(f.press("d"))

	_, tasks := f.selected()
	require.Len(t, tasks, 2)
	assert.Equal(t, "t1", tasks[0].ID)
	assert.Contains(t, f.model.(popup.Model).Status(), "could not save")
	assert.Contains(t, f.model.View(), "could not save")
}

func TestQuickAdd(t *testing.T) {
	f := newFixture(t)

	f.press("a")
	f.press("Call mom")
	cmd := func() tea.Cmd {
		var cmd tea.Cmd
		f.model, cmd = f.model.Update(tea.KeyMsg{Type: tea.KeyEnter})
		return cmd
	}()

	_, tasks := f.selected()
	require.Len(t, tasks, 3)
	assert.Equal(t, "Call mom", tasks[2].Title)

	f.run(cmd)
	assert.Empty(t, f.model.(popup.Model).Status())
}

func TestEscapeCancelsAdd(t *testing.T) {
	f := newFixture(t)

	f.press("a")
	f.press("never mind")
	f.model, _ = f.model.Update(tea.KeyMsg{Type: tea.KeyEsc})

	_, tasks := f.selected()
	assert.Len(t, tasks, 2)
	assert.Empty(t, f.primary.SetCalls())
}

func TestDayNavigation(t *testing.T) {
	f := newFixture(t)

	f.press("l")
	day, tasks := f.selected()
	assert.Equal(t, "2024-01-04", day)
	assert.Empty(t, tasks)
	assert.Contains(t, f.model.View(), "no tasks")

	f.press("h")
	f.press("h")
	day, _ = f.selected()
	assert.Equal(t, "2024-01-02", day)
}

func TestNavigatingPastWeekEdgeLoadsNextWeek(t *testing.T) {
	f := newFixture(t)

	for range 4 {
		f.press("l")
	}
	day, _ := f.selected()
	assert.Equal(t, "2024-01-07", day)

	f.run(f.press("l"))
	day, _ = f.selected()
	assert.Equal(t, "2024-01-08", day)
	assert.Contains(t, f.model.View(), "Week of Jan 8-14, 2024")
}

func TestQuit(t *testing.T) {
	f := newFixture(t)

	cmd := f.press("q")
	require.NotNil(t, cmd)
	assert.Equal(t, tea.Quit(), cmd())
}
