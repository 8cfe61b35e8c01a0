// Package popup is the interactive week view: seven day chips, the tasks of
// the selected day and a quick-add input.
package popup

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"weeklet/internal/datekey"
	"weeklet/internal/optimistic"
	"weeklet/internal/service"
)

// Options configures the model.
type Options struct {
	Context    context.Context
	Controller *optimistic.Controller
	Service    service.Service
	// Day is selected first. Empty means today.
	Day string
	// Today is the current day key. Empty means the local day of time.Now.
	Today string
}

// RenderMsg tells the model that the controller re-rendered Day.
type RenderMsg struct {
	Day string
}

type weekLoadedMsg struct {
	settings service.Settings
	days     []string
	selected string
	tasks    map[string][]service.Task
}

type opDoneMsg struct {
	day string
	err error
}

// Model is the Bubble Tea model of the popup.
type Model struct {
	ctx   context.Context
	ctrl  *optimistic.Controller
	svc   service.Service
	base  string
	today string

	keys   keyMap
	help   help.Model
	input  textinput.Model
	styles styles

	settings service.Settings
	days     []string
	tasks    map[string][]service.Task // display order
	selected int
	cursor   int
	adding   bool
	status   string
	loaded   bool
}

// New creates the model. The week is read by Init.
func New(opts Options) Model {
	ctx := opts.Context
	if ctx == nil {
		ctx = context.Background()
	}
	today := opts.Today
	if today == "" {
		today = datekey.TodayKey(time.Now())
	}
	base := opts.Day
	if base == "" {
		base = today
	}

	input := textinput.New()
	input.Placeholder = "New task"
	input.Prompt = "+ "
	input.CharLimit = 200

	return Model{
		ctx:      ctx,
		ctrl:     opts.Controller,
		svc:      opts.Service,
		base:     base,
		today:    today,
		keys:     defaultKeyMap(),
		help:     help.New(),
		input:    input,
		styles:   defaultStyles(),
		settings: service.DefaultSettings(),
		tasks:    make(map[string][]service.Task),
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return m.loadWeek(m.base)
}

func (m Model) loadWeek(day string) tea.Cmd {
	ctx, ctrl, svc := m.ctx, m.ctrl, m.svc
	return func() tea.Msg {
		settings := svc.GetSettings(ctx)
		days, err := datekey.WeekKeys(day, settings.StartOfWeek)
		if err != nil {
			return opDoneMsg{err: err}
		}
		tasks := make(map[string][]service.Task, len(days))
		for _, d := range days {
			tasks[d] = service.SortForDisplay(ctrl.Load(ctx, d))
		}
		return weekLoadedMsg{settings: settings, days: days, selected: day, tasks: tasks}
	}
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case weekLoadedMsg:
		m.settings = msg.settings
		m.days = msg.days
		m.tasks = msg.tasks
		m.selected = 0
		for i, d := range m.days {
			if d == msg.selected {
				m.selected = i
			}
		}
		m.cursor = 0
		m.loaded = true
		return m, nil

	case RenderMsg:
		m.refresh(msg.Day)
		return m, nil

	case opDoneMsg:
		if msg.err != nil {
			m.status = fmt.Sprintf("could not save: %v", msg.err)
		}
		if msg.day != "" {
			m.refresh(msg.day)
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.help.Width = msg.Width
		m.input.Width = msg.Width - 4
		return m, nil

	case tea.KeyMsg:
		if m.adding {
			return m.handleInput(msg)
		}
		return m.handleKey(msg)
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit
	}
	if !m.loaded {
		return m, nil
	}

	day := m.days[m.selected]
	tasks := m.tasks[day]

	switch {
	case key.Matches(msg, m.keys.Prev):
		if m.selected == 0 {
			return m, m.shiftWeek(-1)
		}
		m.selected--
		m.cursor = 0

	case key.Matches(msg, m.keys.Next):
		if m.selected == len(m.days)-1 {
			return m, m.shiftWeek(1)
		}
		m.selected++
		m.cursor = 0

	case key.Matches(msg, m.keys.Up):
		if m.cursor > 0 {
			m.cursor--
		}

	case key.Matches(msg, m.keys.Down):
		if m.cursor < len(tasks)-1 {
			m.cursor++
		}

	case key.Matches(msg, m.keys.Toggle):
		if len(tasks) == 0 {
			return m, nil
		}
		m.status = ""
		op, err := m.ctrl.ToggleTask(m.ctx, day, tasks[m.cursor].ID)
		return m.afterOp(day, op, err)

	case key.Matches(msg, m.keys.Delete):
		if len(tasks) == 0 {
			return m, nil
		}
		m.status = ""
		op, err := m.ctrl.DeleteTask(m.ctx, day, tasks[m.cursor].ID)
		return m.afterOp(day, op, err)

	case key.Matches(msg, m.keys.Add):
		m.adding = true
		m.status = ""
		return m, m.input.Focus()
	}
	return m, nil
}

func (m Model) handleInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Cancel):
		m.stopInput()
		return m, nil

	case key.Matches(msg, m.keys.Submit):
		title := m.input.Value()
		m.stopInput()
		if !m.loaded || strings.TrimSpace(title) == "" {
			return m, nil
		}
		day := m.days[m.selected]
		_, op, err := m.ctrl.AddTask(m.ctx, day, title, service.PriorityLow)
		return m.afterOp(day, op, err)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) stopInput() {
	m.adding = false
	m.input.Reset()
	m.input.Blur()
}

// afterOp shows the optimistic result at once and waits for the write in
// the background.
func (m Model) afterOp(day string, op *optimistic.Op, err error) (tea.Model, tea.Cmd) {
	if err != nil {
		m.status = err.Error()
		return m, nil
	}
	m.refresh(day)
	ctx := m.ctx
	return m, func() tea.Msg {
		return opDoneMsg{day: day, err: op.Wait(ctx)}
	}
}

func (m Model) shiftWeek(n int) tea.Cmd {
	edge := m.days[0]
	if n > 0 {
		edge = m.days[len(m.days)-1]
	}
	day, err := datekey.Shift(edge, n)
	if err != nil {
		return nil
	}
	return m.loadWeek(day)
}

// refresh copies the controller's current tasks of day into the view.
func (m *Model) refresh(day string) {
	if _, shown := m.tasks[day]; !shown {
		return
	}
	tasks, ok := m.ctrl.Tasks(day)
	if !ok {
		return
	}
	m.tasks[day] = service.SortForDisplay(tasks)
	if m.loaded && m.days[m.selected] == day {
		if m.cursor >= len(m.tasks[day]) {
			m.cursor = max(0, len(m.tasks[day])-1)
		}
	}
}

// Selected returns the selected day and its tasks in display order.
func (m Model) Selected() (string, []service.Task) {
	if !m.loaded {
		return "", nil
	}
	day := m.days[m.selected]
	return day, service.CloneTasks(m.tasks[day])
}

// Status returns the status line, e.g. a failed save.
func (m Model) Status() string {
	return m.status
}
