package popup

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"weeklet/internal/datekey"
	"weeklet/internal/service"
)

type styles struct {
	Title    lipgloss.Style
	Chip     lipgloss.Style
	Today    lipgloss.Style
	Selected lipgloss.Style
	Cursor   lipgloss.Style
	Done     lipgloss.Style
	Priority lipgloss.Style
	Muted    lipgloss.Style
	Status   lipgloss.Style
}

func defaultStyles() styles {
	accent := lipgloss.AdaptiveColor{Light: "#5A56E0", Dark: "#7D79F6"}
	muted := lipgloss.AdaptiveColor{Light: "#9B9B9B", Dark: "#5C5C5C"}

	chip := lipgloss.NewStyle().Padding(0, 1)
	return styles{
		Title:    lipgloss.NewStyle().Bold(true),
		Chip:     chip,
		Today:    chip.Foreground(accent).Bold(true),
		Selected: chip.Background(accent).Foreground(lipgloss.Color("#FFFFFF")).Bold(true),
		Cursor:   lipgloss.NewStyle().Foreground(accent).Bold(true),
		Done:     lipgloss.NewStyle().Foreground(muted).Strikethrough(true),
		Priority: lipgloss.NewStyle().Foreground(lipgloss.Color("#E06C75")),
		Muted:    lipgloss.NewStyle().Foreground(muted),
		Status:   lipgloss.NewStyle().Foreground(lipgloss.Color("#E06C75")),
	}
}

// View implements tea.Model.
func (m Model) View() string {
	if !m.loaded {
		return "loading...\n"
	}

	var b strings.Builder
	gap := "\n\n"
	if m.settings.CompactMode {
		gap = "\n"
	}

	b.WriteString(m.styles.Title.Render(datekey.WeekLabel(m.days)))
	b.WriteString("\n")
	b.WriteString(m.chips())
	b.WriteString(gap)

	day := m.days[m.selected]
	tasks := m.tasks[day]
	if len(tasks) == 0 {
		b.WriteString(m.styles.Muted.Render("no tasks"))
		b.WriteString("\n")
	}
	for i, t := range tasks {
		b.WriteString(m.taskLine(t, i == m.cursor))
		b.WriteString("\n")
	}

	if m.adding {
		b.WriteString("\n")
		b.WriteString(m.input.View())
		b.WriteString("\n")
	}
	if m.status != "" {
		b.WriteString("\n")
		b.WriteString(m.styles.Status.Render(m.status))
		b.WriteString("\n")
	}

	b.WriteString(strings.TrimSuffix(gap, "\n"))
	b.WriteString(m.help.View(m.keys))
	b.WriteString("\n")
	return b.String()
}

func (m Model) chips() string {
	chips := make([]string, len(m.days))
	for i, d := range m.days {
		label := fmt.Sprintf("%s %d", datekey.DayName(d), datekey.DayNum(d))
		switch {
		case i == m.selected:
			chips[i] = m.styles.Selected.Render(label)
		case d == m.today:
			chips[i] = m.styles.Today.Render(label)
		default:
			chips[i] = m.styles.Chip.Render(label)
		}
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, chips...)
}

func (m Model) taskLine(t service.Task, selected bool) string {
	cursor := "  "
	if selected {
		cursor = m.styles.Cursor.Render("> ")
	}
	box := "[ ]"
	title := t.Title
	if t.Done {
		box = "[x]"
		title = m.styles.Done.Render(title)
	}
	line := cursor + box + " " + title
	switch t.Priority {
	case service.PriorityHigh:
		line += " " + m.styles.Priority.Render("!!")
	case service.PriorityMedium:
		line += " " + m.styles.Priority.Render("!")
	}
	return line
}
