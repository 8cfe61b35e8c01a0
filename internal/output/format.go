// Package output provides formatters for CLI output.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"weeklet/internal/datekey"
	"weeklet/internal/kv"
	"weeklet/internal/records"
	"weeklet/internal/service"
)

const (
	// DaySeparator is the separator line around day headers.
	DaySeparator = "------------"
)

// Export formats.
const (
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// FormatTask formats a task line for a single day.
// Format: "{N:>4}  [ ] {TITLE}{MARK}\n"
func FormatTask(w io.Writer, num int, task service.Task) {
	fmt.Fprintf(w, "%4d  %s %s%s\n", num, checkbox(task), normalizeTitle(task.Title), priorityMark(task.Priority))
}

// FormatTaskIndented formats a task line inside a day section of the week.
func FormatTaskIndented(w io.Writer, num int, task service.Task) {
	fmt.Fprintf(w, "    %4d  %s %s%s\n", num, checkbox(task), normalizeTitle(task.Title), priorityMark(task.Priority))
}

// FormatWeekLabel prints the week caption, e.g. "Week of Jan 1-7, 2024".
func FormatWeekLabel(w io.Writer, keys []string) {
	fmt.Fprintln(w, datekey.WeekLabel(keys))
}

// FormatDayHeader formats a day section header. today is the current day key.
// Format: "{LETTER}  {Ddd} {YYYY-MM-DD}[ [today]]" between separators.
func FormatDayHeader(w io.Writer, letter rune, day, today string) {
	title := fmt.Sprintf("%c  %s %s", letter, datekey.DayName(day), day)
	if day == today {
		title += " [today]"
	}
	fmt.Fprintln(w, DaySeparator)
	fmt.Fprintln(w, title)
	fmt.Fprintln(w, DaySeparator)
}

// FormatSettings prints one "name  value" line per setting.
func FormatSettings(w io.Writer, s service.Settings) {
	fmt.Fprintf(w, "%-16s %s\n", "startOfWeek", s.StartOfWeek)
	fmt.Fprintf(w, "%-16s %t\n", "rolloverDefault", s.RolloverDefault)
	fmt.Fprintf(w, "%-16s %t\n", "compactMode", s.CompactMode)
}

// FormatChange describes one changed key for the watch command.
func FormatChange(w io.Writer, key string, change kv.ValueChange) {
	if change.NewValue == nil {
		fmt.Fprintf(w, "removed  %s\n", key)
		return
	}
	day, ok := records.DayFromKey(key)
	if !ok {
		fmt.Fprintf(w, "changed  %s\n", key)
		return
	}
	tasks, err := records.DecodeTasks(change.NewValue)
	if err != nil {
		fmt.Fprintf(w, "changed  %s (unreadable)\n", day)
		return
	}
	done := 0
	for _, t := range tasks {
		if t.Done {
			done++
		}
	}
	fmt.Fprintf(w, "changed  %s %s (%d/%d done)\n", datekey.DayName(day), day, done, len(tasks))
}

// DayExport is one day of an export document.
type DayExport struct {
	Day   string         `json:"day" yaml:"day"`
	Tasks []service.Task `json:"tasks" yaml:"tasks"`
}

// WeekExport is the document written by the export command.
type WeekExport struct {
	Week     string           `json:"week" yaml:"week"`
	Settings service.Settings `json:"settings" yaml:"settings"`
	Days     []DayExport      `json:"days" yaml:"days"`
}

// WriteExport encodes doc as JSON or YAML.
func WriteExport(w io.Writer, format string, doc WeekExport) error {
	switch format {
	case FormatJSON, "":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(doc)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown format: %s (want json or yaml)", format)
	}
}

func checkbox(task service.Task) string {
	if task.Done {
		return "[x]"
	}
	return "[ ]"
}

func priorityMark(p service.Priority) string {
	switch p {
	case service.PriorityHigh:
		return " !!"
	case service.PriorityMedium:
		return " !"
	default:
		return ""
	}
}

// normalizeTitle normalizes a task title for display.
// - Empty or whitespace-only titles become "(untitled)"
// - Newlines are replaced with spaces
func normalizeTitle(title string) string {
	title = strings.ReplaceAll(title, "\r", " ")
	title = strings.ReplaceAll(title, "\n", " ")

	if strings.TrimSpace(title) == "" {
		return "(untitled)"
	}
	return title
}
