// Package service defines the task and settings records and the
// storage-agnostic interface the views use.
package service

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Priority is the importance of a task.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// ErrInvalidPriority is returned for priorities other than low, medium, high.
var ErrInvalidPriority = errors.New("invalid priority")

// ParsePriority parses a priority name. An empty string means low.
func ParsePriority(s string) (Priority, error) {
	switch p := Priority(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return PriorityLow, nil
	case PriorityLow, PriorityMedium, PriorityHigh:
		return p, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrInvalidPriority, s)
	}
}

// Task is a single task item on a day.
type Task struct {
	ID        string    `json:"id" yaml:"id"`
	Title     string    `json:"title" yaml:"title"`
	Done      bool      `json:"done" yaml:"done"`
	Priority  Priority  `json:"priority,omitempty" yaml:"priority"`
	CreatedAt time.Time `json:"createdAt" yaml:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt" yaml:"updatedAt"`
}

// SortForDisplay returns a copy of tasks with incomplete tasks first and
// ties broken by creation time. The stored order is left untouched.
func SortForDisplay(tasks []Task) []Task {
	out := make([]Task, len(tasks))
	copy(out, tasks)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Done != out[j].Done {
			return !out[i].Done
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// CloneTasks returns a copy of tasks. A nil input yields an empty slice.
func CloneTasks(tasks []Task) []Task {
	out := make([]Task, len(tasks))
	copy(out, tasks)
	return out
}

// StartOfWeek is the first day shown in a week.
type StartOfWeek string

const (
	Monday StartOfWeek = "Mon"
	Sunday StartOfWeek = "Sun"
)

// Settings is the user settings record.
type Settings struct {
	StartOfWeek     StartOfWeek `json:"startOfWeek" yaml:"startOfWeek"`
	RolloverDefault bool        `json:"rolloverDefault" yaml:"rolloverDefault"`
	CompactMode     bool        `json:"compactMode" yaml:"compactMode"`
}

// DefaultSettings returns the settings used for any key the stored record omits.
func DefaultSettings() Settings {
	return Settings{
		StartOfWeek:     Monday,
		RolloverDefault: true,
		CompactMode:     false,
	}
}

// SettingsPatch is a sparse update; nil fields are left unchanged.
type SettingsPatch struct {
	StartOfWeek     *StartOfWeek `json:"startOfWeek,omitempty"`
	RolloverDefault *bool        `json:"rolloverDefault,omitempty"`
	CompactMode     *bool        `json:"compactMode,omitempty"`
}

// Apply returns s with every non-nil field of p copied over it.
func (s Settings) Apply(p SettingsPatch) Settings {
	if p.StartOfWeek != nil {
		s.StartOfWeek = *p.StartOfWeek
	}
	if p.RolloverDefault != nil {
		s.RolloverDefault = *p.RolloverDefault
	}
	if p.CompactMode != nil {
		s.CompactMode = *p.CompactMode
	}
	return s
}

// Empty reports whether the patch changes nothing.
func (p SettingsPatch) Empty() bool {
	return p.StartOfWeek == nil && p.RolloverDefault == nil && p.CompactMode == nil
}
