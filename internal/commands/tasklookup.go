package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"weeklet/internal/datekey"
	"weeklet/internal/service"
)

// weekView is the week shown by list, with each day's tasks in display order.
type weekView struct {
	days     []string
	tasks    [][]service.Task
	settings service.Settings
}

// loadWeek reads the seven days of the week containing base concurrently.
func loadWeek(ctx context.Context, svc service.Service, base string) (weekView, error) {
	settings := svc.GetSettings(ctx)
	days, err := datekey.WeekKeys(base, settings.StartOfWeek)
	if err != nil {
		return weekView{}, err
	}

	tasks := make([][]service.Task, len(days))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, day := range days {
		g.Go(func() error {
			tasks[i] = service.SortForDisplay(svc.GetTasks(gctx, day))
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return weekView{}, err
	}
	return weekView{days: days, tasks: tasks, settings: settings}, nil
}

// resolveDay turns a --day value into a day key relative to today. Empty
// means today.
func resolveDay(value, today string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "today":
		return today, nil
	case "tomorrow":
		return datekey.Shift(today, 1)
	case "yesterday":
		return datekey.Shift(today, -1)
	}
	if !datekey.Valid(value) {
		return "", fmt.Errorf("invalid day: %s (want YYYY-MM-DD)", value)
	}
	return value, nil
}

var errTaskOutOfRange = errors.New("task number out of range")

// taskTarget is a task resolved from a reference.
type taskTarget struct {
	day  string
	task service.Task
}

// resolveTasks maps refs to tasks. Numbers count tasks in display order;
// a day letter selects a day of the week containing base.
func resolveTasks(ctx context.Context, svc service.Service, base string, refs []TaskRef) ([]taskTarget, error) {
	var week []string
	cache := make(map[string][]service.Task)

	targets := make([]taskTarget, 0, len(refs))
	for _, ref := range refs {
		day := base
		if ref.HasLetter {
			if week == nil {
				keys, err := datekey.WeekKeys(base, svc.GetSettings(ctx).StartOfWeek)
				if err != nil {
					return nil, err
				}
				week = keys
			}
			day = week[ref.DayIndex()]
		}

		tasks, ok := cache[day]
		if !ok {
			tasks = service.SortForDisplay(svc.GetTasks(ctx, day))
			cache[day] = tasks
		}
		if ref.TaskNum < 1 || ref.TaskNum > len(tasks) {
			return nil, fmt.Errorf("%w: %d", errTaskOutOfRange, ref.TaskNum)
		}
		targets = append(targets, taskTarget{day: day, task: tasks[ref.TaskNum-1]})
	}
	return targets, nil
}
