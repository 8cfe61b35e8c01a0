// Package records provides the typed task and settings accessors on top of
// the storage adapter and the write coalescer.
package records

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/singleflight"

	"weeklet/internal/coalesce"
	"weeklet/internal/datekey"
	"weeklet/internal/kv"
	"weeklet/internal/notify"
	"weeklet/internal/service"
)

const (
	// TasksKeyPrefix prefixes every per-day task key.
	TasksKeyPrefix = "tasks_"

	// SettingsKey is the key of the settings record.
	SettingsKey = "settings"
)

// TasksKey returns the storage key for day.
func TasksKey(day string) string {
	return TasksKeyPrefix + day
}

// DayFromKey returns the day of a tasks key, or false for any other key.
func DayFromKey(key string) (string, bool) {
	if !strings.HasPrefix(key, TasksKeyPrefix) {
		return "", false
	}
	day := strings.TrimPrefix(key, TasksKeyPrefix)
	if !datekey.Valid(day) {
		return "", false
	}
	return day, true
}

// Reader is the read side of the storage adapter.
type Reader interface {
	Get(ctx context.Context, keys ...string) (map[string]json.RawMessage, error)
}

// Queue is the write side: the coalescer.
type Queue interface {
	Enqueue(key string, value json.RawMessage) *coalesce.Ticket
}

// Store implements service.Service.
type Store struct {
	reader   Reader
	queue    Queue
	notifier *notify.Notifier
	logger   *slog.Logger

	settingsGroup singleflight.Group
}

var _ service.Service = (*Store)(nil)

// New creates a Store.
func New(reader Reader, queue Queue, notifier *notify.Notifier, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		reader:   reader,
		queue:    queue,
		notifier: notifier,
		logger:   logger,
	}
}

// GetTasks implements service.Service.
func (s *Store) GetTasks(ctx context.Context, day string) []service.Task {
	key := TasksKey(day)
	values, err := s.reader.Get(ctx, key)
	if err != nil {
		s.logger.Error("failed to get tasks", "day", day, "error", err)
		return []service.Task{}
	}
	data, ok := values[key]
	if !ok || len(data) == 0 {
		return []service.Task{}
	}

	var tasks []service.Task
	if err := json.Unmarshal(data, &tasks); err != nil {
		s.logger.Error("failed to decode tasks", "day", day, "error", err)
		return []service.Task{}
	}
	if tasks == nil {
		tasks = []service.Task{}
	}
	return tasks
}

// SetTasks implements service.Service.
func (s *Store) SetTasks(ctx context.Context, day string, tasks []service.Task) (*coalesce.Ticket, error) {
	if !datekey.Valid(day) {
		return nil, fmt.Errorf("invalid day %q: want YYYY-MM-DD", day)
	}
	if tasks == nil {
		tasks = []service.Task{}
	}
	data, err := json.Marshal(tasks)
	if err != nil {
		return nil, fmt.Errorf("encode tasks for %s: %w", day, err)
	}

	ticket := s.queue.Enqueue(TasksKey(day), data)
	s.logger.Debug("queued tasks", "day", day, "count", len(tasks))
	return ticket, nil
}

// GetSettings implements service.Service. Concurrent callers share one read.
func (s *Store) GetSettings(ctx context.Context) service.Settings {
	v, _, _ := s.settingsGroup.Do(SettingsKey, func() (any, error) {
		return s.readSettings(ctx), nil
	})
	return v.(service.Settings)
}

func (s *Store) readSettings(ctx context.Context) service.Settings {
	settings := service.DefaultSettings()

	values, err := s.reader.Get(ctx, SettingsKey)
	if err != nil {
		s.logger.Error("failed to get settings", "error", err)
		return settings
	}
	data, ok := values[SettingsKey]
	if !ok || len(data) == 0 {
		return settings
	}

	// Decoding over the defaults keeps every key the stored record omits.
	if err := json.Unmarshal(data, &settings); err != nil {
		s.logger.Error("failed to decode settings", "error", err)
		return service.DefaultSettings()
	}
	return settings
}

// SetSettings implements service.Service. It is a read-modify-write of the
// whole record: two processes patching at once can lose one patch.
func (s *Store) SetSettings(ctx context.Context, patch service.SettingsPatch) (*coalesce.Ticket, error) {
	if patch.StartOfWeek != nil && *patch.StartOfWeek != service.Monday && *patch.StartOfWeek != service.Sunday {
		return nil, fmt.Errorf("invalid startOfWeek %q: want Mon or Sun", *patch.StartOfWeek)
	}

	merged := s.readSettings(ctx).Apply(patch)
	data, err := json.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("encode settings: %w", err)
	}

	ticket := s.queue.Enqueue(SettingsKey, data)
	s.logger.Debug("settings updated", "settings", merged)
	return ticket, nil
}

// Subscribe implements service.Service.
func (s *Store) Subscribe(l notify.Listener) *notify.Subscription {
	return s.notifier.Subscribe(l)
}

// DecodeTasks decodes a stored task collection. A nil value decodes to an
// empty collection.
func DecodeTasks(data json.RawMessage) ([]service.Task, error) {
	if len(data) == 0 {
		return []service.Task{}, nil
	}
	var tasks []service.Task
	if err := json.Unmarshal(data, &tasks); err != nil {
		return nil, err
	}
	if tasks == nil {
		tasks = []service.Task{}
	}
	return tasks, nil
}

// check that the adapter satisfies Reader.
var _ Reader = (*kv.Adapter)(nil)
