// Package service defines the task and settings records and the
// storage-agnostic interface the views use.
package service

import (
	"context"

	"weeklet/internal/coalesce"
	"weeklet/internal/notify"
)

// Service is what the views see of the persistence layer.
// Views never import a storage backend directly.
type Service interface {
	// GetTasks returns the tasks stored for day (YYYY-MM-DD).
	// A missing day or a failed read yields an empty slice.
	GetTasks(ctx context.Context, day string) []Task

	// SetTasks queues the full collection for day and returns once queued.
	// The ticket resolves when the batched write completes.
	SetTasks(ctx context.Context, day string, tasks []Task) (*coalesce.Ticket, error)

	// GetSettings returns the stored settings merged over the defaults.
	GetSettings(ctx context.Context) Settings

	// SetSettings merges patch into the current settings and queues the result.
	SetSettings(ctx context.Context, patch SettingsPatch) (*coalesce.Ticket, error)

	// Subscribe registers l for changes from the synchronized area.
	Subscribe(l notify.Listener) *notify.Subscription
}
