package app_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"weeklet/internal/app"
	"weeklet/internal/config"
	"weeklet/internal/kv"
	"weeklet/internal/logging"
	"weeklet/internal/service"
	"weeklet/internal/testutil"
)

const day = "2024-01-01"

func newConfig(t *testing.T, backend string) *config.Config {
	t.Helper()
	cfg := config.Defaults(t.TempDir())
	cfg.Backend = backend
	cfg.DebounceMS = 10
	return cfg
}

func TestLocalBackendPersistsAcrossInstances(t *testing.T) {
	ctx := context.Background()
	cfg := newConfig(t, config.BackendLocal)

	first, err := app.New(ctx, cfg, app.WithLogger(logging.Discard()))
	require.NoError(t, err)
	ctrl := first.NewController(nil)
	_, op, err := ctrl.AddTask(ctx, day, "Plan the week", "")
	require.NoError(t, err)
	require.NoError(t, first.Flush(ctx))
	require.NoError(t, op.Wait(ctx))
	require.NoError(t, first.Close(ctx))

	second, err := app.New(ctx, cfg, app.WithLogger(logging.Discard()))
	require.NoError(t, err)
	defer second.Close(ctx)

	tasks := second.Service().GetTasks(ctx, day)
	require.Len(t, tasks, 1)
	assert.Equal(t, "Plan the week", tasks[0].Title)
}

func TestCloseFlushesPendingWrites(t *testing.T) {
	ctx := context.Background()
	cfg := newConfig(t, config.BackendLocal)
	cfg.DebounceMS = int(time.Hour / time.Millisecond)

	a, err := app.New(ctx, cfg, app.WithLogger(logging.Discard()))
	require.NoError(t, err)
	_, err = a.Service().SetTasks(ctx, day, []service.Task{{ID: "a", Title: "A"}})
	require.NoError(t, err)
	require.NoError(t, a.Close(ctx))
	require.NoError(t, a.Close(ctx), "second close is a no-op")

	reopened, err := app.New(ctx, cfg, app.WithLogger(logging.Discard()))
	require.NoError(t, err)
	defer reopened.Close(ctx)
	assert.Len(t, reopened.Service().GetTasks(ctx, day), 1)
}

func TestGoogleTasksWithoutCredentialsFallsBack(t *testing.T) {
	ctx := context.Background()
	cfg := newConfig(t, config.BackendGoogleTasks)

	a, err := app.New(ctx, cfg, app.WithLogger(logging.Discard()))
	require.NoError(t, err)
	defer a.Close(ctx)

	_, sel := a.Adapter.Select(ctx)
	assert.Equal(t, kv.LocalFallback, sel)
}

func TestSyncDirChangesReachOtherInstance(t *testing.T) {
	ctx := context.Background()
	shared := t.TempDir()

	cfgA := newConfig(t, config.BackendSyncDir)
	cfgA.SyncDir = shared
	cfgB := newConfig(t, config.BackendSyncDir)
	cfgB.SyncDir = shared

	writer, err := app.New(ctx, cfgA, app.WithLogger(logging.Discard()))
	require.NoError(t, err)
	defer writer.Close(ctx)
	reader, err := app.New(ctx, cfgB, app.WithLogger(logging.Discard()))
	require.NoError(t, err)
	defer reader.Close(ctx)

	var (
		mu       sync.Mutex
		rendered [][]service.Task
	)
	view := reader.NewController(func(_ string, tasks []service.Task) {
		mu.Lock()
		defer mu.Unlock()
		rendered = append(rendered, tasks)
	})
	view.Load(ctx, day)

	_, err = writer.Service().SetTasks(ctx, day, []service.Task{{ID: "x", Title: "From the other device"}})
	require.NoError(t, err)
	require.NoError(t, writer.Flush(ctx))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		last := rendered[len(rendered)-1]
		return len(last) == 1 && last[0].Title == "From the other device"
	}, 5*time.Second, 20*time.Millisecond)
}

func TestWithBackends(t *testing.T) {
	ctx := context.Background()
	primary := testutil.NewFakeBackend(kv.AreaSync)
	primary.Unavailable = true
	fallback := testutil.NewFakeBackend(kv.AreaLocal)

	a, err := app.New(ctx, newConfig(t, config.BackendMemory),
		app.WithLogger(logging.Discard()),
		app.WithBackends(primary, fallback))
	require.NoError(t, err)

	_, err = a.Service().SetTasks(ctx, day, nil)
	require.NoError(t, err)
	require.NoError(t, a.Close(ctx))

	assert.Empty(t, primary.SetCalls())
	assert.Len(t, fallback.SetCalls(), 1)
}

func TestSyncDirPartialFailureRevertsOnlyUnsavedDay(t *testing.T) {
	ctx := context.Background()
	cfg := newConfig(t, config.BackendSyncDir)
	cfg.DebounceMS = int(time.Hour / time.Millisecond)
	require.NoError(t, os.MkdirAll(filepath.Join(cfg.SyncDir, "tasks_2024-01-02.json"), 0o700))

	a, err := app.New(ctx, cfg, app.WithLogger(logging.Discard()))
	require.NoError(t, err)
	defer a.Close(ctx)

	ctrl := a.NewController(nil)
	_, saved, err := ctrl.AddTask(ctx, "2024-01-01", "one", "")
	require.NoError(t, err)
	_, blocked, err := ctrl.AddTask(ctx, "2024-01-02", "two", "")
	require.NoError(t, err)

	assert.Error(t, a.Flush(ctx))
	require.NoError(t, saved.Wait(ctx))
	require.Error(t, blocked.Wait(ctx))

	tasks, _ := ctrl.Tasks("2024-01-01")
	require.Len(t, tasks, 1, "the stored day keeps its task in memory")
	assert.Equal(t, "one", tasks[0].Title)
	tasks, _ = ctrl.Tasks("2024-01-02")
	assert.Empty(t, tasks)

	stored := a.Service().GetTasks(ctx, "2024-01-01")
	require.Len(t, stored, 1)
	assert.Equal(t, "one", stored[0].Title)
}

func TestAppsKeepTheirOwnClock(t *testing.T) {
	ctx := context.Background()
	clocks := map[string]time.Time{
		"2024-01-03": time.Date(2024, 1, 3, 12, 0, 0, 0, time.Local),
		"2024-01-10": time.Date(2024, 1, 10, 12, 0, 0, 0, time.Local),
	}

	var wg sync.WaitGroup
	for want, now := range clocks {
		a, err := app.New(ctx, newConfig(t, config.BackendMemory),
			app.WithLogger(logging.Discard()),
			app.WithClock(func() time.Time { return now }))
		require.NoError(t, err)
		defer a.Close(ctx)

		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.Equal(t, want, a.Today())

			task, op, err := a.NewController(nil).AddTask(ctx, a.Today(), "Stand-up", "")
			if !assert.NoError(t, err) {
				return
			}
			assert.True(t, task.CreatedAt.Equal(now), "task stamped by its own app's clock")
			assert.NoError(t, a.Flush(ctx))
			assert.NoError(t, op.Wait(ctx))
		}()
	}
	wg.Wait()
}

func TestDefaultClockIsWallClock(t *testing.T) {
	ctx := context.Background()
	a, err := app.New(ctx, newConfig(t, config.BackendMemory), app.WithLogger(logging.Discard()))
	require.NoError(t, err)
	defer a.Close(ctx)

	before := time.Now().Format("2006-01-02")
	got := a.Today()
	after := time.Now().Format("2006-01-02")
	assert.Contains(t, []string{before, after}, got)
}
