// Package app wires the storage adapter, write coalescer, change notifier
// and record store once per process.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"weeklet/internal/backend/googletasks"
	"weeklet/internal/backend/sqlite"
	"weeklet/internal/backend/syncdir"
	"weeklet/internal/coalesce"
	"weeklet/internal/config"
	"weeklet/internal/datekey"
	"weeklet/internal/kv"
	"weeklet/internal/notify"
	"weeklet/internal/optimistic"
	"weeklet/internal/records"
	"weeklet/internal/service"
)

// App is one instance of the persistence core.
type App struct {
	Config    *config.Config
	Logger    *slog.Logger
	Adapter   *kv.Adapter
	Coalescer *coalesce.Coalescer
	Notifier  *notify.Notifier
	Store     *records.Store
	// Clock decides which day is today and stamps new tasks.
	Clock     func() time.Time

	closers []io.Closer

	mu        sync.Mutex
	subs      []*notify.Subscription
	closeOnce sync.Once
	closeErr  error
}

type options struct {
	logger   *slog.Logger
	clock    func() time.Time
	primary  kv.Backend
	fallback kv.Backend
	custom   bool
}

// Option configures New.
type Option func(*options)

// WithLogger sets the logger handed to every component.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithClock sets the clock. The default is time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.clock = now
	}
}

// WithBackends replaces the configured backends. primary may be nil.
func WithBackends(primary, fallback kv.Backend) Option {
	return func(o *options) {
		o.primary = primary
		o.fallback = fallback
		o.custom = true
	}
}

// New builds the backends named by cfg and the components on top of them.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	o := options{logger: slog.Default(), clock: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if o.clock == nil {
		o.clock = time.Now
	}

	a := &App{Config: cfg, Logger: o.logger, Clock: o.clock}

	if !o.custom {
		primary, err := a.openPrimary(ctx)
		if err != nil {
			return nil, err
		}
		o.primary = primary
		o.fallback = a.openFallback()
	}
	if o.fallback == nil {
		return nil, fmt.Errorf("no local fallback store configured")
	}

	a.Adapter = kv.NewAdapter(o.primary, o.fallback, kv.WithLogger(o.logger))
	a.Coalescer = coalesce.New(a.Adapter,
		coalesce.WithQuietPeriod(cfg.DebounceInterval()),
		coalesce.WithLogger(o.logger))
	a.Notifier = notify.New(a.Adapter, notify.WithLogger(o.logger))
	a.Store = records.New(a.Adapter, a.Coalescer, a.Notifier, o.logger)

	_, sel := a.Adapter.Select(ctx)
	o.logger.Debug("storage ready", "backend", sel, "config", cfg.Backend)
	return a, nil
}

// openPrimary returns the synchronized backend named by cfg.Backend, or nil
// when it is not present in this environment.
func (a *App) openPrimary(ctx context.Context) (kv.Backend, error) {
	cfg := a.Config
	switch cfg.Backend {
	case config.BackendGoogleTasks:
		client, err := googletasks.New(ctx, cfg,
			googletasks.WithLogger(a.Logger),
			googletasks.WithListTitle(cfg.StorageList),
			googletasks.WithPollInterval(cfg.PollInterval()))
		if errors.Is(err, kv.ErrUnavailable) {
			a.Logger.Info("google tasks not configured (run: weeklet login)", "error", err)
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return client, nil

	case config.BackendSyncDir:
		if err := os.MkdirAll(cfg.SyncDir, 0o700); err != nil {
			a.Logger.Warn("sync folder not available", "dir", cfg.SyncDir, "error", err)
		}
		store := syncdir.New(cfg.SyncDir, syncdir.WithLogger(a.Logger))
		a.closers = append(a.closers, store)
		return store, nil

	case config.BackendMemory:
		return kv.NewMemoryBackend(kv.AreaSync), nil

	case config.BackendLocal:
		return nil, nil

	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

func (a *App) openFallback() kv.Backend {
	if a.Config.Backend == config.BackendMemory {
		return kv.NewMemoryBackend(kv.AreaLocal)
	}
	store := sqlite.New(a.Config.LocalDB, sqlite.WithLogger(a.Logger))
	a.closers = append(a.closers, store)
	return store
}

// Service returns the view-facing record store.
func (a *App) Service() service.Service {
	return a.Store
}

// Today returns the local day key of the app's clock.
func (a *App) Today() string {
	return datekey.TodayKey(a.Clock())
}

// NewController creates an optimistic controller that is subscribed to
// external changes until Close.
func (a *App) NewController(render optimistic.RenderFunc, opts ...optimistic.Option) *optimistic.Controller {
	opts = append([]optimistic.Option{
		optimistic.WithLogger(a.Logger),
		optimistic.WithClock(a.Clock),
	}, opts...)
	ctrl := optimistic.New(a.Store, render, opts...)
	sub := a.Store.Subscribe(ctrl)

	a.mu.Lock()
	a.subs = append(a.subs, sub)
	a.mu.Unlock()
	return ctrl
}

// Flush sends pending writes now instead of after the quiet period.
func (a *App) Flush(ctx context.Context) error {
	return a.Coalescer.Flush(ctx)
}

// Close flushes pending writes, stops change delivery and closes the
// backends. It is safe to call more than once.
func (a *App) Close(ctx context.Context) error {
	a.closeOnce.Do(func() {
		var errs []error
		if err := a.Coalescer.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("flush pending writes: %w", err))
		}

		a.mu.Lock()
		for _, sub := range a.subs {
			sub.Cancel()
		}
		a.subs = nil
		a.mu.Unlock()
		a.Notifier.Close()

		for _, c := range a.closers {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		a.closeErr = errors.Join(errs...)
	})
	return a.closeErr
}
