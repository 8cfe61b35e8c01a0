package kv

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
)

// Selection says which backend serves a call.
type Selection int

const (
	// Primary is the synchronized store.
	Primary Selection = iota

	// LocalFallback is the device-local store used while the primary is unavailable.
	LocalFallback
)

func (s Selection) String() string {
	switch s {
	case Primary:
		return "primary"
	case LocalFallback:
		return "local-fallback"
	default:
		return fmt.Sprintf("Selection(%d)", int(s))
	}
}

// Adapter serves gets and sets from the primary store when it is present and
// from the fallback otherwise. A single call is never split across backends.
type Adapter struct {
	primary  Backend
	fallback Backend
	logger   *slog.Logger

	degradedOnce sync.Once
}

// AdapterOption configures an Adapter.
type AdapterOption func(*Adapter)

// WithLogger sets the adapter logger.
func WithLogger(logger *slog.Logger) AdapterOption {
	return func(a *Adapter) {
		a.logger = logger
	}
}

// NewAdapter creates an adapter. primary may be nil when no synchronized
// store exists in this environment; fallback must not be nil.
func NewAdapter(primary, fallback Backend, opts ...AdapterOption) *Adapter {
	a := &Adapter{
		primary:  primary,
		fallback: fallback,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Select returns the backend that will serve the next call.
func (a *Adapter) Select(ctx context.Context) (Backend, Selection) {
	if a.primary != nil {
		p, ok := a.primary.(Prober)
		if !ok || p.Available(ctx) {
			return a.primary, Primary
		}
	}
	a.degradedOnce.Do(func() {
		a.logger.Warn("synchronized storage not available, using local fallback",
			"area", a.fallback.Area())
	})
	return a.fallback, LocalFallback
}

// Get returns the stored values for keys. Absent keys are omitted.
func (a *Adapter) Get(ctx context.Context, keys ...string) (map[string]json.RawMessage, error) {
	backend, sel := a.Select(ctx)
	values, err := backend.Get(ctx, keys)
	if err != nil {
		a.logger.Error("storage get failed", "backend", sel, "keys", keys, "error", err)
		return nil, &BackendError{Op: "get", Area: backend.Area(), Err: err}
	}
	if values == nil {
		values = map[string]json.RawMessage{}
	}
	return values, nil
}

// Set persists entries in one backend call.
func (a *Adapter) Set(ctx context.Context, entries map[string]json.RawMessage) error {
	if len(entries) == 0 {
		return nil
	}
	backend, sel := a.Select(ctx)
	if err := backend.Set(ctx, entries); err != nil {
		a.logger.Error("storage set failed", "backend", sel, "keys", len(entries), "error", err)
		return &BackendError{Op: "set", Area: backend.Area(), Err: err}
	}
	return nil
}

// Area reports the area of the backend currently selected.
func (a *Adapter) Area() Area {
	backend, _ := a.Select(context.Background())
	return backend.Area()
}

// Watch installs a change stream on the primary store if there is one,
// otherwise on the fallback. Backends without change streams are ignored.
func (a *Adapter) Watch(ctx context.Context, fn func(Change)) error {
	backend := a.fallback
	if a.primary != nil {
		backend = a.primary
	}
	w, ok := backend.(Watcher)
	if !ok {
		a.logger.Debug("storage backend has no change stream", "area", backend.Area())
		return nil
	}
	return w.Watch(ctx, fn)
}
