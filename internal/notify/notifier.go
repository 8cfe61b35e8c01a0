// Package notify fans storage change notifications out to listeners.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"runtime/debug"
	"sync"

	"weeklet/internal/kv"
)

// Listener receives change notifications from the synchronized area.
// changes must be treated as read-only; it is shared by every listener.
type Listener interface {
	OnChange(keys []string, changes map[string]kv.ValueChange)
}

// ListenerFunc adapts a function to Listener. Functions are not comparable,
// so each ListenerFunc subscription is a separate registration.
type ListenerFunc func(keys []string, changes map[string]kv.ValueChange)

// OnChange implements Listener.
func (f ListenerFunc) OnChange(keys []string, changes map[string]kv.ValueChange) {
	f(keys, changes)
}

// Source is where the notifier gets its change stream.
type Source interface {
	Watch(ctx context.Context, fn func(kv.Change)) error
}

type registration struct {
	id       uint64
	listener Listener
}

// Notifier owns the listener registry and the backend change stream.
type Notifier struct {
	source Source
	logger *slog.Logger

	mu        sync.Mutex
	listeners []registration
	nextID    uint64
	installed bool
	ctx       context.Context
	cancel    context.CancelFunc
}

// Option configures a Notifier.
type Option func(*Notifier)

// WithLogger sets the logger used for deliveries and listener failures.
func WithLogger(logger *slog.Logger) Option {
	return func(n *Notifier) {
		n.logger = logger
	}
}

// New creates a notifier reading changes from source.
// Nothing is installed on source until the first Subscribe.
func New(source Source, opts ...Option) *Notifier {
	ctx, cancel := context.WithCancel(context.Background())
	n := &Notifier{
		source: source,
		logger: slog.Default(),
		ctx:    ctx,
		cancel: cancel,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Subscription is returned by Subscribe.
type Subscription struct {
	n  *Notifier
	id uint64
}

// Cancel removes the listener. It is safe to call more than once. Once it
// returns the listener will not be invoked again.
func (s *Subscription) Cancel() {
	if s == nil || s.n == nil {
		return
	}
	s.n.remove(s.id)
}

// Subscribe registers l and returns its subscription. Subscribing a
// comparable listener that is already registered returns the existing
// subscription. The backend stream is installed on the first call.
func (n *Notifier) Subscribe(l Listener) *Subscription {
	n.mu.Lock()
	defer n.mu.Unlock()

	if isComparable(l) {
		for _, r := range n.listeners {
			if isComparable(r.listener) && r.listener == l {
				return &Subscription{n: n, id: r.id}
			}
		}
	}

	n.nextID++
	id := n.nextID
	n.listeners = append(n.listeners, registration{id: id, listener: l})

	if !n.installed && n.ctx.Err() == nil {
		n.installed = true
		if err := n.source.Watch(n.ctx, n.dispatch); err != nil {
			// Leave installed unset so the next subscriber retries.
			n.installed = false
			n.logger.Error("install storage change listener", "error", err)
		}
	}
	return &Subscription{n: n, id: id}
}

func (n *Notifier) remove(id uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i, r := range n.listeners {
		if r.id == id {
			n.listeners = append(n.listeners[:i:i], n.listeners[i+1:]...)
			return
		}
	}
}

// Len returns the number of registered listeners.
func (n *Notifier) Len() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.listeners)
}

// Installed reports whether the backend stream has been installed.
func (n *Notifier) Installed() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.installed
}

// dispatch delivers one backend change to every listener in registration order.
func (n *Notifier) dispatch(change kv.Change) {
	if change.Area != kv.AreaSync || n.ctx.Err() != nil {
		// Local fallback changes are not propagated.
		return
	}
	keys := change.Keys()
	if len(keys) == 0 {
		return
	}
	n.logger.Debug("storage changed", "keys", keys)

	n.mu.Lock()
	snapshot := make([]registration, len(n.listeners))
	copy(snapshot, n.listeners)
	n.mu.Unlock()

	for _, r := range snapshot {
		if !n.registered(r.id) {
			continue
		}
		n.deliver(r, keys, change.Changes)
	}
}

func (n *Notifier) registered(id uint64) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, r := range n.listeners {
		if r.id == id {
			return true
		}
	}
	return false
}

func (n *Notifier) deliver(r registration, keys []string, changes map[string]kv.ValueChange) {
	defer func() {
		if p := recover(); p != nil {
			n.logger.Error("storage change listener failed",
				"listener", r.id,
				"panic", fmt.Sprintf("%v", p),
				"stack", string(debug.Stack()))
		}
	}()
	r.listener.OnChange(keys, changes)
}

// Close tears down the backend stream. Listeners stay registered but
// receive nothing further.
func (n *Notifier) Close() {
	n.cancel()
}

func isComparable(l Listener) bool {
	if l == nil {
		return false
	}
	return reflect.ValueOf(l).Comparable()
}
