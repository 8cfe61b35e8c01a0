// Package coalesce batches rapid writes into a single backend call.
//
// Writes are queued per key; a later write to the same key replaces the
// queued value. Every enqueue restarts a quiet-period timer and when it
// elapses the whole queue is sent in one Set. This is a best-effort layer:
// a failed flush is logged and reported to tickets, never retried.
package coalesce

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"weeklet/internal/kv"
)

// DefaultQuietPeriod is the quiet period used when none is configured.
const DefaultQuietPeriod = 150 * time.Millisecond

// flushTimeout bounds a timer-driven flush.
const flushTimeout = 30 * time.Second

// ErrClosed is reported to tickets enqueued after Close.
var ErrClosed = errors.New("coalescer closed")

// Setter is the backend call a flush is sent through.
type Setter interface {
	Set(ctx context.Context, entries map[string]json.RawMessage) error
}

// Ticket resolves when the flush that carries a write completes.
// A write that was replaced before flushing resolves with the flush of the
// value that replaced it.
type Ticket struct {
	done chan struct{}
	err  error
}

func newTicket() *Ticket {
	return &Ticket{done: make(chan struct{})}
}

func (t *Ticket) resolve(err error) {
	t.err = err
	close(t.done)
}

// Done is closed once the write has been flushed or has failed.
func (t *Ticket) Done() <-chan struct{} { return t.done }

// Err returns the flush error. Only valid after Done is closed.
func (t *Ticket) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

// Wait blocks until the ticket resolves or ctx is done.
func (t *Ticket) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

type pendingWrite struct {
	value   json.RawMessage
	tickets []*Ticket
}

// Coalescer holds the pending write queue and the flush timer.
type Coalescer struct {
	backend Setter
	quiet   time.Duration
	logger  *slog.Logger

	// flushMu keeps flushes in order, so a newer value of a key is never
	// stored before an older one.
	flushMu sync.Mutex

	mu       sync.Mutex
	pending  map[string]*pendingWrite
	timer    *time.Timer
	gen      uint64
	closed   bool
	inflight sync.WaitGroup
}

// Option configures a Coalescer.
type Option func(*Coalescer)

// WithQuietPeriod sets how long the queue must be idle before it is flushed.
func WithQuietPeriod(d time.Duration) Option {
	return func(c *Coalescer) {
		if d > 0 {
			c.quiet = d
		}
	}
}

// WithLogger sets the logger used for flush results.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coalescer) {
		c.logger = logger
	}
}

// New creates a coalescer that flushes through backend.
func New(backend Setter, opts ...Option) *Coalescer {
	c := &Coalescer{
		backend: backend,
		quiet:   DefaultQuietPeriod,
		logger:  slog.Default(),
		pending: make(map[string]*pendingWrite),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Enqueue queues value for key and restarts the quiet-period timer.
// It returns immediately.
func (c *Coalescer) Enqueue(key string, value json.RawMessage) *Ticket {
	ticket := newTicket()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		ticket.resolve(ErrClosed)
		return ticket
	}

	if pw, ok := c.pending[key]; ok {
		pw.value = value
		pw.tickets = append(pw.tickets, ticket)
	} else {
		c.pending[key] = &pendingWrite{value: value, tickets: []*Ticket{ticket}}
	}

	// Trailing debounce: at most one live timer, and a timer from an older
	// generation does nothing when it fires.
	if c.timer != nil {
		c.timer.Stop()
	}
	c.gen++
	gen := c.gen
	c.timer = time.AfterFunc(c.quiet, func() {
		c.fire(gen)
	})
	return ticket
}

func (c *Coalescer) fire(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || c.closed {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	_ = c.Flush(ctx)
}

// Flush sends everything queued so far in one Set. Writes enqueued while the
// Set is in flight go to the next flush. Flushing an empty queue is a no-op.
// When the backend reports a partial write, only the tickets of the keys
// that were not stored fail.
func (c *Coalescer) Flush(ctx context.Context) error {
	c.flushMu.Lock()
	defer c.flushMu.Unlock()

	c.mu.Lock()
	if len(c.pending) == 0 {
		c.mu.Unlock()
		return nil
	}
	batch := c.pending
	c.pending = make(map[string]*pendingWrite)
	c.inflight.Add(1)
	c.mu.Unlock()
	defer c.inflight.Done()

	entries := make(map[string]json.RawMessage, len(batch))
	keys := make([]string, 0, len(batch))
	for k, pw := range batch {
		entries[k] = pw.value
		keys = append(keys, k)
	}

	err := c.backend.Set(ctx, entries)
	if err != nil {
		c.logger.Error("debounced write failed", "keys", keys, "error", err)
	} else {
		c.logger.Debug("debounced write completed", "keys", keys)
	}

	for k, pw := range batch {
		var keyErr error
		if kv.KeyFailed(err, k) {
			keyErr = err
		}
		for _, t := range pw.tickets {
			t.resolve(keyErr)
		}
	}
	return err
}

// Pending returns the number of keys waiting to be flushed.
func (c *Coalescer) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Close stops the timer, flushes whatever is queued and waits for in-flight
// flushes. Later enqueues resolve with ErrClosed.
func (c *Coalescer) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.mu.Unlock()

	err := c.Flush(ctx)
	c.inflight.Wait()
	return err
}
