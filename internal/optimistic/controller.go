// Package optimistic applies task mutations to in-memory state at once,
// persists them in the background and reverts them when the write fails.
package optimistic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"weeklet/internal/datekey"
	"weeklet/internal/kv"
	"weeklet/internal/records"
	"weeklet/internal/service"
)

var (
	// ErrEmptyTitle is returned when adding a task with a blank title.
	ErrEmptyTitle = errors.New("task title cannot be empty")

	// ErrTaskNotFound is returned when no task on the day has the given ID.
	ErrTaskNotFound = errors.New("task not found")
)

// RenderFunc is called with a copy of a day's tasks, in stored order,
// whenever the in-memory state of that day changes.
type RenderFunc func(day string, tasks []service.Task)

// Op is the persistence outcome of one mutation.
type Op struct {
	done chan struct{}
	err  error
}

func newOp() *Op {
	return &Op{done: make(chan struct{})}
}

func (o *Op) resolve(err error) {
	o.err = err
	close(o.done)
}

// Done is closed once the write has completed or the mutation was reverted.
func (o *Op) Done() <-chan struct{} { return o.done }

// Wait blocks until the write completes. A non-nil error means the
// mutation has already been reverted in memory. A mutation whose own write
// failed still succeeds when a later write of the same day is stored, as
// that write carries it.
func (o *Op) Wait(ctx context.Context) error {
	select {
	case <-o.done:
		return o.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Controller holds the loaded days and the mutation operations on them.
type Controller struct {
	svc    service.Service
	render RenderFunc
	logger *slog.Logger
	now    func() time.Time
	newID  func() string

	mu   sync.Mutex
	days map[string][]service.Task
	// pending holds the unconfirmed mutations of each day, oldest first.
	// Failed mutations are undone newest first so every undo sees the
	// state its own mutation produced.
	pending map[string][]*pendingOp
	// echoes holds the values this controller queued and has not yet seen
	// confirmed, so their change notifications are not treated as external.
	echoes map[string][]json.RawMessage
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the controller logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		c.logger = logger
	}
}

// WithClock sets the clock used for task timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		c.now = now
	}
}

// WithIDGenerator sets the task ID generator.
func WithIDGenerator(newID func() string) Option {
	return func(c *Controller) {
		c.newID = newID
	}
}

// New creates a controller. render may be nil.
func New(svc service.Service, render RenderFunc, opts ...Option) *Controller {
	if render == nil {
		render = func(string, []service.Task) {}
	}
	c := &Controller{
		svc:    svc,
		render: render,
		logger: slog.Default(),
		now:    time.Now,
		newID:  uuid.NewString,
		days:    make(map[string][]service.Task),
		pending: make(map[string][]*pendingOp),
		echoes:  make(map[string][]json.RawMessage),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Load reads day from storage into memory and renders it.
func (c *Controller) Load(ctx context.Context, day string) []service.Task {
	tasks := c.svc.GetTasks(ctx, day)

	c.mu.Lock()
	c.days[day] = service.CloneTasks(tasks)
	c.mu.Unlock()

	c.render(day, service.CloneTasks(tasks))
	return tasks
}

// Tasks returns a copy of the in-memory tasks of day, in stored order.
func (c *Controller) Tasks(day string) ([]service.Task, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	tasks, ok := c.days[day]
	if !ok {
		return nil, false
	}
	return service.CloneTasks(tasks), true
}

func (c *Controller) ensureLoaded(ctx context.Context, day string) error {
	if !datekey.Valid(day) {
		return fmt.Errorf("invalid day %q: want YYYY-MM-DD", day)
	}
	c.mu.Lock()
	_, ok := c.days[day]
	c.mu.Unlock()
	if ok {
		return nil
	}

	tasks := c.svc.GetTasks(ctx, day)
	c.mu.Lock()
	if _, ok := c.days[day]; !ok {
		c.days[day] = service.CloneTasks(tasks)
	}
	c.mu.Unlock()
	return nil
}

// AddTask appends a new task to day. It returns as soon as the task is
// visible in memory.
func (c *Controller) AddTask(ctx context.Context, day, title string, priority service.Priority) (service.Task, *Op, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return service.Task{}, nil, ErrEmptyTitle
	}
	priority, err := service.ParsePriority(string(priority))
	if err != nil {
		return service.Task{}, nil, err
	}
	if err := c.ensureLoaded(ctx, day); err != nil {
		return service.Task{}, nil, err
	}

	now := c.now().UTC()
	task := service.Task{
		ID:        c.newID(),
		Title:     title,
		Priority:  priority,
		CreatedAt: now,
		UpdatedAt: now,
	}

	op, err := c.apply(ctx, day,
		func(tasks []service.Task) ([]service.Task, error) {
			return append(tasks, task), nil
		},
		func(tasks []service.Task) []service.Task {
			if i := indexOf(tasks, task.ID); i >= 0 {
				return append(tasks[:i:i], tasks[i+1:]...)
			}
			return tasks
		})
	if err != nil {
		return service.Task{}, nil, err
	}
	return task, op, nil
}

// ToggleTask flips the completion flag of the task with id.
func (c *Controller) ToggleTask(ctx context.Context, day, id string) (*Op, error) {
	if err := c.ensureLoaded(ctx, day); err != nil {
		return nil, err
	}

	var prior service.Task
	return c.apply(ctx, day,
		func(tasks []service.Task) ([]service.Task, error) {
			i := indexOf(tasks, id)
			if i < 0 {
				return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
			}
			prior = tasks[i]
			tasks[i].Done = !tasks[i].Done
			tasks[i].UpdatedAt = c.now().UTC()
			return tasks, nil
		},
		func(tasks []service.Task) []service.Task {
			if i := indexOf(tasks, id); i >= 0 {
				tasks[i].Done = prior.Done
				tasks[i].UpdatedAt = prior.UpdatedAt
			}
			return tasks
		})
}

// DeleteTask removes the task with id.
func (c *Controller) DeleteTask(ctx context.Context, day, id string) (*Op, error) {
	if err := c.ensureLoaded(ctx, day); err != nil {
		return nil, err
	}

	var (
		removed service.Task
		index   int
	)
	return c.apply(ctx, day,
		func(tasks []service.Task) ([]service.Task, error) {
			index = indexOf(tasks, id)
			if index < 0 {
				return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
			}
			removed = tasks[index]
			return append(tasks[:index:index], tasks[index+1:]...), nil
		},
		func(tasks []service.Task) []service.Task {
			if indexOf(tasks, id) >= 0 {
				return tasks
			}
			at := min(index, len(tasks))
			out := make([]service.Task, 0, len(tasks)+1)
			out = append(out, tasks[:at]...)
			out = append(out, removed)
			return append(out, tasks[at:]...)
		})
}

// apply runs mutate on the day's tasks, queues the result and renders it.
// revert is applied if the queued write later fails.
func (c *Controller) apply(
	ctx context.Context,
	day string,
	mutate func([]service.Task) ([]service.Task, error),
	revert func([]service.Task) []service.Task,
) (*Op, error) {
	c.mu.Lock()
	before := c.days[day]
	next, err := mutate(service.CloneTasks(before))
	if err != nil {
		c.mu.Unlock()
		return nil, err
	}

	// Queue under the lock so the coalescer sees snapshots in mutation order.
	ticket, err := c.svc.SetTasks(ctx, day, next)
	if err != nil {
		c.mu.Unlock()
		return nil, err
	}
	c.days[day] = next
	echo := encode(next)
	key := records.TasksKey(day)
	c.echoes[key] = append(c.echoes[key], echo)
	p := &pendingOp{op: newOp(), revert: revert}
	c.pending[day] = append(c.pending[day], p)
	snapshot := service.CloneTasks(next)
	c.mu.Unlock()

	c.render(day, snapshot)

	go func() {
		err := ticket.Wait(context.Background())
		c.forgetEcho(key, echo)
		c.settle(day, p, err)
	}()
	return p.op, nil
}

type pendingOp struct {
	op      *Op
	revert  func([]service.Task) []service.Task
	settled bool
	err     error
}

// settle records the write result of p and resolves every mutation of day
// that can be decided now. Starting from the newest mutation: a failed one is
// undone, and a successful one confirms itself and every older mutation,
// since its write carried the whole day. An unsettled mutation stops the walk.
func (c *Controller) settle(day string, p *pendingOp, err error) {
	type result struct {
		op  *Op
		err error
	}
	var (
		results  []result
		reverted bool
		snapshot []service.Task
	)

	c.mu.Lock()
	p.settled, p.err = true, err
	stack := c.pending[day]
	for len(stack) > 0 {
		top := stack[len(stack)-1]
		if !top.settled {
			break
		}
		stack = stack[:len(stack)-1]

		if top.err == nil {
			for _, older := range stack {
				results = append(results, result{op: older.op})
			}
			results = append(results, result{op: top.op})
			stack = nil
			break
		}

		c.logger.Warn("reverting task change", "day", day, "error", top.err)
		if tasks, ok := c.days[day]; ok {
			c.days[day] = top.revert(service.CloneTasks(tasks))
			reverted = true
		}
		results = append(results, result{op: top.op, err: top.err})
	}
	if len(stack) == 0 {
		delete(c.pending, day)
	} else {
		c.pending[day] = stack
	}
	if reverted {
		snapshot = service.CloneTasks(c.days[day])
	}
	c.mu.Unlock()

	if reverted {
		c.render(day, snapshot)
	}
	for _, r := range results {
		r.op.resolve(r.err)
	}
}

func (c *Controller) forgetEcho(key string, value json.RawMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	pending := c.echoes[key]
	for i, v := range pending {
		if string(v) == string(value) {
			pending = append(pending[:i:i], pending[i+1:]...)
			break
		}
	}
	if len(pending) == 0 {
		delete(c.echoes, key)
		return
	}
	c.echoes[key] = pending
}

// OnChange implements notify.Listener.
func (c *Controller) OnChange(keys []string, changes map[string]kv.ValueChange) {
	c.HandleChange(keys, changes)
}

// HandleChange replaces every loaded day whose stored content differs from
// memory and renders each replaced day once. Days that are not loaded and
// changes this controller queued itself are ignored.
func (c *Controller) HandleChange(keys []string, changes map[string]kv.ValueChange) {
	type update struct {
		day   string
		tasks []service.Task
	}
	var updates []update

	c.mu.Lock()
	for _, key := range keys {
		day, ok := records.DayFromKey(key)
		if !ok {
			continue
		}
		current, loaded := c.days[day]
		if !loaded {
			continue
		}
		change := changes[key]
		if c.isEcho(key, change.NewValue) {
			continue
		}
		incoming, err := records.DecodeTasks(change.NewValue)
		if err != nil {
			c.logger.Warn("ignoring undecodable task change", "day", day, "error", err)
			continue
		}
		if kv.SameValue(encode(current), encode(incoming)) {
			continue
		}
		c.days[day] = incoming
		updates = append(updates, update{day: day, tasks: service.CloneTasks(incoming)})
	}
	c.mu.Unlock()

	for _, u := range updates {
		c.render(u.day, u.tasks)
	}
}

// isEcho must be called with c.mu held.
func (c *Controller) isEcho(key string, value json.RawMessage) bool {
	for _, v := range c.echoes[key] {
		if kv.SameValue(v, value) {
			return true
		}
	}
	return false
}

func indexOf(tasks []service.Task, id string) int {
	for i, t := range tasks {
		if t.ID == id {
			return i
		}
	}
	return -1
}

func encode(tasks []service.Task) json.RawMessage {
	if tasks == nil {
		tasks = []service.Task{}
	}
	data, err := json.Marshal(tasks)
	if err != nil {
		return nil
	}
	return data
}
