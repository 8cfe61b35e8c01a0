// Package googletasks implements a synchronized kv.Backend on top of the
// Google Tasks API. Records live in a dedicated task list: each key is a
// task whose title is the key and whose notes hold the JSON value.
package googletasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	tasks "google.golang.org/api/tasks/v1"

	"weeklet/internal/config"
	"weeklet/internal/kv"
)

const (
	// PageSize is the number of tasks per page.
	PageSize = 100

	// APITimeout is the timeout for API calls.
	APITimeout = 10 * time.Second

	// DefaultPollInterval is used when no poll interval is configured.
	DefaultPollInterval = 30 * time.Second

	// OAuth scope for Google Tasks
	tasksScope = "https://www.googleapis.com/auth/tasks"
)

// ErrTokenExpired is returned when the API rejects the stored token.
var ErrTokenExpired = errors.New("token expired or revoked (run: weeklet login)")

// Scopes returns the OAuth scopes the backend needs.
func Scopes() []string {
	return []string{tasksScope}
}

type entry struct {
	taskID string
	value  json.RawMessage
}

// Client implements kv.Backend, kv.Prober and kv.Watcher.
type Client struct {
	svc       *tasks.Service
	listTitle string
	poll      time.Duration
	logger    *slog.Logger

	// syncMu serializes writes with incremental refreshes so a poll never
	// reports this client's own write a second time.
	syncMu sync.Mutex

	mu         sync.Mutex
	listID     string
	entries    map[string]entry
	loaded     bool
	updatedMin string
	authFailed bool
	watchers   map[uint64]func(kv.Change)
	nextID     uint64
}

// Option configures a Client.
type Option func(*Client)

// WithListTitle sets the task list that holds the records.
func WithListTitle(title string) Option {
	return func(c *Client) {
		if title != "" {
			c.listTitle = title
		}
	}
}

// WithPollInterval sets how often Watch polls for changes.
func WithPollInterval(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.poll = d
		}
	}
}

// WithLogger sets the client logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// New creates a new Google Tasks backend.
// Requires oauth_client.json and token.json to exist; if either is missing
// the error wraps kv.ErrUnavailable.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Client, error) {
	// Load OAuth client config
	clientJSON, err := os.ReadFile(cfg.OAuthClientPath())
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read oauth_client.json: %v", kv.ErrUnavailable, err)
	}

	oauthConfig, err := google.ConfigFromJSON(clientJSON, tasksScope)
	if err != nil {
		return nil, fmt.Errorf("invalid oauth_client.json: %w", err)
	}

	// Load token
	tokenData, err := os.ReadFile(cfg.TokenPath())
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read token.json: %v", kv.ErrUnavailable, err)
	}

	var token oauth2.Token
	if err := json.Unmarshal(tokenData, &token); err != nil {
		return nil, fmt.Errorf("invalid token.json: %w", err)
	}

	// Create token source that auto-refreshes
	tokenSource := oauthConfig.TokenSource(ctx, &token)

	// Create HTTP client with token source
	httpClient := oauth2.NewClient(ctx, tokenSource)

	opts = append([]Option{WithListTitle(cfg.StorageList), WithPollInterval(cfg.PollInterval())}, opts...)
	return NewWithHTTPClient(ctx, httpClient, nil, opts...)
}

// NewWithHTTPClient creates a client with a custom HTTP client. clientOpts
// are passed to the API service (tests use option.WithEndpoint).
func NewWithHTTPClient(ctx context.Context, httpClient *http.Client, clientOpts []option.ClientOption, opts ...Option) (*Client, error) {
	clientOpts = append([]option.ClientOption{option.WithHTTPClient(httpClient)}, clientOpts...)
	svc, err := tasks.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create tasks service: %w", err)
	}

	c := &Client{
		svc:       svc,
		listTitle: config.AppName,
		poll:      DefaultPollInterval,
		logger:    slog.Default(),
		entries:   make(map[string]entry),
		watchers:  make(map[uint64]func(kv.Change)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Area implements kv.Backend.
func (c *Client) Area() kv.Area { return kv.AreaSync }

// Available implements kv.Prober. It reports false once the API has
// rejected the token, so later calls go to the local fallback.
func (c *Client) Available(ctx context.Context) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.authFailed
}

// Get implements kv.Backend. It pulls the changes since the last call first.
func (c *Client) Get(ctx context.Context, keys []string) (map[string]json.RawMessage, error) {
	if _, err := c.refresh(ctx); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]json.RawMessage, len(keys))
	for _, k := range keys {
		if e, ok := c.entries[k]; ok {
			out[k] = kv.Clone(e.value)
		}
	}
	return out, nil
}

// Set implements kv.Backend. Every entry is checked against the item quota
// before anything is written. Entries are written one by one in key order;
// a failed write stops the batch and is reported as a kv.PartialWriteError.
func (c *Client) Set(ctx context.Context, entries map[string]json.RawMessage) error {
	keys := make([]string, 0, len(entries))
	for k, v := range entries {
		if strings.TrimSpace(k) == "" {
			return kv.ErrInvalidKey
		}
		if err := kv.CheckItemSize(k, v); err != nil {
			return err
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	c.syncMu.Lock()
	defer c.syncMu.Unlock()

	listID, err := c.ensureList(ctx)
	if err != nil {
		return err
	}
	if err := c.ensureLoaded(ctx, listID); err != nil {
		return err
	}

	changes := make(map[string]kv.ValueChange)
	for i, k := range keys {
		value := entries[k]

		c.mu.Lock()
		existing, ok := c.entries[k]
		c.mu.Unlock()
		if ok && kv.SameValue(existing.value, value) {
			continue
		}

		written, err := c.write(ctx, listID, k, existing.taskID, value)
		if err != nil {
			// Keys before this one are stored; this one and the rest are not.
			c.emit(changes)
			failed := make(map[string]error, len(keys)-i)
			for _, rest := range keys[i:] {
				failed[rest] = err
			}
			return &kv.PartialWriteError{Failed: failed}
		}

		c.mu.Lock()
		c.entries[k] = entry{taskID: written.Id, value: kv.Clone(value)}
		c.mu.Unlock()
		changes[k] = kv.ValueChange{OldValue: existing.value, NewValue: kv.Clone(value)}
	}

	c.emit(changes)
	return nil
}

func (c *Client) write(ctx context.Context, listID, key, taskID string, value json.RawMessage) (*tasks.Task, error) {
	ctx, cancel := context.WithTimeout(ctx, APITimeout)
	defer cancel()

	var (
		t   *tasks.Task
		err error
	)
	if taskID != "" {
		t, err = c.svc.Tasks.Patch(listID, taskID, &tasks.Task{Notes: string(value)}).Context(ctx).Do()
	} else {
		t, err = c.svc.Tasks.Insert(listID, &tasks.Task{Title: key, Notes: string(value)}).Context(ctx).Do()
	}
	if err != nil {
		return nil, c.wrapError(err)
	}
	c.observe(t.Updated)
	return t, nil
}

// Watch implements kv.Watcher. Changes made by this client are reported as
// they are written; changes made elsewhere are picked up by polling.
func (c *Client) Watch(ctx context.Context, fn func(kv.Change)) error {
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.watchers[id] = fn
	interval := c.poll
	c.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		defer func() {
			c.mu.Lock()
			delete(c.watchers, id)
			c.mu.Unlock()
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := c.refresh(ctx); err != nil && ctx.Err() == nil {
					c.logger.Warn("poll google tasks failed", "error", err)
				}
			}
		}
	}()
	return nil
}

// refresh pulls every task updated since the last refresh, applies the
// changes to the cache and reports them to watchers.
func (c *Client) refresh(ctx context.Context) (kv.Change, error) {
	c.syncMu.Lock()
	defer c.syncMu.Unlock()

	listID, err := c.ensureList(ctx)
	if err != nil {
		return kv.Change{}, err
	}

	c.mu.Lock()
	loaded := c.loaded
	updatedMin := c.updatedMin
	c.mu.Unlock()
	if !loaded {
		return kv.Change{}, c.ensureLoaded(ctx, listID)
	}

	items, err := c.listTasks(ctx, listID, updatedMin)
	if err != nil {
		return kv.Change{}, err
	}

	changes := make(map[string]kv.ValueChange)
	c.mu.Lock()
	for _, t := range items {
		key := t.Title
		old, exists := c.entries[key]
		if t.Deleted {
			if exists && old.taskID == t.Id {
				delete(c.entries, key)
				changes[key] = kv.ValueChange{OldValue: old.value}
			}
			continue
		}
		value := json.RawMessage(t.Notes)
		if !json.Valid(value) || (exists && kv.SameValue(old.value, value)) {
			continue
		}
		c.entries[key] = entry{taskID: t.Id, value: value}
		changes[key] = kv.ValueChange{OldValue: old.value, NewValue: kv.Clone(value)}
	}
	c.mu.Unlock()

	c.emit(changes)
	return kv.Change{Area: kv.AreaSync, Changes: changes}, nil
}

func (c *Client) ensureLoaded(ctx context.Context, listID string) error {
	c.mu.Lock()
	loaded := c.loaded
	c.mu.Unlock()
	if loaded {
		return nil
	}

	items, err := c.listTasks(ctx, listID, "")
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range items {
		if t.Deleted || !json.Valid([]byte(t.Notes)) {
			continue
		}
		c.entries[t.Title] = entry{taskID: t.Id, value: json.RawMessage(t.Notes)}
	}
	c.loaded = true
	return nil
}

func (c *Client) listTasks(ctx context.Context, listID, updatedMin string) ([]*tasks.Task, error) {
	ctx, cancel := context.WithTimeout(ctx, APITimeout)
	defer cancel()

	call := c.svc.Tasks.List(listID).
		MaxResults(PageSize).
		ShowCompleted(true).
		ShowHidden(true).
		ShowDeleted(updatedMin != "")
	if updatedMin != "" {
		call = call.UpdatedMin(updatedMin)
	}

	var result []*tasks.Task
	err := call.Pages(ctx, func(resp *tasks.Tasks) error {
		for _, t := range resp.Items {
			c.observe(t.Updated)
			result = append(result, t)
		}
		return nil
	})
	if err != nil {
		return nil, c.wrapError(err)
	}
	return result, nil
}

// observe advances the incremental sync cursor. UpdatedMin is inclusive,
// so the newest task is seen again and skipped as unchanged.
func (c *Client) observe(updated string) {
	if updated == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if updated > c.updatedMin {
		c.updatedMin = updated
	}
}

// ensureList finds the storage list by title, creating it on first use.
func (c *Client) ensureList(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.listID != "" {
		id := c.listID
		c.mu.Unlock()
		return id, nil
	}
	title := c.listTitle
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, APITimeout)
	defer cancel()

	var found string
	err := c.svc.Tasklists.List().MaxResults(100).Pages(ctx, func(resp *tasks.TaskLists) error {
		for _, list := range resp.Items {
			if found == "" && strings.EqualFold(strings.TrimSpace(list.Title), title) {
				found = list.Id
			}
		}
		return nil
	})
	if err != nil {
		return "", c.wrapError(err)
	}

	if found == "" {
		created, err := c.svc.Tasklists.Insert(&tasks.TaskList{Title: title}).Context(ctx).Do()
		if err != nil {
			return "", c.wrapError(err)
		}
		found = created.Id
		c.logger.Info("created storage list", "title", title)
	}

	c.mu.Lock()
	c.listID = found
	c.mu.Unlock()
	return found, nil
}

func (c *Client) emit(changes map[string]kv.ValueChange) {
	if len(changes) == 0 {
		return
	}
	c.mu.Lock()
	fns := make([]func(kv.Change), 0, len(c.watchers))
	for _, fn := range c.watchers {
		fns = append(fns, fn)
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn(kv.Change{Area: kv.AreaSync, Changes: changes})
	}
}

// wrapError wraps API errors with user-friendly messages and marks the
// client unavailable when the token is rejected.
func (c *Client) wrapError(err error) error {
	err = wrapError(err)
	if errors.Is(err, ErrTokenExpired) {
		c.mu.Lock()
		c.authFailed = true
		c.mu.Unlock()
	}
	return err
}

func wrapError(err error) error {
	if err == nil {
		return nil
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusUnauthorized, http.StatusForbidden:
			return ErrTokenExpired
		case http.StatusNotFound:
			return fmt.Errorf("not found")
		case http.StatusRequestEntityTooLarge:
			return kv.ErrQuotaExceeded
		}
	}

	errStr := err.Error()

	// Check for timeout
	if errors.Is(err, context.DeadlineExceeded) || strings.Contains(errStr, "context deadline exceeded") {
		return fmt.Errorf("request timed out")
	}

	// Check for auth errors
	if strings.Contains(errStr, "401") || strings.Contains(errStr, "403") {
		return ErrTokenExpired
	}

	return err
}
