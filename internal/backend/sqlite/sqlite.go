// Package sqlite implements the device-local fallback kv.Backend on a
// SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"weeklet/internal/kv"
)

const operationTimeout = 5 * time.Second

// Store implements kv.Backend and kv.Watcher for the local area.
type Store struct {
	path   string
	logger *slog.Logger

	initOnce sync.Once
	initErr  error
	db       *sql.DB

	mu       sync.Mutex
	watchers map[uint64]func(kv.Change)
	nextID   uint64
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the store logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// New creates a store for the database file at path. The file is opened on
// first use.
func New(path string, opts ...Option) *Store {
	s := &Store{
		path:     path,
		logger:   slog.Default(),
		watchers: make(map[uint64]func(kv.Change)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Area implements kv.Backend.
func (s *Store) Area() kv.Area { return kv.AreaLocal }

func (s *Store) ensureReady() error {
	s.initOnce.Do(func() {
		if dir := filepath.Dir(s.path); dir != "" {
			if err := os.MkdirAll(dir, 0o700); err != nil {
				s.initErr = fmt.Errorf("create database dir: %w", err)
				return
			}
		}

		db, err := sql.Open("sqlite", s.path)
		if err != nil {
			s.initErr = fmt.Errorf("open sqlite: %w", err)
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), operationTimeout)
		defer cancel()

		// WAL mode and busy timeout for concurrent access from several processes
		if _, err := db.ExecContext(ctx, `
			PRAGMA journal_mode = WAL;
			PRAGMA synchronous = NORMAL;
			PRAGMA busy_timeout = 5000;
		`); err != nil {
			_ = db.Close()
			s.initErr = fmt.Errorf("set pragmas: %w", err)
			return
		}

		if _, err := db.ExecContext(ctx, `
			CREATE TABLE IF NOT EXISTS kv (
				key TEXT PRIMARY KEY,
				value TEXT NOT NULL,
				updated_at TEXT NOT NULL
			)`); err != nil {
			_ = db.Close()
			s.initErr = fmt.Errorf("create table: %w", err)
			return
		}
		s.db = db
	})
	return s.initErr
}

// Get implements kv.Backend.
func (s *Store) Get(ctx context.Context, keys []string) (map[string]json.RawMessage, error) {
	out := make(map[string]json.RawMessage, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	if err := s.ensureReady(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, operationTimeout)
	defer cancel()

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(keys)), ",")
	args := make([]any, len(keys))
	for i, k := range keys {
		args[i] = k
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT key, value FROM kv WHERE key IN ("+placeholders+")", args...)
	if err != nil {
		return nil, fmt.Errorf("query kv: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("scan kv: %w", err)
		}
		out[key] = json.RawMessage(value)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate kv: %w", err)
	}
	return out, nil
}

// Set implements kv.Backend. All entries are written in one transaction.
func (s *Store) Set(ctx context.Context, entries map[string]json.RawMessage) error {
	if len(entries) == 0 {
		return nil
	}
	keys := make([]string, 0, len(entries))
	for k, v := range entries {
		if k == "" {
			return kv.ErrInvalidKey
		}
		if !json.Valid(v) {
			return fmt.Errorf("value for %s is not valid JSON", k)
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	if err := s.ensureReady(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, operationTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	changes := make(map[string]kv.ValueChange)
	for _, k := range keys {
		var old sql.NullString
		err := tx.QueryRowContext(ctx, "SELECT value FROM kv WHERE key = ?", k).Scan(&old)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("read %s: %w", k, err)
		}
		var oldValue json.RawMessage
		if old.Valid {
			oldValue = json.RawMessage(old.String)
			if kv.SameValue(oldValue, entries[k]) {
				continue
			}
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
			ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
			k, string(entries[k]), now); err != nil {
			return fmt.Errorf("write %s: %w", k, err)
		}
		changes[k] = kv.ValueChange{OldValue: oldValue, NewValue: kv.Clone(entries[k])}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	s.emit(changes)
	return nil
}

// Watch implements kv.Watcher. Only writes made through this store are
// reported.
func (s *Store) Watch(ctx context.Context, fn func(kv.Change)) error {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.watchers[id] = fn
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.watchers, id)
		s.mu.Unlock()
	}()
	return nil
}

func (s *Store) emit(changes map[string]kv.ValueChange) {
	if len(changes) == 0 {
		return
	}
	s.mu.Lock()
	fns := make([]func(kv.Change), 0, len(s.watchers))
	for _, fn := range s.watchers {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(kv.Change{Area: kv.AreaLocal, Changes: changes})
	}
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
