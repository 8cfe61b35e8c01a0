// Package syncdir implements a synchronized kv.Backend over a folder that a
// file sync tool (Syncthing, Dropbox, iCloud Drive) keeps in step across
// devices. Each key is stored as <dir>/<key>.json.
package syncdir

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"weeklet/internal/kv"
)

const fileExt = ".json"

var validKey = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Store implements kv.Backend, kv.Prober and kv.Watcher.
type Store struct {
	dir    string
	logger *slog.Logger

	// writeMu serializes file writes with event handling so a write and
	// its own fsnotify echo are never both reported.
	writeMu sync.Mutex

	mu       sync.Mutex
	known    map[string]json.RawMessage
	watchers map[uint64]func(kv.Change)
	nextID   uint64
	fsw      *fsnotify.Watcher
	done     chan struct{}
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the store logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// New creates a store over dir. The directory is not created; while it is
// missing the store reports itself unavailable.
func New(dir string, opts ...Option) *Store {
	s := &Store{
		dir:      dir,
		logger:   slog.Default(),
		known:    make(map[string]json.RawMessage),
		watchers: make(map[uint64]func(kv.Change)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dir returns the synchronized folder.
func (s *Store) Dir() string { return s.dir }

// Area implements kv.Backend.
func (s *Store) Area() kv.Area { return kv.AreaSync }

// Available implements kv.Prober.
func (s *Store) Available(ctx context.Context) bool {
	info, err := os.Stat(s.dir)
	return err == nil && info.IsDir()
}

func (s *Store) path(key string) string {
	return filepath.Join(s.dir, key+fileExt)
}

func checkKey(key string) error {
	if !validKey.MatchString(key) {
		return fmt.Errorf("%w: %q", kv.ErrInvalidKey, key)
	}
	return nil
}

// Get implements kv.Backend.
func (s *Store) Get(ctx context.Context, keys []string) (map[string]json.RawMessage, error) {
	out := make(map[string]json.RawMessage, len(keys))
	for _, k := range keys {
		if err := checkKey(k); err != nil {
			return nil, err
		}
		data, err := os.ReadFile(s.path(k))
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", k, err)
		}
		if !json.Valid(data) {
			return nil, fmt.Errorf("read %s: invalid JSON", k)
		}
		out[k] = data
	}
	return out, nil
}

// Set implements kv.Backend. Each file is replaced atomically; entries are
// validated before any file is written.
func (s *Store) Set(ctx context.Context, entries map[string]json.RawMessage) error {
	keys := make([]string, 0, len(entries))
	for k, v := range entries {
		if err := checkKey(k); err != nil {
			return err
		}
		if err := kv.CheckItemSize(k, v); err != nil {
			return err
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	if !s.Available(ctx) {
		return fmt.Errorf("%w: %s does not exist", kv.ErrUnavailable, s.dir)
	}

	changes, err := s.writeBatch(ctx, keys, entries)
	s.emit(changes)
	return err
}

// writeBatch replaces the files of keys and returns the changes it made.
func (s *Store) writeBatch(ctx context.Context, keys []string, entries map[string]json.RawMessage) (map[string]kv.ValueChange, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	// Stage every changed value before replacing any file, so a failed
	// temp write leaves the folder untouched.
	type staged struct {
		key string
		old json.RawMessage
		tmp string
	}
	var batch []staged
	defer func() {
		for _, st := range batch {
			os.Remove(st.tmp)
		}
	}()
	for _, k := range keys {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		value := entries[k]
		old, readErr := os.ReadFile(s.path(k))
		if readErr != nil {
			old = nil
		}
		if old != nil && kv.SameValue(old, value) {
			continue
		}
		tmp, err := writeTemp(s.path(k), value)
		if err != nil {
			return nil, fmt.Errorf("write %s: %w", k, err)
		}
		batch = append(batch, staged{key: k, old: old, tmp: tmp})
	}

	changes := make(map[string]kv.ValueChange)
	failed := make(map[string]error)
	for _, st := range batch {
		if err := os.Rename(st.tmp, s.path(st.key)); err != nil {
			failed[st.key] = fmt.Errorf("write %s: %w", st.key, err)
			continue
		}
		value := entries[st.key]
		s.mu.Lock()
		s.known[st.key] = kv.Clone(value)
		s.mu.Unlock()
		changes[st.key] = kv.ValueChange{OldValue: st.old, NewValue: kv.Clone(value)}
	}

	if len(failed) > 0 {
		return changes, &kv.PartialWriteError{Failed: failed}
	}
	return changes, nil
}

// writeTemp writes data to a synced temp file next to path and returns its name.
func writeTemp(path string, data []byte) (string, error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return "", err
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(name)
		return "", err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(name)
		return "", err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(name)
		return "", err
	}
	return name, nil
}

// Watch implements kv.Watcher. The fsnotify watch is started by the first
// call and stays up until Close.
func (s *Store) Watch(ctx context.Context, fn func(kv.Change)) error {
	if err := s.start(); err != nil {
		return err
	}

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

func (s *Store) start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fsw != nil {
		return nil
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := fsw.Add(s.dir); err != nil {
		fsw.Close()
		return fmt.Errorf("watch %s: %w", s.dir, err)
	}

	// Seed the known contents so the first event for a file reports a real
	// old value and unchanged rewrites are ignored.
	entries, err := os.ReadDir(s.dir)
	if err == nil {
		for _, e := range entries {
			key, ok := keyFromName(e.Name())
			if !ok {
				continue
			}
			if data, err := os.ReadFile(s.path(key)); err == nil && json.Valid(data) {
				s.known[key] = data
			}
		}
	}

	s.fsw = fsw
	s.done = make(chan struct{})
	go s.loop(fsw, s.done)
	s.logger.Debug("sync folder watcher started", "dir", s.dir)
	return nil
}

func (s *Store) loop(fsw *fsnotify.Watcher, done chan struct{}) {
	for {
		select {
		case <-done:
			return
		case event, ok := <-fsw.Events:
			if !ok {
				return
			}
			s.handleEvent(event)
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			s.logger.Error("fsnotify error", "error", err)
		}
	}
}

func (s *Store) handleEvent(event fsnotify.Event) {
	key, ok := keyFromName(filepath.Base(event.Name))
	if !ok {
		return
	}

	change, ok := s.diff(key)
	if !ok {
		return
	}
	s.logger.Debug("sync folder changed", "key", key, "op", event.Op.String())
	s.emit(map[string]kv.ValueChange{key: change})
}

// diff compares the file of key with its last known content and records
// the new content.
func (s *Store) diff(key string) (kv.ValueChange, bool) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	data, err := os.ReadFile(s.path(key))
	switch {
	case errors.Is(err, os.ErrNotExist):
		data = nil
	case err != nil:
		s.logger.Warn("read changed file", "key", key, "error", err)
		return kv.ValueChange{}, false
	case !json.Valid(data):
		// Partially synced file; a later event carries the complete content.
		return kv.ValueChange{}, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	old, had := s.known[key]
	if (data == nil && !had) || (data != nil && had && kv.SameValue(old, data)) {
		return kv.ValueChange{}, false
	}
	if data == nil {
		delete(s.known, key)
	} else {
		s.known[key] = data
	}
	return kv.ValueChange{OldValue: old, NewValue: kv.Clone(data)}, true
}

func keyFromName(name string) (string, bool) {
	if strings.HasPrefix(name, ".") || !strings.HasSuffix(name, fileExt) {
		return "", false
	}
	key := strings.TrimSuffix(name, fileExt)
	return key, validKey.MatchString(key)
}

func (s *Store) emit(changes map[string]kv.ValueChange) {
	if len(changes) == 0 {
		return
	}
	s.mu.Lock()
	ids := make([]uint64, 0, len(s.watchers))
	for id := range s.watchers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	fns := make([]func(kv.Change), len(ids))
	for i, id := range ids {
		fns[i] = s.watchers[id]
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(kv.Change{Area: kv.AreaSync, Changes: changes})
	}
}

// Close stops the fsnotify watch.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fsw == nil {
		return nil
	}
	close(s.done)
	err := s.fsw.Close()
	s.fsw = nil
	if err != nil {
		return fmt.Errorf("close fsnotify watcher: %w", err)
	}
	return nil
}
