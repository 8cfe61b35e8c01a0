// Package kv defines the storage contract shared by every weeklet backend
// and the adapter that picks between the synchronized store and the local fallback.
package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// Area identifies which storage area a backend (or a change event) belongs to.
type Area string

const (
	// AreaSync is the synchronized area shared by every device and process.
	AreaSync Area = "sync"

	// AreaLocal is the device-local fallback area.
	AreaLocal Area = "local"
)

// MaxItemBytes is the largest key plus JSON value a synchronized backend accepts.
const MaxItemBytes = 8192

var (
	// ErrUnavailable reports that a backend is not present in this environment.
	ErrUnavailable = errors.New("backend unavailable")

	// ErrQuotaExceeded reports that a single item is larger than MaxItemBytes.
	ErrQuotaExceeded = errors.New("quota exceeded")

	// ErrInvalidKey reports a key the backend cannot store.
	ErrInvalidKey = errors.New("invalid key")
)

// Backend is a key-value store holding JSON values.
// Get omits absent keys from the result.
type Backend interface {
	Area() Area
	Get(ctx context.Context, keys []string) (map[string]json.RawMessage, error)
	Set(ctx context.Context, entries map[string]json.RawMessage) error
}

// Prober is implemented by backends whose presence can change at runtime.
type Prober interface {
	Available(ctx context.Context) bool
}

// Watcher is implemented by backends that report changes to their keys,
// including changes written by other processes.
type Watcher interface {
	// Watch calls fn for every change until ctx is cancelled.
	// It returns once the stream is installed.
	Watch(ctx context.Context, fn func(Change)) error
}

// ValueChange holds the previous and current value of one key.
// OldValue is nil for a new key.
type ValueChange struct {
	OldValue json.RawMessage `json:"oldValue,omitempty"`
	NewValue json.RawMessage `json:"newValue,omitempty"`
}

// Change is one change notification from a backend.
type Change struct {
	Area    Area
	Changes map[string]ValueChange
}

// Keys returns the changed keys in sorted order.
func (c Change) Keys() []string {
	keys := make([]string, 0, len(c.Changes))
	for k := range c.Changes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// BackendError wraps an error reported by the backend serving a call.
type BackendError struct {
	Op   string // "get" or "set"
	Area Area
	Err  error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("%s %s storage: %v", e.Op, e.Area, e.Err)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// PartialWriteError is returned by a Set that stored some entries but not
// all of them. Keys absent from Failed were stored.
type PartialWriteError struct {
	Failed map[string]error
}

func (e *PartialWriteError) Error() string {
	keys := e.keys()
	if len(keys) == 0 {
		return "partial write"
	}
	return fmt.Sprintf("partial write: %d keys not stored, %s: %v", len(keys), keys[0], e.Failed[keys[0]])
}

func (e *PartialWriteError) Unwrap() []error {
	keys := e.keys()
	errs := make([]error, len(keys))
	for i, k := range keys {
		errs[i] = e.Failed[k]
	}
	return errs
}

func (e *PartialWriteError) keys() []string {
	keys := make([]string, 0, len(e.Failed))
	for k := range e.Failed {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// KeyFailed reports whether a Set that returned err left key unstored.
// Any error other than a PartialWriteError means nothing was stored.
func KeyFailed(err error, key string) bool {
	if err == nil {
		return false
	}
	var pe *PartialWriteError
	if errors.As(err, &pe) {
		_, failed := pe.Failed[key]
		return failed
	}
	return true
}

// IsReadError reports whether err is a BackendError from a get.
func IsReadError(err error) bool {
	var be *BackendError
	return errors.As(err, &be) && be.Op == "get"
}

// IsWriteError reports whether err is a BackendError from a set.
func IsWriteError(err error) bool {
	var be *BackendError
	return errors.As(err, &be) && be.Op == "set"
}

// CheckItemSize returns ErrQuotaExceeded if key and value together exceed MaxItemBytes.
func CheckItemSize(key string, value json.RawMessage) error {
	if len(key)+len(value) > MaxItemBytes {
		return fmt.Errorf("%w: %s is %d bytes (max %d)", ErrQuotaExceeded, key, len(key)+len(value), MaxItemBytes)
	}
	return nil
}

// SameValue reports whether two JSON values are byte-identical after compaction.
func SameValue(a, b json.RawMessage) bool {
	if len(a) == 0 || len(b) == 0 {
		return len(a) == len(b)
	}
	ca, err := compact(a)
	if err != nil {
		return string(a) == string(b)
	}
	cb, err := compact(b)
	if err != nil {
		return string(a) == string(b)
	}
	return ca == cb
}

func compact(v json.RawMessage) (string, error) {
	var tmp any
	if err := json.Unmarshal(v, &tmp); err != nil {
		return "", err
	}
	out, err := json.Marshal(tmp)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// Clone returns a copy of v so callers cannot alias backend memory.
func Clone(v json.RawMessage) json.RawMessage {
	if v == nil {
		return nil
	}
	out := make(json.RawMessage, len(v))
	copy(out, v)
	return out
}
