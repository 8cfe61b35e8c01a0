// Package testutil provides testing utilities.
package testutil

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"weeklet/internal/kv"
)

// ErrInjected is a convenient error for failure injection.
var ErrInjected = errors.New("injected failure")

// FakeBackend is an in-memory kv.Backend for testing. It records every call
// and lets tests inject errors and availability.
type FakeBackend struct {
	mu       sync.Mutex
	area     kv.Area
	values   map[string]json.RawMessage
	setCalls []map[string]json.RawMessage
	getCalls [][]string
	watchFn  func(kv.Change)
	watches  int

	// Error injection for testing
	GetErr   error
	SetErr   error
	WatchErr error

	// Unavailable makes Available report false.
	Unavailable bool

	// SetHook, if set, runs at the start of every Set with the entries.
	SetHook func(entries map[string]json.RawMessage)
}

// NewFakeBackend creates an empty FakeBackend for the given area.
func NewFakeBackend(area kv.Area) *FakeBackend {
	return &FakeBackend{
		area:   area,
		values: make(map[string]json.RawMessage),
	}
}

// Put stores a value directly, bypassing call recording and change events.
func (f *FakeBackend) Put(key string, value any) {
	data, err := json.Marshal(value)
	if err != nil {
		panic(err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values[key] = data
}

// Value returns the raw stored value for key.
func (f *FakeBackend) Value(key string) (json.RawMessage, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.values[key]
	return kv.Clone(v), ok
}

// SetCalls returns a copy of the entries passed to every successful or failed Set.
func (f *FakeBackend) SetCalls() []map[string]json.RawMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]map[string]json.RawMessage, len(f.setCalls))
	copy(out, f.setCalls)
	return out
}

// GetCalls returns the keys passed to every Get.
func (f *FakeBackend) GetCalls() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]string, len(f.getCalls))
	copy(out, f.getCalls)
	return out
}

// WatchCount returns how many times Watch was called.
func (f *FakeBackend) WatchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.watches
}

// Emit delivers a change to the installed watcher as if another process wrote it.
func (f *FakeBackend) Emit(change kv.Change) {
	f.mu.Lock()
	fn := f.watchFn
	f.mu.Unlock()
	if fn != nil {
		fn(change)
	}
}

// Area implements kv.Backend.
func (f *FakeBackend) Area() kv.Area { return f.area }

// Available implements kv.Prober.
func (f *FakeBackend) Available(ctx context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.Unavailable
}

// Get implements kv.Backend.
func (f *FakeBackend) Get(ctx context.Context, keys []string) (map[string]json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls = append(f.getCalls, append([]string(nil), keys...))
	if f.GetErr != nil {
		return nil, f.GetErr
	}
	out := make(map[string]json.RawMessage)
	for _, k := range keys {
		if v, ok := f.values[k]; ok {
			out[k] = kv.Clone(v)
		}
	}
	return out, nil
}

// Set implements kv.Backend.
func (f *FakeBackend) Set(ctx context.Context, entries map[string]json.RawMessage) error {
	if f.SetHook != nil {
		f.SetHook(entries)
	}
	f.mu.Lock()
	recorded := make(map[string]json.RawMessage, len(entries))
	for k, v := range entries {
		recorded[k] = kv.Clone(v)
	}
	f.setCalls = append(f.setCalls, recorded)
	if f.SetErr != nil {
		err := f.SetErr
		f.mu.Unlock()
		return err
	}
	changes := make(map[string]kv.ValueChange, len(entries))
	for k, v := range entries {
		changes[k] = kv.ValueChange{OldValue: f.values[k], NewValue: kv.Clone(v)}
		f.values[k] = kv.Clone(v)
	}
	fn := f.watchFn
	f.mu.Unlock()

	if fn != nil {
		fn(kv.Change{Area: f.area, Changes: changes})
	}
	return nil
}

// Watch implements kv.Watcher.
func (f *FakeBackend) Watch(ctx context.Context, fn func(kv.Change)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.watches++
	if f.WatchErr != nil {
		return f.WatchErr
	}
	f.watchFn = fn
	return nil
}
