package kv

import (
	"context"
	"encoding/json"
	"sync"
)

// MemoryBackend is an in-process Backend. Values are copied on the way in
// and out so callers never share memory with the store.
type MemoryBackend struct {
	area Area

	mu       sync.RWMutex
	values   map[string]json.RawMessage
	watchers map[int]func(Change)
	nextID   int
}

// NewMemoryBackend creates an empty in-memory backend for the given area.
func NewMemoryBackend(area Area) *MemoryBackend {
	return &MemoryBackend{
		area:     area,
		values:   make(map[string]json.RawMessage),
		watchers: make(map[int]func(Change)),
	}
}

// Area implements Backend.
func (b *MemoryBackend) Area() Area { return b.area }

// Get implements Backend.
func (b *MemoryBackend) Get(ctx context.Context, keys []string) (map[string]json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make(map[string]json.RawMessage, len(keys))
	for _, k := range keys {
		if v, ok := b.values[k]; ok {
			out[k] = Clone(v)
		}
	}
	return out, nil
}

// Set implements Backend. Watchers see one Change per call covering the keys
// whose value actually changed.
func (b *MemoryBackend) Set(ctx context.Context, entries map[string]json.RawMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if b.area == AreaSync {
		for k, v := range entries {
			if err := CheckItemSize(k, v); err != nil {
				return err
			}
		}
	}

	b.mu.Lock()
	changes := make(map[string]ValueChange)
	for k, v := range entries {
		old, existed := b.values[k]
		if existed && SameValue(old, v) {
			continue
		}
		b.values[k] = Clone(v)
		changes[k] = ValueChange{OldValue: Clone(old), NewValue: Clone(v)}
	}
	watchers := make([]func(Change), 0, len(b.watchers))
	for id := 0; id < b.nextID; id++ {
		if fn, ok := b.watchers[id]; ok {
			watchers = append(watchers, fn)
		}
	}
	b.mu.Unlock()

	if len(changes) == 0 {
		return nil
	}
	for _, fn := range watchers {
		fn(Change{Area: b.area, Changes: changes})
	}
	return nil
}

// Watch implements Watcher.
func (b *MemoryBackend) Watch(ctx context.Context, fn func(Change)) error {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.watchers[id] = fn
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.watchers, id)
		b.mu.Unlock()
	}()
	return nil
}

// Len returns the number of stored keys.
func (b *MemoryBackend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.values)
}
