package objectstore

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"sync"
)

// MemoryObject is one object stored in a MemoryAdapter.
type MemoryObject struct {
	Meta ObjectMeta
	Body []byte
}

// MemoryAdapter is an in-memory Adapter test double, letting unit tests
// exercise Discovery, the Raw Loader, and the Staging Transformer without a
// network dependency.
type MemoryAdapter struct {
	mu      sync.RWMutex
	objects map[string]MemoryObject
}

var _ Adapter = (*MemoryAdapter)(nil)

// NewMemoryAdapter returns an empty MemoryAdapter.
func NewMemoryAdapter() *MemoryAdapter {
	return &MemoryAdapter{objects: make(map[string]MemoryObject)}
}

// Put registers or replaces an object, returning the caller for chaining in
// test setup.
func (a *MemoryAdapter) Put(obj MemoryObject) *MemoryAdapter {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.objects[obj.Meta.Key] = obj

	return a
}

// List enumerates objects with keys starting with prefix, sorted by key for
// deterministic test assertions.
func (a *MemoryAdapter) List(_ context.Context, prefix string) ([]ObjectMeta, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	var out []ObjectMeta

	for key, obj := range a.objects {
		if strings.HasPrefix(key, prefix) {
			out = append(out, obj.Meta)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })

	return out, nil
}

// Head returns metadata for key.
func (a *MemoryAdapter) Head(_ context.Context, key string) (ObjectMeta, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	obj, ok := a.objects[key]
	if !ok {
		return ObjectMeta{}, ErrNotFound
	}

	return obj.Meta, nil
}

// OpenStream returns a reader over the stored bytes for key.
func (a *MemoryAdapter) OpenStream(_ context.Context, key string) (io.ReadCloser, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	obj, ok := a.objects[key]
	if !ok {
		return nil, ErrNotFound
	}

	return io.NopCloser(bytes.NewReader(obj.Body)), nil
}

// Exists reports whether key is present.
func (a *MemoryAdapter) Exists(_ context.Context, key string) (bool, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	_, ok := a.objects[key]

	return ok, nil
}
