package vetz

import (
	"context"
	"sync"
)

// Metadata carries adapter-reported details about a parse or format
// operation (source line counts, encoding notes, etc.). vetz passes it
// through untouched.
type Metadata map[string]any

// Adapter is the per-format contract supplied by the caller. Parse turns
// raw input into a record; Format turns a record back into raw output.
// Both may fail, and failures surface as *AdapterError. vetz never
// implements adapters itself - it only drives them.
type Adapter[T any] interface {
	Parse(ctx context.Context, input []byte) (T, Metadata, error)
	Format(ctx context.Context, record T) ([]byte, Metadata, error)
}

// AdapterFuncs builds an Adapter from two functions.
type AdapterFuncs[T any] struct {
	ParseFunc  func(ctx context.Context, input []byte) (T, Metadata, error)
	FormatFunc func(ctx context.Context, record T) ([]byte, Metadata, error)
}

func (a AdapterFuncs[T]) Parse(ctx context.Context, input []byte) (T, Metadata, error) {
	return a.ParseFunc(ctx, input)
}

func (a AdapterFuncs[T]) Format(ctx context.Context, record T) ([]byte, Metadata, error) {
	return a.FormatFunc(ctx, record)
}

// AdapterRegistry indexes adapters by format name. Registries are built
// once at pipeline construction and resolved per item, never dispatched
// dynamically per record.
type AdapterRegistry[T any] struct {
	adapters map[Name]Adapter[T]
	mu       sync.RWMutex
}

// NewAdapterRegistry creates an empty registry.
func NewAdapterRegistry[T any]() *AdapterRegistry[T] {
	return &AdapterRegistry[T]{
		adapters: make(map[Name]Adapter[T]),
	}
}

// Register adds or replaces the adapter for a format.
func (r *AdapterRegistry[T]) Register(format Name, adapter Adapter[T]) *AdapterRegistry[T] {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[format] = adapter
	return r
}

// Resolve returns the adapter for a format, or *UnknownFormatError.
func (r *AdapterRegistry[T]) Resolve(format Name) (Adapter[T], error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	adapter, ok := r.adapters[format]
	if !ok {
		return nil, &UnknownFormatError{Format: format}
	}
	return adapter, nil
}

// Formats returns the registered format names.
func (r *AdapterRegistry[T]) Formats() []Name {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]Name, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	return names
}

// parse invokes an adapter's Parse, wrapping failures as *AdapterError.
func parseWith[T any](ctx context.Context, adapter Adapter[T], format Name, input []byte) (T, Metadata, error) {
	record, meta, err := adapter.Parse(ctx, input)
	if err != nil {
		var zero T
		return zero, nil, &AdapterError{Format: format, Op: "parse", Err: err}
	}
	return record, meta, nil
}

// formatWith invokes an adapter's Format, wrapping failures as *AdapterError.
func formatWith[T any](ctx context.Context, adapter Adapter[T], format Name, record T) ([]byte, Metadata, error) {
	out, meta, err := adapter.Format(ctx, record)
	if err != nil {
		return nil, nil, &AdapterError{Format: format, Op: "format", Err: err}
	}
	return out, meta, nil
}
