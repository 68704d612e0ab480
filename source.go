package vetz

import (
	"context"
	"io"
	"sync"
)

// SliceSource serves a fixed slice of records in order. Safe for a single
// consuming stream; Next returns io.EOF once the slice is exhausted.
type SliceSource[T any] struct {
	records []T
	name    Name
	pos     int
	mu      sync.Mutex
}

// NewSliceSource creates a SliceSource over the given records.
func NewSliceSource[T any](name Name, records []T) *SliceSource[T] {
	return &SliceSource[T]{name: name, records: records}
}

// Next implements Source.
func (s *SliceSource[T]) Next(ctx context.Context) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pos >= len(s.records) {
		return zero, io.EOF
	}
	record := s.records[s.pos]
	s.pos++
	return record, nil
}

// Name returns the name of this source.
func (s *SliceSource[T]) Name() Name { return s.name }

// ChannelSource adapts a channel to the Source contract, for feeding a
// stream from a concurrent producer. Next returns io.EOF once the channel
// is closed and drained.
type ChannelSource[T any] struct {
	ch   <-chan T
	name Name
}

// NewChannelSource creates a ChannelSource over the given channel.
func NewChannelSource[T any](name Name, ch <-chan T) *ChannelSource[T] {
	return &ChannelSource[T]{name: name, ch: ch}
}

// Next implements Source.
func (c *ChannelSource[T]) Next(ctx context.Context) (T, error) {
	var zero T
	select {
	case record, ok := <-c.ch:
		if !ok {
			return zero, io.EOF
		}
		return record, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Name returns the name of this source.
func (c *ChannelSource[T]) Name() Name { return c.name }

// SourceFunc adapts a function to the Source contract.
type SourceFunc[T any] func(ctx context.Context) (T, error)

// Next implements Source.
func (f SourceFunc[T]) Next(ctx context.Context) (T, error) { return f(ctx) }

// sinkFunc adapts a function to the Sink contract.
type sinkFunc[T any] struct {
	fn   func(context.Context, Record[T]) error
	name Name
}

func (s sinkFunc[T]) Write(ctx context.Context, rec Record[T]) error { return s.fn(ctx, rec) }
func (s sinkFunc[T]) Name() Name                                     { return s.name }

// SinkFunc wraps a write function as a Sink.
func SinkFunc[T any](name Name, fn func(context.Context, Record[T]) error) Sink[T] {
	return sinkFunc[T]{name: name, fn: fn}
}
