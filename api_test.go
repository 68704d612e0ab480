package vetz

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
)

// testOrder is the record type used across the package tests.
type testOrder struct {
	ID     string  `json:"id"`
	Amount float64 `json:"amount"`
}

// orderSchema rejects empty ids and negative amounts.
func orderSchema() Schema[testOrder] {
	return SchemaFunc[testOrder]("order", func(_ context.Context, o testOrder) (testOrder, Issues) {
		if o.ID == "" {
			return o, Issues{{Path: "/id", Code: CodeRequired, Message: "id is required"}}
		}
		if o.Amount < 0 {
			return o, Issues{{Path: "/amount", Code: CodeTooSmall, Message: "amount must be non-negative"}}
		}
		return o, nil
	})
}

// countingSchema wraps a schema and counts Validate calls.
type countingSchema[T any] struct {
	inner Schema[T]
	calls int64
}

func newCountingSchema[T any](inner Schema[T]) *countingSchema[T] {
	return &countingSchema[T]{inner: inner}
}

func (c *countingSchema[T]) Validate(ctx context.Context, record T) (T, Issues) {
	atomic.AddInt64(&c.calls, 1)
	return c.inner.Validate(ctx, record)
}

func (c *countingSchema[T]) Name() Name { return c.inner.Name() }

func (c *countingSchema[T]) Calls() int { return int(atomic.LoadInt64(&c.calls)) }

// captureSink records every write in arrival order.
type captureSink[T any] struct {
	name    Name
	records []Record[T]
	mu      sync.Mutex
}

func newCaptureSink[T any](name Name) *captureSink[T] {
	return &captureSink[T]{name: name}
}

func (s *captureSink[T]) Write(_ context.Context, rec Record[T]) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

func (s *captureSink[T]) Name() Name { return s.name }

func (s *captureSink[T]) snapshot() []Record[T] {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record[T], len(s.records))
	copy(out, s.records)
	return out
}

func TestSchemaFunc(t *testing.T) {
	schema := orderSchema()

	t.Run("Name", func(t *testing.T) {
		if schema.Name() != "order" {
			t.Errorf("expected name %q, got %q", "order", schema.Name())
		}
	})

	t.Run("ValidRecord", func(t *testing.T) {
		out, issues := schema.Validate(context.Background(), testOrder{ID: "a", Amount: 10})
		if len(issues) != 0 {
			t.Fatalf("expected no issues, got %v", issues)
		}
		if out.ID != "a" {
			t.Errorf("expected record passed through, got %+v", out)
		}
	})

	t.Run("InvalidRecord", func(t *testing.T) {
		_, issues := schema.Validate(context.Background(), testOrder{Amount: 10})
		if len(issues) != 1 {
			t.Fatalf("expected 1 issue, got %d", len(issues))
		}
		if issues[0].Code != CodeRequired {
			t.Errorf("expected code %q, got %q", CodeRequired, issues[0].Code)
		}
		if issues[0].Path != "/id" {
			t.Errorf("expected path /id, got %q", issues[0].Path)
		}
	})
}

func TestMapFields(t *testing.T) {
	record := map[string]any{"user_id": "u1", "amount": 42}
	fields := MapFields(record)
	if len(fields) != 2 {
		t.Fatalf("expected 2 fields, got %d", len(fields))
	}
	if fields["user_id"] != "u1" {
		t.Errorf("expected user_id u1, got %v", fields["user_id"])
	}
}
