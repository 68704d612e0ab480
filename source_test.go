package vetz

import (
	"context"
	"errors"
	"io"
	"testing"
)

func TestSliceSource(t *testing.T) {
	t.Run("ServesInOrder", func(t *testing.T) {
		src := NewSliceSource("orders", []testOrder{{ID: "a"}, {ID: "b"}})
		first, err := src.Next(context.Background())
		if err != nil || first.ID != "a" {
			t.Fatalf("unexpected first record %+v, err %v", first, err)
		}
		second, err := src.Next(context.Background())
		if err != nil || second.ID != "b" {
			t.Fatalf("unexpected second record %+v, err %v", second, err)
		}
		if _, err := src.Next(context.Background()); !errors.Is(err, io.EOF) {
			t.Errorf("expected io.EOF, got %v", err)
		}
	})

	t.Run("EmptySlice", func(t *testing.T) {
		src := NewSliceSource("empty", []testOrder{})
		if _, err := src.Next(context.Background()); !errors.Is(err, io.EOF) {
			t.Errorf("expected io.EOF, got %v", err)
		}
	})

	t.Run("HonorsContext", func(t *testing.T) {
		src := NewSliceSource("canceled", []testOrder{{ID: "a"}})
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if _, err := src.Next(ctx); !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})
}

func TestChannelSource(t *testing.T) {
	t.Run("DrainsThenEOF", func(t *testing.T) {
		ch := make(chan testOrder, 2)
		ch <- testOrder{ID: "a"}
		ch <- testOrder{ID: "b"}
		close(ch)

		src := NewChannelSource("feed", ch)
		for _, want := range []string{"a", "b"} {
			record, err := src.Next(context.Background())
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if record.ID != want {
				t.Errorf("expected %q, got %q", want, record.ID)
			}
		}
		if _, err := src.Next(context.Background()); !errors.Is(err, io.EOF) {
			t.Errorf("expected io.EOF after close, got %v", err)
		}
	})

	t.Run("HonorsContext", func(t *testing.T) {
		ch := make(chan testOrder) // never written
		src := NewChannelSource("stuck", ch)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if _, err := src.Next(ctx); !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})
}

func TestFuncAdapters(t *testing.T) {
	t.Run("SourceFunc", func(t *testing.T) {
		calls := 0
		src := SourceFunc[testOrder](func(context.Context) (testOrder, error) {
			calls++
			if calls > 1 {
				return testOrder{}, io.EOF
			}
			return testOrder{ID: "only"}, nil
		})
		record, err := src.Next(context.Background())
		if err != nil || record.ID != "only" {
			t.Fatalf("unexpected %+v, err %v", record, err)
		}
		if _, err := src.Next(context.Background()); !errors.Is(err, io.EOF) {
			t.Errorf("expected io.EOF, got %v", err)
		}
	})

	t.Run("SinkFunc", func(t *testing.T) {
		var got []string
		sink := SinkFunc("collector", func(_ context.Context, rec Record[testOrder]) error {
			got = append(got, rec.Data.ID)
			return nil
		})
		if sink.Name() != "collector" {
			t.Errorf("unexpected sink name %q", sink.Name())
		}
		_ = sink.Write(context.Background(), Record[testOrder]{Data: testOrder{ID: "a"}})
		if len(got) != 1 || got[0] != "a" {
			t.Errorf("sink function not invoked as expected: %v", got)
		}
	})
}
