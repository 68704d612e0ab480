package vetz

import (
	"context"
	"errors"
	"testing"
	"time"
)

// failingSink rejects every write.
type failingSink[T any] struct {
	err  error
	name Name
}

func (s *failingSink[T]) Write(context.Context, Record[T]) error { return s.err }
func (s *failingSink[T]) Name() Name                             { return s.name }

func TestFanOut(t *testing.T) {
	validRecord := Record[testOrder]{Data: testOrder{ID: "a", Amount: 1}, Index: 1, Valid: true}

	t.Run("WritesToAllSinks", func(t *testing.T) {
		first := newCaptureSink[testOrder]("first")
		second := newCaptureSink[testOrder]("second")
		fan := NewFanOut("outputs", Sink[testOrder](first), Sink[testOrder](second))

		if err := fan.Write(context.Background(), validRecord); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if first.snapshot()[0].Data.ID != "a" || second.snapshot()[0].Data.ID != "a" {
			t.Error("both sinks should receive the record")
		}
	})

	t.Run("SkipsInvalidByDefault", func(t *testing.T) {
		sink := newCaptureSink[testOrder]("only")
		fan := NewFanOut[testOrder]("outputs", sink)

		invalid := Record[testOrder]{Data: testOrder{}, Index: 1, Valid: false}
		if err := fan.Write(context.Background(), invalid); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(sink.snapshot()) != 0 {
			t.Error("invalid record should be skipped by default")
		}
	})

	t.Run("AllRecordsWritesInvalid", func(t *testing.T) {
		sink := newCaptureSink[testOrder]("quarantine")
		fan := NewFanOut[testOrder]("outputs", sink).WithAllRecords(true)

		invalid := Record[testOrder]{Data: testOrder{}, Index: 1, Valid: false}
		if err := fan.Write(context.Background(), invalid); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(sink.snapshot()) != 1 {
			t.Error("all-records mode should write invalid records")
		}
	})

	t.Run("FailureDoesNotBlockOtherSinks", func(t *testing.T) {
		healthy := newCaptureSink[testOrder]("healthy")
		broken := &failingSink[testOrder]{name: "broken", err: errors.New("unavailable")}
		fan := NewFanOut("outputs", Sink[testOrder](broken), Sink[testOrder](healthy))

		if err := fan.Write(context.Background(), validRecord); err != nil {
			t.Fatalf("collected failures should not surface by default: %v", err)
		}
		if len(healthy.snapshot()) != 1 {
			t.Error("healthy sink should still receive the record")
		}
		failures := fan.Failures()
		if len(failures) != 1 {
			t.Fatalf("expected 1 collected failure, got %d", len(failures))
		}
		if failures[0].Sink != "broken" || failures[0].Index != 1 {
			t.Errorf("unexpected failure %+v", failures[0])
		}
	})

	t.Run("FailFastAggregatesErrors", func(t *testing.T) {
		healthy := newCaptureSink[testOrder]("healthy")
		brokenA := &failingSink[testOrder]{name: "broken-a", err: errors.New("down")}
		brokenB := &failingSink[testOrder]{name: "broken-b", err: errors.New("down")}
		fan := NewFanOut("outputs",
			Sink[testOrder](brokenA), Sink[testOrder](healthy), Sink[testOrder](brokenB)).
			WithFailFast(true)

		err := fan.Write(context.Background(), validRecord)
		var fanErr *FanOutError
		if !errors.As(err, &fanErr) {
			t.Fatalf("expected *FanOutError, got %T", err)
		}
		if len(fanErr.Errors) != 2 {
			t.Errorf("expected 2 aggregated sink errors, got %d", len(fanErr.Errors))
		}
		// Every sink is still attempted before the error propagates.
		if len(healthy.snapshot()) != 1 {
			t.Error("healthy sink should be attempted despite fail-fast")
		}
	})

	t.Run("PerSinkOrderPreserved", func(t *testing.T) {
		sink := newCaptureSink[testOrder]("ordered")
		fan := NewFanOut[testOrder]("outputs", sink)

		for i := int64(1); i <= 3; i++ {
			rec := Record[testOrder]{Data: testOrder{ID: "a", Amount: float64(i)}, Index: i, Valid: true}
			if err := fan.Write(context.Background(), rec); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		}
		written := sink.snapshot()
		for i, rec := range written {
			if rec.Index != int64(i+1) {
				t.Errorf("position %d: expected index %d, got %d", i, i+1, rec.Index)
			}
		}
	})

	t.Run("AddGrowsSinkSet", func(t *testing.T) {
		fan := NewFanOut[testOrder]("outputs")
		if fan.Len() != 0 {
			t.Errorf("expected 0 sinks, got %d", fan.Len())
		}
		fan.Add(newCaptureSink[testOrder]("late"))
		if fan.Len() != 1 {
			t.Errorf("expected 1 sink after Add, got %d", fan.Len())
		}
	})

	t.Run("SinkErrorHook", func(t *testing.T) {
		broken := &failingSink[testOrder]{name: "broken", err: errors.New("unavailable")}
		fan := NewFanOut("outputs", Sink[testOrder](broken))
		defer fan.Close()

		events := make(chan FanOutEvent, 1)
		if err := fan.OnSinkError(func(_ context.Context, e FanOutEvent) error {
			select {
			case events <- e:
			default:
			}
			return nil
		}); err != nil {
			t.Fatalf("hook registration failed: %v", err)
		}

		_ = fan.Write(context.Background(), validRecord)
		select {
		case e := <-events:
			if e.SinkName != "broken" {
				t.Errorf("unexpected sink name %q", e.SinkName)
			}
		case <-time.After(time.Second):
			t.Fatal("sink error event not delivered")
		}
	})
}

func TestStreamWithFanOut(t *testing.T) {
	warehouse := newCaptureSink[testOrder]("warehouse")
	audit := newCaptureSink[testOrder]("audit")
	fan := NewFanOut("outputs", Sink[testOrder](warehouse), Sink[testOrder](audit))

	stream := NewStream("orders", orderSchema()).WithSink(fan)
	records := []testOrder{{ID: "a", Amount: 1}, {Amount: 2}, {ID: "c", Amount: 3}}
	stats, err := stream.Run(context.Background(), NewSliceSource("src", records))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.ValidRecords != 2 {
		t.Errorf("expected 2 valid, got %d", stats.ValidRecords)
	}
	if len(warehouse.snapshot()) != 2 || len(audit.snapshot()) != 2 {
		t.Errorf("expected both sinks to receive 2 records, got %d and %d",
			len(warehouse.snapshot()), len(audit.snapshot()))
	}
}
