package testing_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/zoobzio/vetz"
	vetztesting "github.com/zoobzio/vetz/testing"
)

type order struct {
	ID     string  `json:"id"`
	Amount float64 `json:"amount"`
}

func TestMockSchema(t *testing.T) {
	t.Run("PassThroughByDefault", func(t *testing.T) {
		mock := vetztesting.NewMockSchema[order](t, "mock")
		out, issues := mock.Validate(context.Background(), order{ID: "a", Amount: 1})
		if len(issues) != 0 {
			t.Errorf("expected pass-through, got %v", issues)
		}
		if out.ID != "a" {
			t.Errorf("expected record unchanged, got %+v", out)
		}
		vetztesting.AssertValidated(t, mock, 1)
	})

	t.Run("WithReject", func(t *testing.T) {
		mock := vetztesting.NewMockSchema[order](t, "mock").WithReject(func(o order) vetz.Issues {
			if o.ID == "" {
				return vetz.Issues{{Path: "/id", Code: vetz.CodeRequired}}
			}
			return nil
		})
		_, issues := mock.Validate(context.Background(), order{})
		if len(issues) != 1 {
			t.Fatalf("expected rejection, got %v", issues)
		}
		_, issues = mock.Validate(context.Background(), order{ID: "a"})
		if len(issues) != 0 {
			t.Errorf("expected acceptance, got %v", issues)
		}
	})

	t.Run("TracksLastInput", func(t *testing.T) {
		mock := vetztesting.NewMockSchema[order](t, "mock")
		mock.Validate(context.Background(), order{ID: "first"})
		mock.Validate(context.Background(), order{ID: "second"})
		if mock.LastInput().ID != "second" {
			t.Errorf("unexpected last input %+v", mock.LastInput())
		}
		mock.Reset()
		if mock.CallCount() != 0 {
			t.Errorf("expected 0 calls after reset, got %d", mock.CallCount())
		}
		vetztesting.AssertNotValidated(t, mock)
	})
}

func TestRecordingSinkWithStream(t *testing.T) {
	mock := vetztesting.NewMockSchema[order](t, "mock")
	sink := vetztesting.NewRecordingSink[order]("captured")

	stream := vetz.NewStream[order]("orders", mock).WithSink(sink)
	records := []order{{ID: "a", Amount: 1}, {ID: "b", Amount: 2}, {ID: "c", Amount: 3}}
	if _, err := stream.Run(context.Background(), vetz.NewSliceSource("src", records)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	vetztesting.AssertValidated(t, mock, 3)
	if sink.Len() != 3 {
		t.Fatalf("expected 3 captured records, got %d", sink.Len())
	}
	if sink.Records()[0].Data.ID != "a" {
		t.Errorf("unexpected first record %+v", sink.Records()[0])
	}
}

func TestFailingSinkWithFanOut(t *testing.T) {
	healthy := vetztesting.NewRecordingSink[order]("healthy")
	failing := vetztesting.NewFailingSink[order]("failing", errors.New("unavailable"))

	fan := vetz.NewFanOut[order]("outputs", healthy, failing)
	rec := vetz.Record[order]{Data: order{ID: "a"}, Index: 1, Valid: true}
	if err := fan.Write(context.Background(), rec); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if healthy.Len() != 1 {
		t.Errorf("healthy sink should receive the record, got %d", healthy.Len())
	}
	if len(fan.Failures()) != 1 {
		t.Errorf("expected 1 collected failure, got %d", len(fan.Failures()))
	}
}

func TestChaosSink(t *testing.T) {
	t.Run("AlwaysFails", func(t *testing.T) {
		chaos := vetztesting.NewChaosSink[order]("chaos", vetztesting.NewRecordingSink[order]("inner"), 1.0, 0)
		rec := vetz.Record[order]{Data: order{ID: "a"}, Index: 1, Valid: true}
		if err := chaos.Write(context.Background(), rec); err == nil {
			t.Error("failure rate 1.0 should always fail")
		}
		writes, failures := chaos.Stats()
		if writes != 1 || failures != 1 {
			t.Errorf("unexpected stats %d/%d", writes, failures)
		}
	})

	t.Run("NeverFails", func(t *testing.T) {
		inner := vetztesting.NewRecordingSink[order]("inner")
		chaos := vetztesting.NewChaosSink[order]("chaos", inner, 0, 0)
		rec := vetz.Record[order]{Data: order{ID: "a"}, Index: 1, Valid: true}
		if err := chaos.Write(context.Background(), rec); err != nil {
			t.Errorf("failure rate 0 should never fail: %v", err)
		}
		if inner.Len() != 1 {
			t.Errorf("wrapped sink should receive the record, got %d", inner.Len())
		}
	})
}

func TestWaitForCalls(t *testing.T) {
	mock := vetztesting.NewMockSchema[order](t, "mock")
	go func() {
		time.Sleep(10 * time.Millisecond)
		mock.Validate(context.Background(), order{ID: "late"})
	}()

	if !vetztesting.WaitForCalls(mock, 1, time.Second) {
		t.Error("expected the call to arrive within the timeout")
	}
	if vetztesting.WaitForCalls(mock, 5, 30*time.Millisecond) {
		t.Error("expected timeout waiting for calls that never come")
	}
}
