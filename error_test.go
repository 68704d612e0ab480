package vetz

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestError(t *testing.T) {
	base := errors.New("schema rejected record")

	t.Run("MessageWithItemID", func(t *testing.T) {
		err := &Error[testOrder]{
			Err:      base,
			Path:     []Name{"orders-batch"},
			ItemID:   "item-7",
			Duration: 5 * time.Millisecond,
		}
		msg := err.Error()
		if !strings.Contains(msg, `item "item-7"`) {
			t.Errorf("expected item id in message, got %q", msg)
		}
		if !strings.Contains(msg, "failed after") {
			t.Errorf("expected failure phrasing, got %q", msg)
		}
	})

	t.Run("MessageWithIndex", func(t *testing.T) {
		err := &Error[testOrder]{Err: base, Path: []Name{"orders"}, Index: 42}
		if !strings.Contains(err.Error(), "record 42") {
			t.Errorf("expected record index in message, got %q", err.Error())
		}
	})

	t.Run("TimeoutMessage", func(t *testing.T) {
		err := &Error[testOrder]{Err: base, Path: []Name{"orders"}, Timeout: true}
		if !strings.Contains(err.Error(), "timed out") {
			t.Errorf("expected timeout phrasing, got %q", err.Error())
		}
	})

	t.Run("CanceledMessage", func(t *testing.T) {
		err := &Error[testOrder]{Err: base, Path: []Name{"orders"}, Canceled: true}
		if !strings.Contains(err.Error(), "canceled") {
			t.Errorf("expected cancellation phrasing, got %q", err.Error())
		}
	})

	t.Run("Unwrap", func(t *testing.T) {
		err := &Error[testOrder]{Err: base}
		if !errors.Is(err, base) {
			t.Error("expected errors.Is to reach the wrapped error")
		}
	})

	t.Run("IsTimeoutFromWrappedDeadline", func(t *testing.T) {
		err := &Error[testOrder]{Err: context.DeadlineExceeded}
		if !err.IsTimeout() {
			t.Error("expected IsTimeout for wrapped DeadlineExceeded")
		}
	})

	t.Run("IsCanceledFromWrappedCancel", func(t *testing.T) {
		err := &Error[testOrder]{Err: context.Canceled}
		if !err.IsCanceled() {
			t.Error("expected IsCanceled for wrapped Canceled")
		}
	})
}

func TestErrorTaxonomy(t *testing.T) {
	t.Run("AdapterError", func(t *testing.T) {
		inner := errors.New("bad csv header")
		err := &AdapterError{Format: "csv", Op: "parse", Err: inner}
		if !strings.Contains(err.Error(), `adapter "csv" parse failed`) {
			t.Errorf("unexpected message %q", err.Error())
		}
		if !errors.Is(err, inner) {
			t.Error("expected unwrap to the adapter's error")
		}
	})

	t.Run("DuplicateIDError", func(t *testing.T) {
		err := &DuplicateIDError{ID: "a"}
		if !strings.Contains(err.Error(), `"a"`) {
			t.Errorf("expected id in message, got %q", err.Error())
		}
	})

	t.Run("UnknownFormatError", func(t *testing.T) {
		err := &UnknownFormatError{Format: "yaml"}
		if !strings.Contains(err.Error(), `"yaml"`) {
			t.Errorf("expected format in message, got %q", err.Error())
		}
	})

	t.Run("BackpressureTimeoutError", func(t *testing.T) {
		err := &BackpressureTimeoutError{Paused: 11 * time.Second, Budget: 10 * time.Second}
		msg := err.Error()
		if !strings.Contains(msg, "11s") || !strings.Contains(msg, "10s") {
			t.Errorf("expected paused and budget durations in message, got %q", msg)
		}
	})
}
