package vetz

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Error provides rich context about validation pipeline failures.
// It wraps the underlying error with information about where and when
// the failure occurred, what data was being processed, and whether
// the failure was due to timeout or cancellation.
//
// The Path records the chain of component names the record passed through
// before failing, outermost first, e.g. ["orders-batch", "parse-csv"].
type Error[T any] struct {
	InputData T
	Err       error
	Timestamp time.Time
	Path      []Name
	ItemID    string // Batch item id, when the failure belongs to a batch item
	Index     int64  // Stream record index, when the failure belongs to a stream
	Duration  time.Duration
	Timeout   bool
	Canceled  bool
}

// Error implements the error interface, providing a detailed error message.
func (e *Error[T]) Error() string {
	location := fmt.Sprintf("%v", e.Path)
	if e.ItemID != "" {
		location = fmt.Sprintf("%v item %q", e.Path, e.ItemID)
	} else if e.Index > 0 {
		location = fmt.Sprintf("%v record %d", e.Path, e.Index)
	}

	if e.Timeout {
		return fmt.Sprintf("%s timed out after %v: %v", location, e.Duration, e.Err)
	}
	if e.Canceled {
		return fmt.Sprintf("%s canceled after %v: %v", location, e.Duration, e.Err)
	}
	return fmt.Sprintf("%s failed after %v: %v", location, e.Duration, e.Err)
}

// Unwrap returns the underlying error, supporting error wrapping patterns.
func (e *Error[T]) Unwrap() error {
	return e.Err
}

// IsTimeout returns true if the error was caused by a timeout.
func (e *Error[T]) IsTimeout() bool {
	return e.Timeout || errors.Is(e.Err, context.DeadlineExceeded)
}

// IsCanceled returns true if the error was caused by cancellation.
func (e *Error[T]) IsCanceled() bool {
	return e.Canceled || errors.Is(e.Err, context.Canceled)
}

// AdapterError reports a failure inside an external format adapter.
// Op is either "parse" or "format".
type AdapterError struct {
	Err    error
	Format Name
	Op     string
}

func (e *AdapterError) Error() string {
	return fmt.Sprintf("adapter %q %s failed: %v", e.Format, e.Op, e.Err)
}

func (e *AdapterError) Unwrap() error { return e.Err }

// DuplicateIDError reports an Add call reusing an item id within the
// current (unreset) batch.
type DuplicateIDError struct {
	ID string
}

func (e *DuplicateIDError) Error() string {
	return fmt.Sprintf("batch item id %q already exists", e.ID)
}

// UnknownFormatError reports a format name with no registered adapter.
type UnknownFormatError struct {
	Format Name
}

func (e *UnknownFormatError) Error() string {
	return fmt.Sprintf("no adapter registered for format %q", e.Format)
}

// BackpressureTimeoutError reports that a FlowControl stage spent more than
// its paused-time budget waiting for recovery and failed permanently.
type BackpressureTimeoutError struct {
	Paused time.Duration // cumulative paused time when the budget was exceeded
	Budget time.Duration
}

func (e *BackpressureTimeoutError) Error() string {
	return fmt.Sprintf("backpressure timeout: paused %v exceeds budget %v", e.Paused, e.Budget)
}
