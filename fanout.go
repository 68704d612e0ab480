package vetz

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/zoobzio/hookz"
	"github.com/zoobzio/metricz"
)

// Observability constants for the FanOut stage.
const (
	// Metrics.
	FanOutRecordsTotal    = metricz.Key("fanout.records.total")
	FanOutWritesTotal     = metricz.Key("fanout.writes.total")
	FanOutSinkErrorsTotal = metricz.Key("fanout.sink_errors.total")
	FanOutSinksCount      = metricz.Key("fanout.sinks.count")

	// Hook event keys.
	FanOutEventSinkError     = hookz.Key("fanout.sink_error")
	FanOutEventRecordWritten = hookz.Key("fanout.record_written")
)

// FanOutEvent is emitted via hookz when a record has been written to all
// sinks or when an individual sink write fails.
type FanOutEvent struct {
	Err       error // sink error, for sink_error events
	Name      Name
	SinkName  Name
	Index     int64 // record index
	Sinks     int
	Failed    int // sinks that failed this record
	Timestamp time.Time
}

// SinkError is one sink's failure for one record.
type SinkError struct {
	Err   error
	Sink  Name
	Index int64
}

func (e SinkError) Error() string {
	return fmt.Sprintf("sink %q failed at record %d: %v", e.Sink, e.Index, e.Err)
}

// FanOutError aggregates per-sink failures for a single record.
type FanOutError struct {
	Errors []SinkError
}

func (e *FanOutError) Error() string {
	parts := make([]string, len(e.Errors))
	for i, se := range e.Errors {
		parts[i] = se.Error()
	}
	return fmt.Sprintf("%d sink(s) failed: %s", len(e.Errors), strings.Join(parts, "; "))
}

// FanOut duplicates each record it receives to N independently-backed
// sinks. It implements Sink itself, so it plugs into a Stream with
// WithSink.
//
// A write failure on one sink never blocks writes to the others: every
// sink is attempted for every record, failures are collected, and by
// default they are surfaced collectively through Failures and the
// sink_error hook rather than failing the pipeline. WithFailFast(true)
// instead propagates the aggregated *FanOutError to the stream after all
// sinks have been attempted for that record.
//
// Ordering: sinks receive records in arrival order. The relative order
// across sinks for the same record is not guaranteed (writes run
// concurrently), but FanOut waits for all sinks before accepting the next
// record, so order within a single sink always matches arrival order.
//
// By default only valid records are written; WithAllRecords(true) writes
// every record the stage receives, which combined with the stream's
// WithForwardInvalid feeds quarantine sinks.
//
// Example:
//
//	fan := vetz.NewFanOut("outputs", warehouse, searchIndex, auditLog)
//	stream := vetz.NewStream("events", schema).WithSink(fan)
type FanOut[T any] struct {
	hooks      *hookz.Hooks[FanOutEvent]
	metrics    *metricz.Registry
	name       Name
	sinks      []Sink[T]
	failures   []SinkError
	allRecords bool
	failFast   bool
	mu         sync.Mutex
}

// NewFanOut creates a FanOut over the given sinks.
func NewFanOut[T any](name Name, sinks ...Sink[T]) *FanOut[T] {
	metrics := metricz.New()
	metrics.Counter(FanOutRecordsTotal)
	metrics.Counter(FanOutWritesTotal)
	metrics.Counter(FanOutSinkErrorsTotal)
	metrics.Gauge(FanOutSinksCount)
	metrics.Gauge(FanOutSinksCount).Set(float64(len(sinks)))

	return &FanOut[T]{
		name:    name,
		sinks:   sinks,
		hooks:   hookz.New[FanOutEvent](),
		metrics: metrics,
	}
}

// WithAllRecords writes every record regardless of validity.
func (f *FanOut[T]) WithAllRecords(enabled bool) *FanOut[T] {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.allRecords = enabled
	return f
}

// WithFailFast propagates aggregated sink failures to the caller instead
// of collecting them. All sinks are still attempted for the failing record.
func (f *FanOut[T]) WithFailFast(enabled bool) *FanOut[T] {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failFast = enabled
	return f
}

// Add appends a sink.
func (f *FanOut[T]) Add(sink Sink[T]) *FanOut[T] {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sinks = append(f.sinks, sink)
	f.metrics.Gauge(FanOutSinksCount).Set(float64(len(f.sinks)))
	return f
}

// Len returns the number of sinks.
func (f *FanOut[T]) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sinks)
}

// Write implements Sink. Each sink is written concurrently; Write returns
// after every sink has been attempted.
func (f *FanOut[T]) Write(ctx context.Context, rec Record[T]) error {
	f.mu.Lock()
	sinks := make([]Sink[T], len(f.sinks))
	copy(sinks, f.sinks)
	allRecords := f.allRecords
	failFast := f.failFast
	f.mu.Unlock()

	if !rec.Valid && !allRecords {
		return nil
	}
	if len(sinks) == 0 {
		return nil
	}

	f.metrics.Counter(FanOutRecordsTotal).Inc()

	var (
		wg     sync.WaitGroup
		errsMu sync.Mutex
		errs   []SinkError
	)
	wg.Add(len(sinks))
	for _, sink := range sinks {
		go func(sk Sink[T]) {
			defer wg.Done()
			if err := sk.Write(ctx, rec); err != nil {
				errsMu.Lock()
				errs = append(errs, SinkError{Sink: sk.Name(), Index: rec.Index, Err: err})
				errsMu.Unlock()
				f.metrics.Counter(FanOutSinkErrorsTotal).Inc()
				_ = f.hooks.Emit(ctx, FanOutEventSinkError, FanOutEvent{ //nolint:errcheck
					Name:      f.name,
					SinkName:  sk.Name(),
					Index:     rec.Index,
					Err:       err,
					Sinks:     len(sinks),
					Timestamp: time.Now(),
				})
				return
			}
			f.metrics.Counter(FanOutWritesTotal).Inc()
		}(sink)
	}
	wg.Wait()

	_ = f.hooks.Emit(ctx, FanOutEventRecordWritten, FanOutEvent{ //nolint:errcheck
		Name:      f.name,
		Index:     rec.Index,
		Sinks:     len(sinks),
		Failed:    len(errs),
		Timestamp: time.Now(),
	})

	if len(errs) > 0 {
		f.mu.Lock()
		f.failures = append(f.failures, errs...)
		f.mu.Unlock()
		if failFast {
			return &FanOutError{Errors: errs}
		}
	}
	return nil
}

// Failures returns the sink failures collected so far.
func (f *FanOut[T]) Failures() []SinkError {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]SinkError, len(f.failures))
	copy(out, f.failures)
	return out
}

// OnSinkError registers a handler for individual sink write failures.
// Handlers are called asynchronously via hookz.
func (f *FanOut[T]) OnSinkError(handler func(context.Context, FanOutEvent) error) error {
	_, err := f.hooks.Hook(FanOutEventSinkError, handler)
	return err
}

// OnRecordWritten registers a handler fired after each record has been
// attempted on every sink.
func (f *FanOut[T]) OnRecordWritten(handler func(context.Context, FanOutEvent) error) error {
	_, err := f.hooks.Hook(FanOutEventRecordWritten, handler)
	return err
}

// Name returns the name of this stage.
func (f *FanOut[T]) Name() Name {
	return f.name
}

// Metrics returns the metrics registry for this stage.
func (f *FanOut[T]) Metrics() *metricz.Registry {
	return f.metrics
}

// Close gracefully shuts down the hook registry.
func (f *FanOut[T]) Close() error {
	f.hooks.Close()
	return nil
}
