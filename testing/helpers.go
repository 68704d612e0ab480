// Package testing provides test utilities and helpers for vetz-based
// applications.
//
// This package includes mock schemas, recording sinks, and chaos sinks to
// make testing validation pipelines easier and more comprehensive.
//
// Example usage:
//
//	func TestMyStream(t *testing.T) {
//		schema := testing.NewMockSchema[Order](t, "mock-schema")
//		sink := testing.NewRecordingSink[Order]("captured")
//
//		stream := vetz.NewStream("orders", schema).WithSink(sink)
//		_, err := stream.Run(context.Background(), source)
//
//		testing.AssertValidated(t, schema, 3)
//		if sink.Len() != 3 {
//			t.Errorf("expected 3 records, got %d", sink.Len())
//		}
//	}
package testing

import (
	"context"
	"errors"
	"fmt"
	mathrand "math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/zoobzio/vetz"
)

// MockSchema provides a configurable mock implementation of vetz.Schema[T].
// It tracks calls, allows configuring verdicts and delays, and provides
// assertion helpers for testing pipeline behavior.
type MockSchema[T any] struct { //nolint:govet // fieldalignment: Test helper struct optimized for functionality over memory efficiency
	t         *testing.T
	name      string
	callCount int64
	lastInput T
	returnVal T
	returnIss vetz.Issues
	passThru  bool
	delay     time.Duration
	rejectFn  func(T) vetz.Issues
	mu        sync.RWMutex
}

// NewMockSchema creates a mock schema that accepts every record and
// returns it unchanged until configured otherwise.
func NewMockSchema[T any](t *testing.T, name string) *MockSchema[T] {
	t.Helper()
	return &MockSchema[T]{t: t, name: name, passThru: true}
}

// WithReturn configures the value and issues every Validate call returns.
func (m *MockSchema[T]) WithReturn(val T, issues vetz.Issues) *MockSchema[T] {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.returnVal = val
	m.returnIss = issues
	m.passThru = false
	return m
}

// WithReject configures a per-record rejection function; records for which
// fn returns non-empty issues are rejected.
func (m *MockSchema[T]) WithReject(fn func(T) vetz.Issues) *MockSchema[T] {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejectFn = fn
	m.passThru = true
	return m
}

// WithDelay makes every Validate call take at least d.
func (m *MockSchema[T]) WithDelay(d time.Duration) *MockSchema[T] {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
	return m
}

// Validate implements vetz.Schema.
func (m *MockSchema[T]) Validate(ctx context.Context, record T) (T, vetz.Issues) {
	atomic.AddInt64(&m.callCount, 1)

	m.mu.Lock()
	m.lastInput = record
	delay := m.delay
	passThru := m.passThru
	returnVal := m.returnVal
	returnIss := m.returnIss
	rejectFn := m.rejectFn
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return record, vetz.Issues{{Code: vetz.CodeParseError, Message: ctx.Err().Error()}}
		}
	}

	if rejectFn != nil {
		if issues := rejectFn(record); len(issues) > 0 {
			return record, issues
		}
	}
	if passThru {
		return record, nil
	}
	return returnVal, returnIss
}

// Name implements vetz.Schema.
func (m *MockSchema[T]) Name() vetz.Name {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.name
}

// CallCount returns how many times Validate was called.
func (m *MockSchema[T]) CallCount() int {
	return int(atomic.LoadInt64(&m.callCount))
}

// LastInput returns the most recent record passed to Validate.
func (m *MockSchema[T]) LastInput() T {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastInput
}

// Reset clears the call counter and recorded input.
func (m *MockSchema[T]) Reset() {
	atomic.StoreInt64(&m.callCount, 0)
	m.mu.Lock()
	defer m.mu.Unlock()
	var zero T
	m.lastInput = zero
}

// AssertValidated fails the test if the schema wasn't called the expected
// number of times.
func AssertValidated[T any](t *testing.T, mock *MockSchema[T], expectedCalls int) {
	t.Helper()
	if got := mock.CallCount(); got != expectedCalls {
		t.Errorf("expected %d Validate calls, got %d", expectedCalls, got)
	}
}

// AssertNotValidated fails the test if the schema was called at all.
func AssertNotValidated[T any](t *testing.T, mock *MockSchema[T]) {
	t.Helper()
	if got := mock.CallCount(); got != 0 {
		t.Errorf("expected no Validate calls, got %d", got)
	}
}

// RecordingSink captures every record written to it, in arrival order.
type RecordingSink[T any] struct {
	name    string
	records []vetz.Record[T]
	mu      sync.Mutex
}

// NewRecordingSink creates an empty RecordingSink.
func NewRecordingSink[T any](name string) *RecordingSink[T] {
	return &RecordingSink[T]{name: name}
}

// Write implements vetz.Sink.
func (s *RecordingSink[T]) Write(_ context.Context, rec vetz.Record[T]) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

// Name implements vetz.Sink.
func (s *RecordingSink[T]) Name() vetz.Name { return s.name }

// Records returns a copy of the captured records.
func (s *RecordingSink[T]) Records() []vetz.Record[T] {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]vetz.Record[T], len(s.records))
	copy(out, s.records)
	return out
}

// Len returns the number of captured records.
func (s *RecordingSink[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// ChaosSink wraps a sink with configurable failure injection for
// resilience testing of fan-out and error aggregation paths.
type ChaosSink[T any] struct { //nolint:govet // fieldalignment: Test helper struct optimized for functionality over memory efficiency
	wrapped     vetz.Sink[T]
	name        string
	failureRate float64
	latency     time.Duration
	writes      int64
	failures    int64
	rng         *mathrand.Rand
	mu          sync.Mutex
}

// NewChaosSink wraps a sink. failureRate is the probability in [0,1] that
// a write fails; latency is added to every write.
func NewChaosSink[T any](name string, wrapped vetz.Sink[T], failureRate float64, latency time.Duration) *ChaosSink[T] {
	return &ChaosSink[T]{
		name:        name,
		wrapped:     wrapped,
		failureRate: failureRate,
		latency:     latency,
		rng:         mathrand.New(mathrand.NewSource(time.Now().UnixNano())), //nolint:gosec // chaos testing, not crypto
	}
}

// Write implements vetz.Sink.
func (c *ChaosSink[T]) Write(ctx context.Context, rec vetz.Record[T]) error {
	atomic.AddInt64(&c.writes, 1)

	c.mu.Lock()
	fail := c.rng.Float64() < c.failureRate
	latency := c.latency
	c.mu.Unlock()

	if latency > 0 {
		select {
		case <-time.After(latency):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if fail {
		atomic.AddInt64(&c.failures, 1)
		return errors.New("chaos: injected sink failure")
	}
	return c.wrapped.Write(ctx, rec)
}

// Name implements vetz.Sink.
func (c *ChaosSink[T]) Name() vetz.Name { return c.name }

// Stats returns the write and injected-failure counts.
func (c *ChaosSink[T]) Stats() (writes, failures int64) {
	return atomic.LoadInt64(&c.writes), atomic.LoadInt64(&c.failures)
}

// FailingSink rejects every write with the configured error. Useful for
// exercising fan-out failure aggregation deterministically.
type FailingSink[T any] struct {
	err  error
	name string
}

// NewFailingSink creates a sink that always fails.
func NewFailingSink[T any](name string, err error) *FailingSink[T] {
	if err == nil {
		err = fmt.Errorf("sink %q unavailable", name)
	}
	return &FailingSink[T]{name: name, err: err}
}

// Write implements vetz.Sink.
func (s *FailingSink[T]) Write(context.Context, vetz.Record[T]) error { return s.err }

// Name implements vetz.Sink.
func (s *FailingSink[T]) Name() vetz.Name { return s.name }

// WaitForCalls blocks until the mock schema reaches the expected call
// count or the timeout expires, returning whether the count was reached.
func WaitForCalls[T any](mock *MockSchema[T], expectedCalls int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if mock.CallCount() >= expectedCalls {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return false
}
