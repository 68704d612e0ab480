package vetz

import (
	"sync"
	"time"
)

// StreamError is one retained validation failure in a stats snapshot.
type StreamError struct {
	Err   error
	Index int64
}

// StatsSnapshot is a point-in-time copy of a stream's running statistics.
// Counts are monotonic across successive snapshots of the same stream.
// ErrorRate and Throughput are derived at snapshot time; they stabilize
// once the final snapshot is taken.
type StatsSnapshot struct {
	StartTime      time.Time
	EndTime        time.Time // zero until the stream finishes
	Errors         []StreamError
	TotalRecords   int64
	ValidRecords   int64
	InvalidRecords int64
	AssumedValid   int64 // sampled-out records whose validity was assumed
	BytesProcessed int64
	ErrorRate      float64 // InvalidRecords / TotalRecords
	Throughput     float64 // records per second over the observed window
	Final          bool
}

// stats accumulates per-record counters for a stream. Counters only ever
// increase; the stored error list is capped by maxErrors (0 = unbounded),
// with overflow errors counted but not retained.
type stats struct {
	startTime      time.Time
	endTime        time.Time
	errors         []StreamError
	totalRecords   int64
	validRecords   int64
	invalidRecords int64
	assumedValid   int64
	bytesProcessed int64
	maxErrors      int
	mu             sync.Mutex
}

func newStats(maxErrors int) *stats {
	return &stats{maxErrors: maxErrors}
}

func (s *stats) start(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startTime.IsZero() {
		s.startTime = now
	}
}

func (s *stats) recordValid(assumed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totalRecords++
	s.validRecords++
	if assumed {
		s.assumedValid++
	}
}

func (s *stats) recordInvalid(index int64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totalRecords++
	s.invalidRecords++
	if s.maxErrors <= 0 || len(s.errors) < s.maxErrors {
		s.errors = append(s.errors, StreamError{Index: index, Err: err})
	}
}

func (s *stats) addBytes(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bytesProcessed += int64(n)
}

func (s *stats) finish(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.endTime.IsZero() {
		s.endTime = now
	}
}

// snapshot copies the current counters. The error slice is copied so
// callers can retain snapshots without racing the stream.
func (s *stats) snapshot(now time.Time, final bool) StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	errs := make([]StreamError, len(s.errors))
	copy(errs, s.errors)

	snap := StatsSnapshot{
		StartTime:      s.startTime,
		EndTime:        s.endTime,
		Errors:         errs,
		TotalRecords:   s.totalRecords,
		ValidRecords:   s.validRecords,
		InvalidRecords: s.invalidRecords,
		AssumedValid:   s.assumedValid,
		BytesProcessed: s.bytesProcessed,
		Final:          final,
	}
	if s.totalRecords > 0 {
		snap.ErrorRate = float64(s.invalidRecords) / float64(s.totalRecords)
	}
	end := s.endTime
	if end.IsZero() {
		end = now
	}
	if window := end.Sub(s.startTime); window > 0 {
		snap.Throughput = float64(s.totalRecords) / window.Seconds()
	}
	return snap
}
