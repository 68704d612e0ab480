package vetz

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/zoobzio/clockz"
	"github.com/zoobzio/metricz"
	"github.com/zoobzio/tracez"
)

// Observability constants for the Stream core.
const (
	// Metrics.
	StreamRecordsTotal = metricz.Key("stream.records.total")
	StreamValidTotal   = metricz.Key("stream.valid.total")
	StreamInvalidTotal = metricz.Key("stream.invalid.total")
	StreamDroppedTotal = metricz.Key("stream.dropped.total")
	StreamDurationMs   = metricz.Key("stream.duration.ms")

	// Spans.
	StreamProcessSpan = tracez.Key("stream.process")

	// Tags.
	StreamTagRecords  = tracez.Tag("stream.records")
	StreamTagInvalid  = tracez.Tag("stream.invalid")
	StreamTagStrategy = tracez.Tag("stream.strategy")
	StreamTagSuccess  = tracez.Tag("stream.success")
	StreamTagError    = tracez.Tag("stream.error")
)

// Stream applies a schema to an open-ended sequence of records with running
// statistics and a configurable error strategy. Each record moves through a
// fixed path: intake (optionally gated by FlowControl), validation (schema,
// or a Sampler wrapping it), the configured stages in order, then the sink.
// No stage reorders records; stages that drop records preserve the relative
// order of survivors.
//
// Error strategy, per record:
//   - WithFailFast(true): the stream terminates on the first invalid record,
//     propagating the validation error; no further records are read.
//   - WithSkipInvalid(true): invalid records are dropped from the output
//     path, the OnError callback fires, and up to maxErrors entries are
//     retained in statistics (the default when neither flag is set, with an
//     unbounded error list unless WithMaxErrors caps it).
//
// Per-record callbacks (OnValid, OnError, OnStats) are invoked synchronously
// on the stream's goroutine: a slow callback directly adds latency to the
// pipeline. This is deliberate - hiding the cost behind asynchronous
// dispatch would only move the backpressure somewhere less visible.
//
// Example:
//
//	stream := vetz.NewStream("events", schema).
//	    WithSkipInvalid(true).
//	    WithMaxErrors(100).
//	    WithStage(dedup).
//	    WithSink(warehouse)
//
//	stats, err := stream.Run(ctx, source)
type Stream[T any] struct {
	schema       Schema[T]
	sampler      *Sampler[T]
	flow         *FlowControl
	sink         Sink[T]
	stages       []Stage[T]
	onValid      func(Record[T])
	onError      func(err error, rec Record[T])
	onStats      func(StatsSnapshot)
	clock        clockz.Clock
	metrics      *metricz.Registry
	tracer       *tracez.Tracer
	stats        *stats
	prov         *StreamProvenance
	name         Name
	schemaHash   string
	statsEvery   int64
	maxErrors    int
	failFast     bool
	forwardBad   bool
	countBytes   bool
	withProv     bool
	mu           sync.Mutex
}

// NewStream creates a Stream bound to a schema. The default strategy is
// skip-invalid with an unbounded stored error list and a stats callback
// cadence of every record.
func NewStream[T any](name Name, schema Schema[T]) *Stream[T] {
	metrics := metricz.New()
	metrics.Counter(StreamRecordsTotal)
	metrics.Counter(StreamValidTotal)
	metrics.Counter(StreamInvalidTotal)
	metrics.Counter(StreamDroppedTotal)
	metrics.Gauge(StreamDurationMs)

	return &Stream[T]{
		name:       name,
		schema:     schema,
		statsEvery: 1,
		metrics:    metrics,
		tracer:     tracez.New(),
	}
}

// WithFailFast terminates the stream on the first invalid record. The two
// strategy setters are mutually exclusive; the last call wins.
func (s *Stream[T]) WithFailFast(enabled bool) *Stream[T] {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failFast = enabled
	return s
}

// WithSkipInvalid drops invalid records from the output path and continues,
// which is also the default strategy. Calling it with true clears a
// previously configured fail-fast strategy.
func (s *Stream[T]) WithSkipInvalid(enabled bool) *Stream[T] {
	s.mu.Lock()
	defer s.mu.Unlock()
	if enabled {
		s.failFast = false
	}
	return s
}

// WithMaxErrors caps how many error entries statistics retain. Additional
// invalid records still increment counters but are not stored. Zero or
// negative means unbounded.
func (s *Stream[T]) WithMaxErrors(maxErrors int) *Stream[T] {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maxErrors = maxErrors
	return s
}

// WithStage appends a per-record stage to the downstream path. Stages run
// in registration order on every record that passes validation.
func (s *Stream[T]) WithStage(stage Stage[T]) *Stream[T] {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stages = append(s.stages, stage)
	return s
}

// WithSink sets the terminal sink. Use a FanOut to reach multiple sinks.
func (s *Stream[T]) WithSink(sink Sink[T]) *Stream[T] {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sink = sink
	return s
}

// WithFlowControl gates record intake through a backpressure stage.
// The stream reports validation errors to it and stops intake while paused.
func (s *Stream[T]) WithFlowControl(flow *FlowControl) *Stream[T] {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flow = flow
	return s
}

// WithSampler validates records through a Sampler instead of calling the
// schema directly. Sampled-out records are forwarded as assumed-valid and
// counted separately in statistics.
func (s *Stream[T]) WithSampler(sampler *Sampler[T]) *Stream[T] {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sampler = sampler
	return s
}

// WithForwardInvalid forwards invalid records downstream (Valid=false)
// instead of dropping them. Statistics still count them as invalid. Used
// with FanOut's all-records mode for quarantine sinks.
func (s *Stream[T]) WithForwardInvalid(enabled bool) *Stream[T] {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forwardBad = enabled
	return s
}

// WithByteAccounting tracks BytesProcessed by canonically serializing each
// record at intake. Costs one marshal per record; off by default.
func (s *Stream[T]) WithByteAccounting(enabled bool) *Stream[T] {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.countBytes = enabled
	return s
}

// WithProvenance accumulates a lineage record retrievable via GetProvenance
// once the stream completes. The schema hash comes from WithSchemaHash or
// defaults to a fingerprint of the schema name.
func (s *Stream[T]) WithProvenance(enabled bool) *Stream[T] {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.withProv = enabled
	return s
}

// WithSchemaHash records a schema fingerprint in provenance output.
func (s *Stream[T]) WithSchemaHash(hash string) *Stream[T] {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schemaHash = hash
	return s
}

// OnValid registers a callback fired for every record that passes
// validation, before stages run.
func (s *Stream[T]) OnValid(fn func(Record[T])) *Stream[T] {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onValid = fn
	return s
}

// OnError registers a callback fired for every invalid record with the
// validation error and the offending record.
func (s *Stream[T]) OnError(fn func(err error, rec Record[T])) *Stream[T] {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onError = fn
	return s
}

// OnStats registers a snapshot callback. It fires after every record (or at
// the cadence set by WithStatsEvery) and once more with Final=true when the
// source is exhausted.
func (s *Stream[T]) OnStats(fn func(StatsSnapshot)) *Stream[T] {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onStats = fn
	return s
}

// WithStatsEvery sets the OnStats cadence in records (default 1).
func (s *Stream[T]) WithStatsEvery(n int64) *Stream[T] {
	if n < 1 {
		n = 1
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statsEvery = n
	return s
}

// WithClock sets a custom clock for testing.
func (s *Stream[T]) WithClock(clock clockz.Clock) *Stream[T] {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clock = clock
	return s
}

// getClock returns the clock to use.
func (s *Stream[T]) getClock() clockz.Clock {
	if s.clock == nil {
		return clockz.RealClock
	}
	return s.clock
}

// Run drives the source to exhaustion through the validation path and
// returns the final statistics snapshot. A fail-fast validation error, a
// backpressure timeout, a stage or sink failure, or a source error other
// than io.EOF terminates the stream early with that error.
func (s *Stream[T]) Run(ctx context.Context, src Source[T]) (StatsSnapshot, error) {
	s.mu.Lock()
	st := newStats(s.maxErrors)
	s.stats = st
	flow := s.flow
	sampler := s.sampler
	stages := make([]Stage[T], len(s.stages))
	copy(stages, s.stages)
	sink := s.sink
	failFast := s.failFast
	forwardBad := s.forwardBad
	countBytes := s.countBytes
	statsEvery := s.statsEvery
	withProv := s.withProv
	schemaHash := s.schemaHash
	s.mu.Unlock()

	clock := s.getClock()
	start := clock.Now()
	st.start(start)

	ctx, span := s.tracer.StartSpan(ctx, StreamProcessSpan)
	strategy := "skip-invalid"
	if failFast {
		strategy = "fail-fast"
	}
	span.SetTag(StreamTagStrategy, strategy)

	if withProv {
		if schemaHash == "" {
			schemaHash = SchemaFingerprint(s.schema.Name(), nil)
		}
		s.mu.Lock()
		s.prov = &StreamProvenance{
			StartedAt:  start,
			SchemaName: s.schema.Name(),
			SchemaHash: schemaHash,
			Version:    Version,
		}
		s.mu.Unlock()
	}

	finish := func(runErr error) (StatsSnapshot, error) {
		now := clock.Now()
		st.finish(now)
		s.metrics.Gauge(StreamDurationMs).Set(float64(now.Sub(start).Milliseconds()))
		snap := st.snapshot(now, true)
		span.SetTag(StreamTagRecords, fmt.Sprintf("%d", snap.TotalRecords))
		span.SetTag(StreamTagInvalid, fmt.Sprintf("%d", snap.InvalidRecords))
		if runErr != nil {
			span.SetTag(StreamTagSuccess, "false")
			span.SetTag(StreamTagError, runErr.Error())
		} else {
			span.SetTag(StreamTagSuccess, "true")
		}
		span.Finish()
		if withProv {
			s.mu.Lock()
			s.prov.CompletedAt = now
			s.prov.Records = snap.TotalRecords
			s.mu.Unlock()
		}
		if s.onStats != nil {
			s.onStats(snap)
		}
		return snap, runErr
	}

	var index int64
	for {
		if flow != nil {
			if err := flow.Admit(ctx); err != nil {
				return finish(err)
			}
		}

		data, err := src.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return finish(&Error[T]{
				Err:       err,
				Index:     index,
				Path:      []Name{s.name},
				Timestamp: clock.Now(),
				Canceled:  errors.Is(err, context.Canceled),
			})
		}

		index++
		s.metrics.Counter(StreamRecordsTotal).Inc()
		if countBytes {
			if raw, mErr := canonicalBytes(data); mErr == nil {
				st.addBytes(len(raw))
			}
		}

		rec := Record[T]{Index: index, Data: data}

		// Received -> Validating -> {Valid, Invalid}
		var issues Issues
		verified := true
		if sampler != nil {
			rec.Data, issues, verified = sampler.Validate(ctx, data)
		} else {
			rec.Data, issues = s.schema.Validate(ctx, data)
		}

		if len(issues) > 0 {
			rec.Issues = issues
			st.recordInvalid(index, issues)
			s.metrics.Counter(StreamInvalidTotal).Inc()
			if flow != nil {
				flow.RecordError(ctx, issues)
			}
			if s.onError != nil {
				s.onError(issues, rec)
			}
			if failFast {
				return finish(&Error[T]{
					Err:       issues,
					InputData: data,
					Index:     index,
					Path:      []Name{s.name, s.schema.Name()},
					Timestamp: clock.Now(),
				})
			}
			s.emitStats(st, clock, index, statsEvery)
			if !forwardBad {
				continue
			}
		} else {
			rec.Valid = true
			rec.Assumed = !verified
			st.recordValid(!verified)
			s.metrics.Counter(StreamValidTotal).Inc()
			if s.onValid != nil {
				s.onValid(rec)
			}
		}

		dropped := false
		for _, stage := range stages {
			next, keep, stageErr := stage.Process(ctx, rec)
			if stageErr != nil {
				return finish(&Error[T]{
					Err:       stageErr,
					InputData: rec.Data,
					Index:     index,
					Path:      []Name{s.name, stage.Name()},
					Timestamp: clock.Now(),
				})
			}
			if !keep {
				dropped = true
				s.metrics.Counter(StreamDroppedTotal).Inc()
				break
			}
			rec = next
		}

		if !dropped && sink != nil && (rec.Valid || forwardBad) {
			if err := sink.Write(ctx, rec); err != nil {
				return finish(&Error[T]{
					Err:       err,
					InputData: rec.Data,
					Index:     index,
					Path:      []Name{s.name, sink.Name()},
					Timestamp: clock.Now(),
				})
			}
		}

		if rec.Valid {
			s.emitStats(st, clock, index, statsEvery)
		}
	}

	return finish(nil)
}

// emitStats fires the OnStats callback at the configured cadence.
func (s *Stream[T]) emitStats(st *stats, clock clockz.Clock, index, every int64) {
	if s.onStats == nil || index%every != 0 {
		return
	}
	s.onStats(st.snapshot(clock.Now(), false))
}

// GetProvenance returns the lineage record accumulated during the last Run.
// Nil when WithProvenance was not enabled or Run has not been called.
func (s *Stream[T]) GetProvenance() *StreamProvenance {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prov
}

// Stats returns a snapshot of the current run's statistics. Useful from
// callbacks while the stream is still running.
func (s *Stream[T]) Stats() StatsSnapshot {
	s.mu.Lock()
	st := s.stats
	s.mu.Unlock()
	if st == nil {
		return StatsSnapshot{}
	}
	return st.snapshot(s.getClock().Now(), false)
}

// Name returns the name of this stream.
func (s *Stream[T]) Name() Name {
	return s.name
}

// Metrics returns the metrics registry for this stream.
func (s *Stream[T]) Metrics() *metricz.Registry {
	return s.metrics
}

// Tracer returns the tracer for this stream.
func (s *Stream[T]) Tracer() *tracez.Tracer {
	return s.tracer
}

// Close gracefully shuts down observability components.
func (s *Stream[T]) Close() error {
	if s.tracer != nil {
		s.tracer.Close()
	}
	return nil
}

// durationMs is a small helper for signal fields.
func durationMs(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
