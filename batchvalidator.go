package vetz

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/zoobzio/clockz"
	"github.com/zoobzio/hookz"
	"github.com/zoobzio/metricz"
)

// Observability constants for the BatchValidator.
const (
	// Metrics.
	BatchValidatorGroupsTotal  = metricz.Key("batchvalidator.groups.total")
	BatchValidatorRecordsTotal = metricz.Key("batchvalidator.records.total")
	BatchValidatorInvalidTotal = metricz.Key("batchvalidator.invalid.total")
	BatchValidatorInFlight     = metricz.Key("batchvalidator.groups.inflight")

	// Hook event keys.
	BatchValidatorEventFlush         = hookz.Key("batchvalidator.flush")
	BatchValidatorEventGroupComplete = hookz.Key("batchvalidator.group_complete")
)

// BatchValidatorEvent is emitted via hookz when a group is flushed to a
// worker and when it completes.
type BatchValidatorEvent struct {
	Name      Name
	Size      int
	Valid     int
	Invalid   int
	Partial   bool // final flush with fewer than batchSize records
	Duration  time.Duration
	Timestamp time.Time
}

// BatchValidator buffers records from a source into groups of batchSize
// and validates each full group as one unit of work under the concurrency
// limiter, with up to parallelBatches groups in flight simultaneously. A
// final partial group is flushed when the source is exhausted.
//
// Group completion order is not guaranteed - two groups in flight may
// finish in either order - but record order within a group is preserved,
// and the OnGroup callback is serialized so observers never interleave.
//
// Example:
//
//	bv := vetz.NewBatchValidator("events-bulk", schema, 500, 4)
//	bv.OnGroup(func(group []vetz.Record[Event]) {
//	    warehouse.WriteAll(group)
//	})
//	stats, err := bv.Run(ctx, source)
type BatchValidator[T any] struct {
	schema    Schema[T]
	limiter   *Limiter
	clock     clockz.Clock
	hooks     *hookz.Hooks[BatchValidatorEvent]
	metrics   *metricz.Registry
	onGroup   func(group []Record[T])
	name      Name
	batchSize int
	maxErrors int
	mu        sync.Mutex
	emitMu    sync.Mutex
}

// NewBatchValidator creates a BatchValidator. batchSize below 1 is clamped
// to 1; parallelBatches below 1 is clamped to 1.
func NewBatchValidator[T any](name Name, schema Schema[T], batchSize, parallelBatches int) *BatchValidator[T] {
	if batchSize < 1 {
		batchSize = 1
	}

	metrics := metricz.New()
	metrics.Counter(BatchValidatorGroupsTotal)
	metrics.Counter(BatchValidatorRecordsTotal)
	metrics.Counter(BatchValidatorInvalidTotal)
	metrics.Gauge(BatchValidatorInFlight)

	return &BatchValidator[T]{
		name:      name,
		schema:    schema,
		batchSize: batchSize,
		limiter:   NewLimiter(name, parallelBatches),
		hooks:     hookz.New[BatchValidatorEvent](),
		metrics:   metrics,
	}
}

// WithLimiter shares an externally owned concurrency budget instead of the
// private one sized by parallelBatches.
func (b *BatchValidator[T]) WithLimiter(limiter *Limiter) *BatchValidator[T] {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.limiter = limiter
	return b
}

// WithMaxErrors caps the stored error list in the run's statistics.
func (b *BatchValidator[T]) WithMaxErrors(maxErrors int) *BatchValidator[T] {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maxErrors = maxErrors
	return b
}

// WithClock sets a custom clock for testing.
func (b *BatchValidator[T]) WithClock(clock clockz.Clock) *BatchValidator[T] {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.clock = clock
	return b
}

// getClock returns the clock to use.
func (b *BatchValidator[T]) getClock() clockz.Clock {
	if b.clock == nil {
		return clockz.RealClock
	}
	return b.clock
}

// OnGroup registers a callback receiving each completed group's records in
// source order. Calls are serialized across groups; a slow callback slows
// the validator down.
func (b *BatchValidator[T]) OnGroup(fn func(group []Record[T])) *BatchValidator[T] {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onGroup = fn
	return b
}

// Run drains the source, validating groups until exhaustion, and returns
// the aggregate statistics. A source error other than io.EOF terminates
// the run after in-flight groups complete.
func (b *BatchValidator[T]) Run(ctx context.Context, src Source[T]) (StatsSnapshot, error) {
	b.mu.Lock()
	limiter := b.limiter
	maxErrors := b.maxErrors
	b.mu.Unlock()

	clock := b.getClock()
	st := newStats(maxErrors)
	st.start(clock.Now())

	var (
		wg     sync.WaitGroup
		runErr error
	)

	flush := func(group []T, startIndex int64, partial bool) error {
		if len(group) == 0 {
			return nil
		}
		if err := limiter.Acquire(ctx); err != nil {
			return err
		}
		wg.Add(1)
		b.metrics.Counter(BatchValidatorGroupsTotal).Inc()
		b.metrics.Gauge(BatchValidatorInFlight).Set(float64(limiter.InFlight()))
		_ = b.hooks.Emit(ctx, BatchValidatorEventFlush, BatchValidatorEvent{ //nolint:errcheck
			Name:      b.name,
			Size:      len(group),
			Partial:   partial,
			Timestamp: clock.Now(),
		})

		go func(records []T, base int64) {
			defer wg.Done()
			defer limiter.Release()

			groupStart := clock.Now()
			results := make([]Record[T], len(records))
			valid, invalid := 0, 0
			for i, data := range records {
				index := base + int64(i)
				value, issues := b.schema.Validate(ctx, data)
				rec := Record[T]{Index: index, Data: value}
				b.metrics.Counter(BatchValidatorRecordsTotal).Inc()
				if len(issues) > 0 {
					rec.Data = data
					rec.Issues = issues
					invalid++
					b.metrics.Counter(BatchValidatorInvalidTotal).Inc()
					st.recordInvalid(index, issues)
				} else {
					rec.Valid = true
					valid++
					st.recordValid(false)
				}
				results[i] = rec
			}

			b.emitMu.Lock()
			if b.onGroup != nil {
				b.onGroup(results)
			}
			b.emitMu.Unlock()

			_ = b.hooks.Emit(ctx, BatchValidatorEventGroupComplete, BatchValidatorEvent{ //nolint:errcheck
				Name:      b.name,
				Size:      len(records),
				Valid:     valid,
				Invalid:   invalid,
				Partial:   partial,
				Duration:  clock.Since(groupStart),
				Timestamp: clock.Now(),
			})
		}(group, startIndex)
		return nil
	}

	var (
		group     []T
		index     int64
		groupBase int64 = 1
	)
	for {
		data, err := src.Next(ctx)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				runErr = err
			}
			break
		}
		index++
		group = append(group, data)
		if len(group) == b.batchSize {
			if err := flush(group, groupBase, false); err != nil {
				runErr = err
				group = nil
				break
			}
			group = nil
			groupBase = index + 1
		}
	}
	if runErr == nil {
		if err := flush(group, groupBase, true); err != nil {
			runErr = err
		}
	}

	wg.Wait()
	st.finish(clock.Now())
	return st.snapshot(clock.Now(), true), runErr
}

// OnFlush registers a handler fired when a group is handed to a worker.
// Handlers are called asynchronously via hookz.
func (b *BatchValidator[T]) OnFlush(handler func(context.Context, BatchValidatorEvent) error) error {
	_, err := b.hooks.Hook(BatchValidatorEventFlush, handler)
	return err
}

// OnGroupComplete registers a handler fired when a group finishes.
func (b *BatchValidator[T]) OnGroupComplete(handler func(context.Context, BatchValidatorEvent) error) error {
	_, err := b.hooks.Hook(BatchValidatorEventGroupComplete, handler)
	return err
}

// Name returns the name of this validator.
func (b *BatchValidator[T]) Name() Name {
	return b.name
}

// Metrics returns the metrics registry for this validator.
func (b *BatchValidator[T]) Metrics() *metricz.Registry {
	return b.metrics
}

// Close gracefully shuts down the hook registry.
func (b *BatchValidator[T]) Close() error {
	b.hooks.Close()
	return nil
}
