package vetz

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/zoobzio/capitan"
	"github.com/zoobzio/clockz"
	"github.com/zoobzio/metricz"
	"github.com/zoobzio/tracez"
)

// Observability constants for the Batch processor.
const (
	// Metrics.
	BatchExecutedTotal  = metricz.Key("batch.executed.total")
	BatchItemsTotal     = metricz.Key("batch.items.total")
	BatchSuccessesTotal = metricz.Key("batch.successes.total")
	BatchFailuresTotal  = metricz.Key("batch.failures.total")
	BatchDurationMs     = metricz.Key("batch.duration.ms")
	BatchItemDurationMs = metricz.Key("batch.item.duration.ms")

	// Spans.
	BatchProcessSpan = tracez.Key("batch.process")
	BatchItemSpan    = tracez.Key("batch.item")

	// Tags.
	BatchTagItemCount = tracez.Tag("batch.item_count")
	BatchTagItemID    = tracez.Tag("batch.item_id")
	BatchTagParallel  = tracez.Tag("batch.parallel")
	BatchTagSuccess   = tracez.Tag("batch.success")
	BatchTagError     = tracez.Tag("batch.error")
)

// Batch lifecycle event names, used with On.
const (
	EventStart        Name = "start"
	EventProgress     Name = "progress"
	EventItemComplete Name = "itemComplete"
	EventComplete     Name = "complete"
)

// ItemStatus is the lifecycle state of a batch item.
type ItemStatus string

const (
	StatusPending   ItemStatus = "pending"
	StatusRunning   ItemStatus = "running"
	StatusSucceeded ItemStatus = "succeeded"
	StatusFailed    ItemStatus = "failed"
)

// item operation kinds.
const (
	opValidate = "validate"
	opParse    = "parse"
	opConvert  = "convert"
)

// Result is the terminal outcome of one batch item. Results appear in the
// Summary in Add order regardless of completion order, and are immutable
// once the item reaches a terminal status.
type Result[T any] struct {
	Output       T
	Err          error // present iff Status == StatusFailed
	Formatted    []byte
	Metadata     Metadata
	ID           string
	SourceFormat Name
	TargetFormat Name
	Status       ItemStatus
	Duration     time.Duration
}

// Summary is the outcome of one Execute call.
// Invariants: Successful+Failed == Total and len(Results) == Total, always;
// a failed item is never silently dropped from the totals.
type Summary[T any] struct {
	Results         []Result[T]
	Provenance      *BatchProvenance // set when WithProvenance(true)
	Total           int
	Successful      int
	Failed          int
	AverageDuration time.Duration
}

// BatchEvent is the payload delivered to observers registered with On.
// Fields are populated per event: Total for start; Done and Total for
// progress; Result for itemComplete; Summary for complete.
type BatchEvent[T any] struct {
	Result    *Result[T]
	Summary   *Summary[T]
	Name      Name
	Event     Name
	Done      int
	Total     int
	Timestamp time.Time
}

// batchItem is the mutable in-flight state of one added item.
type batchItem[T any] struct {
	payload T
	raw     []byte
	id      string
	op      string
	from    Name
	to      Name
}

// Batch orchestrates a fixed set of added items through validate, parse,
// and convert operations against the schema, honoring a concurrency limit
// and a failure policy, and emitting lifecycle events plus a final Summary.
//
// Items run under a sliding window of at most parallel workers: with
// parallel=2 and five items, item three begins as soon as either of the
// first two completes, not when both do. Completion order is therefore
// unordered, but stored Results always match Add order.
//
// Observers registered with On and OnProgress are invoked synchronously on
// the goroutine completing each item, serialized so that itemComplete for
// an item always precedes the progress tick that counts it. Slow observers
// directly slow the batch down.
//
// A Batch is reusable: Reset clears items and the last summary while
// keeping configuration and observers, so one instance can serve many
// independent batches.
//
// Example:
//
//	batch := vetz.NewBatch("orders", schema).
//	    WithParallel(4).
//	    WithContinueOnError(true).
//	    WithProvenance(true)
//
//	batch.On(vetz.EventItemComplete, func(e vetz.BatchEvent[Order]) {
//	    if e.Result.Err != nil {
//	        log.Printf("item %s failed: %v", e.Result.ID, e.Result.Err)
//	    }
//	})
//
//	_ = batch.Add("a", orderA)
//	_ = batch.AddParse("b", rawCSV, "csv")
//	summary, err := batch.Execute(ctx)
type Batch[T any] struct {
	schema          Schema[T]
	adapters        *AdapterRegistry[T]
	limiter         *Limiter
	clock           clockz.Clock
	metrics         *metricz.Registry
	tracer          *tracez.Tracer
	observers       map[Name][]func(BatchEvent[T])
	progressFns     []func(done, total int)
	items           []*batchItem[T]
	ids             map[string]struct{}
	name            Name
	schemaHash      string
	parallel        int
	timeout         time.Duration
	continueOnError bool
	provenance      bool
	seq             int64 // batches executed, used for provenance batch ids
	mu              sync.Mutex
	emitMu          sync.Mutex
}

// NewBatch creates a Batch bound to a schema. The default configuration is
// fully sequential (parallel=1), continue-on-error, without provenance.
func NewBatch[T any](name Name, schema Schema[T]) *Batch[T] {
	metrics := metricz.New()
	metrics.Counter(BatchExecutedTotal)
	metrics.Counter(BatchItemsTotal)
	metrics.Counter(BatchSuccessesTotal)
	metrics.Counter(BatchFailuresTotal)
	metrics.Gauge(BatchDurationMs)
	metrics.Gauge(BatchItemDurationMs)

	return &Batch[T]{
		name:            name,
		schema:          schema,
		parallel:        1,
		continueOnError: true,
		ids:             make(map[string]struct{}),
		observers:       make(map[Name][]func(BatchEvent[T])),
		metrics:         metrics,
		tracer:          tracez.New(),
	}
}

// WithParallel sets the concurrency width (minimum 1, the default).
// Ignored when a shared Limiter is set with WithLimiter.
func (b *Batch[T]) WithParallel(parallel int) *Batch[T] {
	if parallel < 1 {
		parallel = 1
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.parallel = parallel
	return b
}

// WithLimiter shares an externally owned concurrency budget with this
// batch instead of the private one sized by WithParallel.
func (b *Batch[T]) WithLimiter(limiter *Limiter) *Batch[T] {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.limiter = limiter
	return b
}

// WithContinueOnError controls the failure policy. When true (the default),
// every item failure is captured in its Result and Execute always returns a
// Summary. When false, the first failure aborts remaining work and Execute
// returns that error with no summary.
func (b *Batch[T]) WithContinueOnError(continueOnError bool) *Batch[T] {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.continueOnError = continueOnError
	return b
}

// WithProvenance attaches a BatchProvenance record to each Summary.
func (b *Batch[T]) WithProvenance(enabled bool) *Batch[T] {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.provenance = enabled
	return b
}

// WithSchemaHash records a schema fingerprint in provenance output.
// See SchemaFingerprint.
func (b *Batch[T]) WithSchemaHash(hash string) *Batch[T] {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.schemaHash = hash
	return b
}

// WithAdapters sets the format adapter registry consulted by AddParse and
// AddConversion items. Resolution happens at Execute, so formats must be
// registered before then.
func (b *Batch[T]) WithAdapters(registry *AdapterRegistry[T]) *Batch[T] {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.adapters = registry
	return b
}

// WithTimeout sets a per-item timeout. Each item's validate/parse/convert
// work must complete within this duration or the item fails with a
// timeout-flagged error.
func (b *Batch[T]) WithTimeout(timeout time.Duration) *Batch[T] {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.timeout = timeout
	return b
}

// WithClock sets a custom clock for testing.
func (b *Batch[T]) WithClock(clock clockz.Clock) *Batch[T] {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.clock = clock
	return b
}

// getClock returns the clock to use.
func (b *Batch[T]) getClock() clockz.Clock {
	if b.clock == nil {
		return clockz.RealClock
	}
	return b.clock
}

// Add registers a pending validation item. Fails with *DuplicateIDError if
// the id already exists in the current (unreset) batch.
func (b *Batch[T]) Add(id string, payload T) error {
	return b.add(&batchItem[T]{id: id, op: opValidate, payload: payload})
}

// AddParse registers an item whose raw payload is parsed with the format's
// adapter before validation.
func (b *Batch[T]) AddParse(id string, raw []byte, format Name) error {
	return b.add(&batchItem[T]{id: id, op: opParse, raw: raw, from: format})
}

// AddConversion registers an item that is parsed from one format, validated,
// and formatted into another. The formatted output lands in Result.Formatted.
func (b *Batch[T]) AddConversion(id string, raw []byte, from, to Name) error {
	return b.add(&batchItem[T]{id: id, op: opConvert, raw: raw, from: from, to: to})
}

func (b *Batch[T]) add(item *batchItem[T]) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.ids[item.id]; exists {
		return &DuplicateIDError{ID: item.id}
	}
	b.ids[item.id] = struct{}{}
	b.items = append(b.items, item)
	return nil
}

// Len returns the number of items pending in the current batch.
func (b *Batch[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

// On registers an observer for a lifecycle event (EventStart, EventProgress,
// EventItemComplete, EventComplete). Observers are invoked synchronously at
// the documented lifecycle points, in registration order; they survive Reset.
func (b *Batch[T]) On(event Name, fn func(BatchEvent[T])) *Batch[T] {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.observers[event] = append(b.observers[event], fn)
	return b
}

// OnProgress registers a convenience observer receiving (done, total) after
// each item completes. Equivalent to observing EventProgress.
func (b *Batch[T]) OnProgress(fn func(done, total int)) *Batch[T] {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.progressFns = append(b.progressFns, fn)
	return b
}

// emit invokes observers for one event. Callers hold emitMu when ordering
// between consecutive events matters (itemComplete before its progress).
func (b *Batch[T]) emit(event Name, e BatchEvent[T]) {
	b.mu.Lock()
	observers := make([]func(BatchEvent[T]), len(b.observers[event]))
	copy(observers, b.observers[event])
	var progress []func(done, total int)
	if event == EventProgress {
		progress = make([]func(done, total int), len(b.progressFns))
		copy(progress, b.progressFns)
	}
	b.mu.Unlock()

	e.Name = b.name
	e.Event = event
	for _, fn := range observers {
		fn(e)
	}
	for _, fn := range progress {
		fn(e.Done, e.Total)
	}
}

// Reset clears all items, statuses, and the last summary so the instance
// can run an independent batch. Observers and configuration remain.
func (b *Batch[T]) Reset() *Batch[T] {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.items = nil
	b.ids = make(map[string]struct{})
	return b
}

// Execute runs all pending items to completion and returns a Summary.
//
// With continue-on-error (the default) every failure is captured in its
// item's Result and a Summary is always returned. With
// WithContinueOnError(false), the first failure cancels remaining work and
// Execute returns that error wrapped in *Error[T]; no summary is produced
// and already-completed items are discarded from the caller's perspective.
func (b *Batch[T]) Execute(ctx context.Context) (*Summary[T], error) {
	b.mu.Lock()
	items := make([]*batchItem[T], len(b.items))
	copy(items, b.items)
	limiter := b.limiter
	if limiter == nil {
		limiter = NewLimiter(b.name, b.parallel)
	}
	continueOnError := b.continueOnError
	provenance := b.provenance
	timeout := b.timeout
	adapters := b.adapters
	schemaHash := b.schemaHash
	b.seq++
	seq := b.seq
	b.mu.Unlock()

	clock := b.getClock()
	b.metrics.Counter(BatchExecutedTotal).Inc()

	ctx, span := b.tracer.StartSpan(ctx, BatchProcessSpan)
	span.SetTag(BatchTagItemCount, fmt.Sprintf("%d", len(items)))
	span.SetTag(BatchTagParallel, fmt.Sprintf("%d", limiter.Width()))
	defer span.Finish()

	start := clock.Now()
	b.emit(EventStart, BatchEvent[T]{Total: len(items), Timestamp: start})

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make([]Result[T], len(items))
	var (
		wg       sync.WaitGroup
		done     int
		firstErr error
		errOnce  sync.Once
	)

	for i, item := range items {
		if err := limiter.Acquire(runCtx); err != nil {
			// Canceled while waiting for a slot; remaining items never start.
			break
		}
		wg.Add(1)
		b.metrics.Counter(BatchItemsTotal).Inc()

		go func(index int, it *batchItem[T]) {
			defer wg.Done()
			defer limiter.Release()

			itemCtx, itemSpan := b.tracer.StartSpan(runCtx, BatchItemSpan)
			itemSpan.SetTag(BatchTagItemID, it.id)
			defer itemSpan.Finish()

			if timeout > 0 {
				var cancelItem context.CancelFunc
				itemCtx, cancelItem = clock.WithTimeout(itemCtx, timeout)
				defer cancelItem()
			}

			itemStart := clock.Now()
			result := b.runItem(itemCtx, adapters, it)
			result.Duration = clock.Since(itemStart)
			b.metrics.Gauge(BatchItemDurationMs).Set(float64(result.Duration.Milliseconds()))

			if result.Err != nil {
				itemSpan.SetTag(BatchTagSuccess, "false")
				itemSpan.SetTag(BatchTagError, result.Err.Error())
				b.metrics.Counter(BatchFailuresTotal).Inc()
				if !continueOnError {
					errOnce.Do(func() {
						firstErr = &Error[T]{
							Err:       result.Err,
							InputData: it.payload,
							ItemID:    it.id,
							Path:      []Name{b.name},
							Timestamp: clock.Now(),
							Duration:  result.Duration,
						}
						cancel()
					})
					results[index] = result
					return
				}
			} else {
				itemSpan.SetTag(BatchTagSuccess, "true")
				b.metrics.Counter(BatchSuccessesTotal).Inc()
			}

			results[index] = result

			// Serialize completion events so itemComplete always precedes
			// the progress tick that counts it, and observers never run
			// concurrently.
			b.emitMu.Lock()
			done++
			current := done
			now := clock.Now()
			b.emit(EventItemComplete, BatchEvent[T]{Result: &results[index], Total: len(items), Timestamp: now})
			b.emit(EventProgress, BatchEvent[T]{Done: current, Total: len(items), Timestamp: now})
			b.emitMu.Unlock()
		}(i, item)
	}

	wg.Wait()

	// Items that never acquired a slot (cancellation mid-batch) still get a
	// terminal result so summary totals never drop an item.
	for i := range results {
		if results[i].Status == "" {
			results[i] = Result[T]{
				ID:     items[i].id,
				Status: StatusFailed,
				Err:    runCtx.Err(),
			}
		}
	}

	elapsed := clock.Since(start)
	b.metrics.Gauge(BatchDurationMs).Set(float64(elapsed.Milliseconds()))

	if firstErr != nil {
		span.SetTag(BatchTagSuccess, "false")
		span.SetTag(BatchTagError, firstErr.Error())
		capitan.Warn(ctx, SignalBatchAborted,
			FieldName.Field(string(b.name)),
			FieldError.Field(firstErr.Error()),
			FieldCompleted.Field(done),
			FieldTotal.Field(len(items)),
			FieldTimestamp.Field(float64(clock.Now().Unix())),
		)
		return nil, firstErr
	}

	summary := &Summary[T]{
		Results: results,
		Total:   len(items),
	}
	var totalDuration time.Duration
	for _, r := range results {
		if r.Status == StatusSucceeded {
			summary.Successful++
		} else {
			summary.Failed++
		}
		totalDuration += r.Duration
	}
	if summary.Total > 0 {
		summary.AverageDuration = totalDuration / time.Duration(summary.Total)
	}
	if provenance {
		summary.Provenance = &BatchProvenance{
			BatchID:         fmt.Sprintf("%s-%d", b.name, seq),
			Operation:       "batch-validate",
			SchemaHash:      schemaHash,
			TotalItems:      summary.Total,
			SuccessfulItems: summary.Successful,
			ProcessingTime:  elapsed,
			CompletedAt:     clock.Now(),
		}
	}

	span.SetTag(BatchTagSuccess, "true")
	b.emit(EventComplete, BatchEvent[T]{Summary: summary, Total: summary.Total, Done: summary.Total, Timestamp: clock.Now()})
	return summary, nil
}

// runItem executes one item's operation chain. Errors are captured in the
// Result, never propagated, so the caller decides the failure policy.
func (b *Batch[T]) runItem(ctx context.Context, adapters *AdapterRegistry[T], it *batchItem[T]) Result[T] {
	result := Result[T]{
		ID:           it.id,
		Status:       StatusRunning,
		SourceFormat: it.from,
		TargetFormat: it.to,
	}

	fail := func(err error) Result[T] {
		result.Status = StatusFailed
		result.Err = err
		return result
	}

	if err := ctx.Err(); err != nil {
		return fail(err)
	}

	record := it.payload
	if it.op == opParse || it.op == opConvert {
		if adapters == nil {
			return fail(&UnknownFormatError{Format: it.from})
		}
		adapter, err := adapters.Resolve(it.from)
		if err != nil {
			return fail(err)
		}
		parsed, meta, err := parseWith(ctx, adapter, it.from, it.raw)
		if err != nil {
			return fail(err)
		}
		record = parsed
		result.Metadata = meta
	}

	validated, issues := b.schema.Validate(ctx, record)
	if len(issues) > 0 {
		return fail(issues)
	}
	result.Output = validated

	if it.op == opConvert {
		adapter, err := adapters.Resolve(it.to)
		if err != nil {
			return fail(err)
		}
		out, meta, err := formatWith(ctx, adapter, it.to, validated)
		if err != nil {
			return fail(err)
		}
		result.Formatted = out
		if meta != nil {
			result.Metadata = meta
		}
	}

	result.Status = StatusSucceeded
	return result
}

// Metrics returns the metrics registry for this batch.
func (b *Batch[T]) Metrics() *metricz.Registry {
	return b.metrics
}

// Tracer returns the tracer for this batch.
func (b *Batch[T]) Tracer() *tracez.Tracer {
	return b.tracer
}

// Close gracefully shuts down observability components.
func (b *Batch[T]) Close() error {
	if b.tracer != nil {
		b.tracer.Close()
	}
	return nil
}
