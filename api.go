// Package vetz provides a type-safe library for validating structured records
// against a caller-supplied schema contract - individually, in finite batches,
// or as unbounded streams - with bounded concurrency, flow control, and
// partial-failure tolerance.
//
// # Overview
//
// vetz sits between a record producer and a schema. It never parses wire
// formats itself: format adapters and the schema are supplied by the caller,
// and vetz drives them while controlling throughput, memory, and failure
// propagation. It serves pipelines that must validate GB-scale datasets or
// continuous feeds without loading everything into memory, and batches of
// discrete items that must run with bounded parallelism.
//
// # Installation
//
//	go get github.com/zoobzio/vetz
//
// Requires Go 1.23+ for generic type constraints.
//
// # Core Concepts
//
// The library is built around two small contracts:
//
//	type Schema[T any] interface {
//	    Validate(context.Context, T) (T, Issues)
//	    Name() Name
//	}
//
//	type Stage[T any] interface {
//	    Process(context.Context, Record[T]) (Record[T], bool, error)
//	    Name() Name
//	}
//
// Key components:
//   - Batch: runs a fixed, named collection of validate/parse/convert items
//     under a concurrency limit with lifecycle events and a final summary
//   - Stream: applies the schema to an open-ended sequence of records with
//     running statistics and a configurable error strategy
//   - FlowControl: pauses the upstream producer on errors and resumes it
//     after a delay, failing permanently past a paused-time budget
//   - FanOut: duplicates validated output to N independently-backed sinks
//   - Stages: Dedup, Aggregator, RateLimit and friends compose into the
//     stream's per-record path; CachedValidator and Sampler wrap the schema
//
// Design philosophy:
//   - Schemas and adapters are external collaborators, never owned here
//   - Components are mutable pointers configured with fluent setters before
//     their run method is called
//   - Per-record callbacks fire synchronously on the processing goroutine;
//     a slow callback directly adds latency to the pipeline
//
// # Quick Start
//
//	schema := vetz.SchemaFunc[Order]("order", func(_ context.Context, o Order) (Order, vetz.Issues) {
//	    if o.ID == "" {
//	        return o, vetz.Issues{{Path: "/id", Code: vetz.CodeRequired, Message: "id is required"}}
//	    }
//	    return o, nil
//	})
//
//	batch := vetz.NewBatch("orders", schema).WithParallel(4)
//	batch.Add("a", orderA)
//	batch.Add("b", orderB)
//	summary, err := batch.Execute(context.Background())
//
// Streaming works the same way against a Source:
//
//	stream := vetz.NewStream("orders", schema).
//	    WithSkipInvalid(true).
//	    WithMaxErrors(100)
//	stats, err := stream.Run(ctx, vetz.NewSliceSource("src", orders))
//
// # Error Handling
//
// vetz reports failures through a small taxonomy: schema rejections carry
// Issues, adapter failures surface as *AdapterError, duplicate batch ids as
// *DuplicateIDError, flow-control timeouts as *BackpressureTimeoutError, and
// unregistered formats as *UnknownFormatError. Terminal failures are wrapped
// in *Error[T] with the component path, offending input, and timing, so a
// failed record can always be located.
package vetz

import "context"

// Name identifies processors, stages, schemas, and sinks.
// Using this type encourages storing names as constants rather than
// inline strings throughout your code.
//
// Example:
//
//	const (
//	    SchemaOrder   Name = "order"
//	    StageDedup    Name = "dedup-orders"
//	    SinkWarehouse Name = "warehouse"
//	)
type Name = string

// Schema is the validation contract consumed by every component in vetz.
// Validate returns the (possibly normalized) record and a nil Issues on
// success, or the issues describing the rejection. Implementations must be
// pure and side-effect-free from the pipeline's perspective: vetz may call
// Validate concurrently, skip calls when a cached verdict exists, or not
// call it at all for sampled-out records.
type Schema[T any] interface {
	Validate(ctx context.Context, record T) (T, Issues)
	Name() Name
}

// schemaFunc adapts a plain function to the Schema interface.
type schemaFunc[T any] struct {
	fn   func(context.Context, T) (T, Issues)
	name Name
}

func (s schemaFunc[T]) Validate(ctx context.Context, record T) (T, Issues) {
	return s.fn(ctx, record)
}

func (s schemaFunc[T]) Name() Name { return s.name }

// SchemaFunc wraps a validation function as a Schema.
//
// Example:
//
//	schema := vetz.SchemaFunc[map[string]any]("event", func(_ context.Context, m map[string]any) (map[string]any, vetz.Issues) {
//	    if _, ok := m["type"]; !ok {
//	        return m, vetz.Issues{{Path: "/type", Code: vetz.CodeRequired, Message: "type is required"}}
//	    }
//	    return m, nil
//	})
func SchemaFunc[T any](name Name, fn func(context.Context, T) (T, Issues)) Schema[T] {
	return schemaFunc[T]{name: name, fn: fn}
}

// Record is a single position in a validated stream. Records are ephemeral:
// stages pass them along but nothing in vetz retains them beyond the window
// needed for statistics and caching.
type Record[T any] struct {
	Data    T
	Issues  Issues // present iff invalid
	Index   int64  // monotonic position in the sequence
	Valid   bool
	Assumed bool // true when validity was assumed (sampled out), not verified
}

// Source produces the records a Stream consumes. Next returns io.EOF when
// the sequence is exhausted; any other error terminates the stream.
type Source[T any] interface {
	Next(ctx context.Context) (T, error)
}

// Sink receives records that survive the stream's validation path.
// Write failures are handled by the stage that owns the sink: FanOut
// aggregates them, a bare Stream sink fails the stream.
type Sink[T any] interface {
	Write(ctx context.Context, rec Record[T]) error
	Name() Name
}

// Stage is a per-record processing step in a stream's downstream path.
// Process returns the (possibly annotated) record and whether it should be
// forwarded; returning false drops the record without error. Stages must
// preserve the relative order of the records they forward.
type Stage[T any] interface {
	Process(ctx context.Context, rec Record[T]) (Record[T], bool, error)
	Name() Name
}

// FieldFunc projects a record onto named fields for components that are
// addressed by field name (Dedup keys, Aggregator statistics). MapFields is
// the identity accessor for map-shaped records; struct-shaped records supply
// their own projection.
type FieldFunc[T any] func(record T) map[string]any

// MapFields is the FieldFunc for records that already are field maps.
func MapFields(record map[string]any) map[string]any { return record }
