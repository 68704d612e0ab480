package vetz

import (
	"context"
	"fmt"
	"sync"

	"github.com/zoobzio/metricz"
)

// Observability constants for the Aggregator stage.
const (
	AggregatorRecordsTotal = metricz.Key("aggregator.records.total")
	AggregatorPassedTotal  = metricz.Key("aggregator.passed.total")
	AggregatorFailedTotal  = metricz.Key("aggregator.failed.total")
)

// maxUniqueTracked bounds the per-field unique-value set. Beyond this the
// set stops growing and only the occurrence count advances.
const maxUniqueTracked = 1024

// FieldStats is the running aggregation for one field.
// Counters never decrease.
type FieldStats struct {
	Types       map[string]int64 `json:"types"` // observed type name -> occurrences
	Min         float64          `json:"min"`   // numeric fields only
	Max         float64          `json:"max"`
	UniqueCount int64            `json:"unique_count"`
	Count       int64            `json:"count"`
	HasNumeric  bool             `json:"has_numeric"`

	unique map[string]struct{}
}

// FailureSample is one retained invalid record reference.
type FailureSample struct {
	Issues Issues
	Index  int64
}

// Aggregation is the snapshot returned by GetAggregation.
type Aggregation struct {
	FieldStats     map[string]*FieldStats
	FailureSamples []FailureSample
	TotalValidated int64
	Passed         int64
	Failed         int64
}

// Aggregator accumulates running field-level statistics over the records
// flowing through it. Valid and invalid records are counted separately
// (invalid records reach the stage only when the stream forwards them);
// per-field type, range, and uniqueness statistics are updated once per
// valid record when field tracking is enabled, and up to maxFailedItems
// failure samples are retained.
//
// Every record is forwarded unchanged - the aggregator observes, it never
// drops.
//
// Example:
//
//	agg := vetz.NewAggregator("events-agg", vetz.MapFields).
//	    WithFieldStats(true).
//	    WithMaxFailedItems(50)
//	stream := vetz.NewStream("events", schema).WithStage(agg)
//	...
//	report := agg.GetAggregation()
type Aggregator[T any] struct {
	fields         FieldFunc[T]
	fieldStats     map[string]*FieldStats
	metrics        *metricz.Registry
	samples        []FailureSample
	name           Name
	total          int64
	passed         int64
	failed         int64
	maxFailedItems int
	trackFields    bool
	mu             sync.Mutex
}

// NewAggregator creates an Aggregator. Field tracking is off by default.
func NewAggregator[T any](name Name, fields FieldFunc[T]) *Aggregator[T] {
	metrics := metricz.New()
	metrics.Counter(AggregatorRecordsTotal)
	metrics.Counter(AggregatorPassedTotal)
	metrics.Counter(AggregatorFailedTotal)

	return &Aggregator[T]{
		name:           name,
		fields:         fields,
		fieldStats:     make(map[string]*FieldStats),
		maxFailedItems: 10,
		metrics:        metrics,
	}
}

// WithFieldStats enables per-field type/range/uniqueness tracking.
func (a *Aggregator[T]) WithFieldStats(enabled bool) *Aggregator[T] {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.trackFields = enabled
	return a
}

// WithMaxFailedItems bounds the retained failure samples (default 10).
func (a *Aggregator[T]) WithMaxFailedItems(n int) *Aggregator[T] {
	if n < 0 {
		n = 0
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.maxFailedItems = n
	return a
}

// Process implements Stage. Always forwards.
func (a *Aggregator[T]) Process(_ context.Context, rec Record[T]) (Record[T], bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.total++
	a.metrics.Counter(AggregatorRecordsTotal).Inc()

	if !rec.Valid {
		a.failed++
		a.metrics.Counter(AggregatorFailedTotal).Inc()
		if len(a.samples) < a.maxFailedItems {
			a.samples = append(a.samples, FailureSample{Index: rec.Index, Issues: rec.Issues})
		}
		return rec, true, nil
	}

	a.passed++
	a.metrics.Counter(AggregatorPassedTotal).Inc()
	if a.trackFields {
		for field, value := range a.fields(rec.Data) {
			a.observeLocked(field, value)
		}
	}
	return rec, true, nil
}

// observeLocked folds one field value into its stats. Caller holds mu.
func (a *Aggregator[T]) observeLocked(field string, value any) {
	fs, ok := a.fieldStats[field]
	if !ok {
		fs = &FieldStats{
			Types:  make(map[string]int64),
			unique: make(map[string]struct{}),
		}
		a.fieldStats[field] = fs
	}

	fs.Count++
	fs.Types[typeLabel(value)]++

	if n, ok := asFloat(value); ok {
		if !fs.HasNumeric || n < fs.Min {
			fs.Min = n
		}
		if !fs.HasNumeric || n > fs.Max {
			fs.Max = n
		}
		fs.HasNumeric = true
	}

	if len(fs.unique) < maxUniqueTracked {
		repr := fmt.Sprintf("%v", value)
		if _, seen := fs.unique[repr]; !seen {
			fs.unique[repr] = struct{}{}
			fs.UniqueCount++
		}
	}
}

// typeLabel names a value's dynamic type for aggregation.
func typeLabel(value any) string {
	switch value.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case string:
		return "string"
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return "number"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	default:
		return fmt.Sprintf("%T", value)
	}
}

// asFloat extracts a numeric value when possible.
func asFloat(value any) (float64, bool) {
	switch n := value.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

// GetAggregation returns a copy of the current aggregation state.
func (a *Aggregator[T]) GetAggregation() Aggregation {
	a.mu.Lock()
	defer a.mu.Unlock()

	fields := make(map[string]*FieldStats, len(a.fieldStats))
	for name, fs := range a.fieldStats {
		cp := &FieldStats{
			Min:         fs.Min,
			Max:         fs.Max,
			UniqueCount: fs.UniqueCount,
			Count:       fs.Count,
			HasNumeric:  fs.HasNumeric,
			Types:       make(map[string]int64, len(fs.Types)),
		}
		for t, n := range fs.Types {
			cp.Types[t] = n
		}
		fields[name] = cp
	}

	samples := make([]FailureSample, len(a.samples))
	copy(samples, a.samples)

	return Aggregation{
		TotalValidated: a.total,
		Passed:         a.passed,
		Failed:         a.failed,
		FieldStats:     fields,
		FailureSamples: samples,
	}
}

// Name returns the name of this stage.
func (a *Aggregator[T]) Name() Name {
	return a.name
}

// Metrics returns the metrics registry for this stage.
func (a *Aggregator[T]) Metrics() *metricz.Registry {
	return a.metrics
}
