package vetz

import (
	"container/list"
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/zoobzio/capitan"
	"github.com/zoobzio/metricz"
)

// Observability constants for the Dedup stage.
const (
	DedupSeenTotal    = metricz.Key("dedup.seen.total")
	DedupDroppedTotal = metricz.Key("dedup.dropped.total")
	DedupWindowSize   = metricz.Key("dedup.window.size")
)

// Dedup drops records whose composite key - built from the configured key
// fields - was already seen within a bounded window. Survivors are
// forwarded in arrival order.
//
// The seen-key window is access-time LRU bounded by maxCacheSize: a
// repeated key refreshes its recency, and once the window is full the
// oldest key is evicted. A sufficiently old duplicate can therefore pass
// through undetected - a documented, bounded-memory trade-off, not a bug.
//
// When no key fields are configured, the key is the hash of the record's
// canonical serialization (exact-duplicate detection).
//
// Example:
//
//	dedup := vetz.NewDedup("events-dedup", vetz.MapFields, 100_000, "user_id", "event_type")
//	stream := vetz.NewStream("events", schema).WithStage(dedup)
type Dedup[T any] struct {
	fields    FieldFunc[T]
	seen      map[string]*list.Element
	order     *list.List // front = most recently seen
	metrics   *metricz.Registry
	name      Name
	keyFields []string
	maxSize   int
	dropped   int64
	mu        sync.Mutex
}

// NewDedup creates a Dedup stage. maxCacheSize bounds the seen-key window
// (values below 1 are clamped to 1). keyFields name the fields composing
// the dedup key; leave empty to match on the whole record.
func NewDedup[T any](name Name, fields FieldFunc[T], maxCacheSize int, keyFields ...string) *Dedup[T] {
	if maxCacheSize < 1 {
		maxCacheSize = 1
	}

	metrics := metricz.New()
	metrics.Counter(DedupSeenTotal)
	metrics.Counter(DedupDroppedTotal)
	metrics.Gauge(DedupWindowSize)

	return &Dedup[T]{
		name:      name,
		fields:    fields,
		keyFields: keyFields,
		maxSize:   maxCacheSize,
		seen:      make(map[string]*list.Element),
		order:     list.New(),
		metrics:   metrics,
	}
}

// key builds the composite key for one record.
func (d *Dedup[T]) key(record T) (string, error) {
	if len(d.keyFields) == 0 {
		return recordKey(record)
	}
	values := d.fields(record)
	parts := make([]string, len(d.keyFields))
	for i, field := range d.keyFields {
		parts[i] = fmt.Sprintf("%v", values[field])
	}
	return strings.Join(parts, "\x1f"), nil
}

// Process implements Stage. A record is dropped iff its key is already in
// the window; otherwise it is forwarded and its key recorded.
func (d *Dedup[T]) Process(ctx context.Context, rec Record[T]) (Record[T], bool, error) {
	key, err := d.key(rec.Data)
	if err != nil {
		// Unkeyable records are forwarded rather than silently dropped.
		return rec, true, nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.metrics.Counter(DedupSeenTotal).Inc()

	if element, ok := d.seen[key]; ok {
		d.order.MoveToFront(element)
		d.dropped++
		d.metrics.Counter(DedupDroppedTotal).Inc()
		capitan.Info(ctx, SignalDedupDropped,
			FieldName.Field(string(d.name)),
			FieldKey.Field(key),
			FieldIndex.Field(int(rec.Index)),
		)
		return rec, false, nil
	}

	element := d.order.PushFront(key)
	d.seen[key] = element
	if d.order.Len() > d.maxSize {
		oldest := d.order.Back()
		if oldest != nil {
			d.order.Remove(oldest)
			delete(d.seen, oldest.Value.(string))
		}
	}
	d.metrics.Gauge(DedupWindowSize).Set(float64(d.order.Len()))
	return rec, true, nil
}

// Dropped returns the number of duplicates dropped so far.
func (d *Dedup[T]) Dropped() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dropped
}

// Len returns the current seen-key window size.
func (d *Dedup[T]) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.order.Len()
}

// Name returns the name of this stage.
func (d *Dedup[T]) Name() Name {
	return d.name
}

// Metrics returns the metrics registry for this stage.
func (d *Dedup[T]) Metrics() *metricz.Registry {
	return d.metrics
}
