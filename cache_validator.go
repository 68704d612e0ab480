package vetz

import (
	"container/list"
	"context"
	"sync"

	"github.com/zoobzio/capitan"
	"github.com/zoobzio/metricz"
)

// Observability constants for the CachedValidator.
const (
	CachedValidatorHitsTotal   = metricz.Key("cachedvalidator.hits.total")
	CachedValidatorMissesTotal = metricz.Key("cachedvalidator.misses.total")
	CachedValidatorEvictions   = metricz.Key("cachedvalidator.evictions.total")
	CachedValidatorHitRate     = metricz.Key("cachedvalidator.hit.rate")
	CachedValidatorSize        = metricz.Key("cachedvalidator.size")
)

// cacheEntry is one memoized verdict.
type cacheEntry[T any] struct {
	value  T
	issues Issues
	key    string
}

// CachedValidator memoizes schema verdicts keyed by the hash of each
// record's canonical serialization. It implements Schema, so it drops in
// anywhere the wrapped schema is used.
//
// A hit returns the same verdict the schema would return for an identical
// canonical serialization - the cache never distinguishes schema versions,
// so changing the schema requires a fresh CachedValidator.
//
// Eviction is access-time LRU: a hit refreshes an entry's recency, and a
// miss that must insert into a full cache evicts the least-recently-used
// entry. Cache size never exceeds the configured capacity.
//
// CRITICAL: CachedValidator is STATEFUL. Share one instance across the
// calls that should share verdicts; mutation is serialized internally, so
// concurrent use across batches is safe.
//
// Example:
//
//	cached := vetz.NewCachedValidator("orders-cache", schema, 10_000)
//	stream := vetz.NewStream("orders", cached)
//	...
//	log.Printf("hit rate: %.2f", cached.HitRate())
type CachedValidator[T any] struct {
	schema   Schema[T]
	items    map[string]*list.Element
	order    *list.List // front = most recently used
	metrics  *metricz.Registry
	name     Name
	capacity int
	hits     int64
	misses   int64
	mu       sync.Mutex
}

// NewCachedValidator wraps a schema with a verdict cache of the given
// capacity. Capacities below 1 are clamped to 1.
func NewCachedValidator[T any](name Name, schema Schema[T], capacity int) *CachedValidator[T] {
	if capacity < 1 {
		capacity = 1
	}

	metrics := metricz.New()
	metrics.Counter(CachedValidatorHitsTotal)
	metrics.Counter(CachedValidatorMissesTotal)
	metrics.Counter(CachedValidatorEvictions)
	metrics.Gauge(CachedValidatorHitRate)
	metrics.Gauge(CachedValidatorSize)

	return &CachedValidator[T]{
		name:     name,
		schema:   schema,
		capacity: capacity,
		items:    make(map[string]*list.Element),
		order:    list.New(),
		metrics:  metrics,
	}
}

// Validate implements Schema. Records that cannot be canonically
// serialized bypass the cache and are validated directly.
func (c *CachedValidator[T]) Validate(ctx context.Context, record T) (T, Issues) {
	key, err := recordKey(record)
	if err != nil {
		return c.schema.Validate(ctx, record)
	}

	c.mu.Lock()
	if element, ok := c.items[key]; ok {
		c.order.MoveToFront(element)
		c.hits++
		c.updateRateLocked()
		entry := element.Value.(*cacheEntry[T])
		value, issues := entry.value, entry.issues
		c.mu.Unlock()
		c.metrics.Counter(CachedValidatorHitsTotal).Inc()
		return value, issues
	}
	c.misses++
	c.updateRateLocked()
	c.mu.Unlock()
	c.metrics.Counter(CachedValidatorMissesTotal).Inc()

	value, issues := c.schema.Validate(ctx, record)

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.items[key]; ok {
		// Concurrent miss already stored this key.
		return value, issues
	}
	element := c.order.PushFront(&cacheEntry[T]{key: key, value: value, issues: issues})
	c.items[key] = element
	if c.order.Len() > c.capacity {
		oldest := c.order.Back()
		if oldest != nil {
			evicted := oldest.Value.(*cacheEntry[T])
			c.order.Remove(oldest)
			delete(c.items, evicted.key)
			c.metrics.Counter(CachedValidatorEvictions).Inc()
			capitan.Info(ctx, SignalCacheEvicted,
				FieldName.Field(string(c.name)),
				FieldKey.Field(evicted.key),
				FieldCacheSize.Field(c.order.Len()),
			)
		}
	}
	c.metrics.Gauge(CachedValidatorSize).Set(float64(c.order.Len()))
	return value, issues
}

// updateRateLocked refreshes the hit-rate gauge. Caller holds mu.
func (c *CachedValidator[T]) updateRateLocked() {
	total := c.hits + c.misses
	if total > 0 {
		c.metrics.Gauge(CachedValidatorHitRate).Set(float64(c.hits) / float64(total))
	}
}

// HitRate returns the fraction of lookups served from the cache.
func (c *CachedValidator[T]) HitRate() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := c.hits + c.misses
	if total == 0 {
		return 0
	}
	return float64(c.hits) / float64(total)
}

// Len returns the number of cached verdicts.
func (c *CachedValidator[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Name returns the name of this validator.
func (c *CachedValidator[T]) Name() Name {
	return c.name
}

// Metrics returns the metrics registry for this validator.
func (c *CachedValidator[T]) Metrics() *metricz.Registry {
	return c.metrics
}
