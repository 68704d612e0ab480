package vetz

import "github.com/zoobzio/capitan"

// Signal definitions for vetz lifecycle events.
// Signals follow the pattern: <component-type>.<event>.
var (
	// Batch signals.
	SignalBatchAborted = capitan.NewSignal(
		"batch.aborted",
		"Batch execution stopped on first failure because continue-on-error is disabled",
	)

	// FlowControl signals.
	SignalFlowControlPaused = capitan.NewSignal(
		"flowcontrol.paused",
		"Flow control paused the upstream producer after a validation error",
	)
	SignalFlowControlResumed = capitan.NewSignal(
		"flowcontrol.resumed",
		"Flow control resumed the upstream producer after the resume delay elapsed",
	)
	SignalFlowControlTimeout = capitan.NewSignal(
		"flowcontrol.timeout",
		"Flow control failed permanently because cumulative paused time exceeded the budget",
	)

	// CachedValidator signals.
	SignalCacheEvicted = capitan.NewSignal(
		"cachedvalidator.evicted",
		"Cached validator evicted the least-recently-used verdict to admit a new entry",
	)

	// Dedup signals.
	SignalDedupDropped = capitan.NewSignal(
		"dedup.dropped",
		"Deduplication stage dropped a record whose composite key was already seen",
	)

	// Sampler signals.
	SignalSamplerFloor = capitan.NewSignal(
		"sampler.floor",
		"Sampler validated a record it would have skipped to honor the minimum-samples floor",
	)

	// RateLimit signals.
	SignalRateLimitThrottled = capitan.NewSignal(
		"ratelimit.throttled",
		"Rate limit stage delayed a record to comply with the configured rate",
	)
	SignalRateLimitDropped = capitan.NewSignal(
		"ratelimit.dropped",
		"Rate limit stage dropped a record because the rate was exceeded and drop mode is enabled",
	)
)

// Common field keys using capitan primitive types.
// All keys use primitive types to avoid custom struct serialization.
var (
	// Common fields.
	FieldName      = capitan.NewStringKey("name")       // Component instance name
	FieldError     = capitan.NewStringKey("error")      // Error message
	FieldTimestamp = capitan.NewFloat64Key("timestamp") // Unix timestamp

	// Batch fields.
	FieldItemID    = capitan.NewStringKey("item_id") // Failing batch item id
	FieldCompleted = capitan.NewIntKey("completed")  // Items completed before abort
	FieldTotal     = capitan.NewIntKey("total")      // Total items in the batch

	// FlowControl fields.
	FieldState       = capitan.NewStringKey("state")         // running/paused/failed
	FieldPausedMs    = capitan.NewFloat64Key("paused_ms")    // Cumulative paused time in ms
	FieldBudgetMs    = capitan.NewFloat64Key("budget_ms")    // Paused-time budget in ms
	FieldPauseCount  = capitan.NewIntKey("pause_count")      // Pause events this lifetime
	FieldResumeDelay = capitan.NewFloat64Key("resume_delay") // Resume delay in ms

	// Cache/Dedup fields.
	FieldKey       = capitan.NewStringKey("key") // Evicted or duplicate key
	FieldCacheSize = capitan.NewIntKey("cache_size")

	// Stream fields.
	FieldIndex = capitan.NewIntKey("index") // Record index in the sequence
)
