package vetz

import (
	"context"
	"sync"
)

// Limiter bounds the number of in-flight validation and format operations.
// It is the single primitive shared by Batch and BatchValidator: both
// acquire a slot before starting a unit of work and release it when the
// work completes, including on error. The available-slot count is the only
// state mutated concurrently by in-flight tasks, and the channel semaphore
// adjusts it atomically, so the limit can never be over-subscribed.
//
// CRITICAL: a Limiter is STATEFUL. To share one concurrency budget across
// several components, create the Limiter once and pass it to each of them;
// creating a Limiter per call gives every call its own budget.
//
// Example:
//
//	limiter := vetz.NewLimiter("ingest", 8)
//	batch := vetz.NewBatch("orders", schema).WithLimiter(limiter)
//	batched := vetz.NewBatchValidator("orders-bulk", schema, 100, 4).WithLimiter(limiter)
type Limiter struct {
	sem  chan struct{}
	name Name
	mu   sync.RWMutex
}

// NewLimiter creates a Limiter with the given concurrency width.
// Width values below 1 are clamped to 1 (fully sequential).
func NewLimiter(name Name, width int) *Limiter {
	if width < 1 {
		width = 1
	}
	return &Limiter{
		sem:  make(chan struct{}, width),
		name: name,
	}
}

// Acquire blocks until a slot is available or the context is done.
func (l *Limiter) Acquire(ctx context.Context) error {
	select {
	case l.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryAcquire takes a slot without blocking, reporting whether it succeeded.
func (l *Limiter) TryAcquire() bool {
	select {
	case l.sem <- struct{}{}:
		return true
	default:
		return false
	}
}

// Release returns a slot. Every successful Acquire must be paired with
// exactly one Release; callers defer it immediately after acquiring.
func (l *Limiter) Release() {
	select {
	case <-l.sem:
	default:
		// Unbalanced release; tolerate rather than block.
	}
}

// Width returns the maximum number of concurrent slots.
func (l *Limiter) Width() int {
	return cap(l.sem)
}

// InFlight returns the number of currently held slots.
func (l *Limiter) InFlight() int {
	return len(l.sem)
}

// Name returns the name of this limiter.
func (l *Limiter) Name() Name {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.name
}
