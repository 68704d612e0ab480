package vetz

import (
	"context"
	"errors"
	"sync"

	"github.com/zoobzio/capitan"
	"golang.org/x/time/rate"
)

const (
	modeWait = "wait"
	modeDrop = "drop"
)

// RateLimit controls the rate at which records move downstream, protecting
// rate-sensitive sinks. It uses a token bucket, allowing controlled bursts
// while maintaining a steady average rate.
//
// CRITICAL: RateLimit is a STATEFUL stage that maintains an internal token
// bucket. Create it once and attach it to the stream; creating a new
// RateLimit per record defeats the purpose entirely.
//
// The stage operates in two modes:
//   - "wait": blocks until a token is available (default)
//   - "drop": drops the record immediately if no tokens are available
//
// Example:
//
//	limiter := vetz.NewRateLimit[Event]("warehouse-limit", 1000, 100)
//	stream := vetz.NewStream("events", schema).
//	    WithStage(limiter).
//	    WithSink(warehouse)
type RateLimit[T any] struct {
	limiter *rate.Limiter
	name    Name
	mode    string
	mu      sync.RWMutex
}

// NewRateLimit creates a RateLimit stage. ratePerSecond sets the sustained
// rate; burst sets the maximum burst size.
func NewRateLimit[T any](name Name, ratePerSecond float64, burst int) *RateLimit[T] {
	return &RateLimit[T]{
		name:    name,
		limiter: rate.NewLimiter(rate.Limit(ratePerSecond), burst),
		mode:    modeWait,
	}
}

// Process implements Stage.
func (r *RateLimit[T]) Process(ctx context.Context, rec Record[T]) (Record[T], bool, error) {
	r.mu.RLock()
	limiter := r.limiter
	mode := r.mode
	r.mu.RUnlock()

	switch mode {
	case modeDrop:
		if !limiter.Allow() {
			capitan.Warn(ctx, SignalRateLimitDropped,
				FieldName.Field(string(r.name)),
				FieldIndex.Field(int(rec.Index)),
			)
			return rec, false, nil
		}
		return rec, true, nil

	default: // modeWait
		if limiter.Allow() {
			return rec, true, nil
		}
		capitan.Info(ctx, SignalRateLimitThrottled,
			FieldName.Field(string(r.name)),
			FieldIndex.Field(int(rec.Index)),
		)
		if err := limiter.Wait(ctx); err != nil {
			// Context canceled or deadline exceeded while waiting.
			return rec, false, &Error[T]{
				Err:       err,
				InputData: rec.Data,
				Index:     rec.Index,
				Path:      []Name{r.name},
				Timeout:   errors.Is(err, context.DeadlineExceeded),
				Canceled:  errors.Is(err, context.Canceled),
			}
		}
		return rec, true, nil
	}
}

// SetMode sets the limiting mode ("wait" or "drop"). Invalid modes are
// ignored.
func (r *RateLimit[T]) SetMode(mode string) *RateLimit[T] {
	if mode != modeWait && mode != modeDrop {
		return r
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mode = mode
	return r
}

// SetRate updates the sustained rate (records per second).
func (r *RateLimit[T]) SetRate(ratePerSecond float64) *RateLimit[T] {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.limiter.SetLimit(rate.Limit(ratePerSecond))
	return r
}

// SetBurst updates the burst capacity.
func (r *RateLimit[T]) SetBurst(burst int) *RateLimit[T] {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.limiter.SetBurst(burst)
	return r
}

// GetRate returns the current sustained rate.
func (r *RateLimit[T]) GetRate() float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return float64(r.limiter.Limit())
}

// GetMode returns the current mode.
func (r *RateLimit[T]) GetMode() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.mode
}

// Name returns the name of this stage.
func (r *RateLimit[T]) Name() Name {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.name
}
