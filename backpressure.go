package vetz

import (
	"context"
	"sync"
	"time"

	"github.com/zoobzio/capitan"
	"github.com/zoobzio/clockz"
	"github.com/zoobzio/hookz"
)

// Flow-control states.
const (
	FlowRunning = "running"
	FlowPaused  = "paused"
	FlowFailed  = "failed"
)

// Hook event keys for the FlowControl stage.
const (
	FlowControlEventPaused  = hookz.Key("flowcontrol.paused")
	FlowControlEventResumed = hookz.Key("flowcontrol.resumed")
	FlowControlEventTimeout = hookz.Key("flowcontrol.timeout")
)

// FlowControlEvent is emitted via hookz on pause, resume, and timeout
// transitions, providing visibility into how often and how long the
// upstream producer is being held back.
type FlowControlEvent struct {
	Err         error // validation error that triggered the pause, if any
	Name        Name
	State       string
	PausedTotal time.Duration // cumulative paused time this lifetime
	PauseCount  int
	Timestamp   time.Time
}

// FlowControl gates record intake for a Stream, pausing the upstream
// producer after validation errors and resuming it after a delay.
//
// States: Running -> Paused (on a validation error when pause-on-error is
// enabled) -> Running again once the resume delay elapses, or Failed when
// cumulative paused time exceeds the budget. While paused, no records are
// forwarded to the validation core; paused time accumulates across every
// pause event within one stream's lifetime, and once the budget is spent
// the stage fails permanently with *BackpressureTimeoutError and accepts
// no further records.
//
// CRITICAL: FlowControl is a STATEFUL stage scoped to one stream lifetime.
// Create a fresh one per Run; reusing an instance carries over accumulated
// paused time and a possibly Failed state.
//
// Example:
//
//	flow := vetz.NewFlowControl("events-bp",
//	    500*time.Millisecond, // resume delay
//	    10*time.Second,       // max cumulative paused time
//	)
//	stream := vetz.NewStream("events", schema).
//	    WithSkipInvalid(true).
//	    WithFlowControl(flow)
type FlowControl struct {
	clock       clockz.Clock
	hooks       *hookz.Hooks[FlowControlEvent]
	failErr     error
	name        Name
	state       string
	resumeDelay time.Duration
	maxPaused   time.Duration // 0 = unbounded
	pausedTotal time.Duration
	pauseCount  int
	mu          sync.Mutex
}

// NewFlowControl creates a FlowControl with pause-on-error enabled.
// resumeDelay is how long intake stays paused after an error; maxPausedTime
// is the cumulative paused-time budget (0 = unbounded).
func NewFlowControl(name Name, resumeDelay, maxPausedTime time.Duration) *FlowControl {
	return &FlowControl{
		name:        name,
		state:       FlowRunning,
		resumeDelay: resumeDelay,
		maxPaused:   maxPausedTime,
		hooks:       hookz.New[FlowControlEvent](),
	}
}

// WithClock sets a custom clock for testing.
func (f *FlowControl) WithClock(clock clockz.Clock) *FlowControl {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clock = clock
	return f
}

// getClock returns the clock to use.
func (f *FlowControl) getClock() clockz.Clock {
	if f.clock == nil {
		return clockz.RealClock
	}
	return f.clock
}

// State returns the current flow-control state.
func (f *FlowControl) State() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// PausedTotal returns the cumulative time spent paused.
func (f *FlowControl) PausedTotal() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pausedTotal
}

// RecordError notifies the stage of a validation error. In the Running
// state this transitions to Paused; while already Paused or Failed it is
// a no-op.
func (f *FlowControl) RecordError(ctx context.Context, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != FlowRunning {
		return
	}
	f.state = FlowPaused
	f.pauseCount++
	now := f.getClock().Now()

	capitan.Warn(ctx, SignalFlowControlPaused,
		FieldName.Field(string(f.name)),
		FieldState.Field(f.state),
		FieldError.Field(err.Error()),
		FieldPauseCount.Field(f.pauseCount),
		FieldResumeDelay.Field(durationMs(f.resumeDelay)),
		FieldTimestamp.Field(float64(now.Unix())),
	)
	_ = f.hooks.Emit(ctx, FlowControlEventPaused, FlowControlEvent{ //nolint:errcheck
		Name:        f.name,
		State:       f.state,
		Err:         err,
		PausedTotal: f.pausedTotal,
		PauseCount:  f.pauseCount,
		Timestamp:   now,
	})
}

// Admit blocks until the stage allows the next record through. It returns
// nil immediately in the Running state, waits out the resume delay while
// Paused, and returns the terminal error once Failed. A context
// cancellation while waiting is returned as-is.
func (f *FlowControl) Admit(ctx context.Context) error {
	f.mu.Lock()
	switch f.state {
	case FlowRunning:
		f.mu.Unlock()
		return nil
	case FlowFailed:
		err := f.failErr
		f.mu.Unlock()
		return err
	}

	clock := f.getClock()
	wait := f.resumeDelay
	exhausts := false
	if f.maxPaused > 0 {
		if remaining := f.maxPaused - f.pausedTotal; remaining < wait {
			// The budget runs out before the delay does; wait only the
			// remainder, then fail.
			wait = remaining
			exhausts = true
		}
	}
	f.mu.Unlock()

	if wait > 0 {
		select {
		case <-clock.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.pausedTotal += wait
	now := clock.Now()

	if exhausts {
		f.state = FlowFailed
		f.failErr = &BackpressureTimeoutError{Paused: f.pausedTotal, Budget: f.maxPaused}
		capitan.Error(ctx, SignalFlowControlTimeout,
			FieldName.Field(string(f.name)),
			FieldState.Field(f.state),
			FieldPausedMs.Field(durationMs(f.pausedTotal)),
			FieldBudgetMs.Field(durationMs(f.maxPaused)),
			FieldTimestamp.Field(float64(now.Unix())),
		)
		_ = f.hooks.Emit(ctx, FlowControlEventTimeout, FlowControlEvent{ //nolint:errcheck
			Name:        f.name,
			State:       f.state,
			Err:         f.failErr,
			PausedTotal: f.pausedTotal,
			PauseCount:  f.pauseCount,
			Timestamp:   now,
		})
		return f.failErr
	}

	f.state = FlowRunning
	capitan.Info(ctx, SignalFlowControlResumed,
		FieldName.Field(string(f.name)),
		FieldState.Field(f.state),
		FieldPausedMs.Field(durationMs(f.pausedTotal)),
		FieldPauseCount.Field(f.pauseCount),
		FieldTimestamp.Field(float64(now.Unix())),
	)
	_ = f.hooks.Emit(ctx, FlowControlEventResumed, FlowControlEvent{ //nolint:errcheck
		Name:        f.name,
		State:       f.state,
		PausedTotal: f.pausedTotal,
		PauseCount:  f.pauseCount,
		Timestamp:   now,
	})
	return nil
}

// OnPaused registers a handler for pause transitions.
// Handlers are called asynchronously via hookz.
func (f *FlowControl) OnPaused(handler func(context.Context, FlowControlEvent) error) error {
	_, err := f.hooks.Hook(FlowControlEventPaused, handler)
	return err
}

// OnResumed registers a handler for resume transitions.
func (f *FlowControl) OnResumed(handler func(context.Context, FlowControlEvent) error) error {
	_, err := f.hooks.Hook(FlowControlEventResumed, handler)
	return err
}

// OnTimeout registers a handler for the terminal timeout transition.
func (f *FlowControl) OnTimeout(handler func(context.Context, FlowControlEvent) error) error {
	_, err := f.hooks.Hook(FlowControlEventTimeout, handler)
	return err
}

// Name returns the name of this stage.
func (f *FlowControl) Name() Name {
	return f.name
}

// Close gracefully shuts down the hook registry.
func (f *FlowControl) Close() error {
	f.hooks.Close()
	return nil
}
