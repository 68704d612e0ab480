package vetz

import (
	"context"
	"math/rand"
	"sync"

	"github.com/zoobzio/capitan"
)

// Sampler validates records probabilistically: each record is verified
// against the wrapped schema with probability sampleRate, and skipped
// records are assumed valid without verification. At least minSamples
// records are always verified regardless of rate - until the floor is met,
// every record is validated.
//
// Assumed records are explicitly visible downstream: the stream marks them
// with Record.Assumed and counts them in StatsSnapshot.AssumedValid, so
// consumers can always distinguish "verified valid" from "assumed valid".
//
// Example:
//
//	sampler := vetz.NewSampler("events-sample", schema, 0.05, 100)
//	stream := vetz.NewStream("events", schema).WithSampler(sampler)
type Sampler[T any] struct {
	schema     Schema[T]
	rng        *rand.Rand
	name       Name
	rate       float64
	minSamples int64
	validated  int64
	assumed    int64
	mu         sync.Mutex
}

// NewSampler creates a Sampler. sampleRate is clamped to [0,1]; minSamples
// below 0 is treated as 0.
func NewSampler[T any](name Name, schema Schema[T], sampleRate float64, minSamples int64) *Sampler[T] {
	if sampleRate < 0 {
		sampleRate = 0
	}
	if sampleRate > 1 {
		sampleRate = 1
	}
	if minSamples < 0 {
		minSamples = 0
	}
	return &Sampler[T]{
		name:       name,
		schema:     schema,
		rate:       sampleRate,
		minSamples: minSamples,
		rng:        rand.New(rand.NewSource(rand.Int63())), //nolint:gosec // sampling, not crypto
	}
}

// WithSeed fixes the sampling sequence for deterministic tests.
func (s *Sampler[T]) WithSeed(seed int64) *Sampler[T] {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rng = rand.New(rand.NewSource(seed)) //nolint:gosec // sampling, not crypto
	return s
}

// Validate judges one record. The third return reports whether the verdict
// was verified by the schema (true) or assumed (false).
func (s *Sampler[T]) Validate(ctx context.Context, record T) (T, Issues, bool) {
	s.mu.Lock()
	take := s.rng.Float64() < s.rate
	floored := false
	if !take && s.validated < s.minSamples {
		take = true
		floored = true
	}
	if take {
		s.validated++
	} else {
		s.assumed++
	}
	s.mu.Unlock()

	if !take {
		return record, nil, false
	}
	if floored {
		capitan.Info(ctx, SignalSamplerFloor,
			FieldName.Field(string(s.name)),
		)
	}
	value, issues := s.schema.Validate(ctx, record)
	return value, issues, true
}

// Validated returns how many records were verified by the schema.
func (s *Sampler[T]) Validated() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.validated
}

// Assumed returns how many records were passed through unverified.
func (s *Sampler[T]) Assumed() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.assumed
}

// Name returns the name of this sampler.
func (s *Sampler[T]) Name() Name {
	return s.name
}
