package scheduler

import (
	"time"

	"github.com/okian/fleetreport/pkg/logger"
)

// Defaults.
const (
	// DefaultChunkDivisor sizes chunks as remaining units / 10.
	DefaultChunkDivisor = 10
	// DefaultChunkCooldown is the minimum pause between chunks.
	DefaultChunkCooldown = 5 * time.Second
)

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithSleeper replaces the wall-clock pause between subjects.
func WithSleeper(fn Sleeper) Option {
	return func(s *Scheduler) {
		if fn != nil {
			s.sleep = fn
		}
	}
}

// WithObserver registers a callback for every subject outcome.
func WithObserver(fn Observer) Option {
	return func(s *Scheduler) {
		s.observer = fn
	}
}

// WithChunkDivisor sets the divisor applied to remaining units to size chunks.
func WithChunkDivisor(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.chunkDivisor = n
		}
	}
}

// WithChunkCooldown sets the minimum pause between chunks.
func WithChunkCooldown(d time.Duration) Option {
	return func(s *Scheduler) {
		if d >= 0 {
			s.chunkCooldown = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.log = l
		}
	}
}
