package quota

import (
	"time"

	"github.com/okian/fleetreport/pkg/logger"
)

// Defaults.
const (
	DefaultMaxUnits     = 1000
	DefaultDelayShort   = 1 * time.Second
	DefaultDelayMedium  = 2 * time.Second
	DefaultDelayLong    = 4 * time.Second
	DefaultDelayLongest = 8 * time.Second
)

// Option configures a Tracker.
type Option func(*Tracker)

// WithMaxUnits sets the monthly unit budget. Negative values are ignored.
func WithMaxUnits(n int) Option {
	return func(t *Tracker) {
		if n >= 0 {
			t.maxUnits = n
		}
	}
}

// WithDelays overrides the four pacing tiers, shortest first.
// Non-positive values keep the default for that tier.
func WithDelays(short, medium, long, longest time.Duration) Option {
	return func(t *Tracker) {
		if short > 0 {
			t.delayShort = short
		}
		if medium > 0 {
			t.delayMedium = medium
		}
		if long > 0 {
			t.delayLong = long
		}
		if longest > 0 {
			t.delayLongest = longest
		}
	}
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

// WithPeriodStart starts the tracker in an earlier period, as when state
// carries over from a previous month.
func WithPeriodStart(start time.Time) Option {
	return func(t *Tracker) {
		t.periodStart = monthStart(start)
	}
}

// WithUsed seeds the units already consumed in the starting period.
func WithUsed(n int) Option {
	return func(t *Tracker) {
		if n >= 0 {
			t.used = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(t *Tracker) {
		if l != nil {
			t.log = l
		}
	}
}
