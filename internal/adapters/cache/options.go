package cache

import (
	"time"

	"github.com/okian/fleetreport/pkg/logger"
)

// Defaults.
const (
	DefaultCapacity      = 100
	DefaultEvictCount    = 10
	DefaultTTL           = 24 * time.Hour
	DefaultSweepInterval = time.Hour
)

// Option configures a Cache.
type Option func(*Cache)

// WithCapacity sets the maximum number of entries. Zero or less means unbounded.
func WithCapacity(n int) Option {
	return func(c *Cache) {
		c.capacity = n
	}
}

// WithEvictCount sets how many of the oldest entries are dropped when full.
func WithEvictCount(n int) Option {
	return func(c *Cache) {
		if n > 0 {
			c.evictCount = n
		}
	}
}

// WithTTL sets the lifetime used by Store.
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl >= 0 {
			c.ttl = ttl
		}
	}
}

// WithSweepInterval sets how often Run removes expired entries.
func WithSweepInterval(d time.Duration) Option {
	return func(c *Cache) {
		c.sweepInterval = d
	}
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(c *Cache) {
		if l != nil {
			c.log = l
		}
	}
}
