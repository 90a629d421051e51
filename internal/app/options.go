package service

import (
	"time"

	"github.com/okian/fleetreport/pkg/logger"
)

// Default service configuration.
const (
	DefaultQueueSize = 16
	DefaultHistory   = 200
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithWorkerCount sets the number of batch workers.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithQueueSize sets how many batches may wait for a worker.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithHistory sets how many finished batches are remembered.
func WithHistory(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.history = n
		}
	}
}

// WithNotifier sets where batch progress is broadcast.
func WithNotifier(n Notifier) Option {
	return func(s *Service) {
		if n != nil {
			s.notifier = n
		}
	}
}

// WithCloser registers a function run by Stop after workers have finished.
func WithCloser(fn func() error) Option {
	return func(s *Service) {
		if fn != nil {
			s.closers = append(s.closers, fn)
		}
	}
}

// WithClock sets the time source for batch timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}
