package queue

import "errors"

var (
	// ErrBackpressure is returned when the queue has no room left.
	ErrBackpressure = errors.New("batch queue full")
	// ErrClosed is returned once the queue has been closed.
	ErrClosed = errors.New("batch queue closed")
)
