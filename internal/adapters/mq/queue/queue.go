// Package queue holds batch requests waiting for a worker.
package queue

import (
	"context"
	"sync"

	"github.com/okian/fleetreport/internal/domain/model"
	"github.com/okian/fleetreport/pkg/metrics"
)

// DefaultCapacity bounds the number of waiting batches.
const DefaultCapacity = 16

// Request is the payload flowing through the queue.
type Request = model.BatchRequest

// Queue provides non-blocking enqueue and channel-based dequeue semantics.
type Queue interface {
	// Enqueue adds a request. It fails with ErrBackpressure when full and
	// ErrClosed after Close.
	Enqueue(ctx context.Context, r Request) error

	// Dequeue returns a channel of waiting requests, closed with the queue.
	Dequeue(ctx context.Context) <-chan Request

	// Len returns the number of waiting requests.
	Len() int

	Close() error
	IsClosed() bool
}

// InMemoryQueue implements Queue using a buffered channel.
type InMemoryQueue struct {
	requests chan Request
	capacity int

	mu     sync.RWMutex
	closed bool
}

// NewInMemoryQueue creates a new in-memory queue with configuration options.
func NewInMemoryQueue(opts ...Option) *InMemoryQueue {
	q := &InMemoryQueue{capacity: DefaultCapacity}
	for _, opt := range opts {
		opt(q)
	}
	q.requests = make(chan Request, q.capacity)
	metrics.UpdateBatchQueueSize(0)
	return q
}

// Enqueue adds a request to the queue without blocking.
func (q *InMemoryQueue) Enqueue(ctx context.Context, r Request) error { //nolint:gocritic // hugeParam
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		metrics.RecordBatchQueueReject()
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		metrics.RecordBatchQueueReject()
		return err
	}

	select {
	case q.requests <- r:
		metrics.UpdateBatchQueueSize(len(q.requests))
		return nil
	default:
		metrics.RecordBatchQueueReject()
		return ErrBackpressure
	}
}

// Dequeue returns a channel that will receive requests as they become available.
func (q *InMemoryQueue) Dequeue(ctx context.Context) <-chan Request {
	out := make(chan Request)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case r, ok := <-q.requests:
				if !ok {
					return
				}
				metrics.UpdateBatchQueueSize(len(q.requests))
				select {
				case out <- r:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

// Len returns the current number of queued requests.
func (q *InMemoryQueue) Len() int {
	return len(q.requests)
}

// Close stops accepting requests. Waiting requests are still delivered.
func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	close(q.requests)
	q.closed = true
	return nil
}

// IsClosed returns true if the queue has been closed.
func (q *InMemoryQueue) IsClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}
