// Package delivery hands rendered reports to their destination.
package delivery

import (
	"context"
	"sync"

	"github.com/okian/fleetreport/internal/domain/model"
)

// BufferSink keeps deliveries in memory, for download responses.
type BufferSink struct {
	mu         sync.Mutex
	deliveries []model.Delivery
}

// NewBufferSink creates an empty BufferSink.
func NewBufferSink() *BufferSink {
	return &BufferSink{}
}

// Deliver records d. The bytes are copied.
func (s *BufferSink) Deliver(_ context.Context, d model.Delivery) error { //nolint:gocritic // hugeParam
	d.Bytes = append([]byte(nil), d.Bytes...)
	s.mu.Lock()
	s.deliveries = append(s.deliveries, d)
	s.mu.Unlock()
	return nil
}

// Deliveries returns everything delivered so far.
func (s *BufferSink) Deliveries() []model.Delivery {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Delivery(nil), s.deliveries...)
}

// Find returns the latest delivery for subjectID.
func (s *BufferSink) Find(subjectID string) (model.Delivery, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.deliveries) - 1; i >= 0; i-- {
		if s.deliveries[i].SubjectID == subjectID {
			return s.deliveries[i], true
		}
	}
	return model.Delivery{}, false
}
