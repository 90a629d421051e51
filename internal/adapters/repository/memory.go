package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/okian/fleetreport/internal/domain/model"
)

type recordKey struct {
	subjectID string
	period    model.Period
}

// MemoryStore is an in-process Source. It backs tests and runs without a
// database.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[recordKey]model.DriverPeriodRecord
}

// NewMemoryStore creates a store holding recs.
func NewMemoryStore(recs ...model.DriverPeriodRecord) *MemoryStore {
	s := &MemoryStore{records: make(map[recordKey]model.DriverPeriodRecord, len(recs))}
	for _, r := range recs {
		s.records[recordKey{r.SubjectID, r.Period()}] = r
	}
	return s
}

// Put inserts or replaces a record.
func (s *MemoryStore) Put(_ context.Context, rec model.DriverPeriodRecord) error { //nolint:gocritic // hugeParam
	if !rec.Period().Valid() {
		return fmt.Errorf("%w: %s", ErrInvalidPeriod, rec.Period())
	}
	s.mu.Lock()
	s.records[recordKey{rec.SubjectID, rec.Period()}] = rec
	s.mu.Unlock()
	return nil
}

// Get implements Source.
func (s *MemoryStore) Get(_ context.Context, subjectID string, period model.Period) (model.DriverPeriodRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[recordKey{subjectID, period}]
	if !ok {
		return model.DriverPeriodRecord{}, fmt.Errorf("%w: %s %s", ErrNotFound, subjectID, period)
	}
	return rec, nil
}

// ListByPeriod implements Source.
func (s *MemoryStore) ListByPeriod(_ context.Context, period model.Period) ([]model.DriverPeriodRecord, error) {
	if !period.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidPeriod, period)
	}
	s.mu.RLock()
	out := make([]model.DriverPeriodRecord, 0)
	for k, r := range s.records {
		if k.period == period {
			out = append(out, r)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].SubjectID < out[j].SubjectID })
	return out, nil
}

// PriorPeriod implements Source by stepping back one month at a time.
func (s *MemoryStore) PriorPeriod(_ context.Context, subjectID string, period model.Period) (model.DriverPeriodRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p := period
	for i := 0; i < PriorLookbackMonths; i++ {
		p = p.Prev()
		if rec, ok := s.records[recordKey{subjectID, p}]; ok {
			return rec, nil
		}
	}
	return model.DriverPeriodRecord{}, fmt.Errorf("%w: no prior data for %s before %s", ErrNotFound, subjectID, period)
}
