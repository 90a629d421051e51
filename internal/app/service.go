// Package service ties the report pipeline together for the HTTP API:
// batch submission and execution, direct downloads, rankings and
// operator status.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/okian/fleetreport/internal/adapters/cache"
	"github.com/okian/fleetreport/internal/adapters/delivery"
	batchqueue "github.com/okian/fleetreport/internal/adapters/mq/queue"
	workerpool "github.com/okian/fleetreport/internal/adapters/mq/worker"
	"github.com/okian/fleetreport/internal/domain/model"
	"github.com/okian/fleetreport/internal/domain/quota"
	"github.com/okian/fleetreport/internal/domain/ranking"
	"github.com/okian/fleetreport/internal/domain/report"
	"github.com/okian/fleetreport/internal/domain/scheduler"
	"github.com/okian/fleetreport/pkg/logger"
)

// Progress events broadcast to operators.
const (
	EventBatchStarted   = "batch_started"
	EventSubjectOutcome = "subject_outcome"
	EventBatchCompleted = "batch_completed"
)

// Notifier broadcasts progress events.
type Notifier interface {
	Broadcast(event string, payload any)
}

// OutcomeEvent is the payload of EventSubjectOutcome.
type OutcomeEvent struct {
	BatchID string            `json:"batch_id"`
	Outcome scheduler.Outcome `json:"outcome"`
}

// OutcomeObserver forwards per-subject outcomes of queued batches to n.
// Direct downloads carry no batch id and are not broadcast.
func OutcomeObserver(n Notifier) scheduler.Observer {
	return func(_ context.Context, batchID string, o scheduler.Outcome) {
		if n == nil || batchID == "" {
			return
		}
		n.Broadcast(EventSubjectOutcome, OutcomeEvent{BatchID: batchID, Outcome: o})
	}
}

// Deps are the pipeline components the service drives.
type Deps struct {
	Builder   *report.Builder
	Scheduler *scheduler.Scheduler
	Quota     *quota.Tracker
	Cache     *cache.Cache
	Sink      scheduler.Sink
}

// SubmitRequest describes a batch to queue.
type SubmitRequest struct {
	Period     model.Period
	SubjectIDs []string
	Format     model.Format
}

// Status is the operator view of budget and cache.
type Status struct {
	UnitsUsed       int       `json:"units_used"`
	MaxUnits        int       `json:"max_units"`
	RemainingUnits  int       `json:"remaining_units"`
	ReservedUnits   int       `json:"reserved_units"`
	DaysUntilReset  int       `json:"days_until_reset"`
	QuotaState      string    `json:"quota_state"`
	PeriodStart     time.Time `json:"period_start"`
	CacheEntryCount int       `json:"cache_entry_count"`
	CacheSizeBytes  int64     `json:"cache_size_bytes"`
	CacheHits       int64     `json:"cache_hits"`
	CacheMisses     int64     `json:"cache_misses"`
	QueuedBatches   int       `json:"queued_batches"`
	Workers         int       `json:"workers"`
}

// Service implements the API dependencies for report delivery.
type Service struct {
	mu sync.RWMutex

	deps Deps

	queue *batchqueue.InMemoryQueue
	pool  *workerpool.Pool

	workerCount int
	queueSize   int
	history     int

	batches map[string]*batchState
	order   []string

	notifier Notifier
	closers  []func() error
	now      func() time.Time

	started   bool
	cancel    context.CancelFunc
	cacheDone chan struct{}

	logger logger.Logger
}

// New constructs a Service around deps.
func New(deps Deps, opts ...Option) *Service {
	s := &Service{
		deps:        deps,
		workerCount: workerpool.DefaultWorkers,
		queueSize:   DefaultQueueSize,
		history:     DefaultHistory,
		batches:     make(map[string]*batchState),
		now:         time.Now,
		logger:      logger.Get().Named("service"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the batch workers and the cache sweeper.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.queue = batchqueue.NewInMemoryQueue(batchqueue.WithCapacity(s.queueSize))
	s.pool = workerpool.NewPool(s.workerCount, s.queue, workerpool.HandlerFunc(s.handle))
	s.pool.Start(runCtx)

	s.cacheDone = make(chan struct{})
	go func() {
		defer close(s.cacheDone)
		s.deps.Cache.Run(runCtx)
	}()

	s.started = true
	s.logger.Info(ctx, "report service started",
		logger.Int("workers", s.pool.Size()),
		logger.Int("queue_size", s.queueSize),
	)
	return nil
}

// Stop drains workers, stops the sweeper and runs registered closers.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	pool, cancel, cacheDone := s.pool, s.cancel, s.cacheDone
	s.mu.Unlock()

	s.logger.Info(ctx, "stopping report service")

	err := pool.Shutdown(ctx)
	cancel()
	<-cacheDone

	for _, c := range s.closers {
		err = multierr.Append(err, c())
	}

	s.mu.Lock()
	for _, st := range s.batches {
		if st.transition(ctx, eventFail) {
			st.batch.Error = "service stopped"
		}
	}
	s.mu.Unlock()

	if err != nil {
		return fmt.Errorf("stop service: %w", err)
	}
	s.logger.Info(ctx, "report service stopped")
	return nil
}

// SubmitBatch queues a batch and returns it in the pending state. A full
// queue fails with batchqueue.ErrBackpressure.
func (s *Service) SubmitBatch(ctx context.Context, req SubmitRequest) (Batch, error) {
	if !req.Period.Valid() {
		return Batch{}, fmt.Errorf("%w: %s", report.ErrInvalidPeriod, req.Period)
	}
	if req.Format == "" {
		req.Format = model.FormatPDF
	}

	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return Batch{}, ErrNotStarted
	}
	st := newBatchState(Batch{
		ID:          uuid.NewString(),
		Period:      req.Period,
		Format:      req.Format,
		SubjectIDs:  append([]string(nil), req.SubjectIDs...),
		SubmittedAt: s.now(),
	})
	id := st.batch.ID
	s.batches[id] = st
	s.order = append(s.order, id)
	s.pruneLocked()
	q := s.queue
	s.mu.Unlock()

	err := q.Enqueue(ctx, model.BatchRequest{
		ID:         id,
		Period:     req.Period,
		SubjectIDs: req.SubjectIDs,
		Format:     req.Format,
	})
	if err != nil {
		s.mu.Lock()
		s.forgetLocked(id)
		s.mu.Unlock()
		s.logger.Warn(ctx, "batch not queued", logger.String("batch_id", id), logger.Error(err))
		return Batch{}, fmt.Errorf("queue batch: %w", err)
	}

	s.logger.Info(ctx, "batch queued",
		logger.String("batch_id", id),
		logger.String("period", req.Period.String()),
		logger.Int("subjects", len(req.SubjectIDs)),
	)
	return s.Batch(id)
}

// Batch returns the current state of a submitted batch.
func (s *Service) Batch(id string) (Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.batches[id]
	if !ok {
		return Batch{}, fmt.Errorf("%w: %s", ErrBatchNotFound, id)
	}
	return st.snapshot(), nil
}

// Batches returns remembered batches, newest first.
func (s *Service) Batches() []Batch {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Batch, 0, len(s.order))
	for i := len(s.order) - 1; i >= 0; i-- {
		out = append(out, s.batches[s.order[i]].snapshot())
	}
	return out
}

// handle runs one queued batch. It is called by the worker pool.
func (s *Service) handle(ctx context.Context, req model.BatchRequest) error { //nolint:gocritic // hugeParam
	started, ok := s.update(ctx, req.ID, eventStart, func(b *Batch) {
		t := s.now()
		b.StartedAt = &t
	})
	if !ok {
		return fmt.Errorf("%w: %s", ErrBatchNotFound, req.ID)
	}
	s.broadcast(EventBatchStarted, started)

	var (
		sum scheduler.Summary
		err error
	)
	jobs, _, err := s.deps.Builder.Build(ctx, req.Period, req.SubjectIDs, req.Format)
	if err == nil {
		sum, err = s.deps.Scheduler.DeliverBatch(ctx, req.ID, req.Period, jobs, s.deps.Sink)
	}

	event := eventComplete
	switch {
	case errors.Is(err, scheduler.ErrQuotaExceeded):
		event = eventReject
	case err != nil:
		event = eventFail
	}
	finished, _ := s.update(ctx, req.ID, event, func(b *Batch) {
		t := s.now()
		b.FinishedAt = &t
		if err != nil {
			b.Error = err.Error()
			return
		}
		b.Summary = &sum
	})
	s.broadcast(EventBatchCompleted, finished)

	if event == eventFail {
		return err
	}
	return nil
}

// update applies a lifecycle event and mutate to the batch, returning a snapshot.
func (s *Service) update(ctx context.Context, id, event string, mutate func(*Batch)) (Batch, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.batches[id]
	if !ok || !st.transition(ctx, event) {
		return Batch{}, false
	}
	mutate(&st.batch)
	return st.snapshot(), true
}

// Download renders or fetches one subject's report and returns it directly.
func (s *Service) Download(ctx context.Context, subjectID string, period model.Period, format model.Format) (model.Delivery, error) {
	jobs, _, err := s.deps.Builder.Build(ctx, period, []string{subjectID}, format)
	if err != nil {
		return model.Delivery{}, err
	}

	sink := delivery.NewBufferSink()
	sum, err := s.deps.Scheduler.Deliver(ctx, period, jobs, sink)
	if err != nil {
		return model.Delivery{}, err
	}
	if sum.Failed > 0 {
		cause := sum.Outcomes[0].Err()
		if errors.Is(cause, scheduler.ErrQuotaExhausted) || errors.Is(cause, model.ErrOverage) {
			return model.Delivery{}, fmt.Errorf("%w: %w", scheduler.ErrQuotaExceeded, cause)
		}
		return model.Delivery{}, fmt.Errorf("%w: %w", ErrDeliveryFailed, cause)
	}

	d, ok := sink.Find(subjectID)
	if !ok {
		return model.Delivery{}, fmt.Errorf("%w: %s", ErrDeliveryFailed, subjectID)
	}
	return d, nil
}

// Rankings ranks every subject with data in period.
func (s *Service) Rankings(ctx context.Context, period model.Period) ([]ranking.Entry, error) {
	if !period.Valid() {
		return nil, fmt.Errorf("%w: %s", report.ErrInvalidPeriod, period)
	}
	return s.deps.Builder.Ranking(ctx, period)
}

// Invalidate drops a cached report. It reports whether one existed.
func (s *Service) Invalidate(ctx context.Context, subjectID string, period model.Period) bool {
	removed := s.deps.Cache.Invalidate(subjectID, period)
	s.logger.Info(ctx, "cache invalidated",
		logger.String("subject_id", subjectID),
		logger.String("period", period.String()),
		logger.Any("removed", removed),
	)
	return removed
}

// Status reports quota and cache usage.
func (s *Service) Status() Status {
	q := s.deps.Quota.Snapshot()
	c := s.deps.Cache.Stats()
	st := Status{
		UnitsUsed:       q.UnitsUsed,
		MaxUnits:        q.MaxUnits,
		RemainingUnits:  q.Remaining,
		ReservedUnits:   q.Reserved,
		DaysUntilReset:  s.deps.Quota.DaysUntilReset(),
		QuotaState:      q.State,
		PeriodStart:     q.PeriodStart,
		CacheEntryCount: c.Entries,
		CacheSizeBytes:  c.SizeBytes,
		CacheHits:       c.Hits,
		CacheMisses:     c.Misses,
	}

	s.mu.RLock()
	if s.started {
		st.QueuedBatches = s.queue.Len()
		st.Workers = s.pool.Size()
	}
	s.mu.RUnlock()
	return st
}

func (s *Service) broadcast(event string, b Batch) { //nolint:gocritic // hugeParam
	if s.notifier != nil && b.ID != "" {
		s.notifier.Broadcast(event, b)
	}
}

// pruneLocked forgets the oldest finished batches beyond the history limit.
func (s *Service) pruneLocked() {
	for i := 0; len(s.order) > s.history && i < len(s.order); {
		id := s.order[i]
		if !s.batches[id].done() {
			i++
			continue
		}
		delete(s.batches, id)
		s.order = append(s.order[:i], s.order[i+1:]...)
	}
}

func (s *Service) forgetLocked(id string) {
	delete(s.batches, id)
	for i, o := range s.order {
		if o == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			return
		}
	}
}
