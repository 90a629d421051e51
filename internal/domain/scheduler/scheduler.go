// Package scheduler delivers rendered reports for a batch of subjects
// without exceeding the renderer's unit budget.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/okian/fleetreport/internal/domain/model"
	"github.com/okian/fleetreport/pkg/logger"
	"github.com/okian/fleetreport/pkg/metrics"
)

// Outcome statuses.
const (
	StatusDelivered = "delivered"
	StatusFailed    = "failed"
)

// Batch statuses reported to metrics.
const (
	batchCompleted = "completed"
	batchRejected  = "rejected"
	batchCanceled  = "canceled"
)

// Quota is the unit budget the scheduler draws from.
type Quota interface {
	Remaining() int
	Reserve(n int) bool
	Release(n int)
	RecordUsage(n int)
	RecordOverageSignal()
	RecommendedDelay() time.Duration
}

// Cache holds previously rendered documents.
type Cache interface {
	Probe(subjectID string, period model.Period, integrityHash string) bool
	Lookup(subjectID string, period model.Period, integrityHash string) ([]byte, bool)
	Store(subjectID string, period model.Period, data []byte, integrityHash string)
	Acquire(subjectID string, period model.Period) func()
}

// Renderer turns HTML input into a document. Errors wrapping
// model.ErrOverage mean the provider's own quota was hit.
type Renderer interface {
	Render(ctx context.Context, req model.RenderRequest) ([]byte, error)
}

// Sink receives each rendered document.
type Sink interface {
	Deliver(ctx context.Context, d model.Delivery) error
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Observer is told about every subject outcome as it happens.
type Observer func(ctx context.Context, batchID string, o Outcome)

// Job is one subject to deliver.
type Job struct {
	SubjectID     string
	Input         string
	Format        model.Format
	IntegrityHash string
	Recipient     model.Recipient
	Metadata      map[string]string
}

// Outcome is the result for one subject.
type Outcome struct {
	SubjectID string `json:"subject_id"`
	Status    string `json:"status"`
	CacheHit  bool   `json:"cache_hit"`
	Rendered  bool   `json:"rendered"`
	Reason    string `json:"reason,omitempty"`

	err error
}

// Err returns the error behind a failed outcome, or nil when it was delivered.
func (o Outcome) Err() error {
	return o.err
}

// Summary reports what a batch did. Partial success is normal.
type Summary struct {
	BatchID   string       `json:"batch_id,omitempty"`
	Period    model.Period `json:"period"`
	Delivered int          `json:"delivered"`
	Failed    int          `json:"failed"`
	CacheHits int          `json:"cache_hits"`
	Renders   int          `json:"renders"`
	Outcomes  []Outcome    `json:"outcomes"`
}

func (s *Summary) add(o Outcome) {
	s.Outcomes = append(s.Outcomes, o)
	if o.Status == StatusDelivered {
		s.Delivered++
	} else {
		s.Failed++
	}
	if o.CacheHit {
		s.CacheHits++
	}
	if o.Rendered {
		s.Renders++
	}
}

// Scheduler runs batches sequentially through cache, quota and renderer.
type Scheduler struct {
	quota    Quota
	cache    Cache
	renderer Renderer

	sleep         Sleeper
	observer      Observer
	chunkDivisor  int
	chunkCooldown time.Duration
	log           logger.Logger
}

// New creates a Scheduler.
func New(q Quota, c Cache, r Renderer, opts ...Option) *Scheduler {
	s := &Scheduler{
		quota:         q,
		cache:         c,
		renderer:      r,
		sleep:         sleep,
		chunkDivisor:  DefaultChunkDivisor,
		chunkCooldown: DefaultChunkCooldown,
		log:           logger.Get().Named("scheduler"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Deliver runs one batch without an ID.
func (s *Scheduler) Deliver(ctx context.Context, period model.Period, jobs []Job, sink Sink) (Summary, error) {
	return s.DeliverBatch(ctx, "", period, jobs, sink)
}

// batchRun is the mutable state of one DeliverBatch call.
type batchRun struct {
	id       string
	period   model.Period
	sink     Sink
	reserved int
	overage  bool
}

// DeliverBatch delivers one document per job.
//
// Admission is all or nothing: the units needed for cache misses are
// reserved up front and the batch fails with ErrQuotaExceeded before any
// work if they do not fit. Subjects are then processed one at a time in
// chunks sized from the remaining budget, pausing between subjects and
// for longer between chunks. Per-subject failures never abort the batch.
func (s *Scheduler) DeliverBatch(ctx context.Context, batchID string, period model.Period, jobs []Job, sink Sink) (Summary, error) {
	start := time.Now()
	sum := Summary{BatchID: batchID, Period: period, Outcomes: make([]Outcome, 0, len(jobs))}
	if len(jobs) == 0 {
		return sum, nil
	}

	required := 0
	for _, j := range jobs {
		if !s.cache.Probe(j.SubjectID, period, j.IntegrityHash) {
			required++
		}
	}

	remaining := s.quota.Remaining()
	chunk := remaining / s.chunkDivisor
	if chunk < 1 {
		chunk = 1
	}

	if !s.quota.Reserve(required) {
		metrics.RecordBatch(batchRejected, time.Since(start).Seconds())
		s.log.Warn(ctx, "batch rejected by quota",
			logger.String("batch_id", batchID),
			logger.Int("subjects", len(jobs)),
			logger.Int("required_units", required),
			logger.Int("remaining_units", remaining),
		)
		return sum, fmt.Errorf("%w: batch needs %d units, %d remaining", ErrQuotaExceeded, required, remaining)
	}

	run := &batchRun{id: batchID, period: period, sink: sink, reserved: required}
	defer func() {
		if run.reserved > 0 {
			s.quota.Release(run.reserved)
		}
	}()

	s.log.Info(ctx, "batch started",
		logger.String("batch_id", batchID),
		logger.String("period", period.String()),
		logger.Int("subjects", len(jobs)),
		logger.Int("required_units", required),
		logger.Int("chunk_size", chunk),
	)

	status := batchCompleted
	for i, job := range jobs {
		if i > 0 {
			d := s.quota.RecommendedDelay()
			if i%chunk == 0 {
				d = max(s.chunkCooldown, 2*d)
			}
			if err := s.sleep(ctx, d); err != nil {
				s.cancelRest(ctx, run, jobs[i:], &sum)
				status = batchCanceled
				break
			}
		}
		if ctx.Err() != nil {
			s.cancelRest(ctx, run, jobs[i:], &sum)
			status = batchCanceled
			break
		}

		o := s.process(ctx, run, job)
		s.record(ctx, run, o, &sum)
	}

	metrics.RecordBatch(status, time.Since(start).Seconds())
	s.log.Info(ctx, "batch finished",
		logger.String("batch_id", batchID),
		logger.String("status", status),
		logger.Int("delivered", sum.Delivered),
		logger.Int("failed", sum.Failed),
		logger.Int("cache_hits", sum.CacheHits),
		logger.Int("renders", sum.Renders),
	)
	return sum, nil
}

// process delivers one subject while holding its cache slot.
func (s *Scheduler) process(ctx context.Context, run *batchRun, job Job) Outcome {
	o := Outcome{SubjectID: job.SubjectID}

	release := s.cache.Acquire(job.SubjectID, run.period)
	defer release()

	data, hit := s.cache.Lookup(job.SubjectID, run.period, job.IntegrityHash)
	if hit {
		o.CacheHit = true
	} else {
		var err error
		data, err = s.render(ctx, run, job)
		if err != nil {
			return failed(o, err)
		}
		o.Rendered = true
	}

	err := run.sink.Deliver(ctx, model.Delivery{
		SubjectID: job.SubjectID,
		Period:    run.period,
		Bytes:     data,
		Format:    job.Format,
		Recipient: job.Recipient,
		Metadata:  job.Metadata,
	})
	if err != nil {
		return failed(o, fmt.Errorf("deliver: %w", err))
	}
	o.Status = StatusDelivered
	return o
}

// render spends one unit on a cache miss. A unit reserved at admission is
// used when available; a miss the pre-pass did not predict reserves its own.
func (s *Scheduler) render(ctx context.Context, run *batchRun, job Job) ([]byte, error) {
	if run.overage {
		return nil, ErrQuotaExhausted
	}
	switch {
	case run.reserved > 0:
		run.reserved--
	case s.quota.Reserve(1):
	default:
		return nil, ErrQuotaExhausted
	}

	data, err := s.renderer.Render(ctx, model.RenderRequest{Input: job.Input, Format: job.Format})
	if err != nil {
		if errors.Is(err, model.ErrOverage) {
			// The tracker drops every reservation on overage, ours included.
			s.quota.RecordOverageSignal()
			run.overage = true
			run.reserved = 0
			return nil, err
		}
		s.quota.Release(1)
		return nil, err
	}

	s.quota.RecordUsage(1)
	s.cache.Store(job.SubjectID, run.period, data, job.IntegrityHash)
	return data, nil
}

func (s *Scheduler) cancelRest(ctx context.Context, run *batchRun, jobs []Job, sum *Summary) {
	for _, j := range jobs {
		s.record(ctx, run, failed(Outcome{SubjectID: j.SubjectID}, ErrCanceled), sum)
	}
}

func (s *Scheduler) record(ctx context.Context, run *batchRun, o Outcome, sum *Summary) {
	sum.add(o)

	source := "cache"
	if o.Rendered {
		source = "render"
	} else if !o.CacheHit {
		source = "none"
	}
	metrics.RecordDelivery(o.Status, source)

	if o.Status == StatusFailed {
		s.log.Warn(ctx, "subject delivery failed",
			logger.String("batch_id", run.id),
			logger.String("subject_id", o.SubjectID),
			logger.String("reason", o.Reason),
		)
	}
	if s.observer != nil {
		s.observer(ctx, run.id, o)
	}
}

func failed(o Outcome, err error) Outcome {
	o.Status = StatusFailed
	o.Reason = err.Error()
	o.err = err
	return o
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
