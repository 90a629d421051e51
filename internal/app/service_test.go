package service_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/okian/fleetreport/internal/adapters/cache"
	"github.com/okian/fleetreport/internal/adapters/delivery"
	batchqueue "github.com/okian/fleetreport/internal/adapters/mq/queue"
	"github.com/okian/fleetreport/internal/adapters/repository"
	service "github.com/okian/fleetreport/internal/app"
	"github.com/okian/fleetreport/internal/domain/model"
	"github.com/okian/fleetreport/internal/domain/quota"
	"github.com/okian/fleetreport/internal/domain/report"
	"github.com/okian/fleetreport/internal/domain/scheduler"
	. "github.com/smartystreets/goconvey/convey"
)

var may = model.Period{Month: 5, Year: 2026}

func record(id string, idle float64) model.DriverPeriodRecord {
	return model.DriverPeriodRecord{
		SubjectID:             id,
		DriverName:            "Driver " + id,
		Month:                 5,
		Year:                  2026,
		TotalDistanceKm:       1000,
		FuelUsedL:             320,
		AvgWeightT:            20,
		EngineTimeS:           100,
		IdleTimeS:             idle,
		CruiseDistanceKm:      600,
		CoastingDistanceKm:    100,
		BrakeDistanceKm:       100,
		EngineBrakeDistanceKm: 50,
		OverspeedDistanceKm:   5,
	}
}

type fakeRenderer struct {
	calls atomic.Int32
	block chan struct{}
	err   error
}

func (r *fakeRenderer) Render(ctx context.Context, req model.RenderRequest) ([]byte, error) {
	r.calls.Add(1)
	if r.block != nil {
		select {
		case <-r.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if r.err != nil {
		return nil, r.err
	}
	return []byte("document/" + string(req.Format)), nil
}

type recordedEvent struct {
	name    string
	payload any
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (n *fakeNotifier) Broadcast(event string, payload any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, recordedEvent{name: event, payload: payload})
}

func (n *fakeNotifier) names() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.events))
	for _, e := range n.events {
		out = append(out, e.name)
	}
	return out
}

type harness struct {
	svc      *service.Service
	renderer *fakeRenderer
	tracker  *quota.Tracker
	cache    *cache.Cache
	sink     *delivery.BufferSink
	notifier *fakeNotifier
}

func newHarness(maxUnits int, opts ...service.Option) *harness {
	h := &harness{
		renderer: &fakeRenderer{},
		tracker:  quota.New(quota.WithMaxUnits(maxUnits)),
		cache:    cache.New(),
		sink:     delivery.NewBufferSink(),
		notifier: &fakeNotifier{},
	}
	store := repository.NewMemoryStore(record("a", 2), record("b", 6), record("c", 4))
	sched := scheduler.New(h.tracker, h.cache, h.renderer,
		scheduler.WithSleeper(func(ctx context.Context, _ time.Duration) error { return ctx.Err() }),
		scheduler.WithObserver(service.OutcomeObserver(h.notifier)),
	)
	h.svc = service.New(service.Deps{
		Builder:   report.New(store),
		Scheduler: sched,
		Quota:     h.tracker,
		Cache:     h.cache,
		Sink:      h.sink,
	}, append([]service.Option{service.WithNotifier(h.notifier)}, opts...)...)
	return h
}

func (n *fakeNotifier) waitFor(count int) []string {
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if names := n.names(); len(names) >= count {
			return names
		}
		time.Sleep(5 * time.Millisecond)
	}
	return n.names()
}

func waitDone(svc *service.Service, id string) service.Batch {
	deadline := time.Now().Add(3 * time.Second)
	for {
		b, err := svc.Batch(id)
		if err == nil && b.Status != service.BatchPending && b.Status != service.BatchRunning {
			return b
		}
		if time.Now().After(deadline) {
			return b
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestService_Batches(t *testing.T) {
	Convey("Given a started service with budget to spare", t, func() {
		ctx := context.Background()
		h := newHarness(100)
		So(h.svc.Start(ctx), ShouldBeNil)
		defer func() { _ = h.svc.Stop(ctx) }()

		Convey("When a batch for the whole cohort is submitted", func() {
			b, err := h.svc.SubmitBatch(ctx, service.SubmitRequest{Period: may})
			So(err, ShouldBeNil)
			So(b.ID, ShouldNotBeEmpty)
			So(b.Format, ShouldEqual, model.FormatPDF)

			done := waitDone(h.svc, b.ID)

			Convey("Then it should complete with every subject delivered", func() {
				So(done.Status, ShouldEqual, service.BatchCompleted)
				So(done.Summary, ShouldNotBeNil)
				So(done.Summary.Delivered, ShouldEqual, 3)
				So(done.Summary.Renders, ShouldEqual, 3)
				So(done.StartedAt, ShouldNotBeNil)
				So(done.FinishedAt, ShouldNotBeNil)
				So(h.sink.Deliveries(), ShouldHaveLength, 3)
			})

			Convey("Then progress should be broadcast in order", func() {
				So(h.notifier.waitFor(5), ShouldResemble, []string{
					service.EventBatchStarted,
					service.EventSubjectOutcome,
					service.EventSubjectOutcome,
					service.EventSubjectOutcome,
					service.EventBatchCompleted,
				})
			})

			Convey("Then units should be spent and cached", func() {
				st := h.svc.Status()
				So(st.UnitsUsed, ShouldEqual, 3)
				So(st.RemainingUnits, ShouldEqual, 97)
				So(st.CacheEntryCount, ShouldEqual, 3)
				So(st.CacheSizeBytes, ShouldBeGreaterThan, 0)
				So(st.Workers, ShouldEqual, 1)
			})

			Convey("Then a repeat batch should be served from cache", func() {
				again, err := h.svc.SubmitBatch(ctx, service.SubmitRequest{Period: may, SubjectIDs: []string{"a", "b"}})
				So(err, ShouldBeNil)
				done := waitDone(h.svc, again.ID)
				So(done.Summary.CacheHits, ShouldEqual, 2)
				So(h.renderer.calls.Load(), ShouldEqual, 3)
				So(h.svc.Batches()[0].ID, ShouldEqual, again.ID)
			})
		})

		Convey("When a batch names an unknown subject", func() {
			b, err := h.svc.SubmitBatch(ctx, service.SubmitRequest{Period: may, SubjectIDs: []string{"ghost"}})
			So(err, ShouldBeNil)
			done := waitDone(h.svc, b.ID)

			Convey("Then it should fail with the reason", func() {
				So(done.Status, ShouldEqual, service.BatchFailed)
				So(done.Error, ShouldContainSubstring, "ghost")
			})
		})

		Convey("When the period is invalid", func() {
			_, err := h.svc.SubmitBatch(ctx, service.SubmitRequest{Period: model.Period{Month: 13, Year: 2026}})
			So(errors.Is(err, report.ErrInvalidPeriod), ShouldBeTrue)
		})

		Convey("When asking for an unknown batch", func() {
			_, err := h.svc.Batch("nope")
			So(errors.Is(err, service.ErrBatchNotFound), ShouldBeTrue)
		})
	})

	Convey("Given a service whose budget cannot cover the batch", t, func() {
		ctx := context.Background()
		h := newHarness(2)
		So(h.svc.Start(ctx), ShouldBeNil)
		defer func() { _ = h.svc.Stop(ctx) }()

		b, err := h.svc.SubmitBatch(ctx, service.SubmitRequest{Period: may})
		So(err, ShouldBeNil)
		done := waitDone(h.svc, b.ID)

		Convey("Then the batch should be rejected before any render", func() {
			So(done.Status, ShouldEqual, service.BatchRejected)
			So(done.Error, ShouldContainSubstring, "quota")
			So(h.renderer.calls.Load(), ShouldEqual, 0)
			So(h.svc.Status().UnitsUsed, ShouldEqual, 0)
		})
	})

	Convey("Given a service that has not been started", t, func() {
		h := newHarness(10)

		Convey("Then submissions should be refused", func() {
			_, err := h.svc.SubmitBatch(context.Background(), service.SubmitRequest{Period: may})
			So(errors.Is(err, service.ErrNotStarted), ShouldBeTrue)
		})

		Convey("Then stopping should be a no-op", func() {
			So(h.svc.Stop(context.Background()), ShouldBeNil)
		})
	})

	Convey("Given a busy worker and a small queue", t, func() {
		ctx := context.Background()
		h := newHarness(100, service.WithQueueSize(1))
		h.renderer.block = make(chan struct{})
		So(h.svc.Start(ctx), ShouldBeNil)

		var lastErr error
		for i := 0; i < 10 && lastErr == nil; i++ {
			_, lastErr = h.svc.SubmitBatch(ctx, service.SubmitRequest{Period: may, SubjectIDs: []string{"a"}})
		}

		Convey("Then further submissions should be refused with backpressure", func() {
			So(errors.Is(lastErr, batchqueue.ErrBackpressure), ShouldBeTrue)
		})

		close(h.renderer.block)
		So(h.svc.Stop(ctx), ShouldBeNil)
	})
}

func TestService_Download(t *testing.T) {
	Convey("Given a started service", t, func() {
		ctx := context.Background()
		h := newHarness(10)
		So(h.svc.Start(ctx), ShouldBeNil)
		defer func() { _ = h.svc.Stop(ctx) }()

		Convey("When downloading a report", func() {
			d, err := h.svc.Download(ctx, "b", may, model.FormatDOCX)

			Convey("Then the rendered document should be returned", func() {
				So(err, ShouldBeNil)
				So(string(d.Bytes), ShouldEqual, "document/docx")
				So(d.FileName(), ShouldEqual, "b-2026-05.docx")
				So(h.renderer.calls.Load(), ShouldEqual, 1)
			})

			Convey("Then downloading again should hit the cache", func() {
				_, err := h.svc.Download(ctx, "b", may, model.FormatDOCX)
				So(err, ShouldBeNil)
				So(h.renderer.calls.Load(), ShouldEqual, 1)
				So(h.svc.Status().CacheHits, ShouldEqual, 1)
			})

			Convey("Then invalidating should force a fresh render", func() {
				So(h.svc.Invalidate(ctx, "b", may), ShouldBeTrue)
				So(h.svc.Invalidate(ctx, "b", may), ShouldBeFalse)
				_, err := h.svc.Download(ctx, "b", may, model.FormatDOCX)
				So(err, ShouldBeNil)
				So(h.renderer.calls.Load(), ShouldEqual, 2)
			})

			Convey("Then nothing should be broadcast", func() {
				So(h.notifier.names(), ShouldBeEmpty)
			})
		})

		Convey("When the same report is downloaded as PDF and then as DOCX", func() {
			pdf, err := h.svc.Download(ctx, "a", may, model.FormatPDF)
			So(err, ShouldBeNil)
			docx, err := h.svc.Download(ctx, "a", may, model.FormatDOCX)

			Convey("Then each format should be rendered on its own", func() {
				So(err, ShouldBeNil)
				So(string(pdf.Bytes), ShouldEqual, "document/pdf")
				So(string(docx.Bytes), ShouldEqual, "document/docx")
				So(docx.Format, ShouldEqual, model.FormatDOCX)
				So(h.renderer.calls.Load(), ShouldEqual, 2)
			})

			Convey("Then switching back should render PDF again", func() {
				again, err := h.svc.Download(ctx, "a", may, model.FormatPDF)
				So(err, ShouldBeNil)
				So(string(again.Bytes), ShouldEqual, "document/pdf")
				So(h.renderer.calls.Load(), ShouldEqual, 3)
			})
		})

		Convey("When the subject does not exist", func() {
			_, err := h.svc.Download(ctx, "ghost", may, model.FormatPDF)
			So(errors.Is(err, report.ErrUnknownSubject), ShouldBeTrue)
		})

		Convey("When the renderer fails", func() {
			h.renderer.err = errors.New("boom")
			_, err := h.svc.Download(ctx, "a", may, model.FormatPDF)
			So(errors.Is(err, service.ErrDeliveryFailed), ShouldBeTrue)
		})

		Convey("When a renderer error only mentions a quota in its text", func() {
			h.renderer.err = errors.New("upstream: " + model.ErrOverage.Error())
			_, err := h.svc.Download(ctx, "a", may, model.FormatPDF)

			Convey("Then it should be reported as a delivery failure", func() {
				So(errors.Is(err, service.ErrDeliveryFailed), ShouldBeTrue)
				So(errors.Is(err, scheduler.ErrQuotaExceeded), ShouldBeFalse)
			})
		})

		Convey("When the overage error is wrapped by the renderer", func() {
			h.renderer.err = fmt.Errorf("render attempt 1: %w", model.ErrOverage)
			_, err := h.svc.Download(ctx, "a", may, model.FormatPDF)
			So(errors.Is(err, scheduler.ErrQuotaExceeded), ShouldBeTrue)
		})

		Convey("When the provider reports overage", func() {
			h.renderer.err = model.ErrOverage
			_, err := h.svc.Download(ctx, "a", may, model.FormatPDF)

			Convey("Then the quota error should surface and the budget be exhausted", func() {
				So(errors.Is(err, scheduler.ErrQuotaExceeded), ShouldBeTrue)
				So(errors.Is(err, model.ErrOverage), ShouldBeTrue)
				So(h.svc.Status().RemainingUnits, ShouldEqual, 0)
			})
		})
	})

	Convey("Given an exhausted budget", t, func() {
		h := newHarness(1)
		h.tracker.RecordUsage(1)

		Convey("Then a cache miss download should be refused", func() {
			_, err := h.svc.Download(context.Background(), "a", may, model.FormatPDF)
			So(errors.Is(err, scheduler.ErrQuotaExceeded), ShouldBeTrue)
		})
	})
}

func TestService_RankingsAndStop(t *testing.T) {
	Convey("Given a service", t, func() {
		ctx := context.Background()
		var closed []string
		h := newHarness(10,
			service.WithCloser(func() error { closed = append(closed, "db"); return nil }),
			service.WithCloser(func() error { closed = append(closed, "mail"); return errors.New("mail close") }),
		)

		Convey("When ranking the cohort", func() {
			entries, err := h.svc.Rankings(ctx, may)
			So(err, ShouldBeNil)
			So(entries, ShouldHaveLength, 3)
			So(entries[0].Position, ShouldEqual, 1)
		})

		Convey("When ranking an invalid period", func() {
			_, err := h.svc.Rankings(ctx, model.Period{})
			So(errors.Is(err, report.ErrInvalidPeriod), ShouldBeTrue)
		})

		Convey("When stopping a started service", func() {
			So(h.svc.Start(ctx), ShouldBeNil)
			So(h.svc.Start(ctx), ShouldBeNil)
			err := h.svc.Stop(ctx)

			Convey("Then every closer should run and errors be combined", func() {
				So(closed, ShouldResemble, []string{"db", "mail"})
				So(err, ShouldNotBeNil)
				So(err.Error(), ShouldContainSubstring, "mail close")
			})
		})
	})
}
