package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/okian/fleetreport/internal/adapters/http/api"
	batchqueue "github.com/okian/fleetreport/internal/adapters/mq/queue"
	service "github.com/okian/fleetreport/internal/app"
	"github.com/okian/fleetreport/internal/domain/model"
	"github.com/okian/fleetreport/internal/domain/ranking"
	"github.com/okian/fleetreport/internal/domain/report"
	"github.com/okian/fleetreport/internal/domain/scheduler"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type mockDeps struct {
	submitted   []service.SubmitRequest
	submitErr   error
	batches     map[string]service.Batch
	download    model.Delivery
	downloadErr error
	downloaded  []model.Period
	rankings    []ranking.Entry
	rankedFor   model.Period
	invalidated []string
}

func (m *mockDeps) SubmitBatch(_ context.Context, req service.SubmitRequest) (service.Batch, error) {
	if m.submitErr != nil {
		return service.Batch{}, m.submitErr
	}
	m.submitted = append(m.submitted, req)
	return service.Batch{ID: "batch-1", Status: service.BatchPending, Period: req.Period, Format: req.Format}, nil
}

func (m *mockDeps) Batch(id string) (service.Batch, error) {
	b, ok := m.batches[id]
	if !ok {
		return service.Batch{}, fmt.Errorf("%w: %s", service.ErrBatchNotFound, id)
	}
	return b, nil
}

func (m *mockDeps) Batches() []service.Batch {
	out := make([]service.Batch, 0, len(m.batches))
	for _, b := range m.batches {
		out = append(out, b)
	}
	return out
}

func (m *mockDeps) Download(_ context.Context, subjectID string, period model.Period, format model.Format) (model.Delivery, error) {
	m.downloaded = append(m.downloaded, period)
	if m.downloadErr != nil {
		return model.Delivery{}, m.downloadErr
	}
	d := m.download
	d.SubjectID, d.Period, d.Format = subjectID, period, format
	return d, nil
}

func (m *mockDeps) Rankings(_ context.Context, period model.Period) ([]ranking.Entry, error) {
	m.rankedFor = period
	return m.rankings, nil
}

func (m *mockDeps) Invalidate(_ context.Context, subjectID string, period model.Period) bool {
	m.invalidated = append(m.invalidated, subjectID+"@"+period.String())
	return subjectID == "cached"
}

func (m *mockDeps) Status() service.Status {
	return service.Status{UnitsUsed: 40, MaxUnits: 1000, RemainingUnits: 960, DaysUntilReset: 12, CacheEntryCount: 3, CacheSizeBytes: 4096}
}

type mockHub struct {
	attached chan *websocket.Conn
}

func (h *mockHub) Attach(conn *websocket.Conn) { h.attached <- conn }
func (h *mockHub) ClientCount() int           { return 2 }

var fixedNow = func() time.Time { return time.Date(2026, time.March, 9, 12, 0, 0, 0, time.UTC) }

func newRouter(deps *mockDeps, hub api.Hub) *gin.Engine {
	return api.NewRouter(api.NewServer(deps, hub, api.WithClock(fixedNow)))
}

func do(r http.Handler, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func errorCode(w *httptest.ResponseRecorder) string {
	var body struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	return body.Code
}

func TestHealthAndStatus(t *testing.T) {
	Convey("Given a router with a hub", t, func() {
		r := newRouter(&mockDeps{}, &mockHub{attached: make(chan *websocket.Conn, 1)})

		Convey("When GET /healthz is called", func() {
			w := do(r, http.MethodGet, "/healthz", "")

			Convey("Then it should report ok with the client count", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(w.Body.String(), ShouldContainSubstring, `"status":"ok"`)
				So(w.Body.String(), ShouldContainSubstring, `"ws_clients":2`)
			})
		})

		Convey("When GET /status is called", func() {
			w := do(r, http.MethodGet, "/status", "")
			var st service.Status
			So(json.Unmarshal(w.Body.Bytes(), &st), ShouldBeNil)

			Convey("Then quota and cache usage should be returned", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(st.UnitsUsed, ShouldEqual, 40)
				So(st.RemainingUnits, ShouldEqual, 960)
				So(st.DaysUntilReset, ShouldEqual, 12)
				So(st.CacheSizeBytes, ShouldEqual, 4096)
			})
		})

		Convey("When GET /metrics is called after other requests", func() {
			do(r, http.MethodGet, "/healthz", "")
			w := do(r, http.MethodGet, "/metrics", "")

			Convey("Then HTTP metrics should be exposed", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(w.Body.String(), ShouldContainSubstring, "/healthz")
			})
		})
	})
}

func TestBatches(t *testing.T) {
	Convey("Given a router", t, func() {
		deps := &mockDeps{batches: map[string]service.Batch{
			"b-7": {ID: "b-7", Status: service.BatchCompleted, Summary: &scheduler.Summary{Delivered: 4}},
		}}
		r := newRouter(deps, nil)

		Convey("When a valid batch is posted", func() {
			w := do(r, http.MethodPost, "/batches", `{"month":2,"year":2026,"subject_ids":["a","b"],"format":"DOCX"}`)

			Convey("Then it should be accepted and queued", func() {
				So(w.Code, ShouldEqual, http.StatusAccepted)
				So(w.Header().Get("Location"), ShouldEqual, "/batches/batch-1")
				So(deps.submitted, ShouldHaveLength, 1)
				So(deps.submitted[0].Period, ShouldResemble, model.Period{Month: 2, Year: 2026})
				So(deps.submitted[0].SubjectIDs, ShouldResemble, []string{"a", "b"})
				So(deps.submitted[0].Format, ShouldEqual, model.FormatDOCX)
			})
		})

		Convey("When the body is missing the period", func() {
			w := do(r, http.MethodPost, "/batches", `{"subject_ids":["a"]}`)
			So(w.Code, ShouldEqual, http.StatusBadRequest)
			So(errorCode(w), ShouldEqual, "bad_request")
		})

		Convey("When the month is out of range", func() {
			w := do(r, http.MethodPost, "/batches", `{"month":13,"year":2026}`)
			So(w.Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("When the format is unknown", func() {
			w := do(r, http.MethodPost, "/batches", `{"month":1,"year":2026,"format":"odt"}`)
			So(w.Code, ShouldEqual, http.StatusBadRequest)
			So(deps.submitted, ShouldBeEmpty)
		})

		Convey("When the queue is full", func() {
			deps.submitErr = fmt.Errorf("queue batch: %w", batchqueue.ErrBackpressure)
			w := do(r, http.MethodPost, "/batches", `{"month":1,"year":2026}`)
			So(w.Code, ShouldEqual, http.StatusServiceUnavailable)
			So(errorCode(w), ShouldEqual, "backpressure")
		})

		Convey("When fetching a known batch", func() {
			w := do(r, http.MethodGet, "/batches/b-7", "")
			var b service.Batch
			So(json.Unmarshal(w.Body.Bytes(), &b), ShouldBeNil)
			So(w.Code, ShouldEqual, http.StatusOK)
			So(b.Status, ShouldEqual, service.BatchCompleted)
			So(b.Summary.Delivered, ShouldEqual, 4)
		})

		Convey("When fetching an unknown batch", func() {
			w := do(r, http.MethodGet, "/batches/nope", "")
			So(w.Code, ShouldEqual, http.StatusNotFound)
			So(errorCode(w), ShouldEqual, "not_found")
		})

		Convey("When listing batches", func() {
			w := do(r, http.MethodGet, "/batches", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Body.String(), ShouldContainSubstring, "b-7")
		})
	})
}

func TestReports(t *testing.T) {
	Convey("Given a router", t, func() {
		deps := &mockDeps{download: model.Delivery{Bytes: []byte("%PDF-1.7")}}
		r := newRouter(deps, nil)

		Convey("When downloading with an explicit period", func() {
			w := do(r, http.MethodGet, "/reports/drv-1?month=1&year=2026", "")

			Convey("Then the document should be streamed as an attachment", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(w.Header().Get("Content-Type"), ShouldEqual, "application/pdf")
				So(w.Header().Get("Content-Disposition"), ShouldEqual, `attachment; filename=drv-1-2026-01.pdf`)
				So(w.Body.Bytes(), ShouldResemble, []byte("%PDF-1.7"))
			})
		})

		Convey("When downloading without a period", func() {
			do(r, http.MethodGet, "/reports/drv-1", "")

			Convey("Then the previous month should be used", func() {
				So(deps.downloaded, ShouldResemble, []model.Period{{Month: 2, Year: 2026}})
			})
		})

		Convey("When the month is not a number", func() {
			w := do(r, http.MethodGet, "/reports/drv-1?month=jan&year=2026", "")
			So(w.Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("When the period does not exist", func() {
			w := do(r, http.MethodGet, "/reports/drv-1?month=0&year=2026", "")
			So(w.Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("When the quota is exhausted", func() {
			deps.downloadErr = fmt.Errorf("%w: batch needs 1 units, 0 remaining", scheduler.ErrQuotaExceeded)
			w := do(r, http.MethodGet, "/reports/drv-1?month=1&year=2026", "")
			So(w.Code, ShouldEqual, http.StatusTooManyRequests)
			So(errorCode(w), ShouldEqual, "quota_exceeded")
		})

		Convey("When the subject is unknown", func() {
			deps.downloadErr = fmt.Errorf("%w: [ghost]", report.ErrUnknownSubject)
			w := do(r, http.MethodGet, "/reports/ghost?month=1&year=2026", "")
			So(w.Code, ShouldEqual, http.StatusNotFound)
		})

		Convey("When rendering fails", func() {
			deps.downloadErr = fmt.Errorf("%w: render: 500", service.ErrDeliveryFailed)
			w := do(r, http.MethodGet, "/reports/drv-1?month=1&year=2026", "")
			So(w.Code, ShouldEqual, http.StatusBadGateway)
		})

		Convey("When something unexpected happens", func() {
			deps.downloadErr = errors.New("disk on fire")
			w := do(r, http.MethodGet, "/reports/drv-1?month=1&year=2026", "")
			So(w.Code, ShouldEqual, http.StatusInternalServerError)
			So(errorCode(w), ShouldEqual, "internal")
		})

		Convey("When fetching rankings", func() {
			deps.rankings = []ranking.Entry{{SubjectID: "a", Position: 1, TopPerformer: true}}
			w := do(r, http.MethodGet, "/rankings?month=12&year=2025", "")

			Convey("Then the cohort ranking should be returned", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(deps.rankedFor, ShouldResemble, model.Period{Month: 12, Year: 2025})
				So(w.Body.String(), ShouldContainSubstring, `"top_performer":true`)
			})
		})

		Convey("When invalidating a cached report", func() {
			w := do(r, http.MethodDelete, "/cache/cached?month=1&year=2026", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Body.String(), ShouldContainSubstring, `"removed":true`)
			So(deps.invalidated, ShouldResemble, []string{"cached@2026-01"})
		})
	})
}

func TestWebSocket(t *testing.T) {
	Convey("Given a server with a hub", t, func() {
		hub := &mockHub{attached: make(chan *websocket.Conn, 1)}
		srv := httptest.NewServer(newRouter(&mockDeps{}, hub))
		defer srv.Close()

		Convey("When a client connects to /ws", func() {
			conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
			So(err, ShouldBeNil)
			defer conn.Close()

			Convey("Then the connection should be handed to the hub", func() {
				select {
				case c := <-hub.attached:
					So(c, ShouldNotBeNil)
					_ = c.Close()
				case <-time.After(2 * time.Second):
					So("not attached", ShouldBeEmpty)
				}
			})
		})
	})

	Convey("Given a server without a hub", t, func() {
		r := newRouter(&mockDeps{}, nil)

		Convey("Then /ws should not be routed", func() {
			w := do(r, http.MethodGet, "/ws", "")
			So(w.Code, ShouldEqual, http.StatusNotFound)
		})
	})
}

func TestDocsRoutes(t *testing.T) {
	Convey("Given the full router", t, func() {
		r := newRouter(&mockDeps{}, nil)

		Convey("Then the OpenAPI document and docs page should be served", func() {
			So(do(r, http.MethodGet, "/openapi.yaml", "").Code, ShouldEqual, http.StatusOK)
			So(do(r, http.MethodGet, "/api-docs", "").Code, ShouldEqual, http.StatusOK)
		})

		Convey("Then /ws should not exist without a hub", func() {
			So(do(r, http.MethodGet, "/ws", "").Code, ShouldEqual, http.StatusNotFound)
		})
	})
}
