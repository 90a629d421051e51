// Package api exposes the report service over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/okian/fleetreport/internal/adapters/http/swagger"
	batchqueue "github.com/okian/fleetreport/internal/adapters/mq/queue"
	service "github.com/okian/fleetreport/internal/app"
	"github.com/okian/fleetreport/internal/domain/model"
	"github.com/okian/fleetreport/internal/domain/ranking"
	"github.com/okian/fleetreport/internal/domain/report"
	"github.com/okian/fleetreport/internal/domain/scheduler"
	"github.com/okian/fleetreport/pkg/logger"
)

// Dependencies required by HTTP handlers.
type Dependencies interface {
	SubmitBatch(ctx context.Context, req service.SubmitRequest) (service.Batch, error)
	Batch(id string) (service.Batch, error)
	Batches() []service.Batch
	Download(ctx context.Context, subjectID string, period model.Period, format model.Format) (model.Delivery, error)
	Rankings(ctx context.Context, period model.Period) ([]ranking.Entry, error)
	Invalidate(ctx context.Context, subjectID string, period model.Period) bool
	Status() service.Status
}

// Hub accepts websocket clients for progress events.
type Hub interface {
	Attach(conn *websocket.Conn)
	ClientCount() int
}

// Server wires HTTP routes for the business API.
type Server struct {
	deps     Dependencies
	hub      Hub
	upgrader websocket.Upgrader
	now      func() time.Time
	logger   logger.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithClock sets the time source used to pick the default period.
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewServer creates a new API server. hub may be nil, which disables /ws.
func NewServer(deps Dependencies, hub Hub, opts ...Option) *Server {
	s := &Server{
		deps: deps,
		hub:  hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		now:    time.Now,
		logger: logger.Get().Named("api"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewRouter returns a gin engine with recovery, metrics and every route.
func NewRouter(s *Server) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), MetricsMiddleware())
	s.Register(r)
	swagger.Register(r)
	return r
}

// Register attaches all HTTP routes to r.
func (s *Server) Register(r gin.IRouter) {
	r.GET("/healthz", s.handleHealth)
	r.GET("/metrics", handleMetrics())
	r.GET("/status", s.handleStatus)
	r.GET("/rankings", s.handleRankings)

	r.POST("/batches", s.handleSubmitBatch)
	r.GET("/batches", s.handleListBatches)
	r.GET("/batches/:id", s.handleGetBatch)

	r.GET("/reports/:subject", s.handleDownload)
	r.DELETE("/cache/:subject", s.handleInvalidate)

	if s.hub != nil {
		r.GET("/ws", s.handleWebSocket)
	}
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(c *gin.Context, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	c.AbortWithStatusJSON(status, errorResponse{Code: code, Message: msg})
}

// writeServiceError maps domain errors to HTTP statuses.
func (s *Server) writeServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, scheduler.ErrQuotaExceeded):
		writeError(c, http.StatusTooManyRequests, "quota_exceeded", err)
	case errors.Is(err, batchqueue.ErrBackpressure):
		writeError(c, http.StatusServiceUnavailable, "backpressure", err)
	case errors.Is(err, batchqueue.ErrClosed), errors.Is(err, service.ErrNotStarted):
		writeError(c, http.StatusServiceUnavailable, "unavailable", err)
	case errors.Is(err, service.ErrBatchNotFound),
		errors.Is(err, report.ErrUnknownSubject),
		errors.Is(err, model.ErrRecordNotFound):
		writeError(c, http.StatusNotFound, "not_found", err)
	case errors.Is(err, ErrBadRequest),
		errors.Is(err, report.ErrInvalidPeriod),
		errors.Is(err, model.ErrInvalidFormat):
		writeError(c, http.StatusBadRequest, "bad_request", err)
	case errors.Is(err, service.ErrDeliveryFailed):
		writeError(c, http.StatusBadGateway, "delivery_failed", err)
	default:
		s.logger.Error(c.Request.Context(), "request failed",
			logger.String("path", c.FullPath()),
			logger.Error(err),
		)
		writeError(c, http.StatusInternalServerError, "internal", err)
	}
}

// periodFromQuery reads month and year. Both absent means the previous
// calendar month, the usual reporting period.
func (s *Server) periodFromQuery(c *gin.Context) (model.Period, error) {
	ms, ys := c.Query("month"), c.Query("year")
	if ms == "" && ys == "" {
		return model.PeriodOf(s.now()).Prev(), nil
	}
	month, err := strconv.Atoi(ms)
	if err != nil {
		return model.Period{}, fmt.Errorf("%w: month %q", ErrBadRequest, ms)
	}
	year, err := strconv.Atoi(ys)
	if err != nil {
		return model.Period{}, fmt.Errorf("%w: year %q", ErrBadRequest, ys)
	}
	p := model.Period{Month: month, Year: year}
	if !p.Valid() {
		return model.Period{}, fmt.Errorf("%w: %s", report.ErrInvalidPeriod, p)
	}
	return p, nil
}
