package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/okian/fleetreport/internal/adapters/cache"
	"github.com/okian/fleetreport/internal/adapters/delivery"
	"github.com/okian/fleetreport/internal/adapters/http/api"
	"github.com/okian/fleetreport/internal/adapters/render"
	"github.com/okian/fleetreport/internal/adapters/repository"
	service "github.com/okian/fleetreport/internal/app"
	"github.com/okian/fleetreport/internal/config"
	"github.com/okian/fleetreport/internal/domain/model"
	"github.com/okian/fleetreport/internal/domain/quota"
	"github.com/okian/fleetreport/internal/domain/report"
	"github.com/okian/fleetreport/internal/domain/scheduler"
	"github.com/okian/fleetreport/internal/domain/scoring"
	"github.com/okian/fleetreport/pkg/logger"
	"github.com/okian/fleetreport/pkg/metrics"
	"github.com/okian/fleetreport/pkg/ws"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/multierr"
)

// HTTP server timeout constants.
const (
	readTimeout           = 10 * time.Second
	writeTimeout          = 60 * time.Second
	idleTimeout           = 60 * time.Second
	readHeaderTimeout     = 5 * time.Second
	statusMetricsInterval = 15 * time.Second
)

func main() {
	prometheus.Unregister(collectors.NewGoCollector())
	prometheus.Unregister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	if cfg.Debug {
		err = logger.InitDevelopment()
	} else {
		err = logger.Init()
	}
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	log := logger.Get()
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		log.Warn(ctx, "invalid log level, keeping default", logger.String("level", cfg.LogLevel))
	}

	if err := run(ctx, cfg); err != nil {
		log.Error(ctx, "fleetreport exited", logger.Error(err))
		_ = logger.Sync()
		os.Exit(1) //nolint:gocritic // exitAfterDefer
	}
}

// application holds the wired components of a running process.
type application struct {
	svc    *service.Service
	hub    *ws.Hub
	router *gin.Engine
}

// run serves the API until ctx is canceled and then shuts everything down.
func run(ctx context.Context, cfg *config.Config) error {
	log := logger.Get()

	a, err := build(ctx, cfg)
	if err != nil {
		return err
	}

	hubCtx, cancelHub := context.WithCancel(context.Background())
	defer cancelHub()
	go a.hub.Run(hubCtx)

	if err := a.svc.Start(ctx); err != nil {
		return fmt.Errorf("start service: %w", err)
	}
	go startStatusMetricsUpdater(ctx, a.svc)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           a.router,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info(ctx, "starting HTTP server", logger.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		log.Info(ctx, "shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			log.Error(ctx, "HTTP server failed", logger.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	var errs error
	if err := srv.Shutdown(shutdownCtx); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("shutdown http server: %w", err))
	}
	if err := a.svc.Stop(shutdownCtx); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("stop service: %w", err))
	}
	cancelHub()

	log.Info(context.Background(), "fleetreport stopped")
	return errs
}

// build wires every component from cfg without starting any of them.
func build(ctx context.Context, cfg *config.Config) (*application, error) { //nolint:funlen // wiring
	log := logger.Get()

	format, err := model.ParseFormat(cfg.ReportFormat)
	if err != nil {
		return nil, fmt.Errorf("report format: %w", err)
	}

	var closers []service.Option
	var store repository.Source
	if cfg.DatabaseURL != "" {
		pg, err := repository.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := pg.Migrate(ctx); err != nil {
			pg.Close()
			return nil, err
		}
		closers = append(closers, service.WithCloser(func() error {
			pg.Close()
			return nil
		}))
		store = pg
		log.Info(ctx, "using postgres store")
	} else {
		store = repository.NewMemoryStore()
		log.Warn(ctx, "no database_url configured, using empty in-memory store")
	}

	tracker := quota.New(
		quota.WithMaxUnits(cfg.QuotaMaxUnits),
		quota.WithDelays(cfg.QuotaDelayShort, cfg.QuotaDelayMedium, cfg.QuotaDelayLong, cfg.QuotaDelayLongest),
	)
	renderCache := cache.New(
		cache.WithCapacity(cfg.CacheCapacity),
		cache.WithEvictCount(cfg.CacheEvictCount),
		cache.WithTTL(cfg.CacheTTL),
		cache.WithSweepInterval(cfg.CacheSweepInterval),
	)
	client := render.NewClient(cfg.RenderEndpoint,
		render.WithAPIKey(cfg.RenderAPIKey),
		render.WithTimeout(cfg.RenderTimeout),
		render.WithMaxAttempts(cfg.RenderMaxAttempts),
		render.WithBackoff(cfg.RenderBackoff),
	)

	hub := ws.NewHub(log.Named("ws"))

	sched := scheduler.New(tracker, renderCache, client,
		scheduler.WithChunkDivisor(cfg.ChunkDivisor),
		scheduler.WithChunkCooldown(cfg.ChunkCooldown),
		scheduler.WithObserver(service.OutcomeObserver(hub)),
	)

	builder := report.New(store,
		report.WithTargets(scoring.NewTargets(
			scoring.WithIdleMaxPct(cfg.TargetIdleMaxPct),
			scoring.WithCruiseMinPct(cfg.TargetCruiseMinPct),
			scoring.WithEngineBrakeMinPct(cfg.TargetEngineBrakeMinPct),
			scoring.WithCoastingMinPct(cfg.TargetCoastingMinPct),
			scoring.WithOverspeedMaxPct(cfg.TargetOverspeedMaxPct),
		)),
		report.WithFormat(format),
	)

	svcOpts := append([]service.Option{
		service.WithWorkerCount(cfg.WorkerCount),
		service.WithQueueSize(cfg.QueueSize),
		service.WithHistory(cfg.BatchHistory),
		service.WithNotifier(hub),
	}, closers...)

	svc := service.New(service.Deps{
		Builder:   builder,
		Scheduler: sched,
		Quota:     tracker,
		Cache:     renderCache,
		Sink:      newSink(cfg),
	}, svcOpts...)
	hub.SetInitDataProvider(func() any { return svc.Status() })

	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	router := api.NewRouter(api.NewServer(svc, hub))

	return &application{svc: svc, hub: hub, router: router}, nil
}

// newSink mails reports when an SMTP server is configured and writes them
// under the output directory otherwise.
func newSink(cfg *config.Config) scheduler.Sink {
	if cfg.SMTPAddr == "" {
		return delivery.NewFileSink(cfg.OutputDir, logger.Get().Named("file"))
	}
	host, _, err := net.SplitHostPort(cfg.SMTPAddr)
	if err != nil {
		host = cfg.SMTPAddr
	}
	return delivery.NewEmailSink(cfg.SMTPAddr, cfg.SMTPFrom,
		delivery.WithDefaultRecipient(cfg.DefaultRecipient),
		delivery.WithPlainAuth(cfg.SMTPUsername, cfg.SMTPPassword, host),
	)
}

// startStatusMetricsUpdater refreshes the quota gauges so a month rollover
// shows up even when no batch runs.
func startStatusMetricsUpdater(ctx context.Context, svc *service.Service) {
	ticker := time.NewTicker(statusMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st := svc.Status()
			metrics.UpdateQuota(st.UnitsUsed, st.MaxUnits, st.RemainingUnits)
			metrics.UpdateBatchQueueSize(st.QueuedBatches)
		}
	}
}
