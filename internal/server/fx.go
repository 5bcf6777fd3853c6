// Package server builds the syncboard backend and owns its lifecycle.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/syncboard/internal/api"
	"github.com/JakeFAU/syncboard/internal/clock/system"
	"github.com/JakeFAU/syncboard/internal/config"
	"github.com/JakeFAU/syncboard/internal/correlation"
	"github.com/JakeFAU/syncboard/internal/dashboard"
	"github.com/JakeFAU/syncboard/internal/health"
	"github.com/JakeFAU/syncboard/internal/id/uuid"
	"github.com/JakeFAU/syncboard/internal/logging"
	"github.com/JakeFAU/syncboard/internal/metrics"
	"github.com/JakeFAU/syncboard/internal/progress"
	progresssinks "github.com/JakeFAU/syncboard/internal/progress/sinks"
	"github.com/JakeFAU/syncboard/internal/scheduler"
	"github.com/JakeFAU/syncboard/internal/storage/memory"
	pgstore "github.com/JakeFAU/syncboard/internal/storage/postgres"
	redisstore "github.com/JakeFAU/syncboard/internal/storage/redis"
	"github.com/JakeFAU/syncboard/internal/store"
	"github.com/JakeFAU/syncboard/internal/telemetry"
)

// Background task names.
const (
	TaskCorrelation = "correlation-refresh"
	TaskProgress    = "progress-poll"
	TaskHealth      = "health-check"
)

// App contains the application's dependencies.
type App struct {
	cfg    *config.Config
	logger *zap.Logger
	clock  *system.Clock

	facts      store.FactStore
	pgFacts    *pgstore.FactStore
	memFacts   *memory.FactStore
	cache      store.ProgressCache
	redisCache *redisstore.ProgressCache
	memCache   *memory.ProgressCache
	jaeger     *telemetry.JaegerSource

	links       *correlation.Map
	progressHub *progress.Hub
	activity    *progresssinks.ActivitySink
	poller      *progress.Poller
	probe       *health.Probe
	dash        *dashboard.Service
	sched       *scheduler.Scheduler
	apiServer   *api.Server

	tracerShutdown func(context.Context) error
}

// Options overrides process-wide collaborators.
type Options struct {
	// Logger replaces the logger built from cfg.Logging.
	Logger *zap.Logger
	// Registerer receives the transfer collectors (default prometheus.DefaultRegisterer).
	Registerer prometheus.Registerer
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	return BuildWithOptions(ctx, cfg, Options{})
}

// BuildWithOptions is Build with overridable collaborators.
func BuildWithOptions(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	logger := opts.Logger
	if logger == nil {
		var err error
		logger, err = logging.New(cfg.Logging.Development, cfg.Logging.Level)
		if err != nil {
			return nil, fmt.Errorf("logger init failed: %w", err)
		}
		zap.ReplaceGlobals(logger)
	}
	metrics.Init()

	app := &App{cfg: cfg, logger: logger, clock: system.New()}
	logger.Info("building application dependencies",
		zap.Int("server_port", cfg.Server.Port),
		zap.String("database_driver", cfg.Database.Driver),
		zap.String("cache_driver", cfg.Cache.Driver),
	)

	tp, err := telemetry.InitTracerProvider(ctx, telemetry.TracingConfig{
		ServiceName: cfg.Tracing.ServiceName,
		Endpoint:    cfg.Tracing.Endpoint,
		Insecure:    cfg.Tracing.Insecure,
		SampleRatio: cfg.Tracing.SampleRatio,
	})
	if err != nil {
		return nil, fmt.Errorf("tracer init failed: %w", err)
	}
	app.tracerShutdown = tp.Shutdown

	if err := app.setupFactStore(ctx); err != nil {
		app.closeInfrastructure(ctx)
		return nil, err
	}
	if err := app.setupCache(); err != nil {
		app.closeInfrastructure(ctx)
		return nil, err
	}
	app.setupTelemetry()

	if err := app.setupProgress(ctx, opts.Registerer); err != nil {
		app.closeInfrastructure(ctx)
		return nil, err
	}
	if err := app.setupDashboard(); err != nil {
		app.closeInfrastructure(ctx)
		return nil, err
	}
	if err := app.setupScheduler(); err != nil {
		app.closeInfrastructure(ctx)
		return nil, err
	}

	app.apiServer = api.NewServer(app.dash, app.probe, logger.Named("api"), api.Options{
		RequestTimeout: cfg.Server.RequestTimeout,
		HandlerTimeout: cfg.API.HandlerTimeout,
	})
	return app, nil
}

func (a *App) setupFactStore(ctx context.Context) error {
	switch a.cfg.Database.Driver {
	case config.DriverMemory:
		a.logger.Warn("using in-memory fact store; the dashboard will show no engine data")
		a.memFacts = memory.NewFactStore()
		a.facts = a.memFacts
	default:
		pg, err := pgstore.NewFactStore(ctx, pgstore.FactStoreConfig{
			DSN:             a.cfg.Database.DSN,
			MaxConns:        a.cfg.Database.MaxConns,
			MinConns:        a.cfg.Database.MinConns,
			MaxConnLifetime: a.cfg.Database.MaxConnLifetime,
			QueryTimeout:    a.cfg.Database.QueryTimeout,
		})
		if err != nil {
			return fmt.Errorf("fact store init failed: %w", err)
		}
		a.logger.Info("postgres fact store initialized",
			zap.Int32("max_conns", a.cfg.Database.MaxConns),
			zap.Duration("query_timeout", a.cfg.Database.QueryTimeout),
		)
		a.pgFacts = pg
		a.facts = pg
	}
	return nil
}

// setupCache leaves a.cache nil when the cache is disabled; the progress
// poller then runs against an always-empty cache.
func (a *App) setupCache() error {
	switch a.cfg.Cache.Driver {
	case config.DriverDisabled:
		a.logger.Info("progress cache disabled")
		a.memCache = memory.NewProgressCache()
	case config.DriverMemory:
		a.logger.Info("using in-memory progress cache")
		a.memCache = memory.NewProgressCache()
		a.cache = a.memCache
	default:
		rc, err := redisstore.NewProgressCache(redisstore.ProgressCacheConfig{
			Addr:      a.cfg.Cache.Addr,
			Password:  a.cfg.Cache.Password,
			DB:        a.cfg.Cache.DB,
			KeyPrefix: a.cfg.Cache.KeyPrefix,
			Timeout:   a.cfg.Cache.Timeout,
			ScanCount: a.cfg.Cache.ScanCount,
		})
		if err != nil {
			return fmt.Errorf("progress cache init failed: %w", err)
		}
		a.logger.Info("redis progress cache initialized",
			zap.String("addr", a.cfg.Cache.Addr),
			zap.String("key_prefix", a.cfg.Cache.KeyPrefix),
		)
		a.redisCache = rc
		a.cache = rc
	}
	return nil
}

func (a *App) setupTelemetry() {
	src, err := telemetry.NewJaegerSource(telemetry.JaegerConfig{
		BaseURL:  a.cfg.Telemetry.BaseURL,
		Service:  a.cfg.Telemetry.Service,
		Timeout:  a.cfg.Telemetry.Timeout,
		Lookback: a.cfg.Telemetry.Lookback,
	})
	switch {
	case errors.Is(err, telemetry.ErrUnconfigured):
		a.logger.Info("telemetry log source disabled")
	case err != nil:
		a.logger.Warn("telemetry log source init failed", zap.Error(err))
	default:
		a.logger.Info("telemetry log source initialized", zap.String("base_url", a.cfg.Telemetry.BaseURL))
		a.jaeger = src
	}
}

func (a *App) setupProgress(ctx context.Context, reg prometheus.Registerer) error {
	a.activity = progresssinks.NewActivitySink(a.cfg.Progress.ActivityCapacity, uuid.New())
	sinkList := []progress.Sink{a.activity}

	promSink, err := progresssinks.NewPrometheusSink(reg)
	if err != nil {
		return fmt.Errorf("progress metrics sink init failed: %w", err)
	}
	sinkList = append(sinkList, promSink)

	if a.cfg.Progress.LogEvents {
		sinkList = append(sinkList, progresssinks.NewLogSink(a.logger.Named("progress_log")))
		a.logger.Debug("Added progress log sink")
	}

	hubCfg := progress.HubConfig{
		QueueDepth:    a.cfg.Progress.BufferSize,
		FlushEvents:   a.cfg.Progress.MaxBatchEvents,
		FlushInterval: a.cfg.Progress.MaxBatchWait,
		SinkTimeout:   a.cfg.Progress.SinkTimeout,
		BaseContext:   context.WithoutCancel(ctx),
		Logger:        a.logger.Named("progress_hub"),
	}
	a.progressHub = progress.NewHub(hubCfg, sinkList...)
	a.logger.Info("progress hub initialized",
		zap.Int("queue_depth", hubCfg.QueueDepth),
		zap.Int("flush_events", hubCfg.FlushEvents),
		zap.Duration("flush_interval", hubCfg.FlushInterval),
		zap.Duration("sink_timeout", hubCfg.SinkTimeout),
	)

	a.links, err = correlation.NewMap(a.facts, a.clock, a.logger.Named("correlation"))
	if err != nil {
		return fmt.Errorf("correlation map init failed: %w", err)
	}

	var cache store.ProgressCache = a.memCache
	if a.cache != nil {
		cache = a.cache
	}
	a.poller, err = progress.NewPoller(progress.PollerConfig{
		Cache:        cache,
		Resolver:     a.links,
		Emitter:      a.progressHub,
		Clock:        a.clock,
		Logger:       a.logger.Named("progress"),
		ProgressStep: a.cfg.Progress.Step,
	})
	if err != nil {
		return fmt.Errorf("progress poller init failed: %w", err)
	}
	return nil
}

func (a *App) setupDashboard() error {
	probeCfg := health.Config{
		DB:         a.facts,
		Descriptor: store.SchemaV1,
		Clock:      a.clock,
		Logger:     a.logger.Named("health"),
	}
	dashCfg := dashboard.Config{
		Store:      a.facts,
		Progress:   a.poller,
		Activity:   a.activity,
		Clock:      a.clock,
		Logger:     a.logger.Named("dashboard"),
		User:       a.cfg.API.User,
		Node:       a.cfg.API.Node,
		Quality:    a.cfg.API.Quality,
		TrackLimit: a.cfg.API.TrackLimit,
		AllowRetry: a.cfg.API.AllowRetry,
	}
	if a.cache != nil {
		probeCfg.Cache = a.cache
		dashCfg.Cache = a.cache
	}
	if a.jaeger != nil {
		probeCfg.Telemetry = a.jaeger
		dashCfg.Telemetry = a.jaeger
	}

	var err error
	a.probe, err = health.NewProbe(probeCfg)
	if err != nil {
		return fmt.Errorf("health probe init failed: %w", err)
	}
	a.dash, err = dashboard.NewService(dashCfg)
	if err != nil {
		return fmt.Errorf("dashboard init failed: %w", err)
	}
	return nil
}

func (a *App) setupScheduler() error {
	a.sched = scheduler.New(a.logger.Named("scheduler"))
	tasks := []scheduler.Task{
		{
			Name:       TaskCorrelation,
			Interval:   a.cfg.Scheduler.CorrelationInterval,
			Timeout:    a.cfg.Scheduler.TaskTimeout,
			RunOnStart: true,
			Run:        a.links.Refresh,
		},
		{
			Name:       TaskProgress,
			Interval:   a.cfg.Scheduler.ProgressInterval,
			Timeout:    a.cfg.Scheduler.TaskTimeout,
			RunOnStart: true,
			Run: func(ctx context.Context) error {
				_, err := a.poller.Poll(ctx)
				return err
			},
		},
		{
			Name:       TaskHealth,
			Interval:   a.cfg.Scheduler.HealthInterval,
			Timeout:    a.cfg.Scheduler.TaskTimeout,
			RunOnStart: true,
			Run: func(ctx context.Context) error {
				if snap := a.probe.Check(ctx); snap.Error != "" {
					return fmt.Errorf("dependency check: %s", snap.Error)
				}
				return nil
			},
		},
	}
	for _, task := range tasks {
		if err := a.sched.Add(task); err != nil {
			return fmt.Errorf("schedule %s: %w", task.Name, err)
		}
	}
	return nil
}

// Handler exposes the HTTP surface.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Run starts the application and blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("application started")
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a.sched.Start()
	a.logger.Info("scheduler started",
		zap.Duration("correlation_interval", a.cfg.Scheduler.CorrelationInterval),
		zap.Duration("progress_interval", a.cfg.Scheduler.ProgressInterval),
		zap.Duration("health_interval", a.cfg.Scheduler.HealthInterval),
	)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	timeout := a.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}

	return a.Close(shutdownCtx)
}

// Close gracefully shuts down the application.
func (a *App) Close(ctx context.Context) error {
	if a.sched != nil {
		if err := a.sched.Stop(ctx); err != nil {
			a.logger.Warn("scheduler stop failed", zap.Error(err))
		}
	}
	a.closeInfrastructure(ctx)
	a.closeObservability(ctx)
	a.logger.Info("shutdown complete")
	return nil
}

func (a *App) closeInfrastructure(ctx context.Context) {
	if a.progressHub != nil {
		if err := a.progressHub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
	}
	if a.redisCache != nil {
		if err := a.redisCache.Close(); err != nil {
			a.logger.Warn("redis client close failed", zap.Error(err))
		}
	}
	if a.pgFacts != nil {
		a.pgFacts.Close()
	}
}

func (a *App) closeObservability(ctx context.Context) {
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	if a.tracerShutdown != nil {
		if err := a.tracerShutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
}
