// Package app provides application initialization and lifecycle management.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/bissquit/gigpush/internal/config"
	"github.com/bissquit/gigpush/internal/pkg/ctxlog"
	"github.com/bissquit/gigpush/internal/pkg/httputil"
	"github.com/bissquit/gigpush/internal/pkg/metrics"
	"github.com/bissquit/gigpush/internal/pkg/postgres"
	"github.com/bissquit/gigpush/internal/push"
	"github.com/bissquit/gigpush/internal/push/gateway"
	pushpostgres "github.com/bissquit/gigpush/internal/push/postgres"
	"github.com/bissquit/gigpush/internal/version"
	"github.com/bissquit/gigpush/migrations"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// App represents the application instance.
type App struct {
	config        *config.Config
	logger        *slog.Logger
	db            *pgxpool.Pool
	server        *http.Server
	metricsServer *http.Server
	metricsCancel context.CancelFunc
	drainer       *push.Drainer
	scheduler     *push.Scheduler
}

// New creates a new application instance.
func New(cfg *config.Config) (*App, error) {
	logger := initLogger(cfg.Log)
	slog.SetDefault(logger)
	metrics.RecordBuildInfo(version.Version, version.GitCommit)

	if cfg.Database.MigrateOnStart {
		if err := postgres.Migrate(migrations.Files, cfg.Database.URL); err != nil {
			return nil, fmt.Errorf("migrate database: %w", err)
		}
	}

	connectCtx, connectCancel := context.WithTimeout(context.Background(), cfg.Database.ConnectTimeout)
	defer connectCancel()

	db, err := postgres.Connect(connectCtx, postgres.Config{
		URL:             cfg.Database.URL,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnectAttempts: cfg.Database.ConnectAttempts,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	metricsCtx, metricsCancel := context.WithCancel(context.Background())

	app := &App{
		config:        cfg,
		logger:        logger,
		db:            db,
		metricsCancel: metricsCancel,
	}

	repo := pushpostgres.NewRepository(db)

	drainer, err := app.setupDrainer(repo)
	if err != nil {
		db.Close()
		metricsCancel()
		return nil, fmt.Errorf("setup drainer: %w", err)
	}
	app.drainer = drainer

	go app.collectDBMetrics(metricsCtx)
	go app.collectQueueMetrics(metricsCtx, repo)

	if cfg.Drain.ScheduleEnabled {
		app.scheduler = push.NewScheduler(cfg.Drain.Interval, drainer)
	}

	app.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:           app.setupRouter(),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	// Metrics server on separate port
	metricsRouter := chi.NewRouter()
	metricsRouter.Handle("/metrics", promhttp.Handler())

	app.metricsServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.MetricsPort),
		Handler:           metricsRouter,
		ReadTimeout:       5 * time.Second,
		ReadHeaderTimeout: 2 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return app, nil
}

func (a *App) setupDrainer(repo *pushpostgres.Repository) (*push.Drainer, error) {
	gw, err := gateway.NewClient(gateway.Config{
		URL:       a.config.Gateway.URL,
		APIKey:    a.config.Gateway.APIKey,
		Timeout:   a.config.Gateway.Timeout,
		RateLimit: a.config.Gateway.RateLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("create gateway client: %w", err)
	}

	enqueuers := make([]push.Enqueuer, 0, len(a.config.Drain.EnqueueProcedures))
	for _, name := range a.config.Drain.EnqueueProcedures {
		e, err := pushpostgres.NewProcedureEnqueuer(a.db, name)
		if err != nil {
			return nil, fmt.Errorf("create enqueuer: %w", err)
		}
		enqueuers = append(enqueuers, e)
	}

	dispatcher := push.NewDispatcher(push.DispatcherConfig{
		CallTimeout: a.config.Gateway.Timeout,
		Concurrency: a.config.Drain.DispatchConcurrency,
	}, gw, push.NewInvalidator(repo))

	slog.Info("drain configured",
		"batch_size", a.config.Drain.BatchSize,
		"retry_backoff", a.config.Drain.RetryBackoff,
		"max_attempts", a.config.Drain.MaxAttempts,
		"dispatch_concurrency", a.config.Drain.DispatchConcurrency,
		"schedule_enabled", a.config.Drain.ScheduleEnabled,
		"enqueuers", len(enqueuers),
	)

	return push.NewDrainer(push.DrainerConfig{
		BatchSize: a.config.Drain.BatchSize,
		Retry: push.RetryPolicy{
			Backoff:     a.config.Drain.RetryBackoff,
			MaxAttempts: a.config.Drain.MaxAttempts,
		},
		SentRetention: a.config.Drain.SentRetention,
	}, repo, repo, dispatcher, enqueuers...), nil
}

// Run starts the HTTP servers and, when enabled, the drain scheduler.
func (a *App) Run() error {
	if a.scheduler != nil {
		a.scheduler.Start(context.Background())
	}

	go func() {
		a.logger.Info("starting metrics server",
			"host", a.config.Server.Host,
			"port", a.config.Server.MetricsPort,
		)
		if err := a.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.logger.Error("metrics server error", "error", err)
		}
	}()

	a.logger.Info("starting server",
		"host", a.config.Server.Host,
		"port", a.config.Server.Port,
	)

	if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// RunOnce runs a single drain pass without starting any server.
func (a *App) RunOnce(ctx context.Context) (push.Summary, error) {
	ctx = ctxlog.With(ctx, "trigger", "once")
	return a.drainer.Drain(ctx)
}

// Shutdown gracefully shuts down the application.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down servers")

	a.metricsCancel()

	// Let a scheduled pass finish before the pool goes away
	if a.scheduler != nil {
		a.scheduler.Stop()
	}

	var wg sync.WaitGroup
	var errs []error
	var mu sync.Mutex

	wg.Add(2)

	go func() {
		defer wg.Done()
		if err := a.server.Shutdown(ctx); err != nil {
			mu.Lock()
			errs = append(errs, fmt.Errorf("shutdown server: %w", err))
			mu.Unlock()
		}
	}()

	go func() {
		defer wg.Done()
		if err := a.metricsServer.Shutdown(ctx); err != nil {
			mu.Lock()
			errs = append(errs, fmt.Errorf("shutdown metrics server: %w", err))
			mu.Unlock()
		}
	}()

	wg.Wait()

	a.db.Close()

	return errors.Join(errs...)
}

// Close releases resources of an application that was never started.
func (a *App) Close() {
	a.metricsCancel()
	a.db.Close()
}

func (a *App) collectDBMetrics(ctx context.Context) {
	metrics.RecordDBPoolMetrics(a.db)

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			metrics.RecordDBPoolMetrics(a.db)
		case <-ctx.Done():
			return
		}
	}
}

func (a *App) collectQueueMetrics(ctx context.Context, repo push.QueueRepository) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			stats, err := repo.GetQueueStats(ctx)
			if err != nil {
				slog.Error("failed to get queue stats", "error", err)
				continue
			}
			push.RecordQueueStats(stats)
		case <-ctx.Done():
			return
		}
	}
}

// Router returns the HTTP handler for testing.
func (a *App) Router() http.Handler {
	return a.server.Handler
}

// Drainer returns the drain loop. Used in tests to run passes directly.
func (a *App) Drainer() *push.Drainer {
	return a.drainer
}

func (a *App) setupRouter() *chi.Mux {
	r := chi.NewRouter()

	// Metrics middleware must be first to measure full request time
	r.Use(httputil.MetricsMiddleware)
	r.Use(middleware.RequestID)
	r.Use(httputil.RequestLoggerMiddleware(a.logger))
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(a.config.Server.RequestTimeout))

	r.Get("/healthz", a.healthzHandler)
	r.Get("/readyz", a.readyzHandler)
	r.Get("/version", a.versionHandler)

	r.Get("/api/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-yaml")
		http.ServeFile(w, r, "api/openapi/openapi.yaml")
	})

	pushHandler := push.NewHandler(a.drainer, push.NewTriggerAuth(push.TriggerAuthConfig{
		Secret:               a.config.Trigger.Secret,
		SchedulerHeader:      a.config.Trigger.SchedulerHeader,
		AllowUnauthenticated: a.config.Trigger.AllowUnauthenticated,
	}))

	r.Route("/api/v1", func(r chi.Router) {
		pushHandler.RegisterRoutes(r)
	})

	return r
}

func (a *App) healthzHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) readyzHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := a.db.Ping(ctx); err != nil {
		ctxlog.FromContext(r.Context()).Error("readiness check failed", "error", err)
		httputil.Text(w, http.StatusServiceUnavailable, "Database unavailable")
		return
	}

	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) versionHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.JSON(w, http.StatusOK, map[string]string{
		"version":    version.Version,
		"commit":     version.GitCommit,
		"build_date": version.BuildDate,
	})
}

func initLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
