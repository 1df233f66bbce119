package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/okian/resultportal/internal/adapters/http/api"
	"github.com/okian/resultportal/internal/adapters/http/swagger"
	"github.com/okian/resultportal/internal/adapters/repository"
	service "github.com/okian/resultportal/internal/app"
	"github.com/okian/resultportal/internal/auth"
	"github.com/okian/resultportal/internal/config"
	"github.com/okian/resultportal/internal/domain/attendance"
	"github.com/okian/resultportal/pkg/logger"
	"github.com/okian/resultportal/pkg/metrics"
)

// HTTP server timeout constants.
const (
	readTimeout               = 15 * time.Second
	writeTimeout              = 30 * time.Second
	idleTimeout               = 60 * time.Second
	readHeaderTimeout         = 5 * time.Second
	shutdownTimeout           = 30 * time.Second
	systemMetricsInterval     = 10 * time.Second
	serviceMetricsInterval    = 5 * time.Second
	nanosecondsPerMillisecond = 1e6
)

func main() {
	if err := run(); err != nil {
		os.Stderr.WriteString("resultportal: " + err.Error() + "\n")
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration (defaults -> optional file -> env)
	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := logger.Init(logger.WithFormat(cfg.LogFormat)); err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	log := logger.Named("main")
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		log.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	svc, err := newService(cfg, store, logger.Named("service"))
	if err != nil {
		_ = store.Close()
		return err
	}
	if err := svc.Start(ctx); err != nil {
		_ = store.Close()
		return fmt.Errorf("start service: %w", err)
	}

	go startSystemMetricsUpdater(ctx)
	go startServiceMetricsUpdater(ctx, svc)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           newHandler(svc, logger.Named("http")),
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info(ctx, "starting HTTP server", logger.String("addr", cfg.Addr), logger.String("storage", cfg.Storage))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		log.Info(ctx, "shutting down server...")
	case err, ok := <-serveErr:
		if ok {
			runErr = fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(shutdownCtx, "server shutdown failed", logger.Error(err))
	}
	if err := svc.Stop(shutdownCtx); err != nil {
		log.Error(shutdownCtx, "service shutdown failed", logger.Error(err))
	}
	log.Info(shutdownCtx, "server stopped")
	return runErr
}

// openStore selects the storage backend. Postgres schemas are migrated on
// every start.
func openStore(ctx context.Context, cfg *config.Config) (repository.Store, error) {
	switch cfg.Storage {
	case config.StoragePostgres:
		db, err := repository.Open(ctx, cfg.DatabaseURL, cfg.DBMaxOpen)
		if err != nil {
			return nil, err
		}
		store := repository.NewPostgresStore(db)
		if err := store.EnsureSchema(ctx); err != nil {
			_ = store.Close()
			return nil, err
		}
		return store, nil
	case config.StorageMemory:
		return repository.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("%w: unknown storage %q", config.ErrInvalidConfig, cfg.Storage)
	}
}

func newService(cfg *config.Config, store repository.Store, log logger.Logger) (*service.Service, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, fmt.Errorf("timezone: %w", err)
	}
	policy, err := attendance.NewPolicy(
		attendance.WithReference(cfg.Reference()),
		attendance.WithMaxDistanceKm(cfg.AttendanceMaxDistanceKm),
	)
	if err != nil {
		return nil, err
	}
	tokens, err := auth.NewTokens(cfg.JWTSecret, cfg.JWTIssuer, cfg.TokenTTL())
	if err != nil {
		return nil, err
	}
	return service.New(
		service.WithStore(store),
		service.WithPolicy(policy),
		service.WithTokens(tokens),
		service.WithAdmin(service.Admin{Username: cfg.AdminUsername, Name: cfg.AdminName, PasswordHash: cfg.AdminPasswordHash}),
		service.WithWorkerCount(cfg.ImportWorkers),
		service.WithQueueSize(cfg.ImportQueueSize),
		service.WithDedupeSize(cfg.ImportDedupeSize),
		service.WithGeohashPrecision(cfg.AttendanceGeohashPrecision),
		service.WithLocation(loc),
		service.WithLogger(log),
	), nil
}

// newHandler mounts the API and the docs on one mux.
func newHandler(svc *service.Service, log logger.Logger) http.Handler {
	mux := http.NewServeMux()
	swagger.Register(mux)
	api.NewServer(svc, svc, api.WithLogger(log)).Register(mux)
	return mux
}

func startSystemMetricsUpdater(ctx context.Context) {
	ticker := time.NewTicker(systemMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateSystemMetrics()
		}
	}
}

func startServiceMetricsUpdater(ctx context.Context, svc *service.Service) {
	ticker := time.NewTicker(serviceMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// GetStats refreshes the queue gauges as a side effect.
			_ = svc.GetStats(ctx)
		}
	}
}

func updateSystemMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	metrics.UpdateSystemMemoryUsage(m.Alloc)
	metrics.UpdateSystemGoroutineCount(runtime.NumGoroutine())
	if m.NumGC > 0 {
		avgPauseMs := float64(m.PauseTotalNs) / float64(m.NumGC) / nanosecondsPerMillisecond
		metrics.RecordSystemGCPauseTime(avgPauseMs)
	}
}
