package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/effortlog/effortlog/internal/adapter/catalogfile"
	"github.com/effortlog/effortlog/internal/adapter/failover"
	"github.com/effortlog/effortlog/internal/adapter/flatfile"
	elhttp "github.com/effortlog/effortlog/internal/adapter/http"
	elnats "github.com/effortlog/effortlog/internal/adapter/nats"
	elotel "github.com/effortlog/effortlog/internal/adapter/otel"
	"github.com/effortlog/effortlog/internal/adapter/postgres"
	"github.com/effortlog/effortlog/internal/adapter/ristretto"
	"github.com/effortlog/effortlog/internal/config"
	"github.com/effortlog/effortlog/internal/lifecycle"
	"github.com/effortlog/effortlog/internal/logger"
	"github.com/effortlog/effortlog/internal/middleware"
	"github.com/effortlog/effortlog/internal/port/store"
	"github.com/effortlog/effortlog/internal/resilience"
	"github.com/effortlog/effortlog/internal/service"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		if err := runMigrate(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, logCloser := logger.New(cfg.Logging)
	slog.SetDefault(log)
	defer logCloser.Close()

	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"backend", cfg.Storage.Backend,
		"strict", cfg.Storage.Strict,
		"log_level", cfg.Logging.Level,
	)

	ctx := context.Background()

	// --- Telemetry ---
	if cfg.Telemetry.Enabled {
		shutdown, err := elotel.Setup(ctx, cfg.Logging.Service, cfg.Telemetry.OTLPEndpoint)
		if err != nil {
			return fmt.Errorf("telemetry: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				slog.Error("telemetry shutdown", "error", err)
			}
		}()
	}

	// --- Storage ---
	engine := lifecycle.New()

	flat := flatfile.New(cfg.FlatFile.Path, log,
		flatfile.WithEngine(engine),
		flatfile.WithRetry(cfg.FlatFile.MaxAttempts, cfg.FlatFile.RetryBase))

	var st store.Store
	switch cfg.Storage.Backend {
	case "postgres":
		pool, err := postgres.NewPool(ctx, cfg.Postgres)
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		defer pool.Close()
		slog.Info("postgres connected")

		if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
			return fmt.Errorf("migrations: %w", err)
		}
		slog.Info("migrations applied")

		breaker := resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout)
		pg := postgres.NewStoreWithEngine(pool, engine)
		st = failover.New(pg, flat, cfg.Storage.Strict, breaker, log)
	case "flatfile":
		st = flat
	default:
		return fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}

	// --- Cache ---
	instCache, err := ristretto.New(cfg.Cache.MaxSizeMB << 20)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	defer instCache.Close()

	// --- Service ---
	opts := []service.Option{
		service.WithCacheTTL(cfg.Cache.TTL),
		service.WithCatalog(catalogfile.New(cfg.Catalog.Path)),
	}

	if cfg.NATS.URL != "" {
		queue, err := elnats.Connect(ctx, cfg.NATS.URL)
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		defer func() { _ = queue.Drain() }()
		opts = append(opts, service.WithQueue(queue))
		slog.Info("nats connected", "url", cfg.NATS.URL)
	}

	if cfg.Telemetry.Enabled {
		metrics, err := elotel.NewMetrics()
		if err != nil {
			return fmt.Errorf("metrics: %w", err)
		}
		opts = append(opts, service.WithMetrics(metrics))
	}

	instanceSvc := service.NewInstanceService(st, instCache, log, opts...)

	// --- HTTP ---
	handlers := elhttp.NewHandlers(instanceSvc)

	r := chi.NewRouter()
	r.Use(elhttp.CORS(cfg.Server.CORSOrigin))
	r.Use(elhttp.SecurityHeaders)
	r.Use(middleware.RequestID)
	r.Use(elhttp.Logger)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(30 * time.Second))
	if cfg.Telemetry.Enabled {
		r.Use(elotel.HTTPMiddleware(cfg.Logging.Service))
	}

	elhttp.MountRoutes(r, handlers)

	addr := ":" + cfg.Server.Port

	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		slog.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
		}
	}()

	<-done
	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}
