// Package main is the entrypoint for the querydesk API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/kwatson/querydesk/internal/api"
	"github.com/kwatson/querydesk/internal/api/handler"
	"github.com/kwatson/querydesk/internal/cache"
	"github.com/kwatson/querydesk/internal/config"
	"github.com/kwatson/querydesk/internal/job"
	"github.com/kwatson/querydesk/internal/provider/anythingllm"
	"github.com/kwatson/querydesk/internal/question"
	"github.com/kwatson/querydesk/internal/store"
)

const shutdownTimeout = 30 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config — fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "env", cfg.Server.Env, "max_active_jobs", cfg.Jobs.MaxActiveJobs)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect to database
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	slog.Info("database connected")

	// 3. Run migrations
	if err := store.RunMigrations(cfg.Database.URL, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database migrations applied")

	// 4. Status cache: Redis when configured, always-miss otherwise
	var statusCache cache.Cache = cache.NewNoop()
	if cfg.Redis.URL != "" {
		redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("create redis cache: %w", err)
		}
		defer redisCache.Close()

		if err := redisCache.Ping(ctx); err != nil {
			return fmt.Errorf("ping redis: %w", err)
		}
		statusCache = redisCache
		slog.Info("redis connected")
	} else {
		slog.Info("no REDIS_URL set, status cache disabled")
	}

	// 5. Upstream provider
	chat := anythingllm.NewClient(cfg.Provider)
	slog.Info("provider initialized", "provider", chat.Name())

	// 6. Core services
	pgStore := store.NewPostgresStore(pool)
	admission := job.NewAdmissionController(pgStore, cfg.Jobs.MaxActiveJobs, cfg.Jobs.TypeLimits)
	jobs := job.NewManager(pgStore, statusCache, admission, cfg.Jobs.StatusCacheTTL)
	questions := question.NewService(jobs, chat,
		cfg.Jobs.MaxQuestionsPerRequest, cfg.Jobs.MaxConcurrentQuestions, cfg.Jobs.DefaultQuestionTimeout)

	// 7. Retention sweep
	sweeper := cron.New()
	if _, err := sweeper.AddFunc(cfg.Jobs.CleanupSchedule, func() {
		sweepCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if _, err := jobs.Cleanup(sweepCtx, cfg.Jobs.Retention); err != nil {
			slog.Error("cleanup sweep failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("schedule cleanup: %w", err)
	}
	sweeper.Start()
	defer sweeper.Stop()

	// 8. Build router with dependencies
	deps := api.Dependencies{
		HealthHandler:   handler.NewHealthHandler(pgStore, statusCache),
		SubmitQuestions: handler.NewSubmitQuestionsHandler(questions),
		ListJobs:        handler.NewListJobsHandler(jobs),
		GetJob:          handler.NewGetJobHandler(jobs),
		JobStatus:       handler.NewJobStatusHandler(jobs),
		CancelJob:       handler.NewCancelJobHandler(jobs),
		ExportResults:   handler.NewExportResultsHandler(jobs),
		StatsHandler:    handler.NewStatsHandler(jobs),
	}
	router := api.NewRouter(deps)

	// 9. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}
