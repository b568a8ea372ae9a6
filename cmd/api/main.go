package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/rs/cors"

	"github.com/eavault/backend/internal/auth"
	"github.com/eavault/backend/internal/config"
	"github.com/eavault/backend/internal/database"
	"github.com/eavault/backend/internal/maintenance"
	"github.com/eavault/backend/internal/repository"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)
	if cfg.UsingDevSecret() {
		slog.Warn("JWT_SECRET not set, using the development secret")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.RunMigrations {
		version, err := database.Migrate(cfg.DatabaseURL)
		if err != nil {
			slog.Error("Schema migration failed", "error", err)
			os.Exit(1)
		}
		slog.Info("Schema migrations applied", "version", version)
	}

	pool, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("Cannot reach PostgreSQL", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	slog.Info("Connected to PostgreSQL database successfully!")

	// River migrations
	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		slog.Error("Failed to create River migrator", "error", err)
		os.Exit(1)
	}
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		slog.Error("River migrate up failed", "error", err)
		os.Exit(1)
	}
	slog.Info("River migrations applied")

	repos := newRepositories(pool)

	// Maintenance jobs
	schedule := maintenance.Config{
		SweepInterval:     cfg.ExpirySweepInterval,
		SessionStaleAfter: cfg.SessionStaleAfter,
		NoticeDays:        cfg.ExpiryNoticeDays,
	}
	workers := river.NewWorkers()
	maintenance.AddWorkers(workers, maintenance.Stores{
		Licenses: repos.licenses,
		Sessions: repos.sessions,
		Notices:  repos.notices,
	}, schedule, logger)

	riverClient, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: 2},
		},
		Workers:      workers,
		PeriodicJobs: maintenance.PeriodicJobs(schedule),
		Logger:       logger,
	})
	if err != nil {
		slog.Error("Failed to create River client", "error", err)
		os.Exit(1)
	}

	// Auth
	authSvc := auth.NewService(auth.NewRepository(pool), cfg.JWTSecret)
	if cfg.AdminBootstrapEmail != "" {
		created, err := authSvc.EnsureAdmin(ctx, cfg.AdminBootstrapEmail, cfg.AdminBootstrapPassword)
		if err != nil {
			slog.Error("Bootstrap admin failed", "error", err)
			os.Exit(1)
		}
		if created {
			slog.Info("Bootstrap admin created", "email", cfg.AdminBootstrapEmail)
		}
	}

	rdb := connectRedis(ctx, cfg.RedisURL)
	if rdb != nil {
		defer rdb.Close()
	}

	handler, err := newRouter(cfg, pool, repos, authSvc, rdb, logger)
	if err != nil {
		slog.Error("Invalid TRUSTED_PROXIES", "error", err)
		os.Exit(1)
	}

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}).Handler(handler)

	// Start River client (runs the periodic sweeps)
	if err := riverClient.Start(ctx); err != nil {
		slog.Error("River client failed to start", "error", err)
		os.Exit(1)
	}

	serverAddr := "0.0.0.0:" + cfg.Port
	srv := &http.Server{
		Addr:              serverAddr,
		Handler:           corsHandler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	go func() {
		slog.Info("Starting HTTP server", "addr", serverAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP shutdown", "error", err)
	}
	if err := riverClient.Stop(shutdownCtx); err != nil {
		slog.Error("River shutdown", "error", err)
	}
}

// connectRedis returns nil when REDIS_URL is unset. An unreachable server is
// logged but kept: the rate limiters fail open until it comes back.
func connectRedis(ctx context.Context, url string) *redis.Client {
	if url == "" {
		slog.Info("REDIS_URL not set, rate limiting disabled")
		return nil
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		slog.Error("Invalid REDIS_URL, rate limiting disabled", "error", err)
		return nil
	}
	rdb := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		slog.Warn("Redis unreachable, rate limiters will fail open", "error", err)
	}
	return rdb
}

type repositories struct {
	licenses *repository.LicenseRepo
	products *repository.ProductRepo
	accounts *repository.BoundAccountRepo
	usage    *repository.UsageLogRepo
	sessions *repository.SessionRepo
	notices  *repository.NoticeRepo
}

func newRepositories(pool *pgxpool.Pool) *repositories {
	return &repositories{
		licenses: repository.NewLicenseRepo(pool),
		products: repository.NewProductRepo(pool),
		accounts: repository.NewBoundAccountRepo(pool),
		usage:    repository.NewUsageLogRepo(pool),
		sessions: repository.NewSessionRepo(pool),
		notices:  repository.NewNoticeRepo(pool),
	}
}
