package main

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/eavault/backend/internal/auth"
	"github.com/eavault/backend/internal/config"
	"github.com/eavault/backend/internal/dashboard"
	"github.com/eavault/backend/internal/handlers"
	"github.com/eavault/backend/internal/metrics"
	"github.com/eavault/backend/internal/middleware"
	"github.com/eavault/backend/internal/ratelimit"
	"github.com/eavault/backend/internal/router"
	"github.com/eavault/backend/internal/services"
)

// newRouter builds the services and handlers and mounts them.
// Public: POST /v1/licenses/validate (+ legacy alias), optionally rate limited per key.
// Admin: /api/v1/* behind AdminAuth; login rate limited per IP when Redis is configured.
func newRouter(cfg *config.Config, pool *pgxpool.Pool, repos *repositories, authSvc auth.Service, rdb *redis.Client, logger *slog.Logger) (http.Handler, error) {
	trusted, err := middleware.ParseTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		return nil, err
	}

	activation := services.NewActivationService(pool, repos.licenses, repos.accounts, repos.usage, repos.sessions, logger)
	admin := services.NewLicenseAdmin(repos.licenses, repos.products, repos.accounts, repos.usage, repos.sessions, logger)

	rc := router.Config{
		Auth:           auth.NewHandler(authSvc, logger),
		Licenses:       handlers.NewLicenseHandler(activation, logger),
		Dashboard:      dashboard.NewHandler(admin, repos.products, logger),
		Tokens:         authSvc,
		Metrics:        metrics.Handler(),
		Health:         healthHandler(pool),
		Logger:         logger,
		ValidateWindow: cfg.ValidateRateWindow,
		LoginWindow:    cfg.LoginRateWindow,
		TrustedProxies: trusted,
	}
	// Leave the limiter fields nil (not typed-nil) when disabled.
	if rdb != nil && cfg.ValidateRateLimit > 0 {
		rc.ValidateLimiter = ratelimit.New(rdb, "validate", cfg.ValidateRateLimit, cfg.ValidateRateWindow)
	}
	if rdb != nil && cfg.LoginRateLimit > 0 {
		rc.LoginLimiter = ratelimit.New(rdb, "login", cfg.LoginRateLimit, cfg.LoginRateWindow)
	}
	return router.New(rc), nil
}

func healthHandler(pool *pgxpool.Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := pool.Ping(ctx); err != nil {
			http.Error(w, `{"status":"unavailable"}`, http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}
}
