// Package config loads service settings from the environment.
//
// A .env file in the working directory is read first when present; real
// environment variables always win over it.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const devJWTSecret = "supersecretmvp"

// Config holds every setting the API process reads at startup.
type Config struct {
	Port           string   `envconfig:"PORT" default:"8080"`
	DatabaseURL    string   `envconfig:"DATABASE_URL" required:"true"`
	JWTSecret      string   `envconfig:"JWT_SECRET"`
	AllowedOrigins []string `envconfig:"ALLOWED_ORIGINS" default:"http://localhost:3000"`
	LogLevel       string   `envconfig:"LOG_LEVEL" default:"info"`
	RunMigrations  bool     `envconfig:"RUN_MIGRATIONS" default:"true"`
	TrustedProxies []string `envconfig:"TRUSTED_PROXIES"`

	RedisURL               string        `envconfig:"REDIS_URL"`
	ValidateRateLimit      int           `envconfig:"VALIDATE_RATE_LIMIT" default:"0"`
	ValidateRateWindow     time.Duration `envconfig:"VALIDATE_RATE_WINDOW" default:"1m"`
	LoginRateLimit         int           `envconfig:"LOGIN_RATE_LIMIT" default:"10"`
	LoginRateWindow        time.Duration `envconfig:"LOGIN_RATE_WINDOW" default:"15m"`
	ExpirySweepInterval    time.Duration `envconfig:"EXPIRY_SWEEP_INTERVAL" default:"5m"`
	SessionStaleAfter      time.Duration `envconfig:"SESSION_STALE_AFTER" default:"10m"`
	ExpiryNoticeDays       int           `envconfig:"EXPIRY_NOTICE_DAYS" default:"7"`
	AdminBootstrapEmail    string        `envconfig:"ADMIN_BOOTSTRAP_EMAIL"`
	AdminBootstrapPassword string        `envconfig:"ADMIN_BOOTSTRAP_PASSWORD"`
}

// Load reads an optional .env file and then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("process env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return errors.New("DATABASE_URL is required")
	}
	if c.JWTSecret == "" {
		c.JWTSecret = devJWTSecret
	}
	if c.ValidateRateLimit < 0 || c.LoginRateLimit < 0 {
		return errors.New("rate limits must not be negative")
	}
	if c.ValidateRateLimit > 0 && c.ValidateRateWindow <= 0 {
		return errors.New("VALIDATE_RATE_WINDOW must be positive")
	}
	if c.ExpirySweepInterval <= 0 {
		return errors.New("EXPIRY_SWEEP_INTERVAL must be positive")
	}
	if c.SessionStaleAfter <= 0 {
		return errors.New("SESSION_STALE_AFTER must be positive")
	}
	if (c.AdminBootstrapEmail == "") != (c.AdminBootstrapPassword == "") {
		return errors.New("ADMIN_BOOTSTRAP_EMAIL and ADMIN_BOOTSTRAP_PASSWORD must be set together")
	}
	return nil
}

// UsingDevSecret reports whether tokens are signed with the built-in development secret.
func (c *Config) UsingDevSecret() bool { return c.JWTSecret == devJWTSecret }

// SlogLevel maps LOG_LEVEL to a slog level; unknown values mean info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
