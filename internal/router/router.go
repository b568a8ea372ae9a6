package router

import (
	"log/slog"
	"net/http"
	"net/netip"
	"time"

	"github.com/eavault/backend/internal/auth"
	"github.com/eavault/backend/internal/dashboard"
	"github.com/eavault/backend/internal/handlers"
	"github.com/eavault/backend/internal/middleware"
	"github.com/eavault/backend/internal/models"
)

const (
	tooManyValidations = `{"valid":false,"message":"Too many requests"}`
	tooManyLogins      = `{"error":"too many login attempts"}`
)

// Config wires the HTTP surface. Limiters may be nil to disable limiting.
type Config struct {
	Auth      *auth.Handler
	Licenses  *handlers.LicenseHandler
	Dashboard *dashboard.Handler
	Tokens    middleware.TokenValidator
	Metrics   http.Handler
	Health    http.HandlerFunc
	Logger    *slog.Logger

	ValidateLimiter middleware.Allower
	ValidateWindow  time.Duration
	LoginLimiter    middleware.Allower
	LoginWindow     time.Duration

	// TrustedProxies may set X-Forwarded-For / X-Real-IP. Empty means the
	// connection address is always the client.
	TrustedProxies []netip.Prefix
}

// New returns an http.Handler serving the public validation endpoint,
// the admin API under /api/v1 and /metrics.
func New(c Config) http.Handler {
	mux := http.NewServeMux()

	validateLimit := middleware.RateLimit(middleware.RateLimitRule{
		Limiter:    c.ValidateLimiter,
		Scope:      "validate",
		Key:        middleware.ByLicenseKey,
		Body:       tooManyValidations,
		RetryAfter: c.ValidateWindow,
		Logger:     c.Logger,
	})
	validate := validateLimit(methodPOST(c.Licenses.Validate))
	mux.Handle("/v1/licenses/validate", validate)
	mux.Handle("/api/validate-license", validate)

	if c.Metrics != nil {
		mux.Handle("/metrics", c.Metrics)
	}
	if c.Health != nil {
		mux.HandleFunc("/health", methodGET(c.Health))
	}

	base := "/api/v1"
	loginLimit := middleware.RateLimit(middleware.RateLimitRule{
		Limiter:    c.LoginLimiter,
		Scope:      "login",
		Key:        middleware.ByClientIP,
		Body:       tooManyLogins,
		RetryAfter: c.LoginWindow,
		Logger:     c.Logger,
	})
	mux.Handle(base+"/auth/login", loginLimit(methodPOST(c.Auth.Login)))

	admin := middleware.AdminAuth(c.Tokens)
	owner := func(h http.Handler) http.Handler {
		return admin(middleware.RequireRole(models.AdminRoleOwner)(h))
	}
	d := c.Dashboard

	mux.Handle(base+"/admins", owner(methodPOST(c.Auth.CreateAdmin)))

	mux.Handle(base+"/products", admin(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			d.ListProducts(w, r)
		case http.MethodPost:
			middleware.RequireRole(models.AdminRoleOwner)(http.HandlerFunc(d.CreateProduct)).ServeHTTP(w, r)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})))
	mux.Handle(base+"/products/{id}", owner(methodPATCH(d.UpdateProduct)))
	mux.Handle(base+"/products/{id}/extend", owner(methodPOST(d.ExtendProduct)))

	mux.Handle(base+"/licenses", admin(methodPOST(d.IssueLicense)))
	mux.Handle(base+"/licenses/{key}", admin(methodGET(d.GetLicense)))
	mux.Handle(base+"/licenses/{id}/usage", admin(methodGET(d.ListUsage)))
	mux.Handle(base+"/licenses/{id}/pause", admin(methodPOST(d.PauseLicense())))
	mux.Handle(base+"/licenses/{id}/suspend", admin(methodPOST(d.SuspendLicense())))
	mux.Handle(base+"/licenses/{id}/resume", admin(methodPOST(d.ResumeLicense())))
	mux.Handle(base+"/licenses/{id}/extend", admin(methodPOST(d.ExtendLicense)))
	mux.Handle(base+"/licenses/{id}/revoke", owner(methodPOST(d.RevokeLicense())))

	mux.Handle(base+"/accounts/{id}/deactivate", admin(methodPOST(d.DeactivateAccount)))
	mux.Handle(base+"/accounts/{id}/reactivate", admin(methodPOST(d.ReactivateAccount)))
	mux.Handle(base+"/sessions/online", admin(methodGET(d.OnlineSessions)))

	return middleware.RealIP(c.TrustedProxies)(mux)
}

func methodGET(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h(w, r)
	}
}

func methodPOST(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h(w, r)
	}
}

func methodPATCH(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h(w, r)
	}
}
