package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/eavault/backend/internal/metrics"
)

// Allower is a rate limiter keyed by an arbitrary string.
type Allower interface {
	Allow(ctx context.Context, key string) (bool, int, error)
}

// RateLimitRule configures RateLimit.
type RateLimitRule struct {
	Limiter Allower
	// Scope labels the rate_limited_total metric.
	Scope string
	// Key derives the bucket from the request; an empty key skips limiting.
	Key func(*http.Request) string
	// Body is written with 429 when the limit is hit.
	Body       string
	RetryAfter time.Duration
	Logger     *slog.Logger
}

// RateLimit refuses requests over the rule's limit with 429. When the
// limiter itself fails the request is let through and the failure logged.
func RateLimit(rule RateLimitRule) func(http.Handler) http.Handler {
	log := rule.Logger
	if log == nil {
		log = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		if rule.Limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := rule.Key(r)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			ok, count, err := rule.Limiter.Allow(r.Context(), key)
			if err != nil {
				log.Warn("rate limiter unavailable, allowing request", "scope", rule.Scope, "error", err)
				next.ServeHTTP(w, r)
				return
			}
			if !ok {
				metrics.RateLimited.WithLabelValues(rule.Scope).Inc()
				log.Info("rate limited", "scope", rule.Scope, "hits", count)
				if rule.RetryAfter > 0 {
					w.Header().Set("Retry-After", strconv.Itoa(int(rule.RetryAfter.Seconds())))
				}
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(rule.Body))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ByClientIP keys the limiter on the caller's address.
func ByClientIP(r *http.Request) string { return ClientIP(r) }

// MaxPeekBody caps how much of a request body ByLicenseKey buffers. The
// validate handler applies the same limit.
const MaxPeekBody = 64 << 10

// ByLicenseKey keys the limiter on the license_key field of a JSON body.
// The body is restored so the handler can read it again. Bodies over
// MaxPeekBody are not buffered further and get no key.
func ByLicenseKey(r *http.Request) string {
	if r.Body == nil {
		return ""
	}
	bodyBytes, err := io.ReadAll(io.LimitReader(r.Body, MaxPeekBody+1))
	if len(bodyBytes) > MaxPeekBody {
		r.Body = readCloser{io.MultiReader(bytes.NewReader(bodyBytes), r.Body), r.Body}
		return ""
	}
	r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(bodyBytes))
	if err != nil {
		return ""
	}

	var peek struct {
		LicenseKey string `json:"license_key"`
	}
	if err := json.Unmarshal(bodyBytes, &peek); err != nil {
		return ""
	}
	return strings.TrimSpace(peek.LicenseKey)
}

type readCloser struct {
	io.Reader
	io.Closer
}
