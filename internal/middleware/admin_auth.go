package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

type contextKey string

const ctxAdminKey contextKey = "admin"

// TokenValidator checks a bearer token and returns the admin id and role it was issued for.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (uuid.UUID, string, error)
}

// Admin is the authenticated caller of an admin route.
type Admin struct {
	ID   uuid.UUID
	Role string
}

// AdminAuth authenticates requests carrying an admin JWT as a Bearer token
// and puts the admin into the request context.
func AdminAuth(tokens TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := extractBearer(r)
			if raw == "" {
				http.Error(w, `{"error":"missing or malformed Authorization header"}`, http.StatusUnauthorized)
				return
			}

			id, role, err := tokens.ValidateToken(r.Context(), raw)
			if err != nil {
				http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithAdmin(r.Context(), &Admin{ID: id, Role: role})))
		})
	}
}

// RequireRole lets through only admins holding one of roles. It must run after AdminAuth.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			adm := AdminFromCtx(r.Context())
			if adm == nil {
				http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
				return
			}
			for _, role := range roles {
				if adm.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			http.Error(w, `{"error":"forbidden"}`, http.StatusForbidden)
		})
	}
}

// AdminFromCtx returns the authenticated admin or nil.
func AdminFromCtx(ctx context.Context) *Admin {
	adm, _ := ctx.Value(ctxAdminKey).(*Admin)
	return adm
}

// WithAdmin returns a context carrying the given admin.
func WithAdmin(ctx context.Context, adm *Admin) context.Context {
	return context.WithValue(ctx, ctxAdminKey, adm)
}

func extractBearer(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}
