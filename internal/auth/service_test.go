package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/eavault/backend/internal/models"
)

// ---------------------------------------------------------------------------
// In-memory Store
// ---------------------------------------------------------------------------

type memStore struct {
	mu     sync.Mutex
	admins map[string]*models.Admin
}

func newMemStore() *memStore { return &memStore{admins: make(map[string]*models.Admin)} }

func (m *memStore) Create(_ context.Context, a *models.Admin) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.admins[strings.ToLower(a.Email)]; ok {
		return &pgconn.PgError{Code: "23505", ConstraintName: "admins_email_key"}
	}
	a.ID = uuid.New()
	a.CreatedAt = time.Now()
	cp := *a
	m.admins[strings.ToLower(a.Email)] = &cp
	return nil
}

func (m *memStore) GetByEmail(_ context.Context, email string) (*models.Admin, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.admins[strings.ToLower(email)]
	if !ok {
		return nil, nil
	}
	cp := *a
	return &cp, nil
}

// ---------------------------------------------------------------------------
// Service
// ---------------------------------------------------------------------------

func TestLogin_IssuesVerifiableToken(t *testing.T) {
	store := newMemStore()
	svc := NewService(store, "test-secret")
	ctx := context.Background()

	adm, err := svc.CreateAdmin(ctx, "Owner@Example.com", "correct horse battery", "Owner", models.AdminRoleOwner)
	if err != nil {
		t.Fatalf("CreateAdmin: %v", err)
	}
	if adm.PasswordHash == "correct horse battery" {
		t.Fatal("password stored in clear text")
	}

	token, err := svc.Login(ctx, "owner@example.com", "correct horse battery")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	id, role, err := svc.ValidateToken(ctx, token)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if id != adm.ID || role != models.AdminRoleOwner {
		t.Errorf("claims: got %s/%s, want %s/owner", id, role, adm.ID)
	}
}

func TestLogin_InvalidCredentials(t *testing.T) {
	store := newMemStore()
	svc := NewService(store, "test-secret")
	ctx := context.Background()
	if _, err := svc.CreateAdmin(ctx, "support@example.com", "hunter2hunter2", "", models.AdminRoleSupport); err != nil {
		t.Fatalf("CreateAdmin: %v", err)
	}

	if _, err := svc.Login(ctx, "support@example.com", "wrong-password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("wrong password: got %v", err)
	}
	if _, err := svc.Login(ctx, "nobody@example.com", "hunter2hunter2"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("unknown email: got %v", err)
	}
}

func TestCreateAdmin_Errors(t *testing.T) {
	svc := NewService(newMemStore(), "test-secret")
	ctx := context.Background()

	if _, err := svc.CreateAdmin(ctx, "a@example.com", "longpassword", "", "superuser"); !errors.Is(err, ErrInvalidRole) {
		t.Errorf("expected ErrInvalidRole, got %v", err)
	}
	if _, err := svc.CreateAdmin(ctx, "a@example.com", "longpassword", "", models.AdminRoleSupport); err != nil {
		t.Fatalf("CreateAdmin: %v", err)
	}
	if _, err := svc.CreateAdmin(ctx, "A@example.com", "longpassword", "", models.AdminRoleSupport); !errors.Is(err, ErrDuplicateEmail) {
		t.Errorf("expected ErrDuplicateEmail, got %v", err)
	}
}

func TestEnsureAdmin_Idempotent(t *testing.T) {
	store := newMemStore()
	svc := NewService(store, "test-secret")
	ctx := context.Background()

	created, err := svc.EnsureAdmin(ctx, "boot@example.com", "bootstrap-pass")
	if err != nil || !created {
		t.Fatalf("first EnsureAdmin: created=%v err=%v", created, err)
	}
	created, err = svc.EnsureAdmin(ctx, "boot@example.com", "another-pass")
	if err != nil || created {
		t.Fatalf("second EnsureAdmin: created=%v err=%v", created, err)
	}
	if _, err := svc.Login(ctx, "boot@example.com", "bootstrap-pass"); err != nil {
		t.Errorf("original password should still work: %v", err)
	}
}

func TestValidateToken_Rejects(t *testing.T) {
	svc := NewService(newMemStore(), "test-secret")
	other := NewService(newMemStore(), "other-secret")
	ctx := context.Background()

	foreign, _ := other.issueToken(uuid.New(), models.AdminRoleOwner)
	if _, _, err := svc.ValidateToken(ctx, foreign); err == nil {
		t.Error("token signed with another secret should be rejected")
	}

	svc.now = func() time.Time { return time.Now().Add(-48 * time.Hour) }
	stale, _ := svc.issueToken(uuid.New(), models.AdminRoleOwner)
	svc.now = time.Now
	if _, _, err := svc.ValidateToken(ctx, stale); err == nil {
		t.Error("expired token should be rejected")
	}

	if _, _, err := svc.ValidateToken(ctx, "not-a-jwt"); err == nil {
		t.Error("garbage should be rejected")
	}
}

// ---------------------------------------------------------------------------
// Handler
// ---------------------------------------------------------------------------

func TestHandler_Login(t *testing.T) {
	store := newMemStore()
	svc := NewService(store, "test-secret")
	if _, err := svc.CreateAdmin(context.Background(), "owner@example.com", "correct horse battery", "", models.AdminRoleOwner); err != nil {
		t.Fatalf("CreateAdmin: %v", err)
	}
	h := NewHandler(svc, nil)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"ok", `{"email":"owner@example.com","password":"correct horse battery"}`, http.StatusOK},
		{"wrong password", `{"email":"owner@example.com","password":"nope"}`, http.StatusUnauthorized},
		{"missing password", `{"email":"owner@example.com"}`, http.StatusBadRequest},
		{"bad json", `{`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.Login(rec, httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(tt.body)))
			if rec.Code != tt.want {
				t.Fatalf("expected %d, got %d: %s", tt.want, rec.Code, rec.Body.String())
			}
			if tt.want == http.StatusOK {
				var resp LoginResponse
				if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil || resp.Token == "" {
					t.Errorf("expected token, got %s", rec.Body.String())
				}
			}
		})
	}
}

func TestHandler_CreateAdmin(t *testing.T) {
	h := NewHandler(NewService(newMemStore(), "test-secret"), nil)

	body, _ := json.Marshal(CreateAdminRequest{Email: "support@example.com", Password: "long-enough-pass", Role: "support"})
	rec := httptest.NewRecorder()
	h.CreateAdmin(rec, httptest.NewRequest(http.MethodPost, "/api/v1/admins", bytes.NewReader(body)))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if strings.Contains(rec.Body.String(), "password") {
		t.Error("response must not include the password hash")
	}

	rec = httptest.NewRecorder()
	h.CreateAdmin(rec, httptest.NewRequest(http.MethodPost, "/api/v1/admins", bytes.NewReader(body)))
	if rec.Code != http.StatusConflict {
		t.Errorf("duplicate: expected 409, got %d", rec.Code)
	}

	bad, _ := json.Marshal(CreateAdminRequest{Email: "x@example.com", Password: "short", Role: "support"})
	rec = httptest.NewRecorder()
	h.CreateAdmin(rec, httptest.NewRequest(http.MethodPost, "/api/v1/admins", bytes.NewReader(bad)))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("short password: expected 400, got %d", rec.Code)
	}
}
