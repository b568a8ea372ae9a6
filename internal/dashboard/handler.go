package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/eavault/backend/internal/models"
	"github.com/eavault/backend/internal/repository"
	"github.com/eavault/backend/internal/services"
)

// LicenseManager is the operator-side license lifecycle.
type LicenseManager interface {
	Issue(ctx context.Context, req services.IssueRequest) (*models.License, error)
	Get(ctx context.Context, key string) (*services.LicenseDetail, error)
	ListUsage(ctx context.Context, licenseID uuid.UUID, limit int) ([]*models.UsageLog, error)
	Pause(ctx context.Context, id uuid.UUID) (*models.License, error)
	Suspend(ctx context.Context, id uuid.UUID) (*models.License, error)
	Resume(ctx context.Context, id uuid.UUID) (*models.License, error)
	Revoke(ctx context.Context, id uuid.UUID) (*models.License, error)
	Extend(ctx context.Context, id uuid.UUID, days int) (*models.License, error)
	ExtendProduct(ctx context.Context, productID uuid.UUID, days int) (int64, error)
	DeactivateAccount(ctx context.Context, id uuid.UUID) (*models.BoundAccount, error)
	ReactivateAccount(ctx context.Context, id uuid.UUID) (*models.BoundAccount, error)
	OnlineSessions(ctx context.Context, within time.Duration) ([]*models.ActiveSession, error)
}

// ProductStore is the product catalogue.
type ProductStore interface {
	Create(ctx context.Context, p *models.Product) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Product, error)
	List(ctx context.Context) ([]*models.Product, error)
	Update(ctx context.Context, p *models.Product) error
}

// Handler serves the admin API under /api/v1.
type Handler struct {
	licenses LicenseManager
	products ProductStore
	log      *slog.Logger
	validate *validator.Validate
}

func NewHandler(licenses LicenseManager, products ProductStore, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		licenses: licenses,
		products: products,
		log:      log,
		validate: validator.New(),
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeServiceError maps service and repository errors to status codes.
func (h *Handler) writeServiceError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, services.ErrInvalidTransition):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, services.ErrInvalidDays):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		h.log.Error(op+" failed", "error", err)
		http.Error(w, op+" failed", http.StatusInternalServerError)
	}
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return false
	}
	if err := h.validate.Struct(v); err != nil {
		http.Error(w, "missing or invalid fields", http.StatusBadRequest)
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

// --- products ---

type productRequest struct {
	Name         string `json:"name" validate:"required,max=200"`
	MaxAccounts  *int   `json:"max_accounts" validate:"omitempty,min=1"`
	DurationDays *int   `json:"duration_days" validate:"omitempty,min=1"`
}

type productPatch struct {
	Name         *string `json:"name" validate:"omitempty,min=1,max=200"`
	MaxAccounts  *int    `json:"max_accounts" validate:"omitempty,min=1"`
	DurationDays *int    `json:"duration_days" validate:"omitempty,min=1"`
}

type daysRequest struct {
	Days int `json:"days" validate:"required,min=1,max=3650"`
}

// GET /api/v1/products
func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	list, err := h.products.List(r.Context())
	if err != nil {
		h.writeServiceError(w, "list products", err)
		return
	}
	if list == nil {
		list = []*models.Product{}
	}
	writeJSON(w, http.StatusOK, list)
}

// POST /api/v1/products
func (h *Handler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var req productRequest
	if !h.decode(w, r, &req) {
		return
	}
	p := &models.Product{
		ID:           uuid.New(),
		Name:         req.Name,
		MaxAccounts:  req.MaxAccounts,
		DurationDays: req.DurationDays,
	}
	if err := h.products.Create(r.Context(), p); err != nil {
		h.writeServiceError(w, "create product", err)
		return
	}
	h.log.Info("product created", "product_id", p.ID, "max_accounts", p.SeatLimit())
	writeJSON(w, http.StatusCreated, p)
}

// PATCH /api/v1/products/{id}
func (h *Handler) UpdateProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var body productPatch
	if !h.decode(w, r, &body) {
		return
	}
	p, err := h.products.GetByID(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, "get product", err)
		return
	}
	if body.Name != nil {
		p.Name = *body.Name
	}
	if body.MaxAccounts != nil {
		p.MaxAccounts = body.MaxAccounts
	}
	if body.DurationDays != nil {
		p.DurationDays = body.DurationDays
	}
	if err := h.products.Update(r.Context(), p); err != nil {
		h.writeServiceError(w, "update product", err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// POST /api/v1/products/{id}/extend
func (h *Handler) ExtendProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var body daysRequest
	if !h.decode(w, r, &body) {
		return
	}
	n, err := h.licenses.ExtendProduct(r.Context(), id, body.Days)
	if err != nil {
		h.writeServiceError(w, "extend product", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"product_id": id, "days": body.Days, "licenses_extended": n})
}

// --- licenses ---

// POST /api/v1/licenses
func (h *Handler) IssueLicense(w http.ResponseWriter, r *http.Request) {
	var req services.IssueRequest
	if !h.decode(w, r, &req) {
		return
	}
	lic, err := h.licenses.Issue(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, "issue license", err)
		return
	}
	writeJSON(w, http.StatusCreated, lic)
}

// GET /api/v1/licenses/{key}
func (h *Handler) GetLicense(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if !services.ValidLicenseKeyFormat(key) {
		http.Error(w, "invalid license key format", http.StatusBadRequest)
		return
	}
	d, err := h.licenses.Get(r.Context(), key)
	if err != nil {
		h.writeServiceError(w, "get license", err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// GET /api/v1/licenses/{id}/usage?limit=
func (h *Handler) ListUsage(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}
	logs, err := h.licenses.ListUsage(r.Context(), id, limit)
	if err != nil {
		h.writeServiceError(w, "list usage", err)
		return
	}
	if logs == nil {
		logs = []*models.UsageLog{}
	}
	writeJSON(w, http.StatusOK, logs)
}

// StatusAction adapts one of the status transitions to POST /api/v1/licenses/{id}/<action>.
func (h *Handler) StatusAction(action string, op func(context.Context, uuid.UUID) (*models.License, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		lic, err := op(r.Context(), id)
		if err != nil {
			h.writeServiceError(w, action+" license", err)
			return
		}
		writeJSON(w, http.StatusOK, lic)
	}
}

func (h *Handler) PauseLicense() http.HandlerFunc { return h.StatusAction("pause", h.licenses.Pause) }
func (h *Handler) SuspendLicense() http.HandlerFunc {
	return h.StatusAction("suspend", h.licenses.Suspend)
}
func (h *Handler) ResumeLicense() http.HandlerFunc {
	return h.StatusAction("resume", h.licenses.Resume)
}
func (h *Handler) RevokeLicense() http.HandlerFunc {
	return h.StatusAction("revoke", h.licenses.Revoke)
}

// POST /api/v1/licenses/{id}/extend
func (h *Handler) ExtendLicense(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var body daysRequest
	if !h.decode(w, r, &body) {
		return
	}
	lic, err := h.licenses.Extend(r.Context(), id, body.Days)
	if err != nil {
		h.writeServiceError(w, "extend license", err)
		return
	}
	writeJSON(w, http.StatusOK, lic)
}

// --- accounts & sessions ---

// POST /api/v1/accounts/{id}/deactivate
func (h *Handler) DeactivateAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	acc, err := h.licenses.DeactivateAccount(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, "deactivate account", err)
		return
	}
	writeJSON(w, http.StatusOK, acc)
}

// POST /api/v1/accounts/{id}/reactivate
func (h *Handler) ReactivateAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	acc, err := h.licenses.ReactivateAccount(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, "reactivate account", err)
		return
	}
	writeJSON(w, http.StatusOK, acc)
}

// GET /api/v1/sessions/online?within=5m
func (h *Handler) OnlineSessions(w http.ResponseWriter, r *http.Request) {
	within := 5 * time.Minute
	if s := r.URL.Query().Get("within"); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil || d <= 0 {
			http.Error(w, "invalid within", http.StatusBadRequest)
			return
		}
		within = d
	}
	list, err := h.licenses.OnlineSessions(r.Context(), within)
	if err != nil {
		h.writeServiceError(w, "list sessions", err)
		return
	}
	if list == nil {
		list = []*models.ActiveSession{}
	}
	writeJSON(w, http.StatusOK, list)
}
