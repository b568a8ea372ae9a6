package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/eavault/backend/internal/metrics"
	"github.com/eavault/backend/internal/middleware"
	"github.com/eavault/backend/internal/services"
)

const maxValidateBody = middleware.MaxPeekBody

// Activator validates a license for a trading terminal.
type Activator interface {
	ValidateAndActivate(ctx context.Context, req services.ValidateRequest) (*services.ValidateResult, error)
}

// LicenseHandler serves the public validation endpoint called by the EAs.
type LicenseHandler struct {
	Activator Activator
	Logger    *slog.Logger
}

func NewLicenseHandler(a Activator, log *slog.Logger) *LicenseHandler {
	if log == nil {
		log = slog.Default()
	}
	return &LicenseHandler{Activator: a, Logger: log}
}

// --- POST /v1/licenses/validate ---

type validateResponse struct {
	Valid         bool       `json:"valid"`
	Message       string     `json:"message"`
	ProductName   string     `json:"product_name"`
	ExpiresAt     *time.Time `json:"expires_at"`
	AccountsUsed  int        `json:"accounts_used"`
	MaxAccounts   int        `json:"max_accounts"`
	DaysRemaining *int       `json:"days_remaining"`
}

type validateFailure struct {
	Valid           bool       `json:"valid"`
	Message         string     `json:"message"`
	Status          string     `json:"status,omitempty"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`
	CurrentAccounts *int       `json:"current_accounts,omitempty"`
	MaxAccounts     *int       `json:"max_accounts,omitempty"`
}

// Validate handles POST /v1/licenses/validate (and the legacy /api/validate-license).
// Decode -> fill client IP -> ValidateAndActivate -> map outcome to status code.
func (h *LicenseHandler) Validate(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	defer func() { metrics.ValidationDuration.Observe(time.Since(start).Seconds()) }()

	var req services.ValidateRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxValidateBody)).Decode(&req); err != nil {
		metrics.Validations.WithLabelValues(string(services.KindBadRequest)).Inc()
		writeJSON(w, http.StatusBadRequest, validateFailure{Message: "Invalid JSON body"})
		return
	}
	if req.IPAddress == "" {
		req.IPAddress = middleware.ClientIP(r)
	}

	res, err := h.Activator.ValidateAndActivate(r.Context(), req)
	if err != nil {
		h.writeRefusal(w, req, err)
		return
	}

	metrics.Validations.WithLabelValues("granted").Inc()
	if res.NewAccount {
		metrics.SeatsBound.Inc()
	}
	h.Logger.Info("license validated",
		"license_prefix", services.KeyPrefix(req.LicenseKey),
		"account_number", string(req.AccountNumber),
		"new_account", res.NewAccount,
		"accounts_used", res.AccountsUsed,
		"max_accounts", res.MaxAccounts)

	writeJSON(w, http.StatusOK, validateResponse{
		Valid:         true,
		Message:       "License is valid",
		ProductName:   res.ProductName,
		ExpiresAt:     res.ExpiresAt,
		AccountsUsed:  res.AccountsUsed,
		MaxAccounts:   res.MaxAccounts,
		DaysRemaining: res.DaysRemaining,
	})
}

func (h *LicenseHandler) writeRefusal(w http.ResponseWriter, req services.ValidateRequest, err error) {
	var ae *services.ActivationError
	if !errors.As(err, &ae) {
		ae = &services.ActivationError{Kind: services.KindServerError, Message: "Internal server error", Err: err}
	}
	metrics.Validations.WithLabelValues(string(ae.Kind)).Inc()

	body := validateFailure{Message: ae.Message}
	status := http.StatusInternalServerError
	switch ae.Kind {
	case services.KindBadRequest:
		status = http.StatusBadRequest
	case services.KindInvalidKey:
		status = http.StatusNotFound
	case services.KindLicenseNotActive:
		status = http.StatusForbidden
		body.Status = ae.Status
	case services.KindLicenseExpired:
		status = http.StatusForbidden
		body.Status = ae.Status
		body.ExpiresAt = ae.ExpiresAt
	case services.KindSeatLimitExceeded:
		status = http.StatusForbidden
		current, limit := ae.CurrentAccounts, ae.MaxAccounts
		body.CurrentAccounts = &current
		body.MaxAccounts = &limit
	default:
		body.Message = "Internal server error"
	}

	if status == http.StatusInternalServerError {
		h.Logger.Error("license validation failed",
			"license_prefix", services.KeyPrefix(req.LicenseKey),
			"error", err)
	} else {
		h.Logger.Warn("license validation refused",
			"license_prefix", services.KeyPrefix(req.LicenseKey),
			"account_number", string(req.AccountNumber),
			"reason", ae.Kind)
	}
	writeJSON(w, status, body)
}
