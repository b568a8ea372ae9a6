package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/eavault/backend/internal/models"
	"github.com/eavault/backend/internal/repository"
)

var (
	// ErrInvalidTransition is returned when a license is not in a status the operation can start from.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrInvalidDays is returned for a non-positive duration or extension.
	ErrInvalidDays = errors.New("days must be positive")
	// ErrKeyExhausted is returned when no unused license key could be generated.
	ErrKeyExhausted = errors.New("could not generate a unique license key")
)

const (
	maxKeyAttempts    = 5
	defaultUsageLimit = 100
	maxUsageLimit     = 500
)

// AdminLicenseRepo is the license access needed by LicenseAdmin.
type AdminLicenseRepo interface {
	Create(ctx context.Context, l *models.License) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.License, error)
	GetByKey(ctx context.Context, key string) (*models.LicenseWithProduct, error)
	TransitionStatus(ctx context.Context, id uuid.UUID, from []string, to string) (bool, error)
	Extend(ctx context.Context, id uuid.UUID, days int, now time.Time) (*models.License, error)
	ExtendByProduct(ctx context.Context, productID uuid.UUID, days int, now time.Time) (int64, error)
}

// AdminProductRepo resolves the product a license is issued for.
type AdminProductRepo interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Product, error)
}

// AdminAccountRepo lists and toggles bound accounts.
type AdminAccountRepo interface {
	ListByLicense(ctx context.Context, licenseID uuid.UUID) ([]*models.BoundAccount, error)
	SetActive(ctx context.Context, id uuid.UUID, active bool) (*models.BoundAccount, error)
}

// AdminUsageRepo reads the audit trail.
type AdminUsageRepo interface {
	ListByLicense(ctx context.Context, licenseID uuid.UUID, limit int) ([]*models.UsageLog, error)
}

// AdminSessionRepo reads and closes heartbeat rows.
type AdminSessionRepo interface {
	ListByLicense(ctx context.Context, licenseID uuid.UUID) ([]*models.ActiveSession, error)
	ListOnline(ctx context.Context, since time.Time) ([]*models.ActiveSession, error)
	MarkOfflineByAccount(ctx context.Context, boundAccountID uuid.UUID) error
}

// LicenseAdmin implements the operator-side license lifecycle: issuing keys,
// status changes, extensions and seat management.
type LicenseAdmin struct {
	Licenses AdminLicenseRepo
	Products AdminProductRepo
	Accounts AdminAccountRepo
	Usage    AdminUsageRepo
	Sessions AdminSessionRepo
	Logger   *slog.Logger
	Now      func() time.Time
	NewKey   func() (string, error)
}

// NewLicenseAdmin returns a new LicenseAdmin.
func NewLicenseAdmin(licenses AdminLicenseRepo, products AdminProductRepo, accounts AdminAccountRepo, usage AdminUsageRepo, sessions AdminSessionRepo, logger *slog.Logger) *LicenseAdmin {
	if logger == nil {
		logger = slog.Default()
	}
	return &LicenseAdmin{
		Licenses: licenses,
		Products: products,
		Accounts: accounts,
		Usage:    usage,
		Sessions: sessions,
		Logger:   logger,
		Now:      time.Now,
		NewKey:   GenerateLicenseKey,
	}
}

// IssueRequest describes a license sale.
type IssueRequest struct {
	ProductID uuid.UUID `json:"product_id" validate:"required"`
	UserID    uuid.UUID `json:"user_id" validate:"required"`
	// DurationDays overrides the product default; nil uses the product's duration.
	DurationDays *int `json:"duration_days,omitempty"`
}

// LicenseDetail is a license with everything bound to it.
type LicenseDetail struct {
	License      models.License          `json:"license"`
	Product      models.Product          `json:"product"`
	Accounts     []*models.BoundAccount  `json:"accounts"`
	Sessions     []*models.ActiveSession `json:"sessions"`
	AccountsUsed int                     `json:"accounts_used"`
	MaxAccounts  int                     `json:"max_accounts"`
}

// Issue creates an active license with a fresh key. The expiry is now plus the
// requested or product duration; without either the license never expires.
func (s *LicenseAdmin) Issue(ctx context.Context, req IssueRequest) (*models.License, error) {
	product, err := s.Products.GetByID(ctx, req.ProductID)
	if err != nil {
		return nil, err
	}

	days := product.DurationDays
	if req.DurationDays != nil {
		if *req.DurationDays <= 0 {
			return nil, ErrInvalidDays
		}
		days = req.DurationDays
	}

	now := s.Now()
	lic := &models.License{
		ID:        uuid.New(),
		UserID:    req.UserID,
		ProductID: product.ID,
		Status:    models.LicenseStatusActive,
	}
	if days != nil && *days > 0 {
		exp := now.AddDate(0, 0, *days)
		lic.ExpiresAt = &exp
	}

	for attempt := 0; attempt < maxKeyAttempts; attempt++ {
		key, err := s.NewKey()
		if err != nil {
			return nil, err
		}
		lic.LicenseKey = key
		err = s.Licenses.Create(ctx, lic)
		if err == nil {
			s.Logger.Info("license issued",
				"license_id", lic.ID,
				"license_prefix", KeyPrefix(key),
				"product_id", product.ID)
			return lic, nil
		}
		if !repository.IsUniqueViolation(err) {
			return nil, fmt.Errorf("create license: %w", err)
		}
		s.Logger.Warn("license key collision, retrying", "attempt", attempt+1)
	}
	return nil, ErrKeyExhausted
}

// Pause stops an active license from validating.
func (s *LicenseAdmin) Pause(ctx context.Context, id uuid.UUID) (*models.License, error) {
	return s.transition(ctx, id, []string{models.LicenseStatusActive}, models.LicenseStatusPaused)
}

// Suspend blocks an active or paused license, e.g. pending a payment dispute.
func (s *LicenseAdmin) Suspend(ctx context.Context, id uuid.UUID) (*models.License, error) {
	return s.transition(ctx, id, []string{models.LicenseStatusActive, models.LicenseStatusPaused}, models.LicenseStatusSuspended)
}

// Resume re-enables a paused or suspended license.
func (s *LicenseAdmin) Resume(ctx context.Context, id uuid.UUID) (*models.License, error) {
	return s.transition(ctx, id, []string{models.LicenseStatusPaused, models.LicenseStatusSuspended}, models.LicenseStatusActive)
}

// Revoke permanently disables a license. Revoked is terminal.
func (s *LicenseAdmin) Revoke(ctx context.Context, id uuid.UUID) (*models.License, error) {
	return s.transition(ctx, id, []string{
		models.LicenseStatusActive,
		models.LicenseStatusPaused,
		models.LicenseStatusSuspended,
		models.LicenseStatusExpired,
	}, models.LicenseStatusRevoked)
}

func (s *LicenseAdmin) transition(ctx context.Context, id uuid.UUID, from []string, to string) (*models.License, error) {
	ok, err := s.Licenses.TransitionStatus(ctx, id, from, to)
	if err != nil {
		return nil, fmt.Errorf("transition to %s: %w", to, err)
	}
	lic, err := s.Licenses.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, lic.Status, to)
	}
	s.Logger.Info("license status changed", "license_id", id, "status", to)
	return lic, nil
}

// Extend adds days to a license. An expired license becomes active again.
func (s *LicenseAdmin) Extend(ctx context.Context, id uuid.UUID, days int) (*models.License, error) {
	if days <= 0 {
		return nil, ErrInvalidDays
	}
	lic, err := s.Licenses.Extend(ctx, id, days, s.Now())
	if errors.Is(err, repository.ErrNotFound) {
		// Extend skips revoked rows; tell those apart from unknown ids.
		if _, getErr := s.Licenses.GetByID(ctx, id); getErr == nil {
			return nil, fmt.Errorf("%w: revoked licenses cannot be extended", ErrInvalidTransition)
		}
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("extend license: %w", err)
	}
	s.Logger.Info("license extended", "license_id", id, "days", days, "status", lic.Status)
	return lic, nil
}

// ExtendProduct extends every non-revoked, expiring license of a product.
func (s *LicenseAdmin) ExtendProduct(ctx context.Context, productID uuid.UUID, days int) (int64, error) {
	if days <= 0 {
		return 0, ErrInvalidDays
	}
	if _, err := s.Products.GetByID(ctx, productID); err != nil {
		return 0, err
	}
	n, err := s.Licenses.ExtendByProduct(ctx, productID, days, s.Now())
	if err != nil {
		return 0, fmt.Errorf("extend product licenses: %w", err)
	}
	s.Logger.Info("product licenses extended", "product_id", productID, "days", days, "licenses", n)
	return n, nil
}

// DeactivateAccount frees the seat held by a bound account and closes its session.
func (s *LicenseAdmin) DeactivateAccount(ctx context.Context, id uuid.UUID) (*models.BoundAccount, error) {
	acc, err := s.Accounts.SetActive(ctx, id, false)
	if err != nil {
		return nil, err
	}
	if err := s.Sessions.MarkOfflineByAccount(ctx, id); err != nil {
		s.Logger.Warn("mark session offline failed", "bound_account_id", id, "error", err)
	}
	s.Logger.Info("account deactivated", "bound_account_id", id, "license_id", acc.LicenseID)
	return acc, nil
}

// ReactivateAccount restores a deactivated account's seat.
func (s *LicenseAdmin) ReactivateAccount(ctx context.Context, id uuid.UUID) (*models.BoundAccount, error) {
	acc, err := s.Accounts.SetActive(ctx, id, true)
	if err != nil {
		return nil, err
	}
	s.Logger.Info("account reactivated", "bound_account_id", id, "license_id", acc.LicenseID)
	return acc, nil
}

// Get looks a license up by key together with its accounts and sessions.
func (s *LicenseAdmin) Get(ctx context.Context, key string) (*LicenseDetail, error) {
	lp, err := s.Licenses.GetByKey(ctx, key)
	if err != nil {
		return nil, err
	}
	accounts, err := s.Accounts.ListByLicense(ctx, lp.License.ID)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	sessions, err := s.Sessions.ListByLicense(ctx, lp.License.ID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return &LicenseDetail{
		License:      lp.License,
		Product:      lp.Product,
		Accounts:     accounts,
		Sessions:     sessions,
		AccountsUsed: models.CountActive(accounts),
		MaxAccounts:  lp.Product.SeatLimit(),
	}, nil
}

// ListUsage returns the newest audit entries of a license. limit is clamped to [1, 500].
func (s *LicenseAdmin) ListUsage(ctx context.Context, licenseID uuid.UUID, limit int) ([]*models.UsageLog, error) {
	if limit <= 0 {
		limit = defaultUsageLimit
	}
	if limit > maxUsageLimit {
		limit = maxUsageLimit
	}
	return s.Usage.ListByLicense(ctx, licenseID, limit)
}

// OnlineSessions returns sessions that sent a heartbeat within the given window.
func (s *LicenseAdmin) OnlineSessions(ctx context.Context, within time.Duration) ([]*models.ActiveSession, error) {
	return s.Sessions.ListOnline(ctx, s.Now().Add(-within))
}
