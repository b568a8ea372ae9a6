package services

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/eavault/backend/internal/models"
	"github.com/eavault/backend/internal/repository"
)

// TxBeginner abstracts transaction creation so tests don't need a pgxpool.Pool.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// ActivationLicenseRepo is the license access needed by activation.
type ActivationLicenseRepo interface {
	GetByKeyForUpdate(ctx context.Context, tx pgx.Tx, key string) (*models.LicenseWithProduct, error)
	MarkExpiredTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (bool, error)
	TouchValidatedTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, at time.Time) error
}

// ActivationAccountRepo is the bound-account access needed by activation.
type ActivationAccountRepo interface {
	ListByLicenseTx(ctx context.Context, tx pgx.Tx, licenseID uuid.UUID) ([]*models.BoundAccount, error)
	CreateTx(ctx context.Context, tx pgx.Tx, a *models.BoundAccount) error
	RefreshTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, ip, terminalBuild string, at time.Time) error
}

// ActivationUsageRepo appends audit entries.
type ActivationUsageRepo interface {
	CreateTx(ctx context.Context, tx pgx.Tx, e *models.UsageLog) error
}

// ActivationSessionRepo writes heartbeats.
type ActivationSessionRepo interface {
	Upsert(ctx context.Context, s *models.ActiveSession) error
}

// ActivationService validates license keys presented by trading terminals and
// binds the calling MT5 account to a seat.
type ActivationService struct {
	DB       TxBeginner
	Licenses ActivationLicenseRepo
	Accounts ActivationAccountRepo
	Usage    ActivationUsageRepo
	Sessions ActivationSessionRepo
	Logger   *slog.Logger
	Now      func() time.Time

	validate *validator.Validate
}

// NewActivationService returns a new ActivationService.
func NewActivationService(db TxBeginner, licenses ActivationLicenseRepo, accounts ActivationAccountRepo, usage ActivationUsageRepo, sessions ActivationSessionRepo, logger *slog.Logger) *ActivationService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ActivationService{
		DB:       db,
		Licenses: licenses,
		Accounts: accounts,
		Usage:    usage,
		Sessions: sessions,
		Logger:   logger,
		Now:      time.Now,
		validate: validator.New(),
	}
}

// ValidateAndActivate checks the license and binds req.AccountNumber to it.
//
// Everything from the license lookup to the audit entry runs in one
// transaction holding the license row lock, so concurrent first-time
// activations cannot overshoot the seat limit. The session heartbeat is
// written after commit and is best effort.
//
// Refusals are returned as *ActivationError.
func (s *ActivationService) ValidateAndActivate(ctx context.Context, req ValidateRequest) (*ValidateResult, error) {
	req.normalize()
	if err := s.validate.Struct(&req); err != nil || strings.TrimSpace(string(req.AccountNumber)) == "" {
		return nil, errBadRequest()
	}
	now := s.Now()

	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return nil, errServer("begin", err)
	}
	defer tx.Rollback(ctx)

	lp, err := s.Licenses.GetByKeyForUpdate(ctx, tx, req.LicenseKey)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, errInvalidKey()
		}
		return nil, errServer("lookup license", err)
	}
	lic := &lp.License

	switch lic.Status {
	case models.LicenseStatusActive:
	case models.LicenseStatusExpired:
		return nil, errExpired(lic.ExpiresAt)
	default:
		return nil, errNotActive(lic.Status)
	}

	if lic.IsExpiredAt(now) {
		if _, err := s.Licenses.MarkExpiredTx(ctx, tx, lic.ID); err != nil {
			return nil, errServer("mark expired", err)
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, errServer("commit expiry", err)
		}
		return nil, errExpired(lic.ExpiresAt)
	}

	accounts, err := s.Accounts.ListByLicenseTx(ctx, tx, lic.ID)
	if err != nil {
		return nil, errServer("list accounts", err)
	}
	maxAccounts := lp.Product.SeatLimit()

	bound := findAccount(accounts, string(req.AccountNumber))
	newSeat := bound == nil
	if bound != nil {
		if err := s.Accounts.RefreshTx(ctx, tx, bound.ID, req.IPAddress, req.TerminalBuild, now); err != nil {
			return nil, errServer("refresh account", err)
		}
		bound.IsActive = true
		bound.LastUsedAt = now
		bound.IPAddress = req.IPAddress
		bound.TerminalBuild = req.TerminalBuild
	} else {
		if active := models.CountActive(accounts); active >= maxAccounts {
			return nil, errSeatLimit(active, maxAccounts)
		}
		bound = &models.BoundAccount{
			ID:              uuid.New(),
			LicenseID:       lic.ID,
			AccountNumber:   string(req.AccountNumber),
			BrokerServer:    req.BrokerServer,
			BrokerCompany:   req.BrokerCompany,
			AccountName:     req.AccountName,
			TerminalName:    req.TerminalName,
			TerminalBuild:   req.TerminalBuild,
			TerminalCompany: req.TerminalCompany,
			ComputerName:    req.ComputerName,
			OSVersion:       req.OSVersion,
			IPAddress:       req.IPAddress,
			FirstSeenAt:     now,
			LastUsedAt:      now,
			IsActive:        true,
		}
		if err := s.Accounts.CreateTx(ctx, tx, bound); err != nil {
			return nil, errServer("create account", err)
		}
		accounts = append(accounts, bound)
	}

	if err := s.Licenses.TouchValidatedTx(ctx, tx, lic.ID, now); err != nil {
		return nil, errServer("touch license", err)
	}

	boundID := bound.ID
	entry := &models.UsageLog{
		ID:             uuid.New(),
		LicenseID:      lic.ID,
		BoundAccountID: &boundID,
		EventType:      models.UsageEventValidation,
		IPAddress:      req.IPAddress,
		Metadata:       req.usageMetadata(now, newSeat),
	}
	if err := s.Usage.CreateTx(ctx, tx, entry); err != nil {
		return nil, errServer("write usage log", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errServer("commit", err)
	}

	session := &models.ActiveSession{
		ID:             uuid.New(),
		LicenseID:      lic.ID,
		BoundAccountID: boundID,
		LastHeartbeat:  now,
		IsOnline:       true,
		IPAddress:      req.IPAddress,
		TerminalInfo:   req.terminalInfo(),
	}
	if err := s.Sessions.Upsert(ctx, session); err != nil {
		s.Logger.Warn("heartbeat upsert failed",
			"license_prefix", KeyPrefix(lic.LicenseKey),
			"bound_account_id", boundID,
			"error", err)
	}

	return &ValidateResult{
		LicenseID:      lic.ID,
		BoundAccountID: boundID,
		NewAccount:     newSeat,
		ProductName:    lp.Product.Name,
		ExpiresAt:      lic.ExpiresAt,
		AccountsUsed:   models.CountActive(accounts),
		MaxAccounts:    maxAccounts,
		DaysRemaining:  DaysRemaining(lic.ExpiresAt, now),
	}, nil
}

func findAccount(accounts []*models.BoundAccount, number string) *models.BoundAccount {
	for _, a := range accounts {
		if a.AccountNumber == number {
			return a
		}
	}
	return nil
}

// DaysRemaining is ceil((expiresAt - now) / 24h), or nil for a license that never expires.
func DaysRemaining(expiresAt *time.Time, now time.Time) *int {
	if expiresAt == nil {
		return nil
	}
	days := int(math.Ceil(expiresAt.Sub(now).Hours() / 24))
	return &days
}
