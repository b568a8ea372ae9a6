package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eavault/backend/internal/models"
)

// BoundAccountRepo persists MT5 account bindings (mt5_accounts).
type BoundAccountRepo struct {
	pool *pgxpool.Pool
}

func NewBoundAccountRepo(pool *pgxpool.Pool) *BoundAccountRepo {
	return &BoundAccountRepo{pool: pool}
}

const boundAccountColumns = `id, license_id, account_number, broker_server, broker_company, account_name,
	terminal_name, terminal_build, terminal_company, computer_name, os_version, ip_address,
	first_seen_at, last_used_at, is_active`

func boundAccountDest(a *models.BoundAccount) []any {
	return []any{&a.ID, &a.LicenseID, &a.AccountNumber, &a.BrokerServer, &a.BrokerCompany, &a.AccountName,
		&a.TerminalName, &a.TerminalBuild, &a.TerminalCompany, &a.ComputerName, &a.OSVersion, &a.IPAddress,
		&a.FirstSeenAt, &a.LastUsedAt, &a.IsActive}
}

func collectBoundAccounts(rows pgx.Rows) ([]*models.BoundAccount, error) {
	defer rows.Close()
	list := []*models.BoundAccount{}
	for rows.Next() {
		var a models.BoundAccount
		if err := rows.Scan(boundAccountDest(&a)...); err != nil {
			return nil, err
		}
		list = append(list, &a)
	}
	return list, rows.Err()
}

// ListByLicenseTx returns every binding of a license, active or not.
func (r *BoundAccountRepo) ListByLicenseTx(ctx context.Context, tx pgx.Tx, licenseID uuid.UUID) ([]*models.BoundAccount, error) {
	rows, err := tx.Query(ctx, `
		SELECT `+boundAccountColumns+`
		FROM mt5_accounts WHERE license_id = $1 ORDER BY first_seen_at
	`, licenseID)
	if err != nil {
		return nil, err
	}
	return collectBoundAccounts(rows)
}

func (r *BoundAccountRepo) ListByLicense(ctx context.Context, licenseID uuid.UUID) ([]*models.BoundAccount, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+boundAccountColumns+`
		FROM mt5_accounts WHERE license_id = $1 ORDER BY first_seen_at
	`, licenseID)
	if err != nil {
		return nil, err
	}
	return collectBoundAccounts(rows)
}

func (r *BoundAccountRepo) CreateTx(ctx context.Context, tx pgx.Tx, a *models.BoundAccount) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO mt5_accounts (`+boundAccountColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`, a.ID, a.LicenseID, a.AccountNumber, a.BrokerServer, a.BrokerCompany, a.AccountName,
		a.TerminalName, a.TerminalBuild, a.TerminalCompany, a.ComputerName, a.OSVersion, a.IPAddress,
		a.FirstSeenAt, a.LastUsedAt, a.IsActive)
	return err
}

// RefreshTx records a re-validation: last_used_at, ip, terminal build, and
// forces the seat back to active.
func (r *BoundAccountRepo) RefreshTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, ip, terminalBuild string, at time.Time) error {
	_, err := tx.Exec(ctx, `
		UPDATE mt5_accounts
		SET last_used_at = $2, ip_address = $3, terminal_build = $4, is_active = TRUE
		WHERE id = $1
	`, id, at, ip, terminalBuild)
	return err
}

// SetActive flips the seat flag and returns the updated row.
func (r *BoundAccountRepo) SetActive(ctx context.Context, id uuid.UUID, active bool) (*models.BoundAccount, error) {
	var a models.BoundAccount
	err := r.pool.QueryRow(ctx, `
		UPDATE mt5_accounts SET is_active = $2 WHERE id = $1
		RETURNING `+boundAccountColumns+`
	`, id, active).Scan(boundAccountDest(&a)...)
	if err != nil {
		return nil, notFound(err)
	}
	return &a, nil
}
