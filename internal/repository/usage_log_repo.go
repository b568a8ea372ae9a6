package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eavault/backend/internal/models"
)

type UsageLogRepo struct {
	pool *pgxpool.Pool
}

func NewUsageLogRepo(pool *pgxpool.Pool) *UsageLogRepo {
	return &UsageLogRepo{pool: pool}
}

// CreateTx appends one audit row. Rows are never updated or deleted here.
func (r *UsageLogRepo) CreateTx(ctx context.Context, tx pgx.Tx, e *models.UsageLog) error {
	return tx.QueryRow(ctx, `
		INSERT INTO license_usage_logs (id, license_id, bound_account_id, event_type, ip_address, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`, e.ID, e.LicenseID, e.BoundAccountID, e.EventType, e.IPAddress, e.Metadata).Scan(&e.CreatedAt)
}

// ListByLicense returns the newest entries first.
func (r *UsageLogRepo) ListByLicense(ctx context.Context, licenseID uuid.UUID, limit int) ([]*models.UsageLog, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, license_id, bound_account_id, event_type, ip_address, metadata, created_at
		FROM license_usage_logs
		WHERE license_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, licenseID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	list := []*models.UsageLog{}
	for rows.Next() {
		var e models.UsageLog
		if err := rows.Scan(&e.ID, &e.LicenseID, &e.BoundAccountID, &e.EventType, &e.IPAddress, &e.Metadata, &e.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, &e)
	}
	return list, rows.Err()
}
