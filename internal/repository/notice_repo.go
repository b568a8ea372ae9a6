package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eavault/backend/internal/models"
)

type NoticeRepo struct {
	pool *pgxpool.Pool
}

func NewNoticeRepo(pool *pgxpool.Pool) *NoticeRepo {
	return &NoticeRepo{pool: pool}
}

// CreateIfAbsent records a notice once per (license, kind, expires_at).
// It returns false when the notice already existed.
func (r *NoticeRepo) CreateIfAbsent(ctx context.Context, n *models.LicenseNotice) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO license_notices (id, license_id, kind, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (license_id, kind, expires_at) DO NOTHING
	`, n.ID, n.LicenseID, n.Kind, n.ExpiresAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}
