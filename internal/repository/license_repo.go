package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eavault/backend/internal/models"
)

type LicenseRepo struct {
	pool *pgxpool.Pool
}

func NewLicenseRepo(pool *pgxpool.Pool) *LicenseRepo {
	return &LicenseRepo{pool: pool}
}

const licenseColumns = `l.id, l.license_key, l.user_id, l.product_id, l.status, l.expires_at, l.last_validated_at, l.created_at, l.updated_at`

const productColumns = `p.id, p.name, p.max_accounts, p.duration_days, p.created_at`

func licenseDest(l *models.License) []any {
	return []any{&l.ID, &l.LicenseKey, &l.UserID, &l.ProductID, &l.Status, &l.ExpiresAt, &l.LastValidatedAt, &l.CreatedAt, &l.UpdatedAt}
}

func productDest(p *models.Product) []any {
	return []any{&p.ID, &p.Name, &p.MaxAccounts, &p.DurationDays, &p.CreatedAt}
}

func scanLicenseWithProduct(row pgx.Row) (*models.LicenseWithProduct, error) {
	var out models.LicenseWithProduct
	dest := append(licenseDest(&out.License), productDest(&out.Product)...)
	if err := row.Scan(dest...); err != nil {
		return nil, notFound(err)
	}
	return &out, nil
}

// Create inserts a new license. A colliding license_key surfaces as a unique violation.
func (r *LicenseRepo) Create(ctx context.Context, l *models.License) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO licenses (id, license_key, user_id, product_id, status, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at
	`, l.ID, l.LicenseKey, l.UserID, l.ProductID, l.Status, l.ExpiresAt).Scan(&l.CreatedAt, &l.UpdatedAt)
}

func (r *LicenseRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.License, error) {
	var l models.License
	err := r.pool.QueryRow(ctx, `SELECT `+licenseColumns+` FROM licenses l WHERE l.id = $1`, id).Scan(licenseDest(&l)...)
	if err != nil {
		return nil, notFound(err)
	}
	return &l, nil
}

// GetByKey returns the license joined with its product, without locking.
func (r *LicenseRepo) GetByKey(ctx context.Context, key string) (*models.LicenseWithProduct, error) {
	return scanLicenseWithProduct(r.pool.QueryRow(ctx, `
		SELECT `+licenseColumns+`, `+productColumns+`
		FROM licenses l
		INNER JOIN products p ON p.id = l.product_id
		WHERE l.license_key = $1
	`, key))
}

// GetByKeyForUpdate locks the license row (SELECT FOR UPDATE) for the rest of tx.
// Every validation of the same license queues behind this lock, which keeps
// seat accounting serial across service replicas.
func (r *LicenseRepo) GetByKeyForUpdate(ctx context.Context, tx pgx.Tx, key string) (*models.LicenseWithProduct, error) {
	return scanLicenseWithProduct(tx.QueryRow(ctx, `
		SELECT `+licenseColumns+`, `+productColumns+`
		FROM licenses l
		INNER JOIN products p ON p.id = l.product_id
		WHERE l.license_key = $1
		FOR UPDATE OF l
	`, key))
}

// MarkExpiredTx moves an active license to expired. It is a no-op (false) when
// the status already changed, e.g. because the sweep job won the race.
func (r *LicenseRepo) MarkExpiredTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE licenses SET status = 'expired', updated_at = now()
		WHERE id = $1 AND status = 'active'
	`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *LicenseRepo) TouchValidatedTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, at time.Time) error {
	_, err := tx.Exec(ctx, `UPDATE licenses SET last_validated_at = $2 WHERE id = $1`, id, at)
	return err
}

// TransitionStatus sets status to `to` only when the current status is one of `from`.
// It returns false when the guard did not match.
func (r *LicenseRepo) TransitionStatus(ctx context.Context, id uuid.UUID, from []string, to string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE licenses SET status = $2, updated_at = now()
		WHERE id = $1 AND status = ANY($3)
	`, id, to, from)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// Extend pushes expires_at forward by days, counted from now when the license
// already lapsed. An expired license becomes active again; revoked licenses
// are never touched. Never-expiring licenses keep a NULL expiry.
func (r *LicenseRepo) Extend(ctx context.Context, id uuid.UUID, days int, now time.Time) (*models.License, error) {
	var l models.License
	err := r.pool.QueryRow(ctx, `
		UPDATE licenses l SET
			expires_at = CASE WHEN l.expires_at IS NULL THEN NULL
			                  ELSE GREATEST(l.expires_at, $3) + make_interval(days => $2) END,
			status = CASE WHEN l.status = 'expired' THEN 'active' ELSE l.status END,
			updated_at = now()
		WHERE l.id = $1 AND l.status <> 'revoked'
		RETURNING `+licenseColumns+`
	`, id, days, now).Scan(licenseDest(&l)...)
	if err != nil {
		return nil, notFound(err)
	}
	return &l, nil
}

// ExtendByProduct is the bulk form of Extend for every non-revoked license of a product.
func (r *LicenseRepo) ExtendByProduct(ctx context.Context, productID uuid.UUID, days int, now time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE licenses SET
			expires_at = GREATEST(expires_at, $3) + make_interval(days => $2),
			status = CASE WHEN status = 'expired' THEN 'active' ELSE status END,
			updated_at = now()
		WHERE product_id = $1 AND status <> 'revoked' AND expires_at IS NOT NULL
	`, productID, days, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ExpireOverdue transitions every active license whose expiry is before now.
// Uses the same guard as MarkExpiredTx so it can run next to live validations.
func (r *LicenseRepo) ExpireOverdue(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE licenses SET status = 'expired', updated_at = now()
		WHERE status = 'active' AND expires_at IS NOT NULL AND expires_at < $1
	`, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ListExpiringBetween returns active licenses with from <= expires_at < to.
func (r *LicenseRepo) ListExpiringBetween(ctx context.Context, from, to time.Time) ([]*models.License, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+licenseColumns+`
		FROM licenses l
		WHERE l.status = 'active' AND l.expires_at >= $1 AND l.expires_at < $2
		ORDER BY l.expires_at
	`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.License
	for rows.Next() {
		var l models.License
		if err := rows.Scan(licenseDest(&l)...); err != nil {
			return nil, err
		}
		list = append(list, &l)
	}
	return list, rows.Err()
}
