package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eavault/backend/internal/models"
)

type ProductRepo struct {
	pool *pgxpool.Pool
}

func NewProductRepo(pool *pgxpool.Pool) *ProductRepo {
	return &ProductRepo{pool: pool}
}

func (r *ProductRepo) Create(ctx context.Context, p *models.Product) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO products (id, name, max_accounts, duration_days)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at
	`, p.ID, p.Name, p.MaxAccounts, p.DurationDays).Scan(&p.CreatedAt)
}

func (r *ProductRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Product, error) {
	var p models.Product
	err := r.pool.QueryRow(ctx, `SELECT `+productColumns+` FROM products p WHERE p.id = $1`, id).Scan(productDest(&p)...)
	if err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

func (r *ProductRepo) List(ctx context.Context) ([]*models.Product, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+productColumns+` FROM products p ORDER BY p.name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	list := []*models.Product{}
	for rows.Next() {
		var p models.Product
		if err := rows.Scan(productDest(&p)...); err != nil {
			return nil, err
		}
		list = append(list, &p)
	}
	return list, rows.Err()
}

// Update rewrites name, seat limit and default duration.
func (r *ProductRepo) Update(ctx context.Context, p *models.Product) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE products SET name = $2, max_accounts = $3, duration_days = $4 WHERE id = $1
	`, p.ID, p.Name, p.MaxAccounts, p.DurationDays)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
