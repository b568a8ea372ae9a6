package auth

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eavault/backend/internal/models"
)

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts a new admin and fills in the generated id and created_at.
func (r *Repository) Create(ctx context.Context, a *models.Admin) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO admins (email, name, password_hash, role)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`, a.Email, a.Name, a.PasswordHash, a.Role).Scan(&a.ID, &a.CreatedAt)
}

// GetByEmail returns the admin with its password hash. Returns nil if not found.
func (r *Repository) GetByEmail(ctx context.Context, email string) (*models.Admin, error) {
	var a models.Admin
	err := r.pool.QueryRow(ctx, `
		SELECT id, email, name, password_hash, role, created_at
		FROM admins WHERE lower(email) = lower($1)
	`, email).Scan(&a.ID, &a.Email, &a.Name, &a.PasswordHash, &a.Role, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &a, nil
}
