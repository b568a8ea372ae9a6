package models

import (
	"time"

	"github.com/google/uuid"
)

// Admin roles.
const (
	AdminRoleOwner   = "owner"
	AdminRoleSupport = "support"
)

type Admin struct {
	ID           uuid.UUID `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	PasswordHash string    `json:"-"`
	Role         string    `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
}
