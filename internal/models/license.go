package models

import (
	"time"

	"github.com/google/uuid"
)

// License status enums.
const (
	LicenseStatusActive    = "active"
	LicenseStatusPaused    = "paused"
	LicenseStatusSuspended = "suspended"
	LicenseStatusExpired   = "expired"
	LicenseStatusRevoked   = "revoked"
)

type License struct {
	ID              uuid.UUID  `json:"id"`
	LicenseKey      string     `json:"license_key"`
	UserID          uuid.UUID  `json:"user_id"`
	ProductID       uuid.UUID  `json:"product_id"`
	Status          string     `json:"status"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`
	LastValidatedAt *time.Time `json:"last_validated_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// IsExpiredAt reports whether the license has an expiry that lies before now.
func (l *License) IsExpiredAt(now time.Time) bool {
	return l.ExpiresAt != nil && l.ExpiresAt.Before(now)
}

// LicenseWithProduct is a license joined with the product it was sold for.
type LicenseWithProduct struct {
	License License
	Product Product
}
