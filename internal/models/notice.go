package models

import (
	"time"

	"github.com/google/uuid"
)

// Notice kinds consumed by the mailer.
const (
	NoticeExpiringSoon = "expiring_soon"
)

type LicenseNotice struct {
	ID        uuid.UUID `json:"id"`
	LicenseID uuid.UUID `json:"license_id"`
	Kind      string    `json:"kind"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}
