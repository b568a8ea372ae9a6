package models

import (
	"time"

	"github.com/google/uuid"
)

// DefaultMaxAccounts applies when a product has no seat limit configured.
const DefaultMaxAccounts = 3

type Product struct {
	ID           uuid.UUID `json:"id"`
	Name         string    `json:"name"`
	MaxAccounts  *int      `json:"max_accounts,omitempty"`
	DurationDays *int      `json:"duration_days,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// SeatLimit returns the configured max_accounts, or DefaultMaxAccounts when unset.
func (p *Product) SeatLimit() int {
	if p.MaxAccounts == nil || *p.MaxAccounts <= 0 {
		return DefaultMaxAccounts
	}
	return *p.MaxAccounts
}
