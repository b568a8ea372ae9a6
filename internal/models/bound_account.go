package models

import (
	"time"

	"github.com/google/uuid"
)

// BoundAccount is one MT5 trading account registered against a license.
// Terminal fields are reported by the client and are not trusted.
type BoundAccount struct {
	ID              uuid.UUID `json:"id"`
	LicenseID       uuid.UUID `json:"license_id"`
	AccountNumber   string    `json:"account_number"`
	BrokerServer    string    `json:"broker_server"`
	BrokerCompany   string    `json:"broker_company"`
	AccountName     string    `json:"account_name"`
	TerminalName    string    `json:"terminal_name"`
	TerminalBuild   string    `json:"terminal_build"`
	TerminalCompany string    `json:"terminal_company"`
	ComputerName    string    `json:"computer_name"`
	OSVersion       string    `json:"os_version"`
	IPAddress       string    `json:"ip_address"`
	FirstSeenAt     time.Time `json:"first_seen_at"`
	LastUsedAt      time.Time `json:"last_used_at"`
	IsActive        bool      `json:"is_active"`
}

// CountActive returns how many of the given accounts hold a seat.
func CountActive(accounts []*BoundAccount) int {
	n := 0
	for _, a := range accounts {
		if a.IsActive {
			n++
		}
	}
	return n
}
