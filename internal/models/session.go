package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ActiveSession is the liveness row for a (license, bound account) pair.
type ActiveSession struct {
	ID             uuid.UUID       `json:"id"`
	LicenseID      uuid.UUID       `json:"license_id"`
	BoundAccountID uuid.UUID       `json:"bound_account_id"`
	LastHeartbeat  time.Time       `json:"last_heartbeat"`
	IsOnline       bool            `json:"is_online"`
	IPAddress      string          `json:"ip_address"`
	TerminalInfo   json.RawMessage `json:"terminal_info"`
}
