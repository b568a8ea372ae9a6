package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Usage log event_type enums.
const (
	UsageEventValidation = "validation"
)

// UsageLog is an append-only audit row for one validation.
type UsageLog struct {
	ID             uuid.UUID       `json:"id"`
	LicenseID      uuid.UUID       `json:"license_id"`
	BoundAccountID *uuid.UUID      `json:"bound_account_id,omitempty"`
	EventType      string          `json:"event_type"`
	IPAddress      string          `json:"ip_address"`
	Metadata       json.RawMessage `json:"metadata"`
	CreatedAt      time.Time       `json:"created_at"`
}
