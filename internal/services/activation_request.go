package services

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// AccountNumber is the MT5 login as sent by the terminal. Clients send it
// either as a JSON number or a JSON string. A number is an integer login,
// so 12345, 12345.0 and 1.2345e4 all decode to "12345"; strings are kept
// exactly as sent.
type AccountNumber string

// maxExactFloat is the largest magnitude a float64 holds without losing integers.
const maxExactFloat = 1 << 53

var errAccountNumber = errors.New("account_number must be a string or an integer")

func (n *AccountNumber) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*n = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*n = AccountNumber(s)
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(data, &num); err != nil {
		return errAccountNumber
	}
	if i, err := num.Int64(); err == nil {
		*n = AccountNumber(strconv.FormatInt(i, 10))
		return nil
	}
	f, err := num.Float64()
	if err != nil || f != math.Trunc(f) || math.Abs(f) > maxExactFloat {
		return errAccountNumber
	}
	*n = AccountNumber(strconv.FormatInt(int64(f), 10))
	return nil
}

// ValidateRequest is the payload a terminal sends to validate and bind itself.
type ValidateRequest struct {
	LicenseKey      string        `json:"license_key" validate:"required"`
	AccountNumber   AccountNumber `json:"account_number" validate:"required"`
	IPAddress       string        `json:"ip_address"`
	BrokerServer    string        `json:"broker_server"`
	BrokerCompany   string        `json:"broker_company"`
	AccountName     string        `json:"account_name"`
	TerminalName    string        `json:"terminal_name"`
	TerminalBuild   string        `json:"terminal_build"`
	TerminalCompany string        `json:"terminal_company"`
	ComputerName    string        `json:"computer_name"`
	OSVersion       string        `json:"os_version"`
}

// normalize trims the license key and IP. The account number is matched
// exactly as sent.
func (r *ValidateRequest) normalize() {
	r.LicenseKey = strings.TrimSpace(r.LicenseKey)
	r.IPAddress = strings.TrimSpace(r.IPAddress)
}

// usageMetadata is the audit payload stored with each validation.
func (r *ValidateRequest) usageMetadata(now time.Time, newSeat bool) json.RawMessage {
	b, _ := json.Marshal(map[string]any{
		"account_number":   string(r.AccountNumber),
		"account_name":     r.AccountName,
		"broker_server":    r.BrokerServer,
		"broker_company":   r.BrokerCompany,
		"terminal_name":    r.TerminalName,
		"terminal_build":   r.TerminalBuild,
		"terminal_company": r.TerminalCompany,
		"computer_name":    r.ComputerName,
		"os_version":       r.OSVersion,
		"ip_address":       r.IPAddress,
		"new_account":      newSeat,
		"timestamp":        now.UTC().Format(time.RFC3339),
	})
	return b
}

func (r *ValidateRequest) terminalInfo() json.RawMessage {
	b, _ := json.Marshal(map[string]string{
		"terminal_name":    r.TerminalName,
		"terminal_build":   r.TerminalBuild,
		"terminal_company": r.TerminalCompany,
		"computer_name":    r.ComputerName,
		"os_version":       r.OSVersion,
		"broker_server":    r.BrokerServer,
	})
	return b
}

// ValidateResult describes a granted validation.
type ValidateResult struct {
	LicenseID      uuid.UUID
	BoundAccountID uuid.UUID
	NewAccount     bool
	ProductName    string
	ExpiresAt      *time.Time
	AccountsUsed   int
	MaxAccounts    int
	DaysRemaining  *int
}

// KeyPrefix returns the first group of a license key, safe to put in logs.
func KeyPrefix(key string) string {
	if i := strings.IndexByte(key, '-'); i > 0 {
		return key[:i]
	}
	if len(key) > 8 {
		return key[:8]
	}
	return key
}
