package services

import (
	"fmt"
	"time"
)

// ActivationKind classifies why a validation was refused.
type ActivationKind string

const (
	KindBadRequest        ActivationKind = "bad_request"
	KindInvalidKey        ActivationKind = "invalid_key"
	KindLicenseNotActive  ActivationKind = "license_not_active"
	KindLicenseExpired    ActivationKind = "license_expired"
	KindSeatLimitExceeded ActivationKind = "seat_limit_exceeded"
	KindServerError       ActivationKind = "server_error"
)

// ActivationError is the refusal returned by ValidateAndActivate. Only the
// fields relevant to Kind are populated.
type ActivationError struct {
	Kind            ActivationKind
	Message         string
	Status          string
	ExpiresAt       *time.Time
	CurrentAccounts int
	MaxAccounts     int
	Err             error
}

func (e *ActivationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *ActivationError) Unwrap() error { return e.Err }

func errBadRequest() *ActivationError {
	return &ActivationError{Kind: KindBadRequest, Message: "license_key and account_number are required"}
}

func errInvalidKey() *ActivationError {
	return &ActivationError{Kind: KindInvalidKey, Message: "Invalid license key"}
}

func errNotActive(status string) *ActivationError {
	return &ActivationError{Kind: KindLicenseNotActive, Message: "License is " + status, Status: status}
}

func errExpired(expiresAt *time.Time) *ActivationError {
	return &ActivationError{Kind: KindLicenseExpired, Message: "License has expired", Status: "expired", ExpiresAt: expiresAt}
}

func errSeatLimit(current, maxAccounts int) *ActivationError {
	return &ActivationError{
		Kind:            KindSeatLimitExceeded,
		Message:         fmt.Sprintf("Maximum number of accounts reached (%d/%d)", current, maxAccounts),
		CurrentAccounts: current,
		MaxAccounts:     maxAccounts,
	}
}

func errServer(op string, err error) *ActivationError {
	return &ActivationError{Kind: KindServerError, Message: "Internal server error", Err: fmt.Errorf("%s: %w", op, err)}
}
