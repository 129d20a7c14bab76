package usecase

import (
	"github.com/eliteGoblin/focusd/app_lock/internal/domain"
)

// PIN length bounds accepted by ValidatePin.
const (
	MinPinLength = 4
	MaxPinLength = 6
)

// PlainVerifier stores the PIN as entered and compares by exact equality.
type PlainVerifier struct{}

var _ domain.PinVerifier = PlainVerifier{}

// Verify reports candidate == stored.
func (PlainVerifier) Verify(candidate, stored string) bool {
	return candidate == stored
}

// Seal returns secret unchanged.
func (PlainVerifier) Seal(secret string) (string, error) {
	return secret, nil
}

// ValidatePin checks a new PIN and its confirmation before it is stored.
func ValidatePin(pin, confirm string) error {
	for _, r := range pin {
		if r < '0' || r > '9' {
			return &domain.ValidationError{Field: "pin", Message: "PIN must contain digits only"}
		}
	}
	switch {
	case len(pin) < MinPinLength:
		return &domain.ValidationError{Field: "pin", Message: "PIN must be at least 4 digits"}
	case len(pin) > MaxPinLength:
		return &domain.ValidationError{Field: "pin", Message: "PIN must be at most 6 digits"}
	case pin != confirm:
		return &domain.ValidationError{Field: "confirm", Message: "PINs do not match"}
	}
	return nil
}
