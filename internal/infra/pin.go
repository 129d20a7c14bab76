package infra

import (
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/eliteGoblin/focusd/app_lock/internal/domain"
)

// bcryptPrefix marks a stored PIN as hashed.
const bcryptPrefix = "$2"

// BcryptVerifier stores PINs as salted bcrypt hashes and compares hashes.
type BcryptVerifier struct {
	cost int
}

// NewBcryptVerifier creates a verifier with bcrypt.DefaultCost.
func NewBcryptVerifier() *BcryptVerifier {
	return &BcryptVerifier{cost: bcrypt.DefaultCost}
}

// NewBcryptVerifierWithCost creates a verifier with a custom cost (tests use bcrypt.MinCost).
func NewBcryptVerifierWithCost(cost int) *BcryptVerifier {
	return &BcryptVerifier{cost: cost}
}

// Seal hashes secret.
func (v *BcryptVerifier) Seal(secret string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), v.cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash PIN: %w", err)
	}
	return string(hash), nil
}

// Verify compares candidate against a bcrypt hash. A PIN stored before hashing
// was enabled is still accepted by exact comparison so switching modes does
// not lock the user out.
func (v *BcryptVerifier) Verify(candidate, stored string) bool {
	if stored == "" {
		return false
	}
	if !strings.HasPrefix(stored, bcryptPrefix) {
		return candidate == stored
	}
	return bcrypt.CompareHashAndPassword([]byte(stored), []byte(candidate)) == nil
}

// Ensure BcryptVerifier implements domain.PinVerifier.
var _ domain.PinVerifier = (*BcryptVerifier)(nil)
