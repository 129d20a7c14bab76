package policy

import (
	"fmt"
	"slices"

	"github.com/eliteGoblin/focusd/app_lock/internal/domain"
)

// AutoUnlockOptions are the only auto-unlock durations (minutes) a user may pick.
var AutoUnlockOptions = []int{5, 10, 15, 20, 30, 45, 60, 90, 120}

// IsValidAutoUnlock reports whether minutes is one of AutoUnlockOptions.
func IsValidAutoUnlock(minutes int) bool {
	return slices.Contains(AutoUnlockOptions, minutes)
}

// ValidateAutoUnlock returns a wrapped domain.ErrInvalidDuration for values
// outside AutoUnlockOptions.
func ValidateAutoUnlock(minutes int) error {
	if !IsValidAutoUnlock(minutes) {
		return fmt.Errorf("%w: %d minutes (allowed: %v)", domain.ErrInvalidDuration, minutes, AutoUnlockOptions)
	}
	return nil
}
