package domain

import "errors"

var (
	// ErrInvalidDuration is returned for an auto-unlock value outside the option set.
	ErrInvalidDuration = errors.New("invalid auto-unlock duration")

	// ErrAppNotFound is returned when a package is not in the locked-app registry.
	ErrAppNotFound = errors.New("locked app not found")

	// ErrPinThrottled is returned when too many PIN attempts were made recently.
	ErrPinThrottled = errors.New("too many PIN attempts, try again later")

	// ErrEngineStopped is returned when an event is submitted after the engine loop exited.
	ErrEngineStopped = errors.New("decision engine stopped")

	// ErrBackupCorrupt is returned when a snapshot fails checksum verification.
	ErrBackupCorrupt = errors.New("backup is corrupt")

	// ErrBackupTooNew is returned when a snapshot was written by a newer release.
	ErrBackupTooNew = errors.New("backup was created by a newer version")
)

// ValidationError is a boundary rejection carrying a user-facing message.
// Nothing is mutated when one is returned.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
