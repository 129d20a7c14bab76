package domain

import (
	"context"
	"syscall"
	"time"
)

// Preference keys of the key-value store.
const (
	KeyIsLocked           = "is_locked"
	KeyLockTimestamp      = "lock_timestamp"
	KeyAutoUnlockDuration = "auto_unlock_duration"
	KeyPinEnabled         = "pin_enabled"
	KeyPinCode            = "pin_code"
)

// PreferenceStore is the key-value store backing LockState.
// Implementation: preferences table in the encrypted database.
type PreferenceStore interface {
	// Get returns the value for key and whether it was present.
	Get(key string) (string, bool, error)

	// SetMany writes all values in a single transaction.
	SetMany(values map[string]string) error
}

// LockedAppRepository persists the set of protected apps.
type LockedAppRepository interface {
	// Insert adds or replaces an entry.
	Insert(app LockedApp) error

	// Delete removes an entry; deleting an absent package is not an error.
	Delete(packageName string) error

	// Get returns the entry or ErrAppNotFound.
	Get(packageName string) (*LockedApp, error)

	// Exists reports whether the package is registered.
	Exists(packageName string) (bool, error)

	// List returns all entries ordered by AppName ascending.
	List() ([]LockedApp, error)

	// Count returns the number of entries.
	Count() (int, error)

	// DeleteAll empties the registry.
	DeleteAll() error
}

// StatisticsRepository persists the append-only usage log.
type StatisticsRepository interface {
	// Insert appends an event and returns its assigned ID.
	Insert(event StatisticEvent) (int64, error)

	// Recent returns up to limit events, newest first (ties by ID descending).
	Recent(limit int) ([]StatisticEvent, error)

	// CountByType counts events of one type.
	CountByType(eventType EventType) (int, error)

	// ForPackage returns every event of one package, newest first.
	ForPackage(packageName string) ([]StatisticEvent, error)

	// DeleteBefore removes events with Timestamp strictly before cutoff.
	DeleteBefore(cutoff time.Time) (int64, error)

	// DeleteAll empties the log.
	DeleteAll() error
}

// UnlockRequestQueue hands overlay unlocks from one-shot commands to the
// daemon. Implementation: unlock_requests table in the encrypted database.
type UnlockRequestQueue interface {
	// Push appends a request and returns its assigned ID.
	Push(req UnlockRequest) (int64, error)

	// PopAll removes and returns every queued request, oldest first.
	PopAll() ([]UnlockRequest, error)
}

// KeyProvider abstracts the source of the database encryption key.
type KeyProvider interface {
	// GetKey returns the encryption key bytes.
	GetKey() ([]byte, error)

	// StoreKey persists a new encryption key.
	StoreKey(key []byte) error

	// KeyExists checks if a key has been generated.
	KeyExists() bool
}

// PinVerifier compares a candidate PIN against the stored form.
type PinVerifier interface {
	// Verify reports whether candidate matches stored. It performs no validation.
	Verify(candidate, stored string) bool

	// Seal converts an entered secret into the form that gets persisted.
	Seal(secret string) (string, error)
}

// AppNameResolver maps a package identifier to a human-readable label.
type AppNameResolver interface {
	ResolveName(packageName string) (string, error)
}

// ForegroundMonitor reports the application currently in front.
// Duplicates are expected; the engine debounces them.
type ForegroundMonitor interface {
	// Run blocks until ctx is canceled, calling notify for every observation.
	Run(ctx context.Context, notify func(packageName string)) error
}

// ProcessManager handles OS process operations.
// Implementation: uses gopsutil for cross-platform support.
type ProcessManager interface {
	// FindByName returns PIDs of processes whose name matches exactly.
	FindByName(name string) ([]int, error)

	// Signal delivers sig to pid.
	Signal(pid int, sig syscall.Signal) error

	// IsRunning checks if a process with given PID exists.
	IsRunning(pid int) bool

	// GetCurrentPID returns the current process PID.
	GetCurrentPID() int
}

// BlockPresenter shows and hides the block screen for an app.
// Implementations must not block the caller for long.
type BlockPresenter interface {
	Present(decision BlockDecision) error
	Dismiss(packageName string) error
}

// DaemonRegistry records the running daemon so one-shot CLI commands can
// reach it. Implementation: JSON file in the data directory.
type DaemonRegistry interface {
	// Register records the current daemon, replacing any previous entry.
	Register(info DaemonInfo) error

	// Get returns the recorded daemon, or nil when none is registered.
	Get() (*DaemonInfo, error)

	// UpdateHeartbeat refreshes the liveness timestamp.
	UpdateHeartbeat() error

	// IsAlive reports whether the recorded daemon process still exists.
	IsAlive() (bool, error)

	// Clear removes the registry entry.
	Clear() error

	// Path returns the registry file location.
	Path() string
}

// ServiceInstaller registers the daemon with the OS service manager so it
// starts at login (user mode) or boot (system mode).
// Implementation: launchd plist.
type ServiceInstaller interface {
	// Install writes the service definition for execPath and loads it.
	Install(execPath string) error

	// Uninstall unloads and removes the service definition.
	Uninstall() error

	// IsInstalled reports whether a service definition exists.
	IsInstalled() bool

	// NeedsUpdate reports whether the installed definition differs from
	// the one that would be generated for execPath.
	NeedsUpdate(execPath string) bool

	// Update rewrites and reloads the service definition.
	Update(execPath string) error

	// Path returns the service definition file location.
	Path() string
}
