// Package domain contains core business entities and interfaces.
// This is the innermost layer in Clean Architecture - no external dependencies.
package domain

import (
	"fmt"
	"time"
)

// DefaultAutoUnlockMinutes is the auto-unlock duration used until the user picks one.
const DefaultAutoUnlockMinutes = 20

// System identity used for statistics that are not tied to a specific app
// (global lock on/off transitions).
const (
	SystemPackage = "system"
	SystemAppName = "System"
)

// EventType classifies a recorded statistic.
type EventType string

const (
	EventLockEnabled  EventType = "LOCK_ENABLED"
	EventLockDisabled EventType = "LOCK_DISABLED"
	EventAppBlocked   EventType = "APP_BLOCKED"
	EventManualUnlock EventType = "MANUAL_UNLOCK"
	EventNFCUnlock    EventType = "NFC_UNLOCK"
	// EventAutoUnlock is part of the persisted vocabulary but nothing records it:
	// timer expiry is logged as EventLockDisabled.
	EventAutoUnlock EventType = "AUTO_UNLOCK"
)

// AllEventTypes lists every known event type in declaration order.
var AllEventTypes = []EventType{
	EventLockEnabled,
	EventLockDisabled,
	EventAppBlocked,
	EventManualUnlock,
	EventNFCUnlock,
	EventAutoUnlock,
}

// ParseEventType converts a stored string back into an EventType.
func ParseEventType(s string) (EventType, error) {
	for _, t := range AllEventTypes {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown event type: %q", s)
}

// Trigger identifies what asked for a global lock flip.
type Trigger string

const (
	TriggerTag   Trigger = "tag"
	TriggerUI    Trigger = "ui"
	TriggerTimer Trigger = "timer"
)

// LockState is the process-wide lock configuration and status.
// LockedAt is only meaningful while IsLocked is true.
type LockState struct {
	IsLocked          bool
	LockedAt          time.Time
	AutoUnlockMinutes int
	PinEnabled        bool
	PinSecret         string // empty when no PIN was ever set
}

// DefaultLockState returns the state used on first access.
func DefaultLockState() LockState {
	return LockState{AutoUnlockMinutes: DefaultAutoUnlockMinutes}
}

// AutoUnlockAfter returns the configured auto-unlock duration.
func (s LockState) AutoUnlockAfter() time.Duration {
	return time.Duration(s.AutoUnlockMinutes) * time.Minute
}

// RemainingMillis computes autoUnlockMinutes*60000 - (now - lockedAt).
// The result may be negative once the deadline has passed.
func (s LockState) RemainingMillis(now time.Time) int64 {
	return int64(s.AutoUnlockMinutes)*60000 - (now.UnixMilli() - s.LockedAt.UnixMilli())
}

// HasPin reports whether a PIN secret is stored.
func (s LockState) HasPin() bool {
	return s.PinSecret != ""
}

// LockedApp is an application the user chose to protect.
type LockedApp struct {
	PackageName string
	AppName     string
	AddedAt     time.Time
}

// StatisticEvent is one immutable row of the usage log.
type StatisticEvent struct {
	ID          int64
	PackageName string
	AppName     string
	EventType   EventType
	Timestamp   time.Time
}

// BlockDecision asks the overlay collaborator to cover PackageName.
type BlockDecision struct {
	PackageName string
	AppName     string
	DecidedAt   time.Time
}

// UnlockRequest asks the running daemon to release the overlay of one app.
// PinVerified distinguishes a PIN unlock from a plain dismissal.
type UnlockRequest struct {
	ID          int64
	PackageName string
	PinVerified bool
	RequestedAt time.Time
}

// OverlaySet holds the block decisions whose overlay is currently up,
// keyed by package. Each published set replaces the previous one.
type OverlaySet map[string]BlockDecision

// StatisticsSnapshot is what statistics subscribers receive after each change.
type StatisticsSnapshot struct {
	Recent       []StatisticEvent
	TotalBlocked int
}

// DaemonInfo is what the daemon registry stores about the running daemon.
type DaemonInfo struct {
	PID           int       `json:"pid"`
	StartedAt     time.Time `json:"started_at"`
	Version       string    `json:"version,omitempty"`
	Mode          string    `json:"mode"`
	LastHeartbeat int64     `json:"last_heartbeat"`
}
