package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/eliteGoblin/focusd/app_lock/internal/domain"
)

// UnlockRequestTTL bounds how long a queued overlay unlock stays valid.
// Older requests were meant for an overlay that is long gone.
const UnlockRequestTTL = time.Minute

// Controller is the control surface used by the CLI: every global lock flip
// goes through the engine, settings go straight to their stores.
type Controller struct {
	engine   *Engine
	store    *LockStateStore
	registry *LockedAppRegistry
	stats    *StatisticsRecorder
	unlocks  domain.UnlockRequestQueue
	limiter  *rate.Limiter
	now      func() time.Time
	logger   *zap.Logger
}

// NewController wires the components. attemptsPerMinute > 0 throttles PIN
// attempts; 0 disables throttling. unlocks may be nil when no daemon
// hand-off is needed.
func NewController(
	engine *Engine,
	store *LockStateStore,
	registry *LockedAppRegistry,
	stats *StatisticsRecorder,
	unlocks domain.UnlockRequestQueue,
	attemptsPerMinute int,
	logger *zap.Logger,
) *Controller {
	c := &Controller{
		engine:   engine,
		store:    store,
		registry: registry,
		stats:    stats,
		unlocks:  unlocks,
		now:      time.Now,
		logger:   logger,
	}
	if attemptsPerMinute > 0 {
		c.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(attemptsPerMinute)), attemptsPerMinute)
	}
	return c
}

// State returns the current lock state.
func (c *Controller) State() domain.LockState {
	return c.store.State()
}

// ToggleGlobalLock flips the lock as the UI switch does.
func (c *Controller) ToggleGlobalLock(ctx context.Context) (domain.LockState, error) {
	res, err := c.engine.Dispatch(ctx, ToggleRequested())
	return res.State, err
}

// TapTag flips the lock as a tag tap does.
func (c *Controller) TapTag(ctx context.Context) (domain.LockState, error) {
	res, err := c.engine.Dispatch(ctx, TagTapped())
	return res.State, err
}

// ToggleAppLock registers or unregisters one app. It returns whether the
// app is locked afterwards.
func (c *Controller) ToggleAppLock(pkg, appName string) (bool, error) {
	return c.registry.Toggle(pkg, appName)
}

// SetPin validates and stores a new PIN, enabling PIN protection.
func (c *Controller) SetPin(secret, confirm string) error {
	if err := ValidatePin(secret, confirm); err != nil {
		return err
	}
	if err := c.store.SetPin(secret); err != nil {
		return fmt.Errorf("failed to save PIN: %w", err)
	}
	c.logger.Info("PIN updated")
	return nil
}

// SetPinEnabled turns PIN protection on or off. Enabling requires a stored PIN.
func (c *Controller) SetPinEnabled(enabled bool) error {
	if enabled && !c.store.State().HasPin() {
		return &domain.ValidationError{Field: "pin", Message: "set a PIN before enabling PIN protection"}
	}
	return c.store.SetPinEnabled(enabled)
}

// SetAutoUnlockMinutes changes the auto-unlock duration.
func (c *Controller) SetAutoUnlockMinutes(minutes int) error {
	return c.store.SetAutoUnlockMinutes(minutes)
}

// VerifyPin checks candidate against the stored PIN. A mismatch is
// (false, nil); a throttled attempt returns ErrPinThrottled.
func (c *Controller) VerifyPin(candidate string) (bool, error) {
	if c.limiter != nil && !c.limiter.Allow() {
		c.logger.Warn("PIN attempt throttled")
		return false, domain.ErrPinThrottled
	}
	return c.store.VerifyPin(candidate), nil
}

// UnlockBlockedApp runs the overlay flow for pkg. With PIN protection off
// the overlay is simply dismissed; otherwise candidate must match.
func (c *Controller) UnlockBlockedApp(ctx context.Context, pkg, candidate string) (bool, error) {
	verified, ok, err := c.checkUnlock(pkg, candidate)
	if err != nil || !ok {
		return false, err
	}
	if _, err := c.engine.Dispatch(ctx, unlockEvent(pkg, verified)); err != nil {
		return false, err
	}
	return true, nil
}

// RequestUnlock runs the same checks as UnlockBlockedApp but queues the
// outcome for the daemon instead of dispatching it here. The daemon picks
// it up in ApplyUnlockRequests.
func (c *Controller) RequestUnlock(pkg, candidate string) (bool, error) {
	if c.unlocks == nil {
		return false, errors.New("no unlock queue configured")
	}
	verified, ok, err := c.checkUnlock(pkg, candidate)
	if err != nil || !ok {
		return false, err
	}
	req := domain.UnlockRequest{PackageName: pkg, PinVerified: verified, RequestedAt: c.now()}
	if _, err := c.unlocks.Push(req); err != nil {
		return false, err
	}
	c.logger.Info("unlock queued", zap.String("package", pkg), zap.Bool("pin", verified))
	return true, nil
}

// ApplyUnlockRequests dispatches every queued unlock to the engine and
// returns how many were applied. Requests older than UnlockRequestTTL are
// dropped.
func (c *Controller) ApplyUnlockRequests(ctx context.Context) (int, error) {
	if c.unlocks == nil {
		return 0, nil
	}
	reqs, err := c.unlocks.PopAll()
	if err != nil {
		return 0, err
	}

	applied := 0
	now := c.now()
	var firstErr error
	for _, req := range reqs {
		if now.Sub(req.RequestedAt) > UnlockRequestTTL {
			c.logger.Warn("dropping expired unlock request",
				zap.String("package", req.PackageName),
				zap.Time("requested_at", req.RequestedAt))
			continue
		}
		if _, err := c.engine.Dispatch(ctx, unlockEvent(req.PackageName, req.PinVerified)); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		applied++
	}
	return applied, firstErr
}

// checkUnlock reports whether the PIN was required (verified) and whether
// the unlock may proceed.
func (c *Controller) checkUnlock(pkg, candidate string) (verified, ok bool, err error) {
	if pkg == "" {
		return false, false, &domain.ValidationError{Field: "package", Message: "package name is required"}
	}
	state := c.store.State()
	if !state.PinEnabled || !state.HasPin() {
		return false, true, nil
	}
	ok, err = c.VerifyPin(candidate)
	return true, ok, err
}

func unlockEvent(pkg string, pinVerified bool) Event {
	if pinVerified {
		return PinUnlockSucceeded(pkg)
	}
	return OverlayDismissed(pkg)
}

// ClearAllLocks empties the locked-app registry.
func (c *Controller) ClearAllLocks() error {
	return c.registry.ClearAll()
}

// LockedApps lists registered apps.
func (c *Controller) LockedApps() ([]domain.LockedApp, error) {
	return c.registry.List()
}

// RecentStatistics returns up to limit events, newest first.
func (c *Controller) RecentStatistics(limit int) ([]domain.StatisticEvent, error) {
	return c.stats.Recent(limit)
}

// TotalBlockedCount counts APP_BLOCKED events.
func (c *Controller) TotalBlockedCount() (int, error) {
	return c.stats.TotalBlocked()
}

// PruneStatistics removes events older than olderThan.
func (c *Controller) PruneStatistics(olderThan time.Duration) (int64, error) {
	return c.stats.Prune(olderThan)
}

// FormatRemaining renders seconds as MM:SS. Negative input renders as 00:00.
func FormatRemaining(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}

// RemainingSeconds returns the whole seconds left until auto-unlock,
// rounded up, or 0 when unlocked or overdue.
func RemainingSeconds(state domain.LockState, now time.Time) int {
	if !state.IsLocked {
		return 0
	}
	ms := state.RemainingMillis(now)
	if ms <= 0 {
		return 0
	}
	return int((ms + 999) / 1000)
}
