// Package usecase contains application business logic: the lock state
// store, the locked-app registry, the statistics recorder and the decision
// engine that ties them together.
package usecase

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/app_lock/internal/domain"
	"github.com/eliteGoblin/focusd/app_lock/internal/policy"
	"github.com/eliteGoblin/focusd/app_lock/internal/pubsub"
)

// LockTransition describes the effect of one SetLocked call.
type LockTransition struct {
	Before domain.LockState
	After  domain.LockState
}

// Changed reports whether IsLocked flipped.
func (t LockTransition) Changed() bool {
	return t.Before.IsLocked != t.After.IsLocked
}

// Locked reports a false→true transition.
func (t LockTransition) Locked() bool {
	return !t.Before.IsLocked && t.After.IsLocked
}

// Unlocked reports a true→false transition.
func (t LockTransition) Unlocked() bool {
	return t.Before.IsLocked && !t.After.IsLocked
}

// LockStateStore owns the process-wide LockState.
//
// Every mutation is persisted in one PreferenceStore transaction before the
// in-memory snapshot is replaced, so readers never see a half-applied update.
// Changes are published to subscribers in mutation order.
type LockStateStore struct {
	mu       sync.RWMutex
	state    domain.LockState
	prefs    domain.PreferenceStore
	verifier domain.PinVerifier
	now      func() time.Time
	changes  *pubsub.Broadcaster[domain.LockState]
	logger   *zap.Logger
}

// NewLockStateStore loads the persisted state, falling back to defaults for
// missing keys.
func NewLockStateStore(prefs domain.PreferenceStore, verifier domain.PinVerifier, logger *zap.Logger) (*LockStateStore, error) {
	return NewLockStateStoreWithClock(prefs, verifier, time.Now, logger)
}

// NewLockStateStoreWithClock is NewLockStateStore with an injectable clock (for testing).
func NewLockStateStoreWithClock(prefs domain.PreferenceStore, verifier domain.PinVerifier, now func() time.Time, logger *zap.Logger) (*LockStateStore, error) {
	if verifier == nil {
		verifier = PlainVerifier{}
	}
	s := &LockStateStore{
		prefs:    prefs,
		verifier: verifier,
		now:      now,
		changes:  pubsub.NewState[domain.LockState](pubsub.DefaultBuffer),
		logger:   logger,
	}

	state, err := s.load()
	if err != nil {
		return nil, err
	}
	s.state = state
	s.changes.Publish(state)
	return s, nil
}

// State returns a consistent snapshot.
func (s *LockStateStore) State() domain.LockState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Subscribe returns a stream of states, starting with the current one.
// Slow subscribers lose their oldest pending states.
func (s *LockStateStore) Subscribe(ctx context.Context) *pubsub.Subscription[domain.LockState] {
	return s.changes.SubscribeContext(ctx)
}

// SetLocked sets the global lock flag. LockedAt is stamped only on a
// false→true transition; setting the current value is a no-op.
func (s *LockStateStore) SetLocked(locked bool) (LockTransition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	before := s.state
	if before.IsLocked == locked {
		return LockTransition{Before: before, After: before}, nil
	}

	next := before
	next.IsLocked = locked
	values := map[string]string{domain.KeyIsLocked: strconv.FormatBool(locked)}
	if locked {
		// Millisecond precision matches what survives a reload.
		next.LockedAt = time.UnixMilli(s.now().UnixMilli())
		values[domain.KeyLockTimestamp] = strconv.FormatInt(next.LockedAt.UnixMilli(), 10)
	}

	if err := s.commit(next, values); err != nil {
		return LockTransition{Before: before, After: before}, err
	}
	return LockTransition{Before: before, After: next}, nil
}

// SetAutoUnlockMinutes changes the auto-unlock duration. Values outside
// policy.AutoUnlockOptions are rejected without mutation.
func (s *LockStateStore) SetAutoUnlockMinutes(minutes int) error {
	if err := policy.ValidateAutoUnlock(minutes); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.AutoUnlockMinutes == minutes {
		return nil
	}
	next := s.state
	next.AutoUnlockMinutes = minutes
	return s.commit(next, map[string]string{domain.KeyAutoUnlockDuration: strconv.Itoa(minutes)})
}

// SetPinEnabled toggles PIN protection of the block overlay.
func (s *LockStateStore) SetPinEnabled(enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.PinEnabled == enabled {
		return nil
	}
	next := s.state
	next.PinEnabled = enabled
	return s.commit(next, map[string]string{domain.KeyPinEnabled: strconv.FormatBool(enabled)})
}

// SetPin stores secret (sealed by the verifier) and enables PIN protection.
// Callers validate the secret first; see ValidatePin.
func (s *LockStateStore) SetPin(secret string) error {
	sealed, err := s.verifier.Seal(secret)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.state
	next.PinSecret = sealed
	next.PinEnabled = true
	return s.commit(next, map[string]string{
		domain.KeyPinCode:    sealed,
		domain.KeyPinEnabled: "true",
	})
}

// VerifyPin compares candidate with the stored secret. It does not look at
// PinEnabled; callers decide whether a PIN is required.
func (s *LockStateStore) VerifyPin(candidate string) bool {
	stored := s.State().PinSecret
	if stored == "" {
		return false
	}
	return s.verifier.Verify(candidate, stored)
}

// Reload re-reads the persisted state, picking up settings written by
// another process.
func (s *LockStateStore) Reload() error {
	state, err := s.load()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if state == s.state {
		return nil
	}
	s.state = state
	s.changes.Publish(state)
	s.logger.Info("lock state reloaded",
		zap.Bool("locked", state.IsLocked),
		zap.Int("auto_unlock_minutes", state.AutoUnlockMinutes),
		zap.Bool("pin_enabled", state.PinEnabled))
	return nil
}

// Close ends every state subscription.
func (s *LockStateStore) Close() {
	s.changes.Close()
}

// commit persists values then swaps in next. Caller holds s.mu.
func (s *LockStateStore) commit(next domain.LockState, values map[string]string) error {
	if err := s.prefs.SetMany(values); err != nil {
		return fmt.Errorf("failed to persist lock state: %w", err)
	}
	s.state = next
	s.changes.Publish(next)
	return nil
}

func (s *LockStateStore) load() (domain.LockState, error) {
	state := domain.DefaultLockState()

	raw := make(map[string]string)
	for _, key := range []string{
		domain.KeyIsLocked,
		domain.KeyLockTimestamp,
		domain.KeyAutoUnlockDuration,
		domain.KeyPinEnabled,
		domain.KeyPinCode,
	} {
		v, ok, err := s.prefs.Get(key)
		if err != nil {
			return state, err
		}
		if ok {
			raw[key] = v
		}
	}

	if v, ok := raw[domain.KeyIsLocked]; ok {
		state.IsLocked = parseBool(v)
	}
	if v, ok := raw[domain.KeyLockTimestamp]; ok {
		if ms, err := strconv.ParseInt(v, 10, 64); err == nil && ms > 0 {
			state.LockedAt = time.UnixMilli(ms)
		}
	}
	if v, ok := raw[domain.KeyAutoUnlockDuration]; ok {
		m, err := strconv.Atoi(v)
		if err == nil && m > 0 {
			state.AutoUnlockMinutes = m
		} else {
			s.logger.Warn("ignoring invalid stored auto-unlock duration", zap.String("value", v))
		}
	}
	if v, ok := raw[domain.KeyPinEnabled]; ok {
		state.PinEnabled = parseBool(v)
	}
	state.PinSecret = raw[domain.KeyPinCode]

	if state.IsLocked && state.LockedAt.IsZero() {
		// Locked without a timestamp cannot be timed; treat the load time as the lock time.
		state.LockedAt = time.UnixMilli(s.now().UnixMilli())
	}
	return state, nil
}

func parseBool(v string) bool {
	b, err := strconv.ParseBool(v)
	return err == nil && b
}
