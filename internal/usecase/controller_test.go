package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/app_lock/internal/domain"
)

func newTestController(t *testing.T, attemptsPerMinute int) (*Controller, *fixture) {
	t.Helper()
	f := newFixture(t, EngineConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = f.engine.Run(ctx) }()

	c := NewController(f.engine, f.store, f.registry, f.recorder, f.unlocks, attemptsPerMinute, zap.NewNop())
	c.now = f.clock.Now
	return c, f
}

func TestController_ToggleAndTap(t *testing.T) {
	c, f := newTestController(t, 0)
	ctx := context.Background()

	state, err := c.ToggleGlobalLock(ctx)
	require.NoError(t, err)
	assert.True(t, state.IsLocked)

	state, err = c.TapTag(ctx)
	require.NoError(t, err)
	assert.False(t, state.IsLocked)

	assert.Equal(t, []domain.EventType{domain.EventLockEnabled, domain.EventNFCUnlock}, f.stats.types())
}

func TestController_SetPin(t *testing.T) {
	c, _ := newTestController(t, 0)

	err := c.SetPin("12", "12")
	assert.EqualError(t, err, "PIN must be at least 4 digits")
	assert.False(t, c.State().HasPin())

	require.NoError(t, c.SetPin("2468", "2468"))
	assert.True(t, c.State().PinEnabled)

	ok, err := c.VerifyPin("2468")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.VerifyPin("0000")
	require.NoError(t, err, "a wrong PIN is not an error")
	assert.False(t, ok)
}

func TestController_SetPinEnabledRequiresPin(t *testing.T) {
	c, _ := newTestController(t, 0)

	err := c.SetPinEnabled(true)
	assert.True(t, domain.IsValidation(err))
	assert.False(t, c.State().PinEnabled)

	require.NoError(t, c.SetPinEnabled(false))
}

func TestController_VerifyPinThrottled(t *testing.T) {
	c, _ := newTestController(t, 3)
	require.NoError(t, c.SetPin("1357", "1357"))

	for i := 0; i < 3; i++ {
		_, err := c.VerifyPin("0000")
		require.NoError(t, err)
	}

	ok, err := c.VerifyPin("1357")
	assert.ErrorIs(t, err, domain.ErrPinThrottled)
	assert.False(t, ok)
}

func TestController_UnlockBlockedApp(t *testing.T) {
	ctx := context.Background()

	t.Run("PIN disabled dismisses without statistic", func(t *testing.T) {
		c, f := newTestController(t, 0)
		require.NoError(t, f.registry.Add(pkgA, "Alpha"))
		_, err := c.ToggleGlobalLock(ctx)
		require.NoError(t, err)
		_, err = f.engine.Dispatch(ctx, ForegroundChanged(pkgA))
		require.NoError(t, err)

		ok, err := c.UnlockBlockedApp(ctx, pkgA, "")
		require.NoError(t, err)
		assert.True(t, ok)

		n, err := f.recorder.CountByType(domain.EventManualUnlock)
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("wrong PIN keeps the overlay", func(t *testing.T) {
		c, f := newTestController(t, 0)
		require.NoError(t, c.SetPin("1234", "1234"))

		ok, err := c.UnlockBlockedApp(ctx, pkgA, "9999")
		require.NoError(t, err)
		assert.False(t, ok)

		n, err := f.recorder.CountByType(domain.EventManualUnlock)
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("correct PIN records MANUAL_UNLOCK", func(t *testing.T) {
		c, f := newTestController(t, 0)
		require.NoError(t, f.registry.Add(pkgA, "Alpha"))
		require.NoError(t, c.SetPin("1234", "1234"))
		_, err := c.ToggleGlobalLock(ctx)
		require.NoError(t, err)

		ok, err := c.UnlockBlockedApp(ctx, pkgA, "1234")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.True(t, c.State().IsLocked)

		events, err := c.RecentStatistics(1)
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, domain.EventManualUnlock, events[0].EventType)
		assert.Equal(t, pkgA, events[0].PackageName)
	})
}

func TestController_RequestUnlock(t *testing.T) {
	ctx := context.Background()

	t.Run("wrong PIN is not queued", func(t *testing.T) {
		c, f := newTestController(t, 0)
		require.NoError(t, c.SetPin("1234", "1234"))

		ok, err := c.RequestUnlock(pkgA, "0000")
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Zero(t, f.unlocks.len())
	})

	t.Run("empty package rejected", func(t *testing.T) {
		c, _ := newTestController(t, 0)
		_, err := c.RequestUnlock("", "")
		var verr *domain.ValidationError
		assert.ErrorAs(t, err, &verr)
	})

	t.Run("queued PIN unlock applies as MANUAL_UNLOCK", func(t *testing.T) {
		c, f := newTestController(t, 0)
		require.NoError(t, f.registry.Add(pkgA, "Alpha"))
		require.NoError(t, c.SetPin("1234", "1234"))
		_, err := c.ToggleGlobalLock(ctx)
		require.NoError(t, err)
		res, err := f.engine.Dispatch(ctx, ForegroundChanged(pkgA))
		require.NoError(t, err)
		require.NotNil(t, res.Decision)

		ok, err := c.RequestUnlock(pkgA, "1234")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, 1, f.unlocks.len())

		n, err := c.ApplyUnlockRequests(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		assert.Zero(t, f.unlocks.len())

		count, err := f.recorder.CountByType(domain.EventManualUnlock)
		require.NoError(t, err)
		assert.Equal(t, 1, count)
	})

	t.Run("expired requests are dropped", func(t *testing.T) {
		c, f := newTestController(t, 0)
		ok, err := c.RequestUnlock(pkgA, "")
		require.NoError(t, err)
		require.True(t, ok)

		f.clock.Advance(UnlockRequestTTL + time.Second)
		n, err := c.ApplyUnlockRequests(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)
		assert.Zero(t, f.unlocks.len())
	})

	t.Run("no queue configured", func(t *testing.T) {
		f := newFixture(t, EngineConfig{})
		c := NewController(f.engine, f.store, f.registry, f.recorder, nil, 0, zap.NewNop())
		_, err := c.RequestUnlock(pkgA, "")
		assert.Error(t, err)
		n, err := c.ApplyUnlockRequests(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}

func TestController_AppsAndStatistics(t *testing.T) {
	c, f := newTestController(t, 0)

	locked, err := c.ToggleAppLock(pkgA, "Alpha")
	require.NoError(t, err)
	assert.True(t, locked)

	apps, err := c.LockedApps()
	require.NoError(t, err)
	assert.Len(t, apps, 1)

	require.NoError(t, c.ClearAllLocks())
	apps, err = c.LockedApps()
	require.NoError(t, err)
	assert.Empty(t, apps)

	_, err = f.recorder.Append(domain.StatisticEvent{
		PackageName: pkgA,
		AppName:     "Alpha",
		EventType:   domain.EventAppBlocked,
		Timestamp:   f.clock.Now().Add(-40 * 24 * time.Hour),
	})
	require.NoError(t, err)
	total, err := c.TotalBlockedCount()
	require.NoError(t, err)
	assert.Equal(t, 1, total)

	removed, err := c.PruneStatistics(30 * 24 * time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)
}

func TestController_SetAutoUnlockMinutes(t *testing.T) {
	c, _ := newTestController(t, 0)

	assert.ErrorIs(t, c.SetAutoUnlockMinutes(11), domain.ErrInvalidDuration)
	require.NoError(t, c.SetAutoUnlockMinutes(60))
	assert.Equal(t, 60, c.State().AutoUnlockMinutes)
}

func TestFormatRemaining(t *testing.T) {
	tests := []struct {
		seconds int
		want    string
	}{
		{seconds: 0, want: "00:00"},
		{seconds: 59, want: "00:59"},
		{seconds: 1200, want: "20:00"},
		{seconds: 7199, want: "119:59"},
		{seconds: -4, want: "00:00"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatRemaining(tt.seconds))
	}
}

func TestRemainingSeconds(t *testing.T) {
	lockedAt := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	state := domain.LockState{IsLocked: true, LockedAt: lockedAt, AutoUnlockMinutes: 20}

	assert.Equal(t, 1200, RemainingSeconds(state, lockedAt))
	assert.Equal(t, 1, RemainingSeconds(state, lockedAt.Add(20*time.Minute-time.Millisecond)))
	assert.Equal(t, 0, RemainingSeconds(state, lockedAt.Add(20*time.Minute)))
	assert.Equal(t, 0, RemainingSeconds(domain.LockState{AutoUnlockMinutes: 20}, lockedAt))
}
