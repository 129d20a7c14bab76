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

func newTestRecorder(t *testing.T) (*StatisticsRecorder, *memStatistics, *fakeClock) {
	t.Helper()
	repo := newMemStatistics()
	clock := newFakeClock()
	return NewStatisticsRecorderWithClock(repo, 5, clock.Now, zap.NewNop()), repo, clock
}

func TestStatisticsRecorder_IDsIncrease(t *testing.T) {
	rec, _, _ := newTestRecorder(t)

	var last int64
	for i := 0; i < 5; i++ {
		ev, err := rec.Record(pkgA, "Alpha", domain.EventAppBlocked)
		require.NoError(t, err)
		assert.Greater(t, ev.ID, last)
		last = ev.ID
	}
}

func TestStatisticsRecorder_RecentOrdering(t *testing.T) {
	rec, _, clock := newTestRecorder(t)

	_, err := rec.Record(pkgA, "Alpha", domain.EventAppBlocked)
	require.NoError(t, err)
	clock.Advance(time.Second)
	tie1, err := rec.Record(pkgB, "Bravo", domain.EventAppBlocked)
	require.NoError(t, err)
	tie2, err := rec.Record(pkgC, "Charlie", domain.EventManualUnlock)
	require.NoError(t, err)

	recent, err := rec.Recent(2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, tie2.ID, recent[0].ID, "equal timestamps order by id descending")
	assert.Equal(t, tie1.ID, recent[1].ID)

	all, err := rec.Recent(0)
	require.NoError(t, err)
	assert.Len(t, all, 3, "non-positive limit uses the configured default")
}

func TestStatisticsRecorder_PruneCutoff(t *testing.T) {
	rec, repo, clock := newTestRecorder(t)
	now := clock.Now()
	retention := 30 * 24 * time.Hour

	for _, ts := range []time.Time{
		now.Add(-retention - time.Millisecond),
		now.Add(-retention),
		now.Add(-retention + time.Millisecond),
		now,
	} {
		_, err := rec.Append(domain.StatisticEvent{
			PackageName: pkgA,
			AppName:     "Alpha",
			EventType:   domain.EventAppBlocked,
			Timestamp:   ts,
		})
		require.NoError(t, err)
	}

	removed, err := rec.Prune(retention)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	left, err := repo.Recent(10)
	require.NoError(t, err)
	require.Len(t, left, 3)
	for _, ev := range left {
		assert.False(t, ev.Timestamp.Before(now.Add(-retention)))
	}
}

func TestStatisticsRecorder_ForPackageAndCounts(t *testing.T) {
	rec, _, clock := newTestRecorder(t)

	_, _ = rec.Record(pkgA, "Alpha", domain.EventAppBlocked)
	clock.Advance(time.Second)
	_, _ = rec.Record(pkgB, "Bravo", domain.EventAppBlocked)
	clock.Advance(time.Second)
	_, _ = rec.Record(pkgA, "Alpha", domain.EventManualUnlock)

	history, err := rec.ForPackage(pkgA)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, domain.EventManualUnlock, history[0].EventType)

	total, err := rec.TotalBlocked()
	require.NoError(t, err)
	assert.Equal(t, 2, total)

	require.NoError(t, rec.ClearAll())
	total, err = rec.TotalBlocked()
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestStatisticsRecorder_Subscribe(t *testing.T) {
	rec, _, _ := newTestRecorder(t)
	_, err := rec.Record(pkgA, "Alpha", domain.EventAppBlocked)
	require.NoError(t, err)

	sub := rec.Subscribe(context.Background())
	defer sub.Cancel()

	first := <-sub.C()
	assert.Equal(t, 1, first.TotalBlocked)
	assert.Len(t, first.Recent, 1)

	_, err = rec.Record(domain.SystemPackage, domain.SystemAppName, domain.EventLockEnabled)
	require.NoError(t, err)

	second := <-sub.C()
	assert.Equal(t, 1, second.TotalBlocked)
	require.Len(t, second.Recent, 2)
	assert.Equal(t, domain.EventLockEnabled, second.Recent[0].EventType)
}
