package usecase

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/app_lock/internal/domain"
	"github.com/eliteGoblin/focusd/app_lock/internal/pubsub"
)

// DefaultRecentLimit bounds the Recent list carried in published snapshots.
const DefaultRecentLimit = 100

// StatisticsRecorder appends to and queries the usage log.
type StatisticsRecorder struct {
	repo        domain.StatisticsRepository
	now         func() time.Time
	recentLimit int
	snapshots   *pubsub.Broadcaster[domain.StatisticsSnapshot]
	logger      *zap.Logger
}

// NewStatisticsRecorder creates a recorder over repo.
func NewStatisticsRecorder(repo domain.StatisticsRepository, recentLimit int, logger *zap.Logger) *StatisticsRecorder {
	return NewStatisticsRecorderWithClock(repo, recentLimit, time.Now, logger)
}

// NewStatisticsRecorderWithClock creates a recorder with an injectable clock (for testing).
func NewStatisticsRecorderWithClock(repo domain.StatisticsRepository, recentLimit int, now func() time.Time, logger *zap.Logger) *StatisticsRecorder {
	if recentLimit <= 0 {
		recentLimit = DefaultRecentLimit
	}
	return &StatisticsRecorder{
		repo:        repo,
		now:         now,
		recentLimit: recentLimit,
		snapshots:   pubsub.New[domain.StatisticsSnapshot](pubsub.DefaultBuffer),
		logger:      logger,
	}
}

// Record appends an event stamped with the current time.
func (s *StatisticsRecorder) Record(pkg, appName string, eventType domain.EventType) (domain.StatisticEvent, error) {
	return s.Append(domain.StatisticEvent{
		PackageName: pkg,
		AppName:     appName,
		EventType:   eventType,
	})
}

// Append stores ev and returns it with its assigned ID. A zero Timestamp is
// replaced by the current time.
func (s *StatisticsRecorder) Append(ev domain.StatisticEvent) (domain.StatisticEvent, error) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = s.now()
	}
	id, err := s.repo.Insert(ev)
	if err != nil {
		return ev, fmt.Errorf("failed to record %s: %w", ev.EventType, err)
	}
	ev.ID = id
	s.publish()
	return ev, nil
}

// Recent returns up to limit events, newest first.
func (s *StatisticsRecorder) Recent(limit int) ([]domain.StatisticEvent, error) {
	if limit <= 0 {
		limit = s.recentLimit
	}
	return s.repo.Recent(limit)
}

// CountByType counts events of one type.
func (s *StatisticsRecorder) CountByType(eventType domain.EventType) (int, error) {
	return s.repo.CountByType(eventType)
}

// TotalBlocked counts APP_BLOCKED events.
func (s *StatisticsRecorder) TotalBlocked() (int, error) {
	return s.repo.CountByType(domain.EventAppBlocked)
}

// ForPackage returns the history of one package, newest first.
func (s *StatisticsRecorder) ForPackage(pkg string) ([]domain.StatisticEvent, error) {
	return s.repo.ForPackage(pkg)
}

// Prune deletes events older than olderThan and returns how many were removed.
func (s *StatisticsRecorder) Prune(olderThan time.Duration) (int64, error) {
	cutoff := s.now().Add(-olderThan)
	n, err := s.repo.DeleteBefore(cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune statistics: %w", err)
	}
	if n > 0 {
		s.logger.Info("pruned statistics", zap.Int64("removed", n), zap.Time("cutoff", cutoff))
		s.publish()
	}
	return n, nil
}

// ClearAll empties the log.
func (s *StatisticsRecorder) ClearAll() error {
	if err := s.repo.DeleteAll(); err != nil {
		return fmt.Errorf("failed to clear statistics: %w", err)
	}
	s.publish()
	return nil
}

// Snapshot reads the recent list and the blocked total.
func (s *StatisticsRecorder) Snapshot() (domain.StatisticsSnapshot, error) {
	recent, err := s.repo.Recent(s.recentLimit)
	if err != nil {
		return domain.StatisticsSnapshot{}, err
	}
	total, err := s.repo.CountByType(domain.EventAppBlocked)
	if err != nil {
		return domain.StatisticsSnapshot{}, err
	}
	return domain.StatisticsSnapshot{Recent: recent, TotalBlocked: total}, nil
}

// Subscribe streams snapshots after every mutation, starting with the current one.
func (s *StatisticsRecorder) Subscribe(ctx context.Context) *pubsub.Subscription[domain.StatisticsSnapshot] {
	sub := s.snapshots.SubscribeContext(ctx)
	s.publish()
	return sub
}

// Close ends every snapshot subscription.
func (s *StatisticsRecorder) Close() {
	s.snapshots.Close()
}

// publish skips the queries while nobody listens.
func (s *StatisticsRecorder) publish() {
	if s.snapshots.Len() == 0 {
		return
	}
	snap, err := s.Snapshot()
	if err != nil {
		s.logger.Warn("failed to build statistics snapshot", zap.Error(err))
		return
	}
	s.snapshots.Publish(snap)
}
