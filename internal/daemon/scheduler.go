package daemon

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/app_lock/internal/domain"
	"github.com/eliteGoblin/focusd/app_lock/internal/pubsub"
	"github.com/eliteGoblin/focusd/app_lock/internal/usecase"
)

// StateSource is the part of the lock state store the scheduler reads.
type StateSource interface {
	State() domain.LockState
	Subscribe(ctx context.Context) *pubsub.Subscription[domain.LockState]
}

// TimerSink receives auto-unlock expiries.
type TimerSink interface {
	ExpireTimer(ctx context.Context, lockedAt time.Time) error
}

// SchedulerConfig holds auto-unlock scheduler configuration.
type SchedulerConfig struct {
	TickInterval  time.Duration // How often the countdown is recomputed
	RetryInterval time.Duration // How long to wait before resubmitting an expiry the engine did not act on
}

// DefaultSchedulerConfig returns default scheduler configuration.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		TickInterval:  time.Second,
		RetryInterval: 10 * time.Second,
	}
}

// Scheduler counts down to auto-unlock while the device is locked.
//
// The remaining time is recomputed from the stored LockedAt on every tick,
// so a slow or paused process never drifts. Once the deadline passes a
// TimerExpired is submitted, and resubmitted every RetryInterval until the
// store reports the lock gone or replaced. The engine rejects an expiry
// whose deadline it does not yet see as reached (e.g. the wall clock was
// stepped back), so a single submission is not enough.
type Scheduler struct {
	config SchedulerConfig
	source StateSource
	sink   TimerSink
	now    func() time.Time
	logger *zap.Logger

	remaining *pubsub.Broadcaster[int]
	fired     atomic.Uint64

	// Owned by the Run goroutine.
	armed  domain.LockState
	cancel context.CancelFunc
	done   chan struct{}
}

// NewScheduler creates a scheduler reading source and reporting to sink.
func NewScheduler(config SchedulerConfig, source StateSource, sink TimerSink, logger *zap.Logger) *Scheduler {
	return NewSchedulerWithClock(config, source, sink, time.Now, logger)
}

// NewSchedulerWithClock creates a scheduler with an injectable clock (for testing).
func NewSchedulerWithClock(config SchedulerConfig, source StateSource, sink TimerSink, now func() time.Time, logger *zap.Logger) *Scheduler {
	if config.TickInterval <= 0 {
		config.TickInterval = DefaultSchedulerConfig().TickInterval
	}
	if config.RetryInterval <= 0 {
		config.RetryInterval = DefaultSchedulerConfig().RetryInterval
	}
	return &Scheduler{
		config:    config,
		source:    source,
		sink:      sink,
		now:       now,
		logger:    logger,
		remaining: pubsub.NewState[int](pubsub.DefaultBuffer),
	}
}

// Run follows lock state changes until ctx is canceled.
func (s *Scheduler) Run(ctx context.Context) error {
	sub := s.source.Subscribe(ctx)
	defer sub.Cancel()
	defer s.disarm()

	s.logger.Info("auto-unlock scheduler started", zap.Duration("tick", s.config.TickInterval))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("auto-unlock scheduler stopping")
			return ctx.Err()
		case state, ok := <-sub.C():
			if !ok {
				return nil
			}
			s.apply(ctx, state)
		}
	}
}

// SubscribeRemaining streams whole seconds until auto-unlock (0 while unlocked).
func (s *Scheduler) SubscribeRemaining(ctx context.Context) *pubsub.Subscription[int] {
	return s.remaining.SubscribeContext(ctx)
}

// Fired returns how many expiries were submitted, retries included.
func (s *Scheduler) Fired() uint64 {
	return s.fired.Load()
}

func (s *Scheduler) apply(ctx context.Context, state domain.LockState) {
	if !state.IsLocked {
		if s.cancel != nil {
			s.logger.Debug("auto-unlock countdown cancelled")
		}
		s.disarm()
		s.remaining.Publish(0)
		return
	}

	if s.cancel != nil &&
		s.armed.LockedAt.Equal(state.LockedAt) &&
		s.armed.AutoUnlockMinutes == state.AutoUnlockMinutes {
		return
	}

	s.disarm()
	watchCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.armed, s.cancel, s.done = state, cancel, done

	s.logger.Info("auto-unlock countdown armed",
		zap.Time("locked_at", state.LockedAt),
		zap.Int("minutes", state.AutoUnlockMinutes))
	go s.watch(watchCtx, state, done)
}

// disarm stops the countdown and waits for its goroutine to exit.
func (s *Scheduler) disarm() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.cancel, s.done = nil, nil
	s.armed = domain.LockState{}
}

func (s *Scheduler) watch(ctx context.Context, armed domain.LockState, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.config.TickInterval)
	defer ticker.Stop()

	// Retries are counted in ticks, not wall time, so a clock step cannot
	// stall or hurry them.
	retryTicks := int((s.config.RetryInterval + s.config.TickInterval - 1) / s.config.TickInterval)
	cd := countdown{retryTicks: retryTicks}
	for {
		if s.tick(ctx, armed, &cd) {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// countdown is the per-lock retry state of one watch goroutine.
type countdown struct {
	retryTicks int
	submitted  bool
	sinceFired int
}

// tick reports whether the countdown is finished.
func (s *Scheduler) tick(ctx context.Context, armed domain.LockState, cd *countdown) bool {
	lockedAt := armed.LockedAt
	state := s.source.State()
	if !state.IsLocked || !state.LockedAt.Equal(lockedAt) || state.AutoUnlockMinutes != armed.AutoUnlockMinutes {
		// Superseded; apply re-arms for the new lock if there is one.
		return true
	}

	now := s.now()
	if state.RemainingMillis(now) > 0 {
		cd.submitted = false
		s.remaining.Publish(usecase.RemainingSeconds(state, now))
		return false
	}

	s.remaining.Publish(0)
	if cd.submitted {
		cd.sinceFired++
		if cd.sinceFired < cd.retryTicks {
			return false
		}
		s.logger.Warn("auto-unlock not applied, resubmitting", zap.Time("locked_at", lockedAt))
	}
	if ctx.Err() != nil {
		return true
	}
	if err := s.sink.ExpireTimer(ctx, lockedAt); err != nil {
		s.logger.Warn("failed to submit auto-unlock", zap.Error(err))
		return true
	}
	s.fired.Add(1)
	cd.submitted, cd.sinceFired = true, 0
	s.logger.Info("auto-unlock deadline reached", zap.Time("locked_at", lockedAt))
	return false
}
