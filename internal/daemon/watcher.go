// Package daemon implements the applock daemon: the foreground watcher that
// feeds the decision engine, and the auto-unlock scheduler.
package daemon

import (
	"context"
	"errors"
	"os"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/app_lock/internal/domain"
	"github.com/eliteGoblin/focusd/app_lock/internal/usecase"
)

// WatcherConfig holds watcher daemon configuration.
type WatcherConfig struct {
	Retention         time.Duration // Statistics older than this are pruned
	RetentionInterval time.Duration // How often the retention sweep runs after start-up
	HeartbeatInterval time.Duration // How often to update heartbeat
}

// DefaultWatcherConfig returns default watcher configuration.
func DefaultWatcherConfig() WatcherConfig {
	return WatcherConfig{
		Retention:         30 * 24 * time.Hour,
		RetentionInterval: 24 * time.Hour,
		HeartbeatInterval: 30 * time.Second,
	}
}

// UnlockApplier drains overlay unlocks queued by one-shot CLI commands.
type UnlockApplier interface {
	ApplyUnlockRequests(ctx context.Context) (int, error)
}

// Watcher is the applock daemon.
// It forwards foreground observations to the engine, runs the engine and the
// auto-unlock scheduler, presents block decisions, and maps signals from
// one-shot CLI commands to engine events.
type Watcher struct {
	config    WatcherConfig
	engine    *usecase.Engine
	store     *usecase.LockStateStore
	stats     *usecase.StatisticsRecorder
	scheduler *Scheduler
	monitor   domain.ForegroundMonitor
	presenter domain.BlockPresenter
	registry  domain.DaemonRegistry
	unlocks   UnlockApplier
	signals   <-chan os.Signal
	logger    *zap.Logger
	daemon    domain.DaemonInfo
}

// NewWatcher creates a new watcher daemon. monitor, registry, unlocks and
// signals may be nil.
func NewWatcher(
	config WatcherConfig,
	engine *usecase.Engine,
	store *usecase.LockStateStore,
	stats *usecase.StatisticsRecorder,
	scheduler *Scheduler,
	monitor domain.ForegroundMonitor,
	presenter domain.BlockPresenter,
	registry domain.DaemonRegistry,
	unlocks UnlockApplier,
	signals <-chan os.Signal,
	daemon domain.DaemonInfo,
	logger *zap.Logger,
) *Watcher {
	return &Watcher{
		config:    config,
		engine:    engine,
		store:     store,
		stats:     stats,
		scheduler: scheduler,
		monitor:   monitor,
		presenter: presenter,
		registry:  registry,
		unlocks:   unlocks,
		signals:   signals,
		daemon:    daemon,
		logger:    logger,
	}
}

// Run starts the watcher daemon loop.
// This blocks until context is canceled or a component fails.
func (w *Watcher) Run(ctx context.Context) error {
	if w.registry != nil {
		if err := w.registry.Register(w.daemon); err != nil {
			w.logger.Error("failed to register daemon", zap.Error(err))
			return err
		}
		defer func() {
			if err := w.registry.Clear(); err != nil {
				w.logger.Warn("failed to clear daemon registry", zap.Error(err))
			}
		}()
	}

	w.logger.Info("watcher daemon started", zap.Int("pid", w.daemon.PID))

	// Run retention sweep immediately on startup
	w.pruneStatistics()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Subscribe before anything can change the overlay set.
	overlays := w.engine.SubscribeOverlays(ctx)

	var wg sync.WaitGroup
	failed := make(chan error, 3)
	start := func(name string, run func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				w.logger.Error("component stopped", zap.String("component", name), zap.Error(err))
				failed <- err
			}
		}()
	}

	start("engine", w.engine.Run)
	start("scheduler", w.scheduler.Run)
	if w.monitor != nil {
		start("monitor", func(ctx context.Context) error {
			return w.monitor.Run(ctx, w.onForeground)
		})
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		usecase.ForwardOverlays(ctx, overlays, w.presenter, w.logger)
	}()

	retentionTicker := time.NewTicker(w.config.RetentionInterval)
	heartbeatTicker := time.NewTicker(w.config.HeartbeatInterval)
	defer func() {
		retentionTicker.Stop()
		heartbeatTicker.Stop()
	}()

	stop := func(err error) error {
		cancel()
		wg.Wait()
		return err
	}

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("watcher daemon stopping")
			return stop(ctx.Err())

		case err := <-failed:
			return stop(err)

		case sig := <-w.signals:
			if err := w.HandleSignal(ctx, sig); err != nil {
				w.logger.Warn("signal handling failed", zap.Stringer("signal", sig), zap.Error(err))
			}

		case <-retentionTicker.C:
			w.pruneStatistics()

		case <-heartbeatTicker.C:
			if w.registry == nil {
				continue
			}
			if err := w.registry.UpdateHeartbeat(); err != nil {
				w.logger.Warn("failed to update heartbeat", zap.Error(err))
			}
		}
	}
}

// HandleSignal maps a control signal to its action:
// SIGUSR1 is a tag tap, SIGUSR2 a UI toggle, SIGHUP reloads settings and
// applies queued overlay unlocks.
func (w *Watcher) HandleSignal(ctx context.Context, sig os.Signal) error {
	switch sig {
	case syscall.SIGUSR1:
		res, err := w.engine.Dispatch(ctx, usecase.TagTapped())
		if err == nil {
			w.logger.Info("tag tap handled", zap.Bool("locked", res.State.IsLocked))
		}
		return err
	case syscall.SIGUSR2:
		res, err := w.engine.Dispatch(ctx, usecase.ToggleRequested())
		if err == nil {
			w.logger.Info("toggle handled", zap.Bool("locked", res.State.IsLocked))
		}
		return err
	case syscall.SIGHUP:
		if err := w.store.Reload(); err != nil {
			return err
		}
		if w.unlocks == nil {
			return nil
		}
		n, err := w.unlocks.ApplyUnlockRequests(ctx)
		if n > 0 {
			w.logger.Info("queued unlocks applied", zap.Int("count", n))
		}
		return err
	default:
		w.logger.Debug("ignoring signal", zap.Stringer("signal", sig))
		return nil
	}
}

// onForeground never blocks the monitor; a full queue drops the observation.
func (w *Watcher) onForeground(pkg string) {
	w.engine.Post(usecase.ForegroundChanged(pkg))
}

// pruneStatistics applies the retention window.
func (w *Watcher) pruneStatistics() {
	removed, err := w.stats.Prune(w.config.Retention)
	if err != nil {
		w.logger.Error("retention sweep failed", zap.Error(err))
		return
	}
	w.logger.Debug("retention sweep completed", zap.Int64("removed", removed))
}
