package daemon

import (
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/app_lock/internal/config"
	"github.com/eliteGoblin/focusd/app_lock/internal/domain"
	"github.com/eliteGoblin/focusd/app_lock/internal/infra"
	"github.com/eliteGoblin/focusd/app_lock/internal/policy"
	"github.com/eliteGoblin/focusd/app_lock/internal/usecase"
)

// App holds every component wired from one configuration and data directory.
type App struct {
	Config     config.Config
	DataDir    string
	DB         *infra.Database
	Store      *usecase.LockStateStore
	Registry   *usecase.LockedAppRegistry
	Stats      *usecase.StatisticsRecorder
	Engine     *usecase.Engine
	Scheduler  *Scheduler
	Controller *usecase.Controller
	Processes  domain.ProcessManager
	Daemons    domain.DaemonRegistry
	logger     *zap.Logger
}

// NewApp opens the encrypted database in dataDir and wires the components.
func NewApp(cfg config.Config, dataDir string, logger *zap.Logger) (*App, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	db, err := infra.OpenDataDir(dataDir)
	if err != nil {
		return nil, err
	}

	var verifier domain.PinVerifier = usecase.PlainVerifier{}
	if cfg.Pin.Hashed {
		verifier = infra.NewBcryptVerifier()
	}

	store, err := usecase.NewLockStateStore(infra.NewPreferenceStore(db), verifier, logger)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to load lock state: %w", err)
	}

	registry := usecase.NewLockedAppRegistry(infra.NewLockedAppRepository(db), logger)
	stats := usecase.NewStatisticsRecorder(infra.NewStatisticsRepository(db), cfg.Statistics.RecentLimit, logger)

	engine := usecase.NewEngine(store, registry, stats, usecase.EngineConfig{
		QueueSize:        cfg.Engine.QueueSize,
		SubscriberBuffer: cfg.Engine.SubscriberBuffer,
		Exemptions:       policy.NewExemptionPolicy(cfg.HostPackage, cfg.ExemptPrefixes...),
	}, logger)

	scheduler := NewScheduler(SchedulerConfig{TickInterval: cfg.Scheduler.TickInterval.Duration}, store, engine, logger)
	controller := usecase.NewController(engine, store, registry, stats,
		infra.NewUnlockRequestQueue(db), cfg.Pin.AttemptsPerMinute, logger)
	pm := infra.NewProcessManager()

	return &App{
		Config:     cfg,
		DataDir:    dataDir,
		DB:         db,
		Store:      store,
		Registry:   registry,
		Stats:      stats,
		Engine:     engine,
		Scheduler:  scheduler,
		Controller: controller,
		Processes:  pm,
		Daemons:    infra.NewFileRegistry(dataDir, pm),
		logger:     logger,
	}, nil
}

// Presenter returns the BlockPresenter selected by block.mode.
func (a *App) Presenter() domain.BlockPresenter {
	if a.Config.Block.Mode == config.BlockModeSuspend {
		return usecase.NewEnforcer(a.Processes, a.logger)
	}
	return usecase.NewLogPresenter(a.logger)
}

// Monitor returns the foreground monitor, or nil when disabled.
func (a *App) Monitor() domain.ForegroundMonitor {
	if !a.Config.Monitor.Enabled {
		return nil
	}
	return infra.NewProcessMonitor(a.Config.Monitor.PollInterval.Duration, []string{infra.BinaryName}, a.logger)
}

// NewWatcher builds the daemon loop around the app's components.
func (a *App) NewWatcher(monitor domain.ForegroundMonitor, signals <-chan os.Signal, version string) *Watcher {
	cfg := DefaultWatcherConfig()
	cfg.Retention = a.Config.Retention()

	return NewWatcher(cfg, a.Engine, a.Store, a.Stats, a.Scheduler, monitor, a.Presenter(), a.Daemons, a.Controller, signals,
		domain.DaemonInfo{
			PID:       os.Getpid(),
			StartedAt: time.Now(),
			Version:   version,
		}, a.logger)
}

// Close releases subscriptions and the database.
func (a *App) Close() error {
	a.Store.Close()
	a.Registry.Close()
	a.Stats.Close()
	return a.DB.Close()
}
