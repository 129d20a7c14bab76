// Package main is the CLI entry point for applock.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/eliteGoblin/focusd/app_lock/internal/config"
	"github.com/eliteGoblin/focusd/app_lock/internal/daemon"
	"github.com/eliteGoblin/focusd/app_lock/internal/domain"
	"github.com/eliteGoblin/focusd/app_lock/internal/infra"
	"github.com/eliteGoblin/focusd/app_lock/internal/policy"
	"github.com/eliteGoblin/focusd/app_lock/internal/usecase"
)

var (
	// Version info (set via ldflags)
	Version   = "0.1.0"
	Commit    = "dev"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "applock",
	Short: "App lock - blocks chosen apps while the device is locked",
	Long: `applock keeps a global lock flag and a list of protected apps.
While locked, bringing a protected app to the foreground blocks it.
A tag tap (or the toggle command) flips the lock; the lock releases
itself after the configured auto-unlock duration.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the daemon in the foreground",
	Long: `Runs the foreground monitor, decision engine and auto-unlock scheduler.
Signals: SIGUSR1 = tag tap, SIGUSR2 = toggle, SIGHUP = reload settings,
SIGINT/SIGTERM = stop.`,
	RunE: runDaemon,
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the daemon in the background",
	RunE:  runStart,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show lock status",
	RunE:  runStatus,
}

var tapCmd = &cobra.Command{
	Use:   "tap",
	Short: "Simulate a tag tap (locks, or unlocks recording NFC_UNLOCK)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return flipLock(cmd.Context(), syscall.SIGUSR1, func(c *usecase.Controller, ctx context.Context) (domain.LockState, error) {
			return c.TapTag(ctx)
		})
	},
}

var toggleCmd = &cobra.Command{
	Use:   "toggle",
	Short: "Toggle the global lock from the UI",
	RunE: func(cmd *cobra.Command, args []string) error {
		return flipLock(cmd.Context(), syscall.SIGUSR2, func(c *usecase.Controller, ctx context.Context) (domain.LockState, error) {
			return c.ToggleGlobalLock(ctx)
		})
	},
}

var durationCmd = &cobra.Command{
	Use:   "duration [minutes]",
	Short: "Show or set the auto-unlock duration",
	Long:  fmt.Sprintf("Valid durations (minutes): %v", policy.AutoUnlockOptions),
	Args:  cobra.MaximumNArgs(1),
	RunE:  runDuration,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Prints version, commit, and build time. Use --json for machine-readable output.`,
	Run:   runVersion,
}

var (
	configPath string
	dataDir    string
	jsonOutput bool
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default <data dir>/config.toml)")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "Data directory (default by execution mode)")
	versionCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output version info as JSON")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(tapCmd)
	rootCmd.AddCommand(toggleCmd)
	rootCmd.AddCommand(durationCmd)
	rootCmd.AddCommand(appsCmd)
	rootCmd.AddCommand(pinCmd)
	rootCmd.AddCommand(unlockCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(installCmd)
	rootCmd.AddCommand(uninstallCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig resolves the config file and data directory from flags.
func loadConfig() (config.Config, string, error) {
	execMode := infra.DetectExecMode()

	dir := dataDir
	path := configPath
	if path == "" {
		base := dir
		if base == "" {
			base = execMode.DataDir
		}
		path = filepath.Join(base, config.FileName)
	}

	cfg, err := config.Load(path)
	if err != nil {
		return cfg, "", err
	}
	if dir == "" {
		dir = cfg.DataDir
	}
	if dir == "" {
		dir = execMode.DataDir
	}
	return cfg, dir, nil
}

// openApp wires the components for a one-shot command.
func openApp(logger *zap.Logger) (*daemon.App, error) {
	cfg, dir, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return daemon.NewApp(cfg, dir, logger)
}

// withEngine runs the app's engine for the duration of fn.
func withEngine(ctx context.Context, app *daemon.App, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = app.Engine.Run(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()
	return fn(ctx)
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, dir, err := loadConfig()
	if err != nil {
		return err
	}

	logger := createLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	app, err := daemon.NewApp(cfg, dir, logger)
	if err != nil {
		logger.Error("failed to initialize", zap.Error(err))
		return err
	}
	defer app.Close()

	if alive, _ := app.Daemons.IsAlive(); alive {
		return fmt.Errorf("applock daemon already running (see %s)", app.Daemons.Path())
	}

	// Set up graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-shutdown
		logger.Info("received shutdown signal")
		cancel()
	}()

	control := make(chan os.Signal, 4)
	signal.Notify(control, syscall.SIGUSR1, syscall.SIGUSR2, syscall.SIGHUP)
	defer signal.Stop(control)

	logger.Info("applock starting",
		zap.String("version", Version),
		zap.String("data_dir", dir),
		zap.String("block_mode", cfg.Block.Mode))

	watcher := app.NewWatcher(app.Monitor(), control, Version)
	if err := watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func runStart(cmd *cobra.Command, args []string) error {
	_, dir, err := loadConfig()
	if err != nil {
		return err
	}

	pm := infra.NewProcessManager()
	registry := infra.NewFileRegistry(dir, pm)
	if alive, _ := registry.IsAlive(); alive {
		fmt.Println("applock is already running")
		return nil
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}
	if err := daemon.StartDaemon(configPath, dir); err != nil {
		return err
	}

	// Wait a moment for the daemon to register
	time.Sleep(500 * time.Millisecond)

	if alive, _ := registry.IsAlive(); alive {
		fmt.Println("applock daemon started")
	} else {
		fmt.Println("applock daemon launched; check the log if it does not appear in 'applock status'")
	}
	return nil
}

// flipLock asks a running daemon to flip the lock, or flips it in-process
// when no daemon is running.
func flipLock(ctx context.Context, sig syscall.Signal, local func(*usecase.Controller, context.Context) (domain.LockState, error)) error {
	if ctx == nil {
		ctx = context.Background()
	}

	logger := createCLILogger()
	defer func() { _ = logger.Sync() }()

	app, err := openApp(logger)
	if err != nil {
		return err
	}
	defer app.Close()

	pid, err := daemon.SignalDaemon(app.Daemons, app.Processes, sig)
	if err == nil {
		fmt.Printf("Sent %s to daemon (pid %d)\n", sig, pid)
		return nil
	}
	if !errors.Is(err, daemon.ErrDaemonNotRunning) {
		return err
	}

	var state domain.LockState
	if err := withEngine(ctx, app, func(ctx context.Context) error {
		state, err = local(app.Controller, ctx)
		return err
	}); err != nil {
		return err
	}
	printLockState(state, time.Now())
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	logger := createCLILogger()
	defer func() { _ = logger.Sync() }()

	app, err := openApp(logger)
	if err != nil {
		return err
	}
	defer app.Close()

	fmt.Println("\n=== applock Status ===")

	info, _ := app.Daemons.Get()
	if alive, _ := app.Daemons.IsAlive(); alive && info != nil {
		fmt.Printf("Daemon: %s (pid %d, mode %s)\n", color.GreenString("RUNNING"), info.PID, info.Mode)
		if info.LastHeartbeat > 0 {
			lastBeat := time.Unix(info.LastHeartbeat, 0)
			fmt.Printf("Last heartbeat: %s ago\n", time.Since(lastBeat).Round(time.Second))
		}
	} else {
		fmt.Printf("Daemon: %s\n", color.YellowString("NOT RUNNING"))
	}

	printLockState(app.Store.State(), time.Now())

	count, err := app.Registry.Count()
	if err != nil {
		return err
	}
	blocked, err := app.Stats.TotalBlocked()
	if err != nil {
		return err
	}
	fmt.Printf("Locked apps: %d\n", count)
	fmt.Printf("Blocked attempts: %d\n", blocked)
	fmt.Printf("Data dir: %s\n", app.DataDir)
	fmt.Println("======================")
	return nil
}

func printLockState(state domain.LockState, now time.Time) {
	if state.IsLocked {
		fmt.Printf("Lock: %s\n", color.New(color.FgRed, color.Bold).Sprint("LOCKED"))
		fmt.Printf("Auto-unlock in: %s\n", usecase.FormatRemaining(usecase.RemainingSeconds(state, now)))
	} else {
		fmt.Printf("Lock: %s\n", color.New(color.FgGreen, color.Bold).Sprint("UNLOCKED"))
	}
	fmt.Printf("Auto-unlock duration: %d min\n", state.AutoUnlockMinutes)
	pin := "disabled"
	if state.PinEnabled {
		pin = "enabled"
	}
	fmt.Printf("PIN: %s\n", pin)
}

func runDuration(cmd *cobra.Command, args []string) error {
	logger := createCLILogger()
	defer func() { _ = logger.Sync() }()

	app, err := openApp(logger)
	if err != nil {
		return err
	}
	defer app.Close()

	if len(args) == 0 {
		fmt.Printf("Auto-unlock duration: %d min\n", app.Store.State().AutoUnlockMinutes)
		return nil
	}

	minutes, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("minutes must be a number: %w", err)
	}
	if err := app.Controller.SetAutoUnlockMinutes(minutes); err != nil {
		return fmt.Errorf("%w (valid: %v)", err, policy.AutoUnlockOptions)
	}
	fmt.Printf("Auto-unlock duration set to %d min\n", minutes)
	notifyReload(app)
	return nil
}

// notifyReload tells a running daemon to re-read settings.
func notifyReload(app *daemon.App) {
	if _, err := daemon.SignalDaemon(app.Daemons, app.Processes, syscall.SIGHUP); err == nil {
		fmt.Println("Daemon notified")
	}
}

func createLogger(cfg config.LogConfig) *zap.Logger {
	zcfg := zap.NewProductionConfig()
	zcfg.OutputPaths = cfg.OutputPaths
	zcfg.ErrorOutputPaths = cfg.ErrorOutputPaths
	zcfg.EncoderConfig.TimeKey = "time"
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if level, err := zapcore.ParseLevel(cfg.Level); err == nil {
		zcfg.Level = zap.NewAtomicLevelAt(level)
	}

	logger, err := zcfg.Build()
	if err != nil {
		// Fallback to stdout if file logging fails
		logger, _ = zap.NewProduction()
	}
	return logger
}

// createCLILogger keeps one-shot commands quiet unless something goes wrong.
func createCLILogger() *zap.Logger {
	zcfg := zap.NewDevelopmentConfig()
	zcfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	logger, err := zcfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

func runVersion(cmd *cobra.Command, args []string) {
	if jsonOutput {
		out, _ := json.Marshal(map[string]string{
			"version":    Version,
			"commit":     Commit,
			"build_time": BuildTime,
		})
		fmt.Println(string(out))
	} else {
		fmt.Printf("applock %s (commit: %s, built: %s)\n",
			Version, Commit, BuildTime)
	}
}
