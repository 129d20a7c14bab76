package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/eliteGoblin/focusd/app_lock/internal/daemon"
	"github.com/eliteGoblin/focusd/app_lock/internal/domain"
	"github.com/eliteGoblin/focusd/app_lock/internal/infra"
)

var appsCmd = &cobra.Command{
	Use:   "apps",
	Short: "Manage locked applications",
}

var appsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List locked applications",
	RunE: withApp(func(app *daemon.App, args []string) error {
		apps, err := app.Controller.LockedApps()
		if err != nil {
			return err
		}
		fmt.Println("\n=== Locked Applications ===")
		if len(apps) == 0 {
			fmt.Println("(none)")
		}
		for _, a := range apps {
			fmt.Printf("  %-24s %s (added %s)\n", a.AppName, a.PackageName, a.AddedAt.Format(time.DateTime))
		}
		fmt.Println("===========================")
		return nil
	}),
}

var appsAddCmd = &cobra.Command{
	Use:   "add <package> [name]",
	Short: "Lock an application",
	Args:  cobra.RangeArgs(1, 2),
	RunE: withApp(func(app *daemon.App, args []string) error {
		name := optionalArg(args, 1)
		if err := app.Registry.Add(args[0], name); err != nil {
			return err
		}
		fmt.Printf("Locked %s\n", args[0])
		return nil
	}),
}

var appsRemoveCmd = &cobra.Command{
	Use:   "remove <package>",
	Short: "Unlock an application",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(app *daemon.App, args []string) error {
		if err := app.Registry.Remove(args[0]); err != nil {
			return err
		}
		fmt.Printf("Unlocked %s\n", args[0])
		return nil
	}),
}

var appsToggleCmd = &cobra.Command{
	Use:   "toggle <package> [name]",
	Short: "Lock an application if unlocked, otherwise unlock it",
	Args:  cobra.RangeArgs(1, 2),
	RunE: withApp(func(app *daemon.App, args []string) error {
		locked, err := app.Controller.ToggleAppLock(args[0], optionalArg(args, 1))
		if err != nil {
			return err
		}
		if locked {
			fmt.Printf("Locked %s\n", args[0])
		} else {
			fmt.Printf("Unlocked %s\n", args[0])
		}
		return nil
	}),
}

var appsClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Unlock every application",
	RunE: withApp(func(app *daemon.App, args []string) error {
		if err := app.Controller.ClearAllLocks(); err != nil {
			return err
		}
		fmt.Println("All app locks cleared")
		return nil
	}),
}

var pinCmd = &cobra.Command{
	Use:   "pin",
	Short: "Manage the overlay PIN",
}

var pinSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Set a new 4-6 digit PIN (reads PIN and confirmation from stdin)",
	RunE: withApp(func(app *daemon.App, args []string) error {
		reader := bufio.NewReader(os.Stdin)
		pin, err := prompt(reader, "New PIN: ")
		if err != nil {
			return err
		}
		confirm, err := prompt(reader, "Confirm PIN: ")
		if err != nil {
			return err
		}
		if err := app.Controller.SetPin(pin, confirm); err != nil {
			return err
		}
		fmt.Println("PIN set and enabled")
		notifyReload(app)
		return nil
	}),
}

var pinEnableCmd = &cobra.Command{
	Use:   "enable",
	Short: "Require the PIN to dismiss the block overlay",
	RunE: withApp(func(app *daemon.App, args []string) error {
		if err := app.Controller.SetPinEnabled(true); err != nil {
			return err
		}
		fmt.Println("PIN enabled")
		notifyReload(app)
		return nil
	}),
}

var pinDisableCmd = &cobra.Command{
	Use:   "disable",
	Short: "Stop requiring the PIN",
	RunE: withApp(func(app *daemon.App, args []string) error {
		if err := app.Controller.SetPinEnabled(false); err != nil {
			return err
		}
		fmt.Println("PIN disabled")
		notifyReload(app)
		return nil
	}),
}

var pinVerifyCmd = &cobra.Command{
	Use:   "verify <pin>",
	Short: "Check a PIN against the stored one",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(app *daemon.App, args []string) error {
		ok, err := app.Controller.VerifyPin(args[0])
		if err != nil {
			return err
		}
		if !ok {
			fmt.Println(color.RedString("Incorrect PIN"))
			return fmt.Errorf("incorrect PIN")
		}
		fmt.Println(color.GreenString("PIN correct"))
		return nil
	}),
}

var unlockCmd = &cobra.Command{
	Use:   "unlock <package>",
	Short: "Dismiss the overlay for a blocked app (prompts for the PIN when enabled)",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(app *daemon.App, args []string) error {
		pkg := args[0]
		var pin string
		if state := app.Store.State(); state.PinEnabled && state.HasPin() {
			var err error
			if pin, err = prompt(bufio.NewReader(os.Stdin), "PIN: "); err != nil {
				return err
			}
		}

		alive, err := app.Daemons.IsAlive()
		if err != nil {
			return err
		}
		if !alive {
			return unlockLocally(app, pkg, pin)
		}

		ok, err := app.Controller.RequestUnlock(pkg, pin)
		if err != nil {
			return err
		}
		if !ok {
			fmt.Println(color.RedString("Incorrect PIN"))
			return fmt.Errorf("incorrect PIN")
		}
		pid, err := daemon.SignalDaemon(app.Daemons, app.Processes, syscall.SIGHUP)
		if errors.Is(err, daemon.ErrDaemonNotRunning) {
			// Exited between the check and the signal; the queued request
			// expires on its own.
			return unlockLocally(app, pkg, pin)
		}
		if err != nil {
			return err
		}
		fmt.Printf("Unlock for %s sent to daemon (pid %d)\n", pkg, pid)
		return nil
	}),
}

// unlockLocally runs the unlock against an in-process engine when no
// daemon is around to receive it.
func unlockLocally(app *daemon.App, pkg, pin string) error {
	var ok bool
	err := withEngine(context.Background(), app, func(ctx context.Context) error {
		var err error
		ok, err = app.Controller.UnlockBlockedApp(ctx, pkg, pin)
		return err
	})
	if err != nil {
		return err
	}
	if !ok {
		fmt.Println(color.RedString("Incorrect PIN"))
		return fmt.Errorf("incorrect PIN")
	}
	fmt.Printf("%s unlocked\n", pkg)
	return nil
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Inspect usage statistics",
}

var (
	statsLimit int
	pruneDays  int
)

var statsRecentCmd = &cobra.Command{
	Use:   "recent",
	Short: "Show the most recent events",
	RunE: withApp(func(app *daemon.App, args []string) error {
		events, err := app.Controller.RecentStatistics(statsLimit)
		if err != nil {
			return err
		}
		printEvents(events)
		return nil
	}),
}

var statsTotalCmd = &cobra.Command{
	Use:   "total",
	Short: "Show the number of blocked attempts",
	RunE: withApp(func(app *daemon.App, args []string) error {
		n, err := app.Controller.TotalBlockedCount()
		if err != nil {
			return err
		}
		fmt.Printf("Blocked attempts: %d\n", n)
		return nil
	}),
}

var statsAppCmd = &cobra.Command{
	Use:   "app <package>",
	Short: "Show the history of one application",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(app *daemon.App, args []string) error {
		events, err := app.Stats.ForPackage(args[0])
		if err != nil {
			return err
		}
		printEvents(events)
		return nil
	}),
}

var statsPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete events older than the retention window",
	RunE: withApp(func(app *daemon.App, args []string) error {
		retention := app.Config.Retention()
		if pruneDays > 0 {
			retention = time.Duration(pruneDays) * 24 * time.Hour
		}
		n, err := app.Controller.PruneStatistics(retention)
		if err != nil {
			return err
		}
		fmt.Printf("Removed %d events\n", n)
		return nil
	}),
}

var statsClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every event",
	RunE: withApp(func(app *daemon.App, args []string) error {
		if err := app.Stats.ClearAll(); err != nil {
			return err
		}
		fmt.Println("Statistics cleared")
		return nil
	}),
}

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Snapshot and restore the encrypted database",
}

var backupKeep int

var backupCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Snapshot the database and its key",
	RunE: withBackups(func(bm *infra.BackupManager, args []string) error {
		dir, err := bm.Create(Version)
		if err != nil {
			return err
		}
		fmt.Printf("Backup written to %s\n", dir)
		if backupKeep > 0 {
			removed, err := bm.Prune(backupKeep)
			if err != nil {
				return err
			}
			if removed > 0 {
				fmt.Printf("Removed %d old backups\n", removed)
			}
		}
		return nil
	}),
}

var backupListCmd = &cobra.Command{
	Use:   "list",
	Short: "List snapshots, newest first",
	RunE: withBackups(func(bm *infra.BackupManager, args []string) error {
		dirs, err := bm.List()
		if err != nil {
			return err
		}
		if len(dirs) == 0 {
			fmt.Printf("No backups in %s\n", bm.Root())
		}
		for _, dir := range dirs {
			fmt.Println(dir)
		}
		return nil
	}),
}

var backupVerifyCmd = &cobra.Command{
	Use:   "verify <dir>",
	Short: "Check a snapshot against its manifest",
	Args:  cobra.ExactArgs(1),
	RunE: withBackups(func(bm *infra.BackupManager, args []string) error {
		manifest, err := bm.Verify(args[0])
		if err != nil {
			fmt.Println(color.RedString("Backup is invalid"))
			return err
		}
		fmt.Printf("%s (version %s, created %s)\n", color.GreenString("Backup OK"),
			manifest.Version, time.UnixMilli(manifest.CreatedAt).Format(time.DateTime))
		return nil
	}),
}

var backupRestoreCmd = &cobra.Command{
	Use:   "restore <dir>",
	Short: "Replace the database with a snapshot (daemon must be stopped)",
	Args:  cobra.ExactArgs(1),
	RunE: withBackups(func(bm *infra.BackupManager, args []string) error {
		if err := bm.Restore(args[0], Version); err != nil {
			return err
		}
		fmt.Println("Backup restored")
		return nil
	}),
}

var installCmd = &cobra.Command{
	Use:   "install",
	Short: "Start the daemon automatically via launchd",
	RunE:  runInstall,
}

var uninstallCmd = &cobra.Command{
	Use:   "uninstall",
	Short: "Remove the launchd service",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := serviceInstaller()
		if err != nil {
			return err
		}
		if err := svc.Uninstall(); err != nil {
			return fmt.Errorf("failed to uninstall service: %w", err)
		}
		fmt.Printf("Removed %s\n", svc.Path())
		return nil
	},
}

func init() {
	backupCreateCmd.Flags().IntVar(&backupKeep, "keep", 0, "Delete all but the newest N backups afterwards")
	backupCmd.AddCommand(backupCreateCmd, backupListCmd, backupVerifyCmd, backupRestoreCmd)

	appsCmd.AddCommand(appsListCmd, appsAddCmd, appsRemoveCmd, appsToggleCmd, appsClearCmd)
	pinCmd.AddCommand(pinSetCmd, pinEnableCmd, pinDisableCmd, pinVerifyCmd)

	statsRecentCmd.Flags().IntVar(&statsLimit, "limit", 20, "Number of events to show")
	statsPruneCmd.Flags().IntVar(&pruneDays, "days", 0, "Retention in days (default from config)")
	statsCmd.AddCommand(statsRecentCmd, statsTotalCmd, statsAppCmd, statsPruneCmd, statsClearCmd)
}

// withBackups runs fn with a backup manager for the data directory. The
// database is not opened, so restore never races an open handle of ours.
func withBackups(fn func(bm *infra.BackupManager, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		logger := createCLILogger()
		defer func() { _ = logger.Sync() }()

		_, dir, err := loadConfig()
		if err != nil {
			return err
		}
		if cmd.Name() == "restore" {
			alive, err := infra.NewFileRegistry(dir, infra.NewProcessManager()).IsAlive()
			if err != nil {
				return err
			}
			if alive {
				return fmt.Errorf("stop the daemon before restoring a backup")
			}
		}
		return fn(infra.NewBackupManager(dir, logger), args)
	}
}

func serviceInstaller() (domain.ServiceInstaller, error) {
	_, dir, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return infra.NewLaunchdManager(infra.DetectExecMode().WithDataDir(dir)), nil
}

func runInstall(cmd *cobra.Command, args []string) error {
	execPath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to resolve executable: %w", err)
	}
	svc, err := serviceInstaller()
	if err != nil {
		return err
	}

	switch {
	case svc.NeedsUpdate(execPath):
		err = svc.Update(execPath)
	case svc.IsInstalled():
		fmt.Printf("Service already installed at %s\n", svc.Path())
		return nil
	default:
		err = svc.Install(execPath)
	}
	if err != nil {
		return fmt.Errorf("failed to install service: %w", err)
	}
	fmt.Printf("Service installed at %s\n", svc.Path())
	return nil
}

// withApp opens the app around a command body.
func withApp(fn func(app *daemon.App, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		logger := createCLILogger()
		defer func() { _ = logger.Sync() }()

		app, err := openApp(logger)
		if err != nil {
			return err
		}
		defer app.Close()
		return fn(app, args)
	}
}

func optionalArg(args []string, i int) string {
	if len(args) > i {
		return args[i]
	}
	return ""
}

func prompt(reader *bufio.Reader, label string) (string, error) {
	fmt.Print(label)
	line, err := reader.ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	return strings.TrimSpace(line), nil
}

func printEvents(events []domain.StatisticEvent) {
	if len(events) == 0 {
		fmt.Println("No events")
		return
	}
	for _, ev := range events {
		fmt.Printf("%s  %-14s %-24s %s\n",
			ev.Timestamp.Format(time.DateTime), ev.EventType, ev.AppName, ev.PackageName)
	}
}
