package daemon

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"github.com/eliteGoblin/focusd/app_lock/internal/domain"
)

// ErrDaemonNotRunning is returned when no live daemon is registered.
var ErrDaemonNotRunning = errors.New("applock daemon is not running")

// StartDaemon spawns a detached `applock run` process from the current executable.
func StartDaemon(configPath, dataDir string) error {
	executable, err := os.Executable()
	if err != nil {
		return err
	}
	return StartDaemonWithPath(executable, configPath, dataDir)
}

// StartDaemonWithPath spawns binaryPath as a detached daemon.
func StartDaemonWithPath(binaryPath, configPath, dataDir string) error {
	cmd := exec.Command(binaryPath, DaemonArgs(configPath, dataDir)...)

	// Detach from parent process
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid: true, // Create new session (detach from terminal)
	}

	// No stdin/stdout/stderr - fully detached
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}
	return cmd.Process.Release()
}

// DaemonArgs returns the command line that runs the daemon in the foreground.
func DaemonArgs(configPath, dataDir string) []string {
	args := []string{"run"}
	if configPath != "" {
		args = append(args, "--config", configPath)
	}
	if dataDir != "" {
		args = append(args, "--data-dir", dataDir)
	}
	return args
}

// SignalDaemon delivers sig to the registered daemon and returns its PID.
func SignalDaemon(registry domain.DaemonRegistry, pm domain.ProcessManager, sig syscall.Signal) (int, error) {
	info, err := registry.Get()
	if err != nil {
		return 0, err
	}
	if info == nil || !pm.IsRunning(info.PID) {
		return 0, ErrDaemonNotRunning
	}
	if info.PID == pm.GetCurrentPID() {
		return 0, fmt.Errorf("refusing to signal own process %d", info.PID)
	}
	if err := pm.Signal(info.PID, sig); err != nil {
		return 0, fmt.Errorf("failed to signal daemon %d: %w", info.PID, err)
	}
	return info.PID, nil
}
