package infra

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/eliteGoblin/focusd/app_lock/internal/domain"
)

const registryFileName = "daemon.json"

// FileRegistry implements domain.DaemonRegistry using a JSON file in the data directory.
type FileRegistry struct {
	path           string
	processManager domain.ProcessManager
}

// NewFileRegistry creates a registry inside dataDir.
func NewFileRegistry(dataDir string, pm domain.ProcessManager) domain.DaemonRegistry {
	return NewFileRegistryWithPath(filepath.Join(dataDir, registryFileName), pm)
}

// NewFileRegistryWithPath creates a registry at a specific path (for testing).
func NewFileRegistryWithPath(path string, pm domain.ProcessManager) domain.DaemonRegistry {
	return &FileRegistry{
		path:           path,
		processManager: pm,
	}
}

// Path returns the registry file path.
func (r *FileRegistry) Path() string {
	return r.path
}

// Register saves the daemon's PID and start time.
func (r *FileRegistry) Register(info domain.DaemonInfo) error {
	// Serialize concurrent daemon start-ups.
	lockFile, err := os.OpenFile(r.path+".lock", os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return fmt.Errorf("failed to open lock file: %w", err)
	}
	defer lockFile.Close()

	if err := syscall.Flock(int(lockFile.Fd()), syscall.LOCK_EX); err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	defer func() { _ = syscall.Flock(int(lockFile.Fd()), syscall.LOCK_UN) }()

	if info.Mode == "" {
		if os.Geteuid() == 0 {
			info.Mode = string(ExecModeSystem)
		} else {
			info.Mode = string(ExecModeUser)
		}
	}
	info.LastHeartbeat = time.Now().Unix()
	return r.atomicWrite(&info)
}

// Get returns the registered daemon, or nil if none.
func (r *FileRegistry) Get() (*domain.DaemonInfo, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var info domain.DaemonInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("corrupt daemon registry %s: %w", r.path, err)
	}
	return &info, nil
}

// UpdateHeartbeat updates timestamp for liveness check.
func (r *FileRegistry) UpdateHeartbeat() error {
	info, err := r.Get()
	if err != nil {
		return err
	}
	if info == nil {
		return fmt.Errorf("no daemon registered")
	}
	info.LastHeartbeat = time.Now().Unix()
	return r.atomicWrite(info)
}

// IsAlive checks the registered PID. A missing entry is not an error.
func (r *FileRegistry) IsAlive() (bool, error) {
	info, err := r.Get()
	if err != nil || info == nil {
		return false, err
	}
	return r.processManager.IsRunning(info.PID), nil
}

// Clear removes the registry file. Clearing an empty registry is not an error.
func (r *FileRegistry) Clear() error {
	if err := os.Remove(r.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// atomicWrite writes registry to file atomically (write + rename).
func (r *FileRegistry) atomicWrite(info *domain.DaemonInfo) error {
	data, err := json.Marshal(info)
	if err != nil {
		return err
	}

	// Unique per process so concurrent writers never share a temp file.
	tmpPath := fmt.Sprintf("%s.%d.tmp", r.path, os.Getpid())
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return err
	}

	if err := os.Rename(tmpPath, r.path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}

// Ensure FileRegistry implements domain.DaemonRegistry.
var _ domain.DaemonRegistry = (*FileRegistry)(nil)
