package infra

import (
	"os"
	"os/user"
	"path/filepath"
)

// ExecMode represents the execution mode of the application.
type ExecMode string

const (
	// ExecModeUser keeps state under the invoking user's home directory.
	ExecModeUser ExecMode = "user"
	// ExecModeSystem keeps state in a system-wide directory (root).
	ExecModeSystem ExecMode = "system"
)

// BinaryName is the process name of the applock executable.
const BinaryName = "applock"

// ExecModeConfig holds paths derived from the execution mode.
type ExecModeConfig struct {
	Mode       ExecMode
	DataDir    string // Where the encrypted database and key live
	ConfigPath string // Default TOML config location
	IsRoot     bool
}

// DetectExecMode determines the execution mode based on effective UID.
func DetectExecMode() *ExecModeConfig {
	if os.Geteuid() == 0 {
		return newExecModeConfig(ExecModeSystem, "/var/lib/applock", true)
	}
	return GetUserModeConfig()
}

// GetUserModeConfig returns user mode paths regardless of current euid.
// Under sudo the invoking user's home is used.
func GetUserModeConfig() *ExecModeConfig {
	return newExecModeConfig(ExecModeUser, filepath.Join(GetRealUserHome(), ".applock"), os.Geteuid() == 0)
}

// WithDataDir returns a copy rooted at an explicit data directory.
func (c *ExecModeConfig) WithDataDir(dataDir string) *ExecModeConfig {
	if dataDir == "" {
		return c
	}
	return newExecModeConfig(c.Mode, dataDir, c.IsRoot)
}

func newExecModeConfig(mode ExecMode, dataDir string, isRoot bool) *ExecModeConfig {
	return &ExecModeConfig{
		Mode:       mode,
		DataDir:    dataDir,
		ConfigPath: filepath.Join(dataDir, "config.toml"),
		IsRoot:     isRoot,
	}
}

// String returns a human-readable description of the mode.
func (m ExecMode) String() string {
	switch m {
	case ExecModeSystem:
		return "system (root)"
	case ExecModeUser:
		return "user (non-root)"
	default:
		return "unknown"
	}
}

// GetRealUserHome returns the real user's home directory, even when running under sudo.
func GetRealUserHome() string {
	if sudoUser := os.Getenv("SUDO_USER"); sudoUser != "" {
		if u, err := user.Lookup(sudoUser); err == nil {
			return u.HomeDir
		}
	}
	home, _ := os.UserHomeDir()
	return home
}
