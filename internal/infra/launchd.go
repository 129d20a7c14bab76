package infra

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"text/template"

	"github.com/eliteGoblin/focusd/app_lock/internal/domain"
)

// ServiceLabel is the launchd label of the applock daemon.
const ServiceLabel = "com.focusd.applock"

// LaunchAgent plist template (runs as user)
const launchAgentTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
    <key>Label</key>
    <string>{{.Label}}</string>

    <key>ProgramArguments</key>
    <array>
        <string>{{.ExecutablePath}}</string>
        <string>run</string>
        <string>--data-dir</string>
        <string>{{.DataDir}}</string>
    </array>

    <key>RunAtLoad</key>
    <true/>

    <key>KeepAlive</key>
    <dict>
        <key>Crashed</key>
        <true/>
    </dict>

    <key>StandardOutPath</key>
    <string>{{.LogPath}}</string>

    <key>StandardErrorPath</key>
    <string>{{.ErrorLogPath}}</string>

    <key>ProcessType</key>
    <string>Interactive</string>

    <key>ThrottleInterval</key>
    <integer>10</integer>
</dict>
</plist>`

// LaunchDaemon plist template (runs as root)
const launchDaemonTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
    <key>Label</key>
    <string>{{.Label}}</string>

    <key>ProgramArguments</key>
    <array>
        <string>{{.ExecutablePath}}</string>
        <string>run</string>
        <string>--data-dir</string>
        <string>{{.DataDir}}</string>
    </array>

    <key>RunAtLoad</key>
    <true/>

    <key>KeepAlive</key>
    <true/>

    <key>StandardOutPath</key>
    <string>{{.LogPath}}</string>

    <key>StandardErrorPath</key>
    <string>{{.ErrorLogPath}}</string>

    <key>ThrottleInterval</key>
    <integer>10</integer>
</dict>
</plist>`

type plistConfig struct {
	Label          string
	ExecutablePath string
	DataDir        string
	LogPath        string
	ErrorLogPath   string
}

// CommandRunner executes an external command; swapped out in tests.
type CommandRunner func(name string, args ...string) error

func runCommand(name string, args ...string) error {
	return exec.Command(name, args...).Run()
}

// LaunchdManager implements domain.ServiceInstaller for both modes.
type LaunchdManager struct {
	mode      ExecMode
	dataDir   string
	plistDir  string
	plistPath string
	run       CommandRunner
}

// NewLaunchdManager places the plist according to the execution mode:
// ~/Library/LaunchAgents for users, /Library/LaunchDaemons for root.
func NewLaunchdManager(config *ExecModeConfig) *LaunchdManager {
	plistDir := "/Library/LaunchDaemons"
	if config.Mode == ExecModeUser {
		plistDir = filepath.Join(GetRealUserHome(), "Library", "LaunchAgents")
	}
	return NewLaunchdManagerWithDir(config.Mode, config.DataDir, plistDir, runCommand)
}

// NewLaunchdManagerWithDir creates a manager with explicit locations (for testing).
func NewLaunchdManagerWithDir(mode ExecMode, dataDir, plistDir string, run CommandRunner) *LaunchdManager {
	return &LaunchdManager{
		mode:      mode,
		dataDir:   dataDir,
		plistDir:  plistDir,
		plistPath: filepath.Join(plistDir, ServiceLabel+".plist"),
		run:       run,
	}
}

// generatePlistContent creates plist content for the given exec path.
func (m *LaunchdManager) generatePlistContent(execPath string) ([]byte, error) {
	tmplStr := launchAgentTemplate
	if m.mode == ExecModeSystem {
		tmplStr = launchDaemonTemplate
	}

	config := plistConfig{
		Label:          ServiceLabel,
		ExecutablePath: execPath,
		DataDir:        m.dataDir,
		LogPath:        filepath.Join(m.dataDir, "logs", "applock.log"),
		ErrorLogPath:   filepath.Join(m.dataDir, "logs", "applock.error.log"),
	}

	tmpl, err := template.New("plist").Parse(tmplStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse plist template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, config); err != nil {
		return nil, fmt.Errorf("failed to execute plist template: %w", err)
	}
	return buf.Bytes(), nil
}

func (m *LaunchdManager) write(execPath string) error {
	if err := os.MkdirAll(m.plistDir, 0755); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Join(m.dataDir, "logs"), 0700); err != nil {
		return err
	}

	content, err := m.generatePlistContent(execPath)
	if err != nil {
		return fmt.Errorf("failed to generate plist content: %w", err)
	}
	return os.WriteFile(m.plistPath, content, 0644)
}

// Install creates and loads the plist (LaunchAgent or LaunchDaemon).
func (m *LaunchdManager) Install(execPath string) error {
	if err := m.write(execPath); err != nil {
		return err
	}
	return m.load()
}

// Uninstall unloads and removes the plist.
func (m *LaunchdManager) Uninstall() error {
	// Not loaded is fine.
	_ = m.unload()

	if err := os.Remove(m.plistPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// IsInstalled checks if plist is installed.
func (m *LaunchdManager) IsInstalled() bool {
	_, err := os.Stat(m.plistPath)
	return err == nil
}

// NeedsUpdate checks if plist exists but has different content than expected.
func (m *LaunchdManager) NeedsUpdate(execPath string) bool {
	if !m.IsInstalled() {
		return false
	}

	current, err := os.ReadFile(m.plistPath)
	if err != nil {
		return true
	}
	expected, err := m.generatePlistContent(execPath)
	if err != nil {
		return true
	}
	return !bytes.Equal(current, expected)
}

// Update unloads, updates plist content, and reloads.
func (m *LaunchdManager) Update(execPath string) error {
	_ = m.unload()
	if err := m.write(execPath); err != nil {
		return err
	}
	return m.load()
}

// Path returns the plist file path.
func (m *LaunchdManager) Path() string {
	return m.plistPath
}

// Mode returns the execution mode the plist targets.
func (m *LaunchdManager) Mode() ExecMode {
	return m.mode
}

// load uses the deprecated but still supported `launchctl load`.
func (m *LaunchdManager) load() error {
	if err := m.run("launchctl", "load", m.plistPath); err != nil {
		return fmt.Errorf("launchctl load failed: %w", err)
	}
	return nil
}

func (m *LaunchdManager) unload() error {
	return m.run("launchctl", "unload", m.plistPath)
}

var _ domain.ServiceInstaller = (*LaunchdManager)(nil)
