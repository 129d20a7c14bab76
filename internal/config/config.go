// Package config loads applock settings.
//
// Settings come from built-in defaults, optionally overlaid by a TOML file
// (default location: <data dir>/config.toml). A missing file is not an error.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"go.uber.org/zap/zapcore"

	"github.com/eliteGoblin/focusd/app_lock/internal/policy"
)

// FileName is the config file name looked up inside the data directory.
const FileName = "config.toml"

// DefaultHostPackage identifies applock itself; it is always exempt from blocking.
const DefaultHostPackage = "com.focusd.applock"

// Config is the complete applock configuration.
type Config struct {
	// DataDir holds the encrypted database and its key. Empty means
	// auto-detect from the execution mode.
	DataDir string `toml:"data_dir"`

	// HostPackage is never blocked.
	HostPackage string `toml:"host_package"`

	// ExemptPrefixes are shell/system-UI package prefixes never blocked.
	ExemptPrefixes []string `toml:"exempt_prefixes"`

	Engine     EngineConfig     `toml:"engine"`
	Scheduler  SchedulerConfig  `toml:"scheduler"`
	Monitor    MonitorConfig    `toml:"monitor"`
	Block      BlockConfig      `toml:"block"`
	Pin        PinConfig        `toml:"pin"`
	Statistics StatisticsConfig `toml:"statistics"`
	Log        LogConfig        `toml:"log"`
}

// EngineConfig sizes the decision engine queues.
type EngineConfig struct {
	QueueSize        int `toml:"queue_size"`        // inbound event queue
	SubscriberBuffer int `toml:"subscriber_buffer"` // per-subscriber outbound buffer
}

// SchedulerConfig controls the auto-unlock watcher.
type SchedulerConfig struct {
	TickInterval Duration `toml:"tick_interval"`
}

// MonitorConfig controls the process-based foreground monitor.
type MonitorConfig struct {
	Enabled      bool     `toml:"enabled"`
	PollInterval Duration `toml:"poll_interval"`
}

// Block presentation modes.
const (
	BlockModeLog     = "log"
	BlockModeSuspend = "suspend"
)

// BlockConfig selects how a block decision is presented on this host.
type BlockConfig struct {
	// Mode is "log" (record only) or "suspend" (SIGSTOP the blocked
	// process until its overlay is dismissed).
	Mode string `toml:"mode"`
}

// PinConfig controls PIN storage and throttling.
type PinConfig struct {
	// Hashed stores a bcrypt hash instead of the PIN as entered.
	Hashed bool `toml:"hashed"`
	// AttemptsPerMinute limits wrong-PIN guessing; 0 disables throttling.
	AttemptsPerMinute int `toml:"attempts_per_minute"`
}

// StatisticsConfig controls the usage log.
type StatisticsConfig struct {
	RetentionDays int `toml:"retention_days"`
	RecentLimit   int `toml:"recent_limit"`
}

// LogConfig controls daemon logging.
type LogConfig struct {
	Level            string   `toml:"level"`
	OutputPaths      []string `toml:"output_paths"`
	ErrorOutputPaths []string `toml:"error_output_paths"`
}

// Duration is a time.Duration that decodes from TOML strings like "1s".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	d.Duration = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		HostPackage:    DefaultHostPackage,
		ExemptPrefixes: append([]string(nil), policy.DefaultExemptPrefixes...),
		Engine: EngineConfig{
			QueueSize:        64,
			SubscriberBuffer: 16,
		},
		Scheduler: SchedulerConfig{
			TickInterval: Duration{time.Second},
		},
		Monitor: MonitorConfig{
			Enabled:      true,
			PollInterval: Duration{time.Second},
		},
		Block: BlockConfig{
			Mode: BlockModeLog,
		},
		Pin: PinConfig{
			Hashed:            false,
			AttemptsPerMinute: 0,
		},
		Statistics: StatisticsConfig{
			RetentionDays: 30,
			RecentLimit:   100,
		},
		Log: LogConfig{
			Level:            "info",
			OutputPaths:      []string{"/var/tmp/applock.log"},
			ErrorOutputPaths: []string{"/var/tmp/applock.error.log"},
		},
	}
}

// Load returns Default overlaid with the TOML file at path.
// An empty path or a missing file yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("failed to stat config file: %w", err)
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks value ranges.
func (c Config) Validate() error {
	if c.Engine.QueueSize <= 0 {
		return fmt.Errorf("engine.queue_size must be positive, got %d", c.Engine.QueueSize)
	}
	if c.Engine.SubscriberBuffer <= 0 {
		return fmt.Errorf("engine.subscriber_buffer must be positive, got %d", c.Engine.SubscriberBuffer)
	}
	if c.Scheduler.TickInterval.Duration <= 0 {
		return fmt.Errorf("scheduler.tick_interval must be positive, got %s", c.Scheduler.TickInterval)
	}
	if c.Monitor.Enabled && c.Monitor.PollInterval.Duration <= 0 {
		return fmt.Errorf("monitor.poll_interval must be positive, got %s", c.Monitor.PollInterval)
	}
	if c.Block.Mode != BlockModeLog && c.Block.Mode != BlockModeSuspend {
		return fmt.Errorf("block.mode must be %q or %q, got %q", BlockModeLog, BlockModeSuspend, c.Block.Mode)
	}
	if c.Pin.AttemptsPerMinute < 0 {
		return fmt.Errorf("pin.attempts_per_minute must not be negative, got %d", c.Pin.AttemptsPerMinute)
	}
	if c.Statistics.RetentionDays <= 0 {
		return fmt.Errorf("statistics.retention_days must be positive, got %d", c.Statistics.RetentionDays)
	}
	if c.Statistics.RecentLimit <= 0 {
		return fmt.Errorf("statistics.recent_limit must be positive, got %d", c.Statistics.RecentLimit)
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	return nil
}

// Retention returns the statistics retention window.
func (c Config) Retention() time.Duration {
	return time.Duration(c.Statistics.RetentionDays) * 24 * time.Hour
}
