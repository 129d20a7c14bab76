package infra

import (
	"context"
	"os"
	"time"

	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/app_lock/internal/domain"
)

// ProcessLister abstracts process enumeration for testing.
type ProcessLister interface {
	// Newest returns the name of the most recently started process owned by
	// the current user, ignoring the names in skip.
	Newest(skip map[string]bool) (string, error)
}

// GopsutilLister implements ProcessLister with gopsutil.
type GopsutilLister struct {
	uid int32
}

// NewGopsutilLister creates a lister scoped to the current user.
func NewGopsutilLister() *GopsutilLister {
	return &GopsutilLister{uid: int32(os.Getuid())}
}

// Newest picks the user process with the latest create time.
func (l *GopsutilLister) Newest(skip map[string]bool) (string, error) {
	procs, err := process.Processes()
	if err != nil {
		return "", err
	}

	var newestName string
	var newestCreated int64
	for _, p := range procs {
		uids, err := p.Uids()
		if err != nil || len(uids) == 0 || uids[0] != l.uid {
			continue
		}
		name, err := p.Name()
		if err != nil || name == "" || skip[name] {
			continue
		}
		created, err := p.CreateTime()
		if err != nil {
			continue
		}
		if created > newestCreated {
			newestCreated = created
			newestName = name
		}
	}
	return newestName, nil
}

// ProcessMonitor implements domain.ForegroundMonitor on desktops by treating
// the most recently launched user process as the foreground app.
// Every poll reports the current answer, repeats included.
type ProcessMonitor struct {
	lister   ProcessLister
	interval time.Duration
	skip     map[string]bool
	logger   *zap.Logger
}

// NewProcessMonitor creates a monitor polling every interval. Names in skip
// (typically the applock binary itself) are never reported.
func NewProcessMonitor(interval time.Duration, skip []string, logger *zap.Logger) *ProcessMonitor {
	return NewProcessMonitorWithLister(NewGopsutilLister(), interval, skip, logger)
}

// NewProcessMonitorWithLister creates a monitor with an injectable lister (for testing).
func NewProcessMonitorWithLister(lister ProcessLister, interval time.Duration, skip []string, logger *zap.Logger) *ProcessMonitor {
	skipSet := make(map[string]bool, len(skip))
	for _, s := range skip {
		skipSet[s] = true
	}
	return &ProcessMonitor{
		lister:   lister,
		interval: interval,
		skip:     skipSet,
		logger:   logger,
	}
}

// Run polls until ctx is canceled.
func (m *ProcessMonitor) Run(ctx context.Context, notify func(packageName string)) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		m.poll(notify)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (m *ProcessMonitor) poll(notify func(packageName string)) {
	name, err := m.lister.Newest(m.skip)
	if err != nil {
		m.logger.Debug("process scan failed", zap.Error(err))
		return
	}
	if name != "" {
		notify(name)
	}
}

// Ensure ProcessMonitor implements domain.ForegroundMonitor.
var _ domain.ForegroundMonitor = (*ProcessMonitor)(nil)
