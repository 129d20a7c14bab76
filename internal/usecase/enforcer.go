package usecase

import (
	"context"
	"sort"
	"sync"
	"syscall"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/app_lock/internal/domain"
	"github.com/eliteGoblin/focusd/app_lock/internal/pubsub"
)

// Enforcer turns block decisions into process suspension: every process
// named after the blocked package is stopped until its overlay is dismissed.
type Enforcer struct {
	processManager domain.ProcessManager
	logger         *zap.Logger

	mu        sync.Mutex
	suspended map[string][]int
}

// NewEnforcer creates a process-suspending BlockPresenter.
func NewEnforcer(pm domain.ProcessManager, logger *zap.Logger) *Enforcer {
	return &Enforcer{
		processManager: pm,
		logger:         logger,
		suspended:      make(map[string][]int),
	}
}

// Present stops every process of the blocked package.
func (e *Enforcer) Present(decision domain.BlockDecision) error {
	pids, err := e.processManager.FindByName(decision.PackageName)
	if err != nil {
		e.logger.Warn("failed to find processes",
			zap.String("package", decision.PackageName),
			zap.Error(err))
		return err
	}

	self := e.processManager.GetCurrentPID()
	stopped := make([]int, 0, len(pids))
	for _, pid := range pids {
		if pid == self {
			continue
		}
		if err := e.processManager.Signal(pid, syscall.SIGSTOP); err != nil {
			e.logger.Warn("failed to suspend process", zap.Int("pid", pid), zap.Error(err))
			continue
		}
		stopped = append(stopped, pid)
	}

	e.mu.Lock()
	e.suspended[decision.PackageName] = append(e.suspended[decision.PackageName], stopped...)
	e.mu.Unlock()

	e.logger.Info("suspended blocked app",
		zap.String("package", decision.PackageName),
		zap.String("app", decision.AppName),
		zap.Ints("pids", stopped))
	return nil
}

// Dismiss resumes the processes suspended for packageName.
func (e *Enforcer) Dismiss(packageName string) error {
	e.mu.Lock()
	pids := e.suspended[packageName]
	delete(e.suspended, packageName)
	e.mu.Unlock()

	var firstErr error
	for _, pid := range pids {
		if err := e.processManager.Signal(pid, syscall.SIGCONT); err != nil {
			e.logger.Warn("failed to resume process", zap.Int("pid", pid), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	if len(pids) > 0 {
		e.logger.Info("resumed app", zap.String("package", packageName), zap.Ints("pids", pids))
	}
	return firstErr
}

// Suspended returns the PIDs currently held for packageName.
func (e *Enforcer) Suspended(packageName string) []int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]int(nil), e.suspended[packageName]...)
}

var _ domain.BlockPresenter = (*Enforcer)(nil)

// LogPresenter only records decisions in the log.
type LogPresenter struct {
	logger *zap.Logger
}

// NewLogPresenter creates a BlockPresenter that writes to logger.
func NewLogPresenter(logger *zap.Logger) *LogPresenter {
	return &LogPresenter{logger: logger}
}

// Present logs the decision.
func (p *LogPresenter) Present(decision domain.BlockDecision) error {
	p.logger.Info("block overlay presented",
		zap.String("package", decision.PackageName),
		zap.String("app", decision.AppName))
	return nil
}

// Dismiss logs the dismissal.
func (p *LogPresenter) Dismiss(packageName string) error {
	p.logger.Info("block overlay dismissed", zap.String("package", packageName))
	return nil
}

var _ domain.BlockPresenter = (*LogPresenter)(nil)

// PresentOverlays keeps presenter in step with the engine's overlay set
// until ctx is canceled or the engine stops.
func PresentOverlays(ctx context.Context, engine *Engine, presenter domain.BlockPresenter, logger *zap.Logger) {
	sub := engine.SubscribeOverlays(ctx)
	defer sub.Cancel()
	ForwardOverlays(ctx, sub, presenter, logger)
}

// ForwardOverlays drains an already-open overlay subscription into presenter.
// Sets are applied in publication order; when several are pending only the
// newest is applied, since each set replaces the ones before it. Every
// overlay still shown on return is dismissed, so no app stays suspended
// after the daemon stops.
func ForwardOverlays(
	ctx context.Context,
	overlays *pubsub.Subscription[domain.OverlaySet],
	presenter domain.BlockPresenter,
	logger *zap.Logger,
) {
	shown := make(map[string]bool)
	defer func() {
		for _, pkg := range sortedKeys(shown) {
			dismissOverlay(presenter, pkg, logger)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case set, ok := <-overlays.C():
			if !ok {
				return
			}
			set, open := newestOverlaySet(overlays, set)
			reconcileOverlays(shown, set, presenter, logger)
			if !open {
				return
			}
		}
	}
}

// newestOverlaySet returns the last set already queued behind set, and
// whether the subscription is still open.
func newestOverlaySet(overlays *pubsub.Subscription[domain.OverlaySet], set domain.OverlaySet) (domain.OverlaySet, bool) {
	for {
		select {
		case next, ok := <-overlays.C():
			if !ok {
				return set, false
			}
			set = next
		default:
			return set, true
		}
	}
}

// reconcileOverlays dismisses before it presents.
func reconcileOverlays(shown map[string]bool, set domain.OverlaySet, presenter domain.BlockPresenter, logger *zap.Logger) {
	for _, pkg := range sortedKeys(shown) {
		if _, ok := set[pkg]; ok {
			continue
		}
		delete(shown, pkg)
		dismissOverlay(presenter, pkg, logger)
	}

	pending := make([]string, 0, len(set))
	for pkg := range set {
		if !shown[pkg] {
			pending = append(pending, pkg)
		}
	}
	sort.Strings(pending)
	for _, pkg := range pending {
		// Marked even on failure so the matching dismissal is still delivered.
		shown[pkg] = true
		if err := presenter.Present(set[pkg]); err != nil {
			logger.Warn("failed to present block", zap.String("package", pkg), zap.Error(err))
		}
	}
}

func dismissOverlay(presenter domain.BlockPresenter, pkg string, logger *zap.Logger) {
	if err := presenter.Dismiss(pkg); err != nil {
		logger.Warn("failed to dismiss block", zap.String("package", pkg), zap.Error(err))
	}
}

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
