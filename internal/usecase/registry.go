package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/app_lock/internal/domain"
	"github.com/eliteGoblin/focusd/app_lock/internal/pubsub"
)

// LockedAppRegistry manages the set of apps blocked while the device is locked.
type LockedAppRegistry struct {
	// mu serializes check-then-act sequences such as Toggle.
	mu     sync.Mutex
	repo   domain.LockedAppRepository
	now    func() time.Time
	count  *pubsub.Broadcaster[int]
	logger *zap.Logger
}

// NewLockedAppRegistry creates a registry over repo.
func NewLockedAppRegistry(repo domain.LockedAppRepository, logger *zap.Logger) *LockedAppRegistry {
	return NewLockedAppRegistryWithClock(repo, time.Now, logger)
}

// NewLockedAppRegistryWithClock creates a registry with an injectable clock (for testing).
func NewLockedAppRegistryWithClock(repo domain.LockedAppRepository, now func() time.Time, logger *zap.Logger) *LockedAppRegistry {
	r := &LockedAppRegistry{
		repo:   repo,
		now:    now,
		count:  pubsub.NewState[int](pubsub.DefaultBuffer),
		logger: logger,
	}
	if n, err := repo.Count(); err == nil {
		r.count.Publish(n)
	} else {
		logger.Warn("failed to read locked app count", zap.Error(err))
	}
	return r
}

// Toggle registers pkg if absent, otherwise removes it. It returns whether
// pkg is registered afterwards.
func (r *LockedAppRegistry) Toggle(pkg, appName string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	exists, err := r.repo.Exists(pkg)
	if err != nil {
		return false, err
	}
	if exists {
		if err := r.repo.Delete(pkg); err != nil {
			return true, err
		}
		r.logger.Info("app unlocked", zap.String("package", pkg))
	} else {
		if err := r.insert(pkg, appName); err != nil {
			return false, err
		}
		r.logger.Info("app locked", zap.String("package", pkg), zap.String("app", appName))
	}
	r.publishCount()
	return !exists, nil
}

// Add registers pkg, replacing the label of an existing entry.
func (r *LockedAppRegistry) Add(pkg, appName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.insert(pkg, appName); err != nil {
		return err
	}
	r.publishCount()
	return nil
}

// Remove unregisters pkg. Removing an unknown package is not an error.
func (r *LockedAppRegistry) Remove(pkg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.repo.Delete(pkg); err != nil {
		return err
	}
	r.publishCount()
	return nil
}

// IsLocked reports whether pkg is registered.
func (r *LockedAppRegistry) IsLocked(pkg string) (bool, error) {
	return r.repo.Exists(pkg)
}

// Lookup returns the entry for pkg, or nil when it is not registered.
func (r *LockedAppRegistry) Lookup(pkg string) (*domain.LockedApp, error) {
	app, err := r.repo.Get(pkg)
	if errors.Is(err, domain.ErrAppNotFound) {
		return nil, nil
	}
	return app, err
}

// List returns every entry ordered by AppName.
func (r *LockedAppRegistry) List() ([]domain.LockedApp, error) {
	return r.repo.List()
}

// Count returns the number of registered apps.
func (r *LockedAppRegistry) Count() (int, error) {
	return r.repo.Count()
}

// ClearAll removes every entry.
func (r *LockedAppRegistry) ClearAll() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.repo.DeleteAll(); err != nil {
		return fmt.Errorf("failed to clear locked apps: %w", err)
	}
	r.logger.Info("all app locks cleared")
	r.publishCount()
	return nil
}

// SubscribeCount streams the number of registered apps, starting with the current value.
func (r *LockedAppRegistry) SubscribeCount(ctx context.Context) *pubsub.Subscription[int] {
	return r.count.SubscribeContext(ctx)
}

// Close ends every count subscription.
func (r *LockedAppRegistry) Close() {
	r.count.Close()
}

func (r *LockedAppRegistry) insert(pkg, appName string) error {
	if pkg == "" {
		return &domain.ValidationError{Field: "package", Message: "package name is required"}
	}
	if appName == "" {
		appName = pkg
	}
	return r.repo.Insert(domain.LockedApp{
		PackageName: pkg,
		AppName:     appName,
		AddedAt:     r.now(),
	})
}

func (r *LockedAppRegistry) publishCount() {
	n, err := r.repo.Count()
	if err != nil {
		r.logger.Warn("failed to read locked app count", zap.Error(err))
		return
	}
	r.count.Publish(n)
}
