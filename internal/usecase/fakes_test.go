package usecase

import (
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/app_lock/internal/domain"
	"github.com/eliteGoblin/focusd/app_lock/internal/policy"
)

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// memPreferences implements domain.PreferenceStore in memory.
type memPreferences struct {
	mu      sync.Mutex
	values  map[string]string
	setErr  error
	setCall int
}

func newMemPreferences() *memPreferences {
	return &memPreferences{values: make(map[string]string)}
}

func (m *memPreferences) Get(key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *memPreferences) SetMany(values map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setCall++
	if m.setErr != nil {
		return m.setErr
	}
	for k, v := range values {
		m.values[k] = v
	}
	return nil
}

// memLockedApps implements domain.LockedAppRepository in memory.
type memLockedApps struct {
	mu   sync.Mutex
	apps map[string]domain.LockedApp
	err  error
}

func newMemLockedApps() *memLockedApps {
	return &memLockedApps{apps: make(map[string]domain.LockedApp)}
}

func (m *memLockedApps) Insert(app domain.LockedApp) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.apps[app.PackageName] = app
	return nil
}

func (m *memLockedApps) Delete(pkg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.apps, pkg)
	return nil
}

func (m *memLockedApps) Get(pkg string) (*domain.LockedApp, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	app, ok := m.apps[pkg]
	if !ok {
		return nil, domain.ErrAppNotFound
	}
	return &app, nil
}

func (m *memLockedApps) Exists(pkg string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.apps[pkg]
	return ok, nil
}

func (m *memLockedApps) List() ([]domain.LockedApp, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.LockedApp, 0, len(m.apps))
	for _, a := range m.apps {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AppName != out[j].AppName {
			return out[i].AppName < out[j].AppName
		}
		return out[i].PackageName < out[j].PackageName
	})
	return out, nil
}

func (m *memLockedApps) Count() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.apps), nil
}

func (m *memLockedApps) DeleteAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.apps = make(map[string]domain.LockedApp)
	return nil
}

// memStatistics implements domain.StatisticsRepository in memory.
type memStatistics struct {
	mu     sync.Mutex
	nextID int64
	events []domain.StatisticEvent
}

func newMemStatistics() *memStatistics {
	return &memStatistics{}
}

func (m *memStatistics) Insert(ev domain.StatisticEvent) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	ev.ID = m.nextID
	m.events = append(m.events, ev)
	return ev.ID, nil
}

func (m *memStatistics) sorted(keep func(domain.StatisticEvent) bool) []domain.StatisticEvent {
	out := make([]domain.StatisticEvent, 0, len(m.events))
	for _, ev := range m.events {
		if keep(ev) {
			out = append(out, ev)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.After(out[j].Timestamp)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

func (m *memStatistics) Recent(limit int) ([]domain.StatisticEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.sorted(func(domain.StatisticEvent) bool { return true })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStatistics) CountByType(t domain.EventType) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, ev := range m.events {
		if ev.EventType == t {
			n++
		}
	}
	return n, nil
}

func (m *memStatistics) ForPackage(pkg string) ([]domain.StatisticEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sorted(func(ev domain.StatisticEvent) bool { return ev.PackageName == pkg }), nil
}

func (m *memStatistics) DeleteBefore(cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.events[:0]
	var removed int64
	for _, ev := range m.events {
		if ev.Timestamp.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, ev)
	}
	m.events = kept
	return removed, nil
}

func (m *memStatistics) DeleteAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = nil
	return nil
}

func (m *memStatistics) types() []domain.EventType {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.EventType, len(m.events))
	for i, ev := range m.events {
		out[i] = ev.EventType
	}
	return out
}

// mapResolver implements domain.AppNameResolver.
type memUnlockQueue struct {
	mu     sync.Mutex
	nextID int64
	reqs   []domain.UnlockRequest
}

func (m *memUnlockQueue) Push(req domain.UnlockRequest) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	req.ID = m.nextID
	m.reqs = append(m.reqs, req)
	return req.ID, nil
}

func (m *memUnlockQueue) PopAll() ([]domain.UnlockRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.reqs
	m.reqs = nil
	return out, nil
}

func (m *memUnlockQueue) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.reqs)
}

type mapResolver struct {
	names map[string]string
	panic bool
}

func (r *mapResolver) ResolveName(pkg string) (string, error) {
	if r.panic {
		panic("resolver exploded")
	}
	if name, ok := r.names[pkg]; ok {
		return name, nil
	}
	return "", errors.New("no label")
}

const testHost = "com.focusd.applock"

// fixture bundles an engine with in-memory collaborators.
type fixture struct {
	clock    *fakeClock
	prefs    *memPreferences
	apps     *memLockedApps
	stats    *memStatistics
	store    *LockStateStore
	registry *LockedAppRegistry
	recorder *StatisticsRecorder
	unlocks  *memUnlockQueue
	engine   *Engine
}

func newFixture(t *testing.T, cfg EngineConfig) *fixture {
	t.Helper()
	logger := zap.NewNop()

	f := &fixture{
		clock: newFakeClock(),
		prefs: newMemPreferences(),
		apps:  newMemLockedApps(),
		stats: newMemStatistics(),

		unlocks: &memUnlockQueue{},
	}

	store, err := NewLockStateStoreWithClock(f.prefs, PlainVerifier{}, f.clock.Now, logger)
	require.NoError(t, err)
	f.store = store
	f.registry = NewLockedAppRegistryWithClock(f.apps, f.clock.Now, logger)
	f.recorder = NewStatisticsRecorderWithClock(f.stats, 10, f.clock.Now, logger)

	if cfg.Exemptions == nil {
		cfg.Exemptions = policy.DefaultExemptionPolicy(testHost)
	}
	f.engine = NewEngineWithClock(f.store, f.registry, f.recorder, cfg, f.clock.Now, logger)
	return f
}

// handle runs one event synchronously on the test goroutine.
func (f *fixture) handle(t *testing.T, ev Event) Result {
	t.Helper()
	res, err := f.engine.handle(ev)
	require.NoError(t, err)
	return res
}
