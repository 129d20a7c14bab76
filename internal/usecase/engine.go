package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/app_lock/internal/domain"
	"github.com/eliteGoblin/focusd/app_lock/internal/policy"
	"github.com/eliteGoblin/focusd/app_lock/internal/pubsub"
)

// DefaultQueueSize is the inbound event queue length.
const DefaultQueueSize = 64

// EventKind identifies an inbound engine event.
type EventKind int

const (
	EventForegroundChanged EventKind = iota + 1
	EventTagTapped
	EventToggleRequested
	EventPinUnlockSucceeded
	EventOverlayDismissed
	EventTimerExpired
)

func (k EventKind) String() string {
	switch k {
	case EventForegroundChanged:
		return "ForegroundAppChanged"
	case EventTagTapped:
		return "TagTapped"
	case EventToggleRequested:
		return "UiToggleRequested"
	case EventPinUnlockSucceeded:
		return "PinUnlockSucceeded"
	case EventOverlayDismissed:
		return "OverlayDismissed"
	case EventTimerExpired:
		return "TimerExpired"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event is one input to the engine.
type Event struct {
	Kind        EventKind
	PackageName string
	// LockedAt identifies the lock a TimerExpired was armed for.
	LockedAt time.Time
}

// ForegroundChanged reports that pkg came to the foreground.
func ForegroundChanged(pkg string) Event {
	return Event{Kind: EventForegroundChanged, PackageName: pkg}
}

// TagTapped reports a tap of the physical tag.
func TagTapped() Event {
	return Event{Kind: EventTagTapped}
}

// ToggleRequested reports a lock toggle from the UI.
func ToggleRequested() Event {
	return Event{Kind: EventToggleRequested}
}

// PinUnlockSucceeded reports a correct PIN entered on the overlay for pkg.
func PinUnlockSucceeded(pkg string) Event {
	return Event{Kind: EventPinUnlockSucceeded, PackageName: pkg}
}

// OverlayDismissed reports that the overlay for pkg closed without a PIN.
func OverlayDismissed(pkg string) Event {
	return Event{Kind: EventOverlayDismissed, PackageName: pkg}
}

// TimerExpired reports that the auto-unlock countdown for lockedAt elapsed.
func TimerExpired(lockedAt time.Time) Event {
	return Event{Kind: EventTimerExpired, LockedAt: lockedAt}
}

// Result describes how the engine handled one event.
type Result struct {
	// State is the lock state after handling.
	State domain.LockState
	// Decision is set when the event produced a new BlockDecision.
	Decision *domain.BlockDecision
	// Recorded is set when the event appended a statistic.
	Recorded *domain.StatisticEvent
	// Ignored is set when the event had no effect (debounced, stale, exempt).
	Ignored bool
}

// EngineConfig tunes the engine.
type EngineConfig struct {
	QueueSize int
	// SubscriberBuffer bounds each outbound subscriber.
	SubscriberBuffer int
	Exemptions       *policy.ExemptionPolicy
	// Resolver is optional; without it names come from the registry.
	Resolver domain.AppNameResolver
}

type reply struct {
	res Result
	err error
}

type envelope struct {
	ev    Event
	reply chan reply
}

// Engine is the single writer of lock decisions. All events are handled
// one at a time, in arrival order, by the goroutine running Run.
type Engine struct {
	store    *LockStateStore
	registry *LockedAppRegistry
	stats    *StatisticsRecorder
	exempt   *policy.ExemptionPolicy
	resolver domain.AppNameResolver
	now      func() time.Time
	logger   *zap.Logger

	queue   chan envelope
	stopped chan struct{}
	running atomic.Bool

	decisions  *pubsub.Broadcaster[domain.BlockDecision]
	dismissals *pubsub.Broadcaster[string]
	overlays   *pubsub.Broadcaster[domain.OverlaySet]

	evaluations atomic.Uint64
	dropped     atomic.Uint64

	// Owned by the Run goroutine.
	lastObserved string
	presented    map[string]domain.BlockDecision
}

// NewEngine creates an engine. It does not process events until Run is called.
func NewEngine(store *LockStateStore, registry *LockedAppRegistry, stats *StatisticsRecorder, cfg EngineConfig, logger *zap.Logger) *Engine {
	return NewEngineWithClock(store, registry, stats, cfg, time.Now, logger)
}

// NewEngineWithClock creates an engine with an injectable clock (for testing).
func NewEngineWithClock(store *LockStateStore, registry *LockedAppRegistry, stats *StatisticsRecorder, cfg EngineConfig, now func() time.Time, logger *zap.Logger) *Engine {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.Exemptions == nil {
		cfg.Exemptions = policy.DefaultExemptionPolicy("")
	}
	e := &Engine{
		store:      store,
		registry:   registry,
		stats:      stats,
		exempt:     cfg.Exemptions,
		resolver:   cfg.Resolver,
		now:        now,
		logger:     logger,
		queue:      make(chan envelope, cfg.QueueSize),
		stopped:    make(chan struct{}),
		decisions:  pubsub.New[domain.BlockDecision](cfg.SubscriberBuffer),
		dismissals: pubsub.New[string](cfg.SubscriberBuffer),
		overlays:   pubsub.NewState[domain.OverlaySet](cfg.SubscriberBuffer),
		presented:  make(map[string]domain.BlockDecision),
	}
	e.overlays.Publish(domain.OverlaySet{})
	return e
}

// Run handles queued events until ctx is canceled. It may be called once.
func (e *Engine) Run(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return errors.New("engine already running")
	}
	defer func() {
		close(e.stopped)
		e.decisions.Close()
		e.dismissals.Close()
		e.overlays.Close()
	}()

	e.logger.Info("decision engine started", zap.Int("queue_size", cap(e.queue)))

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("decision engine stopped")
			return ctx.Err()
		case env := <-e.queue:
			res, err := e.handleSafely(env.ev)
			if err != nil {
				e.logger.Error("event handling failed",
					zap.Stringer("event", env.ev.Kind),
					zap.String("package", env.ev.PackageName),
					zap.Error(err))
			}
			if env.reply != nil {
				env.reply <- reply{res: res, err: err}
			}
		}
	}
}

// Dispatch enqueues ev and waits until it has been handled.
func (e *Engine) Dispatch(ctx context.Context, ev Event) (Result, error) {
	env := envelope{ev: ev, reply: make(chan reply, 1)}
	if err := e.enqueue(ctx, env); err != nil {
		return Result{}, err
	}

	select {
	case r := <-env.reply:
		return r.res, r.err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case <-e.stopped:
		select {
		case r := <-env.reply:
			return r.res, r.err
		default:
			return Result{}, domain.ErrEngineStopped
		}
	}
}

// Submit enqueues ev, blocking while the queue is full, without waiting for it to be handled.
func (e *Engine) Submit(ctx context.Context, ev Event) error {
	return e.enqueue(ctx, envelope{ev: ev})
}

// Post enqueues ev without blocking. When the queue is full the event is
// dropped and Post returns false.
func (e *Engine) Post(ev Event) bool {
	select {
	case <-e.stopped:
		return false
	default:
	}

	select {
	case e.queue <- envelope{ev: ev}:
		return true
	default:
		e.dropped.Add(1)
		e.logger.Warn("event queue full, dropping event",
			zap.Stringer("event", ev.Kind),
			zap.String("package", ev.PackageName))
		return false
	}
}

// ExpireTimer submits a TimerExpired event for the lock stamped lockedAt.
func (e *Engine) ExpireTimer(ctx context.Context, lockedAt time.Time) error {
	return e.Submit(ctx, TimerExpired(lockedAt))
}

// SubscribeDecisions streams new block decisions.
func (e *Engine) SubscribeDecisions(ctx context.Context) *pubsub.Subscription[domain.BlockDecision] {
	return e.decisions.SubscribeContext(ctx)
}

// SubscribeDismissals streams packages whose overlay should be dismissed.
func (e *Engine) SubscribeDismissals(ctx context.Context) *pubsub.Subscription[string] {
	return e.dismissals.SubscribeContext(ctx)
}

// SubscribeOverlays streams the set of packages whose overlay is up, in
// order. A new subscriber first receives the current set. Presenters should
// follow this stream rather than decisions and dismissals.
func (e *Engine) SubscribeOverlays(ctx context.Context) *pubsub.Subscription[domain.OverlaySet] {
	return e.overlays.SubscribeContext(ctx)
}

// Evaluations returns how many foreground events passed the debounce.
func (e *Engine) Evaluations() uint64 {
	return e.evaluations.Load()
}

// Dropped returns how many posted events were discarded on a full queue.
func (e *Engine) Dropped() uint64 {
	return e.dropped.Load()
}

func (e *Engine) enqueue(ctx context.Context, env envelope) error {
	select {
	case <-e.stopped:
		return domain.ErrEngineStopped
	default:
	}

	select {
	case e.queue <- env:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-e.stopped:
		return domain.ErrEngineStopped
	}
}

func (e *Engine) handleSafely(ev Event) (res Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic handling %s: %v", ev.Kind, r)
		}
	}()
	return e.handle(ev)
}

func (e *Engine) handle(ev Event) (Result, error) {
	switch ev.Kind {
	case EventForegroundChanged:
		return e.onForeground(ev.PackageName)
	case EventTagTapped:
		return e.toggle(domain.TriggerTag)
	case EventToggleRequested:
		return e.toggle(domain.TriggerUI)
	case EventPinUnlockSucceeded:
		return e.onPinUnlock(ev.PackageName)
	case EventOverlayDismissed:
		e.unpresent(ev.PackageName)
		return Result{State: e.store.State()}, nil
	case EventTimerExpired:
		return e.onTimerExpired(ev.LockedAt)
	default:
		return Result{State: e.store.State(), Ignored: true}, fmt.Errorf("unknown event kind %d", int(ev.Kind))
	}
}

func (e *Engine) onForeground(pkg string) (Result, error) {
	state := e.store.State()
	res := Result{State: state, Ignored: true}
	if pkg == "" || !state.IsLocked {
		return res, nil
	}
	if pkg == e.lastObserved {
		return res, nil
	}
	e.lastObserved = pkg
	e.evaluations.Add(1)

	if e.exempt.IsExempt(pkg) {
		return res, nil
	}

	app, err := e.registry.Lookup(pkg)
	if err != nil {
		return res, fmt.Errorf("failed to look up %s: %w", pkg, err)
	}
	if app == nil {
		return res, nil
	}

	res.Ignored = false
	name := e.resolveName(pkg, app)
	if ev, err := e.stats.Record(pkg, name, domain.EventAppBlocked); err != nil {
		e.logger.Warn("failed to record blocked app", zap.String("package", pkg), zap.Error(err))
	} else {
		res.Recorded = &ev
	}

	if _, ok := e.presented[pkg]; ok {
		e.logger.Debug("block overlay already presented", zap.String("package", pkg))
		return res, nil
	}
	decision := domain.BlockDecision{PackageName: pkg, AppName: name, DecidedAt: e.now()}
	e.presented[pkg] = decision
	e.decisions.Publish(decision)
	e.publishOverlays()
	res.Decision = &decision

	e.logger.Info("app blocked", zap.String("package", pkg), zap.String("app", name))
	return res, nil
}

func (e *Engine) toggle(trigger domain.Trigger) (Result, error) {
	target := !e.store.State().IsLocked
	tr, err := e.store.SetLocked(target)
	if err != nil {
		return Result{State: tr.After}, err
	}
	return e.afterTransition(tr, trigger), nil
}

func (e *Engine) onTimerExpired(lockedAt time.Time) (Result, error) {
	state := e.store.State()
	ignored := Result{State: state, Ignored: true}

	if !state.IsLocked {
		e.logger.Debug("timer expired while unlocked, ignoring")
		return ignored, nil
	}
	if !lockedAt.Equal(state.LockedAt) {
		e.logger.Debug("stale timer expiry, ignoring",
			zap.Time("armed_for", lockedAt),
			zap.Time("locked_at", state.LockedAt))
		return ignored, nil
	}
	if state.RemainingMillis(e.now()) > 0 {
		e.logger.Debug("timer expiry before deadline, ignoring")
		return ignored, nil
	}

	tr, err := e.store.SetLocked(false)
	if err != nil {
		return Result{State: tr.After}, err
	}
	e.logger.Info("auto-unlock timer expired", zap.Int("minutes", state.AutoUnlockMinutes))
	return e.afterTransition(tr, domain.TriggerTimer), nil
}

func (e *Engine) onPinUnlock(pkg string) (Result, error) {
	state := e.store.State()
	e.dismiss(pkg)
	// The user is returning to pkg; its next foreground report must not re-block it.
	e.lastObserved = pkg

	name := pkg
	if app, err := e.registry.Lookup(pkg); err == nil {
		name = e.resolveName(pkg, app)
	}
	ev, err := e.stats.Record(pkg, name, domain.EventManualUnlock)
	if err != nil {
		return Result{State: state}, err
	}
	e.logger.Info("app unlocked with PIN", zap.String("package", pkg))
	return Result{State: state, Recorded: &ev}, nil
}

func (e *Engine) afterTransition(tr LockTransition, trigger domain.Trigger) Result {
	res := Result{State: tr.After, Ignored: !tr.Changed()}

	var eventType domain.EventType
	switch {
	case tr.Locked():
		e.lastObserved = ""
		eventType = domain.EventLockEnabled
		e.logger.Info("device locked", zap.String("trigger", string(trigger)))
	case tr.Unlocked():
		for pkg := range e.presented {
			e.dismiss(pkg)
		}
		eventType = domain.EventLockDisabled
		if trigger == domain.TriggerTag {
			eventType = domain.EventNFCUnlock
		}
		e.logger.Info("device unlocked", zap.String("trigger", string(trigger)))
	default:
		return res
	}

	ev, err := e.stats.Record(domain.SystemPackage, domain.SystemAppName, eventType)
	if err != nil {
		e.logger.Warn("failed to record lock transition", zap.String("event_type", string(eventType)), zap.Error(err))
		return res
	}
	res.Recorded = &ev
	return res
}

func (e *Engine) dismiss(pkg string) {
	e.unpresent(pkg)
	e.dismissals.Publish(pkg)
}

// unpresent forgets the overlay for pkg and publishes the smaller set.
func (e *Engine) unpresent(pkg string) {
	if _, ok := e.presented[pkg]; !ok {
		return
	}
	delete(e.presented, pkg)
	e.publishOverlays()
}

func (e *Engine) publishOverlays() {
	set := make(domain.OverlaySet, len(e.presented))
	for pkg, d := range e.presented {
		set[pkg] = d
	}
	e.overlays.Publish(set)
}

// resolveName prefers the resolver, then the registry label, then pkg itself.
func (e *Engine) resolveName(pkg string, app *domain.LockedApp) string {
	if e.resolver != nil {
		name, err := e.resolver.ResolveName(pkg)
		if err == nil && name != "" {
			return name
		}
		if err != nil {
			e.logger.Debug("name resolution failed", zap.String("package", pkg), zap.Error(err))
		}
	}
	if app != nil && app.AppName != "" {
		return app.AppName
	}
	return pkg
}
