// Package pubsub fans values out to bounded, cancellable subscribers.
//
// Backpressure policy is drop-oldest: a subscriber that falls behind loses
// its oldest undelivered value, never the newest one, and Publish never blocks.
package pubsub

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// DefaultBuffer is the per-subscriber queue length used when none is given.
const DefaultBuffer = 16

// Broadcaster delivers every published value to all current subscribers.
type Broadcaster[T any] struct {
	mu        sync.Mutex
	subs      map[uuid.UUID]*Subscription[T]
	buffer    int
	replay    bool
	latest    T
	hasLatest bool
	closed    bool
	dropped   atomic.Uint64
}

// New creates a broadcaster for event-style values: new subscribers only
// see values published after they subscribed.
func New[T any](buffer int) *Broadcaster[T] {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Broadcaster[T]{
		subs:   make(map[uuid.UUID]*Subscription[T]),
		buffer: buffer,
	}
}

// NewState creates a broadcaster for state-style values: a new subscriber
// immediately receives the most recently published value.
func NewState[T any](buffer int) *Broadcaster[T] {
	b := New[T](buffer)
	b.replay = true
	return b
}

// Subscription is one subscriber's view of a Broadcaster.
type Subscription[T any] struct {
	ID   uuid.UUID
	ch   chan T
	done chan struct{}
	b    *Broadcaster[T]
	once sync.Once
}

// C returns the delivery channel. It is closed when the subscription ends.
func (s *Subscription[T]) C() <-chan T {
	return s.ch
}

// Done is closed when the subscription ends.
func (s *Subscription[T]) Done() <-chan struct{} {
	return s.done
}

// Cancel ends the subscription and releases its buffer. Safe to call twice.
func (s *Subscription[T]) Cancel() {
	s.once.Do(func() {
		s.b.remove(s)
	})
}

// Subscribe registers a new subscriber.
func (b *Broadcaster[T]) Subscribe() *Subscription[T] {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := &Subscription[T]{
		ID:   uuid.New(),
		ch:   make(chan T, b.buffer),
		done: make(chan struct{}),
		b:    b,
	}
	if b.closed {
		close(s.ch)
		close(s.done)
		s.once.Do(func() {})
		return s
	}
	b.subs[s.ID] = s
	if b.replay && b.hasLatest {
		s.ch <- b.latest
	}
	return s
}

// SubscribeContext is Subscribe with cancellation tied to ctx.
func (b *Broadcaster[T]) SubscribeContext(ctx context.Context) *Subscription[T] {
	s := b.Subscribe()
	go func() {
		select {
		case <-ctx.Done():
			s.Cancel()
		case <-s.done:
		}
	}()
	return s
}

// Publish delivers v to every subscriber without blocking.
func (b *Broadcaster[T]) Publish(v T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.latest = v
	b.hasLatest = true

	for _, s := range b.subs {
		select {
		case s.ch <- v:
			continue
		default:
		}
		// Full: evict the oldest value, then retry once.
		select {
		case <-s.ch:
			b.dropped.Add(1)
		default:
		}
		select {
		case s.ch <- v:
		default:
			b.dropped.Add(1)
		}
	}
}

// Latest returns the most recently published value, if any.
func (b *Broadcaster[T]) Latest() (T, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.latest, b.hasLatest
}

// Len returns the number of active subscribers.
func (b *Broadcaster[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Dropped returns how many values were evicted from slow subscribers.
func (b *Broadcaster[T]) Dropped() uint64 {
	return b.dropped.Load()
}

// Close ends every subscription; later Publish calls are ignored.
func (b *Broadcaster[T]) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := make([]*Subscription[T], 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		s.Cancel()
	}
}

func (b *Broadcaster[T]) remove(s *Subscription[T]) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, s.ID)
	close(s.ch)
	close(s.done)
}
