package eventsub

import (
	"context"
	"sync"
)

// DefaultBusCapacity is the per-subscriber buffer size.
const DefaultBusCapacity = 100

// Bus fans values out to every current subscriber in publish order. Each
// subscriber has its own bounded buffer; Publish blocks while any buffer is
// full rather than dropping.
type Bus[T any] struct {
	capacity int

	pubMu sync.Mutex // serializes publishers so all subscribers see one order

	mu   sync.RWMutex
	subs map[*busSub[T]]struct{}
}

type busSub[T any] struct {
	ch   chan T
	done chan struct{}
	once sync.Once
}

// NewBus returns a bus with the given per-subscriber capacity.
func NewBus[T any](capacity int) *Bus[T] {
	if capacity <= 0 {
		capacity = DefaultBusCapacity
	}
	return &Bus[T]{capacity: capacity, subs: make(map[*busSub[T]]struct{})}
}

// Subscribe registers a subscriber. It receives every value published after
// Subscribe returns. The returned func unsubscribes; it is safe to call more
// than once. The channel is never closed.
func (b *Bus[T]) Subscribe() (<-chan T, func()) {
	s := &busSub[T]{ch: make(chan T, b.capacity), done: make(chan struct{})}
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()
	return s.ch, func() {
		s.once.Do(func() {
			b.mu.Lock()
			delete(b.subs, s)
			b.mu.Unlock()
			close(s.done)
		})
	}
}

// Publish delivers v to all subscribers. It returns ctx.Err() if ctx ends
// while waiting on a full buffer; subscribers already served keep the value.
func (b *Bus[T]) Publish(ctx context.Context, v T) error {
	b.pubMu.Lock()
	defer b.pubMu.Unlock()

	b.mu.RLock()
	targets := make([]*busSub[T], 0, len(b.subs))
	for s := range b.subs {
		targets = append(targets, s)
	}
	b.mu.RUnlock()

	for _, s := range targets {
		select {
		case s.ch <- v:
		case <-s.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Len returns the number of subscribers.
func (b *Bus[T]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
