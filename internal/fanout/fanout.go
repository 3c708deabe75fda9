// Package fanout implements a bounded single-publisher, multi-subscriber
// broadcast channel. Subscribers that fall behind the retained window are told
// how many values they missed instead of silently skipping them.
package fanout

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrEmpty is returned by TryRecv when nothing is ready yet.
	ErrEmpty = errors.New("fanout: no value ready")
	// ErrClosed is returned once the broadcaster is closed and drained.
	ErrClosed = errors.New("fanout: closed")
	// ErrUnsubscribed is returned once a detached subscription is drained.
	ErrUnsubscribed = errors.New("fanout: unsubscribed")
)

// LaggedError reports values overwritten before a subscriber could read them.
// The subscription stays usable and resumes at the oldest retained value.
type LaggedError struct {
	Missed uint64
}

func (e *LaggedError) Error() string {
	return fmt.Sprintf("fanout: lagged, %d values skipped", e.Missed)
}

var closedCh = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// Broadcaster retains the last capacity published values in a ring.
type Broadcaster[T any] struct {
	mu          sync.Mutex
	ring        []T
	head        uint64 // sequence number of the next Publish
	closed      bool
	subscribers int
	wake        chan struct{}
	waiting     bool
}

// New creates a Broadcaster retaining at most capacity values (minimum 1).
func New[T any](capacity int) *Broadcaster[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Broadcaster[T]{
		ring: make([]T, capacity),
		wake: make(chan struct{}),
	}
}

// Publish stores v and wakes waiting subscribers. It never blocks and returns
// the number of attached subscribers. Publishing after Close is a no-op.
func (b *Broadcaster[T]) Publish(v T) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return 0
	}
	b.ring[b.head%uint64(len(b.ring))] = v
	b.head++
	b.signalLocked()
	return b.subscribers
}

// Subscribe attaches a subscription that observes values published from now on.
func (b *Broadcaster[T]) Subscribe() *Subscription[T] {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.closed {
		b.subscribers++
	}
	return &Subscription[T]{b: b, next: b.head}
}

// Close stops the broadcaster. Subscribers drain what is retained, then get
// ErrClosed.
func (b *Broadcaster[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	b.subscribers = 0
	b.signalLocked()
}

// Subscribers returns the number of attached subscriptions.
func (b *Broadcaster[T]) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.subscribers
}

func (b *Broadcaster[T]) signalLocked() {
	if !b.waiting {
		return
	}
	close(b.wake)
	b.wake = make(chan struct{})
	b.waiting = false
}

// Subscription is one reader's cursor into a Broadcaster. A Subscription must
// be read from a single goroutine; Unsubscribe may be called from any.
type Subscription[T any] struct {
	b        *Broadcaster[T]
	next     uint64
	until    uint64
	detached bool
}

// TryRecv returns the next value without blocking. Errors: ErrEmpty when
// nothing is ready, *LaggedError after an overrun, ErrUnsubscribed or ErrClosed
// once drained.
func (s *Subscription[T]) TryRecv() (T, error) {
	var zero T
	b := s.b

	b.mu.Lock()
	defer b.mu.Unlock()

	limit := b.head
	if s.detached && s.until < limit {
		limit = s.until
	}

	if s.next < limit {
		var oldest uint64
		if size := uint64(len(b.ring)); b.head > size {
			oldest = b.head - size
		}
		if s.next < oldest {
			missed := min(oldest, limit) - s.next
			s.next = oldest
			return zero, &LaggedError{Missed: missed}
		}
		v := b.ring[s.next%uint64(len(b.ring))]
		s.next++
		return v, nil
	}

	switch {
	case s.detached:
		return zero, ErrUnsubscribed
	case b.closed:
		return zero, ErrClosed
	default:
		return zero, ErrEmpty
	}
}

// Ready returns a channel that is closed once TryRecv may return something
// other than ErrEmpty. Take it before calling TryRecv to avoid a lost wakeup.
func (s *Subscription[T]) Ready() <-chan struct{} {
	b := s.b
	b.mu.Lock()
	defer b.mu.Unlock()

	if s.next < b.head || s.detached || b.closed {
		return closedCh
	}
	b.waiting = true
	return b.wake
}

// Recv blocks until a value, a terminal error or ctx cancellation.
func (s *Subscription[T]) Recv(ctx context.Context) (T, error) {
	for {
		ready := s.Ready()
		v, err := s.TryRecv()
		if !errors.Is(err, ErrEmpty) {
			return v, err
		}
		select {
		case <-ready:
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		}
	}
}

// Unsubscribe detaches the subscription. Values published before the call are
// still delivered, then TryRecv returns ErrUnsubscribed.
func (s *Subscription[T]) Unsubscribe() {
	b := s.b
	b.mu.Lock()
	defer b.mu.Unlock()

	if s.detached {
		return
	}
	s.detached = true
	s.until = b.head
	if !b.closed {
		b.subscribers--
	}
	b.signalLocked()
}
