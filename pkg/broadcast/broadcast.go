// Package broadcast implements a bounded single-producer, multi-subscriber
// queue. Publishing never blocks: when the ring is full the oldest message
// is overwritten, and a subscriber that had not read it is told how many
// messages it lost on its next Receive.
package broadcast

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrLagged matches every *LagError.
	ErrLagged = errors.New("broadcast: subscriber lagged")
	// ErrClosed is returned by Receive once the channel is closed and the
	// subscriber has drained every retained message.
	ErrClosed = errors.New("broadcast: channel closed")
	// ErrTooManySubscribers is returned by Subscribe past the bound given
	// to New.
	ErrTooManySubscribers = errors.New("broadcast: too many subscribers")
)

// LagError reports messages evicted before a subscriber read them.
type LagError struct {
	Missed uint64
}

func (e *LagError) Error() string {
	return fmt.Sprintf("broadcast: subscriber lagged, %d messages missed", e.Missed)
}

func (e *LagError) Is(target error) bool { return target == ErrLagged }

// Channel is the shared queue. Create it with New before starting the
// producer and the subscribers; it lives as long as they do.
type Channel[T any] struct {
	mu      sync.Mutex
	ring    []T
	head    uint64 // sequence of the oldest retained message
	next    uint64 // sequence the next Publish gets
	wake    chan struct{}
	subs    int
	maxSubs int
	closed  bool
}

// New returns a channel retaining up to capacity messages for at most
// maxSubscribers subscribers. It panics if either is not positive.
func New[T any](capacity, maxSubscribers int) *Channel[T] {
	if capacity <= 0 {
		panic(fmt.Sprintf("broadcast: capacity must be positive, got %d", capacity))
	}
	if maxSubscribers <= 0 {
		panic(fmt.Sprintf("broadcast: maxSubscribers must be positive, got %d", maxSubscribers))
	}
	return &Channel[T]{
		ring:    make([]T, capacity),
		wake:    make(chan struct{}),
		maxSubs: maxSubscribers,
	}
}

// Capacity returns the number of messages retained.
func (c *Channel[T]) Capacity() int { return len(c.ring) }

// Publish appends v, evicting the oldest message when the ring is full.
// Publishing to a closed channel is a no-op.
func (c *Channel[T]) Publish(v T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	size := uint64(len(c.ring))
	c.ring[c.next%size] = v
	c.next++
	if c.next-c.head > size {
		c.head = c.next - size
	}
	close(c.wake)
	c.wake = make(chan struct{})
}

// Subscribe registers a subscriber that receives every message published
// from now on.
func (c *Channel[T]) Subscribe() (*Subscriber[T], error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	if c.subs == c.maxSubs {
		return nil, ErrTooManySubscribers
	}
	c.subs++
	return &Subscriber[T]{ch: c, next: c.next}, nil
}

// Close wakes every waiting subscriber. Retained messages can still be
// received; after that Receive returns ErrClosed.
func (c *Channel[T]) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.wake)
}

// Subscriber is a read cursor into a Channel. It must be used by one
// goroutine at a time.
type Subscriber[T any] struct {
	ch       *Channel[T]
	next     uint64
	released bool
}

// Receive returns the next message in publish order, suspending until one
// is published, ctx is done or the channel is closed. If messages were
// evicted since the last call it returns a *LagError instead, and the
// following call resumes at the oldest retained message.
func (s *Subscriber[T]) Receive(ctx context.Context) (T, error) {
	var zero T
	c := s.ch
	for {
		c.mu.Lock()
		if s.next < c.head {
			missed := c.head - s.next
			s.next = c.head
			c.mu.Unlock()
			return zero, &LagError{Missed: missed}
		}
		if s.next < c.next {
			v := c.ring[s.next%uint64(len(c.ring))]
			s.next++
			c.mu.Unlock()
			return v, nil
		}
		if c.closed {
			c.mu.Unlock()
			return zero, ErrClosed
		}
		wake := c.wake
		c.mu.Unlock()

		select {
		case <-wake:
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
}

// Pending returns how many retained messages the subscriber has not read.
func (s *Subscriber[T]) Pending() int {
	c := s.ch
	c.mu.Lock()
	defer c.mu.Unlock()
	from := s.next
	if from < c.head {
		from = c.head
	}
	return int(c.next - from)
}

// Unsubscribe frees the subscriber slot.
func (s *Subscriber[T]) Unsubscribe() {
	c := s.ch
	c.mu.Lock()
	defer c.mu.Unlock()
	if !s.released {
		s.released = true
		c.subs--
	}
}
