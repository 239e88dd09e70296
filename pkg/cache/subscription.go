// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ResourceCache Contributors

package cache

import (
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/resourcecache/resourcecache/pkg/resource"
)

// Subscription is one observer's view of a key's resource stream.
//
// Events are delivered in causal order through an unbounded FIFO queue
// drained by a pump goroutine, so broadcasting never blocks the coordinator
// and no event is dropped. Consecutive structurally-equal events are
// suppressed at enqueue time; since the queue is per-subscriber FIFO, that
// is identical to suppressing them at delivery time.
type Subscription[V any] struct {
	id    ulid.ULID
	out   chan resource.Resource[V]
	wake  chan struct{}
	done  chan struct{}
	once  sync.Once
	unsub func()

	mu     sync.Mutex
	queue  []resource.Resource[V]
	last   *resource.Resource[V]
	closed bool
}

func newSubscription[V any](unsub func()) *Subscription[V] {
	s := &Subscription[V]{
		id:    ulid.Make(),
		out:   make(chan resource.Resource[V]),
		wake:  make(chan struct{}, 1),
		done:  make(chan struct{}),
		unsub: unsub,
	}
	go s.pump()
	return s
}

// ID returns the subscription's identifier, used for log correlation.
func (s *Subscription[V]) ID() ulid.ULID { return s.id }

// Events returns the channel events are delivered on. The channel closes
// after Cancel, or when the coordinator owning the key closes.
func (s *Subscription[V]) Events() <-chan resource.Resource[V] { return s.out }

// Cancel detaches the subscription and closes its event channel. Cancel is
// idempotent and safe to call from any goroutine, including one consuming
// Events.
func (s *Subscription[V]) Cancel() {
	s.once.Do(func() {
		if s.unsub != nil {
			s.unsub()
		}
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		close(s.done)
	})
}

// close shuts the subscription down without detaching from the coordinator;
// the coordinator calls it while dropping its own subscriber registry.
func (s *Subscription[V]) close() {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		close(s.done)
	})
}

// push enqueues an event unless it equals the previously enqueued one.
func (s *Subscription[V]) push(r resource.Resource[V]) {
	s.mu.Lock()
	if s.closed || (s.last != nil && s.last.Equal(r)) {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, r)
	s.last = &r
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// pump drains the queue into the out channel until cancelled.
func (s *Subscription[V]) pump() {
	defer close(s.out)

	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
		}

		for {
			s.mu.Lock()
			if len(s.queue) == 0 {
				s.mu.Unlock()
				break
			}
			next := s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()

			select {
			case s.out <- next:
			case <-s.done:
				return
			}
		}
	}
}
