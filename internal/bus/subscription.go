// SPDX-License-Identifier: MIT
package bus

import (
	"context"
	"sync"
	"sync/atomic"

	"beatzero/internal/frame"
)

// Subscription is one consumer's view of the bus: a bounded FIFO of frames.
type Subscription struct {
	id       uint64
	name     string
	bus      *Bus
	overflow Overflow

	mu     sync.Mutex
	queue  []frame.AnalysisFrame // ring buffer
	head   int
	count  int
	closed bool
	err    error

	notify chan struct{} // signalled when a frame is queued
	done   chan struct{} // closed with the subscription

	dropped atomic.Uint64
	errors  atomic.Uint64
}

// ID returns the subscription identifier, unique per bus.
func (s *Subscription) ID() uint64 { return s.id }

// Name returns the subscription label.
func (s *Subscription) Name() string { return s.name }

// offer queues f, dropping per the overflow policy when full.
func (s *Subscription) offer(f frame.AnalysisFrame) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if s.count == len(s.queue) {
		s.dropped.Add(1)
		if s.overflow == DropNewest {
			s.mu.Unlock()
			return
		}
		s.queue[s.head] = frame.AnalysisFrame{}
		s.head = (s.head + 1) % len(s.queue)
		s.count--
	}
	s.queue[(s.head+s.count)%len(s.queue)] = f
	s.count++
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// pop removes the oldest frame.
func (s *Subscription) pop() (frame.AnalysisFrame, bool, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.count == 0 {
		return frame.AnalysisFrame{}, false, s.closed
	}
	f := s.queue[s.head]
	s.queue[s.head] = frame.AnalysisFrame{}
	s.head = (s.head + 1) % len(s.queue)
	s.count--
	return f, true, s.closed
}

// Next returns the oldest queued frame, waiting until one arrives, ctx is
// done or the subscription closes. Frames queued before the close are still
// delivered; after that Next returns ErrClosed.
func (s *Subscription) Next(ctx context.Context) (frame.AnalysisFrame, error) {
	for {
		f, ok, closed := s.pop()
		if ok {
			return f, nil
		}
		if closed {
			return frame.AnalysisFrame{}, ErrClosed
		}
		select {
		case <-s.notify:
		case <-s.done:
		case <-ctx.Done():
			return frame.AnalysisFrame{}, ctx.Err()
		}
	}
}

// TryNext returns a queued frame without waiting.
func (s *Subscription) TryNext() (frame.AnalysisFrame, bool) {
	f, ok, _ := s.pop()
	return f, ok
}

// close marks the subscription closed with status; it reports whether this
// call closed it.
func (s *Subscription) close(status error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.closed = true
	s.err = status
	close(s.done)
	return true
}

// Unsubscribe removes the subscription from its bus.
func (s *Subscription) Unsubscribe() { s.bus.Unsubscribe(s) }

// Done is closed when the subscription closes.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Err returns the terminal status once closed: nil for an orderly end of
// stream, ErrUnsubscribed after Unsubscribe, otherwise the stream error.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Len returns the number of queued frames.
func (s *Subscription) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// Cap returns the queue depth.
func (s *Subscription) Cap() int { return len(s.queue) }

// Dropped returns the number of frames lost to overflow.
func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }
