// SPDX-License-Identifier: MIT
//
// Package bus fans analysis frames out to independent consumers. Every
// subscription owns a bounded queue; Publish never blocks, a full queue
// drops frames according to the subscription's overflow policy.
package bus

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"beatzero/internal/frame"
	applog "beatzero/internal/log"
)

var (
	// ErrClosed is returned by Next once a closed subscription is drained,
	// and by Subscribe after the bus was closed.
	ErrClosed = errors.New("bus: closed")
	// ErrUnsubscribed is the terminal status of a removed subscription.
	ErrUnsubscribed = errors.New("bus: unsubscribed")
	// ErrDisconnect is returned by a consumer to end its subscription.
	ErrDisconnect = errors.New("bus: consumer disconnected")
)

const DefaultQueueDepth = 64

// Overflow selects which frame a full queue gives up.
type Overflow int

const (
	DropOldest Overflow = iota // evict the oldest queued frame
	DropNewest                 // discard the incoming frame
)

func (o Overflow) String() string {
	switch o {
	case DropOldest:
		return "drop_oldest"
	case DropNewest:
		return "drop_newest"
	default:
		return fmt.Sprintf("Overflow(%d)", int(o))
	}
}

// ParseOverflow converts a policy name to an Overflow. Empty selects
// DropOldest.
func ParseOverflow(name string) (Overflow, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "drop_oldest", "oldest", "":
		return DropOldest, nil
	case "drop_newest", "newest":
		return DropNewest, nil
	default:
		return DropOldest, fmt.Errorf("unknown overflow policy '%s'", name)
	}
}

// Bus is a publish/subscribe hub for AnalysisFrame values.
type Bus struct {
	mu     sync.RWMutex
	subs   []*Subscription // in subscription order
	nextID uint64
	closed bool
	status error

	depth    int
	overflow Overflow

	published atomic.Uint64
	logger    *applog.Logger
}

// Option configures a Bus.
type Option func(*Bus)

// WithDefaultQueueDepth sets the queue depth of subscriptions that don't
// choose their own.
func WithDefaultQueueDepth(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.depth = n
		}
	}
}

// WithDefaultOverflow sets the policy of subscriptions that don't choose
// their own.
func WithDefaultOverflow(o Overflow) Option {
	return func(b *Bus) { b.overflow = o }
}

// New returns an open bus.
func New(opts ...Option) *Bus {
	b := &Bus{
		depth:    DefaultQueueDepth,
		overflow: DropOldest,
		logger:   applog.New("Bus"),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// SubscribeOption configures a Subscription.
type SubscribeOption func(*Subscription)

// WithQueueDepth sets the number of frames the subscription can hold.
func WithQueueDepth(n int) SubscribeOption {
	return func(s *Subscription) {
		if n > 0 {
			s.queue = make([]frame.AnalysisFrame, n)
		}
	}
}

// WithOverflow sets the subscription's overflow policy.
func WithOverflow(o Overflow) SubscribeOption {
	return func(s *Subscription) { s.overflow = o }
}

// WithName labels the subscription in logs and stats.
func WithName(name string) SubscribeOption {
	return func(s *Subscription) { s.name = name }
}

// Subscribe registers a new subscription. Frames published before it are
// not delivered.
func (b *Bus) Subscribe(opts ...SubscribeOption) (*Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}

	b.nextID++
	s := &Subscription{
		id:       b.nextID,
		bus:      b,
		queue:    make([]frame.AnalysisFrame, b.depth),
		overflow: b.overflow,
		notify:   make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.name == "" {
		s.name = fmt.Sprintf("sub-%d", s.id)
	}
	b.subs = append(b.subs, s)
	b.logger.Debugf("Subscribed %s (depth %d, %s)", s.name, len(s.queue), s.overflow)
	return s, nil
}

// Unsubscribe removes s and closes it with ErrUnsubscribed. Other
// subscriptions are unaffected. Removing an unknown or closed subscription
// is a no-op.
func (b *Bus) Unsubscribe(s *Subscription) {
	if s == nil {
		return
	}
	b.mu.Lock()
	for i, cur := range b.subs {
		if cur == s {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			break
		}
	}
	b.mu.Unlock()

	if s.close(ErrUnsubscribed) {
		b.logger.Debugf("Unsubscribed %s (%d dropped)", s.name, s.Dropped())
	}
}

// Publish delivers f to every active subscription and returns how many it
// reached. It never waits on a consumer; after Close it does nothing.
func (b *Bus) Publish(f frame.AnalysisFrame) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return 0
	}
	b.published.Add(1)
	for _, s := range b.subs {
		s.offer(f)
	}
	return len(b.subs)
}

// Close ends the stream. Every subscription is closed with status, nil
// meaning an orderly end of stream. Only the first call has an effect.
func (b *Bus) Close(status error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.status = status
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()

	for _, s := range subs {
		s.close(status)
	}
	if status != nil {
		b.logger.Warnf("Closed with status: %v", status)
	} else {
		b.logger.Debugf("Closed (%d frames published)", b.published.Load())
	}
}

// Closed reports whether Close was called.
func (b *Bus) Closed() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.closed
}

// Status returns the status passed to Close.
func (b *Bus) Status() error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.status
}

// SubscriberStats describes one subscription.
type SubscriberStats struct {
	ID      uint64
	Name    string
	Queued  int
	Dropped uint64
	Errors  uint64
}

// Stats is a point-in-time view of the bus counters.
type Stats struct {
	Published   uint64
	Subscribers []SubscriberStats
}

// Dropped sums the drop counters of all active subscriptions.
func (s Stats) Dropped() uint64 {
	var n uint64
	for _, sub := range s.Subscribers {
		n += sub.Dropped
	}
	return n
}

// Stats returns the published count and per-subscription counters.
func (b *Bus) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	st := Stats{
		Published:   b.published.Load(),
		Subscribers: make([]SubscriberStats, len(b.subs)),
	}
	for i, s := range b.subs {
		st.Subscribers[i] = SubscriberStats{
			ID:      s.id,
			Name:    s.name,
			Queued:  s.Len(),
			Dropped: s.Dropped(),
			Errors:  s.errors.Load(),
		}
	}
	return st
}
