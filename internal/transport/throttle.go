// SPDX-License-Identifier: MIT
package transport

import (
	"errors"
	"time"

	"beatzero/internal/bus"
	"beatzero/internal/frame"
)

// Throttle forwards at most rate frames per second of stream time to the
// wrapped transport. Frames in between are merged, so an onset never falls
// between two published frames.
type Throttle struct {
	next     Transport
	interval time.Duration
	merger   frame.Merger
	last     time.Duration
	sent     bool
}

// NewThrottle wraps t. A rate of zero or less returns t unchanged.
func NewThrottle(t Transport, rate float64) Transport {
	if rate <= 0 {
		return t
	}
	return &Throttle{next: t, interval: time.Duration(float64(time.Second) / rate)}
}

func (t *Throttle) Receive(f frame.AnalysisFrame) error {
	t.merger.Add(f)
	if t.sent && f.Timestamp-t.last < t.interval {
		return nil
	}
	t.sent, t.last = true, f.Timestamp
	merged, _ := t.merger.Flush()
	return t.next.Receive(merged)
}

// Finish publishes the frames still pending, then passes the status on.
func (t *Throttle) Finish(status error) error {
	var err error
	if pending, ok := t.merger.Flush(); ok && !errors.Is(status, bus.ErrUnsubscribed) {
		err = t.next.Receive(pending)
	}
	if fin, ok := t.next.(bus.Finisher); ok {
		err = errors.Join(err, fin.Finish(status))
	}
	return err
}

func (t *Throttle) Close() error { return t.next.Close() }

var (
	_ Transport    = (*Throttle)(nil)
	_ bus.Finisher = (*Throttle)(nil)
)
