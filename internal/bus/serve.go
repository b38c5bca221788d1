// SPDX-License-Identifier: MIT
package bus

import (
	"context"
	"errors"
	"time"

	"beatzero/internal/frame"
)

// Consumer receives frames from a subscription. Receive runs on the
// consumer's own goroutine and may block without affecting the producer.
type Consumer interface {
	Receive(f frame.AnalysisFrame) error
}

// Finisher is implemented by consumers that want the terminal status.
type Finisher interface {
	Finish(status error) error
}

// ConsumerFunc adapts a function to Consumer.
type ConsumerFunc func(frame.AnalysisFrame) error

func (fn ConsumerFunc) Receive(f frame.AnalysisFrame) error { return fn(f) }

// closeGrace is how long Serve waits, after ctx ends, for the producer to
// close the bus so the consumer still sees the terminal status.
const closeGrace = 2 * time.Second

// Serve feeds frames from sub to c until the subscription closes. Receive
// errors are logged and counted; ErrDisconnect unsubscribes. Finish, when
// implemented, is called once with the terminal status and its error is
// returned.
func Serve(ctx context.Context, sub *Subscription, c Consumer) error {
	for {
		f, err := sub.Next(ctx)
		switch {
		case err == nil:
			if errors.Is(deliver(sub, c, f), ErrDisconnect) {
				sub.bus.logger.Infof("%s disconnected", sub.name)
				sub.Unsubscribe()
				return finish(c, sub.Err())
			}
			continue

		case errors.Is(err, ErrClosed):
			return finish(c, sub.Err())
		}

		// ctx ended: wait briefly for the producer to close the stream,
		// draining what it still publishes.
		timer := time.NewTimer(closeGrace)
		select {
		case <-sub.Done():
			timer.Stop()
			for {
				f, ok := sub.TryNext()
				if !ok || errors.Is(deliver(sub, c, f), ErrDisconnect) {
					break
				}
			}
			return finish(c, sub.Err())
		case <-timer.C:
			sub.Unsubscribe()
			return finish(c, err)
		}
	}
}

// deliver passes f to c. Failures other than ErrDisconnect are counted;
// the first and then every hundredth is logged.
func deliver(sub *Subscription, c Consumer, f frame.AnalysisFrame) error {
	err := c.Receive(f)
	if err != nil && !errors.Is(err, ErrDisconnect) {
		if n := sub.errors.Add(1); n == 1 || n%100 == 0 {
			sub.bus.logger.Warnf("%s: receive failed (%d errors): %v", sub.name, n, err)
		}
	}
	return err
}

func finish(c Consumer, status error) error {
	if fin, ok := c.(Finisher); ok {
		return fin.Finish(status)
	}
	return nil
}
