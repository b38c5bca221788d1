// SPDX-License-Identifier: MIT
//
// Package transport holds the bus consumers that move analysis frames out
// of the process: console lines, UDP datagrams, WebSocket clients and MQTT.
package transport

import (
	"context"
	"fmt"

	"beatzero/internal/bus"
	"beatzero/internal/config"
)

// Transport is a bus consumer that owns a connection or output.
// Implementations are driven by a single Serve goroutine.
type Transport interface {
	bus.Consumer
	Close() error
}

// SubscribeOptions turns a consumer's subscriber settings into bus options.
// Zero values keep the bus defaults.
func SubscribeOptions(name string, sc config.SubscriberConfig) ([]bus.SubscribeOption, error) {
	opts := []bus.SubscribeOption{bus.WithName(name)}
	if sc.QueueDepth > 0 {
		opts = append(opts, bus.WithQueueDepth(sc.QueueDepth))
	}
	if sc.Overflow != "" {
		o, err := bus.ParseOverflow(sc.Overflow)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		opts = append(opts, bus.WithOverflow(o))
	}
	return opts, nil
}

// Attach subscribes the named consumer to b. Call it before the engine starts so no frame
// is missed; then run Serve on the returned subscription.
func Attach(b *bus.Bus, name string, sc config.SubscriberConfig) (*bus.Subscription, error) {
	opts, err := SubscribeOptions(name, sc)
	if err != nil {
		return nil, err
	}
	return b.Subscribe(opts...)
}

// Serve feeds sub to t until the stream ends, then closes t.
func Serve(ctx context.Context, sub *bus.Subscription, t Transport) error {
	err := bus.Serve(ctx, sub, t)
	if cerr := t.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}
