package transport

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

const defaultFlushWait = 5 * time.Second

// NATSDialer returns a DialFunc that carries the frame channel over core
// NATS subjects: inbound frames on <prefix>.<conversation>.frames, outbound
// turns on <prefix>.<conversation>.send. Reconnection is deliberately off;
// the manager owns the retry policy, so a broken connection must surface as
// a closure rather than heal silently.
func NATSDialer(url, prefix, conversationID string) DialFunc {
	return func(ctx context.Context, onFrame func([]byte), onClosed func(error)) (Channel, error) {
		nc, err := nats.Connect(url,
			nats.NoReconnect(),
			nats.ClosedHandler(func(c *nats.Conn) {
				onClosed(c.LastError())
			}),
			nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
				slog.Warn("nats disconnected", "error", err)
			}),
		)
		if err != nil {
			return nil, fmt.Errorf("nats connect: %w", err)
		}

		inbound := fmt.Sprintf("%s.%s.frames", prefix, conversationID)
		sub, err := nc.Subscribe(inbound, func(msg *nats.Msg) {
			onFrame(msg.Data)
		})
		if err != nil {
			nc.Close()
			return nil, fmt.Errorf("subscribe %s: %w", inbound, err)
		}

		return &natsChannel{
			nc:      nc,
			sub:     sub,
			sendSub: fmt.Sprintf("%s.%s.send", prefix, conversationID),
		}, nil
	}
}

type natsChannel struct {
	nc      *nats.Conn
	sub     *nats.Subscription
	sendSub string
}

func (c *natsChannel) Send(ctx context.Context, data []byte) error {
	if err := c.nc.Publish(c.sendSub, data); err != nil {
		return fmt.Errorf("publish %s: %w", c.sendSub, err)
	}

	wait := defaultFlushWait
	if d, ok := ctx.Deadline(); ok {
		wait = time.Until(d)
	}
	if err := c.nc.FlushTimeout(wait); err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	return nil
}

func (c *natsChannel) Close() error {
	if err := c.nc.Drain(); err != nil {
		c.nc.Close()
		return fmt.Errorf("drain: %w", err)
	}
	return nil
}
