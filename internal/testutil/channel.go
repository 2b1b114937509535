package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/error505/archway/internal/transport"
)

// Dialer is a scripted transport.DialFunc source. Each successful dial hands
// out a Channel whose inbound side the test drives directly.
type Dialer struct {
	mu       sync.Mutex
	dials    int
	err      error
	channels []*Channel
}

func NewDialer() *Dialer {
	return &Dialer{}
}

// Dial satisfies transport.DialFunc.
func (d *Dialer) Dial(_ context.Context, onFrame func([]byte), onClosed func(error)) (transport.Channel, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.err != nil {
		return nil, d.err
	}
	ch := &Channel{onFrame: onFrame, onClosed: onClosed}
	d.channels = append(d.channels, ch)
	return ch, nil
}

// FailWith makes subsequent dials return err; nil restores success.
func (d *Dialer) FailWith(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.err = err
}

func (d *Dialer) DialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

// Last returns the most recently dialed channel.
func (d *Dialer) Last() *Channel {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.channels) == 0 {
		return nil
	}
	return d.channels[len(d.channels)-1]
}

// Channel records outbound sends and lets tests inject inbound frames and
// closure, standing in for a live websocket or NATS connection.
type Channel struct {
	mu       sync.Mutex
	sent     [][]byte
	closed   bool
	onFrame  func([]byte)
	onClosed func(error)
}

func (c *Channel) Send(_ context.Context, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("send on closed channel")
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	c.sent = append(c.sent, cp)
	return nil
}

func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *Channel) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Sent returns copies of every outbound payload written to the channel.
func (c *Channel) Sent() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.sent))
	copy(out, c.sent)
	return out
}

// Deliver injects one raw inbound frame, as the read pump would.
func (c *Channel) Deliver(data []byte) {
	c.onFrame(data)
}

// DeliverJSON marshals v and injects it as one inbound frame.
func (c *Channel) DeliverJSON(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("testutil: marshal frame: %v", err))
	}
	c.Deliver(data)
}

// Fail simulates an unexpected transport closure.
func (c *Channel) Fail(err error) {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.onClosed(err)
}
