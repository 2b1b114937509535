package transport

import (
	"context"
	"errors"
)

// ErrNotConnected is returned by Send when no channel is established.
var ErrNotConnected = errors.New("transport: not connected")

// Channel is an established bidirectional frame channel to the backend.
type Channel interface {
	// Send writes one outbound frame. Implementations honor the context
	// deadline where the underlying transport allows it.
	Send(ctx context.Context, data []byte) error
	// Close tears the channel down. Closing twice is safe.
	Close() error
}

// DialFunc opens a channel. onFrame is invoked for every inbound frame in
// arrival order, one at a time, from a single goroutine. onClosed fires at
// most once, when the channel stops for any reason after a successful dial.
type DialFunc func(ctx context.Context, onFrame func(data []byte), onClosed func(cause error)) (Channel, error)
