package transport

import (
	"context"
	"log/slog"
	"sync"
)

// Manager owns the lifecycle of a session's single real-time channel: at
// most one live channel, at most one dial in flight. Concurrent connect
// attempts share the pending dial instead of racing their own.
type Manager struct {
	dial    DialFunc
	onFrame func(data []byte)
	onState func(connected bool)

	mu      sync.Mutex
	ch      Channel
	chGen   uint64
	gen     uint64
	pending *dialCall
}

// dialCall lets late arrivals wait on a dial someone else started.
type dialCall struct {
	done chan struct{}
	err  error
}

// NewManager wires dial to the frame and connection-state callbacks. Both
// callbacks may be invoked from transport goroutines.
func NewManager(dial DialFunc, onFrame func(data []byte), onState func(connected bool)) *Manager {
	return &Manager{
		dial:    dial,
		onFrame: onFrame,
		onState: onState,
	}
}

// Connect establishes the channel if needed. It returns nil immediately when
// already connected; when a dial is already in flight it waits for that
// dial's outcome rather than starting another.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.ch != nil {
		m.mu.Unlock()
		return nil
	}
	if call := m.pending; call != nil {
		m.mu.Unlock()
		select {
		case <-call.done:
			return call.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	call := &dialCall{done: make(chan struct{})}
	m.pending = call
	m.gen++
	gen := m.gen
	m.mu.Unlock()

	ch, err := m.dial(ctx, m.onFrame, func(cause error) { m.channelClosed(gen, cause) })

	m.mu.Lock()
	if m.pending == call {
		m.pending = nil
	}
	// Disconnect raced the dial; the fresh channel is already unwanted.
	stale := err == nil && m.gen != gen
	if err == nil && !stale {
		m.ch = ch
		m.chGen = gen
	}
	m.mu.Unlock()

	if stale {
		_ = ch.Close()
		err = ErrNotConnected
	}
	call.err = err
	close(call.done)

	if err != nil {
		return err
	}
	m.notify(true)
	return nil
}

// Connected reports whether a channel is currently established.
func (m *Manager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ch != nil
}

// Send writes one frame over the live channel.
func (m *Manager) Send(ctx context.Context, data []byte) error {
	m.mu.Lock()
	ch := m.ch
	m.mu.Unlock()

	if ch == nil {
		return ErrNotConnected
	}
	return ch.Send(ctx, data)
}

// Disconnect closes the channel unconditionally and clears any pending dial
// marker so the next Connect starts fresh. Safe to call at any time.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	ch := m.ch
	m.ch = nil
	m.pending = nil
	m.gen++
	m.mu.Unlock()

	if ch != nil {
		if err := ch.Close(); err != nil {
			slog.Warn("transport: close failed", "error", err)
		}
		m.notify(false)
	}
}

// channelClosed handles transport-initiated closure. Stale notifications
// from channels already replaced or torn down are ignored.
func (m *Manager) channelClosed(gen uint64, cause error) {
	m.mu.Lock()
	if m.ch == nil || m.chGen != gen {
		m.mu.Unlock()
		return
	}
	m.ch = nil
	m.mu.Unlock()

	if cause != nil {
		slog.Warn("transport: channel closed", "error", cause)
	} else {
		slog.Info("transport: channel closed")
	}
	m.notify(false)
}

func (m *Manager) notify(connected bool) {
	if m.onState != nil {
		m.onState(connected)
	}
}
