package transport

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type stubChannel struct {
	mu     sync.Mutex
	sent   [][]byte
	closed bool
}

func (c *stubChannel) Send(_ context.Context, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, data)
	return nil
}

func (c *stubChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *stubChannel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// stubDialer counts dials and captures the per-dial callbacks so tests can
// inject frames and closures.
type stubDialer struct {
	mu       sync.Mutex
	dials    int
	err      error
	gate     chan struct{} // when set, dials block until it closes
	started  chan struct{} // when set, receives one signal per dial start
	channels []*stubChannel
	onFrame  []func([]byte)
	onClosed []func(error)
}

func (d *stubDialer) dial(ctx context.Context, onFrame func([]byte), onClosed func(error)) (Channel, error) {
	d.mu.Lock()
	d.dials++
	gate := d.gate
	started := d.started
	d.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if gate != nil {
		<-gate
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	ch := &stubChannel{}
	d.channels = append(d.channels, ch)
	d.onFrame = append(d.onFrame, onFrame)
	d.onClosed = append(d.onClosed, onClosed)
	return ch, nil
}

func (d *stubDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func TestConnectIsIdempotent(t *testing.T) {
	d := &stubDialer{}
	m := NewManager(d.dial, nil, nil)

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("first connect: %v", err)
	}
	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("second connect: %v", err)
	}
	if d.dialCount() != 1 {
		t.Errorf("dials = %d, want 1", d.dialCount())
	}
	if !m.Connected() {
		t.Error("manager not connected after successful dial")
	}
}

func TestConcurrentConnectsShareOneDial(t *testing.T) {
	gate := make(chan struct{})
	d := &stubDialer{gate: gate}
	m := NewManager(d.dial, nil, nil)

	const callers = 4
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		go func() { errs <- m.Connect(context.Background()) }()
	}

	// Let the callers pile up behind the in-flight dial before releasing it.
	time.Sleep(20 * time.Millisecond)
	close(gate)

	for i := 0; i < callers; i++ {
		if err := <-errs; err != nil {
			t.Errorf("caller %d: %v", i, err)
		}
	}
	if d.dialCount() != 1 {
		t.Errorf("dials = %d, want 1", d.dialCount())
	}
}

func TestDialFailureReachesAllWaiters(t *testing.T) {
	gate := make(chan struct{})
	dialErr := errors.New("backend unreachable")
	d := &stubDialer{gate: gate, err: dialErr}
	m := NewManager(d.dial, nil, nil)

	errs := make(chan error, 2)
	go func() { errs <- m.Connect(context.Background()) }()
	go func() { errs <- m.Connect(context.Background()) }()
	time.Sleep(20 * time.Millisecond)
	close(gate)

	for i := 0; i < 2; i++ {
		if err := <-errs; !errors.Is(err, dialErr) {
			t.Errorf("caller %d: got %v, want %v", i, err, dialErr)
		}
	}

	// The failed dial must not leave a stuck pending marker.
	d.mu.Lock()
	d.err = nil
	d.gate = nil
	d.mu.Unlock()
	before := d.dialCount()
	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("retry after failure: %v", err)
	}
	if d.dialCount() != before+1 {
		t.Errorf("dials = %d, want %d", d.dialCount(), before+1)
	}
}

func TestSendWithoutChannel(t *testing.T) {
	d := &stubDialer{}
	m := NewManager(d.dial, nil, nil)

	if err := m.Send(context.Background(), []byte("x")); !errors.Is(err, ErrNotConnected) {
		t.Errorf("got %v, want ErrNotConnected", err)
	}
}

func TestSendAfterConnect(t *testing.T) {
	d := &stubDialer{}
	m := NewManager(d.dial, nil, nil)

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := m.Send(context.Background(), []byte("turn")); err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(d.channels[0].sent) != 1 || string(d.channels[0].sent[0]) != "turn" {
		t.Errorf("unexpected sent frames: %v", d.channels[0].sent)
	}
}

func TestUnexpectedClosureClearsChannel(t *testing.T) {
	states := make(chan bool, 4)
	d := &stubDialer{}
	m := NewManager(d.dial, nil, func(c bool) { states <- c })

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if got := <-states; !got {
		t.Fatal("expected connected notification")
	}

	d.onClosed[0](errors.New("connection reset"))

	if got := <-states; got {
		t.Fatal("expected disconnected notification")
	}
	if m.Connected() {
		t.Error("manager still connected after closure")
	}

	// A later connect dials fresh.
	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	if d.dialCount() != 2 {
		t.Errorf("dials = %d, want 2", d.dialCount())
	}
}

func TestDisconnectDuringDialDropsChannel(t *testing.T) {
	gate := make(chan struct{})
	started := make(chan struct{}, 1)
	d := &stubDialer{gate: gate, started: started}
	m := NewManager(d.dial, nil, nil)

	errs := make(chan error, 1)
	go func() { errs <- m.Connect(context.Background()) }()

	<-started
	m.Disconnect()
	close(gate)

	if err := <-errs; !errors.Is(err, ErrNotConnected) {
		t.Errorf("got %v, want ErrNotConnected", err)
	}
	if m.Connected() {
		t.Error("manager connected despite disconnect")
	}
	if !d.channels[0].isClosed() {
		t.Error("orphaned channel left open")
	}
}

func TestStaleClosureIgnored(t *testing.T) {
	d := &stubDialer{}
	m := NewManager(d.dial, nil, nil)

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	m.Disconnect()
	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("reconnect: %v", err)
	}

	// The first channel's closure arrives late; the live channel stays up.
	d.onClosed[0](errors.New("late read error"))

	if !m.Connected() {
		t.Error("stale closure tore down the live channel")
	}
}

func TestInboundFramesReachCallback(t *testing.T) {
	var mu sync.Mutex
	var got []string
	d := &stubDialer{}
	m := NewManager(d.dial, func(data []byte) {
		mu.Lock()
		got = append(got, string(data))
		mu.Unlock()
	}, nil)

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	d.onFrame[0]([]byte("one"))
	d.onFrame[0]([]byte("two"))

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 || got[0] != "one" || got[1] != "two" {
		t.Errorf("frames = %v, want [one two]", got)
	}
}
