package testutil

import (
	"sync"

	"github.com/error505/archway/internal/chat"
	"github.com/error505/archway/internal/diagram"
)

// Notice is one captured OnNotice call.
type Notice struct {
	Level   string
	Message string
}

// Listener captures every engine notification for assertions.
type Listener struct {
	mu          sync.Mutex
	transcripts [][]chat.Message
	typing      []bool
	connected   []bool
	diagrams    []diagram.Update
	notices     []Notice
}

func NewListener() *Listener {
	return &Listener{}
}

func (l *Listener) OnTranscript(msgs []chat.Message) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.transcripts = append(l.transcripts, msgs)
}

func (l *Listener) OnTyping(on bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.typing = append(l.typing, on)
}

func (l *Listener) OnConnected(on bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.connected = append(l.connected, on)
}

func (l *Listener) OnDiagram(up diagram.Update) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.diagrams = append(l.diagrams, up)
}

func (l *Listener) OnNotice(level, message string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.notices = append(l.notices, Notice{Level: level, Message: message})
}

// LastTranscript returns the most recent snapshot, or nil.
func (l *Listener) LastTranscript() []chat.Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.transcripts) == 0 {
		return nil
	}
	return l.transcripts[len(l.transcripts)-1]
}

// TypingStates returns every typing toggle observed, in order.
func (l *Listener) TypingStates() []bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]bool, len(l.typing))
	copy(out, l.typing)
	return out
}

// ConnectedStates returns every connection change observed, in order.
func (l *Listener) ConnectedStates() []bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]bool, len(l.connected))
	copy(out, l.connected)
	return out
}

// Diagrams returns every extraction update observed.
func (l *Listener) Diagrams() []diagram.Update {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]diagram.Update, len(l.diagrams))
	copy(out, l.diagrams)
	return out
}

// Notices returns every surfaced notice.
func (l *Listener) Notices() []Notice {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Notice, len(l.notices))
	copy(out, l.notices)
	return out
}
