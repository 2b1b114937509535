package session

import (
	"github.com/error505/archway/internal/chat"
	"github.com/error505/archway/internal/diagram"
)

// Notice levels passed to Listener.OnNotice.
const (
	NoticeInfo  = "info"
	NoticeWarn  = "warn"
	NoticeError = "error"
)

// Listener receives engine observations: transcript snapshots, indicator
// changes, extraction results, and surfaced failures. Every payload is a
// copy; mutating it never touches engine state. Callbacks arrive from the
// engine's control flow and must not block for long.
type Listener interface {
	OnTranscript(msgs []chat.Message)
	OnTyping(on bool)
	OnConnected(on bool)
	OnDiagram(up diagram.Update)
	OnNotice(level, message string)
}

// NopListener discards every notification, for embedders that only poll.
type NopListener struct{}

func (NopListener) OnTranscript([]chat.Message) {}
func (NopListener) OnTyping(bool)               {}
func (NopListener) OnConnected(bool)            {}
func (NopListener) OnDiagram(diagram.Update)    {}
func (NopListener) OnNotice(string, string)     {}
