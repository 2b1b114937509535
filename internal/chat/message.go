package chat

import (
	"time"

	"github.com/error505/archway/internal/diagram"
)

// Role identifies the author of a transcript message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Status is the delivery state of a message. Streaming messages are still
// accumulating deltas; sending covers a user turn whose dispatch has not
// been acknowledged yet.
type Status string

const (
	StatusSending   Status = "sending"
	StatusSent      Status = "sent"
	StatusStreaming Status = "streaming"
	StatusError     Status = "error"
)

// Message is one turn in the visible transcript.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Status    Status    `json:"status"`
	Meta      *Meta     `json:"meta,omitempty"`
}

// Meta carries extraction results and provenance for assistant messages.
type Meta struct {
	Diagram   *diagram.Diagram   `json:"diagram,omitempty"`
	IaC       *diagram.IaCBundle `json:"iac,omitempty"`
	AgentName string             `json:"agent_name,omitempty"`
	RunID     string             `json:"run_id,omitempty"`
	// Skip excludes the message from persistence, for notices that belong
	// in the transcript but not in conversation history.
	Skip bool `json:"skip,omitempty"`
}

// Clone returns a copy safe to hand outside the owning engine. Diagram and
// IaC pointers are shared; both are treated as immutable once attached.
func (m Message) Clone() Message {
	out := m
	if m.Meta != nil {
		meta := *m.Meta
		out.Meta = &meta
	}
	return out
}

// CloneAll deep-copies a transcript slice for observers.
func CloneAll(msgs []Message) []Message {
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.Clone()
	}
	return out
}
