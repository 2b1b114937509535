package session

import (
	"fmt"
	"strings"

	"github.com/error505/archway/internal/chat"
	"github.com/error505/archway/internal/protocol"
)

// turnContextLocked builds the history window and summary that ride along
// with one outbound turn, from every message before the pending one. Only
// resolved user and assistant turns count; system notices, failed turns, and
// still-streaming messages stay out. Callers hold e.mu.
func (e *Engine) turnContextLocked(pendingID string) ([]protocol.TurnMessage, protocol.TurnContext) {
	var eligible []chat.Message
	for _, m := range e.st.Messages {
		if m.ID == pendingID {
			continue
		}
		if m.Role != chat.RoleUser && m.Role != chat.RoleAssistant {
			continue
		}
		if m.Status != chat.StatusSent {
			continue
		}
		if m.Meta != nil && m.Meta.Skip {
			continue
		}
		eligible = append(eligible, m)
	}

	start := len(eligible) - e.historyWindow
	if start < 0 {
		start = 0
	}
	recent := make([]protocol.TurnMessage, 0, len(eligible)-start)
	for _, m := range eligible[start:] {
		recent = append(recent, protocol.TurnMessage{Role: string(m.Role), Content: m.Content})
	}

	return recent, protocol.TurnContext{
		Summary:        summarize(eligible, e.summaryMax),
		RecentMessages: recent,
	}
}

// summarize flattens messages to "[role]: content" lines, newest last,
// dropping whole lines from the front until the result fits maxChars.
func summarize(msgs []chat.Message, maxChars int) string {
	if len(msgs) == 0 {
		return ""
	}

	lines := make([]string, len(msgs))
	for i, m := range msgs {
		lines[i] = fmt.Sprintf("[%s]: %s\n", m.Role, m.Content)
	}

	total := 0
	start := len(lines)
	for i := len(lines) - 1; i >= 0; i-- {
		if total+len(lines[i]) > maxChars && total > 0 {
			break
		}
		total += len(lines[i])
		start = i
	}
	return strings.Join(lines[start:], "")
}
