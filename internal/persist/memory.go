package persist

import (
	"context"
	"sync"
)

// Memory keeps saved messages in process memory, grouped by conversation.
// It is the default Recorder when no database is configured.
type Memory struct {
	mu     sync.RWMutex
	byConv map[string][]Record
}

func NewMemory() *Memory {
	return &Memory{byConv: make(map[string][]Record)}
}

func (m *Memory) SaveMessage(_ context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.byConv[rec.ConversationID] {
		if existing.ID == rec.ID {
			return nil
		}
	}
	m.byConv[rec.ConversationID] = append(m.byConv[rec.ConversationID], rec)
	return nil
}

func (m *Memory) Messages(_ context.Context, conversationID string) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	recs := m.byConv[conversationID]
	out := make([]Record, len(recs))
	copy(out, recs)
	return out, nil
}

func (m *Memory) Close() {}
