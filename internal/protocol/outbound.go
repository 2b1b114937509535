package protocol

import (
	"encoding/json"
	"fmt"
)

// TurnMessage is one {role, content} pair of recent history sent alongside a
// user turn so the backend can ground its answer.
type TurnMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// TurnContext summarizes the conversation so far for the backend.
type TurnContext struct {
	Summary        string        `json:"summary"`
	RecentMessages []TurnMessage `json:"recent_messages"`
}

// Outbound is the frame sent over the channel for one user turn.
type Outbound struct {
	Message        string      `json:"message"`
	ConversationID string      `json:"conversation_id,omitempty"`
	Context        TurnContext `json:"context"`
}

func (o Outbound) Encode() ([]byte, error) {
	data, err := json.Marshal(o)
	if err != nil {
		return nil, fmt.Errorf("encode turn: %w", err)
	}
	return data, nil
}
