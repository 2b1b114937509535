package fallback

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/error505/archway/internal/protocol"
)

// StatusError reports a non-success HTTP response from the chat backend.
// Callers can inspect Code to distinguish throttling from hard failures.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("chat backend returned %d", e.Code)
}

// Client drives the synchronous request path, used when the real-time
// channel cannot be established or a turn opts out of streaming. One call
// is one complete exchange; nothing streams.
type Client struct {
	baseURL string
	client  *http.Client
}

func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// Reply is the finalized assistant reply from one fallback exchange.
type Reply struct {
	ConversationID string
	Content        string
}

type turnRequest struct {
	Message             string                 `json:"message"`
	ConversationID      string                 `json:"conversation_id,omitempty"`
	ConversationHistory []protocol.TurnMessage `json:"conversation_history"`
	Context             protocol.TurnContext   `json:"context"`
}

// turnResponse tolerates both reply shapes the backend has used: a `message`
// field or a `response` field, either a bare string or an object.
type turnResponse struct {
	ConversationID string          `json:"conversation_id"`
	Message        json.RawMessage `json:"message"`
	Response       json.RawMessage `json:"response"`
}

// SendTurn posts one user turn and blocks for the complete reply.
func (c *Client) SendTurn(ctx context.Context, message, conversationID string, history []protocol.TurnMessage, turnCtx protocol.TurnContext) (Reply, error) {
	if history == nil {
		history = []protocol.TurnMessage{}
	}
	body, err := json.Marshal(turnRequest{
		Message:             message,
		ConversationID:      conversationID,
		ConversationHistory: history,
		Context:             turnCtx,
	})
	if err != nil {
		return Reply{}, fmt.Errorf("marshal turn: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat", bytes.NewReader(body))
	if err != nil {
		return Reply{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	resp, err := c.client.Do(req)
	if err != nil {
		return Reply{}, fmt.Errorf("chat post: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return Reply{}, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Reply{}, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}

	var tr turnResponse
	if err := json.Unmarshal(data, &tr); err != nil {
		return Reply{}, fmt.Errorf("decode response: %w", err)
	}

	raw := tr.Message
	if len(raw) == 0 {
		raw = tr.Response
	}
	content := replyText(raw)
	if content == "" {
		slog.Warn("fallback: response carried no reply text")
	}

	return Reply{ConversationID: tr.ConversationID, Content: content}, nil
}

// replyText flattens a reply payload to display text. Strings pass through;
// objects are probed for the usual text fields and otherwise kept as JSON so
// nothing the backend said is silently dropped.
func replyText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err == nil {
		for _, field := range []string{"content", "message", "text"} {
			if inner, ok := obj[field]; ok {
				if err := json.Unmarshal(inner, &s); err == nil && s != "" {
					return s
				}
			}
		}
	}

	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}
