package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Frame type identifiers accepted from the real-time channel.
const (
	TypeMessage      = "message"
	TypeTyping       = "typing"
	TypeRunStarted   = "run_started"
	TypeTraceEvent   = "trace_event"
	TypeAgentStream  = "agent_stream"
	TypeTeamFinal    = "team_final"
	TypeRunCompleted = "run_completed"
	TypeError        = "error"
)

var (
	ErrUnknownType  = errors.New("unknown frame type")
	ErrMissingField = errors.New("frame missing required field")
)

// Frame is one decoded inbound frame. Only the fields relevant to its Type
// are populated; the rest stay zero. Decode validates the per-type minimum
// so downstream handlers never re-check.
type Frame struct {
	Type string `json:"type"`

	// message
	Content string `json:"content,omitempty"`

	// typing
	Typing bool `json:"typing,omitempty"`

	// run_started, run_completed, trace_event, agent_stream, team_final
	RunID string `json:"run_id,omitempty"`

	// trace_event
	StepID    string         `json:"step_id,omitempty"`
	Phase     string         `json:"phase,omitempty"`
	TS        float64        `json:"ts,omitempty"`
	Meta      map[string]any `json:"meta,omitempty"`
	Progress  map[string]any `json:"progress,omitempty"`
	Telemetry map[string]any `json:"telemetry,omitempty"`
	Summary   string         `json:"summary,omitempty"`
	Error     string         `json:"error,omitempty"`

	// agent_stream (Agent and Phase shared with trace_event)
	Agent string `json:"agent,omitempty"`
	Delta string `json:"message_delta,omitempty"`

	// team_final and error both carry message text
	Message    string          `json:"message,omitempty"`
	Diagram    json.RawMessage `json:"diagram,omitempty"`
	DiagramRaw string          `json:"diagram_raw,omitempty"`
	IaC        json.RawMessage `json:"iac,omitempty"`
}

// Decode parses one raw channel payload. Frames that are not JSON, carry an
// unrecognized type, or miss a required field are rejected; the caller drops
// them without advancing any state.
func Decode(raw []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return Frame{}, fmt.Errorf("decode frame: %w", err)
	}

	switch f.Type {
	case TypeMessage:
		if f.Content == "" {
			return Frame{}, fmt.Errorf("%w: message.content", ErrMissingField)
		}
	case TypeTyping, TypeTeamFinal:
		// No required fields: typing carries only the flag, and a final
		// frame may arrive with just a diagram and no summary text.
	case TypeRunStarted, TypeRunCompleted, TypeTraceEvent:
		if f.RunID == "" {
			return Frame{}, fmt.Errorf("%w: %s.run_id", ErrMissingField, f.Type)
		}
	case TypeAgentStream:
		if f.RunID == "" {
			return Frame{}, fmt.Errorf("%w: agent_stream.run_id", ErrMissingField)
		}
		if f.Agent == "" {
			return Frame{}, fmt.Errorf("%w: agent_stream.agent", ErrMissingField)
		}
	case TypeError:
		if f.Message == "" {
			return Frame{}, fmt.Errorf("%w: error.message", ErrMissingField)
		}
	default:
		return Frame{}, fmt.Errorf("%w: %q", ErrUnknownType, f.Type)
	}

	return f, nil
}
