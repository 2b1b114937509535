// Package persist stores finalized conversation messages. The engine depends
// only on the Recorder interface; two implementations ship, a pgx-backed
// Postgres store and an in-memory store for sessions without a database.
package persist

import (
	"context"
	"time"

	"github.com/error505/archway/internal/tracelog"
)

// Record is the persisted shape of one finalized message. Trace events are
// attached at finalize time so a saved assistant turn carries the diagnostic
// history of the run that produced it.
type Record struct {
	ID             string           `json:"id"`
	ConversationID string           `json:"conversation_id,omitempty"`
	RunID          string           `json:"run_id,omitempty"`
	Role           string           `json:"role"`
	AgentName      string           `json:"agent_name,omitempty"`
	Content        string           `json:"content"`
	TraceEvents    []tracelog.Event `json:"trace_events,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
}

// Recorder is the narrow save/read interface the engine persists through.
// Implementations must tolerate duplicate saves of the same record id; the
// engine persists each finalized message exactly once, but a Recorder shared
// across restarts may see the same conversation replayed.
type Recorder interface {
	SaveMessage(ctx context.Context, rec Record) error
	Messages(ctx context.Context, conversationID string) ([]Record, error)
	Close()
}
