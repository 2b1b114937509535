package persist

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/error505/archway/internal/tracelog"
)

// Postgres persists messages to a conversation_messages table through a pgx
// pool. Schema:
//
//	CREATE TABLE conversation_messages (
//	    id              UUID PRIMARY KEY,
//	    conversation_id TEXT NOT NULL,
//	    run_id          TEXT,
//	    role            TEXT NOT NULL,
//	    agent_name      TEXT,
//	    content         TEXT NOT NULL,
//	    trace_events    JSONB,
//	    created_at      TIMESTAMPTZ NOT NULL
//	);
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MinConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Postgres{pool: pool}, nil
}

func (p *Postgres) Close() {
	p.pool.Close()
}

// SaveMessage inserts one finalized message. Re-saving an id is a no-op so
// replayed conversations never produce duplicate rows.
func (p *Postgres) SaveMessage(ctx context.Context, rec Record) error {
	var events any
	if len(rec.TraceEvents) > 0 {
		data, err := json.Marshal(rec.TraceEvents)
		if err != nil {
			return fmt.Errorf("marshal trace events: %w", err)
		}
		events = data
	}

	_, err := p.pool.Exec(ctx, `
		INSERT INTO conversation_messages (id, conversation_id, run_id, role, agent_name, content, trace_events, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING
	`, rec.ID, rec.ConversationID, nullable(rec.RunID), rec.Role, nullable(rec.AgentName), rec.Content, events, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	slog.Debug("persist: message saved", "message_id", rec.ID, "role", rec.Role)
	return nil
}

// Messages returns a conversation's saved messages in creation order.
func (p *Postgres) Messages(ctx context.Context, conversationID string) ([]Record, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, conversation_id, run_id, role, agent_name, content, trace_events, created_at
		FROM conversation_messages
		WHERE conversation_id = $1
		ORDER BY created_at, id
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			rec              Record
			runID, agentName *string
			events           []byte
		)
		if err := rows.Scan(&rec.ID, &rec.ConversationID, &runID, &rec.Role, &agentName, &rec.Content, &events, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if runID != nil {
			rec.RunID = *runID
		}
		if agentName != nil {
			rec.AgentName = *agentName
		}
		if len(events) > 0 {
			var evs []tracelog.Event
			if err := json.Unmarshal(events, &evs); err != nil {
				slog.Warn("persist: stored trace events did not parse", "message_id", rec.ID, "error", err)
			} else {
				rec.TraceEvents = evs
			}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
