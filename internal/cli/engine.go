package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/error505/archway/internal/config"
	"github.com/error505/archway/internal/fallback"
	"github.com/error505/archway/internal/persist"
	"github.com/error505/archway/internal/session"
	"github.com/error505/archway/internal/transport"
)

// buildEngine assembles a conversation engine from config: recorder (Postgres
// when a database URL is set, in-memory otherwise), channel dialer per the
// transport kind, and the synchronous fallback client. The caller owns the
// returned recorder's lifetime.
func buildEngine(ctx context.Context, cfg *config.Config, lst session.Listener) (*session.Engine, persist.Recorder, error) {
	var rec persist.Recorder
	if cfg.Database.URL != "" {
		pg, err := persist.NewPostgres(ctx, cfg.Database.URL)
		if err != nil {
			return nil, nil, fmt.Errorf("connect database: %w", err)
		}
		rec = pg
	} else {
		rec = persist.NewMemory()
	}

	// NATS subjects embed the conversation id, so it must exist before the
	// dialer is built. The engine adopts the same id.
	convID := cfg.Chat.ConversationID
	if convID == "" {
		convID = uuid.New().String()
	}

	var dial transport.DialFunc
	switch cfg.Transport.Kind {
	case "websocket":
		if cfg.Transport.WebSocketURL != "" {
			dial = transport.WebSocketDialer(cfg.Transport.WebSocketURL, nil)
		}
	case "nats":
		if cfg.Transport.NATSURL != "" {
			dial = transport.NATSDialer(cfg.Transport.NATSURL, cfg.Transport.SubjectPrefix, convID)
		}
	}

	var fb *fallback.Client
	if cfg.Backend.BaseURL != "" {
		fb = fallback.New(cfg.Backend.BaseURL, cfg.Backend.Timeout)
	}

	if dial == nil && fb == nil {
		rec.Close()
		return nil, nil, errors.New("no transport configured: set transport.websocket_url, transport.nats_url, or backend.base_url")
	}

	eng := session.New(session.Options{
		ConversationID:  convID,
		Dial:            dial,
		Fallback:        fb,
		Recorder:        rec,
		Listener:        lst,
		HistoryWindow:   cfg.Chat.HistoryWindow,
		SummaryMaxChars: cfg.Chat.SummaryMaxChars,
	})
	return eng, rec, nil
}
