package cli

import (
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/error505/archway/internal/api"
	"github.com/error505/archway/internal/chat"
	"github.com/error505/archway/internal/diagram"
	"github.com/error505/archway/internal/session"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "run the headless bridge with the inspection API",
	Long: `Run the engine without an interactive surface. HTTP clients submit
turns and read transcript, run state, trace events, and diagrams through the
inspection API.`,
	RunE: runServe,
}

func init() {
	serveCmd.SilenceUsage = true
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	eng, rec, err := buildEngine(ctx, cfg, slogListener{})
	if err != nil {
		return err
	}
	defer rec.Close()
	defer eng.Disconnect()

	if err := eng.Connect(ctx); err != nil && !errors.Is(err, session.ErrNoTransport) {
		slog.Warn("channel connect failed, serving fallback-only", "error", err)
	}

	srv := api.NewServer(eng, cfg.Server.Port)
	go func() {
		if err := srv.Start(); err != nil {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	slog.Info("archway ready",
		"port", cfg.Server.Port,
		"conversation_id", eng.ConversationID(),
		"connected", eng.Connected(),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh

	slog.Info("shutting down", "signal", sig)
	return nil
}

// slogListener routes engine notifications into the structured log; serve
// mode has no interactive surface.
type slogListener struct{}

func (slogListener) OnTranscript([]chat.Message) {}
func (slogListener) OnTyping(bool)               {}

func (slogListener) OnConnected(on bool) {
	slog.Info("channel state changed", "connected", on)
}

func (slogListener) OnDiagram(up diagram.Update) {
	nodes := 0
	if up.Diagram != nil {
		nodes = len(up.Diagram.Nodes)
	}
	slog.Info("diagram updated", "message_id", up.MessageID, "run_id", up.RunID, "nodes", nodes)
}

func (slogListener) OnNotice(level, message string) {
	switch level {
	case session.NoticeError:
		slog.Error(message)
	case session.NoticeWarn:
		slog.Warn(message)
	default:
		slog.Info(message)
	}
}
