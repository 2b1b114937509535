package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/error505/archway/internal/chat"
	"github.com/error505/archway/internal/diagram"
	"github.com/error505/archway/internal/session"
)

var chatSync bool

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "start an interactive chat session",
	Long: `Start a line-oriented chat session. Each line is one turn; agent
replies print as they finalize. Type 'exit' or press Ctrl-D to quit.`,
	RunE: runChat,
}

func init() {
	chatCmd.SilenceUsage = true
	chatCmd.Flags().BoolVar(&chatSync, "sync", false, "use the synchronous path even when the channel is up")
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	eng, rec, err := buildEngine(ctx, cfg, newPrintListener(os.Stdout))
	if err != nil {
		return err
	}
	defer rec.Close()
	defer eng.Disconnect()

	if err := eng.Connect(ctx); err != nil && !errors.Is(err, session.ErrNoTransport) {
		slog.Warn("channel connect failed, turns will use the fallback path", "error", err)
	}

	fmt.Printf("conversation %s (type a message, 'exit' to quit)\n", eng.ConversationID())

	send := eng.Send
	if chatSync {
		send = eng.SendSync
	}

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			fmt.Println()
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			break
		}

		if _, err := send(ctx, line); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
	}
	return scanner.Err()
}

// printListener renders engine notifications as plain lines. Assistant
// messages print once, when they finalize; streaming deltas stay silent so
// the prompt is not flooded.
type printListener struct {
	out io.Writer

	mu      sync.Mutex
	printed map[string]bool
}

func newPrintListener(out io.Writer) *printListener {
	return &printListener{out: out, printed: make(map[string]bool)}
}

func (p *printListener) OnTranscript(msgs []chat.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, m := range msgs {
		if m.Role != chat.RoleAssistant || m.Status != chat.StatusSent || p.printed[m.ID] {
			continue
		}
		p.printed[m.ID] = true

		name := "assistant"
		if m.Meta != nil && m.Meta.AgentName != "" {
			name = m.Meta.AgentName
		}
		fmt.Fprintf(p.out, "%s: %s\n", name, m.Content)
	}
}

func (p *printListener) OnTyping(bool) {}

func (p *printListener) OnConnected(on bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if on {
		fmt.Fprintln(p.out, "[channel connected]")
	} else {
		fmt.Fprintln(p.out, "[channel down]")
	}
}

func (p *printListener) OnDiagram(up diagram.Update) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if up.Diagram == nil {
		return
	}
	fmt.Fprintf(p.out, "[diagram: %d nodes, %d edges]\n", len(up.Diagram.Nodes), len(up.Diagram.Edges))
}

func (p *printListener) OnNotice(level, message string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, "[%s] %s\n", level, message)
}
