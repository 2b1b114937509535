// Package session composes the conversation engine: one real-time channel,
// one transcript, one run tracker, and one trace log per conversation.
// Inbound frames advance a pure reducer; the side effects each transition
// calls for (persist, notify, track) run only after the transition commits.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/error505/archway/internal/chat"
	"github.com/error505/archway/internal/diagram"
	"github.com/error505/archway/internal/fallback"
	"github.com/error505/archway/internal/persist"
	"github.com/error505/archway/internal/protocol"
	"github.com/error505/archway/internal/reducer"
	"github.com/error505/archway/internal/runstate"
	"github.com/error505/archway/internal/tracelog"
	"github.com/error505/archway/internal/transport"
)

const persistTimeout = 5 * time.Second

var (
	// ErrEmptyTurn rejects a turn with no content after trimming.
	ErrEmptyTurn = errors.New("session: empty turn")
	// ErrNoTransport is returned when neither the channel nor the fallback
	// path is configured or reachable for a turn.
	ErrNoTransport = errors.New("session: no transport available")
)

// Stats are operational counters derived from the frame stream.
type Stats struct {
	FramesTotal       uint64 `json:"frames_total"`
	FramesDropped     uint64 `json:"frames_dropped"`
	TurnsStreamed     uint64 `json:"turns_streamed"`
	TurnsFallback     uint64 `json:"turns_fallback"`
	MessagesPersisted uint64 `json:"messages_persisted"`
	PersistFailures   uint64 `json:"persist_failures"`
	DiagramUpdates    uint64 `json:"diagram_updates"`
}

// Options configure a conversation engine. Zero values get working defaults:
// a generated conversation id, an in-memory recorder, and a no-op listener.
// With no Dial the engine is fallback-only; with no Fallback a turn fails
// outright when the channel cannot be established.
type Options struct {
	ConversationID string
	Dial           transport.DialFunc
	Fallback       *fallback.Client
	Recorder       persist.Recorder
	Listener       Listener

	// HistoryWindow caps how many prior messages ride along with a turn;
	// SummaryMaxChars caps the flattened transcript summary.
	HistoryWindow   int
	SummaryMaxChars int
}

// Engine owns one conversation session. All transcript state lives behind a
// single mutex; frames from the channel and user-initiated calls serialize
// through it, and collaborators only ever receive copies.
type Engine struct {
	historyWindow int
	summaryMax    int

	manager  *transport.Manager
	fb       *fallback.Client
	recorder persist.Recorder
	listener Listener

	tracker *runstate.Tracker
	traces  *tracelog.Log

	mu             sync.Mutex
	conversationID string
	st             *reducer.State
	latest         *diagram.Update
	stats          Stats
}

func New(opts Options) *Engine {
	if opts.ConversationID == "" {
		opts.ConversationID = uuid.New().String()
	}
	if opts.Recorder == nil {
		opts.Recorder = persist.NewMemory()
	}
	if opts.Listener == nil {
		opts.Listener = NopListener{}
	}
	if opts.HistoryWindow <= 0 {
		opts.HistoryWindow = 10
	}
	if opts.SummaryMaxChars <= 0 {
		opts.SummaryMaxChars = 2000
	}

	e := &Engine{
		historyWindow:  opts.HistoryWindow,
		summaryMax:     opts.SummaryMaxChars,
		fb:             opts.Fallback,
		recorder:       opts.Recorder,
		listener:       opts.Listener,
		tracker:        runstate.NewTracker(),
		traces:         tracelog.New(),
		conversationID: opts.ConversationID,
		st:             reducer.NewState(),
	}
	if opts.Dial != nil {
		e.manager = transport.NewManager(opts.Dial, e.handleFrame, e.handleState)
	}
	return e
}

// Connect establishes the real-time channel. Concurrent calls share one dial.
func (e *Engine) Connect(ctx context.Context) error {
	if e.manager == nil {
		return ErrNoTransport
	}
	return e.manager.Connect(ctx)
}

// Disconnect tears the channel down and forgets the per-agent stream keys so
// frames from the next connection start fresh messages. In-flight runs keep
// their tracked state.
func (e *Engine) Disconnect() {
	if e.manager != nil {
		e.manager.Disconnect()
	}
	e.mu.Lock()
	e.st.ClearStreams()
	e.mu.Unlock()
}

// Connected reports whether the real-time channel is currently up.
func (e *Engine) Connected() bool {
	return e.manager != nil && e.manager.Connected()
}

// Send submits one user turn, preferring the real-time channel and falling
// back to the synchronous path when the channel cannot be established. The
// returned message is the user turn's snapshot after dispatch.
func (e *Engine) Send(ctx context.Context, text string) (chat.Message, error) {
	return e.send(ctx, text, false)
}

// SendSync submits one user turn over the synchronous path, skipping the
// channel even when it is healthy.
func (e *Engine) SendSync(ctx context.Context, text string) (chat.Message, error) {
	return e.send(ctx, text, true)
}

func (e *Engine) send(ctx context.Context, text string, forceSync bool) (chat.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return chat.Message{}, ErrEmptyTurn
	}

	e.mu.Lock()
	user := reducer.AppendUser(e.st, text, time.Now().UTC())
	history, turnCtx := e.turnContextLocked(user.ID)
	convID := e.conversationID
	snap := e.st.Snapshot()
	e.mu.Unlock()
	e.listener.OnTranscript(snap)

	if e.manager != nil && !forceSync {
		err := e.manager.Connect(ctx)
		if err == nil {
			out := protocol.Outbound{Message: text, ConversationID: convID, Context: turnCtx}
			var data []byte
			if data, err = out.Encode(); err == nil {
				err = e.manager.Send(ctx, data)
			}
		}
		if err == nil {
			e.bump(func(s *Stats) { s.TurnsStreamed++ })
			return e.markUser(ctx, user.ID, chat.StatusSent), nil
		}
		slog.Warn("engine: channel unavailable, using fallback", "error", err)
	}

	if e.fb == nil {
		m := e.markUser(ctx, user.ID, chat.StatusError)
		e.listener.OnNotice(NoticeError, "no transport available for turn")
		return m, ErrNoTransport
	}

	reply, err := e.fb.SendTurn(ctx, text, convID, history, turnCtx)
	if err != nil {
		m := e.markUser(ctx, user.ID, chat.StatusError)
		e.listener.OnNotice(NoticeError, err.Error())
		return m, fmt.Errorf("fallback turn: %w", err)
	}
	e.bump(func(s *Stats) { s.TurnsFallback++ })
	if reply.ConversationID != "" {
		e.mu.Lock()
		e.conversationID = reply.ConversationID
		e.mu.Unlock()
	}
	m := e.markUser(ctx, user.ID, chat.StatusSent)

	e.mu.Lock()
	_, effs := reducer.AppendAssistant(e.st, reply.Content, &chat.Meta{}, time.Now().UTC())
	snap = e.st.Snapshot()
	e.mu.Unlock()
	e.listener.OnTranscript(snap)
	e.runEffects(ctx, effs)

	return m, nil
}

// Notice appends a transcript-only system message. It reaches observers but
// never persistence or outbound context.
func (e *Engine) Notice(text string) {
	e.mu.Lock()
	reducer.AppendSystem(e.st, text, time.Now().UTC())
	snap := e.st.Snapshot()
	e.mu.Unlock()
	e.listener.OnTranscript(snap)
}

// handleFrame is the single entry point for inbound channel payloads. The
// channel read pump delivers them one at a time, so reducer transitions are
// applied strictly in arrival order.
func (e *Engine) handleFrame(data []byte) {
	fr, err := protocol.Decode(data)

	e.mu.Lock()
	e.stats.FramesTotal++
	if err != nil {
		e.stats.FramesDropped++
		e.mu.Unlock()
		slog.Warn("engine: dropping frame", "error", err)
		return
	}
	effs := reducer.Apply(e.st, fr, time.Now().UTC(), e.tracker)
	var snap []chat.Message
	switch fr.Type {
	case protocol.TypeTyping, protocol.TypeRunStarted, protocol.TypeTraceEvent:
		// Transcript untouched by these types.
	default:
		snap = e.st.Snapshot()
	}
	e.mu.Unlock()

	if snap != nil {
		e.listener.OnTranscript(snap)
	}
	e.runEffects(context.Background(), effs)
}

// handleState relays channel state changes. An unexpected closure leaves
// stream keys and run records untouched; a reconnect may still deliver their
// terminal frames.
func (e *Engine) handleState(connected bool) {
	e.listener.OnConnected(connected)
}

// runEffects executes the side effects of a committed transition. No engine
// lock is held here: effect targets carry their own synchronization, and
// listeners may call back into the engine.
func (e *Engine) runEffects(ctx context.Context, effs []reducer.Effect) {
	for _, eff := range effs {
		switch v := eff.(type) {
		case reducer.PersistMessage:
			e.persistMessage(ctx, v.Message)
		case reducer.EmitDiagram:
			up := v.Update
			e.mu.Lock()
			e.latest = &up
			e.stats.DiagramUpdates++
			e.mu.Unlock()
			e.listener.OnDiagram(v.Update)
		case reducer.NotifyError:
			e.listener.OnNotice(NoticeError, v.Message)
		case reducer.SetTyping:
			e.listener.OnTyping(v.On)
		case reducer.StartRun:
			e.tracker.Start(v.RunID)
		case reducer.ObserveRun:
			e.tracker.Observe(v.RunID)
		case reducer.CompleteRun:
			if v.RunID == "" {
				e.tracker.CompleteActive()
			} else {
				e.tracker.Complete(v.RunID)
			}
		case reducer.RegisterAgent:
			e.tracker.RegisterAgent(v.RunID, v.Agent)
		case reducer.ClearAgents:
			e.tracker.ClearAgents(v.RunID)
		case reducer.RecordTrace:
			e.traces.Record(v.Event)
		}
	}
}

// persistMessage hands one finalized message to the recorder. Failures are
// logged and counted; the in-memory transcript is never rolled back.
func (e *Engine) persistMessage(ctx context.Context, m chat.Message) {
	if m.Meta != nil && m.Meta.Skip {
		return
	}

	rec := persist.Record{
		ID:             m.ID,
		ConversationID: e.ConversationID(),
		Role:           string(m.Role),
		Content:        m.Content,
		CreatedAt:      m.Timestamp,
	}
	if m.Meta != nil {
		rec.RunID = m.Meta.RunID
		rec.AgentName = m.Meta.AgentName
		if m.Meta.RunID != "" {
			rec.TraceEvents = e.traces.Events(m.Meta.RunID)
		}
	}

	sctx, cancel := context.WithTimeout(ctx, persistTimeout)
	defer cancel()
	if err := e.recorder.SaveMessage(sctx, rec); err != nil {
		slog.Error("engine: persist failed", "message_id", m.ID, "error", err)
		e.bump(func(s *Stats) { s.PersistFailures++ })
		return
	}
	e.bump(func(s *Stats) { s.MessagesPersisted++ })
}

// markUser transitions the user turn's delivery state and persists it once
// dispatch succeeded.
func (e *Engine) markUser(ctx context.Context, id string, status chat.Status) chat.Message {
	e.mu.Lock()
	reducer.SetMessageStatus(e.st, id, status, time.Now().UTC())
	m, _ := e.st.Message(id)
	snap := e.st.Snapshot()
	e.mu.Unlock()

	e.listener.OnTranscript(snap)
	if status == chat.StatusSent {
		e.persistMessage(ctx, m)
	}
	return m
}

func (e *Engine) bump(f func(*Stats)) {
	e.mu.Lock()
	f(&e.stats)
	e.mu.Unlock()
}

// ConversationID returns the session's conversation identifier. It changes
// only when the backend assigns one on the first fallback exchange.
func (e *Engine) ConversationID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.conversationID
}

// Transcript returns a copy of the visible transcript in order.
func (e *Engine) Transcript() []chat.Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.st.Snapshot()
}

// Typing reports the backend typing indicator.
func (e *Engine) Typing() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.st.Typing
}

// Runs returns copies of every tracked run, most recent first.
func (e *Engine) Runs() []runstate.Run {
	return e.tracker.Runs()
}

// Run returns one run's record.
func (e *Engine) Run(runID string) (runstate.Run, bool) {
	return e.tracker.Get(runID)
}

// RunAgents lists the agents observed streaming within a still-live run.
func (e *Engine) RunAgents(runID string) []string {
	return e.tracker.Agents(runID)
}

// RunEvents returns a copy of a run's trace log in timestamp order.
func (e *Engine) RunEvents(runID string) []tracelog.Event {
	return e.traces.Events(runID)
}

// LatestDiagram returns the most recent extraction result, if any.
func (e *Engine) LatestDiagram() (diagram.Update, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.latest == nil {
		return diagram.Update{}, false
	}
	return *e.latest, true
}

// Stats returns a copy of the engine's operational counters.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

// History reads the conversation's persisted messages back from the recorder.
func (e *Engine) History(ctx context.Context) ([]persist.Record, error) {
	return e.recorder.Messages(ctx, e.ConversationID())
}
