package reducer

import (
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/error505/archway/internal/chat"
	"github.com/error505/archway/internal/diagram"
	"github.com/error505/archway/internal/protocol"
	"github.com/error505/archway/internal/tracelog"
)

// Stream phases with transition semantics. Anything else is treated as a
// plain content phase.
const (
	PhaseThinking = "thinking"
	PhaseEnd      = "end"
	PhaseError    = "error"
)

// reasoningRe catches agents that tag internal monologue in the delta text
// instead of the phase field.
var reasoningRe = regexp.MustCompile(`(?i)^(thinking|reasoning)[:…\s]`)

// RunInfo is the run-registry view a transition may consult: which run the
// last user turn started, and whether per-agent streams have been observed
// for a run. The tracker maintains both through effects; Apply only reads.
type RunInfo interface {
	ActiveRun() string
	HasAgents(runID string) bool
}

// Apply advances the transcript state by one decoded frame and returns the
// side effects the transition calls for. runs resolves final frames that
// omit their run id and guards against duplicating runs already covered by
// agent messages.
func Apply(st *State, fr protocol.Frame, now time.Time, runs RunInfo) []Effect {
	switch fr.Type {
	case protocol.TypeMessage:
		return applyMessage(st, fr, now)
	case protocol.TypeTyping:
		st.Typing = fr.Typing
		return []Effect{SetTyping{On: fr.Typing}}
	case protocol.TypeRunStarted:
		return []Effect{StartRun{RunID: fr.RunID}}
	case protocol.TypeTraceEvent:
		return []Effect{
			ObserveRun{RunID: fr.RunID},
			RecordTrace{Event: traceFromFrame(fr)},
		}
	case protocol.TypeAgentStream:
		return applyAgentStream(st, fr, now)
	case protocol.TypeTeamFinal:
		return applyTeamFinal(st, fr, now, runs)
	case protocol.TypeRunCompleted:
		return applyRunCompleted(st, fr, now)
	case protocol.TypeError:
		return applyError(st, fr, now)
	}
	return nil
}

// applyMessage appends a plain finalized assistant message, scanning its
// text for an embedded diagram.
func applyMessage(st *State, fr protocol.Frame, now time.Time) []Effect {
	m, effs := newAssistantMessage(fr.Content, &chat.Meta{RunID: fr.RunID}, now)
	st.append(m)
	return append(effs, PersistMessage{Message: m.Clone()})
}

func applyAgentStream(st *State, fr protocol.Frame, now time.Time) []Effect {
	effs := []Effect{ObserveRun{RunID: fr.RunID}}

	terminal := fr.Phase == PhaseEnd || fr.Phase == PhaseError
	if isReasoning(fr) {
		// Internal monologue never reaches the visible transcript, but it
		// is still worth keeping in the trace log. Stream frames carry no
		// backend timestamp, so stamp arrival time for ordering.
		ev := traceFromFrame(fr)
		if ev.TS == 0 {
			ev.TS = float64(now.UnixNano()) / 1e9
		}
		return append(effs, RecordTrace{Event: ev})
	}
	effs = append(effs, RegisterAgent{RunID: fr.RunID, Agent: fr.Agent})

	key := streamKey(fr.RunID, fr.Agent)
	id, seen := st.streams[key]
	if seen && st.Messages[st.index[id]].Status != chat.StatusStreaming {
		// The stream already finalized. A re-delivered delta or terminal
		// frame must not reopen it or persist it a second time.
		return effs
	}
	if !seen {
		if terminal && strings.TrimSpace(fr.Delta) == "" {
			// A stray terminal frame with no content: nothing to show.
			return effs
		}
		m := chat.Message{
			ID:        uuid.New().String(),
			Role:      chat.RoleAssistant,
			Content:   fr.Delta,
			Timestamp: now,
			Status:    chat.StatusStreaming,
			Meta:      &chat.Meta{AgentName: fr.Agent, RunID: fr.RunID},
		}
		st.append(m)
		st.registerStream(key, fr.RunID, m.ID)
		id = m.ID
	} else {
		idx := st.index[id]
		st.Messages[idx].Content += fr.Delta
		st.Messages[idx].Timestamp = now
	}

	if !terminal {
		return effs
	}

	// The registration stays: the wire contract retires stream keys on
	// run_completed, and a later team_final uses them to find the messages
	// that already cover this run.
	idx := st.index[id]
	if fr.Phase == PhaseError {
		st.Messages[idx].Status = chat.StatusError
		st.Typing = false
		reason := fr.Error
		if reason == "" {
			reason = "agent stream failed"
		}
		return append(effs,
			SetTyping{On: false},
			NotifyError{Message: reason},
			CompleteRun{RunID: fr.RunID},
		)
	}
	st.Messages[idx].Status = chat.StatusSent
	return append(effs, PersistMessage{Message: st.Messages[idx].Clone()})
}

func applyTeamFinal(st *State, fr protocol.Frame, now time.Time, runs RunInfo) []Effect {
	runID := fr.RunID
	if runID == "" {
		runID = runs.ActiveRun()
	}

	d := diagram.Extract(diagram.Payload{Typed: fr.Diagram, Raw: fr.DiagramRaw, Text: fr.Message})
	iac := diagram.ExtractIaC(fr.IaC)

	var effs []Effect
	var targetID string

	live := st.LiveStreams(runID)
	ids := st.RunStreams(runID)
	switch {
	case len(live) > 0:
		// Artifacts land on the stream that moved last. Every live message
		// keeps the content it accumulated; the summary text never replaces
		// streamed content.
		targetID = mostRecent(st, live)
		attachArtifacts(&st.Messages[st.index[targetID]], d, iac)
		for _, id := range live {
			idx := st.index[id]
			st.Messages[idx].Status = chat.StatusSent
			st.Messages[idx].Timestamp = now
			effs = append(effs, PersistMessage{Message: st.Messages[idx].Clone()})
		}
	case runs.HasAgents(runID) && len(ids) > 0:
		// Agent messages already cover the run and were persisted when they
		// finalized. Appending the summary would duplicate them; the final
		// frame only contributes its artifacts.
		targetID = mostRecent(st, ids)
		idx := st.index[targetID]
		attachArtifacts(&st.Messages[idx], d, iac)
		st.Messages[idx].Timestamp = now
	default:
		m := chat.Message{
			ID:        uuid.New().String(),
			Role:      chat.RoleAssistant,
			Content:   fr.Message,
			Timestamp: now,
			Status:    chat.StatusSent,
			Meta:      &chat.Meta{RunID: runID},
		}
		attachArtifacts(&m, d, iac)
		st.append(m)
		targetID = m.ID
		effs = append(effs, PersistMessage{Message: m.Clone()})
	}

	if d != nil || len(fr.Diagram) > 0 || fr.DiagramRaw != "" {
		raw := fr.DiagramRaw
		if raw == "" && len(fr.Diagram) > 0 {
			raw = string(fr.Diagram)
		}
		effs = append(effs, EmitDiagram{Update: diagram.Update{
			MessageID:   targetID,
			RunID:       runID,
			Diagram:     d,
			RawJSON:     raw,
			MessageText: fr.Message,
			ReceivedAt:  now,
			IaC:         iac,
		}})
	}

	st.Typing = false
	// Registrations survive the final frame so a re-delivered one lands in
	// the covered branch above; run_completed is what retires them.
	return append(effs,
		SetTyping{On: false},
		CompleteRun{RunID: runID},
	)
}

// applyRunCompleted finalizes anything still streaming in the run before the
// record goes terminal; a stream with no terminal frame of its own would
// otherwise be stuck streaming forever. This frame also retires the run's
// stream registrations and its agent set.
func applyRunCompleted(st *State, fr protocol.Frame, now time.Time) []Effect {
	var effs []Effect
	for _, id := range st.LiveStreams(fr.RunID) {
		idx := st.index[id]
		st.Messages[idx].Status = chat.StatusSent
		st.Messages[idx].Timestamp = now
		effs = append(effs, PersistMessage{Message: st.Messages[idx].Clone()})
	}
	st.clearRun(fr.RunID)
	return append(effs,
		CompleteRun{RunID: fr.RunID},
		ClearAgents{RunID: fr.RunID},
	)
}

// applyError marks the pending user turn failed and resolves the active run.
// Duplicate error frames are absorbed: once no user message is pending, only
// the notification side remains.
func applyError(st *State, fr protocol.Frame, now time.Time) []Effect {
	if idx, ok := st.lastPendingUser(); ok {
		st.Messages[idx].Status = chat.StatusError
		st.Messages[idx].Timestamp = now
	}
	st.Typing = false
	return []Effect{
		SetTyping{On: false},
		NotifyError{Message: fr.Message},
		CompleteRun{RunID: ""},
	}
}

// AppendUser adds a user turn in sending state and returns a copy.
func AppendUser(st *State, content string, now time.Time) chat.Message {
	m := chat.Message{
		ID:        uuid.New().String(),
		Role:      chat.RoleUser,
		Content:   content,
		Timestamp: now,
		Status:    chat.StatusSending,
	}
	st.append(m)
	return m.Clone()
}

// AppendSystem adds a transcript-only system notice. It is finalized on
// arrival and flagged to stay out of persistence and outbound context.
func AppendSystem(st *State, content string, now time.Time) chat.Message {
	m := chat.Message{
		ID:        uuid.New().String(),
		Role:      chat.RoleSystem,
		Content:   content,
		Timestamp: now,
		Status:    chat.StatusSent,
		Meta:      &chat.Meta{Skip: true},
	}
	st.append(m)
	return m.Clone()
}

// SetMessageStatus transitions one message's delivery state.
func SetMessageStatus(st *State, id string, status chat.Status, now time.Time) bool {
	idx, ok := st.index[id]
	if !ok {
		return false
	}
	st.Messages[idx].Status = status
	st.Messages[idx].Timestamp = now
	return true
}

// AppendAssistant adds a finalized assistant message outside the frame flow,
// for replies that came back over the synchronous fallback path.
func AppendAssistant(st *State, content string, meta *chat.Meta, now time.Time) (chat.Message, []Effect) {
	m, effs := newAssistantMessage(content, meta, now)
	st.append(m)
	return m.Clone(), append(effs, PersistMessage{Message: m.Clone()})
}

// newAssistantMessage builds a finalized assistant message, running the
// embedded-diagram scan over its text.
func newAssistantMessage(content string, meta *chat.Meta, now time.Time) (chat.Message, []Effect) {
	if meta == nil {
		meta = &chat.Meta{}
	}
	m := chat.Message{
		ID:        uuid.New().String(),
		Role:      chat.RoleAssistant,
		Content:   content,
		Timestamp: now,
		Status:    chat.StatusSent,
		Meta:      meta,
	}

	var effs []Effect
	if diagram.LooksEmbedded(content) {
		if d := diagram.Extract(diagram.Payload{Text: content}); d != nil {
			meta.Diagram = d
			effs = append(effs, EmitDiagram{Update: diagram.Update{
				MessageID:   m.ID,
				RunID:       meta.RunID,
				Diagram:     d,
				MessageText: content,
				ReceivedAt:  now,
			}})
		}
	}
	return m, effs
}

func attachArtifacts(m *chat.Message, d *diagram.Diagram, iac *diagram.IaCBundle) {
	if m.Meta == nil {
		m.Meta = &chat.Meta{}
	}
	if d != nil {
		m.Meta.Diagram = d
	}
	if iac != nil {
		m.Meta.IaC = iac
	}
}

// mostRecent picks the stream message that moved last, breaking timestamp
// ties toward the later transcript position.
func mostRecent(st *State, ids []string) string {
	best := ids[0]
	bestIdx := st.index[best]
	for _, id := range ids[1:] {
		idx := st.index[id]
		if st.Messages[idx].Timestamp.After(st.Messages[bestIdx].Timestamp) ||
			(st.Messages[idx].Timestamp.Equal(st.Messages[bestIdx].Timestamp) && idx > bestIdx) {
			best = id
			bestIdx = idx
		}
	}
	return best
}

func isReasoning(fr protocol.Frame) bool {
	return fr.Phase == PhaseThinking || reasoningRe.MatchString(fr.Delta)
}

func streamKey(runID, agent string) string {
	return runID + "|" + agent
}

// traceFromFrame converts a frame into a trace log event. The backend
// timestamp is kept verbatim: it is part of the dedup identity, so replays
// of the same event must map to the same key.
func traceFromFrame(fr protocol.Frame) tracelog.Event {
	return tracelog.Event{
		RunID:     fr.RunID,
		StepID:    fr.StepID,
		Agent:     fr.Agent,
		Phase:     fr.Phase,
		TS:        fr.TS,
		Meta:      fr.Meta,
		Progress:  fr.Progress,
		Telemetry: fr.Telemetry,
		Delta:     fr.Delta,
		Summary:   fr.Summary,
		Error:     fr.Error,
	}
}
