package reducer

import (
	"github.com/error505/archway/internal/chat"
)

// State is the transcript state owned by a session engine. It is advanced
// one frame at a time by Apply; the engine serializes access, so State does
// no locking of its own.
type State struct {
	Messages []chat.Message
	Typing   bool

	index      map[string]int      // message id -> position in Messages
	streams    map[string]string   // stream key -> message id
	runStreams map[string][]string // run id -> agent stream message ids, oldest first
}

func NewState() *State {
	return &State{
		index:      make(map[string]int),
		streams:    make(map[string]string),
		runStreams: make(map[string][]string),
	}
}

// Snapshot deep-copies the transcript for observers.
func (s *State) Snapshot() []chat.Message {
	return chat.CloneAll(s.Messages)
}

// Message returns a copy of one message by id.
func (s *State) Message(id string) (chat.Message, bool) {
	idx, ok := s.index[id]
	if !ok {
		return chat.Message{}, false
	}
	return s.Messages[idx].Clone(), true
}

// LiveStreams returns the ids of messages still streaming within a run.
func (s *State) LiveStreams(runID string) []string {
	var out []string
	for _, id := range s.runStreams[runID] {
		if s.Messages[s.index[id]].Status == chat.StatusStreaming {
			out = append(out, id)
		}
	}
	return out
}

// RunStreams returns the ids of every agent-stream message registered in a
// run, finalized or not. Registrations outlive per-agent terminal frames; the
// run_completed frame is what retires them.
func (s *State) RunStreams(runID string) []string {
	ids := s.runStreams[runID]
	out := make([]string, len(ids))
	copy(out, ids)
	return out
}

// ClearStreams forgets every live stream registration. Message statuses are
// left as they are; this runs when the channel is torn down and stream keys
// from the old connection must not capture frames from the next one.
func (s *State) ClearStreams() {
	s.streams = make(map[string]string)
	s.runStreams = make(map[string][]string)
}

func (s *State) append(m chat.Message) {
	s.index[m.ID] = len(s.Messages)
	s.Messages = append(s.Messages, m)
}

func (s *State) registerStream(key, runID, messageID string) {
	s.streams[key] = messageID
	s.runStreams[runID] = append(s.runStreams[runID], messageID)
}

// clearRun retires every stream registration of a resolved run.
func (s *State) clearRun(runID string) {
	for _, id := range s.runStreams[runID] {
		m := s.Messages[s.index[id]]
		delete(s.streams, streamKey(runID, m.Meta.AgentName))
	}
	delete(s.runStreams, runID)
}

// lastPendingUser finds the most recent user message still in sending state.
func (s *State) lastPendingUser() (int, bool) {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		m := s.Messages[i]
		if m.Role == chat.RoleUser && m.Status == chat.StatusSending {
			return i, true
		}
	}
	return 0, false
}
