package reducer

import (
	"github.com/error505/archway/internal/chat"
	"github.com/error505/archway/internal/diagram"
	"github.com/error505/archway/internal/tracelog"
)

// Effect is an intended side effect produced by a state transition. Apply
// never performs I/O itself; the engine runs the returned effects only after
// the transition has been committed, so a failing side effect can never
// leave the transcript half-updated.
type Effect interface {
	effect()
}

// PersistMessage hands a finalized message to the persistence layer.
type PersistMessage struct {
	Message chat.Message
}

// EmitDiagram publishes the latest diagram extraction result.
type EmitDiagram struct {
	Update diagram.Update
}

// NotifyError surfaces a backend-reported failure to the caller.
type NotifyError struct {
	Message string
}

// SetTyping reports the typing indicator state to observers.
type SetTyping struct {
	On bool
}

// StartRun records a fresh run as running and active.
type StartRun struct {
	RunID string
}

// ObserveRun ensures a run record exists for out-of-band events.
type ObserveRun struct {
	RunID string
}

// CompleteRun transitions a run to completed. An empty RunID targets the
// active run.
type CompleteRun struct {
	RunID string
}

// RegisterAgent marks an agent as streaming within a run.
type RegisterAgent struct {
	RunID string
	Agent string
}

// ClearAgents drops a resolved run's agent set.
type ClearAgents struct {
	RunID string
}

// RecordTrace appends a diagnostic event to the trace log.
type RecordTrace struct {
	Event tracelog.Event
}

func (PersistMessage) effect() {}
func (EmitDiagram) effect()    {}
func (NotifyError) effect()    {}
func (SetTyping) effect()      {}
func (StartRun) effect()       {}
func (ObserveRun) effect()     {}
func (CompleteRun) effect()    {}
func (RegisterAgent) effect()  {}
func (ClearAgents) effect()    {}
func (RecordTrace) effect()    {}
