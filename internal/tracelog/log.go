package tracelog

import (
	"sort"
	"sync"
)

// Event is one diagnostic record emitted by an agent during a run. Events
// are observability-only: they never alter transcript or run state.
type Event struct {
	RunID     string         `json:"run_id"`
	StepID    string         `json:"step_id,omitempty"`
	Agent     string         `json:"agent,omitempty"`
	Phase     string         `json:"phase,omitempty"`
	TS        float64        `json:"ts,omitempty"`
	Meta      map[string]any `json:"meta,omitempty"`
	Progress  map[string]any `json:"progress,omitempty"`
	Telemetry map[string]any `json:"telemetry,omitempty"`
	Delta     string         `json:"message_delta,omitempty"`
	Summary   string         `json:"summary,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// key is the dedup identity: redelivered events share all three fields.
type key struct {
	stepID string
	phase  string
	ts     float64
}

// Log is an append-only, deduplicated store of trace events grouped by run
// and ordered by backend timestamp.
type Log struct {
	mu    sync.Mutex
	byRun map[string][]Event
	seen  map[string]map[key]struct{}
}

func New() *Log {
	return &Log{
		byRun: make(map[string][]Event),
		seen:  make(map[string]map[key]struct{}),
	}
}

// Record appends ev to its run's log. It reports false when an event with
// the same (step_id, phase, ts) was already recorded for that run.
func (l *Log) Record(ev Event) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	k := key{stepID: ev.StepID, phase: ev.Phase, ts: ev.TS}
	seen, ok := l.seen[ev.RunID]
	if !ok {
		seen = make(map[key]struct{})
		l.seen[ev.RunID] = seen
	}
	if _, dup := seen[k]; dup {
		return false
	}
	seen[k] = struct{}{}

	events := append(l.byRun[ev.RunID], ev)
	// Out-of-order delivery is common near reconnects; keep the log sorted
	// by backend time, preserving arrival order for equal stamps.
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].TS < events[j].TS
	})
	l.byRun[ev.RunID] = events
	return true
}

// Events returns a copy of the run's log in timestamp order.
func (l *Log) Events(runID string) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()

	events := l.byRun[runID]
	out := make([]Event, len(events))
	copy(out, events)
	return out
}

// Len reports the number of recorded events for a run.
func (l *Log) Len(runID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.byRun[runID])
}

// Runs lists every run id with at least one recorded event.
func (l *Log) Runs() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]string, 0, len(l.byRun))
	for id := range l.byRun {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
