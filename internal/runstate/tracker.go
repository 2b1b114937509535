package runstate

import (
	"sort"
	"sync"
	"time"
)

// Status of a run. Completed is terminal; a completed run never transitions
// back to running.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
)

// Run is the lifecycle record of one backend execution.
type Run struct {
	ID          string     `json:"run_id"`
	Status      Status     `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Tracker follows run lifecycles and which agents have streamed in each run.
// Runs it has never heard of are created lazily when events for them arrive,
// so observability survives a missed run_started.
type Tracker struct {
	mu     sync.Mutex
	runs   map[string]*Run
	agents map[string]map[string]struct{}
	active string
}

func NewTracker() *Tracker {
	return &Tracker{
		runs:   make(map[string]*Run),
		agents: make(map[string]map[string]struct{}),
	}
}

// Start records a fresh running run and marks it as the active one. A start
// for an id that already completed is absorbed: completed is terminal, so a
// re-delivered run_started neither reopens the record nor steals the active
// slot from whatever run came after it.
func (t *Tracker) Start(runID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if run, ok := t.runs[runID]; ok && run.Status == StatusCompleted {
		return
	}
	t.runs[runID] = &Run{ID: runID, Status: StatusRunning, StartedAt: time.Now().UTC()}
	t.active = runID
}

// Observe ensures a record exists for runID, creating a running one if the
// run_started frame never arrived. Completed runs are left untouched.
func (t *Tracker) Observe(runID string) {
	if runID == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.runs[runID]; !ok {
		t.runs[runID] = &Run{ID: runID, Status: StatusRunning, StartedAt: time.Now().UTC()}
	}
}

// Complete transitions runID to completed. It reports false when the run is
// unknown or already completed; a completion for a different run id never
// touches other records.
func (t *Tracker) Complete(runID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.complete(runID)
}

// CompleteActive completes the active run, if it is still running, and
// returns its id. Used on error frames that do not name a run.
func (t *Tracker) CompleteActive() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.active == "" {
		return ""
	}
	t.complete(t.active)
	return t.active
}

func (t *Tracker) complete(runID string) bool {
	run, ok := t.runs[runID]
	if !ok || run.Status != StatusRunning {
		return false
	}
	now := time.Now().UTC()
	run.Status = StatusCompleted
	run.CompletedAt = &now
	return true
}

// ActiveRun returns the id of the most recently started run, completed or not.
func (t *Tracker) ActiveRun() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

// Get returns a copy of one run's record.
func (t *Tracker) Get(runID string) (Run, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	run, ok := t.runs[runID]
	if !ok {
		return Run{}, false
	}
	return *run, true
}

// Runs returns copies of every tracked run, most recently started first.
func (t *Tracker) Runs() []Run {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Run, 0, len(t.runs))
	for _, run := range t.runs {
		out = append(out, *run)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return out
}

// RegisterAgent marks an agent as having streamed within a run.
func (t *Tracker) RegisterAgent(runID, agent string) {
	if runID == "" || agent == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	set, ok := t.agents[runID]
	if !ok {
		set = make(map[string]struct{})
		t.agents[runID] = set
	}
	set[agent] = struct{}{}
}

// HasAgents reports whether any agent has streamed within the run.
func (t *Tracker) HasAgents(runID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.agents[runID]) > 0
}

// Agents lists the agents seen streaming in a run, sorted for stable output.
func (t *Tracker) Agents(runID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]string, 0, len(t.agents[runID]))
	for a := range t.agents[runID] {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

// ClearAgents drops the agent set for a run once it resolves.
func (t *Tracker) ClearAgents(runID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.agents, runID)
}
