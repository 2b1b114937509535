// Package testutil holds shared test doubles: an in-memory recorder with
// failure injection, a scripted channel dialer, and a notification-capturing
// listener.
package testutil

import (
	"context"
	"sync"

	"github.com/error505/archway/internal/persist"
)

// Recorder is a persist.Recorder that captures saves and can fail on demand.
type Recorder struct {
	mu      sync.Mutex
	records []persist.Record

	SaveErr   error
	SaveCalls int
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) SaveMessage(_ context.Context, rec persist.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.SaveCalls++
	if r.SaveErr != nil {
		return r.SaveErr
	}
	r.records = append(r.records, rec)
	return nil
}

func (r *Recorder) Messages(_ context.Context, conversationID string) ([]persist.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []persist.Record
	for _, rec := range r.records {
		if rec.ConversationID == conversationID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (r *Recorder) Close() {}

// Saved returns a copy of everything recorded so far, any conversation.
func (r *Recorder) Saved() []persist.Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]persist.Record, len(r.records))
	copy(out, r.records)
	return out
}

// SavedByRole filters recorded saves by role.
func (r *Recorder) SavedByRole(role string) []persist.Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []persist.Record
	for _, rec := range r.records {
		if rec.Role == role {
			out = append(out, rec)
		}
	}
	return out
}
