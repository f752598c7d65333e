package testutil

import (
	"sync"

	"veche/internal/models"
)

// Recorder is a fanout.Sender that keeps every event it is handed.
type Recorder struct {
	mu     sync.Mutex
	events map[string][]models.ServerEvent
}

func NewRecorder() *Recorder {
	return &Recorder{events: make(map[string][]models.ServerEvent)}
}

func (r *Recorder) Send(sessionID string, ev models.ServerEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events[sessionID] = append(r.events[sessionID], ev)
}

// Events returns the events sent to sessionID in send order.
func (r *Recorder) Events(sessionID string) []models.ServerEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.ServerEvent, len(r.events[sessionID]))
	copy(out, r.events[sessionID])
	return out
}

// OfType returns the events of type t sent to sessionID.
func (r *Recorder) OfType(sessionID string, t models.EventType) []models.ServerEvent {
	var out []models.ServerEvent
	for _, ev := range r.Events(sessionID) {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

// Count returns how many events of type t were sent across all sessions.
func (r *Recorder) Count(t models.EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, evs := range r.events {
		for _, ev := range evs {
			if ev.Type == t {
				n++
			}
		}
	}
	return n
}

// Sessions returns the ids of sessions that received anything.
func (r *Recorder) Sessions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.events))
	for id := range r.events {
		ids = append(ids, id)
	}
	return ids
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = make(map[string][]models.ServerEvent)
}
