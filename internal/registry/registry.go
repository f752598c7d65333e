// Package registry maps live transport sessions to authenticated users.
// A user may own several sessions at once (devices, tabs); a per-user
// session index makes presence transitions O(1) to detect.
package registry

import (
	"sort"
	"time"

	"veche/internal/models"
)

// Transition is a presence change caused by a registry mutation: the user's
// session count went 0->1 (Online) or 1->0 (!Online).
type Transition struct {
	UserID string
	Online bool
}

// Registry is not safe for concurrent use. It is owned by the hub loop.
type Registry struct {
	sessions map[string]models.Session
	byUser   map[string]map[string]struct{}
	now      func() time.Time
}

func New() *Registry {
	return &Registry{
		sessions: make(map[string]models.Session),
		byUser:   make(map[string]map[string]struct{}),
		now:      time.Now,
	}
}

// Register binds sessionID to userID. Registering a known session again
// overwrites its owner, which may take the previous owner offline.
// The returned transitions are computed against the counts strictly
// before and after this call.
func (r *Registry) Register(sessionID, userID string) []Transition {
	var transitions []Transition

	if prev, ok := r.sessions[sessionID]; ok {
		if prev.UserID == userID {
			return nil
		}
		if r.detach(sessionID, prev.UserID) {
			transitions = append(transitions, Transition{UserID: prev.UserID, Online: false})
		}
	}

	r.sessions[sessionID] = models.Session{
		ID:          sessionID,
		UserID:      userID,
		ConnectedAt: r.now(),
	}

	set, ok := r.byUser[userID]
	if !ok {
		set = make(map[string]struct{})
		r.byUser[userID] = set
	}
	set[sessionID] = struct{}{}
	if len(set) == 1 {
		transitions = append(transitions, Transition{UserID: userID, Online: true})
	}

	return transitions
}

// Unregister removes sessionID and returns its previous owner. offline is
// true when that was the owner's last session. Unknown sessions return
// ("", false).
func (r *Registry) Unregister(sessionID string) (userID string, offline bool) {
	s, ok := r.sessions[sessionID]
	if !ok {
		return "", false
	}
	delete(r.sessions, sessionID)
	return s.UserID, r.detach(sessionID, s.UserID)
}

func (r *Registry) detach(sessionID, userID string) bool {
	set, ok := r.byUser[userID]
	if !ok {
		return false
	}
	delete(set, sessionID)
	if len(set) == 0 {
		delete(r.byUser, userID)
		return true
	}
	return false
}

// SessionsOf returns the live sessions of userID, sorted.
func (r *Registry) SessionsOf(userID string) []string {
	set := r.byUser[userID]
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// UserOf returns the owner of sessionID.
func (r *Registry) UserOf(sessionID string) (string, bool) {
	s, ok := r.sessions[sessionID]
	return s.UserID, ok
}

// SessionCount returns the number of live sessions owned by userID.
func (r *Registry) SessionCount(userID string) int {
	return len(r.byUser[userID])
}

// Sessions returns every live session id, sorted.
func (r *Registry) Sessions() []string {
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Users returns the distinct users with at least one live session, sorted.
func (r *Registry) Users() []string {
	ids := make([]string, 0, len(r.byUser))
	for id := range r.byUser {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
