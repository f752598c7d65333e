// Package rooms tracks which sessions are subscribed to which chat rooms.
package rooms

import "sort"

// Membership is a many-to-many index between sessions and chats. It is not
// safe for concurrent use.
type Membership struct {
	byChat    map[string]map[string]struct{}
	bySession map[string]map[string]struct{}
}

func New() *Membership {
	return &Membership{
		byChat:    make(map[string]map[string]struct{}),
		bySession: make(map[string]map[string]struct{}),
	}
}

// Join subscribes sessionID to chatID. It reports false if the session was
// already a member.
func (m *Membership) Join(sessionID, chatID string) bool {
	if _, ok := m.byChat[chatID][sessionID]; ok {
		return false
	}
	add(m.byChat, chatID, sessionID)
	add(m.bySession, sessionID, chatID)
	return true
}

// Leave unsubscribes sessionID from chatID. It reports false if there was
// nothing to remove.
func (m *Membership) Leave(sessionID, chatID string) bool {
	if _, ok := m.byChat[chatID][sessionID]; !ok {
		return false
	}
	remove(m.byChat, chatID, sessionID)
	remove(m.bySession, sessionID, chatID)
	return true
}

// LeaveAll drops every membership row of sessionID and returns the chats
// it left, sorted.
func (m *Membership) LeaveAll(sessionID string) []string {
	chats := keys(m.bySession[sessionID])
	for _, chatID := range chats {
		remove(m.byChat, chatID, sessionID)
	}
	delete(m.bySession, sessionID)
	return chats
}

// MembersOf returns the sessions subscribed to chatID, sorted.
func (m *Membership) MembersOf(chatID string) []string {
	return keys(m.byChat[chatID])
}

// RoomsOf returns the chats sessionID is subscribed to, sorted.
func (m *Membership) RoomsOf(sessionID string) []string {
	return keys(m.bySession[sessionID])
}

func (m *Membership) IsMember(sessionID, chatID string) bool {
	_, ok := m.byChat[chatID][sessionID]
	return ok
}

func add(idx map[string]map[string]struct{}, k, v string) {
	set, ok := idx[k]
	if !ok {
		set = make(map[string]struct{})
		idx[k] = set
	}
	set[v] = struct{}{}
}

func remove(idx map[string]map[string]struct{}, k, v string) {
	set, ok := idx[k]
	if !ok {
		return
	}
	delete(set, v)
	if len(set) == 0 {
		delete(idx, k)
	}
}

func keys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
