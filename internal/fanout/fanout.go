// Package fanout holds the contract components use to push events to
// live sessions.
package fanout

import "veche/internal/models"

// Sender delivers one event to one session. Delivery is best effort:
// unknown sessions and full buffers are silently dropped.
type Sender interface {
	Send(sessionID string, ev models.ServerEvent)
}

// Multicast sends ev to every target except the ones in skip and returns
// the number of sessions it was handed to.
func Multicast(s Sender, targets []string, ev models.ServerEvent, skip ...string) int {
	n := 0
	for _, id := range targets {
		if contains(skip, id) {
			continue
		}
		s.Send(id, ev)
		n++
	}
	return n
}

func contains(ids []string, id string) bool {
	for _, s := range ids {
		if s == id {
			return true
		}
	}
	return false
}
