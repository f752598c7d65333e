// Package broadcast fans persisted message events out to the sessions
// subscribed to the message's chat room. It never writes to storage and
// holds no message after a call returns.
package broadcast

import (
	"log/slog"
	"time"

	"veche/internal/fanout"
	"veche/internal/models"
)

// Rooms resolves broadcast targets for a chat.
type Rooms interface {
	MembersOf(chatID string) []string
}

type Router struct {
	rooms  Rooms
	sender fanout.Sender
	logger *slog.Logger
	now    func() time.Time
}

func New(rooms Rooms, sender fanout.Sender, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		rooms:  rooms,
		sender: sender,
		logger: logger.With("component", "broadcast"),
		now:    time.Now,
	}
}

// BroadcastNew sends message-received to the room, skipping the session
// that sent it.
func (r *Router) BroadcastNew(originSessionID string, msg models.Message) int {
	return r.toRoom(msg.ChatID(), models.ServerEvent{
		Type: models.EventMessageReceived,
		Data: models.MessageEnvelope{Message: msg},
	}, originSessionID)
}

// BroadcastUpdated sends message-updated to the whole room, so the actor's
// other devices see their own edits, reactions and pins.
func (r *Router) BroadcastUpdated(msg models.Message) int {
	return r.toRoom(msg.ChatID(), models.ServerEvent{
		Type: models.EventMessageUpdated,
		Data: models.MessageEnvelope{Message: msg},
	})
}

func (r *Router) BroadcastDeleted(messageID, chatID string) int {
	return r.toRoom(chatID, models.ServerEvent{
		Type: models.EventMessageDeleted,
		Data: models.MessageDeleted{
			MessageID: messageID,
			ChatID:    chatID,
			Timestamp: r.now(),
		},
	})
}

func (r *Router) BroadcastReadReceipt(messageID, chatID, userID string) int {
	return r.toRoom(chatID, models.ServerEvent{
		Type: models.EventMessageReadUpdate,
		Data: models.MessageReadUpdate{
			MessageID: messageID,
			UserID:    userID,
			ChatID:    chatID,
			Timestamp: r.now(),
		},
	})
}

func (r *Router) toRoom(chatID string, ev models.ServerEvent, skip ...string) int {
	if chatID == "" {
		r.logger.Warn("broadcast without chat id", "event", ev.Type)
		return 0
	}
	return fanout.Multicast(r.sender, r.rooms.MembersOf(chatID), ev, skip...)
}
