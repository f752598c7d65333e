// Package typing keeps one ephemeral "is typing" flag per (chat, user) and
// expires it after a fixed timeout unless refreshed.
package typing

import (
	"log/slog"
	"sort"
	"time"

	"veche/internal/fanout"
	"veche/internal/models"
	"veche/internal/sched"
)

const DefaultTimeout = 3 * time.Second

// Rooms resolves broadcast targets for a chat.
type Rooms interface {
	MembersOf(chatID string) []string
}

type Config struct {
	Rooms     Rooms
	Sender    fanout.Sender
	Scheduler sched.Scheduler
	Timeout   time.Duration
	Logger    *slog.Logger
}

type key struct {
	chatID string
	userID string
}

type entry struct {
	chatID      string
	userID      string
	displayName string
	// sessionID is the session of the most recent refresh.
	sessionID string
	expiresAt time.Time
	task      sched.Task
}

// Coordinator is not safe for concurrent use; the scheduler must run
// callbacks on the same goroutine that calls Start and Stop.
type Coordinator struct {
	rooms   Rooms
	sender  fanout.Sender
	sched   sched.Scheduler
	timeout time.Duration
	logger  *slog.Logger
	now     func() time.Time
	entries map[key]*entry
}

func New(cfg Config) *Coordinator {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		rooms:   cfg.Rooms,
		sender:  cfg.Sender,
		sched:   cfg.Scheduler,
		timeout: timeout,
		logger:  logger.With("component", "typing"),
		now:     time.Now,
		entries: make(map[key]*entry),
	}
}

// Start marks userID as typing in chatID, or refreshes the flag. Every call
// re-arms the expiry timer and re-emits isTyping:true to the room, except
// to the originating session.
func (c *Coordinator) Start(sessionID, chatID, userID, displayName string) {
	k := key{chatID: chatID, userID: userID}
	e, ok := c.entries[k]
	if ok {
		e.task.Stop()
	} else {
		e = &entry{chatID: chatID, userID: userID}
		c.entries[k] = e
	}

	e.displayName = displayName
	e.sessionID = sessionID
	e.expiresAt = c.now().Add(c.timeout)
	e.task = c.sched.AfterFunc(c.timeout, func() { c.expire(k, e) })

	fanout.Multicast(c.sender, c.rooms.MembersOf(chatID), models.ServerEvent{
		Type: models.EventTypingUpdate,
		Data: models.TypingUpdate{
			ChatID:   chatID,
			UserID:   userID,
			Name:     displayName,
			IsTyping: true,
		},
	}, sessionID)
}

// Stop clears the flag and cancels its timer. Stopping an absent entry is a
// no-op and broadcasts nothing. It reports whether an entry was removed.
func (c *Coordinator) Stop(sessionID, chatID, userID string) bool {
	k := key{chatID: chatID, userID: userID}
	e, ok := c.entries[k]
	if !ok {
		return false
	}
	e.task.Stop()
	delete(c.entries, k)
	c.announceStopped(e, sessionID)
	return true
}

// DropSession clears every entry whose latest refresh came from sessionID.
// Entries refreshed later by another session of the same user survive.
func (c *Coordinator) DropSession(sessionID string) int {
	var dropped []*entry
	for k, e := range c.entries {
		if e.sessionID != sessionID {
			continue
		}
		e.task.Stop()
		delete(c.entries, k)
		dropped = append(dropped, e)
	}

	sort.Slice(dropped, func(i, j int) bool {
		if dropped[i].chatID == dropped[j].chatID {
			return dropped[i].userID < dropped[j].userID
		}
		return dropped[i].chatID < dropped[j].chatID
	})
	for _, e := range dropped {
		c.announceStopped(e, sessionID)
	}
	return len(dropped)
}

// IsTyping reports whether a live entry exists for (chatID, userID).
func (c *Coordinator) IsTyping(chatID, userID string) bool {
	_, ok := c.entries[key{chatID: chatID, userID: userID}]
	return ok
}

// ExpiresAt returns the current deadline of the (chatID, userID) entry.
func (c *Coordinator) ExpiresAt(chatID, userID string) (time.Time, bool) {
	e, ok := c.entries[key{chatID: chatID, userID: userID}]
	if !ok {
		return time.Time{}, false
	}
	return e.expiresAt, true
}

func (c *Coordinator) expire(k key, e *entry) {
	if c.entries[k] != e {
		// Superseded or already removed.
		return
	}
	delete(c.entries, k)
	c.logger.Debug("typing expired", "chat_id", e.chatID, "user_id", e.userID)
	c.announceStopped(e, "")
}

func (c *Coordinator) announceStopped(e *entry, skip string) {
	fanout.Multicast(c.sender, c.rooms.MembersOf(e.chatID), models.ServerEvent{
		Type: models.EventTypingUpdate,
		Data: models.TypingUpdate{
			ChatID:   e.chatID,
			UserID:   e.userID,
			IsTyping: false,
		},
	}, skip)
}
