package ws

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"veche/internal/broadcast"
	"veche/internal/call"
	"veche/internal/metrics"
	"veche/internal/models"
	"veche/internal/presence"
	"veche/internal/registry"
	"veche/internal/rooms"
	"veche/internal/sched"
	"veche/internal/typing"

	"github.com/google/uuid"
)

const (
	DefaultOutboxSize          = 100
	DefaultCollaboratorTimeout = 5 * time.Second
)

var (
	ErrHubClosed = errors.New("hub is closed")
	ErrMalformed = errors.New("malformed event")
)

// MessageService is the message persistence collaborator. Every method
// returns the message as stored after the write.
type MessageService interface {
	CreateMessage(ctx context.Context, senderID string, draft models.MessageDraft) (models.Message, error)
	EditMessage(ctx context.Context, userID, messageID, content string) (models.Message, error)
	DeleteMessage(ctx context.Context, userID, messageID string) (models.Message, error)
	ToggleReaction(ctx context.Context, userID, messageID, emoji string) (models.Message, error)
	TogglePin(ctx context.Context, userID, messageID string) (models.Message, error)
	MarkRead(ctx context.Context, userID, messageID string) (models.Message, error)
}

// TokenResolver maps a session token to the user it was issued for.
type TokenResolver interface {
	UserID(token string) (string, error)
}

type Config struct {
	Messages MessageService
	Status   presence.StatusStore
	Tokens   TokenResolver

	TypingTimeout       time.Duration
	RingTimeout         time.Duration
	CollaboratorTimeout time.Duration
	OutboxSize          int

	Logger *slog.Logger
}

// Hub is the coordination layer. Every connect, disconnect, inbound event
// and timer callback runs as one closure on the goroutine started by Run,
// so the components it owns need no locking.
type Hub struct {
	messages MessageService
	tokens   TokenResolver
	timeout  time.Duration
	logger   *slog.Logger

	ops  chan func()
	done chan struct{}

	outboxSize int
	outboxes   map[string]chan models.ServerEvent

	registry *registry.Registry
	rooms    *rooms.Membership
	presence *presence.Tracker
	typing   *typing.Coordinator
	calls    *call.Machine
	router   *broadcast.Router
}

func NewHub(ctx context.Context, cfg Config) *Hub {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	outboxSize := cfg.OutboxSize
	if outboxSize <= 0 {
		outboxSize = DefaultOutboxSize
	}
	timeout := cfg.CollaboratorTimeout
	if timeout <= 0 {
		timeout = DefaultCollaboratorTimeout
	}

	h := &Hub{
		messages:   cfg.Messages,
		tokens:     cfg.Tokens,
		timeout:    timeout,
		logger:     logger.With("component", "hub"),
		ops:        make(chan func(), 256),
		done:       make(chan struct{}),
		outboxSize: outboxSize,
		outboxes:   make(map[string]chan models.ServerEvent),
		registry:   registry.New(),
		rooms:      rooms.New(),
	}
	scheduler := sched.Func(h.afterFunc)

	h.presence = presence.New(presence.Config{
		Store:    cfg.Status,
		Sessions: h.registry,
		Sender:   h,
		Logger:   logger,
		Timeout:  timeout,
	})
	h.typing = typing.New(typing.Config{
		Rooms:     h.rooms,
		Sender:    h,
		Scheduler: scheduler,
		Timeout:   cfg.TypingTimeout,
		Logger:    logger,
	})
	h.calls = call.New(ctx, call.Config{
		Sessions:    h.registry,
		Sender:      h,
		Scheduler:   scheduler,
		RingTimeout: cfg.RingTimeout,
		Logger:      logger,
	})
	h.router = broadcast.New(h.rooms, h, logger)

	return h
}

// Run executes queued operations until ctx is cancelled. On return every
// session outbox is closed.
func (h *Hub) Run(ctx context.Context) error {
	h.logger.Info("hub started")
	defer close(h.done)
	for {
		select {
		case op := <-h.ops:
			op()
		case <-ctx.Done():
			h.shutdown()
			h.logger.Info("hub stopped")
			return nil
		}
	}
}

func (h *Hub) shutdown() {
	for id, out := range h.outboxes {
		close(out)
		delete(h.outboxes, id)
	}
	metrics.Sessions.Set(0)
	metrics.OnlineUsers.Set(0)
}

// do runs fn on the loop and waits for it to finish.
func (h *Hub) do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	op := func() {
		defer close(finished)
		fn()
	}

	select {
	case h.ops <- op:
	case <-h.done:
		return ErrHubClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-finished:
		return nil
	case <-h.done:
		return ErrHubClosed
	}
}

// Connect opens a session for an authenticated user and returns its id and
// outbox. The outbox is closed when the session is disconnected or the hub
// stops.
func (h *Hub) Connect(ctx context.Context, userID string) (string, <-chan models.ServerEvent, error) {
	sessionID := uuid.NewString()
	out := make(chan models.ServerEvent, h.outboxSize)

	err := h.do(ctx, func() {
		h.outboxes[sessionID] = out
		transitions := h.registry.Register(sessionID, userID)
		metrics.Sessions.Set(float64(len(h.outboxes)))
		h.logger.Info("session connected", "session_id", sessionID, "user_id", userID)
		h.applyTransitions(context.WithoutCancel(ctx), transitions)
	})
	if err != nil {
		return "", nil, err
	}
	return sessionID, out, nil
}

// Disconnect tears a session down: room rows, typing entries the session
// owns, its outbox and registry entry. A user losing their last session
// abandons their calls and goes offline. Unknown sessions are a no-op.
func (h *Hub) Disconnect(ctx context.Context, sessionID string) error {
	return h.do(ctx, func() {
		h.disconnect(context.WithoutCancel(ctx), sessionID)
	})
}

func (h *Hub) disconnect(ctx context.Context, sessionID string) {
	out, ok := h.outboxes[sessionID]
	if !ok {
		return
	}

	h.rooms.LeaveAll(sessionID)
	h.typing.DropSession(sessionID)
	close(out)
	delete(h.outboxes, sessionID)

	userID, offline := h.registry.Unregister(sessionID)
	metrics.Sessions.Set(float64(len(h.outboxes)))
	h.logger.Info("session disconnected", "session_id", sessionID, "user_id", userID)

	if offline {
		h.applyTransitions(ctx, []registry.Transition{{UserID: userID, Online: false}})
	}
}

// applyTransitions ends the calls of users going offline before the
// presence change is announced.
func (h *Hub) applyTransitions(ctx context.Context, transitions []registry.Transition) {
	for _, tr := range transitions {
		if !tr.Online {
			h.calls.Abandon(tr.UserID)
		}
	}
	h.presence.Apply(ctx, transitions)
}

// Dispatch handles one inbound event from sessionID. Handler failures are
// logged, never returned; the only error is a stopped hub.
func (h *Hub) Dispatch(ctx context.Context, sessionID string, ev models.ClientEvent) error {
	return h.do(ctx, func() {
		h.handle(ctx, sessionID, ev)
	})
}

// OnlineUsers returns the current presence snapshot.
func (h *Hub) OnlineUsers(ctx context.Context) ([]models.User, error) {
	var users []models.User
	err := h.do(ctx, func() {
		users = h.presence.Snapshot(ctx)
	})
	return users, err
}

// ActiveCall returns the non-terminal call of chatID, if any.
func (h *Hub) ActiveCall(ctx context.Context, chatID string) (models.CallSession, bool, error) {
	var (
		cs models.CallSession
		ok bool
	)
	err := h.do(ctx, func() {
		cs, ok = h.calls.ActiveInChat(chatID)
	})
	return cs, ok, err
}

// Send implements fanout.Sender. It must only be called on the loop.
func (h *Hub) Send(sessionID string, ev models.ServerEvent) {
	out, ok := h.outboxes[sessionID]
	if !ok {
		metrics.EventsDropped.WithLabelValues("gone").Inc()
		return
	}
	select {
	case out <- ev:
		metrics.EventsSent.WithLabelValues(string(ev.Type)).Inc()
	default:
		metrics.EventsDropped.WithLabelValues("full").Inc()
		h.logger.Warn("outbox full, event dropped", "session_id", sessionID, "event", ev.Type)
	}
}

func (h *Hub) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), h.timeout)
}
