package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"veche/internal/call"
	"veche/internal/content"
	"veche/internal/metrics"
	"veche/internal/models"
)

func (h *Hub) handle(ctx context.Context, sessionID string, ev models.ClientEvent) {
	userID, ok := h.registry.UserOf(sessionID)
	if !ok {
		h.logger.Debug("event from unknown session", "session_id", sessionID, "event", ev.Type)
		return
	}

	handler, ok := h.handlerFor(ev.Type)
	if !ok {
		h.logger.Warn("unknown event", "session_id", sessionID, "event", ev.Type)
		return
	}

	start := time.Now()
	err := handler(ctx, sessionID, userID, ev.Data)
	metrics.HandlerLatency.WithLabelValues(string(ev.Type)).Observe(time.Since(start).Seconds())
	if err != nil {
		h.logHandlerError(sessionID, userID, ev.Type, err)
	}
}

type handlerFunc func(ctx context.Context, sessionID, userID string, data json.RawMessage) error

func (h *Hub) handlerFor(t models.EventType) (handlerFunc, bool) {
	switch t {
	case models.EventUserOnline:
		return h.handleUserOnline, true
	case models.EventJoinChat:
		return h.handleJoinChat, true
	case models.EventLeaveChat:
		return h.handleLeaveChat, true
	case models.EventNewMessage:
		return h.handleNewMessage, true
	case models.EventEditMessage:
		return h.handleEditMessage, true
	case models.EventPinMessage:
		return h.handlePinMessage, true
	case models.EventMessageReaction:
		return h.handleReaction, true
	case models.EventDeleteMessage:
		return h.handleDeleteMessage, true
	case models.EventMessageRead:
		return h.handleMessageRead, true
	case models.EventTypingStart:
		return h.handleTypingStart, true
	case models.EventTypingStop:
		return h.handleTypingStop, true
	case models.EventCallInitiate:
		return h.handleCallInitiate, true
	case models.EventCallAccept:
		return h.handleCallAccept, true
	case models.EventCallReject:
		return h.handleCallReject, true
	case models.EventCallEnd:
		return h.handleCallEnd, true
	case models.EventCallSignal:
		return h.handleCallSignal, true
	}
	return nil, false
}

// logHandlerError maps the error taxonomy to log levels: bad input is a
// warning, call races are expected and only debug, anything else is a
// collaborator failure.
func (h *Hub) logHandlerError(sessionID, userID string, t models.EventType, err error) {
	attrs := []any{"session_id", sessionID, "user_id", userID, "event", t, "error", err}
	switch {
	case errors.Is(err, ErrMalformed):
		h.logger.Warn("malformed event", attrs...)
	case errors.Is(err, call.ErrIllegalTransition),
		errors.Is(err, call.ErrCallNotFound),
		errors.Is(err, call.ErrNotParticipant),
		errors.Is(err, call.ErrCallActive),
		errors.Is(err, call.ErrInvalidCall):
		h.logger.Debug("call event ignored", attrs...)
	default:
		h.logger.Error("event handling failed", attrs...)
	}
}

func decode[T any](data json.RawMessage) (T, error) {
	var v T
	if len(data) == 0 {
		return v, fmt.Errorf("%w: missing payload", ErrMalformed)
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return v, nil
}

func required(fields ...string) error {
	for i := 0; i+1 < len(fields); i += 2 {
		if fields[i+1] == "" {
			return fmt.Errorf("%w: missing %s", ErrMalformed, fields[i])
		}
	}
	return nil
}

// handleUserOnline re-registers the session. A token moves the session to
// the token's user; without one the claimed id must be the session's own.
// A moved session starts with no rooms and no typing entries.
func (h *Hub) handleUserOnline(ctx context.Context, sessionID, userID string, data json.RawMessage) error {
	p, err := decode[models.UserOnlinePayload](data)
	if err != nil {
		return err
	}

	target := userID
	if p.Token != "" {
		if h.tokens == nil {
			return fmt.Errorf("%w: token re-registration is disabled", ErrMalformed)
		}
		target, err = h.tokens.UserID(p.Token)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrMalformed, err)
		}
	}
	if p.UserID != "" && p.UserID != target {
		return fmt.Errorf("%w: user %s does not own session", ErrMalformed, p.UserID)
	}
	if target == userID {
		return nil
	}

	h.rooms.LeaveAll(sessionID)
	h.typing.DropSession(sessionID)
	transitions := h.registry.Register(sessionID, target)
	h.logger.Info("session re-registered", "session_id", sessionID, "user_id", target, "previous_user_id", userID)
	h.applyTransitions(ctx, transitions)
	return nil
}

func (h *Hub) handleJoinChat(_ context.Context, sessionID, userID string, data json.RawMessage) error {
	p, err := decode[models.JoinChatPayload](data)
	if err != nil {
		return err
	}
	if err := required("chatId", p.ChatID); err != nil {
		return err
	}
	if h.rooms.Join(sessionID, p.ChatID) {
		h.logger.Debug("joined chat", "session_id", sessionID, "user_id", userID, "chat_id", p.ChatID)
	}
	return nil
}

func (h *Hub) handleLeaveChat(_ context.Context, sessionID, userID string, data json.RawMessage) error {
	p, err := decode[models.LeaveChatPayload](data)
	if err != nil {
		return err
	}
	if err := required("chatId", p.ChatID); err != nil {
		return err
	}
	if h.rooms.Leave(sessionID, p.ChatID) {
		h.logger.Debug("left chat", "session_id", sessionID, "user_id", userID, "chat_id", p.ChatID)
	}
	return nil
}

func (h *Hub) handleNewMessage(ctx context.Context, sessionID, userID string, data json.RawMessage) error {
	p, err := decode[models.NewMessagePayload](data)
	if err != nil {
		return err
	}
	if err := required("chat", p.Message.Chat.String()); err != nil {
		return err
	}

	cctx, cancel := h.callContext(ctx)
	msg, err := h.messages.CreateMessage(cctx, userID, p.Message)
	cancel()
	if err != nil {
		return fmt.Errorf("create message: %w", err)
	}

	h.typing.Stop(sessionID, msg.ChatID(), userID)
	h.router.BroadcastNew(sessionID, msg)
	return nil
}

func (h *Hub) handleEditMessage(ctx context.Context, _, userID string, data json.RawMessage) error {
	p, err := decode[models.EditMessagePayload](data)
	if err != nil {
		return err
	}
	if err := required("messageId", p.MessageID, "content", p.Content); err != nil {
		return err
	}

	cctx, cancel := h.callContext(ctx)
	msg, err := h.messages.EditMessage(cctx, userID, p.MessageID, p.Content)
	cancel()
	if err != nil {
		return fmt.Errorf("edit message: %w", err)
	}

	h.router.BroadcastUpdated(withChat(msg, p.ChatID))
	return nil
}

func (h *Hub) handlePinMessage(ctx context.Context, _, userID string, data json.RawMessage) error {
	p, err := decode[models.MessageRefPayload](data)
	if err != nil {
		return err
	}
	if err := required("messageId", p.MessageID); err != nil {
		return err
	}

	cctx, cancel := h.callContext(ctx)
	msg, err := h.messages.TogglePin(cctx, userID, p.MessageID)
	cancel()
	if err != nil {
		return fmt.Errorf("toggle pin: %w", err)
	}

	h.router.BroadcastUpdated(withChat(msg, p.ChatID))
	return nil
}

func (h *Hub) handleReaction(ctx context.Context, _, userID string, data json.RawMessage) error {
	p, err := decode[models.MessageReactionPayload](data)
	if err != nil {
		return err
	}
	if err := required("messageId", p.MessageID, "emoji", p.Emoji); err != nil {
		return err
	}

	cctx, cancel := h.callContext(ctx)
	msg, err := h.messages.ToggleReaction(cctx, userID, p.MessageID, p.Emoji)
	cancel()
	if err != nil {
		return fmt.Errorf("toggle reaction: %w", err)
	}

	h.router.BroadcastUpdated(withChat(msg, p.ChatID))
	return nil
}

func (h *Hub) handleDeleteMessage(ctx context.Context, _, userID string, data json.RawMessage) error {
	p, err := decode[models.MessageRefPayload](data)
	if err != nil {
		return err
	}
	if err := required("messageId", p.MessageID); err != nil {
		return err
	}

	cctx, cancel := h.callContext(ctx)
	msg, err := h.messages.DeleteMessage(cctx, userID, p.MessageID)
	cancel()
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}

	h.router.BroadcastDeleted(p.MessageID, withChat(msg, p.ChatID).ChatID())
	return nil
}

// handleMessageRead records the receipt for the session's user; the
// payload's userId is not trusted.
func (h *Hub) handleMessageRead(ctx context.Context, _, userID string, data json.RawMessage) error {
	p, err := decode[models.MessageReadPayload](data)
	if err != nil {
		return err
	}
	if err := required("messageId", p.MessageID); err != nil {
		return err
	}

	cctx, cancel := h.callContext(ctx)
	msg, err := h.messages.MarkRead(cctx, userID, p.MessageID)
	cancel()
	if err != nil {
		return fmt.Errorf("mark read: %w", err)
	}

	h.router.BroadcastReadReceipt(p.MessageID, withChat(msg, p.ChatID).ChatID(), userID)
	return nil
}

func (h *Hub) handleTypingStart(_ context.Context, sessionID, userID string, data json.RawMessage) error {
	p, err := decode[models.TypingStartPayload](data)
	if err != nil {
		return err
	}
	if err := required("chatId", p.ChatID); err != nil {
		return err
	}
	if p.UserID != "" && p.UserID != userID {
		return fmt.Errorf("%w: typing as %s", ErrMalformed, p.UserID)
	}

	h.typing.Start(sessionID, p.ChatID, userID, content.StripTags(p.Name))
	return nil
}

func (h *Hub) handleTypingStop(_ context.Context, sessionID, userID string, data json.RawMessage) error {
	p, err := decode[models.TypingStopPayload](data)
	if err != nil {
		return err
	}
	if err := required("chatId", p.ChatID); err != nil {
		return err
	}
	if p.UserID != "" && p.UserID != userID {
		return fmt.Errorf("%w: typing as %s", ErrMalformed, p.UserID)
	}

	h.typing.Stop(sessionID, p.ChatID, userID)
	return nil
}

func (h *Hub) handleCallInitiate(_ context.Context, _, userID string, data json.RawMessage) error {
	p, err := decode[models.CallInitiatePayload](data)
	if err != nil {
		return err
	}
	if err := required("chatId", p.ChatID); err != nil {
		return err
	}
	_, err = h.calls.Initiate(p.ChatID, userID, p.CallType, p.Participants)
	return err
}

func (h *Hub) handleCallAccept(_ context.Context, _, userID string, data json.RawMessage) error {
	p, err := decodeCallRef(data)
	if err != nil {
		return err
	}
	_, err = h.calls.Accept(p.CallID, userID)
	return err
}

func (h *Hub) handleCallReject(_ context.Context, _, userID string, data json.RawMessage) error {
	p, err := decodeCallRef(data)
	if err != nil {
		return err
	}
	_, err = h.calls.Reject(p.CallID, userID)
	return err
}

func (h *Hub) handleCallEnd(_ context.Context, _, userID string, data json.RawMessage) error {
	p, err := decodeCallRef(data)
	if err != nil {
		return err
	}
	_, err = h.calls.End(p.CallID, userID)
	return err
}

func (h *Hub) handleCallSignal(_ context.Context, _, userID string, data json.RawMessage) error {
	p, err := decode[models.CallSignalPayload](data)
	if err != nil {
		return err
	}
	if err := required("callId", p.CallID, "targetUserId", p.TargetUserID); err != nil {
		return err
	}
	return h.calls.Signal(p.CallID, userID, p.TargetUserID, p.Signal)
}

func decodeCallRef(data json.RawMessage) (models.CallRefPayload, error) {
	p, err := decode[models.CallRefPayload](data)
	if err != nil {
		return p, err
	}
	return p, required("callId", p.CallID)
}

// withChat fills in the chat from the event when the collaborator's answer
// lacks it.
func withChat(msg models.Message, chatID string) models.Message {
	if msg.ChatID() == "" {
		msg.Chat = models.ChatRef(chatID)
	}
	return msg
}
