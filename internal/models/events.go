package models

import (
	"bytes"
	"encoding/json"
	"time"
)

type EventType string

// Client -> server events.
const (
	EventUserOnline      EventType = "user-online"
	EventJoinChat        EventType = "join-chat"
	EventLeaveChat       EventType = "leave-chat"
	EventNewMessage      EventType = "new-message"
	EventEditMessage     EventType = "edit-message"
	EventPinMessage      EventType = "pin-message"
	EventMessageRead     EventType = "message-read"
	EventMessageReaction EventType = "message-reaction"
	EventDeleteMessage   EventType = "delete-message"
	EventTypingStart     EventType = "typing-start"
	EventTypingStop      EventType = "typing-stop"
	EventCallInitiate    EventType = "call-initiate"
	EventCallAccept      EventType = "call-accept"
	EventCallReject      EventType = "call-reject"
	EventCallSignal      EventType = "call-signal"
	EventCallEnd         EventType = "call-end"
)

// Server -> client events.
const (
	EventOnlineUsersUpdate  EventType = "online-users-update"
	EventMessageReceived    EventType = "message-received"
	EventMessageUpdated     EventType = "message-updated"
	EventMessageDeleted     EventType = "message-deleted"
	EventMessageReadUpdate  EventType = "message-read-update"
	EventTypingUpdate       EventType = "typing-update"
	EventCallIncoming       EventType = "call-incoming"
	EventCallStatusUpdate   EventType = "call-status-update"
	EventCallSignalReceived EventType = "call-signal-received"
	EventCallEnded          EventType = "call-ended"
)

// ClientEvent is a frame received from a client. Data is decoded lazily
// into the payload type matching Type.
type ClientEvent struct {
	Type EventType       `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// ServerEvent is a frame sent to a client.
type ServerEvent struct {
	Type EventType `json:"type"`
	Data any       `json:"data"`
}

// Inbound payloads.

type UserOnlinePayload struct {
	UserID string `json:"userId"`
	Token  string `json:"token,omitempty"`
}

type JoinChatPayload struct {
	ChatID string `json:"chatId"`
	User   *User  `json:"user,omitempty"`
}

type LeaveChatPayload struct {
	ChatID string `json:"chatId"`
}

// NewMessagePayload carries a draft either nested under "message" or inline.
type NewMessagePayload struct {
	Message MessageDraft `json:"message"`
}

func (p *NewMessagePayload) UnmarshalJSON(data []byte) error {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return err
	}
	if nested, ok := probe["message"]; ok && !bytes.Equal(bytes.TrimSpace(nested), []byte("null")) {
		return json.Unmarshal(nested, &p.Message)
	}
	return json.Unmarshal(data, &p.Message)
}

type EditMessagePayload struct {
	MessageID string `json:"messageId"`
	ChatID    string `json:"chatId"`
	Content   string `json:"content"`
}

type MessageRefPayload struct {
	MessageID string `json:"messageId"`
	ChatID    string `json:"chatId"`
}

type MessageReadPayload struct {
	MessageID string `json:"messageId"`
	ChatID    string `json:"chatId"`
	UserID    string `json:"userId"`
}

type MessageReactionPayload struct {
	MessageID string `json:"messageId"`
	ChatID    string `json:"chatId"`
	Emoji     string `json:"emoji"`
}

type TypingStartPayload struct {
	ChatID  string `json:"chatId"`
	UserID  string `json:"userId"`
	Name    string `json:"name"`
	Content string `json:"content,omitempty"`
}

type TypingStopPayload struct {
	ChatID string `json:"chatId"`
	UserID string `json:"userId"`
}

type CallInitiatePayload struct {
	ChatID       string   `json:"chatId"`
	CallType     CallType `json:"callType"`
	Participants []string `json:"participants"`
}

type CallRefPayload struct {
	CallID string `json:"callId"`
}

type CallSignalPayload struct {
	CallID       string          `json:"callId"`
	TargetUserID string          `json:"targetUserId"`
	Signal       json.RawMessage `json:"signal"`
}

// Outbound payloads.

type OnlineUsersUpdate struct {
	Users []User `json:"users"`
}

type MessageEnvelope struct {
	Message Message `json:"message"`
}

type MessageDeleted struct {
	MessageID string    `json:"messageId"`
	ChatID    string    `json:"chatId"`
	Timestamp time.Time `json:"timestamp"`
}

type MessageReadUpdate struct {
	MessageID string    `json:"messageId"`
	UserID    string    `json:"userId"`
	ChatID    string    `json:"chatId"`
	Timestamp time.Time `json:"timestamp"`
}

type TypingUpdate struct {
	ChatID   string `json:"chatId"`
	UserID   string `json:"userId"`
	Name     string `json:"name,omitempty"`
	IsTyping bool   `json:"isTyping"`
}

type CallIncoming struct {
	CallSession CallSession `json:"callSession"`
}

type CallStatusUpdate struct {
	CallID     string     `json:"callId"`
	Status     CallStatus `json:"status"`
	AcceptedBy string     `json:"acceptedBy,omitempty"`
}

type CallSignalReceived struct {
	CallID     string          `json:"callId"`
	FromUserID string          `json:"fromUserId"`
	Signal     json.RawMessage `json:"signal"`
}

type CallEnded struct {
	CallID     string     `json:"callId"`
	Status     CallStatus `json:"status"`
	EndedBy    string     `json:"endedBy,omitempty"`
	RejectedBy string     `json:"rejectedBy,omitempty"`
}
