package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound = errors.New("not found")
)

// User represents a user in the system.
type User struct {
	ID          string   `json:"id"`
	DisplayName string   `json:"displayName"`
	AvatarURL   string   `json:"avatarUrl,omitempty"`
	Presence    Presence `json:"presence"`
}

// Presence represents the online status of a user.
type Presence struct {
	Online   bool  `json:"online"`
	LastSeen int64 `json:"lastSeen"` // Unix timestamp (seconds)
}

// Session is one live client connection owned by exactly one user.
type Session struct {
	ID          string    `json:"id"`
	UserID      string    `json:"userId"`
	ConnectedAt time.Time `json:"connectedAt"`
}

// ChatRef is a chat reference that arrives either as a bare id string
// or as a populated chat object. Both forms decode to the same id.
type ChatRef string

func (c ChatRef) String() string {
	return string(c)
}

func (c *ChatRef) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*c = ""
		return nil
	}

	if data[0] == '"' {
		var id string
		if err := json.Unmarshal(data, &id); err != nil {
			return err
		}
		*c = ChatRef(id)
		return nil
	}

	var obj struct {
		MongoID string `json:"_id"`
		ID      string `json:"id"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("chat reference must be an id or an object: %w", err)
	}
	if obj.MongoID != "" {
		*c = ChatRef(obj.MongoID)
	} else {
		*c = ChatRef(obj.ID)
	}
	return nil
}

// Message represents a persisted chat message.
type Message struct {
	ID          string              `json:"id"`
	Chat        ChatRef             `json:"chat"`
	SenderID    string              `json:"senderId"`
	Content     string              `json:"content"`
	HTML        string              `json:"html,omitempty"`
	Attachments []Attachment        `json:"attachments,omitempty"`
	Reactions   map[string][]string `json:"reactions,omitempty"` // emoji -> user ids
	Pinned      bool                `json:"pinned"`
	ReadBy      []string            `json:"readBy,omitempty"`
	CreatedAt   time.Time           `json:"createdAt"`
	EditedAt    *time.Time          `json:"editedAt,omitempty"`
}

// ChatID returns the normalised chat id of the message.
func (m Message) ChatID() string {
	return m.Chat.String()
}

// MessageDraft is the client-supplied part of a new message.
type MessageDraft struct {
	Chat        ChatRef      `json:"chat"`
	Content     string       `json:"content"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

type AttachmentType string

const (
	AttachmentTypeImage AttachmentType = "image"
	AttachmentTypeFile  AttachmentType = "file"
)

type Attachment struct {
	Type     AttachmentType `json:"type"`
	Name     string         `json:"name"`
	MimeType string         `json:"mimeType"`
	FileID   string         `json:"fileId"`
}

type CallType string

const (
	CallTypeAudio CallType = "audio"
	CallTypeVideo CallType = "video"
)

func (t CallType) Valid() bool {
	return t == CallTypeAudio || t == CallTypeVideo
}

type CallStatus string

const (
	CallStatusRinging  CallStatus = "ringing"
	CallStatusOngoing  CallStatus = "ongoing"
	CallStatusRejected CallStatus = "rejected"
	CallStatusEnded    CallStatus = "ended"
)

// Terminal reports whether no further transition is legal.
func (s CallStatus) Terminal() bool {
	return s == CallStatusRejected || s == CallStatusEnded
}

// CallSession is the record of one audio/video call attempt within a chat.
type CallSession struct {
	ID           string     `json:"callId"`
	ChatID       string     `json:"chatId"`
	Participants []string   `json:"participants"`
	InitiatorID  string     `json:"initiatorId"`
	CallType     CallType   `json:"callType"`
	Status       CallStatus `json:"status"`
	StartTime    time.Time  `json:"startTime"`
	EndTime      *time.Time `json:"endTime,omitempty"`
}

// HasParticipant reports whether userID is part of the call.
func (c CallSession) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p == userID {
			return true
		}
	}
	return false
}
