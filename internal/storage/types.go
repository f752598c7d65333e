package storage

import (
	"encoding"
	"time"

	"veche/internal/models"

	"github.com/vmihailenco/msgpack/v5"
)

type Storeable interface {
	Key() []byte
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
}

type DBUser struct {
	ID          string `msgpack:"id"`
	DisplayName string `msgpack:"displayName"`
	AvatarURL   string `msgpack:"avatarUrl"`
	Online      bool   `msgpack:"online"`
	LastSeen    int64  `msgpack:"lastSeen"`
}

func (u *DBUser) Key() []byte {
	return []byte(u.ID)
}

func (u *DBUser) MarshalBinary() (data []byte, err error) {
	type alias DBUser
	return msgpack.Marshal((*alias)(u))
}

func (u *DBUser) UnmarshalBinary(data []byte) error {
	type alias DBUser
	return msgpack.Unmarshal(data, (*alias)(u))
}

func (u *DBUser) toModel() models.User {
	return models.User{
		ID:          u.ID,
		DisplayName: u.DisplayName,
		AvatarURL:   u.AvatarURL,
		Presence: models.Presence{
			Online:   u.Online,
			LastSeen: u.LastSeen,
		},
	}
}

type DBMessage struct {
	ID          string              `msgpack:"id"`
	ChatID      string              `msgpack:"chatId"`
	SenderID    string              `msgpack:"senderId"`
	Content     string              `msgpack:"content"`
	HTML        string              `msgpack:"html"`
	Attachments []DBAttachment      `msgpack:"attachments"`
	Reactions   map[string][]string `msgpack:"reactions"`
	Pinned      bool                `msgpack:"pinned"`
	ReadBy      []string            `msgpack:"readBy"`
	CreatedAt   int64               `msgpack:"createdAt"` // Unix nanoseconds
	EditedAt    int64               `msgpack:"editedAt"`  // Unix nanoseconds, 0 if never edited
}

type DBAttachment struct {
	Type     string `msgpack:"type"`
	Name     string `msgpack:"name"`
	MimeType string `msgpack:"mimeType"`
	FileID   string `msgpack:"fileId"`
}

func (m *DBMessage) Key() []byte {
	return []byte(m.ID)
}

func (m *DBMessage) MarshalBinary() (data []byte, err error) {
	type alias DBMessage
	return msgpack.Marshal((*alias)(m))
}

func (m *DBMessage) UnmarshalBinary(data []byte) error {
	type alias DBMessage
	return msgpack.Unmarshal(data, (*alias)(m))
}

func (m *DBMessage) toModel() models.Message {
	msg := models.Message{
		ID:        m.ID,
		Chat:      models.ChatRef(m.ChatID),
		SenderID:  m.SenderID,
		Content:   m.Content,
		HTML:      m.HTML,
		Pinned:    m.Pinned,
		CreatedAt: time.Unix(0, m.CreatedAt).UTC(),
	}
	if m.EditedAt != 0 {
		edited := time.Unix(0, m.EditedAt).UTC()
		msg.EditedAt = &edited
	}
	if len(m.Attachments) > 0 {
		msg.Attachments = make([]models.Attachment, len(m.Attachments))
		for i, a := range m.Attachments {
			msg.Attachments[i] = models.Attachment{
				Type:     models.AttachmentType(a.Type),
				Name:     a.Name,
				MimeType: a.MimeType,
				FileID:   a.FileID,
			}
		}
	}
	if len(m.Reactions) > 0 {
		msg.Reactions = make(map[string][]string, len(m.Reactions))
		for emoji, users := range m.Reactions {
			msg.Reactions[emoji] = append([]string(nil), users...)
		}
	}
	if len(m.ReadBy) > 0 {
		msg.ReadBy = append([]string(nil), m.ReadBy...)
	}
	return msg
}
