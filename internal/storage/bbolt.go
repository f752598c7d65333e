package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"veche/internal/content"
	"veche/internal/models"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"
)

var (
	ErrNotFound  = models.ErrNotFound
	ErrForbidden = errors.New("forbidden")
	ErrInvalid   = errors.New("invalid input")
)

var (
	bucketUsers    = []byte("users")
	bucketMessages = []byte("messages")
)

type BboltStorage struct {
	db  *bbolt.DB
	now func() time.Time
}

func NewBboltStorage(path string) (*BboltStorage, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bbolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketUsers); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists(bucketMessages); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	return &BboltStorage{db: db, now: time.Now}, nil
}

func (s *BboltStorage) Close() error {
	return s.db.Close()
}

// UpsertUser stores profile fields of a user. Presence fields of an
// existing record are kept.
func (s *BboltStorage) UpsertUser(ctx context.Context, user models.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketUsers)
		dbUser := DBUser{ID: user.ID}
		if data := b.Get([]byte(user.ID)); data != nil {
			if err := dbUser.UnmarshalBinary(data); err != nil {
				return fmt.Errorf("failed to unmarshal user: %w", err)
			}
		}
		dbUser.DisplayName = user.DisplayName
		dbUser.AvatarURL = user.AvatarURL
		return put(b, &dbUser)
	})
}

// GetUser returns a user by id or ErrNotFound.
func (s *BboltStorage) GetUser(ctx context.Context, id string) (models.User, error) {
	if err := ctx.Err(); err != nil {
		return models.User{}, err
	}
	var dbUser DBUser
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketUsers).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("user %s: %w", id, ErrNotFound)
		}
		return dbUser.UnmarshalBinary(data)
	})
	if err != nil {
		return models.User{}, err
	}
	return dbUser.toModel(), nil
}

// SetOnline persists the online flag. Unknown users get a record with
// their id as display name.
func (s *BboltStorage) SetOnline(ctx context.Context, userID string, online bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketUsers)
		dbUser := DBUser{ID: userID, DisplayName: userID}
		if data := b.Get([]byte(userID)); data != nil {
			if err := dbUser.UnmarshalBinary(data); err != nil {
				return fmt.Errorf("failed to unmarshal user: %w", err)
			}
		}
		dbUser.Online = online
		dbUser.LastSeen = s.now().Unix()
		return put(b, &dbUser)
	})
}

// ListOnline returns users flagged online, sorted by display name.
func (s *BboltStorage) ListOnline(ctx context.Context) ([]models.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var users []models.User
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketUsers).ForEach(func(k, v []byte) error {
			var dbUser DBUser
			if err := dbUser.UnmarshalBinary(v); err != nil {
				return err
			}
			if dbUser.Online {
				users = append(users, dbUser.toModel())
			}
			return nil
		})
	})
	sort.Slice(users, func(i, j int) bool {
		return users[i].DisplayName < users[j].DisplayName
	})
	return users, err
}

// ResetOnline clears every online flag. Presence is process-local, so
// flags left over from a previous run are stale at startup.
func (s *BboltStorage) ResetOnline(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketUsers)
		var stale []DBUser
		err := b.ForEach(func(k, v []byte) error {
			var dbUser DBUser
			if err := dbUser.UnmarshalBinary(v); err != nil {
				return err
			}
			if dbUser.Online {
				stale = append(stale, dbUser)
			}
			return nil
		})
		if err != nil {
			return err
		}
		for i := range stale {
			stale[i].Online = false
			if err := put(b, &stale[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

// CreateMessage persists a new message from senderID.
func (s *BboltStorage) CreateMessage(ctx context.Context, senderID string, draft models.MessageDraft) (models.Message, error) {
	if err := ctx.Err(); err != nil {
		return models.Message{}, err
	}
	if draft.Chat == "" {
		return models.Message{}, fmt.Errorf("%w: message missing chat", ErrInvalid)
	}
	body := content.Sanitize(draft.Content)
	if strings.TrimSpace(body) == "" && len(draft.Attachments) == 0 {
		return models.Message{}, fmt.Errorf("%w: empty message", ErrInvalid)
	}
	html, err := content.Render(body)
	if err != nil {
		return models.Message{}, err
	}

	dbMessage := DBMessage{
		ID:        uuid.NewString(),
		ChatID:    draft.Chat.String(),
		SenderID:  senderID,
		Content:   body,
		HTML:      html,
		CreatedAt: s.now().UnixNano(),
	}
	if len(draft.Attachments) > 0 {
		dbMessage.Attachments = make([]DBAttachment, len(draft.Attachments))
		for i, a := range draft.Attachments {
			dbMessage.Attachments[i] = DBAttachment{
				Type:     string(a.Type),
				Name:     a.Name,
				MimeType: a.MimeType,
				FileID:   a.FileID,
			}
		}
	}

	err = s.db.Update(func(tx *bbolt.Tx) error {
		return put(tx.Bucket(bucketMessages), &dbMessage)
	})
	if err != nil {
		return models.Message{}, fmt.Errorf("failed to put message: %w", err)
	}
	return dbMessage.toModel(), nil
}

// GetMessage returns a message by id or ErrNotFound.
func (s *BboltStorage) GetMessage(ctx context.Context, messageID string) (models.Message, error) {
	if err := ctx.Err(); err != nil {
		return models.Message{}, err
	}
	var dbMessage DBMessage
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketMessages).Get([]byte(messageID))
		if data == nil {
			return fmt.Errorf("message %s: %w", messageID, ErrNotFound)
		}
		return dbMessage.UnmarshalBinary(data)
	})
	if err != nil {
		return models.Message{}, err
	}
	return dbMessage.toModel(), nil
}

// EditMessage replaces the content of a message. Only the sender may edit.
func (s *BboltStorage) EditMessage(ctx context.Context, userID, messageID, body string) (models.Message, error) {
	body = content.Sanitize(body)
	if strings.TrimSpace(body) == "" {
		return models.Message{}, fmt.Errorf("%w: empty message", ErrInvalid)
	}
	html, err := content.Render(body)
	if err != nil {
		return models.Message{}, err
	}
	return s.updateMessage(ctx, messageID, func(m *DBMessage) error {
		if m.SenderID != userID {
			return fmt.Errorf("%w: only the sender may edit", ErrForbidden)
		}
		m.Content = body
		m.HTML = html
		m.EditedAt = s.now().UnixNano()
		return nil
	})
}

// DeleteMessage removes a message and returns it as it was. Only the
// sender may delete.
func (s *BboltStorage) DeleteMessage(ctx context.Context, userID, messageID string) (models.Message, error) {
	if err := ctx.Err(); err != nil {
		return models.Message{}, err
	}
	var dbMessage DBMessage
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketMessages)
		data := b.Get([]byte(messageID))
		if data == nil {
			return fmt.Errorf("message %s: %w", messageID, ErrNotFound)
		}
		if err := dbMessage.UnmarshalBinary(data); err != nil {
			return fmt.Errorf("failed to unmarshal message: %w", err)
		}
		if dbMessage.SenderID != userID {
			return fmt.Errorf("%w: only the sender may delete", ErrForbidden)
		}
		return b.Delete([]byte(messageID))
	})
	if err != nil {
		return models.Message{}, err
	}
	return dbMessage.toModel(), nil
}

// ToggleReaction adds userID's emoji reaction or removes it if present.
func (s *BboltStorage) ToggleReaction(ctx context.Context, userID, messageID, emoji string) (models.Message, error) {
	if emoji == "" {
		return models.Message{}, fmt.Errorf("%w: empty emoji", ErrInvalid)
	}
	return s.updateMessage(ctx, messageID, func(m *DBMessage) error {
		if m.Reactions == nil {
			m.Reactions = make(map[string][]string)
		}
		users, removed := without(m.Reactions[emoji], userID)
		if !removed {
			users = append(users, userID)
		}
		if len(users) == 0 {
			delete(m.Reactions, emoji)
		} else {
			m.Reactions[emoji] = users
		}
		return nil
	})
}

// TogglePin flips the pinned flag of a message.
func (s *BboltStorage) TogglePin(ctx context.Context, userID, messageID string) (models.Message, error) {
	return s.updateMessage(ctx, messageID, func(m *DBMessage) error {
		m.Pinned = !m.Pinned
		return nil
	})
}

// MarkRead records that userID has read a message. Repeated reads are
// idempotent.
func (s *BboltStorage) MarkRead(ctx context.Context, userID, messageID string) (models.Message, error) {
	return s.updateMessage(ctx, messageID, func(m *DBMessage) error {
		for _, id := range m.ReadBy {
			if id == userID {
				return nil
			}
		}
		m.ReadBy = append(m.ReadBy, userID)
		return nil
	})
}

func (s *BboltStorage) updateMessage(ctx context.Context, messageID string, fn func(*DBMessage) error) (models.Message, error) {
	if err := ctx.Err(); err != nil {
		return models.Message{}, err
	}
	var dbMessage DBMessage
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketMessages)
		data := b.Get([]byte(messageID))
		if data == nil {
			return fmt.Errorf("message %s: %w", messageID, ErrNotFound)
		}
		if err := dbMessage.UnmarshalBinary(data); err != nil {
			return fmt.Errorf("failed to unmarshal message: %w", err)
		}
		if err := fn(&dbMessage); err != nil {
			return err
		}
		return put(b, &dbMessage)
	})
	if err != nil {
		return models.Message{}, err
	}
	return dbMessage.toModel(), nil
}

func put(b *bbolt.Bucket, v Storeable) error {
	data, err := v.MarshalBinary()
	if err != nil {
		return err
	}
	return b.Put(v.Key(), data)
}

func without(ids []string, id string) ([]string, bool) {
	out := ids[:0:0]
	removed := false
	for _, v := range ids {
		if v == id {
			removed = true
			continue
		}
		out = append(out, v)
	}
	return out, removed
}
