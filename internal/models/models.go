package models

import (
	"fmt"
	"strings"
	"time"
)

type User struct {
	ID         int64     `json:"id" db:"id"`
	Username   string    `json:"username" db:"username"`
	Email      string    `json:"email,omitempty" db:"email"`
	Password   string    `json:"-" db:"password"`
	Online     bool      `json:"online" db:"online"`
	LastActive time.Time `json:"last_active" db:"last_active"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

type MessageType string

const (
	MessageText  MessageType = "text"
	MessageImage MessageType = "image"
	MessageVideo MessageType = "video"
	MessageVoice MessageType = "voice"
	MessageFile  MessageType = "file"
)

func (t MessageType) Valid() bool {
	switch t {
	case MessageText, MessageImage, MessageVideo, MessageVoice, MessageFile:
		return true
	}
	return false
}

// Message is a persisted direct or group message. Exactly one of
// RecipientID and GroupID is set.
type Message struct {
	ID          int64       `json:"id" db:"id"`
	SenderID    int64       `json:"sender_id" db:"sender_id"`
	RecipientID *int64      `json:"recipient_id,omitempty" db:"recipient_id"`
	GroupID     *int64      `json:"group_id,omitempty" db:"group_id"`
	Content     string      `json:"content" db:"content"`
	MessageType MessageType `json:"message_type" db:"message_type"`
	MediaURL    string      `json:"media_url,omitempty" db:"media_url"`
	Read        bool        `json:"read" db:"read"`
	Seen        bool        `json:"seen" db:"seen"`
	CreatedAt   time.Time   `json:"created_at" db:"created_at"`
}

// Validate checks the payload rules applied before a message is stored.
func (m *Message) Validate() error {
	if m.SenderID == 0 {
		return fmt.Errorf("%w: missing sender", ErrInvalidMessage)
	}
	if (m.RecipientID == nil) == (m.GroupID == nil) {
		return fmt.Errorf("%w: exactly one of recipient or group is required", ErrInvalidMessage)
	}
	if m.MessageType == "" {
		m.MessageType = MessageText
	}
	if !m.MessageType.Valid() {
		return fmt.Errorf("%w: unknown message type %q", ErrInvalidMessage, m.MessageType)
	}
	if m.MessageType == MessageText {
		if strings.TrimSpace(m.Content) == "" {
			return fmt.Errorf("%w: empty content", ErrInvalidMessage)
		}
		if m.MediaURL != "" {
			return fmt.Errorf("%w: text messages carry no media", ErrInvalidMessage)
		}
		return nil
	}
	if m.MediaURL == "" {
		return fmt.Errorf("%w: %s message requires media_url", ErrInvalidMessage, m.MessageType)
	}
	return nil
}

// IsDirect reports whether the message was sent to a single user.
func (m *Message) IsDirect() bool { return m.RecipientID != nil }

type Group struct {
	ID        int64     `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	OwnerID   int64     `json:"owner_id" db:"owner_id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
