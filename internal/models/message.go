package models

import "time"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r may be persisted. System messages never are.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

type ContentKind string

const (
	ContentText  ContentKind = "text"
	ContentImage ContentKind = "image"
)

func (k ContentKind) Valid() bool {
	return k == ContentText || k == ContentImage
}

// Message is one transcript entry. Content holds prose for text messages and the
// asset URI for image messages.
type Message struct {
	ID             string      `json:"id" db:"id"`
	ConversationID string      `json:"conversation_id" db:"conversation_id"`
	UserID         string      `json:"user_id" db:"user_id"`
	Role           Role        `json:"role" db:"role"`
	ContentKind    ContentKind `json:"content_type" db:"content_type"`
	Content        string      `json:"content" db:"content"`
	CreatedAt      time.Time   `json:"created_at" db:"created_at"`
}

// NewMessage is the append payload; storage assigns ID and CreatedAt.
type NewMessage struct {
	ConversationID string
	UserID         string
	Role           Role
	ContentKind    ContentKind
	Content        string
}
