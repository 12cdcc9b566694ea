// Package store defines the persistence contracts the chat core consumes.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/wuwenbin0122/lumina/internal/models"
)

var (
	ErrNotFound               = errors.New("store: not found")
	ErrConversationNotFound   = errors.New("store: conversation not found")
	ErrConversationIDRequired = errors.New("store: conversation id is required")
	ErrUserIDRequired         = errors.New("store: user id is required")
	ErrInvalidRole            = errors.New("store: role must be user or assistant")
	ErrInvalidContentKind     = errors.New("store: content kind must be text or image")
)

// ConversationStore persists conversation headers.
type ConversationStore interface {
	CreateConversation(ctx context.Context, userID, title string) (*models.Conversation, error)
	GetConversation(ctx context.Context, id string) (*models.Conversation, error)
	// ListConversations returns the user's conversations, most recently updated first.
	ListConversations(ctx context.Context, userID string) ([]models.Conversation, error)
}

// MessageStore is append-only from the chat core's point of view.
type MessageStore interface {
	// ListMessages returns the transcript ordered by creation time, oldest first.
	ListMessages(ctx context.Context, conversationID string) ([]models.Message, error)
	AppendMessage(ctx context.Context, rec models.NewMessage) (*models.Message, error)
}

type Store interface {
	ConversationStore
	MessageStore
}

// ValidateNewMessage checks the fields every driver requires before a write.
func ValidateNewMessage(rec models.NewMessage) error {
	if strings.TrimSpace(rec.ConversationID) == "" {
		return ErrConversationIDRequired
	}
	if !rec.Role.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidRole, rec.Role)
	}
	if !rec.ContentKind.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidContentKind, rec.ContentKind)
	}
	return nil
}
