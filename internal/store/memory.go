package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wuwenbin0122/lumina/internal/models"
)

// MemoryStore keeps conversations and messages in process. It mirrors the
// ordering of the SQL drivers: messages by creation time, conversations by
// last update descending.
type MemoryStore struct {
	mu            sync.RWMutex
	now           func() time.Time
	last          time.Time
	conversations map[string]*models.Conversation
	messages      map[string][]models.Message
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{
		now:           now,
		conversations: map[string]*models.Conversation{},
		messages:      map[string][]models.Message{},
	}
}

// tickLocked returns a timestamp strictly after every earlier one.
func (s *MemoryStore) tickLocked() time.Time {
	ts := s.now().UTC()
	if !ts.After(s.last) {
		ts = s.last.Add(time.Microsecond)
	}
	s.last = ts
	return ts
}

func (s *MemoryStore) CreateConversation(_ context.Context, userID, title string) (*models.Conversation, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, ErrUserIDRequired
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ts := s.tickLocked()
	conv := &models.Conversation{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     title,
		CreatedAt: ts,
		UpdatedAt: ts,
	}
	s.conversations[conv.ID] = conv

	out := *conv
	return &out, nil
}

func (s *MemoryStore) GetConversation(_ context.Context, id string) (*models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *conv
	return &out, nil
}

func (s *MemoryStore) ListConversations(_ context.Context, userID string) ([]models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := make([]models.Conversation, 0)
	for _, conv := range s.conversations {
		if conv.UserID == userID {
			list = append(list, *conv)
		}
	}
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].UpdatedAt.Equal(list[j].UpdatedAt) {
			return list[i].ID < list[j].ID
		}
		return list[i].UpdatedAt.After(list[j].UpdatedAt)
	})
	return list, nil
}

func (s *MemoryStore) ListMessages(_ context.Context, conversationID string) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := s.messages[conversationID]
	out := make([]models.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (s *MemoryStore) AppendMessage(_ context.Context, rec models.NewMessage) (*models.Message, error) {
	if err := ValidateNewMessage(rec); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[rec.ConversationID]
	if !ok {
		return nil, ErrConversationNotFound
	}

	ts := s.tickLocked()
	msg := models.Message{
		ID:             uuid.NewString(),
		ConversationID: rec.ConversationID,
		UserID:         rec.UserID,
		Role:           rec.Role,
		ContentKind:    rec.ContentKind,
		Content:        rec.Content,
		CreatedAt:      ts,
	}
	s.messages[rec.ConversationID] = append(s.messages[rec.ConversationID], msg)
	conv.UpdatedAt = ts

	return &msg, nil
}
