package chat

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/wuwenbin0122/lumina/internal/completion"
	"github.com/wuwenbin0122/lumina/internal/models"
	"github.com/wuwenbin0122/lumina/internal/store"
	"github.com/wuwenbin0122/lumina/internal/utils"
)

const fallbackTitleRunes = 30

var quoteStripper = strings.NewReplacer(`"`, "", "'", "")

type TitleGenerator interface {
	GenerateText(ctx context.Context, prompt string, history []completion.Message) (string, error)
}

// TitlePrompt is the summarization instruction sent for a new conversation.
func TitlePrompt(seed string) string {
	return fmt.Sprintf("Generate a very short, concise title (max 5 words) for the following conversation starter: \"%s\"", seed)
}

// FallbackTitle is the first 30 characters of seed followed by an ellipsis.
func FallbackTitle(seed string) string {
	runes := []rune(seed)
	if len(runes) > fallbackTitleRunes {
		runes = runes[:fallbackTitleRunes]
	}
	return string(runes) + "..."
}

// ConversationList creates conversations and lists them by recency.
type ConversationList struct {
	store    store.ConversationStore
	titles   TitleGenerator
	notifier Notifier
	logger   *zap.SugaredLogger
}

func NewConversationList(conversations store.ConversationStore, titles TitleGenerator, notifier Notifier, logger *zap.SugaredLogger) *ConversationList {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &ConversationList{
		store:    conversations,
		titles:   titles,
		notifier: notifier,
		logger:   utils.SugarOrNop(logger),
	}
}

// CreateConversation persists a new conversation titled from seed. Title
// generation problems fall back to FallbackTitle and never block creation.
func (l *ConversationList) CreateConversation(ctx context.Context, userID, seed string) (*models.Conversation, error) {
	title := l.generateTitle(ctx, seed)

	conv, err := l.store.CreateConversation(ctx, userID, title)
	if err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}

	l.logger.Infow("conversation created", "user_id", userID, "conversation_id", conv.ID, "title", conv.Title)
	return conv, nil
}

// ListConversations returns the user's conversations, most recently updated
// first. On failure the list is empty and a notice is published.
func (l *ConversationList) ListConversations(ctx context.Context, userID string) ([]models.Conversation, error) {
	list, err := l.store.ListConversations(ctx, userID)
	if err != nil {
		f := persistenceFailure("Failed to load conversations", err)
		l.logger.Warnw("list conversations failed", "user_id", userID, "error", err)
		l.notifier.Notify(userID, f.Notice())
		return []models.Conversation{}, f
	}

	slices.SortStableFunc(list, func(a, b models.Conversation) int {
		return b.UpdatedAt.Compare(a.UpdatedAt)
	})
	return list, nil
}

func (l *ConversationList) generateTitle(ctx context.Context, seed string) string {
	if l.titles == nil {
		return FallbackTitle(seed)
	}

	generated, err := l.titles.GenerateText(ctx, TitlePrompt(seed), nil)
	if err != nil {
		l.logger.Warnw("title generation failed; using fallback", "error", err)
		return FallbackTitle(seed)
	}

	title := strings.TrimSpace(quoteStripper.Replace(generated))
	if title == "" {
		return FallbackTitle(seed)
	}
	return title
}
