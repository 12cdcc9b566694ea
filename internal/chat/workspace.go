package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/wuwenbin0122/lumina/internal/entitlement"
	"github.com/wuwenbin0122/lumina/internal/models"
	"github.com/wuwenbin0122/lumina/internal/store"
	"github.com/wuwenbin0122/lumina/internal/utils"
)

// SubscriptionSource resolves a user's subscription. Current may return a
// placeholder record together with an error.
type SubscriptionSource interface {
	Current(ctx context.Context, userID string) (*models.Subscription, error)
	Refresh(ctx context.Context, userID string) (*models.Subscription, error)
}

// Deps are the collaborators shared by every workspace.
type Deps struct {
	Store         store.Store
	Generator     Generator
	Subscriptions SubscriptionSource
	Evaluator     *entitlement.Evaluator
	Notifier      Notifier
	Logger        *zap.SugaredLogger
	Now           func() time.Time
}

func (d Deps) withDefaults() Deps {
	if d.Notifier == nil {
		d.Notifier = NopNotifier{}
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Evaluator == nil {
		d.Evaluator = entitlement.NewEvaluator(d.Now)
	}
	d.Logger = utils.SugarOrNop(d.Logger)
	return d
}

// View is what the presentation layer renders for a user.
type View struct {
	ActiveConversationID string                  `json:"active_conversation_id"`
	Messages             []Entry                 `json:"messages"`
	IsLoading            bool                    `json:"is_loading"`
	State                State                   `json:"state"`
	Conversations        []models.Conversation   `json:"conversations"`
	Subscription         models.SubscriptionView `json:"subscription"`
}

// Workspace holds one user's active conversation, conversation list and
// subscription snapshot. Only the active session's transcript lives in memory.
type Workspace struct {
	user  models.CurrentUser
	deps  Deps
	list  *ConversationList
	subs  atomic.Pointer[models.Subscription]
	clock func() time.Time

	mu            sync.Mutex
	session       *Session
	conversations []models.Conversation
}

func NewWorkspace(user models.CurrentUser, deps Deps) *Workspace {
	deps = deps.withDefaults()
	w := &Workspace{
		user:          user,
		deps:          deps,
		list:          NewConversationList(deps.Store, deps.Generator, deps.Notifier, deps.Logger),
		clock:         deps.Now,
		conversations: []models.Conversation{},
	}
	w.session = w.newSession("")
	return w
}

// Start loads the subscription snapshot and the conversation list.
func (w *Workspace) Start(ctx context.Context) error {
	var subErr error
	if w.deps.Subscriptions != nil {
		var sub *models.Subscription
		sub, subErr = w.deps.Subscriptions.Current(ctx, w.user.ID)
		w.SetSubscription(sub)
	}
	_, listErr := w.RefreshConversations(ctx)
	return errors.Join(subErr, listErr)
}

func (w *Workspace) User() models.CurrentUser {
	return w.user
}

// Subscription returns the current snapshot, or nil before the first load.
func (w *Workspace) Subscription() *models.Subscription {
	return w.subs.Load()
}

// RefreshSubscription re-reads the subscription and swaps the snapshot. A turn
// already past its entitlement check is unaffected.
func (w *Workspace) RefreshSubscription(ctx context.Context) (*models.Subscription, error) {
	if w.deps.Subscriptions == nil {
		return nil, nil
	}
	sub, err := w.deps.Subscriptions.Refresh(ctx, w.user.ID)
	if sub != nil {
		w.subs.Store(sub)
	}
	if err != nil {
		w.deps.Logger.Warnw("subscription refresh failed", "user_id", w.user.ID, "error", err)
		return sub, fmt.Errorf("refresh subscription: %w", err)
	}
	return sub, nil
}

// SetSubscription installs a snapshot produced elsewhere, such as a billing replacement.
func (w *Workspace) SetSubscription(sub *models.Subscription) {
	if sub != nil {
		w.subs.Store(sub)
	}
}

func (w *Workspace) RefreshConversations(ctx context.Context) ([]models.Conversation, error) {
	list, err := w.list.ListConversations(ctx, w.user.ID)

	w.mu.Lock()
	w.conversations = list
	w.mu.Unlock()

	return list, err
}

// NewChat clears the active conversation. The next submitted turn creates one.
func (w *Workspace) NewChat() {
	w.swap(w.newSession(""))
}

// SelectConversation switches the active conversation and rehydrates it from storage.
func (w *Workspace) SelectConversation(ctx context.Context, conversationID string) error {
	conv, err := w.deps.Store.GetConversation(ctx, conversationID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && conv.UserID != w.user.ID) {
		return ErrConversationNotFound
	}
	if err != nil {
		return persistenceFailure("Failed to load conversation", err)
	}

	next := w.newSession(conv.ID)
	w.swap(next)
	return next.Load(ctx)
}

// Submit runs a turn on the active session and refreshes the conversation list.
func (w *Workspace) Submit(ctx context.Context, input string) error {
	w.mu.Lock()
	session := w.session
	w.mu.Unlock()

	err := session.Submit(ctx, input)
	if KindOf(err) != FailureValidation && !errors.Is(err, ErrSessionClosed) {
		_, _ = w.RefreshConversations(ctx)
	}
	return err
}

func (w *Workspace) ActiveSession() *Session {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.session
}

func (w *Workspace) View() View {
	w.mu.Lock()
	session := w.session
	conversations := make([]models.Conversation, len(w.conversations))
	copy(conversations, w.conversations)
	w.mu.Unlock()

	snap := session.Snapshot()
	return View{
		ActiveConversationID: snap.ConversationID,
		Messages:             snap.Entries,
		IsLoading:            snap.IsLoading,
		State:                snap.State,
		Conversations:        conversations,
		Subscription:         w.Subscription().View(w.clock()),
	}
}

// Close detaches the active session.
func (w *Workspace) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.session.Close()
}

func (w *Workspace) swap(next *Session) {
	w.mu.Lock()
	prev := w.session
	w.session = next
	w.mu.Unlock()

	if prev != nil {
		prev.Close()
	}
}

func (w *Workspace) newSession(conversationID string) *Session {
	return NewSession(SessionConfig{
		User:           w.user,
		ConversationID: conversationID,
		Messages:       w.deps.Store,
		Generator:      w.deps.Generator,
		Creator:        w.list,
		Subscription:   w.subs.Load,
		Entitlement:    w.deps.Evaluator,
		Notifier:       w.deps.Notifier,
		Logger:         w.deps.Logger.With("user_id", w.user.ID, "conversation_id", conversationID),
		Now:            w.deps.Now,
	})
}
