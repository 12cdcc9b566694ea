// Package chat orchestrates chat turns: entitlement gating, optimistic
// transcript updates, generation dispatch and reconciliation with storage.
package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wuwenbin0122/lumina/internal/completion"
	"github.com/wuwenbin0122/lumina/internal/entitlement"
	"github.com/wuwenbin0122/lumina/internal/models"
	"github.com/wuwenbin0122/lumina/internal/store"
	"github.com/wuwenbin0122/lumina/internal/utils"
)

type State string

const (
	StateIdle               State = "idle"
	StateSubmitting         State = "submitting"
	StateAwaitingGeneration State = "awaiting_generation"
	StateReconciling        State = "reconciling"
)

// Phase marks whether an entry has been confirmed by storage.
type Phase string

const (
	PhaseTentative Phase = "tentative"
	PhaseConfirmed Phase = "confirmed"
)

// ProvisionalPrefix starts every locally assigned message id.
const ProvisionalPrefix = "local_"

type Entry struct {
	models.Message
	Phase Phase `json:"phase"`
	// ProvisionalID is kept on the confirmed entry that superseded a tentative one.
	ProvisionalID string `json:"provisional_id,omitempty"`
}

type Snapshot struct {
	ConversationID string  `json:"conversation_id"`
	Entries        []Entry `json:"messages"`
	State          State   `json:"state"`
	IsLoading      bool    `json:"is_loading"`
}

type Generator interface {
	GenerateText(ctx context.Context, prompt string, history []completion.Message) (string, error)
	GenerateImage(ctx context.Context, prompt string) (string, error)
}

type ConversationCreator interface {
	CreateConversation(ctx context.Context, userID, seed string) (*models.Conversation, error)
}

// Notifier receives everything the presentation layer should see.
type Notifier interface {
	Notify(userID string, notice Notice)
	PromptUpgrade(userID string)
	SessionUpdated(userID string, snap Snapshot)
}

type NopNotifier struct{}

func (NopNotifier) Notify(string, Notice) {}

func (NopNotifier) PromptUpgrade(string) {}

func (NopNotifier) SessionUpdated(string, Snapshot) {}

type SessionConfig struct {
	User           models.CurrentUser
	ConversationID string
	Messages       store.MessageStore
	Generator      Generator
	Creator        ConversationCreator
	// Subscription returns the snapshot current at the time of the call.
	Subscription func() *models.Subscription
	Entitlement  *entitlement.Evaluator
	Notifier     Notifier
	Logger       *zap.SugaredLogger
	Now          func() time.Time
}

// Session owns the in-memory transcript of one conversation and runs at most
// one turn at a time. A closed session never publishes again.
type Session struct {
	user         models.CurrentUser
	messages     store.MessageStore
	generator    Generator
	creator      ConversationCreator
	subscription func() *models.Subscription
	evaluator    *entitlement.Evaluator
	notifier     Notifier
	logger       *zap.SugaredLogger
	now          func() time.Time

	mu             sync.Mutex
	conversationID string
	state          State
	entries        []Entry
	provisional    map[string]string
	closed         bool
}

func NewSession(cfg SessionConfig) *Session {
	s := &Session{
		user:           cfg.User,
		messages:       cfg.Messages,
		generator:      cfg.Generator,
		creator:        cfg.Creator,
		subscription:   cfg.Subscription,
		evaluator:      cfg.Entitlement,
		notifier:       cfg.Notifier,
		logger:         utils.SugarOrNop(cfg.Logger),
		now:            cfg.Now,
		conversationID: cfg.ConversationID,
		state:          StateIdle,
		entries:        make([]Entry, 0),
		provisional:    make(map[string]string),
	}
	if s.subscription == nil {
		s.subscription = func() *models.Subscription { return nil }
	}
	if s.evaluator == nil {
		s.evaluator = entitlement.NewEvaluator(nil)
	}
	if s.notifier == nil {
		s.notifier = NopNotifier{}
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

func (s *Session) ConversationID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conversationID
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) IsLoading() bool {
	return s.State() != StateIdle
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// ResolveID maps a provisional id to the durable id that superseded it.
func (s *Session) ResolveID(provisionalID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for durable, pid := range s.provisional {
		if pid == provisionalID {
			return durable, true
		}
	}
	return "", false
}

// Close detaches the session. A turn still in flight keeps its network calls
// and writes but its results are no longer applied or published.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

// Load replaces the transcript with the stored one.
func (s *Session) Load(ctx context.Context) error {
	convID := s.ConversationID()
	if convID == "" {
		return nil
	}
	if err := s.reconcile(ctx, convID); err != nil {
		return err
	}
	s.publish()
	return nil
}

// Submit runs one user turn to completion. The returned error is a *Failure
// for validation, entitlement, generation and persistence problems, or
// ErrSessionClosed when the session was detached mid-turn.
func (s *Session) Submit(ctx context.Context, input string) error {
	content := strings.TrimSpace(input)
	if content == "" {
		return validationFailure(ErrEmptyInput)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.state != StateIdle {
		s.mu.Unlock()
		return &Failure{Kind: FailureValidation, Title: "Please wait", Description: "A reply is still being generated.", Err: ErrTurnInFlight}
	}
	s.state = StateSubmitting
	convID := s.conversationID
	s.mu.Unlock()
	defer s.finish()

	if convID == "" {
		conv, err := s.creator.CreateConversation(ctx, s.user.ID, content)
		if err != nil {
			f := persistenceFailure("Failed to create conversation", err)
			s.report(f)
			return f
		}
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return ErrSessionClosed
		}
		s.conversationID = conv.ID
		convID = conv.ID
		s.mu.Unlock()
	}

	s.mu.Lock()
	count := len(s.entries)
	s.mu.Unlock()
	if !s.evaluator.CanSendTurn(s.subscription(), count) {
		f := entitlementFailure()
		s.report(f)
		if !s.isClosed() {
			s.notifier.PromptUpgrade(s.user.ID)
		}
		return f
	}

	req := ParseInput(content)
	provisionalID := ProvisionalPrefix + uuid.NewString()

	s.mu.Lock()
	history := historyOf(s.entries)
	s.entries = append(s.entries, Entry{
		Message: models.Message{
			ID:             provisionalID,
			ConversationID: convID,
			UserID:         s.user.ID,
			Role:           models.RoleUser,
			ContentKind:    models.ContentText,
			Content:        content,
			CreatedAt:      s.now(),
		},
		Phase:         PhaseTentative,
		ProvisionalID: provisionalID,
	})
	s.state = StateAwaitingGeneration
	s.mu.Unlock()
	s.publish()

	var (
		g            errgroup.Group
		userWriteErr error
		reply        models.NewMessage
	)
	g.Go(func() error {
		stored, err := s.messages.AppendMessage(ctx, models.NewMessage{
			ConversationID: convID,
			UserID:         s.user.ID,
			Role:           models.RoleUser,
			ContentKind:    models.ContentText,
			Content:        content,
		})
		if err != nil {
			userWriteErr = err
			return nil
		}
		s.mu.Lock()
		s.provisional[stored.ID] = provisionalID
		s.mu.Unlock()
		return nil
	})
	g.Go(func() error {
		var err error
		reply, err = s.generate(ctx, convID, req, history)
		return err
	})
	genErr := g.Wait()

	if userWriteErr != nil {
		s.report(persistenceFailure("Error saving message", userWriteErr))
	}

	if genErr != nil {
		f := generationFailure(genErr)
		s.report(f)
		if err := s.reconcile(ctx, convID); errors.Is(err, ErrSessionClosed) {
			return err
		}
		return f
	}

	s.setState(StateReconciling)
	if _, err := s.messages.AppendMessage(ctx, reply); err != nil {
		f := persistenceFailure("Error saving message", err)
		s.report(f)
		if err := s.reconcile(ctx, convID); errors.Is(err, ErrSessionClosed) {
			return err
		}
		return f
	}

	return s.reconcile(ctx, convID)
}

func (s *Session) generate(ctx context.Context, convID string, req Request, history []completion.Message) (models.NewMessage, error) {
	reply := models.NewMessage{ConversationID: convID, UserID: s.user.ID, Role: models.RoleAssistant}
	switch req.Kind {
	case KindImage:
		uri, err := s.generator.GenerateImage(ctx, req.Prompt)
		if err != nil {
			return reply, err
		}
		reply.ContentKind = models.ContentImage
		reply.Content = uri
	default:
		text, err := s.generator.GenerateText(ctx, req.Prompt, history)
		if err != nil {
			return reply, err
		}
		reply.ContentKind = models.ContentText
		reply.Content = text
	}
	return reply, nil
}

// reconcile replaces the transcript with the stored copy. A stored message whose
// write was confirmed keeps the provisional id it superseded; tentative entries
// with no confirmed write are dropped.
func (s *Session) reconcile(ctx context.Context, convID string) error {
	stored, err := s.messages.ListMessages(ctx, convID)
	if err != nil {
		f := persistenceFailure("Failed to load messages", err)
		s.report(f)
		return f
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.conversationID != convID {
		return ErrSessionClosed
	}

	entries := make([]Entry, 0, len(stored))
	for _, msg := range stored {
		entry := Entry{Message: msg, Phase: PhaseConfirmed}
		if pid, ok := s.provisional[msg.ID]; ok {
			entry.ProvisionalID = pid
		}
		entries = append(entries, entry)
	}
	s.entries = entries
	return nil
}

func historyOf(entries []Entry) []completion.Message {
	history := make([]completion.Message, 0, len(entries))
	for _, e := range entries {
		history = append(history, completion.Message{Role: string(e.Role), Content: e.Content})
	}
	return history
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
	s.publish()
}

func (s *Session) finish() {
	s.setState(StateIdle)
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) publish() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.notifier.SessionUpdated(s.user.ID, snap)
}

func (s *Session) report(f *Failure) {
	if s.isClosed() {
		s.logger.Debugw("dropping notice for closed session", "kind", f.Kind, "title", f.Title)
		return
	}
	s.logger.Warnw("chat turn failed", "user_id", s.user.ID, "kind", f.Kind, "title", f.Title, "error", f.Err)
	s.notifier.Notify(s.user.ID, f.Notice())
}

func (s *Session) snapshotLocked() Snapshot {
	entries := make([]Entry, len(s.entries))
	copy(entries, s.entries)
	return Snapshot{
		ConversationID: s.conversationID,
		Entries:        entries,
		State:          s.state,
		IsLoading:      s.state != StateIdle,
	}
}

func generationFailure(err error) *Failure {
	description := "Failed to get response."
	var gf *completion.GenerationFailure
	if errors.As(err, &gf) && gf.Message != "" {
		description = gf.Message
	}
	return &Failure{Kind: FailureGeneration, Title: "Error", Description: description, Err: err}
}
