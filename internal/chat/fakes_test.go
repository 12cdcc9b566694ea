package chat

import (
	"context"
	"sync"

	"github.com/wuwenbin0122/lumina/internal/completion"
	"github.com/wuwenbin0122/lumina/internal/models"
	"github.com/wuwenbin0122/lumina/internal/store"
)

type textCall struct {
	Prompt  string
	History []completion.Message
}

type fakeGenerator struct {
	mu         sync.Mutex
	textFn     func(ctx context.Context, prompt string) (string, error)
	imageFn    func(ctx context.Context, prompt string) (string, error)
	textCalls  []textCall
	imageCalls []string
}

func (g *fakeGenerator) GenerateText(ctx context.Context, prompt string, history []completion.Message) (string, error) {
	g.mu.Lock()
	g.textCalls = append(g.textCalls, textCall{Prompt: prompt, History: append([]completion.Message(nil), history...)})
	fn := g.textFn
	g.mu.Unlock()

	if fn == nil {
		return "reply to " + prompt, nil
	}
	return fn(ctx, prompt)
}

func (g *fakeGenerator) GenerateImage(ctx context.Context, prompt string) (string, error) {
	g.mu.Lock()
	g.imageCalls = append(g.imageCalls, prompt)
	fn := g.imageFn
	g.mu.Unlock()

	if fn == nil {
		return "https://img.example.com/" + prompt, nil
	}
	return fn(ctx, prompt)
}

func (g *fakeGenerator) calls() (int, int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.textCalls), len(g.imageCalls)
}

// flakyStore wraps the in-memory store with injectable failures. appendErrs is
// consumed one entry per AppendMessage call; a nil entry lets the call through.
type flakyStore struct {
	*store.MemoryStore

	mu         sync.Mutex
	appendErrs []error
	appends    int
	listErr    error
	convErr    error
}

func newFlakyStore() *flakyStore {
	return &flakyStore{MemoryStore: store.NewMemoryStore(nil)}
}

func (s *flakyStore) AppendMessage(ctx context.Context, rec models.NewMessage) (*models.Message, error) {
	s.mu.Lock()
	s.appends++
	var err error
	if len(s.appendErrs) > 0 {
		err = s.appendErrs[0]
		s.appendErrs = s.appendErrs[1:]
	}
	s.mu.Unlock()

	if err != nil {
		return nil, err
	}
	return s.MemoryStore.AppendMessage(ctx, rec)
}

func (s *flakyStore) ListMessages(ctx context.Context, conversationID string) ([]models.Message, error) {
	s.mu.Lock()
	err := s.listErr
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return s.MemoryStore.ListMessages(ctx, conversationID)
}

func (s *flakyStore) CreateConversation(ctx context.Context, userID, title string) (*models.Conversation, error) {
	s.mu.Lock()
	err := s.convErr
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return s.MemoryStore.CreateConversation(ctx, userID, title)
}

func (s *flakyStore) ListConversations(ctx context.Context, userID string) ([]models.Conversation, error) {
	s.mu.Lock()
	err := s.convErr
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return s.MemoryStore.ListConversations(ctx, userID)
}

func (s *flakyStore) appendCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appends
}

type recordingNotifier struct {
	mu        sync.Mutex
	notices   []Notice
	upgrades  int
	snapshots []Snapshot
}

func (n *recordingNotifier) Notify(_ string, notice Notice) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, notice)
}

func (n *recordingNotifier) PromptUpgrade(string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.upgrades++
}

func (n *recordingNotifier) SessionUpdated(_ string, snap Snapshot) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.snapshots = append(n.snapshots, snap)
}

func (n *recordingNotifier) Notices() []Notice {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Notice(nil), n.notices...)
}

func (n *recordingNotifier) Upgrades() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.upgrades
}

func (n *recordingNotifier) Snapshots() []Snapshot {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Snapshot(nil), n.snapshots...)
}
