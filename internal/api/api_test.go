package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/wuwenbin0122/lumina/internal/auth"
	"github.com/wuwenbin0122/lumina/internal/chat"
	"github.com/wuwenbin0122/lumina/internal/completion"
	"github.com/wuwenbin0122/lumina/internal/models"
	"github.com/wuwenbin0122/lumina/internal/store"
	"github.com/wuwenbin0122/lumina/internal/subscription"
	"github.com/wuwenbin0122/lumina/internal/utils"
)

const testWebhookSecret = "hook-secret"

type stubGenerator struct {
	mu      sync.Mutex
	textErr error
}

func (g *stubGenerator) GenerateText(ctx context.Context, prompt string, _ []completion.Message) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.textErr != nil {
		return "", g.textErr
	}
	return "echo: " + prompt, nil
}

func (g *stubGenerator) GenerateImage(_ context.Context, prompt string) (string, error) {
	return "https://img.example.com/" + strings.ReplaceAll(prompt, " ", "-"), nil
}

type stubBilling struct {
	priceID string
	token   string
	err     error
}

func (b *stubBilling) CreateCheckoutSession(_ context.Context, accessToken, priceID string) (string, error) {
	b.token, b.priceID = accessToken, priceID
	if b.err != nil {
		return "", b.err
	}
	return "https://checkout.example.com/session", nil
}

func (b *stubBilling) CreatePortalSession(_ context.Context, accessToken string) (string, error) {
	b.token = accessToken
	if b.err != nil {
		return "", b.err
	}
	return "https://portal.example.com/session", nil
}

type testEnv struct {
	router   *gin.Engine
	handler  *Handler
	gen      *stubGenerator
	billing  *stubBilling
	subs     *subscription.Service
	subsRepo *subscription.MemoryRepository
	store    *store.MemoryStore
	hub      *EventHub
}

func setupTestRouter(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	authService, err := auth.NewService("test-secret", time.Hour, nil)
	if err != nil {
		t.Fatalf("failed to create auth service: %v", err)
	}

	env := &testEnv{
		gen:      &stubGenerator{},
		billing:  &stubBilling{},
		subsRepo: subscription.NewMemoryRepository(),
		store:    store.NewMemoryStore(nil),
	}
	env.subs = subscription.NewService(env.subsRepo, utils.TrialConfig{Days: 14}, nil)
	env.hub = NewEventHub(nil)

	registry := chat.NewRegistry(chat.Deps{
		Store:         env.store,
		Generator:     env.gen,
		Subscriptions: env.subs,
		Notifier:      env.hub,
	})

	env.handler = NewHandler(Options{
		Auth:          authService,
		Registry:      registry,
		Hub:           env.hub,
		Billing:       env.billing,
		Subscriptions: env.subs,
		WebhookSecret: testWebhookSecret,
	})
	env.router = gin.New()
	env.handler.RegisterRoutes(env.router)
	return env
}

func (e *testEnv) register(t *testing.T, email string) (string, string) {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"email":    email,
		"password": "secret123",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Token string `json:"token"`
		User  struct {
			ID string `json:"id"`
		} `json:"user"`
	}
	decodeBody(t, rec.Body.Bytes(), &resp)
	return resp.Token, resp.User.ID
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	req := newJSONRequest(t, method, path, body)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func TestAuthRegisterAndLogin(t *testing.T) {
	env := setupTestRouter(t)
	token, _ := env.register(t, "alice@example.com")
	require.NotEmpty(t, token)

	rec := env.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email":    "Alice@Example.com",
		"password": "secret123",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email":    "alice@example.com",
		"password": "wrong-password",
	})
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"email":    "alice@example.com",
		"password": "secret123",
	})
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestSecuredRoutesRequireToken(t *testing.T) {
	env := setupTestRouter(t)

	for _, path := range []string{"/api/chat", "/api/conversations", "/api/subscription"} {
		rec := env.do(t, http.MethodGet, path, "", nil)
		require.Equal(t, http.StatusUnauthorized, rec.Code, path)

		rec = env.do(t, http.MethodGet, path, "not-a-jwt", nil)
		require.Equal(t, http.StatusUnauthorized, rec.Code, path)
	}
}

func TestChatTurnOverHTTP(t *testing.T) {
	env := setupTestRouter(t)
	token, _ := env.register(t, "bob@example.com")

	rec := env.do(t, http.MethodGet, "/api/subscription", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var sub models.SubscriptionView
	decodeBody(t, rec.Body.Bytes(), &sub)
	require.True(t, sub.IsActive)
	require.Equal(t, models.SubscriptionTrialing, sub.Status)

	rec = env.do(t, http.MethodPost, "/api/chat/messages", token, map[string]string{"content": "hello there"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var view chat.View
	decodeBody(t, rec.Body.Bytes(), &view)
	require.NotEmpty(t, view.ActiveConversationID)
	require.Len(t, view.Messages, 2)
	require.Equal(t, models.RoleUser, view.Messages[0].Role)
	require.Equal(t, "hello there", view.Messages[0].Content)
	require.Equal(t, "echo: hello there", view.Messages[1].Content)
	require.Len(t, view.Conversations, 1)

	rec = env.do(t, http.MethodPost, "/api/chat/messages", token, map[string]string{"content": "/imagine a red fox"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	decodeBody(t, rec.Body.Bytes(), &view)
	require.Len(t, view.Messages, 4)
	require.Equal(t, models.ContentImage, view.Messages[3].ContentKind)
	require.Equal(t, "https://img.example.com/a-red-fox", view.Messages[3].Content)

	rec = env.do(t, http.MethodPost, "/api/chat/new", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec.Body.Bytes(), &view)
	require.Empty(t, view.ActiveConversationID)
	require.Empty(t, view.Messages)

	convID := view.Conversations[0].ID
	rec = env.do(t, http.MethodPost, "/api/chat/select", token, map[string]string{"conversationId": convID})
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec.Body.Bytes(), &view)
	require.Equal(t, convID, view.ActiveConversationID)
	require.Len(t, view.Messages, 4)
}

func TestSubmitSurvivesClientDisconnect(t *testing.T) {
	env := setupTestRouter(t)
	token, userID := env.register(t, "gina@example.com")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := newJSONRequest(t, http.MethodPost, "/api/chat/messages", map[string]string{"content": "still there?"}).WithContext(ctx)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	convs, err := env.store.ListConversations(context.Background(), userID)
	require.NoError(t, err)
	require.Len(t, convs, 1)
	msgs, err := env.store.ListMessages(context.Background(), convs[0].ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, "echo: still there?", msgs[1].Content)
}

func TestChatErrorsMapToStatus(t *testing.T) {
	env := setupTestRouter(t)
	token, userID := env.register(t, "carol@example.com")

	rec := env.do(t, http.MethodPost, "/api/chat/messages", token, map[string]string{"content": "   "})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/chat/select", token, map[string]string{"conversationId": "missing"})
	require.Equal(t, http.StatusNotFound, rec.Code)

	env.gen.textErr = &completion.GenerationFailure{Op: completion.OpText, StatusCode: 500, Message: "Failed to get AI response. Please try again."}
	rec = env.do(t, http.MethodPost, "/api/chat/messages", token, map[string]string{"content": "hi"})
	require.Equal(t, http.StatusBadGateway, rec.Code, rec.Body.String())
	env.gen.textErr = nil

	// Ten stored messages and a lapsed subscription trip the trial ceiling.
	expired := time.Now().Add(-time.Hour)
	_, err := env.subs.Replace(context.Background(), &models.Subscription{
		UserID: userID, Plan: "free", Status: models.SubscriptionActive, ExpiresAt: &expired,
	})
	require.NoError(t, err)
	conv, err := env.store.CreateConversation(context.Background(), userID, "full")
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		_, err := env.store.AppendMessage(context.Background(), models.NewMessage{
			ConversationID: conv.ID, UserID: userID, Role: models.RoleUser, ContentKind: models.ContentText, Content: "m",
		})
		require.NoError(t, err)
	}

	rec = env.do(t, http.MethodPost, "/api/billing/checkout/success", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/chat/select", token, map[string]string{"conversationId": conv.ID})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/chat/messages", token, map[string]string{"content": "one more"})
	require.Equal(t, http.StatusPaymentRequired, rec.Code, rec.Body.String())

	var body map[string]any
	decodeBody(t, rec.Body.Bytes(), &body)
	require.Equal(t, "Trial limit reached", body["error"])
}

func TestBillingRoutes(t *testing.T) {
	env := setupTestRouter(t)
	token, _ := env.register(t, "dave@example.com")

	rec := env.do(t, http.MethodGet, "/api/plans", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/billing/checkout", token, map[string]string{"priceId": "price_123"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "price_123", env.billing.priceID)
	require.Equal(t, token, env.billing.token)

	var resp map[string]string
	decodeBody(t, rec.Body.Bytes(), &resp)
	require.Equal(t, "https://checkout.example.com/session", resp["url"])

	rec = env.do(t, http.MethodPost, "/api/billing/portal", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec.Body.Bytes(), &resp)
	require.Equal(t, "https://portal.example.com/session", resp["url"])

	env.billing.err = errors.New("connection reset")
	rec = env.do(t, http.MethodPost, "/api/billing/portal", token, nil)
	require.Equal(t, http.StatusBadGateway, rec.Code)
	decodeBody(t, rec.Body.Bytes(), &resp)
	require.Equal(t, "Failed to open customer portal. Please try again.", resp["error"])
}

func TestReplaceSubscriptionHook(t *testing.T) {
	env := setupTestRouter(t)
	token, userID := env.register(t, "erin@example.com")

	// Materialize the workspace so the hook has a live snapshot to update.
	rec := env.do(t, http.MethodGet, "/api/chat", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	events, cancel := env.hub.Subscribe(userID)
	defer cancel()

	payload := map[string]string{"userId": userID, "plan": "pro", "status": "ACTIVE"}

	rec = env.do(t, http.MethodPut, "/api/billing/subscription", "", payload)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	req := newJSONRequest(t, http.MethodPut, "/api/billing/subscription", payload)
	req.Header.Set("X-Billing-Secret", testWebhookSecret)
	rec = httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	select {
	case event := <-events:
		require.Equal(t, EventSubscription, event.Type)
		view, ok := event.Payload.(models.SubscriptionView)
		require.True(t, ok)
		require.Equal(t, "pro", view.Plan)
		require.Equal(t, models.SubscriptionActive, view.Status)
	case <-time.After(time.Second):
		t.Fatal("expected subscription event")
	}

	rec = env.do(t, http.MethodGet, "/api/chat", token, nil)
	var view chat.View
	decodeBody(t, rec.Body.Bytes(), &view)
	require.Equal(t, "pro", view.Subscription.Plan)
}

func TestEventsStreamDeliversInitialView(t *testing.T) {
	env := setupTestRouter(t)
	token, _ := env.register(t, "frank@example.com")

	server := httptest.NewServer(env.router)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/events?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	var first struct {
		Type    string    `json:"type"`
		Payload chat.View `json:"payload"`
	}
	require.NoError(t, conn.ReadJSON(&first))
	require.Equal(t, EventView, first.Type)
	require.True(t, first.Payload.Subscription.IsActive)

	rec := env.do(t, http.MethodPost, "/api/chat/messages", token, map[string]string{"content": "stream me"})
	require.Equal(t, http.StatusOK, rec.Code)

	var sawReply bool
	for !sawReply {
		var event struct {
			Type    string        `json:"type"`
			Payload chat.Snapshot `json:"payload"`
		}
		require.NoError(t, conn.ReadJSON(&event))
		if event.Type != EventSession {
			continue
		}
		for _, entry := range event.Payload.Entries {
			if entry.Content == "echo: stream me" {
				sawReply = true
			}
		}
	}
}

func newJSONRequest(t *testing.T, method, path string, body any) *http.Request {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decodeBody(t *testing.T, data []byte, out any) {
	t.Helper()
	if err := json.Unmarshal(data, out); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
}
