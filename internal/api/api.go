package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/wuwenbin0122/lumina/internal/auth"
	"github.com/wuwenbin0122/lumina/internal/billing"
	"github.com/wuwenbin0122/lumina/internal/chat"
	"github.com/wuwenbin0122/lumina/internal/models"
	"github.com/wuwenbin0122/lumina/internal/store"
	"github.com/wuwenbin0122/lumina/internal/utils"
)

const (
	contextUserKey  = "currentUser"
	contextTokenKey = "accessToken"
)

type BillingClient interface {
	CreateCheckoutSession(ctx context.Context, accessToken, priceID string) (string, error)
	CreatePortalSession(ctx context.Context, accessToken string) (string, error)
}

type SubscriptionReplacer interface {
	Replace(ctx context.Context, sub *models.Subscription) (*models.Subscription, error)
}

type Options struct {
	Auth          *auth.Service
	Registry      *chat.Registry
	Hub           *EventHub
	Billing       BillingClient
	Subscriptions SubscriptionReplacer
	WebhookSecret string
	Logger        *zap.SugaredLogger
	Now           func() time.Time
}

type Handler struct {
	authService   *auth.Service
	registry      *chat.Registry
	hub           *EventHub
	billing       BillingClient
	subscriptions SubscriptionReplacer
	webhookSecret string
	logger        *zap.SugaredLogger
	now           func() time.Time
}

func NewHandler(opts Options) *Handler {
	h := &Handler{
		authService:   opts.Auth,
		registry:      opts.Registry,
		hub:           opts.Hub,
		billing:       opts.Billing,
		subscriptions: opts.Subscriptions,
		webhookSecret: opts.WebhookSecret,
		logger:        utils.SugarOrNop(opts.Logger),
		now:           opts.Now,
	}
	if h.hub == nil {
		h.hub = NewEventHub(h.logger)
	}
	if h.now == nil {
		h.now = time.Now
	}
	return h
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	apiGroup := router.Group("/api")

	authGroup := apiGroup.Group("/auth")
	authGroup.POST("/register", h.handleRegister)
	authGroup.POST("/login", h.handleLogin)

	apiGroup.GET("/plans", h.handlePlans)
	apiGroup.PUT("/billing/subscription", h.handleReplaceSubscription)

	secured := apiGroup.Group("", h.requireAuth)
	secured.GET("/subscription", h.handleSubscription)
	secured.POST("/billing/checkout", h.handleCheckout)
	secured.POST("/billing/portal", h.handlePortal)
	secured.POST("/billing/checkout/success", h.handleCheckoutSuccess)
	secured.GET("/conversations", h.handleConversations)
	secured.GET("/chat", h.handleChatView)
	secured.POST("/chat/new", h.handleNewChat)
	secured.POST("/chat/select", h.handleSelectConversation)
	secured.POST("/chat/messages", h.handleSubmit)
	secured.GET("/events", h.handleEvents)
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type checkoutRequest struct {
	PriceID string `json:"priceId"`
}

type selectConversationRequest struct {
	ConversationID string `json:"conversationId"`
}

type submitRequest struct {
	Content string `json:"content"`
}

type replaceSubscriptionRequest struct {
	UserID    string     `json:"userId"`
	Plan      string     `json:"plan"`
	Status    string     `json:"status"`
	ExpiresAt *time.Time `json:"expiresAt"`
}

func (h *Handler) handleRegister(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid payload", err)
		return
	}

	result, err := h.authService.Register(c.Request.Context(), auth.Credentials{Email: req.Email, Password: req.Password})
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrEmailRequired), errors.Is(err, auth.ErrPasswordTooWeak):
			writeError(c, http.StatusBadRequest, err.Error(), err)
		case errors.Is(err, auth.ErrEmailExists):
			writeError(c, http.StatusConflict, err.Error(), err)
		default:
			writeError(c, http.StatusInternalServerError, "failed to register user", err)
		}
		return
	}

	c.JSON(http.StatusCreated, newAuthResponse(result))
}

func (h *Handler) handleLogin(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid payload", err)
		return
	}

	if req.Email == "" || req.Password == "" {
		writeError(c, http.StatusBadRequest, "email and password are required", auth.ErrInvalidCredentials)
		return
	}

	result, err := h.authService.Login(c.Request.Context(), auth.Credentials{Email: req.Email, Password: req.Password})
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			writeError(c, http.StatusUnauthorized, err.Error(), err)
			return
		}
		writeError(c, http.StatusInternalServerError, "failed to login", err)
		return
	}

	c.JSON(http.StatusOK, newAuthResponse(result))
}

func (h *Handler) handlePlans(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"plans": billing.Plans()})
}

func (h *Handler) handleSubscription(c *gin.Context) {
	ws, ok := h.workspace(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, ws.Subscription().View(h.now()))
}

func (h *Handler) handleCheckout(c *gin.Context) {
	var req checkoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid payload", err)
		return
	}
	if h.billing == nil {
		writeError(c, http.StatusServiceUnavailable, "billing unavailable", billing.ErrNotConfigured)
		return
	}

	url, err := h.billing.CreateCheckoutSession(c.Request.Context(), accessToken(c), req.PriceID)
	if err != nil {
		writeBillingError(c, "Failed to initiate payment. Please try again.", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": url})
}

func (h *Handler) handlePortal(c *gin.Context) {
	if h.billing == nil {
		writeError(c, http.StatusServiceUnavailable, "billing unavailable", billing.ErrNotConfigured)
		return
	}

	url, err := h.billing.CreatePortalSession(c.Request.Context(), accessToken(c))
	if err != nil {
		writeBillingError(c, "Failed to open customer portal. Please try again.", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": url})
}

// handleCheckoutSuccess is the return leg of a checkout: it re-reads the
// subscription and pushes the new snapshot to the user's streams.
func (h *Handler) handleCheckoutSuccess(c *gin.Context) {
	ws, ok := h.workspace(c)
	if !ok {
		return
	}

	sub, err := ws.RefreshSubscription(c.Request.Context())
	view := sub.View(h.now())
	h.hub.SubscriptionChanged(ws.User().ID, view)
	if err != nil {
		writeError(c, http.StatusServiceUnavailable, "failed to refresh subscription", err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *Handler) handleReplaceSubscription(c *gin.Context) {
	if h.webhookSecret == "" || h.subscriptions == nil {
		writeError(c, http.StatusNotFound, "subscription hook disabled", billing.ErrNotConfigured)
		return
	}
	provided := c.GetHeader("X-Billing-Secret")
	if subtle.ConstantTimeCompare([]byte(provided), []byte(h.webhookSecret)) != 1 {
		writeError(c, http.StatusUnauthorized, "invalid billing secret", auth.ErrInvalidToken)
		return
	}

	var req replaceSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid payload", err)
		return
	}

	sub, err := h.subscriptions.Replace(c.Request.Context(), &models.Subscription{
		UserID:    req.UserID,
		Plan:      req.Plan,
		Status:    models.SubscriptionStatus(req.Status),
		ExpiresAt: req.ExpiresAt,
	})
	if err != nil {
		if errors.Is(err, store.ErrUserIDRequired) {
			writeError(c, http.StatusBadRequest, "userId is required", err)
			return
		}
		writeError(c, http.StatusServiceUnavailable, "failed to replace subscription", err)
		return
	}

	view := sub.View(h.now())
	if ws, ok := h.registry.Lookup(sub.UserID); ok {
		ws.SetSubscription(sub)
	}
	h.hub.SubscriptionChanged(sub.UserID, view)
	c.JSON(http.StatusOK, view)
}

func (h *Handler) handleConversations(c *gin.Context) {
	ws, ok := h.workspace(c)
	if !ok {
		return
	}

	list, err := ws.RefreshConversations(c.Request.Context())
	if err != nil {
		writeChatError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversations": list})
}

func (h *Handler) handleChatView(c *gin.Context) {
	ws, ok := h.workspace(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, ws.View())
}

func (h *Handler) handleNewChat(c *gin.Context) {
	ws, ok := h.workspace(c)
	if !ok {
		return
	}
	ws.NewChat()
	c.JSON(http.StatusOK, ws.View())
}

func (h *Handler) handleSelectConversation(c *gin.Context) {
	var req selectConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid payload", err)
		return
	}
	if strings.TrimSpace(req.ConversationID) == "" {
		writeError(c, http.StatusBadRequest, "conversationId is required", store.ErrConversationIDRequired)
		return
	}

	ws, ok := h.workspace(c)
	if !ok {
		return
	}
	if err := ws.SelectConversation(c.Request.Context(), req.ConversationID); err != nil {
		writeChatError(c, err)
		return
	}
	c.JSON(http.StatusOK, ws.View())
}

// handleSubmit runs the turn to completion; progress is streamed on /api/events.
// A client that disconnects mid-turn does not cancel generation or the writes.
func (h *Handler) handleSubmit(c *gin.Context) {
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid payload", err)
		return
	}

	ws, ok := h.workspace(c)
	if !ok {
		return
	}
	if err := ws.Submit(context.WithoutCancel(c.Request.Context()), req.Content); err != nil {
		writeChatError(c, err)
		return
	}
	c.JSON(http.StatusOK, ws.View())
}

func (h *Handler) workspace(c *gin.Context) (*chat.Workspace, bool) {
	ws, err := h.registry.Workspace(c.Request.Context(), currentUser(c))
	if err != nil {
		writeError(c, http.StatusUnauthorized, "unauthenticated", err)
		return nil, false
	}
	return ws, true
}

func (h *Handler) requireAuth(c *gin.Context) {
	token := bearerToken(c)
	if token == "" {
		writeError(c, http.StatusUnauthorized, "missing bearer token", auth.ErrInvalidToken)
		c.Abort()
		return
	}

	user, err := h.authService.VerifyToken(token)
	if err != nil {
		writeError(c, http.StatusUnauthorized, "invalid token", err)
		c.Abort()
		return
	}

	c.Set(contextUserKey, *user)
	c.Set(contextTokenKey, token)
	c.Next()
}

// bearerToken reads the Authorization header, falling back to ?token= for
// websocket clients that cannot set headers.
func bearerToken(c *gin.Context) string {
	header := strings.TrimSpace(c.GetHeader("Authorization"))
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return strings.TrimSpace(c.Query("token"))
}

func currentUser(c *gin.Context) models.CurrentUser {
	if v, ok := c.Get(contextUserKey); ok {
		if user, ok := v.(models.CurrentUser); ok {
			return user
		}
	}
	return models.CurrentUser{}
}

func accessToken(c *gin.Context) string {
	return c.GetString(contextTokenKey)
}

func newAuthResponse(result *auth.AuthResult) gin.H {
	return gin.H{
		"token":     result.Token,
		"expiresAt": result.ExpiresAt.Format(time.RFC3339),
		"user": gin.H{
			"id":        result.User.ID,
			"email":     result.User.Email,
			"createdAt": result.User.CreatedAt.Format(time.RFC3339),
			"updatedAt": result.User.UpdatedAt.Format(time.RFC3339),
		},
	}
}

func writeChatError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, chat.ErrTurnInFlight):
		status = http.StatusConflict
	case errors.Is(err, chat.ErrConversationNotFound):
		status = http.StatusNotFound
	case errors.Is(err, chat.ErrSessionClosed):
		status = http.StatusConflict
	default:
		switch chat.KindOf(err) {
		case chat.FailureValidation:
			status = http.StatusBadRequest
		case chat.FailureEntitlement:
			status = http.StatusPaymentRequired
		case chat.FailureGeneration:
			status = http.StatusBadGateway
		case chat.FailurePersistence:
			status = http.StatusServiceUnavailable
		}
	}

	var failure *chat.Failure
	if errors.As(err, &failure) {
		c.JSON(status, gin.H{
			"error":   failure.Title,
			"kind":    failure.Kind,
			"details": failure.Description,
		})
		return
	}
	writeError(c, status, err.Error(), err)
}

func writeBillingError(c *gin.Context, fallback string, err error) {
	var endpointErr *billing.EndpointError
	switch {
	case errors.Is(err, billing.ErrAuthRequired):
		writeError(c, http.StatusUnauthorized, "Please sign in to subscribe.", err)
	case errors.Is(err, billing.ErrUnknownPrice):
		writeError(c, http.StatusBadRequest, err.Error(), err)
	case errors.Is(err, billing.ErrNotConfigured):
		writeError(c, http.StatusServiceUnavailable, "billing unavailable", err)
	case errors.As(err, &endpointErr):
		writeError(c, http.StatusBadGateway, endpointErr.Message, err)
	default:
		writeError(c, http.StatusBadGateway, fallback, err)
	}
}

func writeError(c *gin.Context, status int, message string, err error) {
	c.JSON(status, gin.H{
		"error":   message,
		"details": err.Error(),
	})
}
