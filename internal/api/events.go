package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/wuwenbin0122/lumina/internal/chat"
	"github.com/wuwenbin0122/lumina/internal/models"
	"github.com/wuwenbin0122/lumina/internal/utils"
)

const (
	EventNotice          = "notice"
	EventUpgradeRequired = "upgrade_required"
	EventSession         = "session"
	EventView            = "view"
	EventSubscription    = "subscription"
)

const subscriberBuffer = 32

type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// EventHub fans chat notifications out to each user's open event streams.
// Slow subscribers lose events rather than block a turn.
type EventHub struct {
	logger *zap.SugaredLogger

	mu   sync.Mutex
	subs map[string]map[chan Event]struct{}
}

var _ chat.Notifier = (*EventHub)(nil)

func NewEventHub(logger *zap.SugaredLogger) *EventHub {
	return &EventHub{
		logger: utils.SugarOrNop(logger),
		subs:   make(map[string]map[chan Event]struct{}),
	}
}

// Subscribe registers a stream for userID. The returned cancel func must be called.
func (h *EventHub) Subscribe(userID string) (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	h.mu.Lock()
	if h.subs[userID] == nil {
		h.subs[userID] = make(map[chan Event]struct{})
	}
	h.subs[userID][ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs[userID], ch)
			if len(h.subs[userID]) == 0 {
				delete(h.subs, userID)
			}
			h.mu.Unlock()
			close(ch)
		})
	}
}

func (h *EventHub) Publish(userID string, event Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs[userID] {
		select {
		case ch <- event:
		default:
			h.logger.Warnw("dropping event for slow subscriber", "user_id", userID, "type", event.Type)
		}
	}
}

func (h *EventHub) Notify(userID string, notice chat.Notice) {
	h.Publish(userID, Event{Type: EventNotice, Payload: notice})
}

func (h *EventHub) PromptUpgrade(userID string) {
	h.Publish(userID, Event{Type: EventUpgradeRequired})
}

func (h *EventHub) SessionUpdated(userID string, snap chat.Snapshot) {
	h.Publish(userID, Event{Type: EventSession, Payload: snap})
}

func (h *EventHub) SubscriptionChanged(userID string, view models.SubscriptionView) {
	h.Publish(userID, Event{Type: EventSubscription, Payload: view})
}

var eventsUpgrader = websocket.Upgrader{
	ReadBufferSize:  4 * 1024,
	WriteBufferSize: 16 * 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

func (h *Handler) handleEvents(c *gin.Context) {
	user := currentUser(c)

	conn, err := eventsUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warnf("events websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	events, cancel := h.hub.Subscribe(user.ID)
	defer cancel()

	if ws, err := h.registry.Workspace(c.Request.Context(), user); err == nil {
		view := ws.View()
		if err := conn.WriteJSON(Event{Type: EventView, Payload: view}); err != nil {
			return
		}
	}

	// The client never sends anything meaningful; reading detects the close.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					h.logger.Warnf("events websocket closed: %v", err)
				}
				return
			}
		}
	}()

	ping := time.NewTicker(30 * time.Second)
	defer ping.Stop()

	for {
		select {
		case <-closed:
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			if err := conn.WriteJSON(event); err != nil {
				return
			}
		case <-ping.C:
			h.registry.Touch(user.ID)
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		}
	}
}
