package presentation

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	sendBufferSize = 32
)

// Message types sent to UI clients.
const (
	MessagePresent = "present"
	MessageRemove  = "remove"
	MessageAction  = "action"
)

// Message is the frame pushed to UI clients.
type Message struct {
	Type         string        `json:"type"`
	Presentation *Presentation `json:"presentation,omitempty"`
	IDs          []string      `json:"ids,omitempty"`
	Action       any           `json:"action,omitempty"`
}

// Interaction is a user response coming back from a UI client.
type Interaction struct {
	NotificationID string `json:"notificationId"`
	ActionID       string `json:"actionId"`
	Text           string `json:"text,omitempty"`
}

// InteractionHandler receives user interactions.
type InteractionHandler func(ctx context.Context, in Interaction) error

// HubConfig holds configuration for the websocket hub.
type HubConfig struct {
	OnInteraction InteractionHandler

	// CheckOrigin overrides the upgrader's origin check.
	CheckOrigin func(r *http.Request) bool

	Logger zerolog.Logger
}

// Hub fans presentations out to connected local UI clients over websockets.
type Hub struct {
	upgrader      websocket.Upgrader
	onInteraction InteractionHandler
	logger        zerolog.Logger

	mu      sync.RWMutex
	clients map[string]*hubClient
}

type hubClient struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (c *hubClient) close() {
	c.once.Do(func() { close(c.send) })
}

// NewHub creates a new websocket hub.
func NewHub(cfg HubConfig) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     cfg.CheckOrigin,
		},
		onInteraction: cfg.OnInteraction,
		logger:        cfg.Logger.With().Str("component", "presentation_hub").Logger(),
		clients:       make(map[string]*hubClient),
	}
}

// ServeHTTP upgrades the request and attaches the client.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := &hubClient{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, sendBufferSize),
	}
	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()

	h.logger.Debug().Str("client_id", c.id).Msg("ui client connected")

	go h.writePump(c)
	go h.readPump(c)
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Present broadcasts a presentation.
func (h *Hub) Present(_ context.Context, p Presentation) error {
	return h.broadcast(Message{Type: MessagePresent, Presentation: &p})
}

// Remove broadcasts a removal.
func (h *Hub) Remove(_ context.Context, notificationIDs ...string) error {
	return h.broadcast(Message{Type: MessageRemove, IDs: notificationIDs})
}

// Forward hands an action to UI clients for execution.
func (h *Hub) Forward(_ context.Context, action any) error {
	return h.broadcast(Message{Type: MessageAction, Action: action})
}

func (h *Hub) broadcast(msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		select {
		case c.send <- data:
		default:
			h.logger.Warn().Str("client_id", c.id).Msg("client send buffer full")
		}
	}
	return nil
}

func (h *Hub) unregister(c *hubClient) {
	h.mu.Lock()
	if _, ok := h.clients[c.id]; ok {
		delete(h.clients, c.id)
		c.close()
	}
	h.mu.Unlock()
}

func (h *Hub) readPump(c *hubClient) {
	defer func() {
		h.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn().Err(err).Str("client_id", c.id).Msg("websocket read failed")
			}
			return
		}
		h.handleInteraction(c, data)
	}
}

func (h *Hub) handleInteraction(c *hubClient, data []byte) {
	var in Interaction
	if err := json.Unmarshal(data, &in); err != nil || in.NotificationID == "" {
		h.logger.Debug().Str("client_id", c.id).Msg("ignoring malformed interaction")
		return
	}
	if h.onInteraction == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeWait)
	defer cancel()
	if err := h.onInteraction(ctx, in); err != nil {
		h.logger.Warn().Err(err).
			Str("notification_id", in.NotificationID).
			Str("action_id", in.ActionID).
			Msg("interaction handler failed")
	}
}

func (h *Hub) writePump(c *hubClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

var _ Presenter = (*Hub)(nil)
