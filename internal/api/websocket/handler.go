package websocket

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/backtesting-org/sitewatch/internal/services"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origins are restricted by the CORS middleware
		return true
	},
}

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 512

	sendBuffer = 256
)

// Handler streams dashboard events to connected browsers
type Handler struct {
	eventBus *services.EventBus
	logger   *zap.Logger
	clients  map[*Client]bool
	events   <-chan services.Event
	done     chan struct{}
	mu       sync.RWMutex
}

// Client represents a connected WebSocket client
type Client struct {
	conn    *websocket.Conn
	send    chan []byte
	handler *Handler
	logger  *zap.Logger
}

// NewHandler creates a new WebSocket handler
func NewHandler(eventBus *services.EventBus, logger *zap.Logger) *Handler {
	return &Handler{
		eventBus: eventBus,
		logger:   logger.Named("events"),
		clients:  make(map[*Client]bool),
		done:     make(chan struct{}),
	}
}

// HandleConnection upgrades the request and registers the client
// GET /ws
func (h *Handler) HandleConnection(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade connection", zap.Error(err))
		return
	}

	client := &Client{
		conn:    conn,
		send:    make(chan []byte, sendBuffer),
		handler: h,
		logger:  h.logger,
	}

	h.mu.Lock()
	select {
	case <-h.done:
		h.mu.Unlock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(writeWait))
		_ = conn.Close()
		return
	default:
	}
	h.clients[client] = true
	h.mu.Unlock()

	h.logger.Info("New WebSocket client connected",
		zap.String("remote_addr", conn.RemoteAddr().String()))

	go client.writePump()
	go client.readPump()
}

// BroadcastEvent broadcasts an event to all connected clients
func (h *Handler) BroadcastEvent(event services.Event) {
	message, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("Failed to marshal event", zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients {
		select {
		case client.send <- message:
		default:
			h.logger.Warn("Client send buffer full, closing connection")
			go h.unregisterClient(client)
		}
	}
}

// StartEventListener starts listening for events and broadcasting them
func (h *Handler) StartEventListener() {
	h.mu.Lock()
	if h.events != nil {
		h.mu.Unlock()
		return
	}
	events := h.eventBus.SubscribeAll(100)
	h.events = events
	h.mu.Unlock()

	go func() {
		for event := range events {
			h.BroadcastEvent(event)
		}
	}()
}

// Close stops the listener and disconnects every client
func (h *Handler) Close() {
	h.mu.Lock()
	select {
	case <-h.done:
		h.mu.Unlock()
		return
	default:
	}
	close(h.done)
	events := h.events
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.Unlock()

	if events != nil {
		h.eventBus.Unsubscribe(events)
	}
	for _, client := range clients {
		h.unregisterClient(client)
	}
}

func (h *Handler) unregisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
		h.logger.Info("WebSocket client disconnected")
	}
}

// GetClientCount returns the number of connected clients
func (h *Handler) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// readPump discards client messages and detects disconnects
func (c *Client) readPump() {
	defer func() {
		c.handler.unregisterClient(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn("WebSocket error", zap.Error(err))
			}
			return
		}

		c.logger.Debug("Received message from client", zap.ByteString("message", message))
	}
}

// writePump writes one event per text frame and keeps the connection alive
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
