package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nerrad567/gray-logic-presence/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-presence/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-presence/internal/infrastructure/metrics"
	"github.com/nerrad567/gray-logic-presence/internal/presence"
)

// WebSocket constants.
const (
	WSTypeWatch    = "watch"
	WSTypeUnwatch  = "unwatch"
	WSTypePing     = "ping"
	WSTypePong     = "pong"
	WSTypeEvent    = "event"
	WSTypeResponse = "response"
	WSTypeError    = "error"

	// WSEventStateChanged is the event type of every presence notification.
	WSEventStateChanged = "presence.state_changed"

	// wsSendBufferSize is the per-client outbound message buffer size.
	wsSendBufferSize = 256

	// wsRequesterPrefix prefixes the requester ID each connection watches under.
	wsRequesterPrefix = "ws-"
)

// WSMessage represents a message sent to/from a WebSocket client.
type WSMessage struct {
	Type      string          `json:"type"`
	ID        string          `json:"id,omitempty"`
	EventType string          `json:"event_type,omitempty"`
	Timestamp string          `json:"timestamp,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// wsOutbound is the server-side form of WSMessage.
type wsOutbound struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// WSWatchPayload is the payload for watch/unwatch messages.
type WSWatchPayload struct {
	Monitors []string `json:"monitors"`
}

// WSStateEvent is the payload of a presence.state_changed event.
type WSStateEvent struct {
	MonitorID string         `json:"monitor_id"`
	State     presence.State `json:"state"`
}

// Hub manages WebSocket connections. Each connection is one requester on
// every broker it watches.
type Hub struct {
	cfg      config.WebSocketConfig
	logger   *logging.Logger
	monitors Monitors
	metrics  *metrics.Metrics
	clients  map[*WSClient]struct{}
	mu       sync.RWMutex
}

// WSClient represents a connected WebSocket client.
type WSClient struct {
	hub         *Hub
	conn        *websocket.Conn
	send        chan []byte
	requesterID presence.RequesterID
	subject     string // token subject when auth is enabled
	watching    map[string]struct{}
	mu          sync.Mutex
}

// upgrader configures the WebSocket upgrader.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// Origin checking is handled by CORS middleware
		return true
	},
}

// NewHub creates a new WebSocket hub.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger, monitors Monitors, m *metrics.Metrics) *Hub {
	return &Hub{
		cfg:      cfg,
		logger:   logger,
		monitors: monitors,
		metrics:  m,
		clients:  make(map[*WSClient]struct{}),
	}
}

// Run blocks until the context is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// Register adds a client to the hub.
func (h *Hub) Register(client *WSClient) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()
	h.updateGauge()
	h.logger.Debug("websocket client connected",
		"requester_id", client.requesterID,
		"subject", client.subject,
		"clients", h.ClientCount(),
	)
}

// Unregister removes a client from the hub and from every broker it watched.
// Only the goroutine that removes the client from the map closes the send
// channel.
func (h *Hub) Unregister(client *WSClient) {
	h.mu.Lock()
	_, existed := h.clients[client]
	delete(h.clients, client)
	h.mu.Unlock()

	if existed {
		close(client.send)
	}
	h.monitors.UnwatchAll(client.requesterID)
	h.updateGauge()
	h.logger.Debug("websocket client disconnected", "requester_id", client.requesterID, "clients", h.ClientCount())
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) updateGauge() {
	if h.metrics != nil {
		h.metrics.WatchClients.Set(float64(h.ClientCount()))
	}
}

// closeAll disconnects all clients and closes their send channels
// so writePump goroutines can exit cleanly.
func (h *Hub) closeAll() {
	h.mu.Lock()
	for client := range h.clients {
		close(client.send)
		if client.conn != nil {
			client.conn.Close()
		}
		delete(h.clients, client)
	}
	h.mu.Unlock()
	h.updateGauge()
}

// handleWebSocket upgrades the HTTP connection to a WebSocket connection.
// When auth is enabled a ticket from POST /auth/ws-ticket is required.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	var subject string
	if s.authEnabled() {
		ticket := r.URL.Query().Get("ticket")
		if ticket == "" {
			writeUnauthorized(w, "ticket query parameter is required")
			return
		}
		entry, ok := s.validateTicket(ticket)
		if !ok {
			writeUnauthorized(w, "invalid or expired ticket")
			return
		}
		subject = entry.subject
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := &WSClient{
		hub:         s.hub,
		conn:        conn,
		send:        make(chan []byte, wsSendBufferSize),
		requesterID: presence.RequesterID(wsRequesterPrefix + uuid.NewString()),
		subject:     subject,
		watching:    make(map[string]struct{}),
	}

	s.hub.Register(client)

	go client.writePump(s.wsCfg)
	go client.readPump(s.wsCfg)
}

// readPump reads messages from the WebSocket connection.
func (c *WSClient) readPump(cfg config.WebSocketConfig) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	pingInterval := time.Duration(cfg.PingInterval) * time.Second
	pongWait := time.Duration(cfg.PongTimeout) * time.Second
	//nolint:errcheck // Best-effort deadline on connection setup
	c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "error", err)
			} else {
				c.hub.logger.Debug("websocket closed", "error", err)
			}
			return
		}
		//nolint:errcheck // Best-effort deadline reset
		c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
		c.handleMessage(message)
	}
}

// writePump writes messages to the WebSocket connection.
func (c *WSClient) writePump(cfg config.WebSocketConfig) {
	pingInterval := time.Duration(cfg.PingInterval) * time.Second
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	pongWait := time.Duration(cfg.PongTimeout) * time.Second

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				//nolint:errcheck // Best-effort close message
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			//nolint:errcheck // Best-effort deadline; write error caught below
			c.conn.SetWriteDeadline(time.Now().Add(pongWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			//nolint:errcheck // Best-effort deadline; ping error caught below
			c.conn.SetWriteDeadline(time.Now().Add(pongWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage processes an incoming WebSocket message.
func (c *WSClient) handleMessage(data []byte) {
	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError("", "invalid JSON message")
		return
	}

	switch msg.Type {
	case WSTypeWatch:
		c.handleWatch(msg)
	case WSTypeUnwatch:
		c.handleUnwatch(msg)
	case WSTypePing:
		c.sendResponse(msg.ID, WSTypePong, nil)
	default:
		c.sendError(msg.ID, "unknown message type: "+msg.Type)
	}
}

// handleWatch makes the client a requester on each named monitor. The
// response carries the current state of every monitor now watched.
func (c *WSClient) handleWatch(msg WSMessage) {
	var sub WSWatchPayload
	if err := json.Unmarshal(msg.Payload, &sub); err != nil || len(sub.Monitors) == 0 {
		c.sendError(msg.ID, "invalid watch payload")
		return
	}

	states := make(map[string]presence.State, len(sub.Monitors))
	notFound := make([]string, 0)
	for _, id := range sub.Monitors {
		if err := c.hub.monitors.Watch(id, c.requesterID, c.stateCallback(id)); err != nil {
			notFound = append(notFound, id)
			continue
		}
		c.mu.Lock()
		c.watching[id] = struct{}{}
		c.mu.Unlock()

		if st, err := c.hub.monitors.Get(id); err == nil {
			states[id] = st.Presence.State
		}
	}

	c.hub.logger.Info("websocket client watching", "requester_id", c.requesterID, "monitors", len(states))

	c.sendResponse(msg.ID, WSTypeResponse, map[string]any{
		"watching":  states,
		"not_found": notFound,
	})
}

// handleUnwatch removes the client from each named monitor, or from every
// watched monitor when none are named.
func (c *WSClient) handleUnwatch(msg WSMessage) {
	var sub WSWatchPayload
	if len(msg.Payload) > 0 {
		if err := json.Unmarshal(msg.Payload, &sub); err != nil {
			c.sendError(msg.ID, "invalid unwatch payload")
			return
		}
	}
	if len(sub.Monitors) == 0 {
		c.mu.Lock()
		for id := range c.watching {
			sub.Monitors = append(sub.Monitors, id)
		}
		c.mu.Unlock()
		sort.Strings(sub.Monitors)
	}

	for _, id := range sub.Monitors {
		//nolint:errcheck // Unknown or released monitors have nothing to remove
		c.hub.monitors.Unwatch(id, c.requesterID)
		c.mu.Lock()
		delete(c.watching, id)
		c.mu.Unlock()
	}

	c.sendResponse(msg.ID, WSTypeResponse, map[string]any{
		"unwatched": sub.Monitors,
	})
}

// stateCallback returns the requester callback for one monitor. It runs on
// the broker's dispatch path and must not block.
func (c *WSClient) stateCallback(monitorID string) presence.Callback {
	return func(state presence.State) {
		c.sendEvent(WSEventStateChanged, WSStateEvent{MonitorID: monitorID, State: state})
	}
}

// trySend attempts to send data to the client's send channel.
// It silently handles closed channels (client disconnected during dispatch)
// and full buffers (slow client).
func (c *WSClient) trySend(data []byte) {
	defer func() {
		recover() //nolint:errcheck // Absorb send-on-closed-channel panic
	}()

	select {
	case c.send <- data:
	default:
		// Client buffer full, skip
	}
}

// sendEvent sends an event message to the client.
func (c *WSClient) sendEvent(eventType string, payload any) {
	data, err := json.Marshal(wsOutbound{
		Type:      WSTypeEvent,
		EventType: eventType,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Payload:   payload,
	})
	if err != nil {
		c.hub.logger.Error("failed to marshal websocket event", "error", err)
		return
	}
	c.trySend(data)
}

// sendResponse sends a response message to the client.
// Routes through trySend to safely handle closed channels during shutdown.
func (c *WSClient) sendResponse(id, msgType string, payload any) {
	data, err := json.Marshal(wsOutbound{
		Type:      msgType,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err != nil {
		return
	}
	c.trySend(data)
}

// sendError sends an error message to the client.
func (c *WSClient) sendError(id, message string) {
	c.sendResponse(id, WSTypeError, map[string]string{"message": message})
}
