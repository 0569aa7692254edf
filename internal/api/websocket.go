package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/smartlock-core/internal/auth"
	"github.com/nerrad567/smartlock-core/internal/infrastructure/config"
	"github.com/nerrad567/smartlock-core/internal/infrastructure/logging"
	"github.com/nerrad567/smartlock-core/internal/lock"
	"github.com/nerrad567/smartlock-core/internal/locklog"
)

// WebSocket message types.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"

	// EventLockEntry is the event type for every relayed log entry.
	EventLockEntry = "lock.entry"
)

const (
	wsSendBuffer = 256

	defaultWSMaxMessageSize = 8192
	defaultWSPingInterval   = 30 * time.Second
	defaultWSPongTimeout    = 10 * time.Second
)

// WSMessage is an outbound frame.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// wsRequest is an inbound frame. Payload is decoded per type.
type wsRequest struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// WSSubscribePayload narrows or widens the set of devices a client follows.
type WSSubscribePayload struct {
	Devices []string `json:"devices"`
}

// lockFinder resolves a device to its registry row for ownership checks.
type lockFinder interface {
	Find(ctx context.Context, deviceID string) (*lock.Lock, error)
}

// Hub fans lock log entries out to websocket clients. A user receives
// entries for the locks they own; admins receive every entry.
//
// Hub implements liveness.Observer.
type Hub struct {
	logger *logging.Logger
	locks  lockFinder

	readLimit    int64
	pingInterval time.Duration
	pongWait     time.Duration

	mu      sync.RWMutex
	clients map[*WSClient]struct{}
}

// WSClient is one authenticated websocket connection.
type WSClient struct {
	hub    *Hub
	conn   *websocket.Conn
	userID string
	role   auth.Role

	// mu guards send against close and the device filter.
	mu      sync.RWMutex
	send    chan []byte
	closed  bool
	devices map[string]struct{}
}

// NewHub creates a hub. Zero values in cfg fall back to defaults.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger, locks lockFinder) *Hub {
	h := &Hub{
		logger:       logger,
		locks:        locks,
		readLimit:    defaultWSMaxMessageSize,
		pingInterval: defaultWSPingInterval,
		pongWait:     defaultWSPongTimeout,
		clients:      make(map[*WSClient]struct{}),
	}
	if cfg.MaxMessageSize > 0 {
		h.readLimit = int64(cfg.MaxMessageSize)
	}
	if cfg.PingInterval > 0 {
		h.pingInterval = time.Duration(cfg.PingInterval) * time.Second
	}
	if cfg.PongTimeout > 0 {
		h.pongWait = time.Duration(cfg.PongTimeout) * time.Second
	}
	return h
}

// Run blocks until ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// Register adds a client to the hub.
func (h *Hub) Register(c *WSClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "user_id", c.userID, "clients", n)
}

// Unregister removes a client and closes its outbound queue. It is safe to
// call more than once.
func (h *Hub) Unregister(c *WSClient) {
	h.mu.Lock()
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()

	c.close()
	h.logger.Debug("websocket client disconnected", "user_id", c.userID, "clients", n)
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// OnEntry relays entry to every client allowed to see its lock. Slow
// clients drop messages rather than block the journal.
func (h *Hub) OnEntry(ctx context.Context, entry locklog.Entry) {
	recipients := h.snapshot()
	if len(recipients) == 0 {
		return
	}

	owner := ""
	if l, err := h.locks.Find(ctx, entry.DeviceID); err == nil {
		owner = l.OwnerID
	} else {
		h.logger.Debug("relaying entry for unregistered lock", "device_id", entry.DeviceID, "error", err)
	}

	data, err := json.Marshal(WSMessage{
		Type:      WSTypeEvent,
		EventType: EventLockEntry,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   entry,
	})
	if err != nil {
		h.logger.Error("encoding websocket event failed", "error", err)
		return
	}

	for _, c := range recipients {
		if c.canSee(owner) && c.follows(entry.DeviceID) {
			c.trySend(data)
		}
	}
}

// snapshot copies the client set so sends happen without the hub lock.
func (h *Hub) snapshot() []*WSClient {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*WSClient, 0, len(h.clients))
	for c := range h.clients {
		out = append(out, c)
	}
	return out
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*WSClient]struct{})
	h.mu.Unlock()

	for c := range clients {
		c.close()
		if c.conn != nil {
			c.conn.Close()
		}
	}
}

func (h *Hub) newClient(conn *websocket.Conn, userID string, role auth.Role) *WSClient {
	return &WSClient{
		hub:     h,
		conn:    conn,
		userID:  userID,
		role:    role,
		send:    make(chan []byte, wsSendBuffer),
		devices: make(map[string]struct{}),
	}
}

// handleWebSocket upgrades a connection authenticated by a single-use
// ticket from POST /auth/ws-ticket. Browsers cannot set headers on the
// upgrade request, so the bearer token is not used here.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ticket := r.URL.Query().Get("ticket")
	if ticket == "" {
		writeUnauthorized(w, "ticket query parameter is required")
		return
	}
	holder, ok := s.validateTicket(ticket)
	if !ok {
		writeUnauthorized(w, "invalid or expired ticket")
		return
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || s.originAllowed(origin)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := s.hub.newClient(conn, holder.userID, holder.role)
	s.hub.Register(c)

	go c.writePump()
	go c.readPump()
}

func (c *WSClient) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	deadline := c.hub.pingInterval + c.hub.pongWait
	extend := func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(deadline))
	}

	c.conn.SetReadLimit(c.hub.readLimit)
	extend("") //nolint:errcheck // a failed deadline surfaces on the next read
	c.conn.SetPongHandler(extend)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "user_id", c.userID, "error", err)
			}
			return
		}
		extend("") //nolint:errcheck // a failed deadline surfaces on the next read
		c.handleMessage(data)
	}
}

func (c *WSClient) writePump() {
	ping := time.NewTicker(c.hub.pingInterval)
	defer func() {
		ping.Stop()
		c.conn.Close()
	}()

	write := func(kind int, data []byte) error {
		//nolint:errcheck // a failed deadline surfaces on the write
		c.conn.SetWriteDeadline(time.Now().Add(c.hub.pongWait))
		return c.conn.WriteMessage(kind, data)
	}

	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				write(websocket.CloseMessage, nil) //nolint:errcheck // connection is closing
				return
			}
			if err := write(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ping.C:
			if err := write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage applies one inbound frame.
func (c *WSClient) handleMessage(data []byte) {
	var req wsRequest
	if err := json.Unmarshal(data, &req); err != nil {
		c.sendError("", "invalid JSON message")
		return
	}

	switch req.Type {
	case WSTypeSubscribe, WSTypeUnsubscribe:
		c.handleSubscription(req)
	case WSTypePing:
		c.reply(req.ID, WSTypePong, nil)
	default:
		c.sendError(req.ID, "unknown message type: "+req.Type)
	}
}

// handleSubscription adds devices to, or removes them from, the filter.
func (c *WSClient) handleSubscription(req wsRequest) {
	var sub WSSubscribePayload
	if len(req.Payload) > 0 {
		if err := json.Unmarshal(req.Payload, &sub); err != nil {
			c.sendError(req.ID, "invalid "+req.Type+" payload")
			return
		}
	}

	c.mu.Lock()
	for _, id := range sub.Devices {
		if req.Type == WSTypeSubscribe {
			c.devices[id] = struct{}{}
		} else {
			delete(c.devices, id)
		}
	}
	c.mu.Unlock()

	key := "subscribed"
	if req.Type == WSTypeUnsubscribe {
		key = "unsubscribed"
	}
	c.reply(req.ID, WSTypeResponse, map[string]any{key: sub.Devices})
}

// canSee reports whether entries for a lock owned by owner may reach c.
func (c *WSClient) canSee(owner string) bool {
	return c.role == auth.RoleAdmin || (owner != "" && owner == c.userID)
}

// follows applies the device filter. An empty filter follows everything.
func (c *WSClient) follows(deviceID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.devices) == 0 {
		return true
	}
	_, ok := c.devices[deviceID]
	return ok
}

// trySend queues data unless the client is closed or its buffer is full.
func (c *WSClient) trySend(data []byte) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

func (c *WSClient) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *WSClient) reply(id, msgType string, payload any) {
	data, err := json.Marshal(WSMessage{
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

func (c *WSClient) sendError(id, message string) {
	c.reply(id, WSTypeError, map[string]string{"message": message})
}
