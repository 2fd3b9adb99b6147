package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/gray-logic-gpio/internal/auth"
	"github.com/nerrad567/gray-logic-gpio/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-gpio/internal/infrastructure/logging"
)

// WebSocket frame types.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"

	wsSendQueue = 256
)

// WSMessage is the envelope for every frame in both directions.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// WSSubscribePayload names channels to join or leave. Pins narrows a
// subscription to events for those GPIOs; empty means every pin.
type WSSubscribePayload struct {
	Channels []string `json:"channels"`
	Pins     []int    `json:"pins,omitempty"`
}

// PinEvent is implemented by broadcast payloads that concern one GPIO.
type PinEvent interface {
	EventPin() int
}

// pinFilter is nil for "all pins".
type pinFilter map[int]struct{}

func newPinFilter(pins []int) pinFilter {
	if len(pins) == 0 {
		return nil
	}
	f := make(pinFilter, len(pins))
	for _, p := range pins {
		f[p] = struct{}{}
	}
	return f
}

func (f pinFilter) match(payload any) bool {
	if f == nil {
		return true
	}
	ev, ok := payload.(PinEvent)
	if !ok {
		return true
	}
	_, hit := f[ev.EventPin()]
	return hit
}

// Hub fans bridge events out to WebSocket clients. It satisfies
// bridge.Broadcaster.
type Hub struct {
	cfg    config.WebSocketConfig
	logger *logging.Logger

	mu    sync.RWMutex
	conns map[*WSClient]struct{}
}

// WSClient is one upgraded connection and its channel subscriptions.
type WSClient struct {
	hub     *Hub
	conn    *websocket.Conn
	send    chan []byte
	subject string
	role    auth.Role

	mu   sync.RWMutex
	subs map[string]pinFilter
}

// CORS middleware already vets the origin.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// NewHub returns an empty hub.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Hub{cfg: cfg, logger: logger, conns: make(map[*WSClient]struct{})}
}

// Run waits for ctx and then drops every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.conns {
		delete(h.conns, c)
		close(c.send)
		if c.conn != nil {
			c.conn.Close()
		}
	}
}

// Register adds c to the fan-out set.
func (h *Hub) Register(c *WSClient) {
	h.mu.Lock()
	h.conns[c] = struct{}{}
	n := len(h.conns)
	h.mu.Unlock()
	h.logger.Debug("websocket client joined", "subject", c.subject, "clients", n)
}

// Unregister removes c. Its send queue is closed exactly once, by
// whichever caller actually removed it.
func (h *Hub) Unregister(c *WSClient) {
	h.mu.Lock()
	_, present := h.conns[c]
	delete(h.conns, c)
	n := len(h.conns)
	h.mu.Unlock()

	if present {
		close(c.send)
		h.logger.Debug("websocket client left", "subject", c.subject, "clients", n)
	}
}

// Broadcast queues an event frame for every client subscribed to channel
// whose pin filter accepts payload. Slow clients miss frames rather than
// stall the notification path.
func (h *Hub) Broadcast(channel string, payload any) {
	frame, err := json.Marshal(WSMessage{
		Type:      WSTypeEvent,
		EventType: channel,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Payload:   payload,
	})
	if err != nil {
		h.logger.Error("websocket event not encodable", "channel", channel, "error", err)
		return
	}

	h.mu.RLock()
	targets := make([]*WSClient, 0, len(h.conns))
	for c := range h.conns {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if c.wants(channel, payload) {
			c.enqueue(frame)
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// handleWebSocket upgrades after redeeming a one-shot ticket from
// POST /auth/ws-ticket, since browsers cannot set headers on upgrade.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ticket := r.URL.Query().Get("ticket")
	if ticket == "" {
		writeUnauthorized(w, "ticket query parameter is required")
		return
	}
	entry, ok := s.tickets.consume(ticket)
	if !ok {
		writeUnauthorized(w, "invalid or expired ticket")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	c := &WSClient{
		hub:     s.hub,
		conn:    conn,
		send:    make(chan []byte, wsSendQueue),
		subject: entry.subject,
		role:    entry.role,
		subs:    make(map[string]pinFilter),
	}
	s.hub.Register(c)

	ping, pong := keepalive(s.wsCfg)
	go c.writeLoop(ping, pong)
	go c.readLoop(s.wsCfg.MaxMessageSize, ping+pong)
}

// keepalive returns the ping period and pong grace, defaulting to 30s/10s.
func keepalive(cfg config.WebSocketConfig) (ping, pong time.Duration) {
	ping, pong = 30*time.Second, 10*time.Second
	if cfg.PingInterval > 0 {
		ping = time.Duration(cfg.PingInterval) * time.Second
	}
	if cfg.PongTimeout > 0 {
		pong = time.Duration(cfg.PongTimeout) * time.Second
	}
	return ping, pong
}

func (c *WSClient) readLoop(limit int, idle time.Duration) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	if limit > 0 {
		c.conn.SetReadLimit(int64(limit))
	}
	extend := func() error { return c.conn.SetReadDeadline(time.Now().Add(idle)) }
	_ = extend()
	c.conn.SetPongHandler(func(string) error { return extend() })

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read failed", "subject", c.subject, "error", err)
			}
			return
		}
		_ = extend()
		c.dispatch(data)
	}
}

func (c *WSClient) writeLoop(ping, writeWait time.Duration) {
	ticker := time.NewTicker(ping)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		var (
			kind = websocket.TextMessage
			data []byte
		)
		select {
		case frame, open := <-c.send:
			if !open {
				_ = c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			data = frame
		case <-ticker.C:
			kind = websocket.PingMessage
		}

		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(kind, data); err != nil {
			return
		}
	}
}

func (c *WSClient) dispatch(data []byte) {
	var msg struct {
		Type    string          `json:"type"`
		ID      string          `json:"id"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		c.reply("", WSTypeError, map[string]string{"message": "invalid JSON message"})
		return
	}

	switch msg.Type {
	case WSTypeSubscribe, WSTypeUnsubscribe:
		var sub WSSubscribePayload
		if len(msg.Payload) == 0 || json.Unmarshal(msg.Payload, &sub) != nil {
			c.reply(msg.ID, WSTypeError, map[string]string{"message": "invalid " + msg.Type + " payload"})
			return
		}
		c.reply(msg.ID, WSTypeResponse, c.apply(msg.Type == WSTypeSubscribe, sub))
	case WSTypePing:
		c.reply(msg.ID, WSTypePong, nil)
	default:
		c.reply(msg.ID, WSTypeError, map[string]string{"message": "unknown message type: " + msg.Type})
	}
}

// apply joins or leaves the named channels and returns the ack payload.
func (c *WSClient) apply(join bool, sub WSSubscribePayload) map[string]any {
	filter := newPinFilter(sub.Pins)

	c.mu.Lock()
	for _, ch := range sub.Channels {
		if join {
			c.subs[ch] = filter
		} else {
			delete(c.subs, ch)
		}
	}
	c.mu.Unlock()

	if !join {
		return map[string]any{"unsubscribed": sub.Channels}
	}
	c.hub.logger.Info("websocket subscription", "subject", c.subject, "channels", sub.Channels, "pins", sub.Pins)
	ack := map[string]any{"subscribed": sub.Channels}
	if len(sub.Pins) > 0 {
		ack["pins"] = sub.Pins
	}
	return ack
}

func (c *WSClient) wants(channel string, payload any) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	filter, ok := c.subs[channel]
	return ok && filter.match(payload)
}

// enqueue drops the frame when the queue is full or already closed by a
// concurrent Unregister.
func (c *WSClient) enqueue(frame []byte) {
	defer func() { _ = recover() }()

	select {
	case c.send <- frame:
	default:
	}
}

func (c *WSClient) reply(id, kind string, payload any) {
	frame, err := json.Marshal(WSMessage{
		Type:      kind,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err == nil {
		c.enqueue(frame)
	}
}
