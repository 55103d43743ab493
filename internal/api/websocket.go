package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/lumen-core/internal/bridges/yeelight"
	"github.com/nerrad567/lumen-core/internal/infrastructure/config"
	"github.com/nerrad567/lumen-core/internal/infrastructure/logging"
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

	// EventLightSnapshot carries every known light to a client that just
	// subscribed to light.state, so it starts from the full picture.
	EventLightSnapshot = "light.snapshot"

	// wsSendBufferSize is the per-client outbound message buffer size.
	wsSendBufferSize = 256
)

// wsChannels are the event channels a client may subscribe to.
var wsChannels = map[string]struct{}{
	yeelight.EventLightState:      {},
	yeelight.EventLightConnection: {},
	yeelight.EventLightDiscovered: {},
}

// WSMessage represents a message sent to/from a WebSocket client.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// WSSubscribePayload is the payload for subscribe/unsubscribe messages.
type WSSubscribePayload struct {
	Channels []string `json:"channels"`
}

// Hub fans light events out to WebSocket clients. It satisfies
// yeelight.EventSink.
//
// A client whose buffer is full misses events rather than stalling the
// bridge; misses are counted in Dropped.
type Hub struct {
	cfg     config.WebSocketConfig
	logger  *logging.Logger
	now     func() time.Time
	clients map[*WSClient]struct{}
	mu      sync.RWMutex

	dropped atomic.Uint64
}

// WSClient represents a connected WebSocket client.
type WSClient struct {
	hub           *Hub
	conn          *websocket.Conn
	send          chan []byte
	snapshot      func() []yeelight.LightStatus
	subscriptions map[string]struct{}
	mu            sync.RWMutex

	// lagging is set after the first dropped event so a slow client is
	// logged once, not per event.
	lagging atomic.Bool
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// Origin checking is handled by CORS middleware
		return true
	},
}

// NewHub creates a new WebSocket hub.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
		clients: make(map[*WSClient]struct{}),
	}
}

// Run blocks until ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// Register adds a client to the hub.
func (h *Hub) Register(client *WSClient) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "clients", n)
}

// Unregister removes a client. Only the call that removes it closes its
// send channel, so a racing shutdown cannot close it twice.
func (h *Hub) Unregister(client *WSClient) {
	h.mu.Lock()
	_, existed := h.clients[client]
	delete(h.clients, client)
	n := len(h.clients)
	h.mu.Unlock()

	if existed {
		close(client.send)
		h.logger.Debug("websocket client disconnected", "clients", n)
	}
}

// Broadcast sends a light event to every client subscribed to channel.
func (h *Hub) Broadcast(channel string, payload any) {
	data, err := h.encode(WSMessage{Type: WSTypeEvent, EventType: channel, Payload: payload})
	if err != nil {
		h.logger.Error("encoding light event", "channel", channel, "error", err)
		return
	}

	// Client locks are never taken while holding the hub lock.
	h.mu.RLock()
	clients := make([]*WSClient, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	for _, client := range clients {
		if client.isSubscribed(channel) {
			client.deliver(data)
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Dropped returns how many events were not delivered to slow clients.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

func (h *Hub) encode(msg WSMessage) ([]byte, error) {
	msg.Timestamp = h.now().UTC().Format(time.RFC3339)
	return json.Marshal(msg)
}

// closeAll disconnects every client; closing send lets writePump exit.
func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		close(client.send)
		if client.conn != nil {
			client.conn.Close()
		}
		delete(h.clients, client)
	}
}

// handleWebSocket upgrades the request. Clients receive nothing until
// they subscribe to one or more of the light.state, light.connection and
// light.discovered channels.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := &WSClient{
		hub:           s.hub,
		conn:          conn,
		send:          make(chan []byte, wsSendBufferSize),
		snapshot:      s.lights.Lights,
		subscriptions: make(map[string]struct{}),
	}
	s.hub.Register(client)

	go client.writePump(s.wsCfg)
	go client.readPump(s.wsCfg)
}

// readPump handles client requests until the connection fails. Any
// message, not only a pong, extends the read deadline.
func (c *WSClient) readPump(cfg config.WebSocketConfig) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	readWait := time.Duration(cfg.PingInterval+cfg.PongTimeout) * time.Second
	extend := func() error { return c.conn.SetReadDeadline(time.Now().Add(readWait)) }

	c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	extend() //nolint:errcheck // A failed deadline surfaces as a read error
	c.conn.SetPongHandler(func(string) error { return extend() })

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "error", err)
			}
			return
		}
		extend() //nolint:errcheck // As above
		c.handleMessage(message)
	}
}

// writePump drains send and pings at the configured interval.
func (c *WSClient) writePump(cfg config.WebSocketConfig) {
	ticker := time.NewTicker(time.Duration(cfg.PingInterval) * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	writeWait := time.Duration(cfg.PongTimeout) * time.Second
	write := func(kind int, data []byte) error {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck // Write reports it
		return c.conn.WriteMessage(kind, data)
	}

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				write(websocket.CloseMessage, nil) //nolint:errcheck // Closing anyway
				return
			}
			if err := write(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			if err := write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *WSClient) handleMessage(data []byte) {
	var msg struct {
		Type    string             `json:"type"`
		ID      string             `json:"id"`
		Payload WSSubscribePayload `json:"payload"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError("", "invalid JSON message")
		return
	}

	switch msg.Type {
	case WSTypeSubscribe:
		c.subscribe(msg.ID, msg.Payload.Channels)
	case WSTypeUnsubscribe:
		c.unsubscribe(msg.ID, msg.Payload.Channels)
	case WSTypePing:
		c.reply(WSMessage{Type: WSTypePong, ID: msg.ID})
	default:
		c.sendError(msg.ID, "unknown message type: "+msg.Type)
	}
}

// subscribe adds channels. A request naming any unknown channel is
// rejected whole. Subscribing to light.state is answered with a snapshot
// of every light after the response.
func (c *WSClient) subscribe(id string, channels []string) {
	if len(channels) == 0 {
		c.sendError(id, "no channels given")
		return
	}
	var unknown []string
	for _, ch := range channels {
		if _, ok := wsChannels[ch]; !ok {
			unknown = append(unknown, ch)
		}
	}
	if len(unknown) > 0 {
		c.sendError(id, "unknown channels: "+strings.Join(unknown, ", ")+"; want one of "+knownChannels())
		return
	}

	c.mu.Lock()
	_, hadState := c.subscriptions[yeelight.EventLightState]
	for _, ch := range channels {
		c.subscriptions[ch] = struct{}{}
	}
	_, hasState := c.subscriptions[yeelight.EventLightState]
	c.mu.Unlock()

	c.hub.logger.Debug("websocket client subscribed", "channels", channels)
	c.reply(WSMessage{Type: WSTypeResponse, ID: id, Payload: map[string]any{"subscribed": channels}})

	if hasState && !hadState && c.snapshot != nil {
		c.reply(WSMessage{Type: WSTypeEvent, EventType: EventLightSnapshot, Payload: c.snapshot()})
	}
}

func (c *WSClient) unsubscribe(id string, channels []string) {
	c.mu.Lock()
	for _, ch := range channels {
		delete(c.subscriptions, ch)
	}
	c.mu.Unlock()

	c.reply(WSMessage{Type: WSTypeResponse, ID: id, Payload: map[string]any{"unsubscribed": channels}})
}

func knownChannels() string {
	names := make([]string, 0, len(wsChannels))
	for ch := range wsChannels {
		names = append(names, ch)
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}

// deliver queues data without blocking. A full buffer drops the event;
// a channel closed by a concurrent Unregister is absorbed.
func (c *WSClient) deliver(data []byte) {
	defer func() {
		recover() //nolint:errcheck // Send on closed channel during shutdown
	}()

	select {
	case c.send <- data:
	default:
		c.hub.dropped.Add(1)
		if !c.lagging.Swap(true) {
			c.hub.logger.Warn("websocket client too slow, dropping light events", "buffer", cap(c.send))
		}
	}
}

func (c *WSClient) isSubscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.subscriptions[channel]
	return ok
}

func (c *WSClient) reply(msg WSMessage) {
	data, err := c.hub.encode(msg)
	if err != nil {
		c.hub.logger.Error("encoding websocket reply", "type", msg.Type, "error", err)
		return
	}
	c.deliver(data)
}

func (c *WSClient) sendError(id, message string) {
	c.reply(WSMessage{Type: WSTypeError, ID: id, Payload: map[string]string{"message": message}})
}
