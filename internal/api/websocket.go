// Package api provides WebSocket functionality for real-time updates.
package api

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/atlas-desktop/sol-autotrader/pkg/types"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// MessageType defines WebSocket message types.
type MessageType string

const (
	// Server -> Client messages
	MsgTypeStatus        MessageType = "status"
	MsgTypeEvent         MessageType = "event"
	MsgTypeCommandResult MessageType = "command_result"
	MsgTypeError         MessageType = "error"
	MsgTypeHeartbeat     MessageType = "heartbeat"

	// Client -> Server messages
	MsgTypeSubscribe   MessageType = "subscribe"
	MsgTypeUnsubscribe MessageType = "unsubscribe"
	MsgTypeCommand     MessageType = "command"
)

// ChannelEvents carries every recorded event. "events:<type>" narrows it to one type.
const ChannelEvents = "events"

const (
	heartbeatInterval = 30 * time.Second
	pongWait          = 60 * time.Second
	pingPeriod        = 54 * time.Second
	writeWait         = 10 * time.Second
	maxMessageSize    = 65536
)

// WSMessage is a WebSocket message.
type WSMessage struct {
	Type      MessageType     `json:"type"`
	Channel   string          `json:"channel,omitempty"`
	Action    string          `json:"action,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     string          `json:"error,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// Commander applies operator commands received over the socket.
type Commander interface {
	Command(ctx context.Context, action string) error
}

// Client is a WebSocket client connection.
type Client struct {
	id            string
	hub           *Hub
	conn          *websocket.Conn
	send          chan []byte
	subscriptions map[string]bool
	mu            sync.RWMutex
}

// Hub manages WebSocket connections.
type Hub struct {
	logger     *zap.Logger
	commander  Commander
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	channels   map[string]map[*Client]bool
	mu         sync.RWMutex
}

// NewHub creates a new WebSocket hub.
func NewHub(logger *zap.Logger, commander Commander) *Hub {
	return &Hub{
		logger:     logger.Named("ws-hub"),
		commander:  commander,
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		channels:   make(map[string]map[*Client]bool),
	}
}

// Run serves the hub until ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				h.removeLocked(client)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.logger.Debug("Client registered", zap.String("id", client.id))

		case client := <-h.unregister:
			h.mu.Lock()
			h.removeLocked(client)
			h.mu.Unlock()
			h.logger.Debug("Client unregistered", zap.String("id", client.id))

		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					h.removeLocked(client)
				}
			}
			h.mu.Unlock()

		case <-ticker.C:
			h.sendHeartbeat()
		}
	}
}

// removeLocked drops a client and closes its send channel. Caller holds h.mu.
func (h *Hub) removeLocked(client *Client) {
	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)
	close(client.send)

	client.mu.RLock()
	defer client.mu.RUnlock()
	for channel := range client.subscriptions {
		if clients, ok := h.channels[channel]; ok {
			delete(clients, client)
			if len(clients) == 0 {
				delete(h.channels, channel)
			}
		}
	}
}

// sendHeartbeat sends heartbeat to all clients.
func (h *Hub) sendHeartbeat() {
	data, _ := json.Marshal(WSMessage{
		Type:      MsgTypeHeartbeat,
		Timestamp: time.Now().UnixMilli(),
	})

	h.mu.RLock()
	for client := range h.clients {
		select {
		case client.send <- data:
		default:
		}
	}
	h.mu.RUnlock()
}

// Subscribe subscribes a client to a channel.
func (h *Hub) Subscribe(client *Client, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.channels[channel] == nil {
		h.channels[channel] = make(map[*Client]bool)
	}
	h.channels[channel][client] = true

	client.mu.Lock()
	client.subscriptions[channel] = true
	client.mu.Unlock()

	h.logger.Debug("Client subscribed to channel",
		zap.String("client", client.id),
		zap.String("channel", channel))
}

// Unsubscribe unsubscribes a client from a channel.
func (h *Hub) Unsubscribe(client *Client, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if clients, ok := h.channels[channel]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.channels, channel)
		}
	}

	client.mu.Lock()
	delete(client.subscriptions, channel)
	client.mu.Unlock()
}

// PublishToChannel publishes a message to a channel.
func (h *Hub) PublishToChannel(channel string, msgType MessageType, data interface{}) {
	msgBytes, err := encode(WSMessage{Type: msgType, Channel: channel}, data)
	if err != nil {
		h.logger.Error("Failed to marshal message", zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.channels[channel] {
		select {
		case client.send <- msgBytes:
		default:
		}
	}
}

// Broadcast sends a message to all clients.
func (h *Hub) Broadcast(msgType MessageType, data interface{}) {
	msgBytes, err := encode(WSMessage{Type: msgType}, data)
	if err != nil {
		h.logger.Error("Failed to marshal broadcast", zap.Error(err))
		return
	}

	select {
	case h.broadcast <- msgBytes:
	default:
		h.logger.Warn("Broadcast channel full, dropping message")
	}
}

// PublishEvent fans a recorded event out to the events channels. Used as an
// event bus handler.
func (h *Hub) PublishEvent(event types.Event) error {
	h.PublishToChannel(ChannelEvents, MsgTypeEvent, event)
	h.PublishToChannel(ChannelEvents+":"+event.Type, MsgTypeEvent, event)
	return nil
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func encode(msg WSMessage, data interface{}) ([]byte, error) {
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		msg.Data = raw
	}
	msg.Timestamp = time.Now().UnixMilli()
	return json.Marshal(msg)
}

// NewClient creates a new client.
func NewClient(id string, hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		id:            id,
		hub:           hub,
		conn:          conn,
		send:          make(chan []byte, 256),
		subscriptions: make(map[string]bool),
	}
}

// reply queues a message for this client only. Dropped when the buffer is full.
func (c *Client) reply(msg WSMessage, data interface{}) {
	raw, err := encode(msg, data)
	if err != nil {
		return
	}

	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if !c.hub.clients[c] {
		return
	}
	select {
	case c.send <- raw:
	default:
	}
}

// ReadPump pumps messages from the WebSocket to the hub.
func (c *Client) ReadPump(ctx context.Context) {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-ctx.Done():
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Error("WebSocket read error", zap.Error(err))
			}
			break
		}

		var msg WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			c.hub.logger.Warn("Invalid WebSocket message", zap.Error(err))
			c.reply(WSMessage{Type: MsgTypeError, Error: "invalid message"}, nil)
			continue
		}

		switch msg.Type {
		case MsgTypeSubscribe:
			if msg.Channel == ChannelEvents || strings.HasPrefix(msg.Channel, ChannelEvents+":") {
				c.hub.Subscribe(c, msg.Channel)
			} else {
				c.reply(WSMessage{Type: MsgTypeError, Channel: msg.Channel, Error: "unknown channel"}, nil)
			}
		case MsgTypeUnsubscribe:
			c.hub.Unsubscribe(c, msg.Channel)
		case MsgTypeCommand:
			c.handleCommand(ctx, msg)
		}
	}
}

// WritePump pumps messages from the hub to the WebSocket.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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

// handleCommand applies an operator command and replies with the outcome.
func (c *Client) handleCommand(ctx context.Context, msg WSMessage) {
	c.hub.logger.Info("Received command",
		zap.String("client", c.id),
		zap.String("action", msg.Action))

	result := WSMessage{Type: MsgTypeCommandResult, Action: msg.Action}
	if c.hub.commander == nil {
		result.Error = "commands disabled"
	} else if err := c.hub.commander.Command(ctx, msg.Action); err != nil {
		result.Error = err.Error()
	}
	c.reply(result, map[string]bool{"ok": result.Error == ""})
}
