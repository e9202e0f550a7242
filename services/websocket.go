package services

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/CrowderSoup/kanban-board/events"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 64 * 1024

	sendBufferSize = 256
)

// ErrHubStopped is returned when publishing to a hub whose loop has exited.
var ErrHubStopped = errors.New("hub stopped")

// Client represents a connected WebSocket client
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	UserID string
	Email  string
}

// NewClient wraps an upgraded connection for the hub.
func NewClient(hub *Hub, conn *websocket.Conn, userID, email string) *Client {
	return &Client{
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		UserID: userID,
		Email:  email,
	}
}

type subscription struct {
	client *Client
	table  events.Table
	active bool
}

// ReadPump pumps messages from the WebSocket connection to the hub
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Warn("websocket read failed", "user", c.Email, "error", err)
			}
			return
		}
		c.hub.metrics.MessagesReceived.Add(1)

		var msg events.Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			slog.Debug("dropping malformed websocket message", "user", c.Email, "error", err)
			c.reply(events.TypeError, map[string]string{"error": "malformed message"})
			continue
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))

		switch msg.Type {
		case events.TypePing:
			c.reply(events.TypePong, map[string]string{"timestamp": time.Now().UTC().Format(time.RFC3339)})
		case events.TypeSubscribe, events.TypeUnsubscribe:
			var req events.SubscribeRequest
			if err := json.Unmarshal(msg.Data, &req); err != nil || !req.Table.Valid() {
				c.reply(events.TypeError, map[string]string{"error": "unknown table"})
				continue
			}
			select {
			case c.hub.subscriptions <- subscription{client: c, table: req.Table, active: msg.Type == events.TypeSubscribe}:
			case <-c.hub.done:
				return
			}
		default:
			slog.Debug("ignoring websocket message", "type", msg.Type, "user", c.Email)
		}
	}
}

// reply queues a message for this client only.
func (c *Client) reply(typ string, data any) {
	msg, err := events.NewMessage(typ, data)
	if err != nil {
		slog.Error("failed to encode reply", "type", typ, "error", err)
		return
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		slog.Error("failed to encode reply", "type", typ, "error", err)
		return
	}
	select {
	case c.hub.direct <- directMessage{client: c, payload: raw}:
	case <-c.hub.done:
	}
}

// WritePump pumps messages from the hub to the WebSocket connection
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
				// The hub closed the channel
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

type directMessage struct {
	client  *Client
	payload []byte
}

// Hub maintains the set of active clients and fans change events out to
// the clients subscribed to the event's table.
type Hub struct {
	clients       map[*Client]map[events.Table]bool
	broadcast     chan events.ChangeEvent
	direct        chan directMessage
	register      chan *Client
	unregister    chan *Client
	subscriptions chan subscription
	done          chan struct{}
	metrics       *HubMetrics
}

// NewHub creates a new hub instance
func NewHub() *Hub {
	return &Hub{
		clients:       make(map[*Client]map[events.Table]bool),
		broadcast:     make(chan events.ChangeEvent, 64),
		direct:        make(chan directMessage, 64),
		register:      make(chan *Client),
		unregister:    make(chan *Client),
		subscriptions: make(chan subscription),
		done:          make(chan struct{}),
		metrics:       NewHubMetrics(),
	}
}

// Metrics exposes the hub counters.
func (h *Hub) Metrics() *HubMetrics {
	return h.metrics
}

// Register adds a client to the hub
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
		close(client.send)
	}
}

// Unregister removes a client from the hub
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Publish queues a change event for fan-out. The hub itself is the
// in-process Publisher.
func (h *Hub) Publish(ctx context.Context, ev events.ChangeEvent) error {
	select {
	case h.broadcast <- ev:
		return nil
	case <-h.done:
		return ErrHubStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run starts the hub's main loop and returns when ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		close(h.done)
		for client := range h.clients {
			close(client.send)
		}
		h.clients = nil
		h.metrics.ConnectedClients.Store(0)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case client := <-h.register:
			h.clients[client] = make(map[events.Table]bool)
			h.metrics.ConnectedClients.Store(int32(len(h.clients)))
			slog.Info("websocket client connected", "user", client.Email)
		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				h.drop(client)
				slog.Info("websocket client disconnected", "user", client.Email)
			}
		case sub := <-h.subscriptions:
			tables, ok := h.clients[sub.client]
			if !ok {
				continue
			}
			if !sub.active {
				delete(tables, sub.table)
				continue
			}
			tables[sub.table] = true
			h.deliverEncoded(sub.client, events.TypeSubscribed, events.SubscribeRequest{Table: sub.table})
		case dm := <-h.direct:
			if _, ok := h.clients[dm.client]; ok {
				h.deliver(dm.client, dm.payload)
			}
		case ev := <-h.broadcast:
			h.metrics.EventsPublished.Add(1)
			msg, err := events.NewMessage(events.TypeChange, ev)
			if err != nil {
				slog.Error("failed to encode change event", "table", ev.Table, "error", err)
				continue
			}
			msg.User = ev.Actor
			payload, err := json.Marshal(msg)
			if err != nil {
				slog.Error("failed to encode change event", "table", ev.Table, "error", err)
				continue
			}
			for client, tables := range h.clients {
				if tables[ev.Table] {
					h.deliver(client, payload)
				}
			}
		}
	}
}

func (h *Hub) deliverEncoded(client *Client, typ string, data any) {
	msg, err := events.NewMessage(typ, data)
	if err != nil {
		slog.Error("failed to encode message", "type", typ, "error", err)
		return
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		slog.Error("failed to encode message", "type", typ, "error", err)
		return
	}
	h.deliver(client, payload)
}

// deliver hands a frame to a client, dropping clients whose buffer is full.
func (h *Hub) deliver(client *Client, payload []byte) {
	select {
	case client.send <- payload:
		h.metrics.MessagesSent.Add(1)
	default:
		slog.Warn("websocket send buffer full, removing client", "user", client.Email)
		h.metrics.ClientsDropped.Add(1)
		h.drop(client)
	}
}

func (h *Hub) drop(client *Client) {
	delete(h.clients, client)
	close(client.send)
	h.metrics.ConnectedClients.Store(int32(len(h.clients)))
}
