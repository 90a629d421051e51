// Package ws fans progress events out to connected websocket clients.
package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/okian/fleetreport/pkg/logger"
)

// MsgTypeInit is the first message a client receives.
const MsgTypeInit = "init"

const (
	sendBuffer      = 64
	broadcastBuffer = 256
	writeWait       = 10 * time.Second
)

// Message is the wire envelope.
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Client is one websocket connection.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// Hub tracks clients and broadcasts to all of them. Slow clients are dropped.
type Hub struct {
	logger     logger.Logger
	clients    map[*Client]struct{}
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.RWMutex

	initData func() any
}

// NewHub creates a Hub. Call Run to start it.
func NewHub(l logger.Logger) *Hub {
	if l == nil {
		l = logger.Get().Named("ws")
	}
	return &Hub{
		logger:     l,
		clients:    make(map[*Client]struct{}),
		broadcast:  make(chan []byte, broadcastBuffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// SetInitDataProvider sets what a new client receives on connect.
func (h *Hub) SetInitDataProvider(provider func() any) {
	h.initData = provider
}

// Run serves registrations and broadcasts until ctx is done, then closes
// every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info(ctx, "websocket client connected", logger.Int("clients", n))
			h.sendInit(ctx, c)

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info(ctx, "websocket client disconnected", logger.Int("clients", n))

		case msg := <-h.broadcast:
			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					delete(h.clients, c)
					close(c.send)
				}
			}
			h.mu.Unlock()
		}
	}
}

func (h *Hub) sendInit(ctx context.Context, c *Client) {
	if h.initData == nil {
		return
	}
	data, err := json.Marshal(Message{Type: MsgTypeInit, Data: h.initData()})
	if err != nil {
		h.logger.Error(ctx, "marshal init message", logger.Error(err))
		return
	}
	select {
	case c.send <- data:
	default:
		h.logger.Warn(ctx, "init message dropped, client buffer full")
	}
}

// Broadcast sends a typed message to every client. It never blocks; when
// the hub is saturated the message is dropped.
func (h *Hub) Broadcast(msgType string, data any) {
	payload, err := json.Marshal(Message{Type: msgType, Data: data})
	if err != nil {
		h.logger.Error(context.Background(), "marshal broadcast message", logger.Error(err))
		return
	}
	select {
	case h.broadcast <- payload:
	default:
		h.logger.Warn(context.Background(), "broadcast dropped", logger.String("type", msgType))
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Attach registers conn with the hub and starts its pumps.
func (h *Hub) Attach(conn *websocket.Conn) {
	c := &Client{hub: h, conn: conn, send: make(chan []byte, sendBuffer)}
	select {
	case h.register <- c:
	case <-h.done:
		_ = conn.Close()
		return
	}
	go c.readPump()
	go c.writePump()
}

// readPump drains client frames so control messages are handled; clients
// are not expected to send anything.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		_ = c.conn.Close()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
	_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}
