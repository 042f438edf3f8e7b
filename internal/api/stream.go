package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"pricewatch/internal/model"
	"pricewatch/internal/refresh"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	sendBuffer = 16
	readLimit  = 4096
)

// Hub fans coordinator state out to websocket clients.
type Hub struct {
	coord Coordinator
	log   *slog.Logger

	mu      sync.RWMutex
	clients map[*Client]bool
}

// NewHub creates a hub over coord. Call Run to start forwarding publications.
func NewHub(coord Coordinator, log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		coord:   coord,
		log:     log.With("component", "stream"),
		clients: make(map[*Client]bool),
	}
}

// Run subscribes to the coordinator and broadcasts every published state
// until ctx is cancelled, then disconnects all clients.
func (h *Hub) Run(ctx context.Context) {
	unsubscribe := h.coord.Subscribe(h.BroadcastState)
	<-ctx.Done()
	unsubscribe()

	h.mu.Lock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// BroadcastState encodes st once and queues it on every client. Slow clients
// lose messages rather than block the publisher; each state is complete.
func (h *Hub) BroadcastState(st refresh.State) {
	msg, err := envelope("state", NewStateDTO(st))
	if err != nil {
		h.log.Error("encode state", "error", err)
		return
	}
	h.broadcast(msg)
}

func (h *Hub) broadcast(msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Serve registers conn and starts its pumps. The client is registered and
// handed the current state under one lock, so any publication after the
// snapshot is broadcast to it too.
func (h *Hub) Serve(conn *websocket.Conn) {
	c := &Client{
		conn: conn,
		send: make(chan []byte, sendBuffer),
		hub:  h,
	}

	h.mu.Lock()
	h.clients[c] = true
	if msg, err := envelope("state", NewStateDTO(h.coord.State())); err == nil {
		c.send <- msg
	}
	count := len(h.clients)
	h.mu.Unlock()
	h.log.Info("client connected", "clients", count)

	go c.writePump()
	go c.readPump()
}

func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	if h.clients[c] {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// Client is one websocket connection.
type Client struct {
	conn *websocket.Conn
	send chan []byte
	hub  *Hub
}

// reply queues msg without blocking the read loop.
func (c *Client) reply(typ string, v any) {
	msg, err := envelope(typ, v)
	if err != nil {
		return
	}
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if !c.hub.clients[c] {
		return
	}
	select {
	case c.send <- msg:
	default:
	}
}

func (c *Client) writePump() {
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

func (c *Client) readPump() {
	defer func() {
		c.hub.remove(c)
		c.conn.Close()
		c.hub.log.Info("client disconnected")
	}()

	c.conn.SetReadLimit(readLimit)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg ClientMsg
		if json.Unmarshal(raw, &msg) != nil {
			c.reply("error", errorBody{Error: "invalid message"})
			continue
		}
		c.handle(msg)
	}
}

// handle runs a client command. Resulting state changes reach every client
// through the coordinator's publications.
func (c *Client) handle(msg ClientMsg) {
	switch msg.Type {
	case "ping":
		c.reply("pong", map[string]int64{"ping": msg.Ping})

	case "toggle":
		kind, err := model.ParseOverlayKind(msg.Overlay)
		if err != nil {
			c.reply("error", errorBody{Error: err.Error()})
			return
		}
		c.hub.coord.ToggleOverlay(kind)

	case "load":
		window, err := model.ParseTimeRange(msg.Range)
		if err != nil {
			c.reply("error", errorBody{Error: err.Error()})
			return
		}
		go func() {
			if err := c.hub.coord.Load(context.Background(), refresh.View{Window: window}); err != nil {
				c.hub.log.Warn("stream load failed", "range", string(window), "error", err)
			}
		}()

	default:
		c.reply("error", errorBody{Error: "unknown message type " + msg.Type})
	}
}
