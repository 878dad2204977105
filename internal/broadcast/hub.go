package broadcast

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/glizzus/alfira/internal/playback"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second

	sendBuffer = 16
)

// Client is one websocket watching a guild.
type Client struct {
	hub     *Hub
	conn    *websocket.Conn
	send    chan []byte
	guildID string
}

func NewClient(hub *Hub, conn *websocket.Conn, guildID string) *Client {
	return &Client{
		hub:     hub,
		conn:    conn,
		send:    make(chan []byte, sendBuffer),
		guildID: guildID,
	}
}

type message struct {
	guildID string
	payload []byte
}

// Hub fans snapshots out to the websocket clients of each guild. All
// membership changes go through Run.
type Hub struct {
	guilds map[string]map[*Client]struct{}
	last   map[string][]byte

	register   chan *Client
	unregister chan *Client
	broadcast  chan message

	done     chan struct{}
	stopOnce sync.Once
}

func NewHub() *Hub {
	return &Hub{
		guilds:     make(map[string]map[*Client]struct{}),
		last:       make(map[string][]byte),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan message, 256),
		done:       make(chan struct{}),
	}
}

func (h *Hub) Run() {
	for {
		select {
		case c := <-h.register:
			h.addClient(c)
		case c := <-h.unregister:
			h.removeClient(c)
		case msg := <-h.broadcast:
			h.deliver(msg)
		case <-h.done:
			h.cleanup()
			return
		}
	}
}

func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

// Register adds c and queues the guild's latest snapshot for it.
func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
		close(c.send)
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Broadcast implements playback.Broadcaster.
func (h *Hub) Broadcast(s playback.State) {
	payload, err := json.Marshal(s)
	if err != nil {
		slog.Error("failed to encode playback snapshot", "guildID", s.GuildID, "error", err)
		return
	}
	select {
	case h.broadcast <- message{guildID: s.GuildID, payload: payload}:
	case <-h.done:
	}
}

func (h *Hub) addClient(c *Client) {
	clients, ok := h.guilds[c.guildID]
	if !ok {
		clients = make(map[*Client]struct{})
		h.guilds[c.guildID] = clients
	}
	clients[c] = struct{}{}
	if payload, ok := h.last[c.guildID]; ok {
		c.send <- payload
	}
	slog.Debug("websocket client registered", "guildID", c.guildID, "clients", len(clients))
}

func (h *Hub) removeClient(c *Client) {
	clients, ok := h.guilds[c.guildID]
	if !ok {
		return
	}
	if _, ok := clients[c]; !ok {
		return
	}
	delete(clients, c)
	close(c.send)
	if len(clients) == 0 {
		delete(h.guilds, c.guildID)
	}
	slog.Debug("websocket client unregistered", "guildID", c.guildID)
}

func (h *Hub) deliver(msg message) {
	h.last[msg.guildID] = msg.payload
	for c := range h.guilds[msg.guildID] {
		select {
		case c.send <- msg.payload:
		default:
			// A client this far behind is dropped rather than stalling
			// every other watcher.
			slog.Warn("dropping slow websocket client", "guildID", msg.guildID)
			h.removeClient(c)
		}
	}
}

func (h *Hub) cleanup() {
	for _, clients := range h.guilds {
		for c := range clients {
			close(c.send)
		}
	}
	h.guilds = make(map[string]map[*Client]struct{})
}

// ReadPump discards inbound messages and keeps the read deadline fresh.
// It returns once the peer goes away.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Warn("websocket read error", "guildID", c.guildID, "error", err)
			}
			return
		}
	}
}

// WritePump writes queued snapshots, one JSON document per message.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
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
