package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Local tool, any origin may connect.
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// hub fans state pushes out to every connected WebSocket client and routes
// inbound commands back to the server.
type hub struct {
	server     *Server
	logger     *zap.Logger
	clients    map[*client]bool
	clientsMu  sync.RWMutex
	broadcast  chan []byte
	register   chan *client
	unregister chan *client
	shutdown   chan struct{}
	once       sync.Once
}

type client struct {
	hub  *hub
	conn *websocket.Conn
	send chan []byte
	ip   string
}

func newHub(s *Server, logger *zap.Logger) *hub {
	return &hub{
		server:     s,
		logger:     logger,
		clients:    make(map[*client]bool),
		broadcast:  make(chan []byte, 16),
		register:   make(chan *client),
		unregister: make(chan *client),
		shutdown:   make(chan struct{}),
	}
}

func (h *hub) run() {
	for {
		select {
		case c := <-h.register:
			h.clientsMu.Lock()
			h.clients[c] = true
			total := len(h.clients)
			h.clientsMu.Unlock()
			h.logger.Debug("ws client connected", zap.String("ip", c.ip), zap.Int("total", total))

		case c := <-h.unregister:
			h.clientsMu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.clientsMu.Unlock()

		case msg := <-h.broadcast:
			h.clientsMu.Lock()
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					// Slow client, drop it.
					delete(h.clients, c)
					close(c.send)
				}
			}
			h.clientsMu.Unlock()

		case <-h.shutdown:
			h.clientsMu.Lock()
			for c := range h.clients {
				delete(h.clients, c)
				close(c.send)
			}
			h.clientsMu.Unlock()
			return
		}
	}
}

func (h *hub) stop() {
	h.once.Do(func() { close(h.shutdown) })
}

func (h *hub) publish(msgType string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		h.logger.Warn("failed to marshal push payload", zap.Error(err))
		return
	}
	data, err := json.Marshal(Message{Type: msgType, Payload: raw})
	if err != nil {
		return
	}

	select {
	case h.broadcast <- data:
	case <-h.shutdown:
	}
}

func (h *hub) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws upgrade failed", zap.Error(err))
		return
	}

	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, 64),
		ip:   r.RemoteAddr,
	}

	// The hub may have shut down while this upgrade was in flight; a plain
	// channel send would park this handler forever.
	select {
	case h.register <- c:
	case <-h.shutdown:
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

// readPump delivers inbound commands until the client goes away.
func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.shutdown:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Debug("ws read error", zap.Error(err))
			}
			return
		}
		c.handleCommand(data)
	}
}

// writePump drains the send channel and keeps the connection pinged.
func (c *client) writePump() {
	ticker := time.NewTicker(50 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *client) handleCommand(data []byte) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		c.hub.logger.Debug("ws invalid command", zap.Error(err))
		return
	}

	switch msg.Type {
	case "status":
		c.reply("status", c.hub.server.backend.Status())

	case "set_hotkey":
		var payload struct {
			Hotkey string `json:"hotkey"`
		}
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			c.reply("error", map[string]string{"error": "invalid set_hotkey payload"})
			return
		}
		if err := c.hub.server.backend.SetHotkey(payload.Hotkey); err != nil {
			c.reply("error", map[string]string{"error": err.Error()})
			return
		}
		c.hub.server.PublishStatus()

	case "request_scan":
		// One bounded beacon listen. Running it here keeps the reply on
		// this client's channel; pings flow from the write pump meanwhile.
		addr, err := c.hub.server.backend.Scan()
		if err != nil {
			c.reply("error", map[string]string{"error": err.Error()})
			return
		}
		c.reply("scan_result", map[string]string{"addr": addr})

	case "connect":
		var payload struct {
			Addr string `json:"addr"`
		}
		if err := json.Unmarshal(msg.Payload, &payload); err != nil || payload.Addr == "" {
			c.reply("error", map[string]string{"error": "invalid connect payload"})
			return
		}
		if err := c.hub.server.backend.Connect(payload.Addr); err != nil {
			c.reply("error", map[string]string{"error": err.Error()})
			return
		}
		c.hub.server.PublishStatus()

	case "disconnect":
		if err := c.hub.server.backend.Disconnect(); err != nil {
			c.reply("error", map[string]string{"error": err.Error()})
			return
		}
		c.hub.server.PublishStatus()

	default:
		c.hub.logger.Debug("ws unknown command", zap.String("type", msg.Type))
	}
}

func (c *client) reply(msgType string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return
	}
	data, _ := json.Marshal(Message{Type: msgType, Payload: raw})
	select {
	case c.send <- data:
	default:
	}
}
