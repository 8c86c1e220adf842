package notify

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// WebSocket timing and buffer limits.
const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = 30 * time.Second
	maxReadBytes = 512
	sendBuffer   = 64
)

// Envelope types pushed to clients.
const (
	EnvelopeHello        = "hello"
	EnvelopeNotification = "notification"
	EnvelopeMessage      = "message"
)

// Envelope is the JSON frame written to WebSocket clients.
type Envelope struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// client is one live connection of a user.
type client struct {
	userID int64
	conn   *websocket.Conn
	send   chan []byte
}

// Hub tracks live WebSocket connections by user ID. A user may hold
// several connections at once (one per tab or device).
type Hub struct {
	log *zap.Logger

	mu      sync.Mutex
	clients map[int64]map[*client]struct{}
	closed  bool
}

// NewHub creates an empty Hub.
func NewHub(log *zap.Logger) *Hub {
	return &Hub{
		log:     log,
		clients: make(map[int64]map[*client]struct{}),
	}
}

// Serve registers conn for userID, sends the hello envelope and pumps
// frames until the connection ends. It blocks, so call it from the HTTP
// handler goroutine that performed the upgrade.
func (h *Hub) Serve(userID int64, conn *websocket.Conn) {
	c := &client{userID: userID, conn: conn, send: make(chan []byte, sendBuffer)}

	hello, err := json.Marshal(Envelope{Type: EnvelopeHello, Payload: map[string]int64{"userId": userID}})
	if err != nil {
		conn.Close()
		return
	}
	c.send <- hello

	if !h.register(c) {
		conn.Close()
		return
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.writePump()
	}()

	c.readPump()
	h.unregister(c)
	<-done
}

// Push delivers env to every live connection of userID and returns how
// many connections it was queued on. Connections whose send buffer is
// full are dropped; the client is expected to reconnect.
func (h *Hub) Push(userID int64, env Envelope) (int, error) {
	frame, err := json.Marshal(env)
	if err != nil {
		return 0, fmt.Errorf("notify: encode %s envelope: %w", env.Type, err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	sent := 0
	for c := range h.clients[userID] {
		select {
		case c.send <- frame:
			sent++
		default:
			h.log.Warn("dropping slow websocket client", zap.Int64("user_id", userID))
			h.removeLocked(c)
		}
	}
	return sent, nil
}

// Online returns the number of live connections userID holds.
func (h *Hub) Online(userID int64) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients[userID])
}

// Disconnect closes every live connection of userID.
func (h *Hub) Disconnect(userID int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients[userID] {
		h.removeLocked(c)
	}
}

// Shutdown closes every connection and rejects new ones.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for _, set := range h.clients {
		for c := range set {
			h.removeLocked(c)
		}
	}
}

func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	set := h.clients[c.userID]
	if set == nil {
		set = make(map[*client]struct{})
		h.clients[c.userID] = set
	}
	set[c] = struct{}{}
	return true
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

// removeLocked drops c and closes its send channel, which makes the
// write pump send a close frame and shut the socket. Safe to call more
// than once; h.mu must be held.
func (h *Hub) removeLocked(c *client) {
	set, ok := h.clients[c.userID]
	if !ok {
		return
	}
	if _, ok := set[c]; !ok {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(h.clients, c.userID)
	}
	close(c.send)
}

// readPump discards client frames and keeps the read deadline fresh on
// pongs. It returns when the connection fails or is closed.
func (c *client) readPump() {
	c.conn.SetReadLimit(maxReadBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump is the connection's only writer. It closes the socket on
// exit so a blocked readPump returns too.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
