// Package fanout implements the push broadcast surface described in §4.7:
// a WebSocket hub that multiplexes every new bet, round transition, and
// suspicious-activity finding to all connected dashboard clients.
package fanout

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/rawblock/predmarket-engine/internal/timeutil"
	"github.com/rawblock/predmarket-engine/pkg/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

const writeDeadline = 5 * time.Second

// client pairs a connection with the id handed out on welcome, used for
// log lines and eventually per-client auth scoping.
type client struct {
	id   string
	conn *websocket.Conn
}

// Hub maintains the set of connected clients and serializes writes onto a
// single broadcast channel, per §4.7 / the teacher's websocket Hub.
type Hub struct {
	mu        sync.Mutex
	clients   map[*client]bool
	broadcast chan []byte
}

func NewHub() *Hub {
	return &Hub{
		clients:   make(map[*client]bool),
		broadcast: make(chan []byte, 256),
	}
}

// Run drains the broadcast channel onto every connected client. Intended
// to be started once in its own goroutine. §4.7 calls for reporting
// success/failure counts per broadcast; a failed write is pruned from
// the client set, and the round's tally is logged when any write fails.
func (h *Hub) Run() {
	for msg := range h.broadcast {
		h.mu.Lock()
		sent, failed := 0, 0
		for c := range h.clients {
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				log.Printf("fanout: write error to client %s: %v", c.id, err)
				c.conn.Close()
				delete(h.clients, c)
				failed++
				continue
			}
			sent++
		}
		h.mu.Unlock()
		if failed > 0 {
			log.Printf("fanout: broadcast delivered to %d clients, %d failed", sent, failed)
		}
	}
}

// ClientCount returns the number of live connections, used in the welcome
// message per the wire contract.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Subscribe upgrades an HTTP request to a WebSocket connection and
// registers the client. It is a plain http.HandlerFunc so it can be wired
// into any router, not just gin.
func (h *Hub) Subscribe(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("fanout: upgrade failed: %v", err)
		return
	}

	c := &client{id: uuid.NewString(), conn: conn}

	h.mu.Lock()
	h.clients[c] = true
	count := len(h.clients)
	h.mu.Unlock()

	welcome, err := json.Marshal(models.WelcomeMessage{
		Type:        "welcome",
		Message:     "connected",
		Timestamp:   now(),
		ClientCount: count,
	})
	if err == nil {
		_ = conn.SetWriteDeadline(time.Now().Add(writeDeadline))
		_ = conn.WriteMessage(websocket.TextMessage, welcome)
	}

	log.Printf("fanout: client %s connected, total=%d", c.id, count)

	go h.readLoop(c)
}

// readLoop keeps reading frames so disconnects surface promptly and to
// answer client pings with pongs, per §6's ping/pong contract.
func (h *Hub) readLoop(c *client) {
	defer func() {
		h.mu.Lock()
		delete(h.clients, c)
		remaining := len(h.clients)
		h.mu.Unlock()
		c.conn.Close()
		log.Printf("fanout: client %s disconnected, total=%d", c.id, remaining)
	}()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("fanout: client %s read error: %v", c.id, err)
			}
			return
		}

		var ping models.ClientPing
		if json.Unmarshal(raw, &ping) == nil && ping.Type == "ping" {
			pong, err := json.Marshal(models.PongMessage{Type: "pong", Timestamp: now()})
			if err != nil {
				continue
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.TextMessage, pong); err != nil {
				log.Printf("fanout: pong write error to %s: %v", c.id, err)
			}
		}
	}
}

// Broadcast enqueues an already-marshaled frame. A full channel (256
// buffered) drops the message rather than blocking the caller — the spec
// treats fan-out delivery as best-effort.
func (h *Hub) Broadcast(data []byte) {
	select {
	case h.broadcast <- data:
	default:
		log.Printf("fanout: broadcast channel full, dropping message")
	}
}

// BroadcastJSON marshals v and enqueues it, logging and swallowing
// marshal errors since a bad outbound message must never block ingestion.
func (h *Hub) BroadcastJSON(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("fanout: marshal error: %v", err)
		return
	}
	h.Broadcast(data)
}

func now() string {
	s, err := timeutil.Format(time.Now())
	if err != nil {
		return time.Now().UTC().Format(timeutil.CanonicalLayout)
	}
	return s
}
