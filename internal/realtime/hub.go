// Package realtime fans session events out to connected pages and relays
// messages from the embedding host back into the session.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/heimdex/heimdex-annotator/internal/metrics"
)

const (
	writeWait       = 10 * time.Second
	pongWait        = 60 * time.Second
	pingPeriod      = (pongWait * 9) / 10
	maxMessageBytes = 64 * 1024
	clientBuffer    = 256
	broadcastBuffer = 256
)

// Role separates annotation UI pages from the crowdsourcing host frame.
type Role string

const (
	RoleUI   Role = "ui"
	RoleHost Role = "host"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Inbound is a message received from a client.
type Inbound struct {
	ClientID string
	Role     Role
	Type     string
	Raw      json.RawMessage
}

type outbound struct {
	role Role
	data []byte
}

// Hub owns the set of connected clients and broadcasts to them.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan outbound
	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	// roles counts registered clients per role for readers outside Run.
	mu    sync.RWMutex
	roles map[Role]int

	handler func(Inbound)
	logger  *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan outbound, broadcastBuffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		roles:      make(map[Role]int),
		logger:     logger,
	}
}

// OnMessage sets the handler for inbound client messages. It must be called
// before Run.
func (h *Hub) OnMessage(fn func(Inbound)) {
	h.handler = fn
}

// Run serves registrations and broadcasts until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				h.drop(c)
			}
			return

		case c := <-h.register:
			h.clients[c] = true
			h.count(c.role, 1)
			metrics.HubClients.Set(float64(len(h.clients)))
			h.logger.Info("realtime client connected", "client_id", c.id, "role", c.role)

		case c := <-h.unregister:
			if h.clients[c] {
				h.drop(c)
				h.logger.Info("realtime client disconnected", "client_id", c.id, "role", c.role)
			}

		case msg := <-h.broadcast:
			for c := range h.clients {
				if msg.role != "" && c.role != msg.role {
					continue
				}
				select {
				case c.send <- msg.data:
				default:
					metrics.HubDroppedTotal.Inc()
					h.logger.Warn("dropping slow realtime client", "client_id", c.id)
					h.drop(c)
				}
			}
		}
	}
}

func (h *Hub) drop(c *Client) {
	delete(h.clients, c)
	h.count(c.role, -1)
	close(c.send)
	c.conn.Close()
	metrics.HubClients.Set(float64(len(h.clients)))
}

func (h *Hub) count(role Role, delta int) {
	h.mu.Lock()
	h.roles[role] += delta
	h.mu.Unlock()
}

// Connected reports how many clients of role are registered.
func (h *Hub) Connected(role Role) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.roles[role]
}

// Publish encodes v and queues it for every client of role; an empty role
// reaches everyone. It never blocks: when the queue is full the message is
// dropped and an error returned.
func (h *Hub) Publish(role Role, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode realtime message: %w", err)
	}
	select {
	case h.broadcast <- outbound{role: role, data: data}:
		return nil
	default:
		metrics.HubDroppedTotal.Inc()
		return fmt.Errorf("realtime queue full, dropped message")
	}
}

// ServeWS upgrades the request and attaches a client with the given role.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, role Role) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("realtime upgrade failed", "error", err)
		return
	}

	c := &Client{
		id:   uuid.NewString(),
		role: role,
		hub:  h,
		conn: conn,
		send: make(chan []byte, clientBuffer),
	}

	welcome, err := json.Marshal(map[string]any{
		"type":      "welcome",
		"client_id": c.id,
		"role":      role,
		"now":       time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		h.logger.Error("failed to encode welcome", "role", role, "error", err)
		conn.Close()
		return
	}
	c.send <- welcome

	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

func (h *Hub) leave(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}
